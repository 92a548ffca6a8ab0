package stream

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rapidaai/audiod/pkg/commons"
)

// ClientIDAllocator hands out the 16-bit client ids that fill the high
// half of a stream ID (§3). A single audiod process normally allocates
// these in-process (LocalClientIDAllocator); RedisClientIDAllocator exists
// for deployments running more than one audiod behind a shared control
// endpoint, where client ids must not collide across instances.
type ClientIDAllocator interface {
	Allocate() (uint16, error)
	Release(id uint16)
}

// LocalClientIDAllocator hands out client ids from an in-memory free list,
// the default for a single-instance deployment.
type LocalClientIDAllocator struct {
	mu   sync.Mutex
	next uint16
	free []uint16
	used map[uint16]bool
}

// NewLocalClientIDAllocator constructs an allocator starting at id 1 (0 is
// reserved, matching §4.C's "server-assigned client id, low 16 bits zero
// of the stream-id high half" framing).
func NewLocalClientIDAllocator() *LocalClientIDAllocator {
	return &LocalClientIDAllocator{next: 1, used: make(map[uint16]bool)}
}

func (a *LocalClientIDAllocator) Allocate() (uint16, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n := len(a.free); n > 0 {
		id := a.free[n-1]
		a.free = a.free[:n-1]
		a.used[id] = true
		return id, nil
	}
	if a.next == 0 {
		return 0, fmt.Errorf("stream: client id space exhausted")
	}
	id := a.next
	a.next++
	a.used[id] = true
	return id, nil
}

func (a *LocalClientIDAllocator) Release(id uint16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.used[id] {
		delete(a.used, id)
		a.free = append(a.free, id)
	}
}

const (
	clientIDAvailableKey = "{audiod:clientids}:available"
	clientIDAllocatedPfx = "{audiod:clientids}:allocated:"
	clientIDAllocatedTTL = 10 * time.Minute
)

// clientIDInitScript mirrors the teacher's RTPPortAllocator init script:
// populate the available set once, idempotently, on every startup.
var clientIDInitScript = redis.NewScript(`
	local key = KEYS[1]
	local exists = redis.call('EXISTS', key)
	if exists == 0 then
		for i = 1, #ARGV do
			redis.call('SADD', key, ARGV[i])
		end
		return #ARGV
	end
	return 0
`)

var clientIDAllocateScript = redis.NewScript(`
	local id = redis.call('SPOP', KEYS[1])
	if id == false then
		return -1
	end
	redis.call('SADD', KEYS[2], id)
	return id
`)

var clientIDReleaseScript = redis.NewScript(`
	redis.call('SREM', KEYS[2], ARGV[1])
	redis.call('SADD', KEYS[1], ARGV[1])
	return 1
`)

// RedisClientIDAllocator is a distributed client-id pool, directly modeled
// on sip/infra's RTPPortAllocator (same SPOP/SADD atomic-allocate idiom,
// same per-instance tracking key for crash recovery).
type RedisClientIDAllocator struct {
	client     *redis.Client
	logger     commons.Logger
	maxClients int
	instanceID string
}

// NewRedisClientIDAllocator constructs a distributed allocator for client
// ids in [1, maxClients].
func NewRedisClientIDAllocator(client *redis.Client, logger commons.Logger, maxClients int) *RedisClientIDAllocator {
	hostname, _ := os.Hostname()
	return &RedisClientIDAllocator{
		client:     client,
		logger:     logger,
		maxClients: maxClients,
		instanceID: fmt.Sprintf("%s:%d", hostname, os.Getpid()),
	}
}

// Init populates the available-ids set; safe to call on every startup.
func (a *RedisClientIDAllocator) Init(ctx context.Context) error {
	ids := make([]interface{}, 0, a.maxClients)
	for i := 1; i <= a.maxClients; i++ {
		ids = append(ids, i)
	}
	result, err := clientIDInitScript.Run(ctx, a.client, []string{clientIDAvailableKey}, ids...).Int()
	if err != nil {
		return fmt.Errorf("stream: failed to initialize client id pool: %w", err)
	}
	if result > 0 {
		a.logger.Info("initialized distributed client id pool", "ids_added", result)
	}
	a.reclaimCrashed(ctx)
	return nil
}

func (a *RedisClientIDAllocator) Allocate() (uint16, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	instanceKey := clientIDAllocatedPfx + a.instanceID
	result, err := clientIDAllocateScript.Run(ctx, a.client, []string{clientIDAvailableKey, instanceKey}).Int()
	if err != nil {
		return 0, fmt.Errorf("stream: failed to allocate client id: %w", err)
	}
	if result == -1 {
		return 0, fmt.Errorf("stream: no client ids available in pool of %d", a.maxClients)
	}
	a.client.Expire(ctx, instanceKey, clientIDAllocatedTTL)
	return uint16(result), nil
}

func (a *RedisClientIDAllocator) Release(id uint16) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	instanceKey := clientIDAllocatedPfx + a.instanceID
	if _, err := clientIDReleaseScript.Run(ctx, a.client, []string{clientIDAvailableKey, instanceKey}, id).Result(); err != nil {
		a.logger.Error("failed to release client id", "id", id, "error", err)
	}
}

func (a *RedisClientIDAllocator) reclaimCrashed(ctx context.Context) {
	instanceKey := clientIDAllocatedPfx + a.instanceID
	ids, err := a.client.SMembers(ctx, instanceKey).Result()
	if err != nil || len(ids) == 0 {
		return
	}
	for _, s := range ids {
		id, err := strconv.Atoi(s)
		if err != nil {
			continue
		}
		a.Release(uint16(id))
	}
	a.logger.Warn("reclaimed client ids from crashed instance", "instance", a.instanceID, "count", len(ids))
}
