package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"
)

// blocklistSection is the single INI section the device blocklist file
// supports (§6).
const blocklistSection = "USB_Outputs"

// Blocklist answers whether a specific USB output device (identified by
// vendor id, product id, a descriptor checksum and a device index) has
// been disabled by the operator. It is pure and symmetric: Check depends
// only on the parsed file contents (§8 invariant).
type Blocklist struct {
	entries map[string]bool
}

// LoadBlocklist parses the USB device blocklist file at path. A missing
// file is not an error — it yields an empty blocklist (§6).
func LoadBlocklist(path string) (*Blocklist, error) {
	bl := &Blocklist{entries: map[string]bool{}}
	if path == "" {
		return bl, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return bl, nil
	}

	cfg, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("parsing blocklist %s: %w", path, err)
	}
	if !cfg.HasSection(blocklistSection) {
		return bl, nil
	}
	section := cfg.Section(blocklistSection)
	for _, key := range section.Keys() {
		v, err := key.Int()
		if err != nil || v == 0 {
			continue
		}
		bl.entries[strings.ToLower(key.Name())] = true
	}
	return bl, nil
}

// blocklistKey builds the "vendor_product_checksum_index" key used by both
// the parser and Check, so the two can never drift apart.
func blocklistKey(vendor, product uint16, checksum string, deviceIndex int) string {
	return fmt.Sprintf("%04x_%04x_%s_%d", vendor, product, strings.ToLower(checksum), deviceIndex)
}

// Check reports whether the given USB output (vendor id, product id, an
// 8-hex-digit POSIX cksum of the device's descriptors sysfs file, and
// device index) is blocklisted. Pure function of the parsed config.
func (b *Blocklist) Check(vendor, product uint16, checksum string, deviceIndex int) bool {
	return b.entries[blocklistKey(vendor, product, checksum, deviceIndex)]
}

// ParseChecksum validates that checksum looks like the 8-hex-digit cksum
// string the blocklist file format requires, returning a normalized
// lower-case form.
func ParseChecksum(s string) (string, error) {
	if len(s) != 8 {
		return "", fmt.Errorf("checksum %q: want 8 hex digits, got %d chars", s, len(s))
	}
	if _, err := strconv.ParseUint(s, 16, 32); err != nil {
		return "", fmt.Errorf("checksum %q: not hex: %w", s, err)
	}
	return strings.ToLower(s), nil
}
