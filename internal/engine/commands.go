package engine

import (
	"github.com/rapidaai/audiod/internal/iodev"
	"github.com/rapidaai/audiod/internal/stream"
)

// CommandKind tags the variant carried by a Command (§4.G: "commands are
// tagged unions").
type CommandKind int

const (
	CmdAddStream CommandKind = iota
	CmdRemoveStream
	CmdAddDev
	CmdRemoveDev
	CmdDrain
	CmdSuspend
	CmdResume
	CmdDump
)

// Command is the single message type carried on the engine's incoming
// queue; only the fields relevant to Kind are populated. All commands
// except Drain and Dump are fire-and-forget from the control plane's
// perspective (§4.G).
type Command struct {
	Kind CommandKind

	Stream   *stream.Rstream // CmdAddStream
	StreamID stream.ID       // CmdRemoveStream, CmdDrain

	Device   iodev.Device // CmdAddDev
	DeviceID uint32       // CmdRemoveDev

	// Reply receives the Drain outcome: nil on success, a deadline error on
	// timeout (§5: "Synchronous drains time out... return with -ETIMEDOUT").
	Reply chan error

	// DumpReply receives a diagnostic snapshot for the debug HTTP surface.
	DumpReply chan Dump
}

// Dump is the engine-state snapshot returned by CmdDump, consumed by the
// debug HTTP/WS surface in internal/control.
type Dump struct {
	Devices []DumpDevice
}

// DumpDevice is one device's diagnostic state.
type DumpDevice struct {
	ID        uint32
	Direction iodev.Direction
	State     iodev.State
	Streams   []stream.ID
}
