package stream

import "errors"

// ErrInvalidArgument is wrapped by every CONNECT_STREAM validation failure
// (§4.C: "rejected with STREAM_CONNECTED{err: -EINVAL}"); the control
// layer maps it to -EINVAL on the wire.
var ErrInvalidArgument = errors.New("invalid argument")
