package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrConnection     = errors.New("protocol: connection unavailable")
	ErrConnectionLost = errors.New("protocol: connection lost")
	ErrProtocol       = errors.New("protocol: malformed response")
	ErrServer         = errors.New("protocol: server error")
	ErrInvalidCommand = errors.New("protocol: invalid command")
)

// ServerError is returned when the daemon answers a command with an ACK line.
// errors.Is(err, ErrServer) matches any ServerError.
type ServerError struct {
	Fault Fault
}

func (e *ServerError) Error() string {
	f := e.Fault
	if !f.Structured() {
		return fmt.Sprintf("protocol: server error raw=%q", f.Raw)
	}
	return fmt.Sprintf(
		"protocol: server error code=%d index=%d command=%q message=%q",
		*f.Code,
		*f.CommandIndex,
		*f.Command,
		*f.Message,
	)
}

func (e *ServerError) Is(target error) bool {
	return target == ErrServer
}
