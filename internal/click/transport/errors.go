package transport

import (
	"fmt"
	"net"
	"os"

	"github.com/pkg/errors"
)

var (
	// ErrTransport matches every error produced by this package.
	ErrTransport = errors.New("click transport error")

	ErrBadGreeting     = errors.New("bad protocol on click control socket")
	ErrProtocolVersion = errors.New("click control protocol too old")
	ErrFraming         = errors.New("malformed click control response")
)

// Error is an I/O or protocol failure on the configuration surface.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("click %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrTransport }

// StatusError is a non-200 reply from the control socket. The request itself
// was delivered; the router declined it (unknown element or handler, bad value).
type StatusError struct {
	Handler string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("click responded %d for %s", e.Code, e.Handler)
	}
	return fmt.Sprintf("click responded %d for %s: %s", e.Code, e.Handler, e.Message)
}

func (e *StatusError) Is(target error) bool { return target == ErrTransport }

// IsStatus reports whether err carries a non-200 control socket reply.
func IsStatus(err error) bool {
	var se *StatusError
	return errors.As(err, &se)
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
