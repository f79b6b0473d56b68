package linkctl

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrKeyNotFound = errors.New("key not found")
	ErrBadLink     = errors.New("bad link")
	ErrInvalidRate = errors.New("invalid rate")
	ErrMismatch    = errors.New("value count does not match links")
)

// ValidationError reports a mutation whose target is missing from the live
// handler schema.
type ValidationError struct {
	Node      string
	Keys      []string
	Available []string
	Err       error
}

func (e *ValidationError) Error() string {
	if len(e.Keys) == 0 {
		return fmt.Sprintf("%v: no element %q", e.Err, e.Node)
	}
	return fmt.Sprintf("%v: %s has none of [%s], valid keys are [%s]",
		e.Err, e.Node, strings.Join(e.Keys, " "), strings.Join(e.Available, " "))
}

func (e *ValidationError) Unwrap() error { return e.Err }
