package graph

import (
	"fmt"
	"strings"
)

var (
	ErrInconsistent = fmt.Errorf("click graph is inconsistent")
	ErrNoSnapshot   = fmt.Errorf("topology has not been built")
	ErrNoEdge       = fmt.Errorf("no router graph edge")
	ErrMalformed    = fmt.Errorf("malformed element handler")
)

// InconsistencyError reports a router output whose element chain reaches
// more than one router or physical element.
type InconsistencyError struct {
	Origin    string
	Neighbor  string
	Terminals []string
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("%v: subtree %s -> %s reaches %d terminals (%s)",
		ErrInconsistent, e.Origin, e.Neighbor, len(e.Terminals), strings.Join(e.Terminals, ", "))
}

func (e *InconsistencyError) Unwrap() error { return ErrInconsistent }
