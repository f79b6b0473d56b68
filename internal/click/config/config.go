// Package config caches a parsed view of every element handler exposed by a
// running Click router.
package config

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DrC0ns0le/clickctl/internal/click/transport"
	"github.com/DrC0ns0le/clickctl/internal/metrics"
	"github.com/DrC0ns0le/clickctl/pkg/logging"
)

var (
	ErrNotFound          = fmt.Errorf("not found in click configuration")
	ErrMalformedHandlers = fmt.Errorf("malformed handlers line")
)

// NotFoundError names a node, or a key on a node, absent from the snapshot.
type NotFoundError struct {
	Node string
	Key  string
}

func (e *NotFoundError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("element %s %v", e.Node, ErrNotFound)
	}
	return fmt.Sprintf("handler %s.%s %v", e.Node, e.Key, ErrNotFound)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

type Permission struct {
	Read  bool
	Write bool
}

// ParsePermission decodes the flag column of a handlers line ("r", "w", "rw").
func ParsePermission(s string) Permission {
	return Permission{
		Read:  strings.HasPrefix(s, "r"),
		Write: strings.Contains(s, "w"),
	}
}

func (p Permission) String() string {
	var b strings.Builder
	if p.Read {
		b.WriteByte('r')
	}
	if p.Write {
		b.WriteByte('w')
	}
	return b.String()
}

// Handler is one element handler. Lines is nil for write-only handlers.
type Handler struct {
	Lines []string
	Perm  Permission
}

// Snapshot is an immutable result of one full parse.
type Snapshot struct {
	Elements []string
	Nodes    map[string]map[string]Handler
	ParsedAt time.Time
}

func (s *Snapshot) Handler(node, key string) (Handler, error) {
	handlers, ok := s.Nodes[node]
	if !ok {
		return Handler{}, &NotFoundError{Node: node}
	}
	h, ok := handlers[key]
	if !ok {
		return Handler{}, &NotFoundError{Node: node, Key: key}
	}
	return h, nil
}

// Has reports whether node exposes key, regardless of permission.
func (s *Snapshot) Has(node, key string) bool {
	_, err := s.Handler(node, key)
	return err == nil
}

// Value returns the cached lines of a readable handler, or nil.
func (s *Snapshot) Value(node, key string) []string {
	h, _ := s.Handler(node, key)
	return h.Lines
}

// Keys lists the handler names of node in sorted order.
func (s *Snapshot) Keys(node string) ([]string, error) {
	handlers, ok := s.Nodes[node]
	if !ok {
		return nil, &NotFoundError{Node: node}
	}
	keys := make([]string, 0, len(handlers))
	for k := range handlers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

type Store struct {
	transport transport.Transport
	logger    logging.Logger

	mu        sync.Mutex
	lastParse time.Time
	snapshot  atomic.Pointer[Snapshot]
}

func NewStore(t transport.Transport, logger logging.Logger) *Store {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Store{
		transport: t,
		logger:    logger.With("component", "click-config"),
	}
}

func (s *Store) Transport() transport.Transport { return s.transport }

// Parse rebuilds the snapshot. Unless force is set, the cached snapshot is
// kept when the transport root has not been modified since the last parse.
// A failed parse never replaces the published snapshot.
func (s *Store) Parse(force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !force && s.snapshot.Load() != nil {
		mod, err := s.transport.ModTime()
		if err == nil && mod.Before(s.lastParse) {
			s.logger.Debugf("configuration unchanged since %s, reusing cache", s.lastParse.Format(time.RFC3339))
			return nil
		}
	}

	start := time.Now()
	snap, err := s.load()
	metrics.ConfigParseDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("unable to parse click configuration: %w", err)
	}
	snap.ParsedAt = start

	s.snapshot.Store(snap)
	s.lastParse = start
	s.logger.Debugf("parsed %d elements in %s", len(snap.Elements), time.Since(start))
	return nil
}

func (s *Store) load() (*Snapshot, error) {
	elements, err := s.transport.Read("", transport.ListHandler)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Elements: elements,
		Nodes:    make(map[string]map[string]Handler, len(elements)),
	}
	for _, el := range elements {
		handlers, err := s.loadElement(el)
		if err != nil {
			return nil, err
		}
		snap.Nodes[el] = handlers
	}
	return snap, nil
}

func (s *Store) loadElement(el string) (map[string]Handler, error) {
	lines, err := s.transport.Read(el, transport.HandlersHandler)
	if err != nil {
		if transport.IsStatus(err) {
			s.logger.Debugf("element %s exposes no handlers: %v", el, err)
			return map[string]Handler{}, nil
		}
		return nil, err
	}

	handlers := make(map[string]Handler, len(lines))
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, &transport.Error{
				Op:   "parse",
				Path: el + "." + transport.HandlersHandler,
				Err:  fmt.Errorf("%w: %q", ErrMalformedHandlers, line),
			}
		}
		name, perm := fields[0], ParsePermission(fields[1])
		if name == transport.HandlersHandler {
			continue
		}

		h := Handler{Perm: perm}
		if perm.Read {
			values, err := s.transport.Read(el, name)
			if err != nil && !transport.IsStatus(err) {
				return nil, err
			}
			if values == nil {
				values = []string{}
			}
			h.Lines = values
		}
		handlers[name] = h
	}
	return handlers, nil
}

// Snapshot returns the last published snapshot, or nil before the first
// successful parse.
func (s *Store) Snapshot() *Snapshot {
	return s.snapshot.Load()
}

// Configuration returns the node -> key -> handler view of the snapshot.
// The map must not be modified.
func (s *Store) Configuration() map[string]map[string]Handler {
	snap := s.snapshot.Load()
	if snap == nil {
		return nil
	}
	return snap.Nodes
}

func (s *Store) Handler(node, key string) (Handler, error) {
	snap := s.snapshot.Load()
	if snap == nil {
		return Handler{}, &NotFoundError{Node: node, Key: key}
	}
	return snap.Handler(node, key)
}

func (s *Store) Keys(node string) ([]string, error) {
	snap := s.snapshot.Load()
	if snap == nil {
		return nil, &NotFoundError{Node: node}
	}
	return snap.Keys(node)
}

// SetValue writes through to the transport. The cache is not updated; reparse
// to observe the effect.
func (s *Store) SetValue(node, key string, values ...string) error {
	if err := s.transport.Write(node, key, values...); err != nil {
		return fmt.Errorf("unable to write %s.%s: %w", node, key, err)
	}
	return nil
}
