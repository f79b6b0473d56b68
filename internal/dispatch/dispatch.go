// Package dispatch maps orchestration command names to control plane
// operations.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/DrC0ns0le/clickctl/pkg/logging"
)

var (
	ErrUnknownMethod = errors.New("unknown method")
	ErrBadArgument   = errors.New("bad argument")
)

// Args are the keyword arguments of one command, decoded from JSON.
type Args map[string]any

// HandlerFunc runs one command. The returned value is reported to the caller
// alongside ok=true.
type HandlerFunc func(ctx context.Context, args Args) (any, error)

// Result is what the orchestration layer receives back.
type Result struct {
	OK    bool   `json:"ok"`
	Value any    `json:"value,omitempty"`
	Error string `json:"error,omitempty"`
}

type Dispatcher struct {
	handlers map[string]HandlerFunc
	logger   logging.Logger
}

func New(logger logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Dispatcher{
		handlers: make(map[string]HandlerFunc),
		logger:   logger.With("component", "dispatch"),
	}
}

func (d *Dispatcher) Register(method string, h HandlerFunc) {
	d.handlers[method] = h
}

func (d *Dispatcher) Methods() []string {
	methods := make([]string, 0, len(d.handlers))
	for m := range d.handlers {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}

// Call runs method. Handler failures are folded into the Result; only an
// unknown method is returned as an error.
func (d *Dispatcher) Call(ctx context.Context, method string, args Args) (Result, error) {
	h, ok := d.handlers[method]
	if !ok {
		return Result{OK: false, Error: ErrUnknownMethod.Error()}, fmt.Errorf("%w: %s", ErrUnknownMethod, method)
	}
	if args == nil {
		args = Args{}
	}

	start := time.Now()
	v, err := h(ctx, args)
	if err != nil {
		d.logger.Errorf("%s failed after %s: %v", method, time.Since(start), err)
		return Result{OK: false, Error: err.Error()}, nil
	}
	d.logger.Debugf("%s done in %s", method, time.Since(start))
	return Result{OK: true, Value: v}, nil
}

func (a Args) missing(key string) error {
	return fmt.Errorf("%w: %s is required", ErrBadArgument, key)
}

func stringify(key string, v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(t), nil
	case bool:
		return strconv.FormatBool(t), nil
	default:
		return "", fmt.Errorf("%w: %s must be a string, got %T", ErrBadArgument, key, v)
	}
}

// String returns key as a string, formatting numbers and booleans. Absent or
// null keys return def.
func (a Args) String(key, def string) (string, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return def, nil
	}
	return stringify(key, v)
}

func (a Args) RequireString(key string) (string, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return "", a.missing(key)
	}
	return stringify(key, v)
}

// Optional returns nil when key is absent or null.
func (a Args) Optional(key string) (*string, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return nil, nil
	}
	s, err := stringify(key, v)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (a Args) Bool(key string, def bool) (bool, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return def, nil
	}
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		b, err := strconv.ParseBool(t)
		if err != nil {
			return false, fmt.Errorf("%w: %s: %v", ErrBadArgument, key, err)
		}
		return b, nil
	default:
		return false, fmt.Errorf("%w: %s must be a boolean, got %T", ErrBadArgument, key, v)
	}
}

// Strings accepts a list, or a single value as a one element list.
func (a Args) Strings(key string) ([]string, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		s, err := stringify(key, v)
		if err != nil {
			return nil, err
		}
		return []string{s}, nil
	}
	out := make([]string, 0, len(list))
	for i, item := range list {
		s, err := stringify(fmt.Sprintf("%s[%d]", key, i), item)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Duration accepts a number of seconds or a Go duration string.
func (a Args) Duration(key string, def time.Duration) (time.Duration, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return def, nil
	}
	switch t := v.(type) {
	case float64:
		return time.Duration(t * float64(time.Second)), nil
	case string:
		if secs, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return time.Duration(secs * float64(time.Second)), nil
		}
		d, err := time.ParseDuration(t)
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %v", ErrBadArgument, key, err)
		}
		return d, nil
	default:
		return 0, fmt.Errorf("%w: %s must be a duration, got %T", ErrBadArgument, key, v)
	}
}

// List returns key as a raw list.
func (a Args) List(key string) ([]any, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a list, got %T", ErrBadArgument, key, v)
	}
	return list, nil
}
