// Package transport reads and writes handlers on a running Click router,
// either through its control socket or through a mounted handler tree.
package transport

import (
	"flag"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/DrC0ns0le/clickctl/internal/metrics"
	"github.com/DrC0ns0le/clickctl/pkg/logging"
)

const (
	// ListHandler enumerates every element. Its first line is the element count.
	ListHandler = "list"
	// HandlersHandler lists "<handler> <permission>" pairs for one element.
	HandlersHandler = "handlers"

	BackendFS     = "fs"
	BackendSocket = "socket"

	DefaultTimeout = time.Second
)

var clickTimeout = flag.Duration("click.timeout", DefaultTimeout, "read/write timeout on the click control socket")

// Transport is the byte/line level access to the live configuration surface.
// A node of "" addresses a global handler such as list.
type Transport interface {
	Read(node, key string) ([]string, error)
	Write(node, key string, values ...string) error
	ModTime() (time.Time, error)
	Backend() string
	Close() error
}

type Options struct {
	Timeout time.Duration
	Logger  logging.Logger
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = *clickTimeout
	}
	if o.Logger == nil {
		o.Logger = logging.NewDefaultLogger()
	}
	return o
}

// Open picks the backend by inspecting root: a directory is a handler tree,
// anything else is treated as a control socket and dialled immediately.
func Open(root string, opts Options) (Transport, error) {
	opts = opts.withDefaults()

	fi, err := os.Stat(root)
	if err != nil {
		return nil, &Error{Op: "open", Path: root, Err: errors.Wrap(err, "click config path not found")}
	}
	if fi.IsDir() {
		return NewFS(root, opts), nil
	}
	return DialSocket(root, opts)
}

func handlerName(node, key string) string {
	if node == "" {
		return key
	}
	return node + "." + key
}

// splitLines trims every line and drops empty ones. The count line heading a
// list response is removed.
func splitLines(body string, list bool) []string {
	var lines []string
	for _, l := range strings.Split(body, "\n") {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		lines = append(lines, l)
	}
	if list && len(lines) > 0 {
		lines = lines[1:]
	}
	return lines
}

func record(backend, op string, err error) {
	metrics.TransportRequests.WithLabelValues(backend, op, metrics.Result(err)).Inc()
}
