package transport

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/DrC0ns0le/clickctl/pkg/logging"
)

// FS reads handlers from a proc-like tree: one directory per element and one
// file per handler.
type FS struct {
	root   string
	logger logging.Logger
}

func NewFS(root string, opts Options) *FS {
	opts = opts.withDefaults()
	return &FS{
		root:   root,
		logger: opts.Logger.With("component", "click-fs"),
	}
}

func (f *FS) Backend() string { return BackendFS }

func (f *FS) path(node, key string) string {
	return filepath.Join(f.root, strings.ReplaceAll(handlerName(node, key), ".", string(os.PathSeparator)))
}

// Read returns the trimmed lines of a handler file. Missing files are not an
// error since not every element exposes every handler; the list handler is
// the exception.
func (f *FS) Read(node, key string) ([]string, error) {
	p := f.path(node, key)
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && key != ListHandler {
			f.logger.Debugf("path does not exist: %s", p)
			record(BackendFS, "read", nil)
			return nil, nil
		}
		err = &Error{Op: "read", Path: p, Err: errors.Wrap(err, "read handler file")}
		record(BackendFS, "read", err)
		return nil, err
	}
	record(BackendFS, "read", nil)
	return splitLines(string(data), key == ListHandler), nil
}

// Write stores each value with its own write so multi-value handlers see one
// call per value, matching the socket backend.
func (f *FS) Write(node, key string, values ...string) error {
	if len(values) == 0 {
		values = []string{""}
	}
	p := f.path(node, key)
	for _, v := range values {
		f.logger.Debugf("writing value %q to file %s", v, p)
		err := writeHandlerFile(p, v)
		record(BackendFS, "write", err)
		if err != nil {
			return &Error{Op: "write", Path: p, Err: err}
		}
	}
	return nil
}

func writeHandlerFile(p, value string) error {
	fd, err := os.OpenFile(p, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return errors.Wrap(err, "open handler file")
	}
	if _, err := fd.WriteString(value); err != nil {
		fd.Close()
		return errors.Wrap(err, "write handler file")
	}
	return errors.Wrap(fd.Close(), "close handler file")
}

func (f *FS) ModTime() (time.Time, error) {
	fi, err := os.Stat(f.root)
	if err != nil {
		return time.Time{}, &Error{Op: "stat", Path: f.root, Err: err}
	}
	return fi.ModTime(), nil
}

func (f *FS) Close() error { return nil }
