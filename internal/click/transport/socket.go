package transport

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/DrC0ns0le/clickctl/pkg/logging"
)

const (
	greetingPrefix = "Click::ControlSocket"
	maxGreeting    = 64

	minMajor = 1
	minMinor = 3

	statusOK = 200
)

// Socket speaks the Click control socket line protocol. It holds a single
// connection, so requests are serialised.
type Socket struct {
	path    string
	timeout time.Duration
	logger  logging.Logger

	mu      sync.Mutex
	conn    net.Conn
	reader  *bufio.Reader
	version string
}

// DialSocket connects to path and validates the greeting.
func DialSocket(path string, opts Options) (*Socket, error) {
	opts = opts.withDefaults()
	s := &Socket{
		path:    path,
		timeout: opts.Timeout,
		logger:  opts.Logger.With("component", "click-socket"),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.connect(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Socket) Backend() string { return BackendSocket }

// Version is the protocol version announced in the last greeting.
func (s *Socket) Version() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

func (s *Socket) connect() error {
	conn, err := net.DialTimeout("unix", s.path, s.timeout)
	if err != nil {
		return &Error{Op: "dial", Path: s.path, Err: errors.Wrap(err, "unable to open click control socket")}
	}
	if err := conn.SetDeadline(time.Now().Add(s.timeout)); err != nil {
		conn.Close()
		return &Error{Op: "dial", Path: s.path, Err: errors.Wrap(err, "set deadline")}
	}

	reader := bufio.NewReader(conn)
	greeting, err := readLine(reader)
	if err != nil {
		conn.Close()
		return &Error{Op: "greeting", Path: s.path, Err: errors.Wrap(err, "read greeting")}
	}
	version, err := ParseGreeting(greeting)
	if err != nil {
		conn.Close()
		return &Error{Op: "greeting", Path: s.path, Err: err}
	}

	s.conn = conn
	s.reader = reader
	s.version = version
	s.logger.Debugf("connected to %s, protocol version %s", s.path, version)
	return nil
}

// ParseGreeting validates a banner such as "Click::ControlSocket/1.3" and
// returns its version.
func ParseGreeting(line string) (string, error) {
	line = strings.TrimSpace(line)
	if len(line) > maxGreeting || !strings.HasPrefix(line, greetingPrefix) {
		return "", errors.Wrapf(ErrBadGreeting, "unexpected greeting %q", line)
	}
	_, version, ok := strings.Cut(line, "/")
	if !ok {
		return "", errors.Wrapf(ErrBadGreeting, "no version in greeting %q", line)
	}
	majorStr, rest, _ := strings.Cut(version, ".")
	minorStr, _, _ := strings.Cut(rest, ".")
	major, err := strconv.Atoi(majorStr)
	if err != nil {
		return "", errors.Wrapf(ErrBadGreeting, "invalid version %q", version)
	}
	minor := 0
	if minorStr != "" {
		if minor, err = strconv.Atoi(minorStr); err != nil {
			return "", errors.Wrapf(ErrBadGreeting, "invalid version %q", version)
		}
	}
	if major < minMajor || (major == minMajor && minor < minMinor) {
		return "", errors.Wrapf(ErrProtocolVersion, "version %s below %d.%d", version, minMajor, minMinor)
	}
	return version, nil
}

// ensure redials after a dropped connection.
func (s *Socket) ensure() error {
	if s.conn != nil {
		return s.conn.SetDeadline(time.Now().Add(s.timeout))
	}
	if err := s.connect(); err != nil {
		return err
	}
	return nil
}

func (s *Socket) drop() {
	if s.conn != nil {
		s.conn.Close()
	}
	s.conn = nil
	s.reader = nil
}

func (s *Socket) Read(node, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines, err := s.read(handlerName(node, key), key == ListHandler)
	record(BackendSocket, "read", err)
	return lines, err
}

func (s *Socket) read(handler string, list bool) ([]string, error) {
	if err := s.ensure(); err != nil {
		return nil, err
	}

	s.logger.Debugf("READ %s", handler)
	if _, err := fmt.Fprintf(s.conn, "READ %s\r\n", handler); err != nil {
		s.drop()
		return nil, &Error{Op: "read", Path: handler, Err: errors.Wrap(err, "send request")}
	}
	if err := s.readStatus(handler); err != nil {
		if !IsStatus(err) {
			s.drop()
		}
		return nil, err
	}

	header, err := readLine(s.reader)
	if err != nil {
		s.drop()
		return nil, &Error{Op: "read", Path: handler, Err: errors.Wrap(err, "read data header")}
	}
	fields := strings.Fields(header)
	if len(fields) != 2 || fields[0] != "DATA" {
		s.drop()
		return nil, &Error{Op: "read", Path: handler, Err: errors.Wrapf(ErrFraming, "expected DATA header, got %q", header)}
	}
	size, err := strconv.Atoi(fields[1])
	if err != nil || size < 0 {
		s.drop()
		return nil, &Error{Op: "read", Path: handler, Err: errors.Wrapf(ErrFraming, "invalid data length %q", fields[1])}
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(s.reader, body); err != nil {
		s.drop()
		return nil, &Error{Op: "read", Path: handler, Err: errors.Wrap(err, "read data body")}
	}
	return splitLines(string(body), list), nil
}

// readStatus consumes a status line and any "NNN-" continuation lines. A
// failure status is followed by a single message line.
func (s *Socket) readStatus(handler string) error {
	var (
		code    int
		message string
	)
	for {
		line, err := readLine(s.reader)
		if err != nil {
			return &Error{Op: "status", Path: handler, Err: err}
		}
		c, text, more, err := parseStatus(line)
		if err != nil {
			s.drop()
			return &Error{Op: "status", Path: handler, Err: err}
		}
		code, message = c, text
		if !more {
			break
		}
	}
	if code == statusOK {
		return nil
	}

	extra, err := readLine(s.reader)
	switch {
	case err != nil:
		// a late message would desynchronise the stream
		s.drop()
	case extra != "":
		message = extra
	}
	return &StatusError{Handler: handler, Code: code, Message: message}
}

func parseStatus(line string) (code int, text string, more bool, err error) {
	if len(line) < 3 {
		return 0, "", false, errors.Wrapf(ErrFraming, "short status line %q", line)
	}
	code, err = strconv.Atoi(line[:3])
	if err != nil {
		return 0, "", false, errors.Wrapf(ErrFraming, "invalid status line %q", line)
	}
	if len(line) > 3 {
		more = line[3] == '-'
		text = strings.TrimSpace(line[4:])
	}
	return code, text, more, nil
}

// Write sends one WRITE per value. An acknowledgement that never arrives is
// tolerated: the connection is dropped and re-established on next use.
func (s *Socket) Write(node, key string, values ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(values) == 0 {
		values = []string{""}
	}
	handler := handlerName(node, key)
	for _, v := range values {
		err := s.write(handler, v)
		record(BackendSocket, "write", err)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Socket) write(handler, value string) error {
	if err := s.ensure(); err != nil {
		return err
	}

	request := fmt.Sprintf("WRITE %s %s\r\n", handler, value)
	if value == "" {
		request = fmt.Sprintf("WRITE %s\r\n", handler)
	}
	s.logger.Debugf("WRITE %s %s", handler, value)
	if _, err := io.WriteString(s.conn, request); err != nil {
		s.drop()
		return &Error{Op: "write", Path: handler, Err: errors.Wrap(err, "send request")}
	}

	err := s.readStatus(handler)
	if err == nil || IsStatus(err) {
		return err
	}
	s.drop()
	if isTimeout(err) {
		s.logger.Debugf("no acknowledgement for %s, assuming accepted", handler)
		return nil
	}
	return err
}

// ModTime reports the current time. The socket inode is not touched when the
// router configuration changes, so every parse over a socket re-reads.
func (s *Socket) ModTime() (time.Time, error) {
	return time.Now(), nil
}

func (s *Socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	s.reader = nil
	return err
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		if err == io.EOF && line != "" {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
