// Package process starts and stops the Click router.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/DrC0ns0le/clickctl/pkg/logging"
)

type Mode string

const (
	// ModeKernel loads the configuration into the click kernel module.
	ModeKernel Mode = "kernel"
	// ModeUser runs userlevel click with a control socket.
	ModeUser Mode = "user"
	// ModeDPDK runs userlevel click on DPDK ports.
	ModeDPDK Mode = "dpdk"

	DefaultConfigFile = "/tmp/vrouter.click"
	DefaultControl    = "/click"
	DefaultGrace      = time.Second
)

var (
	ErrNoConfig = errors.New("click configuration file not found")
	ErrExited   = errors.New("click exited during startup")
	ErrBadMode  = errors.New("unknown click mode")
)

// RunFunc runs a command to completion and returns its combined output.
type RunFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var buf bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.Bytes(), err
}

type Options struct {
	ConfigFile string
	// Control is the handler tree (kernel) or control socket (userlevel).
	Control string
	Binary  string
	Run     RunFunc
	// Grace is how long a userlevel process must survive to count as started.
	Grace  time.Duration
	Logger logging.Logger
}

type Manager struct {
	opts   Options
	logger logging.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	exited chan struct{}
	mode   Mode
}

func NewManager(opts Options) *Manager {
	if opts.ConfigFile == "" {
		opts.ConfigFile = DefaultConfigFile
	}
	if opts.Control == "" {
		opts.Control = DefaultControl
	}
	if opts.Binary == "" {
		opts.Binary = "click"
	}
	if opts.Run == nil {
		opts.Run = run
	}
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewDefaultLogger()
	}
	return &Manager{opts: opts, logger: opts.Logger.With("component", "click-process")}
}

func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeKernel, ModeUser, ModeDPDK:
		return m, nil
	case "":
		return ModeDPDK, nil
	}
	return "", fmt.Errorf("%w: %q", ErrBadMode, s)
}

func (m *Manager) args(mode Mode) []string {
	switch mode {
	case ModeDPDK:
		return []string{"--dpdk", "-c", "0xffffff", "-n", "4", "--", "-u", m.opts.Control, m.opts.ConfigFile}
	default:
		return []string{m.opts.ConfigFile, "-u", m.opts.Control}
	}
}

// Start launches click in mode. A running userlevel process is stopped
// first; a loaded kernel module is uninstalled first.
func (m *Manager) Start(ctx context.Context, mode Mode) error {
	if _, err := os.Stat(m.opts.ConfigFile); err != nil {
		return fmt.Errorf("%w: %s", ErrNoConfig, m.opts.ConfigFile)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cmd != nil {
		if err := m.stopLocked(ctx); err != nil {
			return err
		}
	}
	if mode == ModeKernel {
		return m.startKernel(ctx)
	}
	return m.startUser(mode)
}

func (m *Manager) startKernel(ctx context.Context) error {
	out, err := m.opts.Run(ctx, "lsmod")
	if err != nil {
		return fmt.Errorf("unable to list kernel modules: %w", err)
	}
	for _, tok := range strings.Fields(string(out)) {
		if tok == "click" {
			m.logger.Infof("click module loaded, uninstalling first")
			if err := m.uninstall(ctx); err != nil {
				return err
			}
			break
		}
	}
	if out, err := m.opts.Run(ctx, "click-install", "-j", "2", m.opts.ConfigFile); err != nil {
		return fmt.Errorf("click-install failed: %w: %s", err, bytes.TrimSpace(out))
	}
	m.mode = ModeKernel
	m.logger.Infof("installed %s into the kernel", m.opts.ConfigFile)
	return nil
}

func (m *Manager) startUser(mode Mode) error {
	cmd := exec.Command(m.opts.Binary, m.args(mode)...)
	m.logger.Infof("running cmd: %s", cmd.String())
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("unable to start click: %w", err)
	}
	exited := make(chan struct{})
	go func() {
		err := cmd.Wait()
		m.logger.Infof("click pid %d exited: %v", cmd.Process.Pid, err)
		close(exited)
	}()

	select {
	case <-exited:
		return fmt.Errorf("%w: %s", ErrExited, cmd.ProcessState)
	case <-time.After(m.opts.Grace):
	}

	m.cmd = cmd
	m.exited = exited
	m.mode = mode
	m.logger.Infof("user space click started, pid=%d", cmd.Process.Pid)
	return nil
}

// Stop kills a userlevel process or uninstalls the kernel module, then
// removes the control path, which click leaves behind when killed.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopLocked(ctx)
}

func (m *Manager) stopLocked(ctx context.Context) error {
	if m.cmd == nil {
		if err := m.uninstall(ctx); err != nil {
			return err
		}
	} else {
		if err := m.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("unable to kill click: %w", err)
		}
		<-m.exited
		m.cmd = nil
		m.exited = nil
	}
	m.mode = ""
	if err := os.Remove(m.opts.Control); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("unable to remove %s: %w", m.opts.Control, err)
	}
	return nil
}

func (m *Manager) uninstall(ctx context.Context) error {
	if out, err := m.opts.Run(ctx, "click-uninstall"); err != nil {
		return fmt.Errorf("click-uninstall failed: %w: %s", err, bytes.TrimSpace(out))
	}
	return nil
}

// Running reports the mode click was last started in, or "" when stopped.
func (m *Manager) Running() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cmd != nil {
		select {
		case <-m.exited:
			m.cmd = nil
			m.exited = nil
			m.mode = ""
		default:
		}
	}
	return m.mode
}
