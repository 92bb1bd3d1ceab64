// ABOUTME: Managed process records and the launcher abstraction.
// ABOUTME: Wraps os/exec with bounded output capture and signal-0 liveness.

package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// ProcessRole distinguishes the two process kinds a service can own.
type ProcessRole string

const (
	RoleUpstream ProcessRole = "upstream"
	RoleProxy    ProcessRole = "proxy"
)

// ProcessState is the lifecycle state of a managed process.
type ProcessState string

const (
	StateStopped      ProcessState = "stopped"
	StateStarting     ProcessState = "starting"
	StateRunning      ProcessState = "running"
	StateCrashed      ProcessState = "crashed"
	StateUnresponsive ProcessState = "unresponsive"
)

// ManagedProcess is the supervisor's record of one spawned process. The
// supervisor is the single writer; everyone else sees copies via Snapshot.
type ManagedProcess struct {
	ServiceName  string       `json:"service_name"`
	Role         ProcessRole  `json:"role"`
	PID          int          `json:"pid"`
	Port         int          `json:"port"`
	UpstreamAddr string       `json:"upstream_addr,omitempty"`
	LogPath      string       `json:"log_path,omitempty"`
	StartTime    time.Time    `json:"start_time"`
	State        ProcessState `json:"state"`
	LastError    string       `json:"last_error,omitempty"`
}

// ProcessSpec describes a process to launch.
type ProcessSpec struct {
	Name    string
	Command string
	Args    []string
	WorkDir string
	LogPath string
}

// Handle controls one launched process.
type Handle interface {
	// PID returns the OS process id.
	PID() int
	// Alive reports whether the process is still running.
	Alive() bool
	// Terminate sends SIGTERM.
	Terminate() error
	// Kill sends SIGKILL.
	Kill() error
	// WaitExit blocks until the process exits or the timeout elapses,
	// reporting whether it exited.
	WaitExit(timeout time.Duration) bool
	// OutputTail returns the last captured portion of combined output.
	OutputTail() string
}

// Launcher spawns processes. The supervisor state machine depends only on
// this interface, so tests substitute a fake without real processes.
type Launcher interface {
	Start(ctx context.Context, spec ProcessSpec) (Handle, error)
}

// ExecLauncher launches real OS processes via os/exec.
type ExecLauncher struct{}

func (ExecLauncher) Start(ctx context.Context, spec ProcessSpec) (Handle, error) {
	path, err := exec.LookPath(spec.Command)
	if err != nil {
		return nil, fmt.Errorf("command %q not found: %w", spec.Command, err)
	}

	cmd := exec.Command(path, spec.Args...)
	cmd.Dir = spec.WorkDir
	cmd.Env = os.Environ()

	tail := newTailBuffer(8 * 1024)
	cmd.Stdout = tail
	cmd.Stderr = tail

	var logFile *os.File
	if spec.LogPath != "" {
		logFile, err = os.OpenFile(spec.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening log file %s: %w", spec.LogPath, err)
		}
		cmd.Stdout = teeWriter{logFile, tail}
		cmd.Stderr = teeWriter{logFile, tail}
	}

	if err := cmd.Start(); err != nil {
		if logFile != nil {
			_ = logFile.Close()
		}
		return nil, fmt.Errorf("starting %s: %w", spec.Command, err)
	}

	h := &execHandle{cmd: cmd, tail: tail, done: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		if logFile != nil {
			_ = logFile.Close()
		}
		close(h.done)
	}()
	return h, nil
}

type execHandle struct {
	cmd  *exec.Cmd
	tail *tailBuffer
	done chan struct{}
}

func (h *execHandle) PID() int { return h.cmd.Process.Pid }

// Alive uses a signal-0 check; once the child is reaped the signal fails.
func (h *execHandle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
	}
	return h.cmd.Process.Signal(syscall.Signal(0)) == nil
}

func (h *execHandle) Terminate() error { return h.cmd.Process.Signal(syscall.SIGTERM) }

func (h *execHandle) Kill() error { return h.cmd.Process.Kill() }

func (h *execHandle) WaitExit(timeout time.Duration) bool {
	select {
	case <-h.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (h *execHandle) OutputTail() string { return h.tail.String() }

// tailBuffer keeps the last cap bytes written to it. Safe for concurrent use;
// stdout and stderr both feed it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	cap int
}

func newTailBuffer(capacity int) *tailBuffer {
	return &tailBuffer{cap: capacity}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.cap {
		t.buf = t.buf[len(t.buf)-t.cap:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

// teeWriter duplicates writes to a log file and the in-memory tail.
type teeWriter struct {
	file *os.File
	tail *tailBuffer
}

func (w teeWriter) Write(p []byte) (int, error) {
	_, _ = w.tail.Write(p)
	return w.file.Write(p)
}
