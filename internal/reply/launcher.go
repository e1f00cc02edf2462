package reply

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/zjrosen/parley/internal/log"
)

// CommandFactoryFunc creates an exec.Cmd for testing purposes.
// It receives the context, executable path, and arguments.
type CommandFactoryFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// WorkerHandle supervises one spawned worker process.
type WorkerHandle interface {
	// Results yields at most one result and is closed when the worker's
	// stdout ends. Closed without a value means the worker died without
	// reporting.
	Results() <-chan WorkerResult

	// Alive reports whether the worker process is still running.
	Alive() bool

	// PID returns the worker's process ID.
	PID() int

	// Terminate asks the worker to stop gracefully.
	Terminate() error

	// Kill forcibly stops the worker.
	Kill() error
}

// Launcher spawns worker processes for reply jobs.
type Launcher interface {
	Launch(ctx context.Context, req WorkerRequest) (WorkerHandle, error)
}

// ExecLauncher spawns the worker as a child process of this binary: it
// re-executes itself with the worker subcommand, writes the request to the
// child's stdin, and reads the single result line from its stdout. Worker
// logs arrive on stderr and are forwarded to the debug log.
type ExecLauncher struct {
	execPath       string
	args           []string
	commandFactory CommandFactoryFunc
}

// NewExecLauncher creates a launcher that re-executes the current binary
// with the worker subcommand.
func NewExecLauncher() (*ExecLauncher, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolving own executable: %w", err)
	}
	return &ExecLauncher{execPath: exe, args: []string{"worker"}}, nil
}

// WithCommandFactory sets a custom command factory for testing.
// This allows unit tests to mock exec.Command without spawning real workers.
func (l *ExecLauncher) WithCommandFactory(fn CommandFactoryFunc) *ExecLauncher {
	l.commandFactory = fn
	return l
}

// Launch spawns one worker for the request. The child's lifetime is owned by
// the returned handle, not by ctx: cancellation goes through Terminate and
// Kill so the worker gets a grace period instead of an immediate SIGKILL.
func (l *ExecLauncher) Launch(ctx context.Context, req WorkerRequest) (WorkerHandle, error) {
	var cmd *exec.Cmd
	if l.commandFactory != nil {
		cmd = l.commandFactory(ctx, l.execPath, l.args...)
	} else {
		// #nosec G204 -- execPath is our own binary, args are fixed
		cmd = exec.Command(l.execPath, l.args...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = stdin.Close()
		_ = stdout.Close()
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	log.Debug(log.CatWorker, "Spawning worker",
		"messageID", req.MessageID,
		"execPath", l.execPath)

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		_ = stdout.Close()
		_ = stderr.Close()
		return nil, fmt.Errorf("starting worker: %w", err)
	}

	h := &execHandle{
		cmd:     cmd,
		pid:     cmd.Process.Pid,
		results: make(chan WorkerResult, 1),
	}

	log.Debug(log.CatWorker, "Worker started",
		"messageID", req.MessageID,
		"pid", h.pid)

	// The request is written from a goroutine so a worker that dies before
	// reading cannot wedge the launch.
	go func() {
		defer func() { _ = stdin.Close() }()
		if err := writeRequest(stdin, req); err != nil {
			log.Debug(log.CatWorker, "Failed to write worker request",
				"messageID", req.MessageID, "error", err)
		}
	}()

	var readers sync.WaitGroup
	readers.Add(2)

	go func() {
		defer readers.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			log.Debug(log.CatWorker, "worker: "+scanner.Text(), "pid", h.pid)
		}
	}()

	go func() {
		defer readers.Done()
		if res, ok := scanResultLine(stdout); ok {
			h.results <- res
		}
		_, _ = io.Copy(io.Discard, stdout)
	}()

	// Reap after both pipes drain; Wait closes the pipes.
	go func() {
		readers.Wait()
		_ = cmd.Wait()
		h.exited.Store(true)
		close(h.results)
	}()

	return h, nil
}

// writeRequest encodes the request for the worker's stdin.
func writeRequest(w io.Writer, req WorkerRequest) error {
	if err := json.NewEncoder(w).Encode(req); err != nil {
		return fmt.Errorf("encoding worker request: %w", err)
	}
	return nil
}

// execHandle is the WorkerHandle for a real child process.
type execHandle struct {
	cmd     *exec.Cmd
	pid     int
	results chan WorkerResult
	exited  atomic.Bool
}

func (h *execHandle) Results() <-chan WorkerResult {
	return h.results
}

func (h *execHandle) PID() int {
	return h.pid
}

func (h *execHandle) Alive() bool {
	if h.exited.Load() {
		return false
	}
	return isProcessAlive(h.pid)
}

func (h *execHandle) Terminate() error {
	if h.exited.Load() {
		return nil
	}
	if err := h.cmd.Process.Signal(os.Interrupt); err != nil {
		// Interrupt is unsupported on some platforms; escalate directly.
		return h.Kill()
	}
	return nil
}

func (h *execHandle) Kill() error {
	if h.exited.Load() {
		return nil
	}
	return h.cmd.Process.Kill()
}
