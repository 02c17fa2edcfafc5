package subprocess

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"os/exec"
	"slices"
	"sync"
	"time"

	"github.com/wagiedev/mcphub/internal/errors"
)

// DefaultShutdownGrace is how long Shutdown waits for a natural exit after
// closing stdin before force-killing the process tree.
const DefaultShutdownGrace = 2 * time.Second

// unbufferedEnv forces common runtimes to flush stdout per write so that
// line-delimited JSON-RPC is not held back in a block buffer.
var unbufferedEnv = []string{
	"PYTHONUNBUFFERED=1",
	"PYTHONIOENCODING=utf-8",
	"NODE_NO_WARNINGS=1",
}

// State is the lifecycle state of a supervised process.
type State int

const (
	// StateStarting is held between spawn and a successful exec.
	StateStarting State = iota
	// StateRunning means the process is alive.
	StateRunning
	// StateExited means the process has terminated; ExitCode is valid.
	StateExited
	// StateDisposed means Shutdown has completed and the pipes are closed.
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// Config describes the process to spawn.
type Config struct {
	// Command is the executable to run.
	Command string

	// Args are command-line arguments passed to the executable.
	Args []string

	// Dir is the working directory. Empty means the current directory.
	Dir string

	// Env are variables layered over the parent environment. They win over
	// both the parent environment and the forced unbuffered-output settings.
	Env map[string]string
}

// Process is one supervised subprocess with its stdin/stdout/stderr exposed
// as pipes.
//
// The process lifetime is independent of any call context: it runs until it
// exits on its own or Shutdown is called. The transition to StateExited
// happens asynchronously in a watcher goroutine.
type Process struct {
	log *slog.Logger
	cmd *exec.Cmd

	stdin  *os.File
	stdout *os.File
	stderr *os.File

	// writeSlot is held for the duration of one frame write. It is a
	// channel so that waiting for it honours the caller's context.
	writeSlot   chan struct{}
	stdinOnce   sync.Once
	stdinClosed chan struct{}
	stdinErr    error

	mu       sync.Mutex
	state    State
	exitCode int
	exitErr  error

	done         chan struct{}
	shutdownOnce sync.Once
	shutdownErr  error
}

// Start spawns the process and returns immediately. No protocol handshake
// happens here.
//
// The context only bounds the spawn itself; cancelling it later does not
// affect the running process.
func Start(ctx context.Context, log *slog.Logger, cfg Config) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cfg.Command == "" {
		return nil, &errors.ConfigurationError{Field: "command", Reason: "is required"}
	}

	log = log.With("component", "subprocess", "command", cfg.Command)

	p := &Process{
		log:         log,
		state:       StateStarting,
		done:        make(chan struct{}),
		writeSlot:   make(chan struct{}, 1),
		stdinClosed: make(chan struct{}),
	}

	//nolint:gosec // G204: launching configured tool servers is the purpose of this package
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Dir = cfg.Dir
	cmd.Env = BuildEnvironment(cfg.Env)
	setProcessGroup(cmd)

	// Pipes are created by hand rather than with cmd.StdoutPipe so that
	// cmd.Wait can run as soon as the process exits without closing read
	// ends that the pumps may still be draining.
	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, &errors.TransportError{Err: fmt.Errorf("stdin pipe: %w", err)}
	}

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		closeAll(stdinR, stdinW)

		return nil, &errors.TransportError{Err: fmt.Errorf("stdout pipe: %w", err)}
	}

	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		closeAll(stdinR, stdinW, stdoutR, stdoutW)

		return nil, &errors.TransportError{Err: fmt.Errorf("stderr pipe: %w", err)}
	}

	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	log.Info("Starting server process", "args", cfg.Args, "dir", cfg.Dir)

	if err := cmd.Start(); err != nil {
		closeAll(stdinR, stdinW, stdoutR, stdoutW, stderrR, stderrW)
		log.Error("Failed to start server process", "error", err)

		return nil, &errors.TransportError{Err: fmt.Errorf("start process %s: %w", cfg.Command, err)}
	}

	// The child holds its own copies now.
	closeAll(stdinR, stdoutW, stderrW)

	p.cmd = cmd
	p.stdin = stdinW
	p.stdout = stdoutR
	p.stderr = stderrR

	p.mu.Lock()
	p.state = StateRunning
	p.mu.Unlock()

	go p.wait()

	log.Info("Server process started", "pid", cmd.Process.Pid)

	return p, nil
}

// BuildEnvironment merges the parent environment, the forced unbuffered
// output settings and the server-supplied variables, in that order. Later
// entries win when keys repeat.
func BuildEnvironment(env map[string]string) []string {
	out := os.Environ()
	out = append(out, unbufferedEnv...)

	for _, key := range slices.Sorted(maps.Keys(env)) {
		out = append(out, key+"="+env[key])
	}

	return out
}

// wait reaps the process and records the exit status.
func (p *Process) wait() {
	err := p.cmd.Wait()

	exitCode := 0
	if err != nil {
		exitCode = -1

		if exitErr, ok := stderrors.AsType[*exec.ExitError](err); ok {
			exitCode = exitErr.ExitCode()
		}
	}

	p.mu.Lock()
	p.exitCode = exitCode
	p.exitErr = err

	if p.state != StateDisposed {
		p.state = StateExited
	}

	p.mu.Unlock()

	if err != nil {
		p.log.Warn("Server process exited with error", "exit_code", exitCode, "error", err)
	} else {
		p.log.Info("Server process exited")
	}

	close(p.done)
}

// Pid returns the operating system process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Stdout returns the read end of the process stdout.
func (p *Process) Stdout() io.Reader {
	return p.stdout
}

// Stderr returns the read end of the process stderr.
func (p *Process) Stderr() io.Reader {
	return p.stderr
}

// Done returns a channel that is closed when the process has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// HasExited reports whether the process has terminated. It never blocks.
func (p *Process) HasExited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// State returns the current lifecycle state.
func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.state
}

// ExitCode returns the exit code once the process has exited, -1 when it
// was killed by a signal, and 0 while it is still running.
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.exitCode
}

// ExitError returns the error reported by the process wait, if any.
func (p *Process) ExitError() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.exitErr
}

// Write writes one complete frame to stdin. Concurrent writers are
// serialized so frames never interleave.
//
// Cancelling ctx returns control to the caller but never tears a frame: a
// frame that has started is finished in the background, and the next
// writer waits for it. Only CloseStdin or Shutdown abort a blocked write.
func (p *Process) Write(ctx context.Context, data []byte) error {
	if err := p.writable(ctx); err != nil {
		return err
	}

	select {
	case p.writeSlot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stdinClosed:
		return errors.ErrTransportDisconnected
	}

	if err := p.writable(ctx); err != nil {
		<-p.writeSlot

		return err
	}

	done := make(chan error, 1)

	go func() {
		defer func() { <-p.writeSlot }()

		_, err := p.stdin.Write(data)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("write to stdin: %w: %w", errors.ErrTransportDisconnected, err)
		}

		return nil

	case <-ctx.Done():
		p.log.Debug("Context ended during write, finishing frame in background", "bytes", len(data))

		return ctx.Err()
	}
}

func (p *Process) writable(ctx context.Context) error {
	select {
	case <-p.stdinClosed:
		return errors.ErrTransportDisconnected
	default:
	}

	return ctx.Err()
}

// CloseStdin closes the stdin pipe, signalling end of input. A write
// blocked on a full pipe fails with ErrTransportDisconnected.
func (p *Process) CloseStdin() error {
	p.stdinOnce.Do(func() {
		close(p.stdinClosed)
		p.stdinErr = p.stdin.Close()
	})

	return p.stdinErr
}

// Shutdown closes stdin, waits up to grace for the process to exit on its
// own, then kills the whole process tree. The stdout and stderr read ends
// are closed afterwards so any reader blocked on them returns. It is safe
// to call Shutdown more than once.
func (p *Process) Shutdown(grace time.Duration) error {
	p.shutdownOnce.Do(func() {
		p.shutdownErr = p.shutdown(grace)
	})

	return p.shutdownErr
}

func (p *Process) shutdown(grace time.Duration) error {
	if grace <= 0 {
		grace = DefaultShutdownGrace
	}

	pid := p.cmd.Process.Pid
	p.log.Debug("Shutting down server process", "pid", pid)

	_ = p.CloseStdin()

	var killErr error

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-p.done:
		p.log.Debug("Server process exited after stdin close", "pid", pid)

	case <-timer.C:
		p.log.Warn("Server process did not exit gracefully, killing", "pid", pid)

		if err := killTree(p.cmd.Process); err != nil && !p.HasExited() {
			killErr = fmt.Errorf("kill process (pid %d): %w", pid, err)
		}

		<-p.done
	}

	// Grandchildren may still hold the write ends; closing the read ends
	// unblocks the pumps regardless.
	closeAll(p.stdout, p.stderr)

	p.mu.Lock()
	p.state = StateDisposed
	p.mu.Unlock()

	return killErr
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		if f != nil {
			_ = f.Close()
		}
	}
}
