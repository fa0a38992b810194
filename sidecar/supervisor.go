package sidecar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultGracePeriod is how long Shutdown waits after the graceful
	// request before killing the backend.
	DefaultGracePeriod = 5 * time.Second

	// DefaultKillWait bounds the wait for the OS to confirm a kill.
	DefaultKillWait = 2 * time.Second
)

// ShutdownResult describes how the backend was stopped.
type ShutdownResult struct {
	// Forced is set when the backend ignored the graceful request and had
	// to be killed.
	Forced bool
	// AlreadyExited is set when the backend had exited before shutdown.
	AlreadyExited bool
	// NotStarted is set when no backend process was ever created.
	NotStarted bool
	// ExitCode is the backend's exit code, or -1 if unknown or signaled.
	ExitCode int
	// Elapsed is the time spent terminating the backend.
	Elapsed time.Duration
}

// Supervisor owns one backend process for the lifetime of the host.
//
// Start and Shutdown are serialised: a Shutdown issued while Start is in
// flight waits for the launch to finish before terminating anything.
// Supervisor is safe for concurrent use.
type Supervisor struct {
	baseDir     string
	workDir     string
	env         []string
	cleanEnv    bool
	stdout      io.Writer
	stderr      io.Writer
	gracePeriod time.Duration
	killWait    time.Duration
	log         *slog.Logger

	onUnexpectedExit func(*UnexpectedExitError)

	// opMu serialises Start and Shutdown.
	opMu sync.Mutex

	// mu guards the fields below. It is never held while waiting on the OS.
	mu        sync.Mutex
	state     State
	path      string
	proc      *Process
	launchErr error
	stopping  bool
	closed    bool
	forced    bool
	result    *ShutdownResult
	release   func()

	// exited is closed once the backend has exited for any reason.
	exited chan struct{}
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithBaseDir sets the directory relative backend paths resolve against.
// The default is the directory of the host executable.
func WithBaseDir(dir string) Option {
	return func(s *Supervisor) { s.baseDir = dir }
}

// WithWorkDir sets the backend's working directory. The default is to
// inherit the host's.
func WithWorkDir(dir string) Option {
	return func(s *Supervisor) { s.workDir = dir }
}

// WithEnv adds KEY=VALUE entries to the backend's environment. They are
// appended to the inherited environment unless WithCleanEnv is also given.
func WithEnv(env ...string) Option {
	return func(s *Supervisor) { s.env = append(s.env, env...) }
}

// WithCleanEnv stops the backend from inheriting the host's environment;
// only WithEnv entries are passed.
func WithCleanEnv() Option {
	return func(s *Supervisor) { s.cleanEnv = true }
}

// WithOutput sets where backend stdout and stderr go. Nil discards.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(s *Supervisor) {
		s.stdout = stdout
		s.stderr = stderr
	}
}

// WithGracePeriod sets how long Shutdown waits before forcing termination.
func WithGracePeriod(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.gracePeriod = d
		}
	}
}

// WithKillWait sets how long Shutdown waits for a kill to be confirmed.
func WithKillWait(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.killWait = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.log = l
		}
	}
}

// WithUnexpectedExitHandler sets a callback for when the backend exits
// before Shutdown was requested. It runs on the watcher goroutine.
func WithUnexpectedExitHandler(fn func(*UnexpectedExitError)) Option {
	return func(s *Supervisor) { s.onUnexpectedExit = fn }
}

// New creates a Supervisor. No process is started until Start is called.
func New(opts ...Option) *Supervisor {
	s := &Supervisor{
		gracePeriod: DefaultGracePeriod,
		killWait:    DefaultKillWait,
		log:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		release:     func() {},
		exited:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start resolves path and launches the backend with no arguments.
//
// On failure it returns a *LaunchError, no process exists and the state is
// FailedToStart. Start may only succeed once per Supervisor.
func (s *Supervisor) Start(path string) (*Process, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	closed, state := s.closed, s.state
	s.mu.Unlock()
	if closed {
		return nil, ErrSupervisorShutdown
	}
	if state != NotStarted {
		return nil, ErrAlreadyStarted
	}

	resolved, err := ResolvePath(path, s.baseDir)
	if err != nil {
		return nil, s.failLaunch(path, err)
	}

	cmd := exec.Command(resolved)
	cmd.Dir = s.workDir
	cmd.Env = s.environ()
	cmd.Stdout = s.stdout
	cmd.Stderr = s.stderr
	// Bounds Wait if a grandchild keeps the output pipes open after exit.
	cmd.WaitDelay = s.killWait
	configureCmd(cmd)

	if err := cmd.Start(); err != nil {
		return nil, s.failLaunch(resolved, &LaunchError{
			Path:  resolved,
			Cause: classifyLaunchError(err),
			Err:   err,
		})
	}

	proc := newProcess(uuid.NewString(), resolved, cmd)
	proc.Started = time.Now()

	release, err := attach(cmd.Process)
	if err != nil {
		s.log.Warn("backend not bound to host lifetime", "pid", proc.PID(), "error", err)
	}

	s.mu.Lock()
	s.state = Running
	s.path = resolved
	s.proc = proc
	s.release = release
	s.mu.Unlock()

	s.log.Info("backend started", "path", resolved, "pid", proc.PID(), "run", proc.ID)

	go s.watch(proc)

	return proc, nil
}

func (s *Supervisor) failLaunch(path string, err error) error {
	var launchErr *LaunchError
	if !errors.As(err, &launchErr) {
		launchErr = &LaunchError{Path: path, Cause: classifyLaunchError(err), Err: err}
	}

	s.mu.Lock()
	s.state = FailedToStart
	s.path = launchErr.Path
	s.launchErr = launchErr
	s.mu.Unlock()

	s.log.Error("backend launch failed", "path", launchErr.Path, "cause", launchErr.Cause.String(), "error", launchErr.Err)
	return launchErr
}

func (s *Supervisor) environ() []string {
	if s.cleanEnv {
		env := make([]string, 0, len(s.env))
		return append(env, s.env...)
	}
	if len(s.env) == 0 {
		return nil
	}
	return append(os.Environ(), s.env...)
}

// watch observes the backend's exit. This is the only place exit state is
// handed back to the supervisor.
func (s *Supervisor) watch(p *Process) {
	p.wait()

	s.mu.Lock()
	unexpected := !s.stopping
	if unexpected {
		s.state = Exited
	}
	s.mu.Unlock()

	close(s.exited)

	if !unexpected {
		return
	}

	exitErr := &UnexpectedExitError{
		PID:      p.PID(),
		ExitCode: p.ExitCode(),
		Signaled: p.Signaled(),
		Err:      p.ExitError(),
	}
	s.log.Error("backend exited unexpectedly",
		"pid", exitErr.PID,
		"exitCode", exitErr.ExitCode,
		"signaled", exitErr.Signaled,
		"runtime", p.Runtime().Round(time.Millisecond),
	)

	if s.onUnexpectedExit != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("unexpected-exit handler panicked", "panic", r)
				}
			}()
			s.onUnexpectedExit(exitErr)
		}()
	}
}

// Shutdown terminates the backend: a graceful request first, then a forced
// kill once the grace period passes or ctx is cancelled.
//
// It is safe to call more than once. After a successful shutdown later calls
// return the same result without signalling anything. A *ShutdownError is
// returned if termination could not be confirmed; calling again retries.
func (s *Supervisor) Shutdown(ctx context.Context) (ShutdownResult, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.result != nil {
		r := *s.result
		s.mu.Unlock()
		return r, nil
	}
	s.closed = true

	switch s.state {
	case NotStarted, FailedToStart:
		r := ShutdownResult{NotStarted: true, ExitCode: -1}
		s.result = &r
		s.mu.Unlock()
		return r, nil
	case Exited:
		r := ShutdownResult{AlreadyExited: true, ExitCode: s.proc.ExitCode()}
		s.result = &r
		release := s.release
		s.mu.Unlock()
		release()
		return r, nil
	}

	s.stopping = true
	proc := s.proc
	s.mu.Unlock()

	s.log.Info("stopping backend", "pid", proc.PID(), "grace", s.gracePeriod)

	start := time.Now()
	forced, err := s.stop(ctx, proc)
	elapsed := time.Since(start)
	if err != nil {
		s.log.Error("backend shutdown failed", "pid", proc.PID(), "error", err)
		return ShutdownResult{Forced: forced, ExitCode: -1, Elapsed: elapsed}, err
	}

	r := ShutdownResult{Forced: forced, ExitCode: proc.ExitCode(), Elapsed: elapsed}

	s.mu.Lock()
	s.state = Terminated
	s.forced = forced
	s.result = &r
	release := s.release
	s.mu.Unlock()

	release()

	s.log.Info("backend stopped",
		"pid", proc.PID(),
		"forced", forced,
		"exitCode", r.ExitCode,
		"elapsed", elapsed.Round(time.Millisecond),
	)
	return r, nil
}

func (s *Supervisor) stop(ctx context.Context, p *Process) (forced bool, err error) {
	start := time.Now()

	if err := terminate(p.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.log.Warn("graceful termination failed, killing backend", "pid", p.PID(), "error", err)
	} else {
		grace := time.NewTimer(s.gracePeriod)
		defer grace.Stop()

		select {
		case <-p.Done():
			return false, nil
		case <-grace.C:
			s.log.Warn("backend ignored termination request", "pid", p.PID(), "grace", s.gracePeriod)
		case <-ctx.Done():
			s.log.Warn("shutdown cancelled, killing backend", "pid", p.PID(), "error", ctx.Err())
		}
	}

	if p.HasExited() {
		return false, nil
	}

	if err := kill(p.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.log.Error("kill backend", "pid", p.PID(), "error", err)
	}

	confirm := time.NewTimer(s.killWait)
	defer confirm.Stop()

	select {
	case <-p.Done():
		return true, nil
	case <-confirm.C:
		return true, &ShutdownError{PID: p.PID(), Waited: time.Since(start), Err: ErrNotConfirmed}
	}
}

// Status returns a snapshot of the backend's state.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		State:    s.state,
		Path:     s.path,
		PID:      -1,
		ExitCode: -1,
		Forced:   s.forced,
		Err:      s.launchErr,
	}
	if s.proc != nil {
		st.PID = s.proc.PID()
		st.StartedAt = s.proc.Started
		if s.state == Exited || s.state == Terminated {
			st.ExitCode = s.proc.ExitCode()
			st.ExitedAt = s.proc.ExitedAt()
			st.Err = s.proc.ExitError()
		}
	}
	return st
}

// Process returns the backend handle, or nil if none was started.
func (s *Supervisor) Process() *Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc
}

// Done returns a channel closed once the backend has exited, whether on its
// own or through Shutdown. It never closes if no backend was started.
func (s *Supervisor) Done() <-chan struct{} {
	return s.exited
}

// String implements fmt.Stringer for log output.
func (s *Supervisor) String() string {
	st := s.Status()
	return fmt.Sprintf("backend[%s pid=%d]", st.State, st.PID)
}
