//go:build !windows

package sidecar

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScript creates an executable shell script in dir.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func waitClosed(t *testing.T, ch <-chan struct{}, d time.Duration) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(d):
		t.Fatalf("channel not closed within %s", d)
	}
}

func fileExists(path string) func() bool {
	return func() bool {
		_, err := os.Stat(path)
		return err == nil
	}
}

func shutdownQuietly(s *Supervisor) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.Shutdown(ctx)
}

func TestSupervisor_StartRelativeToBaseDir(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "backend", "exec sleep 30")

	s := New(WithBaseDir(dir))
	defer shutdownQuietly(s)

	proc, err := s.Start("./backend")
	require.NoError(t, err)
	require.NotNil(t, proc)

	assert.Greater(t, proc.PID(), 0)
	assert.NotEmpty(t, proc.ID)
	assert.Equal(t, filepath.Join(dir, "backend"), proc.Path)
	assert.False(t, proc.HasExited())

	st := s.Status()
	assert.Equal(t, Running, st.State)
	assert.Equal(t, proc.PID(), st.PID)
	assert.Equal(t, -1, st.ExitCode)
	assert.Same(t, proc, s.Process())
}

func TestSupervisor_StartMissing(t *testing.T) {
	dir := t.TempDir()
	s := New(WithBaseDir(dir))

	proc, err := s.Start("./missing")
	require.Error(t, err)
	assert.Nil(t, proc)

	var launchErr *LaunchError
	require.ErrorAs(t, err, &launchErr)
	assert.Equal(t, CauseNotFound, launchErr.Cause)
	assert.Equal(t, filepath.Join(dir, "missing"), launchErr.Path)
	assert.ErrorIs(t, err, fs.ErrNotExist)

	st := s.Status()
	assert.Equal(t, FailedToStart, st.State)
	assert.Equal(t, -1, st.PID)
	assert.Nil(t, s.Process())
	assert.ErrorAs(t, st.Err, &launchErr)
}

func TestSupervisor_StartNotExecutable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "backend")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o644))

	s := New()
	_, err := s.Start(path)

	var launchErr *LaunchError
	require.ErrorAs(t, err, &launchErr)
	assert.Equal(t, CausePermissionDenied, launchErr.Cause)
	assert.Equal(t, FailedToStart, s.Status().State)
}

func TestSupervisor_StartDirectory(t *testing.T) {
	dir := t.TempDir()
	s := New()
	_, err := s.Start(dir)

	var launchErr *LaunchError
	require.ErrorAs(t, err, &launchErr)
	assert.Equal(t, CauseInvalid, launchErr.Cause)
}

func TestSupervisor_StartTwice(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "backend", "exec sleep 30")

	s := New()
	defer shutdownQuietly(s)

	first, err := s.Start(path)
	require.NoError(t, err)

	_, err = s.Start(path)
	assert.ErrorIs(t, err, ErrAlreadyStarted)
	assert.Same(t, first, s.Process())
}

func TestSupervisor_StartAfterFailure(t *testing.T) {
	s := New(WithBaseDir(t.TempDir()))
	_, err := s.Start("./missing")
	require.Error(t, err)

	_, err = s.Start("./missing")
	assert.ErrorIs(t, err, ErrAlreadyStarted)
	assert.Equal(t, FailedToStart, s.Status().State)
}

func TestSupervisor_ShutdownBeforeStart(t *testing.T) {
	s := New()

	res, err := s.Shutdown(context.Background())
	require.NoError(t, err)
	assert.True(t, res.NotStarted)
	assert.Equal(t, -1, res.ExitCode)

	_, err = s.Start("/bin/true")
	assert.ErrorIs(t, err, ErrSupervisorShutdown)
	assert.Equal(t, NotStarted, s.Status().State)
}

func TestSupervisor_ShutdownAfterLaunchFailure(t *testing.T) {
	s := New(WithBaseDir(t.TempDir()))
	_, err := s.Start("./missing")
	require.Error(t, err)

	res, err := s.Shutdown(context.Background())
	require.NoError(t, err)
	assert.True(t, res.NotStarted)
	assert.Equal(t, FailedToStart, s.Status().State)
}

func TestSupervisor_UnexpectedExit(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "backend", "exit 1")

	exits := make(chan *UnexpectedExitError, 1)
	s := New(WithUnexpectedExitHandler(func(e *UnexpectedExitError) {
		exits <- e
	}))

	proc, err := s.Start(path)
	require.NoError(t, err)

	var exitErr *UnexpectedExitError
	select {
	case exitErr = <-exits:
	case <-time.After(5 * time.Second):
		t.Fatal("unexpected exit not reported")
	}

	assert.Equal(t, 1, exitErr.ExitCode)
	assert.Equal(t, proc.PID(), exitErr.PID)
	assert.False(t, exitErr.Signaled)
	assert.Contains(t, exitErr.Error(), "code 1")

	waitClosed(t, s.Done(), time.Second)
	st := s.Status()
	assert.Equal(t, Exited, st.State)
	assert.Equal(t, 1, st.ExitCode)
	assert.False(t, st.ExitedAt.IsZero())

	res, err := s.Shutdown(context.Background())
	require.NoError(t, err)
	assert.True(t, res.AlreadyExited)
	assert.Equal(t, 1, res.ExitCode)
	assert.Equal(t, Exited, s.Status().State)
}

func TestSupervisor_HandlerPanicIsContained(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "backend", "exit 3")

	s := New(WithUnexpectedExitHandler(func(*UnexpectedExitError) {
		panic("boom")
	}))

	_, err := s.Start(path)
	require.NoError(t, err)

	waitClosed(t, s.Done(), 5*time.Second)
	assert.Equal(t, Exited, s.Status().State)
	assert.Equal(t, 3, s.Status().ExitCode)
}

func TestSupervisor_GracefulShutdown(t *testing.T) {
	dir := t.TempDir()
	ready := filepath.Join(dir, "ready")
	path := writeScript(t, dir, "backend", `trap 'exit 0' TERM
touch "$READY"
while :; do sleep 0.1; done`)

	var unexpected atomic.Bool
	s := New(
		WithEnv("READY="+ready),
		WithGracePeriod(5*time.Second),
		WithUnexpectedExitHandler(func(*UnexpectedExitError) { unexpected.Store(true) }),
	)

	proc, err := s.Start(path)
	require.NoError(t, err)
	require.Eventually(t, fileExists(ready), 5*time.Second, 20*time.Millisecond)

	res, err := s.Shutdown(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Forced)
	assert.False(t, res.AlreadyExited)
	assert.Equal(t, 0, res.ExitCode)
	assert.Less(t, res.Elapsed, 5*time.Second)

	assert.True(t, proc.HasExited())
	waitClosed(t, s.Done(), time.Second)

	st := s.Status()
	assert.Equal(t, Terminated, st.State)
	assert.False(t, st.Forced)
	assert.False(t, unexpected.Load(), "supervisor-initiated exit must not be reported as unexpected")
}

func TestSupervisor_ForcedShutdown(t *testing.T) {
	dir := t.TempDir()
	ready := filepath.Join(dir, "ready")
	path := writeScript(t, dir, "backend", `trap '' TERM
touch "$READY"
while :; do sleep 0.1; done`)

	s := New(
		WithEnv("READY="+ready),
		WithGracePeriod(200*time.Millisecond),
		WithKillWait(3*time.Second),
	)

	proc, err := s.Start(path)
	require.NoError(t, err)
	require.Eventually(t, fileExists(ready), 5*time.Second, 20*time.Millisecond)

	res, err := s.Shutdown(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Forced)
	assert.GreaterOrEqual(t, res.Elapsed, 200*time.Millisecond)

	assert.True(t, proc.HasExited())
	assert.True(t, proc.Signaled())

	st := s.Status()
	assert.Equal(t, Terminated, st.State)
	assert.True(t, st.Forced)
}

func TestSupervisor_ShutdownCancelledContextForces(t *testing.T) {
	dir := t.TempDir()
	ready := filepath.Join(dir, "ready")
	path := writeScript(t, dir, "backend", `trap '' TERM
touch "$READY"
while :; do sleep 0.1; done`)

	s := New(WithEnv("READY="+ready), WithGracePeriod(time.Minute))

	_, err := s.Start(path)
	require.NoError(t, err)
	require.Eventually(t, fileExists(ready), 5*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	res, err := s.Shutdown(ctx)
	require.NoError(t, err)
	assert.True(t, res.Forced)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestSupervisor_ShutdownIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	ready := filepath.Join(dir, "ready")
	count := filepath.Join(dir, "count")
	path := writeScript(t, dir, "backend", `trap 'echo term >> "$COUNT"; exit 0' TERM
touch "$READY"
while :; do sleep 0.1; done`)

	s := New(WithEnv("READY="+ready, "COUNT="+count))

	proc, err := s.Start(path)
	require.NoError(t, err)
	require.Eventually(t, fileExists(ready), 5*time.Second, 20*time.Millisecond)

	first, err := s.Shutdown(context.Background())
	require.NoError(t, err)

	second, err := s.Shutdown(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Same(t, proc, s.Process())

	data, err := os.ReadFile(count)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "term"))
}

func TestSupervisor_ShutdownWaitsForLaunch(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "backend", "exec sleep 30")

	s := New(WithGracePeriod(2 * time.Second))

	var (
		wg       sync.WaitGroup
		proc     *Process
		startErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		proc, startErr = s.Start(path)
	}()

	_, err := s.Shutdown(context.Background())
	require.NoError(t, err)
	wg.Wait()

	if startErr != nil {
		assert.ErrorIs(t, startErr, ErrSupervisorShutdown)
		assert.Nil(t, s.Process())
		return
	}
	// Start won the race; Shutdown must have stopped what it launched.
	assert.True(t, proc.HasExited())
	assert.Equal(t, Terminated, s.Status().State)
}

func TestSupervisor_Environment(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out")
	path := writeScript(t, dir, "backend", `echo "$FOO:$HOME" > "$OUT"`)

	s := New(WithCleanEnv(), WithEnv("FOO=bar", "OUT="+out))

	_, err := s.Start(path)
	require.NoError(t, err)
	waitClosed(t, s.Done(), 5*time.Second)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "bar:\n", string(data))
}

func TestSupervisor_InheritsEnvironment(t *testing.T) {
	t.Setenv("CHAINSHELL_TEST_INHERITED", "yes")

	dir := t.TempDir()
	out := filepath.Join(dir, "out")
	path := writeScript(t, dir, "backend", `echo "$CHAINSHELL_TEST_INHERITED" > "$OUT"`)

	s := New(WithEnv("OUT=" + out))

	_, err := s.Start(path)
	require.NoError(t, err)
	waitClosed(t, s.Done(), 5*time.Second)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "yes\n", string(data))
}

func TestSupervisor_WorkDir(t *testing.T) {
	dir := t.TempDir()
	work := t.TempDir()
	out := filepath.Join(dir, "out")
	path := writeScript(t, dir, "backend", `pwd -P > "$OUT"`)

	s := New(WithWorkDir(work), WithEnv("OUT="+out))

	_, err := s.Start(path)
	require.NoError(t, err)
	waitClosed(t, s.Done(), 5*time.Second)

	data, err := os.ReadFile(out)
	require.NoError(t, err)

	want, err := filepath.EvalSymlinks(work)
	require.NoError(t, err)
	assert.Equal(t, want, strings.TrimSpace(string(data)))
}

func TestSupervisor_Output(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "backend", `echo hello; echo oops >&2`)

	var stdout, stderr bytes.Buffer
	s := New(WithOutput(&stdout, &stderr))

	proc, err := s.Start(path)
	require.NoError(t, err)
	waitClosed(t, proc.Done(), 5*time.Second)

	assert.Equal(t, "hello\n", stdout.String())
	assert.Equal(t, "oops\n", stderr.String())
	assert.Equal(t, 0, proc.ExitCode())
}

func TestSupervisor_WaitHealthy(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"status":"healthy"}`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	path := writeScript(t, dir, "backend", "exec sleep 30")

	s := New()
	defer shutdownQuietly(s)

	_, err := s.Start(path)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, s.WaitHealthy(ctx, srv.URL+"/health", 10*time.Millisecond))
	assert.GreaterOrEqual(t, hits.Load(), int32(3))
}

func TestSupervisor_WaitHealthyBackendExits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	dir := t.TempDir()
	path := writeScript(t, dir, "backend", "sleep 0.2; exit 2")

	s := New()
	_, err := s.Start(path)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err = s.WaitHealthy(ctx, srv.URL, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestSupervisor_WaitHealthyNotStarted(t *testing.T) {
	s := New()
	err := s.WaitHealthy(context.Background(), "http://127.0.0.1:1/health", 0)
	assert.True(t, errors.Is(err, ErrNotRunning))
}
