package session

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultCommand        = "claude"
	defaultGracePeriod    = 500 * time.Millisecond
	defaultRecentCapacity = 1000

	tracerName = "claude-line/session"
)

// Options configures a Manager.
type Options struct {
	// WorkDir is the project directory claude runs in. Defaults to ".".
	WorkDir string
	// Command is the claude executable name or path. Defaults to "claude".
	Command string
	// ExtraArgs are appended after the resume flag, before the prompt.
	ExtraArgs []string
	// GracePeriod is how long Cancel waits after SIGTERM before SIGKILL.
	GracePeriod time.Duration
	// RecentCapacity bounds the replay buffer of emitted chunks.
	RecentCapacity int
	Logger         *slog.Logger
}

// Manager runs one claude invocation at a time and keeps the conversation
// resumable across invocations.
type Manager struct {
	mu    sync.Mutex
	state *State
	// proc is the in-flight invocation, nil when idle. It keeps the process
	// slot even if Reset detached the conversation it belongs to.
	proc *invocation

	// emitMu orders replay buffer writes and sink calls against Replay.
	emitMu sync.Mutex

	workDir   string
	extraArgs []string
	grace     time.Duration
	resolver  *Resolver
	recent    *RingBuffer
	logger    *slog.Logger
	tracer    trace.Tracer
}

// invocation owns the subprocess of a single Execute call. Nothing outside
// the Manager touches its pipes or signals its process.
type invocation struct {
	id     string
	state  *State
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr io.ReadCloser
	// done is closed once cmd.Wait has returned.
	done chan struct{}
}

// NewManager creates an idle Manager with a fresh conversation.
func NewManager(opts Options) *Manager {
	workDir := opts.WorkDir
	if workDir == "" {
		workDir = "."
	}
	if abs, err := filepath.Abs(workDir); err == nil {
		workDir = abs
	}

	command := opts.Command
	if command == "" {
		command = defaultCommand
	}

	grace := opts.GracePeriod
	if grace <= 0 {
		grace = defaultGracePeriod
	}

	capacity := opts.RecentCapacity
	if capacity <= 0 {
		capacity = defaultRecentCapacity
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		state:     &State{},
		workDir:   workDir,
		extraArgs: append([]string(nil), opts.ExtraArgs...),
		grace:     grace,
		resolver:  NewResolver(command),
		recent:    NewRingBuffer(capacity),
		logger:    logger,
		tracer:    otel.Tracer(tracerName),
	}
}

// Execute runs prompt through claude, calling sink with every output chunk
// in stream order, and returns the full transcript. Failures never escape as
// Go errors: they are reported in the Result and, except for ErrBusy, also
// sent to sink as a bracketed notice.
func (m *Manager) Execute(ctx context.Context, prompt string, sink Sink) Result {
	if sink == nil {
		sink = func(string) {}
	}

	ctx, span := m.tracer.Start(ctx, "session.execute")
	defer span.End()

	inv, result, ok := m.begin(ctx, prompt)
	span.SetAttributes(
		attribute.String("invocation.id", inv.id),
		attribute.Int("prompt.length", len(prompt)),
	)
	if !ok {
		if !errors.Is(result.Err, ErrBusy) {
			m.logger.Error("claude launch failed", "invocation", inv.id, "error", result.Error)
			m.notify(inv.id, sink, "[Error: "+result.Error+"]")
		}
		span.SetStatus(codes.Error, result.Error)
		return result
	}
	defer m.release(inv)

	logger := m.logger.With("invocation", inv.id)
	logger.Info("claude started", "pid", inv.cmd.Process.Pid, "workDir", m.workDir)

	result, exitCode := m.stream(inv, sink, logger)
	span.SetAttributes(
		attribute.Int("exit_code", exitCode),
		attribute.Int("output.length", len(result.Output)),
	)
	if !result.Success {
		span.SetStatus(codes.Error, result.Error)
	}
	return result
}

// begin claims the process slot and spawns claude. When ok is false the
// Result says why and no process was started.
func (m *Manager) begin(ctx context.Context, prompt string) (*invocation, Result, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv := &invocation{id: uuid.NewString(), done: make(chan struct{})}

	if m.state.Running || m.proc != nil {
		m.logger.Warn("rejecting command while busy", "invocation", inv.id)
		return inv, Result{Error: busyMessage, Err: ErrBusy}, false
	}

	m.state.History = append(m.state.History, prompt)
	inv.state = m.state

	if info, err := os.Stat(m.workDir); err != nil || !info.IsDir() {
		return inv, launchFailure(fmt.Errorf("working directory does not exist: %s", m.workDir)), false
	}

	path := m.resolver.Resolve()
	args := buildArgs(prompt, m.state.ID, m.extraArgs)
	m.logger.Debug("spawning claude", "invocation", inv.id, "path", path, "resume", m.state.ID != "")

	// #nosec G204 -- the prompt is a single argv entry, never parsed by a shell
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Dir = m.workDir
	cmd.Env = buildEnv()
	cmd.WaitDelay = m.grace
	setProcessGroup(cmd)
	cmd.Cancel = func() error {
		return signalGroup(cmd, syscall.SIGTERM)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return inv, launchFailure(fmt.Errorf("create stdout pipe: %w", err)), false
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return inv, launchFailure(fmt.Errorf("create stderr pipe: %w", err)), false
	}

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			m.resolver.Forget()
			msg := fmt.Sprintf("Claude Code not found at '%s'. Make sure it's installed and in your PATH.", path)
			return inv, Result{Error: msg, Err: fmt.Errorf("%w: %w", ErrNotFound, err)}, false
		}
		return inv, launchFailure(fmt.Errorf("start claude: %w", err)), false
	}

	inv.cmd = cmd
	inv.stdout = stdout
	inv.stderr = stderr
	m.state.Running = true
	m.proc = inv
	return inv, Result{}, true
}

// stream drives the invocation's stdout through the parser and coalescer,
// then collects stderr and waits for the process. It returns the Result and
// the exit code.
func (m *Manager) stream(inv *invocation, sink Sink, logger *slog.Logger) (Result, int) {
	// stderr is buffered concurrently so a chatty child never blocks on a full
	// pipe, but it is only consulted after stdout closes.
	var stderrBuf bytes.Buffer
	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		if _, err := io.Copy(&stderrBuf, inv.stderr); err != nil {
			logger.Debug("stderr copy ended", "error", err)
		}
	}()

	coalescer := NewCoalescer()
	var transcript strings.Builder
	emit := func(chunk string) {
		transcript.WriteString(chunk)
		m.publish(OutputEvent{
			InvocationID: inv.id,
			Type:         OutputChunk,
			Data:         chunk,
			Timestamp:    time.Now().UTC(),
		}, sink)
	}

	reader := bufio.NewReader(inv.stdout)
	lines := 0
	var readErr error
	for {
		raw, err := reader.ReadBytes('\n')
		if line := DecodeLine(raw); line != "" {
			lines++
			ev := ParseLine(line)
			if ev.HasSessionID {
				m.recordSessionID(inv, ev.SessionID, logger)
			}
			for _, chunk := range coalescer.Offer(ev) {
				emit(chunk)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				readErr = err
			}
			break
		}
	}
	for _, chunk := range coalescer.Flush() {
		emit(chunk)
	}

	<-stderrDone
	waitErr := inv.cmd.Wait()
	close(inv.done)

	exitCode := exitCodeOf(waitErr)
	logger.Info("claude exited", "exitCode", exitCode, "lines", lines, "outputBytes", transcript.Len())

	if readErr != nil && !errors.Is(readErr, os.ErrClosed) {
		result := launchFailure(fmt.Errorf("read stdout: %w", readErr))
		m.notify(inv.id, sink, "[Error: "+result.Error+"]")
		return result, exitCode
	}

	if exitCode != 0 && transcript.Len() == 0 {
		msg := DecodeLine(stderrBuf.Bytes())
		if msg == "" {
			msg = fmt.Sprintf("Claude Code exited with code %d", exitCode)
		}
		logger.Warn("claude failed without output", "exitCode", exitCode, "error", msg)
		m.notify(inv.id, sink, "\n[Error: "+msg+"]")
		return Result{Output: msg, Error: msg, Err: ErrExited}, exitCode
	}

	if exitCode != 0 {
		// Partial output wins over the exit status.
		logger.Warn("claude exited non-zero after producing output", "exitCode", exitCode)
	}
	return Result{Success: true, Output: transcript.String()}, exitCode
}

// recordSessionID stores the resume token on the invocation's conversation.
// An empty id clears it, so the next invocation starts fresh. A conversation
// detached by Reset keeps it to itself.
func (m *Manager) recordSessionID(inv *invocation, id string, logger *slog.Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if inv.state.ID != id {
		logger.Debug("session id learned", "sessionId", id)
	}
	inv.state.ID = id
}

// notify sends an error notice to sink. Notices are replayed but are not
// part of the transcript.
func (m *Manager) notify(invocationID string, sink Sink, notice string) {
	m.publish(OutputEvent{
		InvocationID: invocationID,
		Type:         OutputError,
		Data:         notice,
		Timestamp:    time.Now().UTC(),
	}, sink)
}

// publish records ev for replay and hands it to sink as one step.
func (m *Manager) publish(ev OutputEvent, sink Sink) {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.recent.Write(ev)
	sink(ev.Data)
}

// release frees the process slot and clears the running flag of the
// conversation the invocation belonged to.
func (m *Manager) release(inv *invocation) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv.state.Running = false
	if m.proc == inv {
		m.proc = nil
	}
}

// Cancel stops the running invocation and everything it spawned: SIGTERM
// first, SIGKILL if the process is still alive after the grace period. It reports whether a
// cancellation was carried out; false means nothing was running or the
// process could not be signalled.
func (m *Manager) Cancel() bool {
	m.mu.Lock()
	inv := m.proc
	m.mu.Unlock()

	if inv == nil {
		return false
	}

	logger := m.logger.With("invocation", inv.id)
	if err := signalGroup(inv.cmd, syscall.SIGTERM); err != nil {
		logger.Warn("could not signal claude", "error", err)
		return false
	}
	logger.Info("cancelling claude", "grace", m.grace)

	select {
	case <-inv.done:
	case <-time.After(m.grace):
		if err := signalGroup(inv.cmd, syscall.SIGKILL); err != nil && !errors.Is(err, os.ErrProcessDone) {
			logger.Warn("could not kill claude", "error", err)
			return false
		}
		logger.Info("claude killed after grace period")
	}
	return true
}

// Reset starts a fresh conversation: no session id, empty history, not
// running. An invocation still in flight keeps the process slot until it
// finishes, but no longer affects the new conversation.
func (m *Manager) Reset() {
	m.mu.Lock()
	m.state = &State{}
	m.mu.Unlock()

	m.recent.Clear()
	m.logger.Info("session reset")
}

// SessionID returns the current resume token, or "" for a fresh conversation.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.ID
}

// IsRunning reports whether the current conversation has a command in flight.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Running
}

// History returns a copy of every prompt submitted in this conversation.
func (m *Manager) History() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.state.History...)
}

// State returns a snapshot of the current conversation.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{
		ID:      m.state.ID,
		Running: m.state.Running,
		History: append([]string(nil), m.state.History...),
	}
}

// WorkDir returns the absolute project directory.
func (m *Manager) WorkDir() string {
	return m.workDir
}

// Recent returns recently emitted chunks and notices, oldest first.
func (m *Manager) Recent() []OutputEvent {
	return m.recent.ReadAll()
}

// Replay calls fn with the recently emitted chunks and notices, oldest first.
// No new output is emitted while fn runs, so a sink that starts forwarding
// from inside fn sees every chunk exactly once. fn must not call back into
// Execute.
func (m *Manager) Replay(fn func(events []OutputEvent)) {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	fn(m.recent.ReadAll())
}

// exitCodeOf maps a Wait error to an exit code. A process killed by a
// signal reports the negated signal number.
func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return -1
	}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return -int(status.Signal())
	}
	return exitErr.ExitCode()
}

func launchFailure(err error) Result {
	msg := fmt.Sprintf("Error running Claude Code: %v", err)
	return Result{Error: msg, Err: fmt.Errorf("%w: %w", ErrLaunch, err)}
}
