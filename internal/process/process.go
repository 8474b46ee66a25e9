package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// OutputHandler receives stderr lines (and stdout lines when stdout is not
// piped) from the subprocess.
type OutputHandler interface {
	HandleLine(source, line string)
}

// LogParser parses a log line and returns the log level and message.
type LogParser func(line string) (level, msg string)

const tailLines = 20

// ExitKilled is the exit code reported after a forced kill.
const ExitKilled = 137

// Process runs one subprocess from start to exit.
type Process struct {
	id     string
	path   string
	args   []string
	logger *slog.Logger

	processLogger   *slog.Logger
	logParser       LogParser
	outputHandler   OutputHandler
	gracefulTimeout time.Duration
	killTimeout     time.Duration

	pipeStdin  bool
	pipeStdout bool
	dir        string

	mu        sync.Mutex
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *os.File
	state     State
	startedAt time.Time
	exitCode  int
	exitErr   error
	tail      []string
	done      chan struct{}
}

// NewProcess creates a process that runs path with args.
func NewProcess(id, path string, args []string, logger *slog.Logger) *Process {
	return &Process{
		id:              id,
		path:            path,
		args:            append([]string(nil), args...),
		logger:          logger,
		gracefulTimeout: 5 * time.Second,
		killTimeout:     5 * time.Second,
		state:           StateIdle,
	}
}

// SetLogParser sets a custom logger and log parser for process output.
func (p *Process) SetLogParser(logger *slog.Logger, parser LogParser) {
	p.processLogger = logger
	p.logParser = parser
}

// SetOutputHandler forwards every output line to h.
func (p *Process) SetOutputHandler(h OutputHandler) {
	p.outputHandler = h
}

// SetTimeouts overrides the graceful stop and post-kill timeouts.
func (p *Process) SetTimeouts(graceful, kill time.Duration) {
	p.gracefulTimeout = graceful
	p.killTimeout = kill
}

// SetDir sets the working directory.
func (p *Process) SetDir(dir string) {
	p.dir = dir
}

// PipeStdin makes Stdin available after Start.
func (p *Process) PipeStdin() {
	p.pipeStdin = true
}

// PipeStdout makes Stdout available after Start instead of logging it.
func (p *Process) PipeStdout() {
	p.pipeStdout = true
}

// Args returns the argument list.
func (p *Process) Args() []string {
	return append([]string(nil), p.args...)
}

// CommandLine renders the command for logs.
func (p *Process) CommandLine() string {
	return strings.Join(append([]string{p.path}, p.args...), " ")
}

// Stdin returns the write end of the subprocess stdin, or nil.
func (p *Process) Stdin() io.WriteCloser {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stdin
}

// Stdout returns the read end of the subprocess stdout, or nil. The caller
// reads it to EOF and closes it.
func (p *Process) Stdout() io.ReadCloser {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stdout == nil {
		return nil
	}
	return p.stdout
}

// Start launches the subprocess. Cancelling ctx stops it gracefully.
func (p *Process) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done != nil {
		return fmt.Errorf("process %s already started", p.id)
	}
	p.state = StateStarting

	cmd := exec.Command(p.path, p.args...)
	cmd.Dir = p.dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var err error
	if p.pipeStdin {
		if p.stdin, err = cmd.StdinPipe(); err != nil {
			return p.startFailed(err)
		}
	}

	var stdoutWrite *os.File
	var stdoutRead io.ReadCloser
	if p.pipeStdout {
		r, w, perr := os.Pipe()
		if perr != nil {
			return p.startFailed(perr)
		}
		cmd.Stdout = w
		stdoutWrite = w
		p.stdout = r
	} else if stdoutRead, err = cmd.StdoutPipe(); err != nil {
		return p.startFailed(err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return p.startFailed(err)
	}

	if err := cmd.Start(); err != nil {
		if stdoutWrite != nil {
			stdoutWrite.Close()
			p.stdout.Close()
			p.stdout = nil
		}
		return p.startFailed(err)
	}
	if stdoutWrite != nil {
		stdoutWrite.Close()
	}

	p.cmd = cmd
	p.state = StateRunning
	p.startedAt = time.Now()
	p.done = make(chan struct{})
	p.logger.Info("Process started", "id", p.id, "pid", cmd.Process.Pid, "command", p.CommandLine())

	outputDone := make(chan struct{}, 2)
	streams := 1
	go func() {
		p.streamOutput(stderr, "stderr")
		outputDone <- struct{}{}
	}()
	if stdoutRead != nil {
		streams++
		go func() {
			p.streamOutput(stdoutRead, "stdout")
			outputDone <- struct{}{}
		}()
	}

	go func() {
		for range streams {
			<-outputDone
		}
		waitErr := cmd.Wait()
		p.mu.Lock()
		p.exitErr = waitErr
		if p.exitCode == 0 {
			p.exitCode = exitCodeFromError(waitErr)
		}
		if p.exitCode == 0 {
			p.state = StateIdle
		} else {
			p.state = StateError
		}
		close(p.done)
		p.mu.Unlock()
	}()

	go func() {
		select {
		case <-ctx.Done():
			p.Stop()
		case <-p.done:
		}
	}()
	return nil
}

func (p *Process) startFailed(err error) error {
	p.state = StateError
	p.exitErr = err
	p.logger.Error("Failed to start process", "id", p.id, "error", err, "command", p.CommandLine())
	return fmt.Errorf("start %s: %w", p.path, err)
}

// Wait blocks until the process exits and returns its exit code.
func (p *Process) Wait() (int, error) {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done == nil {
		return 1, fmt.Errorf("process %s not started", p.id)
	}

	<-done
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exitCode != 0 {
		return p.exitCode, p.exitError()
	}
	return 0, nil
}

func (p *Process) exitError() error {
	msg := fmt.Sprintf("%s exited with code %d", p.id, p.exitCode)
	if len(p.tail) > 0 {
		msg += ": " + p.tail[len(p.tail)-1]
	}
	if p.exitErr != nil {
		return fmt.Errorf("%s: %w", msg, p.exitErr)
	}
	return errors.New(msg)
}

// Run starts the process and waits for it to exit.
func (p *Process) Run(ctx context.Context) (int, error) {
	if err := p.Start(ctx); err != nil {
		return 1, err
	}
	return p.Wait()
}

// Stop sends SIGINT and waits for exit, killing the process after the
// graceful timeout. Stop on a process that is not running does nothing.
func (p *Process) Stop() {
	p.mu.Lock()
	cmd, done := p.cmd, p.done
	if cmd == nil || done == nil {
		p.mu.Unlock()
		return
	}
	select {
	case <-done:
		p.mu.Unlock()
		return
	default:
	}
	p.state = StateStopping
	p.mu.Unlock()

	p.logger.Info("Sending SIGINT to process", "id", p.id, "pid", cmd.Process.Pid)
	if err := cmd.Process.Signal(syscall.SIGINT); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.logger.Warn("Failed to send SIGINT", "error", err)
	}

	select {
	case <-done:
		return
	case <-time.After(p.gracefulTimeout):
	}

	p.logger.Warn("Graceful shutdown timeout, forcing kill", "id", p.id, "timeout", p.gracefulTimeout)
	p.mu.Lock()
	p.exitCode = ExitKilled
	p.mu.Unlock()
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.logger.Error("Failed to kill process", "error", err)
	}

	select {
	case <-done:
	case <-time.After(p.killTimeout):
		p.logger.Error("Process did not exit after kill signal", "id", p.id)
	}
}

// Done is closed when the process has exited.
func (p *Process) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Tail returns the last stderr lines.
func (p *Process) Tail() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.tail...)
}

// Info returns a status snapshot.
func (p *Process) Info() Info {
	p.mu.Lock()
	defer p.mu.Unlock()
	info := Info{
		ID:        p.id,
		State:     p.state,
		StartedAt: p.startedAt,
		ExitCode:  p.exitCode,
		LastError: p.exitErr,
	}
	if p.cmd != nil && p.cmd.Process != nil {
		info.PID = p.cmd.Process.Pid
	}
	return info
}

// exitCodeFromError extracts exit code from process error.
// Returns 0 for nil error, the exit code for ExitError, or 1 for other errors.
func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code
		}
		return ExitKilled
	}
	return 1
}

func (p *Process) streamOutput(reader io.Reader, source string) {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	logger := p.processLogger
	if logger == nil {
		logger = p.logger
	}

	for scanner.Scan() {
		line := scanner.Text()

		if p.outputHandler != nil {
			p.outputHandler.HandleLine(source, line)
		}
		if source == "stderr" && strings.TrimSpace(line) != "" {
			p.mu.Lock()
			p.tail = append(p.tail, line)
			if len(p.tail) > tailLines {
				p.tail = p.tail[len(p.tail)-tailLines:]
			}
			p.mu.Unlock()
		}

		level, msg := "info", line
		if p.logParser != nil {
			level, msg = p.logParser(line)
		}

		switch level {
		case "fatal", "error", "panic":
			logger.Error(msg, "id", p.id)
		case "warning":
			logger.Warn(msg, "id", p.id)
		case "info":
			logger.Info(msg, "id", p.id)
		default:
			logger.Debug(msg, "id", p.id)
		}
	}

	if err := scanner.Err(); err != nil {
		p.logger.Warn("Error reading output", "source", source, "error", err)
	}
}
