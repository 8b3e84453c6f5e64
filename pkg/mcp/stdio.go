package mcp

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// stdioShutdownGrace is how long a spawned server gets to exit after
// SIGTERM before it is killed.
const stdioShutdownGrace = 5 * time.Second

// stdioTransport spawns a server subprocess and speaks JSONL over its
// stdin/stdout. Each stdout line that parses as JSON is one pushed message;
// anything else (stray log output) is skipped.
type stdioTransport struct {
	command string
	args    []string
	env     map[string]string

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *bytes.Buffer

	msgs      chan []byte
	done      chan struct{}
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newStdioTransport(d ServerDescriptor) (Transport, error) {
	if d.Command == "" {
		return nil, fmt.Errorf("command transport requires a command")
	}
	return &stdioTransport{
		command: d.Command,
		args:    d.Args,
		env:     d.Env,
		msgs:    make(chan []byte, 64),
		done:    make(chan struct{}),
	}, nil
}

// Open starts the subprocess. It inherits the parent environment plus any
// configured overrides.
func (t *stdioTransport) Open(ctx context.Context) error {
	cmd := exec.Command(t.command, t.args...)
	cmd.Env = os.Environ()
	for k, v := range t.env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start process: %w", err)
	}

	t.cmd = cmd
	t.stdin = stdin
	t.stderr = &stderr

	go t.readLoop(stdout)
	return nil
}

// readLoop scans stdout lines into the push channel, closing it when the
// process side of the pipe goes away.
func (t *stdioTransport) readLoop(stdout io.Reader) {
	defer close(t.msgs)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		data := make([]byte, len(line))
		copy(data, line)

		select {
		case t.msgs <- data:
		case <-t.done:
			return
		}
	}
}

// Send writes one message as a single stdin line.
func (t *stdioTransport) Send(_ context.Context, data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.stdin == nil {
		return ErrConnectionClosed
	}
	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write to stdin: %w (stderr: %s)", err, t.stderr.String())
	}
	return nil
}

func (t *stdioTransport) Messages() <-chan []byte { return t.msgs }

// Close terminates the subprocess: close stdin, SIGTERM, bounded wait, SIGKILL.
func (t *stdioTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		if t.stdin != nil {
			t.stdin.Close()
		}
		if t.cmd == nil || t.cmd.Process == nil {
			return
		}

		_ = t.cmd.Process.Signal(syscall.SIGTERM)

		exited := make(chan error, 1)
		go func() { exited <- t.cmd.Wait() }()

		select {
		case <-exited:
		case <-time.After(stdioShutdownGrace):
			_ = t.cmd.Process.Kill()
			<-exited
		}
	})
	return nil
}
