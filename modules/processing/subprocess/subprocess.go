// Package subprocess runs the pixel transform in an external program.
//
// Protocol (stdin/stdout of the child):
//
//	Go ──[len:4 BE][msgpack Request]──> child
//	Go <──[len:4 BE][msgpack Response]── child
//
// One request in flight at a time. The child's stderr is forwarded to the
// logger, mapping "[ERROR]" and "[WARNING]" markers to log levels.
//
// Failure policy: any write, read, decode or timeout error kills the child
// and fails the current frame. The next Process call spawns a fresh child.
package subprocess

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/e7canasta/orion-liveview/modules/frame"
	"github.com/e7canasta/orion-liveview/modules/processing"
)

const (
	defaultTimeout        = 2 * time.Second
	defaultMaxMessageSize = 64 << 20
	stopGrace             = 2 * time.Second
)

// ErrClosed is returned by Process after Close.
var ErrClosed = errors.New("subprocess: processor closed")

// Config describes the external program.
type Config struct {
	Command string
	Args    []string
	Env     []string

	// Timeout bounds one request/response exchange. Default 2s.
	Timeout time.Duration

	// MaxMessageSize bounds a response payload. Default 64 MiB.
	MaxMessageSize uint32

	Logger *logrus.Entry
}

// Stats counts exchanges and child restarts.
type Stats struct {
	Requests uint64
	Failures uint64
	Spawns   uint64
	PID      int
}

// Processor implements processing.Processor over a child process.
type Processor struct {
	cfg    Config
	logger *logrus.Entry

	mu     sync.Mutex
	child  *child
	closed bool

	requests atomic.Uint64
	failures atomic.Uint64
	spawns   atomic.Uint64
	pid      atomic.Int64
}

var _ processing.Processor = (*Processor)(nil)

type child struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	done   chan struct{}
	err    error
}

type exchangeResult struct {
	resp Response
	err  error
}

// New validates cfg. The child is spawned on first use.
func New(cfg Config) (*Processor, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("subprocess: command is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Processor{
		cfg:    cfg,
		logger: logger.WithField("component", "subprocess"),
	}, nil
}

// Process implements processing.Processor.
func (p *Processor) Process(ctx context.Context, in *frame.Frame) (*frame.Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrClosed
	}
	p.requests.Add(1)

	if p.child == nil {
		c, err := p.spawn()
		if err != nil {
			p.failures.Add(1)
			return nil, err
		}
		p.child = c
	}

	resp, err := p.exchange(ctx, p.child, Request{
		Seq:     in.Seq,
		TraceID: in.TraceID,
		Width:   in.Width,
		Height:  in.Height,
		Data:    in.Data[:frame.Size(in.Width, in.Height)],
	})
	if err != nil {
		p.failures.Add(1)
		p.logger.WithFields(logrus.Fields{
			"seq":      in.Seq,
			"trace_id": in.TraceID,
			"error":    err,
		}).Warn("subprocess: exchange failed, restarting child on next frame")
		p.kill(p.child)
		p.child = nil
		return nil, err
	}

	if resp.Error != "" {
		p.failures.Add(1)
		return nil, fmt.Errorf("subprocess: child rejected frame %d: %s", in.Seq, resp.Error)
	}
	return frame.New(resp.Data, resp.Width, resp.Height, in.Timestamp), nil
}

// exchange writes req and reads one response, bounded by the timeout and ctx.
func (p *Processor) exchange(ctx context.Context, c *child, req Request) (Response, error) {
	result := make(chan exchangeResult, 1)
	go func() {
		var r exchangeResult
		if r.err = WriteMessage(c.stdin, req); r.err == nil {
			r.err = ReadMessage(c.stdout, &r.resp, p.cfg.MaxMessageSize)
		}
		result <- r
	}()

	timer := time.NewTimer(p.cfg.Timeout)
	defer timer.Stop()

	select {
	case r := <-result:
		return r.resp, r.err
	case <-c.done:
		// Drain the exchange: closed pipes unblock it.
		<-result
		return Response{}, fmt.Errorf("subprocess: child exited: %v", c.err)
	case <-timer.C:
		p.kill(c)
		<-result
		return Response{}, fmt.Errorf("subprocess: no response within %s", p.cfg.Timeout)
	case <-ctx.Done():
		p.kill(c)
		<-result
		return Response{}, ctx.Err()
	}
}

func (p *Processor) spawn() (*child, error) {
	cmd := exec.Command(p.cfg.Command, p.cfg.Args...)
	if len(p.cfg.Env) > 0 {
		cmd.Env = append(cmd.Environ(), p.cfg.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("subprocess: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("subprocess: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("subprocess: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("subprocess: start %s: %w", p.cfg.Command, err)
	}
	p.spawns.Add(1)
	p.pid.Store(int64(cmd.Process.Pid))

	c := &child{
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
		done:   make(chan struct{}),
	}

	log := p.logger.WithField("pid", cmd.Process.Pid)
	log.WithField("command", p.cfg.Command).Info("subprocess: child started")

	// stderr must be drained before Wait closes the pipe.
	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		logStderr(log, stderr)
	}()
	go func() {
		<-stderrDone
		c.err = cmd.Wait()
		if c.err != nil {
			log.WithError(c.err).Debug("subprocess: child exited")
		}
		close(c.done)
	}()

	return c, nil
}

func logStderr(log *logrus.Entry, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, "[ERROR]"), strings.Contains(line, "[CRITICAL]"):
			log.WithField("log", line).Error("subprocess: child error")
		case strings.Contains(line, "[WARNING]"), strings.Contains(line, "[WARN]"):
			log.WithField("log", line).Warn("subprocess: child warning")
		default:
			log.WithField("log", line).Debug("subprocess: child log")
		}
	}
}

func (p *Processor) kill(c *child) {
	if c == nil {
		return
	}
	p.pid.Store(0)
	_ = c.stdin.Close()
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
}

// Close asks the child to exit by closing its stdin, then kills it after a
// grace period.
func (p *Processor) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	c := p.child
	p.child = nil
	if c == nil {
		return nil
	}

	p.pid.Store(0)
	_ = c.stdin.Close()
	select {
	case <-c.done:
	case <-time.After(stopGrace):
		p.logger.Warn("subprocess: child did not exit, killing")
		p.kill(c)
		<-c.done
	}
	return nil
}

// Stats returns a snapshot of the counters.
func (p *Processor) Stats() Stats {
	return Stats{
		Requests: p.requests.Load(),
		Failures: p.failures.Load(),
		Spawns:   p.spawns.Load(),
		PID:      int(p.pid.Load()),
	}
}
