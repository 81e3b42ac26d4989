package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrTimeout means a request received no matching response within
	// the deadline.
	ErrTimeout = errors.New("worker request timed out")
	// ErrExited means the worker process closed its output stream.
	ErrExited = errors.New("worker process exited")
	// ErrUnavailable is terminal: the restart budget is exhausted and
	// the worker will not be respawned.
	ErrUnavailable = errors.New("worker unavailable")
	// ErrClosed means the client was shut down.
	ErrClosed = errors.New("worker client closed")
)

// Transport is one live worker process: a writable input stream, a
// readable output stream, and a way to kill it.
type Transport interface {
	Stdin() io.Writer
	Stdout() io.Reader
	Close() error
}

// SpawnFunc starts a fresh worker process.
type SpawnFunc func() (Transport, error)

// Options configure a Client.
type Options struct {
	Spawn SpawnFunc
	// Timeout bounds each request round-trip.
	Timeout time.Duration
	// MaxRestarts bounds how many times a failed worker is respawned
	// before the client goes terminal.
	MaxRestarts int
	Logger      *slog.Logger
}

// Client drives one long-lived worker process over newline-delimited
// JSON. A single writer owns the input stream; one reader goroutine
// drains the output stream and demultiplexes responses by request id.
// At most one transcribe request is outstanding at a time; concurrent
// callers queue behind it and the queue depth is observable.
type Client struct {
	spawn       SpawnFunc
	timeout     time.Duration
	maxRestarts int
	log         *slog.Logger

	mu        sync.Mutex
	transport Transport
	pending   map[string]chan Response
	restarts  int
	terminal  error
	closed    bool

	writeMu      sync.Mutex
	transcribeMu sync.Mutex
	queued       atomic.Int64
}

func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		spawn:       opts.Spawn,
		timeout:     opts.Timeout,
		maxRestarts: opts.MaxRestarts,
		log:         opts.Logger,
		pending:     make(map[string]chan Response),
	}
}

// QueueDepth reports how many transcribe requests are submitted but
// not yet resolved, including the one in flight.
func (c *Client) QueueDepth() int {
	return int(c.queued.Load())
}

// Terminal reports the terminal error, if the client has one.
func (c *Client) Terminal() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminal
}

// Transcribe submits one chunk and waits for its response. On timeout
// or worker exit the worker is killed and respawned, bounded by the
// restart budget; once the budget is exhausted the client is terminal
// and every subsequent call fails fast with ErrUnavailable.
func (c *Client) Transcribe(ctx context.Context, req Request) (Response, error) {
	req.Op = OpTranscribe

	c.queued.Add(1)
	defer c.queued.Add(-1)

	c.transcribeMu.Lock()
	defer c.transcribeMu.Unlock()

	for {
		resp, err := c.roundTrip(ctx, req)
		if err == nil {
			c.mu.Lock()
			c.restarts = 0
			c.mu.Unlock()
			return resp, nil
		}
		if !errors.Is(err, ErrTimeout) && !errors.Is(err, ErrExited) {
			return Response{}, err
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return Response{}, ErrClosed
		}
		if c.restarts >= c.maxRestarts {
			c.terminal = fmt.Errorf("%w: %v after %d restarts", ErrUnavailable, err, c.restarts)
			terminal := c.terminal
			c.killLocked()
			c.mu.Unlock()
			return Response{}, terminal
		}
		c.restarts++
		restarts := c.restarts
		c.killLocked()
		c.mu.Unlock()

		c.log.Warn("restarting worker process",
			slog.Int("attempt", restarts),
			slog.String("cause", err.Error()))
	}
}

// Preload asks the worker to load a model ahead of first use.
func (c *Client) Preload(ctx context.Context, req Request) (Response, error) {
	req.Op = OpPreload
	return c.roundTrip(ctx, req)
}

// Ping checks worker liveness.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.roundTrip(ctx, Request{Op: OpPing})
	return err
}

// Close kills the worker and fails all pending requests.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.killLocked()
	return nil
}

func (c *Client) roundTrip(ctx context.Context, req Request) (Response, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Response{}, ErrClosed
	}
	if c.terminal != nil {
		terminal := c.terminal
		c.mu.Unlock()
		return Response{}, terminal
	}
	if err := c.ensureWorkerLocked(); err != nil {
		c.mu.Unlock()
		return Response{}, err
	}
	transport := c.transport
	ch := make(chan Response, 1)
	c.pending[req.ID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	payload, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("marshal worker request: %w", err)
	}
	payload = append(payload, '\n')

	c.writeMu.Lock()
	_, err = transport.Stdin().Write(payload)
	c.writeMu.Unlock()
	if err != nil {
		return Response{}, fmt.Errorf("%w: write request: %v", ErrExited, err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return Response{}, ErrExited
		}
		if !resp.OK {
			if resp.Error == "" {
				resp.Error = "unknown worker error"
			}
			return Response{}, errors.New(resp.Error)
		}
		return resp, nil
	case <-timer.C:
		// The id is deregistered on return, so a late response to this
		// request is dropped by the reader.
		return Response{}, ErrTimeout
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// ensureWorkerLocked spawns the worker and its reader when none is
// live. Caller holds c.mu.
func (c *Client) ensureWorkerLocked() error {
	if c.transport != nil {
		return nil
	}
	transport, err := c.spawn()
	if err != nil {
		return fmt.Errorf("spawn worker: %w", err)
	}
	c.transport = transport
	go c.readLoop(transport)
	return nil
}

// readLoop drains one transport's output stream until it closes,
// routing each parsable line to its pending request. Unparsable lines
// are ignored.
func (c *Client) readLoop(transport Transport) {
	scanner := bufio.NewScanner(transport.Stdout())
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp Response
		if err := json.Unmarshal(line, &resp); err != nil {
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}

	c.mu.Lock()
	if c.transport == transport {
		c.killLocked()
	}
	c.mu.Unlock()
}

// killLocked tears down the live transport and fails pending
// requests. Caller holds c.mu.
func (c *Client) killLocked() {
	if c.transport != nil {
		_ = c.transport.Close()
		c.transport = nil
	}
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}
