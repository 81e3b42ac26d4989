package insertion

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var errNoAdapter = errors.New("no insertion adapter configured")

// Status classifies one insertion attempt.
type Status string

const (
	StatusSuccess  Status = "success"
	StatusFallback Status = "fallback"
	StatusFailure  Status = "failure"
)

// Record is one attempted insertion, kept in the bounded history.
type Record struct {
	Text      string    `json:"text"`
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Inserter attempts to place text into the focused application. OS
// adapters satisfy this contract; the controller does not implement
// any injection itself.
type Inserter interface {
	Insert(ctx context.Context, text string) error
}

// InserterFunc adapts a function to the Inserter interface.
type InserterFunc func(ctx context.Context, text string) error

func (f InserterFunc) Insert(ctx context.Context, text string) error { return f(ctx, text) }

// External represents insertion delegated to the shell, which reacts
// to the transcript bus event and performs the OS injection itself.
func External() Inserter {
	return InserterFunc(func(context.Context, string) error { return nil })
}

// Controller runs the direct adapter first and the clipboard-paste
// adapter second when fallback is enabled, recording every attempt in
// a most-recent-first history that never exceeds its capacity.
type Controller struct {
	direct          Inserter
	fallback        Inserter
	fallbackEnabled bool
	historySize     int
	log             *slog.Logger

	mu                 sync.Mutex
	history            []Record
	lastFallbackReason string
}

// DefaultHistorySize bounds the shell's recent-insertions display.
const DefaultHistorySize = 3

func NewController(direct, fallback Inserter, fallbackEnabled bool, historySize int, log *slog.Logger) *Controller {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &Controller{
		direct:          direct,
		fallback:        fallback,
		fallbackEnabled: fallbackEnabled,
		historySize:     historySize,
		log:             log,
	}
}

// Insert attempts both adapters in order and returns the record. The
// record is appended to the history regardless of outcome.
func (c *Controller) Insert(ctx context.Context, text string) Record {
	record := Record{Text: text, Status: StatusFailure, Timestamp: time.Now()}

	directErr := c.attempt(ctx, c.direct, text)
	if directErr == nil {
		record.Status = StatusSuccess
	} else if c.fallbackEnabled {
		if fallbackErr := c.attempt(ctx, c.fallback, text); fallbackErr == nil {
			record.Status = StatusFallback
			c.setFallbackReason(directErr.Error())
		} else {
			c.log.Warn("insertion failed on both adapters",
				slog.String("direct_error", directErr.Error()),
				slog.String("fallback_error", fallbackErr.Error()))
			c.setFallbackReason(directErr.Error())
		}
	} else {
		c.log.Warn("direct insertion failed, fallback disabled",
			slog.String("error", directErr.Error()))
	}

	c.mu.Lock()
	c.history = append([]Record{record}, c.history...)
	if len(c.history) > c.historySize {
		c.history = c.history[:c.historySize]
	}
	c.mu.Unlock()

	return record
}

func (c *Controller) attempt(ctx context.Context, inserter Inserter, text string) error {
	if inserter == nil {
		return errNoAdapter
	}
	return inserter.Insert(ctx, text)
}

// History returns the bounded record list, most recent first.
func (c *Controller) History() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Record, len(c.history))
	copy(out, c.history)
	return out
}

// LastFallbackReason reports why the direct adapter last failed, for
// the diagnostics surface.
func (c *Controller) LastFallbackReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastFallbackReason
}

func (c *Controller) setFallbackReason(reason string) {
	c.mu.Lock()
	c.lastFallbackReason = reason
	c.mu.Unlock()
}
