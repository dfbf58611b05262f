// Package monitor polls an instrument on a fixed interval and keeps the
// latest reading for the API server.
package monitor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/govxi11/internal/logger"
	"github.com/marmos91/govxi11/pkg/instrument"
)

// Mode selects what each poll does.
type Mode string

const (
	// ModeQuery writes Command and reads the response.
	ModeQuery Mode = "query"
	// ModeSTB reads the status byte only.
	ModeSTB Mode = "stb"
)

// DefaultMaxBytes caps query responses when Config.MaxBytes is unset.
const DefaultMaxBytes = 4096

// Instrument is the part of *instrument.Session the poller uses.
type Instrument interface {
	Query(ctx context.Context, cmd []byte, maxBytes int) ([]byte, instrument.Status)
	ReadSTB(ctx context.Context) (byte, instrument.Status)
}

// Config controls the poll loop.
type Config struct {
	Interval time.Duration
	Mode     Mode
	Command  string
	MaxBytes int
}

func (c *Config) validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("monitor interval must be positive, got %v", c.Interval)
	}
	switch c.Mode {
	case ModeQuery:
		if c.Command == "" {
			return fmt.Errorf("monitor command is required in query mode")
		}
	case ModeSTB:
	default:
		return fmt.Errorf("unknown monitor mode %q", c.Mode)
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = DefaultMaxBytes
	}
	return nil
}

// Reading is the outcome of one poll.
type Reading struct {
	Time    time.Time `json:"time" yaml:"time"`
	Mode    Mode      `json:"mode" yaml:"mode"`
	Command string    `json:"command,omitempty" yaml:"command,omitempty"`

	// Response holds the query reply with trailing CR/LF removed.
	Response string `json:"response,omitempty" yaml:"response,omitempty"`

	// STB is set in stb mode when the read succeeded.
	STB *uint8 `json:"stb,omitempty" yaml:"stb,omitempty"`

	Status     instrument.Status `json:"status" yaml:"status"`
	Duration   time.Duration     `json:"-" yaml:"-"`
	DurationMs float64           `json:"duration_ms" yaml:"duration_ms"`
}

// OK reports whether the poll completed without an error status.
func (r Reading) OK() bool {
	return !r.Status.IsError()
}

// Stats counts polls since the poller was created.
type Stats struct {
	Polls       uint64    `json:"polls" yaml:"polls"`
	Failures    uint64    `json:"failures" yaml:"failures"`
	LastError   string    `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	LastErrorAt time.Time `json:"last_error_at,omitempty" yaml:"last_error_at,omitempty"`
}

// Poller runs Config against an Instrument until its context ends.
type Poller struct {
	inst Instrument
	now  func() time.Time

	// reset wakes Start after the interval changes
	reset chan struct{}

	mu     sync.RWMutex
	cfg    Config
	latest *Reading
	stats  Stats
}

// New validates cfg and returns a stopped poller.
func New(inst Instrument, cfg Config) (*Poller, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Poller{
		inst:  inst,
		now:   time.Now,
		reset: make(chan struct{}, 1),
		cfg:   cfg,
	}, nil
}

// Start polls once immediately and then on every interval tick. It blocks
// until ctx is cancelled and returns nil.
func (p *Poller) Start(ctx context.Context) error {
	cfg := p.Config()
	logger.Info("Starting monitor", "mode", string(cfg.Mode), "interval", cfg.Interval.String(), "command", cfg.Command)

	p.Poll(ctx)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Monitor stopped", "polls", p.Stats().Polls)
			return nil
		case <-p.reset:
			ticker.Reset(p.Config().Interval)
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll runs one poll, records it as the latest reading and returns it.
func (p *Poller) Poll(ctx context.Context) Reading {
	cfg := p.Config()
	start := p.now()

	r := Reading{Time: start, Mode: cfg.Mode}
	switch cfg.Mode {
	case ModeSTB:
		stb, status := p.inst.ReadSTB(ctx)
		r.Status = status
		if !status.IsError() {
			r.STB = &stb
		}
	default:
		r.Command = cfg.Command
		data, status := p.inst.Query(ctx, []byte(cfg.Command), cfg.MaxBytes)
		r.Status = status
		r.Response = strings.TrimRight(string(data), "\r\n")
	}
	r.Duration = p.now().Sub(start)
	r.DurationMs = float64(r.Duration.Microseconds()) / 1000

	p.record(r)
	return r
}

func (p *Poller) record(r Reading) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.latest = &r
	p.stats.Polls++
	if r.OK() {
		logger.Debug("Monitor poll", logger.Status(r.Status.String()), logger.DurationMs(r.DurationMs))
		return
	}
	p.stats.Failures++
	p.stats.LastError = r.Status.String()
	p.stats.LastErrorAt = r.Time
	logger.Warn("Monitor poll failed", logger.Status(r.Status.String()), "command", r.Command)
}

// Latest returns the most recent reading, or false before the first poll.
func (p *Poller) Latest() (Reading, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.latest == nil {
		return Reading{}, false
	}
	return *p.latest, true
}

func (p *Poller) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stats
}

func (p *Poller) Config() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// Update replaces the poll settings. A running Start picks up the new
// interval without waiting for the current tick.
func (p *Poller) Update(cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}

	p.mu.Lock()
	changed := p.cfg.Interval != cfg.Interval
	p.cfg = cfg
	p.mu.Unlock()

	if changed {
		select {
		case p.reset <- struct{}{}:
		default:
		}
	}
	return nil
}

// SetInterval changes only the poll interval.
func (p *Poller) SetInterval(d time.Duration) error {
	cfg := p.Config()
	cfg.Interval = d
	return p.Update(cfg)
}
