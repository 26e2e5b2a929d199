// Package dispatcher runs the periodic passes that advance transcription jobs.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/satriahrh/azscribe/domain/entities"
)

var (
	// ErrPassRunning is returned by RunOnce when another pass has not finished yet
	ErrPassRunning = errors.New("dispatcher pass already running")
	// ErrShutdownTimeout is returned by Stop when the in-flight pass outlived the wait
	ErrShutdownTimeout = errors.New("dispatcher did not stop in time")
)

// Handler advances one kind of job record. Select is evaluated for every
// handler at the start of a pass, before any record is handled, so a record
// moves at most one step per pass.
type Handler interface {
	Name() string
	Select(ctx context.Context) ([]*entities.JobRecord, error)
	Handle(ctx context.Context, record *entities.JobRecord) error
}

// Config controls pass scheduling
type Config struct {
	Interval      time.Duration
	RecordTimeout time.Duration
	ShutdownWait  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 120 * time.Second
	}
	if c.RecordTimeout <= 0 {
		c.RecordTimeout = 5 * time.Minute
	}
	if c.ShutdownWait <= 0 {
		c.ShutdownWait = 60 * time.Second
	}
	return c
}

// Stats summarizes one pass
type Stats struct {
	Selected int `json:"selected"`
	Handled  int `json:"handled"`
	Failed   int `json:"failed"`
}

// Dispatcher runs passes with a fixed delay between the end of one pass and
// the start of the next. Passes never overlap.
type Dispatcher struct {
	handlers []Handler
	config   Config
	clock    clock.Clock
	logger   *zap.Logger

	pass sync.Mutex

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	stopCh  chan struct{}
	done    chan struct{}
	timer   *clock.Timer
}

// New creates a dispatcher over the given handlers, run in order
func New(config Config, clk clock.Clock, logger *zap.Logger, handlers ...Handler) *Dispatcher {
	if clk == nil {
		clk = clock.New()
	}
	return &Dispatcher{
		handlers: handlers,
		config:   config.withDefaults(),
		clock:    clk,
		logger:   logger,
	}
}

// Start schedules the first pass one interval from now
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}

	ctx, d.cancel = context.WithCancel(ctx)
	d.stopCh = make(chan struct{})
	d.done = make(chan struct{})
	d.timer = d.clock.Timer(d.config.Interval)
	d.running = true

	go d.loop(ctx, d.timer, d.stopCh, d.done)
	d.logger.Info("Dispatcher started", zap.Duration("interval", d.config.Interval))
}

// Stop prevents further passes and waits for the in-flight pass to finish,
// bounded by ShutdownWait and by ctx, whichever ends first. A pass still
// running after the wait has its context canceled.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	close(d.stopCh)
	d.timer.Stop()
	done, cancel := d.done, d.cancel
	d.mu.Unlock()

	defer cancel()
	select {
	case <-done:
		d.logger.Info("Dispatcher stopped")
		return nil
	case <-d.clock.After(d.config.ShutdownWait):
		d.logger.Warn("Dispatcher pass still running at shutdown", zap.Duration("wait", d.config.ShutdownWait))
		return ErrShutdownTimeout
	case <-ctx.Done():
		d.logger.Warn("Dispatcher pass still running when shutdown deadline passed", zap.Error(ctx.Err()))
		return fmt.Errorf("%w: %v", ErrShutdownTimeout, ctx.Err())
	}
}

func (d *Dispatcher) loop(ctx context.Context, timer *clock.Timer, stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stopCh:
			return
		case <-timer.C:
		}

		if _, err := d.RunOnce(ctx); err != nil && !errors.Is(err, ErrPassRunning) {
			d.logger.Error("Dispatcher pass failed", zap.Error(err))
		}

		select {
		case <-stopCh:
			return
		default:
			timer.Reset(d.config.Interval)
		}
	}
}

// RunOnce runs one pass now. It returns ErrPassRunning without doing
// anything when a pass is already in progress.
func (d *Dispatcher) RunOnce(ctx context.Context) (Stats, error) {
	if !d.pass.TryLock() {
		return Stats{}, ErrPassRunning
	}
	defer d.pass.Unlock()

	started := d.clock.Now()
	var stats Stats

	selected := make([][]*entities.JobRecord, len(d.handlers))
	var selectErrs []error
	for i, h := range d.handlers {
		records, err := h.Select(ctx)
		if err != nil {
			d.logger.Error("Failed to select records", zap.String("handler", h.Name()), zap.Error(err))
			selectErrs = append(selectErrs, fmt.Errorf("%s: %w", h.Name(), err))
			continue
		}
		selected[i] = records
		stats.Selected += len(records)
	}

	for i, h := range d.handlers {
		for _, record := range selected[i] {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			if err := d.handle(ctx, h, record); err != nil {
				stats.Failed++
				d.logger.Error("Failed to handle record",
					zap.String("handler", h.Name()),
					zap.String("transcriptionJobId", record.TranscriptionJobID),
					zap.String("status", string(record.Status)),
					zap.Error(err))
				continue
			}
			stats.Handled++
		}
	}

	d.logger.Debug("Dispatcher pass finished",
		zap.Int("selected", stats.Selected),
		zap.Int("handled", stats.Handled),
		zap.Int("failed", stats.Failed),
		zap.Duration("took", d.clock.Since(started)))

	return stats, errors.Join(selectErrs...)
}

func (d *Dispatcher) handle(ctx context.Context, h Handler, record *entities.JobRecord) (err error) {
	ctx, cancel := context.WithTimeout(ctx, d.config.RecordTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h.Handle(ctx, record)
}
