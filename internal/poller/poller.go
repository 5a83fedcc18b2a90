package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/afroash/envmon/internal/metrics"
	"github.com/afroash/envmon/internal/models"
)

// State is the lifecycle state of a Poller
type State int32

const (
	StateConnecting State = iota
	StateReady
	StatePolling
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StatePolling:
		return "polling"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Acquirer produces one reading per call
type Acquirer interface {
	Acquire(ctx context.Context) (models.Reading, error)
}

// Store is the part of the store adapter a poller writes through
type Store interface {
	EnsureSchema(ctx context.Context, source models.Source) error
	Insert(ctx context.Context, reading models.Reading) bool
	Close() error
}

// ConnectFunc opens a fresh store connection. It must return a nil Store
// whenever err is non-nil.
type ConnectFunc func(ctx context.Context) (Store, error)

// Config holds configuration for one poller
type Config struct {
	Source         models.Source
	Acquirer       Acquirer
	Connect        ConnectFunc
	Interval       time.Duration // time between acquisitions
	Backoff        time.Duration // fixed wait between failed connect attempts
	AcquireTimeout time.Duration // bound on a single acquisition
	StoreTimeout   time.Duration // bound on schema setup and each insert
}

// Stats contains statistics about a poller
type Stats struct {
	RunID           string    `json:"run_id"`
	State           string    `json:"state"`
	Ticks           int64     `json:"ticks"`
	Stored          int64     `json:"stored"`
	Skipped         int64     `json:"skipped"`
	InsertFailures  int64     `json:"insert_failures"`
	Reconnects      int64     `json:"reconnects"`
	ConnectFailures int64     `json:"connect_failures"`
	LastSuccess     time.Time `json:"last_success,omitempty"`
}

// errStoreLost ends a polling session after a failed insert
var errStoreLost = errors.New("store connection lost")

// Poller drives one source into its table: connect, ensure schema, then one
// acquisition and insert per tick. It owns its connection exclusively.
type Poller struct {
	cfg    Config
	logger zerolog.Logger
	runID  string

	mu    sync.RWMutex
	state State
	stats Stats
}

// New creates a poller. It does not connect until Run.
func New(cfg Config, logger zerolog.Logger) (*Poller, error) {
	if cfg.Source.Table() == "" {
		return nil, fmt.Errorf("unknown source %q", cfg.Source)
	}
	if cfg.Acquirer == nil || cfg.Connect == nil {
		return nil, fmt.Errorf("poller %s: acquirer and connect are required", cfg.Source)
	}
	if cfg.Interval <= 0 || cfg.Backoff <= 0 || cfg.AcquireTimeout <= 0 || cfg.StoreTimeout <= 0 {
		return nil, fmt.Errorf("poller %s: interval, backoff and timeouts must be positive", cfg.Source)
	}

	runID := uuid.NewString()
	return &Poller{
		cfg:   cfg,
		runID: runID,
		logger: logger.With().
			Str("component", "poller").
			Str("source", string(cfg.Source)).
			Str("run_id", runID).
			Logger(),
		state: StateConnecting,
		stats: Stats{RunID: runID},
	}, nil
}

// Run blocks until ctx is cancelled. Connection and acquisition failures are
// handled internally; cancellation is the only way out and returns nil.
func (p *Poller) Run(ctx context.Context) error {
	var store Store
	defer func() {
		if store != nil {
			store.Close()
		}
		p.setState(StateStopped)
		p.logger.Info().Msg("Poller stopped")
	}()

	p.logger.Info().
		Dur("interval", p.cfg.Interval).
		Dur("backoff", p.cfg.Backoff).
		Msg("Poller started")

	// first tick is immediate; later ticks keep their schedule across reconnects
	next := time.Now()

	for {
		p.setState(StateConnecting)
		var err error
		store, err = p.connect(ctx)
		if err != nil {
			return nil
		}

		p.setState(StateReady)
		p.logger.Info().Msg("Store ready")
		p.setState(StatePolling)

		err = p.poll(ctx, store, &next)
		store.Close()
		store = nil

		if !errors.Is(err, errStoreLost) {
			return nil
		}

		p.mu.Lock()
		p.stats.Reconnects++
		p.mu.Unlock()
		metrics.PollerReconnectsTotal.WithLabelValues(string(p.cfg.Source)).Inc()
		p.logger.Warn().Msg("Store connection lost, reconnecting")
	}
}

// connect retries until a connection with a valid schema is obtained or ctx ends
func (p *Poller) connect(ctx context.Context) (Store, error) {
	for {
		store, err := p.cfg.Connect(ctx)
		if err == nil {
			sctx, cancel := context.WithTimeout(ctx, p.cfg.StoreTimeout)
			err = store.EnsureSchema(sctx, p.cfg.Source)
			cancel()
			if err == nil {
				return store, nil
			}
			store.Close()
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		p.mu.Lock()
		p.stats.ConnectFailures++
		p.mu.Unlock()
		metrics.PollerConnectFailuresTotal.WithLabelValues(string(p.cfg.Source)).Inc()
		p.logger.Error().Err(err).Dur("retry_in", p.cfg.Backoff).Msg("Failed to connect to store")

		timer := time.NewTimer(p.cfg.Backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// poll runs ticks on store until ctx ends or an insert fails
func (p *Poller) poll(ctx context.Context, store Store, next *time.Time) error {
	for {
		timer := time.NewTimer(max(time.Until(*next), 0))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		now := time.Now()
		*next = next.Add(p.cfg.Interval)
		if next.Before(now) {
			// missed ticks are not made up
			*next = now.Add(p.cfg.Interval)
		}

		if !p.tick(ctx, store) {
			return errStoreLost
		}
	}
}

// tick performs one acquisition and insert. It returns false only when the
// insert failed and the connection must be replaced.
func (p *Poller) tick(ctx context.Context, store Store) bool {
	source := string(p.cfg.Source)

	p.mu.Lock()
	p.stats.Ticks++
	p.mu.Unlock()

	actx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	reading, err := p.cfg.Acquirer.Acquire(actx)
	cancel()
	if err != nil {
		p.mu.Lock()
		p.stats.Skipped++
		p.mu.Unlock()
		metrics.PollerTicksTotal.WithLabelValues(source, "acquire_failed").Inc()
		if ctx.Err() == nil {
			p.logger.Warn().Err(err).Msg("Acquisition failed, skipping tick")
		}
		return true
	}

	// an insert already started is allowed to finish during shutdown
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.StoreTimeout)
	ok := store.Insert(sctx, reading)
	cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	if !ok {
		p.stats.InsertFailures++
		metrics.PollerTicksTotal.WithLabelValues(source, "insert_failed").Inc()
		p.logger.Error().Time("reading_at", reading.At()).Msg("Insert failed, dropping reading")
		return false
	}

	p.stats.Stored++
	p.stats.LastSuccess = time.Now()
	metrics.PollerTicksTotal.WithLabelValues(source, "stored").Inc()
	p.logger.Debug().Time("reading_at", reading.At()).Msg("Reading stored")
	return true
}

func (p *Poller) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
	metrics.PollerState.WithLabelValues(string(p.cfg.Source)).Set(float64(s))
}

// State returns the current lifecycle state
func (p *Poller) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Stats returns current poller statistics
func (p *Poller) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := p.stats
	stats.State = p.state.String()
	return stats
}

// Source returns the source this poller writes
func (p *Poller) Source() models.Source {
	return p.cfg.Source
}
