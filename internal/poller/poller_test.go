package poller

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afroash/envmon/internal/models"
)

// counterAcquirer returns readings whose temperature counts up from 1
type counterAcquirer struct {
	mu    sync.Mutex
	n     int
	fail  map[int]bool // acquisition numbers that fail
	times []time.Time
}

func (a *counterAcquirer) Acquire(ctx context.Context) (models.Reading, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.n++
	a.times = append(a.times, time.Now())
	if a.fail[a.n] {
		return nil, fmt.Errorf("%w: simulated", models.ErrSourceAcquisition)
	}
	return models.SensorReading{
		Timestamp:   time.Now().UTC(),
		Temperature: float64(a.n),
		Humidity:    40,
		Pressure:    1000,
	}, nil
}

func (a *counterAcquirer) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.n
}

func (a *counterAcquirer) acquiredAt() []time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]time.Time(nil), a.times...)
}

// fakeDB is shared by every fakeStore connection, like a real database
type fakeDB struct {
	mu          sync.Mutex
	rows        []float64
	connects    int
	closes      int
	failConnect int          // first N connects fail
	failSchema  map[int]bool // connect numbers whose EnsureSchema fails
	failInsert  map[int]bool // global insert attempt numbers that fail
	inserts     int
}

func (db *fakeDB) connect(ctx context.Context) (Store, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.connects++
	if db.connects <= db.failConnect {
		return nil, fmt.Errorf("%w: refused", models.ErrStoreConnection)
	}
	return &fakeStore{db: db, id: db.connects}, nil
}

func (db *fakeDB) snapshot() (rows []float64, connects, closes int) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]float64(nil), db.rows...), db.connects, db.closes
}

type fakeStore struct {
	db     *fakeDB
	id     int
	closed bool
}

func (s *fakeStore) EnsureSchema(ctx context.Context, source models.Source) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if s.db.failSchema[s.id] {
		return fmt.Errorf("%w: simulated", models.ErrSchema)
	}
	return nil
}

func (s *fakeStore) Insert(ctx context.Context, r models.Reading) bool {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.inserts++
	if s.closed || s.db.failInsert[s.db.inserts] {
		return false
	}
	v, _ := r.Value(models.FieldTemperature)
	s.db.rows = append(s.db.rows, v)
	return true
}

func (s *fakeStore) Close() error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.db.closes++
	}
	return nil
}

func testConfig(acq Acquirer, db *fakeDB) Config {
	return Config{
		Source:         models.SourceSensor,
		Acquirer:       acq,
		Connect:        db.connect,
		Interval:       20 * time.Millisecond,
		Backoff:        5 * time.Millisecond,
		AcquireTimeout: 50 * time.Millisecond,
		StoreTimeout:   50 * time.Millisecond,
	}
}

// runFor runs the poller until cond holds or the deadline passes, then stops it
func runFor(t *testing.T, p *Poller, cond func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNew_Validation(t *testing.T) {
	db := &fakeDB{}
	acq := &counterAcquirer{}

	_, err := New(testConfig(acq, db), zerolog.Nop())
	require.NoError(t, err)

	bad := testConfig(acq, db)
	bad.Source = "radar"
	_, err = New(bad, zerolog.Nop())
	assert.Error(t, err)

	bad = testConfig(acq, db)
	bad.Interval = 0
	_, err = New(bad, zerolog.Nop())
	assert.Error(t, err)

	bad = testConfig(nil, db)
	_, err = New(bad, zerolog.Nop())
	assert.Error(t, err)
}

func TestPoller_StoresEveryTick(t *testing.T) {
	db := &fakeDB{}
	acq := &counterAcquirer{}
	p, err := New(testConfig(acq, db), zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, StateConnecting, p.State())

	runFor(t, p, func() bool {
		rows, _, _ := db.snapshot()
		return len(rows) >= 3
	})

	rows, connects, closes := db.snapshot()
	assert.Equal(t, []float64{1, 2, 3}, rows[:3])
	assert.Equal(t, 1, connects)
	assert.Equal(t, 1, closes, "connection released on stop")
	assert.Equal(t, StateStopped, p.State())

	stats := p.Stats()
	assert.Equal(t, "stopped", stats.State)
	assert.GreaterOrEqual(t, stats.Stored, int64(3))
	assert.NotEmpty(t, stats.RunID)
	assert.False(t, stats.LastSuccess.IsZero())
}

func TestPoller_AcquisitionFailureSkipsTick(t *testing.T) {
	db := &fakeDB{}
	acq := &counterAcquirer{fail: map[int]bool{2: true}}
	p, err := New(testConfig(acq, db), zerolog.Nop())
	require.NoError(t, err)

	runFor(t, p, func() bool {
		rows, _, _ := db.snapshot()
		return len(rows) >= 3
	})

	rows, connects, _ := db.snapshot()
	assert.Equal(t, []float64{1, 3, 4}, rows[:3])
	assert.Equal(t, 1, connects, "acquisition failures keep the connection")
	assert.GreaterOrEqual(t, p.Stats().Skipped, int64(1))
}

func TestPoller_InsertFailureReconnectsOnce(t *testing.T) {
	db := &fakeDB{failInsert: map[int]bool{2: true}}
	acq := &counterAcquirer{}
	p, err := New(testConfig(acq, db), zerolog.Nop())
	require.NoError(t, err)

	runFor(t, p, func() bool {
		rows, _, _ := db.snapshot()
		return len(rows) >= 4
	})

	rows, connects, _ := db.snapshot()
	// reading 2 was dropped, never re-inserted
	assert.Equal(t, []float64{1, 3, 4, 5}, rows[:4])
	assert.NotContains(t, rows, 2.0)
	assert.Equal(t, 2, connects)

	stats := p.Stats()
	assert.Equal(t, int64(1), stats.Reconnects)
	assert.Equal(t, int64(1), stats.InsertFailures)
}

func TestPoller_ReconnectDoesNotAddAcquisition(t *testing.T) {
	db := &fakeDB{failInsert: map[int]bool{1: true}}
	acq := &counterAcquirer{}
	cfg := testConfig(acq, db)
	cfg.Interval = 60 * time.Millisecond
	p, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)

	runFor(t, p, func() bool { return acq.count() >= 3 })

	times := acq.acquiredAt()
	for i := 1; i < len(times); i++ {
		gap := times[i].Sub(times[i-1])
		assert.GreaterOrEqual(t, gap, 40*time.Millisecond, "acquisition %d came %v after the previous one", i+1, gap)
	}
}

func TestPoller_ConnectRetriesWithBackoff(t *testing.T) {
	db := &fakeDB{failConnect: 3}
	acq := &counterAcquirer{}
	p, err := New(testConfig(acq, db), zerolog.Nop())
	require.NoError(t, err)

	runFor(t, p, func() bool {
		rows, _, _ := db.snapshot()
		return len(rows) >= 1
	})

	_, connects, _ := db.snapshot()
	assert.Equal(t, 4, connects)
	assert.Equal(t, int64(3), p.Stats().ConnectFailures)
}

func TestPoller_SchemaFailureClosesAndRetries(t *testing.T) {
	db := &fakeDB{failSchema: map[int]bool{1: true}}
	acq := &counterAcquirer{}
	p, err := New(testConfig(acq, db), zerolog.Nop())
	require.NoError(t, err)

	runFor(t, p, func() bool {
		rows, _, _ := db.snapshot()
		return len(rows) >= 1
	})

	_, connects, closes := db.snapshot()
	assert.Equal(t, 2, connects)
	assert.Equal(t, 2, closes, "failed connection closed, good one closed on stop")
}

func TestPoller_CancelWhileConnecting(t *testing.T) {
	db := &fakeDB{failConnect: 1 << 30}
	acq := &counterAcquirer{}
	p, err := New(testConfig(acq, db), zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err = p.Run(ctx)
	assert.NoError(t, err)
	assert.Equal(t, StateStopped, p.State())
	assert.Equal(t, 0, acq.count(), "no acquisition without a store")
}

func TestPoller_InsertSurvivesShutdown(t *testing.T) {
	db := &fakeDB{}
	store := &slowStore{fakeStore: fakeStore{db: db, id: 1}, delay: 30 * time.Millisecond, started: make(chan struct{}, 1)}
	acq := &counterAcquirer{}

	cfg := testConfig(acq, db)
	cfg.Connect = func(ctx context.Context) (Store, error) { return store, nil }
	p, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	<-store.started
	cancel()
	<-done

	rows, _, _ := db.snapshot()
	assert.Equal(t, []float64{1}, rows, "in-flight insert completes")
	assert.NoError(t, store.ctxErr, "insert context is not cancelled by shutdown")
}

type slowStore struct {
	fakeStore
	delay   time.Duration
	started chan struct{}
	ctxErr  error
}

func (s *slowStore) Insert(ctx context.Context, r models.Reading) bool {
	select {
	case s.started <- struct{}{}:
	default:
	}
	time.Sleep(s.delay)
	s.ctxErr = ctx.Err()
	return s.fakeStore.Insert(ctx, r)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "polling", StatePolling.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "state(9)", State(9).String())
}
