package sim

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nikita-zerofy/hems-emulator/internal/domain"
	"github.com/nikita-zerofy/hems-emulator/internal/weather"
)

// Store is the device repository surface the engine consumes.
type Store interface {
	ListDwellings() ([]domain.Dwelling, error)
	DevicesForDwelling(dwellingID string) ([]domain.Device, error)
	BatchUpdateState(updates []domain.StateUpdate) error
}

// Publisher fans a cycle's results out to real-time subscribers. Both calls
// are best-effort; failures are logged and never fail the cycle.
type Publisher interface {
	PublishDwellingUpdate(dwellingID string, update DwellingUpdate) error
	PublishSummary(dwellingID string, summary DwellingSummary) error
}

// DwellingUpdate is the full per-dwelling broadcast for detail subscribers.
type DwellingUpdate struct {
	Devices   []domain.Device `json:"devices"`
	Timestamp time.Time       `json:"timestamp"`
	Weather   weather.Sample  `json:"weather"`
}

// DwellingSummary is the lightweight broadcast for dashboard subscribers.
type DwellingSummary struct {
	DeviceCount int            `json:"deviceCount"`
	Timestamp   time.Time      `json:"timestamp"`
	Weather     weather.Sample `json:"weather"`
}

// Config wires a Scheduler. Store, Weather, and Publisher are required;
// the rest default sensibly.
type Config struct {
	Store              Store
	Weather            weather.Provider
	Publisher          Publisher
	Interval           time.Duration
	PhantomLoadW       float64
	WeatherConcurrency int
	Rand               *rand.Rand
	Now                func() time.Time
}

// Scheduler owns the fixed-interval simulation loop. Construct with New and
// inject it from the composition root; Start and Stop are idempotent.
type Scheduler struct {
	store              Store
	weather            weather.Provider
	publisher          Publisher
	interval           time.Duration
	phantomLoadW       float64
	weatherConcurrency int
	rng                *rand.Rand
	now                func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	// inFlight guards against cycle overlap: a tick that lands while the
	// previous cycle is still running is skipped, not queued.
	inFlight atomic.Bool

	// lastLocalDate tracks each dwelling's local calendar date so "today"
	// counters reset on the first cycle of a new day.
	lastLocalDate map[string]string
}

func New(cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.PhantomLoadW <= 0 {
		cfg.PhantomLoadW = 200
	}
	if cfg.WeatherConcurrency <= 0 {
		cfg.WeatherConcurrency = 3
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Scheduler{
		store:              cfg.Store,
		weather:            cfg.Weather,
		publisher:          cfg.Publisher,
		interval:           cfg.Interval,
		phantomLoadW:       cfg.PhantomLoadW,
		weatherConcurrency: cfg.WeatherConcurrency,
		rng:                cfg.Rand,
		now:                cfg.Now,
		lastLocalDate:      make(map[string]string),
	}
}

// Start launches the loop: one cycle immediately, then one per interval.
// Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	go s.loop(ctx)
	log.Info().Dur("interval", s.interval).Msg("simulation scheduler started")
}

// Stop prevents new cycles from starting and waits for the loop to exit.
// An in-flight cycle runs to completion. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	done := s.done
	s.mu.Unlock()

	<-done
	log.Info().Msg("simulation scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	s.tick(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if !s.inFlight.CompareAndSwap(false, true) {
		log.Warn().Msg("previous cycle still running, skipping tick")
		return
	}
	defer s.inFlight.Store(false)
	if err := s.RunCycle(ctx); err != nil {
		log.Error().Err(err).Msg("simulation cycle failed")
	}
}

type dwellingResult struct {
	dwellingID string
	update     DwellingUpdate
}

// RunCycle executes one full simulation pass over all dwellings: batch
// weather fetch, per-dwelling simulate + persist, then publish every
// collected result. A failure inside one dwelling never stops the others.
func (s *Scheduler) RunCycle(ctx context.Context) error {
	start := s.now()

	dwellings, err := s.store.ListDwellings()
	if err != nil {
		return fmt.Errorf("list dwellings: %w", err)
	}

	reqs := make([]weather.Request, 0, len(dwellings))
	for _, dw := range dwellings {
		reqs = append(reqs, weather.Request{DwellingID: dw.ID, Lat: dw.Lat, Lng: dw.Lng})
	}
	samples := weather.FetchMany(ctx, s.weather, reqs, s.weatherConcurrency)

	results := make([]dwellingResult, 0, len(dwellings))
	for _, dw := range dwellings {
		sample, ok := samples[dw.ID]
		if !ok {
			log.Warn().Str("dwelling_id", dw.ID).Msg("no weather sample, skipping dwelling this cycle")
			continue
		}
		res, err := s.simulateDwelling(dw, sample, start)
		if err != nil {
			log.Error().Err(err).Str("dwelling_id", dw.ID).Msg("dwelling simulation failed")
			continue
		}
		results = append(results, *res)
	}

	for _, res := range results {
		if err := s.publisher.PublishDwellingUpdate(res.dwellingID, res.update); err != nil {
			log.Warn().Err(err).Str("dwelling_id", res.dwellingID).Msg("publish update failed")
		}
		summary := DwellingSummary{
			DeviceCount: len(res.update.Devices),
			Timestamp:   res.update.Timestamp,
			Weather:     res.update.Weather,
		}
		if err := s.publisher.PublishSummary(res.dwellingID, summary); err != nil {
			log.Warn().Err(err).Str("dwelling_id", res.dwellingID).Msg("publish summary failed")
		}
	}

	log.Debug().
		Int("dwellings", len(dwellings)).
		Int("published", len(results)).
		Dur("took", s.now().Sub(start)).
		Msg("simulation cycle complete")
	return nil
}

// simulateDwelling runs the read → allocate → update → persist pipeline for
// one dwelling. A panic here is a programming error in some device's update
// path; it is recovered and reported so the cycle continues elsewhere.
func (s *Scheduler) simulateDwelling(dw domain.Dwelling, sample weather.Sample, now time.Time) (res *dwellingResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	devices, err := s.store.DevicesForDwelling(dw.ID)
	if err != nil {
		return nil, fmt.Errorf("load devices: %w", err)
	}
	if len(devices) == 0 {
		return &dwellingResult{dwellingID: dw.ID, update: DwellingUpdate{Timestamp: now, Weather: sample}}, nil
	}

	solarW := totalSolarW(devices, sample)
	loadW := totalLoadW(devices, s.phantomLoadW)
	flows := Allocate(solarW, loadW, firstBattery(devices))

	localDate := s.localDate(dw, now)
	prev, seen := s.lastLocalDate[dw.ID]
	resetDaily := seen && prev != localDate

	updated := UpdateStates(devices, flows, sample, s.interval.Seconds(), resetDaily, s.rng)

	batch := make([]domain.StateUpdate, 0, len(updated))
	for _, d := range updated {
		batch = append(batch, domain.StateUpdate{DeviceID: d.ID, State: d.State})
	}
	if err := s.store.BatchUpdateState(batch); err != nil {
		// Not durably applied, so nothing to publish; next cycle recomputes
		// from whatever state actually persisted.
		return nil, fmt.Errorf("persist states: %w", err)
	}
	s.lastLocalDate[dw.ID] = localDate

	return &dwellingResult{
		dwellingID: dw.ID,
		update:     DwellingUpdate{Devices: updated, Timestamp: now, Weather: sample},
	}, nil
}

func (s *Scheduler) localDate(dw domain.Dwelling, now time.Time) string {
	loc, err := time.LoadLocation(dw.Timezone)
	if err != nil {
		loc = time.UTC
	}
	return now.In(loc).Format("2006-01-02")
}
