package sim

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikita-zerofy/hems-emulator/internal/domain"
	"github.com/nikita-zerofy/hems-emulator/internal/weather"
)

type fakeStore struct {
	mu           sync.Mutex
	dwellings    []domain.Dwelling
	devices      map[string][]domain.Device // keyed by dwelling id
	deviceOwner  map[string]string          // device id → dwelling id
	failBatchFor map[string]bool
	panicFor     map[string]bool
	batchCount   int
}

func newFakeStore(dwellings []domain.Dwelling) *fakeStore {
	return &fakeStore{
		dwellings:    dwellings,
		devices:      make(map[string][]domain.Device),
		deviceOwner:  make(map[string]string),
		failBatchFor: make(map[string]bool),
		panicFor:     make(map[string]bool),
	}
}

func (s *fakeStore) add(dwellingID string, d domain.Device) {
	s.devices[dwellingID] = append(s.devices[dwellingID], d)
	s.deviceOwner[d.ID] = dwellingID
}

func (s *fakeStore) ListDwellings() ([]domain.Dwelling, error) {
	return s.dwellings, nil
}

func (s *fakeStore) DevicesForDwelling(dwellingID string) ([]domain.Device, error) {
	if s.panicFor[dwellingID] {
		panic("store corrupted")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Device, len(s.devices[dwellingID]))
	copy(out, s.devices[dwellingID])
	return out, nil
}

func (s *fakeStore) BatchUpdateState(updates []domain.StateUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batchCount++
	for _, u := range updates {
		dwellingID := s.deviceOwner[u.DeviceID]
		if s.failBatchFor[dwellingID] {
			return errors.New("batch write failed")
		}
	}
	for _, u := range updates {
		list := s.devices[s.deviceOwner[u.DeviceID]]
		for i := range list {
			if list[i].ID == u.DeviceID {
				list[i].State = u.State
			}
		}
	}
	return nil
}

type fakeProvider struct {
	failLats map[float64]bool
	sample   weather.Sample
}

func (p *fakeProvider) Current(_ context.Context, lat, _ float64) (weather.Sample, error) {
	if p.failLats[lat] {
		return weather.Sample{}, errors.New("weather service down")
	}
	return p.sample, nil
}

type fakePublisher struct {
	mu        sync.Mutex
	updates   map[string][]DwellingUpdate
	summaries map[string][]DwellingSummary
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{
		updates:   make(map[string][]DwellingUpdate),
		summaries: make(map[string][]DwellingSummary),
	}
}

func (p *fakePublisher) PublishDwellingUpdate(dwellingID string, update DwellingUpdate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates[dwellingID] = append(p.updates[dwellingID], update)
	return nil
}

func (p *fakePublisher) PublishSummary(dwellingID string, summary DwellingSummary) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.summaries[dwellingID] = append(p.summaries[dwellingID], summary)
	return nil
}

func (p *fakePublisher) updateCount(dwellingID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.updates[dwellingID])
}

func twoDwellingFixture() (*fakeStore, *fakeProvider, *fakePublisher) {
	store := newFakeStore([]domain.Dwelling{
		{ID: "dwA", Timezone: "UTC", Lat: 1, Lng: 1},
		{ID: "dwB", Timezone: "UTC", Lat: 2, Lng: 2},
	})
	provider := &fakeProvider{
		failLats: make(map[float64]bool),
		sample:   weather.Sample{IrradianceWM2: 500, TemperatureC: 18, CloudCoverPct: 20},
	}
	return store, provider, newFakePublisher()
}

func newTestScheduler(t *testing.T, store *fakeStore, provider *fakeProvider, pub *fakePublisher, opts ...func(*Config)) *Scheduler {
	t.Helper()
	cfg := Config{
		Store:     store,
		Weather:   provider,
		Publisher: pub,
		Interval:  time.Hour,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return New(cfg)
}

func meterDevice(t *testing.T, id string) domain.Device {
	return makeDevice(t, id, domain.KindMeter, domain.MeterConfig{}, domain.MeterState{IsOnline: true})
}

func applianceDevice(t *testing.T, id string, powerW float64) domain.Device {
	return makeDevice(t, id, domain.KindAppliance,
		domain.ApplianceConfig{PowerW: powerW},
		domain.ApplianceState{IsOn: true, IsOnline: true})
}

func TestScheduler_RunCyclePublishesEveryDwelling(t *testing.T) {
	store, provider, pub := twoDwellingFixture()
	store.add("dwA", meterDevice(t, "mA"))
	store.add("dwA", applianceDevice(t, "aA", 1000))
	store.add("dwB", meterDevice(t, "mB"))

	s := newTestScheduler(t, store, provider, pub)
	require.NoError(t, s.RunCycle(context.Background()))

	assert.Equal(t, 1, pub.updateCount("dwA"))
	assert.Equal(t, 1, pub.updateCount("dwB"))
	require.Len(t, pub.summaries["dwA"], 1)
	assert.Equal(t, 2, pub.summaries["dwA"][0].DeviceCount)
	assert.Equal(t, 2, store.batchCount)
}

func TestScheduler_WeatherFailureSkipsOnlyThatDwelling(t *testing.T) {
	store, provider, pub := twoDwellingFixture()
	store.add("dwA", meterDevice(t, "mA"))
	store.add("dwB", meterDevice(t, "mB"))
	provider.failLats[2] = true // dwB's location

	s := newTestScheduler(t, store, provider, pub)
	require.NoError(t, s.RunCycle(context.Background()))

	assert.Equal(t, 1, pub.updateCount("dwA"))
	assert.Equal(t, 0, pub.updateCount("dwB"))
	assert.Equal(t, 1, store.batchCount, "skipped dwelling must not be persisted")
}

func TestScheduler_BatchFailureSuppressesPublish(t *testing.T) {
	store, provider, pub := twoDwellingFixture()
	store.add("dwA", meterDevice(t, "mA"))
	store.add("dwB", meterDevice(t, "mB"))
	store.failBatchFor["dwA"] = true

	s := newTestScheduler(t, store, provider, pub)
	require.NoError(t, s.RunCycle(context.Background()))

	assert.Equal(t, 0, pub.updateCount("dwA"))
	assert.Equal(t, 1, pub.updateCount("dwB"))
}

func TestScheduler_PanicInOneDwellingDoesNotStopOthers(t *testing.T) {
	store, provider, pub := twoDwellingFixture()
	store.add("dwA", meterDevice(t, "mA"))
	store.add("dwB", meterDevice(t, "mB"))
	store.panicFor["dwA"] = true

	s := newTestScheduler(t, store, provider, pub)
	require.NoError(t, s.RunCycle(context.Background()))

	assert.Equal(t, 0, pub.updateCount("dwA"))
	assert.Equal(t, 1, pub.updateCount("dwB"))
}

func TestScheduler_PersistedStateFeedsNextCycle(t *testing.T) {
	store, provider, pub := twoDwellingFixture()
	store.add("dwA", meterDevice(t, "mA"))
	store.add("dwA", applianceDevice(t, "aA", 800))

	s := newTestScheduler(t, store, provider, pub)
	ctx := context.Background()
	require.NoError(t, s.RunCycle(ctx))
	require.NoError(t, s.RunCycle(ctx))

	// Load = 800 W appliance + 200 W phantom, one hour per cycle → 1 kWh each.
	devices, err := store.DevicesForDwelling("dwA")
	require.NoError(t, err)
	st := decodeState[domain.MeterState](t, devices[0])
	assert.InDelta(t, 2.0, st.ImportTodayKWh, 0.001)
	assert.InDelta(t, 2.0, st.LifetimeImportKWh, 0.001)
}

func TestScheduler_TodayCountersResetOnLocalDateChange(t *testing.T) {
	store, provider, pub := twoDwellingFixture()
	store.add("dwA", meterDevice(t, "mA"))
	store.add("dwA", applianceDevice(t, "aA", 800))

	current := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	s := newTestScheduler(t, store, provider, pub, func(cfg *Config) {
		cfg.Now = func() time.Time { return current }
	})

	ctx := context.Background()
	require.NoError(t, s.RunCycle(ctx))
	current = current.Add(time.Hour)
	require.NoError(t, s.RunCycle(ctx))
	current = current.Add(24 * time.Hour) // next local day
	require.NoError(t, s.RunCycle(ctx))

	devices, err := store.DevicesForDwelling("dwA")
	require.NoError(t, err)
	st := decodeState[domain.MeterState](t, devices[0])
	assert.InDelta(t, 1.0, st.ImportTodayKWh, 0.001, "today counter restarts on the new day")
	assert.InDelta(t, 3.0, st.LifetimeImportKWh, 0.001, "lifetime counter never resets")
}

func TestScheduler_StartStopIdempotent(t *testing.T) {
	store, provider, pub := twoDwellingFixture()
	store.add("dwA", meterDevice(t, "mA"))

	s := newTestScheduler(t, store, provider, pub, func(cfg *Config) {
		cfg.Interval = 10 * time.Millisecond
	})

	s.Start()
	s.Start() // no-op
	time.Sleep(50 * time.Millisecond)
	s.Stop()
	s.Stop() // no-op

	assert.GreaterOrEqual(t, pub.updateCount("dwA"), 1)
	after := pub.updateCount("dwA")
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, pub.updateCount("dwA"), "no cycles after Stop")
}

func TestScheduler_EmptyDwellingStillPublishes(t *testing.T) {
	store, provider, pub := twoDwellingFixture()

	s := newTestScheduler(t, store, provider, pub)
	require.NoError(t, s.RunCycle(context.Background()))

	require.Len(t, pub.summaries["dwA"], 1)
	assert.Equal(t, 0, pub.summaries["dwA"][0].DeviceCount)
}
