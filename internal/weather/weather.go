// Package weather supplies the irradiance/temperature/cloud-cover inputs the
// simulation engine needs, with a deterministic fallback so a flaky upstream
// never stalls a cycle.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Sample is one current-conditions observation. Transient, never persisted.
type Sample struct {
	IrradianceWM2 float64   `json:"irradianceWm2"`
	TemperatureC  float64   `json:"temperatureC"`
	CloudCoverPct float64   `json:"cloudCoverPct"`
	Timestamp     time.Time `json:"timestamp"`
}

// Provider returns current conditions for a location.
type Provider interface {
	Current(ctx context.Context, lat, lng float64) (Sample, error)
}

// OpenMeteo fetches current conditions from the Open-Meteo forecast API.
// Fetch or decode failures are swallowed and replaced with the time-of-day
// fallback estimate; only context cancellation surfaces as an error.
type OpenMeteo struct {
	baseURL string
	client  *http.Client
	now     func() time.Time
}

func NewOpenMeteo(baseURL string, timeout time.Duration) *OpenMeteo {
	return &OpenMeteo{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		now:     time.Now,
	}
}

type openMeteoResponse struct {
	Current struct {
		Temperature2M      float64 `json:"temperature_2m"`
		CloudCover         float64 `json:"cloud_cover"`
		ShortwaveRadiation float64 `json:"shortwave_radiation"`
	} `json:"current"`
}

func (o *OpenMeteo) Current(ctx context.Context, lat, lng float64) (Sample, error) {
	s, err := o.fetch(ctx, lat, lng)
	if err != nil {
		if ctx.Err() != nil {
			return Sample{}, ctx.Err()
		}
		log.Warn().Err(err).Float64("lat", lat).Float64("lng", lng).Msg("weather fetch failed, using fallback")
		return Fallback(o.now()), nil
	}
	return s, nil
}

func (o *OpenMeteo) fetch(ctx context.Context, lat, lng float64) (Sample, error) {
	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%.4f", lat))
	q.Set("longitude", fmt.Sprintf("%.4f", lng))
	q.Set("current", "temperature_2m,cloud_cover,shortwave_radiation")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return Sample{}, err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return Sample{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Sample{}, fmt.Errorf("weather api status %d", resp.StatusCode)
	}
	var body openMeteoResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Sample{}, fmt.Errorf("decode weather response: %w", err)
	}
	return Sample{
		IrradianceWM2: math.Max(0, body.Current.ShortwaveRadiation),
		TemperatureC:  body.Current.Temperature2M,
		CloudCoverPct: clampPct(body.Current.CloudCover),
		Timestamp:     o.now(),
	}, nil
}

// Fallback estimates conditions from the time of day alone: a sine arc of
// irradiance and temperature across a 06:00-18:00 solar window, fixed 30%
// cloud cover. Deterministic for a given clock reading.
func Fallback(now time.Time) Sample {
	h := float64(now.Hour()) + float64(now.Minute())/60

	var irradiance float64
	if h >= 6 && h <= 18 {
		irradiance = 800 * math.Sin(math.Pi*(h-6)/12)
	}
	temperature := 12 + 8*math.Sin(math.Pi*(h-8)/14)

	return Sample{
		IrradianceWM2: irradiance,
		TemperatureC:  temperature,
		CloudCoverPct: 30,
		Timestamp:     now,
	}
}

// Request names one dwelling's location for a batch fetch.
type Request struct {
	DwellingID string
	Lat        float64
	Lng        float64
}

// FetchMany resolves current conditions for many dwellings with at most
// `concurrency` in-flight fetches. Dwellings whose fetch errors are absent
// from the result map; the caller skips them for the cycle.
func FetchMany(ctx context.Context, p Provider, reqs []Request, concurrency int) map[string]Sample {
	if concurrency < 1 {
		concurrency = 1
	}
	var mu sync.Mutex
	out := make(map[string]Sample, len(reqs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, req := range reqs {
		g.Go(func() error {
			s, err := p.Current(ctx, req.Lat, req.Lng)
			if err != nil {
				log.Warn().Err(err).Str("dwelling_id", req.DwellingID).Msg("weather unavailable for dwelling")
				return nil
			}
			mu.Lock()
			out[req.DwellingID] = s
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func clampPct(v float64) float64 {
	return math.Min(100, math.Max(0, v))
}
