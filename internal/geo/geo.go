// Package geo provides the optional location hint attached to prospect searches.
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shpitdev/autoprospect/internal/gateway"
	"github.com/shpitdev/autoprospect/internal/version"
	"go.uber.org/zap"
)

// DefaultTimeout bounds a best-effort lookup.
const DefaultTimeout = 3 * time.Second

// ErrUnknown means the locator has no position to offer.
var ErrUnknown = errors.New("geo: location unknown")

// Locator resolves the user's approximate position.
type Locator interface {
	Locate(ctx context.Context) (gateway.Location, error)
}

// None never knows the location.
type None struct{}

func (None) Locate(context.Context) (gateway.Location, error) {
	return gateway.Location{}, ErrUnknown
}

// Static always answers with fixed coordinates.
type Static struct {
	Latitude  float64
	Longitude float64
}

func (s Static) Locate(context.Context) (gateway.Location, error) {
	return gateway.Location{Latitude: s.Latitude, Longitude: s.Longitude}, nil
}

// IPLookup asks an IP geolocation service for the caller's position. Both
// {"latitude","longitude"} and {"lat","lon"} response shapes are accepted.
type IPLookup struct {
	URL    string
	Client *http.Client
}

type lookupResponse struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Lat       *float64 `json:"lat"`
	Lon       *float64 `json:"lon"`
}

func (l IPLookup) Locate(ctx context.Context) (gateway.Location, error) {
	url := strings.TrimSpace(l.URL)
	if url == "" {
		return gateway.Location{}, ErrUnknown
	}
	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return gateway.Location{}, fmt.Errorf("geo: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := client.Do(req)
	if err != nil {
		return gateway.Location{}, fmt.Errorf("geo: lookup: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return gateway.Location{}, fmt.Errorf("geo: lookup status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var body lookupResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil {
		return gateway.Location{}, fmt.Errorf("geo: decode: %w", err)
	}
	lat, lon := body.Latitude, body.Longitude
	if lat == nil || lon == nil {
		lat, lon = body.Lat, body.Lon
	}
	if lat == nil || lon == nil {
		return gateway.Location{}, ErrUnknown
	}
	if *lat < -90 || *lat > 90 || *lon < -180 || *lon > 180 {
		return gateway.Location{}, fmt.Errorf("geo: coordinates out of range (%v, %v)", *lat, *lon)
	}
	return gateway.Location{Latitude: *lat, Longitude: *lon}, nil
}

// BestEffort returns the location, or nil if the locator fails or does not answer
// within timeout. It never returns an error.
func BestEffort(ctx context.Context, loc Locator, timeout time.Duration, logger *zap.Logger) *gateway.Location {
	if loc == nil {
		return nil
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		loc gateway.Location
		err error
	}
	done := make(chan result, 1)
	go func() {
		l, err := loc.Locate(ctx)
		done <- result{loc: l, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if logger != nil && !errors.Is(r.err, ErrUnknown) {
				logger.Debug("location unavailable", zap.Error(r.err))
			}
			return nil
		}
		return &r.loc
	case <-ctx.Done():
		if logger != nil {
			logger.Debug("location lookup timed out", zap.Duration("timeout", timeout))
		}
		return nil
	}
}
