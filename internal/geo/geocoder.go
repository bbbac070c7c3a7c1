package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

var ErrAddressNotFound = errors.New("address not found")

// HTTPGeocoder queries a Nominatim-compatible search endpoint.
type HTTPGeocoder struct {
	baseURL    string
	userAgent  string
	client     *http.Client
	maxElapsed time.Duration
	log        logrus.FieldLogger
}

type HTTPGeocoderOption func(*HTTPGeocoder)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPGeocoderOption {
	return func(g *HTTPGeocoder) {
		if c != nil {
			g.client = c
		}
	}
}

// WithMaxElapsed bounds the total time spent retrying one address.
func WithMaxElapsed(d time.Duration) HTTPGeocoderOption {
	return func(g *HTTPGeocoder) {
		if d > 0 {
			g.maxElapsed = d
		}
	}
}

func WithLogger(log logrus.FieldLogger) HTTPGeocoderOption {
	return func(g *HTTPGeocoder) {
		if log != nil {
			g.log = log
		}
	}
}

func NewHTTPGeocoder(baseURL, userAgent string, opts ...HTTPGeocoderOption) *HTTPGeocoder {
	g := &HTTPGeocoder{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  userAgent,
		client:     &http.Client{Timeout: 10 * time.Second},
		maxElapsed: 30 * time.Second,
		log:        logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type searchResult struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// Geocode resolves address to the first search hit. Network errors, 5xx and
// 429 responses are retried with exponential backoff; other failures are
// returned immediately.
func (g *HTTPGeocoder) Geocode(ctx context.Context, address string) (Point, error) {
	var p Point
	op := func() error {
		var err error
		p, err = g.lookup(ctx, address)
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = g.maxElapsed

	notify := func(err error, wait time.Duration) {
		g.log.WithError(err).WithField("retry_in", wait).Debug("geocoder request failed")
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return Point{}, err
	}
	return p, nil
}

func (g *HTTPGeocoder) lookup(ctx context.Context, address string) (Point, error) {
	q := url.Values{}
	q.Set("q", address)
	q.Set("format", "json")
	q.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return Point{}, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	if g.userAgent != "" {
		req.Header.Set("User-Agent", g.userAgent)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Point{}, backoff.Permanent(ctx.Err())
		}
		return Point{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		_, _ = io.Copy(io.Discard, resp.Body)
		return Point{}, fmt.Errorf("geocoder returned %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		_, _ = io.Copy(io.Discard, resp.Body)
		return Point{}, backoff.Permanent(fmt.Errorf("geocoder returned %d", resp.StatusCode))
	}

	var results []searchResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return Point{}, backoff.Permanent(fmt.Errorf("decode geocoder response: %w", err))
	}
	if len(results) == 0 {
		return Point{}, backoff.Permanent(ErrAddressNotFound)
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return Point{}, backoff.Permanent(fmt.Errorf("parse latitude: %w", err))
	}
	lon, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return Point{}, backoff.Permanent(fmt.Errorf("parse longitude: %w", err))
	}
	p := Point{Lat: lat, Lon: lon}
	if !p.Valid() {
		return Point{}, backoff.Permanent(fmt.Errorf("geocoder returned invalid point %v", p))
	}
	return p, nil
}

// StaticGeocoder answers from a fixed address table. Lookups ignore case and
// surrounding whitespace.
type StaticGeocoder struct {
	points map[string]Point
}

func NewStaticGeocoder(points map[string]Point) *StaticGeocoder {
	g := &StaticGeocoder{points: make(map[string]Point, len(points))}
	for addr, p := range points {
		g.points[normalizeAddress(addr)] = p
	}
	return g
}

func (g *StaticGeocoder) Geocode(ctx context.Context, address string) (Point, error) {
	if err := ctx.Err(); err != nil {
		return Point{}, err
	}
	p, ok := g.points[normalizeAddress(address)]
	if !ok {
		return Point{}, ErrAddressNotFound
	}
	return p, nil
}

func normalizeAddress(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
