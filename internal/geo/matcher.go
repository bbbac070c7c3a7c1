package geo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/axelsamuelson/crowdvine-sub005/internal/domain"
)

// ZoneSource lists the zones of one type.
type ZoneSource interface {
	ListZones(ctx context.Context, zoneType domain.ZoneType) ([]domain.Zone, error)
}

// Geocoder turns an address into coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (Point, error)
}

// ZoneMatch is a zone that contains a point, with the distance to its center.
type ZoneMatch struct {
	Zone       domain.Zone `json:"zone"`
	DistanceKm float64     `json:"distance_km"`
}

type Matcher struct {
	zones    ZoneSource
	geocoder Geocoder
	log      logrus.FieldLogger
}

func NewMatcher(zones ZoneSource, geocoder Geocoder, log logrus.FieldLogger) *Matcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Matcher{zones: zones, geocoder: geocoder, log: log}
}

// MatchPoint returns every zone of zoneType containing p, nearest first. When
// countryCode is set, zones with a different country code are skipped; zones
// without a country code are always considered.
func (m *Matcher) MatchPoint(ctx context.Context, p Point, zoneType domain.ZoneType, countryCode string) ([]ZoneMatch, error) {
	if !zoneType.Valid() {
		return nil, domain.ErrInvalidZone
	}
	zones, err := m.zones.ListZones(ctx, zoneType)
	if err != nil {
		return nil, fmt.Errorf("list %s zones: %w", zoneType, err)
	}

	var matches []ZoneMatch
	for _, z := range zones {
		if countryCode != "" && z.CountryCode != "" && !strings.EqualFold(z.CountryCode, countryCode) {
			continue
		}
		d := Haversine(p, Center(z))
		if d <= z.RadiusKm {
			matches = append(matches, ZoneMatch{Zone: z, DistanceKm: d})
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].DistanceKm != matches[j].DistanceKm {
			return matches[i].DistanceKm < matches[j].DistanceKm
		}
		return matches[i].Zone.ID < matches[j].Zone.ID
	})
	return matches, nil
}

// Resolve geocodes address and returns the single zone of zoneType containing
// it. More than one match is reported as *domain.AmbiguousZoneMatchError.
func (m *Matcher) Resolve(ctx context.Context, address string, zoneType domain.ZoneType, countryCode string) (ZoneMatch, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return ZoneMatch{}, &domain.GeocodeError{Address: address, Err: ErrAddressNotFound}
	}
	if m.geocoder == nil {
		return ZoneMatch{}, &domain.GeocodeError{Address: address, Err: errors.New("no geocoder configured")}
	}

	p, err := m.geocoder.Geocode(ctx, address)
	if err != nil {
		if ctx.Err() != nil {
			return ZoneMatch{}, ctx.Err()
		}
		m.log.WithError(err).WithField("zone_type", zoneType).Warn("geocoding failed")
		return ZoneMatch{}, &domain.GeocodeError{Address: address, Err: err}
	}

	matches, err := m.MatchPoint(ctx, p, zoneType, countryCode)
	if err != nil {
		return ZoneMatch{}, err
	}
	switch len(matches) {
	case 0:
		return ZoneMatch{}, domain.ErrNoZoneMatch
	case 1:
		return matches[0], nil
	default:
		ids := make([]string, len(matches))
		for i, mt := range matches {
			ids[i] = mt.Zone.ID
		}
		m.log.WithFields(logrus.Fields{"zone_type": zoneType, "zones": ids}).Info("ambiguous zone match")
		return ZoneMatch{}, &domain.AmbiguousZoneMatchError{ZoneType: zoneType, ZoneIDs: ids}
	}
}
