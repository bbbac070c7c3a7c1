package app

import (
	"context"
	"math"
	"strings"

	"github.com/axelsamuelson/crowdvine-sub005/internal/clock"
	"github.com/axelsamuelson/crowdvine-sub005/internal/domain"
)

type AdminService struct {
	repo      Repository
	lifecycle *Lifecycle
	clock     clock.Clock
}

func NewAdminService(repo Repository, lifecycle *Lifecycle, clk clock.Clock) *AdminService {
	return &AdminService{
		repo:      repo,
		lifecycle: lifecycle,
		clock:     clk,
	}
}

type ZoneInput struct {
	Name        string
	Type        domain.ZoneType
	CenterLat   float64
	CenterLon   float64
	RadiusKm    float64
	CountryCode string
}

func (in ZoneInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return domain.ErrZoneNameRequired
	}
	if !in.Type.Valid() {
		return domain.ErrInvalidZone
	}
	if in.CenterLat < -90 || in.CenterLat > 90 || in.CenterLon < -180 || in.CenterLon > 180 ||
		math.IsNaN(in.CenterLat) || math.IsNaN(in.CenterLon) {
		return domain.ErrInvalidZone
	}
	if !(in.RadiusKm > 0) || math.IsInf(in.RadiusKm, 0) {
		return domain.ErrInvalidZone
	}
	return nil
}

func (s *AdminService) CreateZone(ctx context.Context, in ZoneInput) (domain.Zone, error) {
	if err := in.validate(); err != nil {
		return domain.Zone{}, err
	}

	zone := domain.Zone{
		ID:          newUUID(),
		Name:        strings.TrimSpace(in.Name),
		Type:        in.Type,
		CenterLat:   in.CenterLat,
		CenterLon:   in.CenterLon,
		RadiusKm:    in.RadiusKm,
		CountryCode: strings.ToUpper(strings.TrimSpace(in.CountryCode)),
		CreatedAt:   s.clock.Now(),
	}

	if err := s.repo.CreateZone(ctx, zone); err != nil {
		return domain.Zone{}, err
	}
	return zone, nil
}

// ListZones returns zones of one type, or all zones when zoneType is empty.
func (s *AdminService) ListZones(ctx context.Context, zoneType domain.ZoneType) ([]domain.Zone, error) {
	if zoneType != "" && !zoneType.Valid() {
		return nil, domain.ErrInvalidZone
	}
	return s.repo.ListZones(ctx, zoneType)
}

// UpdateZone rewrites an unreferenced zone. Zones used by a pallet or a live
// reservation are immutable.
func (s *AdminService) UpdateZone(ctx context.Context, id string, in ZoneInput) (domain.Zone, error) {
	if err := in.validate(); err != nil {
		return domain.Zone{}, err
	}

	var result domain.Zone
	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		z, err := s.repo.GetZone(txCtx, id)
		if err != nil {
			return err
		}
		referenced, err := s.repo.ZoneReferenced(txCtx, id)
		if err != nil {
			return err
		}
		if referenced {
			return domain.ErrZoneReferenced
		}
		z.Name = strings.TrimSpace(in.Name)
		z.Type = in.Type
		z.CenterLat = in.CenterLat
		z.CenterLon = in.CenterLon
		z.RadiusKm = in.RadiusKm
		z.CountryCode = strings.ToUpper(strings.TrimSpace(in.CountryCode))
		if err := s.repo.UpdateZone(txCtx, z); err != nil {
			return err
		}
		result = z
		return nil
	})
	if err != nil {
		return domain.Zone{}, err
	}
	return result, nil
}

// DeleteZone removes an unreferenced zone.
func (s *AdminService) DeleteZone(ctx context.Context, id string) error {
	return s.repo.WithTx(ctx, func(txCtx context.Context) error {
		if _, err := s.repo.GetZone(txCtx, id); err != nil {
			return err
		}
		referenced, err := s.repo.ZoneReferenced(txCtx, id)
		if err != nil {
			return err
		}
		if referenced {
			return domain.ErrZoneReferenced
		}
		return s.repo.DeleteZone(txCtx, id)
	})
}

type PalletView struct {
	Pallet  domain.Pallet
	Metrics Metrics
}

func (s *AdminService) GetPallet(ctx context.Context, id string) (PalletView, error) {
	p, err := s.repo.GetPallet(ctx, id)
	if err != nil {
		return PalletView{}, err
	}
	m, err := s.lifecycle.fill.Compute(ctx, p)
	if err != nil {
		return PalletView{}, err
	}
	return PalletView{Pallet: p, Metrics: m}, nil
}

func (s *AdminService) ListPallets(ctx context.Context, filter PalletFilter) ([]domain.Pallet, error) {
	return s.repo.ListPallets(ctx, filter)
}

func (s *AdminService) ListTransitions(ctx context.Context, palletID string) ([]domain.PalletTransition, error) {
	if _, err := s.repo.GetPallet(ctx, palletID); err != nil {
		return nil, err
	}
	return s.repo.ListTransitions(ctx, palletID)
}

func (s *AdminService) GetReservation(ctx context.Context, id string) (domain.Reservation, error) {
	return s.repo.GetReservation(ctx, id)
}
