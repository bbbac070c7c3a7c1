package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/axelsamuelson/crowdvine-sub005/internal/clock"
	"github.com/axelsamuelson/crowdvine-sub005/internal/domain"
	"github.com/axelsamuelson/crowdvine-sub005/internal/geo"
)

// ZoneResolver finds the single zone of a type containing an address.
type ZoneResolver interface {
	Resolve(ctx context.Context, address string, zoneType domain.ZoneType, countryCode string) (geo.ZoneMatch, error)
}

var errNoResolver = errors.New("no geocoder configured")

type CheckoutService struct {
	repo      Repository
	ser       serializer
	resolver  ZoneResolver
	registry  *Registry
	assigner  *Assigner
	lifecycle *Lifecycle
	clock     clock.Clock
	log       logrus.FieldLogger
}

func NewCheckoutService(repo Repository, locks *PairLocks, resolver ZoneResolver, registry *Registry, assigner *Assigner, lifecycle *Lifecycle, clk clock.Clock, log logrus.FieldLogger) *CheckoutService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &CheckoutService{
		repo:      repo,
		ser:       serializer{locks: locks, repo: repo},
		resolver:  resolver,
		registry:  registry,
		assigner:  assigner,
		lifecycle: lifecycle,
		clock:     clk,
		log:       log,
	}
}

type ItemInput struct {
	WineID     string
	Quantity   int
	PriceCents int64
}

type PlaceReservationInput struct {
	UserID string
	Items  []ItemInput
	// DeliveryZoneID skips geocoding when the customer picked a zone.
	DeliveryZoneID          string
	ShippingAddress         string
	CountryCode             string
	RequireProducerApproval bool
}

type PlaceReservationResult struct {
	Reservation domain.Reservation `json:"reservation"`
	Assignment  Assignment         `json:"assignment"`
	Metrics     *Metrics           `json:"metrics,omitempty"`
	Completed   bool               `json:"completed"`
}

// PlaceReservation resolves the zone pair, then under the pair lock stores the
// reservation, assigns it and advances the pallet. Geocoding happens before
// the lock is taken and payment requests after it is released.
func (s *CheckoutService) PlaceReservation(ctx context.Context, in PlaceReservationInput) (PlaceReservationResult, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return PlaceReservationResult{}, domain.ErrInvalidID
	}
	if len(in.Items) == 0 {
		return PlaceReservationResult{}, domain.ErrItemsRequired
	}
	wineIDs := make([]string, 0, len(in.Items))
	var total int64
	for _, it := range in.Items {
		if it.WineID == "" {
			return PlaceReservationResult{}, domain.ErrInvalidID
		}
		if it.Quantity <= 0 || it.PriceCents < 0 {
			return PlaceReservationResult{}, domain.ErrInvalidQuantity
		}
		wineIDs = append(wineIDs, it.WineID)
		total += int64(it.Quantity) * it.PriceCents
	}

	deliveryZoneID, err := s.deliveryZone(ctx, in)
	if err != nil {
		return PlaceReservationResult{}, err
	}
	pickupZoneID, err := s.registry.DerivePickupZone(ctx, wineIDs)
	if err != nil {
		return PlaceReservationResult{}, err
	}
	producers, err := s.repo.ProducersForWines(ctx, wineIDs)
	if err != nil {
		return PlaceReservationResult{}, err
	}

	now := s.clock.Now()
	status := domain.ReservationPlaced
	if in.RequireProducerApproval {
		status = domain.ReservationPendingProducerApproval
	}
	res := domain.Reservation{
		ID:              newUUID(),
		UserID:          in.UserID,
		PickupZoneID:    pickupZoneID,
		DeliveryZoneID:  deliveryZoneID,
		Status:          status,
		TotalCostCents:  total,
		PaymentStatus:   domain.PaymentNone,
		ShippingAddress: in.ShippingAddress,
		CountryCode:     strings.ToUpper(in.CountryCode),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for _, it := range in.Items {
		res.Items = append(res.Items, domain.ReservationItem{
			ReservationID: res.ID,
			WineID:        it.WineID,
			ProducerID:    producers[it.WineID].ID,
			Quantity:      it.Quantity,
			PriceCents:    it.PriceCents,
		})
	}

	var result PlaceReservationResult
	var billPallet string
	err = s.ser.withPairs(ctx, []domain.ZonePair{res.Pair()}, func(txCtx context.Context) error {
		if err := s.repo.CreateReservation(txCtx, res); err != nil {
			return err
		}
		a, err := s.assigner.Assign(txCtx, res)
		if err != nil {
			return err
		}
		res.PalletID = a.PalletID
		result.Assignment = a
		if a.PalletID == "" {
			return nil
		}

		p, err := s.repo.GetPalletForUpdate(txCtx, a.PalletID)
		if err != nil {
			return err
		}
		switch p.Status {
		case domain.PalletStatusOpen:
			adv, err := s.lifecycle.advanceLocked(txCtx, p, "checkout")
			if err != nil {
				return err
			}
			result.Metrics = &adv.Metrics
			result.Completed = adv.Transitioned
			if adv.Transitioned {
				billPallet = p.ID
				if res.Status == domain.ReservationPlaced {
					res.Status = domain.ReservationPendingPayment
				}
			}
		case domain.PalletStatusCompleting, domain.PalletStatusPaymentPending:
			// The pallet is already complete, so late joiners are billed
			// right away.
			if res.Status == domain.ReservationPlaced {
				if err := s.repo.UpdateReservationStatus(txCtx, res.ID, domain.ReservationPendingPayment); err != nil {
					return err
				}
				res.Status = domain.ReservationPendingPayment
				billPallet = p.ID
			}
			m, err := s.lifecycle.fill.Compute(txCtx, p)
			if err != nil {
				return err
			}
			result.Metrics = &m
		}
		return nil
	})
	if err != nil {
		return PlaceReservationResult{}, err
	}

	if billPallet != "" {
		s.lifecycle.requestPaymentsAfterCommit(ctx, billPallet)
		if cur, err := s.repo.GetReservation(ctx, res.ID); err == nil {
			res = cur
		}
	}
	result.Reservation = res

	s.log.WithFields(logrus.Fields{
		"reservation_id": res.ID,
		"pair":           res.Pair().Key(),
		"pallet_id":      res.PalletID,
		"state":          res.Allocation(),
		"completed":      result.Completed,
	}).Info("reservation placed")
	return result, nil
}

func (s *CheckoutService) deliveryZone(ctx context.Context, in PlaceReservationInput) (string, error) {
	if in.DeliveryZoneID != "" {
		z, err := s.repo.GetZone(ctx, in.DeliveryZoneID)
		if err != nil {
			return "", err
		}
		if z.Type != domain.ZoneTypeDelivery {
			return "", fmt.Errorf("zone %s is %s: %w", z.ID, z.Type, domain.ErrZoneTypeMismatch)
		}
		return z.ID, nil
	}
	if s.resolver == nil {
		return "", &domain.GeocodeError{Address: in.ShippingAddress, Err: errNoResolver}
	}
	m, err := s.resolver.Resolve(ctx, in.ShippingAddress, domain.ZoneTypeDelivery, in.CountryCode)
	if err != nil {
		return "", err
	}
	return m.Zone.ID, nil
}

type ApprovalResult struct {
	Reservation domain.Reservation `json:"reservation"`
	Metrics     *Metrics           `json:"metrics,omitempty"`
	Completed   bool               `json:"completed"`
}

// ApproveReservation records the producer's approval. On an open pallet the
// reservation becomes approved and the pallet is re-evaluated; on a completed
// one it joins the payment round right away.
func (s *CheckoutService) ApproveReservation(ctx context.Context, id string) (ApprovalResult, error) {
	res, err := s.repo.GetReservation(ctx, id)
	if err != nil {
		return ApprovalResult{}, err
	}
	if res.Status != domain.ReservationPendingProducerApproval {
		return ApprovalResult{}, domain.ErrNotAwaitingApproval
	}

	var result ApprovalResult
	var billPallet string
	err = s.ser.withPairs(ctx, []domain.ZonePair{res.Pair()}, func(txCtx context.Context) error {
		cur, err := s.repo.GetReservation(txCtx, id)
		if err != nil {
			return err
		}
		if cur.Status != domain.ReservationPendingProducerApproval {
			return domain.ErrNotAwaitingApproval
		}

		status := domain.ReservationApproved
		var p domain.Pallet
		if cur.PalletID != "" {
			if p, err = s.repo.GetPalletForUpdate(txCtx, cur.PalletID); err != nil {
				return err
			}
			if p.Status == domain.PalletStatusCompleting || p.Status == domain.PalletStatusPaymentPending {
				status = domain.ReservationPendingPayment
				billPallet = p.ID
			}
		}
		if err := s.repo.UpdateReservationStatus(txCtx, id, status); err != nil {
			return err
		}
		cur.Status = status

		switch {
		case cur.PalletID == "":
		case p.Status == domain.PalletStatusOpen:
			adv, err := s.lifecycle.advanceLocked(txCtx, p, "producer_approval")
			if err != nil {
				return err
			}
			result.Metrics = &adv.Metrics
			result.Completed = adv.Transitioned
			if adv.Transitioned {
				billPallet = p.ID
				cur.Status = domain.ReservationPendingPayment
			}
		default:
			m, err := s.lifecycle.fill.Compute(txCtx, p)
			if err != nil {
				return err
			}
			result.Metrics = &m
		}
		result.Reservation = cur
		return nil
	})
	if err != nil {
		return ApprovalResult{}, err
	}

	if billPallet != "" {
		s.lifecycle.requestPaymentsAfterCommit(ctx, billPallet)
		if cur, err := s.repo.GetReservation(ctx, id); err == nil {
			result.Reservation = cur
		}
	}

	s.log.WithFields(logrus.Fields{
		"reservation_id": id,
		"pallet_id":      result.Reservation.PalletID,
		"status":         result.Reservation.Status,
		"completed":      result.Completed,
	}).Info("reservation approved by producer")
	return result, nil
}

type CancelResult struct {
	Reservation domain.Reservation `json:"reservation"`
	Completion  *CompletionReport  `json:"completion,omitempty"`
}

// CancelReservation cancels an unfrozen reservation. If its pallet had
// completed and the cancellation breaks the rules, the inconsistency is
// reported; reversing stays an operator decision.
func (s *CheckoutService) CancelReservation(ctx context.Context, id string) (CancelResult, error) {
	res, err := s.repo.GetReservation(ctx, id)
	if err != nil {
		return CancelResult{}, err
	}
	if res.Status.Frozen() {
		return CancelResult{}, domain.ErrReservationFrozen
	}

	var result CancelResult
	var voidHandle string
	err = s.ser.withPairs(ctx, []domain.ZonePair{res.Pair()}, func(txCtx context.Context) error {
		cur, err := s.repo.GetReservation(txCtx, id)
		if err != nil {
			return err
		}
		if cur.Status.Frozen() {
			return domain.ErrReservationFrozen
		}
		if err := s.repo.UpdateReservationStatus(txCtx, id, domain.ReservationCancelled); err != nil {
			return err
		}
		if cur.PaymentHandle != "" && cur.PaymentStatus == domain.PaymentRequested {
			voidHandle = cur.PaymentHandle
			if err := s.repo.SetPaymentState(txCtx, id, "", domain.PaymentNone); err != nil {
				return err
			}
			cur.PaymentHandle = ""
			cur.PaymentStatus = domain.PaymentNone
		}
		cur.Status = domain.ReservationCancelled
		result.Reservation = cur

		if cur.PalletID == "" {
			return nil
		}
		p, err := s.repo.GetPalletForUpdate(txCtx, cur.PalletID)
		if err != nil {
			return err
		}
		rep, err := s.lifecycle.report(txCtx, p)
		if err != nil {
			return err
		}
		result.Completion = &rep
		return nil
	})
	if err != nil {
		return CancelResult{}, err
	}

	if voidHandle != "" {
		s.lifecycle.voidAll(ctx, []string{voidHandle})
	}
	if result.Completion != nil && result.Completion.Inconsistent {
		s.log.WithFields(logrus.Fields{
			"pallet_id":      result.Completion.PalletID,
			"reservation_id": id,
			"bottles":        result.Completion.Metrics.Bottles,
		}).Warn("cancellation left a completed pallet below its rules")
	}
	return result, nil
}
