package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fretes-chat/internal/models"
	"fretes-chat/internal/repository"
)

const offerDateLayout = "2006-01-02"

type OfferService struct {
	repo repository.OfferRepository
}

func NewOfferService(repo repository.OfferRepository) *OfferService {
	return &OfferService{repo: repo}
}

func offerFromRequest(req models.OfferRequest) (*models.Offer, error) {
	o := &models.Offer{
		Origin:         strings.TrimSpace(req.Origin),
		Destination:    strings.TrimSpace(req.Destination),
		Description:    strings.TrimSpace(req.Description),
		Price:          req.Price,
		WeightCapacity: req.WeightCapacity,
		VolumeCapacity: req.VolumeCapacity,
	}
	if o.Origin == "" || o.Destination == "" || req.AvailableOn == "" {
		return nil, fmt.Errorf("%w: origin, destination and available_on", ErrMissingField)
	}
	if o.Price <= 0 {
		return nil, fmt.Errorf("%w: price must be positive", ErrInvalidOffer)
	}
	day, err := time.Parse(offerDateLayout, strings.TrimSpace(req.AvailableOn))
	if err != nil {
		return nil, fmt.Errorf("%w: available_on must be YYYY-MM-DD", ErrInvalidOffer)
	}
	o.AvailableOn = day
	if (o.WeightCapacity != nil && *o.WeightCapacity <= 0) || (o.VolumeCapacity != nil && *o.VolumeCapacity <= 0) {
		return nil, fmt.Errorf("%w: capacities must be positive", ErrInvalidOffer)
	}
	return o, nil
}

// Create publishes an offer owned by the caller, who must be a carrier.
func (s *OfferService) Create(ctx context.Context, userID int, role string, req models.OfferRequest) (*models.Offer, error) {
	if role != models.RoleCarrier {
		return nil, ErrCarrierOnly
	}
	o, err := offerFromRequest(req)
	if err != nil {
		return nil, err
	}
	o.OwnerID = userID
	if err := s.repo.CreateOffer(ctx, o); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return s.Get(ctx, o.ID)
}

func (s *OfferService) Get(ctx context.Context, id int) (*models.Offer, error) {
	if id <= 0 {
		return nil, fmt.Errorf("%w: offer id", ErrMissingField)
	}
	o, err := s.repo.GetOffer(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrOfferNotFound
	}
	return o, err
}

func (s *OfferService) List(ctx context.Context, f models.OfferFilter) ([]models.Offer, error) {
	f.Origin = strings.TrimSpace(f.Origin)
	f.Destination = strings.TrimSpace(f.Destination)
	if f.MinPrice > 0 && f.MaxPrice > 0 && f.MinPrice > f.MaxPrice {
		return nil, fmt.Errorf("%w: price_min above price_max", ErrInvalidOffer)
	}
	return s.repo.ListOffers(ctx, f)
}

// owned loads the offer and checks that userID, a carrier, owns it.
func (s *OfferService) owned(ctx context.Context, id, userID int, role string) (*models.Offer, error) {
	if role != models.RoleCarrier {
		return nil, ErrCarrierOnly
	}
	o, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.OwnerID != userID {
		return nil, ErrNotOfferOwner
	}
	return o, nil
}

func (s *OfferService) Update(ctx context.Context, id, userID int, role string, req models.OfferRequest) (*models.Offer, error) {
	if _, err := s.owned(ctx, id, userID, role); err != nil {
		return nil, err
	}
	o, err := offerFromRequest(req)
	if err != nil {
		return nil, err
	}
	o.ID, o.OwnerID = id, userID
	if err := s.repo.UpdateOffer(ctx, o); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrOfferNotFound
		}
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *OfferService) Delete(ctx context.Context, id, userID int, role string) error {
	if _, err := s.owned(ctx, id, userID, role); err != nil {
		return err
	}
	if err := s.repo.DeleteOffer(ctx, id, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrOfferNotFound
		}
		return err
	}
	return nil
}
