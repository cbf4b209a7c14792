package models

import "time"

// Offer is a carrier's published freight slot.
type Offer struct {
	ID             int       `json:"id"`
	OwnerID        int       `json:"owner_id"`
	OwnerName      string    `json:"owner_name,omitempty"`
	Origin         string    `json:"origin"`
	Destination    string    `json:"destination"`
	Description    string    `json:"description"`
	Price          float64   `json:"price"`
	AvailableOn    time.Time `json:"available_on"`
	WeightCapacity *float64  `json:"weight_capacity,omitempty"`
	VolumeCapacity *float64  `json:"volume_capacity,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Context returns the route fields shown next to a conversation.
func (o *Offer) Context() OfferContext {
	return OfferContext{Origin: o.Origin, Destination: o.Destination, Price: o.Price}
}

type OfferRequest struct {
	Origin         string   `json:"origin"`
	Destination    string   `json:"destination"`
	Description    string   `json:"description"`
	Price          float64  `json:"price"`
	AvailableOn    string   `json:"available_on"` // YYYY-MM-DD
	WeightCapacity *float64 `json:"weight_capacity,omitempty"`
	VolumeCapacity *float64 `json:"volume_capacity,omitempty"`
}

// OfferFilter narrows offer listings. Zero values mean no filter.
type OfferFilter struct {
	Origin      string
	Destination string
	MinPrice    float64
	MaxPrice    float64
	OwnerID     int
}
