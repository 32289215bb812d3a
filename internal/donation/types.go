package donation

import (
	"context"
	"errors"
	"time"
)

// OrganType enumerates the organs that can be listed for donation.
type OrganType string

const (
	OrganKidney     OrganType = "kidney"
	OrganLiver      OrganType = "liver"
	OrganHeart      OrganType = "heart"
	OrganLung       OrganType = "lung"
	OrganPancreas   OrganType = "pancreas"
	OrganIntestine  OrganType = "intestine"
	OrganCornea     OrganType = "cornea"
	OrganSkin       OrganType = "skin"
	OrganBone       OrganType = "bone"
	OrganBoneMarrow OrganType = "bone_marrow"
)

// Valid reports whether t is a known organ type.
func (t OrganType) Valid() bool {
	switch t {
	case OrganKidney, OrganLiver, OrganHeart, OrganLung, OrganPancreas,
		OrganIntestine, OrganCornea, OrganSkin, OrganBone, OrganBoneMarrow:
		return true
	}
	return false
}

// BloodType is one of the eight ABO/Rh groups.
type BloodType string

const (
	BloodAPos  BloodType = "A+"
	BloodANeg  BloodType = "A-"
	BloodBPos  BloodType = "B+"
	BloodBNeg  BloodType = "B-"
	BloodABPos BloodType = "AB+"
	BloodABNeg BloodType = "AB-"
	BloodOPos  BloodType = "O+"
	BloodONeg  BloodType = "O-"
)

// BloodTypes lists all eight groups in a stable order.
var BloodTypes = []BloodType{
	BloodONeg, BloodOPos, BloodANeg, BloodAPos,
	BloodBNeg, BloodBPos, BloodABNeg, BloodABPos,
}

// Valid reports whether b is a known blood group.
func (b BloodType) Valid() bool {
	switch b {
	case BloodAPos, BloodANeg, BloodBPos, BloodBNeg,
		BloodABPos, BloodABNeg, BloodOPos, BloodONeg:
		return true
	}
	return false
}

// UrgencyLevel orders recipient requests by medical urgency.
type UrgencyLevel string

const (
	UrgencyCritical UrgencyLevel = "critical"
	UrgencyHigh     UrgencyLevel = "high"
	UrgencyMedium   UrgencyLevel = "medium"
	UrgencyLow      UrgencyLevel = "low"
)

// Rank returns the ordinal weight of the level (critical=4 .. low=1, unknown=0).
func (u UrgencyLevel) Rank() int {
	switch u {
	case UrgencyCritical:
		return 4
	case UrgencyHigh:
		return 3
	case UrgencyMedium:
		return 2
	case UrgencyLow:
		return 1
	}
	return 0
}

// RequestStatus tracks the lifecycle of a recipient request. Transitions are
// driven by callers; the match engine only reads it.
type RequestStatus string

const (
	StatusOpen      RequestStatus = "open"
	StatusMatched   RequestStatus = "matched"
	StatusFulfilled RequestStatus = "fulfilled"
	StatusCancelled RequestStatus = "cancelled"
)

// Profile holds the physiological and location attributes of a person on
// either side of a match. Age, height and weight may be absent (zero) for
// profiles created before intake was completed; candidates with incomplete
// vitals are skipped during scoring.
type Profile struct {
	ID        string    `json:"id"`
	FullName  string    `json:"full_name"`
	Age       int       `json:"age"`       // years
	HeightCm  float64   `json:"height_cm"` // centimetres
	WeightKg  float64   `json:"weight_kg"` // kilograms
	Location  string    `json:"location"`  // free text "city, country"
	CreatedAt time.Time `json:"created_at"`
}

// HasVitals reports whether all scoring attributes are present.
func (p Profile) HasVitals() bool {
	return p.Age > 0 && p.HeightCm > 0 && p.WeightKg > 0
}

// OrganListing is a donor's offered organ.
type OrganListing struct {
	ID        string    `json:"id"`
	DonorID   string    `json:"donor_id"`
	Organ     OrganType `json:"organ"`
	BloodType BloodType `json:"blood_type"`
	Location  string    `json:"location"` // free text "city, country"
	Available bool      `json:"available"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RecipientRequest is an open need for an organ of a given type.
type RecipientRequest struct {
	ID          string        `json:"id"`
	RecipientID string        `json:"recipient_id"`
	Organ       OrganType     `json:"organ"`
	BloodType   BloodType     `json:"blood_type"`
	Urgency     UrgencyLevel  `json:"urgency"`
	Location    string        `json:"location"`
	Status      RequestStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// BloodTypeDetail is the blood factor breakdown stored on a match record.
// Score is on the 0-100 scale.
type BloodTypeDetail struct {
	Score      float64 `json:"score"`
	Compatible bool    `json:"compatible"`
}

// RangeDetail is the breakdown for the linear-decay factors (age, height,
// weight): the 0-100 score plus the absolute donor/recipient difference.
type RangeDetail struct {
	Score      float64 `json:"score"`
	Difference float64 `json:"difference"`
}

// LocationDetail is the geographic tier breakdown.
type LocationDetail struct {
	Score    float64 `json:"score"`
	Distance string  `json:"distance"` // "Same City", "Same Country" or "Far"
}

// MatchDetails collects the per-factor breakdowns of one scoring pass.
type MatchDetails struct {
	BloodType BloodTypeDetail `json:"blood_type_match"`
	Age       RangeDetail     `json:"age_match"`
	Height    RangeDetail     `json:"height_match"`
	Weight    RangeDetail     `json:"weight_match"`
	Location  LocationDetail  `json:"location_match"`
}

// MatchRecord is the persisted scoring result for one (listing, request)
// pair. At most one record exists per pair.
type MatchRecord struct {
	ID        string       `json:"id"`
	ListingID string       `json:"listing_id"`
	RequestID string       `json:"request_id"`
	Score     float64      `json:"score"` // 0-100, two decimals
	Details   MatchDetails `json:"details"`
	Notified  bool         `json:"notified"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// MatchResult is one entry of a FindMatches response: the candidate listing
// with its composite score and factor breakdown.
type MatchResult struct {
	Listing OrganListing `json:"listing"`
	Score   float64      `json:"score"`
	Details MatchDetails `json:"details"`
}

// NotificationTypeMatch marks notifications produced by the match engine.
const NotificationTypeMatch = "match"

// Notification is the payload handed to the dispatch collaborator.
type Notification struct {
	ID          string    `json:"id,omitempty"`
	RecipientID string    `json:"recipient_id"`
	Type        string    `json:"type"`
	Title       string    `json:"title"`
	Message     string    `json:"message"`
	RelatedID   string    `json:"related_id"`
	Urgency     string    `json:"urgency"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

// Notifier delivers notifications. Delivery is fire-and-forget from the
// engine's perspective: errors are logged by implementations and never
// affect match persistence.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidOrganType = errors.New("invalid organ type")
	ErrInvalidBloodType = errors.New("invalid blood type")
	ErrListingTaken     = errors.New("listing is not available")
)
