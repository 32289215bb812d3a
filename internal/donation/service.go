package donation

import (
	"context"
	"fmt"
)

// Service defines the organ donation matching operations. FindMatches and
// ScanListing are the two engine triggers: an explicit search initiated for
// a recipient request, and the scan that follows creation of a new listing.
// Both execute as a synchronous unit of work per request; persistence of a
// single FindMatches pass is atomic.
type Service interface {
	CreateProfile(ctx context.Context, p Profile) (Profile, error)
	GetProfile(ctx context.Context, id string) (Profile, error)

	CreateListing(ctx context.Context, donorID string, organ OrganType, blood BloodType, location string) (OrganListing, error)
	GetListing(ctx context.Context, id string) (OrganListing, error)
	MarkUnavailable(ctx context.Context, listingID string) error

	CreateRequest(ctx context.Context, recipientID string, organ OrganType, blood BloodType, urgency UrgencyLevel, location string) (RecipientRequest, error)
	GetRequest(ctx context.Context, id string) (RecipientRequest, error)
	SetRequestStatus(ctx context.Context, requestID string, status RequestStatus) error

	// ListOpenRequests returns every request still in the open state, most
	// urgent first, for sweepers and reporting consumers.
	ListOpenRequests(ctx context.Context) ([]RecipientRequest, error)

	// FindMatches scores every available listing of the request's organ type
	// that has no match record for this request yet, persists one record per
	// pair, and returns the new results ordered by score descending. Calling
	// it again without new listings yields no new rows and an empty list.
	FindMatches(ctx context.Context, requestID string) ([]MatchResult, error)

	// ScanListing runs FindMatches for every open request matching the
	// listing's organ type and reports how many new match records were
	// created. Unavailable listings scan nothing.
	ScanListing(ctx context.Context, listingID string) (int, error)

	// ListMatches returns the persisted match records for a request ordered
	// by score descending, for reporting consumers.
	ListMatches(ctx context.Context, requestID string) ([]MatchRecord, error)
}

// PotentialMatchNotice builds the single-recipient notification fired by the
// engine when a newly created match record reaches the potential-match
// threshold.
func PotentialMatchNotice(rec MatchRecord, listing OrganListing, req RecipientRequest) Notification {
	return Notification{
		RecipientID: req.RecipientID,
		Type:        NotificationTypeMatch,
		Title:       "New Potential Match Found",
		Message:     fmt.Sprintf("A %s has been found with a %.2f%% match score for your request.", listing.Organ, rec.Score),
		RelatedID:   rec.ID,
		Urgency:     string(UrgencyHigh),
	}
}

func highPotentialRecipientNotice(req RecipientRequest, res MatchResult) Notification {
	return Notification{
		RecipientID: req.RecipientID,
		Type:        NotificationTypeMatch,
		Title:       "High Potential Organ Match",
		Message:     fmt.Sprintf("A %s is a %.2f%% match for your request.", res.Listing.Organ, res.Score),
		RelatedID:   res.Listing.ID,
		Urgency:     urgencyOrLow(req.Urgency),
	}
}

func highPotentialDonorNotice(req RecipientRequest, res MatchResult) Notification {
	return Notification{
		RecipientID: res.Listing.DonorID,
		Type:        NotificationTypeMatch,
		Title:       "High Potential Recipient Match",
		Message:     fmt.Sprintf("Your %s matches a recipient's request at %.2f%% potential.", res.Listing.Organ, res.Score),
		RelatedID:   req.ID,
		Urgency:     urgencyOrLow(req.Urgency),
	}
}

func urgencyOrLow(u UrgencyLevel) string {
	if u.Rank() == 0 {
		return string(UrgencyLow)
	}
	return string(u)
}
