package donation

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"organlink.org/internal/ids"
	"organlink.org/internal/obs"
)

type pairKey struct {
	listingID string
	requestID string
}

// InMemory implements Service with in-process concurrency safety. It is the
// reference implementation used by tests and smoke tooling; production
// deployments use the Postgres store.
type InMemory struct {
	mu       sync.RWMutex
	calc     *Calculator
	notifier Notifier

	profiles map[string]*Profile
	listings map[string]*OrganListing
	requests map[string]*RecipientRequest
	matches  map[string]*MatchRecord

	// byPair enforces the one-record-per-pair invariant.
	byPair map[pairKey]string

	// insertion orders keep candidate iteration and tie-breaking stable.
	listingOrder []string
	requestOrder []string
	matchOrder   []string
}

var _ Service = (*InMemory)(nil)

// NewInMemory creates an empty store bound to a calculator. The notifier may
// be nil, in which case no notifications are dispatched.
func NewInMemory(calc *Calculator, notifier Notifier) *InMemory {
	return &InMemory{
		calc:     calc,
		notifier: notifier,
		profiles: make(map[string]*Profile),
		listings: make(map[string]*OrganListing),
		requests: make(map[string]*RecipientRequest),
		matches:  make(map[string]*MatchRecord),
		byPair:   make(map[pairKey]string),
	}
}

func (s *InMemory) CreateProfile(ctx context.Context, p Profile) (Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = ids.New()
	}
	p.CreatedAt = time.Now().UTC()
	s.profiles[p.ID] = &p
	return p, nil
}

func (s *InMemory) GetProfile(ctx context.Context, id string) (Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return *p, nil
}

func (s *InMemory) CreateListing(ctx context.Context, donorID string, organ OrganType, blood BloodType, location string) (OrganListing, error) {
	if !organ.Valid() {
		return OrganListing{}, ErrInvalidOrganType
	}
	if !blood.Valid() {
		return OrganListing{}, ErrInvalidBloodType
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[donorID]; !ok {
		return OrganListing{}, ErrNotFound
	}
	now := time.Now().UTC()
	l := &OrganListing{
		ID:        ids.New(),
		DonorID:   donorID,
		Organ:     organ,
		BloodType: blood,
		Location:  location,
		Available: true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.listings[l.ID] = l
	s.listingOrder = append(s.listingOrder, l.ID)
	return *l, nil
}

func (s *InMemory) GetListing(ctx context.Context, id string) (OrganListing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.listings[id]
	if !ok {
		return OrganListing{}, ErrNotFound
	}
	return *l, nil
}

func (s *InMemory) MarkUnavailable(ctx context.Context, listingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[listingID]
	if !ok {
		return ErrNotFound
	}
	l.Available = false
	l.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemory) CreateRequest(ctx context.Context, recipientID string, organ OrganType, blood BloodType, urgency UrgencyLevel, location string) (RecipientRequest, error) {
	if !organ.Valid() {
		return RecipientRequest{}, ErrInvalidOrganType
	}
	if !blood.Valid() {
		return RecipientRequest{}, ErrInvalidBloodType
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[recipientID]; !ok {
		return RecipientRequest{}, ErrNotFound
	}
	now := time.Now().UTC()
	r := &RecipientRequest{
		ID:          ids.New(),
		RecipientID: recipientID,
		Organ:       organ,
		BloodType:   blood,
		Urgency:     urgency,
		Location:    location,
		Status:      StatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.requests[r.ID] = r
	s.requestOrder = append(s.requestOrder, r.ID)
	return *r, nil
}

func (s *InMemory) GetRequest(ctx context.Context, id string) (RecipientRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[id]
	if !ok {
		return RecipientRequest{}, ErrNotFound
	}
	return *r, nil
}

func (s *InMemory) SetRequestStatus(ctx context.Context, requestID string, status RequestStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[requestID]
	if !ok {
		return ErrNotFound
	}
	r.Status = status
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemory) ListOpenRequests(ctx context.Context) ([]RecipientRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var open []RecipientRequest
	for _, id := range s.requestOrder {
		if r := s.requests[id]; r.Status == StatusOpen {
			open = append(open, *r)
		}
	}
	sort.SliceStable(open, func(i, j int) bool { return open[i].Urgency.Rank() > open[j].Urgency.Rank() })
	return open, nil
}

func (s *InMemory) FindMatches(ctx context.Context, requestID string) ([]MatchResult, error) {
	start := time.Now()
	s.mu.Lock()
	req, ok := s.requests[requestID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	recipient, ok := s.profiles[req.RecipientID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}

	threshold := s.calc.Rules().Thresholds.PotentialMatch
	var (
		results []MatchResult
		notices []Notification
	)
	for _, id := range s.listingOrder {
		l := s.listings[id]
		if !l.Available || l.Organ != req.Organ {
			continue
		}
		if _, exists := s.byPair[pairKey{l.ID, req.ID}]; exists {
			continue
		}
		donor, ok := s.profiles[l.DonorID]
		if !ok || !donor.HasVitals() {
			obs.Logger().Warn("skipping candidate with incomplete donor vitals",
				zap.String("listing_id", l.ID),
				zap.String("request_id", req.ID))
			continue
		}

		score, details := s.calc.Score(*l, *donor, *req, *recipient)
		obs.ObserveMatchScore(score)
		now := time.Now().UTC()
		rec := &MatchRecord{
			ID:        ids.New(),
			ListingID: l.ID,
			RequestID: req.ID,
			Score:     score,
			Details:   details,
			Notified:  score >= threshold,
			CreatedAt: now,
			UpdatedAt: now,
		}
		s.matches[rec.ID] = rec
		s.byPair[pairKey{l.ID, req.ID}] = rec.ID
		s.matchOrder = append(s.matchOrder, rec.ID)

		if rec.Notified {
			notices = append(notices, PotentialMatchNotice(*rec, *l, *req))
		}
		results = append(results, MatchResult{Listing: *l, Score: score, Details: details})
	}
	reqCopy := *req
	s.mu.Unlock()

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })

	s.dispatch(ctx, reqCopy.ID, notices)
	obs.MatchesComputed(len(results))
	obs.ObserveFindMatches(time.Since(start))
	return results, nil
}

func (s *InMemory) ScanListing(ctx context.Context, listingID string) (int, error) {
	s.mu.RLock()
	l, ok := s.listings[listingID]
	if !ok {
		s.mu.RUnlock()
		return 0, ErrNotFound
	}
	if !l.Available {
		s.mu.RUnlock()
		return 0, nil
	}
	organ := l.Organ
	var open []string
	for _, id := range s.requestOrder {
		r := s.requests[id]
		if r.Status == StatusOpen && r.Organ == organ {
			open = append(open, id)
		}
	}
	s.mu.RUnlock()

	created := 0
	for _, reqID := range open {
		results, err := s.FindMatches(ctx, reqID)
		if err != nil {
			return created, err
		}
		created += len(results)
	}
	return created, nil
}

func (s *InMemory) ListMatches(ctx context.Context, requestID string) ([]MatchRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.requests[requestID]; !ok {
		return nil, ErrNotFound
	}
	var recs []MatchRecord
	for _, id := range s.matchOrder {
		if rec := s.matches[id]; rec.RequestID == requestID {
			recs = append(recs, *rec)
		}
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Score > recs[j].Score })
	return recs, nil
}

// dispatch delivers engine-side notifications after the batch has been
// committed. Failures are logged and swallowed.
func (s *InMemory) dispatch(ctx context.Context, requestID string, notices []Notification) {
	if s.notifier == nil {
		return
	}
	for _, n := range notices {
		if err := s.notifier.Notify(ctx, n); err != nil {
			obs.Logger().Warn("potential-match notification failed",
				zap.String("request_id", requestID),
				zap.Error(err))
		}
	}
}
