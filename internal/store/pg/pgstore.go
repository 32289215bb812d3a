package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"organlink.org/internal/donation"
	"organlink.org/internal/ids"
	"organlink.org/internal/obs"
)

// Store is the Postgres-backed donation service. Match persistence runs
// inside a single serializable transaction per find-matches pass; the
// unique constraint on (organ_id, request_id) is the authoritative guard
// against duplicate pairs.
type Store struct {
	db       *sql.DB
	calc     *donation.Calculator
	notifier donation.Notifier
}

var _ donation.Service = (*Store)(nil)

// Open connects to Postgres and binds the store to a calculator. The
// notifier may be nil.
func Open(dsn string, calc *donation.Calculator, notifier donation.Notifier) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db, calc: calc, notifier: notifier}, nil
}

// NewWithDB wraps an existing handle; used by tests.
func NewWithDB(db *sql.DB, calc *donation.Calculator, notifier donation.Notifier) *Store {
	return &Store{db: db, calc: calc, notifier: notifier}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) CreateProfile(ctx context.Context, p donation.Profile) (donation.Profile, error) {
	if p.ID == "" {
		p.ID = ids.New()
	}
	p.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		insert into profiles(id, full_name, age, height_cm, weight_kg, location, created_at)
		values ($1,$2,nullif($3,0),nullif($4,0.0),nullif($5,0.0),$6,$7)
	`, p.ID, p.FullName, p.Age, p.HeightCm, p.WeightKg, p.Location, p.CreatedAt)
	if err != nil {
		return donation.Profile{}, err
	}
	return p, nil
}

func (s *Store) GetProfile(ctx context.Context, id string) (donation.Profile, error) {
	var (
		p      donation.Profile
		age    sql.NullInt64
		height sql.NullFloat64
		weight sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, `
		select id, full_name, age, height_cm, weight_kg, location, created_at
		from profiles where id=$1
	`, id).Scan(&p.ID, &p.FullName, &age, &height, &weight, &p.Location, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return donation.Profile{}, donation.ErrNotFound
	}
	if err != nil {
		return donation.Profile{}, err
	}
	p.Age = int(age.Int64)
	p.HeightCm = height.Float64
	p.WeightKg = weight.Float64
	return p, nil
}

func (s *Store) CreateListing(ctx context.Context, donorID string, organ donation.OrganType, blood donation.BloodType, location string) (donation.OrganListing, error) {
	if !organ.Valid() {
		return donation.OrganListing{}, donation.ErrInvalidOrganType
	}
	if !blood.Valid() {
		return donation.OrganListing{}, donation.ErrInvalidBloodType
	}
	now := time.Now().UTC()
	l := donation.OrganListing{
		ID:        ids.New(),
		DonorID:   donorID,
		Organ:     organ,
		BloodType: blood,
		Location:  location,
		Available: true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx, `
		insert into organs(id, donor_id, organ, blood_type, location, available, created_at, updated_at)
		values ($1,$2,$3,$4,$5,true,$6,$6)
	`, l.ID, donorID, organ, blood, location, now)
	if isForeignKeyViolation(err) {
		return donation.OrganListing{}, donation.ErrNotFound
	}
	if err != nil {
		return donation.OrganListing{}, err
	}
	return l, nil
}

func (s *Store) GetListing(ctx context.Context, id string) (donation.OrganListing, error) {
	var l donation.OrganListing
	err := s.db.QueryRowContext(ctx, `
		select id, donor_id, organ, blood_type, location, available, created_at, updated_at
		from organs where id=$1
	`, id).Scan(&l.ID, &l.DonorID, &l.Organ, &l.BloodType, &l.Location, &l.Available, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return donation.OrganListing{}, donation.ErrNotFound
	}
	if err != nil {
		return donation.OrganListing{}, err
	}
	return l, nil
}

func (s *Store) MarkUnavailable(ctx context.Context, listingID string) error {
	res, err := s.db.ExecContext(ctx, `
		update organs set available=false, updated_at=now() where id=$1
	`, listingID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return donation.ErrNotFound
	}
	return nil
}

func (s *Store) CreateRequest(ctx context.Context, recipientID string, organ donation.OrganType, blood donation.BloodType, urgency donation.UrgencyLevel, location string) (donation.RecipientRequest, error) {
	if !organ.Valid() {
		return donation.RecipientRequest{}, donation.ErrInvalidOrganType
	}
	if !blood.Valid() {
		return donation.RecipientRequest{}, donation.ErrInvalidBloodType
	}
	now := time.Now().UTC()
	r := donation.RecipientRequest{
		ID:          ids.New(),
		RecipientID: recipientID,
		Organ:       organ,
		BloodType:   blood,
		Urgency:     urgency,
		Location:    location,
		Status:      donation.StatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err := s.db.ExecContext(ctx, `
		insert into requests(id, recipient_id, organ, blood_type, urgency, location, status, created_at, updated_at)
		values ($1,$2,$3,$4,nullif($5,''),$6,$7,$8,$8)
	`, r.ID, recipientID, organ, blood, string(urgency), location, r.Status, now)
	if isForeignKeyViolation(err) {
		return donation.RecipientRequest{}, donation.ErrNotFound
	}
	if err != nil {
		return donation.RecipientRequest{}, err
	}
	return r, nil
}

func (s *Store) GetRequest(ctx context.Context, id string) (donation.RecipientRequest, error) {
	var (
		r       donation.RecipientRequest
		urgency sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select id, recipient_id, organ, blood_type, urgency, location, status, created_at, updated_at
		from requests where id=$1
	`, id).Scan(&r.ID, &r.RecipientID, &r.Organ, &r.BloodType, &urgency, &r.Location, &r.Status, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return donation.RecipientRequest{}, donation.ErrNotFound
	}
	if err != nil {
		return donation.RecipientRequest{}, err
	}
	r.Urgency = donation.UrgencyLevel(urgency.String)
	return r, nil
}

func (s *Store) SetRequestStatus(ctx context.Context, requestID string, status donation.RequestStatus) error {
	res, err := s.db.ExecContext(ctx, `
		update requests set status=$2, updated_at=now() where id=$1
	`, requestID, status)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return donation.ErrNotFound
	}
	return nil
}

func (s *Store) ListOpenRequests(ctx context.Context) ([]donation.RecipientRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, recipient_id, organ, blood_type, urgency, location, status, created_at, updated_at
		from requests
		where status=$1
		order by case urgency
			when 'critical' then 4
			when 'high' then 3
			when 'medium' then 2
			when 'low' then 1
			else 0 end desc,
			created_at asc
	`, donation.StatusOpen)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var open []donation.RecipientRequest
	for rows.Next() {
		var (
			r       donation.RecipientRequest
			urgency sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.RecipientID, &r.Organ, &r.BloodType, &urgency, &r.Location, &r.Status, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.Urgency = donation.UrgencyLevel(urgency.String)
		open = append(open, r)
	}
	return open, rows.Err()
}

// candidate is one joined listing+donor row read at the start of a
// find-matches pass.
type candidate struct {
	listing donation.OrganListing
	donor   donation.Profile
	vitals  bool
}

func (s *Store) FindMatches(ctx context.Context, requestID string) ([]donation.MatchResult, error) {
	start := time.Now()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	req, recipient, err := loadRequestWithRecipient(ctx, tx, requestID)
	if err != nil {
		return nil, err
	}

	candidates, err := loadCandidates(ctx, tx, req.Organ, requestID)
	if err != nil {
		return nil, err
	}

	threshold := s.calc.Rules().Thresholds.PotentialMatch
	var (
		results []donation.MatchResult
		notices []donation.Notification
	)
	for _, c := range candidates {
		if !c.vitals {
			obs.Logger().Warn("skipping candidate with incomplete donor vitals",
				zap.String("listing_id", c.listing.ID),
				zap.String("request_id", requestID))
			continue
		}
		score, details := s.calc.Score(c.listing, c.donor, req, recipient)
		obs.ObserveMatchScore(score)

		rec := donation.MatchRecord{
			ID:        ids.New(),
			ListingID: c.listing.ID,
			RequestID: requestID,
			Score:     score,
			Details:   details,
			Notified:  score >= threshold,
		}
		detailsJSON, err := json.Marshal(details)
		if err != nil {
			return nil, fmt.Errorf("encode match details: %w", err)
		}
		res, err := tx.ExecContext(ctx, `
			insert into matches(id, organ_id, request_id, score, details, notified, created_at, updated_at)
			values ($1,$2,$3,$4,$5,$6,now(),now())
			on conflict (organ_id, request_id) do nothing
		`, rec.ID, rec.ListingID, rec.RequestID, rec.Score, detailsJSON, rec.Notified)
		if err != nil {
			return nil, err
		}
		inserted, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if inserted == 0 {
			// Lost the pair race to a concurrent pass; the existing row wins.
			continue
		}

		if rec.Notified {
			notices = append(notices, donation.PotentialMatchNotice(rec, c.listing, req))
		}
		results = append(results, donation.MatchResult{Listing: c.listing, Score: score, Details: details})
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })

	s.dispatch(ctx, requestID, notices)
	obs.MatchesComputed(len(results))
	obs.ObserveFindMatches(time.Since(start))
	return results, nil
}

func (s *Store) ScanListing(ctx context.Context, listingID string) (int, error) {
	l, err := s.GetListing(ctx, listingID)
	if err != nil {
		return 0, err
	}
	if !l.Available {
		return 0, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		select id from requests
		where status=$1 and organ=$2
		order by created_at asc, id asc
	`, donation.StatusOpen, l.Organ)
	if err != nil {
		return 0, err
	}
	var open []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		open = append(open, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

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

func (s *Store) ListMatches(ctx context.Context, requestID string) ([]donation.MatchRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, organ_id, request_id, score, details, notified, created_at, updated_at
		from matches
		where request_id=$1
		order by score desc, created_at asc
	`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []donation.MatchRecord
	for rows.Next() {
		var (
			rec         donation.MatchRecord
			detailsJSON []byte
		)
		if err := rows.Scan(&rec.ID, &rec.ListingID, &rec.RequestID, &rec.Score, &detailsJSON, &rec.Notified, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(detailsJSON, &rec.Details); err != nil {
			return nil, fmt.Errorf("decode match details %s: %w", rec.ID, err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (s *Store) dispatch(ctx context.Context, requestID string, notices []donation.Notification) {
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

// --- helpers ---

func loadRequestWithRecipient(ctx context.Context, tx *sql.Tx, requestID string) (donation.RecipientRequest, donation.Profile, error) {
	var (
		r       donation.RecipientRequest
		p       donation.Profile
		urgency sql.NullString
		age     sql.NullInt64
		height  sql.NullFloat64
		weight  sql.NullFloat64
	)
	err := tx.QueryRowContext(ctx, `
		select r.id, r.recipient_id, r.organ, r.blood_type, r.urgency, r.location, r.status,
		       p.id, p.age, p.height_cm, p.weight_kg, p.location
		from requests r
		join profiles p on p.id = r.recipient_id
		where r.id=$1
	`, requestID).Scan(&r.ID, &r.RecipientID, &r.Organ, &r.BloodType, &urgency, &r.Location, &r.Status,
		&p.ID, &age, &height, &weight, &p.Location)
	if errors.Is(err, sql.ErrNoRows) {
		return donation.RecipientRequest{}, donation.Profile{}, donation.ErrNotFound
	}
	if err != nil {
		return donation.RecipientRequest{}, donation.Profile{}, err
	}
	r.Urgency = donation.UrgencyLevel(urgency.String)
	p.Age = int(age.Int64)
	p.HeightCm = height.Float64
	p.WeightKg = weight.Float64
	return r, p, nil
}

// loadCandidates reads every available listing of the organ type that has no
// match record for the request yet, joined with its donor's vitals. Rows are
// fully drained before scoring so the transaction's connection is free for
// the subsequent inserts.
func loadCandidates(ctx context.Context, tx *sql.Tx, organ donation.OrganType, requestID string) ([]candidate, error) {
	rows, err := tx.QueryContext(ctx, `
		select o.id, o.donor_id, o.organ, o.blood_type, o.location, o.created_at, o.updated_at,
		       p.age, p.height_cm, p.weight_kg
		from organs o
		join profiles p on p.id = o.donor_id
		where o.available and o.organ = $1
		  and not exists (
			select 1 from matches m where m.organ_id = o.id and m.request_id = $2
		  )
		order by o.created_at asc, o.id asc
	`, organ, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []candidate
	for rows.Next() {
		var (
			c      candidate
			age    sql.NullInt64
			height sql.NullFloat64
			weight sql.NullFloat64
		)
		if err := rows.Scan(&c.listing.ID, &c.listing.DonorID, &c.listing.Organ, &c.listing.BloodType,
			&c.listing.Location, &c.listing.CreatedAt, &c.listing.UpdatedAt,
			&age, &height, &weight); err != nil {
			return nil, err
		}
		c.listing.Available = true
		c.donor = donation.Profile{
			ID:       c.listing.DonorID,
			Age:      int(age.Int64),
			HeightCm: height.Float64,
			WeightKg: weight.Float64,
		}
		c.vitals = c.donor.HasVitals()
		out = append(out, c)
	}
	return out, rows.Err()
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
