package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"organlink.org/internal/donation"
	"organlink.org/internal/notify"
)

func newStore(t *testing.T) (*Store, sqlmock.Sqlmock, *notify.Recorder) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	calc, err := donation.NewCalculator(donation.DefaultRules())
	if err != nil {
		t.Fatalf("NewCalculator: %v", err)
	}
	rec := &notify.Recorder{}
	return NewWithDB(db, calc, rec), mock, rec
}

func requestColumns() []string {
	return []string{"id", "recipient_id", "organ", "blood_type", "urgency", "location", "status",
		"p_id", "age", "height_cm", "weight_kg", "p_location"}
}

func candidateColumns() []string {
	return []string{"id", "donor_id", "organ", "blood_type", "location", "created_at", "updated_at",
		"age", "height_cm", "weight_kg"}
}

func expectRequestLoad(mock sqlmock.Sqlmock, requestID string) {
	mock.ExpectQuery(regexp.QuoteMeta("join profiles p on p.id = r.recipient_id")).
		WithArgs(requestID).
		WillReturnRows(sqlmock.NewRows(requestColumns()).
			AddRow(requestID, "recipient-1", "kidney", "A+", "high", "Nicosia, CY", "open",
				"recipient-1", 40, 170.0, 70.0, "Nicosia, CY"))
}

func TestFindMatchesPersistsAndNotifies(t *testing.T) {
	store, mock, rec := newStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	expectRequestLoad(mock, "req-1")
	mock.ExpectQuery(regexp.QuoteMeta("join profiles p on p.id = o.donor_id")).
		WithArgs("kidney", "req-1").
		WillReturnRows(sqlmock.NewRows(candidateColumns()).
			AddRow("organ-1", "donor-1", "kidney", "O-", "Nicosia, CY", now, now, 42, 172.0, 68.0).
			AddRow("organ-2", "donor-2", "kidney", "B+", "Limassol, CY", now, now, 40, 170.0, 70.0))
	mock.ExpectExec(regexp.QuoteMeta("on conflict (organ_id, request_id) do nothing")).
		WithArgs(sqlmock.AnyArg(), "organ-1", "req-1", 94.0, sqlmock.AnyArg(), true).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("on conflict (organ_id, request_id) do nothing")).
		WithArgs(sqlmock.AnyArg(), "organ-2", "req-1", 54.0, sqlmock.AnyArg(), false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	results, err := store.FindMatches(context.Background(), "req-1")
	if err != nil {
		t.Fatalf("FindMatches: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Score != 94.0 || results[1].Score != 54.0 {
		t.Fatalf("scores: %v %v", results[0].Score, results[1].Score)
	}
	if results[0].Listing.ID != "organ-1" {
		t.Fatalf("ordering: first listing %s", results[0].Listing.ID)
	}
	// one score crosses the potential threshold, dispatched after commit
	sent := rec.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(sent))
	}
	if sent[0].RecipientID != "recipient-1" {
		t.Fatalf("notification target: %s", sent[0].RecipientID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindMatchesConflictLosesRace(t *testing.T) {
	store, mock, rec := newStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	expectRequestLoad(mock, "req-1")
	mock.ExpectQuery(regexp.QuoteMeta("join profiles p on p.id = o.donor_id")).
		WithArgs("kidney", "req-1").
		WillReturnRows(sqlmock.NewRows(candidateColumns()).
			AddRow("organ-1", "donor-1", "kidney", "O-", "Nicosia, CY", now, now, 42, 172.0, 68.0))
	// a concurrent pass inserted the pair first
	mock.ExpectExec(regexp.QuoteMeta("on conflict (organ_id, request_id) do nothing")).
		WithArgs(sqlmock.AnyArg(), "organ-1", "req-1", 94.0, sqlmock.AnyArg(), true).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	results, err := store.FindMatches(context.Background(), "req-1")
	if err != nil {
		t.Fatalf("FindMatches: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("race loser must report nothing, got %d", len(results))
	}
	if len(rec.Sent()) != 0 {
		t.Fatalf("race loser must not notify, got %d", len(rec.Sent()))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindMatchesSkipsCandidateWithoutVitals(t *testing.T) {
	store, mock, _ := newStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	expectRequestLoad(mock, "req-1")
	mock.ExpectQuery(regexp.QuoteMeta("join profiles p on p.id = o.donor_id")).
		WithArgs("kidney", "req-1").
		WillReturnRows(sqlmock.NewRows(candidateColumns()).
			AddRow("organ-1", "donor-1", "kidney", "O-", "Nicosia, CY", now, now, nil, nil, nil).
			AddRow("organ-2", "donor-2", "kidney", "O-", "Nicosia, CY", now, now, 40, 170.0, 70.0))
	// only the complete candidate is scored and inserted
	mock.ExpectExec(regexp.QuoteMeta("on conflict (organ_id, request_id) do nothing")).
		WithArgs(sqlmock.AnyArg(), "organ-2", "req-1", 100.0, sqlmock.AnyArg(), true).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	results, err := store.FindMatches(context.Background(), "req-1")
	if err != nil {
		t.Fatalf("FindMatches: %v", err)
	}
	if len(results) != 1 || results[0].Listing.ID != "organ-2" {
		t.Fatalf("expected only the complete candidate, got %+v", results)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindMatchesUnknownRequest(t *testing.T) {
	store, mock, _ := newStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("join profiles p on p.id = r.recipient_id")).
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := store.FindMatches(context.Background(), "nope")
	if !errors.Is(err, donation.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindMatchesCandidateQueryErrorRollsBack(t *testing.T) {
	store, mock, rec := newStore(t)
	boom := errors.New("connection reset")

	mock.ExpectBegin()
	expectRequestLoad(mock, "req-1")
	mock.ExpectQuery(regexp.QuoteMeta("join profiles p on p.id = o.donor_id")).
		WithArgs("kidney", "req-1").
		WillReturnError(boom)
	mock.ExpectRollback()

	_, err := store.FindMatches(context.Background(), "req-1")
	if !errors.Is(err, boom) {
		t.Fatalf("expected candidate query error, got %v", err)
	}
	if len(rec.Sent()) != 0 {
		t.Fatalf("failed pass must not notify, got %d", len(rec.Sent()))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestScanListingSkipsUnavailable(t *testing.T) {
	store, mock, _ := newStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("from organs where id=$1")).
		WithArgs("organ-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "donor_id", "organ", "blood_type", "location", "available", "created_at", "updated_at"}).
			AddRow("organ-1", "donor-1", "kidney", "O-", "Nicosia, CY", false, now, now))

	created, err := store.ScanListing(context.Background(), "organ-1")
	if err != nil {
		t.Fatalf("ScanListing: %v", err)
	}
	if created != 0 {
		t.Fatalf("unavailable listing must scan nothing, got %d", created)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestListMatchesDecodesDetails(t *testing.T) {
	store, mock, _ := newStore(t)
	now := time.Now().UTC()

	details := donation.MatchDetails{
		BloodType: donation.BloodTypeDetail{Score: 100, Compatible: true},
		Age:       donation.RangeDetail{Score: 90, Difference: 2},
		Location:  donation.LocationDetail{Score: 100, Distance: "Same City"},
	}
	raw, err := json.Marshal(details)
	if err != nil {
		t.Fatalf("marshal details: %v", err)
	}

	mock.ExpectQuery(regexp.QuoteMeta("order by score desc, created_at asc")).
		WithArgs("req-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "organ_id", "request_id", "score", "details", "notified", "created_at", "updated_at"}).
			AddRow("m-1", "organ-1", "req-1", 94.0, raw, true, now, now))

	recs, err := store.ListMatches(context.Background(), "req-1")
	if err != nil {
		t.Fatalf("ListMatches: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if recs[0].Score != 94.0 || !recs[0].Notified {
		t.Fatalf("record: %+v", recs[0])
	}
	if !recs[0].Details.BloodType.Compatible || recs[0].Details.Age.Difference != 2 {
		t.Fatalf("details lost in decode: %+v", recs[0].Details)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMarkUnavailableNotFound(t *testing.T) {
	store, mock, _ := newStore(t)

	mock.ExpectExec(regexp.QuoteMeta("update organs set available=false")).
		WithArgs("nope").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.MarkUnavailable(context.Background(), "nope"); !errors.Is(err, donation.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetProfileNotFound(t *testing.T) {
	store, mock, _ := newStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("from profiles where id=$1")).
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)

	if _, err := store.GetProfile(context.Background(), "nope"); !errors.Is(err, donation.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateListingUnknownDonor(t *testing.T) {
	store, mock, _ := newStore(t)

	mock.ExpectExec(regexp.QuoteMeta("insert into organs")).
		WillReturnError(&pgconn.PgError{Code: "23503"})

	_, err := store.CreateListing(context.Background(), "ghost", donation.OrganKidney, donation.BloodONeg, "Nicosia, CY")
	if !errors.Is(err, donation.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on foreign key violation, got %v", err)
	}
}

func TestCreateListingRejectsInvalidEnums(t *testing.T) {
	store, _, _ := newStore(t)

	if _, err := store.CreateListing(context.Background(), "d", donation.OrganType("spleen"), donation.BloodONeg, "x"); !errors.Is(err, donation.ErrInvalidOrganType) {
		t.Fatalf("expected ErrInvalidOrganType, got %v", err)
	}
	if _, err := store.CreateRequest(context.Background(), "r", donation.OrganKidney, donation.BloodType("C+"), donation.UrgencyLow, "x"); !errors.Is(err, donation.ErrInvalidBloodType) {
		t.Fatalf("expected ErrInvalidBloodType, got %v", err)
	}
}

func TestListOpenRequestsUrgencyOrder(t *testing.T) {
	store, mock, _ := newStore(t)
	now := time.Now().UTC()

	cols := []string{"id", "recipient_id", "organ", "blood_type", "urgency", "location", "status", "created_at", "updated_at"}
	mock.ExpectQuery(regexp.QuoteMeta("case urgency")).
		WithArgs(donation.StatusOpen).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("req-a", "r1", "kidney", "A+", "critical", "x", "open", now, now).
			AddRow("req-b", "r2", "liver", "B+", "low", "y", "open", now, now))

	open, err := store.ListOpenRequests(context.Background())
	if err != nil {
		t.Fatalf("ListOpenRequests: %v", err)
	}
	if len(open) != 2 || open[0].Urgency != donation.UrgencyCritical || open[1].Urgency != donation.UrgencyLow {
		t.Fatalf("unexpected rows: %+v", open)
	}
}
