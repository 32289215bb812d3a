package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"organlink.org/internal/donation"
	"organlink.org/internal/notify"
)

// Runs the canonical two-listing kidney scenario against the in-memory
// engine and verifies scores, ordering, idempotence and both notification
// thresholds.
func main() {
	calc, err := donation.NewCalculator(donation.DefaultRules())
	if err != nil {
		log.Fatalf("calculator: %v", err)
	}
	rec := &notify.Recorder{}
	svc := donation.NewInMemory(calc, rec)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	donor1, err := svc.CreateProfile(ctx, donation.Profile{FullName: "Donor One", Age: 42, HeightCm: 172, WeightKg: 68})
	if err != nil {
		log.Fatalf("create donor1: %v", err)
	}
	donor2, err := svc.CreateProfile(ctx, donation.Profile{FullName: "Donor Two", Age: 40, HeightCm: 170, WeightKg: 70})
	if err != nil {
		log.Fatalf("create donor2: %v", err)
	}
	recipient, err := svc.CreateProfile(ctx, donation.Profile{FullName: "Recipient", Age: 40, HeightCm: 170, WeightKg: 70})
	if err != nil {
		log.Fatalf("create recipient: %v", err)
	}

	if _, err := svc.CreateListing(ctx, donor1.ID, donation.OrganKidney, donation.BloodONeg, "Nicosia, CY"); err != nil {
		log.Fatalf("create listing 1: %v", err)
	}
	if _, err := svc.CreateListing(ctx, donor2.ID, donation.OrganKidney, donation.BloodBPos, "Limassol, CY"); err != nil {
		log.Fatalf("create listing 2: %v", err)
	}

	req, err := svc.CreateRequest(ctx, recipient.ID, donation.OrganKidney, donation.BloodAPos, donation.UrgencyHigh, "Nicosia, CY")
	if err != nil {
		log.Fatalf("create request: %v", err)
	}

	results, err := svc.FindMatches(ctx, req.ID)
	if err != nil {
		log.Fatalf("find matches: %v", err)
	}
	if len(results) != 2 {
		log.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Score != 94.0 || results[1].Score != 54.0 {
		log.Fatalf("unexpected scores: %v, %v", results[0].Score, results[1].Score)
	}
	if n := len(rec.Sent()); n != 1 {
		log.Fatalf("expected 1 potential-match notification, got %d", n)
	}

	again, err := svc.FindMatches(ctx, req.ID)
	if err != nil {
		log.Fatalf("second find matches: %v", err)
	}
	if len(again) != 0 {
		log.Fatalf("second pass should be empty, got %d results", len(again))
	}

	announced := donation.AnnounceHighPotential(ctx, rec, calc.Rules().Thresholds.HighMatch, req, results)
	if announced != 1 {
		log.Fatalf("expected 1 high-potential announcement, got %d", announced)
	}

	fmt.Printf("✅ match engine smoke test passed: request=%s scores=[%.1f %.1f]\n",
		req.ID, results[0].Score, results[1].Score)
}
