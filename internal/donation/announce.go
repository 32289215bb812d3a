package donation

import (
	"context"

	"go.uber.org/zap"

	"organlink.org/internal/obs"
)

// AnnounceHighPotential applies the caller-side high-match policy: it walks
// a returned match list and, for every result at or above the threshold,
// notifies both the recipient and the donor. This is deliberately separate
// from the potential-match notification the engine fires at record-creation
// time; the two thresholds are independent policies. Delivery failures are
// logged and never abort the iteration. Returns the number of results
// announced.
func AnnounceHighPotential(ctx context.Context, notifier Notifier, threshold float64, req RecipientRequest, results []MatchResult) int {
	if notifier == nil {
		return 0
	}
	announced := 0
	for _, res := range results {
		if res.Score < threshold {
			continue
		}
		if err := notifier.Notify(ctx, highPotentialRecipientNotice(req, res)); err != nil {
			obs.Logger().Warn("high-potential recipient notice failed",
				zap.String("request_id", req.ID),
				zap.String("listing_id", res.Listing.ID),
				zap.Error(err))
		}
		if err := notifier.Notify(ctx, highPotentialDonorNotice(req, res)); err != nil {
			obs.Logger().Warn("high-potential donor notice failed",
				zap.String("request_id", req.ID),
				zap.String("listing_id", res.Listing.ID),
				zap.Error(err))
		}
		announced++
	}
	return announced
}
