package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"organlink.org/internal/donation"
	"organlink.org/internal/obs"
)

// Dispatcher wraps a delivery notifier with identifier stamping, an outbound
// rate cap and outcome metrics. It always returns nil: delivery failures are
// logged and counted, never propagated.
type Dispatcher struct {
	inner donation.Notifier
	lim   *rate.Limiter
}

// NewDispatcher builds a dispatcher with a token-bucket cap of perSecond
// sustained deliveries and the given burst.
func NewDispatcher(inner donation.Notifier, perSecond, burst int) *Dispatcher {
	return &Dispatcher{
		inner: inner,
		lim:   rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func (d *Dispatcher) Notify(ctx context.Context, n donation.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if err := d.lim.Wait(ctx); err != nil {
		obs.NotificationFailed()
		obs.Logger().Warn("notification dropped waiting for rate cap",
			zap.String("id", n.ID), zap.Error(err))
		return nil
	}
	if err := d.inner.Notify(ctx, n); err != nil {
		obs.NotificationFailed()
		obs.Logger().Warn("notification delivery failed",
			zap.String("id", n.ID),
			zap.String("recipient_id", n.RecipientID),
			zap.Error(err))
		return nil
	}
	obs.NotificationSent()
	return nil
}
