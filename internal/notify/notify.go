// Package notify provides dispatch implementations of the donation.Notifier
// contract. The engine treats delivery as fire-and-forget: implementations
// here log and swallow failures so a broken delivery path can never roll
// back a match transaction.
package notify

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"organlink.org/internal/donation"
	"organlink.org/internal/obs"
	"organlink.org/internal/stream"
)

// Log writes notifications to the structured log. It stands in for the
// external delivery collaborator in development and smoke runs.
type Log struct{}

func (Log) Notify(ctx context.Context, n donation.Notification) error {
	obs.Logger().Info("notification",
		zap.String("id", n.ID),
		zap.String("recipient_id", n.RecipientID),
		zap.String("type", n.Type),
		zap.String("title", n.Title),
		zap.String("related_id", n.RelatedID),
		zap.String("urgency", n.Urgency))
	return nil
}

// Stream publishes notifications to an in-process event stream for live
// subscribers.
type Stream struct {
	s *stream.Stream
}

// NewStream wraps a stream as a notifier.
func NewStream(s *stream.Stream) *Stream {
	return &Stream{s: s}
}

func (p *Stream) Notify(ctx context.Context, n donation.Notification) error {
	p.s.Publish(stream.Event{
		ID:          n.ID,
		RecipientID: n.RecipientID,
		Type:        n.Type,
		Title:       n.Title,
		Message:     n.Message,
		RelatedID:   n.RelatedID,
		Urgency:     n.Urgency,
		Timestamp:   n.CreatedAt,
	})
	return nil
}

// Multi fans one notification out to several notifiers.
type Multi []donation.Notifier

func (m Multi) Notify(ctx context.Context, n donation.Notification) error {
	var errs []error
	for _, notifier := range m {
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder captures notifications for inspection in tests.
type Recorder struct {
	mu   sync.Mutex
	sent []donation.Notification

	// Err, when set, is returned by every Notify call.
	Err error
}

func (r *Recorder) Notify(ctx context.Context, n donation.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.sent = append(r.sent, n)
	return nil
}

// Sent returns a copy of everything recorded so far.
func (r *Recorder) Sent() []donation.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]donation.Notification, len(r.sent))
	copy(out, r.sent)
	return out
}
