package notifier

import (
	"context"
	"errors"
	"fmt"

	"sjsage522/noticewatcher/logger"
	werrors "sjsage522/noticewatcher/pkg/errors"
)

// LogNotifier only logs messages; used for dry runs
type LogNotifier struct{}

// Name returns "log"
func (LogNotifier) Name() string { return "log" }

// Send logs msg
func (LogNotifier) Send(_ context.Context, msg Message) error {
	logger.ForNotifier().Info().
		Str("source", msg.SourceID).
		Str("title", msg.Title).
		Str("link", msg.Link).
		Msg(msg.Subject)
	return nil
}

// MultiNotifier fans a message out to several notifiers. Send succeeds only
// when every notifier accepted the message; a failure makes the caller
// retry the item later, so channels that already delivered may repeat it.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier combines notifiers
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Name lists the combined notifiers
func (m *MultiNotifier) Name() string {
	name := "multi"
	for i, n := range m.notifiers {
		if i == 0 {
			name += "("
		} else {
			name += ","
		}
		name += n.Name()
	}
	if len(m.notifiers) > 0 {
		name += ")"
	}
	return name
}

// Send delivers msg through every notifier
func (m *MultiNotifier) Send(ctx context.Context, msg Message) error {
	if len(m.notifiers) == 0 {
		return werrors.NewSend(msg.SourceID, "no notifier configured", nil)
	}

	var errs []error
	for _, n := range m.notifiers {
		if err := n.Send(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
		}
	}
	if len(errs) > 0 {
		return werrors.NewSend(msg.SourceID, fmt.Sprintf("%d of %d notifiers failed", len(errs), len(m.notifiers)), errors.Join(errs...))
	}
	return nil
}

// TrimStreams trims every notifier that keeps a backlog
func (m *MultiNotifier) TrimStreams(ctx context.Context) error {
	var errs []error
	for _, n := range m.notifiers {
		if t, ok := n.(Trimmer); ok {
			if err := t.TrimStreams(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
