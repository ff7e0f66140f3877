package audit

import (
	"context"

	"github.com/cin-tie/remote-shell/internal/telemetry"
)

// tracedJournal wraps a backend with spans.
type tracedJournal struct {
	Journal
	backend string
}

func (t *tracedJournal) Record(ctx context.Context, e Event) error {
	ctx, span := telemetry.StartAuditSpan(ctx, "record", t.backend,
		telemetry.Username(e.Username), telemetry.Command(e.Command))
	defer span.End()

	err := t.Journal.Record(ctx, e)
	telemetry.RecordError(ctx, err)
	return err
}

func (t *tracedJournal) List(ctx context.Context, f Filter) ([]Event, error) {
	ctx, span := telemetry.StartAuditSpan(ctx, "list", t.backend)
	defer span.End()

	events, err := t.Journal.List(ctx, f)
	telemetry.RecordError(ctx, err)
	return events, err
}

// Backend returns the name of the wrapped backend.
func (t *tracedJournal) Backend() string {
	return t.backend
}
