package eventpipe

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/randalmurphal/eventpipe/pkg/eventpipe/event"
	"github.com/randalmurphal/eventpipe/pkg/eventpipe/queue"
	"github.com/randalmurphal/eventpipe/pkg/eventpipe/validate"
)

// validateStage validates every event and takes the ingestion lock, which
// the enqueue stage releases once the events and their claims are stored.
func (p *Pipeline) validateStage(ctx Context, op *Operation) error {
	p.ingest.Lock()
	op.release = sync.OnceFunc(p.ingest.Unlock)

	op.claims = p.validator.NewBatch()
	op.Results = make([]validate.Result, 0, len(op.Events))
	for _, ev := range op.Events {
		res, err := op.claims.Validate(ctx, ev)
		if err != nil {
			return fmt.Errorf("validate %s: %w", ev.Name, err)
		}
		p.metrics.RecordValidation(ctx, ev.Name, issueCodes(res.Issues), res.Aborted)
		op.Results = append(op.Results, res)
	}
	return nil
}

// enqueueStage serializes the validated events and appends them in one call,
// then records the identity claims of the stored events. Ineligible events
// are dropped only when Settings.DropIneligible is set; events that cannot
// be serialized are always dropped.
func (p *Pipeline) enqueueStage(ctx Context, op *Operation) error {
	defer op.releaseIngest()

	batch := make([]queue.QueuedEvent, 0, len(op.Results))
	stored := make([]validate.Result, 0, len(op.Results))
	for _, res := range op.Results {
		if p.settings.DropIneligible && !res.Event.DispatchEligible() {
			op.Dropped++
			ctx.Logger().Debug("event dropped",
				slog.String("event", res.Event.Name),
				slog.Int("issues", len(res.Issues)))
			continue
		}
		qe, err := queue.NewQueuedEvent(res.Event)
		if err != nil {
			op.Dropped++
			ctx.Logger().Warn("event dropped",
				slog.String("event", res.Event.Name),
				slog.String("error", err.Error()))
			continue
		}
		batch = append(batch, qe)
		stored = append(stored, res)
	}

	if len(batch) > 0 {
		err := p.queue.Enqueue(ctx, batch)
		p.metrics.RecordEnqueue(ctx, len(batch), err)
		if err != nil {
			return err
		}
		op.Enqueued = len(batch)
		if depth, err := p.queue.Count(ctx); err == nil {
			p.metrics.RecordQueueDepth(ctx, depth)
		}
		if err := op.claims.Commit(ctx, stored...); err != nil {
			return fmt.Errorf("record identity: %w", err)
		}
	}

	if !op.DispatchNow {
		return ErrStop
	}
	return nil
}

// dispatchStage flushes one batch. Failures are recorded on the operation
// and logged; the events remain queued for the next flush.
func (p *Pipeline) dispatchStage(ctx Context, op *Operation) error {
	res, err := p.dispatcher.Flush(ctx)
	op.Dispatch = &res
	op.DispatchErr = err
	return nil
}

func issueCodes(issues []event.Issue) []string {
	if len(issues) == 0 {
		return nil
	}
	codes := make([]string, len(issues))
	for i, is := range issues {
		codes[i] = string(is.Code)
	}
	return codes
}
