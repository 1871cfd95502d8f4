/*
Package eventpipe ingests analytics events, checks them against a
configurable schema, persists them in a durable queue and ships them to a
collection endpoint in batches.

# Overview

An event is a name plus an ordered set of typed parameters. Every tracked
event passes through a chain of stages:

	validate -> enqueue -> dispatch

The validate stage repairs what it can (the parameter limit) and attaches
issues for everything else. Issues never stop an event on their own; set
Settings.DropIneligible to discard events that miss mandatory parameters or
fail the type checks. The enqueue stage appends the serialized events to the
queue in one call. The dispatch stage only runs for TrackNow, or for Track
when Settings.FlushOnTrack is set; otherwise the background loop started by
Start ships batches every Settings.FlushInterval.

Delivery is at-least-once. A batch is removed from the queue only after the
endpoint accepted it; a failed submission leaves it in place and the same
bytes are sent again on the next flush.

# Basic Usage

	pipeline, err := eventpipe.New(eventpipe.Options{
	    Schemas:  schema.NewStore(snap),
	    Settings: &settings,
	})
	if err != nil {
	    log.Fatal(err)
	}
	defer pipeline.Close()

	if err := pipeline.Start(ctx); err != nil {
	    log.Fatal(err)
	}

	params, _ := event.ParamsFromPairs("amount", 9.99, "currency", "EUR")
	out, err := pipeline.Track(ctx, event.New("purchase", params))

# Identity

The set_user_id and set_email events claim an identity. The first claim of
each kind wins and persists in the kv store; a different value afterwards is
reported as invalidUserId or invalidEmail. ResetIdentity clears both claims.

# Chains

The stage chain is a general building block and can be used on its own:

	chain, err := eventpipe.NewChain().
	    AddStage("enrich", enrich).
	    AddStage("publish", publish).
	    Build()

	err = chain.Run(eventpipe.NewContext(ctx), &eventpipe.Operation{Events: events})

A stage returning ErrStop ends the chain without error. Errors are wrapped
in *StageError, panics are recovered into *PanicError and a done context
surfaces as *CancellationError.

# Observability

Pass observability.NewMetricsRecorder() or observability.NewPrometheusMetrics
as Options.Metrics, and observability.NewSpanManager() as Options.Spans.
Both default to no-ops. Logging goes through the slog.Logger in
Options.Logger, enriched with op_id and stage_id per stage.
*/
package eventpipe
