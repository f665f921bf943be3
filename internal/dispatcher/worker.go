package dispatcher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ricirt/offline-sync/internal/domain"
	"github.com/ricirt/offline-sync/internal/strategy"
)

// process replays one claimed item and moves it to its next state:
//
//	Success           → acked (duplicate: plus a resolved Low idempotency record)
//	PermanentFailure  → acked, Medium validation record, no budget consumed
//	RetryableFailure  → rescheduled after Delay(retryCount), or
//	                    Exhausted once the budget is spent: acked plus
//	                    exactly one Medium api record
//
// An outcome that cannot be persisted releases the claim instead, so the
// item is replayed again on a later drain.
func (d *Dispatcher) process(ctx context.Context, item *domain.QueueItem) {
	log := d.logger.With(
		zap.String("operation_id", item.ID),
		zap.String("kind", string(item.Kind)),
		zap.Int("retry_count", item.RetryCount),
	)
	// In-flight work is allowed to finish after shutdown or a connectivity
	// drop; only the replay timeout bounds it.
	bg := context.WithoutCancel(ctx)

	if err := d.limiter.Wait(ctx, item.Kind); err != nil {
		// Never reached the backend: give the claim back without cost.
		d.release(bg, log, item)
		return
	}

	rctx, cancel := context.WithTimeout(bg, d.replayTimeout)
	start := time.Now()
	out := d.replayer.Replay(rctx, item)
	elapsed := time.Since(start)
	cancel()

	switch out.Result {
	case strategy.Success:
		if err := d.q.Ack(bg, item.ID); err != nil {
			log.Error("failed to ack replayed operation", zap.Error(err))
			d.release(bg, log, item)
			return
		}
		if out.Duplicate {
			d.hooks.OnReplay(item.Kind, "duplicate", elapsed)
			d.count(func(r *DrainResult) { r.Duplicates++ })
			d.record(bg, log, domain.ErrorRecord{
				Category:   domain.CategoryIdempotency,
				Severity:   domain.SeverityLow,
				Message:    fmt.Sprintf("duplicate %s replay absorbed (idempotency key %s)", item.Kind, item.IdempotencyKey),
				Context:    recordContext("replay", item),
				Resolved:   true,
				UserImpact: domain.ImpactNone,
			})
			log.Info("duplicate replay absorbed", zap.Duration("latency", elapsed))
			return
		}
		d.hooks.OnReplay(item.Kind, "success", elapsed)
		d.count(func(r *DrainResult) { r.Succeeded++ })
		if out.Err != nil {
			log.Warn("replay succeeded with a bookkeeping error", zap.Error(out.Err))
		}
		log.Info("operation replayed", zap.Duration("latency", elapsed))

	case strategy.PermanentFailure:
		d.hooks.OnReplay(item.Kind, "permanent", elapsed)
		if err := d.q.Ack(bg, item.ID); err != nil {
			log.Error("failed to drop rejected operation", zap.Error(err))
			d.release(bg, log, item)
			return
		}
		d.count(func(r *DrainResult) { r.Permanent++ })
		d.record(bg, log, domain.ErrorRecord{
			Category:   domain.CategoryValidation,
			Severity:   domain.SeverityMedium,
			Message:    fmt.Sprintf("%s operation rejected: %s", item.Kind, out.Reason),
			Context:    recordContext("replay", item),
			UserImpact: impactOf(item.Kind),
		})
		log.Warn("operation permanently rejected", zap.String("reason", out.Reason))

	default:
		d.hooks.OnReplay(item.Kind, "retryable", elapsed)
		d.retryOrExhaust(bg, log, item, out.Err)
	}
}

func (d *Dispatcher) retryOrExhaust(ctx context.Context, log *zap.Logger, item *domain.QueueItem, cause error) {
	msg := "replay failed"
	if cause != nil {
		msg = cause.Error()
	}

	attempts := item.RetryCount + 1
	if attempts >= item.MaxRetries {
		if err := d.q.Ack(ctx, item.ID); err != nil {
			log.Error("failed to drop exhausted operation", zap.Error(err))
			d.release(ctx, log, item)
			return
		}
		d.hooks.OnExhausted(item.Kind)
		d.count(func(r *DrainResult) { r.Exhausted++ })
		d.record(ctx, log, domain.ErrorRecord{
			Category:   domain.CategoryAPI,
			Severity:   domain.SeverityMedium,
			Message:    fmt.Sprintf("%s operation dropped after %d attempts: %s", item.Kind, item.MaxRetries, msg),
			Context:    recordContext("replay", item),
			UserImpact: impactOf(item.Kind),
		})
		log.Warn("operation exhausted its retry budget", zap.String("last_error", msg))
		return
	}

	next := d.clock.Now().Add(d.backoff.Delay(item.RetryCount))
	if err := d.q.Reschedule(ctx, item.ID, attempts, next, msg); err != nil {
		log.Error("failed to schedule retry", zap.Error(err))
		d.release(ctx, log, item)
		return
	}
	d.count(func(r *DrainResult) { r.Retried++ })
	log.Info("replay failed, retry scheduled",
		zap.Time("next_attempt_at", next),
		zap.String("error", msg),
	)
}

func (d *Dispatcher) release(ctx context.Context, log *zap.Logger, item *domain.QueueItem) {
	if err := d.q.Release(ctx, item.ID); err != nil {
		log.Error("failed to release operation", zap.Error(err))
	}
	d.count(func(r *DrainResult) { r.Released++ })
}

func (d *Dispatcher) record(ctx context.Context, log *zap.Logger, rec domain.ErrorRecord) {
	if _, err := d.journal.LogError(ctx, rec); err != nil {
		log.Error("failed to journal replay outcome", zap.Error(err))
	}
}

func recordContext(action string, item *domain.QueueItem) domain.ErrorContext {
	return domain.ErrorContext{Action: action, OperationID: item.ID, Kind: item.Kind}
}

// impactOf estimates what losing an operation of kind k means to the user.
func impactOf(k domain.Kind) domain.UserImpact {
	switch k {
	case domain.KindPayment, domain.KindOrder, domain.KindBooking:
		return domain.ImpactModerate
	case domain.KindMessage:
		return domain.ImpactMinor
	default:
		return domain.ImpactNone
	}
}
