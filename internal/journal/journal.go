// Package journal keeps the bounded, durable history of failures shown on
// the sync status screen.
package journal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ricirt/offline-sync/internal/domain"
	"github.com/ricirt/offline-sync/internal/repository"
)

const (
	DefaultCapacity   = 500
	defaultRecent     = 10
	escalationTimeout = 5 * time.Second
)

// Escalator delivers critical records through an alternate channel.
type Escalator interface {
	Escalate(ctx context.Context, rec domain.ErrorRecord) error
}

// EscalatorFunc adapts a plain function to Escalator.
type EscalatorFunc func(ctx context.Context, rec domain.ErrorRecord) error

func (f EscalatorFunc) Escalate(ctx context.Context, rec domain.ErrorRecord) error {
	return f(ctx, rec)
}

// Options configures a Journal.
type Options struct {
	Capacity  int
	Escalator Escalator
	// OnRecord is called after every append, outside the lock.
	OnRecord func(domain.ErrorRecord)
	Now      func() time.Time
}

// Journal is an append-only, bounded error log. The oldest records are
// evicted first once Capacity is reached. Writes go through the repository
// while the lock is held.
type Journal struct {
	mu       sync.Mutex
	repo     repository.ErrorRepository
	logger   *zap.Logger
	capacity int
	escalate Escalator
	onRecord func(domain.ErrorRecord)
	now      func() time.Time

	records []*domain.ErrorRecord // oldest first
}

// Open loads persisted records and returns a ready Journal.
func Open(ctx context.Context, repo repository.ErrorRepository, opts Options, logger *zap.Logger) (*Journal, error) {
	j := &Journal{
		repo:     repo,
		logger:   logger,
		capacity: opts.Capacity,
		escalate: opts.Escalator,
		onRecord: opts.OnRecord,
		now:      opts.Now,
	}
	if j.capacity <= 0 {
		j.capacity = DefaultCapacity
	}
	if j.now == nil {
		j.now = time.Now
	}
	if j.onRecord == nil {
		j.onRecord = func(domain.ErrorRecord) {}
	}

	records, err := repo.LoadErrors(ctx)
	if err != nil {
		return nil, fmt.Errorf("load errors: %w", err)
	}
	j.records = records

	// A lowered capacity takes effect on open.
	if over := len(j.records) - j.capacity; over > 0 {
		ids := make([]string, over)
		for i := 0; i < over; i++ {
			ids[i] = j.records[i].ID
		}
		if err := repo.DeleteErrors(ctx, ids); err != nil {
			return nil, fmt.Errorf("trim errors: %w", err)
		}
		j.records = j.records[over:]
	}
	return j, nil
}

// LogError appends rec and returns its id. ID and Timestamp are filled in
// when empty. A Critical record is then escalated on a best-effort basis.
func (j *Journal) LogError(ctx context.Context, rec domain.ErrorRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = j.now().UTC()
	}
	if !rec.Severity.IsValid() {
		rec.Severity = domain.SeverityMedium
	}
	if rec.UserImpact == "" {
		rec.UserImpact = domain.ImpactNone
	}

	j.mu.Lock()
	var evict []string
	if over := len(j.records) + 1 - j.capacity; over > 0 {
		for i := 0; i < over; i++ {
			evict = append(evict, j.records[i].ID)
		}
	}
	if err := j.repo.AppendError(ctx, &rec, evict); err != nil {
		j.mu.Unlock()
		return "", fmt.Errorf("append error record: %w", err)
	}
	stored := rec
	j.records = append(j.records[len(evict):], &stored)
	j.mu.Unlock()

	j.onRecord(rec)
	if rec.Severity == domain.SeverityCritical {
		j.escalateRecord(ctx, rec)
	}
	return rec.ID, nil
}

// escalateRecord never lets a failure or panic escape, and never writes to
// the journal: an escalation problem must not produce another record.
func (j *Journal) escalateRecord(ctx context.Context, rec domain.ErrorRecord) {
	if j.escalate == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			j.logger.Warn("escalation panicked", zap.String("record_id", rec.ID), zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), escalationTimeout)
	defer cancel()
	if err := j.escalate.Escalate(ctx, rec); err != nil {
		j.logger.Warn("escalation failed", zap.String("record_id", rec.ID), zap.Error(err))
	}
}

// Report journals err with a category derived from its sentinel chain.
// It is the explicit error-reporting callback for call sites.
func (j *Journal) Report(ctx context.Context, err error, severity domain.Severity, ec domain.ErrorContext) (string, error) {
	if err == nil {
		return "", nil
	}
	return j.LogError(ctx, domain.ErrorRecord{
		Category:   domain.ClassifyError(err),
		Severity:   severity,
		Message:    err.Error(),
		Context:    ec,
		UserImpact: impactFor(severity),
	})
}

func impactFor(s domain.Severity) domain.UserImpact {
	switch s {
	case domain.SeverityCritical:
		return domain.ImpactSevere
	case domain.SeverityHigh:
		return domain.ImpactModerate
	case domain.SeverityMedium:
		return domain.ImpactMinor
	default:
		return domain.ImpactNone
	}
}

// MarkResolved flags a record as resolved.
func (j *Journal) MarkResolved(ctx context.Context, id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	for _, r := range j.records {
		if r.ID != id {
			continue
		}
		if r.Resolved {
			return nil
		}
		if err := j.repo.MarkErrorResolved(ctx, id); err != nil {
			return fmt.Errorf("resolve error record: %w", err)
		}
		r.Resolved = true
		return nil
	}
	return domain.ErrNotFound
}

// ClearResolved drops every resolved record and reports how many went.
func (j *Journal) ClearResolved(ctx context.Context) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var ids []string
	kept := make([]*domain.ErrorRecord, 0, len(j.records))
	for _, r := range j.records {
		if r.Resolved {
			ids = append(ids, r.ID)
			continue
		}
		kept = append(kept, r)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := j.repo.DeleteErrors(ctx, ids); err != nil {
		return 0, fmt.Errorf("clear resolved errors: %w", err)
	}
	j.records = kept
	return len(ids), nil
}

// Statistics counts records by category and severity and returns up to
// recent of the newest records, newest first. recent <= 0 uses a default.
func (j *Journal) Statistics(recent int) domain.ErrorStatistics {
	if recent <= 0 {
		recent = defaultRecent
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	st := domain.ErrorStatistics{
		Total:      len(j.records),
		ByCategory: make(map[domain.Category]int, len(domain.Categories)),
		BySeverity: make(map[domain.Severity]int, len(domain.Severities)),
	}
	for _, c := range domain.Categories {
		st.ByCategory[c] = 0
	}
	for _, s := range domain.Severities {
		st.BySeverity[s] = 0
	}
	for _, r := range j.records {
		st.ByCategory[r.Category]++
		st.BySeverity[r.Severity]++
		if !r.Resolved {
			st.Unresolved++
		}
	}
	for i := len(j.records) - 1; i >= 0 && len(st.Recent) < recent; i-- {
		st.Recent = append(st.Recent, *j.records[i])
	}
	return st
}

// Get returns a copy of the record with id.
func (j *Journal) Get(id string) (domain.ErrorRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, r := range j.records {
		if r.ID == id {
			return *r, nil
		}
	}
	return domain.ErrorRecord{}, domain.ErrNotFound
}
