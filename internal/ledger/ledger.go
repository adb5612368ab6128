// Package ledger owns the invariant that a jar's current amount equals the
// sum of its confirmed contributions.
//
// Applying a contribution is a two-step write without a cross-item
// transaction: insert the confirmed contribution, then atomically increment
// the jar. If the increment fails the contribution is deleted again. Both
// writes ignore caller cancellation and run under the operation timeout.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/svirmi/lifejar-payments/internal/events"
	"github.com/svirmi/lifejar-payments/internal/model"
	"github.com/svirmi/lifejar-payments/internal/repository"
)

var (
	ErrInvalidEntry          = errors.New("invalid ledger entry")
	ErrJarNotFound           = errors.New("jar not found")
	ErrDuplicate             = errors.New("contribution already applied")
	ErrAggregateUpdateFailed = errors.New("aggregate update failed")
	ErrStorage               = errors.New("ledger storage failure")
)

// Error is returned by every failing ledger operation. Kind is one of the
// Err* sentinels above; errors.Is matches both Kind and the underlying cause.
type Error struct {
	Kind      error
	JarID     string
	Reference string
	// Existing is set for ErrDuplicate.
	Existing *model.Contribution
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%v (jar %s, reference %s)", e.Kind, e.JarID, e.Reference)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Retryable reports whether the same entry may succeed if applied again.
func (e *Error) Retryable() bool {
	return e.Kind == ErrAggregateUpdateFailed || e.Kind == ErrStorage
}

type Store interface {
	repository.JarStore
	repository.ContributionStore
}

// Entry is a confirmed payment to be applied.
type Entry struct {
	JarID                 string
	Reference             string
	ProviderTransactionID string
	Amount                decimal.Decimal
	Currency              string
	ContributorName       string
	ContributorEmail      string
	Anonymous             bool
}

type Ledger struct {
	store                Store
	publisher            events.Publisher
	logger               *slog.Logger
	opTimeout            time.Duration
	compensationAttempts int
	compensationBackoff  time.Duration
}

type Option func(*Ledger)

// WithOperationTimeout bounds each storage write and its compensation.
func WithOperationTimeout(d time.Duration) Option {
	return func(l *Ledger) { l.opTimeout = d }
}

func WithCompensationRetry(attempts int, backoff time.Duration) Option {
	return func(l *Ledger) {
		l.compensationAttempts = attempts
		l.compensationBackoff = backoff
	}
}

func New(store Store, publisher events.Publisher, logger *slog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		store:                store,
		publisher:            publisher,
		logger:               logger,
		opTimeout:            10 * time.Second,
		compensationAttempts: 3,
		compensationBackoff:  100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ApplyConfirmedContribution records e and increments the jar by e.Amount.
func (l *Ledger) ApplyConfirmedContribution(ctx context.Context, e Entry) (*model.Contribution, error) {
	fail := func(kind, cause error) *Error {
		return &Error{Kind: kind, JarID: e.JarID, Reference: e.Reference, Err: cause}
	}

	if e.JarID == "" || e.Reference == "" {
		return nil, fail(ErrInvalidEntry, errors.New("jar id and reference are required"))
	}
	if !e.Amount.IsPositive() {
		return nil, fail(ErrInvalidEntry, fmt.Errorf("amount must be positive, got %s", e.Amount))
	}

	if _, err := l.store.GetJar(ctx, e.JarID); err != nil {
		if errors.Is(err, repository.ErrJarNotFound) {
			return nil, fail(ErrJarNotFound, err)
		}
		return nil, fail(ErrStorage, err)
	}

	c := &model.Contribution{
		ID:                    uuid.NewString(),
		JarID:                 e.JarID,
		Reference:             e.Reference,
		ProviderTransactionID: e.ProviderTransactionID,
		ContributorName:       e.ContributorName,
		ContributorEmail:      e.ContributorEmail,
		Amount:                e.Amount,
		Currency:              strings.ToUpper(e.Currency),
		Status:                model.ContributionConfirmed,
		IsAnonymous:           e.Anonymous,
	}

	// Step 1: insert. The storage uniqueness constraint on reference is what
	// makes duplicate deliveries a no-op. From here on caller cancellation is
	// ignored so a committed insert is never mistaken for a failed one.
	detached := context.WithoutCancel(ctx)
	insCtx, cancel := context.WithTimeout(detached, l.opTimeout)
	err := l.store.InsertContribution(insCtx, c)
	cancel()
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateContribution):
			return nil, l.duplicate(detached, e, err)
		case errors.Is(err, repository.ErrJarNotFound):
			return nil, fail(ErrJarNotFound, err)
		}
		stored, existing := l.resolveInsert(detached, c)
		switch {
		case existing != nil:
			dup := fail(ErrDuplicate, err)
			dup.Existing = existing
			return nil, dup
		case !stored:
			return nil, fail(ErrStorage, err)
		}
		l.logger.Warn("insert reported an error but committed, continuing",
			"jarID", e.JarID, "reference", e.Reference, "contributionID", c.ID, "error", err)
	}

	// Step 2: increment.
	incCtx, cancel := context.WithTimeout(detached, l.opTimeout)
	err = l.store.IncrementJarAmount(incCtx, e.JarID, e.Amount)
	cancel()
	if err != nil {
		l.logger.Error("aggregate update failed, compensating",
			"jarID", e.JarID, "reference", e.Reference, "contributionID", c.ID, "error", err)
		l.compensate(detached, c)
		return nil, fail(ErrAggregateUpdateFailed, err)
	}

	l.logger.Info("contribution applied",
		"jarID", e.JarID, "reference", e.Reference, "contributionID", c.ID,
		"amount", c.Amount.String(), "currency", c.Currency)

	ev := events.NewEvent(events.TopicContributionConfirmed, e.JarID, e.Reference)
	ev.TransactionID = e.ProviderTransactionID
	ev.Amount = c.Amount
	ev.Currency = c.Currency
	events.Emit(detached, l.publisher, l.logger, ev)

	return c, nil
}

func (l *Ledger) duplicate(ctx context.Context, e Entry, cause error) *Error {
	gctx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()
	existing, err := l.store.GetContributionByReference(gctx, e.Reference)
	if err != nil {
		l.logger.Warn("duplicate contribution could not be loaded", "reference", e.Reference, "error", err)
	}
	return &Error{Kind: ErrDuplicate, JarID: e.JarID, Reference: e.Reference, Existing: existing, Err: cause}
}

// resolveInsert settles an insert whose outcome is unknown. stored reports
// that c itself is in storage; existing is set when another delivery holds
// the reference. If storage cannot answer, c is deleted by ID so that a
// later redelivery starts clean.
func (l *Ledger) resolveInsert(ctx context.Context, c *model.Contribution) (stored bool, existing *model.Contribution) {
	gctx, cancel := context.WithTimeout(ctx, l.opTimeout)
	got, err := l.store.GetContributionByReference(gctx, c.Reference)
	cancel()
	switch {
	case err == nil && got.ID == c.ID:
		return true, nil
	case err == nil:
		return false, got
	case errors.Is(err, repository.ErrContributionNotFound):
		return false, nil
	}
	l.logger.Error("insert outcome unknown, compensating",
		"jarID", c.JarID, "reference", c.Reference, "contributionID", c.ID, "error", err)
	l.compensate(ctx, c)
	return false, nil
}

// compensate deletes c, retrying a few times. A contribution that still
// cannot be deleted is logged as orphaned for manual repair.
func (l *Ledger) compensate(ctx context.Context, c *model.Contribution) {
	var err error
	for attempt := 1; attempt <= l.compensationAttempts; attempt++ {
		dctx, cancel := context.WithTimeout(ctx, l.opTimeout)
		err = l.store.DeleteContribution(dctx, c)
		cancel()
		if err == nil || errors.Is(err, repository.ErrContributionNotFound) {
			l.logger.Warn("contribution rolled back", "jarID", c.JarID, "reference", c.Reference, "contributionID", c.ID)
			return
		}
		if attempt < l.compensationAttempts {
			time.Sleep(l.compensationBackoff * time.Duration(attempt))
		}
	}
	l.logger.Error("compensating delete failed, contribution orphaned",
		"jarID", c.JarID, "reference", c.Reference, "contributionID", c.ID,
		"amount", c.Amount.String(), "error", err)
}
