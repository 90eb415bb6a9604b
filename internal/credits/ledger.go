// Package credits manages the per-user credit balance: checks before a paid
// call, holds while it runs, and the deduction or top-up afterwards.
//
// Flow for a chat message:
// 1. Reserve places an in-process hold for the message cost
// 2. The LLM is called
// 3. Consume deducts the cost on success, Release drops the hold on failure
// 4. Holds left behind by crashed requests expire and are swept
package credits

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nysa-labs/nysa-gateway/internal/database"
	"github.com/nysa-labs/nysa-gateway/internal/logging"
)

// Publisher receives balance changes.
type Publisher interface {
	PublishCredits(userID string, remaining float64)
}

// Recorder receives ledger metrics.
type Recorder interface {
	RecordCreditChange(kind string, amount float64, err error)
	SetActiveHolds(n int)
}

// Config holds pricing.
type Config struct {
	MessageCost float64
	PerToken    float64
	HoldTTL     time.Duration
}

// Ledger is the credit manager. Read-modify-write cycles on a balance are
// serialized within the process.
type Ledger struct {
	repo   database.Repository
	cfg    Config
	logger *logging.Logger

	publisher Publisher
	recorder  Recorder

	mu    sync.Mutex
	holds map[string]*Hold
	now   func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithPublisher sets the balance change publisher.
func WithPublisher(p Publisher) Option { return func(l *Ledger) { l.publisher = p } }

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option { return func(l *Ledger) { l.recorder = r } }

// NewLedger creates a ledger.
func NewLedger(repo database.Repository, cfg Config, logger *logging.Logger, opts ...Option) *Ledger {
	if cfg.MessageCost <= 0 {
		cfg.MessageCost = DefaultMessageCost
	}
	if cfg.PerToken <= 0 {
		cfg.PerToken = DefaultPerToken
	}
	if cfg.HoldTTL <= 0 {
		cfg.HoldTTL = DefaultHoldTTL
	}
	l := &Ledger{
		repo:   repo,
		cfg:    cfg,
		logger: logger,
		holds:  make(map[string]*Hold),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// MessageCost is the price of one chat message.
func (l *Ledger) MessageCost() float64 { return l.cfg.MessageCost }

// PerToken is the number of credits minted per burned token.
func (l *Ledger) PerToken() float64 { return l.cfg.PerToken }

// =============================================================================
// Checks and holds
// =============================================================================

// Check reports whether userID can afford cost after pending holds.
func (l *Ledger) Check(ctx context.Context, userID string, cost float64) (*Balance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	credits, err := l.repo.GetCredits(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("check credits: %w", err)
	}
	held := l.heldLocked(userID)

	available := math.Max(0, credits-held)
	return &Balance{
		Credits:    credits,
		Held:       held,
		Available:  available,
		Required:   cost,
		Sufficient: available >= cost,
	}, nil
}

// Reserve places a hold of cost on userID's balance. It returns a
// *ShortfallError when the available balance is too low.
func (l *Ledger) Reserve(ctx context.Context, userID string, cost float64, reference string) (*Hold, error) {
	if cost < 0 {
		return nil, ErrInvalidAmount
	}

	// The balance is read under the lock so it cannot interleave with a
	// settlement that has not yet written its new balance.
	l.mu.Lock()
	defer l.mu.Unlock()

	credits, err := l.repo.GetCredits(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("check credits: %w", err)
	}
	available := math.Max(0, credits-l.heldLocked(userID))
	if available < cost {
		return nil, &ShortfallError{Credits: available, Required: cost}
	}

	now := l.now()
	hold := &Hold{
		ID:        uuid.NewString(),
		UserID:    userID,
		Reference: reference,
		Amount:    cost,
		Status:    HoldPending,
		CreatedAt: now,
		ExpiresAt: now.Add(l.cfg.HoldTTL),
	}
	l.holds[hold.ID] = hold
	l.reportHoldsLocked()
	return hold, nil
}

// Release drops a pending hold. Unknown holds are ignored.
func (l *Ledger) Release(holdID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if hold, ok := l.holds[holdID]; ok {
		hold.Status = HoldReleased
		delete(l.holds, holdID)
		l.reportHoldsLocked()
	}
}

// Consume settles a hold by deducting its amount. The hold stays counted
// until the new balance is stored. The returned Deduction always describes
// the outcome; err is set when the deduction failed.
func (l *Ledger) Consume(ctx context.Context, holdID string) (*Deduction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	hold, ok := l.holds[holdID]
	if !ok {
		return &Deduction{Error: ErrHoldNotFound.Error()}, ErrHoldNotFound
	}
	d, err := l.deductLocked(ctx, hold.UserID, hold.Amount, hold.Reference)
	hold.Status = HoldConsumed
	delete(l.holds, holdID)
	l.reportHoldsLocked()
	return d, err
}

// ActiveHolds returns the number of pending holds.
func (l *Ledger) ActiveHolds() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.holds)
}

// SweepExpired drops holds past their expiry and returns how many.
func (l *Ledger) SweepExpired() int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	swept := 0
	for id, hold := range l.holds {
		if now.After(hold.ExpiresAt) {
			hold.Status = HoldExpired
			delete(l.holds, id)
			swept++
			l.logger.WithFields(map[string]interface{}{
				"hold_id": id,
				"user_id": hold.UserID,
				"amount":  hold.Amount,
			}).Warn("credit hold expired")
		}
	}
	if swept > 0 {
		l.reportHoldsLocked()
	}
	return swept
}

func (l *Ledger) heldLocked(userID string) float64 {
	var held float64
	for _, h := range l.holds {
		if h.UserID == userID {
			held += h.Amount
		}
	}
	return held
}

func (l *Ledger) reportHoldsLocked() {
	if l.recorder != nil {
		l.recorder.SetActiveHolds(len(l.holds))
	}
}

// =============================================================================
// Balance changes
// =============================================================================

// Deduct charges cost to userID: read the balance, store max(0, balance-cost)
// through update_user_credits and read it back. A failed read-back is logged
// only.
func (l *Ledger) Deduct(ctx context.Context, userID string, cost float64, reference string) (*Deduction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.deductLocked(ctx, userID, cost, reference)
}

func (l *Ledger) deductLocked(ctx context.Context, userID string, cost float64, reference string) (*Deduction, error) {
	entry := l.logger.WithContext(ctx).WithField("user_id", userID).WithField("cost", cost)

	current, err := l.repo.GetCredits(ctx, userID)
	if err != nil {
		err = fmt.Errorf("Failed to fetch current credits: %w", err)
		l.record("deduct", cost, err)
		return &Deduction{Error: err.Error()}, err
	}
	if current < cost {
		err := &ShortfallError{Credits: current, Required: cost}
		l.record("deduct", cost, err)
		return &Deduction{Remaining: current, Error: err.Error()}, err
	}

	newCredits := math.Max(0, current-cost)
	if err := l.repo.SetCredits(ctx, userID, newCredits); err != nil {
		err = fmt.Errorf("Failed to update credits: %w", err)
		l.record("deduct", cost, err)
		return &Deduction{Remaining: current, Error: err.Error()}, err
	}

	if verified, err := l.repo.GetCredits(ctx, userID); err != nil {
		entry.WithError(err).Error("verify credit update")
	} else if verified != newCredits {
		entry.WithField("expected", newCredits).WithField("actual", verified).Error("credit update verification failed")
	}

	if err := l.repo.InsertCreditLog(ctx, &database.CreditLog{
		UserID:          userID,
		Amount:          -cost,
		Type:            database.CreditLogChatMessage,
		TransactionHash: reference,
		Description:     fmt.Sprintf("Chat message (%s credits)", FormatAmount(cost)),
	}); err != nil {
		entry.WithError(err).Warn("write credit log")
	}

	entry.WithField("remaining", newCredits).Info("credits deducted")
	l.record("deduct", cost, nil)
	l.publish(userID, newCredits)
	return &Deduction{Deducted: cost, Remaining: newCredits, Success: true}, nil
}

// Add credits amount to userID and records the audit entry. It returns the
// new balance. Audit failures are logged and swallowed.
func (l *Ledger) Add(ctx context.Context, userID string, amount float64, audit database.CreditLog) (float64, error) {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0, ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	current, err := l.repo.GetCredits(ctx, userID)
	if err != nil {
		err = fmt.Errorf("Failed to fetch current credits: %w", err)
		l.record("add", amount, err)
		return 0, err
	}
	newCredits := current + amount
	if err := l.repo.SetCredits(ctx, userID, newCredits); err != nil {
		err = fmt.Errorf("Failed to update credits: %w", err)
		l.record("add", amount, err)
		return 0, err
	}

	audit.UserID = userID
	audit.Amount = amount
	if audit.Type == "" {
		audit.Type = database.CreditLogTokenConversion
	}
	if err := l.repo.InsertCreditLog(ctx, &audit); err != nil {
		l.logger.WithContext(ctx).WithError(err).Warn("write credit log")
	}

	l.record("add", amount, nil)
	l.publish(userID, newCredits)
	return newCredits, nil
}

// Credits returns the stored balance.
func (l *Ledger) Credits(ctx context.Context, userID string) (float64, error) {
	return l.repo.GetCredits(ctx, userID)
}

// History returns userID's most recent audit entries, newest first.
func (l *Ledger) History(ctx context.Context, userID string, limit int) ([]database.CreditLog, error) {
	logs, err := l.repo.ListCreditLogs(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list credit logs: %w", err)
	}
	return logs, nil
}

func (l *Ledger) record(kind string, amount float64, err error) {
	if l.recorder != nil {
		l.recorder.RecordCreditChange(kind, amount, err)
	}
}

func (l *Ledger) publish(userID string, remaining float64) {
	if l.publisher != nil {
		l.publisher.PublishCredits(userID, remaining)
	}
}
