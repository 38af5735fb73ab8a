// Package credits tracks the balance that staging jobs draw from.
package credits

import (
	"context"
	"errors"
	"fmt"

	"github.com/kiranshivaraju/stager/internal/store"
	"github.com/kiranshivaraju/stager/pkg/models"
	"github.com/kiranshivaraju/stager/pkg/pricing"
)

// LowBalanceThreshold is the balance under which Snapshot reports Low.
const LowBalanceThreshold = 20

var ErrInsufficientCredits = errors.New("insufficient credits")

// Ledger reads and moves credits. Persistence is delegated to the store so
// the check-and-decrement in Charge is atomic for every backend.
type Ledger struct {
	store store.Store
}

func NewLedger(st store.Store) *Ledger {
	return &Ledger{store: st}
}

// Snapshot returns the current balance together with the resolution price table.
func (l *Ledger) Snapshot(ctx context.Context) (models.Credits, error) {
	current, total, err := l.store.GetCredits(ctx)
	if err != nil {
		return models.Credits{}, fmt.Errorf("reading credits: %w", err)
	}
	return models.Credits{
		Current:           current,
		Total:             total,
		CostPerResolution: pricing.CostTable(),
		Low:               current < LowBalanceThreshold,
	}, nil
}

// Charge debits amount, or fails with ErrInsufficientCredits leaving the
// balance untouched. It returns the balance after the call.
func (l *Ledger) Charge(ctx context.Context, amount int) (int, error) {
	if amount < 0 {
		return 0, fmt.Errorf("charge amount must not be negative, got %d", amount)
	}
	current, err := l.store.DebitCredits(ctx, amount)
	if errors.Is(err, store.ErrInsufficientBalance) {
		return current, fmt.Errorf("%w: need %d, have %d", ErrInsufficientCredits, amount, current)
	}
	if err != nil {
		return 0, fmt.Errorf("debiting credits: %w", err)
	}
	return current, nil
}

// Refund returns amount to the balance, capped at the total.
func (l *Ledger) Refund(ctx context.Context, amount int) (int, error) {
	if amount < 0 {
		return 0, fmt.Errorf("refund amount must not be negative, got %d", amount)
	}
	current, err := l.store.CreditCredits(ctx, amount)
	if err != nil {
		return 0, fmt.Errorf("refunding credits: %w", err)
	}
	return current, nil
}

// TopUp adds purchased credits, capped at the total.
func (l *Ledger) TopUp(ctx context.Context, amount int) (models.Credits, error) {
	if amount <= 0 {
		return models.Credits{}, fmt.Errorf("top up amount must be positive, got %d", amount)
	}
	if _, err := l.store.CreditCredits(ctx, amount); err != nil {
		return models.Credits{}, fmt.Errorf("topping up credits: %w", err)
	}
	return l.Snapshot(ctx)
}
