package credits

import (
	"context"
	"errors"
	"fmt"
)

// ErrInvalidAmount indicates a negative deduction was requested.
var ErrInvalidAmount = errors.New("deduction amount must not be negative")

// BalanceStore persists per-user credit balances. DeductCredits must be
// atomic with respect to concurrent deductions for the same user and must
// clamp the decrement so the balance never goes negative.
type BalanceStore interface {
	Credits(ctx context.Context, userID string) (int, error)
	DeductCredits(ctx context.Context, userID string, amount int) (int, error)
}

// Controller is the admission gate for processing jobs: it reads balances
// without side effects and charges users for clips actually produced.
type Controller struct {
	store BalanceStore
}

// NewController constructs a Controller over the provided store.
func NewController(store BalanceStore) *Controller {
	return &Controller{store: store}
}

// Balance returns the user's current credit balance.
func (c *Controller) Balance(ctx context.Context, userID string) (int, error) {
	balance, err := c.store.Credits(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("read credit balance: %w", err)
	}
	return balance, nil
}

// Deduct decrements the user's balance by min(balance, amount) and returns
// the amount actually deducted. A zero amount is a no-op.
func (c *Controller) Deduct(ctx context.Context, userID string, amount int) (int, error) {
	if amount < 0 {
		return 0, ErrInvalidAmount
	}
	if amount == 0 {
		return 0, nil
	}

	deducted, err := c.store.DeductCredits(ctx, userID, amount)
	if err != nil {
		return 0, fmt.Errorf("deduct credits: %w", err)
	}
	return deducted, nil
}
