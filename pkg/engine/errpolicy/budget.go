package errpolicy

import (
	"fmt"
	"sync"
)

// Budget tracks resource units (tokens, calls, cost) consumed by
// resource-tagged nodes over one execution. Spend is checked before the
// work happens, so an over-budget node fails with ErrBudgetExhausted
// without performing its side effects.
type Budget struct {
	mu    sync.Mutex
	total float64
	used  float64

	// TripBreaker, when true, asks the engine to also open the failing
	// node's circuit on exhaustion (TriggerOnBudgetExhaustion).
	TripBreaker bool
}

// NewBudget creates a budget of total units. total <= 0 means unlimited.
func NewBudget(total float64) *Budget {
	return &Budget{total: total}
}

// Spend reserves cost units, failing with ErrBudgetExhausted if the
// reservation would exceed the budget. Nothing is consumed on failure.
func (b *Budget) Spend(cost float64) error {
	if b == nil || b.total <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.used+cost > b.total {
		return fmt.Errorf("%w: used %.1f + cost %.1f exceeds %.1f",
			ErrBudgetExhausted, b.used, cost, b.total)
	}
	b.used += cost
	return nil
}

// Refund returns cost units, used when reserved work was never performed.
func (b *Budget) Refund(cost float64) {
	if b == nil || b.total <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.used -= cost
	if b.used < 0 {
		b.used = 0
	}
}

// Remaining reports the unspent units, or -1 for an unlimited budget.
func (b *Budget) Remaining() float64 {
	if b == nil || b.total <= 0 {
		return -1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total - b.used
}

// Used reports the consumed units.
func (b *Budget) Used() float64 {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}
