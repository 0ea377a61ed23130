package errpolicy

import (
	"sync"
	"time"

	"github.com/flowcraft/engine/pkg/engine/registry"
	"github.com/sony/gobreaker"
)

// BreakerConfig shapes the per-node circuit breakers.
type BreakerConfig struct {
	// FailureThreshold is how many failures within FailureWindow open the
	// breaker.
	FailureThreshold uint32

	// FailureWindow is the interval failures are counted over. While the
	// breaker is closed its counts are cleared at the end of each
	// FailureWindow period (fixed windows, not a rolling one).
	FailureWindow time.Duration

	// OpenTimeout is how long the breaker stays open before allowing
	// half-open probes.
	OpenTimeout time.Duration

	// HalfOpenRetryCount is how many probe calls half-open admits; all
	// must succeed to close, any failure reopens.
	HalfOpenRetryCount uint32
}

// DefaultBreakerConfig mirrors the engine defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:   5,
		FailureWindow:      10 * time.Second,
		OpenTimeout:        30 * time.Second,
		HalfOpenRetryCount: 1,
	}
}

// StateChange reports one breaker transition.
type StateChange struct {
	NodeID string
	From   gobreaker.State
	To     gobreaker.State
}

// BreakerSet lazily creates one gobreaker per node id. While a node's
// breaker is open its executions short-circuit with gobreaker.ErrOpenState,
// which the classifier maps to KindCircuitBreakerOpen.
type BreakerSet struct {
	cfg      BreakerConfig
	breakers *registry.Registry[string, *gobreaker.CircuitBreaker]
	onChange func(StateChange)

	mu     sync.Mutex
	notify func(StateChange)
	forced map[string]time.Time
}

// NewBreakerSet creates a breaker set. onChange may be nil; when set it is
// called on every state transition (used by the engine to emit
// CircuitOpened/CircuitClosed events).
func NewBreakerSet(cfg BreakerConfig, onChange func(StateChange)) *BreakerSet {
	if cfg.FailureThreshold == 0 {
		cfg = DefaultBreakerConfig()
	}
	return &BreakerSet{
		cfg:      cfg,
		breakers: registry.New[string, *gobreaker.CircuitBreaker](),
		onChange: onChange,
		forced:   make(map[string]time.Time),
	}
}

// SetNotify installs the executor's transition listener. It is called in
// addition to the constructor's onChange callback.
func (b *BreakerSet) SetNotify(fn func(StateChange)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notify = fn
}

func (b *BreakerSet) fire(sc StateChange) {
	b.mu.Lock()
	notify := b.notify
	b.mu.Unlock()
	if b.onChange != nil {
		b.onChange(sc)
	}
	if notify != nil {
		notify(sc)
	}
}

// ForceOpen trips nodeID's breaker open for the configured OpenTimeout,
// used by the CircuitBreaker recovery action and TriggerOnBudgetExhaustion.
func (b *BreakerSet) ForceOpen(nodeID string) {
	b.mu.Lock()
	b.forced[nodeID] = time.Now().Add(b.cfg.OpenTimeout)
	b.mu.Unlock()
	b.fire(StateChange{NodeID: nodeID, From: gobreaker.StateClosed, To: gobreaker.StateOpen})
}

// IsOpen reports whether nodeID's breaker currently rejects work, from
// either accumulated failures or a ForceOpen.
func (b *BreakerSet) IsOpen(nodeID string) bool {
	b.mu.Lock()
	until, forced := b.forced[nodeID]
	if forced && time.Now().After(until) {
		delete(b.forced, nodeID)
		forced = false
	}
	b.mu.Unlock()
	if forced {
		return true
	}
	return b.For(nodeID).State() == gobreaker.StateOpen
}

// For returns the breaker guarding nodeID, creating it on first use.
func (b *BreakerSet) For(nodeID string) *gobreaker.CircuitBreaker {
	return b.breakers.GetOrCreate(nodeID, func() *gobreaker.CircuitBreaker {
		settings := gobreaker.Settings{
			Name:        nodeID,
			MaxRequests: b.cfg.HalfOpenRetryCount,
			Interval:    b.cfg.FailureWindow,
			Timeout:     b.cfg.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.TotalFailures >= b.cfg.FailureThreshold
			},
		}
		settings.OnStateChange = func(name string, from, to gobreaker.State) {
			b.fire(StateChange{NodeID: name, From: from, To: to})
		}
		return gobreaker.NewCircuitBreaker(settings)
	})
}

// State returns the current breaker state for nodeID, creating the breaker
// if it does not exist yet.
func (b *BreakerSet) State(nodeID string) gobreaker.State {
	return b.For(nodeID).State()
}
