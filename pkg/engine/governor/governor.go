// Package governor provides priority-aware admission control for node
// execution: a weighted token bucket, starvation protection for queued
// low-priority work, and adaptive throttling driven by live CPU and memory
// sampling.
package governor

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"golang.org/x/time/rate"
)

// Priority orders competing acquires. Higher priorities pay a discounted
// effective cost; Critical work is still admitted when the host is
// saturated.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// String returns the priority name.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// costMultiplier scales a request's weight by priority.
func (p Priority) costMultiplier() float64 {
	switch p {
	case PriorityLow:
		return 1.5
	case PriorityHigh:
		return 0.6
	case PriorityCritical:
		return 0.5
	default:
		return 1.0
	}
}

func (p Priority) escalate() Priority {
	if p >= PriorityCritical {
		return PriorityCritical
	}
	return p + 1
}

// Config shapes the governor. The zero value means "no governance":
// Acquire admits everything immediately.
type Config struct {
	// BasePermitsPerSecond is the sustained refill rate of the bucket.
	// <= 0 disables rate limiting entirely.
	BasePermitsPerSecond float64

	// MaxBurst is the bucket capacity. Defaults to the ceiling of
	// BasePermitsPerSecond when unset.
	MaxBurst int

	// CPUSoftLimitPct scales the effective rate down proportionally once
	// sampled CPU exceeds it. 0 disables.
	CPUSoftLimitPct float64

	// CPUHardWatermarkPct admits only Critical work while sampled CPU
	// exceeds it. 0 disables.
	CPUHardWatermarkPct float64

	// MinAvailableMemoryMB admits only Critical work while available
	// memory is below it. 0 disables.
	MinAvailableMemoryMB uint64

	// SampleInterval is how often CPU/memory are sampled. 0 disables
	// adaptive throttling.
	SampleInterval time.Duration

	// StarvationThreshold escalates a queued request one priority level
	// after it has waited this long. Defaults to 5s.
	StarvationThreshold time.Duration
}

// Lease is a granted permit. Release it exactly once on every exit path;
// Release is idempotent so a deferred call is always safe.
type Lease struct {
	Weight     float64
	Priority   Priority
	AcquiredAt time.Time
	Queued     time.Duration

	once sync.Once
	g    *Governor
}

// Release returns the lease. Tokens are not refunded (leaky-bucket
// semantics); Release only updates the governor's in-flight accounting.
func (l *Lease) Release() {
	if l == nil {
		return
	}
	l.once.Do(func() {
		if l.g != nil {
			l.g.mu.Lock()
			l.g.inFlight--
			l.g.mu.Unlock()
		}
	})
}

// Governor is the admission controller. Safe for concurrent use.
type Governor struct {
	cfg     Config
	limiter *rate.Limiter

	mu           sync.Mutex
	scale        float64
	criticalOnly bool
	inFlight     int

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a governor and, when SampleInterval is set, starts its
// load-sampling loop. Call Close to stop the sampler.
func New(cfg Config) *Governor {
	if cfg.StarvationThreshold <= 0 {
		cfg.StarvationThreshold = 5 * time.Second
	}

	limit := rate.Inf
	burst := math.MaxInt32
	if cfg.BasePermitsPerSecond > 0 {
		limit = rate.Limit(cfg.BasePermitsPerSecond)
		burst = cfg.MaxBurst
		if burst <= 0 {
			burst = int(math.Ceil(cfg.BasePermitsPerSecond))
		}
	}

	g := &Governor{
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
		scale:   1.0,
		stop:    make(chan struct{}),
	}
	if cfg.SampleInterval > 0 {
		go g.sampleLoop()
	}
	return g
}

// Close stops the sampling loop. Outstanding leases remain valid.
func (g *Governor) Close() {
	g.stopOnce.Do(func() { close(g.stop) })
}

// Acquire blocks until a permit for the given weight and priority is
// granted, ctx is done, or the host stays saturated past ctx's deadline.
// Weight defaults to 1 when <= 0.
func (g *Governor) Acquire(ctx context.Context, weight float64, priority Priority) (*Lease, error) {
	if weight <= 0 {
		weight = 1.0
	}
	start := time.Now()

	// Hold in a short poll while only Critical is admitted. Cancellation
	// and deadline win immediately.
	for priority < PriorityCritical && g.isCriticalOnly() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
		if time.Since(start) > g.cfg.StarvationThreshold {
			priority = priority.escalate()
		}
	}

	effective := priority.costMultiplier() * weight
	tokens := int(math.Ceil(effective))
	if tokens < 1 {
		tokens = 1
	}
	if tokens > g.limiter.Burst() {
		tokens = g.limiter.Burst()
	}

	// Starvation protection: wait in threshold-sized slices, escalating
	// one priority level each time a slice expires without a permit.
	// WaitN fails fast when the needed refill exceeds the slice deadline,
	// so an unexpired slice is waited out before retrying.
	for {
		sliceStart := time.Now()
		waitCtx, cancel := context.WithTimeout(ctx, g.cfg.StarvationThreshold)
		err := g.limiter.WaitN(waitCtx, tokens)
		cancel()
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if remaining := g.cfg.StarvationThreshold - time.Since(sliceStart); remaining > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(remaining):
			}
		}
		if priority < PriorityCritical {
			priority = priority.escalate()
			effective = priority.costMultiplier() * weight
			tokens = int(math.Ceil(effective))
			if tokens < 1 {
				tokens = 1
			}
		}
	}

	g.mu.Lock()
	g.inFlight++
	g.mu.Unlock()

	return &Lease{
		Weight:     weight,
		Priority:   priority,
		AcquiredAt: time.Now(),
		Queued:     time.Since(start),
		g:          g,
	}, nil
}

// InFlight reports the number of unreleased leases.
func (g *Governor) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight
}

func (g *Governor) isCriticalOnly() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.criticalOnly
}

// sampleLoop periodically reads CPU and available memory and adjusts the
// effective rate: proportional scale-down past the soft limit, Critical-only
// admission past the hard watermark or memory floor.
func (g *Governor) sampleLoop() {
	ticker := time.NewTicker(g.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.stop:
			return
		case <-ticker.C:
			g.sampleOnce()
		}
	}
}

func (g *Governor) sampleOnce() {
	cpuPct := g.sampleCPU()
	availMB := g.sampleAvailableMemoryMB()

	g.mu.Lock()
	defer g.mu.Unlock()

	g.criticalOnly = false
	if g.cfg.CPUHardWatermarkPct > 0 && cpuPct > g.cfg.CPUHardWatermarkPct {
		g.criticalOnly = true
	}
	if g.cfg.MinAvailableMemoryMB > 0 && availMB > 0 && availMB < g.cfg.MinAvailableMemoryMB {
		g.criticalOnly = true
	}

	scale := 1.0
	if g.cfg.CPUSoftLimitPct > 0 && cpuPct > g.cfg.CPUSoftLimitPct {
		over := cpuPct - g.cfg.CPUSoftLimitPct
		span := 100 - g.cfg.CPUSoftLimitPct
		if span > 0 {
			scale = 1.0 - over/span
		}
		if scale < 0.1 {
			scale = 0.1
		}
	}
	if scale != g.scale && g.cfg.BasePermitsPerSecond > 0 {
		g.scale = scale
		g.limiter.SetLimit(rate.Limit(g.cfg.BasePermitsPerSecond * scale))
	}
}

func (g *Governor) sampleCPU() float64 {
	pcts, err := cpu.Percent(0, false)
	if err != nil || len(pcts) == 0 {
		return 0
	}
	return pcts[0]
}

func (g *Governor) sampleAvailableMemoryMB() uint64 {
	vm, err := mem.VirtualMemory()
	if err != nil || vm == nil {
		return 0
	}
	return vm.Available / (1024 * 1024)
}

// Snapshot reports the governor's current adaptive settings, for metrics
// and tests.
type Snapshot struct {
	Scale        float64
	CriticalOnly bool
	InFlight     int
}

// Stats returns the current Snapshot.
func (g *Governor) Stats() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Snapshot{Scale: g.scale, CriticalOnly: g.criticalOnly, InFlight: g.inFlight}
}
