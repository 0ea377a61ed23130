package engine

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/flowcraft/engine/pkg/engine/state"
	"github.com/flowcraft/engine/pkg/engine/template"
)

// RouteDecision is what a dynamic routing strategy returns: either a
// concrete target, a weighted distribution over targets, or Passthrough
// to fall through to static edge evaluation.
type RouteDecision struct {
	Target      string
	Weights     map[string]float64
	Passthrough bool
}

// Candidate is one eligible successor offered to a dynamic router: the
// edge target plus its advisory label.
type Candidate struct {
	NodeID string
	Label  string
}

// DynamicRouter picks successors before static edges are consulted. A
// decision that names a node outside the candidate set is discarded and
// routing falls back to static edges with a recorded warning.
type DynamicRouter interface {
	// Name identifies the strategy in logs and events.
	Name() string

	// Route picks among candidates for the node that just finished.
	Route(ctx Context, nodeID string, result NodeResult, s *state.State, candidates []Candidate) (RouteDecision, error)
}

// FirstMatchRouter is the default strategy: always pass through to static
// edge evaluation, which is deterministic first-match.
type FirstMatchRouter struct{}

// Name implements DynamicRouter.
func (FirstMatchRouter) Name() string { return "first_match" }

// Route implements DynamicRouter.
func (FirstMatchRouter) Route(_ Context, _ string, _ NodeResult, _ *state.State, _ []Candidate) (RouteDecision, error) {
	return RouteDecision{Passthrough: true}, nil
}

// ProbabilisticRouter picks a successor by weighted random draw. Weights
// come from the Weights map (keyed "fromNode/toNode") or default to uniform.
// The PRNG is seeded from the execution id, so a run with a fixed seed is
// reproducible.
type ProbabilisticRouter struct {
	// Weights maps "fromNode/toNode" to a relative weight. Missing
	// entries weigh 1.0.
	Weights map[string]float64

	// Seed overrides the execution-id-derived seed when non-zero
	// (determinismSeed option).
	Seed uint64
}

// Name implements DynamicRouter.
func (r *ProbabilisticRouter) Name() string { return "probabilistic" }

// Route implements DynamicRouter.
func (r *ProbabilisticRouter) Route(ctx Context, nodeID string, _ NodeResult, _ *state.State, candidates []Candidate) (RouteDecision, error) {
	if len(candidates) == 0 {
		return RouteDecision{Passthrough: true}, nil
	}

	seed := r.Seed
	if seed == 0 {
		seed = xxhash.Sum64String(ctx.RunID())
	}
	// Mix in the node id so each decision point draws independently but
	// reproducibly.
	rng := rand.New(rand.NewPCG(seed, xxhash.Sum64String(nodeID)))

	weights := make(map[string]float64, len(candidates))
	var total float64
	for _, c := range candidates {
		w := 1.0
		if r.Weights != nil {
			if v, ok := r.Weights[nodeID+"/"+c.NodeID]; ok {
				w = v
			}
		}
		if w < 0 {
			w = 0
		}
		weights[c.NodeID] = w
		total += w
	}
	if total <= 0 {
		return RouteDecision{Passthrough: true}, nil
	}

	draw := rng.Float64() * total
	for _, c := range candidates {
		draw -= weights[c.NodeID]
		if draw <= 0 {
			return RouteDecision{Target: c.NodeID, Weights: weights}, nil
		}
	}
	return RouteDecision{Target: candidates[len(candidates)-1].NodeID, Weights: weights}, nil
}

// Embedder turns text into a vector. It is an external collaborator; the
// engine only consumes the interface.
type Embedder func(ctx context.Context, text string) ([]float64, error)

// SimilarityRouter embeds a query built from state and picks the candidate
// whose edge label embeds closest (cosine similarity). Candidates without
// labels are skipped; if none are usable the router passes through.
type SimilarityRouter struct {
	// QueryTemplate is expanded against the state's variables to build
	// the query text, e.g. "route for: ${intent}".
	QueryTemplate string

	// Embed supplies the vectors.
	Embed Embedder
}

// Name implements DynamicRouter.
func (r *SimilarityRouter) Name() string { return "similarity" }

// Route implements DynamicRouter.
func (r *SimilarityRouter) Route(ctx Context, _ string, _ NodeResult, s *state.State, candidates []Candidate) (RouteDecision, error) {
	if r.Embed == nil || r.QueryTemplate == "" {
		return RouteDecision{Passthrough: true}, nil
	}

	query, err := template.NewExpander().Expand(r.QueryTemplate, s.Vars())
	if err != nil {
		return RouteDecision{}, fmt.Errorf("similarity router: expand query: %w", err)
	}
	queryVec, err := r.Embed(ctx, query)
	if err != nil {
		return RouteDecision{}, fmt.Errorf("similarity router: embed query: %w", err)
	}

	best := ""
	bestScore := math.Inf(-1)
	for _, c := range candidates {
		if c.Label == "" {
			continue
		}
		vec, err := r.Embed(ctx, c.Label)
		if err != nil {
			return RouteDecision{}, fmt.Errorf("similarity router: embed label %q: %w", c.Label, err)
		}
		score := cosine(queryVec, vec)
		if score > bestScore {
			bestScore = score
			best = c.NodeID
		}
	}
	if best == "" {
		return RouteDecision{Passthrough: true}, nil
	}
	return RouteDecision{Target: best}, nil
}

func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return -1
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return -1
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// NodeStatsSource supplies prior success/latency per node, implemented by
// observability.Collector.
type NodeStatsSource interface {
	NodeOutcome(nodeID string) (successRate float64, avgLatency time.Duration, samples int64)
}

// HistoryRouter favors the candidate with the best prior success rate,
// breaking ties by lower average latency, then declared order. Candidates
// with no history pass through to static routing until data accumulates.
type HistoryRouter struct {
	Stats NodeStatsSource

	// MinSamples is how much history a candidate needs before the router
	// trusts it. Defaults to 3.
	MinSamples int64
}

// Name implements DynamicRouter.
func (r *HistoryRouter) Name() string { return "history" }

// Route implements DynamicRouter.
func (r *HistoryRouter) Route(_ Context, _ string, _ NodeResult, _ *state.State, candidates []Candidate) (RouteDecision, error) {
	if r.Stats == nil {
		return RouteDecision{Passthrough: true}, nil
	}
	min := r.MinSamples
	if min <= 0 {
		min = 3
	}

	best := ""
	bestRate := -1.0
	bestLatency := time.Duration(math.MaxInt64)
	for _, c := range candidates {
		rate, latency, samples := r.Stats.NodeOutcome(c.NodeID)
		if samples < min {
			continue
		}
		if rate > bestRate || (rate == bestRate && latency < bestLatency) {
			best = c.NodeID
			bestRate = rate
			bestLatency = latency
		}
	}
	if best == "" {
		return RouteDecision{Passthrough: true}, nil
	}
	return RouteDecision{Target: best}, nil
}
