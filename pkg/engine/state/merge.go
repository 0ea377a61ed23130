package state

import "fmt"

// MergePolicy decides how conflicting keys from a base and an overlay State
// are reconciled at a fork/join boundary.
type MergePolicy int

// The closed set of merge policies the join step may apply.
const (
	// PreferBase keeps the base branch's value whenever both sides wrote
	// the same key after the fork point.
	PreferBase MergePolicy = iota
	// PreferOverlay keeps the overlay branch's value on conflict.
	PreferOverlay
	// FailOnConflict aborts the merge, surfacing every conflicting key.
	FailOnConflict
	// Reduce combines conflicting values with a caller-supplied Reducer.
	Reduce
	// Custom hands the whole conflict set to a caller-supplied Merger.
	Custom
)

// Reducer combines two conflicting Values for a single key into one.
type Reducer func(key string, base, overlay Value) (Value, error)

// ReduceValues is the built-in Reducer used when MergeOptions.Reducer is
// nil: numbers are summed, lists concatenated, nested maps shallow-merged
// (overlay keys win inside the map). Any other kind pairing fails, forcing
// the caller to pick an explicit policy for that key.
func ReduceValues(key string, base, overlay Value) (Value, error) {
	if base.Kind != overlay.Kind {
		return Value{}, fmt.Errorf("kind mismatch: %s vs %s", base.Kind, overlay.Kind)
	}
	switch base.Kind {
	case KindInt64:
		return Int64(base.i64 + overlay.i64), nil
	case KindFloat64:
		return Float64(base.f64 + overlay.f64), nil
	case KindList:
		out := make([]Value, 0, len(base.list)+len(overlay.list))
		out = append(out, base.list...)
		out = append(out, overlay.list...)
		return List(out...), nil
	case KindMap:
		out := make(map[string]Value, len(base.m)+len(overlay.m))
		for k, v := range base.m {
			out[k] = v
		}
		for k, v := range overlay.m {
			out[k] = v
		}
		return Map(out), nil
	default:
		return Value{}, fmt.Errorf("kind %s is not reducible", base.Kind)
	}
}

// Merger resolves an entire conflict set at once, given the base and
// overlay States for context beyond the conflicting keys themselves.
type Merger func(base, overlay *State, conflicts []string) (map[string]Value, error)

// Conflict records one key that both branches wrote after their common
// ancestor.
type Conflict struct {
	Key          string
	BaseValue    Value
	OverlayValue Value
}

// MergeResult reports what a Merge call did: the merged State, every
// conflicting key, the value each conflict resolved to, and which policy
// was applied per key.
type MergeResult struct {
	Merged        *State
	Conflicts     []Conflict
	Resolved      map[string]Value
	AppliedPolicy map[string]MergePolicy
}

// MergeOptions configures a Merge call. Policy applies to every conflicting
// key unless KeyPolicies overrides it for that key; lists in particular
// should be given an explicit per-key policy so PreferOverlay and Reduce
// are never confused silently.
type MergeOptions struct {
	Policy      MergePolicy
	KeyPolicies map[string]MergePolicy
	Reducer     Reducer
	Merger      Merger

	// Ancestor, when set, is the common fork-point state. Conflict
	// detection then treats a key as written by the overlay only when it
	// differs from the ancestor, and as conflicting only when base AND
	// overlay both diverged from it. This is what join points use for
	// merge(merge(B,O1),O2): the second overlay's write conflicts with
	// the first's even when both wrote the same value. Nil falls back to
	// comparing against base directly.
	Ancestor *State
}

func (o MergeOptions) policyFor(key string) MergePolicy {
	if p, ok := o.KeyPolicies[key]; ok {
		return p
	}
	return o.Policy
}

// Merge reconciles overlay into base according to opts, returning a new
// State that shares neither's backing storage. Keys present in only one
// side are carried over unconditionally; only keys both sides wrote are
// conflicts subject to the policy.
func Merge(base, overlay *State, opts MergeOptions) (*MergeResult, error) {
	merged := base.Snapshot()

	var conflicts []Conflict
	resolved := make(map[string]Value)

	for _, k := range overlay.Keys() {
		ov, _ := overlay.TryGetValue(k)
		bv, inBase := base.TryGetValue(k)
		if !inBase {
			if err := merged.Replace(k, ov); err != nil {
				return nil, err
			}
			continue
		}

		if opts.Ancestor != nil {
			av, inAnc := opts.Ancestor.TryGetValue(k)
			overlayWrote := !inAnc || !ov.Equal(av)
			baseWrote := !inAnc || !bv.Equal(av)
			if !overlayWrote {
				continue
			}
			if !baseWrote {
				if err := merged.Replace(k, ov); err != nil {
					return nil, err
				}
				continue
			}
		} else if bv.Equal(ov) {
			continue
		}
		conflicts = append(conflicts, Conflict{Key: k, BaseValue: bv, OverlayValue: ov})
	}

	applied := make(map[string]MergePolicy, len(conflicts))

	if len(conflicts) == 0 {
		return &MergeResult{Merged: merged, Resolved: resolved, AppliedPolicy: applied}, nil
	}

	var customKeys []string
	for _, c := range conflicts {
		p := opts.policyFor(c.Key)
		applied[c.Key] = p

		switch p {
		case PreferBase:
			// merged already holds base's value.
		case PreferOverlay:
			if err := merged.Replace(c.Key, c.OverlayValue); err != nil {
				return nil, err
			}
			resolved[c.Key] = c.OverlayValue
		case FailOnConflict:
			return nil, fmt.Errorf("state: merge conflict on key %q", c.Key)
		case Reduce:
			reducer := opts.Reducer
			if reducer == nil {
				reducer = ReduceValues
			}
			v, err := reducer(c.Key, c.BaseValue, c.OverlayValue)
			if err != nil {
				return nil, fmt.Errorf("state: reduce key %q: %w", c.Key, err)
			}
			if err := merged.Replace(c.Key, v); err != nil {
				return nil, err
			}
			resolved[c.Key] = v
		case Custom:
			customKeys = append(customKeys, c.Key)
		default:
			return nil, fmt.Errorf("state: unknown merge policy %d", p)
		}
	}

	if len(customKeys) > 0 {
		if opts.Merger == nil {
			return nil, fmt.Errorf("state: Custom policy requires a Merger")
		}
		values, err := opts.Merger(base, overlay, customKeys)
		if err != nil {
			return nil, fmt.Errorf("state: custom merge: %w", err)
		}
		for _, k := range customKeys {
			v, ok := values[k]
			if !ok {
				return nil, fmt.Errorf("state: custom merger did not resolve key %q", k)
			}
			if err := merged.Replace(k, v); err != nil {
				return nil, err
			}
			resolved[k] = v
		}
	}

	return &MergeResult{Merged: merged, Conflicts: conflicts, Resolved: resolved, AppliedPolicy: applied}, nil
}
