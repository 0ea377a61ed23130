// Package errpolicy classifies node failures into a closed error taxonomy
// and resolves them to recovery actions.
//
// The package implements three cooperating pieces:
//   - Classifier: maps raised errors to one of thirteen Kinds via a chain
//     of rules (exact type, then message pattern, then default)
//   - Registry: resolves (error context, node) to a PolicyRule through the
//     per-node -> per-node-pattern -> per-kind -> global precedence chain
//   - BreakerSet / Budget: per-node circuit breakers and per-execution
//     resource budgets that short-circuit work before it runs
//
// All registries are instance-scoped; the engine keeps no process-wide
// policy state.
package errpolicy
