package engine

import (
	"time"

	"github.com/flowcraft/engine/pkg/engine/config"
	"github.com/flowcraft/engine/pkg/engine/errpolicy"
	"github.com/flowcraft/engine/pkg/engine/event"
	"github.com/flowcraft/engine/pkg/engine/governor"
	"github.com/flowcraft/engine/pkg/engine/state"
)

// RunOptionsFromConfig maps a loaded configuration (YAML/JSON via the
// config package) onto run options, so the whole option surface is
// file-drivable. Recognized keys:
//
//	max_execution_steps, execution_timeout, node_timeout, drain_window,
//	max_checkpoints_retained,
//	enable_streaming, stream_buffer, stream_dlq_capacity,
//	enable_resource_governance, base_permits_per_second, max_burst,
//	cpu_soft_limit_pct, cpu_hard_watermark_pct, min_available_memory_mb,
//	sample_interval, default_priority (low|normal|high|critical),
//	enable_error_recovery, max_retries, retry_delay, backoff_multiplier,
//	jitter, resource_budget, max_parallel_nodes,
//	merge_policy (prefer_base|prefer_overlay|reduce|fail_on_conflict),
//	determinism_seed
//
// Stores, collectors, and custom strategies stay programmatic; pass them
// as extra options after these. Checkpointing itself (store and cadence)
// is not read from the config; it is enabled with WithCheckpointing.
func RunOptionsFromConfig(cfg config.Config) []RunOption {
	var opts []RunOption

	if n := cfg.Int("max_execution_steps", 0); n > 0 {
		opts = append(opts, WithMaxExecutionSteps(n))
	}
	if d := cfg.Duration("execution_timeout", 0); d > 0 {
		opts = append(opts, WithExecutionTimeout(d))
	}
	if d := cfg.Duration("node_timeout", 0); d > 0 {
		opts = append(opts, WithNodeTimeout(d))
	}
	if d := cfg.Duration("drain_window", 0); d > 0 {
		opts = append(opts, WithDrainWindow(d))
	}
	if n := cfg.Int("max_checkpoints_retained", 0); n > 0 {
		opts = append(opts, WithMaxCheckpointsRetained(n))
	}
	if n := cfg.Int("max_parallel_nodes", 0); n > 0 {
		opts = append(opts, WithMaxParallelNodes(n))
	}

	if cfg.Bool("enable_streaming", false) {
		streamCfg := event.StreamConfig{
			BufferSize: cfg.Int("stream_buffer", 0),
		}
		if n := cfg.Int("stream_dlq_capacity", 0); n > 0 {
			streamCfg.DeadLetter = event.NewDLQ(n)
		}
		opts = append(opts, WithEventStream(event.NewStream(streamCfg)))
	}

	if cfg.Bool("enable_resource_governance", false) {
		opts = append(opts, WithGovernor(governor.New(governor.Config{
			BasePermitsPerSecond: cfg.Float("base_permits_per_second", 0),
			MaxBurst:             cfg.Int("max_burst", 0),
			CPUSoftLimitPct:      cfg.Float("cpu_soft_limit_pct", 0),
			CPUHardWatermarkPct:  cfg.Float("cpu_hard_watermark_pct", 0),
			MinAvailableMemoryMB: uint64(cfg.Int("min_available_memory_mb", 0)),
			SampleInterval:       cfg.Duration("sample_interval", 0),
		})))
	}
	switch cfg.String("default_priority", "") {
	case "low":
		opts = append(opts, WithDefaultPriority(governor.PriorityLow))
	case "high":
		opts = append(opts, WithDefaultPriority(governor.PriorityHigh))
	case "critical":
		opts = append(opts, WithDefaultPriority(governor.PriorityCritical))
	}

	if cfg.Bool("enable_error_recovery", false) {
		reg := errpolicy.NewRegistry()
		reg.SetGlobal(errpolicy.PolicyRule{
			Action:            errpolicy.ActionRetry,
			MaxRetries:        cfg.Int("max_retries", 3),
			RetryDelay:        cfg.Duration("retry_delay", time.Second),
			BackoffMultiplier: cfg.Float("backoff_multiplier", 2.0),
			Jitter:            cfg.Bool("jitter", true),
		})
		opts = append(opts, WithErrorPolicies(reg))
	}
	if b := cfg.Float("resource_budget", 0); b > 0 {
		opts = append(opts, WithBudget(errpolicy.NewBudget(b)))
	}

	switch cfg.String("merge_policy", "") {
	case "prefer_overlay":
		opts = append(opts, WithMergeOptions(state.MergeOptions{Policy: state.PreferOverlay}))
	case "reduce":
		opts = append(opts, WithMergeOptions(state.MergeOptions{Policy: state.Reduce}))
	case "fail_on_conflict":
		opts = append(opts, WithMergeOptions(state.MergeOptions{Policy: state.FailOnConflict}))
	}

	if seed := cfg.Int("determinism_seed", 0); seed > 0 {
		opts = append(opts, WithDeterminismSeed(uint64(seed)))
	}

	return opts
}
