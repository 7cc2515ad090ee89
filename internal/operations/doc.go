// Package operations runs the analysis pipeline as a graph of steps.
//
// Core Components:
//
// Manager: executes registered steps sequentially in dependency order,
// applying per-step timeouts and retrying failures marked retryable. A
// failure skips the remaining steps, or only its dependents when the
// config continues on error.
//
// Step: a single unit of work. Steps hand artifacts to each other through
// the OperationState context (loaded tables, the panel, the final table,
// regression results, plot files).
//
// Registry: registration, lookup and topological ordering of steps.
//
// OperationTracer: one span per run and per step attempt, plus the
// pipeline metrics recorded on the run's meter.
//
// Pipeline: wires the concrete steps for a configuration:
//
//	load -> panel -> membership -> classify -> factors -> regress -> export
//	                                                  \-> visualize
//
// Example usage:
//
//	p, err := operations.NewPipeline(ctx, cfg, operations.PipelineDeps{
//		Logger:  logger,
//		Summary: os.Stdout,
//	})
//	if err != nil {
//		return err
//	}
//	defer p.Close()
//	res, err := p.Run(ctx)
package operations
