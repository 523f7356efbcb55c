// Package engine drives Monte-Carlo simulations of the batch-to-period
// assignment problem.
//
// A simulation runs T independent trials. Each trial draws a yield matrix,
// solves it exactly and measures the relative loss of every heuristic
// against that optimum. Trials are checked for cancellation at their
// boundaries; a cancelled simulation returns a Checkpoint from which an
// identical configuration resumes without recomputing finished trials.
//
// Trial i always draws from a random stream derived from (seed, i), so the
// outcome does not depend on where a run was interrupted or on how many
// workers evaluated it.
package engine
