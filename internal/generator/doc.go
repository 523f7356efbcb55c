// Package generator synthesises yield matrices for the batch-to-period
// assignment problem.
//
// Row i is a batch harvested once, column j is the processing day. Column 0
// holds the initial quality of the batch; later columns follow from it by
// multiplicative decay, optionally preceded by a ripening (growth) phase and
// followed by an inorganic-impurity loss. Generation is a pure function of
// the configuration and an injected random source, so trials can be
// reproduced and evaluated in parallel.
package generator
