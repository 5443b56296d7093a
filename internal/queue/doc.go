// Package queue implements the simulator's event queue: a min-heap of
// (timestamp, callback) entries that drives every scheduled action in
// internal/simnet and internal/peer during a test run.
//
// The queue is the sole source of ordering and the sole owner of the
// seeded PRNG; nothing in this module reads the wall clock or a
// package-level random source.
package queue
