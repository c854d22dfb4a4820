// Package task provides the background execution primitives of the notifier:
// a bounded worker pool that fans a batch of units of work out to a fixed
// number of goroutines and lets the caller await the whole batch, and a
// scheduler that fires a job on a fixed wall-clock cadence.
package task
