// Package engine drives pipeline runs end to end. It splits a dataset,
// snapshots the control object, hands splits to an execution engine, and
// either continues straight away or leaves the run for Resume once external
// runners have written their results.
package engine
