// Package journal is the durable record of executions, steps, and callbacks
//
// Executions and callbacks are timebox aggregates keyed execution:<id> and
// callback:<token>. Every operation is a single aggregate command, so each
// write is atomic and visible to the next read, and concurrent writers to
// the same key are serialized by timebox's optimistic sequencing. The Index
// holds the Redis sorted sets that let sweeps find due work without scanning
// aggregates
package journal
