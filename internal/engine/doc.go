// Package engine runs durable programs: ordered sequences of named steps and
// callback awaits whose outcomes are journaled, so an execution can be
// replayed from the top after a crash or a suspension without repeating
// completed side effects
package engine
