// Package tollgate is a durable step engine for workflows that pause for
// human approval
package tollgate

const (
	Name    = "tollgate"
	Version = "0.1.0"
)
