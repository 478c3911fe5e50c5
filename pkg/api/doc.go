// Package api defines the core data types shared by the journal, the engine,
// and the HTTP surface
//
// This package contains execution, step, and callback records, the tagged
// payload type, retry policies, journal events, and the error taxonomy
// surfaced to workflow programs and external resolvers
package api
