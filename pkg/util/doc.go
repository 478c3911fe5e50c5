// Package util provides small generic data structures shared by the engine
//
// It holds the Set type, the StateTransitions tables that guard status
// changes on execution, step, and callback records, and the PathTree index
// used by the scheduler for prefix cancellation
package util
