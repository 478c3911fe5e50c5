// Package call chains checks that return an error. Program registration
// uses it to run its validators in a fixed order
package call

// Call is one check with its arguments already bound
type Call func() error

// Perform runs each call in turn. The first error is returned as is and the
// remaining calls are skipped, so later checks may assume earlier ones held
func Perform(calls ...Call) error {
	for _, c := range calls {
		if err := c(); err != nil {
			return err
		}
	}
	return nil
}

// WithArg adapts a one-argument check, such as a name validator, to a Call
func WithArg[T any](check func(T) error, v T) Call {
	return func() error { return check(v) }
}

// WithArgs adapts a two-argument check to a Call. Registration binds the
// subject kind and its name this way
func WithArgs[T, U any](check func(T, U) error, t T, u U) Call {
	return func() error { return check(t, u) }
}
