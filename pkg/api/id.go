package api

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

type (
	// ExecutionID identifies one run of a workflow program
	ExecutionID string

	// ProgramName identifies a registered workflow program
	ProgramName string

	// StepName identifies a step within an execution
	StepName string

	// Label names a callback wait point within an execution
	Label string

	// Token is the unguessable correlation id of a callback
	Token string
)

// InvalidIDChars matches characters not permitted in execution ids, step
// names, and labels. Valid characters are: letters, digits, underscore, dot,
// hyphen, colon
var InvalidIDChars = regexp.MustCompile(`[^a-zA-Z0-9_.\-:]`)

// NewExecutionID returns a time-ordered execution id
func NewExecutionID() ExecutionID {
	id, err := uuid.NewV7()
	if err != nil {
		return ExecutionID(uuid.NewString())
	}
	return ExecutionID(id.String())
}

// NewToken mints a callback token from 122 bits of crypto randomness
func NewToken() Token {
	return Token(uuid.NewString())
}

// ValidateToken rejects tokens that could not have been minted by NewToken
func ValidateToken(t Token) error {
	if t == "" {
		return fmt.Errorf("%w: token is required", ErrValidation)
	}
	id, err := uuid.Parse(string(t))
	if err != nil || id.Version() != 4 || id.String() != string(t) {
		return fmt.Errorf("%w: malformed token %q", ErrValidation, t)
	}
	return nil
}

// ValidateName checks an execution id, step name, or label
func ValidateName[T ~string](kind string, name T) error {
	if strings.TrimSpace(string(name)) == "" {
		return fmt.Errorf("%w: %s is required", ErrValidation, kind)
	}
	if InvalidIDChars.MatchString(string(name)) {
		return fmt.Errorf("%w: invalid %s %q", ErrValidation, kind, name)
	}
	return nil
}
