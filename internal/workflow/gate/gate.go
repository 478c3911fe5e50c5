// Package gate implements the minimal approval gate: wait for a callback
// and record that it was passed
package gate

import (
	"context"
	"time"

	"github.com/kode4food/tollgate/internal/engine"
	"github.com/kode4food/tollgate/pkg/api"
	"github.com/kode4food/tollgate/pkg/log"
)

// Outcome is the result of a gate program
type Outcome struct {
	Resolution *api.Resolution `json:"resolution"`
	Notified   bool            `json:"notified"`
}

const (
	Name       api.ProgramName = "approval-gate"
	Label      api.Label       = "awaiting-approval"
	StepNotify api.StepName    = "notify-result"
)

// Program builds a program that holds until its callback settles. A zero
// timeout uses three minutes
func Program(timeout time.Duration) *engine.Program {
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	return &engine.Program{
		Name: Name,
		Run: func(c *engine.Context, _ api.Payload) (api.Payload, error) {
			token, p, err := c.CreateCallback(Label, timeout)
			if err != nil {
				return api.Payload{}, err
			}
			c.Logger().Info("Gate waiting", log.Token(token))

			res, err := c.Await(p)
			if err != nil {
				return api.Payload{}, err
			}

			notified, err := engine.Step(c, StepNotify,
				func(context.Context) (bool, error) {
					c.Logger().Info("Gate passed", log.Token(token))
					return true, nil
				},
			)
			if err != nil {
				return api.Payload{}, err
			}
			return api.NewPayload(api.SchemaJSON, &Outcome{
				Resolution: res,
				Notified:   notified,
			})
		},
	}
}
