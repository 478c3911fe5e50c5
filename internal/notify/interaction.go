package notify

import (
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/kode4food/tollgate/pkg/api"
)

// Interaction is a decoded button click
type Interaction struct {
	Token    api.Token
	Approved bool
	User     string
	ActionID string
}

// ParseInteraction decodes the JSON carried in the payload form field of a
// Slack interactive request. The first action's value must carry a token
// and a boolean approved flag
func ParseInteraction(payload string) (*Interaction, error) {
	if payload == "" || !gjson.Valid(payload) {
		return nil, fmt.Errorf("%w: payload is not JSON", ErrBadInteraction)
	}

	action := gjson.Get(payload, "actions.0")
	if !action.Exists() {
		return nil, fmt.Errorf("%w: no actions", ErrBadInteraction)
	}
	value := action.Get("value").String()
	if !gjson.Valid(value) {
		return nil, fmt.Errorf("%w: action value is not JSON",
			ErrBadInteraction)
	}

	token := gjson.Get(value, "token")
	if token.String() == "" {
		return nil, fmt.Errorf("%w: action has no token", ErrBadInteraction)
	}

	res := &Interaction{
		Token:    api.Token(token.String()),
		User:     gjson.Get(payload, "user.id").String(),
		ActionID: action.Get("action_id").String(),
	}

	approved := gjson.Get(value, "approved")
	if approved.Type != gjson.True && approved.Type != gjson.False {
		return nil, fmt.Errorf("%w: action has no decision",
			ErrBadInteraction)
	}
	res.Approved = approved.Bool()
	return res, nil
}

// Payload returns the canonical approval resolution for the interaction
func (i *Interaction) Payload() api.Payload {
	return api.NewApproval(i.Approved)
}
