package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"

	"github.com/kode4food/tollgate/pkg/log"
)

type (
	// SlackConfig holds the settings of the Slack notifier. Validate is
	// called once at startup so misconfiguration never surfaces mid-run
	SlackConfig struct {
		BotToken      string
		Channel       string
		APIURL        string
		SigningSecret string
		Timeout       time.Duration
	}

	// SlackNotifier posts approval requests with approve and reject buttons
	SlackNotifier struct {
		httpClient *http.Client
		cfg        SlackConfig
	}

	// ButtonValue is the value carried by an approval button. When clicked
	// it comes back verbatim in the interaction payload
	ButtonValue struct {
		Token    string `json:"token"`
		Approved bool   `json:"approved"`
	}

	slackMessage struct {
		Channel string       `json:"channel"`
		Text    string       `json:"text"`
		Blocks  []slackBlock `json:"blocks"`
	}

	slackBlock struct {
		Type     string         `json:"type"`
		BlockID  string         `json:"block_id,omitempty"`
		Text     *slackText     `json:"text,omitempty"`
		Elements []slackElement `json:"elements,omitempty"`
	}

	slackElement struct {
		Type     string     `json:"type"`
		Text     *slackText `json:"text"`
		Style    string     `json:"style,omitempty"`
		Value    string     `json:"value"`
		ActionID string     `json:"action_id"`
	}

	slackText struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
)

const (
	DefaultSlackAPIURL  = "https://slack.com/api"
	DefaultSlackTimeout = 10 * time.Second

	ApproveActionID = "approve_action"
	RejectActionID  = "reject_action"
	ApprovalBlockID = "approval_actions"
)

var (
	ErrSlackBotToken = errors.New("slack bot token is required")
	ErrSlackChannel  = errors.New("slack channel is required")
	ErrSlackAPIURL   = errors.New("invalid slack API URL")
	ErrSlackAPI      = errors.New("slack API error")
)

var _ Notifier = (*SlackNotifier)(nil)

// Enabled reports whether a Slack integration was configured at all
func (c *SlackConfig) Enabled() bool {
	return c.BotToken != "" || c.Channel != ""
}

// Validate checks that every setting the notifier needs is present
func (c *SlackConfig) Validate() error {
	if c.BotToken == "" {
		return ErrSlackBotToken
	}
	if c.Channel == "" {
		return ErrSlackChannel
	}
	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") ||
		u.Host == "" {
		return fmt.Errorf("%w: %q", ErrSlackAPIURL, c.APIURL)
	}
	return nil
}

// NewSlackNotifier creates a notifier from a validated config
func NewSlackNotifier(cfg SlackConfig) (*SlackNotifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultSlackTimeout
	}
	return &SlackNotifier{
		httpClient: &http.Client{Timeout: timeout},
		cfg:        cfg,
	}, nil
}

// SendApproval posts a chat.postMessage with approve and reject buttons
func (n *SlackNotifier) SendApproval(
	ctx context.Context, req *ApprovalRequest,
) error {
	body, err := json.Marshal(n.buildMessage(req))
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(
		ctx, http.MethodPost, n.cfg.APIURL+"/chat.postMessage",
		bytes.NewReader(body),
	)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json; charset=utf-8")
	httpReq.Header.Set("Authorization", "Bearer "+n.cfg.BotToken)

	resp, err := n.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %w: HTTP %d",
			ErrDeliveryFailed, ErrSlackAPI, resp.StatusCode)
	}
	if !gjson.GetBytes(respBody, "ok").Bool() {
		return fmt.Errorf("%w: %w: %s", ErrDeliveryFailed, ErrSlackAPI,
			gjson.GetBytes(respBody, "error").String())
	}

	slog.Info("Approval request sent to Slack",
		log.ExecutionID(req.ExecutionID),
		log.Label(req.Label),
		slog.String("channel", n.cfg.Channel))
	return nil
}

func (n *SlackNotifier) buildMessage(req *ApprovalRequest) *slackMessage {
	subject := req.Subject
	if subject == "" {
		subject = string(req.ExecutionID)
	}
	text := fmt.Sprintf("Approval requested for %s", subject)
	section := fmt.Sprintf("Approval requested for *%s*", subject)
	if req.Summary != "" {
		section += "\n" + req.Summary
	}

	return &slackMessage{
		Channel: n.cfg.Channel,
		Text:    text,
		Blocks: []slackBlock{
			{
				Type: "section",
				Text: &slackText{Type: "mrkdwn", Text: section},
			},
			{
				Type:    "actions",
				BlockID: ApprovalBlockID,
				Elements: []slackElement{
					button("Approve", "primary", ApproveActionID,
						string(req.Token), true),
					button("Reject", "danger", RejectActionID,
						string(req.Token), false),
				},
			},
		},
	}
}

func button(
	label, style, actionID, token string, approved bool,
) slackElement {
	value, _ := json.Marshal(ButtonValue{Token: token, Approved: approved})
	return slackElement{
		Type:     "button",
		Text:     &slackText{Type: "plain_text", Text: label},
		Style:    style,
		Value:    string(value),
		ActionID: actionID,
	}
}
