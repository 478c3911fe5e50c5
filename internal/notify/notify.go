// Package notify delivers callback tokens to humans inside an action they
// can trigger, and decodes the action when it comes back
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kode4food/tollgate/pkg/api"
	"github.com/kode4food/tollgate/pkg/log"
)

type (
	// Notifier delivers an approval request carrying a callback token
	Notifier interface {
		SendApproval(context.Context, *ApprovalRequest) error
	}

	// ApprovalRequest describes what a human is being asked to approve
	ApprovalRequest struct {
		TimeoutAt   time.Time
		Token       api.Token
		ExecutionID api.ExecutionID
		Label       api.Label
		Subject     string
		Summary     string
	}

	// LogNotifier writes approval requests to the log. It stands in when no
	// chat integration is configured
	LogNotifier struct {
		logger *slog.Logger
	}
)

var (
	ErrDeliveryFailed = errors.New("approval delivery failed")
	ErrBadInteraction = errors.New("malformed interaction payload")
)

var _ Notifier = (*LogNotifier)(nil)

// NewLogNotifier creates a LogNotifier writing to logger, or to the default
// logger when nil
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// SendApproval logs the request, including the token needed to resolve it
func (n *LogNotifier) SendApproval(
	_ context.Context, req *ApprovalRequest,
) error {
	n.logger.Info("Approval requested",
		log.ExecutionID(req.ExecutionID),
		log.Label(req.Label),
		log.Token(req.Token),
		slog.String("subject", req.Subject),
		slog.Time("timeout_at", req.TimeoutAt))
	return nil
}
