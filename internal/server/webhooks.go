package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kode4food/tollgate/internal/notify"
	"github.com/kode4food/tollgate/pkg/api"
	"github.com/kode4food/tollgate/pkg/log"
)

const maxWebhookBody = 1 << 20

// handleSlackWebhook receives Slack button clicks and resolves the callback
// named by the clicked button with the approval decision
func (s *Server) handleSlackWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		badRequest(c, err)
		return
	}

	if secret := s.slack.SigningSecret; secret != "" {
		if err := notify.VerifySignature(secret,
			c.GetHeader(notify.TimestampHeader),
			c.GetHeader(notify.SignatureHeader),
			body, time.Now(),
		); err != nil {
			slog.Warn("Slack signature rejected", log.Error(err))
			c.JSON(http.StatusUnauthorized, api.ErrorResponse{
				Error:  err.Error(),
				Status: http.StatusUnauthorized,
			})
			return
		}
	}

	form, err := url.ParseQuery(string(body))
	if err != nil {
		badRequest(c, err)
		return
	}
	in, err := notify.ParseInteraction(form.Get("payload"))
	if err != nil {
		slog.Warn("Invalid Slack interaction", log.Error(err))
		badRequest(c, err)
		return
	}

	res, err := s.engine.ResolveCallback(
		c.Request.Context(), in.Token, in.Payload(),
	)
	if err != nil {
		slog.Warn("Slack interaction refused",
			log.Token(in.Token), log.Error(err))
		writeError(c, err)
		return
	}

	slog.Info("Slack interaction received",
		log.Token(in.Token),
		slog.Bool("approved", in.Approved),
		slog.String("user", in.User),
		slog.Bool("already_settled", res.AlreadySettled()))
	c.JSON(http.StatusOK, api.SettledResponse{
		Callback:       res.Record,
		AlreadySettled: res.AlreadySettled(),
	})
}
