package notify_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/tidwall/gjson"

	"github.com/kode4food/tollgate/internal/notify"
	"github.com/kode4food/tollgate/pkg/api"
)

func TestSlackConfigValidate(t *testing.T) {
	good := notify.SlackConfig{
		BotToken: "xoxb-1", Channel: "#approvals",
		APIURL: notify.DefaultSlackAPIURL,
	}
	assert.NoError(t, good.Validate())
	assert.True(t, good.Enabled())
	assert.False(t, (&notify.SlackConfig{}).Enabled())

	noToken := good
	noToken.BotToken = ""
	assert.ErrorIs(t, noToken.Validate(), notify.ErrSlackBotToken)

	noChannel := good
	noChannel.Channel = ""
	assert.ErrorIs(t, noChannel.Validate(), notify.ErrSlackChannel)

	badURL := good
	badURL.APIURL = "slack.com/api"
	assert.ErrorIs(t, badURL.Validate(), notify.ErrSlackAPIURL)

	_, err := notify.NewSlackNotifier(noToken)
	assert.ErrorIs(t, err, notify.ErrSlackBotToken)
}

func TestSlackSendApproval(t *testing.T) {
	var body []byte
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/chat.postMessage", r.URL.Path)
			auth = r.Header.Get("Authorization")
			body, _ = io.ReadAll(r.Body)
			_, _ = w.Write([]byte(`{"ok":true}`))
		},
	))
	defer srv.Close()

	n, err := notify.NewSlackNotifier(notify.SlackConfig{
		BotToken: "xoxb-1", Channel: "#approvals", APIURL: srv.URL,
	})
	assert.NoError(t, err)

	token := api.NewToken()
	err = n.SendApproval(context.Background(), &notify.ApprovalRequest{
		Token:       token,
		ExecutionID: "e-1",
		Label:       "awaiting-approval",
		Subject:     "order o-1",
		TimeoutAt:   time.Now().Add(time.Minute),
	})
	assert.NoError(t, err)
	assert.Equal(t, "Bearer xoxb-1", auth)

	assert.Equal(t, "#approvals", gjson.GetBytes(body, "channel").String())
	assert.Contains(t, gjson.GetBytes(body, "text").String(), "order o-1")

	approve := gjson.GetBytes(body, "blocks.1.elements.0.value").String()
	reject := gjson.GetBytes(body, "blocks.1.elements.1.value").String()
	assert.Equal(t, string(token), gjson.Get(approve, "token").String())
	assert.True(t, gjson.Get(approve, "approved").Bool())
	assert.False(t, gjson.Get(reject, "approved").Bool())
}

func TestSlackSendApprovalAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
		},
	))
	defer srv.Close()

	n, err := notify.NewSlackNotifier(notify.SlackConfig{
		BotToken: "xoxb-1", Channel: "#nope", APIURL: srv.URL,
	})
	assert.NoError(t, err)

	err = n.SendApproval(context.Background(), &notify.ApprovalRequest{
		Token: api.NewToken(),
	})
	assert.ErrorIs(t, err, notify.ErrDeliveryFailed)
	assert.ErrorIs(t, err, notify.ErrSlackAPI)
	assert.Contains(t, err.Error(), "channel_not_found")
}

func TestLogNotifier(t *testing.T) {
	n := notify.NewLogNotifier(nil)
	assert.NoError(t, n.SendApproval(context.Background(),
		&notify.ApprovalRequest{Token: api.NewToken()},
	))
}
