package notify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"
)

const (
	SignatureHeader = "X-Slack-Signature"
	TimestampHeader = "X-Slack-Request-Timestamp"

	signatureVersion = "v0"
	maxSignatureAge  = 5 * time.Minute
)

var ErrBadSignature = errors.New("invalid interaction signature")

// VerifySignature checks the signature Slack attaches to interactive
// requests: an HMAC-SHA256 over "v0:<timestamp>:<body>" keyed with the
// signing secret. Requests older than five minutes are refused
func VerifySignature(
	secret, timestamp, signature string, body []byte, now time.Time,
) error {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrBadSignature)
	}
	age := now.Sub(time.Unix(ts, 0))
	if age > maxSignatureAge || age < -maxSignatureAge {
		return fmt.Errorf("%w: stale request", ErrBadSignature)
	}
	if !hmac.Equal([]byte(signature), []byte(Sign(secret, timestamp, body))) {
		return ErrBadSignature
	}
	return nil
}

// Sign computes the signature header value for a request body
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signatureVersion + ":" + timestamp + ":"))
	mac.Write(body)
	return signatureVersion + "=" + hex.EncodeToString(mac.Sum(nil))
}
