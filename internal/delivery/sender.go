package delivery

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hexrift/zentla-sub005/internal/model"
)

// Signature headers carried on every outbound POST.
const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderID        = "X-Webhook-Id"
	HeaderTimestamp = "X-Webhook-Timestamp"
)

// Outcome classifies one HTTP delivery attempt. Any 2xx within the timeout
// is success; everything else (non-2xx, network error, timeout) is a failure
// for retry purposes.
type Outcome struct {
	StatusCode int
	Err        error
	Duration   time.Duration
}

func (o Outcome) Success() bool {
	return o.Err == nil && o.StatusCode/100 == 2
}

// Detail renders the failure for persistence on the delivery record.
func (o Outcome) Detail() string {
	if o.Err != nil {
		return o.Err.Error()
	}
	return fmt.Sprintf("endpoint returned status %d", o.StatusCode)
}

// Sender posts signed envelopes to subscriber endpoints.
type Sender interface {
	Send(ctx context.Context, url, secret string, env model.Envelope) Outcome
}

// HTTPSender is the production Sender; the client timeout bounds the whole
// attempt, including connect and body read.
type HTTPSender struct {
	client *http.Client
}

func NewHTTPSender(timeout time.Duration) *HTTPSender {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSender{client: &http.Client{Timeout: timeout}}
}

func (s *HTTPSender) Send(ctx context.Context, url, secret string, env model.Envelope) Outcome {
	start := time.Now()

	body, err := json.Marshal(env)
	if err != nil {
		return Outcome{Err: fmt.Errorf("marshal envelope: %w", err), Duration: time.Since(start)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Outcome{Err: err, Duration: time.Since(start)}
	}

	ts := env.Timestamp.Format(time.RFC3339)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSignature, Sign(secret, ts, body))
	req.Header.Set(HeaderID, env.ID)
	req.Header.Set(HeaderTimestamp, ts)

	res, err := s.client.Do(req)
	if err != nil {
		return Outcome{Err: err, Duration: time.Since(start)}
	}
	defer res.Body.Close()

	return Outcome{StatusCode: res.StatusCode, Duration: time.Since(start)}
}

// Sign computes the signature header value: HMAC-SHA256 of
// "<timestamp>.<body>" keyed by the endpoint secret, hex-encoded.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)

	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
