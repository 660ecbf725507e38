package delivery

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hexrift/zentla-sub005/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSign(t *testing.T) {
	body := []byte(`{"id":"evt_1"}`)
	ts := "2026-01-02T15:04:05Z"

	mac := hmac.New(sha256.New, []byte("whsec_test"))
	mac.Write([]byte(ts + "."))
	mac.Write(body)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	assert.Equal(t, want, Sign("whsec_test", ts, body))
	assert.NotEqual(t, want, Sign("whsec_other", ts, body))
}

func TestHTTPSenderSendsSignedEnvelope(t *testing.T) {
	var gotBody []byte
	var gotHeader http.Header

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotHeader = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	env := model.Envelope{
		ID:        "d-1",
		Type:      "invoice.paid",
		Timestamp: time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC),
		Data:      json.RawMessage(`{"n":1}`),
	}

	sender := NewHTTPSender(5 * time.Second)
	outcome := sender.Send(context.Background(), srv.URL, "whsec_test", env)

	require.NoError(t, outcome.Err)
	assert.True(t, outcome.Success())
	assert.Equal(t, http.StatusOK, outcome.StatusCode)

	assert.Equal(t, "application/json", gotHeader.Get("Content-Type"))
	assert.Equal(t, "d-1", gotHeader.Get(HeaderID))
	assert.Equal(t, "2026-01-02T15:04:05Z", gotHeader.Get(HeaderTimestamp))
	assert.Equal(t, Sign("whsec_test", "2026-01-02T15:04:05Z", gotBody), gotHeader.Get(HeaderSignature))

	var sent model.Envelope
	require.NoError(t, json.Unmarshal(gotBody, &sent))
	assert.Equal(t, "d-1", sent.ID)
	assert.Equal(t, "invoice.paid", sent.Type)
}

func TestHTTPSenderNon2xxIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sender := NewHTTPSender(5 * time.Second)
	outcome := sender.Send(context.Background(), srv.URL, "s", model.Envelope{Timestamp: time.Now()})

	assert.False(t, outcome.Success())
	assert.Equal(t, http.StatusBadGateway, outcome.StatusCode)
	assert.Equal(t, "endpoint returned status 502", outcome.Detail())
}

func TestHTTPSenderTimeoutIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	sender := NewHTTPSender(5 * time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	outcome := sender.Send(ctx, srv.URL, "s", model.Envelope{Timestamp: time.Now()})
	assert.False(t, outcome.Success())
	assert.Error(t, outcome.Err)
}
