package ingest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrBadSignature = errors.New("signature verification failed")
	ErrStaleEvent   = errors.New("event timestamp outside tolerance")
)

// Verifier checks a provider's signature over the raw request body.
type Verifier interface {
	// Header names the signature header this verifier reads.
	Header() string
	Verify(header string, body []byte, now time.Time) error
}

// StripeVerifier implements the "t=<unix>,v1=<hex>" scheme: HMAC-SHA256 of
// "<t>.<body>" with a timestamp tolerance against replay.
type StripeVerifier struct {
	Secret    string
	Tolerance time.Duration // default 5m
}

func (v StripeVerifier) Header() string { return "Stripe-Signature" }

func (v StripeVerifier) Verify(header string, body []byte, now time.Time) error {
	if header == "" {
		return ErrBadSignature
	}

	var ts int64
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return ErrBadSignature
			}
			ts = n
		case "v1":
			sigs = append(sigs, val)
		}
	}
	if ts == 0 || len(sigs) == 0 {
		return ErrBadSignature
	}

	tolerance := v.Tolerance
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	age := now.Sub(time.Unix(ts, 0))
	if age > tolerance || age < -tolerance {
		return ErrStaleEvent
	}

	mac := hmac.New(sha256.New, []byte(v.Secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range sigs {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}
	return ErrBadSignature
}

// StandardVerifier implements the generic "sha256=<hex>" scheme over the raw
// body (zuora and compatible providers).
type StandardVerifier struct {
	Secret string
}

func (v StandardVerifier) Header() string { return "X-Webhook-Signature" }

func (v StandardVerifier) Verify(header string, body []byte, _ time.Time) error {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok || sig == "" {
		return ErrBadSignature
	}

	mac := hmac.New(sha256.New, []byte(v.Secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return ErrBadSignature
	}
	return nil
}

// NewVerifier builds a Verifier from a provider's configured scheme.
func NewVerifier(scheme, secret string, tolerance time.Duration) (Verifier, error) {
	switch strings.ToLower(strings.TrimSpace(scheme)) {
	case "stripe":
		return StripeVerifier{Secret: secret, Tolerance: tolerance}, nil
	case "", "standard":
		return StandardVerifier{Secret: secret}, nil
	default:
		return nil, fmt.Errorf("unknown signature scheme %q", scheme)
	}
}
