package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderWebhookID        = "webhook-id"
	HeaderWebhookTimestamp = "webhook-timestamp"
	HeaderWebhookSignature = "webhook-signature"

	secretPrefix = "whsec_"
)

var (
	ErrNoSecret          = errors.New("webhook secret not configured")
	ErrMissingHeaders    = errors.New("missing webhook signature headers")
	ErrInvalidTimestamp  = errors.New("webhook timestamp outside tolerance")
	ErrSignatureMismatch = errors.New("webhook signature mismatch")
)

// Verifier authenticates inbound webhooks: an HMAC-SHA256 over
// "id.timestamp.body" keyed with the account signing secret.
type Verifier struct {
	key       []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier accepts the secret in its "whsec_<base64>" form or as a raw
// string. An empty secret yields a verifier that rejects everything.
func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	return &Verifier{key: decodeSecret(secret), tolerance: tolerance, now: time.Now}
}

// Verify checks the signature headers against body.
func (v *Verifier) Verify(h http.Header, body []byte) error {
	if len(v.key) == 0 {
		return ErrNoSecret
	}

	id := h.Get(HeaderWebhookID)
	ts := h.Get(HeaderWebhookTimestamp)
	sigs := h.Get(HeaderWebhookSignature)
	if id == "" || ts == "" || sigs == "" {
		return ErrMissingHeaders
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidTimestamp, ts)
	}
	sent := time.Unix(unix, 0)
	if d := v.now().Sub(sent); d > v.tolerance || d < -v.tolerance {
		return ErrInvalidTimestamp
	}

	expected := computeSignature(v.key, id, ts, body)
	for _, candidate := range strings.Fields(sigs) {
		version, sig, ok := strings.Cut(candidate, ",")
		if !ok || version != "v1" {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			return nil
		}
	}
	return ErrSignatureMismatch
}

// Sign produces a webhook-signature header value for body.
func Sign(secret, id string, at time.Time, body []byte) string {
	sig := computeSignature(decodeSecret(secret), id, strconv.FormatInt(at.Unix(), 10), body)
	return "v1," + base64.StdEncoding.EncodeToString(sig)
}

// SignedHeaders returns the complete header set for a webhook delivery.
func SignedHeaders(secret, id string, at time.Time, body []byte) http.Header {
	h := http.Header{}
	h.Set(HeaderWebhookID, id)
	h.Set(HeaderWebhookTimestamp, strconv.FormatInt(at.Unix(), 10))
	h.Set(HeaderWebhookSignature, Sign(secret, id, at, body))
	return h
}

func computeSignature(key []byte, id, ts string, body []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(id))
	mac.Write([]byte("."))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return mac.Sum(nil)
}

func decodeSecret(secret string) []byte {
	if secret == "" {
		return nil
	}
	if raw, ok := strings.CutPrefix(secret, secretPrefix); ok {
		if key, err := base64.StdEncoding.DecodeString(raw); err == nil {
			return key
		}
		return []byte(raw)
	}
	return []byte(secret)
}
