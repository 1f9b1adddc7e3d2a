package provider

import (
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusStarting, false},
		{StatusProcessing, false},
		{Status("queued"), false},
		{StatusSucceeded, true},
		{StatusFailed, true},
		{StatusCanceled, true},
	}
	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.want {
			t.Errorf("%s.IsTerminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestParseEvent_OutputShapes(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{"string", `{"id":"p","status":"succeeded","output":"https://cdn/a.mp4"}`, []string{"https://cdn/a.mp4"}},
		{"list", `{"id":"p","status":"succeeded","output":["https://cdn/a.mp4","https://cdn/a.jpg"]}`, []string{"https://cdn/a.mp4", "https://cdn/a.jpg"}},
		{"null", `{"id":"p","status":"processing","output":null}`, nil},
		{"missing", `{"id":"p","status":"processing"}`, nil},
		{"mixed list", `{"id":"p","status":"succeeded","output":[1,"https://cdn/a.mp4",null]}`, []string{"https://cdn/a.mp4"}},
		{"object", `{"id":"p","status":"succeeded","output":{"video":"x"}}`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := ParseEvent([]byte(tt.body))
			if err != nil {
				t.Fatalf("ParseEvent() error = %v", err)
			}
			if len(ev.Output) != len(tt.want) {
				t.Fatalf("Output = %v, want %v", ev.Output, tt.want)
			}
			for i := range tt.want {
				if ev.Output[i] != tt.want[i] {
					t.Errorf("Output[%d] = %s, want %s", i, ev.Output[i], tt.want[i])
				}
			}
		})
	}
}

func TestParseEvent_Error(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"id":"p","status":"failed","error":"NSFW content detected"}`))
	if err != nil {
		t.Fatalf("ParseEvent() error = %v", err)
	}
	if ev.Error != "NSFW content detected" {
		t.Errorf("Error = %q", ev.Error)
	}

	ev, err = ParseEvent([]byte(`{"id":"p","status":"failed","error":{"code":"E1"}}`))
	if err != nil {
		t.Fatalf("ParseEvent() error = %v", err)
	}
	if ev.Error != `{"code":"E1"}` {
		t.Errorf("Error = %q, want raw json", ev.Error)
	}
}

func TestParseEvent_Invalid(t *testing.T) {
	for _, body := range []string{"", "not json", `{"status":"succeeded"}`} {
		if _, err := ParseEvent([]byte(body)); err == nil {
			t.Errorf("ParseEvent(%q) expected error", body)
		}
	}
}

const testSecret = "whsec_c2VjcmV0LWtleS1mb3ItdGVzdHM="

func TestVerifier_Valid(t *testing.T) {
	body := []byte(`{"id":"pred-1","status":"succeeded"}`)
	now := time.Unix(1_760_000_000, 0)

	v := NewVerifier(testSecret, 5*time.Minute)
	v.now = func() time.Time { return now }

	h := SignedHeaders(testSecret, "msg_1", now.Add(-time.Minute), body)
	if err := v.Verify(h, body); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
}

func TestVerifier_MultipleSignatures(t *testing.T) {
	body := []byte(`{"id":"pred-1"}`)
	now := time.Unix(1_760_000_000, 0)

	v := NewVerifier(testSecret, 5*time.Minute)
	v.now = func() time.Time { return now }

	h := SignedHeaders(testSecret, "msg_1", now, body)
	h.Set(HeaderWebhookSignature, "v1,Zm9v v2,bogus "+h.Get(HeaderWebhookSignature))
	if err := v.Verify(h, body); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
}

func TestVerifier_Rejects(t *testing.T) {
	body := []byte(`{"id":"pred-1","status":"succeeded"}`)
	now := time.Unix(1_760_000_000, 0)

	tests := []struct {
		name    string
		secret  string
		headers func() http.Header
		body    []byte
		want    error
	}{
		{
			name:    "no secret configured",
			secret:  "",
			headers: func() http.Header { return SignedHeaders(testSecret, "m", now, body) },
			body:    body,
			want:    ErrNoSecret,
		},
		{
			name:    "missing headers",
			secret:  testSecret,
			headers: func() http.Header { return http.Header{} },
			body:    body,
			want:    ErrMissingHeaders,
		},
		{
			name:    "stale timestamp",
			secret:  testSecret,
			headers: func() http.Header { return SignedHeaders(testSecret, "m", now.Add(-6*time.Minute), body) },
			body:    body,
			want:    ErrInvalidTimestamp,
		},
		{
			name:    "future timestamp",
			secret:  testSecret,
			headers: func() http.Header { return SignedHeaders(testSecret, "m", now.Add(6*time.Minute), body) },
			body:    body,
			want:    ErrInvalidTimestamp,
		},
		{
			name:    "tampered body",
			secret:  testSecret,
			headers: func() http.Header { return SignedHeaders(testSecret, "m", now, body) },
			body:    []byte(`{"id":"pred-1","status":"failed"}`),
			want:    ErrSignatureMismatch,
		},
		{
			name:    "wrong secret",
			secret:  testSecret,
			headers: func() http.Header { return SignedHeaders("whsec_b3RoZXI=", "m", now, body) },
			body:    body,
			want:    ErrSignatureMismatch,
		},
		{
			name:   "replayed id",
			secret: testSecret,
			headers: func() http.Header {
				h := SignedHeaders(testSecret, "m", now, body)
				h.Set(HeaderWebhookID, "other")
				return h
			},
			body: body,
			want: ErrSignatureMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewVerifier(tt.secret, 5*time.Minute)
			v.now = func() time.Time { return now }

			err := v.Verify(tt.headers(), tt.body)
			if !errors.Is(err, tt.want) {
				t.Errorf("Verify() error = %v, want %v", err, tt.want)
			}
		})
	}
}
