package control

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type recordedRequest struct {
	Method      string
	Path        string
	ContentType string
	Body        map[string]interface{}
}

func newTestServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*Client, *[]recordedRequest) {
	t.Helper()
	var requests []recordedRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		rec := recordedRequest{Method: r.Method, Path: r.URL.Path, ContentType: r.Header.Get("Content-Type")}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &rec.Body); err != nil {
				t.Errorf("request body is not JSON: %v", err)
			}
		}
		requests = append(requests, rec)
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(server.URL+"/", time.Second)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client, &requests
}

func TestNewClientRejectsBadURL(t *testing.T) {
	for _, raw := range []string{"", "ftp://example.com", "://bad"} {
		if _, err := NewClient(raw, 0); err == nil {
			t.Fatalf("NewClient(%q) expected error", raw)
		}
	}
}

func TestRotateIdentity(t *testing.T) {
	client, requests := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":true,"currentProxy":"10.0.0.7:3128"}`)
	})

	resp, err := client.RotateIdentity(context.Background())
	if err != nil {
		t.Fatalf("RotateIdentity() error = %v", err)
	}
	if resp.CurrentProxy != "10.0.0.7:3128" {
		t.Fatalf("CurrentProxy = %q", resp.CurrentProxy)
	}
	got := (*requests)[0]
	if got.Method != http.MethodPost || got.Path != PathRotateIdentity || got.ContentType != "application/json" {
		t.Fatalf("unexpected request: %+v", got)
	}
}

func TestStartSession(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantID  string
		wantErr error
	}{
		{name: "success", body: `{"success":true,"sessionId":"s1"}`, wantID: "s1"},
		{name: "not successful", body: `{"success":false}`, wantErr: ErrNotSuccessful},
		{name: "missing session id", body: `{"success":true}`, wantErr: ErrMissingSessionID},
		{name: "blank session id", body: `{"success":true,"sessionId":"  "}`, wantErr: ErrMissingSessionID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, requests := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, tt.body)
			})

			resp, err := client.StartSession(context.Background(), "alice")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("StartSession() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("StartSession() error = %v", err)
			}
			if resp.SessionID != tt.wantID {
				t.Fatalf("SessionID = %q, want %q", resp.SessionID, tt.wantID)
			}
			got := (*requests)[0]
			if got.Path != PathStartSession || got.Body["username"] != "alice" {
				t.Fatalf("unexpected request: %+v", got)
			}
		})
	}
}

func TestStopSession(t *testing.T) {
	client, requests := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":true}`)
	})

	if _, err := client.StopSession(context.Background(), "s1"); err != nil {
		t.Fatalf("StopSession() error = %v", err)
	}
	got := (*requests)[0]
	if got.Path != PathStopSession || got.Body["sessionId"] != "s1" {
		t.Fatalf("unexpected request: %+v", got)
	}
}

func TestHTTPErrorMessage(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{name: "backend message", status: http.StatusTooManyRequests, body: `{"message":"rate limited"}`, message: "rate limited"},
		{name: "no message field", status: http.StatusBadGateway, body: `{"error":"x"}`, message: "Error 502: Bad Gateway"},
		{name: "non json body", status: http.StatusInternalServerError, body: `oops`, message: "Error 500: Internal Server Error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			_, err := client.StartSession(context.Background(), "alice")
			var httpErr *HTTPError
			if !errors.As(err, &httpErr) {
				t.Fatalf("StartSession() error = %v, want *HTTPError", err)
			}
			if httpErr.StatusCode != tt.status || httpErr.Error() != tt.message {
				t.Fatalf("HTTPError = %d %q, want %d %q", httpErr.StatusCode, httpErr.Error(), tt.status, tt.message)
			}
		})
	}
}

func TestMalformedSuccessBody(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":`)
	})
	if _, err := client.RotateIdentity(context.Background()); err == nil {
		t.Fatal("RotateIdentity() expected error for malformed body")
	}
}

func TestContextCancellation(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":true}`)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := client.StopSession(ctx, "s1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("StopSession() error = %v, want context.Canceled", err)
	}
}
