package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

type item struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/api", srv.Client(), zap.NewNop())
}

func TestClientAttachesBearerTokenAndRequestID(t *testing.T) {
	var gotAuth, gotRequestID, gotPath string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotRequestID = r.Header.Get(requestIDHeader)
		gotPath = r.URL.Path
		w.Write([]byte(`{"id":"1","name":"alpha"}`))
	}).WithTokenSource(TokenFunc(func() string { return "tok-1" }))

	var out item
	if err := client.Get(context.Background(), "/items/{id}", "/items/1", &out); err != nil {
		t.Fatalf("get: %v", err)
	}
	if gotAuth != "Bearer tok-1" {
		t.Fatalf("expected bearer header, got %q", gotAuth)
	}
	if gotRequestID == "" {
		t.Fatalf("expected request id header")
	}
	if gotPath != "/api/items/1" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if out.Name != "alpha" {
		t.Fatalf("unexpected body %+v", out)
	}
}

func TestClientOmitsAuthorizationWithoutToken(t *testing.T) {
	var gotAuth string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}).WithTokenSource(TokenFunc(func() string { return "" }))

	if err := client.Delete(context.Background(), "", "/items/1", nil); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if gotAuth != "" {
		t.Fatalf("expected no authorization header, got %q", gotAuth)
	}
}

func TestClientUnwrapsSuccessEnvelope(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"message":"ok","data":[{"id":"a"},{"id":"b"}]}`))
	})

	var out []item
	if err := client.Get(context.Background(), "", "/items", &out); err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(out) != 2 || out[1].ID != "b" {
		t.Fatalf("unexpected items %+v", out)
	}
}

func TestClientServerErrorEnvelope(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"success":false,"message":"Slot already taken","errors":{"StartTime":["overlaps"]}}`))
	})

	err := client.Post(context.Background(), "", "/bookings", map[string]string{"a": "b"}, nil)
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if apiErr.Kind != KindServer || apiErr.Status != http.StatusBadRequest {
		t.Fatalf("unexpected error %+v", apiErr)
	}
	if Message(err, "fallback") != "Slot already taken" {
		t.Fatalf("unexpected message %q", Message(err, "fallback"))
	}
	if len(apiErr.Details) != 1 || apiErr.Details[0] != "overlaps" {
		t.Fatalf("unexpected details %v", apiErr.Details)
	}
}

func TestClientSuccessFalseOn200IsServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"message":"Invalid credentials"}`))
	})

	err := client.Post(context.Background(), "", "/Auth/user/login", nil, &item{})
	if !IsKind(err, KindServer) {
		t.Fatalf("expected server error, got %v", err)
	}
	if Message(err, "fallback") != "Invalid credentials" {
		t.Fatalf("unexpected message %q", Message(err, "fallback"))
	}
}

func TestClientFallbackMessageWhenServerSilent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	err := client.Get(context.Background(), "", "/items", nil)
	if Message(err, "Something went wrong") != "Something went wrong" {
		t.Fatalf("expected fallback message, got %q", Message(err, "Something went wrong"))
	}
}

func TestClientUndecodableBodyIsUnexpected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	})

	var out item
	err := client.Get(context.Background(), "", "/items/1", &out)
	if !IsKind(err, KindUnexpected) {
		t.Fatalf("expected unexpected error, got %v", err)
	}
}

func TestClientTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	client := NewClient(url, http.DefaultClient, zap.NewNop())
	err := client.Get(context.Background(), "", "/items", nil)
	if !IsKind(err, KindTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}
