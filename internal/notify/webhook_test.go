package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWebhook_OK(t *testing.T) {
	var got string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		_ = json.NewDecoder(r.Body).Decode(&payload)
		got = payload["text"]
		w.WriteHeader(200)
	}))
	defer ts.Close()

	wh := NewWebhook(ts.URL)
	if wh == nil {
		t.Fatal("expected webhook client")
	}
	err := wh.Send(context.Background(), "Title", "Hello")
	if err != nil {
		t.Fatalf("send err: %v", err)
	}
	if got == "" || got[0] != '*' { // starts with "*Title*"
		t.Fatalf("payload not as expected: %q", got)
	}
}

func TestWebhook_Non2xx(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	}))
	defer ts.Close()

	wh := NewWebhook(ts.URL)
	if err := wh.Send(context.Background(), "X", "Y"); err == nil {
		t.Fatalf("expected error on non-2xx")
	}
}

func TestNewWebhook_EmptyURLDisables(t *testing.T) {
	if wh := NewWebhook(""); wh != nil {
		t.Fatalf("empty url should disable the webhook")
	}
}

func TestMulti_FansOutAndSkipsNil(t *testing.T) {
	var hits int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(200)
	}))
	defer ts.Close()

	m := Multi{nil, NewWebhook(ts.URL), NewWebhook(ts.URL)}
	if err := m.Send(context.Background(), "T", "x"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if hits != 2 {
		t.Fatalf("want 2 deliveries, got %d", hits)
	}
}
