package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	apimw "github.com/probeworks/probemeter/internal/httpapi/middleware"
	"github.com/probeworks/probemeter/internal/ledger"
	"github.com/probeworks/probemeter/internal/repo/memory"
	"github.com/probeworks/probemeter/internal/service"
)

func newTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	store := memory.New()
	log := zap.NewNop()
	svc := service.New(store, ledger.New(store, log, nil), log)
	pause := filepath.Join(t.TempDir(), "EMERGENCY_PAUSE")

	srv := NewServer(log, svc, pause)
	ts := httptest.NewServer(srv.Router(apimw.Keys{}, 0, 0, 0, 0))
	t.Cleanup(ts.Close)
	return ts, pause
}

func doJSON(t *testing.T, method, url string, payload any) (int, map[string]any) {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		b, _ := json.Marshal(payload)
		body = bytes.NewReader(b)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func doJSONList(t *testing.T, url string) (int, []map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	var out []map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestAPI_TopUpRegisterFlow(t *testing.T) {
	ts, _ := newTestServer(t)

	// Open a session.
	code, out := doJSON(t, http.MethodPost, ts.URL+"/api/topup", map[string]any{"amount": 10})
	if code != 200 {
		t.Fatalf("topup: %d %v", code, out)
	}
	token, _ := out["token"].(string)
	if token == "" || out["balance"].(float64) != 10 {
		t.Fatalf("topup response: %v", out)
	}

	// Register a watcher.
	code, out = doJSON(t, http.MethodPost, ts.URL+"/api/register", map[string]any{
		"token": token, "url": "HTTPS://Example.COM/", "interval": 60,
	})
	if code != 200 {
		t.Fatalf("register: %d %v", code, out)
	}
	wid, _ := out["wid"].(string)
	cid, _ := out["cid"].(string)
	if wid == "" || cid == "" || out["url"] != "https://example.com" {
		t.Fatalf("register response: %v", out)
	}

	// The canonical target is visible.
	code, targets := doJSONList(t, ts.URL+"/api/targets")
	if code != 200 || len(targets) != 1 || targets[0]["cid"] != cid {
		t.Fatalf("targets: %d %v", code, targets)
	}

	// Stats exist (empty) before the first probe.
	code, out = doJSON(t, http.MethodGet, ts.URL+"/api/targets/"+cid+"/stats", nil)
	if code != 200 || out["checks_total"].(float64) != 0 {
		t.Fatalf("stats: %d %v", code, out)
	}

	// Manual consume debits the watcher's session.
	code, out = doJSON(t, http.MethodPost, ts.URL+"/api/consume", map[string]any{"wid": wid, "cost": 3})
	if code != 200 || out["balance"].(float64) != 7 {
		t.Fatalf("consume: %d %v", code, out)
	}

	// Ledger shows the trail, newest first.
	code, entries := doJSONList(t, ts.URL+"/api/sessions/"+token+"/ledger")
	if code != 200 || len(entries) != 2 {
		t.Fatalf("ledger: %d %v", code, entries)
	}
	if entries[0]["action"] != "CONSUME" || entries[1]["action"] != "CREATE_SESSION_TOPUP" {
		t.Fatalf("ledger order: %v", entries)
	}

	// Disable then re-enable the watcher.
	code, out = doJSON(t, http.MethodPost, ts.URL+"/api/watchers/"+wid+"/disable", nil)
	if code != 200 || out["enabled"] != false {
		t.Fatalf("disable: %d %v", code, out)
	}
	code, watchers := doJSONList(t, ts.URL+"/api/sessions/"+token+"/watchers")
	if code != 200 || len(watchers) != 1 || watchers[0]["enabled"] != false {
		t.Fatalf("watchers: %d %v", code, watchers)
	}

	// Delete the session.
	code, _ = doJSON(t, http.MethodDelete, ts.URL+"/api/sessions/"+token, nil)
	if code != 200 {
		t.Fatalf("delete: %d", code)
	}
	code, _ = doJSON(t, http.MethodGet, ts.URL+"/api/sessions/"+token+"/watchers", nil)
	if code != 404 {
		t.Fatalf("watchers after delete: %d", code)
	}
}

func TestAPI_ErrorMapping(t *testing.T) {
	ts, _ := newTestServer(t)

	// Invalid amount -> 400.
	code, _ := doJSON(t, http.MethodPost, ts.URL+"/api/topup", map[string]any{"amount": 0})
	if code != 400 {
		t.Fatalf("zero topup: want 400, got %d", code)
	}

	// Unknown session -> 404.
	code, _ = doJSON(t, http.MethodPost, ts.URL+"/api/register", map[string]any{
		"token": "ghost", "url": "http://x", "interval": 60,
	})
	if code != 404 {
		t.Fatalf("register unknown session: want 404, got %d", code)
	}

	// Invalid url -> 400.
	_, out := doJSON(t, http.MethodPost, ts.URL+"/api/topup", map[string]any{"amount": 1})
	token := out["token"].(string)
	code, _ = doJSON(t, http.MethodPost, ts.URL+"/api/register", map[string]any{
		"token": token, "url": "ftp://x", "interval": 60,
	})
	if code != 400 {
		t.Fatalf("bad scheme: want 400, got %d", code)
	}

	// Insufficient funds -> 402, and the refusal is in the ledger.
	code, _ = doJSON(t, http.MethodPost, ts.URL+"/api/register", map[string]any{
		"token": token, "url": "http://example.com", "interval": 60,
	})
	if code != 200 {
		t.Fatalf("register: %d", code)
	}
	_, reg := doJSON(t, http.MethodPost, ts.URL+"/api/register", map[string]any{
		"token": token, "url": "http://example.com", "interval": 60,
	})
	wid := reg["wid"].(string)
	code, _ = doJSON(t, http.MethodPost, ts.URL+"/api/consume", map[string]any{"wid": wid, "cost": 5})
	if code != 402 {
		t.Fatalf("overdraw: want 402, got %d", code)
	}
	_, entries := doJSONList(t, ts.URL+"/api/sessions/"+token+"/ledger")
	if len(entries) == 0 || entries[0]["action"] != "CHECK_FAILED_CHARGE" {
		t.Fatalf("refusal not audited: %v", entries)
	}

	// Unknown watcher -> 404.
	code, _ = doJSON(t, http.MethodPost, ts.URL+"/api/consume", map[string]any{"wid": "ghost", "cost": 1})
	if code != 404 {
		t.Fatalf("unknown watcher: want 404, got %d", code)
	}
}

func TestAPI_AdminPauseLifecycle(t *testing.T) {
	ts, pause := newTestServer(t)

	code, out := doJSON(t, http.MethodGet, ts.URL+"/admin/pause", nil)
	if code != 200 || out["paused"] != false {
		t.Fatalf("initial pause state: %d %v", code, out)
	}

	code, out = doJSON(t, http.MethodPut, ts.URL+"/admin/pause", nil)
	if code != 200 || out["paused"] != true {
		t.Fatalf("set pause: %d %v", code, out)
	}
	if _, err := os.Stat(pause); err != nil {
		t.Fatalf("pause marker not written: %v", err)
	}

	code, out = doJSON(t, http.MethodDelete, ts.URL+"/admin/pause", nil)
	if code != 200 || out["paused"] != false {
		t.Fatalf("clear pause: %d %v", code, out)
	}
	if _, err := os.Stat(pause); !os.IsNotExist(err) {
		t.Fatalf("pause marker not removed: %v", err)
	}
}

func TestAPI_AuthGates(t *testing.T) {
	store := memory.New()
	log := zap.NewNop()
	svc := service.New(store, ledger.New(store, log, nil), log)
	srv := NewServer(log, svc, filepath.Join(t.TempDir(), "PAUSE"))
	keys := apimw.Keys{Public: []string{"pub"}, Admin: []string{"adm"}}
	ts := httptest.NewServer(srv.Router(keys, 0, 0, 0, 0))
	defer ts.Close()

	// Health is open.
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil || resp.StatusCode != 200 {
		t.Fatalf("healthz: %v %d", err, resp.StatusCode)
	}
	resp.Body.Close()

	// Public route without a key -> 401.
	resp, _ = http.Get(ts.URL + "/api/targets")
	if resp.StatusCode != 401 {
		t.Fatalf("want 401, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Public key on an admin route -> 403.
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/admin/pause", nil)
	req.Header.Set("X-API-Key", "pub")
	resp, _ = http.DefaultClient.Do(req)
	if resp.StatusCode != 403 {
		t.Fatalf("want 403, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Admin key reaches metrics.
	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/metrics", nil)
	req.Header.Set("X-API-Key", "adm")
	resp, _ = http.DefaultClient.Do(req)
	if resp.StatusCode != 200 {
		t.Fatalf("metrics: want 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}
