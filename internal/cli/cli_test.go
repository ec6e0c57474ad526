package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func TestBaseURL(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{"127.0.0.1:5000", "http://127.0.0.1:5000"},
		{":5000", "http://127.0.0.1:5000"},
		{"0.0.0.0:8080", "http://127.0.0.1:8080"},
		{"http://dash.local:5000/", "http://dash.local:5000"},
		{"[::1]:5000", "http://[::1]:5000"},
	}
	for _, tt := range tests {
		if got := BaseURL(tt.addr); got != tt.want {
			t.Errorf("BaseURL(%q) = %q, want %q", tt.addr, got, tt.want)
		}
	}
}

type request struct {
	method string
	path   string
	body   map[string]any
}

// fakeDaemon records requests and answers from a fixed route table.
func fakeDaemon(t *testing.T, routes map[string]func(w http.ResponseWriter)) (*httptest.Server, func() []request) {
	t.Helper()
	var (
		mu   sync.Mutex
		seen []request
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := request{method: r.Method, path: r.URL.Path}
		if data, _ := io.ReadAll(r.Body); len(data) > 0 {
			_ = json.Unmarshal(data, &req.body)
		}
		mu.Lock()
		seen = append(seen, req)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if fn, ok := routes[r.Method+" "+r.URL.Path]; ok {
			fn(w)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not found"}`))
	}))
	t.Cleanup(srv.Close)
	return srv, func() []request {
		mu.Lock()
		defer mu.Unlock()
		return append([]request(nil), seen...)
	}
}

func reply(status int, body string) func(http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func runCLI(t *testing.T, addr string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--addr", addr}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestClientAPIError(t *testing.T) {
	srv, _ := fakeDaemon(t, map[string]func(http.ResponseWriter){
		"POST /api/conversations/send": reply(http.StatusServiceUnavailable, `{"error":"whatsapp not connected"}`),
	})

	_, err := NewClient(srv.URL).Send(context.Background(), "5511999999999", "hi")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusServiceUnavailable || apiErr.Message != "whatsapp not connected" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestQRNonePending(t *testing.T) {
	srv, _ := fakeDaemon(t, map[string]func(http.ResponseWriter){
		"GET /api/whatsapp/qr": reply(http.StatusOK, `{"qrCode":null,"code":null}`),
	})

	out, err := runCLI(t, srv.URL, "qr")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "No QR code pending") {
		t.Errorf("output = %q", out)
	}
}

func TestSendCommand(t *testing.T) {
	srv, seen := fakeDaemon(t, map[string]func(http.ResponseWriter){
		"POST /api/conversations/send": reply(http.StatusOK,
			`{"success":true,"data":{"id":"SRV1","to":"5511999999999@c.us","body":"hello there","fromMe":true}}`),
	})

	out, err := runCLI(t, srv.URL, "send", "5511999999999", "hello", "there")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Sent SRV1") {
		t.Errorf("output = %q", out)
	}
	reqs := seen()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d, want 1", len(reqs))
	}
	body := reqs[0].body
	if body["to"] != "5511999999999" || body["message"] != "hello there" {
		t.Errorf("body = %v", body)
	}
}

func TestContactsUpdateSendsOnlyChangedFields(t *testing.T) {
	srv, seen := fakeDaemon(t, map[string]func(http.ResponseWriter){
		"PUT /api/saved-contacts/c1": reply(http.StatusOK, `{"id":"c1","name":"Ana"}`),
	})

	if _, err := runCLI(t, srv.URL, "contacts", "update", "c1", "--name", "Ana"); err != nil {
		t.Fatal(err)
	}
	body := seen()[0].body
	if body["name"] != "Ana" {
		t.Errorf("name = %v", body["name"])
	}
	if _, ok := body["notes"]; ok {
		t.Errorf("unchanged notes sent: %v", body)
	}
}

func TestBackupsListJSON(t *testing.T) {
	srv, _ := fakeDaemon(t, map[string]func(http.ResponseWriter){
		"GET /api/system/backups": reply(http.StatusOK, `{"backups":["2026-10-19T10-00-00-000Z"]}`),
	})

	out, err := runCLI(t, srv.URL, "--json", "backups", "list")
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not JSON: %q", out)
	}
	if len(got) != 1 || got[0] != "2026-10-19T10-00-00-000Z" {
		t.Errorf("backups = %v", got)
	}
}

func TestRestoreMissingBackupFails(t *testing.T) {
	srv, _ := fakeDaemon(t, map[string]func(http.ResponseWriter){
		"POST /api/system/restore-backup": reply(http.StatusBadRequest, `{"error":"failed to restore backup nope"}`),
	})

	_, err := runCLI(t, srv.URL, "backups", "restore", "nope")
	if err == nil || !strings.Contains(err.Error(), "failed to restore backup") {
		t.Errorf("error = %v", err)
	}
}
