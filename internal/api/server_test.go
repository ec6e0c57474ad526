package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/wppdash/internal/bus"
	"github.com/matheus3301/wppdash/internal/manager"
	"github.com/matheus3301/wppdash/internal/persist"
	"github.com/matheus3301/wppdash/internal/status"
	"github.com/matheus3301/wppdash/internal/store"
	"github.com/prometheus/client_golang/prometheus"
)

type stubClient struct{}

func (stubClient) Connect(context.Context) error { return nil }
func (stubClient) Disconnect()                   {}
func (stubClient) Logout(context.Context) error  { return nil }
func (stubClient) SendText(context.Context, string, string) (string, error) {
	return "SRV", nil
}
func (stubClient) MarkRead(context.Context, string, string, string) error { return nil }
func (stubClient) IsLoggedIn() bool                                       { return true }
func (stubClient) Close() error                                           { return nil }

type fixture struct {
	bus   *bus.Bus
	store *store.Store
	mgr   *manager.Manager
	sink  manager.EventSink
	hub   *Hub
	srv   *httptest.Server
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{bus: bus.New()}
	f.store = store.New(f.bus, nil, store.Options{})
	engine, err := persist.New(filepath.Join(dir, "data"), filepath.Join(dir, "backup"), f.store, f.bus, nil, persist.Options{})
	if err != nil {
		t.Fatal(err)
	}
	f.store.SetTracker(engine)

	factory := func(_ context.Context, sink manager.EventSink) (manager.Client, error) {
		f.sink = sink
		return stubClient{}, nil
	}
	f.mgr = manager.New(f.store, engine, nil, status.NewMachine(f.bus), f.bus, factory, nil, manager.Options{})
	f.hub = NewHub(f.bus, nil)
	f.srv = httptest.NewServer(NewServer(f.mgr, f.hub, nil, opts).Handler())
	t.Cleanup(func() {
		f.srv.Close()
		f.hub.Close()
		f.mgr.Shutdown(context.Background())
	})
	return f
}

func (f *fixture) connect(t *testing.T) {
	t.Helper()
	if err := f.mgr.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.sink.OnConnected()
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	var rdr *bytes.Reader
	if body != "" {
		rdr = bytes.NewReader([]byte(body))
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rdr)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (f *fixture) list(t *testing.T, path string) []map[string]any {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	var out []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return out
}

func TestWhatsAppStatus(t *testing.T) {
	f := newFixture(t, Options{})
	_, body := f.do(t, http.MethodGet, "/api/whatsapp/status", "")
	if body["isConnected"] != false {
		t.Errorf("status = %v", body)
	}

	f.connect(t)
	_, body = f.do(t, http.MethodGet, "/api/whatsapp/status", "")
	if body["isConnected"] != true || body["state"] != string(status.Connected) {
		t.Errorf("status = %v", body)
	}
}

func TestQRWhenNonePending(t *testing.T) {
	f := newFixture(t, Options{})
	_, body := f.do(t, http.MethodGet, "/api/whatsapp/qr", "")
	if v, ok := body["qrCode"]; !ok || v != nil {
		t.Errorf("qr = %v, want null", body)
	}
}

func TestSavedContactsCRUD(t *testing.T) {
	f := newFixture(t, Options{})
	const id = "5585999990000@s.whatsapp.net"

	resp, _ := f.do(t, http.MethodPost, "/api/saved-contacts", `{"name":"Ana"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing chatId status = %d, want 400", resp.StatusCode)
	}
	resp, _ = f.do(t, http.MethodPost, "/api/saved-contacts", `{"chatId":"`+id+`"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing name for unknown chat status = %d, want 400", resp.StatusCode)
	}

	resp, body := f.do(t, http.MethodPost, "/api/saved-contacts", `{"chatId":"`+id+`","name":"Ana","notes":"vip"}`)
	if resp.StatusCode != http.StatusOK || body["name"] != "Ana" {
		t.Fatalf("save = %d %v", resp.StatusCode, body)
	}
	if chats := f.list(t, "/api/conversations"); len(chats) != 1 || chats[0]["id"] != id {
		t.Errorf("conversations = %v, want placeholder chat", chats)
	}

	_, body = f.do(t, http.MethodGet, "/api/saved-contacts/"+id+"/is-saved", "")
	if body["isSaved"] != true {
		t.Errorf("is-saved = %v", body)
	}
	resp, body = f.do(t, http.MethodPut, "/api/saved-contacts/"+id, `{"notes":"changed"}`)
	if resp.StatusCode != http.StatusOK || body["notes"] != "changed" || body["name"] != "Ana" {
		t.Errorf("update = %d %v", resp.StatusCode, body)
	}
	if resp, _ := f.do(t, http.MethodPost, "/api/saved-contacts/"+id+"/start-chat", ""); resp.StatusCode != http.StatusOK {
		t.Errorf("start-chat status = %d", resp.StatusCode)
	}
	if resp, _ := f.do(t, http.MethodDelete, "/api/saved-contacts/"+id, ""); resp.StatusCode != http.StatusOK {
		t.Errorf("delete status = %d", resp.StatusCode)
	}
	if resp, _ := f.do(t, http.MethodGet, "/api/saved-contacts/"+id, ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", resp.StatusCode)
	}
	if resp, _ := f.do(t, http.MethodDelete, "/api/saved-contacts/"+id, ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", resp.StatusCode)
	}
}

func TestSendRequiresConnection(t *testing.T) {
	f := newFixture(t, Options{})
	resp, body := f.do(t, http.MethodPost, "/api/conversations/send", `{"conversationId":"1@s.whatsapp.net","message":"hi"}`)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d %v, want 503", resp.StatusCode, body)
	}
}

func TestSendAndReadHistory(t *testing.T) {
	f := newFixture(t, Options{})
	f.connect(t)
	const chat = "1@s.whatsapp.net"

	resp, body := f.do(t, http.MethodPost, "/api/conversations/send", `{"conversationId":"`+chat+`","message":"hello"}`)
	if resp.StatusCode != http.StatusOK || body["success"] != true {
		t.Fatalf("send = %d %v", resp.StatusCode, body)
	}
	msgs := f.list(t, "/api/conversations/"+chat+"/messages")
	if len(msgs) != 1 || msgs[0]["body"] != "hello" || msgs[0]["fromMe"] != true {
		t.Errorf("messages = %v", msgs)
	}

	_, body = f.do(t, http.MethodPost, "/api/conversations/"+chat+"/clear", "")
	if body["cleared"] != float64(1) {
		t.Errorf("clear = %v", body)
	}
}

func TestSendRateLimited(t *testing.T) {
	f := newFixture(t, Options{SendRate: 0.001, SendBurst: 1})
	const req = `{"conversationId":"1@s.whatsapp.net","message":"hi"}`
	f.do(t, http.MethodPost, "/api/conversations/send", req)
	resp, _ := f.do(t, http.MethodPost, "/api/conversations/send", req)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
}

func TestBackupEndpoints(t *testing.T) {
	f := newFixture(t, Options{})

	if resp, _ := f.do(t, http.MethodPost, "/api/system/restore-backup", `{}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty restore status = %d, want 400", resp.StatusCode)
	}
	if resp, _ := f.do(t, http.MethodPost, "/api/system/restore-backup", `{"backupTimestamp":"nope"}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown restore status = %d, want 400", resp.StatusCode)
	}

	if resp, _ := f.do(t, http.MethodPost, "/api/system/force-save", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("force-save status = %d", resp.StatusCode)
	}
	_, body := f.do(t, http.MethodGet, "/api/system/backups", "")
	backups, _ := body["backups"].([]any)
	if len(backups) != 1 {
		t.Fatalf("backups = %v", body)
	}
	name := backups[0].(string)
	if resp, _ := f.do(t, http.MethodPost, "/api/system/restore-backup", `{"backupTimestamp":"`+name+`"}`); resp.StatusCode != http.StatusOK {
		t.Errorf("restore status = %d", resp.StatusCode)
	}

	_, body = f.do(t, http.MethodGet, "/api/system/status", "")
	if body["availableBackups"] != float64(1) || body["lastBackup"] != name {
		t.Errorf("system status = %v", body)
	}
}

func TestSendLogWithoutDatabase(t *testing.T) {
	f := newFixture(t, Options{})
	if entries := f.list(t, "/api/system/send-log"); len(entries) != 0 {
		t.Errorf("entries = %v", entries)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := newFixture(t, Options{Registerer: reg, Gatherer: reg})
	f.do(t, http.MethodGet, "/api/whatsapp/status", "")

	resp, err := http.Get(f.srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	if !strings.Contains(buf.String(), `wppdash_http_requests_total{method="GET",path="/api/whatsapp/status",status="200"}`) {
		t.Errorf("metrics output missing request counter:\n%s", buf.String())
	}
}

func TestWebsocketBroadcast(t *testing.T) {
	f := newFixture(t, Options{})
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = conn.Close() }()

	deadline := time.Now().Add(2 * time.Second)
	for f.hub.Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}

	if _, err := f.mgr.SaveContact("9@s.whatsapp.net", "Bia", "", ""); err != nil {
		t.Fatal(err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var types []string
	for len(types) < 2 {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("read frame: %v (got %v)", err, types)
		}
		types = append(types, frame.Type)
	}
	if types[0] != "chat_created" || types[1] != "contact_saved" {
		t.Errorf("frames = %v, want chat_created then contact_saved", types)
	}
}

func TestFrameFor(t *testing.T) {
	f, ok := FrameFor(bus.NewEvent(bus.SessionQR, manager.QREvent{Code: "c", Image: "img"}))
	if !ok || f.Type != "whatsapp_qr" {
		t.Fatalf("frame = %+v", f)
	}
	if data := f.Data.(map[string]any); data["qrCode"] != "img" {
		t.Errorf("qr data = %v", data)
	}

	f, _ = FrameFor(bus.NewEvent(bus.SessionConnected, nil))
	if data := f.Data.(map[string]any); data["isConnected"] != true {
		t.Errorf("connected data = %v", data)
	}

	if _, ok := FrameFor(bus.NewEvent(bus.Kind("unknown.kind"), nil)); ok {
		t.Error("unknown kinds should not produce frames")
	}
}
