package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/wppdash/internal/api"
	"github.com/matheus3301/wppdash/internal/bus"
	"github.com/matheus3301/wppdash/internal/config"
	"github.com/matheus3301/wppdash/internal/manager"
	"github.com/matheus3301/wppdash/internal/persist"
	"github.com/matheus3301/wppdash/internal/status"
	"github.com/matheus3301/wppdash/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func shortTempDir(t *testing.T, pattern string) string {
	t.Helper()
	// Use a short path to avoid macOS 104-char Unix socket limit.
	dir, err := os.MkdirTemp("/tmp", pattern)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

func healthClient(t *testing.T, socketPath string) healthpb.HealthClient {
	t.Helper()
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return healthpb.NewHealthClient(conn)
}

func checkStatus(t *testing.T, c healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("Check(%q) error = %v", service, err)
	}
	return resp.Status
}

func TestControlSocketHealth(t *testing.T) {
	socketPath := filepath.Join(shortTempDir(t, "wpp-health-*"), "d.sock")

	b := bus.New()
	srv, err := NewServer(Params{SessionName: "test", SocketPath: socketPath}, b, zap.NewNop())
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	go func() { _ = srv.Start() }()
	defer srv.Stop(context.Background())

	info, err := os.Stat(socketPath)
	if err != nil {
		t.Fatalf("socket not created: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("socket permission = %o, want 0600", perm)
	}

	client := healthClient(t, socketPath)
	if got := checkStatus(t, client, ""); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("daemon status = %v, want SERVING", got)
	}
	if got := checkStatus(t, client, WhatsAppService); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("whatsapp status = %v, want NOT_SERVING before connect", got)
	}

	b.Emit(bus.SessionConnected, nil)
	if got := checkStatus(t, client, WhatsAppService); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("whatsapp status = %v, want SERVING after connect", got)
	}

	b.Emit(bus.SessionLoggedOut, nil)
	if got := checkStatus(t, client, WhatsAppService); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("whatsapp status = %v, want NOT_SERVING after logout", got)
	}
}

func TestStaleSocketReplaced(t *testing.T) {
	socketPath := filepath.Join(shortTempDir(t, "wpp-stale-*"), "d.sock")
	if err := os.WriteFile(socketPath, nil, 0600); err != nil {
		t.Fatal(err)
	}

	srv, err := NewServer(Params{SessionName: "test", SocketPath: socketPath}, bus.New(), zap.NewNop())
	if err != nil {
		t.Fatalf("NewServer() over stale socket error = %v", err)
	}
	srv.Stop(context.Background())

	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Error("socket should be removed on stop")
	}
}

func TestHTTPServerServesAPI(t *testing.T) {
	dir := t.TempDir()
	b := bus.New()
	st := store.New(b, nil, store.Options{})
	engine, err := persist.New(filepath.Join(dir, "data"), filepath.Join(dir, "backup"), st, b, nil, persist.Options{})
	if err != nil {
		t.Fatal(err)
	}
	st.SetTracker(engine)
	factory := func(context.Context, manager.EventSink) (manager.Client, error) {
		return nil, manager.ErrNotConnected
	}
	mgr := manager.New(st, engine, nil, status.NewMachine(b), b, factory, nil, manager.Options{})
	apiSrv := api.NewServer(mgr, nil, zap.NewNop(), api.Options{})

	cfg := config.Default()
	cfg.HTTP.Listen = "127.0.0.1:0"
	httpSrv, err := NewHTTPServer(Params{SessionName: "test", Config: cfg}, apiSrv, zap.NewNop())
	if err != nil {
		t.Fatalf("NewHTTPServer() error = %v", err)
	}
	go func() { _ = httpSrv.Start() }()
	defer httpSrv.Stop(context.Background())

	resp, err := http.Get("http://" + httpSrv.Addr() + "/api/whatsapp/status")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		IsConnected bool   `json:"isConnected"`
		State       string `json:"state"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.IsConnected {
		t.Error("expected disconnected status")
	}
}

func TestStopSequenceClosesAPIBeforeSave(t *testing.T) {
	pos := map[string]int{}
	for i, step := range stopSequence(nil, nil, nil, nil, nil) {
		pos[step.name] = i
	}
	for _, inbound := range []string{"http", "hub"} {
		if pos[inbound] >= pos["manager"] {
			t.Errorf("%s stops at %d, after the final save at %d", inbound, pos[inbound], pos["manager"])
		}
	}
	if pos["manager"] >= pos["persist"] {
		t.Errorf("persist engine stops at %d, before the final save at %d", pos["persist"], pos["manager"])
	}
}

// TestFxModuleWiring verifies the fx dependency graph resolves without
// running any constructor.
func TestFxModuleWiring(t *testing.T) {
	err := fx.ValidateApp(Module(Params{SessionName: "fxtest", Config: config.Default()}))
	if err != nil {
		t.Fatalf("fx graph invalid: %v", err)
	}
}
