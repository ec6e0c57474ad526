package outbox

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

// mockSender records calls and returns configurable results.
type mockSender struct {
	calls []sendCall
	err   error
}

type sendCall struct {
	ChatID string
	Text   string
}

func (m *mockSender) SendText(_ context.Context, chatID string, text string) (string, error) {
	m.calls = append(m.calls, sendCall{ChatID: chatID, Text: text})
	if m.err != nil {
		return "", m.err
	}
	return "server-" + chatID, nil
}

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "outbox.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
}

func TestSendRecordsSuccess(t *testing.T) {
	log := NewLog(testDB(t), zap.NewNop())
	mock := &mockSender{}

	clientID, serverID, err := log.Send(context.Background(), mock, "1@s.whatsapp.net", "hello")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if clientID == "" || serverID != "server-1@s.whatsapp.net" {
		t.Errorf("ids = %q, %q", clientID, serverID)
	}
	if len(mock.calls) != 1 || mock.calls[0].Text != "hello" {
		t.Errorf("calls = %+v", mock.calls)
	}

	entries, err := log.Recent(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.Status != StatusSent || e.ServerMsgID != serverID || e.ClientMsgID != clientID {
		t.Errorf("entry = %+v", e)
	}
}

func TestSendRecordsFailure(t *testing.T) {
	log := NewLog(testDB(t), nil)
	mock := &mockSender{err: errors.New("socket closed")}

	_, _, err := log.Send(context.Background(), mock, "1@s.whatsapp.net", "hello")
	if err == nil {
		t.Fatal("expected send error")
	}

	entries, _ := log.Recent(10)
	if len(entries) != 1 || entries[0].Status != StatusFailed || entries[0].ErrorMessage != "socket closed" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestSendWithoutDatabase(t *testing.T) {
	var log *Log
	mock := &mockSender{}
	if _, _, err := log.Send(context.Background(), mock, "1@s.whatsapp.net", "hi"); err != nil {
		t.Fatalf("Send on nil log: %v", err)
	}
	if len(mock.calls) != 1 {
		t.Error("message should still be sent")
	}
	entries, err := log.Recent(5)
	if err != nil || len(entries) != 0 {
		t.Errorf("Recent = %v, %v", entries, err)
	}
}

func TestSendSurvivesClosedDatabase(t *testing.T) {
	db := testDB(t)
	log := NewLog(db, nil)
	_ = db.Close()

	mock := &mockSender{}
	if _, _, err := log.Send(context.Background(), mock, "1@s.whatsapp.net", "hi"); err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func TestRecentNewestFirst(t *testing.T) {
	log := NewLog(testDB(t), nil)
	mock := &mockSender{}
	for _, body := range []string{"a", "b", "c"} {
		if _, _, err := log.Send(context.Background(), mock, "1@s.whatsapp.net", body); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := log.Recent(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Body != "c" || entries[1].Body != "b" {
		t.Errorf("entries = %+v", entries)
	}
}
