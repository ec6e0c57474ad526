package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Send statuses.
const (
	StatusSending = "sending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// Entry is one outgoing message attempt.
type Entry struct {
	ID           int64     `json:"id"`
	ClientMsgID  string    `json:"clientMsgId"`
	ChatID       string    `json:"chatId"`
	Body         string    `json:"body"`
	Status       string    `json:"status"`
	ServerMsgID  string    `json:"serverMsgId,omitempty"`
	ErrorMessage string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// TextSender is the interface for sending text messages via WhatsApp.
type TextSender interface {
	SendText(ctx context.Context, chatID string, text string) (serverMsgID string, err error)
}

// Log records send attempts. A nil *Log or a failing database never blocks
// the send itself; recording errors are only logged.
type Log struct {
	db     *DB
	logger *zap.Logger
	now    func() time.Time
}

// NewLog wraps an opened, migrated database.
func NewLog(db *DB, logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{db: db, logger: logger, now: time.Now}
}

// Send records the attempt, delivers it through sender and records the
// outcome. It returns the client id assigned to the attempt along with the
// sender's result.
func (l *Log) Send(ctx context.Context, sender TextSender, chatID, body string) (clientMsgID, serverMsgID string, err error) {
	clientMsgID = uuid.NewString()
	l.record(func() error { return l.begin(clientMsgID, chatID, body) })

	serverMsgID, err = sender.SendText(ctx, chatID, body)
	if err != nil {
		l.record(func() error { return l.markFailed(clientMsgID, err.Error()) })
		return clientMsgID, "", err
	}
	l.record(func() error { return l.markSent(clientMsgID, serverMsgID) })
	return clientMsgID, serverMsgID, nil
}

func (l *Log) record(fn func() error) {
	if l == nil || l.db == nil {
		return
	}
	if err := fn(); err != nil {
		l.logger.Warn("send log write failed", zap.Error(err))
	}
}

func (l *Log) begin(clientMsgID, chatID, body string) error {
	now := l.now().UnixMilli()
	_, err := l.db.Exec(`
		INSERT INTO send_log (client_msg_id, chat_id, body, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		clientMsgID, chatID, body, StatusSending, now, now)
	return err
}

func (l *Log) markSent(clientMsgID, serverMsgID string) error {
	now := l.now().UnixMilli()
	_, err := l.db.Exec(`UPDATE send_log SET status = ?, server_msg_id = ?, updated_at = ? WHERE client_msg_id = ?`,
		StatusSent, serverMsgID, now, clientMsgID)
	return err
}

func (l *Log) markFailed(clientMsgID, errMsg string) error {
	now := l.now().UnixMilli()
	_, err := l.db.Exec(`UPDATE send_log SET status = ?, error_message = ?, updated_at = ? WHERE client_msg_id = ?`,
		StatusFailed, errMsg, now, clientMsgID)
	return err
}

// Recent returns up to limit entries, newest first.
func (l *Log) Recent(limit int) ([]Entry, error) {
	if l == nil || l.db == nil {
		return []Entry{}, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.Query(`
		SELECT id, client_msg_id, chat_id, body, status, server_msg_id, error_message, created_at, updated_at
		FROM send_log ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query send log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := []Entry{}
	for rows.Next() {
		var (
			e                Entry
			created, updated int64
		)
		if err := rows.Scan(&e.ID, &e.ClientMsgID, &e.ChatID, &e.Body, &e.Status,
			&e.ServerMsgID, &e.ErrorMessage, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan send log: %w", err)
		}
		e.CreatedAt = time.UnixMilli(created)
		e.UpdatedAt = time.UnixMilli(updated)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
