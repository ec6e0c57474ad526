package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/matheus3301/wppdash/internal/manager"
	"github.com/matheus3301/wppdash/internal/outbox"
	"github.com/matheus3301/wppdash/internal/store"
)

// APIError is a non-2xx reply from the daemon.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("daemon returned %d: %s", e.Status, e.Message)
}

// Client talks to a running daemon over its dashboard HTTP API.
type Client struct {
	base string
	http *http.Client
}

// NewClient builds a client for addr, which may be a bare host:port.
func NewClient(addr string) *Client {
	return &Client{
		base: BaseURL(addr),
		http: &http.Client{Timeout: 15 * time.Second},
	}
}

// BaseURL turns a listen address into an http URL. An empty host means
// loopback.
func BaseURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimRight(addr, "/")
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ConnectionStatus is the reply of the whatsapp status route.
type ConnectionStatus struct {
	IsConnected   bool       `json:"isConnected"`
	IsConnecting  bool       `json:"isConnecting"`
	State         string     `json:"state"`
	LastConnected *time.Time `json:"lastConnected"`
}

func (c *Client) Status(ctx context.Context) (ConnectionStatus, error) {
	var st ConnectionStatus
	err := c.do(ctx, http.MethodGet, "/api/whatsapp/status", nil, &st)
	return st, err
}

func (c *Client) SystemStatus(ctx context.Context) (manager.SystemStatus, error) {
	var st manager.SystemStatus
	err := c.do(ctx, http.MethodGet, "/api/system/status", nil, &st)
	return st, err
}

// QR returns the pending pairing code, or "" when none is pending.
func (c *Client) QR(ctx context.Context) (string, error) {
	var resp struct {
		Code *string `json:"code"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/whatsapp/qr", nil, &resp); err != nil {
		return "", err
	}
	if resp.Code == nil {
		return "", nil
	}
	return *resp.Code, nil
}

func (c *Client) Restart(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/whatsapp/restart", nil, nil)
}

func (c *Client) ForceNewQR(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/whatsapp/force-init", nil, nil)
}

func (c *Client) ClearData(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/whatsapp/clear-data", nil, nil)
}

func (c *Client) Sanitize(ctx context.Context) (int, error) {
	var resp struct {
		Sanitized int `json:"sanitized"`
	}
	err := c.do(ctx, http.MethodPost, "/api/whatsapp/sanitize-chats", nil, &resp)
	return resp.Sanitized, err
}

func (c *Client) Chats(ctx context.Context) ([]store.Chat, error) {
	var chats []store.Chat
	err := c.do(ctx, http.MethodGet, "/api/conversations", nil, &chats)
	return chats, err
}

func (c *Client) Messages(ctx context.Context, chatID string) ([]store.Message, error) {
	var msgs []store.Message
	err := c.do(ctx, http.MethodGet, "/api/conversations/"+url.PathEscape(chatID)+"/messages", nil, &msgs)
	return msgs, err
}

func (c *Client) Send(ctx context.Context, to, text string) (store.Message, error) {
	var resp struct {
		Data store.Message `json:"data"`
	}
	err := c.do(ctx, http.MethodPost, "/api/conversations/send", map[string]string{"to": to, "message": text}, &resp)
	return resp.Data, err
}

func (c *Client) SyncChats(ctx context.Context) (int, error) {
	var resp struct {
		Conversations int `json:"conversations"`
	}
	err := c.do(ctx, http.MethodPost, "/api/conversations/sync", nil, &resp)
	return resp.Conversations, err
}

func (c *Client) ClearChat(ctx context.Context, chatID string) (int, error) {
	var resp struct {
		Cleared int `json:"cleared"`
	}
	err := c.do(ctx, http.MethodPost, "/api/conversations/"+url.PathEscape(chatID)+"/clear", nil, &resp)
	return resp.Cleared, err
}

func (c *Client) MarkRead(ctx context.Context, chatID string) error {
	return c.do(ctx, http.MethodPost, "/api/conversations/"+url.PathEscape(chatID)+"/read", nil, nil)
}

func (c *Client) Contacts(ctx context.Context) ([]store.SavedContact, error) {
	var contacts []store.SavedContact
	err := c.do(ctx, http.MethodGet, "/api/saved-contacts", nil, &contacts)
	return contacts, err
}

func (c *Client) SaveContact(ctx context.Context, chatID, name, notes string) (store.SavedContact, error) {
	var sc store.SavedContact
	err := c.do(ctx, http.MethodPost, "/api/saved-contacts", map[string]string{
		"chatId": chatID,
		"name":   name,
		"notes":  notes,
	}, &sc)
	return sc, err
}

func (c *Client) UpdateContact(ctx context.Context, id string, patch store.ContactPatch) (store.SavedContact, error) {
	var sc store.SavedContact
	err := c.do(ctx, http.MethodPut, "/api/saved-contacts/"+url.PathEscape(id), patch, &sc)
	return sc, err
}

func (c *Client) RemoveContact(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/saved-contacts/"+url.PathEscape(id), nil, nil)
}

func (c *Client) StartChat(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/saved-contacts/"+url.PathEscape(id)+"/start-chat", nil, nil)
}

func (c *Client) ForceSave(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/system/force-save", nil, nil)
}

func (c *Client) Backups(ctx context.Context) ([]string, error) {
	var resp struct {
		Backups []string `json:"backups"`
	}
	err := c.do(ctx, http.MethodGet, "/api/system/backups", nil, &resp)
	return resp.Backups, err
}

func (c *Client) RestoreBackup(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, "/api/system/restore-backup", map[string]string{"backupTimestamp": name}, nil)
}

func (c *Client) SendLog(ctx context.Context, limit int) ([]outbox.Entry, error) {
	var entries []outbox.Entry
	err := c.do(ctx, http.MethodGet, "/api/system/send-log?limit="+strconv.Itoa(limit), nil, &entries)
	return entries, err
}
