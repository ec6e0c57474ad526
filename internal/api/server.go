// Package api exposes the session manager over HTTP and a websocket
// broadcast channel.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/matheus3301/wppdash/internal/manager"
	"github.com/matheus3301/wppdash/internal/outbox"
	"github.com/matheus3301/wppdash/internal/persist"
	"github.com/matheus3301/wppdash/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Session is the part of the session manager the HTTP layer drives.
type Session interface {
	ConnectionStatus() (connected, connecting bool)
	QRCode() (code, image string)
	SystemStatus() manager.SystemStatus
	RestartConnection(ctx context.Context)
	ForceNewQRCode(ctx context.Context) error
	ClearCorruptedData()
	SanitizeChats() int

	Chats() []store.Chat
	Messages(chatID string) []store.Message
	SendMessage(ctx context.Context, to, body string) (store.Message, error)
	SyncChats() []store.Chat
	ClearChatMessages(chatID string) int
	MarkAsRead(ctx context.Context, chatID, messageID string) bool

	Contacts() []store.SavedContact
	Contact(id string) (store.SavedContact, error)
	SaveContact(chatID, name, notes, gender string) (store.SavedContact, error)
	UpdateContact(id string, p store.ContactPatch) (store.SavedContact, error)
	RemoveContact(id string) bool
	StartChatWithContact(id string) bool
	IsContactSaved(id string) bool

	ForceSave() error
	ListBackups() ([]string, error)
	RestoreBackup(name string) bool
	SendLog(limit int) ([]outbox.Entry, error)
}

// Options configures the HTTP surface.
type Options struct {
	// SendRate is the sustained send rate in messages per second.
	SendRate  float64
	SendBurst int
	// Registerer and Gatherer back the /metrics endpoint. Nil disables it.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// Server routes HTTP requests to the session manager.
type Server struct {
	session Session
	hub     *Hub
	limiter *rate.Limiter
	metrics *httpMetrics
	gather  prometheus.Gatherer
	logger  *zap.Logger
}

// NewServer creates the HTTP server. hub may be nil when no websocket
// channel is wanted.
func NewServer(session Session, hub *Hub, logger *zap.Logger, opts Options) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.SendRate <= 0 {
		opts.SendRate = 1
	}
	if opts.SendBurst <= 0 {
		opts.SendBurst = 5
	}
	return &Server{
		session: session,
		hub:     hub,
		limiter: rate.NewLimiter(rate.Limit(opts.SendRate), opts.SendBurst),
		metrics: newHTTPMetrics(opts.Registerer),
		gather:  opts.Gatherer,
		logger:  logger,
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(s.metrics.middleware)

	api := router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/whatsapp/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/whatsapp/qr", s.handleQR).Methods(http.MethodGet)
	api.HandleFunc("/whatsapp/restart", s.handleRestart).Methods(http.MethodPost)
	api.HandleFunc("/whatsapp/force-init", s.handleForceInit).Methods(http.MethodPost)
	api.HandleFunc("/whatsapp/clear-data", s.handleClearData).Methods(http.MethodPost)
	api.HandleFunc("/whatsapp/sanitize-chats", s.handleSanitize).Methods(http.MethodPost)

	api.HandleFunc("/conversations", s.handleConversations).Methods(http.MethodGet)
	api.HandleFunc("/conversations/send", s.handleSend).Methods(http.MethodPost)
	api.HandleFunc("/conversations/sync", s.handleSync).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{chatId}/messages", s.handleMessages).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{chatId}/clear", s.handleClearChat).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{chatId}/read", s.handleRead).Methods(http.MethodPost)

	api.HandleFunc("/saved-contacts", s.handleListContacts).Methods(http.MethodGet)
	api.HandleFunc("/saved-contacts", s.handleSaveContact).Methods(http.MethodPost)
	api.HandleFunc("/saved-contacts/{id}", s.handleGetContact).Methods(http.MethodGet)
	api.HandleFunc("/saved-contacts/{id}", s.handleUpdateContact).Methods(http.MethodPut)
	api.HandleFunc("/saved-contacts/{id}", s.handleRemoveContact).Methods(http.MethodDelete)
	api.HandleFunc("/saved-contacts/{id}/start-chat", s.handleStartChat).Methods(http.MethodPost)
	api.HandleFunc("/saved-contacts/{id}/is-saved", s.handleIsSaved).Methods(http.MethodGet)

	api.HandleFunc("/system/force-save", s.handleForceSave).Methods(http.MethodPost)
	api.HandleFunc("/system/backups", s.handleBackups).Methods(http.MethodGet)
	api.HandleFunc("/system/restore-backup", s.handleRestore).Methods(http.MethodPost)
	api.HandleFunc("/system/status", s.handleSystemStatus).Methods(http.MethodGet)
	api.HandleFunc("/system/send-log", s.handleSendLog).Methods(http.MethodGet)

	if s.hub != nil {
		router.Handle("/ws", s.hub)
	}
	if s.gather != nil {
		router.Handle("/metrics", promhttp.HandlerFor(s.gather, promhttp.HandlerOpts{}))
	}
	return router
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// writeErr maps domain errors onto HTTP status codes.
func (s *Server) writeErr(w http.ResponseWriter, err error) {
	var verr *store.ValidationError
	switch {
	case errors.As(err, &verr):
		s.writeError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, store.ErrNotFound), errors.Is(err, persist.ErrBackupNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, manager.ErrNotConnected):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &store.ValidationError{Field: "body", Reason: err.Error()}
	}
	return nil
}
