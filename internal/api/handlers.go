package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/matheus3301/wppdash/internal/store"
)

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	connected, connecting := s.session.ConnectionStatus()
	st := s.session.SystemStatus()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"isConnected":   connected,
		"isConnecting":  connecting,
		"state":         st.State,
		"lastConnected": st.LastConnected,
		"autoReconnect": true,
	})
}

func (s *Server) handleQR(w http.ResponseWriter, _ *http.Request) {
	code, image := s.session.QRCode()
	resp := map[string]any{"qrCode": nil, "code": nil}
	if code != "" {
		resp["qrCode"] = image
		resp["code"] = code
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	s.session.RestartConnection(r.Context())
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "connection restarting"})
}

func (s *Server) handleForceInit(w http.ResponseWriter, r *http.Request) {
	if err := s.session.ForceNewQRCode(r.Context()); err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "new QR code requested"})
}

func (s *Server) handleClearData(w http.ResponseWriter, _ *http.Request) {
	s.session.ClearCorruptedData()
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleSanitize(w http.ResponseWriter, _ *http.Request) {
	n := s.session.SanitizeChats()
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "sanitized": n})
}

func (s *Server) handleConversations(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.session.Chats())
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.session.Messages(mux.Vars(r)["chatId"]))
}

type sendRequest struct {
	ConversationID string `json:"conversationId"`
	To             string `json:"to"`
	Message        string `json:"message"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		w.Header().Set("Retry-After", "1")
		s.writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}
	var req sendRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeErr(w, err)
		return
	}
	to := req.ConversationID
	if to == "" {
		to = req.To
	}
	msg, err := s.session.SendMessage(r.Context(), to, req.Message)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": msg})
}

func (s *Server) handleSync(w http.ResponseWriter, _ *http.Request) {
	chats := s.session.SyncChats()
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "conversations": len(chats)})
}

func (s *Server) handleClearChat(w http.ResponseWriter, r *http.Request) {
	n := s.session.ClearChatMessages(mux.Vars(r)["chatId"])
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "cleared": n})
}

type readRequest struct {
	MessageID string `json:"messageId"`
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	var req readRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			s.writeErr(w, err)
			return
		}
	}
	if !s.session.MarkAsRead(r.Context(), mux.Vars(r)["chatId"], req.MessageID) {
		s.writeErr(w, store.ErrNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleListContacts(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.session.Contacts())
}

type saveContactRequest struct {
	ChatID string `json:"chatId"`
	Name   string `json:"name"`
	Notes  string `json:"notes"`
	Gender string `json:"gender"`
}

func (s *Server) handleSaveContact(w http.ResponseWriter, r *http.Request) {
	var req saveContactRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeErr(w, err)
		return
	}
	c, err := s.session.SaveContact(req.ChatID, req.Name, req.Notes, req.Gender)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleGetContact(w http.ResponseWriter, r *http.Request) {
	c, err := s.session.Contact(mux.Vars(r)["id"])
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleUpdateContact(w http.ResponseWriter, r *http.Request) {
	var patch store.ContactPatch
	if err := decodeBody(r, &patch); err != nil {
		s.writeErr(w, err)
		return
	}
	c, err := s.session.UpdateContact(mux.Vars(r)["id"], patch)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleRemoveContact(w http.ResponseWriter, r *http.Request) {
	if !s.session.RemoveContact(mux.Vars(r)["id"]) {
		s.writeErr(w, store.ErrNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleStartChat(w http.ResponseWriter, r *http.Request) {
	if !s.session.StartChatWithContact(mux.Vars(r)["id"]) {
		s.writeErr(w, store.ErrNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleIsSaved(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]bool{"isSaved": s.session.IsContactSaved(mux.Vars(r)["id"])})
}

func (s *Server) handleForceSave(w http.ResponseWriter, _ *http.Request) {
	if err := s.session.ForceSave(); err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleBackups(w http.ResponseWriter, _ *http.Request) {
	backups, err := s.session.ListBackups()
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"backups": backups})
}

type restoreRequest struct {
	BackupTimestamp string `json:"backupTimestamp"`
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	var req restoreRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeErr(w, err)
		return
	}
	if strings.TrimSpace(req.BackupTimestamp) == "" {
		s.writeErr(w, &store.ValidationError{Field: "backupTimestamp", Reason: "required"})
		return
	}
	if !s.session.RestoreBackup(req.BackupTimestamp) {
		s.writeError(w, http.StatusBadRequest, "failed to restore backup "+req.BackupTimestamp)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleSystemStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.session.SystemStatus())
}

func (s *Server) handleSendLog(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.session.SendLog(limit)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}
