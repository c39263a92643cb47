package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/soyeahso/casefinder/internal/conversation"
	"github.com/soyeahso/casefinder/internal/domain"
	"github.com/soyeahso/casefinder/internal/genai"
	"github.com/soyeahso/casefinder/internal/store"
)

// registerRoutes sets up all HTTP routes on the server mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /api/conversations", s.handleCreateConversation)
	mux.HandleFunc("GET /api/conversations", s.handleListConversations)
	mux.HandleFunc("POST /api/conversations/{id}/verify", s.handleVerify)
	mux.HandleFunc("GET /api/conversations/{id}", s.handleGetConversation)
	mux.HandleFunc("PATCH /api/conversations/{id}", s.handlePatchConversation)
	mux.HandleFunc("GET /api/conversations/{id}/messages", s.handleListMessages)
	mux.HandleFunc("POST /api/conversations/{id}/messages", s.handleSendMessage)
	mux.HandleFunc("POST /api/conversations/{id}/retry", s.handleRetry)
	mux.HandleFunc("POST /api/conversations/{id}/cases/more", s.handleLoadMore)
	mux.HandleFunc("GET /api/conversations/{id}/watch", s.handleWatch)
	mux.HandleFunc("POST /api/generate/cases", s.handleGenerateCases)

	mux.HandleFunc("/", handleNotFound)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

// bearerToken extracts a token from the Authorization header or the
// token query parameter. The query form exists because the results
// link carries the token.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// authorize checks the caller's token against the conversation id.
// The server secret itself acts as an admin override.
func (s *Server) authorize(r *http.Request, conversationID string) bool {
	token := bearerToken(r)
	if token == "" || s.cfg.Server.Secret == "" {
		return false
	}
	if safeEqual(token, s.cfg.Server.Secret) {
		return true
	}
	id, ok := VerifyAccessToken(s.cfg.Server.Secret, token)
	return ok && id == conversationID
}

// authorizeAdmin accepts only the server secret.
func (s *Server) authorizeAdmin(r *http.Request) bool {
	token := bearerToken(r)
	return token != "" && s.cfg.Server.Secret != "" && safeEqual(token, s.cfg.Server.Secret)
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "not found",
		"path":  r.URL.Path,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
	})
}

type createConversationRequest struct {
	Contact domain.Contact `json:"contact"`
	Profile domain.Profile `json:"profile"`
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if req.Contact.Name == "" || req.Contact.Email == "" {
		writeError(w, http.StatusBadRequest, "contact name and email are required")
		return
	}
	if req.Profile.Category == "" || req.Profile.Industry == "" {
		writeError(w, http.StatusBadRequest, "profile category and industry are required")
		return
	}

	conv := &domain.Conversation{Contact: req.Contact, Profile: req.Profile}
	if err := s.conversations.Create(conv); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.log.Info().
		Str("conversation", conv.ID).
		Str("category", conv.Profile.Category).
		Str("industry", conv.Profile.Industry).
		Msg("conversation created")

	writeJSON(w, http.StatusCreated, map[string]any{
		"conversation": conv,
		"token":        AccessToken(s.cfg.Server.Secret, conv.ID),
	})
}

type verifyRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// handleVerify re-issues an access token to a visitor who lost theirs,
// against the contact details captured at creation. Both fields must
// match exactly; the mismatch message deliberately does not say which
// field was wrong.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if req.Name == "" || req.Phone == "" {
		writeError(w, http.StatusBadRequest, "name and phone are required")
		return
	}

	record, err := s.conversations.Get(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	if record.Contact.Name != req.Name || record.Contact.Phone != req.Phone {
		s.log.Warn().Str("conversation", id).Msg("verification mismatch")
		writeError(w, http.StatusUnauthorized, "入力された情報が一致しません")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token": AccessToken(s.cfg.Server.Secret, id),
	})
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeAdmin(r) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	list, err := s.conversations.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": list})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.authorize(r, id) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	record, err := s.conversations.Get(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	sess, err := s.getSession(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conversation": record,
		"state":        sess.orch.State(),
		"turns":        sess.orch.Turns(),
		"cases":        sess.pager.Visible(),
		"exhausted":    sess.pager.Exhausted(),
	})
}

type patchConversationRequest struct {
	Status *string `json:"status,omitempty"`
	Notes  *string `json:"notes,omitempty"`
}

func (s *Server) handlePatchConversation(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeAdmin(r) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	id := r.PathValue("id")

	var req patchConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}

	patch := store.Patch{Notes: req.Notes}
	if req.Status != nil {
		status := domain.ConversationStatus(*req.Status)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "invalid status: "+*req.Status)
			return
		}
		patch.Status = &status
	}

	record, err := s.conversations.Update(id, patch)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversation": record})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.authorize(r, id) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	turns, err := s.transcripts.Load(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"turns": turns})
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.authorize(r, id) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	sess, err := s.getSession(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	sess.orch.Send(req.Content)
	writeJSON(w, http.StatusAccepted, map[string]any{"state": sess.orch.State()})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.authorize(r, id) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	sess, err := s.getSession(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	sess.orch.Retry()
	writeJSON(w, http.StatusAccepted, map[string]any{"state": sess.orch.State()})
}

func (s *Server) handleLoadMore(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.authorize(r, id) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	sess, err := s.getSession(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	if err := sess.pager.LoadMore(r.Context()); err != nil {
		if errors.Is(err, conversation.ErrExhausted) {
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":     "no more pages",
				"exhausted": true,
			})
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"cases":     sess.pager.Visible(),
		"exhausted": sess.pager.Exhausted(),
	})
}

type generateCasesRequest struct {
	ConversationID string   `json:"conversationId"`
	ExcludeTitles  []string `json:"excludeTitles,omitempty"`
}

// handleGenerateCases proxies case generation as a server-sent-event
// stream: deltas as they arrive, one terminal result or error record.
// The resolved cases are persisted so a revisit does not regenerate.
func (s *Server) handleGenerateCases(w http.ResponseWriter, r *http.Request) {
	var req generateCasesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if !s.authorize(r, req.ConversationID) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	record, err := s.conversations.Get(req.ConversationID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, err := s.gen.GenerateCases(r.Context(), record.Profile, req.ExcludeTitles)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	for ev := range events {
		payload, err := json.Marshal(sseRecord(ev))
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()

		if ev.Type == genai.EventResult && len(ev.Cases) > 0 {
			merged := domain.DedupCases(record.Cases, ev.Cases)
			if _, err := s.conversations.Update(req.ConversationID, store.Patch{Cases: merged}); err != nil {
				s.log.Error().Err(err).Str("conversation", req.ConversationID).Msg("case persistence failed")
			}
			// Keep the live session consistent: later load-more calls
			// must exclude these titles, and replies use them as context.
			if sess := s.peekSession(req.ConversationID); sess != nil {
				sess.pager.Seed(merged)
				sess.orch.SetCases(merged)
			}
		}
	}
}

// sseRecord shapes a decoded event for the outbound SSE stream.
func sseRecord(ev genai.Event) map[string]any {
	switch ev.Type {
	case genai.EventDelta:
		return map[string]any{"event": "text_chunk", "text": ev.Text}
	case genai.EventResult:
		return map[string]any{"event": "finished", "cases": ev.Cases}
	default:
		return map[string]any{"event": "error", "message": ev.Err}
	}
}
