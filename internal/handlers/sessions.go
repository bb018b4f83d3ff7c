package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/multi-llm-chat-go/internal/models"
	"github.com/multi-llm-chat-go/internal/services/ai"
	"github.com/multi-llm-chat-go/internal/services/chat"
	"github.com/multi-llm-chat-go/internal/services/storage"
	"github.com/multi-llm-chat-go/pkg/markdown"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/language"
)

const sseHeartbeat = 15 * time.Second

type createSessionRequest struct {
	HistoryID string `json:"history_id,omitempty"`
	Language  string `json:"language,omitempty"`
}

type sendRequest struct {
	Provider string         `json:"provider"`
	Model    string         `json:"model"`
	Content  models.Content `json:"content"`
	Document string         `json:"document,omitempty"`
}

type imageRequest struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Prompt   string `json:"prompt"`
}

// messageView is a message with its markdown rendered for display
type messageView struct {
	models.ChatMessage
	HTML string `json:"html,omitempty"`
}

type stateView struct {
	ID          string        `json:"id"`
	HistoryID   string        `json:"history_id,omitempty"`
	Title       string        `json:"title,omitempty"`
	Messages    []messageView `json:"messages"`
	IsStreaming bool          `json:"is_streaming"`
}

type eventView struct {
	chat.Event
	Message *messageView `json:"message,omitempty"`
}

func newMessageView(m models.ChatMessage) messageView {
	v := messageView{ChatMessage: m}
	// partial deltas are not rendered; the client shows raw text until the stream ends
	if m.Role == models.RoleAssistant && m.Kind == models.KindText && m.StreamComplete && !m.IsError {
		v.HTML = markdown.ToHTML(m.Content.PlainText())
	}
	return v
}

func newStateView(st chat.State) stateView {
	messages := make([]messageView, 0, len(st.Messages))
	for _, m := range st.Messages {
		messages = append(messages, newMessageView(m))
	}
	return stateView{
		ID:          st.ID,
		HistoryID:   st.HistoryID,
		Title:       st.Title,
		Messages:    messages,
		IsStreaming: st.IsStreaming,
	}
}

func newEventView(e chat.Event) eventView {
	v := eventView{Event: e}
	if e.Message != nil {
		mv := newMessageView(*e.Message)
		v.Message = &mv
	}
	return v
}

// requestLanguage picks the notice language from the body, else from Accept-Language
func requestLanguage(r *http.Request, explicit string) string {
	if explicit != "" {
		return explicit
	}
	tags, _, err := language.ParseAcceptLanguage(r.Header.Get("Accept-Language"))
	if err != nil || len(tags) == 0 {
		return ""
	}
	base, _ := tags[0].Base()
	return base.String()
}

func (a *API) session(w http.ResponseWriter, r *http.Request) (*chat.Session, bool) {
	id := mux.Vars(r)["id"]
	s, ok := a.sessions.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return s, true
}

// providerRef fills in the configured default provider and model
func (a *API) providerRef(providerID, modelID string) models.ProviderRef {
	if providerID == "" {
		providerID = a.cfg.Defaults.Provider
		if modelID == "" {
			modelID = a.cfg.Defaults.Model
		}
	}
	return models.ProviderRef{ProviderID: providerID, ModelID: modelID}
}

func (a *API) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	lang := requestLanguage(r, req.Language)

	if req.HistoryID == "" {
		s := a.sessions.Create(lang)
		writeJSON(w, http.StatusCreated, newStateView(s.Snapshot()))
		return
	}

	s, err := a.sessions.Load(r.Context(), req.HistoryID, lang)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "history not found")
			return
		}
		a.logger.WithError(err).WithField("history", req.HistoryID).Error("Failed to load history")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, newStateView(s.Snapshot()))
}

func (a *API) getSession(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newStateView(s.Snapshot()))
}

func (a *API) deleteSession(w http.ResponseWriter, r *http.Request) {
	if !a.sessions.Remove(mux.Vars(r)["id"]) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) sendMessage(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	text := req.Content.PlainText()
	if text == "" && len(req.Content.Images()) == 0 {
		writeError(w, http.StatusBadRequest, "message content is required")
		return
	}
	if err := a.security.ValidateInput(text); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var opts []chat.SendOption
	if req.Document != "" {
		opts = append(opts, chat.WithDocument(req.Document))
	}

	ref := a.providerRef(req.Provider, req.Model)
	if err := s.SendMessage(r.Context(), ref, req.Content, opts...); err != nil {
		a.writeSendError(w, s, ref, err)
		return
	}
	writeJSON(w, http.StatusAccepted, newStateView(s.Snapshot()))
}

func (a *API) sendImage(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}

	var req imageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	if err := a.security.ValidateInput(req.Prompt); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ref := a.providerRef(req.Provider, req.Model)
	if err := s.SendImagePrompt(r.Context(), ref, req.Prompt); err != nil {
		a.writeSendError(w, s, ref, err)
		return
	}
	writeJSON(w, http.StatusAccepted, newStateView(s.Snapshot()))
}

func (a *API) writeSendError(w http.ResponseWriter, s *chat.Session, ref models.ProviderRef, err error) {
	var cfgErr *ai.ConfigurationError
	switch {
	case errors.Is(err, chat.ErrStreamInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &cfgErr):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		a.logger.WithError(err).WithFields(logrus.Fields{
			"session":  s.ID,
			"provider": ref.ProviderID,
		}).Warn("Send failed")
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func (a *API) cancelStream(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": s.CancelActiveStream()})
}

func (a *API) resetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	s.Reset()
	writeJSON(w, http.StatusOK, newStateView(s.Snapshot()))
}

// sessionEvents streams session events as server-sent events, starting with a full state
func (a *API) sessionEvents(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeEvent(w, "state", newStateView(s.Snapshot()))
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			writeEvent(w, string(e.Type), newEventView(e))
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
		}
		flusher.Flush()
	}
}

func writeEvent(w http.ResponseWriter, name string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
}
