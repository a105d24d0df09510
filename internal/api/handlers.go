package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/herbalis/salesbot/internal/knowledge"
	"github.com/herbalis/salesbot/internal/models"
)

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, successWithMessage("salesbot running", map[string]string{
		"time": time.Now().UTC().Format(time.RFC3339),
	}))
}

func (s *Server) listAlertsHandler(w http.ResponseWriter, r *http.Request) {
	if s.alerts == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, errorResponse("Alerts not configured"))
		return
	}
	writeJSONResponse(w, http.StatusOK, successResponse(s.alerts.List()))
}

func (s *Server) clearAlertsHandler(w http.ResponseWriter, r *http.Request) {
	if s.alerts == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, errorResponse("Alerts not configured"))
		return
	}
	phone := r.PathValue("phone")
	cleared := s.alerts.ClearForUser(phone)
	writeJSONResponse(w, http.StatusOK, successWithMessage("Alerts cleared", map[string]int{"cleared": cleared}))
}

// conversationSummary is the list view; full history stays in the detail
// endpoint.
type conversationSummary struct {
	Phone          string      `json:"phone"`
	Name           string      `json:"name,omitempty"`
	Step           models.Step `json:"step"`
	Paused         bool        `json:"paused"`
	LastActivityAt time.Time   `json:"last_activity_at"`
	Messages       int         `json:"messages"`
	HasOrder       bool        `json:"has_order"`
}

func (s *Server) listConversationsHandler(w http.ResponseWriter, r *http.Request) {
	states, err := s.store.ListConversations()
	if err != nil {
		slog.Error("Server.listConversationsHandler: list failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, errorResponse("Failed to list conversations"))
		return
	}
	summaries := make([]conversationSummary, 0, len(states))
	for _, st := range states {
		summaries = append(summaries, conversationSummary{
			Phone:          st.Phone,
			Name:           st.Name,
			Step:           st.Step,
			Paused:         st.Paused,
			LastActivityAt: st.LastActivityAt,
			Messages:       len(st.History),
			HasOrder:       st.PendingOrder != nil,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].LastActivityAt.After(summaries[j].LastActivityAt)
	})
	writeJSONResponse(w, http.StatusOK, successResponse(summaries))
}

func (s *Server) getConversationHandler(w http.ResponseWriter, r *http.Request) {
	phone := r.PathValue("phone")
	state, err := s.store.GetConversation(phone)
	if err != nil {
		slog.Error("Server.getConversationHandler: load failed", "phone", phone, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, errorResponse("Failed to load conversation"))
		return
	}
	if state == nil {
		writeJSONResponse(w, http.StatusNotFound, errorResponse("Conversation not found"))
		return
	}
	detail := struct {
		*models.ConversationState
		AlertPending bool `json:"alert_pending"`
	}{ConversationState: state}
	if s.alerts != nil {
		detail.AlertPending = s.alerts.PendingForUser(phone)
	}
	writeJSONResponse(w, http.StatusOK, successResponse(detail))
}

func (s *Server) pauseHandler(w http.ResponseWriter, r *http.Request) {
	s.setPaused(w, r, true)
}

func (s *Server) resumeHandler(w http.ResponseWriter, r *http.Request) {
	s.setPaused(w, r, false)
}

func (s *Server) setPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	phone := r.PathValue("phone")
	state, err := s.store.GetConversation(phone)
	if err != nil {
		writeJSONResponse(w, http.StatusInternalServerError, errorResponse("Failed to load conversation"))
		return
	}
	if state == nil {
		writeJSONResponse(w, http.StatusNotFound, errorResponse("Conversation not found"))
		return
	}
	state.Paused = paused
	if err := s.store.SaveConversation(state); err != nil {
		slog.Error("Server.setPaused: save failed", "phone", phone, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, errorResponse("Failed to save conversation"))
		return
	}
	msg := "Bot resumed"
	if paused {
		msg = "Bot paused"
	}
	slog.Info("Server.setPaused: toggled", "phone", phone, "paused", paused)
	writeJSONResponse(w, http.StatusOK, successWithMessage(msg, map[string]bool{"paused": paused}))
}

func (s *Server) listOrdersHandler(w http.ResponseWriter, r *http.Request) {
	orders, err := s.store.GetOrders()
	if err != nil {
		slog.Error("Server.listOrdersHandler: list failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, errorResponse("Failed to list orders"))
		return
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	writeJSONResponse(w, http.StatusOK, successResponse(orders))
}

// adminCommandRequest mirrors what the operator types on WhatsApp:
// an optional target and the command text.
type adminCommandRequest struct {
	Target  string `json:"target,omitempty"`
	Command string `json:"command"`
}

func (s *Server) adminCommandHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if s.admin == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, errorResponse("Admin interpreter not configured"))
		return
	}
	var req adminCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, errorResponse("Invalid JSON format"))
		return
	}
	if req.Command == "" {
		writeJSONResponse(w, http.StatusBadRequest, errorResponse("Command is required"))
		return
	}
	reply, err := s.admin.Interpret(r.Context(), req.Target, req.Command)
	if err != nil {
		slog.Warn("Server.adminCommandHandler: command failed", "command", req.Command, "error", err)
		writeJSONResponse(w, http.StatusUnprocessableEntity, errorResponse(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, successWithMessage(reply, nil))
}

func (s *Server) getKnowledgeHandler(w http.ResponseWriter, r *http.Request) {
	if s.opts.Knowledge == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, errorResponse("Knowledge editor not configured"))
		return
	}
	writeJSONResponse(w, http.StatusOK, successResponse(s.opts.Knowledge.Snapshot()))
}

func (s *Server) updateKnowledgeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if s.opts.Knowledge == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, errorResponse("Knowledge editor not configured"))
		return
	}
	var base knowledge.Base
	if err := json.NewDecoder(r.Body).Decode(&base); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, errorResponse("Invalid JSON format"))
		return
	}
	if err := s.opts.Knowledge.Replace(base); err != nil {
		slog.Warn("Server.updateKnowledgeHandler: replace failed", "error", err)
		writeJSONResponse(w, http.StatusUnprocessableEntity, errorResponse(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, successWithMessage("Knowledge base updated", nil))
}
