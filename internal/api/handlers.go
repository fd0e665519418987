package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"eventrelay/internal/apperr"
	"eventrelay/internal/domain/feed"
	redisInfra "eventrelay/internal/infrastructure/redis"
	"eventrelay/internal/usecase"

	"github.com/go-chi/chi/v5"
)

// InboxConsumer is the polling side of an agent's inbox.
type InboxConsumer interface {
	Receive(ctx context.Context, agentID string, max int) ([]redisInfra.Entry, error)
	Ack(ctx context.Context, agentID string, ids ...string) error
}

type Handlers struct {
	registerUC  *usecase.RegisterAgent
	subscribeUC *usecase.Subscribe
	ingestUC    *usecase.IngestEvent
	historyUC   *usecase.GetHistory
	inbox       InboxConsumer
}

func NewHandlers(
	registerUC *usecase.RegisterAgent,
	subscribeUC *usecase.Subscribe,
	ingestUC *usecase.IngestEvent,
	historyUC *usecase.GetHistory,
	inbox InboxConsumer,
) *Handlers {
	return &Handlers{
		registerUC:  registerUC,
		subscribeUC: subscribeUC,
		ingestUC:    ingestUC,
		historyUC:   historyUC,
		inbox:       inbox,
	}
}

func (h *Handlers) RegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identity string `json:"identity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	a, err := h.registerUC.Execute(r.Context(), req.Identity)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, a)
}

func (h *Handlers) Subscribe(w http.ResponseWriter, r *http.Request) {
	var params usecase.SubscribeParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.subscribeUC.Execute(r.Context(), params); err != nil {
		writeError(w, err)
		return
	}

	// Success whether or not the subscription already existed.
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) IngestEvent(w http.ResponseWriter, r *http.Request) {
	var params usecase.IngestEventParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	id, err := h.ingestUC.Execute(r.Context(), params)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"event_id": id})
}

func (h *Handlers) GetHistory(w http.ResponseWriter, r *http.Request) {
	params := usecase.GetHistoryParams{
		SubscriberID: chi.URLParam(r, "id"),
	}

	q := r.URL.Query()
	var err error
	if v := q.Get("from"); v != "" {
		if params.From, err = time.Parse(time.RFC3339, v); err != nil {
			http.Error(w, "invalid from timestamp", http.StatusBadRequest)
			return
		}
	}
	if v := q.Get("to"); v != "" {
		if params.To, err = time.Parse(time.RFC3339, v); err != nil {
			http.Error(w, "invalid to timestamp", http.StatusBadRequest)
			return
		}
	}
	if v := q.Get("limit"); v != "" {
		if params.Limit, err = strconv.Atoi(v); err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
	}

	records, err := h.historyUC.Execute(r.Context(), params)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

type inboxMessage struct {
	ID    string             `json:"id"`
	Batch feed.DispatchBatch `json:"batch"`
}

func (h *Handlers) ReceiveInbox(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")

	max := 10
	if v := r.URL.Query().Get("max"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid max", http.StatusBadRequest)
			return
		}
		max = n
	}

	entries, err := h.inbox.Receive(r.Context(), agentID, max)
	if err != nil {
		writeError(w, err)
		return
	}

	messages := make([]inboxMessage, 0, len(entries))
	for _, e := range entries {
		msg := inboxMessage{ID: e.ID}
		if err := json.Unmarshal(e.Payload, &msg.Batch); err != nil {
			// Should not happen: the publisher is the only writer.
			continue
		}
		messages = append(messages, msg)
	}

	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (h *Handlers) AckInbox(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")

	var req struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.inbox.Ack(r.Context(), agentID, req.IDs...); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.Validation:
		status = http.StatusBadRequest
	case apperr.NotFound:
		status = http.StatusNotFound
	case apperr.Provisioning:
		status = http.StatusBadGateway
	case apperr.Transient:
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
