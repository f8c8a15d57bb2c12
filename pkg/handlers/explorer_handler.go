package handlers

import (
	"net/http"
	"strconv"

	"github.com/TFMV/quarry/pkg/docgen"
	"github.com/TFMV/quarry/pkg/errors"
	"github.com/TFMV/quarry/pkg/models"
	"github.com/TFMV/quarry/pkg/services"
)

// DBQueryRequest is the body of POST /db/query.
type DBQueryRequest struct {
	Collection string             `json:"collection"`
	Params     models.QueryParams `json:"params"`
}

// DBAggregateRequest is the body of POST /db/aggregate.
type DBAggregateRequest struct {
	Collection string                   `json:"collection"`
	Params     models.AggregationParams `json:"params"`
}

// DBChatRequest is the body of POST /db/chat.
type DBChatRequest struct {
	Question string `json:"question" validate:"required"`
}

// ExplorerHandler serves the database explorer endpoints.
type ExplorerHandler struct {
	service services.ExplorerService
	decoder *decoder
	logger  Logger
	metrics MetricsCollector
}

// NewExplorerHandler creates an explorer handler.
func NewExplorerHandler(service services.ExplorerService, logger Logger, metrics MetricsCollector) *ExplorerHandler {
	return &ExplorerHandler{service: service, decoder: newDecoder(0), logger: logger, metrics: metrics}
}

// Snapshot handles GET /db/snapshot. ?refresh=true explores again.
func (h *ExplorerHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	snap, err := h.service.Snapshot(r.Context(), refresh)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Notes handles GET /db/notes. ?format=html renders the Markdown.
func (h *ExplorerHandler) Notes(w http.ResponseWriter, r *http.Request) {
	notes, err := h.service.Notes(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	if r.URL.Query().Get("format") == "html" {
		page, err := docgen.RenderHTML(notes)
		if err != nil {
			WriteError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(page))
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	_, _ = w.Write([]byte(notes))
}

// Query handles POST /db/query.
func (h *ExplorerHandler) Query(w http.ResponseWriter, r *http.Request) {
	timer := h.metrics.StartTimer("handler_db_query")
	defer timer.Stop()

	var req DBQueryRequest
	if err := h.decoder.decode(w, r, &req); err != nil {
		WriteError(w, err)
		return
	}
	result, err := h.service.Query(r.Context(), req.Collection, req.Params)
	h.respond(w, r, result, err)
}

// Aggregate handles POST /db/aggregate.
func (h *ExplorerHandler) Aggregate(w http.ResponseWriter, r *http.Request) {
	timer := h.metrics.StartTimer("handler_db_aggregate")
	defer timer.Stop()

	var req DBAggregateRequest
	if err := h.decoder.decode(w, r, &req); err != nil {
		WriteError(w, err)
		return
	}
	result, err := h.service.Aggregate(r.Context(), req.Collection, req.Params)
	h.respond(w, r, result, err)
}

func (h *ExplorerHandler) respond(w http.ResponseWriter, r *http.Request, result *models.TabularResult, err error) {
	if err != nil {
		h.metrics.IncrementCounter("handler_db_query_errors")
		WriteError(w, err)
		return
	}
	if err := writeResult(w, r, result, result); err != nil {
		h.logger.Error("Failed to stream result", "error", err)
	}
}

// Chat handles POST /db/chat.
func (h *ExplorerHandler) Chat(w http.ResponseWriter, r *http.Request) {
	timer := h.metrics.StartTimer("handler_db_chat")
	defer timer.Stop()

	var req DBChatRequest
	if err := h.decoder.decode(w, r, &req); err != nil {
		WriteError(w, err)
		return
	}
	answer, err := h.service.Chat(r.Context(), req.Question)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

// ResetChat handles DELETE /db/chat.
func (h *ExplorerHandler) ResetChat(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ResetChat(r.Context()); err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Status handles GET /db/status.
func (h *ExplorerHandler) Status(w http.ResponseWriter, r *http.Request) {
	status := h.service.Status(r.Context())
	code := http.StatusOK
	if !status.Connected {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func notConfigured(what string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, errors.Newf(errors.CodeUnavailable, "%s is not configured", what))
	}
}
