package handlers

import (
	"net/http"

	"github.com/TFMV/quarry/pkg/errors"
	"github.com/TFMV/quarry/pkg/models"
	"github.com/TFMV/quarry/pkg/services"
)

// DefaultMaxUploadSize bounds multipart CSV uploads.
const DefaultMaxUploadSize = 512 << 20

// DatasetHandler serves CSV upload, profiling and question endpoints.
type DatasetHandler struct {
	service       services.DatasetService
	decoder       *decoder
	maxUploadSize int64
	logger        Logger
	metrics       MetricsCollector
}

// NewDatasetHandler creates a dataset handler. A non-positive maxUploadSize
// uses DefaultMaxUploadSize.
func NewDatasetHandler(service services.DatasetService, maxUploadSize int64, logger Logger, metrics MetricsCollector) *DatasetHandler {
	if maxUploadSize <= 0 {
		maxUploadSize = DefaultMaxUploadSize
	}
	return &DatasetHandler{
		service:       service,
		decoder:       newDecoder(0),
		maxUploadSize: maxUploadSize,
		logger:        logger,
		metrics:       metrics,
	}
}

// Upload handles POST /upload/file with a multipart "file" field.
func (h *DatasetHandler) Upload(w http.ResponseWriter, r *http.Request) {
	timer := h.metrics.StartTimer("handler_upload_file")
	defer timer.Stop()

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		h.metrics.IncrementCounter("handler_upload_errors")
		WriteError(w, errors.Wrap(err, errors.CodeInvalidRequest, "multipart field \"file\" is required"))
		return
	}
	defer file.Close()

	ds, err := h.service.Upload(r.Context(), header.Filename, file)
	if err != nil {
		h.metrics.IncrementCounter("handler_upload_errors")
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"file_id":  ds.ID,
		"message":  "File uploaded and processed successfully",
		"metadata": ds,
	})
}

// UploadChunk handles POST /upload/chunk.
func (h *DatasetHandler) UploadChunk(w http.ResponseWriter, r *http.Request) {
	var chunk models.ChunkUpload
	if err := h.decoder.decode(w, r, &chunk); err != nil {
		WriteError(w, err)
		return
	}
	status, err := h.service.UploadChunk(r.Context(), chunk)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// GetFile handles GET /files/{id}.
func (h *DatasetHandler) GetFile(w http.ResponseWriter, r *http.Request) {
	ds, err := h.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ds)
}

// GetAnalysis handles GET /files/{id}/analysis.
func (h *DatasetHandler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	timer := h.metrics.StartTimer("handler_dataset_analysis")
	defer timer.Stop()

	analysis, err := h.service.Analysis(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

// Query handles POST /query.
func (h *DatasetHandler) Query(w http.ResponseWriter, r *http.Request) {
	timer := h.metrics.StartTimer("handler_dataset_query")
	defer timer.Stop()

	var q models.DatasetQuestion
	if err := h.decoder.decode(w, r, &q); err != nil {
		WriteError(w, err)
		return
	}
	answer, err := h.service.Ask(r.Context(), q)
	if err != nil {
		h.logger.Warn("Dataset query failed", "error", err, "file_id", q.FileID)
		WriteError(w, err)
		return
	}
	if err := writeResult(w, r, answer, answer.Result); err != nil {
		h.logger.Error("Failed to stream result", "error", err, "query_id", answer.QueryID)
	}
}

// GetQuery handles GET /query/{id}.
func (h *DatasetHandler) GetQuery(w http.ResponseWriter, r *http.Request) {
	answer, err := h.service.Answer(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := writeResult(w, r, answer, answer.Result); err != nil {
		h.logger.Error("Failed to stream result", "error", err, "query_id", answer.QueryID)
	}
}

// GetConversation handles GET /conversations/{id}.
func (h *DatasetHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := h.service.Conversation(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}
