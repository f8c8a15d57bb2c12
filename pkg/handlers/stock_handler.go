package handlers

import (
	"net/http"

	"github.com/TFMV/quarry/pkg/services"
)

// StockHandler serves stock analyses and the market status.
type StockHandler struct {
	service services.StockService
	logger  Logger
	metrics MetricsCollector
}

// NewStockHandler creates a stock handler.
func NewStockHandler(service services.StockService, logger Logger, metrics MetricsCollector) *StockHandler {
	return &StockHandler{service: service, logger: logger, metrics: metrics}
}

// Analysis handles GET /stocks/{ticker}/analysis.
func (h *StockHandler) Analysis(w http.ResponseWriter, r *http.Request) {
	timer := h.metrics.StartTimer("handler_stock_analysis")
	defer timer.Stop()

	ticker := r.PathValue("ticker")
	analysis, err := h.service.Analyze(r.Context(), ticker)
	if err != nil {
		h.metrics.IncrementCounter("handler_stock_errors")
		h.logger.Warn("Stock analysis failed", "error", err, "ticker", ticker)
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

// MarketStatus handles GET /market/status.
func (h *StockHandler) MarketStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.MarketStatus(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
