package handlers

import (
	"net/http"
	"time"
)

// Routes groups the handlers served by the API. A nil group answers its
// routes with 503.
type Routes struct {
	Datasets *DatasetHandler
	Stocks   *StockHandler
	Explorer *ExplorerHandler
	Version  string
}

// Mux registers every route on a new ServeMux.
func (rt *Routes) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	started := time.Now()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":         "healthy",
			"version":        rt.Version,
			"uptime_seconds": int64(time.Since(started).Seconds()),
		})
	})

	if d := rt.Datasets; d != nil {
		mux.HandleFunc("POST /upload/file", d.Upload)
		mux.HandleFunc("POST /upload/chunk", d.UploadChunk)
		mux.HandleFunc("GET /files/{id}", d.GetFile)
		mux.HandleFunc("GET /files/{id}/analysis", d.GetAnalysis)
		mux.HandleFunc("POST /query", d.Query)
		mux.HandleFunc("GET /query/{id}", d.GetQuery)
		mux.HandleFunc("GET /conversations/{id}", d.GetConversation)
	} else {
		unavailable := notConfigured("the dataset assistant")
		for _, p := range []string{"/upload/", "/files/", "/query", "/query/", "/conversations/"} {
			mux.HandleFunc(p, unavailable)
		}
	}

	if s := rt.Stocks; s != nil {
		mux.HandleFunc("GET /stocks/{ticker}/analysis", s.Analysis)
		mux.HandleFunc("GET /market/status", s.MarketStatus)
	} else {
		unavailable := notConfigured("market data")
		mux.HandleFunc("/stocks/", unavailable)
		mux.HandleFunc("/market/", unavailable)
	}

	if x := rt.Explorer; x != nil {
		mux.HandleFunc("GET /db/snapshot", x.Snapshot)
		mux.HandleFunc("GET /db/notes", x.Notes)
		mux.HandleFunc("GET /db/status", x.Status)
		mux.HandleFunc("POST /db/query", x.Query)
		mux.HandleFunc("POST /db/aggregate", x.Aggregate)
		mux.HandleFunc("POST /db/chat", x.Chat)
		mux.HandleFunc("DELETE /db/chat", x.ResetChat)
	} else {
		mux.HandleFunc("/db/", notConfigured("a database"))
	}
	return mux
}
