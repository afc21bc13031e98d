package gateway

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"optionledger/internal/markethours"
	"optionledger/internal/model"
	"optionledger/internal/tracker"
)

// API bundles the REST handlers around the tracker and position store.
type API struct {
	Store   model.PositionStore
	Tracker *tracker.Tracker
	Hub     *Hub
}

// Router builds the HTTP mux: REST under /api/v1 plus the WebSocket
// endpoint.
func (a *API) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/positions", a.handlePositions)
	mux.HandleFunc("/api/v1/positions/", a.handlePositionByID)
	mux.HandleFunc("/api/v1/valuations", a.handleValuations)
	mux.HandleFunc("/api/v1/history", a.handleHistory)
	mux.HandleFunc("/api/v1/market", a.handleMarket)
	mux.HandleFunc("/ws", a.Hub.HandleWS)
	return withCORS(mux)
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) handlePositions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list, err := a.Store.List(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if list == nil {
			list = []model.OptionPosition{}
		}
		writeJSON(w, http.StatusOK, list)

	case http.MethodPost:
		var p model.OptionPosition
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
		added, err := a.Store.Add(r.Context(), p)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, added)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (a *API) handlePositionByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/positions/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := a.Store.Delete(r.Context(), id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleValuations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	u, ok := a.Tracker.Latest()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "no pricing pass completed yet")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	history := a.Tracker.History(limit)
	if history == nil {
		history = []model.PortfolioSummary{}
	}
	writeJSON(w, http.StatusOK, history)
}

func (a *API) handleMarket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	now := time.Now()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"open":               markethours.IsMarketOpen(now),
		"status":             markethours.StatusString(now),
		"asOf":               now.Format(time.RFC3339),
		"previousTradingDay": markethours.PreviousTradingDay(now).Format("2006-01-02"),
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[gateway] response encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
