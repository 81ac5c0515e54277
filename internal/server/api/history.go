package api

import (
	"net/http"
	"strconv"

	"github.com/ayusman/hasta/internal/dispatch"
	"github.com/ayusman/hasta/internal/store"
)

// DefaultHistoryLimit is used when the limit query parameter is absent.
const DefaultHistoryLimit = 50

// HistoryHandler serves /api/history from the result store.
type HistoryHandler struct {
	store *store.Store
}

// NewHistoryHandler creates a HistoryHandler with the given store.
func NewHistoryHandler(s *store.Store) *HistoryHandler {
	return &HistoryHandler{store: s}
}

type historyResponse struct {
	Results []*dispatch.Result `json:"results"`
	Total   int                `json:"total"`
}

type clearHistoryResponse struct {
	Deleted int64 `json:"deleted"`
}

// ServeHTTP implements the http.Handler interface.
func (h *HistoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.list(w, r)
	case http.MethodDelete:
		h.clear(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// list handles GET /api/history?limit=N.
func (h *HistoryHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := DefaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			WriteError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	results, err := h.store.Results().List(limit)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Failed to list history")
		return
	}
	total, err := h.store.Results().Count()
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Failed to count history")
		return
	}

	WriteJSON(w, http.StatusOK, historyResponse{Results: results, Total: total})
}

// clear handles DELETE /api/history.
func (h *HistoryHandler) clear(w http.ResponseWriter, r *http.Request) {
	n, err := h.store.Results().DeleteAll()
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Failed to clear history")
		return
	}
	WriteJSON(w, http.StatusOK, clearHistoryResponse{Deleted: n})
}
