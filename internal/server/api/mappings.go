package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ayusman/hasta/internal/config"
)

// MappingEditor is the subset of the configuration manager the mapping
// handler needs.
type MappingEditor interface {
	File() *config.File
	AddMapping(config.Mapping) error
	UpdateMapping(int, config.Mapping) error
	RemoveMapping(int) (config.Mapping, error)
}

// MappingHandler serves /api/mappings and /api/mappings/{index}.
type MappingHandler struct {
	editor MappingEditor
}

// NewMappingHandler creates a MappingHandler.
func NewMappingHandler(editor MappingEditor) *MappingHandler {
	return &MappingHandler{editor: editor}
}

// ServeHTTP implements the http.Handler interface and routes requests to appropriate methods.
func (h *MappingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/mappings")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		switch r.Method {
		case http.MethodGet:
			h.list(w, r)
		case http.MethodPost:
			h.create(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	index, err := strconv.Atoi(path)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "Mapping index must be an integer")
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.get(w, r, index)
	case http.MethodPut:
		h.update(w, r, index)
	case http.MethodDelete:
		h.delete(w, r, index)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type listMappingsResponse struct {
	Mappings []config.Mapping `json:"mappings"`
}

// list handles GET /api/mappings.
func (h *MappingHandler) list(w http.ResponseWriter, r *http.Request) {
	mappings := h.editor.File().Mappings
	if mappings == nil {
		mappings = []config.Mapping{}
	}
	WriteJSON(w, http.StatusOK, listMappingsResponse{Mappings: mappings})
}

// get handles GET /api/mappings/{index}.
func (h *MappingHandler) get(w http.ResponseWriter, r *http.Request, index int) {
	mappings := h.editor.File().Mappings
	if index < 0 || index >= len(mappings) {
		WriteError(w, http.StatusNotFound, "Mapping not found")
		return
	}
	WriteJSON(w, http.StatusOK, mappings[index])
}

// create handles POST /api/mappings.
func (h *MappingHandler) create(w http.ResponseWriter, r *http.Request) {
	m, ok := decodeMapping(w, r)
	if !ok {
		return
	}
	if err := h.editor.AddMapping(m); err != nil {
		writeEditError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, m)
}

// update handles PUT /api/mappings/{index}.
func (h *MappingHandler) update(w http.ResponseWriter, r *http.Request, index int) {
	m, ok := decodeMapping(w, r)
	if !ok {
		return
	}
	if err := h.editor.UpdateMapping(index, m); err != nil {
		writeEditError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, m)
}

// delete handles DELETE /api/mappings/{index}.
func (h *MappingHandler) delete(w http.ResponseWriter, r *http.Request, index int) {
	if _, err := h.editor.RemoveMapping(index); err != nil {
		writeEditError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeMapping(w http.ResponseWriter, r *http.Request) (config.Mapping, bool) {
	var m config.Mapping
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return m, false
	}
	return m, true
}

func writeEditError(w http.ResponseWriter, err error) {
	var verrs config.ValidationErrors
	switch {
	case errors.Is(err, config.ErrMappingIndex):
		WriteError(w, http.StatusNotFound, "Mapping not found")
	case errors.As(err, &verrs):
		details := make([]string, 0, len(verrs))
		for _, v := range verrs {
			details = append(details, v.Error())
		}
		WriteError(w, http.StatusBadRequest, "Invalid mapping", details...)
	default:
		WriteError(w, http.StatusInternalServerError, "Failed to update configuration")
	}
}
