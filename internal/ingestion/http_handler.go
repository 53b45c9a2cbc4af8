package ingestion

import (
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/rpattn/rostersync/internal/delta"
	"github.com/rpattn/rostersync/internal/domain"
)

// Handler exposes snapshot comparison as an HTTP endpoint: upload two
// roster exports and receive the batch delta between them.
type Handler struct {
	calculator *delta.Calculator
}

// NewHTTPHandler wraps the calculator with a POST endpoint.
func NewHTTPHandler(calculator *delta.Calculator) http.Handler {
	return &Handler{calculator: calculator}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, fmt.Sprintf("invalid form data: %v", err), http.StatusBadRequest)
		return
	}

	entityType := strings.TrimSpace(r.FormValue("entityType"))
	if entityType == "" {
		http.Error(w, "entityType is required", http.StatusBadRequest)
		return
	}

	previous, err := h.parseUpload(r, "previous", entityType)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	current, err := h.parseUpload(r, "current", entityType)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	batch := h.calculator.CalculateBatchDelta(entityType, previous, current, nil)

	writeJSON(w, http.StatusOK, batch)
}

func (h *Handler) parseUpload(r *http.Request, field, entityType string) ([]domain.EntitySnapshot, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, fmt.Errorf("%s file required: %w", field, err)
	}
	defer func(f multipart.File) { _ = f.Close() }(file)

	snapshots, err := ParseSnapshots(entityType, header.Filename, file)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s upload: %w", field, err)
	}
	return snapshots, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
