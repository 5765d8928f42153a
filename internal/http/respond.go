package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/techpropertiesprofessor-star/PropertiesProfessor-sub000/internal/repository"
)

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writePage sends a paginated list envelope.
func writePage(w http.ResponseWriter, items any, total int, page repository.Page) {
	writeJSON(w, http.StatusOK, map[string]any{
		"items":      items,
		"total":      total,
		"page":       page.Number,
		"page_size":  page.Size,
		"page_count": page.PageCount(total),
	})
}
