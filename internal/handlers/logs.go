package handlers

import (
	"net/http"
	"strconv"

	"github.com/gluk-w/muxdeck/internal/logging"
)

// GetLogs returns the tail of the server log.
func GetLogs(w http.ResponseWriter, r *http.Request) {
	n := 200
	if v := r.URL.Query().Get("lines"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > 5000 {
			writeError(w, http.StatusBadRequest, "lines must be between 1 and 5000")
			return
		}
		n = parsed
	}
	lines, err := logging.ReadTail(n)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"lines": lines})
}

// ClearLogs truncates the server log file.
func ClearLogs(w http.ResponseWriter, r *http.Request) {
	if err := logging.Clear(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
