package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/stager/internal/api/response"
	"github.com/kiranshivaraju/stager/internal/storage"
)

// NewGetObjectHandler returns an http.HandlerFunc for GET /api/v1/objects/*,
// serving stored uploads by key.
func NewGetObjectHandler(objects storage.ObjectStorage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
		if key == "" || strings.Contains(key, "..") {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid object key", nil)
			return
		}

		data, err := objects.Get(r.Context(), key)
		if errors.Is(err, storage.ErrObjectNotFound) {
			response.Error(w, http.StatusNotFound, "OBJECT_NOT_FOUND", "Object not found", nil)
			return
		}
		if err != nil {
			slog.Error("reading object", "error", err, "key", key)
			response.Error(w, http.StatusBadGateway, "STORAGE_UNAVAILABLE",
				"Object storage is not available", nil)
			return
		}

		w.Header().Set("Content-Type", http.DetectContentType(data))
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	}
}
