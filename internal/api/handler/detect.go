package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/stager/internal/api/response"
	"github.com/kiranshivaraju/stager/internal/render"
	"github.com/kiranshivaraju/stager/internal/storage"
	"github.com/kiranshivaraju/stager/pkg/models"
)

// NewDetectRoomHandler returns an http.HandlerFunc for POST /api/v1/rooms/detect.
// The photo is either referenced with {"image_ref": ...} or uploaded as the
// multipart "file" part, in which case it is stored first.
func NewDetectRoomHandler(detector models.RoomDetector, objects storage.ObjectStorage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var ref string

		mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if mediaType == "multipart/form-data" {
			r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
			file, header, err := r.FormFile("file")
			if err != nil {
				response.ValidationFailed(w, []string{"an image file is required"})
				return
			}
			defer file.Close()

			ct := header.Header.Get("Content-Type")
			if !strings.HasPrefix(strings.ToLower(ct), "image/") {
				response.ValidationFailed(w, []string{"file must be an image, got content type " + ct})
				return
			}
			key := storage.UploadKey(uuid.New(), header.Filename)
			if err := objects.Put(r.Context(), key, file, header.Size, ct); err != nil {
				slog.Error("storing upload", "error", err, "key", key)
				response.Error(w, http.StatusBadGateway, "STORAGE_UNAVAILABLE",
					"The uploaded image could not be stored", nil)
				return
			}
			ref = key
		} else {
			var req struct {
				ImageRef string `json:"image_ref"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
				return
			}
			ref = strings.TrimSpace(req.ImageRef)
			if ref == "" {
				response.ValidationFailed(w, []string{"image_ref is required"})
				return
			}
		}

		det, err := detector.Detect(r.Context(), ref)
		if err != nil {
			slog.Warn("room detection failed", "error", err, "image_ref", ref)
			switch {
			case errors.Is(err, render.ErrBackendTimeout):
				response.Error(w, http.StatusGatewayTimeout, "RENDER_BACKEND_TIMEOUT",
					"Room detection took too long", nil)
			case errors.Is(err, render.ErrBackendRejected):
				response.Error(w, http.StatusUnprocessableEntity, "RENDER_REJECTED",
					"The render backend rejected the image", nil)
			default:
				response.Error(w, http.StatusBadGateway, "RENDER_BACKEND_UNAVAILABLE",
					"The render backend is not available", nil)
			}
			return
		}

		response.JSON(w, det)
	}
}
