package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/dmitrijs2005/fleetkeeper/internal/common"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/models"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/services"
	"github.com/go-chi/chi/v5"
)

const (
	multipartOverhead = 1 << 20
	maxNameField      = 1 << 10
)

// readUpload walks a multipart version upload and hands the "file" part to
// the caller as a stream, so the payload is spooled only once by Stage. The
// "name" field must precede the file part. The returned cleanup closes the
// part.
func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request) (string, models.Upload, func(), error) {
	noop := func() {}
	if h.maxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize+multipartOverhead)
	}
	mr, err := r.MultipartReader()
	if err != nil {
		return "", models.Upload{}, noop, common.NewValidationError("body", "expected multipart form data")
	}

	var name string
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return "", models.Upload{}, noop, common.NewValidationError("file", "payload is required")
		}
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return "", models.Upload{}, noop, common.NewValidationError("file", fmt.Sprintf("payload exceeds %d bytes", h.maxUploadSize))
			}
			return "", models.Upload{}, noop, common.NewValidationError("body", "expected multipart form data")
		}

		switch part.FormName() {
		case "file":
			return name, models.Upload{FileName: part.FileName(), Body: part}, func() { _ = part.Close() }, nil
		case "name":
			data, err := io.ReadAll(io.LimitReader(part, maxNameField+1))
			_ = part.Close()
			if err != nil {
				return "", models.Upload{}, noop, common.NewValidationError("name", "cannot be read")
			}
			if len(data) > maxNameField {
				return "", models.Upload{}, noop, common.NewValidationError("name", fmt.Sprintf("exceeds %d bytes", maxNameField))
			}
			name = string(data)
		default:
			_ = part.Close()
		}
	}
}

func (h *Handler) createDevice(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	var req deviceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var name string
	if req.Name != nil {
		name = *req.Name
	}
	d, err := h.devices.Create(r.Context(), userID, name, req.Address)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, newDeviceResponse(d))
}

func (h *Handler) listDevices(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	list, err := h.devices.List(r.Context(), userID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	out := make([]deviceResponse, 0, len(list))
	for _, st := range list {
		out = append(out, newDeviceStatusResponse(st))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getDevice(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	st, err := h.devices.Get(r.Context(), userID, chi.URLParam(r, "deviceID"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newDeviceStatusResponse(st))
}

func (h *Handler) updateDevice(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	var req deviceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	d, err := h.devices.Update(r.Context(), userID, chi.URLParam(r, "deviceID"), services.DevicePatch{
		Name:    req.Name,
		Address: req.Address,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newDeviceResponse(d))
}

func (h *Handler) deleteDevice(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	if err := h.devices.Deactivate(r.Context(), userID, chi.URLParam(r, "deviceID")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) uploadDeviceVersion(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	name, upload, cleanup, err := h.readUpload(w, r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	defer cleanup()

	v, err := h.devices.UploadVersion(r.Context(), userID, chi.URLParam(r, "deviceID"), name, upload)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, newVersionResponse(v))
}

func (h *Handler) listDeviceVersions(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	list, err := h.devices.ListVersions(r.Context(), userID, chi.URLParam(r, "deviceID"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newVersionList(list))
}

func (h *Handler) advanceDevice(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	d, steps, err := h.devices.AdvanceToLatest(r.Context(), userID, chi.URLParam(r, "deviceID"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	resp := newDeviceResponse(d)
	writeJSON(w, http.StatusOK, advanceResponse{Steps: steps, Device: &resp})
}

func (h *Handler) rollbackDevice(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	var req rollbackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if req.VersionID == "" {
		writeError(w, r, h.logger, common.NewValidationError("version_id", "is required"))
		return
	}
	v, err := h.devices.Rollback(r.Context(), userID, chi.URLParam(r, "deviceID"), req.VersionID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newVersionResponse(v))
}

func (h *Handler) downloadVersion(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	url, err := h.payloads.DownloadURL(r.Context(), userID, chi.URLParam(r, "versionID"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, downloadResponse{URL: url})
}
