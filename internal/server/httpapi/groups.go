package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) createGroup(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	var req groupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	g, err := h.groups.Create(r.Context(), userID, req.Name)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, newGroupResponse(g))
}

func (h *Handler) listGroups(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	list, err := h.groups.List(r.Context(), userID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	out := make([]groupResponse, 0, len(list))
	for _, g := range list {
		out = append(out, newGroupResponse(g))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getGroup(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	g, err := h.groups.Get(r.Context(), userID, chi.URLParam(r, "groupID"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newGroupResponse(g))
}

func (h *Handler) renameGroup(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	var req groupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	g, err := h.groups.Rename(r.Context(), userID, chi.URLParam(r, "groupID"), req.Name)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newGroupResponse(g))
}

func (h *Handler) deleteGroup(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	if err := h.groups.Deactivate(r.Context(), userID, chi.URLParam(r, "groupID")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listMembers(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	list, err := h.groups.Members(r.Context(), userID, chi.URLParam(r, "groupID"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newDeviceList(list))
}

func (h *Handler) addMember(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	var req memberRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	added, err := h.groups.AddMember(r.Context(), userID, chi.URLParam(r, "groupID"), req.DeviceID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if added {
		w.WriteHeader(http.StatusCreated)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) removeMember(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	if _, err := h.groups.RemoveMember(r.Context(), userID, chi.URLParam(r, "groupID"), chi.URLParam(r, "deviceID")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) availableDevices(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	list, err := h.groups.AvailableDevices(r.Context(), userID, chi.URLParam(r, "groupID"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newDeviceList(list))
}

func (h *Handler) uploadGroupVersion(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	name, upload, cleanup, err := h.readUpload(w, r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	defer cleanup()

	res, err := h.groups.UploadVersion(r.Context(), userID, chi.URLParam(r, "groupID"), name, upload)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, fanOutResponse{
		GroupVersion:   newVersionResponse(res.GroupVersion),
		DeviceVersions: newVersionList(res.DeviceVersions),
	})
}

func (h *Handler) listGroupVersions(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	list, err := h.groups.ListVersions(r.Context(), userID, chi.URLParam(r, "groupID"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newVersionList(list))
}

func (h *Handler) advanceGroup(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	g, steps, err := h.groups.AdvanceToLatest(r.Context(), userID, chi.URLParam(r, "groupID"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	resp := newGroupResponse(g)
	writeJSON(w, http.StatusOK, advanceResponse{Steps: steps, Group: &resp})
}
