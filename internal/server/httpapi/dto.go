package httpapi

import (
	"encoding/hex"
	"time"

	"github.com/dmitrijs2005/fleetkeeper/internal/server/models"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/services"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type userResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func newTokenResponse(p *services.TokenPair) tokenResponse {
	return tokenResponse{AccessToken: p.AccessToken, RefreshToken: p.RefreshToken}
}

type deviceRequest struct {
	Name    *string `json:"name"`
	Address *string `json:"address"`
}

type deviceResponse struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Address          *string    `json:"address,omitempty"`
	CurrentVersionID *string    `json:"current_version_id,omitempty"`
	LastUpdated      *time.Time `json:"last_updated,omitempty"`
	UpToDate         *bool      `json:"up_to_date,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

func newDeviceResponse(d *models.Device) deviceResponse {
	return deviceResponse{
		ID:               d.ID,
		Name:             d.Name,
		Address:          d.Address,
		CurrentVersionID: d.CurrentVersionID,
		LastUpdated:      d.LastUpdated,
		CreatedAt:        d.CreatedAt,
	}
}

func newDeviceStatusResponse(st *models.DeviceStatus) deviceResponse {
	r := newDeviceResponse(st.Device)
	upToDate := st.UpToDate
	r.UpToDate = &upToDate
	return r
}

func newDeviceList(list []*models.Device) []deviceResponse {
	out := make([]deviceResponse, 0, len(list))
	for _, d := range list {
		out = append(out, newDeviceResponse(d))
	}
	return out
}

type groupRequest struct {
	Name string `json:"name"`
}

type groupResponse struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	CurrentVersionID *string    `json:"current_version_id,omitempty"`
	LastUpdated      *time.Time `json:"last_updated,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

func newGroupResponse(g *models.DeviceGroup) groupResponse {
	return groupResponse{
		ID:               g.ID,
		Name:             g.Name,
		CurrentVersionID: g.CurrentVersionID,
		LastUpdated:      g.LastUpdated,
		CreatedAt:        g.CreatedAt,
	}
}

type memberRequest struct {
	DeviceID string `json:"device_id"`
}

type rollbackRequest struct {
	VersionID string `json:"version_id"`
}

type versionResponse struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	EntityKind string    `json:"entity_kind"`
	EntityID   string    `json:"entity_id"`
	PayloadID  *string   `json:"payload_id,omitempty"`
	Digest     string    `json:"digest"`
	CreatorID  string    `json:"creator_id"`
	PreviousID *string   `json:"previous_id,omitempty"`
	NextID     *string   `json:"next_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func newVersionResponse(v *models.Version) versionResponse {
	return versionResponse{
		ID:         v.ID,
		Name:       v.Name,
		EntityKind: string(v.Entity.Kind),
		EntityID:   v.Entity.ID,
		PayloadID:  v.PayloadID,
		Digest:     hex.EncodeToString(v.Digest),
		CreatorID:  v.CreatorID,
		PreviousID: v.PreviousID,
		NextID:     v.NextID,
		CreatedAt:  v.CreatedAt,
	}
}

func newVersionList(list []*models.Version) []versionResponse {
	out := make([]versionResponse, 0, len(list))
	for _, v := range list {
		out = append(out, newVersionResponse(v))
	}
	return out
}

type fanOutResponse struct {
	GroupVersion   versionResponse   `json:"group_version"`
	DeviceVersions []versionResponse `json:"device_versions"`
}

type advanceResponse struct {
	Steps  int             `json:"steps"`
	Device *deviceResponse `json:"device,omitempty"`
	Group  *groupResponse  `json:"group,omitempty"`
}

type downloadResponse struct {
	URL string `json:"url"`
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}
