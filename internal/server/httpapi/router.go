// Package httpapi exposes the registry over HTTP/JSON with a chi router.
package httpapi

import (
	"net/http"

	"github.com/dmitrijs2005/fleetkeeper/internal/logging"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/services"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler holds the services behind the routes.
type Handler struct {
	users         *services.UserService
	devices       *services.DeviceService
	groups        *services.GroupService
	payloads      *services.PayloadService
	logger        logging.Logger
	maxUploadSize int64
}

func NewHandler(us *services.UserService, ds *services.DeviceService, gs *services.GroupService,
	ps *services.PayloadService, l logging.Logger, maxUploadSize int64) *Handler {
	return &Handler{
		users:         us,
		devices:       ds,
		groups:        gs,
		payloads:      ps,
		logger:        l.With("module", "http"),
		maxUploadSize: maxUploadSize,
	}
}

// NewRouter wires all routes. gatherer backs /metrics.
func NewRouter(h *Handler, m *metrics.Metrics, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observe(h.logger, m))
	r.Use(middleware.Recoverer)

	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("pong\n"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/users/register", h.register)
		r.Post("/users/login", h.login)
		r.Post("/users/refresh", h.refresh)

		r.Group(func(r chi.Router) {
			r.Use(authenticate(h.users, h.logger))

			r.Route("/devices", func(r chi.Router) {
				r.Get("/", h.listDevices)
				r.Post("/", h.createDevice)
				r.Route("/{deviceID}", func(r chi.Router) {
					r.Get("/", h.getDevice)
					r.Patch("/", h.updateDevice)
					r.Delete("/", h.deleteDevice)
					r.Get("/versions", h.listDeviceVersions)
					r.Post("/versions", h.uploadDeviceVersion)
					r.Post("/update", h.advanceDevice)
					r.Post("/rollback", h.rollbackDevice)
				})
			})

			r.Route("/groups", func(r chi.Router) {
				r.Get("/", h.listGroups)
				r.Post("/", h.createGroup)
				r.Route("/{groupID}", func(r chi.Router) {
					r.Get("/", h.getGroup)
					r.Patch("/", h.renameGroup)
					r.Delete("/", h.deleteGroup)
					r.Get("/members", h.listMembers)
					r.Post("/members", h.addMember)
					r.Delete("/members/{deviceID}", h.removeMember)
					r.Get("/available", h.availableDevices)
					r.Get("/versions", h.listGroupVersions)
					r.Post("/versions", h.uploadGroupVersion)
					r.Post("/update", h.advanceGroup)
				})
			})

			r.Get("/versions/{versionID}/download", h.downloadVersion)
		})
	})

	return r
}
