package handlers

import (
	"net/http"

	"github.com/md-rashed-zaman/carebook/libs/httpx"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/identity"
)

type Routes struct {
	Appointments  *AppointmentHandler
	Providers     *ProviderHandler
	Notifications *NotificationHandler
	Resolver      identity.Resolver
}

// Register mounts the authenticated API on mux.
func (rt Routes) Register(mux *http.ServeMux) {
	authed := func(h http.HandlerFunc) http.Handler {
		return httpx.Chain(h, RequireAuth(rt.Resolver))
	}

	mux.Handle("POST /api/v1/appointments", authed(rt.Appointments.Create))
	mux.Handle("GET /api/v1/appointments", authed(rt.Appointments.List))
	mux.Handle("GET /api/v1/appointments/{id}", authed(rt.Appointments.Get))
	mux.Handle("POST /api/v1/appointments/{id}/status", authed(rt.Appointments.UpdateStatus))

	mux.Handle("GET /api/v1/providers/{providerID}/slots", authed(rt.Providers.Slots))
	mux.Handle("GET /api/v1/providers/{providerID}/template", authed(rt.Providers.GetTemplate))
	mux.Handle("PUT /api/v1/providers/{providerID}/template", authed(rt.Providers.PutTemplate))

	mux.Handle("GET /api/v1/notifications", authed(rt.Notifications.List))
	mux.Handle("POST /api/v1/notifications/{id}/read", authed(rt.Notifications.MarkRead))
}
