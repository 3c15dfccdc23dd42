package routes

import (
	"net/http"

	"github.com/zatekoja/telecare/internal/api/handlers"
	"github.com/zatekoja/telecare/internal/api/middleware"
	"github.com/zatekoja/telecare/internal/infrastructure/observability"
)

// Router holds all route handlers
type Router struct {
	mux *http.ServeMux

	callHandler        *handlers.CallHandler
	appointmentHandler *handlers.AppointmentHandler
	sseHandler         *handlers.SSEHandler
	signalingHandler   *handlers.SignalingHandler

	allowedOrigins []string
	metrics        *observability.Metrics
}

// NewRouter creates a new router
func NewRouter(
	callHandler *handlers.CallHandler,
	appointmentHandler *handlers.AppointmentHandler,
	sseHandler *handlers.SSEHandler,
	signalingHandler *handlers.SignalingHandler,
	allowedOrigins []string,
	metrics *observability.Metrics,
) *Router {
	return &Router{
		mux:                http.NewServeMux(),
		callHandler:        callHandler,
		appointmentHandler: appointmentHandler,
		sseHandler:         sseHandler,
		signalingHandler:   signalingHandler,
		allowedOrigins:     allowedOrigins,
		metrics:            metrics,
	}
}

// SetupRoutes configures all application routes
func (r *Router) SetupRoutes() http.Handler {
	r.mux.HandleFunc("GET /health", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			return
		}
	})

	// Scheduled calls
	r.mux.HandleFunc("POST /api/calls", r.callHandler.CreateCall)
	r.mux.HandleFunc("GET /api/calls/{id}", r.callHandler.GetCall)
	r.mux.HandleFunc("PATCH /api/calls/{id}/status", r.callHandler.UpdateStatus)
	r.mux.HandleFunc("POST /api/calls/{id}/cancel", r.callHandler.CancelCall)
	r.mux.HandleFunc("GET /api/patients/{id}/calls/upcoming", r.callHandler.GetUpcomingCalls)
	r.mux.HandleFunc("GET /api/users/{id}/calls/inbox", r.callHandler.GetInbox)

	// Appointment driven sessions
	r.mux.HandleFunc("POST /api/appointments/{id}/calls", r.appointmentHandler.StartCall)
	r.mux.HandleFunc("POST /api/appointments/{id}/complete", r.appointmentHandler.CompleteAppointment)

	if r.sseHandler != nil {
		r.mux.HandleFunc("GET /api/stream/patients/{id}/calls", r.sseHandler.StreamPatientCalls)
		r.mux.HandleFunc("GET /api/stream/users/{id}/inbox", r.sseHandler.StreamInbox)
	}

	if r.signalingHandler != nil {
		r.mux.HandleFunc("GET /ws/calls/{id}", r.signalingHandler.ServeWS)
	}

	// last applied is outermost
	var handler http.Handler = r.mux
	handler = middleware.LoggingMiddleware(handler)
	handler = middleware.ObservabilityMiddleware(r.metrics)(handler)
	handler = middleware.CORSMiddleware(r.allowedOrigins)(handler)

	return handler
}
