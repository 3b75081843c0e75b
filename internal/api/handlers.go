package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/CarePipe/internal/appointments"
	"github.com/BTreeMap/CarePipe/internal/models"
)

func (s *Server) chatHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req models.ChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()
	resp, err := s.chat.Handle(ctx, req.Message)
	if err != nil {
		slog.Error("Server.chatHandler: pipeline failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process message"))
		return
	}
	slog.Info("Server.chatHandler: message processed", "run_id", resp.RunID, "status", resp.Status, "intent", resp.Intent)
	writeJSONResponse(w, http.StatusOK, resp)
}

func (s *Server) emailHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req models.EmailRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	slog.Info("Server.emailHandler: drafting email", "intent", req.Intent)

	ctx, cancel := s.requestContext(r)
	defer cancel()
	writeJSONResponse(w, http.StatusOK, s.drafter.Draft(ctx, req))
}

// appointmentsHandler looks a patient up. A missing patient is a normal answer, not an HTTP error.
func (s *Server) appointmentsHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req models.AppointmentLookupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()
	p, err := s.store.Lookup(ctx, req.Name)
	switch {
	case errors.Is(err, appointments.ErrPatientNotFound):
		writeJSONResponse(w, http.StatusOK, models.AppointmentLookupResponse{Found: false, Appointments: []models.Appointment{}})
	case err != nil:
		slog.Error("Server.appointmentsHandler: lookup failed", "error", err)
		writeJSONResponse(w, http.StatusOK, models.AppointmentLookupResponse{Found: false, Appointments: []models.Appointment{}, Error: err.Error()})
	default:
		if p.Appointments == nil {
			p.Appointments = []models.Appointment{}
		}
		writeJSONResponse(w, http.StatusOK, models.AppointmentLookupResponse{Found: true, Name: p.Name, Appointments: p.Appointments})
	}
}

func (s *Server) appointmentsUpdateHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req models.AppointmentUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	slog.Info("Server.appointmentsUpdateHandler: updating appointment", "appointment_id", req.AppointmentID)

	ctx, cancel := s.requestContext(r)
	defer cancel()
	a, err := s.store.UpdateSlot(ctx, req.Name, req.AppointmentID, req.NewDate, req.NewTime)
	if err != nil {
		if !errors.Is(err, appointments.ErrPatientNotFound) && !errors.Is(err, appointments.ErrAppointmentNotFound) {
			slog.Error("Server.appointmentsUpdateHandler: update failed", "appointment_id", req.AppointmentID, "error", err)
		}
		writeJSONResponse(w, http.StatusOK, models.AppointmentUpdateResponse{Success: false, Error: err.Error()})
		return
	}
	writeJSONResponse(w, http.StatusOK, models.AppointmentUpdateResponse{Success: true, Appointment: &a})
}

// healthHandler provides a health check endpoint for monitoring and load balancing
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	}))
}
