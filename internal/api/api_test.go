package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BTreeMap/CarePipe/internal/flow"
	"github.com/BTreeMap/CarePipe/internal/models"
	"github.com/BTreeMap/CarePipe/internal/testutil"
)

type failingChat struct{}

func (failingChat) Handle(context.Context, string) (models.ChatResponse, error) {
	return models.ChatResponse{}, errors.New("graph broken")
}

func newTestServer(t *testing.T) (*Server, *testutil.ScriptedGenerator) {
	t.Helper()
	gen := testutil.NewScriptedGenerator("Staff will confirm your booking.")
	settings := flow.DefaultSettings()
	st := flow.NewStages(settings, gen, nil)
	g, err := st.BuildPipelineGraph()
	if err != nil {
		t.Fatalf("BuildPipelineGraph: %v", err)
	}
	drafter := flow.NewEmailDrafter(gen, settings, settings.Email)
	return NewServer(flow.NewPipeline(g), drafter, testutil.NewSeededStore()), gen
}

func serve(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, testutil.CreateHTTPRequest(t, method, path, body))
	return rr
}

func TestChatHandler(t *testing.T) {
	s, _ := newTestServer(t)
	rr := serve(t, s, http.MethodPost, "/api/chat", map[string]string{"message": "  book an appointment for Monday  "})
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "chat")

	var resp models.ChatResponse
	testutil.DecodeJSON(t, rr, &resp)
	if resp.Status != models.StatusReady || resp.Intent != models.IntentBook {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.Reply != "Staff will confirm your booking." || resp.RunID == "" {
		t.Errorf("unexpected reply or run id: %+v", resp)
	}
	if len(resp.Route) == 0 || resp.Route[len(resp.Route)-1] != flow.NodeFinalize {
		t.Errorf("unexpected route: %v", resp.Route)
	}
}

func TestChatHandler_Emergency(t *testing.T) {
	s, gen := newTestServer(t)
	rr := serve(t, s, http.MethodPost, "/api/chat", map[string]string{"message": "my father collapsed"})

	var resp models.ChatResponse
	testutil.DecodeJSON(t, rr, &resp)
	if resp.Status != models.StatusEscalate || resp.Intent != models.IntentEmergency {
		t.Errorf("unexpected response: %+v", resp)
	}
	if gen.Calls() != 0 {
		t.Errorf("emergencies must not reach the generator")
	}
}

func TestChatHandler_IndependentRequests(t *testing.T) {
	s, _ := newTestServer(t)
	var ids []string
	for i := 0; i < 2; i++ {
		var resp models.ChatResponse
		testutil.DecodeJSON(t, serve(t, s, http.MethodPost, "/api/chat", map[string]string{"message": "cancel my appointment"}), &resp)
		ids = append(ids, resp.RunID)
		if resp.Route[0] != flow.NodeValidateInput {
			t.Errorf("route should start fresh each request: %v", resp.Route)
		}
	}
	if ids[0] == ids[1] {
		t.Errorf("run ids should differ: %v", ids)
	}
}

func TestChatHandler_Errors(t *testing.T) {
	s, _ := newTestServer(t)

	rr := serve(t, s, http.MethodGet, "/api/chat", nil)
	testutil.AssertHTTPStatus(t, http.StatusMethodNotAllowed, rr.Code, "GET chat")
	if rr.Header().Get("Allow") != http.MethodPost {
		t.Errorf("expected Allow: POST, got %q", rr.Header().Get("Allow"))
	}

	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewBufferString("{not json"))
	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "bad JSON")
	testutil.AssertJSONResponse(t, rr, string(models.APIStatusError))

	rr = serve(t, s, http.MethodPost, "/api/chat", map[string]string{"message": strings.Repeat("a", models.MaxMessageLength+1)})
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "long message")

	broken := NewServer(failingChat{}, nil, testutil.NewSeededStore())
	rr = serve(t, broken, http.MethodPost, "/api/chat", map[string]string{"message": "hi"})
	testutil.AssertHTTPStatus(t, http.StatusInternalServerError, rr.Code, "pipeline failure")
}

func TestChatHandler_EmptyBody(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "empty body")

	var resp models.ChatResponse
	testutil.DecodeJSON(t, rr, &resp)
	if resp.Status != models.StatusNeedInfo {
		t.Errorf("expected NEED_INFO, got %s", resp.Status)
	}
}

func TestEmailHandler(t *testing.T) {
	s, gen := newTestServer(t)
	rr := serve(t, s, http.MethodPost, "/api/email", map[string]string{"name": "Jane Doe", "phone": "902-555-0123", "day": "Monday", "time": "10am"})
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "email")

	var draft models.EmailDraft
	testutil.DecodeJSON(t, rr, &draft)
	if draft.Subject != "New Appointment Request — Jane Doe" {
		t.Errorf("intent should default to book: %q", draft.Subject)
	}
	if draft.Body != "Staff will confirm your booking." {
		t.Errorf("unexpected body: %q", draft.Body)
	}
	if req := gen.Requests[0]; req.Temperature != 0.3 || req.MaxTokens != 300 {
		t.Errorf("unexpected sampling params: %+v", req)
	}

	rr = serve(t, s, http.MethodPost, "/api/email", map[string]string{"intent": "teleport", "name": "Jane"})
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "invalid intent")
}

func TestAppointmentsHandler(t *testing.T) {
	s, _ := newTestServer(t)

	var found models.AppointmentLookupResponse
	testutil.DecodeJSON(t, serve(t, s, http.MethodPost, "/api/appointments", map[string]string{"name": "jane doe"}), &found)
	if !found.Found || found.Name != "Jane Doe" || len(found.Appointments) != 2 {
		t.Errorf("unexpected lookup: %+v", found)
	}

	rr := serve(t, s, http.MethodPost, "/api/appointments", map[string]string{"name": "Nobody"})
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "unknown patient")
	var missing models.AppointmentLookupResponse
	testutil.DecodeJSON(t, rr, &missing)
	if missing.Found || missing.Appointments == nil || len(missing.Appointments) != 0 {
		t.Errorf("unexpected miss: %+v", missing)
	}

	rr = serve(t, s, http.MethodPost, "/api/appointments", map[string]string{"name": "  "})
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "empty name")
}

func TestAppointmentsUpdateHandler(t *testing.T) {
	s, _ := newTestServer(t)

	var ok models.AppointmentUpdateResponse
	testutil.DecodeJSON(t, serve(t, s, http.MethodPost, "/api/appointments/update", map[string]string{
		"name": "Jane Doe", "appointment_id": "A1", "new_date": "2025-03-20", "new_time": "15:00",
	}), &ok)
	if !ok.Success || ok.Appointment == nil || ok.Appointment.Date != "2025-03-20" {
		t.Fatalf("unexpected update: %+v", ok)
	}
	if string(ok.Appointment.Extra["provider"]) != `"Dr. Lee"` {
		t.Errorf("extra fields should be echoed back: %+v", ok.Appointment.Extra)
	}

	var miss models.AppointmentUpdateResponse
	testutil.DecodeJSON(t, serve(t, s, http.MethodPost, "/api/appointments/update", map[string]string{
		"name": "Jane Doe", "appointment_id": "nope",
	}), &miss)
	if miss.Success || miss.Error != "Appointment not found" {
		t.Errorf("unexpected miss: %+v", miss)
	}

	testutil.DecodeJSON(t, serve(t, s, http.MethodPost, "/api/appointments/update", map[string]string{
		"name": "Nobody", "appointment_id": "A1",
	}), &miss)
	if miss.Success || miss.Error != "Patient not found" {
		t.Errorf("unexpected miss: %+v", miss)
	}

	rr := serve(t, s, http.MethodPost, "/api/appointments/update", map[string]string{"name": "Jane Doe"})
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "missing id")
}

func TestHealthHandler(t *testing.T) {
	s, _ := newTestServer(t)
	rr := serve(t, s, http.MethodGet, "/healthz", nil)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "health")
	testutil.AssertJSONResponse(t, rr, string(models.APIStatusOK))

	rr = serve(t, s, http.MethodPost, "/healthz", nil)
	testutil.AssertHTTPStatus(t, http.StatusMethodNotAllowed, rr.Code, "POST health")
}

func TestCORS(t *testing.T) {
	s, _ := newTestServer(t)
	rr := serve(t, s, http.MethodOptions, "/api/chat", nil)
	testutil.AssertHTTPStatus(t, http.StatusNoContent, rr.Code, "preflight")
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("expected wildcard origin")
	}

	closed := NewServer(failingChat{}, nil, nil, WithAllowedOrigin(""))
	rr = serve(t, closed, http.MethodOptions, "/api/chat", nil)
	if rr.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Errorf("CORS should be disabled")
	}
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	s := NewServer(failingChat{}, nil, nil, WithAddr("127.0.0.1:0"))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()
	if err := <-done; err != nil {
		t.Errorf("expected clean shutdown, got %v", err)
	}
}
