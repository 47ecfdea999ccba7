package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/neighborgigs/backend/internal/coordinator"
	"github.com/neighborgigs/backend/internal/lifecycle"
	"github.com/neighborgigs/backend/internal/middleware"
	"github.com/neighborgigs/backend/internal/models"
	"github.com/neighborgigs/backend/internal/repository"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

// --- Coordinator mock: records the last call and echoes a canned error ---

type mockCoord struct {
	err   error
	calls []string

	submitted  coordinator.SubmitRequestInput
	submitTask *models.Task

	gotAccept     bool
	gotProof      string
	gotTip        int64
	gotReason     string
	gotResolution string
}

func (m *mockCoord) record(name string) error {
	m.calls = append(m.calls, name)
	return m.err
}

func (m *mockCoord) SubmitRequest(_ context.Context, in coordinator.SubmitRequestInput) (*models.Task, error) {
	m.calls = append(m.calls, "SubmitRequest")
	m.submitted = in
	if m.err != nil {
		return nil, m.err
	}
	return m.submitTask, nil
}

func (m *mockCoord) MakeOffer(context.Context, uuid.UUID, uuid.UUID) error {
	return m.record("MakeOffer")
}

func (m *mockCoord) RespondToOffer(_ context.Context, _, _ uuid.UUID, accept bool) error {
	m.gotAccept = accept
	return m.record("RespondToOffer")
}

func (m *mockCoord) DirectAccept(context.Context, uuid.UUID, uuid.UUID) error {
	return m.record("DirectAccept")
}

func (m *mockCoord) CheckIn(context.Context, uuid.UUID, uuid.UUID) error {
	return m.record("CheckIn")
}

func (m *mockCoord) SubmitProof(_ context.Context, _, _ uuid.UUID, proofRef string) error {
	m.gotProof = proofRef
	return m.record("SubmitProof")
}

func (m *mockCoord) AddTip(_ context.Context, _, _ uuid.UUID, tipCents int64) error {
	m.gotTip = tipCents
	return m.record("AddTip")
}

func (m *mockCoord) Confirm(context.Context, uuid.UUID, uuid.UUID) error {
	return m.record("Confirm")
}

func (m *mockCoord) Dispute(_ context.Context, _, _ uuid.UUID, reason string) error {
	m.gotReason = reason
	return m.record("Dispute")
}

func (m *mockCoord) ResolveDispute(_ context.Context, _, _ uuid.UUID, resolution string) error {
	m.gotResolution = resolution
	return m.record("ResolveDispute")
}

func (m *mockCoord) Cancel(context.Context, uuid.UUID, uuid.UUID) error {
	return m.record("Cancel")
}

func (m *mockCoord) CancelWithRelease(context.Context, uuid.UUID, uuid.UUID) error {
	return m.record("CancelWithRelease")
}

func (m *mockCoord) last() string {
	if len(m.calls) == 0 {
		return ""
	}
	return m.calls[len(m.calls)-1]
}

// --- Read-side mocks ---

type mockTaskReader struct {
	tasks map[uuid.UUID]*models.Task
	open  []*models.Task
}

func newMockTaskReader() *mockTaskReader {
	return &mockTaskReader{tasks: make(map[uuid.UUID]*models.Task)}
}

func (m *mockTaskReader) GetByID(_ context.Context, id uuid.UUID) (*models.Task, error) {
	t, ok := m.tasks[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return t, nil
}

func (m *mockTaskReader) ListByRequester(_ context.Context, requesterID uuid.UUID) ([]*models.Task, error) {
	var out []*models.Task
	for _, t := range m.tasks {
		if t.RequesterID == requesterID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockTaskReader) ListOpen(context.Context) ([]*models.Task, error) {
	return m.open, nil
}

type mockTransitionReader struct {
	rows []*models.TaskTransition
}

func (m *mockTransitionReader) ListByTask(context.Context, uuid.UUID) ([]*models.TaskTransition, error) {
	return m.rows, nil
}

type mockPaymentReader struct {
	rows []*models.PaymentRecord
}

func (m *mockPaymentReader) ListByTask(context.Context, uuid.UUID) ([]*models.PaymentRecord, error) {
	return m.rows, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newTestHandler() (*TaskHandler, *mockCoord, *mockTaskReader) {
	coord := &mockCoord{}
	tasks := newMockTaskReader()
	h := &TaskHandler{
		Coord:       coord,
		Tasks:       tasks,
		Transitions: &mockTransitionReader{},
		Payments:    &mockPaymentReader{},
		Logger:      slog.Default(),
	}
	return h, coord, tasks
}

func seedTask(tasks *mockTaskReader, state string) *models.Task {
	t := &models.Task{
		ID:             uuid.New(),
		RequesterID:    uuid.New(),
		ErrandType:     models.ErrandGrocery,
		Title:          "milk run",
		BasePriceCents: 1200,
		State:          state,
	}
	tasks.tasks[t.ID] = t
	return t
}

// actionReq builds an authenticated POST to a /v1/tasks/{id}/... action.
func actionReq(taskID, actor uuid.UUID, body string) *http.Request {
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("{}")
	} else {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/v1/tasks/%s/x", taskID), rd)
	req.SetPathValue("id", taskID.String())
	if actor != uuid.Nil {
		req = req.WithContext(middleware.WithActor(req.Context(), actor))
	}
	return req
}

// =====================================================================
// POST /v1/tasks
// =====================================================================

func TestSubmitTask_Created(t *testing.T) {
	h, coord, _ := newTestHandler()
	actor := uuid.New()
	coord.submitTask = &models.Task{
		ID:          uuid.New(),
		RequesterID: actor,
		State:       models.TaskStatePendingMatch,
	}

	body := `{
		"errand_type": "grocery",
		"title": "milk run",
		"items_payload": {"items":[{"name":"milk"}]},
		"base_price_cents": 1200
	}`
	req := httptest.NewRequest(http.MethodPost, "/v1/tasks", strings.NewReader(body))
	req = req.WithContext(middleware.WithActor(req.Context(), actor))
	rec := httptest.NewRecorder()

	h.SubmitTask(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if coord.submitted.RequesterID != actor {
		t.Errorf("requester not taken from context: got %s", coord.submitted.RequesterID)
	}
	if coord.submitted.BasePriceCents != 1200 {
		t.Errorf("base price not passed through: got %d", coord.submitted.BasePriceCents)
	}

	var resp models.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.State != models.TaskStatePendingMatch {
		t.Errorf("expected PENDING_MATCH in response, got %s", resp.State)
	}
}

func TestSubmitTask_Unauthenticated(t *testing.T) {
	h, coord, _ := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/v1/tasks", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()

	h.SubmitTask(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if len(coord.calls) != 0 {
		t.Errorf("coordinator should not be reached: %v", coord.calls)
	}
}

func TestSubmitTask_InvalidJSON(t *testing.T) {
	h, _, _ := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/v1/tasks", strings.NewReader(`{"title":`))
	req = req.WithContext(middleware.WithActor(req.Context(), uuid.New()))
	rec := httptest.NewRecorder()

	h.SubmitTask(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSubmitTask_ValidationError(t *testing.T) {
	h, coord, _ := newTestHandler()
	coord.err = &coordinator.ValidationError{Field: "base_price_cents", Reason: "below minimum"}

	body := `{"errand_type":"grocery","title":"milk run","base_price_cents":1}`
	req := httptest.NewRequest(http.MethodPost, "/v1/tasks", strings.NewReader(body))
	req = req.WithContext(middleware.WithActor(req.Context(), uuid.New()))
	rec := httptest.NewRecorder()

	h.SubmitTask(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["field"] != "base_price_cents" {
		t.Errorf("expected offending field in response, got %q", resp["field"])
	}
}

// =====================================================================
// GET /v1/tasks, GET /v1/tasks/{id}
// =====================================================================

func TestListTasks_OwnVsOpenFeed(t *testing.T) {
	h, _, tasks := newTestHandler()
	mine := seedTask(tasks, models.TaskStatePendingMatch)
	other := seedTask(tasks, models.TaskStatePendingMatch)
	tasks.open = []*models.Task{mine, other}

	req := httptest.NewRequest(http.MethodGet, "/v1/tasks", nil)
	req = req.WithContext(middleware.WithActor(req.Context(), mine.RequesterID))
	rec := httptest.NewRecorder()
	h.ListTasks(rec, req)

	var own []*models.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &own); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(own) != 1 || own[0].ID != mine.ID {
		t.Fatalf("expected only the caller's task, got %d", len(own))
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/tasks?feed=open", nil)
	req = req.WithContext(middleware.WithActor(req.Context(), mine.RequesterID))
	rec = httptest.NewRecorder()
	h.ListTasks(rec, req)

	var feed []*models.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &feed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(feed) != 2 {
		t.Fatalf("expected the full open feed, got %d", len(feed))
	}
}

func TestGetTask_NotFound(t *testing.T) {
	h, _, _ := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/v1/tasks/"+uuid.NewString(), nil)
	req.SetPathValue("id", uuid.NewString())
	rec := httptest.NewRecorder()

	h.GetTask(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetTask_BadID(t *testing.T) {
	h, _, _ := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/v1/tasks/not-a-uuid", nil)
	req.SetPathValue("id", "not-a-uuid")
	rec := httptest.NewRecorder()

	h.GetTask(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

// =====================================================================
// Actions
// =====================================================================

func TestMakeOffer_ReturnsRefreshedTask(t *testing.T) {
	h, coord, tasks := newTestHandler()
	task := seedTask(tasks, models.TaskStateOffered)
	helper := uuid.New()

	rec := httptest.NewRecorder()
	h.MakeOffer(rec, actionReq(task.ID, helper, ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if coord.last() != "MakeOffer" {
		t.Errorf("expected MakeOffer call, got %v", coord.calls)
	}
	var resp models.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ID != task.ID {
		t.Error("response should carry the refreshed task")
	}
}

func TestMakeOffer_Unauthenticated(t *testing.T) {
	h, coord, tasks := newTestHandler()
	task := seedTask(tasks, models.TaskStatePendingMatch)

	rec := httptest.NewRecorder()
	h.MakeOffer(rec, actionReq(task.ID, uuid.Nil, ""))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if len(coord.calls) != 0 {
		t.Errorf("coordinator should not be reached: %v", coord.calls)
	}
}

func TestMakeOffer_AlreadyOffered(t *testing.T) {
	h, coord, tasks := newTestHandler()
	task := seedTask(tasks, models.TaskStateOffered)
	coord.err = coordinator.ErrAlreadyOffered

	rec := httptest.NewRecorder()
	h.MakeOffer(rec, actionReq(task.ID, uuid.New(), ""))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestMakeOffer_StateConflictCarriesCurrentState(t *testing.T) {
	h, coord, tasks := newTestHandler()
	task := seedTask(tasks, models.TaskStateCancelled)
	coord.err = &lifecycle.StateConflictError{
		TaskID:    task.ID,
		Current:   models.TaskStateCancelled,
		Requested: models.TaskStateOffered,
	}

	rec := httptest.NewRecorder()
	h.MakeOffer(rec, actionReq(task.ID, uuid.New(), ""))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["current_state"] != models.TaskStateCancelled {
		t.Errorf("expected current_state in conflict body, got %q", resp["current_state"])
	}
}

func TestRespondToOffer_DeclinePassedThrough(t *testing.T) {
	h, coord, tasks := newTestHandler()
	task := seedTask(tasks, models.TaskStatePendingMatch)

	rec := httptest.NewRecorder()
	h.RespondToOffer(rec, actionReq(task.ID, task.RequesterID, `{"accept": false}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if coord.last() != "RespondToOffer" || coord.gotAccept {
		t.Errorf("expected decline to reach the coordinator, calls=%v accept=%v", coord.calls, coord.gotAccept)
	}
}

func TestSubmitProof_WrongParty(t *testing.T) {
	h, coord, tasks := newTestHandler()
	task := seedTask(tasks, models.TaskStateInProgress)
	coord.err = coordinator.ErrNotHelper

	rec := httptest.NewRecorder()
	h.SubmitProof(rec, actionReq(task.ID, uuid.New(), `{"proof_ref":"photo-123"}`))

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if coord.gotProof != "photo-123" {
		t.Errorf("proof_ref not passed through: %q", coord.gotProof)
	}
}

func TestAddTip_PassedThrough(t *testing.T) {
	h, coord, tasks := newTestHandler()
	task := seedTask(tasks, models.TaskStateCompleted)

	rec := httptest.NewRecorder()
	h.AddTip(rec, actionReq(task.ID, task.RequesterID, `{"tip_cents": 300}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if coord.gotTip != 300 {
		t.Errorf("tip_cents not passed through: %d", coord.gotTip)
	}
}

func TestDispute_ReasonPassedThrough(t *testing.T) {
	h, coord, tasks := newTestHandler()
	task := seedTask(tasks, models.TaskStateCompleted)

	rec := httptest.NewRecorder()
	h.Dispute(rec, actionReq(task.ID, task.RequesterID, `{"reason":"wrong items"}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if coord.gotReason != "wrong items" {
		t.Errorf("reason not passed through: %q", coord.gotReason)
	}
}

// =====================================================================
// POST /v1/tasks/{id}/cancel dispatch
// =====================================================================

func TestCancel_DefaultsToPlainCancel(t *testing.T) {
	h, coord, tasks := newTestHandler()
	task := seedTask(tasks, models.TaskStatePendingMatch)

	rec := httptest.NewRecorder()
	h.Cancel(rec, actionReq(task.ID, task.RequesterID, ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if coord.last() != "Cancel" {
		t.Errorf("expected plain Cancel, got %v", coord.calls)
	}
}

// A cancel after acceptance never releases the hold unless the caller asks
// for it in the body.
func TestCancel_AcceptedNeedsExplicitRelease(t *testing.T) {
	h, coord, tasks := newTestHandler()
	task := seedTask(tasks, models.TaskStateAccepted)

	rec := httptest.NewRecorder()
	h.Cancel(rec, actionReq(task.ID, task.RequesterID, `{"release_hold": false}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if coord.last() != "Cancel" {
		t.Errorf("expected plain Cancel without the flag, got %v", coord.calls)
	}

	rec = httptest.NewRecorder()
	h.Cancel(rec, actionReq(task.ID, task.RequesterID, `{"release_hold": true}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if coord.last() != "CancelWithRelease" {
		t.Errorf("expected CancelWithRelease, got %v", coord.calls)
	}
}

func TestCancel_RejectsMalformedBody(t *testing.T) {
	h, coord, tasks := newTestHandler()
	task := seedTask(tasks, models.TaskStatePendingMatch)

	rec := httptest.NewRecorder()
	h.Cancel(rec, actionReq(task.ID, task.RequesterID, `{"release_hold":`))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(coord.calls) != 0 {
		t.Errorf("coordinator should not be called, got %v", coord.calls)
	}
}
