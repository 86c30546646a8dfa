package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eduflowhq/eduflow/internal/domain"
	"github.com/eduflowhq/eduflow/internal/engine"
	"github.com/eduflowhq/eduflow/internal/identity"
	"github.com/eduflowhq/eduflow/internal/llm"
	"github.com/eduflowhq/eduflow/internal/store"
)

// memRepo is a minimal in-memory Repository for handler tests.
type memRepo struct {
	mu   sync.Mutex
	recs map[string]*store.SessionRecord
}

func newMemRepo() *memRepo {
	return &memRepo{recs: make(map[string]*store.SessionRecord)}
}

func (r *memRepo) GetSession(_ context.Context, userID, sessionID string) (*store.SessionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[userID+":"+sessionID]
	if !ok {
		return nil, nil
	}
	// Deep copy through JSON so the engine never mutates stored state.
	raw, err := json.Marshal(rec.State)
	if err != nil {
		return nil, err
	}
	var state domain.ConversationState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, err
	}
	cp := *rec
	cp.State = &state
	return &cp, nil
}

func (r *memRepo) PutSession(_ context.Context, rec *store.SessionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs[rec.UserID+":"+rec.SessionID] = rec
	return nil
}

func (r *memRepo) DeleteSession(_ context.Context, userID, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.recs, userID+":"+sessionID)
	return nil
}

func (r *memRepo) CleanupExpiredSessions(context.Context, time.Duration) (int64, error) {
	return 0, nil
}
func (r *memRepo) Ping(context.Context) error { return nil }
func (r *memRepo) Close() error               { return nil }

const discoveryReply = `{"type":"problem_discovery","message":"That sounds like a lot.","challenge_areas":[{"area":"Grading","question":"What takes the longest?","example_pills":["Essays"]}]}`

func newTestRouter(t *testing.T, client llm.Client) (chi.Router, *memRepo) {
	t.Helper()
	repo := newMemRepo()
	eng := engine.New(client, repo, nil, engine.Options{Model: "test-model", MaxTokens: 512},
		slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError + 4})))
	h := NewHandler(eng, 100, time.Minute)

	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r, repo
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// doRequest issues a request with a test identity attached, the way the
// identity middleware would in production.
func doRequest(r http.Handler, method, path, body, userID string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if userID != "" {
		req = req.WithContext(identity.WithIdentity(req.Context(), userID, "default"))
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_RequiresIdentity(t *testing.T) {
	r, _ := newTestRouter(t, llm.NewMockClient("hi"))

	w := doRequest(r, http.MethodGet, "/api/assistant/session", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(r, http.MethodPost, "/api/assistant/message", `{"message":"hi"}`, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandler_SessionCreatesIcebreaker(t *testing.T) {
	r, _ := newTestRouter(t, llm.NewMockClient("Hey! What's been eating your time?"))

	w := doRequest(r, http.MethodGet, "/api/assistant/session", "", "anon_1")
	require.Equal(t, http.StatusOK, w.Code)

	var snap engine.Snapshot
	require.NoError(t, json.NewDecoder(w.Body).Decode(&snap))
	require.Len(t, snap.History, 1)
	assert.Equal(t, domain.KindPlain, snap.History[0].Kind)
	assert.Equal(t, domain.StepDiscovery, snap.State.Step)
}

func TestHandler_MessageFlow(t *testing.T) {
	r, _ := newTestRouter(t, llm.NewMockClient("hi", discoveryReply))

	w := doRequest(r, http.MethodGet, "/api/assistant/session", "", "anon_1")
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(r, http.MethodPost, "/api/assistant/message", `{"message":"grading is drowning me"}`, "anon_1")
	require.Equal(t, http.StatusOK, w.Code)

	var res engine.Result
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	require.Len(t, res.Messages, 2)
	assert.Equal(t, domain.KindProblemDiscovery, res.Messages[1].Kind)

	payload, ok := res.Messages[1].Payload.(*domain.ProblemDiscovery)
	require.True(t, ok)
	assert.Equal(t, "Grading", payload.ChallengeAreas[0].Area)
}

func TestHandler_RejectsEmptyAndInvalidBodies(t *testing.T) {
	r, _ := newTestRouter(t, llm.NewMockClient("hi"))

	for _, body := range []string{``, `not json`, `{"message":""}`, `{"message":"   "}`, `{"label":"x"}`} {
		w := doRequest(r, http.MethodPost, "/api/assistant/message", body, "anon_1")
		assert.Equal(t, http.StatusBadRequest, w.Code, "body %q", body)
	}
}

func TestHandler_PillUsesLabelField(t *testing.T) {
	r, _ := newTestRouter(t, llm.NewMockClient(
		"hi",
		discoveryReply,
		`{"type":"deep_dive","message":"Let's dig in.","questions":["How many per week?"]}`,
	))

	doRequest(r, http.MethodGet, "/api/assistant/session", "", "anon_1")
	doRequest(r, http.MethodPost, "/api/assistant/message", `{"message":"grading"}`, "anon_1")

	w := doRequest(r, http.MethodPost, "/api/assistant/pill", `{"label":"Grading"}`, "anon_1")
	require.Equal(t, http.StatusOK, w.Code)

	var res engine.Result
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	assert.Equal(t, "Grading", res.State.SelectedChallenge)
}

func TestHandler_MeetingGateConflict(t *testing.T) {
	mock := llm.NewMockClient("hi")
	r, repo := newTestRouter(t, mock)

	state := domain.NewConversationState()
	state.Step = domain.StepDeliver
	state.Goal = domain.GoalDeliverResource
	require.NoError(t, repo.PutSession(context.Background(), &store.SessionRecord{
		UserID: "anon_1", SessionID: "default",
		SchemaVersion: store.SchemaVersion, State: state,
	}))

	w := doRequest(r, http.MethodPost, "/api/assistant/message", `{"message":"hand it over"}`, "anon_1")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "onboarding call")
}

func TestHandler_UpstreamRateLimitMapsTo429(t *testing.T) {
	mock := llm.NewMockClient()
	mock.Err = llm.ErrRateLimited
	r, _ := newTestRouter(t, mock)

	w := doRequest(r, http.MethodPost, "/api/assistant/message", `{"message":"hello"}`, "anon_1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "try again shortly")
}

func TestHandler_PerUserRateLimit(t *testing.T) {
	repo := newMemRepo()
	eng := engine.New(llm.NewMockClient("hi"), repo, nil, engine.Options{},
		slog.New(slog.NewTextHandler(discard{}, nil)))
	h := NewHandler(eng, 2, time.Minute)
	r := chi.NewRouter()
	h.RegisterRoutes(r)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := doRequest(r, http.MethodPost, "/api/assistant/message",
			fmt.Sprintf(`{"message":"msg %d"}`, i), "anon_limited")
		codes = append(codes, w.Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, codes[2])

	// Another user is not affected.
	w := doRequest(r, http.MethodPost, "/api/assistant/message", `{"message":"hi"}`, "anon_other")
	assert.NotEqual(t, http.StatusTooManyRequests, w.Code)
}

func TestHandler_MeetingConfirmDelivers(t *testing.T) {
	final := `{"type":"final_resource","message":"Here it is.","resource":{"title":"Essay Rubric","date":"August 29, 2026","author":"Sage","content":"Criteria: thesis, evidence."}}`
	mock := llm.NewMockClient(final)
	r, repo := newTestRouter(t, mock)

	state := domain.NewConversationState()
	state.Step = domain.StepMeeting
	state.Goal = domain.GoalMeetingQA
	require.NoError(t, repo.PutSession(context.Background(), &store.SessionRecord{
		UserID: "anon_1", SessionID: "default",
		SchemaVersion: store.SchemaVersion, State: state,
	}))

	w := doRequest(r, http.MethodPost, "/api/assistant/meeting/confirm", "", "anon_1")
	require.Equal(t, http.StatusOK, w.Code)

	var res engine.Result
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	require.Len(t, res.Messages, 1)
	assert.Equal(t, domain.KindFinalResource, res.Messages[0].Kind)
	assert.True(t, res.State.MeetingBooked)
}

func TestHandler_Reset(t *testing.T) {
	r, repo := newTestRouter(t, llm.NewMockClient("hi"))

	doRequest(r, http.MethodGet, "/api/assistant/session", "", "anon_1")
	w := doRequest(r, http.MethodPost, "/api/assistant/reset", "", "anon_1")
	require.Equal(t, http.StatusOK, w.Code)

	rec, err := repo.GetSession(context.Background(), "anon_1", "default")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestHandler_OversizedBodyRejected(t *testing.T) {
	r, _ := newTestRouter(t, llm.NewMockClient("hi"))

	huge := `{"message":"` + strings.Repeat("a", maxRequestBodySize) + `"}`
	w := doRequest(r, http.MethodPost, "/api/assistant/message", huge, "anon_1")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
