package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagepulse/stagepulse/internal/app"
	"github.com/stagepulse/stagepulse/internal/config"
	"github.com/stagepulse/stagepulse/internal/domain"
	"github.com/stagepulse/stagepulse/internal/hype"
	"github.com/stagepulse/stagepulse/internal/ratelimit"
	"github.com/stagepulse/stagepulse/internal/reputation"
	"github.com/stagepulse/stagepulse/internal/session"
	"github.com/stagepulse/stagepulse/internal/store"
	"github.com/stagepulse/stagepulse/internal/voting"
	ws "github.com/stagepulse/stagepulse/internal/websocket"
)

type nopPublisher struct{}

func (nopPublisher) Publish(string, string, any) {}

type testServer struct {
	srv      *Server
	sessions *store.MemorySessions
	clock    *clockwork.FakeClock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	clock := clockwork.NewFakeClock()
	cfg := &config.Config{
		AppEnv:               "test",
		AppURL:               "http://localhost:8080",
		Port:                 "8080",
		WeightBudget:         10,
		HardCapBudget:        true,
		RoundDuration:        60 * time.Second,
		ChatSlowModeSeconds:  3,
		WordSubmitWindowSecs: 10,
		ReactionCooldownSecs: 1,
		BurstWindow:          5 * time.Second,
		BurstThreshold:       20,
	}

	sessions := store.NewMemorySessions()
	submissions := store.NewMemorySubmissions()
	engagement := store.NewMemoryEngagement()
	activity := store.NewMemoryActivity(2 * time.Minute)
	rounds := store.NewMemoryRounds()
	publisher := nopPublisher{}

	repEngine := reputation.NewEngine(store.NewMemoryReputation(), clock)
	votingEngine := voting.NewEngine(
		sessions, submissions, store.NewMemoryVotes(), rounds,
		store.NewMemoryBudgets(), repEngine, publisher, clock,
	)
	machine := session.NewMachine(sessions, votingEngine, repEngine, publisher, clock)
	calculator := hype.NewCalculator(
		sessions, activity, engagement, rounds, publisher, clock,
		5*time.Second, cfg.BurstWindow, cfg.BurstThreshold,
	)
	limiter := ratelimit.New(store.NewMemoryRateLimits(), clock)

	svc := app.NewService(cfg, sessions, submissions, engagement, activity,
		machine, votingEngine, repEngine, calculator, limiter, publisher, clock)
	t.Cleanup(calculator.StopAll)

	hub := ws.NewHub(nil, nil, clock)
	t.Cleanup(hub.Stop)

	srv := NewServer(cfg, svc, hub, nil)
	return &testServer{srv: srv, sessions: sessions, clock: clock}
}

func (ts *testServer) seedSession(t *testing.T, status domain.SessionStatus) *domain.Session {
	t.Helper()
	sess := &domain.Session{
		ID:     uuid.New(),
		HostID: uuid.New(),
		Title:  "test session",
		Status: status,
		Stage:  status.Stage(),
		Live:   status.Active(),
		Settings: domain.SessionSettings{
			VotingSystem:  domain.VotingSimple,
			WeightBudget:  10,
			RoundDuration: 60 * time.Second,
		},
	}
	require.NoError(t, ts.sessions.Create(context.Background(), sess))
	return sess
}

func (ts *testServer) request(method, target, userID, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set(echoContentType, echoJSONType)
	}
	if userID != "" {
		req.Header.Set(userIDHeader, userID)
	}
	rec := httptest.NewRecorder()
	ts.srv.echo.ServeHTTP(rec, req)
	return rec
}

const (
	echoContentType = "Content-Type"
	echoJSONType    = "application/json"
)

func TestCreateSession(t *testing.T) {
	ts := newTestServer(t)
	hostID := uuid.New()

	rec := ts.request(http.MethodPost, "/api/sessions", hostID.String(),
		`{"title": "friday night", "settings": {"votingSystem": "weighted"}}`)

	require.Equal(t, http.StatusCreated, rec.Code)

	var sess domain.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	assert.Equal(t, hostID, sess.HostID)
	assert.Equal(t, "friday night", sess.Title)
	assert.Equal(t, domain.StatusDraft, sess.Status)
	assert.Equal(t, domain.VotingWeighted, sess.Settings.VotingSystem)
	assert.Equal(t, 10, sess.Settings.WeightBudget)
}

func TestCreateSession_MissingIdentity(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(http.MethodPost, "/api/sessions", "", `{"title": "x"}`)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), `"type":"forbidden"`)
}

func TestCreateSession_BadIdentityHeader(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(http.MethodPost, "/api/sessions", "not-a-uuid", `{"title": "x"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"type":"validation"`)
}

func TestGetSession_NotFound(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(http.MethodGet, "/api/sessions/"+uuid.NewString(), "", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"type":"not_found"`)
}

func TestGetSession_InvalidUUID(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(http.MethodGet, "/api/sessions/not-a-uuid", "", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"type":"validation"`)
}

func TestGoLive(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.seedSession(t, domain.StatusDraft)

	rec := ts.request(http.MethodPost, "/api/sessions/"+sess.ID.String()+"/live", sess.HostID.String(), "")

	require.Equal(t, http.StatusOK, rec.Code)

	var got domain.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, domain.StatusLyricsOpen, got.Status)
	assert.True(t, got.Live)
}

func TestGoLive_NotTheHost(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.seedSession(t, domain.StatusDraft)

	rec := ts.request(http.MethodPost, "/api/sessions/"+sess.ID.String()+"/live", uuid.NewString(), "")

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdvanceStage_FromDraftConflicts(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.seedSession(t, domain.StatusDraft)

	rec := ts.request(http.MethodPost, "/api/sessions/"+sess.ID.String()+"/advance", sess.HostID.String(), "")

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), `"type":"conflict"`)
}

func TestSubmitWord(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.seedSession(t, domain.StatusLyricsOpen)
	userID := uuid.New()

	rec := ts.request(http.MethodPost, "/api/sessions/"+sess.ID.String()+"/words", userID.String(),
		`{"content": "midnight"}`)

	require.Equal(t, http.StatusCreated, rec.Code)

	var sub domain.Submission
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sub))
	assert.Equal(t, "midnight", sub.Content)
	assert.Equal(t, domain.TargetLyrics, sub.Kind)
}

func TestSubmitWord_CooldownMapsTo429(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.seedSession(t, domain.StatusLyricsOpen)
	userID := uuid.New()
	path := "/api/sessions/" + sess.ID.String() + "/words"

	rec := ts.request(http.MethodPost, path, userID.String(), `{"content": "midnight"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.request(http.MethodPost, path, userID.String(), `{"content": "sunrise"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), `"type":"rate_limited"`)
	assert.Contains(t, rec.Body.String(), `"waitSeconds":10`)
}

func TestSubmitWord_AnonymousAllowed(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.seedSession(t, domain.StatusLyricsOpen)

	rec := ts.request(http.MethodPost, "/api/sessions/"+sess.ID.String()+"/words", "",
		`{"content": "echoes"}`)

	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestSubmitSong_RequiresHost(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.seedSession(t, domain.StatusGeneration)

	rec := ts.request(http.MethodPost, "/api/sessions/"+sess.ID.String()+"/songs", uuid.NewString(),
		`{"content": "https://cdn.example.com/take-1.mp3"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.request(http.MethodPost, "/api/sessions/"+sess.ID.String()+"/songs", sess.HostID.String(),
		`{"content": "https://cdn.example.com/take-1.mp3"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestCastVote_DuplicateConflicts(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.seedSession(t, domain.StatusLyricsOpen)
	userID := uuid.New()

	rec := ts.request(http.MethodPost, "/api/sessions/"+sess.ID.String()+"/words", userID.String(),
		`{"content": "midnight"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var sub domain.Submission
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sub))

	// Advance the session to the lyrics voting stage directly.
	sess.Status = domain.StatusLyricsVoting
	sess.Stage = 2
	require.NoError(t, ts.sessions.Update(context.Background(), sess))

	voterID := uuid.New()
	body := `{"targetId": "` + sub.ID.String() + `", "targetType": "lyrics", "value": 1}`

	rec = ts.request(http.MethodPost, "/api/votes", voterID.String(), body)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.request(http.MethodPost, "/api/votes", voterID.String(), body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), `"type":"conflict"`)
}

func TestCastVote_MissingTarget(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(http.MethodPost, "/api/votes", uuid.NewString(),
		`{"targetType": "lyrics", "value": 1}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatMessage(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.seedSession(t, domain.StatusLyricsOpen)

	rec := ts.request(http.MethodPost, "/api/sessions/"+sess.ID.String()+"/chat", uuid.NewString(), "")

	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestChatMessage_NotLive(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.seedSession(t, domain.StatusDraft)

	rec := ts.request(http.MethodPost, "/api/sessions/"+sess.ID.String()+"/chat", uuid.NewString(), "")

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestReaction(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.seedSession(t, domain.StatusLyricsOpen)

	rec := ts.request(http.MethodPost, "/api/sessions/"+sess.ID.String()+"/reactions", uuid.NewString(),
		`{"type": "fire"}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"burst": false}`, rec.Body.String())
}

func TestStartRound(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.seedSession(t, domain.StatusLyricsOpen)

	rec := ts.request(http.MethodPost, "/api/sessions/"+sess.ID.String()+"/rounds", sess.HostID.String(),
		`{"question": "pick a mood", "options": ["dark", "upbeat"]}`)

	require.Equal(t, http.StatusCreated, rec.Code)

	var round domain.VotingRound
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &round))
	assert.Equal(t, 1, round.Number)
	assert.Len(t, round.Options, 2)
}

func TestActiveRound_NoneRunning(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.seedSession(t, domain.StatusLyricsOpen)

	rec := ts.request(http.MethodGet, "/api/sessions/"+sess.ID.String()+"/rounds/active", "", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"active": false}`, rec.Body.String())
}

func TestGetEngagement_EmptyForQuietSession(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.seedSession(t, domain.StatusLyricsOpen)

	rec := ts.request(http.MethodGet, "/api/sessions/"+sess.ID.String()+"/engagement", "", "")

	require.Equal(t, http.StatusOK, rec.Code)

	var snap domain.EngagementSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, sess.ID, snap.SessionID)
}

func TestGetLedger_InvalidLimit(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(http.MethodGet, "/api/users/"+uuid.NewString()+"/ledger?limit=abc", "", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEndRound_InvalidNumber(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.seedSession(t, domain.StatusLyricsOpen)

	rec := ts.request(http.MethodPost, "/api/sessions/"+sess.ID.String()+"/rounds/0/end", sess.HostID.String(), "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestIDHeader(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(http.MethodGet, "/health/live", "", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, rec.Header().Get(echo.HeaderXRequestID), 8)
}

func TestHealthLiveness(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(http.MethodGet, "/health/live", "", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.Contains(t, rec.Body.String(), `"uptime"`)
}

func TestHealthReadiness(t *testing.T) {
	ts := newTestServer(t)

	healthy := func(context.Context) error { return nil }
	ts.srv.healthChecks = []HealthCheck{{Name: "postgres", Check: healthy}}

	rec := ts.request(http.MethodGet, "/health/ready", "", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready"}`, rec.Body.String())
}

func TestHealthReadiness_DependencyDown(t *testing.T) {
	ts := newTestServer(t)

	ts.srv.healthChecks = []HealthCheck{
		{Name: "postgres", Check: func(context.Context) error { return nil }},
		{Name: "redis", Check: func(context.Context) error { return errAssert }},
	}

	rec := ts.request(http.MethodGet, "/health/ready", "", "")

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"failed_check":"redis"`)
	assert.Contains(t, rec.Body.String(), `"status":"unhealthy"`)
}

var errAssert = errors.New("connection refused")

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(http.MethodGet, "/metrics", "", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
