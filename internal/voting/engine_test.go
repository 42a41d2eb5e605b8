package voting

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stagepulse/stagepulse/internal/domain"
	apperrors "github.com/stagepulse/stagepulse/internal/errors"
	"github.com/stagepulse/stagepulse/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mocks ---

type mockWeightSource struct {
	mu      sync.Mutex
	weights map[uuid.UUID]float64
}

func (m *mockWeightSource) VoteWeightFor(_ context.Context, userID uuid.UUID) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.weights[userID]; ok {
		return w, nil
	}
	return 1, nil
}

type publishedEvent struct {
	Channel string
	Event   string
}

type mockPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (m *mockPublisher) Publish(channelKey, event string, _ any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, publishedEvent{Channel: channelKey, Event: event})
}

func (m *mockPublisher) eventNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, len(m.events))
	for i, e := range m.events {
		names[i] = e.Event
	}
	return names
}

// --- Harness ---

type testVoting struct {
	engine      *Engine
	sessions    *store.MemorySessions
	submissions *store.MemorySubmissions
	votes       *store.MemoryVotes
	rounds      *store.MemoryRounds
	budgets     *store.MemoryBudgets
	weights     *mockWeightSource
	publisher   *mockPublisher
	clock       *clockwork.FakeClock
}

func newTestVoting(t *testing.T) *testVoting {
	t.Helper()
	tv := &testVoting{
		sessions:    store.NewMemorySessions(),
		submissions: store.NewMemorySubmissions(),
		votes:       store.NewMemoryVotes(),
		rounds:      store.NewMemoryRounds(),
		budgets:     store.NewMemoryBudgets(),
		weights:     &mockWeightSource{weights: make(map[uuid.UUID]float64)},
		publisher:   &mockPublisher{},
		clock:       clockwork.NewFakeClock(),
	}
	tv.engine = NewEngine(tv.sessions, tv.submissions, tv.votes, tv.rounds, tv.budgets, tv.weights, tv.publisher, tv.clock)
	return tv
}

func (tv *testVoting) newSession(t *testing.T, system domain.VotingSystem, status domain.SessionStatus) *domain.Session {
	t.Helper()
	session := &domain.Session{
		ID:     uuid.New(),
		HostID: uuid.New(),
		Status: status,
		Stage:  status.Stage(),
		Settings: domain.SessionSettings{
			VotingSystem:  system,
			WeightBudget:  10,
			HardCapBudget: true,
			RoundDuration: 60 * time.Second,
		},
	}
	require.NoError(t, tv.sessions.Create(context.Background(), session))
	return session
}

func (tv *testVoting) newSubmission(t *testing.T, session *domain.Session, kind domain.TargetType) *domain.Submission {
	t.Helper()
	sub := &domain.Submission{
		ID:        uuid.New(),
		SessionID: session.ID,
		AuthorID:  uuid.New(),
		Kind:      kind,
		Status:    domain.SubmissionApproved,
		CreatedAt: tv.clock.Now(),
	}
	require.NoError(t, tv.submissions.Create(context.Background(), sub))
	return sub
}

// --- Cast / remove ---

func TestCastVote_Simple(t *testing.T) {
	tv := newTestVoting(t)
	ctx := context.Background()
	session := tv.newSession(t, domain.VotingSimple, domain.StatusLyricsVoting)
	sub := tv.newSubmission(t, session, domain.TargetLyrics)
	userID := uuid.New()

	vote, err := tv.engine.CastVote(ctx, userID, sub.ID, domain.TargetLyrics, 0)
	require.NoError(t, err)
	assert.Equal(t, 1.0, vote.Weight)

	got, err := tv.submissions.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Votes)
	assert.Equal(t, 1.0, got.WeightedVoteScore)
	assert.Equal(t, []uuid.UUID{userID}, got.VoterIDs)
	assert.Len(t, got.VoterIDs, got.Votes)
}

func TestCastVote_DuplicateRejected(t *testing.T) {
	tv := newTestVoting(t)
	ctx := context.Background()
	session := tv.newSession(t, domain.VotingSimple, domain.StatusLyricsVoting)
	sub := tv.newSubmission(t, session, domain.TargetLyrics)
	userID := uuid.New()

	_, err := tv.engine.CastVote(ctx, userID, sub.ID, domain.TargetLyrics, 0)
	require.NoError(t, err)

	_, err = tv.engine.CastVote(ctx, userID, sub.ID, domain.TargetLyrics, 0)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.TypeConflict))

	got, _ := tv.submissions.Get(ctx, sub.ID)
	assert.Equal(t, 1, got.Votes)
}

func TestCastVote_ConcurrentSamePairExactlyOneSuccess(t *testing.T) {
	tv := newTestVoting(t)
	ctx := context.Background()
	session := tv.newSession(t, domain.VotingSimple, domain.StatusLyricsVoting)
	sub := tv.newSubmission(t, session, domain.TargetLyrics)
	userID := uuid.New()

	const callers = 16
	var wg sync.WaitGroup
	results := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tv.engine.CastVote(ctx, userID, sub.ID, domain.TargetLyrics, 0)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	successes, conflicts := 0, 0
	for err := range results {
		if err == nil {
			successes++
		} else if apperrors.IsType(err, apperrors.TypeConflict) {
			conflicts++
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, callers-1, conflicts)

	got, _ := tv.submissions.Get(ctx, sub.ID)
	assert.Equal(t, 1, got.Votes)
}

func TestCastVote_WrongStageRejected(t *testing.T) {
	tv := newTestVoting(t)
	ctx := context.Background()
	session := tv.newSession(t, domain.VotingSimple, domain.StatusLyricsOpen)
	sub := tv.newSubmission(t, session, domain.TargetLyrics)

	_, err := tv.engine.CastVote(ctx, uuid.New(), sub.ID, domain.TargetLyrics, 0)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.TypeConflict))

	// song votes are not admitted during lyrics voting either
	session2 := tv.newSession(t, domain.VotingSimple, domain.StatusLyricsVoting)
	songSub := tv.newSubmission(t, session2, domain.TargetSong)
	_, err = tv.engine.CastVote(ctx, uuid.New(), songSub.ID, domain.TargetSong, 0)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.TypeConflict))
}

func TestCastVote_UnknownTargetNotFound(t *testing.T) {
	tv := newTestVoting(t)
	_, err := tv.engine.CastVote(context.Background(), uuid.New(), uuid.New(), domain.TargetLyrics, 0)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.TypeNotFound))
}

func TestRemoveVote_ExactInverse(t *testing.T) {
	tv := newTestVoting(t)
	ctx := context.Background()
	session := tv.newSession(t, domain.VotingWeighted, domain.StatusLyricsVoting)
	sub := tv.newSubmission(t, session, domain.TargetLyrics)
	userID := uuid.New()

	before, err := tv.submissions.Get(ctx, sub.ID)
	require.NoError(t, err)

	_, err = tv.engine.CastVote(ctx, userID, sub.ID, domain.TargetLyrics, 4)
	require.NoError(t, err)
	require.NoError(t, tv.engine.RemoveVote(ctx, userID, sub.ID, domain.TargetLyrics))

	after, err := tv.submissions.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Votes, after.Votes)
	assert.Equal(t, before.WeightedVoteScore, after.WeightedVoteScore)
	assert.Len(t, after.VoterIDs, 0)

	// the budget spend was refunded
	spent, err := tv.budgets.Spent(ctx, session.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, 0, spent)
}

func TestRemoveVote_WithoutPriorVote(t *testing.T) {
	tv := newTestVoting(t)
	session := tv.newSession(t, domain.VotingSimple, domain.StatusLyricsVoting)
	sub := tv.newSubmission(t, session, domain.TargetLyrics)

	err := tv.engine.RemoveVote(context.Background(), uuid.New(), sub.ID, domain.TargetLyrics)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.TypeNotFound))
}

func TestCastVote_AddRemoveAcrossManyUsers(t *testing.T) {
	tv := newTestVoting(t)
	ctx := context.Background()
	session := tv.newSession(t, domain.VotingWeighted, domain.StatusLyricsVoting)
	sub := tv.newSubmission(t, session, domain.TargetLyrics)

	users := make([]uuid.UUID, 6)
	weights := []int{1, 2, 3, 4, 5, 6}
	for i := range users {
		users[i] = uuid.New()
		_, err := tv.engine.CastVote(ctx, users[i], sub.ID, domain.TargetLyrics, weights[i])
		require.NoError(t, err)
	}

	// remove votes for users 0 and 3
	require.NoError(t, tv.engine.RemoveVote(ctx, users[0], sub.ID, domain.TargetLyrics))
	require.NoError(t, tv.engine.RemoveVote(ctx, users[3], sub.ID, domain.TargetLyrics))

	got, err := tv.submissions.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Votes)
	assert.Equal(t, float64(2+3+5+6), got.WeightedVoteScore)
	assert.Len(t, got.VoterIDs, got.Votes)
}

// --- Weighted / tokenized budgets ---

func TestCastVote_WeightedBudgetHardCap(t *testing.T) {
	tv := newTestVoting(t)
	ctx := context.Background()
	session := tv.newSession(t, domain.VotingWeighted, domain.StatusLyricsVoting)
	subA := tv.newSubmission(t, session, domain.TargetLyrics)
	subB := tv.newSubmission(t, session, domain.TargetLyrics)
	userID := uuid.New()

	_, err := tv.engine.CastVote(ctx, userID, subA.ID, domain.TargetLyrics, 8)
	require.NoError(t, err)

	// 8 of 10 spent; 3 more exceeds the budget under the hard cap
	_, err = tv.engine.CastVote(ctx, userID, subB.ID, domain.TargetLyrics, 3)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.TypeConflict))

	_, err = tv.engine.CastVote(ctx, userID, subB.ID, domain.TargetLyrics, 2)
	require.NoError(t, err)
}

func TestCastVote_WeightedBudgetScalesWithReputation(t *testing.T) {
	tv := newTestVoting(t)
	ctx := context.Background()
	session := tv.newSession(t, domain.VotingWeighted, domain.StatusLyricsVoting)
	sub := tv.newSubmission(t, session, domain.TargetLyrics)
	userID := uuid.New()
	tv.weights.weights[userID] = 3.2 // floor → 3× multiplier → budget 30

	vote, err := tv.engine.CastVote(ctx, userID, sub.ID, domain.TargetLyrics, 25)
	require.NoError(t, err)
	assert.Equal(t, 25.0, vote.Weight)
}

func TestCastVote_WeightedSoftCapClamps(t *testing.T) {
	tv := newTestVoting(t)
	ctx := context.Background()
	session := tv.newSession(t, domain.VotingWeighted, domain.StatusLyricsVoting)
	session.Settings.HardCapBudget = false
	require.NoError(t, tv.sessions.Update(ctx, session))
	sub := tv.newSubmission(t, session, domain.TargetLyrics)

	vote, err := tv.engine.CastVote(ctx, uuid.New(), sub.ID, domain.TargetLyrics, 99)
	require.NoError(t, err)
	assert.Equal(t, 10.0, vote.Weight) // clamped to the full budget
}

func TestCastVote_WeightedRejectsZeroValue(t *testing.T) {
	tv := newTestVoting(t)
	session := tv.newSession(t, domain.VotingWeighted, domain.StatusLyricsVoting)
	sub := tv.newSubmission(t, session, domain.TargetLyrics)

	_, err := tv.engine.CastVote(context.Background(), uuid.New(), sub.ID, domain.TargetLyrics, 0)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.TypeValidation))
}

func TestCastVote_TokenizedAllowsZeroAndEnforcesBalance(t *testing.T) {
	tv := newTestVoting(t)
	ctx := context.Background()
	session := tv.newSession(t, domain.VotingTokenized, domain.StatusSongVoting)
	subA := tv.newSubmission(t, session, domain.TargetSong)
	subB := tv.newSubmission(t, session, domain.TargetSong)
	userID := uuid.New()

	vote, err := tv.engine.CastVote(ctx, userID, subA.ID, domain.TargetSong, 0)
	require.NoError(t, err)
	assert.Equal(t, 0.0, vote.Weight)

	_, err = tv.engine.CastVote(ctx, userID, subB.ID, domain.TargetSong, 11)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.TypeConflict))
}

// --- Publishing ---

func TestCastVote_PublishesEvent(t *testing.T) {
	tv := newTestVoting(t)
	session := tv.newSession(t, domain.VotingSimple, domain.StatusLyricsVoting)
	sub := tv.newSubmission(t, session, domain.TargetLyrics)

	_, err := tv.engine.CastVote(context.Background(), uuid.New(), sub.ID, domain.TargetLyrics, 0)
	require.NoError(t, err)
	assert.Contains(t, tv.publisher.eventNames(), "vote:cast")
}
