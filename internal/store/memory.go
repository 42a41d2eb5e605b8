// Package store provides the in-memory implementations of the domain store
// interfaces. They back single-instance deployments and every unit test;
// the postgres and redis adapters replace them in clustered deployments.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stagepulse/stagepulse/internal/domain"
)

// --- Sessions ---

type MemorySessions struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]domain.Session
}

func NewMemorySessions() *MemorySessions {
	return &MemorySessions{sessions: make(map[uuid.UUID]domain.Session)}
}

func (m *MemorySessions) Get(_ context.Context, id uuid.UUID) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := s
	return &cp, nil
}

func (m *MemorySessions) Create(_ context.Context, s *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = *s
	return nil
}

func (m *MemorySessions) Update(_ context.Context, s *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; !ok {
		return domain.ErrNotFound
	}
	m.sessions[s.ID] = *s
	return nil
}

// --- Submissions ---

type MemorySubmissions struct {
	mu          sync.RWMutex
	submissions map[uuid.UUID]*domain.Submission
}

func NewMemorySubmissions() *MemorySubmissions {
	return &MemorySubmissions{submissions: make(map[uuid.UUID]*domain.Submission)}
}

func (m *MemorySubmissions) Get(_ context.Context, id uuid.UUID) (*domain.Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.submissions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *sub
	cp.VoterIDs = append([]uuid.UUID(nil), sub.VoterIDs...)
	return &cp, nil
}

func (m *MemorySubmissions) ListBySession(_ context.Context, sessionID uuid.UUID, kind domain.TargetType) ([]*domain.Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Submission
	for _, sub := range m.submissions {
		if sub.SessionID == sessionID && sub.Kind == kind {
			cp := *sub
			cp.VoterIDs = append([]uuid.UUID(nil), sub.VoterIDs...)
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemorySubmissions) Create(_ context.Context, sub *domain.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sub
	m.submissions[sub.ID] = &cp
	return nil
}

func (m *MemorySubmissions) Update(_ context.Context, sub *domain.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.submissions[sub.ID]; !ok {
		return domain.ErrNotFound
	}
	cp := *sub
	cp.VoterIDs = append([]uuid.UUID(nil), sub.VoterIDs...)
	m.submissions[sub.ID] = &cp
	return nil
}

func (m *MemorySubmissions) AddVote(_ context.Context, id uuid.UUID, userID uuid.UUID, weight float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.submissions[id]
	if !ok {
		return domain.ErrNotFound
	}
	sub.Votes++
	sub.WeightedVoteScore += weight
	sub.VoterIDs = append(sub.VoterIDs, userID)
	return nil
}

func (m *MemorySubmissions) RemoveVote(_ context.Context, id uuid.UUID, userID uuid.UUID, weight float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.submissions[id]
	if !ok {
		return domain.ErrNotFound
	}
	sub.Votes--
	sub.WeightedVoteScore -= weight
	for i, v := range sub.VoterIDs {
		if v == userID {
			sub.VoterIDs = append(sub.VoterIDs[:i], sub.VoterIDs[i+1:]...)
			break
		}
	}
	return nil
}

// --- Votes ---

type voteKey struct {
	UserID     uuid.UUID
	TargetID   uuid.UUID
	TargetType domain.TargetType
}

type MemoryVotes struct {
	mu    sync.Mutex
	votes map[voteKey]domain.Vote
}

func NewMemoryVotes() *MemoryVotes {
	return &MemoryVotes{votes: make(map[voteKey]domain.Vote)}
}

// Insert is a conditional insert: under the single mutex, the existence
// check and the write are one atomic step, so concurrent casts for the
// same key produce exactly one success.
func (m *MemoryVotes) Insert(_ context.Context, v *domain.Vote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := voteKey{UserID: v.UserID, TargetID: v.TargetID, TargetType: v.TargetType}
	if _, exists := m.votes[key]; exists {
		return domain.ErrDuplicateVote
	}
	m.votes[key] = *v
	return nil
}

func (m *MemoryVotes) Get(_ context.Context, userID, targetID uuid.UUID, targetType domain.TargetType) (*domain.Vote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.votes[voteKey{UserID: userID, TargetID: targetID, TargetType: targetType}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := v
	return &cp, nil
}

func (m *MemoryVotes) Delete(_ context.Context, userID, targetID uuid.UUID, targetType domain.TargetType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := voteKey{UserID: userID, TargetID: targetID, TargetType: targetType}
	if _, ok := m.votes[key]; !ok {
		return domain.ErrNotFound
	}
	delete(m.votes, key)
	return nil
}

func (m *MemoryVotes) ListByTarget(_ context.Context, targetID uuid.UUID, targetType domain.TargetType) ([]*domain.Vote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Vote
	for key, v := range m.votes {
		if key.TargetID == targetID && key.TargetType == targetType {
			cp := v
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// --- Rounds ---

type roundKey struct {
	SessionID uuid.UUID
	Number    int
}

type MemoryRounds struct {
	mu     sync.RWMutex
	rounds map[roundKey]domain.VotingRound
}

func NewMemoryRounds() *MemoryRounds {
	return &MemoryRounds{rounds: make(map[roundKey]domain.VotingRound)}
}

func (m *MemoryRounds) Get(_ context.Context, sessionID uuid.UUID, number int) (*domain.VotingRound, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rounds[roundKey{SessionID: sessionID, Number: number}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyRound(r), nil
}

func (m *MemoryRounds) ActiveRound(_ context.Context, sessionID uuid.UUID) (*domain.VotingRound, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for key, r := range m.rounds {
		if key.SessionID == sessionID && r.Status == domain.RoundActive {
			return copyRound(r), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MemoryRounds) LatestNumber(_ context.Context, sessionID uuid.UUID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	latest := 0
	for key := range m.rounds {
		if key.SessionID == sessionID && key.Number > latest {
			latest = key.Number
		}
	}
	return latest, nil
}

func (m *MemoryRounds) Save(_ context.Context, round *domain.VotingRound) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rounds[roundKey{SessionID: round.SessionID, Number: round.Number}] = *round
	return nil
}

func (m *MemoryRounds) Delete(_ context.Context, sessionID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.rounds {
		if key.SessionID == sessionID {
			delete(m.rounds, key)
		}
	}
	return nil
}

func copyRound(r domain.VotingRound) *domain.VotingRound {
	cp := r
	cp.Options = append([]domain.RoundOption(nil), r.Options...)
	cp.VoterIDs = append([]uuid.UUID(nil), r.VoterIDs...)
	return &cp
}

// --- Reputation ---

type MemoryReputation struct {
	mu      sync.RWMutex
	reps    map[uuid.UUID]domain.Reputation
	ledgers map[uuid.UUID][]domain.LedgerEntry
}

func NewMemoryReputation() *MemoryReputation {
	return &MemoryReputation{
		reps:    make(map[uuid.UUID]domain.Reputation),
		ledgers: make(map[uuid.UUID][]domain.LedgerEntry),
	}
}

func (m *MemoryReputation) Get(_ context.Context, userID uuid.UUID) (*domain.Reputation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rep, ok := m.reps[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := rep
	return &cp, nil
}

func (m *MemoryReputation) Save(_ context.Context, rep *domain.Reputation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reps[rep.UserID] = *rep
	return nil
}

func (m *MemoryReputation) AppendLedger(_ context.Context, entry *domain.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledgers[entry.UserID] = append(m.ledgers[entry.UserID], *entry)
	return nil
}

func (m *MemoryReputation) ListLedger(_ context.Context, userID uuid.UUID, limit int) ([]*domain.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.ledgers[userID]
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]*domain.LedgerEntry, 0, len(entries))
	for _, e := range entries {
		cp := e
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryReputation) ListInactive(_ context.Context, cutoff time.Time) ([]*domain.Reputation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Reputation
	for _, rep := range m.reps {
		if rep.Score > 0 && rep.LastActiveAt.Before(cutoff) {
			cp := rep
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- Engagement ---

type MemoryEngagement struct {
	mu         sync.RWMutex
	snapshots  map[uuid.UUID]domain.EngagementSnapshot
	highlights map[uuid.UUID][]domain.Highlight
}

func NewMemoryEngagement() *MemoryEngagement {
	return &MemoryEngagement{
		snapshots:  make(map[uuid.UUID]domain.EngagementSnapshot),
		highlights: make(map[uuid.UUID][]domain.Highlight),
	}
}

func (m *MemoryEngagement) Get(_ context.Context, sessionID uuid.UUID) (*domain.EngagementSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.snapshots[sessionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := snap
	cp.Reactions = copyReactions(snap.Reactions)
	return &cp, nil
}

func (m *MemoryEngagement) Save(_ context.Context, snap *domain.EngagementSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *snap
	cp.Reactions = copyReactions(snap.Reactions)
	m.snapshots[snap.SessionID] = cp
	return nil
}

func (m *MemoryEngagement) AppendHighlight(_ context.Context, h *domain.Highlight) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.highlights[h.SessionID] = append(m.highlights[h.SessionID], *h)
	return nil
}

func (m *MemoryEngagement) ListHighlights(_ context.Context, sessionID uuid.UUID) ([]*domain.Highlight, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Highlight, 0, len(m.highlights[sessionID]))
	for _, h := range m.highlights[sessionID] {
		cp := h
		out = append(out, &cp)
	}
	return out, nil
}

func copyReactions(src map[string]int) map[string]int {
	if src == nil {
		return nil
	}
	dst := make(map[string]int, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// --- Activity ---

type activityEvent struct {
	At   time.Time
	Kind domain.ActivityKind
	Type string
}

// MemoryActivity keeps per-session event slices for trailing-window counts.
// Events older than the retention horizon are pruned on write.
type MemoryActivity struct {
	mu        sync.RWMutex
	events    map[uuid.UUID][]activityEvent
	viewers   map[uuid.UUID][]domain.ViewerSample
	retention time.Duration
}

func NewMemoryActivity(retention time.Duration) *MemoryActivity {
	return &MemoryActivity{
		events:    make(map[uuid.UUID][]activityEvent),
		viewers:   make(map[uuid.UUID][]domain.ViewerSample),
		retention: retention,
	}
}

func (m *MemoryActivity) RecordMessage(_ context.Context, sessionID uuid.UUID, at time.Time) error {
	m.record(sessionID, activityEvent{At: at, Kind: domain.ActivityMessage})
	return nil
}

func (m *MemoryActivity) RecordReaction(_ context.Context, sessionID uuid.UUID, reactionType string, at time.Time) error {
	m.record(sessionID, activityEvent{At: at, Kind: domain.ActivityReaction, Type: reactionType})
	return nil
}

func (m *MemoryActivity) record(sessionID uuid.UUID, ev activityEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := append(m.events[sessionID], ev)
	cutoff := ev.At.Add(-m.retention)
	for len(events) > 0 && events[0].At.Before(cutoff) {
		events = events[1:]
	}
	m.events[sessionID] = events
}

func (m *MemoryActivity) CountMessages(_ context.Context, sessionID uuid.UUID, since time.Time) (int, error) {
	return m.count(sessionID, domain.ActivityMessage, since), nil
}

func (m *MemoryActivity) CountReactions(_ context.Context, sessionID uuid.UUID, since time.Time) (int, error) {
	return m.count(sessionID, domain.ActivityReaction, since), nil
}

func (m *MemoryActivity) count(sessionID uuid.UUID, kind domain.ActivityKind, since time.Time) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, ev := range m.events[sessionID] {
		if ev.Kind == kind && !ev.At.Before(since) {
			n++
		}
	}
	return n
}

func (m *MemoryActivity) RecordViewerSample(_ context.Context, sessionID uuid.UUID, sample domain.ViewerSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	samples := append(m.viewers[sessionID], sample)
	cutoff := sample.At.Add(-m.retention)
	for len(samples) > 0 && samples[0].At.Before(cutoff) {
		samples = samples[1:]
	}
	m.viewers[sessionID] = samples
	return nil
}

func (m *MemoryActivity) ViewerSamples(_ context.Context, sessionID uuid.UUID, since time.Time) ([]domain.ViewerSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.ViewerSample
	for _, s := range m.viewers[sessionID] {
		if !s.At.Before(since) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *MemoryActivity) Purge(_ context.Context, sessionID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.events, sessionID)
	delete(m.viewers, sessionID)
	return nil
}

// --- Vote budgets ---

type budgetKey struct {
	SessionID uuid.UUID
	UserID    uuid.UUID
}

type MemoryBudgets struct {
	mu    sync.Mutex
	spent map[budgetKey]int
}

func NewMemoryBudgets() *MemoryBudgets {
	return &MemoryBudgets{spent: make(map[budgetKey]int)}
}

func (m *MemoryBudgets) Spent(_ context.Context, sessionID, userID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.spent[budgetKey{SessionID: sessionID, UserID: userID}], nil
}

func (m *MemoryBudgets) AddSpent(_ context.Context, sessionID, userID uuid.UUID, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := budgetKey{SessionID: sessionID, UserID: userID}
	m.spent[key] += delta
	if m.spent[key] < 0 {
		m.spent[key] = 0
	}
	return nil
}

// --- Rate limits ---

type MemoryRateLimits struct {
	mu     sync.Mutex
	events map[string]time.Time
}

func NewMemoryRateLimits() *MemoryRateLimits {
	return &MemoryRateLimits{events: make(map[string]time.Time)}
}

func (m *MemoryRateLimits) LastEvent(_ context.Context, subjectKey string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events[subjectKey], nil
}

func (m *MemoryRateLimits) SetLastEvent(_ context.Context, subjectKey string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[subjectKey] = at
	return nil
}
