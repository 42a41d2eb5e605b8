package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// --- Session ---

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	StatusDraft        SessionStatus = "draft"
	StatusLyricsOpen   SessionStatus = "lyrics-open"
	StatusLyricsVoting SessionStatus = "lyrics-voting"
	StatusGeneration   SessionStatus = "generation"
	StatusSongVoting   SessionStatus = "song-voting"
	StatusCompleted    SessionStatus = "completed"
	StatusPaused       SessionStatus = "paused"
	StatusCancelled    SessionStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Active reports whether the session is in one of the five working stages.
func (s SessionStatus) Active() bool {
	switch s {
	case StatusLyricsOpen, StatusLyricsVoting, StatusGeneration, StatusSongVoting:
		return true
	}
	return false
}

// Stage returns the ordinal stage (1-5) for an active or completed status,
// or 0 for draft/paused/cancelled.
func (s SessionStatus) Stage() int {
	switch s {
	case StatusLyricsOpen:
		return 1
	case StatusLyricsVoting:
		return 2
	case StatusGeneration:
		return 3
	case StatusSongVoting:
		return 4
	case StatusCompleted:
		return 5
	}
	return 0
}

// VotingSystem selects the vote-weighting mode for a session.
type VotingSystem string

const (
	VotingSimple    VotingSystem = "simple"
	VotingWeighted  VotingSystem = "weighted"
	VotingTokenized VotingSystem = "tokenized"
)

// SessionSettings are per-session knobs fixed at creation.
type SessionSettings struct {
	VotingSystem     VotingSystem  `json:"votingSystem"`
	WeightBudget     int           `json:"weightBudget"`
	HardCapBudget    bool          `json:"hardCapBudget"`
	SubmissionCap    int           `json:"submissionCap"`
	RoundDuration    time.Duration `json:"roundDuration"`
	LyricsDeadline   time.Time     `json:"lyricsDeadline"`
	VotingDeadline   time.Time     `json:"votingDeadline"`
}

// SessionResults holds the finalized outcome of the lyrics vote.
type SessionResults struct {
	WinnerSubmissionID uuid.UUID   `json:"winnerSubmissionId"`
	RunnerUpIDs        []uuid.UUID `json:"runnerUpIds"`
	// WinnerPaidOut guards the +50 winner payout against retried transitions.
	WinnerPaidOut bool `json:"winnerPaidOut"`
}

// SessionStats are denormalized counters kept by the store.
type SessionStats struct {
	Participants int `json:"participants"`
	TotalVotes   int `json:"totalVotes"`
}

// Session is one collaborative creation round.
type Session struct {
	ID      uuid.UUID     `json:"id"`
	HostID  uuid.UUID     `json:"hostId"`
	Title   string        `json:"title"`
	Status  SessionStatus `json:"status"`
	Stage   int           `json:"stage"`
	// PreviousStatus remembers the pre-pause status; empty unless paused.
	PreviousStatus SessionStatus   `json:"previousStatus,omitempty"`
	Live           bool            `json:"live"`
	Settings       SessionSettings `json:"settings"`
	Results        SessionResults  `json:"results"`
	Stats          SessionStats    `json:"stats"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// --- Submission ---

// SubmissionStatus is the moderation/outcome state of a submission.
type SubmissionStatus string

const (
	SubmissionPending  SubmissionStatus = "pending"
	SubmissionApproved SubmissionStatus = "approved"
	SubmissionWinner   SubmissionStatus = "winner"
	SubmissionRunnerUp SubmissionStatus = "runnerUp"
	SubmissionRejected SubmissionStatus = "rejected"
)

// Submission is a lyrics or song candidate owned by one session.
type Submission struct {
	ID        uuid.UUID        `json:"id"`
	SessionID uuid.UUID        `json:"sessionId"`
	AuthorID  uuid.UUID        `json:"authorId"`
	Kind      TargetType       `json:"kind"`
	Content   string           `json:"content"`
	Votes     int              `json:"votes"`
	// WeightedVoteScore is maintained additively on vote add/remove only;
	// full rescans happen exclusively on the audit re-finalize path.
	WeightedVoteScore float64          `json:"weightedVoteScore"`
	VoterIDs          []uuid.UUID      `json:"voterIds"`
	Status            SubmissionStatus `json:"status"`
	Ranking           int              `json:"ranking"`
	CreatedAt         time.Time        `json:"createdAt"`
}

// --- Vote ---

// TargetType identifies what a vote is cast on.
type TargetType string

const (
	TargetLyrics TargetType = "lyrics"
	TargetSong   TargetType = "song"
)

// Vote is one immutable record per (user, target, targetType).
// Weight is snapshotted at cast time; reputation changes never revise it.
type Vote struct {
	ID         uuid.UUID  `json:"id"`
	UserID     uuid.UUID  `json:"userId"`
	TargetID   uuid.UUID  `json:"targetId"`
	TargetType TargetType `json:"targetType"`
	Weight     float64    `json:"weight"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// --- Voting rounds ---

// RoundStatus is the lifecycle of an ephemeral in-session election.
type RoundStatus string

const (
	RoundPending RoundStatus = "pending"
	RoundActive  RoundStatus = "active"
	RoundEnded   RoundStatus = "ended"
)

// RoundOption is one choice in a voting round. Declaration order matters:
// the first-declared option wins ties.
type RoundOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Votes int    `json:"votes"`
}

// VotingRound is a short-lived single-question election inside a live session.
type VotingRound struct {
	ID             uuid.UUID     `json:"id"`
	SessionID      uuid.UUID     `json:"sessionId"`
	Number         int           `json:"number"`
	Question       string        `json:"question"`
	Options        []RoundOption `json:"options"`
	Status         RoundStatus   `json:"status"`
	VoterIDs       []uuid.UUID   `json:"voterIds"`
	WinnerOptionID string        `json:"winnerOptionId,omitempty"`
	StartedAt      time.Time     `json:"startedAt"`
	EndsAt         time.Time     `json:"endsAt"`
}

// --- Store sentinels ---

var (
	// ErrNotFound is returned by stores when the requested entity is absent.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateVote is returned by the vote store's conditional insert
	// when a vote for the same (user, targetType, targetId) already exists.
	ErrDuplicateVote = errors.New("duplicate vote")
)

// --- Store interfaces ---

// SessionRepository is point lookup and persistence for sessions.
type SessionRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*Session, error)
	Create(ctx context.Context, s *Session) error
	Update(ctx context.Context, s *Session) error
}

// SubmissionRepository persists submissions and their vote aggregates.
type SubmissionRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*Submission, error)
	ListBySession(ctx context.Context, sessionID uuid.UUID, kind TargetType) ([]*Submission, error)
	Create(ctx context.Context, sub *Submission) error
	Update(ctx context.Context, sub *Submission) error
	// AddVote atomically applies the aggregate side of a cast vote:
	// votes+1, weightedVoteScore+weight, voterIds+=userID.
	AddVote(ctx context.Context, id uuid.UUID, userID uuid.UUID, weight float64) error
	// RemoveVote is the exact inverse of AddVote.
	RemoveVote(ctx context.Context, id uuid.UUID, userID uuid.UUID, weight float64) error
}

// VoteRepository persists individual vote records. Insert must be a
// conditional insert backed by a uniqueness guarantee on
// (userID, targetType, targetID): concurrent inserts for the same key
// yield exactly one success, the rest ErrDuplicateVote.
type VoteRepository interface {
	Insert(ctx context.Context, v *Vote) error
	Get(ctx context.Context, userID, targetID uuid.UUID, targetType TargetType) (*Vote, error)
	Delete(ctx context.Context, userID, targetID uuid.UUID, targetType TargetType) error
	ListByTarget(ctx context.Context, targetID uuid.UUID, targetType TargetType) ([]*Vote, error)
}

// RoundStore keeps ephemeral voting rounds. Rounds do not outlive a
// session and may live in volatile storage.
type RoundStore interface {
	Get(ctx context.Context, sessionID uuid.UUID, number int) (*VotingRound, error)
	ActiveRound(ctx context.Context, sessionID uuid.UUID) (*VotingRound, error)
	LatestNumber(ctx context.Context, sessionID uuid.UUID) (int, error)
	Save(ctx context.Context, round *VotingRound) error
	Delete(ctx context.Context, sessionID uuid.UUID) error
}

// BudgetStore tracks per-(session, user) spent vote weight or tokens.
// Removing a vote refunds its value with a negative delta.
type BudgetStore interface {
	Spent(ctx context.Context, sessionID, userID uuid.UUID) (int, error)
	AddSpent(ctx context.Context, sessionID, userID uuid.UUID, delta int) error
}

// --- Fanout ---

// Publisher is the real-time fanout channel: fire-and-forget, at-most-once.
// The engine never retries failed publishes and never waits for acks.
type Publisher interface {
	Publish(channelKey string, event string, payload any)
}
