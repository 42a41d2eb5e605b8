package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ActivityKind distinguishes the event streams recorded per session.
type ActivityKind string

const (
	ActivityMessage  ActivityKind = "message"
	ActivityReaction ActivityKind = "reaction"
)

// ViewerSample is one point-in-time viewer count reading.
type ViewerSample struct {
	Count int       `json:"count"`
	At    time.Time `json:"at"`
}

// EngagementSnapshot is the derived live-session engagement state.
type EngagementSnapshot struct {
	SessionID      uuid.UUID      `json:"sessionId"`
	CurrentViewers int            `json:"currentViewers"`
	PeakViewers    int            `json:"peakViewers"`
	HypeLevel      int            `json:"hypeLevel"`
	Reactions      map[string]int `json:"reactions"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// Highlight marks a hype milestone crossing for later replay.
type Highlight struct {
	SessionID uuid.UUID `json:"sessionId"`
	HypeLevel int       `json:"hypeLevel"`
	Threshold int       `json:"threshold"`
	At        time.Time `json:"at"`
}

// ActivityStore records raw engagement events and answers trailing-window
// queries over them. Writers never block readers: recording an event and
// counting a window are independent operations, so the hype tick can run
// concurrently with chat and reaction writes.
type ActivityStore interface {
	RecordMessage(ctx context.Context, sessionID uuid.UUID, at time.Time) error
	RecordReaction(ctx context.Context, sessionID uuid.UUID, reactionType string, at time.Time) error
	CountMessages(ctx context.Context, sessionID uuid.UUID, since time.Time) (int, error)
	CountReactions(ctx context.Context, sessionID uuid.UUID, since time.Time) (int, error)
	RecordViewerSample(ctx context.Context, sessionID uuid.UUID, sample ViewerSample) error
	ViewerSamples(ctx context.Context, sessionID uuid.UUID, since time.Time) ([]ViewerSample, error)
	// Purge discards all recorded activity for a session, including viewer
	// trend history, so a restarted session starts clean.
	Purge(ctx context.Context, sessionID uuid.UUID) error
}

// EngagementRepository persists derived engagement state and highlights.
type EngagementRepository interface {
	Get(ctx context.Context, sessionID uuid.UUID) (*EngagementSnapshot, error)
	Save(ctx context.Context, snap *EngagementSnapshot) error
	AppendHighlight(ctx context.Context, h *Highlight) error
	ListHighlights(ctx context.Context, sessionID uuid.UUID) ([]*Highlight, error)
}

// RateLimitStore remembers the most recent qualifying event per subject key.
// LastEvent returns the zero time when the subject has never acted.
type RateLimitStore interface {
	LastEvent(ctx context.Context, subjectKey string) (time.Time, error)
	SetLastEvent(ctx context.Context, subjectKey string, at time.Time) error
}
