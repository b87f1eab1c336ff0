// ABOUTME: Turn Recorder persists exactly one turn per pipeline invocation
// ABOUTME: Writes run on a detached context so a caller disconnect cannot tear a save in half

package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/2389/querynox/internal/metrics"
	"github.com/2389/querynox/internal/store"
)

// DefaultSaveTimeout bounds a single commit when none is configured.
const DefaultSaveTimeout = 5 * time.Second

// Turn kinds, used for metrics.
const (
	TurnKindChat   = "chat"
	TurnKindSwitch = "switch"
)

// Recorder writes turns and bumps conversation activity.
type Recorder struct {
	store       TurnAppender
	saveTimeout time.Duration
	feed        *TurnFeed
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// NewRecorder creates a Recorder. feed may be nil.
func NewRecorder(s TurnAppender, saveTimeout time.Duration, feed *TurnFeed, m *metrics.Metrics, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	if saveTimeout <= 0 {
		saveTimeout = DefaultSaveTimeout
	}
	return &Recorder{
		store:       s,
		saveTimeout: saveTimeout,
		feed:        feed,
		metrics:     m,
		logger:      logger.With("component", "recorder"),
		now:         time.Now,
	}
}

// Recording is a single-use commit slot for one pipeline invocation.
type Recording struct {
	r              *Recorder
	conversationID string
	kind           string
	used           atomic.Bool
}

// Begin opens a recording for a chat turn in conversationID.
func (r *Recorder) Begin(conversationID string) *Recording {
	return &Recording{r: r, conversationID: conversationID, kind: TurnKindChat}
}

func (r *Recorder) beginSwitch(conversationID string) *Recording {
	return &Recording{r: r, conversationID: conversationID, kind: TurnKindSwitch}
}

// Commit persists turn and bumps the conversation's last activity. ID and
// CreatedAt are assigned when empty. Only the first call writes; later calls
// return ErrAlreadyRecorded, even if the first one failed.
func (rec *Recording) Commit(ctx context.Context, turn *store.Turn) error {
	if !rec.used.CompareAndSwap(false, true) {
		return ErrAlreadyRecorded
	}
	r := rec.r

	turn.ConversationID = rec.conversationID
	if turn.ID == "" {
		turn.ID = uuid.New().String()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = r.now().UTC()
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.saveTimeout)
	defer cancel()

	if err := r.store.AppendTurn(saveCtx, turn); err != nil {
		r.logger.Error("failed to record turn",
			"error", err,
			"conversation_id", turn.ConversationID,
			"turn_id", turn.ID)
		return fmt.Errorf("%w: appending turn: %w", ErrPersistence, err)
	}

	// The turn is durable at this point; a failed bump only leaves the
	// listing order stale.
	if err := r.store.TouchConversation(saveCtx, turn.ConversationID, turn.CreatedAt); err != nil {
		r.logger.Warn("failed to bump conversation activity",
			"error", err,
			"conversation_id", turn.ConversationID)
	}

	r.metrics.RecordTurn(rec.kind)
	r.logger.Debug("turn recorded",
		"conversation_id", turn.ConversationID,
		"turn_id", turn.ID,
		"seq", turn.Seq,
		"kind", rec.kind)

	if r.feed != nil {
		r.feed.Publish(turn)
	}
	return nil
}
