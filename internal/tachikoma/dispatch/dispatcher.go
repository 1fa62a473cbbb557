package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bdobrica/Tachikoma/common/trace"
	"github.com/bdobrica/Tachikoma/internal/tachikoma/nlp"
	"github.com/bdobrica/Tachikoma/internal/tachikoma/qna"
	"github.com/bdobrica/Tachikoma/internal/tachikoma/session"
)

// Greeting is sent when a user joins a conversation.
const Greeting = "Hello, this is Tachikoma! How are you today?"

// Farewell acknowledges a terminated session. It is the only outbound
// message of a termination turn.
const Farewell = "Take care! Your session has been closed."

// AnswerService is the open-domain responder collaborator.
type AnswerService interface {
	Answer(ctx context.Context, text string) ([]qna.Candidate, error)
}

// TurnRecorder appends and persists one record per classified turn.
type TurnRecorder interface {
	Record(ctx context.Context, conversationID, userID, utterance string, c *nlp.Classification) (session.InteractionRecord, error)
}

// SummaryUpserter merges a session summary into the durable store.
type SummaryUpserter interface {
	Upsert(ctx context.Context, s session.Summary) error
}

// PresenceMarker toggles a user profile's active flag.
type PresenceMarker interface {
	SetActive(ctx context.Context, userID string, active bool) error
}

// Reply is the outbound effect of a turn: at most one message, plus the
// finish affordance on non-termination turns. Rendering the affordance is
// the channel's business; the dispatcher only carries it as data.
type Reply struct {
	Text         string
	FinishAction bool
	SessionEnded bool
}

// Dispatcher owns the turn pipeline and the per-conversation serialization
// that keeps at most one turn in flight per conversation. Channels deliver
// events concurrently (and may retry); without this lock concurrent appends
// and finalization on the same session would corrupt the aggregate.
type Dispatcher struct {
	router   *Router
	answers  AnswerService
	recorder TurnRecorder
	tracker  *session.Tracker
	merger   SummaryUpserter
	presence PresenceMarker
	logger   *slog.Logger

	mu    sync.Mutex
	convs map[string]*sync.Mutex
}

// NewDispatcher wires the turn pipeline. If logger is nil, the default slog
// logger is used.
func NewDispatcher(router *Router, answers AnswerService, recorder TurnRecorder, tracker *session.Tracker, merger SummaryUpserter, presence PresenceMarker, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		router:   router,
		answers:  answers,
		recorder: recorder,
		tracker:  tracker,
		merger:   merger,
		presence: presence,
		logger:   logger,
		convs:    make(map[string]*sync.Mutex),
	}
}

// HandleJoin opens the session for a conversation and marks the user's
// profile active. Presence is best-effort — a store hiccup must not cost the
// user their greeting.
func (d *Dispatcher) HandleJoin(ctx context.Context, conversationID, userID string) Reply {
	d.tracker.Open(conversationID)

	if err := d.presence.SetActive(ctx, userID, true); err != nil {
		d.logger.Warn("presence activation failed", "user_id", userID, "err", err)
	}

	d.logger.Info("session opened", "conversation_id", conversationID, "user_id", userID)
	return Reply{Text: Greeting, FinishAction: true}
}

// HandleTurn processes one inbound turn to completion: route, record,
// answer — or, for the termination signal, reduce-merge-clear. Classifier
// and store failures abort the turn and propagate; side effects already
// applied (the in-memory append, a persisted interaction record) stay.
func (d *Dispatcher) HandleTurn(ctx context.Context, ev TurnEvent) (Reply, error) {
	lock := d.conversationLock(ev.ConversationID)
	lock.Lock()
	defer lock.Unlock()

	// Each turn gets a trace ID so its classify/record/answer sub-operations
	// correlate in the logs.
	ctx = trace.WithTraceID(ctx, trace.GenerateID())

	decision, err := d.router.Route(ctx, ev)
	if err != nil {
		return Reply{}, err
	}

	if decision.Kind == Terminate {
		return d.finishSession(ctx, ev)
	}

	if _, err := d.recorder.Record(ctx, ev.ConversationID, ev.UserID, ev.Text, decision.Classification); err != nil {
		return Reply{}, err
	}

	if decision.RecordStructured {
		d.logger.Info("structured intent",
			"trace_id", trace.FromContext(ctx),
			"conversation_id", ev.ConversationID,
			"intent", decision.Classification.Intent,
			"score", decision.Classification.Score,
			"entities", len(decision.Classification.Entities),
		)
	}

	candidates, err := d.answers.Answer(ctx, ev.Text)
	if err != nil {
		return Reply{}, fmt.Errorf("dispatch: answer lookup: %w", err)
	}

	return Reply{Text: qna.Top(candidates), FinishAction: true}, nil
}

// finishSession reduces the session log into its summary, merges it, marks
// the user inactive, and clears the session's working memory. An empty
// session writes nothing and clears silently. Runs with the conversation
// lock held.
func (d *Dispatcher) finishSession(ctx context.Context, ev TurnEvent) (Reply, error) {
	records, _ := d.tracker.Snapshot(ev.ConversationID)

	if summary, ok := session.Reduce(records, ev.UserID); ok {
		if err := d.merger.Upsert(ctx, summary); err != nil {
			return Reply{}, err
		}
	} else {
		d.logger.Debug("empty session, nothing to summarise",
			"conversation_id", ev.ConversationID)
	}

	if err := d.presence.SetActive(ctx, ev.UserID, false); err != nil {
		d.logger.Warn("presence deactivation failed", "user_id", ev.UserID, "err", err)
	}

	d.tracker.Clear(ev.ConversationID)

	d.logger.Info("session closed",
		"trace_id", trace.FromContext(ctx),
		"conversation_id", ev.ConversationID,
		"user_id", ev.UserID,
		"turns", len(records),
	)

	return Reply{Text: Farewell, SessionEnded: true}, nil
}

// conversationLock returns the serialization lock for a conversation,
// creating it on first use.
func (d *Dispatcher) conversationLock(conversationID string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()

	lock, ok := d.convs[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		d.convs[conversationID] = lock
	}
	return lock
}
