package dispatch

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/bdobrica/Tachikoma/internal/tachikoma/intent"
	"github.com/bdobrica/Tachikoma/internal/tachikoma/nlp"
	"github.com/bdobrica/Tachikoma/internal/tachikoma/qna"
	"github.com/bdobrica/Tachikoma/internal/tachikoma/session"
)

type stubClassifier struct {
	result *nlp.Classification
	err    error
	calls  int
}

func (s *stubClassifier) Classify(_ context.Context, _ string) (*nlp.Classification, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

type stubAnswers struct {
	candidates []qna.Candidate
	err        error
	calls      int
}

func (s *stubAnswers) Answer(_ context.Context, _ string) ([]qna.Candidate, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.candidates, nil
}

// memoryRecorder mirrors the archive recorder's append behaviour without a
// database: it builds the record from the default intent table and appends
// it to the tracker.
type memoryRecorder struct {
	table   *intent.Table
	tracker *session.Tracker
	err     error
	calls   int
}

func (m *memoryRecorder) Record(_ context.Context, conversationID, userID, utterance string, c *nlp.Classification) (session.InteractionRecord, error) {
	m.calls++
	if m.err != nil {
		return session.InteractionRecord{}, m.err
	}
	rec := session.InteractionRecord{
		Utterance: utterance,
		Intent:    c.Intent,
		Score:     c.Score,
		Intensity: m.table.Weight(c.Intent),
		UserID:    userID,
	}
	m.tracker.Append(conversationID, rec)
	return rec, nil
}

type stubMerger struct {
	summaries []session.Summary
	err       error
}

func (s *stubMerger) Upsert(_ context.Context, summary session.Summary) error {
	if s.err != nil {
		return s.err
	}
	s.summaries = append(s.summaries, summary)
	return nil
}

type presenceCall struct {
	userID string
	active bool
}

type stubPresence struct {
	calls []presenceCall
	err   error
}

func (s *stubPresence) SetActive(_ context.Context, userID string, active bool) error {
	s.calls = append(s.calls, presenceCall{userID: userID, active: active})
	return s.err
}

type fixture struct {
	classifier *stubClassifier
	answers    *stubAnswers
	recorder   *memoryRecorder
	tracker    *session.Tracker
	merger     *stubMerger
	presence   *stubPresence
	dispatcher *Dispatcher
}

func newFixture(classifier *stubClassifier, answers *stubAnswers) *fixture {
	tracker := session.NewTracker()
	recorder := &memoryRecorder{table: intent.Default(), tracker: tracker}
	merger := &stubMerger{}
	presence := &stubPresence{}
	return &fixture{
		classifier: classifier,
		answers:    answers,
		recorder:   recorder,
		tracker:    tracker,
		merger:     merger,
		presence:   presence,
		dispatcher: NewDispatcher(NewRouter(classifier), answers, recorder, tracker, merger, presence, nil),
	}
}

func TestHandleJoin(t *testing.T) {
	f := newFixture(&stubClassifier{}, &stubAnswers{})

	reply := f.dispatcher.HandleJoin(context.Background(), "conv1", "u1")

	if reply.Text != Greeting {
		t.Errorf("reply = %q, want greeting", reply.Text)
	}
	if !reply.FinishAction {
		t.Error("join reply should carry the finish affordance")
	}
	if _, ok := f.tracker.Snapshot("conv1"); !ok {
		t.Error("expected session to be opened")
	}
	if len(f.presence.calls) != 1 || !f.presence.calls[0].active {
		t.Errorf("presence calls = %+v, want one activation", f.presence.calls)
	}
}

func TestHandleJoin_PresenceFailureIsBestEffort(t *testing.T) {
	f := newFixture(&stubClassifier{}, &stubAnswers{})
	f.presence.err = errors.New("store down")

	reply := f.dispatcher.HandleJoin(context.Background(), "conv1", "u1")
	if reply.Text != Greeting {
		t.Errorf("reply = %q despite presence failure, want greeting", reply.Text)
	}
}

func TestHandleTurn_RecordsAndAnswers(t *testing.T) {
	classifier := &stubClassifier{result: &nlp.Classification{Intent: "mood.anxious", Score: 0.9}}
	answers := &stubAnswers{candidates: []qna.Candidate{
		{Answer: "Try a breathing exercise.", Score: 0.8},
		{Answer: "See the guide.", Score: 0.3},
	}}
	f := newFixture(classifier, answers)

	reply, err := f.dispatcher.HandleTurn(context.Background(), TurnEvent{
		Text: "I'm anxious about tomorrow", ConversationID: "conv1", UserID: "u1",
	})
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}

	if classifier.calls != 1 {
		t.Errorf("classifier calls = %d, want 1", classifier.calls)
	}
	if f.recorder.calls != 1 {
		t.Errorf("recorder calls = %d, want 1", f.recorder.calls)
	}
	// The answer lookup fires even on a confident structured match.
	if answers.calls != 1 {
		t.Errorf("answer calls = %d, want 1", answers.calls)
	}
	if reply.Text != "Try a breathing exercise." {
		t.Errorf("reply = %q, want top answer", reply.Text)
	}
	if !reply.FinishAction {
		t.Error("non-termination reply should carry the finish affordance")
	}
	if reply.SessionEnded {
		t.Error("non-termination reply must not end the session")
	}
}

func TestHandleTurn_NoAnswerFallback(t *testing.T) {
	classifier := &stubClassifier{result: &nlp.Classification{Intent: "qna.general", Score: 0.4}}
	f := newFixture(classifier, &stubAnswers{})

	reply, err := f.dispatcher.HandleTurn(context.Background(), TurnEvent{
		Text: "what is the meaning of everything", ConversationID: "conv1", UserID: "u1",
	})
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if reply.Text != qna.NoAnswerMessage {
		t.Errorf("reply = %q, want the no-answer fallback", reply.Text)
	}
}

func TestHandleTurn_ClassifierFailureIsFatal(t *testing.T) {
	wantErr := errors.New("model offline")
	classifier := &stubClassifier{err: wantErr}
	f := newFixture(classifier, &stubAnswers{})

	_, err := f.dispatcher.HandleTurn(context.Background(), TurnEvent{
		Text: "hello", ConversationID: "conv1", UserID: "u1",
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected classifier failure to propagate, got %v", err)
	}
	if f.recorder.calls != 0 {
		t.Error("nothing must be recorded when classification fails")
	}
}

func TestHandleTurn_RecorderFailureIsFatal(t *testing.T) {
	classifier := &stubClassifier{result: &nlp.Classification{Intent: "mood.low", Score: 0.7}}
	answers := &stubAnswers{}
	f := newFixture(classifier, answers)
	f.recorder.err = errors.New("disk full")

	_, err := f.dispatcher.HandleTurn(context.Background(), TurnEvent{
		Text: "hello", ConversationID: "conv1", UserID: "u1",
	})
	if err == nil {
		t.Fatal("expected recorder failure to propagate")
	}
	if answers.calls != 0 {
		t.Error("answer lookup must not run after a failed record")
	}
}

func TestHandleTurn_TerminationByKeyword(t *testing.T) {
	classifier := &stubClassifier{result: &nlp.Classification{Intent: "mood.positive", Score: 0.9}}
	answers := &stubAnswers{candidates: []qna.Candidate{{Answer: "ok", Score: 1}}}
	f := newFixture(classifier, answers)
	ctx := context.Background()

	f.dispatcher.HandleJoin(ctx, "conv1", "u1")
	if _, err := f.dispatcher.HandleTurn(ctx, TurnEvent{
		Text: "I feel great", ConversationID: "conv1", UserID: "u1",
	}); err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}

	classifierCallsBefore := classifier.calls
	reply, err := f.dispatcher.HandleTurn(ctx, TurnEvent{
		Text: "  Finish  ", ConversationID: "conv1", UserID: "u1",
	})
	if err != nil {
		t.Fatalf("HandleTurn(finish): %v", err)
	}

	if classifier.calls != classifierCallsBefore {
		t.Error("classifier must not run on the termination turn")
	}
	if reply.Text != Farewell || !reply.SessionEnded {
		t.Errorf("reply = %+v, want the farewell with SessionEnded", reply)
	}
	if reply.FinishAction {
		t.Error("termination reply must not offer the finish affordance")
	}

	if len(f.merger.summaries) != 1 {
		t.Fatalf("merger received %d summaries, want 1", len(f.merger.summaries))
	}
	got := f.merger.summaries[0]
	if got.UserID != "u1" {
		t.Errorf("summary UserID = %q", got.UserID)
	}
	if len(got.Keywords) != 1 || got.Keywords[0] != "I feel great" {
		t.Errorf("summary keywords = %v", got.Keywords)
	}

	// Session memory is cleared but the key survives.
	records, ok := f.tracker.Snapshot("conv1")
	if !ok {
		t.Fatal("conversation must still be known after termination")
	}
	if len(records) != 0 {
		t.Errorf("session log has %d records after termination, want 0", len(records))
	}

	// Presence: one activation at join, one deactivation at termination.
	if len(f.presence.calls) != 2 || f.presence.calls[1].active {
		t.Errorf("presence calls = %+v", f.presence.calls)
	}
}

func TestHandleTurn_TerminationByPostback(t *testing.T) {
	classifier := &stubClassifier{result: &nlp.Classification{Intent: "mood.low", Score: 0.8}}
	f := newFixture(classifier, &stubAnswers{})

	reply, err := f.dispatcher.HandleTurn(context.Background(), TurnEvent{
		Text: "this text is irrelevant", Postback: true, ConversationID: "conv1", UserID: "u1",
	})
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if classifier.calls != 0 {
		t.Error("classifier must not run for a postback termination")
	}
	if !reply.SessionEnded {
		t.Error("postback termination must end the session")
	}
}

func TestHandleTurn_EmptySessionTermination(t *testing.T) {
	f := newFixture(&stubClassifier{}, &stubAnswers{})
	ctx := context.Background()

	f.dispatcher.HandleJoin(ctx, "conv1", "u1")
	reply, err := f.dispatcher.HandleTurn(ctx, TurnEvent{
		Text: "finish", ConversationID: "conv1", UserID: "u1",
	})
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if !reply.SessionEnded {
		t.Error("empty-session termination must still acknowledge")
	}
	if len(f.merger.summaries) != 0 {
		t.Errorf("merger received %d summaries for an empty session, want 0", len(f.merger.summaries))
	}
}

func TestHandleTurn_AggregateAcrossTurns(t *testing.T) {
	answers := &stubAnswers{candidates: []qna.Candidate{{Answer: "ok", Score: 1}}}
	classifier := &stubClassifier{}
	f := newFixture(classifier, answers)
	ctx := context.Background()

	turns := []struct {
		text   string
		intent string
		score  float64
	}{
		{"I feel great", "mood.positive", 0.9},
		{"I can't cope anymore", "crisis.help", 0.5},
		{"thanks for listening", "mood.positive", 0.7},
	}
	for _, turn := range turns {
		classifier.result = &nlp.Classification{Intent: turn.intent, Score: turn.score}
		if _, err := f.dispatcher.HandleTurn(ctx, TurnEvent{
			Text: turn.text, ConversationID: "conv1", UserID: "u1",
		}); err != nil {
			t.Fatalf("HandleTurn(%q): %v", turn.text, err)
		}
	}

	if _, err := f.dispatcher.HandleTurn(ctx, TurnEvent{
		Text: "finish", ConversationID: "conv1", UserID: "u1",
	}); err != nil {
		t.Fatalf("HandleTurn(finish): %v", err)
	}

	if len(f.merger.summaries) != 1 {
		t.Fatalf("merger received %d summaries, want 1", len(f.merger.summaries))
	}
	got := f.merger.summaries[0]
	if want := 10.0 / 3.0; math.Abs(got.AvgIntensity-want) > 1e-9 {
		t.Errorf("AvgIntensity = %v, want %v", got.AvgIntensity, want)
	}
	if want := 0.7; math.Abs(got.AvgScore-want) > 1e-9 {
		t.Errorf("AvgScore = %v, want %v", got.AvgScore, want)
	}
	wantKeywords := []string{"I feel great", "I can't cope anymore", "thanks for listening"}
	for i, w := range wantKeywords {
		if got.Keywords[i] != w {
			t.Errorf("Keywords[%d] = %q, want %q", i, got.Keywords[i], w)
		}
	}
}

func TestTurnEvent_Terminal(t *testing.T) {
	tests := []struct {
		name string
		ev   TurnEvent
		want bool
	}{
		{"plain text", TurnEvent{Text: "hello"}, false},
		{"keyword", TurnEvent{Text: "finish"}, true},
		{"keyword upper case", TurnEvent{Text: "FINISH"}, true},
		{"keyword padded", TurnEvent{Text: "  finish \n"}, true},
		{"keyword embedded", TurnEvent{Text: "let's finish this later"}, false},
		{"postback", TurnEvent{Text: "anything", Postback: true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ev.Terminal(); got != tt.want {
				t.Errorf("Terminal() = %v, want %v", got, tt.want)
			}
		})
	}
}
