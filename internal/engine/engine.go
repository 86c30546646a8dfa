package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eduflowhq/eduflow/internal/domain"
	"github.com/eduflowhq/eduflow/internal/llm"
	"github.com/eduflowhq/eduflow/internal/store"
)

// ErrReplyPending is returned when a submission arrives while an
// earlier one for the same session is still awaiting its reply.
// Submissions are serialized per session; there are no sequence
// numbers and no overlapping generation requests.
var ErrReplyPending = errors.New("a reply is still pending for this session")

// Broadcaster pushes newly appended assistant messages to connected
// clients. A nil broadcaster disables push.
type Broadcaster interface {
	Broadcast(userID, sessionID string, msg domain.Message)
}

// Options configures the generation requests the engine issues.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Engine drives the guided conversation: it owns routing, prompt
// construction, the completion call, interpretation, and persistence.
type Engine struct {
	llm    llm.Client
	repo   store.Repository
	notify Broadcaster
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
}

// New creates an engine. notify may be nil.
func New(client llm.Client, repo store.Repository, notify Broadcaster, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		llm:      client,
		repo:     repo,
		notify:   notify,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
		inflight: make(map[string]struct{}),
	}
}

// StateView is the routing-relevant slice of session state returned to
// the UI after every operation.
type StateView struct {
	Step              domain.Step         `json:"step"`
	Goal              domain.Goal         `json:"goal,omitempty"`
	SelectedChallenge string              `json:"selected_challenge,omitempty"`
	ResourceType      domain.ResourceType `json:"resource_type,omitempty"`
	MeetingBooked     bool                `json:"meeting_booked"`
}

// Result is the outcome of one engine operation: the messages appended
// this turn plus the updated state.
type Result struct {
	Messages []domain.Message `json:"messages"`
	State    StateView        `json:"state"`
}

// Snapshot is the full session view used for rehydration on load.
type Snapshot struct {
	History []domain.Message `json:"history"`
	State   StateView        `json:"state"`
}

// Start returns the existing session, or creates a fresh one and
// generates the plain-text icebreaker.
func (e *Engine) Start(ctx context.Context, userID, sessionID string) (*Snapshot, error) {
	rec, err := e.repo.GetSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		return snapshot(rec.State), nil
	}

	if _, err := e.dispatch(ctx, userID, sessionID, Event{Type: EventSessionStart}); err != nil {
		return nil, err
	}
	rec, err = e.repo.GetSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("session vanished after start")
	}
	return snapshot(rec.State), nil
}

// Send handles an ordinary user message.
func (e *Engine) Send(ctx context.Context, userID, sessionID, text string) (*Result, error) {
	return e.dispatch(ctx, userID, sessionID, Event{Type: EventUserMessage, Text: text})
}

// SelectPill records the challenge pill the user tapped and runs the
// deep-dive step for it.
func (e *Engine) SelectPill(ctx context.Context, userID, sessionID, label string) (*Result, error) {
	return e.dispatch(ctx, userID, sessionID, Event{Type: EventPillSelected, Text: label})
}

// CaptureRole records a free-text role without calling the completion
// service.
func (e *Engine) CaptureRole(ctx context.Context, userID, sessionID, role string) (*Result, error) {
	return e.dispatch(ctx, userID, sessionID, Event{Type: EventRoleCaptured, Text: role})
}

// CaptureProblem records a free-text problem description without
// calling the completion service.
func (e *Engine) CaptureProblem(ctx context.Context, userID, sessionID, text string) (*Result, error) {
	return e.dispatch(ctx, userID, sessionID, Event{Type: EventProblemCaptured, Text: text})
}

// ConfirmMeeting flips the meeting gate and runs the delivery step.
// Confirming an already-booked session is a no-op.
func (e *Engine) ConfirmMeeting(ctx context.Context, userID, sessionID string) (*Result, error) {
	return e.dispatch(ctx, userID, sessionID, Event{Type: EventMeetingBooked})
}

// Reset atomically clears the session; the next load starts fresh.
func (e *Engine) Reset(ctx context.Context, userID, sessionID string) error {
	return e.repo.DeleteSession(ctx, userID, sessionID)
}

func (e *Engine) acquire(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inflight[key]; busy {
		return false
	}
	e.inflight[key] = struct{}{}
	return true
}

func (e *Engine) release(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inflight, key)
}

// dispatch is the single entry point for every state-mutating event.
//
//nolint:gocyclo // The event flow is kept inline so the order of
// route -> generate -> interpret -> persist stays readable.
func (e *Engine) dispatch(ctx context.Context, userID, sessionID string, ev Event) (*Result, error) {
	key := userID + ":" + sessionID
	if !e.acquire(key) {
		return nil, ErrReplyPending
	}
	defer e.release(key)

	rec, err := e.repo.GetSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	state := domain.NewConversationState()
	createdAt := e.now()
	if rec != nil {
		state = rec.State
		createdAt = rec.CreatedAt
	}

	if ev.Type == EventMeetingBooked {
		if !state.BookMeeting() {
			// Already booked; the gate flips at most once per session.
			return &Result{State: stateView(state)}, nil
		}
	}

	action, err := Route(state, ev)
	if err != nil {
		// Nothing is persisted on a refused dispatch; in particular
		// the completion service was never called.
		return nil, err
	}

	var turn []domain.Message
	if action.RecordUserMessage && ev.Text != "" {
		turn = append(turn, e.newUserMessage(ev.Text, state.Step))
	}

	var reply domain.Message
	if action.Generate {
		prompt := BuildPrompt(state, ev.Text, action.Expect)
		text, err := e.llm.Complete(ctx, llm.Request{
			Messages: []llm.ChatMessage{
				{Role: llm.RoleSystem, Content: prompt.System},
				{Role: llm.RoleUser, Content: prompt.User},
			},
			Model:       e.opts.Model,
			Temperature: e.opts.Temperature,
			MaxTokens:   e.opts.MaxTokens,
		})
		if err != nil {
			// State does not advance; the user may retry the same input.
			e.logger.Error("completion call failed",
				"user_id", userID, "session_id", sessionID, "step", float64(action.AtStep), "error", err)
			return nil, err
		}
		reply, err = Interpret(text, action.Expect, action.AtStep)
		if err != nil {
			e.logger.Error("completion reply unusable",
				"user_id", userID, "session_id", sessionID, "step", float64(action.AtStep), "error", err)
			return nil, err
		}
		if reply.Kind == domain.KindPlain && action.Expect != domain.KindPlain {
			e.logger.Warn("structured reply degraded to plain text",
				"user_id", userID, "session_id", sessionID, "expected", string(action.Expect))
		}
	} else {
		reply = e.newFixedMessage(action)
	}
	turn = append(turn, reply)

	applyTransition(state, action, reply)

	// Entering the meeting step emits the fixed nudge in the same turn
	// so the user is not left waiting for it.
	if state.Goal == domain.GoalMeetingNudge {
		nudge := e.newFixedMessage(Action{
			FixedContent: meetingNudgeContent,
			FixedKind:    domain.KindMeetingNudge,
			FixedPayload: &domain.MeetingNudge{QuickReplies: meetingQuickReplies},
			AtStep:       domain.StepMeeting,
		})
		turn = append(turn, nudge)
		state.Goal = domain.GoalMeetingQA
	}

	state.Append(turn...)

	if err := e.repo.PutSession(ctx, &store.SessionRecord{
		UserID:        userID,
		SessionID:     sessionID,
		SchemaVersion: store.SchemaVersion,
		State:         state,
		CreatedAt:     createdAt,
	}); err != nil {
		return nil, err
	}

	if e.notify != nil {
		for _, m := range turn {
			if m.Sender == domain.SenderAssistant {
				e.notify.Broadcast(userID, sessionID, m)
			}
		}
	}

	e.logger.Info("turn complete",
		"user_id", userID, "session_id", sessionID,
		"event", string(ev.Type), "step", float64(state.Step), "goal", string(state.Goal))

	return &Result{Messages: turn, State: stateView(state)}, nil
}

// applyTransition mutates state according to the routed action and the
// interpreted reply.
func applyTransition(state *domain.ConversationState, action Action, reply domain.Message) {
	if action.SetRole != "" {
		state.Profile.Role = action.SetRole
	}
	if action.SetChallenge != "" {
		state.SelectedChallenge = action.SetChallenge
	}
	if action.SetResourceType != "" {
		state.ResourceType = action.SetResourceType
	}
	if plan, ok := reply.Payload.(*domain.Plan); ok {
		state.ResourceType = plan.ResourceType
	}
	state.Goal = action.NextGoal
	state.AdvanceTo(action.NextStep)
}

func (e *Engine) newUserMessage(text string, step domain.Step) domain.Message {
	return domain.Message{
		ID:        uuid.NewString(),
		Sender:    domain.SenderUser,
		Timestamp: e.now().UTC(),
		Content:   text,
		Step:      step,
		Kind:      domain.KindPlain,
	}
}

func (e *Engine) newFixedMessage(action Action) domain.Message {
	return domain.Message{
		ID:        uuid.NewString(),
		Sender:    domain.SenderAssistant,
		Timestamp: e.now().UTC(),
		Content:   action.FixedContent,
		Step:      action.AtStep,
		Kind:      action.FixedKind,
		Payload:   action.FixedPayload,
	}
}

func stateView(state *domain.ConversationState) StateView {
	return StateView{
		Step:              state.Step,
		Goal:              state.Goal,
		SelectedChallenge: state.SelectedChallenge,
		ResourceType:      state.ResourceType,
		MeetingBooked:     state.MeetingBooked,
	}
}

func snapshot(state *domain.ConversationState) *Snapshot {
	return &Snapshot{History: state.History, State: stateView(state)}
}
