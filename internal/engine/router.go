package engine

import (
	"errors"
	"strings"

	"github.com/eduflowhq/eduflow/internal/domain"
)

// ErrMeetingRequired is returned when resource delivery is attempted
// before the meeting has been booked. This is a contract violation by
// the caller, not a user-facing failure: the router refuses to
// dispatch, so no completion request is ever issued past the gate.
var ErrMeetingRequired = errors.New("resource delivery requires a booked meeting")

// EventType identifies what the user (or an external collaborator) did.
type EventType string

const (
	EventSessionStart    EventType = "session_start"
	EventUserMessage     EventType = "user_message"
	EventPillSelected    EventType = "pill_selected"
	EventRoleCaptured    EventType = "role_captured"
	EventProblemCaptured EventType = "problem_captured"
	EventMeetingBooked   EventType = "meeting_booked"
)

// Event is one input to the state machine.
type Event struct {
	Type EventType
	Text string
}

// Action is the routing decision for one event: either call the
// completion service expecting a particular output shape, or emit a
// fixed message, plus the state transition to apply afterwards.
type Action struct {
	// Generate requests a completion call expecting Expect's shape.
	Generate bool
	Expect   domain.Kind

	// Fixed* describe an engine-authored message emitted without any
	// completion call (the step-5 nudge, capture acknowledgments).
	FixedContent string
	FixedKind    domain.Kind
	FixedPayload domain.Payload

	// AtStep tags the produced message with the step whose behavior
	// ran, which can differ from the session's stored step.
	AtStep domain.Step

	// Transition applied after the message is produced.
	NextStep          domain.Step
	NextGoal          domain.Goal
	SetChallenge      string
	SetRole           string
	SetResourceType   domain.ResourceType
	RecordUserMessage bool
}

// meeting nudge copy. Not service-authored: the nudge must read the
// same for every user, so it is fixed here instead of generated.
const (
	meetingNudgeContent = "Before I hand over the finished deliverable, let's grab 15 minutes with an onboarding specialist to set you up properly. You can pick a slot right here, or ask me anything about the call first."
	roleAckContent      = "Got it, thanks! That helps me tailor things. So, what's been taking up most of your time lately?"
	problemAckContent   = "Thanks for spelling that out. Let me make sure I understand the shape of it."
)

var meetingQuickReplies = []string{
	"What happens on the call?",
	"How long does it take?",
	"Can I reschedule later?",
}

// Route is the single authoritative implementation of the step/goal
// precedence table. It is pure: it never touches storage or the
// network, and never mutates state.
func Route(state *domain.ConversationState, ev Event) (Action, error) {
	switch ev.Type {
	case EventSessionStart:
		return Action{
			Generate: true,
			Expect:   domain.KindPlain,
			AtStep:   domain.StepIcebreaker,
			NextStep: domain.StepDiscovery,
		}, nil

	case EventMeetingBooked:
		// The gate flips before routing, so delivery is checked against
		// the booked state.
		if !state.MeetingBooked {
			return Action{}, ErrMeetingRequired
		}
		return Action{
			Generate: true,
			Expect:   domain.KindFinalResource,
			AtStep:   domain.StepDeliver,
			NextStep: domain.StepDeliver,
			NextGoal: domain.GoalDeliverResource,
		}, nil

	case EventRoleCaptured:
		return Action{
			FixedContent:      roleAckContent,
			FixedKind:         domain.KindPlain,
			AtStep:            domain.StepRoleCapture,
			NextStep:          domain.StepDiscovery,
			SetRole:           strings.TrimSpace(ev.Text),
			RecordUserMessage: true,
		}, nil

	case EventProblemCaptured:
		return Action{
			FixedContent:      problemAckContent,
			FixedKind:         domain.KindPlain,
			AtStep:            domain.StepProblemCapture,
			NextStep:          domain.StepDiscovery,
			SetChallenge:      strings.TrimSpace(ev.Text),
			RecordUserMessage: true,
		}, nil

	case EventPillSelected:
		return Action{
			Generate:          true,
			Expect:            domain.KindDeepDive,
			AtStep:            domain.StepDeepDive,
			NextStep:          domain.StepPlan,
			NextGoal:          domain.GoalGeneratePlan,
			SetChallenge:      strings.TrimSpace(ev.Text),
			RecordUserMessage: true,
		}, nil

	case EventUserMessage:
		return routeUserMessage(state, ev)
	}

	return Action{}, errors.New("unknown event type " + string(ev.Type))
}

// routeUserMessage applies the goal-over-step precedence rules for an
// ordinary user message.
func routeUserMessage(state *domain.ConversationState, ev Event) (Action, error) {
	// Goal overrides step when present.
	if state.Goal == domain.GoalDeliverResource || state.Step == domain.StepDeliver {
		if !state.CanDeliverResource() {
			return Action{}, ErrMeetingRequired
		}
		return Action{
			Generate:          true,
			Expect:            domain.KindFinalResource,
			AtStep:            domain.StepDeliver,
			NextStep:          domain.StepDeliver,
			NextGoal:          domain.GoalDeliverResource,
			RecordUserMessage: true,
		}, nil
	}

	if state.Goal == domain.GoalGeneratePlan || state.Step == domain.StepPlan {
		return Action{
			Generate:          true,
			Expect:            domain.KindPlan,
			AtStep:            domain.StepPlan,
			NextStep:          domain.StepMeeting,
			NextGoal:          domain.GoalMeetingNudge,
			RecordUserMessage: true,
		}, nil
	}

	if state.Goal == domain.GoalMeetingNudge {
		// Fixed nudge; subsequent free text becomes scheduling Q&A.
		return Action{
			FixedContent:      meetingNudgeContent,
			FixedKind:         domain.KindMeetingNudge,
			FixedPayload:      &domain.MeetingNudge{QuickReplies: meetingQuickReplies},
			AtStep:            domain.StepMeeting,
			NextStep:          domain.StepMeeting,
			NextGoal:          domain.GoalMeetingQA,
			RecordUserMessage: true,
		}, nil
	}

	if state.Goal == domain.GoalMeetingQA || state.Step == domain.StepMeeting {
		return Action{
			Generate:          true,
			Expect:            domain.KindMeetingQA,
			AtStep:            domain.StepMeeting,
			NextStep:          domain.StepMeeting,
			NextGoal:          domain.GoalMeetingQA,
			RecordUserMessage: true,
		}, nil
	}

	switch state.Step {
	case domain.StepIcebreaker, domain.StepDiscovery, domain.StepRoleCapture:
		return Action{
			Generate:          true,
			Expect:            domain.KindProblemDiscovery,
			AtStep:            domain.StepDiscovery,
			NextStep:          domain.StepDeepDive,
			RecordUserMessage: true,
		}, nil

	case domain.StepDeepDive, domain.StepProblemCapture:
		return routeStepThree(state, ev)
	}

	return Action{}, errors.New("no route for step")
}

// routeStepThree implements the step-3 branch table. The branches are
// mutually exclusive and evaluated in priority order; first match wins.
func routeStepThree(state *domain.ConversationState, ev Event) (Action, error) {
	// Branch 1: a selected challenge (or explicit deep-dive goal)
	// means targeted questions plus a soft meeting hint.
	if state.SelectedChallenge != "" || state.Goal == domain.GoalDeepDive {
		return Action{
			Generate:          true,
			Expect:            domain.KindDeepDive,
			AtStep:            domain.StepDeepDive,
			NextStep:          domain.StepPlan,
			NextGoal:          domain.GoalGeneratePlan,
			RecordUserMessage: true,
		}, nil
	}

	// Branch 2: "create/make/generate" plus a content keyword skips
	// further questioning and generates directly.
	if isDirectGeneration(ev.Text) {
		return Action{
			Generate:          true,
			Expect:            domain.KindGeneratedContent,
			AtStep:            domain.StepDeepDive,
			NextStep:          domain.StepDeepDive,
			SetResourceType:   ClassifyResource(ev.Text),
			RecordUserMessage: true,
		}, nil
	}

	// Branch 3: enough back-and-forth; give advice or content instead
	// of more questions.
	if len(state.History) >= 6 {
		return Action{
			Generate:          true,
			Expect:            domain.KindGeneratedContent,
			AtStep:            domain.StepDeepDive,
			NextStep:          domain.StepDeepDive,
			RecordUserMessage: true,
		}, nil
	}

	// Default: 1-2 clarifying questions.
	return Action{
		Generate:          true,
		Expect:            domain.KindMultiQuestion,
		AtStep:            domain.StepDeepDive,
		NextStep:          domain.StepDeepDive,
		RecordUserMessage: true,
	}, nil
}

var generationVerbs = []string{"create", "make", "generate", "write", "draft"}

func isDirectGeneration(text string) bool {
	lower := strings.ToLower(text)
	hasVerb := false
	for _, v := range generationVerbs {
		if strings.Contains(lower, v) {
			hasVerb = true
			break
		}
	}
	return hasVerb && mentionsContent(lower)
}
