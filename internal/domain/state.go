// Package domain contains core domain types for the eduflow assistant.
package domain

// Step is a position in the fixed onboarding/delivery sequence.
// The fractional steps are capture-only: they record a single piece of
// free text and never reach the completion service.
type Step float64

const (
	StepIcebreaker     Step = 1
	StepDiscovery      Step = 2
	StepRoleCapture    Step = 2.5
	StepDeepDive       Step = 3
	StepProblemCapture Step = 3.5
	StepPlan           Step = 4
	StepMeeting        Step = 5
	StepDeliver        Step = 6
)

// Valid reports whether s is one of the known steps.
func (s Step) Valid() bool {
	switch s {
	case StepIcebreaker, StepDiscovery, StepRoleCapture, StepDeepDive,
		StepProblemCapture, StepPlan, StepMeeting, StepDeliver:
		return true
	}
	return false
}

// CaptureOnly reports whether s is a capture-only sub-step.
func (s Step) CaptureOnly() bool {
	return s == StepRoleCapture || s == StepProblemCapture
}

// Goal is an explicit override that selects assistant behavior
// independent of the numeric step. The empty value means no override.
type Goal string

const (
	GoalNone Goal = ""
	// GoalConversation is the explicit spelling of "no override" that
	// clients may persist; routing treats it exactly like GoalNone.
	GoalConversation    Goal = "conversation"
	GoalDeepDive        Goal = "deep_dive"
	GoalGeneratePlan    Goal = "generate_plan"
	GoalMeetingNudge    Goal = "meeting_nudge"
	GoalMeetingQA       Goal = "meeting_qa"
	GoalDeliverResource Goal = "deliver_resource"
)

// ResourceType is the category of deliverable the assistant produces.
type ResourceType string

const (
	ResourceLessonPlan ResourceType = "lesson_plan"
	ResourceRubric     ResourceType = "rubric"
	ResourceQuiz       ResourceType = "quiz"
	ResourceEmail      ResourceType = "email"
	ResourceSummary    ResourceType = "summary"
)

// Valid reports whether rt is a known resource type.
func (rt ResourceType) Valid() bool {
	switch rt {
	case ResourceLessonPlan, ResourceRubric, ResourceQuiz, ResourceEmail, ResourceSummary:
		return true
	}
	return false
}

// Profile holds the user details accumulated during onboarding.
type Profile struct {
	Name       string   `json:"name,omitempty"`
	Role       string   `json:"role,omitempty"`
	GradeLevel string   `json:"grade_level,omitempty"`
	Classes    []string `json:"classes,omitempty"`
}

// ConversationState is the single mutable session record the engine
// operates on. History is append-only; insertion order is the sort order.
type ConversationState struct {
	Step              Step         `json:"step"`
	Goal              Goal         `json:"goal,omitempty"`
	Profile           Profile      `json:"profile"`
	SelectedChallenge string       `json:"selected_challenge,omitempty"`
	ResourceType      ResourceType `json:"resource_type,omitempty"`
	MeetingBooked     bool         `json:"meeting_booked"`
	History           []Message    `json:"history"`
}

// NewConversationState returns a fresh session at step 1 with empty history.
func NewConversationState() *ConversationState {
	return &ConversationState{Step: StepIcebreaker}
}

// Append adds a message to the history.
func (s *ConversationState) Append(msgs ...Message) {
	s.History = append(s.History, msgs...)
}

// AdvanceTo moves the session forward to step. The step only ever
// advances or holds; a lower target is ignored.
func (s *ConversationState) AdvanceTo(step Step) {
	if step > s.Step {
		s.Step = step
	}
}

// BookMeeting flips the meeting gate. The transition is one-way: once
// booked, a session stays booked until reset.
func (s *ConversationState) BookMeeting() bool {
	if s.MeetingBooked {
		return false
	}
	s.MeetingBooked = true
	return true
}

// CanDeliverResource is the hard business gate: the final resource may
// only be generated at step 6 (or under an explicit deliver_resource
// goal) after the meeting has been booked.
func (s *ConversationState) CanDeliverResource() bool {
	return (s.Step == StepDeliver || s.Goal == GoalDeliverResource) && s.MeetingBooked
}
