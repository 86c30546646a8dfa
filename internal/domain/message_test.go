package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_RoundTrip(t *testing.T) {
	ts := time.Date(2026, 8, 29, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		msg  Message
	}{
		{
			name: "plain without payload",
			msg: Message{
				ID: "m1", Sender: SenderAssistant, Timestamp: ts,
				Content: "Hey! What's been eating your time?",
				Step:    StepIcebreaker, Kind: KindPlain,
			},
		},
		{
			name: "problem discovery",
			msg: Message{
				ID: "m2", Sender: SenderAssistant, Timestamp: ts,
				Content: "That sounds like a lot.",
				Step:    StepDiscovery, Kind: KindProblemDiscovery,
				Payload: &ProblemDiscovery{ChallengeAreas: []ChallengeArea{
					{Area: "Grading", Question: "What takes the longest?", ExamplePills: []string{"Essays"}},
				}},
			},
		},
		{
			name: "deep dive at a fractional step",
			msg: Message{
				ID: "m3", Sender: SenderAssistant, Timestamp: ts,
				Content: "Let's dig in.",
				Step:    StepProblemCapture, Kind: KindDeepDive,
				Payload: &DeepDive{Questions: []string{"How many per week?"}, MeetingHint: "A call could help."},
			},
		},
		{
			name: "plan",
			msg: Message{
				ID: "m4", Sender: SenderAssistant, Timestamp: ts,
				Content: "Here's my suggestion.",
				Step:    StepPlan, Kind: KindPlan,
				Payload: &Plan{Reasoning: "Essays are the bottleneck.", Steps: []string{"Standardize the rubric"}, ResourceType: ResourceRubric},
			},
		},
		{
			name: "final resource",
			msg: Message{
				ID: "m5", Sender: SenderAssistant, Timestamp: ts,
				Content: "Here it is.",
				Step:    StepDeliver, Kind: KindFinalResource,
				Payload: &FinalResource{Title: "Essay Rubric", Date: "August 29, 2026", Author: "Sage", Content: "Criteria: thesis, evidence.", FooterNote: "Tweak freely."},
			},
		},
		{
			name: "multi question",
			msg: Message{
				ID: "m6", Sender: SenderAssistant, Timestamp: ts,
				Content: "Two quick questions.",
				Step:    StepDeepDive, Kind: KindMultiQuestion,
				Payload: &MultiQuestion{Questions: []ProfileQuestion{
					{Question: "What grade do you teach?", Field: "grade_level", Options: []string{"K-5", "6-8"}},
				}},
			},
		},
		{
			name: "meeting nudge",
			msg: Message{
				ID: "m7", Sender: SenderAssistant, Timestamp: ts,
				Content: "Let's grab 15 minutes.",
				Step:    StepMeeting, Kind: KindMeetingNudge,
				Payload: &MeetingNudge{QuickReplies: []string{"What happens on the call?"}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := json.Marshal(tt.msg)
			require.NoError(t, err)

			var got Message
			require.NoError(t, json.Unmarshal(raw, &got))
			assert.Equal(t, tt.msg, got)
		})
	}
}

func TestMessage_MarshalRejectsKindMismatch(t *testing.T) {
	msg := Message{
		ID: "m1", Sender: SenderAssistant, Timestamp: time.Now().UTC(),
		Step: StepPlan, Kind: KindPlan,
		Payload: &DeepDive{Questions: []string{"q"}},
	}
	_, err := json.Marshal(msg)
	assert.Error(t, err)
}

func TestMessage_UnmarshalRejectsPlainWithPayload(t *testing.T) {
	raw := `{"id":"m1","sender":"assistant","timestamp":"2026-08-29T10:30:00Z","content":"hi","step":1,"kind":"plain","payload":{"questions":["q"]}}`
	var msg Message
	err := json.Unmarshal([]byte(raw), &msg)
	assert.Error(t, err)
}

func TestMessage_UnmarshalRejectsUnknownKind(t *testing.T) {
	raw := `{"id":"m1","sender":"assistant","timestamp":"2026-08-29T10:30:00Z","content":"hi","step":1,"kind":"hologram","payload":{}}`
	var msg Message
	err := json.Unmarshal([]byte(raw), &msg)
	assert.Error(t, err)
}

func TestMessage_UnknownKindWithoutPayloadIsTolerated(t *testing.T) {
	// Forward compatibility: an unrecognized kind only fails when it
	// carries a payload we cannot type.
	raw := `{"id":"m1","sender":"assistant","timestamp":"2026-08-29T10:30:00Z","content":"hi","step":1,"kind":"hologram"}`
	var msg Message
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))
	assert.Nil(t, msg.Payload)
}

func TestState_AdvanceToNeverRegresses(t *testing.T) {
	s := NewConversationState()
	assert.Equal(t, StepIcebreaker, s.Step)

	s.AdvanceTo(StepPlan)
	assert.Equal(t, StepPlan, s.Step)

	s.AdvanceTo(StepDiscovery)
	assert.Equal(t, StepPlan, s.Step)

	s.AdvanceTo(StepPlan)
	assert.Equal(t, StepPlan, s.Step)
}

func TestState_BookMeetingIsOneWay(t *testing.T) {
	s := NewConversationState()
	assert.True(t, s.BookMeeting())
	assert.False(t, s.BookMeeting())
	assert.True(t, s.MeetingBooked)
}

func TestState_CanDeliverResource(t *testing.T) {
	tests := []struct {
		step   Step
		goal   Goal
		booked bool
		want   bool
	}{
		{StepDeliver, GoalNone, true, true},
		{StepDeliver, GoalNone, false, false},
		{StepMeeting, GoalDeliverResource, true, true},
		{StepMeeting, GoalDeliverResource, false, false},
		{StepMeeting, GoalMeetingQA, true, false},
		{StepIcebreaker, GoalNone, true, false},
	}
	for _, tt := range tests {
		s := &ConversationState{Step: tt.step, Goal: tt.goal, MeetingBooked: tt.booked}
		assert.Equal(t, tt.want, s.CanDeliverResource(),
			"step=%v goal=%q booked=%v", tt.step, tt.goal, tt.booked)
	}
}

func TestStep_Validity(t *testing.T) {
	for _, s := range []Step{StepIcebreaker, StepDiscovery, StepRoleCapture, StepDeepDive, StepProblemCapture, StepPlan, StepMeeting, StepDeliver} {
		assert.True(t, s.Valid(), "step %v", s)
	}
	assert.False(t, Step(0).Valid())
	assert.False(t, Step(7).Valid())
	assert.False(t, Step(2.7).Valid())

	assert.True(t, StepRoleCapture.CaptureOnly())
	assert.True(t, StepProblemCapture.CaptureOnly())
	assert.False(t, StepDeepDive.CaptureOnly())
}
