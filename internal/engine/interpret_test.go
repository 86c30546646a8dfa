package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eduflowhq/eduflow/internal/domain"
)

const discoveryReply = `{"type":"problem_discovery","message":"That sounds draining.","challenge_areas":[{"area":"Grading","question":"What takes the longest?","example_pills":["Essays","Homework"]},{"area":"Planning","question":"Which subject?","example_pills":["Math"]}]}`

func TestInterpret_EmptyReplyIsHardError(t *testing.T) {
	_, err := Interpret("", domain.KindPlan, domain.StepPlan)
	assert.ErrorIs(t, err, ErrEmptyCompletion)

	_, err = Interpret("   \n\t ", domain.KindPlan, domain.StepPlan)
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestInterpret_PlainPassthrough(t *testing.T) {
	msg, err := Interpret("Hi! What's eating your time?", domain.KindPlain, domain.StepIcebreaker)
	require.NoError(t, err)
	assert.Equal(t, domain.KindPlain, msg.Kind)
	assert.Equal(t, "Hi! What's eating your time?", msg.Content)
	assert.Equal(t, domain.StepIcebreaker, msg.Step)
	assert.Equal(t, domain.SenderAssistant, msg.Sender)
	assert.Nil(t, msg.Payload)
	assert.NotEmpty(t, msg.ID)
}

func TestInterpret_ProblemDiscovery(t *testing.T) {
	msg, err := Interpret(discoveryReply, domain.KindProblemDiscovery, domain.StepDiscovery)
	require.NoError(t, err)
	assert.Equal(t, domain.KindProblemDiscovery, msg.Kind)
	assert.Equal(t, "That sounds draining.", msg.Content)

	payload, ok := msg.Payload.(*domain.ProblemDiscovery)
	require.True(t, ok)
	require.Len(t, payload.ChallengeAreas, 2)
	assert.Equal(t, "Grading", payload.ChallengeAreas[0].Area)
	assert.NotEmpty(t, payload.ChallengeAreas[0].ExamplePills)
}

func TestInterpret_ToleratesCodeFences(t *testing.T) {
	fenced := "Sure, here you go:\n```json\n" + discoveryReply + "\n```\nHope that helps!"
	msg, err := Interpret(fenced, domain.KindProblemDiscovery, domain.StepDiscovery)
	require.NoError(t, err)
	assert.Equal(t, domain.KindProblemDiscovery, msg.Kind)
}

func TestInterpret_MalformedDegradesToPlain(t *testing.T) {
	raw := "Sure! Here are three steps you could take: first, batch your grading..."
	msg, err := Interpret(raw, domain.KindPlan, domain.StepPlan)
	require.NoError(t, err)
	assert.Equal(t, domain.KindPlain, msg.Kind)
	assert.Equal(t, raw, msg.Content)
	assert.Equal(t, domain.StepPlan, msg.Step)
	assert.Nil(t, msg.Payload)
}

func TestInterpret_PartialPayloadDegradesToPlain(t *testing.T) {
	// Valid JSON, but missing required fields for the shape.
	raw := `{"type":"problem_discovery","message":"hm","challenge_areas":[]}`
	msg, err := Interpret(raw, domain.KindProblemDiscovery, domain.StepDiscovery)
	require.NoError(t, err)
	assert.Equal(t, domain.KindPlain, msg.Kind)
}

func TestInterpret_WrongDiscriminatorDegradesToPlain(t *testing.T) {
	raw := `{"type":"plan","message":"hm","challenge_areas":[{"area":"A","question":"q","example_pills":["p"]}]}`
	msg, err := Interpret(raw, domain.KindProblemDiscovery, domain.StepDiscovery)
	require.NoError(t, err)
	assert.Equal(t, domain.KindPlain, msg.Kind)
}

func TestInterpret_PlanWithUnlabeledResourceType(t *testing.T) {
	raw := `{"type":"plan","message":"Here's the plan.","plan":{"reasoning":"Your quiz prep is the bottleneck.","steps":["Pick a topic","Draft questions"],"resource_type":"something_odd"}}`
	msg, err := Interpret(raw, domain.KindPlan, domain.StepPlan)
	require.NoError(t, err)

	payload, ok := msg.Payload.(*domain.Plan)
	require.True(t, ok)
	// Classifier backstop: "quiz" appears in the reasoning.
	assert.Equal(t, domain.ResourceQuiz, payload.ResourceType)
}

func TestInterpret_FinalResource(t *testing.T) {
	raw := `{"type":"final_resource","message":"All yours.","resource":{"title":"Fractions Quiz","date":"June 5, 2025","author":"Ms. Rivera","content":"1. What is 1/2 + 1/4?","footer_note":"Good luck!"}}`
	msg, err := Interpret(raw, domain.KindFinalResource, domain.StepDeliver)
	require.NoError(t, err)

	payload, ok := msg.Payload.(*domain.FinalResource)
	require.True(t, ok)
	assert.Equal(t, "Fractions Quiz", payload.Title)
	assert.Equal(t, "Good luck!", payload.FooterNote)
}

func TestInterpret_NeverPanics(t *testing.T) {
	inputs := []string{
		"{", "}", "{}", "null", "[]", `{"type":}`,
		"``` ```", "```json```", `{"type":"deep_dive","questions":null}`,
		string([]byte{0xff, 0xfe}), "plain text with a { brace",
	}
	kinds := []domain.Kind{
		domain.KindProblemDiscovery, domain.KindDeepDive, domain.KindMultiQuestion,
		domain.KindPlan, domain.KindMeetingQA, domain.KindFinalResource,
		domain.KindGeneratedContent,
	}
	for _, in := range inputs {
		for _, kind := range kinds {
			msg, err := Interpret(in, kind, domain.StepDeepDive)
			require.NoError(t, err, "input %q kind %s", in, kind)
			assert.Equal(t, domain.KindPlain, msg.Kind, "input %q kind %s", in, kind)
		}
	}
}
