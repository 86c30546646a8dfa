package engine

import (
	"strings"

	"github.com/eduflowhq/eduflow/internal/domain"
)

const systemPrompt = `You are "Sage", the onboarding guide inside an events and planning platform for educators.

Your role:
- You help teachers figure out what is eating their time, shape a small plan, and produce one concrete deliverable.
- You are warm, practical, and brief. You never lecture.
- You speak in the user's language and mirror their vocabulary.

Style constraints:
- Keep every message under 120 words.
- Ask at most 2 questions per message.
- Suggest small, realistic steps, not sweeping changes.
- Never mention that you are following a script or a step number.`

// taskInstructions is the per-step output-contract table. Each entry
// spells out the exact JSON shape expected back, including an example.
// The shapes here must stay byte-for-byte consistent with the wire
// structs the interpreter parses.
var taskInstructions = map[domain.Kind]string{
	domain.KindPlain: `Open the conversation. Greet the user by name if known, say one sentence about
what you can help with, and ask what is taking up most of their time lately.
Respond as plain text only. Do not return JSON.`,

	domain.KindProblemDiscovery: `From the user's message, identify 2-3 distinct challenge areas. For each one,
write a short clarifying question and 2-3 example quick replies the user could
tap instead of typing.
Respond with exactly this JSON shape and nothing else:
{"type":"problem_discovery","message":"<one short empathetic sentence>","challenge_areas":[{"area":"<label>","question":"<clarifying question>","example_pills":["<short reply>","<short reply>"]}]}`,

	domain.KindDeepDive: `The user has picked a challenge area. Ask 1-2 targeted questions that dig into
the specifics of that area, and include one soft sentence hinting that a short
onboarding call could help.
Respond with exactly this JSON shape and nothing else:
{"type":"deep_dive","message":"<one short sentence acknowledging the choice>","questions":["<question>","<question>"],"meeting_hint":"<one soft sentence>"}`,

	domain.KindMultiQuestion: `Ask 1-2 clarifying questions to understand the problem better. Keep them
concrete and easy to answer.
Respond with exactly this JSON shape and nothing else:
{"type":"multi_question","message":"<one short sentence>","questions":[{"question":"<question>","field":"<snake_case_field>","options":["<optional choice>"]}]}`,

	domain.KindPlan: `Create a short action plan for the user's problem. Explain your reasoning in
2-3 sentences, list 3-5 ordered steps, and name the single deliverable you
will produce for them (one of: lesson_plan, rubric, quiz, email, summary).
Respond with exactly this JSON shape and nothing else:
{"type":"plan","message":"<one short sentence introducing the plan>","plan":{"reasoning":"<why this plan>","steps":["<step>","<step>","<step>"],"resource_type":"<category>"}}`,

	domain.KindMeetingQA: `The user has a question about the onboarding call. Answer it honestly and
briefly, then gently steer back toward booking.
Respond with exactly this JSON shape and nothing else:
{"type":"meeting_qa","message":"<the answer>","follow_ups":["<optional related question>"]}`,

	domain.KindFinalResource: `The user has booked their call. Produce the final deliverable now, complete
and ready to use, matching the agreed category. Write the full body in the
content field using markdown.
Respond with exactly this JSON shape and nothing else:
{"type":"final_resource","message":"<one short handoff sentence>","resource":{"title":"<title>","date":"<today, e.g. June 5, 2025>","author":"<user's name or 'Your Sage assistant'>","content":"<full deliverable body>","footer_note":"<one optional closing line>"}}`,

	domain.KindGeneratedContent: `The user asked for content directly, or has given you enough context that
advice beats more questions. Produce the most useful concrete thing you can:
either the requested content in full, or 3-4 pieces of actionable advice.
Respond with exactly this JSON shape and nothing else:
{"type":"generated_content","message":"<one short sentence>","title":"<short title>","content":"<full content in markdown>"}`,
}

// Prompt is the system instruction plus the user-turn content sent to
// the completion service.
type Prompt struct {
	System string
	User   string
}

// BuildPrompt constructs the request for one generation. It is a pure
// function of the state, the latest user input, and the expected
// output kind.
func BuildPrompt(state *domain.ConversationState, userMessage string, expect domain.Kind) Prompt {
	task, ok := taskInstructions[expect]
	if !ok {
		task = taskInstructions[domain.KindPlain]
	}

	var b strings.Builder
	if profile := renderProfile(state.Profile); profile != "" {
		b.WriteString("About the user:\n")
		b.WriteString(profile)
		b.WriteString("\n\n")
	}
	if state.SelectedChallenge != "" {
		b.WriteString("Selected challenge area: ")
		b.WriteString(state.SelectedChallenge)
		b.WriteString("\n\n")
	}
	if state.ResourceType != "" && (expect == domain.KindFinalResource || expect == domain.KindGeneratedContent) {
		b.WriteString("Agreed deliverable category: ")
		b.WriteString(string(state.ResourceType))
		b.WriteString("\n\n")
	}
	if ctx := RenderContext(state.History); ctx != "" {
		b.WriteString("Conversation so far:\n")
		b.WriteString(ctx)
		b.WriteString("\n\n")
	}
	if userMessage != "" {
		b.WriteString("New user message:\n")
		b.WriteString(userMessage)
	}

	return Prompt{
		System: systemPrompt + "\n\n" + task,
		User:   b.String(),
	}
}

func renderProfile(p domain.Profile) string {
	var parts []string
	if p.Name != "" {
		parts = append(parts, "name: "+p.Name)
	}
	if p.Role != "" {
		parts = append(parts, "role: "+p.Role)
	}
	if p.GradeLevel != "" {
		parts = append(parts, "grade level: "+p.GradeLevel)
	}
	if len(p.Classes) > 0 {
		parts = append(parts, "classes: "+strings.Join(p.Classes, ", "))
	}
	return strings.Join(parts, "\n")
}
