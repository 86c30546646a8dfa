package engine

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/eduflowhq/eduflow/internal/domain"
)

// ErrEmptyCompletion is returned when the completion service produced
// no text at all. There is nothing to degrade to in that case, so it
// is surfaced as a hard failure and the session does not advance.
var ErrEmptyCompletion = errors.New("completion service returned empty text")

// Wire shapes for structured step responses. Each is a flat object
// with a "type" discriminator matching the message kind. These must
// stay byte-for-byte consistent with the examples in prompt.go.
type wireEnvelope struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type wireProblemDiscovery struct {
	wireEnvelope
	ChallengeAreas []domain.ChallengeArea `json:"challenge_areas"`
}

type wireDeepDive struct {
	wireEnvelope
	Questions   []string `json:"questions"`
	MeetingHint string   `json:"meeting_hint"`
}

type wireMultiQuestion struct {
	wireEnvelope
	Questions []domain.ProfileQuestion `json:"questions"`
}

type wirePlan struct {
	wireEnvelope
	Plan struct {
		Reasoning    string   `json:"reasoning"`
		Steps        []string `json:"steps"`
		ResourceType string   `json:"resource_type"`
	} `json:"plan"`
}

type wireMeetingQA struct {
	wireEnvelope
	FollowUps []string `json:"follow_ups"`
}

type wireFinalResource struct {
	wireEnvelope
	Resource struct {
		Title      string `json:"title"`
		Date       string `json:"date"`
		Author     string `json:"author"`
		Content    string `json:"content"`
		FooterNote string `json:"footer_note"`
	} `json:"resource"`
}

type wireGeneratedContent struct {
	wireEnvelope
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Interpret parses the service's raw reply into a typed message for
// the expected kind. Malformed or partial replies degrade to a plain
// message carrying the raw text; they are never surfaced as errors.
// Only an empty reply is a hard failure.
func Interpret(raw string, expect domain.Kind, step domain.Step) (domain.Message, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return domain.Message{}, ErrEmptyCompletion
	}

	if expect == domain.KindPlain {
		return newAssistantMessage(trimmed, step, domain.KindPlain, nil), nil
	}

	jsonText, ok := extractJSON(trimmed)
	if !ok {
		return fallbackMessage(trimmed, step), nil
	}

	content, payload, ok := parseStructured(jsonText, expect)
	if !ok {
		return fallbackMessage(trimmed, step), nil
	}
	if content == "" {
		content = defaultContent(expect)
	}
	return newAssistantMessage(content, step, expect, payload), nil
}

// parseStructured attempts a strict parse of jsonText into the wire
// shape for expect, validating required fields.
func parseStructured(jsonText string, expect domain.Kind) (string, domain.Payload, bool) {
	switch expect {
	case domain.KindProblemDiscovery:
		var w wireProblemDiscovery
		if !decodeWire(jsonText, &w, &w.wireEnvelope, expect) {
			return "", nil, false
		}
		if len(w.ChallengeAreas) == 0 {
			return "", nil, false
		}
		for _, area := range w.ChallengeAreas {
			if area.Area == "" || len(area.ExamplePills) == 0 {
				return "", nil, false
			}
		}
		return w.Message, &domain.ProblemDiscovery{ChallengeAreas: w.ChallengeAreas}, true

	case domain.KindDeepDive:
		var w wireDeepDive
		if !decodeWire(jsonText, &w, &w.wireEnvelope, expect) {
			return "", nil, false
		}
		if len(w.Questions) == 0 {
			return "", nil, false
		}
		return w.Message, &domain.DeepDive{Questions: w.Questions, MeetingHint: w.MeetingHint}, true

	case domain.KindMultiQuestion:
		var w wireMultiQuestion
		if !decodeWire(jsonText, &w, &w.wireEnvelope, expect) {
			return "", nil, false
		}
		if len(w.Questions) == 0 {
			return "", nil, false
		}
		return w.Message, &domain.MultiQuestion{Questions: w.Questions}, true

	case domain.KindPlan:
		var w wirePlan
		if !decodeWire(jsonText, &w, &w.wireEnvelope, expect) {
			return "", nil, false
		}
		if len(w.Plan.Steps) == 0 {
			return "", nil, false
		}
		rt := domain.ResourceType(w.Plan.ResourceType)
		if !rt.Valid() {
			// The service did not label its output; fall back to the
			// keyword classifier rather than rejecting the plan.
			rt = ClassifyResource(w.Plan.Reasoning + " " + strings.Join(w.Plan.Steps, " "))
		}
		return w.Message, &domain.Plan{
			Reasoning:    w.Plan.Reasoning,
			Steps:        w.Plan.Steps,
			ResourceType: rt,
		}, true

	case domain.KindMeetingQA:
		var w wireMeetingQA
		if !decodeWire(jsonText, &w, &w.wireEnvelope, expect) {
			return "", nil, false
		}
		if w.Message == "" {
			return "", nil, false
		}
		return w.Message, &domain.MeetingQA{FollowUps: w.FollowUps}, true

	case domain.KindFinalResource:
		var w wireFinalResource
		if !decodeWire(jsonText, &w, &w.wireEnvelope, expect) {
			return "", nil, false
		}
		if w.Resource.Title == "" || w.Resource.Content == "" {
			return "", nil, false
		}
		return w.Message, &domain.FinalResource{
			Title:      w.Resource.Title,
			Date:       w.Resource.Date,
			Author:     w.Resource.Author,
			Content:    w.Resource.Content,
			FooterNote: w.Resource.FooterNote,
		}, true

	case domain.KindGeneratedContent:
		var w wireGeneratedContent
		if !decodeWire(jsonText, &w, &w.wireEnvelope, expect) {
			return "", nil, false
		}
		if w.Content == "" {
			return "", nil, false
		}
		return w.Message, &domain.GeneratedContent{Title: w.Title, Content: w.Content}, true
	}

	return "", nil, false
}

// decodeWire unmarshals jsonText into target and checks the type
// discriminator. An absent discriminator is tolerated; a wrong one is
// not.
func decodeWire(jsonText string, target any, env *wireEnvelope, expect domain.Kind) bool {
	if err := json.Unmarshal([]byte(jsonText), target); err != nil {
		return false
	}
	return env.Type == "" || env.Type == string(expect)
}

// extractJSON pulls the first JSON object out of raw text, tolerating
// markdown code fences and surrounding prose.
func extractJSON(text string) (string, bool) {
	if idx := strings.Index(text, "```"); idx >= 0 {
		rest := text[idx+3:]
		rest = strings.TrimPrefix(rest, "json")
		if end := strings.Index(rest, "```"); end >= 0 {
			text = rest[:end]
		} else {
			text = rest
		}
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

func fallbackMessage(raw string, step domain.Step) domain.Message {
	return newAssistantMessage(raw, step, domain.KindPlain, nil)
}

func newAssistantMessage(content string, step domain.Step, kind domain.Kind, payload domain.Payload) domain.Message {
	return domain.Message{
		ID:        uuid.NewString(),
		Sender:    domain.SenderAssistant,
		Timestamp: time.Now().UTC(),
		Content:   content,
		Step:      step,
		Kind:      kind,
		Payload:   payload,
	}
}

func defaultContent(kind domain.Kind) string {
	switch kind {
	case domain.KindProblemDiscovery:
		return "Here are a few areas we could dig into."
	case domain.KindDeepDive:
		return "Let's look at that a little closer."
	case domain.KindPlan:
		return "Here's the plan I'd suggest."
	case domain.KindFinalResource:
		return "Here's your deliverable."
	case domain.KindGeneratedContent:
		return "Here's what I put together."
	default:
		return "Here you go."
	}
}
