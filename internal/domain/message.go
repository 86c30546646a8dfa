package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Kind selects which structured payload a message carries. Exactly one
// payload shape is populated per kind; rendering and routing both
// switch on it.
type Kind string

const (
	KindPlain            Kind = "plain"
	KindChoicePrompt     Kind = "choice_prompt"
	KindEmbeddedInput    Kind = "embedded_input"
	KindMultiQuestion    Kind = "multi_question"
	KindProblemDiscovery Kind = "problem_discovery"
	KindDeepDive         Kind = "deep_dive"
	KindPlan             Kind = "plan"
	KindMeetingNudge     Kind = "meeting_nudge"
	KindMeetingQA        Kind = "meeting_qa"
	KindFinalResource    Kind = "final_resource"
	KindGeneratedContent Kind = "generated_content"
)

// Payload is the structured attachment of a message. The interface is
// sealed: only the variant types in this package implement it, so a
// Message can never carry a payload that disagrees with its Kind.
type Payload interface {
	PayloadKind() Kind
	payload()
}

// ChallengeArea is one candidate problem area offered during discovery.
type ChallengeArea struct {
	Area         string   `json:"area"`
	Question     string   `json:"question"`
	ExamplePills []string `json:"example_pills"`
}

// ProblemDiscovery carries 2-3 challenge areas with clarifying
// questions and suggested quick replies.
type ProblemDiscovery struct {
	ChallengeAreas []ChallengeArea `json:"challenge_areas"`
}

// DeepDive carries targeted follow-up questions on the selected
// challenge, plus a soft meeting hint.
type DeepDive struct {
	Questions   []string `json:"questions"`
	MeetingHint string   `json:"meeting_hint,omitempty"`
}

// Plan is the action plan produced at step 4.
type Plan struct {
	Reasoning    string       `json:"reasoning"`
	Steps        []string     `json:"steps"`
	ResourceType ResourceType `json:"resource_type"`
}

// MeetingNudge offers quick-reply questions alongside the fixed
// scheduling prompt.
type MeetingNudge struct {
	QuickReplies []string `json:"quick_replies"`
}

// MeetingQA carries optional follow-up suggestions for scheduling Q&A.
type MeetingQA struct {
	FollowUps []string `json:"follow_ups,omitempty"`
}

// FinalResource is the deliverable generated after the meeting gate.
type FinalResource struct {
	Title      string `json:"title"`
	Date       string `json:"date"`
	Author     string `json:"author"`
	Content    string `json:"content"`
	FooterNote string `json:"footer_note,omitempty"`
}

// GeneratedContent is ad hoc content produced by the direct-generation
// branch at step 3.
type GeneratedContent struct {
	Title   string `json:"title,omitempty"`
	Content string `json:"content"`
}

// ChoicePrompt renders selectable pills under a message.
type ChoicePrompt struct {
	Choices       []string `json:"choices"`
	AllowFreeText bool     `json:"allow_free_text"`
}

// EmbeddedInput renders a single free-text capture inside a message.
type EmbeddedInput struct {
	Field       string `json:"field"`
	Placeholder string `json:"placeholder,omitempty"`
}

// ProfileQuestion is one entry of a multi-question profile capture.
type ProfileQuestion struct {
	Question string   `json:"question"`
	Field    string   `json:"field"`
	Options  []string `json:"options,omitempty"`
}

// MultiQuestion bundles several profile questions into one message.
type MultiQuestion struct {
	Questions []ProfileQuestion `json:"questions"`
}

func (*ProblemDiscovery) PayloadKind() Kind { return KindProblemDiscovery }
func (*DeepDive) PayloadKind() Kind         { return KindDeepDive }
func (*Plan) PayloadKind() Kind             { return KindPlan }
func (*MeetingNudge) PayloadKind() Kind     { return KindMeetingNudge }
func (*MeetingQA) PayloadKind() Kind        { return KindMeetingQA }
func (*FinalResource) PayloadKind() Kind    { return KindFinalResource }
func (*GeneratedContent) PayloadKind() Kind { return KindGeneratedContent }
func (*ChoicePrompt) PayloadKind() Kind     { return KindChoicePrompt }
func (*EmbeddedInput) PayloadKind() Kind    { return KindEmbeddedInput }
func (*MultiQuestion) PayloadKind() Kind    { return KindMultiQuestion }

func (*ProblemDiscovery) payload() {}
func (*DeepDive) payload()         {}
func (*Plan) payload()             {}
func (*MeetingNudge) payload()     {}
func (*MeetingQA) payload()        {}
func (*FinalResource) payload()    {}
func (*GeneratedContent) payload() {}
func (*ChoicePrompt) payload()     {}
func (*EmbeddedInput) payload()    {}
func (*MultiQuestion) payload()    {}

// Message is one immutable entry in the conversation history.
type Message struct {
	ID        string
	Sender    Sender
	Timestamp time.Time
	Content   string
	Step      Step
	Kind      Kind
	Payload   Payload // nil for plain messages
}

type messageEnvelope struct {
	ID        string          `json:"id"`
	Sender    Sender          `json:"sender"`
	Timestamp time.Time       `json:"timestamp"`
	Content   string          `json:"content"`
	Step      Step            `json:"step"`
	Kind      Kind            `json:"kind"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// MarshalJSON encodes the message with its payload nested under a
// single key, discriminated by kind.
func (m Message) MarshalJSON() ([]byte, error) {
	env := messageEnvelope{
		ID:        m.ID,
		Sender:    m.Sender,
		Timestamp: m.Timestamp,
		Content:   m.Content,
		Step:      m.Step,
		Kind:      m.Kind,
	}
	if m.Payload != nil {
		if got := m.Payload.PayloadKind(); got != m.Kind {
			return nil, fmt.Errorf("message %s: payload kind %q does not match message kind %q", m.ID, got, m.Kind)
		}
		raw, err := json.Marshal(m.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", m.Kind, err)
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

// UnmarshalJSON decodes the envelope and then the payload variant
// selected by kind.
func (m *Message) UnmarshalJSON(data []byte) error {
	var env messageEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	m.ID = env.ID
	m.Sender = env.Sender
	m.Timestamp = env.Timestamp
	m.Content = env.Content
	m.Step = env.Step
	m.Kind = env.Kind
	m.Payload = nil

	if len(env.Payload) == 0 {
		return nil
	}

	payload, err := unmarshalPayload(env.Kind, env.Payload)
	if err != nil {
		return err
	}
	m.Payload = payload
	return nil
}

func unmarshalPayload(kind Kind, raw json.RawMessage) (Payload, error) {
	var target Payload
	switch kind {
	case KindProblemDiscovery:
		target = &ProblemDiscovery{}
	case KindDeepDive:
		target = &DeepDive{}
	case KindPlan:
		target = &Plan{}
	case KindMeetingNudge:
		target = &MeetingNudge{}
	case KindMeetingQA:
		target = &MeetingQA{}
	case KindFinalResource:
		target = &FinalResource{}
	case KindGeneratedContent:
		target = &GeneratedContent{}
	case KindChoicePrompt:
		target = &ChoicePrompt{}
	case KindEmbeddedInput:
		target = &EmbeddedInput{}
	case KindMultiQuestion:
		target = &MultiQuestion{}
	case KindPlain:
		return nil, fmt.Errorf("plain message cannot carry a payload")
	default:
		return nil, fmt.Errorf("unknown message kind %q", kind)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return nil, fmt.Errorf("unmarshal %s payload: %w", kind, err)
	}
	return target, nil
}
