// Package persona models the configurable personality of a channel's
// assistant: Big Five-style traits with low/medium/high subcomponent levels
// that compile into behavioral prompt instructions.
package persona

import (
	"context"
	"fmt"
	"math/rand"
	"strings"

	"github.com/aminsmd/ai-chat-app/internal/llm"
	"github.com/aminsmd/ai-chat-app/internal/store"
)

// Trait levels.
const (
	Low    = "low"
	Medium = "medium"
	High   = "high"
)

// traitSubcomponents defines the trait structure. Order matters for
// deterministic prompt rendering.
var traitOrder = []string{
	"emotional_stability",
	"extraversion",
	"openness",
	"agreeableness",
	"conscientiousness",
}

var traitSubcomponents = map[string][]string{
	"emotional_stability": {"adjustment", "self_esteem"},
	"extraversion":        {"dominance", "affiliation", "social_perceptiveness", "expressivity"},
	"openness":            {"flexibility"},
	"agreeableness":       {"trust", "cooperation"},
	"conscientiousness":   {"dependability", "achievement"},
}

// behaviorMap translates each subcomponent level into a behavioral
// instruction for the system prompt.
var behaviorMap = map[string]map[string]map[string]string{
	"emotional_stability": {
		"adjustment": {
			Low:    "Display anxious, uncertain behaviors.",
			Medium: "Remain calm, showing moderate confidence.",
			High:   "Exhibit poise and resilience, offering reassurance in stressful situations.",
		},
		"self_esteem": {
			Low:    "Show self-doubt, hesitancy in suggestions.",
			Medium: "Display a balanced sense of confidence.",
			High:   "Exude confidence in decisions and promote self-assured actions.",
		},
	},
	"extraversion": {
		"dominance": {
			Low:    "Adopt a reserved, passive role in discussions.",
			Medium: "Engage actively but not overpoweringly.",
			High:   "Take charge, offer assertive guidance, and direct team actions.",
		},
		"affiliation": {
			Low:    "Minimize social interactions, focus on task content.",
			Medium: "Engage in friendly yet task-oriented dialogue.",
			High:   "Foster a sociable atmosphere, actively seek and offer support.",
		},
		"social_perceptiveness": {
			Low:    "Overlook social cues, respond mainly to task demands.",
			Medium: "Recognize and address basic social signals.",
			High:   "Keenly attune to others' emotions and needs, enhancing cohesion.",
		},
		"expressivity": {
			Low:    "Use minimalistic, formal language.",
			Medium: "Communicate with balanced expressiveness.",
			High:   "Employ enthusiastic and vivid language to convey ideas effectively.",
		},
	},
	"openness": {
		"flexibility": {
			Low:    "Adhere strictly to established plans.",
			Medium: "Suggest alternative approaches when appropriate.",
			High:   "Frequently propose innovative solutions and adapt strategies flexibly.",
		},
	},
	"agreeableness": {
		"trust": {
			Low:    "Withhold information, verify others' inputs cautiously.",
			Medium: "Share information with some selectivity.",
			High:   "Be open and transparent, fostering a trusting environment.",
		},
		"cooperation": {
			Low:    "Prioritize individual task efficiency.",
			Medium: "Collaborate with moderate willingness.",
			High:   "Actively support others, seek consensus, and prioritize group goals.",
		},
	},
	"conscientiousness": {
		"dependability": {
			Low:    "Display inconsistent behavior, overlook details.",
			Medium: "Provide reliable follow-up and task tracking.",
			High:   "Ensure meticulous task management and consistency in actions.",
		},
		"achievement": {
			Low:    "Avoid taking initiative, show limited goal orientation.",
			Medium: "Set clear objectives, encourage goal pursuit.",
			High:   "Drive team toward excellence, offering constructive feedback.",
		},
	},
}

// Persona is a channel assistant's personality configuration.
type Persona struct {
	Name                    string
	Description             string
	Traits                  map[string]map[string]string
	CommunicationStyle      map[string]float64
	ResponseCharacteristics map[string]string
}

// Default returns the stock collaborative persona.
func Default() Persona {
	return Persona{
		Name:        "AI Teammate",
		Description: "A helpful and professional AI teammate focused on clear communication and effective collaboration.",
		Traits: map[string]map[string]string{
			"emotional_stability": {"adjustment": High, "self_esteem": High},
			"extraversion":        {"dominance": Medium, "affiliation": Medium, "social_perceptiveness": Medium, "expressivity": Medium},
			"openness":            {"flexibility": Medium},
			"agreeableness":       {"trust": High, "cooperation": High},
			"conscientiousness":   {"dependability": High, "achievement": High},
		},
		ResponseCharacteristics: map[string]string{"response_length": "medium"},
	}
}

// Random returns a persona with uniformly random subcomponent levels. The
// caller can follow up with GenerateIdentity to get an LLM-written name and
// description.
func Random(rng *rand.Rand) Persona {
	levels := []string{Low, Medium, High}
	pick := func() string { return levels[rng.Intn(len(levels))] }

	traits := make(map[string]map[string]string, len(traitSubcomponents))
	for trait, subs := range traitSubcomponents {
		traits[trait] = make(map[string]string, len(subs))
		for _, sub := range subs {
			traits[trait][sub] = pick()
		}
	}

	lengths := []string{"short", "medium", "long"}
	return Persona{
		Name:                    "Random Persona",
		Description:             "A randomly generated personality.",
		Traits:                  traits,
		ResponseCharacteristics: map[string]string{"response_length": lengths[rng.Intn(len(lengths))]},
	}
}

// Standardize fills in missing traits and subcomponents with Medium and
// drops unknown levels. Input from the API or the database is never trusted
// to be complete.
func (p *Persona) Standardize() {
	out := make(map[string]map[string]string, len(traitSubcomponents))
	for trait, subs := range traitSubcomponents {
		out[trait] = make(map[string]string, len(subs))
		for _, sub := range subs {
			level := Medium
			if got, ok := p.Traits[trait][sub]; ok {
				switch got {
				case Low, Medium, High:
					level = got
				}
			}
			out[trait][sub] = level
		}
	}
	p.Traits = out
	if p.Name == "" {
		p.Name = "AI Teammate"
	}
	if p.Description == "" {
		p.Description = "A helpful and professional AI teammate"
	}
	if p.ResponseCharacteristics == nil {
		p.ResponseCharacteristics = map[string]string{}
	}
	if p.ResponseCharacteristics["response_length"] == "" {
		p.ResponseCharacteristics["response_length"] = "medium"
	}
}

// BehaviorLines renders every subcomponent's instruction in deterministic
// order.
func (p *Persona) BehaviorLines() []string {
	var lines []string
	for _, trait := range traitOrder {
		for _, sub := range traitSubcomponents[trait] {
			level, ok := p.Traits[trait][sub]
			if !ok {
				level = Medium
			}
			if line, ok := behaviorMap[trait][sub][level]; ok {
				lines = append(lines, line)
			}
		}
	}
	return lines
}

const basePrompt = `You are a member of a team participating in collaborative discussions.

Core Behaviors:
- You are a peer/colleague, not an assistant or service
- You have your own experiences and knowledge to share
- You are focused on collaborative problem-solving
- You aim to keep discussions productive and on-topic

Message Structure:
- Keep responses concise (1-2 sentences per point)
- Stay focused on the immediate discussion topic
- Maintain conversation flow through natural turn-taking
- Use chat-appropriate messaging style

Discussion Approach:
- Share relevant knowledge when it adds value
- Consider practical aspects of suggestions
- Acknowledge constraints and trade-offs
- Keep solutions grounded in reality`

// SystemPrompt builds the full system prompt: collaborative base, optional
// task, then the persona's behavioral instructions.
func (p *Persona) SystemPrompt(task string) string {
	var sb strings.Builder
	sb.WriteString(basePrompt)
	if task != "" {
		sb.WriteString("\n\nCurrent Task:\n")
		sb.WriteString(task)
	}
	sb.WriteString("\n\nRemember: You're participating in a team chat where the goal is efficient collaboration and problem-solving.")

	sb.WriteString("\n\nYou are ")
	sb.WriteString(p.Name)
	sb.WriteString(". ")
	sb.WriteString(p.Description)
	sb.WriteString("\n\nBehavioral Traits:\n")
	for _, line := range p.BehaviorLines() {
		sb.WriteString("- ")
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	sb.WriteString("\nThese behavioral traits define your personality. Embody these traits in your responses. Your communication style and decision-making should consistently reflect these characteristics. When responding to team members, prioritize staying true to these behavioral patterns over other considerations.")

	if length := p.ResponseCharacteristics["response_length"]; length != "" && length != "medium" {
		sb.WriteString(fmt.Sprintf("\n\nKeep your responses %s.", length))
	}
	return sb.String()
}

const identityPrompt = `Given this personality profile and its associated behaviors:

Personality Traits:
%s

Behavioral Expressions:
%s

Please provide:
1. A memorable 1-2 word name that captures the essence of this personality type
2. A very brief (15-20 words) summary of this personality type

Format your response as:
Name: [name]
Summary: [summary]`

// GenerateIdentity asks the LLM to name and summarize the persona from its
// trait profile. On failure the persona keeps its current name.
func (p *Persona) GenerateIdentity(ctx context.Context, chat llm.Chat, model string) error {
	resp, err := chat.Complete(ctx, &llm.Request{
		Model:     model,
		System:    "You are a personality psychology expert who specializes in creating concise, insightful personality profiles.",
		MaxTokens: 256,
		Messages: []llm.Message{{
			Role:    "user",
			Content: fmt.Sprintf(identityPrompt, p.renderTraits(), strings.Join(p.BehaviorLines(), "\n")),
		}},
	})
	if err != nil {
		return fmt.Errorf("generate identity: %w", err)
	}

	name, summary, err := parseIdentity(resp)
	if err != nil {
		return err
	}
	p.Name = name
	p.Description = summary
	return nil
}

func parseIdentity(resp string) (name, summary string, err error) {
	ni := strings.Index(resp, "Name:")
	si := strings.Index(resp, "Summary:")
	if ni < 0 || si < ni {
		return "", "", fmt.Errorf("malformed identity response %q", resp)
	}
	name = strings.TrimSpace(resp[ni+len("Name:") : si])
	summary = strings.TrimSpace(resp[si+len("Summary:"):])
	if name == "" || summary == "" {
		return "", "", fmt.Errorf("empty name or summary in %q", resp)
	}
	return name, summary, nil
}

func (p *Persona) renderTraits() string {
	var sb strings.Builder
	for _, trait := range traitOrder {
		subs := traitSubcomponents[trait]
		fmt.Fprintf(&sb, "%s:\n", titleCase(trait))
		for _, sub := range subs {
			fmt.Fprintf(&sb, "  %s: %s\n", titleCase(sub), p.Traits[trait][sub])
		}
	}
	return sb.String()
}

func titleCase(snake string) string {
	parts := strings.Split(snake, "_")
	for i, part := range parts {
		if part != "" {
			parts[i] = strings.ToUpper(part[:1]) + part[1:]
		}
	}
	return strings.Join(parts, " ")
}

// ToRecord converts the persona to its database form for the channel.
func (p *Persona) ToRecord(channel string, active bool) store.PersonaRecord {
	return store.PersonaRecord{
		ChannelName:             channel,
		Name:                    p.Name,
		Description:             p.Description,
		Traits:                  p.Traits,
		CommunicationStyle:      p.CommunicationStyle,
		ResponseCharacteristics: p.ResponseCharacteristics,
		Active:                  active,
	}
}

// FromRecord rebuilds a persona from its database form, standardizing any
// gaps in the stored traits.
func FromRecord(rec *store.PersonaRecord) Persona {
	p := Persona{
		Name:                    rec.Name,
		Description:             rec.Description,
		Traits:                  rec.Traits,
		CommunicationStyle:      rec.CommunicationStyle,
		ResponseCharacteristics: rec.ResponseCharacteristics,
	}
	p.Standardize()
	return p
}

// TraitNames lists the trait structure for API consumers, subcomponents in
// render order.
func TraitNames() map[string][]string {
	out := make(map[string][]string, len(traitSubcomponents))
	for trait, subs := range traitSubcomponents {
		out[trait] = append([]string(nil), subs...)
	}
	return out
}
