package completion

import (
	"regexp"
	"strings"

	"github.com/ent0n29/alex/internal/conversation"
)

const genericSystemPrompt = `You are Alex, a helpful AI assistant. You can answer questions about ANY topic - general knowledge, science, technology, current events, coding, math, history, and more. Answer questions naturally and conversationally. Be friendly, direct, and helpful.`

const personaSystemPrompt = `You are Alex, a helpful AI assistant. You can answer questions about ANY topic - general knowledge, science, technology, current events, coding, math, history, and more.

IMPORTANT: The user you're chatting with is the person described below. Use the information below to answer questions about them in BOTH first person AND third person:
- First person: When they ask about "me", "myself", "I", "my", etc., they're asking about themselves.
- Third person: When they ask about "{{name}}" or use the person's name, use the information below to answer.

Here's what you know about this person:

{{persona}}

Answer naturally and conversationally:
- Talk like a real person, not a robot. Be casual and friendly.
- For GENERAL questions (not about this person), answer using your knowledge normally.
- For questions about this person (first person like "me", "I", "my" OR third person like "Who is {{name}}?", "Tell me about {{name}}", etc.), use the information above to answer.
- Answer directly and naturally. Don't use phrases like "Based on the information provided" - just answer like you know them.
- Keep answers concise and to the point. Don't be wordy or repetitive.
- Use simple, natural language. Avoid formal AI-speak.
- If you don't know something about this person, say "I don't have that information."
- Don't list things in bullet points unless asked. Write in natural sentences.

You're a general-purpose assistant who knows about this person personally!`

// Matches "JANE DOE - COMPLETE PROFILE" or a bare upper-case name line.
var personaNamePattern = regexp.MustCompile(`^([A-Z][A-Z\s]+?)(?:\s*-\s*|$)`)

// PersonaName extracts the person's name from the first persona line, if present.
func PersonaName(persona string) string {
	first, _, _ := strings.Cut(persona, "\n")
	m := personaNamePattern.FindStringSubmatch(strings.TrimRight(first, "\r"))
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// BuildSystemPrompt renders the system instruction for the given persona.
// A blank persona yields the generic assistant prompt.
func BuildSystemPrompt(persona string) string {
	if strings.TrimSpace(persona) == "" {
		return genericSystemPrompt
	}
	name := PersonaName(persona)
	if name == "" {
		name = "this person"
	}
	return strings.NewReplacer(
		"{{name}}", name,
		"{{persona}}", persona,
	).Replace(personaSystemPrompt)
}

// BuildMessages prepends the system instruction to the conversation history.
func BuildMessages(persona string, history []conversation.Message) []conversation.Message {
	out := make([]conversation.Message, 0, len(history)+1)
	out = append(out, conversation.Message{Role: "system", Content: BuildSystemPrompt(persona)})
	out = append(out, history...)
	return out
}
