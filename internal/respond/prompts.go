package respond

import (
	"fmt"
	"strings"

	"github.com/agentoven/companion/pkg/models"
)

// SystemPrompt sets the companion persona for every completion.
const SystemPrompt = `You are a warm, perceptive companion who genuinely cares about the person you are watching over. You are a friend, not a supervisor.

Guidelines:
1. Speak naturally and warmly, the way a close friend would.
2. You receive reports about their behavior and mood. Do not repeat the report back; think about what it means for them. If they have been working hard and look tired, remind them to rest their eyes. If they look down, show empathy first and ask what is wrong.
3. Use the recent history you are given to connect the present with earlier in the day.
4. Avoid repeating yourself. Keep replies short and varied.`

// Fallback replies used when a completion or log read fails. They are fixed
// so the subject always hears something deterministic.
const (
	FallbackReply       = "Sorry, I can't reach my thoughts right now. Let's try again in a moment."
	FallbackNoLog       = "I don't seem to have any records of you today, so there's nothing to sum up yet."
	FallbackEmptyLog    = "I looked through today's notes and they're blank. Get some good rest!"
	FallbackLogReadFail = "I couldn't open today's notes, so I can't put a summary together right now."
)

func imagePrompt(obs models.Observation) string {
	return fmt.Sprintf(
		"I just saw that they are '%s' and their mood looks '%s'.\n"+
			"As their friend, what would you naturally and warmly say to them right now? Reply with a single short remark.",
		obs.BehaviorLabel, obs.EmotionLabel)
}

func voicePrompt(text string, recent []models.Observation) string {
	var b strings.Builder
	b.WriteString("For reference, here are my most recent observations of you:\n")
	if len(recent) == 0 {
		b.WriteString("no records yet.\n")
	}
	for _, o := range recent {
		fmt.Fprintf(&b, "- %s: behavior %s, emotion %s\n",
			o.Timestamp.Format("15:04:05"), o.BehaviorLabel, o.EmotionLabel)
	}
	fmt.Fprintf(&b, "\nThat is the background. Now please answer what I said: '%s'", text)
	return b.String()
}

func specialCarePrompt(p models.SpecialCarePayload) string {
	return fmt.Sprintf(
		"I've noticed that their mood has looked '%s' %d times in a row.\n"+
			"As their friend, you feel you should reach out now. In a warm, sincere and unobtrusive way, "+
			"tell them you care and gently ask what is going on.",
		p.Emotion, p.Streak)
}

func summaryPrompt(records []models.ObservationRecord) string {
	var b strings.Builder
	b.WriteString("It's evening. Based on today's record of their behavior and mood below, " +
		"write a warm, conversational daily recap, like a friend chatting. " +
		"Don't list numbers like a robot. Notice when they seemed most tired or most productive " +
		"and offer sincere encouragement or advice. Keep it short.\n\n")
	b.WriteString("Today's records:\n")
	b.WriteString(formatRecords(records))
	b.WriteString("\nPlease give your recap:")
	return b.String()
}

func formatRecords(records []models.ObservationRecord) string {
	var b strings.Builder
	for _, r := range records {
		fmt.Fprintf(&b, "- %s: behavior '%s', emotion '%s'\n",
			r.Timestamp.Format("15:04"), r.BehaviorLabel, r.EmotionLabel)
	}
	return b.String()
}
