package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/david/govbid-leads/internal/logger"
	"github.com/david/govbid-leads/internal/models"
)

// RescheduleSentinel is what ComposeReply returns instead of text when the
// counterparty asked to move their appointment. Callers must not send it.
const RescheduleSentinel = "__RESCHEDULE__"

// Outcome tags a finished conversation can be filed under.
const (
	TagAppointmentBooked = "appointment_booked"
	TagInterested        = "interested"
	TagNotInterested     = "not_interested"
	TagNoResponse        = "no_response"
	TagRescheduled       = "rescheduled"
	TagDisqualified      = "disqualified"
	TagAnalysisFailed    = "analysis_failed"
)

var OutcomeTags = []string{
	TagAppointmentBooked, TagInterested, TagNotInterested, TagNoResponse,
	TagRescheduled, TagDisqualified, TagAnalysisFailed,
}

const analysisFailedSummary = "Conversation analysis failed."

// Analysis is the result of classifying a transcript.
type Analysis struct {
	Tag     string `json:"outcome_tag"`
	Summary string `json:"summary"`
}

// FailedAnalysis is returned whenever classification cannot complete.
func FailedAnalysis() Analysis {
	return Analysis{Tag: TagAnalysisFailed, Summary: analysisFailedSummary}
}

// ChatModel is the text-generation dependency.
type ChatModel interface {
	Chat(ctx context.Context, messages []Message, jsonMode bool) (string, error)
}

// Composer writes outbound messages and analyzes transcripts. Without a
// model it falls back to fixed templates.
type Composer struct {
	llm ChatModel
	log *logger.Logger
}

// NewComposer wires the composer. llm may be nil.
func NewComposer(llm ChatModel, log *logger.Logger) *Composer {
	return &Composer{llm: llm, log: log.Component("composer")}
}

const persona = `You are Genie, an assistant that helps small businesses win U.S. government contracts.
You write short, friendly, plain-text Facebook messages. No markdown, no emojis, at most 80 words.`

// InitialTemplate is the deterministic first message.
func InitialTemplate(businessName string, o *models.Opportunity) string {
	return fmt.Sprintf("Hello %s, my name is Genie.\n\n"+
		"I found a U.S. government contract opportunity that seems like a strong match for your business. "+
		"It's for '%s' with the %s.\n\n"+
		"You can view the full details here: %s\n\n"+
		"Would you be open to a brief chat about how we can help you win this contract?",
		businessName, o.Title, o.Agency, o.URL)
}

// ComposeInitialMessage writes the first outreach message. Model failures
// fall back to the template.
func (c *Composer) ComposeInitialMessage(ctx context.Context, l *models.Lead, o *models.Opportunity) string {
	name := strings.TrimSpace(l.BusinessName)
	if name == "" {
		name = "there"
	}
	fallback := InitialTemplate(name, o)
	if c.llm == nil {
		return fallback
	}

	prompt := fmt.Sprintf(`Write a first outreach message to the business "%s".
Introduce yourself as Genie. Mention the contract opportunity "%s" posted by %s and include this link verbatim: %s
End by asking whether they are open to a brief chat.`, name, o.Title, o.Agency, o.URL)

	text, err := c.llm.Chat(ctx, []Message{{Role: "system", Content: persona}, {Role: "user", Content: prompt}}, false)
	if err != nil || strings.TrimSpace(text) == "" {
		c.log.Warn("Initial message generation failed, using template", "lead_id", l.ID, "error", err)
		return fallback
	}
	if !strings.Contains(text, o.URL) {
		text += "\n\n" + o.URL
	}
	return text
}

const replyTemplate = "Thanks for getting back to me! Would a quick 15-minute call work for you? " +
	"I can share a few open times, or feel free to ask any questions here."

// WantsReschedule reports whether the latest inbound message asks to move
// an appointment.
func WantsReschedule(history []models.ConversationLogEntry) bool {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Sender == models.SenderBusiness {
			return strings.Contains(strings.ToLower(history[i].Message), "reschedule")
		}
	}
	return false
}

// ComposeReply writes the next outbound message for history, or returns
// RescheduleSentinel.
func (c *Composer) ComposeReply(ctx context.Context, l *models.Lead, history []models.ConversationLogEntry) string {
	if WantsReschedule(history) {
		return RescheduleSentinel
	}
	if c.llm == nil || len(history) == 0 {
		return replyTemplate
	}

	msgs := []Message{{Role: "system", Content: persona + "\nYour goal is to book a 15-minute intro call."}}
	for _, e := range history {
		role := "user"
		if e.Sender == models.SenderAI {
			role = "assistant"
		}
		msgs = append(msgs, Message{Role: role, Content: e.Message})
	}

	text, err := c.llm.Chat(ctx, msgs, false)
	if err != nil || strings.TrimSpace(text) == "" {
		c.log.Warn("Reply generation failed, using template", "lead_id", l.ID, "error", err)
		return replyTemplate
	}
	return text
}

// ComposeSlotOffer lists slots as numbered choices.
func ComposeSlotOffer(businessName string, slots []models.Slot) string {
	var b strings.Builder
	name := strings.TrimSpace(businessName)
	if name == "" {
		name = "there"
	}
	fmt.Fprintf(&b, "Great, %s! Here are a few times for a quick 15-minute call (UTC):\n", name)
	for i, s := range slots {
		fmt.Fprintf(&b, "%d. %s\n", i+1, FormatSlot(s.Start))
	}
	b.WriteString("Just reply with the number that works best for you.")
	return b.String()
}

// ComposeConfirmation confirms a booked slot.
func ComposeConfirmation(start time.Time) string {
	return fmt.Sprintf("You're all set for %s (UTC). If anything changes, just reply \"reschedule\".", FormatSlot(start))
}

// ComposeNoShowFollowUp is sent after a missed appointment.
func ComposeNoShowFollowUp(businessName string) string {
	name := strings.TrimSpace(businessName)
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf("Hi %s, sorry we missed each other today. Would you like to pick a new time? Reply \"yes\" and I'll send some options.", name)
}

// FormatSlot renders a slot start for messages.
func FormatSlot(t time.Time) string {
	return t.UTC().Format("Mon Jan 2, 3:04 PM")
}

// Analyze classifies a finished transcript. It never fails: any problem
// yields FailedAnalysis.
func (c *Composer) Analyze(ctx context.Context, history []models.ConversationLogEntry) Analysis {
	if c.llm == nil || len(history) == 0 {
		return FailedAnalysis()
	}

	var transcript strings.Builder
	for _, e := range history {
		fmt.Fprintf(&transcript, "%s: %s\n", e.Sender, e.Message)
	}
	prompt := fmt.Sprintf(`Classify the outcome of this sales conversation between our assistant (AI) and a business.

TRANSCRIPT:
%s
Choose exactly one outcome_tag from: %s.
Write a one-sentence summary.

Return ONLY a JSON object:
{"outcome_tag": "tag", "summary": "one sentence"}`, transcript.String(), strings.Join(OutcomeTags[:len(OutcomeTags)-1], ", "))

	resp, err := c.llm.Chat(ctx, []Message{{Role: "user", Content: prompt}}, true)
	if err != nil {
		c.log.Warn("Conversation analysis failed", "error", err)
		return FailedAnalysis()
	}

	var out Analysis
	if err := decodeLLMObject(resp, &out); err != nil {
		c.log.Warn("Unparsable analysis response", "error", err, "response", resp)
		return FailedAnalysis()
	}
	tag, ok := canonicalTag(out.Tag)
	summary := strings.TrimSpace(out.Summary)
	if !ok || summary == "" {
		c.log.Warn("Analysis returned an unknown tag or empty summary", "tag", out.Tag)
		return FailedAnalysis()
	}
	return Analysis{Tag: tag, Summary: summary}
}

// canonicalTag maps a model's tag onto the vocabulary, ignoring case and
// treating spaces and hyphens as underscores. analysis_failed is reserved for
// FailedAnalysis and never accepted from the model.
func canonicalTag(tag string) (string, bool) {
	norm := strings.ToLower(strings.TrimSpace(tag))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	for _, t := range OutcomeTags {
		if t == norm && t != TagAnalysisFailed {
			return t, true
		}
	}
	return "", false
}
