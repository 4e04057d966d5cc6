// Package agent holds the conversation routing state machine: given a
// contact's classification state and a merged inbound turn, it decides
// whether to classify, respond, probe, or stay silent.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/altair-labs/salesagent/internal/ai"
	"github.com/altair-labs/salesagent/internal/bus"
	"github.com/altair-labs/salesagent/internal/knowledge"
	"github.com/altair-labs/salesagent/internal/store"
	"github.com/altair-labs/salesagent/internal/timeutil"
)

// Inference is the slice of the AI client the router needs.
type Inference interface {
	Generate(ctx context.Context, systemPrompt string, history []ai.Turn, temperature float64) (string, error)
	ClassifyJSON(ctx context.Context, prompt string) (*ai.Classification, error)
}

// Publisher publishes JSON payloads onto a named queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, v any) error
}

// Phrases in a sales response that indicate the bot committed to a call.
var callKeywords = []string{
	"записал на",
	"созвонимся",
	"позвоним",
	"запланировал созвон",
	"назначил встречу",
}

// Router routes merged inbound turns through classify / respond / probe /
// ignore, and cancels active follow-ups on any contact reply.
type Router struct {
	contacts  store.ContactStore
	messages  store.MessageStore
	followUps store.FollowUpStore
	calls     store.CallStore

	inference  Inference
	publisher  Publisher
	outQueue   string
	knowledge  *knowledge.Loader
	prompts    Prompts
	biz        *timeutil.Business
	maxContext int
}

// NewRouter wires the routing state machine.
func NewRouter(stores *store.Stores, inference Inference, publisher Publisher, outQueue string,
	kb *knowledge.Loader, prompts Prompts, biz *timeutil.Business, maxContext int) *Router {
	if maxContext <= 0 {
		maxContext = 20
	}
	return &Router{
		contacts:   stores.Contacts,
		messages:   stores.Messages,
		followUps:  stores.FollowUps,
		calls:      stores.Calls,
		inference:  inference,
		publisher:  publisher,
		outQueue:   outQueue,
		knowledge:  kb,
		prompts:    prompts,
		biz:        biz,
		maxContext: maxContext,
	}
}

// HandleTurn processes one merged inbound turn for a contact. AI failures
// end in "no reply sent", never in an error that would requeue the turn.
func (r *Router) HandleTurn(ctx context.Context, contact *store.Contact, turn *store.Message) {
	// Any inbound turn counts as engagement: cancel outreach first.
	stopped, err := r.followUps.Stop(ctx, contact.ID, store.StopClientResponded)
	if err != nil {
		slog.Error("routing: stop follow-up failed", "contact", contact.ID, "error", err)
	} else if stopped {
		slog.Info("routing: client responded, follow-up stopped", "contact", contact.ID)
	}

	switch {
	case !contact.Classified():
		r.handleUnclassified(ctx, contact, turn)
	case *contact.IsClient:
		slog.Info("routing: client message, generating sales response", "contact", contact.ID)
		r.respond(ctx, contact, turn.Text)
	default:
		slog.Info("routing: non-client message ignored", "contact", contact.ID)
	}
}

func (r *Router) handleUnclassified(ctx context.Context, contact *store.Contact, turn *store.Message) {
	count, err := r.messages.Count(ctx, contact.ID)
	if err != nil {
		slog.Error("routing: count messages failed", "contact", contact.ID, "error", err)
		return
	}
	if count < 1 {
		slog.Info("routing: not enough messages to classify", "contact", contact.ID)
		return
	}

	verdict := r.Classify(ctx, contact)
	switch {
	case verdict == nil:
		slog.Info("routing: classification uncertain, probing", "contact", contact.ID)
		r.probe(ctx, contact, turn.Text)
	case *verdict:
		slog.Info("routing: contact classified as client", "contact", contact.ID)
		r.respond(ctx, contact, turn.Text)
	default:
		slog.Info("routing: contact classified as non-client", "contact", contact.ID)
	}
}

// Classify runs the moderator over the contact's conversation window and
// persists a settled verdict. Returns nil when indeterminate (state stays
// unclassified). Also used by the explicit classify command.
func (r *Router) Classify(ctx context.Context, contact *store.Contact) *bool {
	window, err := r.messages.Recent(ctx, contact.ID, r.maxContext)
	if err != nil {
		slog.Error("routing: load window failed", "contact", contact.ID, "error", err)
		return nil
	}
	if len(window) == 0 {
		return nil
	}

	prompt := Fill(r.prompts.Moderator, map[string]string{
		"contact_name":         orDefault(contact.Name, "Неизвестно"),
		"full_name":            orDefault(contact.FullName, "Неизвестно"),
		"business_name":        orDefault(contact.BusinessName, "Нет"),
		"conversation_history": FormatConversation(window),
	})

	result, err := r.inference.ClassifyJSON(ctx, prompt)
	if err != nil {
		slog.Error("routing: classifier call failed", "contact", contact.ID, "error", err)
		return nil
	}

	slog.Info("routing: classification result",
		"contact", contact.ID,
		"is_client", boolPtrString(result.IsClient),
		"confidence", result.Confidence,
		"reasoning", result.Reasoning)

	if result.IsClient == nil {
		return nil
	}
	if err := r.contacts.SetClassification(ctx, contact.ID, *result.IsClient, result.Confidence, result.Reasoning); err != nil {
		slog.Error("routing: save classification failed", "contact", contact.ID, "error", err)
		return nil
	}
	contact.IsClient = result.IsClient
	contact.Confidence = result.Confidence
	contact.Reasoning = result.Reasoning
	return result.IsClient
}

// respond generates and sends a sales response to the merged turn.
func (r *Router) respond(ctx context.Context, contact *store.Contact, newMessage string) {
	window, err := r.messages.Recent(ctx, contact.ID, r.maxContext)
	if err != nil {
		slog.Error("routing: load window failed", "contact", contact.ID, "error", err)
		return
	}

	systemPrompt := Fill(r.prompts.Sales, map[string]string{
		"knowledge_base":       r.knowledge.Full(),
		"conversation_history": FormatConversation(window),
		"new_message":          newMessage,
		"current_datetime":     r.biz.FormatForUser(r.biz.Now()),
	})

	response, err := r.inference.Generate(ctx, systemPrompt, HistoryTurns(window), 0.7)
	if err != nil || response == "" {
		slog.Error("routing: sales generation failed, no reply sent", "contact", contact.ID, "error", err)
		return
	}

	if err := r.persistAndSend(ctx, contact, response, true); err != nil {
		slog.Error("routing: deliver sales response failed", "contact", contact.ID, "error", err)
		return
	}
	r.checkForCallScheduling(ctx, contact, response)
	slog.Info("routing: sales response queued", "contact", contact.ID, "chars", len(response))
}

// probe sends a short generic engagement message without changing state.
func (r *Router) probe(ctx context.Context, contact *store.Contact, newMessage string) {
	window, err := r.messages.Recent(ctx, contact.ID, 5)
	if err != nil {
		slog.Error("routing: load window failed", "contact", contact.ID, "error", err)
		return
	}

	prompt := Fill(r.prompts.Probe, map[string]string{
		"new_message":          newMessage,
		"conversation_history": FormatConversation(window),
	})

	text, err := r.inference.Generate(ctx, prompt, nil, 0.7)
	if err != nil || text == "" {
		slog.Warn("routing: probe generation failed, using fallback", "contact", contact.ID, "error", err)
		text = FallbackProbeText
	}

	if err := r.persistAndSend(ctx, contact, text, false); err != nil {
		slog.Error("routing: deliver probe failed", "contact", contact.ID, "error", err)
		return
	}
	slog.Info("routing: probe message queued", "contact", contact.ID)
}

// persistAndSend stores a bot-authored turn and publishes it outbound.
// Persisting first is mandatory so later context windows include it.
func (r *Router) persistAndSend(ctx context.Context, contact *store.Contact, text string, markRead bool) error {
	msg := &store.Message{
		ContactID:   contact.ID,
		PhoneNumber: contact.PhoneNumber,
		Text:        text,
		FromBot:     true,
	}
	if err := r.messages.InsertBot(ctx, msg); err != nil {
		return err
	}

	out := bus.OutboundMessage{
		PhoneNumber: contact.PhoneNumber,
		MessageText: text,
		MarkAsRead:  markRead,
		ContactID:   contact.ID.String(),
	}
	if err := r.publisher.Publish(ctx, r.outQueue, out); err != nil {
		return fmt.Errorf("publish outbound: %w", err)
	}
	return nil
}

// checkForCallScheduling records a placeholder appointment when the response
// commits to a call.
func (r *Router) checkForCallScheduling(ctx context.Context, contact *store.Contact, response string) {
	lower := strings.ToLower(response)
	for _, kw := range callKeywords {
		if strings.Contains(lower, kw) {
			next := r.biz.NextWorkingTime()
			notes := "Автоматически создано из ответа бота: " + truncateRunes(response, 200)
			if err := r.calls.Schedule(ctx, contact.ID, next, r.biz.Timezone(), notes); err != nil {
				slog.Error("routing: schedule call failed", "contact", contact.ID, "error", err)
				return
			}
			slog.Info("routing: call scheduled", "contact", contact.ID, "at", next)
			return
		}
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func boolPtrString(b *bool) string {
	if b == nil {
		return "null"
	}
	if *b {
		return "true"
	}
	return "false"
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
