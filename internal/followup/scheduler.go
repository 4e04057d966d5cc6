// Package followup runs the outreach scheduler: a polling loop that starts
// follow-up sequences for clients who went quiet and advances due touches,
// bounded at five touches per sequence.
package followup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/altair-labs/salesagent/internal/agent"
	"github.com/altair-labs/salesagent/internal/bus"
	"github.com/altair-labs/salesagent/internal/store"
	"github.com/altair-labs/salesagent/internal/timeutil"
)

// Scheduler polls for eligible and due follow-up sequences.
type Scheduler struct {
	contacts  store.ContactStore
	messages  store.MessageStore
	followUps store.FollowUpStore

	inference agent.Inference
	publisher agent.Publisher
	outQueue  string
	prompts   agent.Prompts
	biz       *timeutil.Business

	poll       time.Duration
	startAfter time.Duration
	intervals  []time.Duration
	maxContext int

	now func() time.Time
}

// New wires a scheduler. intervals must carry one gap per touch; the first
// entry doubles as the delay before touch 1.
func New(stores *store.Stores, inference agent.Inference, publisher agent.Publisher, outQueue string,
	prompts agent.Prompts, biz *timeutil.Business, poll, startAfter time.Duration, intervals []time.Duration) *Scheduler {
	return &Scheduler{
		contacts:   stores.Contacts,
		messages:   stores.Messages,
		followUps:  stores.FollowUps,
		inference:  inference,
		publisher:  publisher,
		outQueue:   outQueue,
		prompts:    prompts,
		biz:        biz,
		poll:       poll,
		startAfter: startAfter,
		intervals:  intervals,
		maxContext: 20,
		now:        time.Now,
	}
}

// Run loops until ctx is canceled. Each cycle starts new sequences for
// eligible clients, then advances every due sequence. Failures inside a
// cycle are logged and never stop the loop.
func (s *Scheduler) Run(ctx context.Context) {
	slog.Info("follow-up scheduler started", "poll", s.poll, "intervals", s.intervals)
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		s.Cycle(ctx)
		select {
		case <-ctx.Done():
			slog.Info("follow-up scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

// Cycle runs one start pass and one advance pass.
func (s *Scheduler) Cycle(ctx context.Context) {
	s.startPass(ctx)
	s.advancePass(ctx)
}

func (s *Scheduler) startPass(ctx context.Context) {
	clients, err := s.contacts.Clients(ctx)
	if err != nil {
		slog.Error("follow-up: list clients failed", "error", err)
		return
	}

	for _, c := range clients {
		if ctx.Err() != nil {
			return
		}
		ok, err := s.eligible(ctx, c)
		if err != nil {
			slog.Error("follow-up: eligibility check failed", "contact", c.ID, "error", err)
			continue
		}
		if !ok {
			continue
		}

		next := s.now().Add(s.intervals[0])
		f, err := s.followUps.Create(ctx, c.ID, next)
		if errors.Is(err, store.ErrActiveFollowUp) {
			continue
		}
		if err != nil {
			slog.Error("follow-up: create sequence failed", "contact", c.ID, "error", err)
			continue
		}
		slog.Info("follow-up: sequence started", "contact", c.ID, "follow_up", f.ID, "next_touch_at", next)
	}
}

// eligible reports whether the contact should enter outreach: the
// conversation ends with a bot message old enough, and the client's last
// word was not a definitive yes or no.
func (s *Scheduler) eligible(ctx context.Context, c *store.Contact) (bool, error) {
	if _, err := s.followUps.Active(ctx, c.ID); err == nil {
		return false, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return false, err
	}

	window, err := s.messages.Recent(ctx, c.ID, s.maxContext)
	if err != nil {
		return false, err
	}
	if len(window) == 0 {
		return false, nil
	}

	last := window[len(window)-1]
	if !last.FromBot {
		return false, nil
	}
	if s.now().Sub(last.Timestamp) < s.startAfter {
		return false, nil
	}

	if Definitive(lastClientText(window)) {
		return false, nil
	}
	return true, nil
}

func (s *Scheduler) advancePass(ctx context.Context) {
	due, err := s.followUps.Due(ctx, s.now())
	if err != nil {
		slog.Error("follow-up: list due sequences failed", "error", err)
		return
	}

	for _, f := range due {
		if ctx.Err() != nil {
			return
		}
		if err := s.touch(ctx, f); err != nil {
			// Left as-is: the sequence stays due and the next cycle retries.
			slog.Error("follow-up: touch failed", "follow_up", f.ID, "touch", f.TouchNumber, "error", err)
		}
	}
}

// touch sends one follow-up message and moves the sequence forward.
func (s *Scheduler) touch(ctx context.Context, f *store.FollowUp) error {
	contact, err := s.contacts.ByID(ctx, f.ContactID)
	if err != nil {
		return fmt.Errorf("load contact: %w", err)
	}

	window, err := s.messages.Recent(ctx, f.ContactID, s.maxContext)
	if err != nil {
		return fmt.Errorf("load window: %w", err)
	}

	// A definitive answer that slipped past the stop path ends the
	// sequence without another touch.
	switch AnalyzeResponse(lastClientText(window)) {
	case ReasonYes:
		return s.finish(ctx, f, store.StopClientSaidYes)
	case ReasonNo:
		return s.finish(ctx, f, store.StopClientSaidNo)
	}

	text, err := s.generate(ctx, f, window)
	if err != nil {
		return fmt.Errorf("generate touch %d: %w", f.TouchNumber, err)
	}

	now := s.now()
	if err := s.messages.InsertBot(ctx, &store.Message{
		ContactID:   f.ContactID,
		PhoneNumber: contact.PhoneNumber,
		Text:        text,
		Timestamp:   now,
	}); err != nil {
		return fmt.Errorf("persist touch message: %w", err)
	}

	out := bus.OutboundMessage{
		PhoneNumber: contact.PhoneNumber,
		MessageText: text,
	}
	if err := s.publisher.Publish(ctx, s.outQueue, out); err != nil {
		return fmt.Errorf("publish touch message: %w", err)
	}

	if f.TouchNumber >= store.MaxTouches {
		return s.finish(ctx, f, store.StopCompleted)
	}

	next := now.Add(s.intervals[f.TouchNumber])
	moved, err := s.followUps.Advance(ctx, f.ID, f.TouchNumber, next, now)
	if err != nil {
		return fmt.Errorf("advance sequence: %w", err)
	}
	if moved {
		slog.Info("follow-up: touch sent", "contact", f.ContactID, "follow_up", f.ID,
			"touch", f.TouchNumber, "next_touch_at", next)
	} else {
		slog.Info("follow-up: sequence changed concurrently, advance skipped", "follow_up", f.ID)
	}
	return nil
}

func (s *Scheduler) finish(ctx context.Context, f *store.FollowUp, reason string) error {
	done, err := s.followUps.Complete(ctx, f.ID, f.TouchNumber, reason, s.now())
	if err != nil {
		return fmt.Errorf("complete sequence: %w", err)
	}
	if done {
		slog.Info("follow-up: sequence completed", "contact", f.ContactID, "follow_up", f.ID, "reason", reason)
	}
	return nil
}

func (s *Scheduler) generate(ctx context.Context, f *store.FollowUp, window []*store.Message) (string, error) {
	lastBot, lastClient := lastBotText(window), lastClientText(window)

	hoursSince := 0.0
	if len(window) > 0 {
		hoursSince = s.now().Sub(window[len(window)-1].Timestamp).Hours()
	}

	prompt := agent.Fill(s.prompts.FollowUp, map[string]string{
		"touch_number":             strconv.Itoa(f.TouchNumber),
		"follow_up_reason":         AnalyzeResponse(lastClient),
		"hours_since_last_message": strconv.FormatFloat(hoursSince, 'f', 1, 64),
		"current_datetime":         s.biz.FormatForUser(s.now()),
		"conversation_history":     agent.FormatConversation(window),
		"last_bot_message":         lastBot,
		"last_client_message":      lastClient,
	})
	return s.inference.Generate(ctx, prompt, nil, 0.8)
}

func lastBotText(window []*store.Message) string {
	for i := len(window) - 1; i >= 0; i-- {
		if window[i].FromBot {
			return agent.MessageText(window[i])
		}
	}
	return ""
}

func lastClientText(window []*store.Message) string {
	for i := len(window) - 1; i >= 0; i-- {
		if !window[i].FromBot {
			return agent.MessageText(window[i])
		}
	}
	return ""
}
