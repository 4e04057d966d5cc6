package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/altair-labs/salesagent/internal/ai"
	"github.com/altair-labs/salesagent/internal/bus"
	"github.com/altair-labs/salesagent/internal/knowledge"
	"github.com/altair-labs/salesagent/internal/store"
	"github.com/altair-labs/salesagent/internal/store/mem"
	"github.com/altair-labs/salesagent/internal/timeutil"
)

type fakeInference struct {
	generateReply string
	generateErr   error
	classifyOut   *ai.Classification
	classifyErr   error

	generateCalls int
	classifyCalls int
	lastPrompt    string
}

func (f *fakeInference) Generate(ctx context.Context, systemPrompt string, history []ai.Turn, temperature float64) (string, error) {
	f.generateCalls++
	f.lastPrompt = systemPrompt
	return f.generateReply, f.generateErr
}

func (f *fakeInference) ClassifyJSON(ctx context.Context, prompt string) (*ai.Classification, error) {
	f.classifyCalls++
	return f.classifyOut, f.classifyErr
}

type fakePublisher struct {
	published []bus.OutboundMessage
	err       error
}

func (f *fakePublisher) Publish(ctx context.Context, queue string, v any) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, v.(bus.OutboundMessage))
	return nil
}

func newTestRouter(t *testing.T, st *mem.Store, inf *fakeInference, pub *fakePublisher) *Router {
	t.Helper()
	biz, err := timeutil.NewBusiness("Asia/Almaty", 10, 18)
	if err != nil {
		t.Fatal(err)
	}
	kb := knowledge.NewLoader("", 3000)
	return NewRouter(st.Stores(), inf, pub, "outgoing_messages", kb, DefaultPrompts(), biz, 20)
}

func seedContact(t *testing.T, st *mem.Store, phone string) *store.Contact {
	t.Helper()
	c, err := st.GetOrCreate(context.Background(), phone, store.ContactProfile{Name: "Айдос"})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func seedInbound(t *testing.T, st *mem.Store, c *store.Contact, id, text string) *store.Message {
	t.Helper()
	m := &store.Message{
		ContactID:   c.ID,
		PhoneNumber: c.PhoneNumber,
		MessageID:   id,
		Text:        text,
		Timestamp:   time.Now(),
	}
	if _, err := st.InsertInbound(context.Background(), m); err != nil {
		t.Fatal(err)
	}
	return m
}

func markClient(t *testing.T, st *mem.Store, c *store.Contact, isClient bool) {
	t.Helper()
	if err := st.SetClassification(context.Background(), c.ID, isClient, 0.9, "test"); err != nil {
		t.Fatal(err)
	}
	v := isClient
	c.IsClient = &v
}

func TestHandleTurnClientGetsSalesResponse(t *testing.T) {
	st := mem.New()
	inf := &fakeInference{generateReply: "Конечно, расскажу подробнее."}
	pub := &fakePublisher{}
	r := newTestRouter(t, st, inf, pub)

	c := seedContact(t, st, "77011234567")
	markClient(t, st, c, true)
	turn := seedInbound(t, st, c, "m1", "Расскажите про тариф")

	r.HandleTurn(context.Background(), c, turn)

	if len(pub.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(pub.published))
	}
	out := pub.published[0]
	if out.PhoneNumber != c.PhoneNumber {
		t.Errorf("outbound phone = %q, want %q", out.PhoneNumber, c.PhoneNumber)
	}
	if out.MessageText != inf.generateReply {
		t.Errorf("outbound text = %q, want generated reply", out.MessageText)
	}
	if !out.MarkAsRead {
		t.Error("sales response should request mark-as-read")
	}

	// Bot turn persisted before publish.
	window, _ := st.Recent(context.Background(), c.ID, 10)
	last := window[len(window)-1]
	if !last.FromBot || last.Text != inf.generateReply {
		t.Errorf("last stored turn = %+v, want persisted bot reply", last)
	}
}

func TestHandleTurnNonClientStaysSilent(t *testing.T) {
	st := mem.New()
	inf := &fakeInference{generateReply: "should not be used"}
	pub := &fakePublisher{}
	r := newTestRouter(t, st, inf, pub)

	c := seedContact(t, st, "77011234567")
	markClient(t, st, c, false)
	turn := seedInbound(t, st, c, "m1", "Любое сообщение")

	r.HandleTurn(context.Background(), c, turn)

	if len(pub.published) != 0 {
		t.Errorf("published %d messages, want 0 for non-client", len(pub.published))
	}
	if inf.generateCalls != 0 {
		t.Errorf("inference called %d times, want 0", inf.generateCalls)
	}
}

func TestHandleTurnClassifiesUnknownAsClient(t *testing.T) {
	st := mem.New()
	isClient := true
	inf := &fakeInference{
		generateReply: "Добрый день! Чем помочь?",
		classifyOut:   &ai.Classification{IsClient: &isClient, Confidence: 0.92, Reasoning: "интересуется продуктом"},
	}
	pub := &fakePublisher{}
	r := newTestRouter(t, st, inf, pub)

	c := seedContact(t, st, "77011234567")
	turn := seedInbound(t, st, c, "m1", "Хочу узнать цену")

	r.HandleTurn(context.Background(), c, turn)

	stored, _ := st.ByPhone(context.Background(), c.PhoneNumber)
	if stored.IsClient == nil || !*stored.IsClient {
		t.Fatal("contact should be classified as client")
	}
	if stored.Confidence != 0.92 {
		t.Errorf("confidence = %v, want 0.92", stored.Confidence)
	}
	if len(pub.published) != 1 {
		t.Fatalf("published %d messages, want sales response after classification", len(pub.published))
	}
}

func TestHandleTurnUncertainProbesAndStaysUnknown(t *testing.T) {
	st := mem.New()
	inf := &fakeInference{
		generateReply: "Подскажите, что вас интересует?",
		classifyOut:   &ai.Classification{IsClient: nil, Confidence: 0.4},
	}
	pub := &fakePublisher{}
	r := newTestRouter(t, st, inf, pub)

	c := seedContact(t, st, "77011234567")
	turn := seedInbound(t, st, c, "m1", "привет")

	r.HandleTurn(context.Background(), c, turn)

	stored, _ := st.ByPhone(context.Background(), c.PhoneNumber)
	if stored.IsClient != nil {
		t.Error("contact should stay unclassified after uncertain verdict")
	}
	if len(pub.published) != 1 {
		t.Fatalf("published %d messages, want 1 probe", len(pub.published))
	}
	if pub.published[0].MarkAsRead {
		t.Error("probe should not request mark-as-read")
	}
}

func TestHandleTurnProbeFallsBackWhenGenerationFails(t *testing.T) {
	st := mem.New()
	inf := &fakeInference{
		generateErr: errors.New("api down"),
		classifyOut: &ai.Classification{IsClient: nil},
	}
	pub := &fakePublisher{}
	r := newTestRouter(t, st, inf, pub)

	c := seedContact(t, st, "77011234567")
	turn := seedInbound(t, st, c, "m1", "привет")

	r.HandleTurn(context.Background(), c, turn)

	if len(pub.published) != 1 {
		t.Fatalf("published %d messages, want 1 fallback probe", len(pub.published))
	}
	if pub.published[0].MessageText != FallbackProbeText {
		t.Errorf("probe text = %q, want fallback", pub.published[0].MessageText)
	}
}

func TestHandleTurnStopsActiveFollowUp(t *testing.T) {
	st := mem.New()
	inf := &fakeInference{generateReply: "Отлично!"}
	pub := &fakePublisher{}
	r := newTestRouter(t, st, inf, pub)

	c := seedContact(t, st, "77011234567")
	markClient(t, st, c, true)
	f, err := st.Create(context.Background(), c.ID, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	turn := seedInbound(t, st, c, "m1", "Я вернулся")

	r.HandleTurn(context.Background(), c, turn)

	got, ok := st.FollowUpByID(f.ID)
	if !ok {
		t.Fatal("sequence disappeared")
	}
	if !got.Completed || got.StopReason != store.StopClientResponded {
		t.Errorf("sequence = completed %v reason %q, want stopped with %q",
			got.Completed, got.StopReason, store.StopClientResponded)
	}
}

func TestHandleTurnAIErrorSendsNothing(t *testing.T) {
	st := mem.New()
	inf := &fakeInference{generateErr: errors.New("quota exceeded")}
	pub := &fakePublisher{}
	r := newTestRouter(t, st, inf, pub)

	c := seedContact(t, st, "77011234567")
	markClient(t, st, c, true)
	turn := seedInbound(t, st, c, "m1", "Вопрос")

	r.HandleTurn(context.Background(), c, turn)

	if len(pub.published) != 0 {
		t.Errorf("published %d messages, want 0 on generation failure", len(pub.published))
	}
}

func TestSalesResponseSchedulesCall(t *testing.T) {
	st := mem.New()
	inf := &fakeInference{generateReply: "Записал на завтра, созвонимся в 11:00."}
	pub := &fakePublisher{}
	r := newTestRouter(t, st, inf, pub)

	c := seedContact(t, st, "77011234567")
	markClient(t, st, c, true)
	turn := seedInbound(t, st, c, "m1", "Давайте созвон")

	r.HandleTurn(context.Background(), c, turn)

	calls := st.Calls()
	if len(calls) != 1 {
		t.Fatalf("scheduled %d calls, want 1", len(calls))
	}
	if calls[0].Status != "scheduled" {
		t.Errorf("call status = %q, want scheduled", calls[0].Status)
	}
}

func TestFormatConversation(t *testing.T) {
	if got := FormatConversation(nil); got != "Нет сообщений в переписке" {
		t.Errorf("empty window = %q", got)
	}

	window := []*store.Message{
		{Text: "Здравствуйте", FromBot: true},
		{Text: "ignored", IsVoice: true, VoiceTranscription: "Добрый день"},
	}
	got := FormatConversation(window)
	if !strings.Contains(got, "БОТ: Здравствуйте") {
		t.Errorf("missing bot line in %q", got)
	}
	if !strings.Contains(got, "КЛИЕНТ: [ГОЛОСОВОЕ] Добрый день") {
		t.Errorf("voice turn not tagged in %q", got)
	}
}

func TestFillReplacesPlaceholders(t *testing.T) {
	got := Fill("Привет, {name}! Сегодня {date}.", map[string]string{
		"name": "Айгерим",
		"date": "01.09.2026",
	})
	want := "Привет, Айгерим! Сегодня 01.09.2026."
	if got != want {
		t.Errorf("Fill = %q, want %q", got, want)
	}
}
