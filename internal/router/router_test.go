package router

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"arogyabot/internal/bus"
	"arogyabot/internal/domain"
	"arogyabot/internal/handler"
	"arogyabot/internal/onboarding"
	"arogyabot/internal/safety"
	"arogyabot/internal/session"
	"arogyabot/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeTranslator struct{}

func (fakeTranslator) DetectAndTranslate(_ context.Context, text string) (string, string, error) {
	return "en", text, nil
}
func (fakeTranslator) FromEnglish(_ context.Context, english, _ string) (string, error) {
	return english, nil
}

type fakeGenerator struct {
	answer string
	panics bool
}

func (f *fakeGenerator) Generate(_ context.Context, _, _, _ string) (string, error) {
	if f.panics {
		panic("generator exploded")
	}
	return f.answer, nil
}

type fakeDownloader struct{ path string }

func (f fakeDownloader) Download(_ context.Context, _, _ string) (string, error) {
	return f.path, nil
}

type fakeVision struct{ analysis string }

func (f fakeVision) AnalyzeImage(_ context.Context, _, _ string) (string, error) {
	return f.analysis, nil
}
func (f fakeVision) ExtractDocument(_ context.Context, _, _ string) (string, error) {
	return f.analysis, nil
}

type fakeIngester struct{}

func (fakeIngester) Ingest(_ context.Context, _, _, _, _ string) (string, error) {
	return "doc1", nil
}

type harness struct {
	router  *Router
	store   *store.SQLiteStore
	intake  *onboarding.Machine
	replies chan domain.Reply
	gen     *fakeGenerator
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	logger := testLogger()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), logger)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	b := bus.New(64, logger)
	t.Cleanup(b.Close)
	replies := make(chan domain.Reply, 64)
	b.OnReply("test", func(r domain.Reply) { replies <- r })

	gen := &fakeGenerator{answer: "Drink warm fluids and rest."}
	intake := onboarding.NewMachine(s, s, logger)

	r := New(Config{
		Bus:      b,
		Profiles: s,
		Records:  s,
		Intake:   intake,
		Registry: session.NewRegistry(session.NewMemoryCache(), 30*time.Minute),
		Safety:   safety.NewEngine(safety.DefaultRules(), logger),
		Text:     handler.NewTextHandler(fakeTranslator{}, gen, nil, 5, logger),
		Media: handler.NewMediaHandler(
			fakeDownloader{path: "/tmp/x.jpg"},
			fakeVision{analysis: "Mild rash, keep the area clean."},
			fakeIngester{}, logger,
		),
		Concurrency: 4,
		Timeout:     5 * time.Second,
		Logger:      logger,
	})

	return &harness{router: r, store: s, intake: intake, replies: replies, gen: gen}
}

func (h *harness) send(t *testing.T, identity, body string) domain.Reply {
	t.Helper()
	return h.sendMedia(t, identity, body, "", "")
}

func (h *harness) sendMedia(t *testing.T, identity, body, mediaURL, contentType string) domain.Reply {
	t.Helper()
	h.router.Process(context.Background(), domain.InboundMessage{
		Channel: "test", SenderID: identity, Body: body,
		MediaURL: mediaURL, MediaContentType: contentType,
		Timestamp: time.Now(),
	})
	select {
	case r := <-h.replies:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no reply produced")
		return domain.Reply{}
	}
}

// --- Check: End-to-end scenario ---

func TestEndToEnd_OnboardingThenCannedQuery(t *testing.T) {
	h := newHarness(t)
	identity := "whatsapp:+911234567890"

	first := h.send(t, identity, "Hi")
	if !strings.Contains(first.Text, "🩺 Welcome to Healthcare Bot!") ||
		!strings.Contains(first.Text, "What is your full name?") {
		t.Fatalf("first reply: %q", first.Text)
	}

	answers := []string{"John", "30", "male", "Pune", "Maharashtra", "english", "none", "none", "none"}
	var last domain.Reply
	for _, a := range answers {
		last = h.send(t, identity, a)
	}
	for _, frag := range []string{"John", "Pune", "english", "🎉 Congratulations"} {
		if !strings.Contains(last.Text, frag) {
			t.Fatalf("completion missing %q: %q", frag, last.Text)
		}
	}

	tenth := h.send(t, identity, "I have a headache")
	if !strings.Contains(tenth.Text, "🤕 **Headache Relief:**") {
		t.Fatalf("expected canned headache reply, got %q", tenth.Text)
	}
	if strings.Contains(tenth.Text, h.gen.answer) {
		t.Fatal("canned match must not fall through to the generator")
	}
	if got := strings.Count(tenth.Text, "This is AI guidance only"); got != 1 {
		t.Fatalf("disclaimer should appear exactly once, got %d in %q", got, tenth.Text)
	}

	recs, err := h.store.RecentRecords(context.Background(), identity, 20)
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if len(recs) != 11 {
		t.Fatalf("expected 11 chat records, got %d", len(recs))
	}
	if recs[0].SessionToken == "" || recs[0].SessionToken != recs[10].SessionToken {
		t.Fatal("all records should share one session token")
	}
}

// --- Check: Onboarding guards ---

func TestAttachmentDuringOnboarding_DoesNotAdvance(t *testing.T) {
	h := newHarness(t)
	identity := "alice"
	ctx := context.Background()

	h.send(t, identity, "Hi")
	h.send(t, identity, "Alice")

	before, err := h.store.GetSession(ctx, identity)
	if err != nil {
		t.Fatal(err)
	}

	reply := h.sendMedia(t, identity, "", "https://media/x", "image/png")
	if !strings.Contains(reply.Text, "finish setting up your profile first") {
		t.Fatalf("expected profile guard, got %q", reply.Text)
	}

	after, err := h.store.GetSession(ctx, identity)
	if err != nil {
		t.Fatal(err)
	}
	if after.Step != before.Step {
		t.Fatalf("attachment must not consume an onboarding step: %d -> %d", before.Step, after.Step)
	}
}

func TestDuplicateFinalAnswer_IdempotentCompletion(t *testing.T) {
	h := newHarness(t)
	identity := "bob"
	ctx := context.Background()

	h.send(t, identity, "Hi")
	for _, a := range []string{"Bob", "40", "male", "Nagpur", "Maharashtra", "ayurvedic", "none", "none"} {
		h.send(t, identity, a)
	}

	// Redelivered final answer, concurrently. The per-identity lock
	// serializes the two events; whichever runs second finds the session
	// gone and a complete profile, so it is dispatched like any normal
	// question instead of re-running the completion.
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.router.Process(ctx, domain.InboundMessage{
				Channel: "test", SenderID: identity, Body: "none",
			})
		}()
	}
	wg.Wait()

	var completions int
	for i := 0; i < 2; i++ {
		r := <-h.replies
		if strings.Contains(r.Text, "🎉 Congratulations") {
			completions++
			continue
		}
		if strings.Contains(r.Text, "🎉") || strings.Contains(r.Text, "❌") {
			t.Fatalf("loser event must get a plain reply, got %q", r.Text)
		}
	}
	if completions != 1 {
		t.Fatalf("completion must fire exactly once, got %d", completions)
	}

	profile, err := h.store.Get(ctx, identity)
	if err != nil || !profile.IsComplete {
		t.Fatalf("profile should be complete: %+v, %v", profile, err)
	}
	if _, err := h.store.GetSession(ctx, identity); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("session should be deleted after completion, got %v", err)
	}
}

func TestConcurrentAnswers_AdvanceOneStepEach(t *testing.T) {
	h := newHarness(t)
	identity := "gita"
	ctx := context.Background()

	h.send(t, identity, "Hi")
	var sixth domain.Reply
	for _, a := range []string{"Gita", "45", "female", "Kochi", "Kerala", "english"} {
		sixth = h.send(t, identity, a)
	}
	// Required fields done, three optional questions left.
	if !strings.Contains(sixth.Text, "(6/9)") {
		t.Fatalf("expected prompt for question 7, got %q", sixth.Text)
	}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.router.Process(ctx, domain.InboundMessage{
				Channel: "test", SenderID: identity, Body: "none",
			})
		}()
	}
	wg.Wait()

	// Each answer advances exactly one step regardless of arrival order.
	counts := map[string]int{}
	for i := 0; i < 3; i++ {
		r := <-h.replies
		switch {
		case strings.Contains(r.Text, "(7/9)"):
			counts["q8"]++
		case strings.Contains(r.Text, "(8/9)"):
			counts["q9"]++
		case strings.Contains(r.Text, "🎉 Congratulations"):
			counts["done"]++
		default:
			t.Fatalf("unexpected reply: %q", r.Text)
		}
	}
	if counts["q8"] != 1 || counts["q9"] != 1 || counts["done"] != 1 {
		t.Fatalf("steps must advance once each, got %v", counts)
	}

	profile, err := h.store.Get(ctx, identity)
	if err != nil || !profile.IsComplete {
		t.Fatalf("profile should be complete: %+v, %v", profile, err)
	}
	if _, err := h.store.GetSession(ctx, identity); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("session should be deleted after completion, got %v", err)
	}
}

// --- Check: Dispatch ---

func TestUnsupportedMedia_FixedReply(t *testing.T) {
	h := newHarness(t)
	reply := h.sendMedia(t, "carol", "", "https://media/v", "audio/ogg")
	if !strings.Contains(reply.Text, "Sorry, I can only process") {
		t.Fatalf("expected unsupported-media reply, got %q", reply.Text)
	}
}

func TestImageDispatch_AfterCompleteProfile(t *testing.T) {
	h := newHarness(t)
	identity := "dave"

	h.send(t, identity, "Hi")
	for _, a := range []string{"Dave", "25", "male", "Delhi", "Delhi", "english", "none", "none", "none"} {
		h.send(t, identity, a)
	}

	reply := h.sendMedia(t, identity, "rash on my arm", "https://media/img", "image/jpeg")
	if !strings.Contains(reply.Text, "Mild rash, keep the area clean.") {
		t.Fatalf("expected vision analysis, got %q", reply.Text)
	}
	if !strings.Contains(reply.Text, "This is AI guidance only") {
		t.Fatal("disclaimer missing from analysis reply")
	}
}

// --- Check: Safety gate ---

func TestEmergencyAnswer_GetsBannerPrepended(t *testing.T) {
	h := newHarness(t)
	identity := "erin"

	h.send(t, identity, "Hi")
	for _, a := range []string{"Erin", "35", "female", "Mumbai", "Maharashtra", "english", "none", "none", "none"} {
		h.send(t, identity, a)
	}

	h.gen.answer = "That could be chest pain related, please get checked."
	reply := h.send(t, identity, "my left arm feels numb")
	if !strings.HasPrefix(reply.Text, "🚨 EMERGENCY: Seek immediate medical attention") {
		t.Fatalf("emergency banner missing: %q", reply.Text)
	}
	if !strings.Contains(reply.Text, "🚨 EMERGENCY - CHEST PAIN") ||
		!strings.Contains(reply.Text, "112/108") {
		t.Fatalf("first-aid guidance missing: %q", reply.Text)
	}
	if !strings.Contains(reply.Text, "chest pain related") {
		t.Fatalf("original content should follow the banner: %q", reply.Text)
	}
}

func TestDosageInAnswer_GetsVerificationWarning(t *testing.T) {
	h := newHarness(t)
	identity := "hari"

	h.send(t, identity, "Hi")
	for _, a := range []string{"Hari", "35", "male", "Surat", "Gujarat", "english", "none", "none", "none"} {
		h.send(t, identity, a)
	}

	h.gen.answer = "Take 500 mg paracetamol after food."
	reply := h.send(t, identity, "what should I take for mild body discomfort")
	if !strings.Contains(reply.Text, "⚠️ Verify dosage with healthcare provider") {
		t.Fatalf("dosage warning missing: %q", reply.Text)
	}
	if !strings.Contains(reply.Text, "500 mg paracetamol") {
		t.Fatalf("original advice should be kept: %q", reply.Text)
	}
}

// --- Check: Failure containment ---

func TestPanicInHandler_BecomesApology(t *testing.T) {
	h := newHarness(t)
	identity := "frank"

	h.send(t, identity, "Hi")
	for _, a := range []string{"Frank", "50", "male", "Jaipur", "Rajasthan", "english", "none", "none", "none"} {
		h.send(t, identity, a)
	}

	h.gen.panics = true
	reply := h.send(t, identity, "tell me something unusual")
	if reply.Text != apologyReply {
		t.Fatalf("expected fixed apology, got %q", reply.Text)
	}
}
