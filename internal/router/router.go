// Package router is the conversation core: it consumes inbound events,
// gates everything behind profile completion, dispatches completed
// profiles to the content handlers and runs every reply through the
// safety engine before it leaves the system.
package router

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"arogyabot/internal/domain"
	"arogyabot/internal/handler"
	"arogyabot/internal/metrics"
	"arogyabot/internal/onboarding"
	"arogyabot/internal/safety"
	"arogyabot/internal/session"
)

const (
	apologyReply = "I'm sorry, I'm having trouble processing your message right now. Please try again."

	unsupportedMediaReply = "Sorry, I can only process text messages, images (JPG, PNG, WEBP) and documents (PDF, DOC, DOCX). Please send your question as text or a supported attachment."

	finishProfileReply = "Please finish setting up your profile first. Once your profile is complete, you can share images and documents for analysis."
)

// Router executes the per-event algorithm. One inbound event produces
// exactly one outbound reply, always.
type Router struct {
	bus         domain.MessageBus
	profiles    domain.ProfileStore
	records     domain.RecordStore
	intake      *onboarding.Machine
	registry    *session.Registry
	safety      *safety.Engine
	text        *handler.TextHandler
	media       *handler.MediaHandler
	concurrency int
	timeout     time.Duration
	logger      *slog.Logger
}

type Config struct {
	Bus      domain.MessageBus
	Profiles domain.ProfileStore
	Records  domain.RecordStore
	Intake   *onboarding.Machine
	Registry *session.Registry
	Safety   *safety.Engine
	Text     *handler.TextHandler
	Media    *handler.MediaHandler
	// Concurrency caps in-flight events across all identities.
	Concurrency int
	// Timeout bounds each collaborator-facing stage so a hung external
	// call never pins an identity's lock.
	Timeout time.Duration
	Logger  *slog.Logger
}

func New(cfg Config) *Router {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Router{
		bus:         cfg.Bus,
		profiles:    cfg.Profiles,
		records:     cfg.Records,
		intake:      cfg.Intake,
		registry:    cfg.Registry,
		safety:      cfg.Safety,
		text:        cfg.Text,
		media:       cfg.Media,
		concurrency: cfg.Concurrency,
		timeout:     cfg.Timeout,
		logger:      cfg.Logger,
	}
}

// Run consumes the bus until the context is canceled or the bus
// closes. Events run on their own goroutines, capped by a semaphore.
func (r *Router) Run(ctx context.Context) {
	r.logger.Info("router started", "concurrency", r.concurrency, "timeout", r.timeout)
	sem := make(chan struct{}, r.concurrency)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("router stopping")
			return
		case msg, ok := <-r.bus.Subscribe():
			if !ok {
				r.logger.Info("inbound bus closed, router stopping")
				return
			}
			sem <- struct{}{}
			go func(m domain.InboundMessage) {
				defer func() { <-sem }()
				r.Process(ctx, m)
			}(msg)
		}
	}
}

// Process handles one inbound event end to end and sends the reply.
func (r *Router) Process(ctx context.Context, msg domain.InboundMessage) {
	start := time.Now()
	metrics.MessagesTotal.Inc()
	metrics.InFlightEvents.Inc()
	defer metrics.InFlightEvents.Dec()

	text := r.handle(ctx, msg)

	r.bus.SendReply(domain.Reply{Channel: msg.Channel, To: msg.SenderID, Text: text})
	metrics.RepliesTotal.Inc()
	metrics.EventLatency.Observe(time.Since(start).Seconds())
}

// handle produces the single reply text for an event. Nothing escapes:
// panics and unexpected errors become the fixed apology.
func (r *Router) handle(ctx context.Context, msg domain.InboundMessage) (out string) {
	identity := msg.SenderID

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("event handling panicked", "identity", identity, "panic", rec)
			metrics.HandlerFailures.Inc()
			out = apologyReply
		}
	}()

	release := r.registry.Acquire(identity)
	defer release()

	token, err := r.registry.Current(ctx, identity)
	if err != nil {
		r.logger.Warn("cannot resolve session token", "identity", identity, "error", err)
	}

	kind := Classify(msg.MediaURL != "", msg.MediaContentType)

	profile, err := r.loadOrCreateProfile(ctx, identity)
	if err != nil {
		r.logger.Error("cannot load profile", "identity", identity, "error", err)
		metrics.HandlerFailures.Inc()
		return apologyReply
	}

	var (
		text     string
		language = "en"
	)

	switch {
	case kind == domain.KindUnsupported:
		metrics.UnsupportedMedia.Inc()
		text = unsupportedMediaReply

	case !profile.IsComplete || r.intake.InProgress(ctx, identity):
		// The profile turns complete after the last required answer while
		// the optional questions are still open, so a live session keeps
		// routing here until the machine finishes.
		// Attachments are never consumed as onboarding answers.
		if kind == domain.KindImage || kind == domain.KindDocument {
			text = finishProfileReply
			break
		}
		text = r.runOnboarding(ctx, identity, msg.Body)

	default:
		cctx, cancel := context.WithTimeout(ctx, r.timeout)
		collabStart := time.Now()
		switch kind {
		case domain.KindImage:
			text = r.media.HandleImage(cctx, profile, msg.MediaURL)
		case domain.KindDocument:
			text = r.media.HandleDocument(cctx, profile, msg.MediaURL, msg.MediaContentType)
		default:
			res := r.text.Handle(cctx, profile, msg.Body)
			text, language = res.Text, res.Language
		}
		cancel()
		metrics.CollaboratorLatency.Observe(time.Since(collabStart).Seconds())
	}

	// Safety gate on every candidate reply, whatever produced it.
	verdict := r.safety.Evaluate(text, profile)
	if verdict.Flagged() {
		metrics.SafetyFlagsTotal.Inc()
	}
	if verdict.RequiresImmediateAttention {
		metrics.EmergenciesTotal.Inc()
		text = verdict.WarningMessage + "\n\n" + safety.EmergencyResponse(verdict.EmergencyKind) + "\n\n" + text
	}
	for _, w := range safety.DosageWarnings(text, profile.Age) {
		text += "\n\n⚠️ " + w
	}
	text = safety.ApplyDisclaimer(text)

	if err := r.records.AppendRecord(ctx, domain.ChatRecord{
		Identity:     identity,
		SessionToken: token,
		ContentKind:  kind,
		RequestText:  msg.Body,
		ResponseText: text,
		Language:     language,
	}); err != nil {
		// The reply still goes out, history is best-effort.
		r.logger.Error("cannot append chat record", "identity", identity, "error", err)
	}

	return text
}

func (r *Router) loadOrCreateProfile(ctx context.Context, identity string) (*domain.Profile, error) {
	profile, err := r.profiles.Get(ctx, identity)
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	profile, err = r.profiles.Create(ctx, identity)
	if errors.Is(err, domain.ErrAlreadyExists) {
		// Lost a create race with another event for this identity.
		return r.profiles.Get(ctx, identity)
	}
	return profile, err
}

func (r *Router) runOnboarding(ctx context.Context, identity, body string) string {
	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var (
		text string
		done bool
		err  error
	)
	if r.intake.InProgress(cctx, identity) {
		text, done, err = r.intake.Advance(cctx, identity, body)
	} else {
		text, err = r.intake.Start(cctx, identity)
	}
	if err != nil {
		r.logger.Error("onboarding step failed", "identity", identity, "error", err)
		metrics.HandlerFailures.Inc()
		return apologyReply
	}
	if done {
		metrics.OnboardingCompleted.Inc()
	}
	return text
}
