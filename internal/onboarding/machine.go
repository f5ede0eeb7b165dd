package onboarding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"arogyabot/internal/domain"
)

const welcomeMessage = `🩺 Welcome to Healthcare Bot!

I'm here to provide you with personalized medical guidance. Before I can help you, I need to collect some important information about you.

This will only take a few minutes and will help me give you better, safer advice.

Let's start:`

const (
	alreadyCompleteOnStart   = "Welcome back! Your profile is already complete. How can I help you today?"
	alreadyCompleteOnAdvance = "Your profile is already complete! How can I help you today?"
)

// Machine drives the question-by-question profile intake. All state
// lives in the profile and session stores, so a restart resumes where
// the user left off.
type Machine struct {
	profiles  domain.ProfileStore
	sessions  domain.SessionStore
	questions []Question
	logger    *slog.Logger
}

func NewMachine(profiles domain.ProfileStore, sessions domain.SessionStore, logger *slog.Logger) *Machine {
	return &Machine{
		profiles:  profiles,
		sessions:  sessions,
		questions: Questions(),
		logger:    logger,
	}
}

// Start begins intake for an identity, creating the profile if needed.
// For an already complete profile it returns a welcome-back message
// without touching any state.
func (m *Machine) Start(ctx context.Context, identity string) (string, error) {
	profile, err := m.profiles.Get(ctx, identity)
	switch {
	case err == nil:
		if profile.IsComplete {
			return alreadyCompleteOnStart, nil
		}
	case errors.Is(err, domain.ErrNotFound):
		if _, err := m.profiles.Create(ctx, identity); err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
			return "", fmt.Errorf("cannot create profile: %w", err)
		}
	default:
		return "", fmt.Errorf("cannot load profile: %w", err)
	}

	if err := m.sessions.PutSession(ctx, domain.OnboardingSession{Identity: identity, Step: 0}); err != nil {
		return "", fmt.Errorf("cannot start onboarding session: %w", err)
	}

	m.logger.Info("onboarding started", "identity", identity)
	return welcomeMessage + "\n\n" + m.questions[0].Prompt(), nil
}

// Advance applies one answer. It returns the next prompt (or an error
// re-prompt, or the completion message) and whether intake finished
// with this answer. A rejected answer leaves the step unchanged.
func (m *Machine) Advance(ctx context.Context, identity, response string) (string, bool, error) {
	sess, err := m.sessions.GetSession(ctx, identity)
	if errors.Is(err, domain.ErrNotFound) {
		profile, perr := m.profiles.Get(ctx, identity)
		if perr == nil && profile.IsComplete {
			return alreadyCompleteOnAdvance, true, nil
		}
		reply, serr := m.Start(ctx, identity)
		return reply, false, serr
	}
	if err != nil {
		return "", false, fmt.Errorf("cannot load onboarding session: %w", err)
	}

	if sess.Step >= len(m.questions) {
		return m.finish(ctx, identity)
	}

	question := m.questions[sess.Step]
	patch, errMsg := question.Parse(response)
	if errMsg != "" {
		return "❌ " + errMsg + "\n\n" + question.Prompt(), false, nil
	}

	if _, err := m.profiles.Update(ctx, identity, patch); err != nil {
		m.logger.Error("cannot save onboarding answer", "identity", identity, "field", question.Field, "error", err)
		return "❌ There was an error saving your response. Please try again.\n\n" + question.Prompt(), false, nil
	}

	sess.Step++
	sess.CompletedFields = append(sess.CompletedFields, question.Field)
	if err := m.sessions.PutSession(ctx, *sess); err != nil {
		return "", false, fmt.Errorf("cannot persist onboarding progress: %w", err)
	}

	if sess.Step >= len(m.questions) {
		return m.finish(ctx, identity)
	}

	next := m.questions[sess.Step]
	return fmt.Sprintf("✅ Thank you!\n\n(%d/%d) %s", sess.Step, len(m.questions), next.Prompt()), false, nil
}

func (m *Machine) finish(ctx context.Context, identity string) (string, bool, error) {
	if err := m.sessions.CompleteOnboarding(ctx, identity); err != nil {
		return "", false, fmt.Errorf("cannot complete onboarding: %w", err)
	}

	profile, err := m.profiles.Get(ctx, identity)
	if err != nil {
		m.logger.Error("profile missing after onboarding completion", "identity", identity, "error", err)
		return "Your profile setup is complete! How can I help you today?", true, nil
	}

	name, district, preference := "there", "your area", "your preferences"
	if profile.Name != nil {
		name = *profile.Name
	}
	if profile.District != nil {
		district = *profile.District
	}
	if profile.Preference != nil {
		preference = string(*profile.Preference)
	}

	m.logger.Info("onboarding completed", "identity", identity)
	return fmt.Sprintf(`🎉 Congratulations %s!

Your health profile is now complete. I can now provide you with personalized medical guidance based on your:
• Age and gender
• Location (%s)
• Medical preferences (%s)
• Health conditions and allergies

💬 You can now ask me about:
• Symptoms and health concerns
• Medication advice
• Local health alerts
• General medical questions
• Upload medical reports for analysis

How can I help you today?

⚠️ Remember: This is AI guidance only. Please consult a doctor for confirmation.`, name, district, preference), true, nil
}

// InProgress reports whether the identity has an open intake session.
func (m *Machine) InProgress(ctx context.Context, identity string) bool {
	_, err := m.sessions.GetSession(ctx, identity)
	return err == nil
}
