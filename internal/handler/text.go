// Package handler implements the content handlers the conversation
// router dispatches to once a profile is complete.
package handler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"arogyabot/internal/domain"
)

const (
	emptyQueryPrompt = "Please send me your health question or concern, and I'll do my best to help you."
	textFallback     = "I'm sorry, I couldn't process your message. Please try rephrasing your question."
)

// TextResult is what a handled text query produces: the final reply in
// the sender's language plus the language code for the chat record.
type TextResult struct {
	Text     string
	Language string
}

// TextHandler answers free-text health queries: translate in, canned
// match or generate with retrieved document context, translate out.
type TextHandler struct {
	translator domain.Translator
	generator  domain.Generator
	retriever  domain.Retriever
	topK       int
	logger     *slog.Logger
}

func NewTextHandler(translator domain.Translator, generator domain.Generator, retriever domain.Retriever, topK int, logger *slog.Logger) *TextHandler {
	if topK <= 0 {
		topK = 5
	}
	return &TextHandler{
		translator: translator,
		generator:  generator,
		retriever:  retriever,
		topK:       topK,
		logger:     logger,
	}
}

// Handle never fails the event: collaborator errors are logged and the
// fixed fallback message comes back instead.
func (h *TextHandler) Handle(ctx context.Context, profile *domain.Profile, body string) TextResult {
	if strings.TrimSpace(body) == "" {
		return TextResult{Text: emptyQueryPrompt, Language: "en"}
	}

	language, english, err := h.translator.DetectAndTranslate(ctx, body)
	if err != nil {
		h.logger.Warn("translation failed, using raw text", "identity", profile.Identity, "error", err)
		language, english = "en", body
	}

	if canned := CannedResponse(english); canned != "" {
		return h.reply(ctx, canned, language)
	}

	var retrieved string
	if h.retriever != nil {
		snippets, err := h.retriever.Search(ctx, english, h.topK, profile.Identity)
		if err != nil {
			h.logger.Warn("knowledge search failed", "identity", profile.Identity, "error", err)
		} else {
			var sb strings.Builder
			for i, s := range snippets {
				if i > 0 {
					sb.WriteString("\n\n---\n\n")
				}
				sb.WriteString(s.Content)
			}
			retrieved = sb.String()
		}
	}

	answer, err := h.generator.Generate(ctx, english, ProfileContext(profile), retrieved)
	if err != nil {
		h.logger.Error("answer generation failed", "identity", profile.Identity, "error", err)
		return TextResult{Text: textFallback, Language: language}
	}

	return h.reply(ctx, answer, language)
}

func (h *TextHandler) reply(ctx context.Context, english, language string) TextResult {
	out, err := h.translator.FromEnglish(ctx, english, language)
	if err != nil {
		h.logger.Warn("reply translation failed, sending English", "language", language, "error", err)
		out = english
	}
	return TextResult{Text: out, Language: language}
}

// ProfileContext renders the profile fields the generation prompt needs.
func ProfileContext(p *domain.Profile) string {
	if p == nil {
		return ""
	}
	var sb strings.Builder
	if p.Name != nil {
		fmt.Fprintf(&sb, "Name: %s\n", *p.Name)
	}
	if p.Age != nil {
		fmt.Fprintf(&sb, "Age: %d\n", *p.Age)
	}
	if p.Gender != nil {
		fmt.Fprintf(&sb, "Gender: %s\n", *p.Gender)
	}
	if p.District != nil && p.State != nil {
		fmt.Fprintf(&sb, "Location: %s, %s\n", *p.District, *p.State)
	}
	if p.Preference != nil {
		fmt.Fprintf(&sb, "Medication preference: %s\n", *p.Preference)
	}
	if len(p.Allergies) > 0 {
		fmt.Fprintf(&sb, "Allergies: %s\n", strings.Join(p.Allergies, ", "))
	}
	if len(p.ExistingConditions) > 0 {
		fmt.Fprintf(&sb, "Existing conditions: %s\n", strings.Join(p.ExistingConditions, ", "))
	}
	if len(p.CurrentMedications) > 0 {
		fmt.Fprintf(&sb, "Current medications: %s\n", strings.Join(p.CurrentMedications, ", "))
	}
	return strings.TrimSuffix(sb.String(), "\n")
}
