package handler

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"arogyabot/internal/domain"
)

const (
	missingImageReply   = "I didn't receive any image. Please try uploading your image again."
	invalidImageReply   = "❌ I couldn't accept that file. Please upload a valid image file (JPG, PNG, WEBP) under 10MB."
	imageAnalysisReply  = "Sorry, I had trouble analyzing your image. Please describe your symptoms in text and I'll do my best to help."
	missingDocReply     = "I didn't receive any document. Please try uploading your document again."
	invalidDocReply     = "❌ I couldn't accept that file. Please upload a valid document (PDF, DOC, DOCX) under 10MB."
	docProcessingReply  = "Sorry, I had trouble processing your document. Please ensure it's a clear, readable medical document."
	documentStoredReply = `📄 Document processed successfully!

I've analyzed your medical document and extracted the relevant information. This data will help me provide more personalized healthcare advice.

You can now ask me questions about your medical history, current medications, or any health concerns.

⚠️ This is AI analysis only. Please consult a doctor for confirmation.`
)

// Ingester stores extracted document text for later retrieval.
type Ingester interface {
	Ingest(ctx context.Context, identity, name, mimeType, content string) (string, error)
}

// MediaHandler processes image and document attachments. Every failure
// maps to a fixed user-facing message, raw errors stay in the logs.
type MediaHandler struct {
	downloader domain.Downloader
	vision     domain.Vision
	ingester   Ingester
	logger     *slog.Logger
}

func NewMediaHandler(downloader domain.Downloader, vision domain.Vision, ingester Ingester, logger *slog.Logger) *MediaHandler {
	return &MediaHandler{
		downloader: downloader,
		vision:     vision,
		ingester:   ingester,
		logger:     logger,
	}
}

// HandleImage downloads and analyzes a photo with the profile as
// context.
func (h *MediaHandler) HandleImage(ctx context.Context, profile *domain.Profile, mediaURL string) string {
	if mediaURL == "" {
		return missingImageReply
	}

	path, err := h.downloader.Download(ctx, mediaURL, profile.Identity)
	if err != nil {
		h.logger.Warn("image download rejected", "identity", profile.Identity, "error", err)
		return invalidImageReply
	}

	analysis, err := h.vision.AnalyzeImage(ctx, path, ProfileContext(profile))
	if err != nil {
		h.logger.Error("image analysis failed", "identity", profile.Identity, "error", err)
		return imageAnalysisReply
	}
	return analysis
}

// HandleDocument downloads a medical document, extracts its text and
// stores it in the sender's knowledge base.
func (h *MediaHandler) HandleDocument(ctx context.Context, profile *domain.Profile, mediaURL, contentType string) string {
	if mediaURL == "" {
		return missingDocReply
	}

	path, err := h.downloader.Download(ctx, mediaURL, profile.Identity)
	if err != nil {
		h.logger.Warn("document download rejected", "identity", profile.Identity, "error", err)
		return invalidDocReply
	}

	docType := strings.TrimPrefix(filepath.Ext(path), ".")
	extracted, err := h.vision.ExtractDocument(ctx, path, docType)
	if err != nil {
		h.logger.Error("document extraction failed", "identity", profile.Identity, "error", err)
		return docProcessingReply
	}

	if _, err := h.ingester.Ingest(ctx, profile.Identity, filepath.Base(path), contentType, extracted); err != nil {
		h.logger.Error("document ingestion failed", "identity", profile.Identity, "error", err)
		return docProcessingReply
	}

	return documentStoredReply
}
