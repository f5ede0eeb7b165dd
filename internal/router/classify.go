package router

import (
	"strings"

	"arogyabot/internal/domain"
)

var documentContentTypes = map[string]bool{
	"application/pdf":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
}

// Classify maps an inbound event to its content kind. No attachment or
// an attachment without a content type is plain text; image/* is an
// image; the document allow-list covers PDF and Word; anything else is
// unsupported media and never reaches a handler.
func Classify(hasMedia bool, contentType string) domain.ContentKind {
	if !hasMedia {
		return domain.KindText
	}
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if ct == "" {
		return domain.KindText
	}
	if strings.HasPrefix(ct, "image/") {
		return domain.KindImage
	}
	if documentContentTypes[ct] {
		return domain.KindDocument
	}
	return domain.KindUnsupported
}
