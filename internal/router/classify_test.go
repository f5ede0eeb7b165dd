package router

import (
	"testing"

	"arogyabot/internal/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		hasMedia    bool
		contentType string
		want        domain.ContentKind
	}{
		{"no attachment", false, "", domain.KindText},
		{"no attachment ignores type", false, "image/png", domain.KindText},
		{"png", true, "image/png", domain.KindImage},
		{"jpeg", true, "image/jpeg", domain.KindImage},
		{"webp uppercase", true, "IMAGE/WEBP", domain.KindImage},
		{"pdf", true, "application/pdf", domain.KindDocument},
		{"legacy word", true, "application/msword", domain.KindDocument},
		{"docx", true, "application/vnd.openxmlformats-officedocument.wordprocessingml.document", domain.KindDocument},
		{"audio", true, "audio/ogg", domain.KindUnsupported},
		{"video", true, "video/mp4", domain.KindUnsupported},
		{"attachment without type", true, "", domain.KindText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.hasMedia, tt.contentType); got != tt.want {
				t.Fatalf("Classify(%v, %q) = %q, want %q", tt.hasMedia, tt.contentType, got, tt.want)
			}
		})
	}
}
