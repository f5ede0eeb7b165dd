package provider

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func chatResponse(content string) []byte {
	body := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": content}, "finish_reason": "stop"},
		},
	}
	out, _ := json.Marshal(body)
	return out
}

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(ClientConfig{
		APIKey:  "test-key",
		APIBase: srv.URL,
		Logger:  testLogger(),
	})
}

// --- Check: Refusal heuristic ---

func TestIsRefusal(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		want   bool
	}{
		{"short refusal", "I cannot provide medical advice.", true},
		{"case insensitive", "I CANNOT PROVIDE MEDICAL ADVICE here.", true},
		{"normal answer", "Rest, hydrate, and take paracetamol if needed.", false},
		{"long hedged answer", "I cannot provide medical advice as a substitute for a doctor, but here is general guidance: " + strings.Repeat("drink fluids. ", 30), false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRefusal(tt.answer); got != tt.want {
				t.Fatalf("IsRefusal(%q) = %v, want %v", tt.answer, got, tt.want)
			}
		})
	}
}

func TestGenerate_RetriesRefusalOnce(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("missing bearer auth, got %q", got)
		}
		if calls.Add(1) == 1 {
			w.Write(chatResponse("I cannot provide medical advice."))
			return
		}
		var req oaiRequest
		json.NewDecoder(r.Body).Decode(&req)
		last, _ := req.Messages[len(req.Messages)-1].Content.(string)
		if !strings.Contains(last, "Do not refuse") {
			t.Errorf("retry should carry the reinforced prompt, got %q", last)
		}
		w.Write(chatResponse("Stay hydrated and rest."))
	})

	answer, err := c.Generate(context.Background(), "what helps a mild fever", "", "")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if answer != "Stay hydrated and rest." {
		t.Fatalf("unexpected answer: %q", answer)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected exactly 2 calls, got %d", calls.Load())
	}
}

func TestGenerate_PersistentRefusalKept(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write(chatResponse("I cannot provide medical advice."))
	})

	answer, err := c.Generate(context.Background(), "question", "", "")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if answer != "I cannot provide medical advice." {
		t.Fatalf("unexpected answer: %q", answer)
	}
	// One reinforced retry, never more.
	if calls.Load() != 2 {
		t.Fatalf("expected exactly 2 calls, got %d", calls.Load())
	}
}

func TestGenerate_IncludesProfileAndRetrievedContext(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req oaiRequest
		json.NewDecoder(r.Body).Decode(&req)
		user, _ := req.Messages[1].Content.(string)
		if !strings.Contains(user, "Age: 30") || !strings.Contains(user, "hemoglobin 11.2") {
			t.Errorf("prompt missing context: %q", user)
		}
		w.Write(chatResponse("ok"))
	})

	_, err := c.Generate(context.Background(), "q", "Age: 30", "hemoglobin 11.2")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
}

// --- Check: Translation ---

func TestDetectAndTranslate_ParsesLangAndText(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(chatResponse("LANG: hi\nTEXT: I have a headache"))
	})

	lang, english, err := c.DetectAndTranslate(context.Background(), "मुझे सिरदर्द है")
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if lang != "hi" || english != "I have a headache" {
		t.Fatalf("got %q / %q", lang, english)
	}
}

func TestDetectAndTranslate_FallsBackToEnglishOnFailure(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	lang, english, err := c.DetectAndTranslate(context.Background(), "hello there")
	if err != nil {
		t.Fatalf("fallback must not error: %v", err)
	}
	if lang != "en" || english != "hello there" {
		t.Fatalf("expected pass-through, got %q / %q", lang, english)
	}
}

func TestDetectAndTranslate_UnknownLanguageTreatedAsEnglish(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(chatResponse("LANG: xx\nTEXT: whatever"))
	})

	lang, english, _ := c.DetectAndTranslate(context.Background(), "hola")
	if lang != "en" || english != "hola" {
		t.Fatalf("unsupported code must pass through, got %q / %q", lang, english)
	}
}

func TestFromEnglish_EnglishIsPassThrough(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no API call expected for English")
	})

	out, err := c.FromEnglish(context.Background(), "hello", "en")
	if err != nil || out != "hello" {
		t.Fatalf("got %q, %v", out, err)
	}
}

func TestFromEnglish_TranslationFailureReturnsEnglish(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	// Keep the test fast: a canceled context skips retry backoffs.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := c.FromEnglish(ctx, "hello", "hi")
	if err != nil || out != "hello" {
		t.Fatalf("expected English fallback, got %q, %v", out, err)
	}
}

// --- Check: Languages ---

func TestLanguageTable(t *testing.T) {
	for _, code := range []string{"en", "hi", "ta", "te", "bn", "gu", "kn", "ml", "mr", "pa", "or", "as", "ur"} {
		if !IsSupportedLanguage(code) {
			t.Fatalf("%s should be supported", code)
		}
		if LanguageName(code) == "" {
			t.Fatalf("%s has no name", code)
		}
	}
	if IsSupportedLanguage("fr") {
		t.Fatal("fr is not in the supported set")
	}
}
