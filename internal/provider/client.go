package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const defaultHTTPTimeout = 120 * time.Second

// Client talks to an OpenAI-compatible chat completions API. It backs
// answer generation, translation and attachment analysis.
type Client struct {
	apiKey      string
	apiBase     string
	model       string
	visionModel string
	maxTokens   int
	temperature float64
	client      *http.Client
	logger      *slog.Logger
}

type ClientConfig struct {
	APIKey      string
	APIBase     string
	Model       string
	VisionModel string
	MaxTokens   int
	Temperature float64
	Logger      *slog.Logger
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.VisionModel == "" {
		cfg.VisionModel = "gpt-4o"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	return &Client{
		apiKey:      cfg.APIKey,
		apiBase:     cfg.APIBase,
		model:       cfg.Model,
		visionModel: cfg.VisionModel,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		client:      &http.Client{Timeout: defaultHTTPTimeout},
		logger:      cfg.Logger,
	}
}

type oaiRequest struct {
	Model       string       `json:"model"`
	Messages    []oaiMessage `json:"messages"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Temperature *float64     `json:"temperature,omitempty"`
	Stream      bool         `json:"stream"`
}

// Content is either a plain string or a list of oaiContentPart for
// vision requests.
type oaiMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type oaiContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *oaiImagePart `json:"image_url,omitempty"`
}

type oaiImagePart struct {
	URL string `json:"url"`
}

type oaiResponse struct {
	Choices []oaiChoice `json:"choices"`
	Usage   oaiUsage    `json:"usage"`
}

type oaiChoice struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

type oaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (c *Client) chat(ctx context.Context, model string, msgs []oaiMessage) (string, error) {
	body := oaiRequest{
		Model:     model,
		Messages:  msgs,
		MaxTokens: c.maxTokens,
		Stream:    false,
	}
	if c.temperature > 0 {
		body.Temperature = &c.temperature
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}

	buildReq := func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, "POST", c.apiBase+"/chat/completions", bytes.NewReader(jsonBody))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		return req, nil
	}

	resp, err := doWithRetry(ctx, c.client, buildReq, c.logger)
	if err != nil {
		return "", fmt.Errorf("chat completion request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("provider returned %d: %s", resp.StatusCode, string(respBody))
	}

	var out oaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("provider returned no choices")
	}

	c.logger.Debug("chat completion done",
		"model", model,
		"prompt_tokens", out.Usage.PromptTokens,
		"completion_tokens", out.Usage.CompletionTokens,
	)
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

const generateSystemPrompt = `You are a careful healthcare assistant for patients in India.
Give practical, safe guidance in simple language. Prefer widely available
remedies matching the patient's stated medication preference. Never diagnose,
never prescribe prescription-only drugs, and recommend seeing a doctor for
anything persistent or severe.`

// Generate answers an English health query. Patient profile details and
// retrieved document context, when present, are folded into the prompt.
// A refusal-shaped answer triggers exactly one reinforced retry.
func (c *Client) Generate(ctx context.Context, query, profileContext, retrievedContext string) (string, error) {
	var user strings.Builder
	if profileContext != "" {
		user.WriteString("Patient profile:\n")
		user.WriteString(profileContext)
		user.WriteString("\n\n")
	}
	if retrievedContext != "" {
		user.WriteString("From the patient's uploaded medical documents:\n")
		user.WriteString(retrievedContext)
		user.WriteString("\n\n")
	}
	user.WriteString("Question: ")
	user.WriteString(query)

	msgs := []oaiMessage{
		{Role: "system", Content: generateSystemPrompt},
		{Role: "user", Content: user.String()},
	}

	answer, err := c.chat(ctx, c.model, msgs)
	if err != nil {
		return "", err
	}

	if IsRefusal(answer) {
		c.logger.Warn("refusal-shaped answer, retrying once with reinforced prompt")
		msgs = append(msgs, oaiMessage{Role: "assistant", Content: answer})
		msgs = append(msgs, oaiMessage{Role: "user", Content: ReinforcedPrompt})
		retried, rerr := c.chat(ctx, c.model, msgs)
		if rerr != nil || IsRefusal(retried) {
			// Keep the original refusal, the caller decides what to send.
			return answer, nil
		}
		return retried, nil
	}
	return answer, nil
}

// DetectAndTranslate identifies the language of text and returns its
// English rendering. Failures fall back to pass-through with "en" so a
// translation outage never blocks an answer.
func (c *Client) DetectAndTranslate(ctx context.Context, text string) (string, string, error) {
	prompt := fmt.Sprintf(`Detect the language of the message below and translate it to English.
Reply with exactly two lines:
LANG: <two-letter ISO 639-1 code>
TEXT: <English translation, or the original text if already English>

Message:
%s`, text)

	out, err := c.chat(ctx, c.model, []oaiMessage{{Role: "user", Content: prompt}})
	if err != nil {
		c.logger.Warn("language detection failed, assuming English", "error", err)
		return "en", text, nil
	}

	lang, english := parseDetection(out)
	if lang == "" || !IsSupportedLanguage(lang) {
		return "en", text, nil
	}
	if english == "" {
		english = text
	}
	return lang, english, nil
}

// FromEnglish translates an English reply back to the sender's
// language. English input or any failure returns the text unchanged.
func (c *Client) FromEnglish(ctx context.Context, english, language string) (string, error) {
	if language == "" || language == "en" {
		return english, nil
	}
	name := LanguageName(language)
	if name == "" {
		return english, nil
	}

	prompt := fmt.Sprintf(`Translate the following message to %s.
Keep emojis, bullet points and line breaks exactly as they are.
Reply with the translation only.

Message:
%s`, name, english)

	out, err := c.chat(ctx, c.model, []oaiMessage{{Role: "user", Content: prompt}})
	if err != nil {
		c.logger.Warn("translation failed, replying in English", "language", language, "error", err)
		return english, nil
	}
	return out, nil
}

// AnalyzeImage sends a local image to the vision model together with
// the patient context and returns the medical assessment.
func (c *Client) AnalyzeImage(ctx context.Context, path string, profileContext string) (string, error) {
	dataURL, err := fileDataURL(path)
	if err != nil {
		return "", err
	}

	text := "Describe any medically relevant findings in this image and give safe, general guidance."
	if profileContext != "" {
		text += "\n\nPatient profile:\n" + profileContext
	}

	msgs := []oaiMessage{
		{Role: "system", Content: generateSystemPrompt},
		{
			Role: "user",
			Content: []oaiContentPart{
				{Type: "text", Text: text},
				{Type: "image_url", ImageURL: &oaiImagePart{URL: dataURL}},
			},
		},
	}
	return c.chat(ctx, c.visionModel, msgs)
}

// ExtractDocument pulls the text out of an uploaded medical document
// (report, prescription, lab result) via the vision model.
func (c *Client) ExtractDocument(ctx context.Context, path string, docType string) (string, error) {
	dataURL, err := fileDataURL(path)
	if err != nil {
		return "", err
	}

	text := "Extract all text from this medical document. Preserve values, units and medication names exactly."
	if docType != "" {
		text = fmt.Sprintf("This is a %s document. %s", docType, text)
	}

	msgs := []oaiMessage{
		{
			Role: "user",
			Content: []oaiContentPart{
				{Type: "text", Text: text},
				{Type: "image_url", ImageURL: &oaiImagePart{URL: dataURL}},
			},
		},
	}
	return c.chat(ctx, c.visionModel, msgs)
}

// Healthy pings the API with the cheapest authorized endpoint.
func (c *Client) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.apiBase+"/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("provider not reachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("provider: invalid API key")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("provider returned %d", resp.StatusCode)
	}
	return nil
}

func fileDataURL(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("cannot read attachment: %w", err)
	}
	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func parseDetection(out string) (lang, english string) {
	for _, line := range strings.Split(out, "\n") {
		switch {
		case strings.HasPrefix(line, "LANG:"):
			lang = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(line, "LANG:")))
		case strings.HasPrefix(line, "TEXT:"):
			english = strings.TrimSpace(strings.TrimPrefix(line, "TEXT:"))
		}
	}
	return lang, english
}
