package channel

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"arogyabot/internal/config"
	"arogyabot/internal/domain"
)

const (
	twilioAPIBase = "https://api.twilio.com/2010-04-01"

	// Twilio rejects WhatsApp bodies over 1600 characters.
	whatsappMaxLen = 1500

	emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`
)

// WhatsApp bridges Twilio's WhatsApp webhook to the message bus. The
// webhook is acknowledged immediately with empty TwiML; replies go out
// asynchronously through the Twilio REST API.
type WhatsApp struct {
	cfg    config.WhatsAppConfig
	bus    domain.MessageBus
	client *http.Client
	server *http.Server
	extra  map[string]http.Handler
	logger *slog.Logger
}

type WhatsAppChannelConfig struct {
	Config config.WhatsAppConfig
	// Extra routes (health, metrics) served on the same listener.
	ExtraRoutes map[string]http.Handler
	Logger      *slog.Logger
}

func NewWhatsApp(cfg WhatsAppChannelConfig) *WhatsApp {
	return &WhatsApp{
		cfg:    cfg.Config,
		extra:  cfg.ExtraRoutes,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: cfg.Logger,
	}
}

func (w *WhatsApp) Name() string { return "whatsapp" }

func (w *WhatsApp) Start(ctx context.Context, bus domain.MessageBus) error {
	w.bus = bus

	bus.OnReply("whatsapp", func(reply domain.Reply) {
		if err := w.send(ctx, reply.To, reply.Text, reply.MediaURL); err != nil {
			w.logger.Error("whatsapp send failed", "to", reply.To, "error", err)
		}
	})

	mux := http.NewServeMux()
	webhookPath := w.cfg.WebhookPath
	if webhookPath == "" {
		webhookPath = "/webhook/whatsapp"
	}
	mux.HandleFunc("POST "+webhookPath, w.handleWebhook)
	for path, h := range w.extra {
		mux.Handle(path, h)
	}

	addr := fmt.Sprintf("%s:%d", w.cfg.Host, w.cfg.Port)
	w.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		w.logger.Info("whatsapp webhook listening", "addr", addr, "path", webhookPath)
		if err := w.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			w.logger.Error("whatsapp server stopped", "error", err)
		}
	}()
	return nil
}

func (w *WhatsApp) Stop() error {
	if w.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return w.server.Shutdown(ctx)
}

// handleWebhook parses one Twilio form post into an inbound message.
// The transport ack is always 200: processing failures are the
// router's problem, re-delivery storms are nobody's.
func (w *WhatsApp) handleWebhook(rw http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(rw, "Bad request", http.StatusBadRequest)
		return
	}

	if w.cfg.ValidateSignature {
		sig := r.Header.Get("X-Twilio-Signature")
		if !w.validSignature(requestURL(r), r.PostForm, sig) {
			w.logger.Warn("whatsapp webhook signature rejected", "remote", r.RemoteAddr)
			http.Error(rw, "Forbidden", http.StatusForbidden)
			return
		}
	}

	from := r.PostFormValue("From")
	if from == "" {
		http.Error(rw, "Bad request", http.StatusBadRequest)
		return
	}

	msg := domain.InboundMessage{
		Channel:   "whatsapp",
		SenderID:  from,
		Body:      r.PostFormValue("Body"),
		Timestamp: time.Now(),
	}
	if r.PostFormValue("NumMedia") != "" && r.PostFormValue("NumMedia") != "0" {
		msg.MediaURL = r.PostFormValue("MediaUrl0")
		msg.MediaContentType = r.PostFormValue("MediaContentType0")
	}

	w.logger.Info("whatsapp message received",
		"from", from, "text_len", len(msg.Body), "media", msg.MediaContentType)
	w.bus.Publish(msg)

	rw.Header().Set("Content-Type", "text/xml")
	rw.WriteHeader(http.StatusOK)
	io.WriteString(rw, emptyTwiML)
}

// validSignature checks X-Twilio-Signature: base64 HMAC-SHA1 over the
// full URL plus the sorted form parameters, keyed by the auth token.
func (w *WhatsApp) validSignature(fullURL string, form url.Values, signature string) bool {
	if signature == "" {
		return false
	}

	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var payload strings.Builder
	payload.WriteString(fullURL)
	for _, k := range keys {
		payload.WriteString(k)
		payload.WriteString(form.Get(k))
	}

	mac := hmac.New(sha1.New, []byte(w.cfg.AuthToken))
	mac.Write([]byte(payload.String()))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}

func requestURL(r *http.Request) string {
	scheme := "https"
	if r.TLS == nil {
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		} else {
			scheme = "http"
		}
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// send pushes one reply through the Twilio Messages API, splitting
// bodies that exceed the WhatsApp length limit.
func (w *WhatsApp) send(ctx context.Context, to, text, mediaURL string) error {
	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", twilioAPIBase, w.cfg.AccountSID)

	for i, chunk := range splitMessage(text, whatsappMaxLen) {
		form := url.Values{}
		form.Set("From", w.cfg.FromNumber)
		form.Set("To", to)
		form.Set("Body", chunk)
		if mediaURL != "" && i == 0 {
			form.Set("MediaUrl", mediaURL)
		}

		req, err := http.NewRequestWithContext(ctx, "POST", endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.SetBasicAuth(w.cfg.AccountSID, w.cfg.AuthToken)

		resp, err := w.client.Do(req)
		if err != nil {
			return fmt.Errorf("send: %w", err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			return fmt.Errorf("twilio API %d: %s", resp.StatusCode, string(body))
		}
	}
	return nil
}

// splitMessage breaks text into chunks at line boundaries where
// possible.
func splitMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	for len(text) > maxLen {
		cut := strings.LastIndex(text[:maxLen], "\n")
		if cut < maxLen/2 {
			cut = maxLen
		}
		chunks = append(chunks, strings.TrimRight(text[:cut], "\n"))
		text = strings.TrimLeft(text[cut:], "\n")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
