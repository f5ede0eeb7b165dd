package transfer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// HTTPDownloader fetches message attachments to local per-identity
// directories, enforcing the size and file-type limits from config.
type HTTPDownloader struct {
	dir      string
	maxSize  int64
	allowed  map[string]bool
	username string
	password string
	client   *http.Client
	logger   *slog.Logger
}

type DownloaderConfig struct {
	Dir               string
	MaxFileSizeBytes  int64
	AllowedExtensions []string
	// Basic auth credentials for media hosts that require them
	// (Twilio media URLs use the account SID and auth token).
	Username string
	Password string
	Logger   *slog.Logger
}

func NewHTTPDownloader(cfg DownloaderConfig) *HTTPDownloader {
	allowed := make(map[string]bool, len(cfg.AllowedExtensions))
	for _, ext := range cfg.AllowedExtensions {
		allowed[strings.ToLower(strings.TrimPrefix(ext, "."))] = true
	}
	return &HTTPDownloader{
		dir:      cfg.Dir,
		maxSize:  cfg.MaxFileSizeBytes,
		allowed:  allowed,
		username: cfg.Username,
		password: cfg.Password,
		client:   &http.Client{Timeout: 60 * time.Second},
		logger:   cfg.Logger,
	}
}

// Allowed reports whether the extension (with or without a leading
// dot) is on the upload allow-list.
func (d *HTTPDownloader) Allowed(ext string) bool {
	return d.allowed[strings.ToLower(strings.TrimPrefix(ext, "."))]
}

// Download fetches the attachment and returns the local path. The file
// lands under a per-identity directory with a random name so senders
// cannot influence paths.
func (d *HTTPDownloader) Download(ctx context.Context, rawURL string, identity string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("cannot build download request: %w", err)
	}
	if d.username != "" {
		req.SetBasicAuth(d.username, d.password)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("cannot download attachment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("attachment download returned %d", resp.StatusCode)
	}
	if resp.ContentLength > 0 && resp.ContentLength > d.maxSize {
		return "", fmt.Errorf("attachment too large: %d bytes (limit %d)", resp.ContentLength, d.maxSize)
	}

	ext := d.pickExtension(rawURL, resp.Header.Get("Content-Type"))
	if !d.allowed[ext] {
		return "", fmt.Errorf("file type %q is not allowed", ext)
	}

	destDir := filepath.Join(d.dir, SanitizeIdentity(identity))
	if err := os.MkdirAll(destDir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create upload directory: %w", err)
	}
	dest := filepath.Join(destDir, uuid.NewString()+"."+ext)

	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("cannot create attachment file: %w", err)
	}
	defer f.Close()

	// One byte past the limit proves the body is oversized even when
	// Content-Length was missing.
	written, err := io.Copy(f, io.LimitReader(resp.Body, d.maxSize+1))
	if err != nil {
		os.Remove(dest)
		return "", fmt.Errorf("cannot save attachment: %w", err)
	}
	if written > d.maxSize {
		os.Remove(dest)
		return "", fmt.Errorf("attachment too large: exceeds %d bytes", d.maxSize)
	}

	d.logger.Debug("attachment saved", "identity", identity, "path", dest, "bytes", written)
	return dest, nil
}

func (d *HTTPDownloader) pickExtension(rawURL, contentType string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if ext := strings.TrimPrefix(path.Ext(u.Path), "."); ext != "" {
			return strings.ToLower(ext)
		}
	}
	// Twilio media URLs carry no extension, fall back to the MIME type.
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		switch mediaType {
		case "image/jpeg":
			return "jpg"
		case "image/png":
			return "png"
		case "image/webp":
			return "webp"
		case "application/pdf":
			return "pdf"
		case "application/msword":
			return "doc"
		case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
			return "docx"
		}
	}
	return ""
}

// SanitizeIdentity maps an identity to a filesystem-safe directory
// name. Erase uses it to locate a patient's upload directory.
func SanitizeIdentity(identity string) string {
	var b strings.Builder
	for _, r := range identity {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '+', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
