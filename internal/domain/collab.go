package domain

import "context"

// ProfileStore is the durable per-identity profile contract.
type ProfileStore interface {
	Get(ctx context.Context, identity string) (*Profile, error)
	Create(ctx context.Context, identity string) (*Profile, error)
	Update(ctx context.Context, identity string, patch ProfilePatch) (*Profile, error)
	Erase(ctx context.Context, identity string) error
}

// SessionStore persists the onboarding cursor so step advancement survives
// a restart. Completion is transactional with the profile flag.
type SessionStore interface {
	GetSession(ctx context.Context, identity string) (*OnboardingSession, error)
	PutSession(ctx context.Context, sess OnboardingSession) error
	// CompleteOnboarding atomically marks the profile complete and deletes
	// the onboarding session. It is a no-op when the session is already gone.
	CompleteOnboarding(ctx context.Context, identity string) error
}

// RecordStore is the append-only conversation log.
type RecordStore interface {
	AppendRecord(ctx context.Context, rec ChatRecord) error
	RecentRecords(ctx context.Context, identity string, limit int) ([]ChatRecord, error)
}

// Translator detects the sender's language and translates both directions.
// Implementations fall back to pass-through with language "en" on failure.
type Translator interface {
	DetectAndTranslate(ctx context.Context, text string) (language string, english string, err error)
	FromEnglish(ctx context.Context, english string, language string) (string, error)
}

// Generator produces an English answer for an English query.
type Generator interface {
	Generate(ctx context.Context, query, profileContext, retrievedContext string) (string, error)
}

// Vision analyzes downloaded attachments.
type Vision interface {
	AnalyzeImage(ctx context.Context, path string, profileContext string) (string, error)
	ExtractDocument(ctx context.Context, path string, docType string) (string, error)
}

// Snippet is one retrieved knowledge fragment.
type Snippet struct {
	DocID   string
	Content string
	Score   float64
}

// Retriever searches stored knowledge for context relevant to a query.
type Retriever interface {
	Search(ctx context.Context, query string, topK int, identityScope string) ([]Snippet, error)
}

// Downloader fetches an attachment to a local path scoped to the identity.
type Downloader interface {
	Download(ctx context.Context, url string, identity string) (string, error)
}
