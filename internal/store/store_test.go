package store

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"arogyabot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func mustStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), testLogger())
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func strp(s string) *string { return &s }
func intp(i int) *int       { return &i }

func genderp(g domain.Gender) *domain.Gender                       { return &g }
func prefp(p domain.MedicationPreference) *domain.MedicationPreference { return &p }

// --- Profiles ---

func TestCreate_ThenGet(t *testing.T) {
	s := mustStore(t)
	ctx := context.Background()

	p, err := s.Create(ctx, "alice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.Identity != "alice" || p.IsComplete {
		t.Fatalf("unexpected new profile: %+v", p)
	}
	if p.Name != nil || p.Age != nil {
		t.Fatal("new profile should have all fields unanswered")
	}

	got, err := s.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Identity != "alice" {
		t.Fatalf("expected alice, got %q", got.Identity)
	}
}

func TestCreate_Duplicate(t *testing.T) {
	s := mustStore(t)
	ctx := context.Background()

	if _, err := s.Create(ctx, "alice"); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := s.Create(ctx, "alice")
	if !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	s := mustStore(t)
	_, err := s.Get(context.Background(), "ghost")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdate_NotFound(t *testing.T) {
	s := mustStore(t)
	_, err := s.Update(context.Background(), "ghost", domain.ProfilePatch{Name: strp("x")})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdate_RecomputesCompleteness(t *testing.T) {
	s := mustStore(t)
	ctx := context.Background()

	if _, err := s.Create(ctx, "alice"); err != nil {
		t.Fatal(err)
	}

	p, err := s.Update(ctx, "alice", domain.ProfilePatch{
		Name:     strp("Alice"),
		Age:      intp(30),
		Gender:   genderp(domain.GenderFemale),
		District: strp("Pune"),
		State:    strp("Maharashtra"),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if p.IsComplete {
		t.Fatal("profile missing preference should not be complete")
	}

	p, err = s.Update(ctx, "alice", domain.ProfilePatch{
		Preference: prefp(domain.PreferenceEnglish),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !p.IsComplete {
		t.Fatal("profile with all six required fields should be complete")
	}

	// Completeness survives a reload
	got, _ := s.Get(ctx, "alice")
	if !got.IsComplete {
		t.Fatal("completeness flag should be persisted")
	}
}

// Completeness invariant over random partial field sets: is_complete is true
// iff all six required fields are set.
func TestUpdate_CompletenessInvariant_Property(t *testing.T) {
	s := mustStore(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 50; i++ {
		identity := "user" + string(rune('A'+i%26)) + string(rune('0'+i/26))
		if _, err := s.Create(ctx, identity); err != nil {
			t.Fatal(err)
		}

		var patch domain.ProfilePatch
		want := true
		set := func(field int) bool { return rng.Intn(2) == 0 || field == i%6 }

		if set(0) {
			patch.Name = strp("Name")
		} else {
			want = false
		}
		if set(1) {
			patch.Age = intp(40)
		} else {
			want = false
		}
		if set(2) {
			patch.Gender = genderp(domain.GenderOther)
		} else {
			want = false
		}
		if set(3) {
			patch.District = strp("Delhi")
		} else {
			want = false
		}
		if set(4) {
			patch.State = strp("Delhi")
		} else {
			want = false
		}
		if set(5) {
			patch.Preference = prefp(domain.PreferenceAyurvedic)
		} else {
			want = false
		}

		p, err := s.Update(ctx, identity, patch)
		if err != nil {
			t.Fatalf("update %s: %v", identity, err)
		}
		if p.IsComplete != want {
			t.Fatalf("identity %s: is_complete=%v, want %v (patch %+v)", identity, p.IsComplete, want, patch)
		}
	}
}

func TestUpdate_ListFieldsRoundTrip(t *testing.T) {
	s := mustStore(t)
	ctx := context.Background()

	if _, err := s.Create(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	_, err := s.Update(ctx, "alice", domain.ProfilePatch{
		Allergies:          []string{"peanuts", "penicillin"},
		CurrentMedications: []string{"warfarin"},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	got, _ := s.Get(ctx, "alice")
	if len(got.Allergies) != 2 || got.Allergies[1] != "penicillin" {
		t.Fatalf("allergies mismatch: %v", got.Allergies)
	}
	if len(got.CurrentMedications) != 1 || got.CurrentMedications[0] != "warfarin" {
		t.Fatalf("medications mismatch: %v", got.CurrentMedications)
	}
}

// --- Erase ---

func TestErase_CascadesAndIsIdempotent(t *testing.T) {
	s := mustStore(t)
	ctx := context.Background()

	if _, err := s.Create(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	if err := s.PutSession(ctx, domain.OnboardingSession{Identity: "alice", Step: 2}); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendRecord(ctx, domain.ChatRecord{Identity: "alice", SessionToken: "t1", ContentKind: domain.KindText}); err != nil {
		t.Fatal(err)
	}
	if err := s.AddDocument(ctx, Document{ID: "d1", Identity: "alice", Name: "report.pdf"},
		[]Chunk{{ID: "d1_0", DocumentID: "d1", Identity: "alice", Content: "hemoglobin normal"}}); err != nil {
		t.Fatal(err)
	}

	if err := s.Erase(ctx, "alice"); err != nil {
		t.Fatalf("erase: %v", err)
	}

	if _, err := s.Get(ctx, "alice"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatal("profile should be gone")
	}
	if _, err := s.GetSession(ctx, "alice"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatal("session should be gone")
	}
	recs, _ := s.RecentRecords(ctx, "alice", 10)
	if len(recs) != 0 {
		t.Fatal("chat records should be gone")
	}
	chunks, _ := s.SearchChunks(ctx, "hemoglobin", "alice", 10)
	if len(chunks) != 0 {
		t.Fatal("document chunks should be gone")
	}

	// Second erase succeeds silently
	if err := s.Erase(ctx, "alice"); err != nil {
		t.Fatalf("erase should be idempotent: %v", err)
	}
}

// --- Onboarding sessions ---

func TestPutSession_Upserts(t *testing.T) {
	s := mustStore(t)
	ctx := context.Background()

	if _, err := s.Create(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	if err := s.PutSession(ctx, domain.OnboardingSession{Identity: "alice", Step: 0}); err != nil {
		t.Fatal(err)
	}
	if err := s.PutSession(ctx, domain.OnboardingSession{
		Identity: "alice", Step: 3, CompletedFields: []string{"name", "age", "gender"},
	}); err != nil {
		t.Fatal(err)
	}

	sess, err := s.GetSession(ctx, "alice")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if sess.Step != 3 || len(sess.CompletedFields) != 3 {
		t.Fatalf("unexpected session: %+v", sess)
	}
}

func TestCompleteOnboarding_AtomicAndIdempotent(t *testing.T) {
	s := mustStore(t)
	ctx := context.Background()

	if _, err := s.Create(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	_, err := s.Update(ctx, "alice", domain.ProfilePatch{
		Name: strp("Alice"), Age: intp(30), Gender: genderp(domain.GenderFemale),
		District: strp("Pune"), State: strp("Maharashtra"), Preference: prefp(domain.PreferenceEnglish),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.PutSession(ctx, domain.OnboardingSession{Identity: "alice", Step: 9}); err != nil {
		t.Fatal(err)
	}

	if err := s.CompleteOnboarding(ctx, "alice"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	p, _ := s.Get(ctx, "alice")
	if !p.IsComplete {
		t.Fatal("profile should be complete")
	}
	if _, err := s.GetSession(ctx, "alice"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatal("session should be deleted")
	}

	// Repeated completion (duplicate delivery) is a no-op, not an error.
	if err := s.CompleteOnboarding(ctx, "alice"); err != nil {
		t.Fatalf("repeat complete: %v", err)
	}
}

// --- Chat records ---

func TestRecentRecords_ChronologicalOrder(t *testing.T) {
	s := mustStore(t)
	ctx := context.Background()

	for _, text := range []string{"first", "second", "third"} {
		if err := s.AppendRecord(ctx, domain.ChatRecord{
			Identity: "alice", SessionToken: "t1",
			ContentKind: domain.KindText, RequestText: text,
		}); err != nil {
			t.Fatal(err)
		}
	}

	recs, err := s.RecentRecords(ctx, "alice", 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].RequestText != "second" || recs[1].RequestText != "third" {
		t.Fatalf("expected oldest-first window, got %q, %q", recs[0].RequestText, recs[1].RequestText)
	}
}

// --- Knowledge ---

func TestSearchChunks_ScopedByIdentity(t *testing.T) {
	s := mustStore(t)
	ctx := context.Background()

	if err := s.AddDocument(ctx, Document{ID: "d1", Identity: "alice", Name: "a.pdf"},
		[]Chunk{{ID: "d1_0", DocumentID: "d1", Identity: "alice", Content: "blood sugar fasting 110"}}); err != nil {
		t.Fatal(err)
	}
	if err := s.AddDocument(ctx, Document{ID: "d2", Identity: "bob", Name: "b.pdf"},
		[]Chunk{{ID: "d2_0", DocumentID: "d2", Identity: "bob", Content: "blood pressure 140/90"}}); err != nil {
		t.Fatal(err)
	}

	got, err := s.SearchChunks(ctx, "blood", "alice", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].Identity != "alice" {
		t.Fatalf("expected only alice's chunk, got %+v", got)
	}

	all, _ := s.SearchChunks(ctx, "blood", "", 10)
	if len(all) != 2 {
		t.Fatalf("unscoped search should see both, got %d", len(all))
	}
}

// --- Stats ---

func TestStats_Counts(t *testing.T) {
	s := mustStore(t)
	ctx := context.Background()

	if _, err := s.Create(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Create(ctx, "bob"); err != nil {
		t.Fatal(err)
	}
	if err := s.PutSession(ctx, domain.OnboardingSession{Identity: "bob", Step: 1}); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendRecord(ctx, domain.ChatRecord{Identity: "alice", SessionToken: "t", ContentKind: domain.KindText}); err != nil {
		t.Fatal(err)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Profiles != 2 || st.ActiveOnboarding != 1 || st.ChatRecords != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}
