package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/iago/vidai-studio/internal/domain"
)

func historyEntry(id string, createdAt time.Time) domain.HistoryEntry {
	return domain.HistoryEntry{
		ID:        id,
		Kind:      domain.JobKindGenerateContent,
		SourceURL: "https://www.youtube.com/watch?v=" + id,
		Platform:  "youtube",
		Options:   &domain.GenerateOptions{Model: "gemini-2.0-flash", Language: "English", Style: domain.StyleSummary},
		State:     domain.StageDone,
		Result:    &domain.ResultPayload{Text: "text " + id, Model: "gemini-2.0-flash", WordCount: 2},
		CreatedAt: createdAt,
	}
}

func TestFileHistoryAppendListGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	repo, err := OpenFileHistoryRepository(path, 10, nil)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if err := repo.Append(ctx, historyEntry(fmt.Sprintf("job-%d", i), base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	entries, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(entries) != 3 || entries[0].ID != "job-2" || entries[2].ID != "job-0" {
		t.Fatalf("expected newest first, got %+v", ids(entries))
	}

	got, err := repo.Get(ctx, "job-1")
	if err != nil || got.Result == nil || got.Result.Text != "text job-1" {
		t.Fatalf("unexpected get result %+v err=%v", got, err)
	}
	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFileHistoryAppendIsIdempotentByID(t *testing.T) {
	repo, err := OpenFileHistoryRepository(filepath.Join(t.TempDir(), "history.json"), 10, nil)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	ctx := context.Background()
	entry := historyEntry("job-0", time.Now().UTC())
	_ = repo.Append(ctx, entry)
	_ = repo.Append(ctx, historyEntry("job-1", time.Now().UTC()))
	_ = repo.Append(ctx, historyEntry("job-2", time.Now().UTC()))

	entry.Result.Text = "rewritten"
	if err := repo.Append(ctx, entry); err != nil {
		t.Fatalf("re-append failed: %v", err)
	}
	entries, _ := repo.List(ctx)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].ID != "job-0" || entries[0].Result.Text != "rewritten" {
		t.Fatalf("expected re-appended entry at the front, got %v", ids(entries))
	}
	if entries[1].ID != "job-2" || entries[2].ID != "job-1" {
		t.Fatalf("expected remaining order kept, got %v", ids(entries))
	}
}

func TestMemoryHistoryReappendMovesToFront(t *testing.T) {
	repo := NewMemoryHistoryRepository(2)
	ctx := context.Background()
	_ = repo.Append(ctx, historyEntry("a", time.Now().UTC()))
	_ = repo.Append(ctx, historyEntry("b", time.Now().UTC()))
	_ = repo.Append(ctx, historyEntry("a", time.Now().UTC()))

	entries, _ := repo.List(ctx)
	if len(entries) != 2 || entries[0].ID != "a" || entries[1].ID != "b" {
		t.Fatalf("expected [a b], got %v", ids(entries))
	}
}

func TestFileHistoryOpenToleratesCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	if err := os.WriteFile(path, []byte(`[{"id": "job-1", "kind`), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	var logs bytes.Buffer
	repo, err := OpenFileHistoryRepository(path, 10, log.New(&logs, "", 0))
	if err != nil {
		t.Fatalf("expected corrupt file to be tolerated, got %v", err)
	}
	entries, _ := repo.List(context.Background())
	if len(entries) != 0 {
		t.Fatalf("expected empty history, got %v", ids(entries))
	}
	if !strings.Contains(logs.String(), "history file unreadable") {
		t.Fatalf("expected corrupt file to be logged, got %q", logs.String())
	}

	if err := repo.Append(context.Background(), historyEntry("job-2", time.Now().UTC())); err != nil {
		t.Fatalf("append after corrupt open failed: %v", err)
	}
	reopened, err := OpenFileHistoryRepository(path, 10, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if _, err := reopened.Get(context.Background(), "job-2"); err != nil {
		t.Fatalf("expected rewritten file to hold the new entry, got %v", err)
	}
}

func TestFileHistorySurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "history.json")
	repo, err := OpenFileHistoryRepository(path, 10, nil)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := repo.Append(context.Background(), historyEntry("job-keep", time.Now().UTC())); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	reopened, err := OpenFileHistoryRepository(path, 10, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if _, err := reopened.Get(context.Background(), "job-keep"); err != nil {
		t.Fatalf("expected entry after reopen, got %v", err)
	}

	matches, _ := filepath.Glob(filepath.Join(filepath.Dir(path), ".*.tmp"))
	if len(matches) != 0 {
		t.Fatalf("expected no temp files left, got %v", matches)
	}
}

func TestFileHistoryCapsEntries(t *testing.T) {
	repo, err := OpenFileHistoryRepository(filepath.Join(t.TempDir(), "history.json"), 3, nil)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		_ = repo.Append(context.Background(), historyEntry(fmt.Sprintf("job-%d", i), time.Now().UTC()))
	}
	entries, _ := repo.List(context.Background())
	if len(entries) != 3 || entries[0].ID != "job-4" || entries[2].ID != "job-2" {
		t.Fatalf("expected newest 3 entries, got %v", ids(entries))
	}
}

func TestFileHistoryConcurrentAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	repo, err := OpenFileHistoryRepository(path, 100, nil)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := repo.Append(context.Background(), historyEntry(fmt.Sprintf("job-%02d", i), time.Now().UTC())); err != nil {
				t.Errorf("append %d failed: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	reopened, err := OpenFileHistoryRepository(path, 100, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	entries, _ := reopened.List(context.Background())
	if len(entries) != 20 {
		t.Fatalf("expected 20 persisted entries, got %d", len(entries))
	}
}

func TestFileHistoryDeleteAndClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	repo, _ := OpenFileHistoryRepository(path, 10, nil)
	ctx := context.Background()
	_ = repo.Append(ctx, historyEntry("a", time.Now().UTC()))
	_ = repo.Append(ctx, historyEntry("b", time.Now().UTC()))

	if err := repo.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := repo.Delete(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
	if err := repo.Clear(ctx); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	entries, _ := repo.List(ctx)
	if len(entries) != 0 {
		t.Fatalf("expected empty history, got %v", ids(entries))
	}
	data, _ := os.ReadFile(path)
	if string(data) != "[]" {
		t.Fatalf("expected empty array on disk, got %q", data)
	}
}

func TestMemoryHistoryReturnsCopies(t *testing.T) {
	repo := NewMemoryHistoryRepository(0)
	ctx := context.Background()
	entry := historyEntry("job-1", time.Now().UTC())
	_ = repo.Append(ctx, entry)

	entry.Result.Text = "mutated by caller"
	got, _ := repo.Get(ctx, "job-1")
	if got.Result.Text != "text job-1" {
		t.Fatalf("stored entry must not alias caller data, got %q", got.Result.Text)
	}
}

func TestFileSettingsLoadDefaultsAndSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	repo, err := NewFileSettingsRepository(path, nil)
	if err != nil {
		t.Fatalf("new settings repo failed: %v", err)
	}

	settings, err := repo.Load()
	if err != nil {
		t.Fatalf("load of missing file must not fail, got %v", err)
	}
	if settings.HasAPIKey() {
		t.Fatalf("expected empty default settings, got %+v", settings)
	}

	want := domain.Settings{APIKey: "  AIza-secret-1234 ", PreferredModel: "gemini-1.5-pro", PreferredLanguage: "Hindi", PreferredStyle: domain.StyleArticle}
	if err := repo.Save(want); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	got, err := repo.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got.APIKey != "AIza-secret-1234" || got.PreferredModel != "gemini-1.5-pro" || got.PreferredStyle != domain.StyleArticle {
		t.Fatalf("unexpected settings %+v", got)
	}
	if got.MaskedAPIKey() != "****1234" {
		t.Fatalf("unexpected masked key %q", got.MaskedAPIKey())
	}
}

func TestFileSettingsReadersNeverSeePartialWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	repo, _ := NewFileSettingsRepository(path, nil)
	_ = repo.Save(domain.Settings{APIKey: "key-initial"})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = repo.Save(domain.Settings{APIKey: fmt.Sprintf("key-%d", i)})
		}(i)
		go func() {
			defer wg.Done()
			if _, err := repo.Load(); err != nil {
				t.Errorf("load observed a broken file: %v", err)
			}
		}()
	}
	wg.Wait()
}

func ids(entries []domain.HistoryEntry) []string {
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.ID)
	}
	return out
}

func TestFileSettingsLoadToleratesCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"api_key": "abc`), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	var logs bytes.Buffer
	repo, _ := NewFileSettingsRepository(path, log.New(&logs, "", 0))

	settings, err := repo.Load()
	if err != nil {
		t.Fatalf("expected corrupt file to be tolerated, got %v", err)
	}
	if settings != (domain.Settings{}) {
		t.Fatalf("expected zero settings, got %+v", settings)
	}
	if !strings.Contains(logs.String(), "settings file unreadable") {
		t.Fatalf("expected corrupt file to be logged, got %q", logs.String())
	}

	if err := repo.Update(func(s *domain.Settings) { s.APIKey = "fresh-key" }); err != nil {
		t.Fatalf("update over corrupt file failed: %v", err)
	}
	settings, _ = repo.Load()
	if settings.APIKey != "fresh-key" {
		t.Fatalf("expected fresh-key, got %q", settings.APIKey)
	}
}

func TestFileSettingsUpdateIsAtomicAcrossWriters(t *testing.T) {
	repo, _ := NewFileSettingsRepository(filepath.Join(t.TempDir(), "config.json"), nil)
	_ = repo.Save(domain.Settings{APIKey: "key-1"})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_ = repo.Update(func(s *domain.Settings) { s.PreferredLanguage = fmt.Sprintf("lang-%d", i) })
				return
			}
			_ = repo.Update(func(s *domain.Settings) { s.APIKey = "key-2" })
		}(i)
	}
	wg.Wait()

	settings, _ := repo.Load()
	if settings.APIKey != "key-2" {
		t.Fatalf("expected key-2 to survive preference updates, got %q", settings.APIKey)
	}
}
