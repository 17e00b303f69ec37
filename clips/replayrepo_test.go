package clips

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/yeti47/replaybuffer/ccc/db"
	"github.com/yeti47/replaybuffer/ccc/logging"
)

func setupTestRepo(t *testing.T) (*SQLiteReplayRepository, func()) {
	testDB, err := db.NewInMemoryDB()
	if err != nil {
		t.Fatalf("Failed to create in-memory database: %v", err)
	}

	repo, err := NewSQLiteReplayRepository(testDB)
	if err != nil {
		testDB.Close()
		t.Fatalf("Failed to create repository: %v", err)
	}

	cleanup := func() {
		testDB.Close()
	}

	return repo, cleanup
}

func createTestReplay(id string, trigger time.Time) *Replay {
	start := trigger.Add(-60 * time.Second).UnixMilli()
	return &Replay{
		ID:            id,
		FilePath:      "/videos/Replay_" + id + ".mp4",
		TriggerTime:   trigger,
		StartTimeUTC:  &start,
		Duration:      60 * time.Second,
		HasAudio:      true,
		FormatVersion: 1,
		CreatedAt:     trigger.Add(3 * time.Second),
	}
}

func TestSQLiteReplayRepository_Add(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()

	ctx := context.Background()
	replay := createTestReplay("replay-1", time.Now().UTC())

	if err := repo.Add(ctx, replay); err != nil {
		t.Fatalf("Failed to add replay: %v", err)
	}

	retrieved, err := repo.GetByID(ctx, replay.ID)
	if err != nil {
		t.Fatalf("Failed to retrieve replay: %v", err)
	}
	if retrieved == nil {
		t.Fatal("Retrieved replay is nil")
	}

	if retrieved.FilePath != replay.FilePath {
		t.Errorf("Expected file path %s, got %s", replay.FilePath, retrieved.FilePath)
	}
	if !retrieved.TriggerTime.Equal(replay.TriggerTime) {
		t.Errorf("Expected trigger time %v, got %v", replay.TriggerTime, retrieved.TriggerTime)
	}
	if retrieved.StartTimeUTC == nil || *retrieved.StartTimeUTC != *replay.StartTimeUTC {
		t.Errorf("Expected start time %d, got %v", *replay.StartTimeUTC, retrieved.StartTimeUTC)
	}
	if retrieved.Duration != replay.Duration {
		t.Errorf("Expected duration %v, got %v", replay.Duration, retrieved.Duration)
	}
	if !retrieved.HasAudio {
		t.Error("Expected HasAudio to be true")
	}
	if retrieved.FormatVersion != 1 {
		t.Errorf("Expected format version 1, got %d", retrieved.FormatVersion)
	}
}

func TestSQLiteReplayRepository_NullStartTime(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()

	ctx := context.Background()
	replay := createTestReplay("replay-1", time.Now().UTC())
	replay.StartTimeUTC = nil

	if err := repo.Add(ctx, replay); err != nil {
		t.Fatalf("Failed to add replay: %v", err)
	}

	retrieved, err := repo.GetByID(ctx, replay.ID)
	if err != nil {
		t.Fatalf("Failed to retrieve replay: %v", err)
	}
	if retrieved.StartTimeUTC != nil {
		t.Errorf("Expected nil start time, got %d", *retrieved.StartTimeUTC)
	}
}

func TestSQLiteReplayRepository_GetByID_NotFound(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()

	retrieved, err := repo.GetByID(context.Background(), "non-existent-id")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if retrieved != nil {
		t.Error("Expected nil for non-existent replay")
	}
}

func TestSQLiteReplayRepository_Query(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()

	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c", "d"} {
		replay := createTestReplay(id, base.Add(time.Duration(i)*time.Minute))
		replay.HasAudio = i%2 == 0
		if err := repo.Add(ctx, replay); err != nil {
			t.Fatalf("Failed to add replay: %v", err)
		}
	}

	withAudio := true
	endTime := base.Add(2 * time.Minute)

	tests := []struct {
		name      string
		query     ReplayQuery
		wantIDs   []string
		wantTotal int
	}{
		{"all newest first", ReplayQuery{}, []string{"d", "c", "b", "a"}, 4},
		{"with audio", ReplayQuery{HasAudio: &withAudio}, []string{"c", "a"}, 2},
		{"until end time", ReplayQuery{EndTime: &endTime}, []string{"c", "b", "a"}, 3},
		{"second page", ReplayQuery{Page: 2, PageSize: 3}, []string{"a"}, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			replays, total, err := repo.Query(ctx, tt.query)
			if err != nil {
				t.Fatalf("Query failed: %v", err)
			}
			if total != tt.wantTotal {
				t.Errorf("Expected total %d, got %d", tt.wantTotal, total)
			}
			if len(replays) != len(tt.wantIDs) {
				t.Fatalf("Expected %d replays, got %d", len(tt.wantIDs), len(replays))
			}
			for i, id := range tt.wantIDs {
				if replays[i].ID != id {
					t.Errorf("Position %d: expected %s, got %s", i, id, replays[i].ID)
				}
			}
		})
	}
}

func TestReplayDeleter_RemovesFileAndRecord(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()

	ctx := context.Background()
	dir := t.TempDir()

	replay := createTestReplay("replay-1", time.Now().UTC())
	replay.FilePath = filepath.Join(dir, "Replay_1.mp4")
	if err := os.WriteFile(replay.FilePath, []byte("mp4"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := repo.Add(ctx, replay); err != nil {
		t.Fatalf("Failed to add replay: %v", err)
	}

	deleter := NewReplayDeleter(logging.NopLogger, repo)
	resp, err := deleter.DeleteReplays(ctx, DeleteReplaysRequest{ReplayIDs: []string{"replay-1", "missing"}})
	if err != nil {
		t.Fatalf("DeleteReplays failed: %v", err)
	}

	if len(resp.DeletedReplays) != 1 || resp.DeletedReplays[0] != "replay-1" {
		t.Errorf("Expected replay-1 deleted, got %v", resp.DeletedReplays)
	}
	if len(resp.FailedReplays) != 1 || resp.FailedReplays[0] != "missing" {
		t.Errorf("Expected missing to fail, got %v", resp.FailedReplays)
	}
	if _, err := os.Stat(replay.FilePath); !os.IsNotExist(err) {
		t.Error("Expected replay file to be removed")
	}
	if got, _ := repo.GetByID(ctx, "replay-1"); got != nil {
		t.Error("Expected catalog entry to be removed")
	}
}

func TestReplayDeleter_EmptyRequest(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()

	deleter := NewReplayDeleter(nil, repo)
	if _, err := deleter.DeleteReplays(context.Background(), DeleteReplaysRequest{}); err == nil {
		t.Error("Expected error for empty request")
	}
}
