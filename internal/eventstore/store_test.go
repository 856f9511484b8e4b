package eventstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/voxline-labs/voxline-core/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeralIsNoop(t *testing.T) {
	ctx := context.Background()
	cfg := config.EventStoreConfig{RetentionMode: "ephemeral"}
	es, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	if err := es.AppendUtterance(ctx, Utterance{SessionID: "s1", Role: "user", Text: "hello"}); err != nil {
		t.Fatalf("ephemeral append should be a no-op: %v", err)
	}
	utterances, err := es.ListSessionUtterances(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("ephemeral list: %v", err)
	}
	if len(utterances) != 0 {
		t.Fatalf("ephemeral store must not retain entries, got %d", len(utterances))
	}
}

func TestAppendAndQuery(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.EventStoreConfig{Path: filepath.Join(tmp, "timeline.db"), RetentionMode: "session"}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	sessionID := "session-123"
	if err := es.AppendSession(context.Background(), sessionID, "auto"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := es.AppendUtterance(context.Background(), Utterance{SessionID: sessionID, Role: "user", Text: "play music", Artifact: "/tmp/u1.wav"}); err != nil {
		t.Fatalf("append utterance: %v", err)
	}
	if err := es.AppendUtterance(context.Background(), Utterance{SessionID: sessionID, Role: "assistant", Text: "Sure."}); err != nil {
		t.Fatalf("append utterance: %v", err)
	}

	utterances, err := es.ListSessionUtterances(context.Background(), sessionID, 10)
	if err != nil {
		t.Fatalf("list utterances: %v", err)
	}
	if len(utterances) != 2 {
		t.Fatalf("expected 2 utterances, got %d", len(utterances))
	}
	if utterances[0].Role != "user" || utterances[0].Text != "play music" {
		t.Fatalf("unexpected first entry: %+v", utterances[0])
	}
	if utterances[0].Artifact != "/tmp/u1.wav" {
		t.Fatalf("artifact path not retained: %+v", utterances[0])
	}

	if err := es.CloseSession(context.Background(), sessionID); err != nil {
		t.Fatalf("close session: %v", err)
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.EventStoreConfig{Path: filepath.Join(tmp, "timeline.db"), RetentionMode: "persistent", RetentionDays: 1, MaxSessions: 1}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.AppendSession(context.Background(), "old-session", "auto"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := es.AppendUtterance(context.Background(), Utterance{SessionID: "old-session", Role: "user", Text: "hi"}); err != nil {
		t.Fatalf("append utterance: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := es.AppendSession(context.Background(), "new-session", "auto"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := es.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	utterances, err := es.ListSessionUtterances(context.Background(), "old-session", 10)
	if err != nil {
		t.Fatalf("list utterances: %v", err)
	}
	if len(utterances) != 0 {
		t.Fatal("expected old session pruned")
	}
}
