package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"snchat/internal/transcript"
)

func newTestStore(t *testing.T) *HistoryStore {
	t.Helper()
	s, err := NewHistoryStore(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("NewHistoryStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func msg(seq int, role transcript.Role, text string) transcript.Message {
	return transcript.Message{
		ID:        "id-" + text,
		Seq:       seq,
		Role:      role,
		Kind:      transcript.KindPlain,
		Text:      text,
		Source:    transcript.SourcePrimary,
		CreatedAt: time.Date(2026, 1, 2, 15, 4, seq, 0, time.UTC),
	}
}

func TestHistoryStore_SaveAndLoad(t *testing.T) {
	s := newTestStore(t)

	entries := []transcript.Message{
		msg(0, transcript.RoleUser, "hello"),
		msg(1, transcript.RoleAssistant, "hi there"),
		msg(2, transcript.RoleSystem, "agent joined"),
	}
	for _, m := range entries {
		if err := s.SaveMessage("sess-1", m); err != nil {
			t.Fatalf("SaveMessage failed: %v", err)
		}
	}

	got, err := s.LoadSession("sess-1")
	if err != nil {
		t.Fatalf("LoadSession failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	texts := []string{got[0].Text, got[1].Text, got[2].Text}
	if diff := cmp.Diff([]string{"hello", "hi there", "agent joined"}, texts); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
	if got[1].Role != transcript.RoleAssistant || got[1].Kind != transcript.KindPlain {
		t.Errorf("roundtrip lost fields: %+v", got[1])
	}
}

func TestHistoryStore_DuplicateSeqIsIgnored(t *testing.T) {
	s := newTestStore(t)

	first := msg(0, transcript.RoleUser, "original")
	dup := msg(0, transcript.RoleUser, "replayed")
	dup.ID = "other-id"

	if err := s.SaveMessage("sess-1", first); err != nil {
		t.Fatalf("SaveMessage failed: %v", err)
	}
	if err := s.SaveMessage("sess-1", dup); err != nil {
		t.Fatalf("duplicate SaveMessage should not error: %v", err)
	}

	got, err := s.LoadSession("sess-1")
	if err != nil {
		t.Fatalf("LoadSession failed: %v", err)
	}
	if len(got) != 1 || got[0].Text != "original" {
		t.Errorf("duplicate seq should be skipped, got %+v", got)
	}
}

func TestHistoryStore_LoadUnknownSessionIsEmpty(t *testing.T) {
	s := newTestStore(t)
	got, err := s.LoadSession("no-such-session")
	if err != nil {
		t.Fatalf("LoadSession failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty result, got %d messages", len(got))
	}
}

func TestHistoryStore_ListSessions(t *testing.T) {
	s := newTestStore(t)

	if err := s.SaveMessage("older", msg(0, transcript.RoleUser, "a")); err != nil {
		t.Fatal(err)
	}
	newer := msg(0, transcript.RoleUser, "b")
	newer.CreatedAt = newer.CreatedAt.Add(time.Hour)
	if err := s.SaveMessage("newer", newer); err != nil {
		t.Fatal(err)
	}
	second := msg(1, transcript.RoleAssistant, "c")
	second.CreatedAt = second.CreatedAt.Add(time.Hour)
	if err := s.SaveMessage("newer", second); err != nil {
		t.Fatal(err)
	}

	got, err := s.ListSessions(10)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(got))
	}
	if got[0].SessionID != "newer" || got[0].MessageCount != 2 {
		t.Errorf("most recent session first, got %+v", got[0])
	}
	if got[1].SessionID != "older" || got[1].MessageCount != 1 {
		t.Errorf("unexpected second entry: %+v", got[1])
	}
}

func TestHistoryStore_DeleteSession(t *testing.T) {
	s := newTestStore(t)

	if err := s.SaveMessage("sess-1", msg(0, transcript.RoleUser, "a")); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveMessage("sess-2", msg(0, transcript.RoleUser, "b")); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteSession("sess-1"); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	gone, _ := s.LoadSession("sess-1")
	kept, _ := s.LoadSession("sess-2")
	if len(gone) != 0 {
		t.Errorf("sess-1 should be gone, got %d messages", len(gone))
	}
	if len(kept) != 1 {
		t.Errorf("sess-2 should survive, got %d messages", len(kept))
	}
}

func TestHistoryStore_PruneSessions(t *testing.T) {
	s := newTestStore(t)

	stale := msg(0, transcript.RoleUser, "ancient")
	stale.CreatedAt = time.Now().Add(-72 * time.Hour)
	if err := s.SaveMessage("stale", stale); err != nil {
		t.Fatal(err)
	}
	fresh := msg(0, transcript.RoleUser, "recent")
	fresh.CreatedAt = time.Now()
	if err := s.SaveMessage("fresh", fresh); err != nil {
		t.Fatal(err)
	}

	n, err := s.PruneSessions(24 * time.Hour)
	if err != nil {
		t.Fatalf("PruneSessions failed: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d messages, want 1", n)
	}
	sessions, err := s.ListSessions(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 || sessions[0].SessionID != "fresh" {
		t.Errorf("expected only the fresh session to remain, got %+v", sessions)
	}
}

func TestHistoryStore_AttachPersistsAppends(t *testing.T) {
	s := newTestStore(t)
	live := transcript.NewStore()
	s.Attach("sess-live", live)

	live.Append(transcript.RoleUser, transcript.KindPlain, "typed by user", transcript.SourcePrimary)
	live.Append(transcript.RoleAssistant, transcript.KindPlain, "answered", transcript.SourceServiceNow)

	got, err := s.LoadSession("sess-live")
	if err != nil {
		t.Fatalf("LoadSession failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 persisted messages, got %d", len(got))
	}
	if got[1].Source != transcript.SourceServiceNow {
		t.Errorf("source lost in write-behind path: %+v", got[1])
	}
}
