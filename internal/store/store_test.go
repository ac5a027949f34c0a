package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"aura/internal/session"
	"aura/internal/telemetry"
	"aura/internal/thinking"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := telemetry.InitDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("InitDB failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db, nil)
}

func TestMessageRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	view := thinking.Compile("1. **Plan**: reading main.go", true)
	id, err := s.InsertMessage(ctx, session.Message{
		SessionID:          "s1",
		Role:               session.RoleThinking,
		Content:            "1. **Plan**: reading main.go",
		StructuredThinking: &view,
	})
	if err != nil {
		t.Fatalf("InsertMessage failed: %v", err)
	}
	if id == "" {
		t.Fatal("Expected a generated id")
	}

	messages, err := s.Messages(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("Messages failed: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(messages))
	}
	got := messages[0]
	if got.ID != id || got.Role != session.RoleThinking {
		t.Errorf("Unexpected message %+v", got)
	}
	if got.StructuredThinking == nil || got.StructuredThinking.Status != thinking.StatusCompleted {
		t.Errorf("Structured view must survive the round trip, got %+v", got.StructuredThinking)
	}
}

func TestPatchMessage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.InsertMessage(ctx, session.Message{
		SessionID: "s1",
		Role:      session.RoleAssistant,
		Content:   "partial",
	})
	if err != nil {
		t.Fatalf("InsertMessage failed: %v", err)
	}

	if err := s.PatchMessageContent(ctx, id, "partial answer grown", nil); err != nil {
		t.Fatalf("PatchMessageContent failed: %v", err)
	}
	if err := s.PatchMessageUsage(ctx, id, 30, 10, 20, 0.00033); err != nil {
		t.Fatalf("PatchMessageUsage failed: %v", err)
	}

	messages, err := s.Messages(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("Messages failed: %v", err)
	}
	got := messages[0]
	if got.Content != "partial answer grown" {
		t.Errorf("Unexpected content %q", got.Content)
	}
	if got.TokenCount != 30 || got.InputTokens != 10 || got.OutputTokens != 20 {
		t.Errorf("Unexpected usage %d/%d/%d", got.TokenCount, got.InputTokens, got.OutputTokens)
	}
}

func TestMessagesOrderAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, content := range []string{"first", "second", "third"} {
		_, err := s.InsertMessage(ctx, session.Message{
			SessionID: "s1",
			Role:      session.RoleUser,
			Content:   content,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("InsertMessage failed: %v", err)
		}
	}

	messages, err := s.Messages(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("Messages failed: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(messages))
	}
	if messages[0].Content != "first" || messages[1].Content != "second" {
		t.Errorf("Expected ascending creation order, got %q then %q",
			messages[0].Content, messages[1].Content)
	}
}

func TestSessionInfoAggregates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, m := range []session.Message{
		{SessionID: "s1", Role: session.RoleUser, Content: "q", TokenCount: 10},
		{SessionID: "s1", Role: session.RoleAssistant, Content: "a", TokenCount: 20, EstimatedCost: 0.0003},
		{SessionID: "s2", Role: session.RoleUser, Content: "unrelated", TokenCount: 99},
	} {
		if _, err := s.InsertMessage(ctx, m); err != nil {
			t.Fatalf("InsertMessage failed: %v", err)
		}
	}

	totals, err := s.SessionInfo(ctx, "s1")
	if err != nil {
		t.Fatalf("SessionInfo failed: %v", err)
	}
	if totals.MessageCount != 2 || totals.TotalTokens != 30 {
		t.Errorf("Unexpected totals %+v", totals)
	}
	if totals.TotalCost != 0.0003 {
		t.Errorf("Unexpected cost %f", totals.TotalCost)
	}
}

func TestCreateSessionIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := session.Session{
		SessionID:    "s1",
		Title:        "notes",
		CreatedAt:    time.Now(),
		LastActivity: time.Now(),
		UserID:       "alice",
	}
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	// The synchronizer may submit the same optimistic record twice.
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("Repeated CreateSession must be a no-op, got %v", err)
	}

	sessions, err := s.ListSessions(ctx, "alice")
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 1 {
		t.Errorf("Expected 1 session, got %d", len(sessions))
	}
}

func TestDeleteSessionCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateSession(ctx, session.Session{
		SessionID: "s1", Title: "a", CreatedAt: time.Now(), LastActivity: time.Now(), UserID: "alice",
	}); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if _, err := s.InsertMessage(ctx, session.Message{
		SessionID: "s1", Role: session.RoleUser, Content: "hi",
	}); err != nil {
		t.Fatalf("InsertMessage failed: %v", err)
	}

	if err := s.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}

	messages, err := s.Messages(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("Messages failed: %v", err)
	}
	if len(messages) != 0 {
		t.Errorf("Expected messages deleted with the session, got %d", len(messages))
	}
	sessions, err := s.ListSessions(ctx, "alice")
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 0 {
		t.Errorf("Expected no sessions left, got %d", len(sessions))
	}
}

func TestListSessionsMostRecentFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	for _, sess := range []session.Session{
		{SessionID: "s-old", Title: "old", CreatedAt: now.Add(-2 * time.Hour), LastActivity: now.Add(-2 * time.Hour), UserID: "alice"},
		{SessionID: "s-new", Title: "new", CreatedAt: now, LastActivity: now, UserID: "alice"},
		{SessionID: "s-other", Title: "other user", CreatedAt: now, LastActivity: now, UserID: "bob"},
	} {
		if err := s.CreateSession(ctx, sess); err != nil {
			t.Fatalf("CreateSession failed: %v", err)
		}
	}

	sessions, err := s.ListSessions(ctx, "alice")
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("Expected 2 sessions for alice, got %d", len(sessions))
	}
	if sessions[0].SessionID != "s-new" {
		t.Errorf("Expected most recent first, got %q", sessions[0].SessionID)
	}
}
