package memory

import (
	"strings"
	"testing"
	"time"
)

func TestStore_AppendAndHistory(t *testing.T) {
	s := NewStore(10, time.Hour)
	defer s.Close()

	s.Append("s1", RoleUser, "hello")
	s.Append("s1", RoleAssistant, "hi there")

	history := s.History("s1")
	if len(history) != 2 {
		t.Fatalf("History() returned %d messages, want 2", len(history))
	}
	if history[0].Role != RoleUser || history[0].Content != "hello" {
		t.Errorf("first message = %+v", history[0])
	}
	if history[1].Role != RoleAssistant {
		t.Errorf("second message role = %q, want assistant", history[1].Role)
	}

	if got := s.History("unknown"); got != nil {
		t.Errorf("History(unknown) = %v, want nil", got)
	}
}

func TestStore_MaxMessagesEviction(t *testing.T) {
	s := NewStore(3, time.Hour)
	defer s.Close()

	for _, msg := range []string{"a", "b", "c", "d", "e"} {
		s.Append("s1", RoleUser, msg)
	}

	history := s.History("s1")
	if len(history) != 3 {
		t.Fatalf("History() returned %d messages, want 3", len(history))
	}
	if history[0].Content != "c" || history[2].Content != "e" {
		t.Errorf("oldest messages not evicted: %+v", history)
	}
}

func TestStore_RecentHistory(t *testing.T) {
	s := NewStore(10, time.Hour)
	defer s.Close()

	for _, msg := range []string{"a", "b", "c", "d"} {
		s.Append("s1", RoleUser, msg)
	}

	recent := s.RecentHistory("s1", 2)
	if len(recent) != 2 {
		t.Fatalf("RecentHistory() returned %d messages, want 2", len(recent))
	}
	if recent[0].Content != "c" || recent[1].Content != "d" {
		t.Errorf("RecentHistory() = %+v", recent)
	}

	if got := s.RecentHistory("s1", 100); len(got) != 4 {
		t.Errorf("RecentHistory(100) returned %d messages, want all 4", len(got))
	}
}

func TestStore_ClearSession(t *testing.T) {
	s := NewStore(10, time.Hour)
	defer s.Close()

	s.Append("s1", RoleUser, "hello")
	s.ClearSession("s1")

	if got := s.History("s1"); got != nil {
		t.Errorf("History() after clear = %v, want nil", got)
	}
}

func TestStore_EvictExpired(t *testing.T) {
	s := NewStore(10, time.Nanosecond)
	defer s.Close()

	s.Append("s1", RoleUser, "hello")
	time.Sleep(time.Millisecond)
	s.evictExpired()

	if got := s.History("s1"); got != nil {
		t.Errorf("expired session survived eviction: %v", got)
	}
}

func TestFormatForPrompt(t *testing.T) {
	messages := []Message{
		{Role: RoleUser, Content: "who officiated the wedding?"},
		{Role: RoleAssistant, Content: "The vicar did."},
	}

	out := FormatForPrompt(messages)
	if !strings.Contains(out, "User: who officiated the wedding?\n") {
		t.Errorf("missing user line: %q", out)
	}
	if !strings.Contains(out, "Assistant: The vicar did.\n") {
		t.Errorf("missing assistant line: %q", out)
	}

	if got := FormatForPrompt(nil); got != "" {
		t.Errorf("FormatForPrompt(nil) = %q, want empty", got)
	}
}
