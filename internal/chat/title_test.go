package chat

import "testing"

func TestDeriveTitle(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"How do I improve my resume for free?", "Help Request"},
		{"I need some help with my CV", "Help Request"},
		{"Should I learn programming in Go?", "Code Discussion"},
		{"What is a product manager?", "Explanation"},
		{"I want to build a portfolio site", "Project Creation"},
		{"Switching careers into nursing", "Switching Careers Into"},
		{"go to uni or not", "go to uni or not"},
		{"", "New Chat"},
		{"   ", "New Chat"},
		{"a b c d e f g h i j k l m n o p q r s", "a b c d e f g h i j k l m n o ..."},
	}

	for _, tc := range tests {
		if got := DeriveTitle(tc.in); got != tc.want {
			t.Fatalf("DeriveTitle(%q): expected %q, got %q", tc.in, tc.want, got)
		}
	}
}

func TestDeriveTitle_IsPure(t *testing.T) {
	msg := "Negotiating salary after relocation"
	first := DeriveTitle(msg)
	for i := 0; i < 5; i++ {
		if got := DeriveTitle(msg); got != first {
			t.Fatalf("title changed between calls: %q vs %q", first, got)
		}
	}
}

func TestAnonymousSessionID(t *testing.T) {
	id, err := NewAnonymousSessionID(fixedNow())
	if err != nil {
		t.Fatalf("new anonymous id: %v", err)
	}
	if !IsAnonymousSessionID(id) {
		t.Fatalf("expected %q to be anonymous", id)
	}
	sid, err := NewSessionID()
	if err != nil {
		t.Fatalf("new session id: %v", err)
	}
	if IsAnonymousSessionID(sid) || len(sid) != 26 {
		t.Fatalf("unexpected persisted id %q", sid)
	}
}
