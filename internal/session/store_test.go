package session

import (
	"fmt"
	"testing"
)

func TestUpsertCreatesLazily(t *testing.T) {
	s := NewStore(20)

	if _, ok := s.Get("k"); ok {
		t.Fatalf("Get() on unseen key should report absent")
	}

	s.Upsert("k", "", "hi", "hello")
	sess, ok := s.Get("k")
	if !ok {
		t.Fatalf("Get() after Upsert should find the session")
	}
	if len(sess.Turns) != 2 {
		t.Fatalf("turn count = %d, want 2", len(sess.Turns))
	}
	if sess.Turns[0].Role != RoleUser || sess.Turns[1].Role != RoleAssistant {
		t.Fatalf("turn order = %v/%v, want user/assistant", sess.Turns[0].Role, sess.Turns[1].Role)
	}
	if sess.UpdatedAt.IsZero() {
		t.Fatalf("UpdatedAt should be set")
	}
}

func TestUpsertTrimsOldestFirst(t *testing.T) {
	s := NewStore(20)
	for i := 0; i < 15; i++ {
		s.Upsert("k", "", fmt.Sprintf("u%d", i), fmt.Sprintf("a%d", i))
	}

	sess, _ := s.Get("k")
	if len(sess.Turns) != 20 {
		t.Fatalf("turn count = %d, want 20", len(sess.Turns))
	}
	// 30 turns were appended; the first 10 must be gone and the survivors
	// must keep their original relative order.
	if got := sess.Turns[0].Text; got != "u5" {
		t.Fatalf("oldest surviving turn = %q, want %q", got, "u5")
	}
	if got := sess.Turns[len(sess.Turns)-1].Text; got != "a14" {
		t.Fatalf("newest turn = %q, want %q", got, "a14")
	}
	for i := 0; i < len(sess.Turns); i += 2 {
		wantUser := fmt.Sprintf("u%d", 5+i/2)
		if sess.Turns[i].Text != wantUser {
			t.Fatalf("turn[%d] = %q, want %q", i, sess.Turns[i].Text, wantUser)
		}
	}
}

func TestUpsertStickySystem(t *testing.T) {
	s := NewStore(20)
	s.Upsert("k", "be brief", "hi", "ok")
	s.Upsert("k", "", "more", "sure")

	sess, _ := s.Get("k")
	if sess.System != "be brief" {
		t.Fatalf("System = %q, want sticky %q", sess.System, "be brief")
	}

	s.Upsert("k", "be verbose", "", "")
	sess, _ = s.Get("k")
	if sess.System != "be verbose" {
		t.Fatalf("System = %q, want overridden %q", sess.System, "be verbose")
	}
}

func TestUpsertSkipsEmptyTurns(t *testing.T) {
	s := NewStore(20)
	s.Upsert("k", "sys only", "", "")

	sess, ok := s.Get("k")
	if !ok {
		t.Fatalf("session should exist after system-only Upsert")
	}
	if len(sess.Turns) != 0 {
		t.Fatalf("turn count = %d, want 0", len(sess.Turns))
	}
}

func TestResetMakesGetAbsent(t *testing.T) {
	s := NewStore(20)
	s.Upsert("k", "sys", "hi", "hello")
	s.Reset("k")

	if _, ok := s.Get("k"); ok {
		t.Fatalf("Get() after Reset should report absent")
	}
	if got := s.Compose("k", "", "fresh"); len(got) != 1 || got[0].Role != RoleUser {
		t.Fatalf("Compose after Reset = %v, want single user turn", got)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	s := NewStore(20)
	s.Upsert("k", "", "hi", "hello")

	sess, _ := s.Get("k")
	sess.Turns[0].Text = "mutated"

	again, _ := s.Get("k")
	if again.Turns[0].Text != "hi" {
		t.Fatalf("stored turn = %q, caller mutation leaked into store", again.Turns[0].Text)
	}
}
