package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/qianlnk/mafia/models"
)

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	for i := 0; i < 200; i++ {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestMailboxMessageNeedsTheRequiredAuthor(t *testing.T) {
	mb := NewMailbox()
	got := make(chan string, 1)
	go func() {
		text, _ := mb.AwaitMessage(context.Background(), "room", "alice")
		got <- text
	}()
	waitUntil(t, func() bool { return mb.Waiting("room", "alice") })

	if mb.DeliverMessage("room", "bob", "me first") {
		t.Fatal("another author must not satisfy the wait")
	}
	if mb.DeliverMessage("room/mafia", "alice", "wrong channel") {
		t.Fatal("another channel must not satisfy the wait")
	}
	if mb.DeliverMessage("room", "alice", "   ") {
		t.Fatal("blank messages are ignored")
	}
	if !mb.DeliverMessage("room", "alice", "hello") {
		t.Fatal("the required author should be delivered")
	}
	if text := <-got; text != "hello" {
		t.Fatalf("expected hello, got %q", text)
	}
	if mb.Waiting("room", "alice") {
		t.Fatal("the wait resolves once")
	}
}

func TestMailboxWaitIsCancellable(t *testing.T) {
	mb := NewMailbox()
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	if _, err := mb.AwaitMessage(ctx, "room", "alice"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if mb.Waiting("room", "alice") {
		t.Fatal("a cancelled wait is forgotten")
	}
}

func TestMailboxSelection(t *testing.T) {
	mb := NewMailbox()
	if err := mb.DeliverSelection("alice", 0); !errors.Is(err, ErrNoPendingWait) {
		t.Fatalf("expected ErrNoPendingWait, got %v", err)
	}

	got := make(chan int, 1)
	go func() {
		idx, _ := mb.AwaitSelection(context.Background(), "alice", 3)
		got <- idx
	}()
	waitUntil(t, func() bool {
		return !errors.Is(mb.DeliverSelection("alice", 3), ErrNoPendingWait)
	})
	if err := mb.DeliverSelection("alice", 2); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if idx := <-got; idx != 2 {
		t.Fatalf("expected 2, got %d", idx)
	}
}

func TestMatchPlayer(t *testing.T) {
	ann, annabel, bob := bot("Ann", models.Town), bot("Annabel", models.Town), bot("Bob", models.Town)
	candidates := []*models.Player{ann, annabel, bob}

	tests := map[string]*models.Player{
		"bob":                 bob,
		" Ann. ":              ann,
		"I'll go with Annabel": annabel,
		"**Bob**":             bob,
		"nobody":              nil,
	}
	for reply, want := range tests {
		if got := MatchPlayer(reply, candidates); got != want {
			t.Fatalf("reply %q: expected %v, got %v", reply, want, got)
		}
	}
}

func TestChooseTargetFallsBackToFirstEligible(t *testing.T) {
	doc, x, y := bot("doc", models.Doctor), bot("x", models.Town), bot("y", models.Town)
	tm := NewTurnManager("room", []*models.Player{doc, x, y}, newFakeTransport(), chatter("hmm, hard to say"), NewRandomizer(1), TurnConfig{})

	got, err := NewAIPlayer(doc, tm).ChooseTarget(context.Background(), []*models.Player{y, x})
	if err != nil {
		t.Fatal(err)
	}
	if got != y {
		t.Fatalf("expected the first eligible target, got %s", got.Name)
	}
	if got, _ := NewAIPlayer(doc, tm).ChooseTarget(context.Background(), nil); got != nil {
		t.Fatal("no targets means no action")
	}
}
