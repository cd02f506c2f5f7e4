package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/qianlnk/mafia/models"
)

func chatter(reply string) *fakeCompleter {
	return &fakeCompleter{fn: func(_ string, msgs []models.ChatMessage) (string, error) {
		if isClassifier(msgs) {
			return "NONE", nil
		}
		return reply, nil
	}}
}

func TestContextStorePrunesButKeepsPriming(t *testing.T) {
	store := NewContextStore(3)
	store.Init("p", "system")
	if store.Init("p", "other") {
		t.Fatal("second init must not reset the context")
	}
	for _, text := range []string{"one", "two", "three", "four"} {
		store.Append("p", models.ChatMessage{Role: models.ChatUser, Content: text})
	}

	got := store.Snapshot("p")
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	if got[0].Content != "system" || got[1].Content != "three" || got[2].Content != "four" {
		t.Fatalf("unexpected context %v", got)
	}
}

func TestContextSeededWithRoleAndRoster(t *testing.T) {
	m1, m2, a := bot("m1", models.Mafia), bot("m2", models.Mafia), bot("a", models.Sheriff)
	tm := NewTurnManager("room", []*models.Player{m1, m2, a}, newFakeTransport(), chatter("hi"), NewRandomizer(1), TurnConfig{})

	ctx := tm.Context(m1)
	if len(ctx) != 1 || ctx[0].Role != models.ChatSystem {
		t.Fatalf("expected a single priming message, got %v", ctx)
	}
	prompt := ctx[0].Content
	for _, want := range []string{"You are m1", "**Mafia**", "fellow Mafia members are: m2", "m2, a", "2 Mafia, 1 Sheriff"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("priming message misses %q:\n%s", want, prompt)
		}
	}
	if strings.Contains(tm.Context(a)[0].Content, "fellow Mafia") {
		t.Fatal("town players must not learn the Mafia")
	}
}

func TestBroadcastExcludesAndScopesShareContexts(t *testing.T) {
	a, b, h := bot("a", models.Town), bot("b", models.Town), human("h", models.Town)
	tm := NewTurnManager("room", []*models.Player{a, b, h}, newFakeTransport(), chatter("hi"), NewRandomizer(1), TurnConfig{})

	tm.Broadcast("Day 1 begins", a)
	if n := len(tm.Context(a)); n != 1 {
		t.Fatalf("excluded player got the broadcast, %d messages", n)
	}
	if last := tm.Context(b); last[len(last)-1].Content != "Day 1 begins" {
		t.Fatalf("b missed the broadcast: %v", last)
	}

	scoped := tm.WithScope("room/mafia", []*models.Player{a})
	scoped.Broadcast("secret", nil)
	if got := tm.Context(a); got[len(got)-1].Content != "secret" {
		t.Fatal("re-scoping must keep the same contexts")
	}
	if got := tm.Context(b); got[len(got)-1].Content == "secret" {
		t.Fatal("broadcast leaked outside the scope")
	}
}

func TestRoundWithoutHumansNeverAwaitsMessages(t *testing.T) {
	roster := []*models.Player{bot("a", models.Town), bot("b", models.Town), bot("c", models.Mafia)}
	transport := newFakeTransport()
	tm := NewTurnManager("room", roster, transport, chatter("I have a bad feeling."), NewRandomizer(3), TurnConfig{})

	if err := tm.RunRound(context.Background(), 5); err != nil {
		t.Fatalf("round: %v", err)
	}
	if transport.awaitCalls() != 0 {
		t.Fatalf("expected no message waits, got %d", transport.awaitCalls())
	}
	if len(transport.said) != 5 {
		t.Fatalf("expected 5 turns, got %d", len(transport.said))
	}
}

func TestHumanTurnIsRelayedToAgents(t *testing.T) {
	h, a := human("h", models.Town), bot("a", models.Town)
	transport := newFakeTransport()
	transport.replies["h"] = []string{"I suspect a", "really"}
	tm := NewTurnManager("room", []*models.Player{h, a}, transport, chatter("not me"), NewRandomizer(5), TurnConfig{})

	if err := tm.RunRound(context.Background(), 2); err != nil {
		t.Fatalf("round: %v", err)
	}
	if transport.awaitCalls() != 1 {
		t.Fatalf("expected one wait for the human, got %d", transport.awaitCalls())
	}

	found := false
	for _, m := range tm.Context(a) {
		if m.Role == models.ChatUser && m.Content == "h: 'I suspect a'" {
			found = true
		}
	}
	if !found {
		t.Fatalf("agent context misses the human line: %v", tm.Context(a))
	}
}

func TestFailedAgentTurnIsSkipped(t *testing.T) {
	broken, ok := bot("broken", models.Town), bot("ok", models.Town)
	completer := &fakeCompleter{fn: func(_ string, msgs []models.ChatMessage) (string, error) {
		if isClassifier(msgs) {
			return "NONE", nil
		}
		if strings.Contains(msgs[0].Content, "You are broken") {
			return "", errors.New("model unavailable")
		}
		return "fine", nil
	}}
	transport := newFakeTransport()
	tm := NewTurnManager("room", []*models.Player{broken, ok}, transport, completer, NewRandomizer(2), TurnConfig{})

	if err := tm.RunRound(context.Background(), 3); err != nil {
		t.Fatalf("a failed turn must not end the round: %v", err)
	}
	for _, m := range transport.said {
		if m.to == "broken" {
			t.Fatal("the failed agent should not have published anything")
		}
	}
	if len(transport.said) == 0 {
		t.Fatal("the other agent should have spoken")
	}
}

func TestNextSpeakerFollowsStrongestMention(t *testing.T) {
	a, b, c := bot("a", models.Town), bot("b", models.Town), bot("c", models.Town)
	completer := &fakeCompleter{fn: func(model string, msgs []models.ChatMessage) (string, error) {
		if model != "classifier" {
			t.Errorf("classifier should use its own model, got %s", model)
		}
		return "c|CASUAL-MENTION\nb|ACCUSED", nil
	}}
	tm := NewTurnManager("room", []*models.Player{a, b, c}, newFakeTransport(), completer, NewRandomizer(1), TurnConfig{ClassifierModel: "classifier"})

	if next := tm.nextSpeaker(context.Background(), a, "b is lying, c agrees", []*models.Player{a, b, c}); next != b {
		t.Fatalf("expected b, got %s", next.Name)
	}
}

func TestMentionParsingAndPriority(t *testing.T) {
	a, b, c := bot("Alice", models.Town), bot("Bob", models.Town), bot("Carol", models.Town)
	roster := []*models.Player{a, b, c}

	mentions := ParseMentions("- alice: DIRECTLY-ASKED\nBob|ROLE-CLAIM\nDave|ACCUSED\nCarol|whatever\nBob|ACCUSED", roster)
	if len(mentions) != 2 {
		t.Fatalf("expected 2 mentions, got %v", mentions)
	}
	if got := PickMention(mentions); got != b {
		t.Fatalf("role claim outranks a question, got %s", got.Name)
	}
	if PickMention(ParseMentions("NONE", roster)) != nil {
		t.Fatal("NONE means nobody")
	}

	tied := []Mention{{Player: c, Kind: MentionCasual}, {Player: a, Kind: MentionCasual}}
	if got := PickMention(tied); got != c {
		t.Fatalf("first of equal mentions wins, got %s", got.Name)
	}
}

func TestRunVoteRoutesHumanVotes(t *testing.T) {
	h, a := human("h", models.Town), bot("a", models.Town)
	completer := &fakeCompleter{fn: func(_ string, msgs []models.ChatMessage) (string, error) {
		return "h", nil
	}}
	tm := NewTurnManager("room", []*models.Player{h, a}, newFakeTransport(), completer, NewRandomizer(1), TurnConfig{
		VoteTimeout:  5 * time.Second,
		PollInterval: 5 * time.Millisecond,
	})

	go func() {
		for i := 0; i < 200; i++ {
			if err := tm.CastVote("h", "h"); !errors.Is(err, ErrNotVoting) {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	got, err := tm.RunVote(context.Background(), []*models.Player{h, a}, "Who?", "🗳️", true, false)
	if err != nil {
		t.Fatalf("vote: %v", err)
	}
	if got != h {
		t.Fatalf("expected h, got %v", got)
	}
	if err := tm.CastVote("h", "a"); !errors.Is(err, ErrNotVoting) {
		t.Fatalf("the session should be closed, got %v", err)
	}
}
