package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/qianlnk/mafia/models"
	"golang.org/x/sync/errgroup"
)

func testControllerConfig(voteTimeout time.Duration) ControllerConfig {
	return ControllerConfig{
		DiscussionTurns:      2,
		MafiaDiscussionTurns: 1,
		NightTimeout:         time.Second,
		Turn: TurnConfig{
			VoteTimeout:  voteTimeout,
			PollInterval: 5 * time.Millisecond,
		},
	}
}

func TestAllAIGameEndsWithTownLynchingTheMafia(t *testing.T) {
	players := []*models.Player{
		bot("m1", models.Mafia),
		bot("doc", models.Doctor),
		bot("sheriff", models.Sheriff),
		bot("t1", models.Town),
		bot("t2", models.Town),
		bot("t3", models.Town),
	}
	transport := newFakeTransport()
	game := NewGameState(models.Room{ID: "room"}, players)
	gc := NewGameController(game, transport, &fakeSelector{}, gameCompleter(prefer("m1")), NewRandomizer(11), testControllerConfig(time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	winner, err := gc.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if winner != TownWin {
		t.Fatalf("expected Town, got %s", winner)
	}
	if players[0].Alive || players[0].DeathReason != models.DeathLynch {
		t.Fatal("the Mafia should have been lynched")
	}
	if game.Phase() != PhaseEnded || game.Day() != 1 {
		t.Fatalf("expected the game to end on day 1, phase=%s day=%d", game.Phase(), game.Day())
	}
	if transport.publicContaining("Town wins") != 1 {
		t.Fatal("the winner should be narrated once")
	}

	found := false
	for _, m := range gc.Turns().Context(players[2]) {
		if m.Content == "m1 is **MAFIA**." {
			found = true
		}
	}
	if !found {
		t.Fatal("the sheriff's result should land in their own context")
	}
	for _, m := range gc.Turns().Context(players[3]) {
		if strings.Contains(m.Content, "is **MAFIA**") {
			t.Fatal("investigation results must stay private")
		}
	}
}

func TestAliveCountNeverIncreases(t *testing.T) {
	players := []*models.Player{
		bot("m1", models.Mafia),
		bot("m2", models.Mafia),
		bot("vig", models.Vigilante),
		bot("doc", models.Doctor),
		bot("t1", models.Town),
		bot("t2", models.Town),
		bot("t3", models.Town),
	}
	transport := newFakeTransport()
	game := NewGameState(models.Room{ID: "room"}, players)
	gc := NewGameController(game, transport, &fakeSelector{}, gameCompleter(firstOption), NewRandomizer(5), testControllerConfig(time.Second))

	done := make(chan struct{})
	var counts []int
	go func() {
		defer close(done)
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for game.Phase() != PhaseEnded {
			counts = append(counts, len(game.Alive()))
			<-ticker.C
		}
		counts = append(counts, len(game.Alive()))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	winner, err := gc.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	<-done

	switch winner {
	case TownWin, MafiaWin, NoOneWins, "Jester":
	default:
		t.Fatalf("unexpected winner %q", winner)
	}
	for i := 1; i < len(counts); i++ {
		if counts[i] > counts[i-1] {
			t.Fatalf("alive count went up: %v", counts)
		}
	}
}

func TestHumanDoctorSaveCancelsMafiaKill(t *testing.T) {
	players := []*models.Player{
		bot("m", models.Mafia),
		human("doc", models.Doctor),
		bot("x", models.Town),
		bot("y", models.Town),
		bot("z", models.Town),
	}
	transport := newFakeTransport()
	transport.replies["doc"] = []string{"m is acting weird", "vote m", "agreed"}
	selector := &fakeSelector{choose: func(playerID string, options []string) (int, error) {
		if playerID != "doc" {
			t.Errorf("unexpected selection for %s", playerID)
		}
		return indexOf(options, "x")
	}}
	game := NewGameState(models.Room{ID: "room"}, players)
	gc := NewGameController(game, transport, selector, gameCompleter(prefer("m", "x")), NewRandomizer(3), testControllerConfig(50*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	winner, err := gc.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if winner != TownWin {
		t.Fatalf("expected Town, got %s", winner)
	}
	if !players[2].Alive {
		t.Fatal("x was saved and should still be alive")
	}
	if transport.publicContaining(NobodyDied) != 1 {
		t.Fatal("the quiet night should be narrated")
	}
	if len(transport.privateTo("doc")) == 0 {
		t.Fatal("the human should have been told their role")
	}
}

func TestAbortReleasesWaitsWithoutResolvingTheNight(t *testing.T) {
	players := []*models.Player{
		human("h", models.Mafia),
		bot("doc", models.Doctor),
		bot("sheriff", models.Sheriff),
		bot("t1", models.Town),
		bot("t2", models.Town),
	}
	transport := newFakeTransport()
	game := NewGameState(models.Room{ID: "room"}, players)
	gc := NewGameController(game, transport, &fakeSelector{}, gameCompleter(firstOption), NewRandomizer(1), testControllerConfig(time.Minute))

	time.AfterFunc(50*time.Millisecond, gc.Abort)

	start := time.Now()
	_, err := gc.Run(context.Background())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("abort should release the pending vote")
	}
	if aliveCount(players) != len(players) {
		t.Fatal("an aborted night must not resolve")
	}
	if transport.publicContaining(NobodyDied) != 0 {
		t.Fatal("an aborted night must not be narrated")
	}

	if _, err := gc.Run(context.Background()); !errors.Is(err, ErrGameInProgress) {
		t.Fatalf("a controller runs once, got %v", err)
	}
}

func TestNightActionFailureIsNoAction(t *testing.T) {
	doc, sheriff, m := bot("doc", models.Doctor), bot("sheriff", models.Sheriff), bot("m", models.Mafia)
	completer := &fakeCompleter{fn: func(_ string, msgs []models.ChatMessage) (string, error) {
		if strings.Contains(msgs[0].Content, "You are doc") {
			return "", errors.New("rate limited")
		}
		return "m", nil
	}}
	game := NewGameState(models.Room{ID: "room"}, []*models.Player{doc, sheriff, m})
	turns := NewTurnManager("room", game.Players, newFakeTransport(), completer, NewRandomizer(1), TurnConfig{})
	skills := NewSkillManager(game, turns, nil, time.Second)

	ledger := NewNightLedger()
	night := NewNight(1, ledger, func(_ context.Context, to *models.Player, text string) {
		turns.Tell(to, text)
	})
	g, ctx := errgroup.WithContext(context.Background())
	if queued := skills.Dispatch(ctx, g, night); queued != 2 {
		t.Fatalf("expected doctor and sheriff to act, got %d", queued)
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("a failed completion must not fail the night: %v", err)
	}
	if len(ledger.Entries(ActionSaves)) != 0 {
		t.Fatal("the failed doctor should record nothing")
	}
	if got := ledger.Entries(ActionInvestigate); len(got) != 1 || got[0].Target != m {
		t.Fatalf("expected the sheriff to investigate m, got %v", got)
	}
}

func TestHumanWithoutSelectionUIDeclines(t *testing.T) {
	doc, x := human("doc", models.Doctor), bot("x", models.Town)
	game := NewGameState(models.Room{ID: "room"}, []*models.Player{doc, x})
	turns := NewTurnManager("room", game.Players, newFakeTransport(), chatter("x"), NewRandomizer(1), TurnConfig{})
	skills := NewSkillManager(game, turns, nil, time.Second)

	ledger := NewNightLedger()
	g, ctx := errgroup.WithContext(context.Background())
	skills.Dispatch(ctx, g, NewNight(1, ledger, nil))
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if ledger.Len() != 0 {
		t.Fatal("no selection ui means no action")
	}
}

func TestGuardRecoversWorkerPanics(t *testing.T) {
	g, _ := errgroup.WithContext(context.Background())
	g.Go(guard(func() error { panic("boom") }))
	if err := g.Wait(); !errors.Is(err, ErrGameCrashed) {
		t.Fatalf("expected ErrGameCrashed, got %v", err)
	}
}

func TestAbortBeforeRunNeverPlays(t *testing.T) {
	players := []*models.Player{
		human("h", models.Mafia),
		bot("doc", models.Doctor),
		bot("t1", models.Town),
	}
	transport := newFakeTransport()
	gc := NewGameController(NewGameState(models.Room{ID: "room"}, players), transport, &fakeSelector{}, gameCompleter(firstOption), NewRandomizer(1), testControllerConfig(time.Minute))

	gc.Abort()
	if _, err := gc.Run(context.Background()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(transport.privateTo("h")) != 0 || transport.publicContaining("") != 0 {
		t.Fatal("an aborted game should not announce anything")
	}
}

func TestAbortedNightDisclosesNoInvestigation(t *testing.T) {
	players := []*models.Player{
		human("m", models.Mafia),
		human("sheriff", models.Sheriff),
		bot("t1", models.Town),
		bot("t2", models.Town),
		bot("t3", models.Town),
	}
	transport := newFakeTransport()
	investigated := make(chan struct{})
	selector := &fakeSelector{choose: func(_ string, options []string) (int, error) {
		defer close(investigated)
		return indexOf(options, "m")
	}}
	gc := NewGameController(NewGameState(models.Room{ID: "room"}, players), transport, selector, gameCompleter(firstOption), NewRandomizer(2), testControllerConfig(time.Minute))

	go func() {
		<-investigated
		time.Sleep(20 * time.Millisecond)
		gc.Abort()
	}()
	if _, err := gc.Run(context.Background()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	for _, text := range transport.privateTo("sheriff") {
		if strings.Contains(text, "**MAFIA**") {
			t.Fatalf("the result leaked from an unresolved night: %q", text)
		}
	}
}
