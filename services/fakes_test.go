package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/qianlnk/mafia/models"
)

// fakeCompleter answers with fn and remembers every request.
type fakeCompleter struct {
	mu    sync.Mutex
	calls [][]models.ChatMessage
	fn    func(model string, msgs []models.ChatMessage) (string, error)
}

func (f *fakeCompleter) Complete(_ context.Context, model string, msgs []models.ChatMessage) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]models.ChatMessage(nil), msgs...))
	f.mu.Unlock()
	if f.fn == nil {
		return "ok", nil
	}
	return f.fn(model, msgs)
}

func (f *fakeCompleter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// isClassifier tells the mention classification request apart from a
// player's own context.
func isClassifier(msgs []models.ChatMessage) bool {
	return len(msgs) > 0 && msgs[0].Content == classifierSystem
}

// lastUser is the newest user message of a request.
func lastUser(msgs []models.ChatMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == models.ChatUser {
			return msgs[i].Content
		}
	}
	return ""
}

type sentMessage struct {
	channel string
	to      string
	text    string
}

// fakeTransport records everything and blocks AwaitMessage until the
// context ends unless replies are queued for the author.
type fakeTransport struct {
	mu       sync.Mutex
	public   []sentMessage
	private  []sentMessage
	said     []sentMessage
	replies  map[string][]string
	awaiting int32
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{replies: make(map[string][]string)}
}

func (f *fakeTransport) SendPublic(_ context.Context, channel, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.public = append(f.public, sentMessage{channel: channel, text: text})
	return nil
}

func (f *fakeTransport) SendAs(_ context.Context, channel string, speaker *models.Player, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.said = append(f.said, sentMessage{channel: channel, to: speaker.ID, text: text})
	return nil
}

func (f *fakeTransport) SendPrivate(_ context.Context, playerID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.private = append(f.private, sentMessage{to: playerID, text: text})
	return nil
}

func (f *fakeTransport) AwaitMessage(ctx context.Context, channel, fromID string) (string, error) {
	atomic.AddInt32(&f.awaiting, 1)
	f.mu.Lock()
	if queue := f.replies[fromID]; len(queue) > 0 {
		f.replies[fromID] = queue[1:]
		f.mu.Unlock()
		return queue[0], nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return "", ctx.Err()
}

func (f *fakeTransport) awaitCalls() int {
	return int(atomic.LoadInt32(&f.awaiting))
}

func (f *fakeTransport) publicContaining(substr string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.public {
		if strings.Contains(m.text, substr) {
			n++
		}
	}
	return n
}

func (f *fakeTransport) privateTo(playerID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.private {
		if m.to == playerID {
			out = append(out, m.text)
		}
	}
	return out
}

// fakeSelector picks by name through choose, or blocks when choose is nil.
type fakeSelector struct {
	choose func(playerID string, options []string) (int, error)
}

func (f *fakeSelector) AwaitSelection(ctx context.Context, playerID, _ string, options []string) (int, error) {
	if f.choose == nil {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	return f.choose(playerID, options)
}

func indexOf(options []string, name string) (int, error) {
	for i, o := range options {
		if o == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%s not offered", name)
}

// fakeAgents votes from a fixed table of replies.
type fakeAgents struct {
	replies map[string]string
	errs    map[string]error
}

func (f *fakeAgents) AgentVote(_ context.Context, p *models.Player, _ string, _ []string) (string, error) {
	if err := f.errs[p.ID]; err != nil {
		return "", err
	}
	return f.replies[p.ID], nil
}

func human(id string, role models.Role) *models.Player {
	return &models.Player{ID: id, Name: id, Type: models.HumanPlayer, Role: role, Alive: true}
}

func bot(id string, role models.Role) *models.Player {
	return &models.Player{ID: id, Name: id, Type: models.AIPlayer, Role: role, Model: "test-model", Alive: true}
}

func aliveCount(players []*models.Player) int {
	n := 0
	for _, p := range players {
		if p.Alive {
			n++
		}
	}
	return n
}

// listedAfter returns the list lines that follow header in a prompt.
func listedAfter(prompt, header string) []string {
	_, rest, ok := strings.Cut(prompt, header)
	if !ok {
		return nil
	}
	var out []string
	for _, line := range strings.Split(strings.TrimSpace(rest), "\n") {
		line = strings.TrimPrefix(strings.TrimSpace(line), "- ")
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// gameCompleter plays every AI seat: votes go through vote, night actions
// take the first eligible target, speech is small talk.
func gameCompleter(vote func(options []string) string) *fakeCompleter {
	return &fakeCompleter{fn: func(_ string, msgs []models.ChatMessage) (string, error) {
		if isClassifier(msgs) {
			return "NONE", nil
		}
		prompt := lastUser(msgs)
		if options := listedAfter(prompt, "OPTIONS:"); len(options) > 0 {
			return vote(options), nil
		}
		if targets := listedAfter(prompt, "Available players:"); len(targets) > 0 {
			return targets[0], nil
		}
		return "I am just a simple villager.", nil
	}}
}

func firstOption(options []string) string {
	return options[0]
}

// prefer votes for the first listed name that is on offer.
func prefer(names ...string) func(options []string) string {
	return func(options []string) string {
		for _, name := range names {
			for _, o := range options {
				if o == name {
					return o
				}
			}
		}
		return options[0]
	}
}
