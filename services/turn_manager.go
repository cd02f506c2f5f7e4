package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/qianlnk/mafia/models"
	"github.com/rs/zerolog/log"
)

// TurnConfig tunes discussion rounds and votes.
type TurnConfig struct {
	ClassifierModel string
	VoteTimeout     time.Duration
	PollInterval    time.Duration
	ContextLimit    int
}

// ContextStore keeps one conversational context per AI player.
type ContextStore struct {
	mu       sync.Mutex
	contexts map[string][]models.ChatMessage
	limit    int
}

// NewContextStore creates an empty store. limit <= 0 keeps everything.
func NewContextStore(limit int) *ContextStore {
	return &ContextStore{contexts: make(map[string][]models.ChatMessage), limit: limit}
}

// Init seeds a context with its priming message unless it already exists.
func (s *ContextStore) Init(playerID, system string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contexts[playerID]; ok {
		return false
	}
	s.contexts[playerID] = []models.ChatMessage{{Role: models.ChatSystem, Content: system}}
	return true
}

// Append adds a message and prunes the oldest non-priming entries past the limit.
func (s *ContextStore) Append(playerID string, msg models.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := append(s.contexts[playerID], msg)
	if s.limit > 1 && len(msgs) > s.limit {
		keep := s.limit - 1
		pruned := make([]models.ChatMessage, 0, s.limit)
		if msgs[0].Role == models.ChatSystem {
			pruned = append(pruned, msgs[0])
		} else {
			keep++
		}
		msgs = append(pruned, msgs[len(msgs)-keep:]...)
	}
	s.contexts[playerID] = msgs
}

// Snapshot copies a context.
func (s *ContextStore) Snapshot(playerID string) []models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ChatMessage(nil), s.contexts[playerID]...)
}

// voteBoard routes human votes to whichever session they belong to.
type voteBoard struct {
	mu       sync.Mutex
	sessions map[string]*VoteSession // channel -> open session
}

func (b *voteBoard) open(channel string, vs *VoteSession) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions[channel] = vs
}

func (b *voteBoard) close(channel string, vs *VoteSession) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sessions[channel] == vs {
		delete(b.sessions, channel)
	}
}

func (b *voteBoard) cast(voterID, choice string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, vs := range b.sessions {
		if vs.HasVoter(voterID) {
			return vs.Cast(voterID, choice)
		}
	}
	return ErrNotVoting
}

type turnCore struct {
	transport Transport
	completer Completer
	dialogue  *AIDialogue
	roster    []*models.Player
	cfg       TurnConfig
	rng       Randomizer
	store     *ContextStore
	board     *voteBoard
	initOnce  sync.Once
}

// TurnManager runs discussion rounds and votes in one channel scope. Scoped
// copies share the AI contexts, so re-scoping never resets them.
type TurnManager struct {
	*turnCore
	channel      string
	participants []*models.Player
}

// NewTurnManager 创建回合管理器
func NewTurnManager(channel string, roster []*models.Player, transport Transport, completer Completer, rng Randomizer, cfg TurnConfig) *TurnManager {
	if rng == nil {
		rng = NewRandomizer(0)
	}
	return &TurnManager{
		turnCore: &turnCore{
			transport: transport,
			completer: completer,
			dialogue:  NewAIDialogue(roster),
			roster:    roster,
			cfg:       cfg,
			rng:       rng,
			store:     NewContextStore(cfg.ContextLimit),
			board:     &voteBoard{sessions: make(map[string]*VoteSession)},
		},
		channel:      channel,
		participants: roster,
	}
}

// WithScope returns a manager for another channel and participant set.
func (tm *TurnManager) WithScope(channel string, participants []*models.Player) *TurnManager {
	return &TurnManager{turnCore: tm.turnCore, channel: channel, participants: participants}
}

// Channel is the scope's channel reference.
func (tm *TurnManager) Channel() string {
	return tm.channel
}

func (tm *TurnManager) init() {
	tm.initOnce.Do(func() {
		for _, p := range tm.roster {
			if p.IsAI() {
				tm.store.Init(p.ID, tm.dialogue.SystemPrompt(p))
			}
		}
	})
}

// Context returns a copy of an AI player's context.
func (tm *TurnManager) Context(p *models.Player) []models.ChatMessage {
	tm.init()
	return tm.store.Snapshot(p.ID)
}

// Broadcast appends text to the context of every AI participant but exclude.
func (tm *TurnManager) Broadcast(text string, exclude *models.Player) {
	tm.init()
	for _, p := range tm.participants {
		if !p.IsAI() || (exclude != nil && p.ID == exclude.ID) {
			continue
		}
		tm.store.Append(p.ID, models.ChatMessage{Role: models.ChatUser, Content: text})
	}
}

// Tell appends text to one AI player's context only.
func (tm *TurnManager) Tell(p *models.Player, text string) {
	if !p.IsAI() {
		return
	}
	tm.init()
	tm.store.Append(p.ID, models.ChatMessage{Role: models.ChatUser, Content: text})
}

// Complete sends prompt as the player's next user turn and records the reply.
func (tm *TurnManager) Complete(ctx context.Context, p *models.Player, prompt string) (string, error) {
	tm.Tell(p, prompt)
	return tm.generate(ctx, p)
}

func (tm *TurnManager) generate(ctx context.Context, p *models.Player) (string, error) {
	tm.init()
	reply, err := tm.completer.Complete(ctx, p.Model, tm.store.Snapshot(p.ID))
	if err != nil {
		return "", fmt.Errorf("complete for %s: %w", p.Name, err)
	}
	reply = strings.TrimSpace(reply)
	tm.store.Append(p.ID, models.ChatMessage{Role: models.ChatAssistant, Content: reply})
	return reply, nil
}

// AgentVote implements AgentVoter on top of the player's context.
func (tm *TurnManager) AgentVote(ctx context.Context, p *models.Player, prompt string, options []string) (string, error) {
	return tm.Complete(ctx, p, VotePrompt(prompt, options))
}

func alivePlayers(players []*models.Player) []*models.Player {
	out := make([]*models.Player, 0, len(players))
	for _, p := range players {
		if p.Alive {
			out = append(out, p)
		}
	}
	return out
}

// RunRound runs rounds speaking turns. The first speaker is random; each
// next speaker is the strongest mention of the last message, or random.
func (tm *TurnManager) RunRound(ctx context.Context, rounds int) error {
	tm.init()
	participants := alivePlayers(tm.participants)
	if len(participants) == 0 || rounds <= 0 {
		return nil
	}

	speaker := participants[tm.rng.Intn(len(participants))]
	for turn := 0; turn < rounds; turn++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		text, err := tm.takeTurn(ctx, speaker)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn().Err(err).Str("channel", tm.channel).Str("player", speaker.Name).Msg("turn skipped")
			speaker = tm.randomOther(participants, speaker)
			continue
		}
		speaker = tm.nextSpeaker(ctx, speaker, text, participants)
	}
	return nil
}

func (tm *TurnManager) takeTurn(ctx context.Context, p *models.Player) (string, error) {
	if !p.IsAI() {
		if err := tm.transport.SendPublic(ctx, tm.channel, SpeakTurn(p)); err != nil {
			log.Warn().Err(err).Str("channel", tm.channel).Msg("turn prompt not delivered")
		}
		text, err := tm.transport.AwaitMessage(ctx, tm.channel, p.ID)
		if err != nil {
			return "", err
		}
		tm.Broadcast(Said(p, text), p)
		return text, nil
	}

	text, err := tm.generate(ctx, p)
	if err != nil {
		return "", err
	}
	if err := tm.transport.SendAs(ctx, tm.channel, p, text); err != nil {
		log.Warn().Err(err).Str("channel", tm.channel).Str("player", p.Name).Msg("publish failed")
	}
	tm.Broadcast(Said(p, text), p)
	return text, nil
}

func (tm *TurnManager) nextSpeaker(ctx context.Context, speaker *models.Player, text string, participants []*models.Player) *models.Player {
	candidates := make([]*models.Player, 0, len(participants))
	for _, p := range participants {
		if p.ID != speaker.ID {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return speaker
	}

	model := tm.cfg.ClassifierModel
	if model == "" {
		model = speaker.Model
	}
	reply, err := tm.completer.Complete(ctx, model, ClassifierMessages(speaker, text, alivePlayers(tm.roster)))
	if err != nil {
		log.Debug().Err(err).Msg("mention classifier failed, picking at random")
	} else if next := PickMention(ParseMentions(reply, candidates)); next != nil {
		return next
	}
	return candidates[tm.rng.Intn(len(candidates))]
}

func (tm *TurnManager) randomOther(participants []*models.Player, current *models.Player) *models.Player {
	others := make([]*models.Player, 0, len(participants))
	for _, p := range participants {
		if p.ID != current.ID {
			others = append(others, p)
		}
	}
	if len(others) == 0 {
		return current
	}
	return others[tm.rng.Intn(len(others))]
}

// RunVote opens a VoteSession for the scope's living participants.
func (tm *TurnManager) RunVote(ctx context.Context, candidates []*models.Player, prompt, emoji string, allowAbstain, breakTiesRandom bool) (*models.Player, error) {
	tm.init()
	vs := NewVoteSession(candidates, alivePlayers(tm.participants), VoteOptions{
		Prompt:          prompt,
		Emoji:           emoji,
		Timeout:         tm.cfg.VoteTimeout,
		AllowAbstain:    allowAbstain,
		BreakTiesRandom: breakTiesRandom,
		PollInterval:    tm.cfg.PollInterval,
	}, tm.rng)

	tm.board.open(tm.channel, vs)
	defer tm.board.close(tm.channel, vs)

	poll := fmt.Sprintf("%s %s\n-# Voting ends in %s.\nOptions: %s",
		emoji, prompt, tm.cfg.VoteTimeout, strings.Join(vs.Options(), ", "))
	if err := tm.transport.SendPublic(ctx, tm.channel, poll); err != nil {
		log.Warn().Err(err).Str("channel", tm.channel).Msg("vote poll not delivered")
	}

	return vs.Run(ctx, tm, func(ctx context.Context, text string) {
		if err := tm.transport.SendPublic(ctx, tm.channel, text); err != nil {
			log.Warn().Err(err).Str("channel", tm.channel).Msg("tally not delivered")
		}
	})
}

// CastVote delivers a human vote into the open session the voter belongs to.
func (tm *TurnManager) CastVote(voterID, choice string) error {
	return tm.board.cast(voterID, choice)
}
