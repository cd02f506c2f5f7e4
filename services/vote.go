package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/qianlnk/mafia/models"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Abstain is the vote option meaning "no elimination preference".
const Abstain = "Abstain"

const defaultPollInterval = 500 * time.Millisecond

var (
	ErrNotVoting    = errors.New("no vote is open for this player")
	ErrInvalidVoter = errors.New("player may not vote in this session")
	ErrInvalidVote  = errors.New("not a valid vote option")
)

// VoteOptions 投票参数
type VoteOptions struct {
	Prompt          string
	Emoji           string // cosmetic, for the UI only
	Timeout         time.Duration
	AllowAbstain    bool
	BreakTiesRandom bool
	PollInterval    time.Duration
}

// AgentVoter produces the raw vote reply of an AI player.
type AgentVoter interface {
	AgentVote(ctx context.Context, p *models.Player, prompt string, options []string) (string, error)
}

// VoteSession is one bounded collection-and-tally over candidates and voters.
type VoteSession struct {
	candidates []*models.Player
	voters     []*models.Player
	options    []string
	opts       VoteOptions
	rng        Randomizer

	mu       sync.Mutex
	votes    map[string]string // voter ID -> choice
	deadline time.Time
}

// NewVoteSession 创建投票
func NewVoteSession(candidates, voters []*models.Player, opts VoteOptions, rng Randomizer) *VoteSession {
	options := make([]string, 0, len(candidates)+1)
	for _, c := range candidates {
		options = append(options, c.Name)
	}
	if opts.AllowAbstain {
		options = append(options, Abstain)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if rng == nil {
		rng = NewRandomizer(0)
	}
	return &VoteSession{
		candidates: candidates,
		voters:     voters,
		options:    options,
		opts:       opts,
		rng:        rng,
		votes:      make(map[string]string),
	}
}

// Options lists the valid replies in display order.
func (vs *VoteSession) Options() []string {
	return append([]string(nil), vs.options...)
}

// Deadline is zero until Run starts.
func (vs *VoteSession) Deadline() time.Time {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.deadline
}

// HasVoter reports whether playerID takes part in this session.
func (vs *VoteSession) HasVoter(playerID string) bool {
	for _, v := range vs.voters {
		if v.ID == playerID {
			return true
		}
	}
	return false
}

func (vs *VoteSession) valid(choice string) bool {
	for _, o := range vs.options {
		if o == choice {
			return true
		}
	}
	return false
}

// Cast records or overwrites a voter's choice.
func (vs *VoteSession) Cast(voterID, choice string) error {
	if !vs.HasVoter(voterID) {
		return ErrInvalidVoter
	}
	choice = strings.TrimSpace(choice)
	if !vs.valid(choice) {
		return ErrInvalidVote
	}
	vs.mu.Lock()
	vs.votes[voterID] = choice
	vs.mu.Unlock()
	return nil
}

// Votes returns a copy of the current votes.
func (vs *VoteSession) Votes() map[string]string {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	out := make(map[string]string, len(vs.votes))
	for k, v := range vs.votes {
		out[k] = v
	}
	return out
}

// Counts returns votes per candidate name and the abstain count.
func (vs *VoteSession) Counts() (map[string]int, int) {
	counts := make(map[string]int, len(vs.candidates))
	for _, c := range vs.candidates {
		counts[c.Name] = 0
	}
	abstain := 0
	for _, choice := range vs.Votes() {
		if choice == Abstain {
			abstain++
			continue
		}
		if _, ok := counts[choice]; ok {
			counts[choice]++
		}
	}
	return counts, abstain
}

// Tally renders the current counts.
func (vs *VoteSession) Tally() string {
	counts, abstain := vs.Counts()
	if len(vs.candidates) == 0 {
		return "No candidates."
	}
	lines := make([]string, 0, len(vs.candidates)+1)
	for _, c := range vs.candidates {
		lines = append(lines, fmt.Sprintf("- %s: **%d**", c.Name, counts[c.Name]))
	}
	if vs.opts.AllowAbstain {
		lines = append(lines, fmt.Sprintf("- %s: **%d**", Abstain, abstain))
	}
	return strings.Join(lines, "\n")
}

// Resolve applies the tally rules. A nil result means no decision.
func (vs *VoteSession) Resolve() *models.Player {
	counts, abstain := vs.Counts()

	best := 0
	for _, n := range counts {
		if n > best {
			best = n
		}
	}
	if vs.opts.AllowAbstain && abstain >= best {
		return nil
	}
	if best == 0 {
		return nil
	}

	var tied []*models.Player
	for _, c := range vs.candidates {
		if counts[c.Name] == best {
			tied = append(tied, c)
		}
	}
	switch {
	case len(tied) == 1:
		return tied[0]
	case vs.opts.BreakTiesRandom:
		return tied[vs.rng.Intn(len(tied))]
	default:
		return nil
	}
}

func (vs *VoteSession) humanVoters() []*models.Player {
	var humans []*models.Player
	for _, v := range vs.voters {
		if !v.IsAI() {
			humans = append(humans, v)
		}
	}
	return humans
}

func (vs *VoteSession) humanVotes(humans []*models.Player) int {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	got := 0
	for _, h := range humans {
		if _, ok := vs.votes[h.ID]; ok {
			got++
		}
	}
	return got
}

// Run collects AI votes concurrently, waits for the humans until all voted or
// the deadline passed, publishes the tally and resolves.
func (vs *VoteSession) Run(ctx context.Context, agents AgentVoter, publish func(ctx context.Context, text string)) (*models.Player, error) {
	vs.mu.Lock()
	vs.deadline = time.Now().Add(vs.opts.Timeout)
	deadline := vs.deadline
	vs.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, v := range vs.voters {
		if !v.IsAI() || agents == nil || len(vs.options) == 0 {
			continue
		}
		voter := v
		g.Go(guard(func() error {
			reply, err := agents.AgentVote(gctx, voter, vs.opts.Prompt, vs.Options())
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Warn().Err(err).Str("player", voter.Name).Msg("ai vote failed, counted as abstained")
				return nil
			}
			choice := strings.TrimSpace(reply)
			if !vs.valid(choice) {
				choice = vs.options[vs.rng.Intn(len(vs.options))]
			}
			vs.mu.Lock()
			vs.votes[voter.ID] = choice
			vs.mu.Unlock()
			return nil
		}))
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if publish != nil {
		publish(ctx, "**Votes:**\n"+vs.Tally())
	}

	humans := vs.humanVoters()
	if len(humans) > 0 {
		ticker := time.NewTicker(vs.opts.PollInterval)
		defer ticker.Stop()
		for vs.humanVotes(humans) < len(humans) && time.Now().Before(deadline) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-ticker.C:
			}
		}
	}

	if publish != nil {
		publish(ctx, "**Final votes:**\n"+vs.Tally())
	}
	return vs.Resolve(), nil
}
