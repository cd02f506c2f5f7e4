package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/qianlnk/mafia/models"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	ErrCannotAct     = errors.New("role cannot act tonight")
	ErrInvalidTarget = errors.New("invalid target")
)

// handleSave 医生救人
func handleSave(_ context.Context, n *Night, actor, target *models.Player) error {
	n.Ledger.Record(ActionSaves, LedgerEntry{Actor: actor, Target: target})
	actor.SetState(StateLastSaved, target.ID)
	return nil
}

// handleKill records an independent kill tagged with the actor's role.
func handleKill(_ context.Context, n *Night, actor, target *models.Player) error {
	reason := models.DeathReason(strings.ToLower(string(actor.Role)))
	n.Ledger.Record(ActionKills, LedgerEntry{Actor: actor, Target: target, Reason: reason})
	return nil
}

// handleInvestigate records the investigation. The result is only told to
// the investigator once the night resolves.
func handleInvestigate(_ context.Context, n *Night, actor, target *models.Player) error {
	n.Ledger.Record(ActionInvestigate, LedgerEntry{Actor: actor, Target: target})
	return nil
}

func investigationResult(target *models.Player) string {
	alignment := RoleOf(target.Role).Alignment
	return fmt.Sprintf("%s is **%s**.", target.Name, strings.ToUpper(string(alignment)))
}

// decideByCompletion is the default AI path shared by every capability base.
func decideByCompletion(ctx context.Context, ai *AIPlayer, targets []*models.Player) (*models.Player, error) {
	return ai.ChooseTarget(ctx, targets)
}

// SkillManager dispatches the night actions of capability holders.
type SkillManager struct {
	game     *GameState
	turns    *TurnManager
	selector SelectionUI
	timeout  time.Duration
}

// NewSkillManager 创建技能管理器实例
func NewSkillManager(game *GameState, turns *TurnManager, selector SelectionUI, timeout time.Duration) *SkillManager {
	return &SkillManager{game: game, turns: turns, selector: selector, timeout: timeout}
}

// Dispatch queues exactly one action path per special, capable, living
// player on g. Nothing is resolved here.
func (sm *SkillManager) Dispatch(ctx context.Context, g *errgroup.Group, n *Night) int {
	alive := sm.game.Alive()
	queued := 0
	for _, p := range alive {
		role := RoleOf(p.Role)
		if !role.Able(p) {
			continue
		}
		targets := role.EligibleTargets(p, alive)
		if len(targets) == 0 {
			continue
		}
		actor := p
		g.Go(guard(func() error {
			return sm.act(ctx, n, role, actor, targets)
		}))
		queued++
	}
	return queued
}

func (sm *SkillManager) act(ctx context.Context, n *Night, role *RoleDef, actor *models.Player, targets []*models.Player) error {
	var (
		target *models.Player
		err    error
	)
	if actor.IsAI() {
		target, err = role.DecideAI(ctx, NewAIPlayer(actor, sm.turns), targets)
	} else {
		target, err = sm.askHuman(ctx, role, actor, targets)
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn().Err(err).
			Str("room", sm.game.RoomID).
			Str("player", actor.Name).
			Str("role", string(role.Name)).
			Msg("night action dropped")
		return nil
	}
	if target == nil {
		return nil
	}

	if err := role.HandleSelection(ctx, n, actor, target); err != nil {
		log.Warn().Err(err).Str("player", actor.Name).Str("target", target.Name).Msg("night action rejected")
		return nil
	}
	log.Debug().
		Str("room", sm.game.RoomID).
		Int("day", n.Day).
		Str("player", actor.Name).
		Str("action", role.Verb()).
		Str("target", target.Name).
		Msg("night action recorded")
	return nil
}

func (sm *SkillManager) askHuman(ctx context.Context, role *RoleDef, actor *models.Player, targets []*models.Player) (*models.Player, error) {
	if sm.selector == nil {
		return nil, ErrNoSelectionUI
	}
	if sm.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, sm.timeout)
		defer cancel()
	}

	options := make([]string, len(targets))
	for i, t := range targets {
		options[i] = t.Name
	}
	idx, err := sm.selector.AwaitSelection(ctx, actor.ID, role.Prompt(), options)
	if err != nil {
		return nil, err
	}
	if idx < 0 || idx >= len(targets) {
		return nil, ErrInvalidTarget
	}
	return targets[idx], nil
}
