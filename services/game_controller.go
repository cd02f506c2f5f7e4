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

var ErrGameCrashed = errors.New("game aborted by an internal error")

// ChannelRegistry is implemented by transports that keep private channels.
type ChannelRegistry interface {
	OpenChannel(channel string, memberIDs []string)
	CloseChannel(channel string)
}

// ControllerConfig 游戏流程参数
type ControllerConfig struct {
	DiscussionTurns      int
	MafiaDiscussionTurns int
	NightTimeout         time.Duration
	Turn                 TurnConfig
}

// MafiaChannel is the private sub-channel of a room's Mafia.
func MafiaChannel(roomID string) string {
	return roomID + "/mafia"
}

// GameController drives the night/day loop of one game.
type GameController struct {
	game         *GameState
	stateMachine *StateMachine
	turns        *TurnManager
	skills       *SkillManager
	transport    Transport
	cfg          ControllerConfig

	mutex   sync.Mutex
	cancel  context.CancelFunc
	started bool
	aborted bool
}

// NewGameController 创建游戏控制器实例
func NewGameController(game *GameState, transport Transport, selector SelectionUI, completer Completer, rng Randomizer, cfg ControllerConfig) *GameController {
	turns := NewTurnManager(game.RoomID, game.Players, transport, completer, rng, cfg.Turn)
	return &GameController{
		game:         game,
		stateMachine: NewStateMachine(game),
		turns:        turns,
		skills:       NewSkillManager(game, turns, selector, cfg.NightTimeout),
		transport:    transport,
		cfg:          cfg,
	}
}

// Game exposes the roster for reading.
func (gc *GameController) Game() *GameState {
	return gc.game
}

// Turns exposes the turn manager, mostly for inspection in tests.
func (gc *GameController) Turns() *TurnManager {
	return gc.turns
}

// Run plays the game to the end and returns the winner's name. Errors are
// fatal for this game only; panics are turned into ErrGameCrashed.
func (gc *GameController) Run(ctx context.Context) (winner string, err error) {
	gc.mutex.Lock()
	if gc.started {
		gc.mutex.Unlock()
		return "", ErrGameInProgress
	}
	gc.started = true
	ctx, cancel := context.WithCancel(ctx)
	gc.cancel = cancel
	if gc.aborted {
		cancel()
	}
	gc.mutex.Unlock()
	defer cancel()

	if err := ctx.Err(); err != nil {
		return "", err
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("room", gc.game.RoomID).Msg("game crashed")
			winner, err = "", fmt.Errorf("%w: %v", ErrGameCrashed, r)
		}
	}()

	mafia := gc.game.AliveWhere(IsMafia)
	if reg, ok := gc.transport.(ChannelRegistry); ok {
		reg.OpenChannel(MafiaChannel(gc.game.RoomID), playerIDs(mafia))
		defer reg.CloseChannel(MafiaChannel(gc.game.RoomID))
	}
	gc.announceRoles(ctx, mafia)

	for {
		day := gc.game.nextDay()

		if _, err := gc.stateMachine.TransitionPhase(); err != nil {
			return "", err
		}
		if err := gc.runNight(ctx, day); err != nil {
			return "", err
		}
		if w, done := gc.stateMachine.CheckGameEnd(); done {
			gc.finish(ctx, w)
			return w, nil
		}

		if _, err := gc.stateMachine.TransitionPhase(); err != nil {
			return "", err
		}
		if err := gc.runDay(ctx, day); err != nil {
			return "", err
		}
		if w, done := gc.stateMachine.CheckGameEnd(); done {
			gc.finish(ctx, w)
			return w, nil
		}
	}
}

// Abort cancels the game. Pending waits are released and the current night
// is not resolved. A game aborted before Run starts never plays.
func (gc *GameController) Abort() {
	gc.mutex.Lock()
	defer gc.mutex.Unlock()
	gc.aborted = true
	if gc.cancel != nil {
		gc.cancel()
	}
}

// CastVote delivers a human vote.
func (gc *GameController) CastVote(voterID, choice string) error {
	return gc.turns.CastVote(voterID, choice)
}

// Status 游戏状态
func (gc *GameController) Status() models.GameStatus {
	return gc.game.Status()
}

func (gc *GameController) announceRoles(ctx context.Context, mafia []*models.Player) {
	names := make([]string, len(mafia))
	for i, m := range mafia {
		names[i] = m.Name
	}
	for _, p := range gc.game.Players {
		if p.IsAI() {
			continue
		}
		text := RoleReveal(p)
		if IsMafia(p) && len(mafia) > 1 {
			text += "\nThe Mafia: " + strings.Join(names, ", ")
		}
		if err := gc.transport.SendPrivate(ctx, p.ID, text); err != nil {
			log.Warn().Err(err).Str("player", p.Name).Msg("role reveal not delivered")
		}
	}
	log.Info().Str("room", gc.game.RoomID).Int("players", len(gc.game.Players)).Msg("roles announced")
}

func (gc *GameController) narrate(ctx context.Context, text string) {
	if err := gc.transport.SendPublic(ctx, gc.game.RoomID, text); err != nil {
		log.Warn().Err(err).Str("room", gc.game.RoomID).Msg("narration not delivered")
	}
	gc.turns.Broadcast(text, nil)
}

func (gc *GameController) disclose(ctx context.Context, to *models.Player, text string) {
	if to.IsAI() {
		gc.turns.Tell(to, text)
		return
	}
	if err := gc.transport.SendPrivate(ctx, to.ID, text); err != nil {
		log.Warn().Err(err).Str("player", to.Name).Msg("private result not delivered")
	}
}

func (gc *GameController) runNight(ctx context.Context, day int) error {
	ledger := NewNightLedger()
	defer ledger.Clear()

	gc.narrate(ctx, NightFalls(day))
	night := NewNight(day, ledger, gc.disclose)

	g, gctx := errgroup.WithContext(ctx)
	queued := gc.skills.Dispatch(gctx, g, night)
	if mafia := gc.game.AliveWhere(IsMafia); len(mafia) > 0 {
		g.Go(guard(func() error {
			return gc.mafiaKill(gctx, day, ledger, mafia)
		}))
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var deaths []Death
	gc.game.apply(func() {
		deaths = ledger.Resolve()
	})
	night.DiscloseInvestigations(ctx)
	log.Info().
		Str("room", gc.game.RoomID).
		Int("day", day).
		Int("actions", queued).
		Int("deaths", len(deaths)).
		Msg("night resolved")

	if len(deaths) == 0 {
		gc.narrate(ctx, NobodyDied)
		return nil
	}
	for _, d := range deaths {
		gc.narrate(ctx, DeathNotice(d))
	}
	return nil
}

func (gc *GameController) mafiaKill(ctx context.Context, day int, ledger *NightLedger, mafia []*models.Player) error {
	candidates := gc.game.AliveWhere(func(p *models.Player) bool { return !IsMafia(p) })
	if len(candidates) == 0 {
		return nil
	}
	scope := gc.turns.WithScope(MafiaChannel(gc.game.RoomID), mafia)
	scope.Broadcast(fmt.Sprintf("NIGHT %d: the Mafia meets in private. Agree on one player to kill.", day), nil)

	if len(mafia) > 1 && gc.cfg.MafiaDiscussionTurns > 0 {
		talk := ctx
		if gc.cfg.NightTimeout > 0 {
			var cancel context.CancelFunc
			talk, cancel = context.WithTimeout(ctx, gc.cfg.NightTimeout)
			defer cancel()
		}
		if err := scope.RunRound(talk, gc.cfg.MafiaDiscussionTurns); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
	}

	target, err := scope.RunVote(ctx, candidates, "Who should the Mafia kill tonight?", "🔪", false, true)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn().Err(err).Str("room", gc.game.RoomID).Msg("mafia vote failed")
		return nil
	}
	if target != nil {
		ledger.SetMafiaKill(target)
	}
	return nil
}

func (gc *GameController) runDay(ctx context.Context, day int) error {
	alive := gc.game.Alive()
	if len(alive) == 0 {
		return nil
	}
	gc.narrate(ctx, DayBreaks(day))

	scope := gc.turns.WithScope(gc.game.RoomID, alive)
	if err := scope.RunRound(ctx, gc.cfg.DiscussionTurns); err != nil {
		return err
	}

	target, err := scope.RunVote(ctx, alive, fmt.Sprintf("Day %d: who should the town lynch?", day), "🗳️", true, false)
	if err != nil {
		return err
	}
	if target == nil {
		gc.narrate(ctx, NoLynch)
		return nil
	}

	killed := false
	gc.game.apply(func() {
		killed = target.Kill(models.DeathLynch)
	})
	if killed {
		gc.narrate(ctx, DeathNotice(Death{Player: target, Reason: models.DeathLynch}))
	}
	log.Info().Str("room", gc.game.RoomID).Int("day", day).Str("lynched", target.Name).Msg("day resolved")
	return nil
}

func (gc *GameController) finish(ctx context.Context, winner string) {
	gc.narrate(ctx, fmt.Sprintf("# 🎉 %s wins! 🎉\n-# Thanks for playing!", winner))
	log.Info().Str("room", gc.game.RoomID).Str("winner", winner).Int("day", gc.game.Day()).Msg("game ended")
}

// guard turns a panic in a worker goroutine into ErrGameCrashed so the
// errgroup join reports it instead of taking the process down.
func guard(fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("worker crashed")
				err = fmt.Errorf("%w: %v", ErrGameCrashed, r)
			}
		}()
		return fn()
	}
}

func playerIDs(players []*models.Player) []string {
	ids := make([]string, len(players))
	for i, p := range players {
		ids[i] = p.ID
	}
	return ids
}
