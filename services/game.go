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
)

var (
	ErrGameNotStarted = errors.New("game has not started")
	ErrGameInProgress = errors.New("game is already in progress")
	ErrInvalidAction  = errors.New("invalid game action")
)

// GameManager owns the running games of every room.
type GameManager struct {
	games     map[string]*GameController
	mutex     sync.RWMutex
	transport Transport
	selector  SelectionUI
	completer Completer
	mailbox   *Mailbox
	cfg       ControllerConfig
	rng       Randomizer
}

// NewGameManager 创建游戏管理器实例
func NewGameManager(transport Transport, selector SelectionUI, completer Completer, mailbox *Mailbox, cfg ControllerConfig, rng Randomizer) *GameManager {
	if rng == nil {
		rng = NewRandomizer(0)
	}
	return &GameManager{
		games:     make(map[string]*GameController),
		transport: transport,
		selector:  selector,
		completer: completer,
		mailbox:   mailbox,
		cfg:       cfg,
		rng:       rng,
	}
}

// StartGame deals roles and runs the game in the background. onEnd is called
// once the game is over, whatever the outcome.
func (gm *GameManager) StartGame(room models.Room, players []*models.Player, onEnd func(winner string, err error)) error {
	gm.mutex.Lock()
	if _, exists := gm.games[room.ID]; exists {
		gm.mutex.Unlock()
		return ErrGameInProgress
	}
	assignRoles(players, room.Mode, gm.rng)
	game := NewGameState(room, players)
	gc := NewGameController(game, gm.transport, gm.selector, gm.completer, gm.rng, gm.cfg)
	gm.games[room.ID] = gc
	gm.mutex.Unlock()

	go func() {
		winner, err := gc.Run(context.Background())
		gm.report(room.ID, winner, err)

		gm.mutex.Lock()
		delete(gm.games, room.ID)
		gm.mutex.Unlock()

		if onEnd != nil {
			onEnd(winner, err)
		}
	}()
	return nil
}

func (gm *GameManager) report(roomID, winner string, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch {
	case err == nil:
		return
	case errors.Is(err, context.Canceled):
		log.Info().Str("room", roomID).Msg("game aborted")
		_ = gm.transport.SendPublic(ctx, roomID, "🛑 The game was aborted.")
	default:
		log.Error().Err(err).Str("room", roomID).Msg("game failed")
		msg := fmt.Sprintf("Unable to continue the game; an error occurred:\n```\n%v\n```\n-# If this error continues, please contact a developer.", err)
		if sendErr := gm.transport.SendPublic(ctx, roomID, msg); sendErr != nil {
			log.Warn().Err(sendErr).Str("room", roomID).Msg("diagnostic not delivered")
		}
	}
}

// GetGameController 获取游戏控制器
func (gm *GameManager) GetGameController(roomID string) (*GameController, bool) {
	gm.mutex.RLock()
	defer gm.mutex.RUnlock()
	gc, ok := gm.games[roomID]
	return gc, ok
}

// GetGameStatus 获取游戏状态
func (gm *GameManager) GetGameStatus(roomID string) (*models.GameStatus, error) {
	gc, ok := gm.GetGameController(roomID)
	if !ok {
		return nil, ErrGameNotStarted
	}
	status := gc.Status()
	return &status, nil
}

// AbortGame cancels a running game.
func (gm *GameManager) AbortGame(roomID string) error {
	gc, ok := gm.GetGameController(roomID)
	if !ok {
		return ErrGameNotStarted
	}
	gc.Abort()
	return nil
}

// ProcessAction delivers an outside event into the running game.
func (gm *GameManager) ProcessAction(action models.GameAction) error {
	gc, ok := gm.GetGameController(action.RoomID)
	if !ok {
		return ErrGameNotStarted
	}
	player, err := gc.Game().FindPlayer(action.PlayerID)
	if err != nil {
		return err
	}
	if !gc.Game().IsAlive(player.ID) {
		return fmt.Errorf("%w: dead players cannot act", ErrInvalidAction)
	}

	switch action.Type {
	case models.ActionSpeak:
		return gm.speak(gc, player, action)
	case models.ActionSelect:
		return gm.mailbox.DeliverSelection(player.ID, action.Option)
	case models.ActionVote:
		return gc.CastVote(player.ID, action.TargetID)
	default:
		return fmt.Errorf("%w: %q", ErrInvalidAction, action.Type)
	}
}

func (gm *GameManager) speak(gc *GameController, player *models.Player, action models.GameAction) error {
	text := strings.TrimSpace(action.Content)
	if text == "" {
		return fmt.Errorf("%w: empty message", ErrInvalidAction)
	}
	channel := action.Channel
	if channel == "" {
		channel = action.RoomID
	}
	if channel != action.RoomID && !(channel == MafiaChannel(action.RoomID) && IsMafia(player)) {
		return fmt.Errorf("%w: not a member of %s", ErrInvalidAction, channel)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := gm.transport.SendAs(ctx, channel, player, text); err != nil {
		log.Warn().Err(err).Str("channel", channel).Msg("chat not published")
	}
	if gm.mailbox.DeliverMessage(channel, player.ID, text) {
		log.Debug().Str("channel", channel).Str("player", player.Name).Msg("turn message received")
	}
	return nil
}

// generateRoles 生成角色列表
func generateRoles(playerCount int, mode models.GameMode) []models.Role {
	mafia := max(1, min(playerCount/3, playerCount-3))
	town := playerCount - mafia

	specials := []models.Role{models.Doctor, models.Sheriff}
	if (mode == models.StandardMode || mode == models.ExtendedMode) && town-len(specials) > 1 {
		specials = append(specials, models.Vigilante)
	}
	if mode == models.ExtendedMode && town-len(specials) > 1 {
		specials = append(specials, models.Jester)
	}
	if len(specials) > town {
		specials = specials[:town]
	}

	roles := make([]models.Role, 0, playerCount)
	roles = append(roles, specials...)
	for i := len(specials); i < town; i++ {
		roles = append(roles, models.Town)
	}
	for i := 0; i < mafia; i++ {
		roles = append(roles, models.Mafia)
	}
	return roles
}

// assignRoles 分配角色
func assignRoles(players []*models.Player, mode models.GameMode, rng Randomizer) {
	roles := generateRoles(len(players), mode)
	rng.Shuffle(len(roles), func(i, j int) {
		roles[i], roles[j] = roles[j], roles[i]
	})
	for i, p := range players {
		p.Role = roles[i]
		p.Alive = true
		p.DeathReason = models.DeathNone
		p.RoleState = make(map[string]string)
		log.Debug().Str("player", p.Name).Str("role", string(p.Role)).Msg("role assigned")
	}
}
