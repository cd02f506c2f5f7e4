package services

import (
	"errors"
	"sync"

	"github.com/qianlnk/mafia/models"
)

var ErrPlayerNotFound = errors.New("player not found")

// GameState is the roster and phase of one running game.
type GameState struct {
	RoomID  string
	Room    models.Room
	Players []*models.Player

	phase  string
	day    int
	winner string
	mutex  sync.RWMutex
}

// NewGameState 创建游戏状态实例
func NewGameState(room models.Room, players []*models.Player) *GameState {
	return &GameState{
		RoomID:  room.ID,
		Room:    room,
		Players: players,
		phase:   PhaseInit,
	}
}

// Phase 当前阶段
func (gs *GameState) Phase() string {
	gs.mutex.RLock()
	defer gs.mutex.RUnlock()
	return gs.phase
}

func (gs *GameState) setPhase(phase string) {
	gs.mutex.Lock()
	defer gs.mutex.Unlock()
	gs.phase = phase
}

// Day 当前天数
func (gs *GameState) Day() int {
	gs.mutex.RLock()
	defer gs.mutex.RUnlock()
	return gs.day
}

func (gs *GameState) nextDay() int {
	gs.mutex.Lock()
	defer gs.mutex.Unlock()
	gs.day++
	return gs.day
}

// Winner is empty until the game ended.
func (gs *GameState) Winner() string {
	gs.mutex.RLock()
	defer gs.mutex.RUnlock()
	return gs.winner
}

func (gs *GameState) end(winner string) {
	gs.mutex.Lock()
	defer gs.mutex.Unlock()
	gs.phase = PhaseEnded
	gs.winner = winner
}

// Alive returns the living players in seat order.
func (gs *GameState) Alive() []*models.Player {
	return gs.AliveWhere(nil)
}

// AliveWhere returns the living players matching keep.
func (gs *GameState) AliveWhere(keep func(p *models.Player) bool) []*models.Player {
	gs.mutex.RLock()
	defer gs.mutex.RUnlock()
	out := make([]*models.Player, 0, len(gs.Players))
	for _, p := range gs.Players {
		if p.Alive && (keep == nil || keep(p)) {
			out = append(out, p)
		}
	}
	return out
}

// FindPlayer 查找玩家
func (gs *GameState) FindPlayer(id string) (*models.Player, error) {
	gs.mutex.RLock()
	defer gs.mutex.RUnlock()
	for _, p := range gs.Players {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, ErrPlayerNotFound
}

// IsAlive reads a player's alive flag under the roster lock.
func (gs *GameState) IsAlive(id string) bool {
	gs.mutex.RLock()
	defer gs.mutex.RUnlock()
	for _, p := range gs.Players {
		if p.ID == id {
			return p.Alive
		}
	}
	return false
}

// apply runs a roster mutation under the write lock.
func (gs *GameState) apply(fn func()) {
	gs.mutex.Lock()
	defer gs.mutex.Unlock()
	fn()
}

// Status is the public view of the game. Roles stay hidden while alive.
func (gs *GameState) Status() models.GameStatus {
	gs.mutex.RLock()
	defer gs.mutex.RUnlock()

	players := make([]models.PublicPlayer, 0, len(gs.Players))
	for _, p := range gs.Players {
		pp := models.PublicPlayer{
			ID:          p.ID,
			Name:        p.Name,
			Type:        p.Type,
			Alive:       p.Alive,
			DeathReason: p.DeathReason,
		}
		if !p.Alive || gs.phase == PhaseEnded {
			pp.Role = p.Role
		}
		players = append(players, pp)
	}
	return models.GameStatus{
		Phase:   gs.phase,
		Day:     gs.day,
		Players: players,
		Winner:  gs.winner,
	}
}
