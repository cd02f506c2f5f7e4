package services

import (
	"errors"
	"fmt"

	"github.com/qianlnk/mafia/models"
)

// 游戏阶段
const (
	PhaseInit  = "init"
	PhaseNight = "night"
	PhaseDay   = "day"
	PhaseEnded = "ended"
)

// 游戏胜负
const (
	GameOngoing = ""
	TownWin     = "Town"
	MafiaWin    = "Mafia"
	NoOneWins   = "No one"
)

var ErrIllegalTransition = errors.New("illegal phase transition")

// CheckWinner evaluates every win predicate against the players. Role
// predicates are tried first in role priority order, then the alignment
// fallbacks. It never mutates anything, so repeated calls agree.
func CheckWinner(players []*models.Player) string {
	for _, role := range AllRoles() {
		if role.WinCondition == nil {
			continue
		}
		for _, p := range players {
			if p.Role == role.Name && role.WinCondition(p, players) {
				return string(role.Name)
			}
		}
	}

	mafia, others := 0, 0
	for _, p := range players {
		if !p.Alive {
			continue
		}
		if IsMafia(p) {
			mafia++
		} else {
			others++
		}
	}

	switch {
	case mafia+others == 0:
		return NoOneWins
	case mafia == 0:
		return TownWin
	case mafia >= others:
		return MafiaWin
	default:
		return GameOngoing
	}
}

// StateMachine walks init -> night -> day -> night ... -> ended.
type StateMachine struct {
	game *GameState
}

// NewStateMachine 创建状态机实例
func NewStateMachine(game *GameState) *StateMachine {
	return &StateMachine{game: game}
}

// Phase is the current phase.
func (sm *StateMachine) Phase() string {
	return sm.game.Phase()
}

// TransitionPhase moves to the next phase of the loop. A night begins a new day.
func (sm *StateMachine) TransitionPhase() (string, error) {
	var next string
	switch sm.game.Phase() {
	case PhaseInit, PhaseDay:
		next = PhaseNight
	case PhaseNight:
		next = PhaseDay
	default:
		return "", fmt.Errorf("%w: from %s", ErrIllegalTransition, sm.game.Phase())
	}
	sm.game.setPhase(next)
	return next, nil
}

// CheckGameEnd evaluates the winner and ends the game when there is one.
func (sm *StateMachine) CheckGameEnd() (string, bool) {
	winner := CheckWinner(sm.game.Players)
	if winner == GameOngoing {
		return "", false
	}
	sm.game.end(winner)
	return winner, true
}
