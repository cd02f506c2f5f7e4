package services

import (
	"context"
	"math/rand"
	"sort"
	"strings"

	"github.com/qianlnk/mafia/models"
)

var personalities = []models.AIPersonality{
	models.Aggressive,
	models.Cautious,
	models.Strategic,
	models.Random,
}

// RandomPersonality picks a personality for a new AI seat.
func RandomPersonality(rng Randomizer) models.AIPersonality {
	if rng == nil {
		return personalities[rand.Intn(len(personalities))]
	}
	return personalities[rng.Intn(len(personalities))]
}

// AIPlayer makes decisions for one AI seat through its context.
type AIPlayer struct {
	Player *models.Player
	turns  *TurnManager
}

// NewAIPlayer 创建AI玩家实例
func NewAIPlayer(p *models.Player, turns *TurnManager) *AIPlayer {
	return &AIPlayer{Player: p, turns: turns}
}

// ChooseTarget asks for one name among targets. An unparseable reply falls
// back to the first eligible target; an empty target list is no action.
func (ai *AIPlayer) ChooseTarget(ctx context.Context, targets []*models.Player) (*models.Player, error) {
	if len(targets) == 0 {
		return nil, nil
	}
	role := RoleOf(ai.Player.Role)
	reply, err := ai.turns.Complete(ctx, ai.Player, NightActionPrompt(role, targets))
	if err != nil {
		return nil, err
	}
	if chosen := MatchPlayer(reply, targets); chosen != nil {
		return chosen, nil
	}
	return targets[0], nil
}

// MatchPlayer finds the player a free-text reply names. An exact match wins,
// then the longest name contained in the reply.
func MatchPlayer(reply string, candidates []*models.Player) *models.Player {
	clean := strings.ToLower(strings.Trim(strings.TrimSpace(reply), ".!\"'*` "))
	for _, c := range candidates {
		if strings.ToLower(c.Name) == clean {
			return c
		}
	}

	sorted := append([]*models.Player(nil), candidates...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Name) > len(sorted[j].Name)
	})
	for _, c := range sorted {
		if c.Name != "" && strings.Contains(clean, strings.ToLower(c.Name)) {
			return c
		}
	}
	return nil
}
