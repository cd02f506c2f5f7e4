package services

import (
	"context"
	"errors"

	"github.com/qianlnk/mafia/models"
)

var ErrNoSelectionUI = errors.New("no selection ui configured")

// Transport is the chat side of the outside world.
type Transport interface {
	// SendPublic posts narration to a channel.
	SendPublic(ctx context.Context, channel, text string) error
	// SendAs posts text attributed to a player's display identity.
	SendAs(ctx context.Context, channel string, speaker *models.Player, text string) error
	// SendPrivate reaches one player only.
	SendPrivate(ctx context.Context, playerID, text string) error
	// AwaitMessage suspends until fromID writes in channel.
	AwaitMessage(ctx context.Context, channel, fromID string) (string, error)
}

// SelectionUI asks a human to pick one of options and returns its index.
type SelectionUI interface {
	AwaitSelection(ctx context.Context, playerID, prompt string, options []string) (int, error)
}

// Completer is the text-generation service contract.
type Completer interface {
	Complete(ctx context.Context, model string, messages []models.ChatMessage) (string, error)
}
