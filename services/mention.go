package services

import (
	"fmt"
	"sort"
	"strings"

	"github.com/qianlnk/mafia/models"
)

// MentionKind ranks why a player was mentioned; lower is stronger.
type MentionKind int

const (
	MentionAccused MentionKind = iota
	MentionRoleClaim
	MentionAsked
	MentionCasual
)

var mentionLabels = map[string]MentionKind{
	"ACCUSED":        MentionAccused,
	"ROLE-CLAIM":     MentionRoleClaim,
	"ROLE_CLAIM":     MentionRoleClaim,
	"ROLECLAIM":      MentionRoleClaim,
	"DIRECTLY-ASKED": MentionAsked,
	"DIRECTLY_ASKED": MentionAsked,
	"ASKED":          MentionAsked,
	"CASUAL-MENTION": MentionCasual,
	"CASUAL_MENTION": MentionCasual,
	"CASUAL":         MentionCasual,
}

// Mention is one classified reference to a player.
type Mention struct {
	Player *models.Player
	Kind   MentionKind
}

const classifierSystem = `You label which players a chat message refers to.
For every player from the list that the message mentions, output one line "NAME|LABEL".
LABEL is one of:
ACCUSED - the message accuses or suspects the player
ROLE-CLAIM - the message claims or questions the player's role
DIRECTLY-ASKED - the message asks the player a question or asks them to respond
CASUAL-MENTION - any other mention
Output NONE if nobody is mentioned. Output nothing else.`

// ClassifierMessages builds the lightweight classification request.
func ClassifierMessages(speaker *models.Player, text string, roster []*models.Player) []models.ChatMessage {
	names := make([]string, 0, len(roster))
	for _, p := range roster {
		names = append(names, p.Name)
	}
	return []models.ChatMessage{
		{Role: models.ChatSystem, Content: classifierSystem},
		{Role: models.ChatUser, Content: fmt.Sprintf("PLAYERS:\n%s\n\nMESSAGE from %s:\n%s",
			strings.Join(names, "\n"), speaker.Name, text)},
	}
}

// ParseMentions reads classifier output. Unknown names and labels are skipped.
func ParseMentions(reply string, roster []*models.Player) []Mention {
	byName := make(map[string]*models.Player, len(roster))
	for _, p := range roster {
		byName[strings.ToLower(p.Name)] = p
	}

	var out []Mention
	seen := make(map[string]bool)
	for _, line := range strings.Split(reply, "\n") {
		line = strings.Trim(strings.TrimSpace(line), "-*• ")
		name, label, ok := strings.Cut(line, "|")
		if !ok {
			name, label, ok = strings.Cut(line, ":")
		}
		if !ok {
			continue
		}
		p, found := byName[strings.ToLower(strings.TrimSpace(name))]
		if !found || seen[p.ID] {
			continue
		}
		kind, known := mentionLabels[strings.ToUpper(strings.TrimSpace(label))]
		if !known {
			continue
		}
		seen[p.ID] = true
		out = append(out, Mention{Player: p, Kind: kind})
	}
	return out
}

// PickMention returns the strongest mention; among equals the first one wins.
func PickMention(mentions []Mention) *models.Player {
	if len(mentions) == 0 {
		return nil
	}
	sorted := append([]Mention(nil), mentions...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Kind < sorted[j].Kind
	})
	return sorted[0].Player
}
