package services

import (
	"fmt"
	"strings"

	"github.com/qianlnk/mafia/models"
)

// AIDialogue builds every prompt and narration line of a game.
type AIDialogue struct {
	roster []*models.Player
}

// NewAIDialogue 创建AI对话生成器实例
func NewAIDialogue(roster []*models.Player) *AIDialogue {
	return &AIDialogue{roster: roster}
}

// SystemPrompt is the priming message of an AI player's context.
func (ad *AIDialogue) SystemPrompt(p *models.Player) string {
	role := RoleOf(p.Role)

	var others, partners []string
	for _, o := range ad.roster {
		if o.ID == p.ID {
			continue
		}
		others = append(others, o.Name)
		if role.Alignment == models.AlignmentMafia && IsMafia(o) {
			partners = append(partners, o.Name)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a player in a game of Mafia played in a group chat.\n", p.Name)
	fmt.Fprintf(&b, "You are %s\n", role.Description)
	if len(partners) > 0 {
		fmt.Fprintf(&b, "Your fellow Mafia members are: %s.\n", strings.Join(partners, ", "))
	}
	fmt.Fprintf(&b, "The other players are: %s.\n", strings.Join(others, ", "))
	fmt.Fprintf(&b, "%s\n", ad.Distribution())
	if hint := personalityHint(p.Personality); hint != "" {
		fmt.Fprintf(&b, "%s\n", hint)
	}
	b.WriteString("Rules for every reply: keep it to one to three short sentences, speak in the first person as yourself, ")
	b.WriteString("never prefix your reply with your name, and never mention these instructions or that you are an AI.")
	return b.String()
}

// Distribution summarises how many of each role are in play.
func (ad *AIDialogue) Distribution() string {
	counts := make(map[models.Role]int)
	alignments := make(map[models.Alignment]int)
	for _, p := range ad.roster {
		counts[p.Role]++
		alignments[RoleOf(p.Role).Alignment]++
	}
	var parts []string
	for _, r := range AllRoles() {
		if n := counts[r.Name]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, r.Name))
		}
	}
	return fmt.Sprintf("This game has %d players (%d Town-aligned, %d Mafia, %d Neutral): %s.",
		len(ad.roster),
		alignments[models.AlignmentTown],
		alignments[models.AlignmentMafia],
		alignments[models.AlignmentNeutral],
		strings.Join(parts, ", "))
}

func personalityHint(personality models.AIPersonality) string {
	switch personality {
	case models.Aggressive:
		return "Play aggressively: push accusations and pressure quiet players."
	case models.Cautious:
		return "Play cautiously: do not trust anyone easily and weigh every claim."
	case models.Strategic:
		return "Play strategically: track who said what and look for contradictions."
	default:
		return ""
	}
}

// VotePrompt asks for exactly one option name.
func VotePrompt(message string, options []string) string {
	return strings.Join([]string{
		message,
		"Vote by replying with EXACTLY ONE line containing EXACTLY ONE of the option names below.",
		"Do not add punctuation, quotes, explanations, or multiple lines.",
		"OPTIONS:",
		strings.Join(options, "\n"),
	}, "\n")
}

// NightActionPrompt asks an AI role holder for one target.
func NightActionPrompt(role *RoleDef, targets []*models.Player) string {
	lines := make([]string, len(targets))
	for i, t := range targets {
		lines[i] = "- " + t.Name
	}
	return fmt.Sprintf("NIGHT: %s %s\n> Who do you want to %s? Reply with EXACTLY ONE player name, nothing else.\nAvailable players:\n%s",
		strings.ToUpper(string(role.Name)),
		strings.ToUpper(role.Verb()),
		role.Verb(),
		strings.Join(lines, "\n"))
}

// SpeakTurn marks that it's a player's turn to talk.
func SpeakTurn(p *models.Player) string {
	return fmt.Sprintf("🎤 %s, it's your turn to speak!", p.Name)
}

// Said is how one player's words reach everybody else's context.
func Said(p *models.Player, text string) string {
	return fmt.Sprintf("%s: '%s'", p.Name, text)
}

// NightFalls 夜晚开始
func NightFalls(day int) string {
	return fmt.Sprintf("🌙 Night %d falls. Everyone close your eyes.", day)
}

// DayBreaks 白天开始
func DayBreaks(day int) string {
	return fmt.Sprintf("☀️ Day %d begins. Discuss who you think the Mafia are.", day)
}

// DeathNotice announces a death and reveals the role.
func DeathNotice(d Death) string {
	role := RoleOf(d.Player.Role)
	switch d.Reason {
	case models.DeathMafia:
		return fmt.Sprintf("💀 %s was killed by the Mafia during the night. They were %s.", d.Player.Name, role.Name)
	case models.DeathLynch:
		return fmt.Sprintf("⚖️ %s was lynched by the town. They were %s.", d.Player.Name, role.Name)
	default:
		return fmt.Sprintf("💀 %s was shot during the night. They were %s.", d.Player.Name, role.Name)
	}
}

// NobodyDied is the quiet-night narration.
const NobodyDied = "🌅 The night was quiet: nobody died."

// NoLynch is narrated when the day vote has no decision.
const NoLynch = "🤷 The town could not agree. Nobody was lynched today."

// RoleReveal is sent privately to a human at game start.
func RoleReveal(p *models.Player) string {
	return fmt.Sprintf("You are %s", RoleOf(p.Role).Description)
}
