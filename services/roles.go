package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/qianlnk/mafia/models"
)

// Role state keys kept on models.Player.RoleState.
const (
	StateLastSaved = "last_saved" // player ID the save role protected last night
	StateHasShot   = "has_shot"   // set once a one-shot killer fired
)

// RoleDef is an immutable role record shared by every player dealt that role.
// Behaviour that differs from the capability base is supplied through the
// function fields; a nil field falls back to the base.
type RoleDef struct {
	Name        models.Role
	Alignment   models.Alignment
	Capability  models.Capability
	Special     bool
	Description string
	Short       string
	Emoji       string

	// CanAct reports whether the player may use the capability tonight.
	CanAct func(p *models.Player) bool
	// Targets lists the eligible targets for the actor among the living.
	Targets func(actor *models.Player, alive []*models.Player) []*models.Player
	// HandleSelection writes the chosen target into the night ledger.
	HandleSelection func(ctx context.Context, n *Night, actor, target *models.Player) error
	// DecideAI picks a target for an AI actor; nil target means no action.
	DecideAI func(ctx context.Context, ai *AIPlayer, targets []*models.Player) (*models.Player, error)
	// WinCondition is checked for every player holding the role.
	WinCondition func(p *models.Player, players []*models.Player) bool
}

// Prompt is the question shown to a human choosing a night target.
func (r *RoleDef) Prompt() string {
	switch r.Capability {
	case models.CapabilitySave:
		return fmt.Sprintf("## %s\nWho do you want to save?", r.Name)
	case models.CapabilityKill:
		return fmt.Sprintf("## %s\nWho do you want to kill?", r.Name)
	case models.CapabilityInvestigate:
		return fmt.Sprintf("## %s\nWho do you want to investigate?", r.Name)
	default:
		return fmt.Sprintf("## %s\nWhat do you want to do?", r.Name)
	}
}

// Verb names the capability in prompts and logs.
func (r *RoleDef) Verb() string {
	switch r.Capability {
	case models.CapabilitySave:
		return "save"
	case models.CapabilityKill:
		return "kill"
	case models.CapabilityInvestigate:
		return "investigate"
	default:
		return ""
	}
}

// Able reports whether the player may act tonight at all.
func (r *RoleDef) Able(p *models.Player) bool {
	if !r.Special || r.Capability == models.CapabilityNone || !p.Alive {
		return false
	}
	if r.CanAct != nil {
		return r.CanAct(p)
	}
	return true
}

// EligibleTargets applies the role's target filter.
func (r *RoleDef) EligibleTargets(actor *models.Player, alive []*models.Player) []*models.Player {
	if r.Targets != nil {
		return r.Targets(actor, alive)
	}
	return alive
}

// NewRole composes a role from one of the capability bases. Fields already
// set on def win over the base.
func NewRole(capability models.Capability, def RoleDef) *RoleDef {
	r := def
	r.Capability = capability
	switch capability {
	case models.CapabilitySave:
		r.Special = true
		if r.HandleSelection == nil {
			r.HandleSelection = handleSave
		}
		if r.Emoji == "" {
			r.Emoji = "💊"
		}
	case models.CapabilityKill:
		r.Special = true
		if r.Targets == nil {
			r.Targets = othersOnly
		}
		if r.HandleSelection == nil {
			r.HandleSelection = handleKill
		}
		if r.Emoji == "" {
			r.Emoji = "🔫"
		}
	case models.CapabilityInvestigate:
		r.Special = true
		if r.Targets == nil {
			r.Targets = othersOnly
		}
		if r.HandleSelection == nil {
			r.HandleSelection = handleInvestigate
		}
		if r.Emoji == "" {
			r.Emoji = "🕵️"
		}
	default:
		r.Capability = models.CapabilityNone
		r.Special = false
	}
	if r.Special && r.DecideAI == nil {
		r.DecideAI = decideByCompletion
	}
	return &r
}

func othersOnly(actor *models.Player, alive []*models.Player) []*models.Player {
	out := make([]*models.Player, 0, len(alive))
	for _, p := range alive {
		if p.ID != actor.ID {
			out = append(out, p)
		}
	}
	return out
}

var (
	TownRole = NewRole(models.CapabilityNone, RoleDef{
		Name:        models.Town,
		Alignment:   models.AlignmentTown,
		Description: "a **Town**.\n> You are an ordinary citizen. Your goal is to identify and eliminate the Mafia during day votes. You have no special abilities, but you can use your voice and vote to help the town survive.",
		Short:       "Ordinary citizen who votes to eliminate Mafia.",
	})

	MafiaRole = NewRole(models.CapabilityNone, RoleDef{
		Name:        models.Mafia,
		Alignment:   models.AlignmentMafia,
		Description: "part of the **Mafia**.\n> You are part of the Mafia! During the night phase, you and your fellow Mafia members secretly choose one player to eliminate. Your goal is to eliminate all other players without being caught. During the day, blend in and avoid suspicion.",
		Short:       "Member of the Mafia who kills players at night.",
	})

	DoctorRole = NewRole(models.CapabilitySave, RoleDef{
		Name:        models.Doctor,
		Alignment:   models.AlignmentTown,
		Description: "a **Doctor**.\n> You can save one player from elimination each night. Choose wisely! If you select the same player the Mafia targeted, you'll prevent their death. You **are** allowed to save yourself, but you can't save the same player two nights in a row, and you must help the town identify the Mafia during day votes.",
		Short:       "Can save a player from dying each night.",
		Emoji:       "🧑‍⚕️",
		Targets: func(actor *models.Player, alive []*models.Player) []*models.Player {
			last := actor.State(StateLastSaved)
			out := make([]*models.Player, 0, len(alive))
			for _, p := range alive {
				if last != "" && p.ID == last {
					continue
				}
				out = append(out, p)
			}
			return out
		},
	})

	SheriffRole = NewRole(models.CapabilityInvestigate, RoleDef{
		Name:        models.Sheriff,
		Alignment:   models.AlignmentTown,
		Description: "a **Sheriff**.\n> You can investigate one player each night to determine if they are part of the Mafia. Use this information carefully during day discussions to guide the town's votes, but be cautious - revealing yourself may make you a target!",
		Short:       "Can investigate a player's alignment each night.",
		Emoji:       "🤠",
	})

	VigilanteRole = NewRole(models.CapabilityKill, RoleDef{
		Name:        models.Vigilante,
		Alignment:   models.AlignmentTown,
		Description: "a **Vigilante**.\n> You have one bullet and can shoot any player during the night. Pick your shot carefully, since you only have one! Help the town identify Mafia, and shoot anyone if the need arises.",
		Short:       "Has one shot to kill a player at night.",
		CanAct: func(p *models.Player) bool {
			return p.State(StateHasShot) == ""
		},
		HandleSelection: func(ctx context.Context, n *Night, actor, target *models.Player) error {
			if actor.State(StateHasShot) != "" {
				return ErrCannotAct
			}
			if err := handleKill(ctx, n, actor, target); err != nil {
				return err
			}
			actor.SetState(StateHasShot, "true")
			return nil
		},
	})

	JesterRole = NewRole(models.CapabilityNone, RoleDef{
		Name:        models.Jester,
		Alignment:   models.AlignmentNeutral,
		Description: "a **Jester**.\n> You win if you get lynched by the town. Trick them into voting for you!",
		Short:       "Wins if lynched by the town.",
		WinCondition: func(p *models.Player, _ []*models.Player) bool {
			return p.DeathReason == models.DeathLynch
		},
	})
)

// The registry is filled in init: the capability handlers resolve roles
// through it, so it cannot be a package-level initializer.
var (
	roleOrder []*RoleDef
	roleIndex = make(map[models.Role]*RoleDef)
)

func init() {
	for _, r := range []*RoleDef{TownRole, MafiaRole, DoctorRole, SheriffRole, VigilanteRole, JesterRole} {
		RegisterRole(r)
	}
}

// RegisterRole adds a role to the registry. The registry is read without
// locking, so this belongs in an init function.
func RegisterRole(r *RoleDef) {
	if _, exists := roleIndex[r.Name]; !exists {
		roleOrder = append(roleOrder, r)
	}
	roleIndex[r.Name] = r
}

// AllRoles returns the registered roles in priority order.
func AllRoles() []*RoleDef {
	return append([]*RoleDef(nil), roleOrder...)
}

// RoleOf resolves a role name. Unknown names resolve to Town.
func RoleOf(name models.Role) *RoleDef {
	if r, ok := roleIndex[name]; ok {
		return r
	}
	return roleIndex[models.Town]
}

// RoleByName is the case-insensitive lookup used by config and the API.
func RoleByName(name string) (*RoleDef, bool) {
	for _, r := range roleOrder {
		if strings.EqualFold(string(r.Name), strings.TrimSpace(name)) {
			return r, true
		}
	}
	return nil, false
}

// IsMafia reports whether the player sides with the Mafia.
func IsMafia(p *models.Player) bool {
	return RoleOf(p.Role).Alignment == models.AlignmentMafia
}
