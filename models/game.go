package models

// GameMode decides which special roles are dealt.
type GameMode string

const (
	ClassicMode  GameMode = "classic"  // Town, Doctor, Sheriff, Mafia
	StandardMode GameMode = "standard" // classic + Vigilante
	ExtendedMode GameMode = "extended" // standard + Jester
)

// Role is the name of a role. The behaviour behind a name lives in services.
type Role string

const (
	Town      Role = "Town"
	Mafia     Role = "Mafia"
	Doctor    Role = "Doctor"
	Sheriff   Role = "Sheriff"
	Vigilante Role = "Vigilante"
	Jester    Role = "Jester"
)

// Alignment 阵营
type Alignment string

const (
	AlignmentTown    Alignment = "Town"
	AlignmentMafia   Alignment = "Mafia"
	AlignmentNeutral Alignment = "Neutral"
)

// Capability is the night action a role may perform.
type Capability string

const (
	CapabilityNone        Capability = "none"
	CapabilitySave        Capability = "save"
	CapabilityKill        Capability = "kill"
	CapabilityInvestigate Capability = "investigate"
)

// DeathReason 死亡原因
type DeathReason string

const (
	DeathNone  DeathReason = ""
	DeathMafia DeathReason = "mafia"
	DeathLynch DeathReason = "lynch"
)

// PlayerType 玩家类型
type PlayerType string

const (
	HumanPlayer PlayerType = "human" // 真人玩家
	AIPlayer    PlayerType = "ai"    // AI玩家
)

// AIPersonality AI性格特征
type AIPersonality string

const (
	Aggressive AIPersonality = "aggressive"
	Cautious   AIPersonality = "cautious"
	Strategic  AIPersonality = "strategic"
	Random     AIPersonality = "random"
)

// Player is one participant of a game. Alive and DeathReason only change
// through Kill.
type Player struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Type        PlayerType        `json:"type"`
	Role        Role              `json:"role,omitempty"`
	Model       string            `json:"model,omitempty"`
	Avatar      string            `json:"avatar,omitempty"`
	Personality AIPersonality     `json:"personality,omitempty"`
	Alive       bool              `json:"alive"`
	DeathReason DeathReason       `json:"death_reason,omitempty"`
	RoleState   map[string]string `json:"-"`
}

// IsAI reports whether the player is driven by the completion service.
func (p *Player) IsAI() bool {
	return p.Type == AIPlayer
}

// Kill marks the player dead. It returns false if the player was already dead,
// in which case the original reason is kept.
func (p *Player) Kill(reason DeathReason) bool {
	if !p.Alive {
		return false
	}
	p.Alive = false
	p.DeathReason = reason
	return true
}

// State returns a role state flag, "" when unset.
func (p *Player) State(key string) string {
	if p.RoleState == nil {
		return ""
	}
	return p.RoleState[key]
}

// SetState records a role state flag.
func (p *Player) SetState(key, value string) {
	if p.RoleState == nil {
		p.RoleState = make(map[string]string)
	}
	p.RoleState[key] = value
}

// ChatMessage is one entry of an AI player's conversational context.
type ChatMessage struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

const (
	ChatSystem    = "system"
	ChatUser      = "user"
	ChatAssistant = "assistant"
)

// Room 游戏房间
type Room struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Mode        GameMode `json:"mode"`
	Players     []Player `json:"players"`
	MaxPlayers  int      `json:"max_players"`
	MinPlayers  int      `json:"min_players"`
	GameStarted bool     `json:"game_started"`
	CreatedAt   int64    `json:"created_at"`
}

// Action types accepted from the outside world while a game runs.
const (
	ActionSpeak  = "speak"  // a chat message in a channel
	ActionSelect = "select" // answer to a pending role selection
	ActionVote   = "vote"   // a vote in the active vote session
)

// GameAction is an external event delivered into a running game.
type GameAction struct {
	Type      string `json:"type"`
	PlayerID  string `json:"player_id"`
	TargetID  string `json:"target_id,omitempty"` // vote choice by player name, or "Abstain"
	Option    int    `json:"option,omitempty"`    // selection index
	Channel   string `json:"channel,omitempty"`   // chat scope, defaults to the room channel
	Timestamp int64  `json:"timestamp"`
	RoomID    string `json:"room_id"`
	Content   string `json:"content,omitempty"`
}

// PublicPlayer is what everyone may see about a player.
type PublicPlayer struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Type        PlayerType  `json:"type"`
	Alive       bool        `json:"alive"`
	Role        Role        `json:"role,omitempty"` // revealed after death
	DeathReason DeathReason `json:"death_reason,omitempty"`
}

// GameStatus 游戏状态
type GameStatus struct {
	Phase   string         `json:"phase"`
	Day     int            `json:"day"`
	Players []PublicPlayer `json:"players"`
	Winner  string         `json:"winner,omitempty"`
}
