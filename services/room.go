package services

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qianlnk/mafia/config"
	"github.com/qianlnk/mafia/models"
	"github.com/rs/zerolog/log"
)

var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrRoomFull           = errors.New("room is full")
	ErrNotEnoughPlayers   = errors.New("not enough players")
	ErrPlayerNotInRoom    = errors.New("player is not in this room")
	ErrUnknownGameMode    = errors.New("unknown game mode")
	ErrDuplicatePlayerTag = errors.New("name already taken in this room")
)

// LobbyConfig 房间参数
type LobbyConfig struct {
	MinPlayers int
	FillWithAI bool
	Personas   []config.AIPersona
}

// RoomBroadcaster pushes lobby updates to connected clients.
type RoomBroadcaster interface {
	BroadcastToRoom(roomID string, message interface{})
}

// RoomManager 房间管理器
type RoomManager struct {
	rooms       map[string]*models.Room
	games       *GameManager
	broadcaster RoomBroadcaster
	cfg         LobbyConfig
	rng         Randomizer
	mutex       sync.RWMutex
}

// NewRoomManager 创建房间管理器实例
func NewRoomManager(games *GameManager, broadcaster RoomBroadcaster, cfg LobbyConfig, rng Randomizer) *RoomManager {
	if rng == nil {
		rng = NewRandomizer(0)
	}
	if cfg.MinPlayers < 5 {
		cfg.MinPlayers = 5
	}
	return &RoomManager{
		rooms:       make(map[string]*models.Room),
		games:       games,
		broadcaster: broadcaster,
		cfg:         cfg,
		rng:         rng,
	}
}

// CreateRoom 创建新房间
func (rm *RoomManager) CreateRoom(name string, mode models.GameMode, maxPlayers int) (*models.Room, error) {
	switch mode {
	case "":
		mode = models.ClassicMode
	case models.ClassicMode, models.StandardMode, models.ExtendedMode:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownGameMode, mode)
	}
	if maxPlayers < rm.cfg.MinPlayers {
		maxPlayers = rm.cfg.MinPlayers
	}

	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	room := &models.Room{
		ID:         uuid.NewString(),
		Name:       name,
		Mode:       mode,
		MaxPlayers: maxPlayers,
		MinPlayers: rm.cfg.MinPlayers,
		Players:    make([]models.Player, 0),
		CreatedAt:  time.Now().Unix(),
	}
	rm.rooms[room.ID] = room
	log.Info().Str("room", room.ID).Str("mode", string(mode)).Int("max_players", maxPlayers).Msg("room created")
	return room, nil
}

// GetRoom 获取房间信息
func (rm *RoomManager) GetRoom(roomID string) (*models.Room, error) {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()

	room, exists := rm.rooms[roomID]
	if !exists {
		return nil, ErrRoomNotFound
	}
	return room, nil
}

// ListRooms 获取所有房间列表
func (rm *RoomManager) ListRooms() []*models.Room {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()

	rooms := make([]*models.Room, 0, len(rm.rooms))
	for _, room := range rm.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

// JoinRoom seats a human. AI seats are filled at start.
func (rm *RoomManager) JoinRoom(roomID string, player models.Player) (*models.Player, error) {
	rm.mutex.Lock()
	room, exists := rm.rooms[roomID]
	if !exists {
		rm.mutex.Unlock()
		return nil, ErrRoomNotFound
	}
	if room.GameStarted {
		rm.mutex.Unlock()
		return nil, ErrGameInProgress
	}

	for i := range room.Players {
		if player.ID != "" && room.Players[i].ID == player.ID {
			// rejoining only refreshes the display name
			room.Players[i].Name = player.Name
			p := room.Players[i]
			rm.mutex.Unlock()
			return &p, nil
		}
		if room.Players[i].Name == player.Name {
			rm.mutex.Unlock()
			return nil, ErrDuplicatePlayerTag
		}
	}
	if len(room.Players) >= room.MaxPlayers {
		rm.mutex.Unlock()
		return nil, ErrRoomFull
	}

	if player.ID == "" {
		player.ID = uuid.NewString()
	}
	player.Type = models.HumanPlayer
	player.Alive = true
	room.Players = append(room.Players, player)
	snapshot := *room
	rm.mutex.Unlock()

	log.Info().Str("room", roomID).Str("player", player.Name).Msg("player joined")
	rm.notify(roomID, snapshot)
	return &player, nil
}

// GetPlayer 获取房间中的玩家信息
func (rm *RoomManager) GetPlayer(roomID string, playerID string) (*models.Player, error) {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()

	room, exists := rm.rooms[roomID]
	if !exists {
		return nil, ErrRoomNotFound
	}
	for _, player := range room.Players {
		if player.ID == playerID {
			p := player
			return &p, nil
		}
	}
	return nil, ErrPlayerNotInRoom
}

// StartGame fills the empty seats with AI players and starts the game.
func (rm *RoomManager) StartGame(roomID string) error {
	rm.mutex.Lock()
	room, exists := rm.rooms[roomID]
	if !exists {
		rm.mutex.Unlock()
		return ErrRoomNotFound
	}
	if room.GameStarted {
		rm.mutex.Unlock()
		return ErrGameInProgress
	}

	seats := make([]*models.Player, 0, room.MaxPlayers)
	for i := range room.Players {
		p := room.Players[i]
		seats = append(seats, &p)
	}
	if rm.cfg.FillWithAI {
		seats = append(seats, rm.aiPlayers(room.MaxPlayers-len(seats), seats)...)
	}
	if len(seats) < rm.cfg.MinPlayers {
		rm.mutex.Unlock()
		return fmt.Errorf("%w: have %d, need %d", ErrNotEnoughPlayers, len(seats), rm.cfg.MinPlayers)
	}
	room.GameStarted = true
	snapshot := *room
	rm.mutex.Unlock()

	err := rm.games.StartGame(snapshot, seats, func(winner string, err error) {
		rm.finishGame(roomID)
	})
	if err != nil {
		rm.finishGame(roomID)
		return err
	}
	log.Info().Str("room", roomID).Int("players", len(seats)).Msg("game started")
	rm.notify(roomID, snapshot)
	return nil
}

// AbortGame 中止游戏
func (rm *RoomManager) AbortGame(roomID string) error {
	if _, err := rm.GetRoom(roomID); err != nil {
		return err
	}
	return rm.games.AbortGame(roomID)
}

func (rm *RoomManager) finishGame(roomID string) {
	rm.mutex.Lock()
	room, exists := rm.rooms[roomID]
	if exists {
		room.GameStarted = false
	}
	rm.mutex.Unlock()
}

// aiPlayers draws up to n personas whose names are not taken yet.
func (rm *RoomManager) aiPlayers(n int, taken []*models.Player) []*models.Player {
	used := make(map[string]bool, len(taken))
	for _, p := range taken {
		used[p.Name] = true
	}
	pool := make([]config.AIPersona, 0, len(rm.cfg.Personas))
	for _, persona := range rm.cfg.Personas {
		if !used[persona.Name] {
			pool = append(pool, persona)
		}
	}
	rm.rng.Shuffle(len(pool), func(i, j int) {
		pool[i], pool[j] = pool[j], pool[i]
	})

	out := make([]*models.Player, 0, n)
	for i := 0; i < n && i < len(pool); i++ {
		out = append(out, &models.Player{
			ID:          uuid.NewString(),
			Name:        pool[i].Name,
			Type:        models.AIPlayer,
			Model:       pool[i].Model,
			Avatar:      pool[i].Avatar,
			Personality: RandomPersonality(rm.rng),
			Alive:       true,
		})
	}
	return out
}

func (rm *RoomManager) notify(roomID string, room models.Room) {
	if rm.broadcaster == nil {
		return
	}
	rm.broadcaster.BroadcastToRoom(roomID, map[string]interface{}{
		"type":    "room_update",
		"room_id": roomID,
		"content": room,
	})
}
