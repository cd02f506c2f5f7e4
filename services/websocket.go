package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/qianlnk/mafia/models"
	"github.com/rs/zerolog/log"
)

var ErrNotConnected = errors.New("player is not connected")

const (
	writeTimeout       = 5 * time.Second
	pingInterval       = 15 * time.Second
	playerCleanupDelay = 30 * time.Second
)

// Message WebSocket消息结构
type Message struct {
	Type    string      `json:"type"`
	RoomID  string      `json:"room_id"`
	Content interface{} `json:"content"`
}

// client serializes writes; a gorilla connection allows one writer at a time.
type client struct {
	conn         *websocket.Conn
	connectionID string
	writeMu      sync.Mutex
}

func (c *client) write(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	defer c.conn.SetWriteDeadline(time.Time{})
	return c.conn.WriteJSON(v)
}

func (c *client) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(time.Second))
}

// WebSocketManager is the Transport and SelectionUI
// of every game: channels are rooms plus the private Mafia sub-channels.
type WebSocketManager struct {
	clients     map[string]*client  // playerID -> connection
	rooms       map[string][]string // channel -> []playerID
	mutex       sync.RWMutex
	mailbox     *Mailbox
	roomManager *RoomManager
	gameManager *GameManager
}

// NewWebSocketManager 创建WebSocket管理器实例
func NewWebSocketManager(mailbox *Mailbox) *WebSocketManager {
	return &WebSocketManager{
		clients: make(map[string]*client),
		rooms:   make(map[string][]string),
		mailbox: mailbox,
	}
}

// SetRoomManager 设置房间管理器实例
func (wm *WebSocketManager) SetRoomManager(rm *RoomManager) {
	wm.roomManager = rm
}

// SetGameManager 设置游戏管理器实例
func (wm *WebSocketManager) SetGameManager(gm *GameManager) {
	wm.gameManager = gm
}

// RegisterConnection 注册新的WebSocket连接
func (wm *WebSocketManager) RegisterConnection(playerID string, conn *websocket.Conn, connectionID string) {
	c := &client{conn: conn, connectionID: connectionID}

	wm.mutex.Lock()
	if old, exists := wm.clients[playerID]; exists {
		old.conn.Close()
	}
	wm.clients[playerID] = c
	wm.mutex.Unlock()

	log.Debug().Str("player", playerID).Str("connection", connectionID).Msg("websocket registered")
	go wm.handleMessages(playerID, c)
	go wm.startPingHandler(playerID, c)
}

// JoinRoom 将玩家加入房间的WebSocket广播组
func (wm *WebSocketManager) JoinRoom(roomID, playerID string) {
	wm.mutex.Lock()
	defer wm.mutex.Unlock()
	for _, pid := range wm.rooms[roomID] {
		if pid == playerID {
			return
		}
	}
	wm.rooms[roomID] = append(wm.rooms[roomID], playerID)
}

// OpenChannel replaces the membership of a private channel.
func (wm *WebSocketManager) OpenChannel(channel string, memberIDs []string) {
	wm.mutex.Lock()
	defer wm.mutex.Unlock()
	wm.rooms[channel] = append([]string(nil), memberIDs...)
}

// CloseChannel forgets a private channel.
func (wm *WebSocketManager) CloseChannel(channel string) {
	wm.mutex.Lock()
	defer wm.mutex.Unlock()
	delete(wm.rooms, channel)
}

// BroadcastToRoom 向房间内所有玩家广播消息
func (wm *WebSocketManager) BroadcastToRoom(roomID string, message interface{}) {
	wm.mutex.RLock()
	playerIDs := wm.rooms[roomID]
	targets := make(map[string]*client, len(playerIDs))
	for _, playerID := range playerIDs {
		if c, ok := wm.clients[playerID]; ok {
			targets[playerID] = c
		}
	}
	wm.mutex.RUnlock()

	for playerID, c := range targets {
		if err := c.write(message); err != nil {
			log.Warn().Err(err).Str("channel", roomID).Str("player", playerID).Msg("broadcast write failed")
		}
	}
	log.Debug().Str("channel", roomID).Int("connections", len(targets)).Msg("broadcast sent")
}

// SendToPlayer 向指定玩家发送消息
func (wm *WebSocketManager) SendToPlayer(playerID string, message interface{}) error {
	wm.mutex.RLock()
	c, exists := wm.clients[playerID]
	wm.mutex.RUnlock()
	if !exists {
		return ErrNotConnected
	}
	if err := c.write(message); err != nil {
		go wm.RemoveConnection(playerID)
		return err
	}
	return nil
}

// SendPublic 发送旁白
func (wm *WebSocketManager) SendPublic(ctx context.Context, channel, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	wm.BroadcastToRoom(channel, Message{
		Type:    "narration",
		RoomID:  channel,
		Content: map[string]interface{}{"text": text},
	})
	return nil
}

// SendAs publishes a chat line under a player's identity.
func (wm *WebSocketManager) SendAs(ctx context.Context, channel string, speaker *models.Player, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	wm.BroadcastToRoom(channel, Message{
		Type:   "chat",
		RoomID: channel,
		Content: map[string]interface{}{
			"player_id": speaker.ID,
			"name":      speaker.Name,
			"avatar":    speaker.Avatar,
			"message":   text,
		},
	})
	return nil
}

// SendPrivate 私信玩家
func (wm *WebSocketManager) SendPrivate(ctx context.Context, playerID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wm.SendToPlayer(playerID, Message{
		Type:    "private",
		Content: map[string]interface{}{"text": text},
	})
}

// AwaitMessage waits for the player's next chat line in channel.
func (wm *WebSocketManager) AwaitMessage(ctx context.Context, channel, fromID string) (string, error) {
	return wm.mailbox.AwaitMessage(ctx, channel, fromID)
}

// AwaitSelection prompts the player with a private choice and waits for it.
func (wm *WebSocketManager) AwaitSelection(ctx context.Context, playerID, prompt string, options []string) (int, error) {
	err := wm.SendToPlayer(playerID, Message{
		Type: "select_request",
		Content: map[string]interface{}{
			"prompt":  prompt,
			"options": options,
		},
	})
	if err != nil {
		// the answer may still arrive through the HTTP action endpoint
		log.Warn().Err(err).Str("player", playerID).Msg("selection prompt not delivered")
	}
	return wm.mailbox.AwaitSelection(ctx, playerID, len(options))
}

// startPingHandler 启动心跳检测
func (wm *WebSocketManager) startPingHandler(playerID string, c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	failures := 0
	for range ticker.C {
		wm.mutex.RLock()
		current := wm.clients[playerID]
		wm.mutex.RUnlock()
		if current != c {
			return
		}
		if err := c.ping(); err != nil {
			failures++
			log.Debug().Err(err).Str("player", playerID).Int("failures", failures).Msg("ping failed")
			if failures >= 3 {
				wm.RemoveConnection(playerID)
				return
			}
			continue
		}
		failures = 0
	}
}

// RemoveConnection drops a connection. Channel membership survives a short
// reconnect window so a page refresh does not drop the player.
func (wm *WebSocketManager) RemoveConnection(playerID string) {
	wm.mutex.Lock()
	c, exists := wm.clients[playerID]
	if !exists {
		wm.mutex.Unlock()
		return
	}
	delete(wm.clients, playerID)
	wm.mutex.Unlock()

	c.writeMu.Lock()
	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "connection closed")
	_ = c.conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(100*time.Millisecond))
	c.writeMu.Unlock()
	c.conn.Close()

	go func() {
		time.Sleep(playerCleanupDelay)

		wm.mutex.Lock()
		if _, reconnected := wm.clients[playerID]; reconnected {
			wm.mutex.Unlock()
			return
		}
		left := make([]string, 0)
		for channel, players := range wm.rooms {
			for i, pid := range players {
				if pid == playerID {
					wm.rooms[channel] = append(players[:i:i], players[i+1:]...)
					left = append(left, channel)
					break
				}
			}
			if len(wm.rooms[channel]) == 0 {
				delete(wm.rooms, channel)
			}
		}
		wm.mutex.Unlock()

		for _, channel := range left {
			wm.BroadcastToRoom(channel, map[string]interface{}{
				"type":      "player_left",
				"room_id":   channel,
				"player_id": playerID,
			})
		}
		log.Info().Str("player", playerID).Msg("player did not reconnect, channels cleaned up")
	}()

	log.Debug().Str("player", playerID).Msg("connection removed, waiting for reconnect")
}

// isPlayerInRoom 检查玩家是否在指定房间中
func (wm *WebSocketManager) isPlayerInRoom(roomID, playerID string) bool {
	wm.mutex.RLock()
	defer wm.mutex.RUnlock()
	for _, pid := range wm.rooms[roomID] {
		if pid == playerID {
			return true
		}
	}
	return false
}

func (wm *WebSocketManager) sendError(playerID, message string) {
	_ = wm.SendToPlayer(playerID, map[string]interface{}{
		"type":    "error",
		"message": message,
	})
}

// handleMessages 处理接收到的WebSocket消息
func (wm *WebSocketManager) handleMessages(playerID string, c *client) {
	c.conn.SetReadLimit(512 * 1024)

	for {
		_, p, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Str("player", playerID).Msg("connection closed")
			} else {
				log.Warn().Err(err).Str("player", playerID).Msg("read failed")
			}
			wm.RemoveConnection(playerID)
			return
		}

		var msg Message
		if err := json.Unmarshal(p, &msg); err != nil {
			log.Debug().Err(err).Str("player", playerID).Msg("malformed message")
			continue
		}
		if msg.RoomID == "" {
			wm.sendError(playerID, "missing room id")
			continue
		}
		if !wm.isPlayerInRoom(msg.RoomID, playerID) {
			wm.sendError(playerID, "player is not in this room")
			continue
		}
		content, _ := msg.Content.(map[string]interface{})

		switch msg.Type {
		case "start_game":
			if err := wm.roomManager.StartGame(msg.RoomID); err != nil {
				wm.sendError(playerID, err.Error())
			}
		case "abort_game":
			if err := wm.roomManager.AbortGame(msg.RoomID); err != nil {
				wm.sendError(playerID, err.Error())
			}
		case "game_action":
			action := models.GameAction{
				RoomID:    msg.RoomID,
				PlayerID:  playerID,
				Timestamp: time.Now().Unix(),
			}
			action.Type, _ = content["type"].(string)
			action.TargetID, _ = content["target"].(string)
			action.Channel, _ = content["channel"].(string)
			action.Content, _ = content["content"].(string)
			if option, ok := content["option"].(float64); ok {
				action.Option = int(option)
			}
			if err := wm.gameManager.ProcessAction(action); err != nil {
				wm.sendError(playerID, err.Error())
			}
		case "chat":
			text, _ := content["message"].(string)
			channel, _ := content["channel"].(string)
			err := wm.gameManager.ProcessAction(models.GameAction{
				Type:      models.ActionSpeak,
				RoomID:    msg.RoomID,
				PlayerID:  playerID,
				Channel:   channel,
				Content:   text,
				Timestamp: time.Now().Unix(),
			})
			if errors.Is(err, ErrGameNotStarted) {
				// lobby chat
				wm.BroadcastToRoom(msg.RoomID, Message{
					Type:    "chat",
					RoomID:  msg.RoomID,
					Content: map[string]interface{}{"player_id": playerID, "message": text},
				})
			} else if err != nil {
				wm.sendError(playerID, err.Error())
			}
		default:
			log.Debug().Str("type", msg.Type).Msg("unknown message type")
		}
	}
}
