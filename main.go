package main

import (
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/qianlnk/mafia/config"
	"github.com/qianlnk/mafia/models"
	"github.com/qianlnk/mafia/services"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // 允许所有跨域请求，生产环境中应该更严格
		},
	}

	roomManager  *services.RoomManager
	gameManager  *services.GameManager
	webSocketMgr *services.WebSocketManager
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if level, err := zerolog.ParseLevel(cfg.Log.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	if cfg.OpenAI.APIKey == "" {
		log.Warn().Msg("no OpenAI API key configured, AI players will fail to speak")
	}

	mailbox := services.NewMailbox()
	webSocketMgr = services.NewWebSocketManager(mailbox)
	completer := services.NewOpenAICompleter(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.MaxTokens)
	rng := services.NewRandomizer(0)

	gameManager = services.NewGameManager(webSocketMgr, webSocketMgr, completer, mailbox, services.ControllerConfig{
		DiscussionTurns:      cfg.Game.DiscussionTurns,
		MafiaDiscussionTurns: cfg.Game.MafiaDiscussionTurns,
		NightTimeout:         cfg.Game.NightTimeout,
		Turn: services.TurnConfig{
			ClassifierModel: cfg.OpenAI.ClassifierModel,
			VoteTimeout:     cfg.Game.VoteTimeout,
			PollInterval:    cfg.Game.VotePollInterval,
			ContextLimit:    cfg.Game.ContextLimit,
		},
	}, rng)
	roomManager = services.NewRoomManager(gameManager, webSocketMgr, services.LobbyConfig{
		MinPlayers: cfg.Game.MinPlayers,
		FillWithAI: cfg.Game.FillWithAI,
		Personas:   cfg.AIPlayers,
	}, rng)
	webSocketMgr.SetRoomManager(roomManager)
	webSocketMgr.SetGameManager(gameManager)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("dur", time.Since(start)).
			Msg("http")
	})

	// 设置跨域中间件
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "time": time.Now().UTC()})
	})

	// WebSocket连接处理
	r.GET("/ws", serveWebSocket)

	api := r.Group("/api")
	{
		api.POST("/rooms", createRoom)
		api.GET("/rooms", listRooms)
		api.GET("/rooms/:id", getRoomInfo)
		api.POST("/rooms/:id/join", joinRoom)
		api.POST("/rooms/:id/start", startGame)
		api.POST("/rooms/:id/abort", abortGame)
		api.GET("/rooms/:id/players/:playerId", getPlayerInfo)

		api.POST("/game/action", gameAction)
		api.GET("/game/status", getGameStatus)
	}

	addr := ":" + cfg.Server.Port
	log.Info().Str("addr", addr).Msg("server listening")
	if err := r.Run(addr); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func serveWebSocket(c *gin.Context) {
	roomID := c.Query("room")
	playerID := c.Query("player")
	connectionID := c.Query("connection_id")
	if roomID == "" || playerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room and player are required"})
		return
	}
	if _, err := roomManager.GetPlayer(roomID, playerID); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	if connectionID == "" {
		connectionID = uuid.NewString()
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	webSocketMgr.RegisterConnection(playerID, ws, connectionID)
	webSocketMgr.JoinRoom(roomID, playerID)
}

func createRoom(c *gin.Context) {
	var req struct {
		Name       string          `json:"name" binding:"required"`
		Mode       models.GameMode `json:"mode"`
		MaxPlayers int             `json:"max_players"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, err := roomManager.CreateRoom(req.Name, req.Mode, req.MaxPlayers)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, room)
}

func listRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": roomManager.ListRooms()})
}

func getRoomInfo(c *gin.Context) {
	room, err := roomManager.GetRoom(c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, room)
}

func getPlayerInfo(c *gin.Context) {
	player, err := roomManager.GetPlayer(c.Param("id"), c.Param("playerId"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, player)
}

func joinRoom(c *gin.Context) {
	var req struct {
		ID   string `json:"id"`
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	player, err := roomManager.JoinRoom(c.Param("id"), models.Player{ID: req.ID, Name: req.Name})
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, player)
}

func startGame(c *gin.Context) {
	if err := roomManager.StartGame(c.Param("id")); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "game started"})
}

func abortGame(c *gin.Context) {
	if err := roomManager.AbortGame(c.Param("id")); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "game aborted"})
}

func gameAction(c *gin.Context) {
	var action models.GameAction
	if err := c.ShouldBindJSON(&action); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	action.Timestamp = time.Now().Unix()

	if err := gameManager.ProcessAction(action); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}

func getGameStatus(c *gin.Context) {
	status, err := gameManager.GetGameStatus(c.Query("room"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrRoomNotFound),
		errors.Is(err, services.ErrPlayerNotInRoom),
		errors.Is(err, services.ErrPlayerNotFound),
		errors.Is(err, services.ErrGameNotStarted):
		return http.StatusNotFound
	case errors.Is(err, services.ErrGameInProgress),
		errors.Is(err, services.ErrRoomFull),
		errors.Is(err, services.ErrDuplicatePlayerTag),
		errors.Is(err, services.ErrNoPendingWait),
		errors.Is(err, services.ErrNotVoting):
		return http.StatusConflict
	case errors.Is(err, services.ErrInvalidAction),
		errors.Is(err, services.ErrInvalidOption),
		errors.Is(err, services.ErrInvalidVote),
		errors.Is(err, services.ErrInvalidVoter),
		errors.Is(err, services.ErrNotEnoughPlayers),
		errors.Is(err, services.ErrUnknownGameMode):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
