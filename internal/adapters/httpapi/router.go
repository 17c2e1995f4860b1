// Package httpapi is the local control surface: the UI process drives
// the lobby over these endpoints instead of linking the Go code
// directly.
package httpapi

import (
	"errors"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/mctier/lanlobby/internal/adapters/relay"
	"github.com/mctier/lanlobby/internal/adapters/tunnel"
	"github.com/mctier/lanlobby/internal/app"
	"github.com/mctier/lanlobby/internal/chat"
	"github.com/mctier/lanlobby/internal/config"
	"github.com/mctier/lanlobby/internal/core"
	"github.com/mctier/lanlobby/internal/share"
)

type API struct {
	cfg        *config.Config
	session    *app.SessionManager
	supervisor *tunnel.Supervisor
	chat       *chat.Store
	shares     *share.Registry
	relay      *relay.Server
}

func NewAPI(cfg *config.Config, session *app.SessionManager, sup *tunnel.Supervisor, chatStore *chat.Store, shares *share.Registry, relaySrv *relay.Server) *API {
	return &API{
		cfg:        cfg,
		session:    session,
		supervisor: sup,
		chat:       chatStore,
		shares:     shares,
		relay:      relaySrv,
	}
}

func SetupRouter(cfg *config.Config, api *API) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	log.Info().Str("module", "httpapi").Msg("router setup")

	g := r.Group("/api")
	g.POST("/lobby", api.handleCreate)
	g.POST("/lobby/join", api.handleJoin)
	g.DELETE("/lobby", api.handleLeave)
	g.GET("/lobby", api.handleLobby)
	g.GET("/status", api.handleStatus)
	g.GET("/peers", api.handlePeers)
	g.GET("/chat", api.handleChatHistory)
	g.POST("/chat", api.handleChatPost)
	g.GET("/shares", api.handleShareList)
	g.POST("/shares", api.handleShareOffer)
	g.DELETE("/shares/:id", api.handleShareRevoke)
	g.POST("/shares/:id/verify", api.handleShareVerify)
	g.GET("/shares/:id/files", api.handleShareFiles)
	g.GET("/shares/:id/download", api.handleShareDownload)

	return r
}

func errStatus(err error) int {
	switch {
	case errors.Is(err, core.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrPeerNotFound):
		return http.StatusNotFound
	default:
		return http.StatusConflict
	}
}

type lobbyRequest struct {
	LobbyName  string `json:"lobbyName"`
	Password   string `json:"password"`
	PlayerName string `json:"playerName"`
	ServerNode string `json:"serverNode"`
}

func (a *API) params(req lobbyRequest) app.JoinParams {
	node := req.ServerNode
	if node == "" {
		node = a.cfg.ServerNode
	}
	return app.JoinParams{
		LobbyName:  req.LobbyName,
		Password:   req.Password,
		PlayerName: req.PlayerName,
		ServerNode: node,
	}
}

func (a *API) handleCreate(c *gin.Context) {
	var req lobbyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	lobby, err := a.session.Create(c.Request.Context(), a.params(req))
	if err != nil {
		c.JSON(errStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, lobby)
}

func (a *API) handleJoin(c *gin.Context) {
	var req lobbyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	lobby, err := a.session.Join(c.Request.Context(), a.params(req))
	if err != nil {
		c.JSON(errStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, lobby)
}

func (a *API) handleLeave(c *gin.Context) {
	if err := a.session.Leave(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) handleLobby(c *gin.Context) {
	lobby, ok := a.session.Lobby()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not in a lobby"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"lobby":   lobby,
		"players": a.session.Roster().Players(),
	})
}

func (a *API) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, a.supervisor.Status())
}

// handlePeers exposes the overlay daemon's routing table for
// connectivity debugging.
func (a *API) handlePeers(c *gin.Context) {
	peers, err := a.supervisor.Peers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"peers": peers})
}

func (a *API) handleChatHistory(c *gin.Context) {
	if since, err := strconv.ParseInt(c.Query("since"), 10, 64); err == nil && since > 0 {
		c.JSON(http.StatusOK, gin.H{"messages": a.chat.Since(time.UnixMilli(since))})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	c.JSON(http.StatusOK, gin.H{"messages": a.chat.History(limit)})
}

func (a *API) handleChatPost(c *gin.Context) {
	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	playerID := a.session.LocalPlayerID()
	if playerID == "" {
		c.JSON(http.StatusConflict, gin.H{"error": "not in a lobby"})
		return
	}
	player, _ := a.session.Roster().Get(playerID)
	name := ""
	if player != nil {
		name = player.Name
	}

	msg, err := a.chat.Post(playerID, name, req.Text)
	if err != nil {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
		return
	}
	if a.relay != nil {
		a.relay.Broadcast(relay.Envelope{
			Type:       relay.TypeChatMessage,
			From:       msg.PlayerID,
			PlayerName: msg.PlayerName,
			Text:       msg.Text,
		})
	}
	c.JSON(http.StatusCreated, msg)
}

func (a *API) handleShareList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"shares": a.shares.List()})
}

func (a *API) handleShareOffer(c *gin.Context) {
	var req struct {
		Path       string `json:"path"`
		Password   string `json:"password"`
		TTLSeconds int64  `json:"ttlSeconds"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	playerID := a.session.LocalPlayerID()
	if playerID == "" {
		c.JSON(http.StatusConflict, gin.H{"error": "not in a lobby"})
		return
	}
	player, _ := a.session.Roster().Get(playerID)
	name := ""
	if player != nil {
		name = player.Name
	}
	sh, err := a.shares.Offer(playerID, name, req.Path, req.Password, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, sh)
}

func (a *API) handleShareVerify(c *gin.Context) {
	var req struct {
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if err := a.shares.Verify(c.Param("id"), req.Password); err != nil {
		c.JSON(errStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) handleShareFiles(c *gin.Context) {
	files, err := a.shares.Files(c.Param("id"), c.Query("password"))
	if err != nil {
		c.JSON(errStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": files})
}

func (a *API) handleShareRevoke(c *gin.Context) {
	playerID := a.session.LocalPlayerID()
	if err := a.shares.Revoke(playerID, c.Param("id")); err != nil {
		c.JSON(errStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) handleShareDownload(c *gin.Context) {
	f, entry, err := a.shares.Open(c.Param("id"), c.Query("password"), c.Query("file"))
	if err != nil {
		c.JSON(errStatus(err), gin.H{"error": err.Error()})
		return
	}
	defer f.Close()
	c.Header("Content-Disposition", `attachment; filename="`+path.Base(entry.Path)+`"`)
	c.DataFromReader(http.StatusOK, entry.Size, "application/octet-stream", f, nil)
}
