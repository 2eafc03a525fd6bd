package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"soundvault/server/bot/domain"
	"soundvault/server/bot/events"
	"soundvault/server/bot/playback"
	"soundvault/server/bot/settings"
	"soundvault/server/bot/storage"
	commonauth "soundvault/server/common/auth"
	commonlog "soundvault/server/common/log"
	"soundvault/server/common/middleware"
	"soundvault/server/common/transport/httpresp"
)

const (
	maxUploadSizeBytes = 10 << 20
	maxFilesPerGuild   = 50
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type Handler struct {
	gateway     *storage.Gateway
	directory   *storage.Directory
	settings    *settings.CachedStore
	coordinator *playback.Coordinator
	hub         *events.Hub
	auth        *commonauth.Service
	catalog     domain.CatalogProvider

	adminPasswordHash string
}

func NewHandler(
	gateway *storage.Gateway,
	directory *storage.Directory,
	settingsStore *settings.CachedStore,
	coordinator *playback.Coordinator,
	hub *events.Hub,
	auth *commonauth.Service,
	catalog domain.CatalogProvider,
	adminPasswordHash string,
) *Handler {
	return &Handler{
		gateway:           gateway,
		directory:         directory,
		settings:          settingsStore,
		coordinator:       coordinator,
		hub:               hub,
		auth:              auth,
		catalog:           catalog,
		adminPasswordHash: adminPasswordHash,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.health)
	r.POST("/api/v1/auth/login", h.login)
	r.GET("/ws/events", h.serveEvents)

	api := r.Group("/api/v1")
	api.Use(middleware.AuthRequired(h.auth))
	{
		api.GET("/guilds/:guildID/files", h.listFiles)
		api.POST("/guilds/:guildID/files", h.uploadFile)
		api.POST("/guilds/:guildID/files/:name/rename", h.renameFile)
		api.DELETE("/guilds/:guildID/files/:name", h.deleteFile)
		api.GET("/guilds/:guildID/files/:name/metadata", h.fileMetadata)
		api.POST("/guilds/:guildID/cleanup", h.cleanup)
		api.GET("/guilds/:guildID/stats", h.guildStats)
		api.GET("/guilds/:guildID/settings", h.getSettings)
		api.PUT("/guilds/:guildID/settings/prefix", h.updatePrefix)
		api.PUT("/guilds/:guildID/settings/volume", h.updateVolume)
		api.POST("/guilds/:guildID/stop", h.stopPlayback)
		api.GET("/sessions", h.sessions)
		api.GET("/tenants", h.listTenants)
		api.GET("/stats", h.globalStats)
	}
}

func (h *Handler) health(c *gin.Context) {
	storageOK := h.gateway.TestConnection(c.Request.Context())
	status := http.StatusOK
	if !storageOK {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"status": "ok", "storage": storageOK})
}

func (h *Handler) login(c *gin.Context) {
	var req struct {
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(h.adminPasswordHash), []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrInvalidCredentials))
		return
	}
	token, err := h.auth.GenerateToken("admin", "admin")
	if err != nil {
		c.JSON(http.StatusInternalServerError, httpresp.NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, httpresp.NewTokenResponse(token))
}

func (h *Handler) serveEvents(c *gin.Context) {
	if _, _, err := h.auth.ParseAuthContext(c.Query("token")); err != nil {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrInvalidToken))
		return
	}
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		commonlog.Warnf("upgrade events websocket: %v", err)
		return
	}
	unregister := h.hub.Register(conn)
	go func() {
		defer unregister()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Handler) listFiles(c *gin.Context) {
	files, err := h.gateway.ListFiles(c.Request.Context(), c.Param("guildID"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": files})
}

func (h *Handler) uploadFile(c *gin.Context) {
	guildID := c.Param("guildID")

	header, err := c.FormFile("file")
	if err != nil {
		respondError(c, domain.Validationf("a file upload is required"))
		return
	}
	if header.Size > maxUploadSizeBytes {
		respondError(c, domain.Validationf("file is too large (max %d MB)", maxUploadSizeBytes>>20))
		return
	}
	if !strings.HasSuffix(strings.ToLower(header.Filename), storage.AudioExt) {
		respondError(c, domain.Validationf("only %s files are supported", storage.AudioExt))
		return
	}

	name := storage.SanitizeName(header.Filename)
	exists, err := h.gateway.Exists(c.Request.Context(), guildID, name)
	if err != nil {
		respondError(c, err)
		return
	}
	if exists {
		respondError(c, domain.Validationf("a file named %q already exists", name))
		return
	}

	stats, err := h.gateway.BucketStats(c.Request.Context(), guildID)
	if err != nil {
		respondError(c, err)
		return
	}
	if stats.FileCount >= maxFilesPerGuild {
		respondError(c, domain.Validationf("file limit reached (%d per server)", maxFilesPerGuild))
		return
	}

	f, err := header.Open()
	if err != nil {
		respondError(c, domain.Validationf("could not read the uploaded file"))
		return
	}
	defer f.Close()

	url, err := h.gateway.Upload(c.Request.Context(), guildID, name, f, header.Size, "audio/mpeg")
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"name": name, "url": url})
}

func (h *Handler) renameFile(c *gin.Context) {
	guildID := c.Param("guildID")
	oldName := c.Param("name")

	var req struct {
		NewName string `json:"new_name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	newName := storage.SanitizeName(req.NewName)

	exists, err := h.gateway.Exists(c.Request.Context(), guildID, oldName)
	if err != nil {
		respondError(c, err)
		return
	}
	if !exists {
		respondError(c, domain.Validationf("no file named %q", oldName))
		return
	}
	taken, err := h.gateway.Exists(c.Request.Context(), guildID, newName)
	if err != nil {
		respondError(c, err)
		return
	}
	if taken {
		respondError(c, domain.Validationf("a file named %q already exists", newName))
		return
	}

	url, err := h.gateway.Rename(c.Request.Context(), guildID, oldName, newName)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": newName, "url": url})
}

func (h *Handler) deleteFile(c *gin.Context) {
	guildID := c.Param("guildID")
	name := c.Param("name")

	exists, err := h.gateway.Exists(c.Request.Context(), guildID, name)
	if err != nil {
		respondError(c, err)
		return
	}
	if !exists {
		respondError(c, domain.Validationf("no file named %q", name))
		return
	}
	if err := h.gateway.Delete(c.Request.Context(), guildID, name); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpresp.NewOKResponse())
}

func (h *Handler) fileMetadata(c *gin.Context) {
	name := c.Param("name")
	if h.catalog == nil {
		c.JSON(http.StatusOK, gin.H{"name": name})
		return
	}
	track, err := h.catalog.Lookup(c.Request.Context(), strings.TrimSuffix(name, storage.AudioExt))
	if err != nil {
		// Metadata is decoration only; degrade to the bare filename.
		commonlog.Debugf("catalog lookup for %s: %v", name, err)
		c.JSON(http.StatusOK, gin.H{"name": name})
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": name, "track": track})
}

func (h *Handler) cleanup(c *gin.Context) {
	removed, err := h.gateway.Cleanup(c.Request.Context(), c.Param("guildID"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (h *Handler) guildStats(c *gin.Context) {
	guildID := c.Param("guildID")
	bucket, err := h.gateway.BucketStats(c.Request.Context(), guildID)
	if err != nil {
		respondError(c, err)
		return
	}
	plays, err := h.settings.GetStats(c.Request.Context(), guildID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bucket": bucket, "plays": plays})
}

func (h *Handler) getSettings(c *gin.Context) {
	item := h.settings.GetSettings(c.Request.Context(), c.Param("guildID"))
	c.JSON(http.StatusOK, item)
}

func (h *Handler) updatePrefix(c *gin.Context) {
	var req struct {
		Prefix string `json:"prefix" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	if len(req.Prefix) > domain.MaxPrefixLength {
		respondError(c, domain.Validationf("prefix must be at most %d characters", domain.MaxPrefixLength))
		return
	}
	item, err := h.settings.UpdatePrefix(c.Request.Context(), c.Param("guildID"), req.Prefix)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *Handler) updateVolume(c *gin.Context) {
	guildID := c.Param("guildID")
	var req struct {
		Volume float64 `json:"volume"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	fraction := settings.NormalizePercent(req.Volume)
	item, err := h.settings.UpdateVolume(c.Request.Context(), guildID, fraction)
	if err != nil {
		respondError(c, err)
		return
	}
	h.coordinator.SetVolume(guildID, fraction)
	c.JSON(http.StatusOK, item)
}

func (h *Handler) stopPlayback(c *gin.Context) {
	stopped := h.coordinator.Stop(c.Param("guildID"))
	c.JSON(http.StatusOK, gin.H{"stopped": stopped})
}

func (h *Handler) sessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.coordinator.Sessions()})
}

func (h *Handler) listTenants(c *gin.Context) {
	tenants, err := h.directory.ListTenants(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenants": tenants})
}

func (h *Handler) globalStats(c *gin.Context) {
	stats, err := h.directory.TotalStats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch domain.KindOf(err) {
	case domain.KindValidation:
		status = http.StatusBadRequest
	case domain.KindStorageRead, domain.KindStorageWrite, domain.KindSettingsStore:
		status = http.StatusBadGateway
	case domain.KindVoiceConnect:
		status = http.StatusConflict
	}
	if status >= http.StatusInternalServerError {
		commonlog.Errorf("request %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, httpresp.NewErrorResponse(domain.UserMessage(err)))
}
