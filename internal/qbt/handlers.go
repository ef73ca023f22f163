package qbt

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"
)

// okBody is the literal plain-text ack the protocol requires.
const okBody = "Ok."

// Handlers serves the qBittorrent v2 API subset.
type Handlers struct {
	service *Service
}

// NewHandlers creates façade handlers.
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes mounts the /api/v2 tree.
func (h *Handlers) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/v2")

	g.POST("/auth/login", h.Login)
	g.GET("/auth/login", h.Login)
	g.POST("/auth/logout", h.Logout)

	g.GET("/app/version", h.AppVersion)
	g.GET("/app/webapiVersion", h.WebAPIVersion)
	g.GET("/app/preferences", h.Preferences)

	g.GET("/torrents/categories", h.Categories)
	g.POST("/torrents/createCategory", h.CreateCategory)
	g.POST("/torrents/removeCategories", h.RemoveCategories)
	g.POST("/torrents/setCategory", h.SetCategory)

	g.POST("/torrents/add", h.Add)
	g.GET("/torrents/info", h.Info)
	g.GET("/torrents/files", h.Files)
	g.GET("/torrents/properties", h.Properties)
	g.POST("/torrents/delete", h.Delete)
	g.POST("/torrents/pause", h.Pause)
	g.POST("/torrents/resume", h.Resume)
	g.POST("/torrents/stop", h.Pause)
	g.POST("/torrents/start", h.Resume)

	g.GET("/sync/maindata", h.MainData)
}

// Login is permissive: any credentials earn a session cookie.
func (h *Handlers) Login(c echo.Context) error {
	sid := make([]byte, 16)
	rand.Read(sid)
	c.SetCookie(&http.Cookie{
		Name:     "SID",
		Value:    hex.EncodeToString(sid),
		Path:     "/",
		HttpOnly: true,
	})
	return c.String(http.StatusOK, okBody)
}

// Logout clears the session cookie.
func (h *Handlers) Logout(c echo.Context) error {
	c.SetCookie(&http.Cookie{
		Name:   "SID",
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
	return c.String(http.StatusOK, okBody)
}

func (h *Handlers) AppVersion(c echo.Context) error {
	return c.String(http.StatusOK, appVersion)
}

func (h *Handlers) WebAPIVersion(c echo.Context) error {
	return c.String(http.StatusOK, webAPIVersion)
}

// Preferences reports the subset arr clients read; save_path drives
// their import location.
func (h *Handlers) Preferences(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"save_path":            h.service.cfg.SavePath,
		"temp_path_enabled":    false,
		"create_subfolder_enabled": false,
		"start_paused_enabled": false,
		"queueing_enabled":     false,
		"max_active_downloads": -1,
		"max_active_torrents":  -1,
		"max_active_uploads":   -1,
		"dht":                  false,
	})
}

func (h *Handlers) Categories(c echo.Context) error {
	return c.JSON(http.StatusOK, h.service.Categories())
}

func (h *Handlers) CreateCategory(c echo.Context) error {
	name := c.FormValue("category")
	if name == "" {
		return c.String(http.StatusBadRequest, "category name is empty")
	}
	h.service.CreateCategory(name, c.FormValue("savePath"))
	return c.String(http.StatusOK, okBody)
}

func (h *Handlers) RemoveCategories(c echo.Context) error {
	names := strings.Split(c.FormValue("categories"), "\n")
	h.service.RemoveCategories(names)
	return c.String(http.StatusOK, okBody)
}

func (h *Handlers) SetCategory(c echo.Context) error {
	category := c.FormValue("category")
	for _, hash := range splitHashes(c.FormValue("hashes")) {
		if err := h.service.store.SetClientTaskCategory(c.Request().Context(), hash, category); err != nil {
			return c.String(http.StatusInternalServerError, err.Error())
		}
	}
	return c.String(http.StatusOK, okBody)
}

// Add accepts magnet URIs, one per line in the urls field.
func (h *Handlers) Add(c echo.Context) error {
	urls := c.FormValue("urls")
	if urls == "" {
		return c.String(http.StatusBadRequest, "no urls")
	}
	category := c.FormValue("category")

	for _, line := range strings.Split(urls, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := h.service.AddMagnet(c.Request().Context(), line, category); err != nil {
			h.service.logger.Warn().Err(err).Msg("magnet add rejected")
			return c.String(http.StatusUnsupportedMediaType, "Fails.")
		}
	}
	return c.String(http.StatusOK, okBody)
}

func (h *Handlers) Info(c echo.Context) error {
	infos, err := h.service.listTorrents(c.Request().Context(), hashSet(c.QueryParam("hashes")), c.QueryParam("category"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, infos)
}

// Files reports the single produced file of a task.
func (h *Handlers) Files(c echo.Context) error {
	hash := c.QueryParam("hash")
	task, err := h.service.store.GetClientTask(c.Request().Context(), hash)
	if err != nil {
		return c.NoContent(http.StatusNotFound)
	}
	info := h.service.projectTask(c.Request().Context(), task)

	name := info.Name
	if info.ContentPath != "" {
		name = filepath.Base(info.ContentPath)
	}
	return c.JSON(http.StatusOK, []map[string]any{{
		"index":    0,
		"name":     name,
		"size":     info.Size,
		"progress": info.Progress,
		"priority": 1,
	}})
}

func (h *Handlers) Properties(c echo.Context) error {
	hash := c.QueryParam("hash")
	task, err := h.service.store.GetClientTask(c.Request().Context(), hash)
	if err != nil {
		return c.NoContent(http.StatusNotFound)
	}
	info := h.service.projectTask(c.Request().Context(), task)

	return c.JSON(http.StatusOK, map[string]any{
		"hash":              info.Hash,
		"name":              info.Name,
		"save_path":         info.SavePath,
		"total_size":        info.Size,
		"total_downloaded":  int64(float64(info.Size) * info.Progress),
		"dl_speed":          info.DlSpeed,
		"eta":               info.ETA,
		"seeds":             info.NumSeeds,
		"peers":             info.NumLeechs,
		"addition_date":     info.AddedOn,
		"completion_date":   info.CompletionOn,
		"anibridgeAbsolute": info.AnibridgeAbsolute,
	})
}

func (h *Handlers) Delete(c echo.Context) error {
	hashes := splitHashes(c.FormValue("hashes"))
	deleteFiles := strings.EqualFold(c.FormValue("deleteFiles"), "true")
	if err := h.service.Delete(c.Request().Context(), hashes, deleteFiles); err != nil {
		return err
	}
	return c.String(http.StatusOK, okBody)
}

func (h *Handlers) Pause(c echo.Context) error {
	if err := h.service.SetPaused(c.Request().Context(), splitHashes(c.FormValue("hashes")), true); err != nil {
		return err
	}
	return c.String(http.StatusOK, okBody)
}

func (h *Handlers) Resume(c echo.Context) error {
	if err := h.service.SetPaused(c.Request().Context(), splitHashes(c.FormValue("hashes")), false); err != nil {
		return err
	}
	return c.String(http.StatusOK, okBody)
}

// MainData returns the composite snapshot arr clients poll. Full update
// every time; clients tolerate that.
func (h *Handlers) MainData(c echo.Context) error {
	infos, err := h.service.listTorrents(c.Request().Context(), nil, "")
	if err != nil {
		return err
	}

	torrents := make(map[string]torrentInfo, len(infos))
	for _, info := range infos {
		torrents[info.Hash] = info
	}

	return c.JSON(http.StatusOK, map[string]any{
		"rid":         1,
		"full_update": true,
		"torrents":    torrents,
		"categories":  h.service.Categories(),
		"server_state": map[string]any{
			"connection_status": "connected",
			"dl_info_speed":     totalSpeed(infos),
			"up_info_speed":     0,
		},
	})
}

func totalSpeed(infos []torrentInfo) int64 {
	var total int64
	for _, info := range infos {
		total += info.DlSpeed
	}
	return total
}

func splitHashes(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, "|")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func hashSet(raw string) map[string]bool {
	hashes := splitHashes(raw)
	if len(hashes) == 0 {
		return nil
	}
	set := make(map[string]bool, len(hashes))
	for _, h := range hashes {
		set[h] = true
	}
	return set
}
