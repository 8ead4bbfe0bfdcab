package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"path"

	"medley/internal/server/auth"
	"medley/internal/server/config"
	"medley/internal/server/files"
	"medley/internal/server/media"
	"medley/internal/server/notify"
	"medley/internal/server/sandbox"
	"medley/internal/server/share"
	"medley/internal/server/store"

	"github.com/labstack/echo/v4"
)

const adminCookie = "medley_session"

// Handler contains the HTTP handlers for the medley API.
type Handler struct {
	cfg      *config.Config
	files    *files.Service
	shares   *share.Registry
	settings *store.SettingsStore
	stats    *store.StatsStore
	hub      *notify.Hub
	media    *media.Processor
	password *auth.PasswordVerifier
	limiter  *auth.LoginLimiter

	// sessionSecret signs per-share sessions; never sent to clients.
	sessionSecret string
}

// NewHandler wires the handler with its dependencies.
func NewHandler(
	cfg *config.Config,
	fsvc *files.Service,
	shares *share.Registry,
	settings *store.SettingsStore,
	stats *store.StatsStore,
	hub *notify.Hub,
	proc *media.Processor,
	sessionSecret string,
) *Handler {
	return &Handler{
		cfg:           cfg,
		files:         fsvc,
		shares:        shares,
		settings:      settings,
		stats:         stats,
		hub:           hub,
		media:         proc,
		password:      auth.NewPasswordVerifier(cfg.AdminPassword),
		limiter:       auth.NewLoginLimiter(cfg.LoginRateMax, cfg.LoginRateWindow),
		sessionSecret: sessionSecret,
	}
}

// HandleHealth handles GET /health.
func (h *Handler) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"status": "healthy"})
}

// --- Auth ---

// HandleLogin handles POST /api/auth/login. Rate-limited per source
// address; a successful password check issues the admin session cookie.
func (h *Handler) HandleLogin(c echo.Context) error {
	if !h.cfg.AuthEnabled() {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "authentication is disabled"})
	}
	if !h.limiter.Allow(c.RealIP()) {
		slog.Warn("login rate limit exceeded", "ip", c.RealIP())
		return c.JSON(http.StatusTooManyRequests, echo.Map{"error": "too many attempts, try again later"})
	}

	var req struct {
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if !h.password.Verify(req.Password) {
		slog.Warn("failed login attempt", "ip", c.RealIP())
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid password"})
	}

	c.SetCookie(sessionCookie(adminCookie, auth.Issue(h.cfg.AdminPassword)))
	slog.Info("admin login", "ip", c.RealIP())
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}

// HandleLogout handles POST /api/auth/logout.
func (h *Handler) HandleLogout(c echo.Context) error {
	expired := sessionCookie(adminCookie, "")
	expired.MaxAge = -1
	c.SetCookie(expired)
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}

// HandleAuthStatus handles GET /api/auth/status.
func (h *Handler) HandleAuthStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"enabled":       h.cfg.AuthEnabled(),
		"authenticated": h.isAdmin(c),
	})
}

// isAdmin reports whether the request carries a valid admin session. With
// auth disabled every request is the owner.
func (h *Handler) isAdmin(c echo.Context) bool {
	if !h.cfg.AuthEnabled() {
		return true
	}
	if !h.domainAllowed(c) {
		return false
	}
	cookie, err := c.Cookie(adminCookie)
	if err != nil {
		return false
	}
	return auth.Valid(h.cfg.AdminPassword, cookie.Value, auth.SessionMaxAge)
}

func (h *Handler) domainAllowed(c echo.Context) bool {
	if len(h.cfg.AllowedDomains) == 0 {
		return true
	}
	host := c.Request().Host
	for _, d := range h.cfg.AllowedDomains {
		if host == d {
			return true
		}
	}
	return false
}

// --- File operations ---

// HandleListFiles handles GET /api/files?dir=.
func (h *Handler) HandleListFiles(c echo.Context) error {
	dir := c.QueryParam("dir")
	entries, err := h.files.List(dir)
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"dir":   sandbox.CleanRel(dir),
		"items": entries,
	})
}

// HandleCreate handles POST /api/files/create.
func (h *Handler) HandleCreate(c echo.Context) error {
	var req struct {
		Path    string `json:"path"`
		IsDir   bool   `json:"isDir"`
		Content string `json:"content"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	rel := sandbox.CleanRel(req.Path)
	if rel == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "path is required"})
	}
	if err := sandbox.CheckCreatable(rel, h.cfg.EditableRoots); err != nil {
		return mapError(c, err)
	}
	if err := h.files.Create(rel, req.IsDir, []byte(req.Content)); err != nil {
		return mapError(c, err)
	}
	h.hub.Publish(parentDir(rel))
	return c.JSON(http.StatusCreated, echo.Map{"ok": true, "path": rel})
}

// HandleEdit handles POST /api/files/edit.
func (h *Handler) HandleEdit(c echo.Context) error {
	var req struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	rel := sandbox.CleanRel(req.Path)
	if err := sandbox.CheckWritable(rel, h.cfg.EditableRoots); err != nil {
		return mapError(c, err)
	}
	if err := h.files.Edit(rel, []byte(req.Content)); err != nil {
		return mapError(c, err)
	}
	h.hub.Publish(parentDir(rel))
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}

// HandleDelete handles POST /api/files/delete.
func (h *Handler) HandleDelete(c echo.Context) error {
	var req struct {
		Path string `json:"path"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	rel := sandbox.CleanRel(req.Path)
	if rel == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "path is required"})
	}
	if err := sandbox.CheckWritable(rel, h.cfg.EditableRoots); err != nil {
		return mapError(c, err)
	}
	if err := h.files.Delete(rel); err != nil {
		return mapError(c, err)
	}
	h.hub.Publish(parentDir(rel))
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}

// HandleRename handles POST /api/files/rename. Source and destination are
// validated independently; moving between editable roots is legal.
func (h *Handler) HandleRename(c echo.Context) error {
	var req struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	from, to := sandbox.CleanRel(req.From), sandbox.CleanRel(req.To)
	if from == "" || to == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "from and to are required"})
	}
	if err := sandbox.CheckWritable(from, h.cfg.EditableRoots); err != nil {
		return mapError(c, err)
	}
	if err := sandbox.CheckWritable(to, h.cfg.EditableRoots); err != nil {
		return mapError(c, err)
	}
	if err := h.files.Rename(from, to); err != nil {
		return mapError(c, err)
	}
	h.hub.Publish(parentDir(from))
	h.hub.Publish(parentDir(to))
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}

// HandleCopy handles POST /api/files/copy. Only the destination needs write
// permission; the source is merely read.
func (h *Handler) HandleCopy(c echo.Context) error {
	var req struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	from, to := sandbox.CleanRel(req.From), sandbox.CleanRel(req.To)
	if from == "" || to == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "from and to are required"})
	}
	if err := sandbox.CheckCreatable(to, h.cfg.EditableRoots); err != nil {
		return mapError(c, err)
	}
	if err := h.files.Copy(from, to); err != nil {
		return mapError(c, err)
	}
	h.hub.Publish(parentDir(to))
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}

// HandleUpload handles POST /api/files/upload?dir=. Accepts a multipart
// form with any number of files.
func (h *Handler) HandleUpload(c echo.Context) error {
	dir := sandbox.CleanRel(c.QueryParam("dir"))

	form, err := c.MultipartForm()
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid multipart form"})
	}
	var saved []string
	for _, headers := range form.File {
		for _, fh := range headers {
			target := fh.Filename
			if dir != "" {
				target = dir + "/" + fh.Filename
			}
			if err := sandbox.CheckCreatable(target, h.cfg.EditableRoots); err != nil {
				return mapError(c, err)
			}
			src, err := fh.Open()
			if err != nil {
				return c.JSON(http.StatusBadRequest, echo.Map{"error": "failed to read uploaded file"})
			}
			_, err = h.files.SaveUpload(dir, fh.Filename, src)
			src.Close()
			if err != nil {
				return mapError(c, err)
			}
			saved = append(saved, fh.Filename)
		}
	}
	if len(saved) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "no files in form"})
	}
	h.hub.Publish(dir)
	return c.JSON(http.StatusCreated, echo.Map{"ok": true, "saved": saved})
}

// --- Favorites and stats ---

// HandleFavorites handles GET /api/favorites.
func (h *Handler) HandleFavorites(c echo.Context) error {
	s, err := h.settings.Get()
	if err != nil {
		return mapError(c, err)
	}
	favs := s.Favorites
	if favs == nil {
		favs = []string{}
	}
	return c.JSON(http.StatusOK, echo.Map{"favorites": favs})
}

// HandleToggleFavorite handles POST /api/favorites/toggle.
func (h *Handler) HandleToggleFavorite(c echo.Context) error {
	var req struct {
		Path string `json:"path"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	rel := sandbox.CleanRel(req.Path)
	if _, err := h.files.Stat(rel); err != nil {
		return mapError(c, err)
	}
	favorite, err := h.settings.ToggleFavorite(rel)
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"path": rel, "favorite": favorite})
}

// HandleViewStats handles GET /api/stats/views.
func (h *Handler) HandleViewStats(c echo.Context) error {
	views, err := h.stats.Snapshot()
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"views": views})
}

// --- helpers ---

func sessionCookie(name, value string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(auth.SessionMaxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

func parentDir(rel string) string {
	dir := path.Dir(rel)
	if dir == "." {
		return ""
	}
	return dir
}

func shareURL(base, token string) string {
	return fmt.Sprintf("%s/share/%s", base, token)
}
