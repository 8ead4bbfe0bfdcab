package api

import (
	"crypto/subtle"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path"

	"medley/internal/server/auth"
	"medley/internal/server/files"
	"medley/internal/server/sandbox"
	"medley/internal/server/share"
	"medley/internal/server/stream"

	"github.com/labstack/echo/v4"
	"github.com/skip2/go-qrcode"
)

// shareCookieName derives the per-share cookie name. Scoping the name to a
// token prefix lets a browser hold sessions for several shares at once.
func shareCookieName(token string) string {
	prefix := token
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return "medley_share_" + prefix
}

// --- Owner share management ---

type shareResponse struct {
	Token        string             `json:"token"`
	URL          string             `json:"url"`
	Path         string             `json:"path"`
	IsDirectory  bool               `json:"isDirectory"`
	Editable     bool               `json:"editable"`
	Protected    bool               `json:"protected"`
	Passcode     string             `json:"passcode,omitempty"`
	Restrictions share.Restrictions `json:"restrictions"`
	UsedBytes    uint64             `json:"usedBytes"`
	CreatedAt    string             `json:"createdAt"`
}

func (h *Handler) shareResponse(rec share.Record, includePasscode bool) shareResponse {
	resp := shareResponse{
		Token:        rec.Token,
		URL:          shareURL(h.cfg.BaseURL, rec.Token),
		Path:         rec.Path,
		IsDirectory:  rec.IsDirectory,
		Editable:     rec.Editable,
		Protected:    rec.Protected(),
		Restrictions: rec.Restrictions,
		UsedBytes:    rec.UsedBytes,
		CreatedAt:    rec.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
	if includePasscode {
		resp.Passcode = rec.Passcode
	}
	return resp
}

// HandleCreateShare handles POST /api/shares.
func (h *Handler) HandleCreateShare(c echo.Context) error {
	var req struct {
		Path         string              `json:"path"`
		Editable     bool                `json:"editable"`
		Restrictions *share.Restrictions `json:"restrictions"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	rel := sandbox.CleanRel(req.Path)
	entry, err := h.files.Stat(rel)
	if err != nil {
		return mapError(c, err)
	}

	rec, err := h.shares.Create(rel, entry.IsDir, req.Editable, req.Restrictions)
	if err != nil {
		return mapError(c, err)
	}
	slog.Info("share created", "token", rec.Token, "path", rec.Path, "editable", rec.Editable)
	return c.JSON(http.StatusCreated, h.shareResponse(rec, true))
}

// HandleListShares handles GET /api/shares.
func (h *Handler) HandleListShares(c echo.Context) error {
	recs, err := h.shares.List()
	if err != nil {
		return mapError(c, err)
	}
	out := make([]shareResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, h.shareResponse(rec, true))
	}
	return c.JSON(http.StatusOK, echo.Map{"shares": out})
}

// HandleUpdateShare handles PATCH /api/shares.
func (h *Handler) HandleUpdateShare(c echo.Context) error {
	var req struct {
		Token        string             `json:"token"`
		Restrictions share.Restrictions `json:"restrictions"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	rec, err := h.shares.UpdateRestrictions(req.Token, req.Restrictions)
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(http.StatusOK, h.shareResponse(rec, true))
}

// HandleDeleteShare handles DELETE /api/shares?token=.
func (h *Handler) HandleDeleteShare(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "token is required"})
	}
	if err := h.shares.Delete(token); err != nil {
		return mapError(c, err)
	}
	slog.Info("share revoked", "token", token)
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}

// HandleShareQR handles GET /api/shares/qr?token=. Renders the share URL
// as a PNG for scanning from another device.
func (h *Handler) HandleShareQR(c echo.Context) error {
	token := c.QueryParam("token")
	if _, err := h.shares.Get(token); err != nil {
		return mapError(c, err)
	}
	png, err := qrcode.Encode(shareURL(h.cfg.BaseURL, token), qrcode.Medium, 256)
	if err != nil {
		return mapError(c, err)
	}
	return c.Blob(http.StatusOK, "image/png", png)
}

// --- Visitor share routes ---

// HandleShareInfo handles GET /share/:token/info. Unauthenticated callers
// of a protected share only learn that a passcode is required.
func (h *Handler) HandleShareInfo(c echo.Context) error {
	rec, err := h.shares.Get(c.Param("token"))
	if err != nil {
		return mapError(c, err)
	}
	if rec.Protected() && !h.shareSessionValid(c, rec) {
		return c.JSON(http.StatusOK, echo.Map{
			"protected":     true,
			"authenticated": false,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"protected":     rec.Protected(),
		"authenticated": true,
		"name":          path.Base(rec.Path),
		"isDirectory":   rec.IsDirectory,
		"editable":      rec.Editable,
		"restrictions":  rec.Restrictions,
	})
}

// HandleShareVerify handles POST /share/:token/verify. Successful passcode
// checks issue a session cookie scoped to this share.
func (h *Handler) HandleShareVerify(c echo.Context) error {
	rec, err := h.shares.Get(c.Param("token"))
	if err != nil {
		return mapError(c, err)
	}
	if !rec.Protected() {
		return c.JSON(http.StatusOK, echo.Map{"ok": true})
	}
	if !h.limiter.Allow(c.RealIP()) {
		slog.Warn("share verify rate limit exceeded", "ip", c.RealIP(), "token", rec.Token)
		return c.JSON(http.StatusTooManyRequests, echo.Map{"error": "too many attempts, try again later"})
	}

	var req struct {
		Passcode string `json:"passcode"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if subtle.ConstantTimeCompare([]byte(req.Passcode), []byte(rec.Passcode)) != 1 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid passcode"})
	}

	secret := auth.ShareSecret(rec.Token, h.sessionSecret)
	c.SetCookie(sessionCookie(shareCookieName(rec.Token), auth.Issue(secret)))
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}

func (h *Handler) shareSessionValid(c echo.Context, rec share.Record) bool {
	cookie, err := c.Cookie(shareCookieName(rec.Token))
	if err != nil {
		return false
	}
	secret := auth.ShareSecret(rec.Token, h.sessionSecret)
	return auth.Valid(secret, cookie.Value, auth.SessionMaxAge)
}

// shareRecord fetches the share for the route token and enforces its
// passcode. Handlers behind the share guard call this first.
func (h *Handler) shareRecord(c echo.Context) (share.Record, error) {
	rec, err := h.shares.Get(c.Param("token"))
	if err != nil {
		return share.Record{}, err
	}
	if rec.Protected() && !h.shareSessionValid(c, rec) {
		return share.Record{}, auth.ErrUnauthorized
	}
	return rec, nil
}

// resolveShareSub maps a visitor-supplied sub path onto the share,
// refusing anything that would leave it.
func resolveShareSub(rec share.Record, sub string) (string, error) {
	rel, ok := share.ResolveSubPath(rec, sub)
	if !ok {
		return "", sandbox.ErrPathTraversal
	}
	return rel, nil
}

// HandleShareFiles handles GET /share/:token/files?sub=.
func (h *Handler) HandleShareFiles(c echo.Context) error {
	rec, err := h.shareRecord(c)
	if err != nil {
		return mapError(c, err)
	}
	rel, err := resolveShareSub(rec, c.QueryParam("sub"))
	if err != nil {
		return mapError(c, err)
	}

	if !rec.IsDirectory {
		entry, err := h.files.Stat(rel)
		if err != nil {
			return mapError(c, err)
		}
		return c.JSON(http.StatusOK, echo.Map{"items": []files.Entry{entry}})
	}
	entries, err := h.files.List(rel)
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": entries})
}

// HandleShareMedia handles GET/HEAD /share/:token/media/*.
func (h *Handler) HandleShareMedia(c echo.Context) error {
	rec, err := h.shareRecord(c)
	if err != nil {
		return mapError(c, err)
	}
	rel, err := resolveShareSub(rec, c.Param("*"))
	if err != nil {
		return mapError(c, err)
	}
	abs, err := h.files.Resolve(rel)
	if err != nil {
		return mapError(c, err)
	}
	entry, err := h.files.Stat(rel)
	if err != nil {
		return mapError(c, err)
	}
	if entry.IsDir {
		return mapError(c, files.ErrIsDir)
	}
	if err := stream.ServeFile(c.Response(), c.Request(), abs, files.ContentType(entry.Name)); err != nil {
		return mapError(c, err)
	}
	return nil
}

// shareEditable checks the per-share gate for a mutating operation.
func shareEditable(rec share.Record, allowed bool) error {
	if !rec.Editable || !allowed {
		return sandbox.ErrNotEditable
	}
	return nil
}

// HandleShareCreate handles POST /share/:token/create.
func (h *Handler) HandleShareCreate(c echo.Context) error {
	rec, err := h.shareRecord(c)
	if err != nil {
		return mapError(c, err)
	}
	if err := shareEditable(rec, rec.Restrictions.AllowEdit); err != nil {
		return mapError(c, err)
	}
	var req struct {
		Sub     string `json:"sub"`
		IsDir   bool   `json:"isDir"`
		Content string `json:"content"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	rel, err := resolveShareSub(rec, req.Sub)
	if err != nil {
		return mapError(c, err)
	}
	if rel == rec.Path {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "sub is required"})
	}
	if err := h.files.Create(rel, req.IsDir, []byte(req.Content)); err != nil {
		return mapError(c, err)
	}
	h.hub.Publish(parentDir(rel))
	return c.JSON(http.StatusCreated, echo.Map{"ok": true})
}

// HandleShareEdit handles POST /share/:token/edit.
func (h *Handler) HandleShareEdit(c echo.Context) error {
	rec, err := h.shareRecord(c)
	if err != nil {
		return mapError(c, err)
	}
	if err := shareEditable(rec, rec.Restrictions.AllowEdit); err != nil {
		return mapError(c, err)
	}
	var req struct {
		Sub     string `json:"sub"`
		Content string `json:"content"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	rel, err := resolveShareSub(rec, req.Sub)
	if err != nil {
		return mapError(c, err)
	}
	if err := h.files.Edit(rel, []byte(req.Content)); err != nil {
		return mapError(c, err)
	}
	h.hub.Publish(parentDir(rel))
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}

// HandleShareDelete handles POST /share/:token/delete. A visitor may not
// delete the shared root itself, only entries inside it.
func (h *Handler) HandleShareDelete(c echo.Context) error {
	rec, err := h.shareRecord(c)
	if err != nil {
		return mapError(c, err)
	}
	if err := shareEditable(rec, rec.Restrictions.AllowDelete); err != nil {
		return mapError(c, err)
	}
	var req struct {
		Sub string `json:"sub"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	rel, err := resolveShareSub(rec, req.Sub)
	if err != nil {
		return mapError(c, err)
	}
	if rel == rec.Path {
		return mapError(c, share.ErrRootDelete)
	}
	if err := h.files.Delete(rel); err != nil {
		return mapError(c, err)
	}
	h.hub.Publish(parentDir(rel))
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}

// HandleShareRename handles POST /share/:token/rename. Both ends of the
// rename must stay inside the share.
func (h *Handler) HandleShareRename(c echo.Context) error {
	rec, err := h.shareRecord(c)
	if err != nil {
		return mapError(c, err)
	}
	if err := shareEditable(rec, rec.Restrictions.AllowEdit); err != nil {
		return mapError(c, err)
	}
	var req struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	from, err := resolveShareSub(rec, req.From)
	if err != nil {
		return mapError(c, err)
	}
	to, err := resolveShareSub(rec, req.To)
	if err != nil {
		return mapError(c, err)
	}
	if from == rec.Path {
		return mapError(c, share.ErrRootDelete)
	}
	if err := h.files.Rename(from, to); err != nil {
		return mapError(c, err)
	}
	h.hub.Publish(parentDir(from))
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}

// HandleShareUpload handles POST /share/:token/upload?sub=. The quota is
// checked against the declared sizes before any bytes are written, so an
// oversized batch fails without partial writes.
func (h *Handler) HandleShareUpload(c echo.Context) error {
	rec, err := h.shareRecord(c)
	if err != nil {
		return mapError(c, err)
	}
	if err := shareEditable(rec, rec.Restrictions.AllowUpload); err != nil {
		return mapError(c, err)
	}
	if !rec.IsDirectory {
		return mapError(c, files.ErrNotDir)
	}
	rel, err := resolveShareSub(rec, c.QueryParam("sub"))
	if err != nil {
		return mapError(c, err)
	}

	form, err := c.MultipartForm()
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid multipart form"})
	}
	var incoming uint64
	var uploads []*multipart.FileHeader
	for _, headers := range form.File {
		for _, fh := range headers {
			if fh.Size > 0 {
				incoming += uint64(fh.Size)
			}
			uploads = append(uploads, fh)
		}
	}
	if len(uploads) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "no files in form"})
	}

	if ok, remaining := share.CheckUploadQuota(rec, incoming); !ok {
		return mapError(c, &share.QuotaError{Remaining: remaining})
	}

	var written int64
	var saved []string
	for _, fh := range uploads {
		src, err := fh.Open()
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "failed to read uploaded file"})
		}
		n, err := h.files.SaveUpload(rel, fh.Filename, src)
		src.Close()
		if err != nil {
			return mapError(c, err)
		}
		written += n
		saved = append(saved, fh.Filename)
	}

	if _, err := h.shares.AddUsedBytes(rec.Token, uint64(written)); err != nil {
		slog.Warn("failed to record share quota usage", "token", rec.Token, "error", err)
	}
	h.hub.Publish(rel)
	return c.JSON(http.StatusCreated, echo.Map{"ok": true, "saved": saved})
}
