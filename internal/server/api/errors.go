package api

import (
	"errors"
	"net/http"

	"medley/internal/server/auth"
	"medley/internal/server/files"
	"medley/internal/server/media"
	"medley/internal/server/sandbox"
	"medley/internal/server/share"

	"github.com/labstack/echo/v4"
)

// mapError translates domain errors into HTTP responses. Internal paths and
// wrapped causes never reach the client.
func mapError(c echo.Context, err error) error {
	if c.Response().Committed {
		// Streaming already started; nothing useful can be sent.
		return err
	}
	switch {
	case errors.Is(err, sandbox.ErrPathTraversal):
		// Never reveals whether the target exists.
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	case errors.Is(err, sandbox.ErrNotEditable):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "path is not editable"})
	case errors.Is(err, share.ErrRootDelete):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "the share root cannot be deleted through its own share"})
	case errors.Is(err, files.ErrNotFound), errors.Is(err, share.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	case errors.Is(err, files.ErrConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": "destination already exists"})
	case errors.Is(err, files.ErrNotDir):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "not a directory"})
	case errors.Is(err, files.ErrIsDir):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "is a directory"})
	case errors.Is(err, share.ErrQuota):
		payload := echo.Map{"error": "upload quota exceeded"}
		var qe *share.QuotaError
		if errors.As(err, &qe) {
			payload["remaining"] = qe.Remaining
		}
		return c.JSON(http.StatusRequestEntityTooLarge, payload)
	case errors.Is(err, auth.ErrUnauthorized):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	case errors.Is(err, media.ErrToolUnavailable):
		return c.JSON(http.StatusNotImplemented, echo.Map{"error": "transcoding tool unavailable"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
}
