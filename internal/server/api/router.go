package api

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// SetupRouter creates and configures the echo router with all routes and middleware.
func SetupRouter(handler *Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "HEAD", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}))
	e.Use(RequestLogger())

	admin := handler.RequireAdmin()

	// Health & auth
	e.GET("/health", handler.HandleHealth)
	e.POST("/api/auth/login", handler.HandleLogin)
	e.POST("/api/auth/logout", handler.HandleLogout)
	e.GET("/api/auth/status", handler.HandleAuthStatus)

	// Library browsing and mutation (owner only)
	e.GET("/api/files", handler.HandleListFiles, admin)
	e.POST("/api/files/create", handler.HandleCreate, admin)
	e.POST("/api/files/edit", handler.HandleEdit, admin)
	e.POST("/api/files/delete", handler.HandleDelete, admin)
	e.POST("/api/files/rename", handler.HandleRename, admin)
	e.POST("/api/files/copy", handler.HandleCopy, admin)
	e.POST("/api/files/upload", handler.HandleUpload, admin)

	// Media streaming and thumbnails (owner only)
	e.GET("/media/*", handler.HandleMedia, admin)
	e.HEAD("/media/*", handler.HandleMedia, admin)
	e.GET("/thumbnail/*", handler.HandleThumbnail, admin)
	e.GET("/api/audio", handler.HandleAudio, admin)
	e.GET("/api/media/info", handler.HandleMediaInfo, admin)

	// Preferences and stats
	e.GET("/api/favorites", handler.HandleFavorites, admin)
	e.POST("/api/favorites/toggle", handler.HandleToggleFavorite, admin)
	e.GET("/api/stats/views", handler.HandleViewStats, admin)

	// Change notifications
	e.GET("/api/events", handler.HandleEvents, admin)

	// Share management (owner only)
	e.POST("/api/shares", handler.HandleCreateShare, admin)
	e.GET("/api/shares", handler.HandleListShares, admin)
	e.PATCH("/api/shares", handler.HandleUpdateShare, admin)
	e.DELETE("/api/shares", handler.HandleDeleteShare, admin)
	e.GET("/api/shares/qr", handler.HandleShareQR, admin)

	// Visitor share routes; each handler enforces the share passcode itself.
	e.GET("/share/:token/info", handler.HandleShareInfo)
	e.POST("/share/:token/verify", handler.HandleShareVerify)
	e.GET("/share/:token/files", handler.HandleShareFiles)
	e.GET("/share/:token/media/*", handler.HandleShareMedia)
	e.HEAD("/share/:token/media/*", handler.HandleShareMedia)
	e.POST("/share/:token/create", handler.HandleShareCreate)
	e.POST("/share/:token/edit", handler.HandleShareEdit)
	e.POST("/share/:token/delete", handler.HandleShareDelete)
	e.POST("/share/:token/rename", handler.HandleShareRename)
	e.POST("/share/:token/upload", handler.HandleShareUpload)

	return e
}
