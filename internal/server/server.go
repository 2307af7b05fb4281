// Package server exposes the HTTP surface: upload initiation, per-photo
// completion signals, photo listings, and the live progress streams.
// Authentication itself happens upstream; identity arrives as a header.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"photoflow/internal/errs"
	"photoflow/internal/models"
	"photoflow/internal/stream"
	"photoflow/internal/uploads"
)

const userHeader = "X-User-ID"

// PhotoDirectory is the read surface for photo listings and downloads.
type PhotoDirectory interface {
	GetPhoto(ctx context.Context, id uuid.UUID) (*models.Photo, error)
	ListPhotosByUser(ctx context.Context, userID string) ([]models.Photo, error)
}

// Downloader mints read capabilities for stored objects.
type Downloader interface {
	IssueDownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type Server struct {
	cfg     *models.Config
	router  *gin.Engine
	http    *http.Server
	uploads *uploads.Service
	streams *stream.Server
	photos  PhotoDirectory
	blobs   Downloader
	logger  *slog.Logger
}

func New(cfg *models.Config, svc *uploads.Service, streams *stream.Server, photos PhotoDirectory, blobs Downloader, logger *slog.Logger) *Server {
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		cfg:     cfg,
		router:  router,
		uploads: svc,
		streams: streams,
		photos:  photos,
		blobs:   blobs,
		logger:  logger,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api", s.requireUser)
	api.POST("/uploads", s.handleInitUpload)
	api.POST("/photos/:id/complete", s.handleMarkCompleted)
	api.POST("/photos/:id/fail", s.handleMarkFailed)
	api.GET("/photos", s.handleListPhotos)
	api.GET("/photos/:id/download", s.handleDownloadURL)
	api.GET("/jobs/:id", s.handleGetJob)
	api.GET("/jobs/:id/events", s.handleJobEvents)
	api.GET("/jobs/:id/ws", s.handleJobWS)

	s.http = &http.Server{Addr: cfg.ServerAddr, Handler: router}
	return s
}

func (s *Server) Start() error {
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) requireUser(c *gin.Context) {
	if c.GetHeader(userHeader) == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing " + userHeader + " header"})
		return
	}
	c.Next()
}

func userID(c *gin.Context) string {
	return c.GetHeader(userHeader)
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch errs.KindOf(err) {
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindForbidden:
		return http.StatusForbidden
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindStorageUnavailable, errs.KindExternalService:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

type initUploadRequest struct {
	Files []models.UploadDescriptor `json:"files"`
}

func (s *Server) handleInitUpload(c *gin.Context) {
	var req initUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.uploads.InitUpload(c.Request.Context(), userID(c), req.Files)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (s *Server) idParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return uuid.UUID{}, false
	}
	return id, true
}

func (s *Server) handleMarkCompleted(c *gin.Context) {
	id, ok := s.idParam(c)
	if !ok {
		return
	}
	if err := s.uploads.MarkCompleted(c.Request.Context(), id, userID(c)); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleMarkFailed(c *gin.Context) {
	id, ok := s.idParam(c)
	if !ok {
		return
	}
	if err := s.uploads.MarkFailed(c.Request.Context(), id, userID(c)); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleListPhotos(c *gin.Context) {
	photos, err := s.photos.ListPhotosByUser(c.Request.Context(), userID(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"photos": photos})
}

func (s *Server) handleDownloadURL(c *gin.Context) {
	id, ok := s.idParam(c)
	if !ok {
		return
	}

	photo, err := s.photos.GetPhoto(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	if photo.UserID != userID(c) {
		s.fail(c, errs.New(errs.KindForbidden, "server.handleDownloadURL", "photo belongs to another user"))
		return
	}

	url, err := s.blobs.IssueDownloadURL(c.Request.Context(), photo.StorageKey, 0)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"downloadUrl": url})
}

func (s *Server) handleGetJob(c *gin.Context) {
	id, ok := s.idParam(c)
	if !ok {
		return
	}

	snapshot, err := s.streams.Snapshot(c.Request.Context(), id, userID(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (s *Server) handleJobEvents(c *gin.Context) {
	id, ok := s.idParam(c)
	if !ok {
		return
	}
	if err := s.streams.ServeSSE(c, id, userID(c)); err != nil {
		s.fail(c, err)
	}
}

func (s *Server) handleJobWS(c *gin.Context) {
	id, ok := s.idParam(c)
	if !ok {
		return
	}
	if err := s.streams.ServeWS(c, id, userID(c)); err != nil {
		s.fail(c, err)
	}
}
