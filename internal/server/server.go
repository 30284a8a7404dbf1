// Package server exposes the research engine over HTTP: job submission,
// status polling, cancellation, report retrieval, and a WebSocket stream of
// job progress.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/delverhq/delver/internal/job"
	"github.com/delverhq/delver/internal/queue"
	"github.com/delverhq/delver/internal/report"
	"github.com/delverhq/delver/internal/storage"
	"github.com/delverhq/delver/internal/template"
)

// Archive serves jobs and reports persisted by earlier runs of the engine,
// so status and report endpoints keep working across process restarts.
type Archive interface {
	LoadJob(ctx context.Context, jobID string) (*job.ResearchJob, error)
	LoadReport(ctx context.Context, jobID string) (*report.Report, error)
}

// createJobRequest is the POST /api/jobs body.
type createJobRequest struct {
	Query      string `json:"query" validate:"required,min=1,max=500"`
	TemplateID string `json:"templateId" validate:"required"`
	Options    struct {
		Depth         string `json:"depth" validate:"omitempty,oneof=quick standard deep"`
		MaxSources    int    `json:"maxSources" validate:"omitempty,min=1,max=50"`
		IncludeRecent bool   `json:"includeRecent"`
	} `json:"options"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server is the HTTP front of the engine.
type Server struct {
	app       *fiber.App
	queue     *queue.Queue
	archive   Archive
	templates *template.Registry
	hub       *Hub
	validate  *validator.Validate
	logger    *slog.Logger
}

// New builds the server and its routes. Call Notify from the queue's
// notifier so WebSocket subscribers see job changes.
func New(q *queue.Queue, archive Archive, templates *template.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		queue:     q,
		archive:   archive,
		templates: templates,
		hub:       NewHub(logger),
		validate:  validator.New(),
		logger:    logger,
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code = fe.Code
			}
			return c.Status(code).JSON(errorResponse{Error: err.Error()})
		},
	})
	app.Use(recover.New())
	app.Use(cors.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")
	api.Get("/templates", s.listTemplates)
	api.Post("/jobs", s.createJob)
	api.Get("/jobs/:id", s.getJob)
	api.Post("/jobs/:id/cancel", s.cancelJob)
	api.Get("/jobs/:id/report", s.getReport)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/jobs/:id", websocket.New(s.streamJob))

	s.app = app
	return s
}

// Notify forwards a job snapshot to WebSocket subscribers.
func (s *Server) Notify(snap job.Snapshot) {
	s.hub.Broadcast(snap)
}

// Listen starts the hub and serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	go s.hub.Run()
	return s.app.Listen(addr)
}

// Shutdown stops the listener and the hub.
func (s *Server) Shutdown() error {
	s.hub.Stop()
	return s.app.Shutdown()
}

func (s *Server) listTemplates(c *fiber.Ctx) error {
	return c.JSON(s.templates.List())
}

func (s *Server) createJob(c *fiber.Ctx) error {
	var req createJobRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := s.validate.Struct(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, validationMessage(err))
	}

	opts := job.Options{
		Depth:         job.Depth(req.Options.Depth),
		MaxSources:    req.Options.MaxSources,
		IncludeRecent: req.Options.IncludeRecent,
	}
	j, err := s.queue.Enqueue(req.Query, req.TemplateID, opts)
	if err != nil {
		switch {
		case errors.Is(err, queue.ErrEmptyQuery), errors.Is(err, template.ErrNotFound):
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		case errors.Is(err, queue.ErrFull), errors.Is(err, queue.ErrClosed):
			return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
		default:
			return err
		}
	}

	return c.Status(fiber.StatusAccepted).JSON(j.Snapshot())
}

func (s *Server) getJob(c *fiber.Ctx) error {
	id := c.Params("id")
	snap, err := s.queue.GetStatus(id)
	if err != nil {
		if !errors.Is(err, queue.ErrNotFound) {
			return err
		}
		// The queue forgets jobs on restart; fall back to the checkpoint.
		j, lerr := s.archive.LoadJob(c.Context(), id)
		if lerr != nil {
			return fiber.NewError(fiber.StatusNotFound, "job not found")
		}
		snap = j.Snapshot()
	}
	return c.JSON(snap)
}

func (s *Server) cancelJob(c *fiber.Ctx) error {
	accepted, err := s.queue.RequestCancel(c.Params("id"))
	if err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "job not found")
		}
		return err
	}
	if !accepted {
		return fiber.NewError(fiber.StatusConflict, "job already finished")
	}
	return c.JSON(fiber.Map{"cancelling": true})
}

// getReport returns the finished report. The format query selects the
// rendering: json (default), markdown, or csv (source list).
func (s *Server) getReport(c *fiber.Ctx) error {
	id := c.Params("id")
	rep, err := s.archive.LoadReport(c.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "report not available")
		}
		return err
	}

	switch c.Query("format", "json") {
	case "json":
		return c.JSON(rep)
	case "markdown":
		c.Set(fiber.HeaderContentType, "text/markdown; charset=utf-8")
		return report.WriteMarkdown(c.Response().BodyWriter(), rep)
	case "csv":
		c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
		c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%s-sources.csv", id))
		return report.WriteSourcesCSV(c.Response().BodyWriter(), rep)
	default:
		return fiber.NewError(fiber.StatusBadRequest, "unknown format")
	}
}

// streamJob subscribes a WebSocket client to one job's updates.
func (s *Server) streamJob(conn *websocket.Conn) {
	id := conn.Params("id")
	snap, err := s.queue.GetStatus(id)
	if err != nil {
		payload := fmt.Sprintf(`{"type":"error","error":%q}`, "job not found")
		conn.WriteMessage(websocket.TextMessage, []byte(payload))
		conn.Close()
		return
	}
	s.hub.handleConnection(conn, id, snap)
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		first := verrs[0]
		return fmt.Sprintf("invalid field %s (%s)", first.Field(), first.Tag())
	}
	return "validation failed"
}
