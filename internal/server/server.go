// Package server implements the REST API for the task service.
//
// Routes mirror the client in internal/remote: /api/todos for task CRUD,
// /api/todos/comments for comments, /api/workspaces for workspaces, and
// /api/parse for natural-language quick-add. Authentication is a bearer
// token resolved against the sessions table; the auth provider that issues
// tokens is an external collaborator.
package server

import (
	"errors"
	"log"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/syncpad/syncpad/internal/db"
	"github.com/syncpad/syncpad/internal/events"
	"github.com/syncpad/syncpad/internal/parse"
)

// Config holds server dependencies.
type Config struct {
	// DB is the persistence layer. Required.
	DB *db.DB

	// Parser handles /api/parse quick-add input. Optional; the endpoint
	// returns 503 when absent.
	Parser parse.Parser

	// Events is broadcast to /ws subscribers. Optional.
	Events *events.Hub

	// Logger for server activity. Defaults to stderr.
	Logger *log.Logger
}

// Server hosts the REST API.
type Server struct {
	echo   *echo.Echo
	db     *db.DB
	parser parse.Parser
	hub    *events.Hub
	logger *log.Logger
}

// New creates the server and registers all routes.
func New(cfg Config) (*Server, error) {
	if cfg.DB == nil {
		return nil, errors.New("db is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[serve] ", log.LstdFlags)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	s := &Server{
		echo:   e,
		db:     cfg.DB,
		parser: cfg.Parser,
		hub:    cfg.Events,
		logger: cfg.Logger,
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.hub != nil {
		e.GET("/ws", func(c echo.Context) error {
			s.hub.ServeHTTP(c.Response(), c.Request())
			return nil
		})
	}

	api := e.Group("/api", s.requireSession)
	api.GET("/todos", s.listTodos)
	api.POST("/todos", s.createTodo)
	api.PUT("/todos", s.updateTodo)
	api.DELETE("/todos", s.deleteTodo)
	api.POST("/todos/comments", s.createComment)
	api.DELETE("/todos/comments", s.deleteComment)
	api.GET("/workspaces", s.listWorkspaces)
	api.POST("/workspaces", s.createWorkspace)
	api.DELETE("/workspaces", s.deleteWorkspace)
	api.POST("/parse", s.parseTodo)

	return s, nil
}

// Handler returns the root http.Handler, used by tests and by cmd to mount
// the server.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr and blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.logger.Printf("Listening on %s", addr)
	return s.echo.Start(addr)
}

// Close shuts the server down.
func (s *Server) Close() error {
	if s.hub != nil {
		_ = s.hub.Close()
	}
	return s.echo.Close()
}

const userKey = "syncpad.user"

// requireSession resolves the bearer token to a user and stores it on the
// request context. Requests without a valid session get 401.
func (s *Server) requireSession(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		auth := c.Request().Header.Get(echo.HeaderAuthorization)
		const prefix = "Bearer "
		if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix {
			return echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized")
		}

		user, err := s.db.UserForToken(c.Request().Context(), auth[len(prefix):])
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized")
			}
			s.logger.Printf("Session lookup failed: %v", err)
			return echo.NewHTTPError(http.StatusInternalServerError, "session lookup failed")
		}

		c.Set(userKey, user)
		return next(c)
	}
}

func currentUser(c echo.Context) *db.User {
	u, _ := c.Get(userKey).(*db.User)
	return u
}
