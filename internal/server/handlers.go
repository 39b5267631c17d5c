package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/syncpad/syncpad/internal/db"
	"github.com/syncpad/syncpad/internal/events"
	"github.com/syncpad/syncpad/internal/schema"
)

type createTodoRequest struct {
	Title       string     `json:"title"`
	DueDate     *time.Time `json:"dueDate"`
	Urgency     float64    `json:"urgency"`
	Completed   bool       `json:"completed"`
	WorkspaceID string     `json:"workspaceId"`
}

type updateTodoRequest struct {
	ID        string     `json:"id"`
	Completed *bool      `json:"completed"`
	DueDate   *time.Time `json:"dueDate"`
}

type idRequest struct {
	ID string `json:"id"`
}

func (s *Server) listTodos(c echo.Context) error {
	user := currentUser(c)
	tasks, err := s.db.ListTasks(c.Request().Context(), user.ID)
	if err != nil {
		s.logger.Printf("Failed to list tasks for %s: %v", user.ID, err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list todos")
	}
	if tasks == nil {
		tasks = []*schema.Task{}
	}
	return c.JSON(http.StatusOK, tasks)
}

func (s *Server) createTodo(c echo.Context) error {
	user := currentUser(c)

	var req createTodoRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	now := time.Now()
	task := &schema.Task{
		ID:          uuid.New().String(),
		Title:       req.Title,
		DueDate:     req.DueDate,
		Urgency:     req.Urgency,
		Completed:   req.Completed,
		WorkspaceID: req.WorkspaceID,
		UserID:      user.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
		Comments:    []schema.Comment{},
	}
	task.SetDefaults()
	task.UserID = user.ID

	if err := task.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.db.CreateTask(c.Request().Context(), task); err != nil {
		s.logger.Printf("Failed to create task: %v", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create todo")
	}

	s.hub.Publish(events.TypeTaskUpdate, events.TaskUpdate{
		TaskID: task.ID,
		Action: "created",
		Title:  task.Title,
	})
	return c.JSON(http.StatusOK, task)
}

func (s *Server) updateTodo(c echo.Context) error {
	user := currentUser(c)

	var req updateTodoRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.ID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "id is required")
	}

	task, err := s.db.UpdateTask(c.Request().Context(), user.ID, req.ID, db.TaskPatch{
		Completed: req.Completed,
		DueDate:   req.DueDate,
	})
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "todo not found")
		}
		s.logger.Printf("Failed to update task %s: %v", req.ID, err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to update todo")
	}

	s.hub.Publish(events.TypeTaskUpdate, events.TaskUpdate{
		TaskID:    task.ID,
		Action:    "updated",
		Title:     task.Title,
		Completed: task.Completed,
	})
	return c.JSON(http.StatusOK, task)
}

func (s *Server) deleteTodo(c echo.Context) error {
	user := currentUser(c)

	var req idRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.ID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "id is required")
	}

	if err := s.db.DeleteTask(c.Request().Context(), user.ID, req.ID); err != nil {
		s.logger.Printf("Failed to delete task %s: %v", req.ID, err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to delete todo")
	}

	s.hub.Publish(events.TypeTaskUpdate, events.TaskUpdate{TaskID: req.ID, Action: "deleted"})
	return c.JSON(http.StatusOK, map[string]string{"status": "deleted"})
}

type createCommentRequest struct {
	TodoID string `json:"todoId"`
	Text   string `json:"text"`
}

type deleteCommentRequest struct {
	TodoID    string `json:"todoId"`
	CommentID string `json:"commentId"`
}

func (s *Server) createComment(c echo.Context) error {
	user := currentUser(c)

	var req createCommentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	// The task must belong to the caller before a comment can attach to it.
	if _, err := s.db.GetTask(c.Request().Context(), user.ID, req.TodoID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "todo not found")
		}
		s.logger.Printf("Failed to look up task %s: %v", req.TodoID, err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create comment")
	}

	comment := &schema.Comment{
		ID:        uuid.New().String(),
		TodoID:    req.TodoID,
		UserID:    user.ID,
		Text:      req.Text,
		CreatedAt: time.Now(),
		Author:    &schema.Author{Name: user.Name, Image: user.Image},
	}
	if err := comment.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.db.CreateComment(c.Request().Context(), comment); err != nil {
		s.logger.Printf("Failed to create comment: %v", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create comment")
	}
	return c.JSON(http.StatusOK, comment)
}

func (s *Server) deleteComment(c echo.Context) error {
	user := currentUser(c)

	var req deleteCommentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.TodoID == "" || req.CommentID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "todoId and commentId are required")
	}

	if err := s.db.DeleteComment(c.Request().Context(), user.ID, req.TodoID, req.CommentID); err != nil {
		s.logger.Printf("Failed to delete comment %s: %v", req.CommentID, err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to delete comment")
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "deleted"})
}

type createWorkspaceRequest struct {
	Name string `json:"name"`
}

func (s *Server) listWorkspaces(c echo.Context) error {
	user := currentUser(c)
	ctx := c.Request().Context()

	// Every authenticated user always has the default workspace.
	if _, err := s.db.EnsureDefaultWorkspace(ctx, user.ID, uuid.New().String()); err != nil {
		s.logger.Printf("Failed to ensure default workspace: %v", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list workspaces")
	}

	workspaces, err := s.db.ListWorkspaces(ctx, user.ID)
	if err != nil {
		s.logger.Printf("Failed to list workspaces for %s: %v", user.ID, err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list workspaces")
	}
	if workspaces == nil {
		workspaces = []*schema.Workspace{}
	}
	return c.JSON(http.StatusOK, workspaces)
}

func (s *Server) createWorkspace(c echo.Context) error {
	user := currentUser(c)

	var req createWorkspaceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	now := time.Now()
	ws := &schema.Workspace{
		ID:        uuid.New().String(),
		Name:      req.Name,
		UserID:    user.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := ws.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.db.CreateWorkspace(c.Request().Context(), ws); err != nil {
		s.logger.Printf("Failed to create workspace: %v", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create workspace")
	}

	s.hub.Publish(events.TypeWorkspaceUpdate, events.WorkspaceUpdate{
		WorkspaceID: ws.ID,
		Action:      "created",
		Name:        ws.Name,
	})
	return c.JSON(http.StatusOK, ws)
}

func (s *Server) deleteWorkspace(c echo.Context) error {
	user := currentUser(c)
	ctx := c.Request().Context()

	var req idRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.ID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "id is required")
	}

	// A workspace with incomplete tasks is refused so work is never silently
	// orphaned.
	count, err := s.db.IncompleteTaskCount(ctx, user.ID, req.ID)
	if err != nil {
		s.logger.Printf("Failed to count tasks in workspace %s: %v", req.ID, err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to delete workspace")
	}
	if count > 0 {
		return echo.NewHTTPError(http.StatusConflict, "workspace has incomplete todos")
	}

	if err := s.db.DeleteWorkspace(ctx, user.ID, req.ID); err != nil {
		s.logger.Printf("Failed to delete workspace %s: %v", req.ID, err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to delete workspace")
	}

	s.hub.Publish(events.TypeWorkspaceUpdate, events.WorkspaceUpdate{
		WorkspaceID: req.ID,
		Action:      "deleted",
	})
	return c.JSON(http.StatusOK, map[string]string{"status": "deleted"})
}

type parseRequest struct {
	Text string `json:"text"`
}

func (s *Server) parseTodo(c echo.Context) error {
	if s.parser == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "parsing is not configured")
	}

	var req parseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text is required")
	}

	res, err := s.parser.Parse(c.Request().Context(), req.Text, time.Now())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, res)
}
