package api

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"tasktogether-api/domain"
	"tasktogether-api/engine"
	"tasktogether-api/taskdb"
)

const requestBodyMaxSize = 1 << 20

// Register wires up all API routes on the provided Echo instance. auth may be
// nil, in which case mutating routes are open; deduper may be nil to disable
// Idempotency-Key handling.
func Register(e *echo.Echo, tasks TaskRepository, eng Engine, chat Listener, auth Authenticator, deduper Deduper, logger *log.Logger) {
	e.GET("/api/health", health())
	e.GET("/api/groups/:id/tasks", listTasks(tasks, logger))
	e.POST("/api/groups/:id/tasks", createTask(tasks, auth, deduper))
	e.POST("/api/groups/:id/chat", postChat(eng, auth))
	e.GET("/api/groups/:id/chat/stream", streamChat(eng, chat))
}

type healthResponse struct {
	OK bool  `json:"ok"`
	Ts int64 `json:"ts"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type createTaskRequest struct {
	Name        string `json:"name"`
	ProjectID   string `json:"projectId"`
	Description string `json:"description"`
	AssigneeID  string `json:"assigneeId"`
	Status      string `json:"status"`
	DueDate     string `json:"dueDate"`
}

type createTaskResponse struct {
	ID string `json:"id"`
}

type postChatRequest struct {
	UserID string `json:"userId"`
	Text   string `json:"text"`
}

func health() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, healthResponse{OK: true, Ts: time.Now().Unix()})
	}
}

func listTasks(tasks TaskRepository, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics := newListRequestMetrics(logger)
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		fetchStart := time.Now()
		rows, fetchErr := tasks.ListByGroup(c.Request().Context(), c.Param("id"))
		metrics.ObserveFetch(time.Since(fetchStart))
		if fetchErr != nil {
			metrics.SetErrorStage("storage")
			c.Logger().Error(fetchErr)
			err = c.String(http.StatusInternalServerError, fetchErr.Error())
			return err
		}
		metrics.SetRowsReturned(len(rows))

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, rows)
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func createTask(tasks TaskRepository, auth Authenticator, deduper Deduper) echo.HandlerFunc {
	return func(c echo.Context) error {
		if auth != nil {
			if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization)); err != nil {
				return c.String(http.StatusUnauthorized, err.Error())
			}
		}

		ctx := c.Request().Context()
		dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, requestBodyMaxSize))
		var req createTaskRequest
		if err := dec.Decode(&req); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}
		if strings.TrimSpace(req.Name) == "" {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "name is required"})
		}

		row := taskdb.TaskRow{
			GroupID:     c.Param("id"),
			ProjectID:   req.ProjectID,
			Name:        req.Name,
			Description: req.Description,
			AssigneeID:  req.AssigneeID,
			Status:      req.Status,
			DueDate:     req.DueDate,
		}

		idemKey := c.Request().Header.Get("Idempotency-Key")
		if idemKey != "" && deduper != nil {
			row.ID = uuid.NewString()
			id, fresh, err := deduper.Claim(ctx, idemKey, row.ID)
			if err != nil {
				c.Logger().Error(err)
				return c.String(http.StatusInternalServerError, "idempotency check failed")
			}
			if !fresh {
				return c.JSON(http.StatusOK, createTaskResponse{ID: id})
			}
			if _, err := tasks.Create(ctx, row); err != nil {
				if derr := deduper.Release(ctx, idemKey); derr != nil {
					c.Logger().Error(derr)
				}
				c.Logger().Error(err)
				return c.String(http.StatusInternalServerError, err.Error())
			}
			return c.JSON(http.StatusCreated, createTaskResponse{ID: row.ID})
		}

		id, err := tasks.Create(ctx, row)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusCreated, createTaskResponse{ID: id})
	}
}

func postChat(eng Engine, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if auth != nil {
			if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization)); err != nil {
				return c.String(http.StatusUnauthorized, err.Error())
			}
		}

		dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, requestBodyMaxSize))
		var req postChatRequest
		if err := dec.Decode(&req); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}
		if req.UserID == "" || strings.TrimSpace(req.Text) == "" {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "userId and text are required"})
		}

		msg, err := eng.PostChatMessage(c.Request().Context(), c.Param("id"), req.UserID, req.Text)
		if errors.Is(err, engine.ErrNotFound) {
			return c.JSON(http.StatusNotFound, errorResponse{Error: "group not found"})
		}
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusCreated, msg)
	}
}

// streamChat serves the group's chat list over SSE. The broadcast payload is
// treated as a refresh signal only; on every signal the document is re-read
// and the whole chat list re-sent.
func streamChat(eng Engine, chat Listener) echo.HandlerFunc {
	return func(c echo.Context) error {
		groupID := c.Param("id")
		ctx := c.Request().Context()

		if _, ok := eng.Snapshot(ctx).Groups[groupID]; !ok {
			return c.JSON(http.StatusNotFound, errorResponse{Error: "group not found"})
		}

		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}

		signal := make(chan struct{}, 1)
		cancel, err := chat.Listen(ctx, groupID, func(domain.ChatMessage) {
			select {
			case signal <- struct{}{}:
			default:
			}
		})
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "subscribe failed")
		}
		defer cancel()

		writeChat := func() error {
			doc := eng.Snapshot(ctx)
			g, ok := doc.Groups[groupID]
			if !ok {
				return errors.New("group deleted")
			}
			data, err := sonic.Marshal(g.Chat)
			if err != nil {
				return err
			}
			if _, err := c.Response().Write([]byte("data: ")); err != nil {
				return err
			}
			if _, err := c.Response().Write(data); err != nil {
				return err
			}
			if _, err := c.Response().Write([]byte("\n\n")); err != nil {
				return err
			}
			flusher.Flush()
			return nil
		}

		if err := writeChat(); err != nil {
			return nil
		}
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-signal:
				if err := writeChat(); err != nil {
					return nil
				}
			}
		}
	}
}
