package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chatrelay/internal/chat"
	"chatrelay/internal/models"
	"chatrelay/internal/service/transcript"
)

// Handler wires HTTP routes to the conversation orchestrator and the
// transcript store.
type Handler struct {
	chats *chat.Orchestrator
	store transcript.Store
}

// NewHandler constructs a Handler instance.
func NewHandler(chats *chat.Orchestrator, store transcript.Store) *Handler {
	return &Handler{chats: chats, store: store}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/", h.health)
	router.POST("/chat/", h.sendMessage)
	router.POST("/chat/edit/", h.editMessage)
	router.POST("/chat/retry/", h.retryMessage)
	router.POST("/chat/stop/:session_id", h.stopStreaming)
	router.GET("/chat/history/:session_id", h.getSessionMessages)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "running"})
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// streamWriter emits events as newline-delimited JSON, flushed per event.
// Headers are written lazily on the first event so validation failures can
// still produce a plain JSON error response.
type streamWriter struct {
	c       *gin.Context
	flusher http.Flusher
	started bool
}

func newStreamWriter(c *gin.Context) (*streamWriter, error) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming not supported")
	}
	return &streamWriter{c: c, flusher: flusher}, nil
}

func (w *streamWriter) Send(event any) error {
	if !w.started {
		w.c.Writer.Header().Set("Content-Type", "text/event-stream")
		w.c.Writer.Header().Set("Cache-Control", "no-cache")
		w.c.Writer.Header().Set("Connection", "keep-alive")
		w.c.Writer.Header().Set("X-Accel-Buffering", "no")
		w.c.Status(http.StatusOK)
		w.started = true
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w.c.Writer, "%s\n", data); err != nil {
		return err
	}
	w.flusher.Flush()
	return nil
}

func (h *Handler) sendMessage(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	// Expose the (possibly freshly minted) session id before the body
	// streams, so the client can address edit/retry/stop calls.
	c.Header("X-Session-Id", sessionID)

	sink, err := newStreamWriter(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := h.chats.Send(c.Request.Context(), sessionID, req.Message, sink); err != nil {
		h.rejectValidation(c, sink, err)
	}
}

func (h *Handler) editMessage(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Session ID is required for edit"})
		return
	}
	if req.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Edited message is required"})
		return
	}
	sink, err := newStreamWriter(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := h.chats.Edit(c.Request.Context(), req.SessionID, req.Message, sink); err != nil {
		h.rejectValidation(c, sink, err)
	}
}

func (h *Handler) retryMessage(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Session ID is required for retry"})
		return
	}
	sink, err := newStreamWriter(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := h.chats.Retry(c.Request.Context(), req.SessionID, sink); err != nil {
		h.rejectValidation(c, sink, err)
	}
}

func (h *Handler) stopStreaming(c *gin.Context) {
	sessionID := strings.TrimSpace(c.Param("session_id"))
	if h.chats.Stop(sessionID) {
		c.JSON(http.StatusOK, gin.H{
			"success":    true,
			"message":    "Streaming stopped",
			"session_id": sessionID,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    false,
		"message":    "No active streaming session found",
		"session_id": sessionID,
	})
}

func (h *Handler) getSessionMessages(c *gin.Context) {
	sessionID := strings.TrimSpace(c.Param("session_id"))
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}
	messages, err := h.store.ListOrdered(c.Request.Context(), sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if messages == nil {
		messages = make([]*models.Message, 0)
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"messages":   messages,
	})
}

// rejectValidation maps a pre-stream validation error to a JSON 400. When
// the sink already streamed events the response is committed and the error
// can only be logged by the orchestrator.
func (h *Handler) rejectValidation(c *gin.Context, sink *streamWriter, err error) {
	if sink.started {
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
