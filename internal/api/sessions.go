package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"chattranslator/internal/models"
	"chattranslator/internal/service/chat"
)

func (h *Handler) listSessions(c *gin.Context) {
	filter := strings.ToLower(strings.TrimSpace(c.Query("filter")))
	sessions, err := h.chat.ListSessions(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	switch f := models.ListFilter(filter); {
	case filter == "" || filter == "all":
	case f.Valid():
		sessions = chat.Project(sessions, f)
	default:
		badRequest(c, "filter must be active, archived or all")
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (h *Handler) createSession(c *gin.Context) {
	id, cc := h.clientContext(c)
	session, err := h.chat.CreateSessionFor(c.Request.Context(), cc)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.saveContext(c, id, cc)
	c.JSON(http.StatusCreated, session)
}

func (h *Handler) getSession(c *gin.Context) {
	session, err := h.chat.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

type updateSessionRequest struct {
	Title    *string `json:"title"`
	Archived *bool   `json:"archived"`
}

func (h *Handler) updateSession(c *gin.Context) {
	var req updateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if req.Title == nil && req.Archived == nil {
		badRequest(c, "title or archived is required")
		return
	}
	id, cc := h.clientContext(c)
	session, err := h.chat.UpdateSessionFor(c.Request.Context(), cc, c.Param("id"), models.SessionPatch{
		Title:    req.Title,
		Archived: req.Archived,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.saveContext(c, id, cc)
	c.JSON(http.StatusOK, session)
}

func (h *Handler) deleteSession(c *gin.Context) {
	id, cc := h.clientContext(c)
	if err := h.chat.DeleteSessionFor(c.Request.Context(), cc, c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	h.saveContext(c, id, cc)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) listMessages(c *gin.Context) {
	messages, err := h.chat.ListMessages(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

type appendMessageRequest struct {
	Role string `json:"role"`
	Text string `json:"text" binding:"required"`
}

func (h *Handler) appendMessage(c *gin.Context) {
	var req appendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "text is required")
		return
	}
	role := models.Role(strings.ToLower(strings.TrimSpace(req.Role)))
	if role == "" {
		role = models.RoleUser
	}
	msg, err := h.chat.AppendMessage(c.Request.Context(), c.Param("id"), role, req.Text)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (h *Handler) getContext(c *gin.Context) {
	_, cc := h.clientContext(c)
	view, err := h.chat.View(c.Request.Context(), cc)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type putContextRequest struct {
	Filter           *string `json:"filter"`
	CurrentSessionID *string `json:"current_session_id"`
}

func (h *Handler) putContext(c *gin.Context) {
	var req putContextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	ctx := c.Request.Context()
	id, cc := h.clientContext(c)
	if req.CurrentSessionID != nil {
		if _, err := h.chat.SelectSession(ctx, cc, strings.TrimSpace(*req.CurrentSessionID)); err != nil {
			h.writeError(c, err)
			return
		}
	}
	if req.Filter != nil {
		filter := models.ListFilter(strings.ToLower(strings.TrimSpace(*req.Filter)))
		if err := h.chat.SetFilter(ctx, cc, filter); err != nil {
			h.writeError(c, err)
			return
		}
	}
	h.saveContext(c, id, cc)
	view, err := h.chat.View(ctx, cc)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type chatRequest struct {
	Text   string `json:"text" binding:"required"`
	Source string `json:"source" binding:"required"`
	Target string `json:"target" binding:"required"`
}

// chatTurn records a user message in the current session, creating one if
// needed, translates it and records the reply or the failure.
func (h *Handler) chatTurn(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "text, source and target are required")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		badRequest(c, "text is required")
		return
	}
	if !h.translator.Supports(req.Source, req.Target) {
		badRequest(c, "unsupported language pair")
		return
	}

	ctx := c.Request.Context()
	id, cc := h.clientContext(c)
	session, err := h.chat.EnsureSession(ctx, cc)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.saveContext(c, id, cc)

	userMsg, err := h.chat.AppendMessage(ctx, session.ID, models.RoleUser, req.Text)
	if err != nil {
		h.writeError(c, err)
		return
	}

	var result models.TranslationResult
	routeErr := h.submit(c, func(ctx context.Context) error {
		var err error
		result, err = h.translator.Route(ctx, req.Text, req.Source, req.Target)
		return err
	})

	replyRole, replyText := models.RoleError, ""
	if routeErr != nil {
		replyText = "Translation failed: " + routeErr.Error()
	} else {
		replyRole, replyText = models.RoleAssistant, result.TranslatedText
	}
	reply, err := h.chat.AppendMessage(ctx, session.ID, replyRole, replyText)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if refreshed, err := h.chat.GetSession(ctx, session.ID); err == nil {
		session = refreshed
	}

	body := gin.H{"session": session, "user_message": userMsg, "reply": reply}
	if routeErr != nil {
		body["error"] = routeErr.Error()
		c.JSON(statusFor(routeErr), body)
		return
	}
	body["translation"] = result
	c.JSON(http.StatusOK, body)
}
