package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"chattranslator/internal/client"
	"chattranslator/internal/document"
	"chattranslator/internal/models"
	"chattranslator/internal/ocr"
	"chattranslator/internal/service/chat"
	"chattranslator/internal/translate"
	"chattranslator/internal/tts"
	"chattranslator/internal/uploads"
	"chattranslator/internal/worker"
)

// Translator is the translation capability the handlers depend on.
type Translator interface {
	Route(ctx context.Context, text, sourceLang, targetLang string) (models.TranslationResult, error)
	Languages() []string
	PrivilegedPairs() []string
	Supports(sourceLang, targetLang string) bool
}

// ImageProcessor runs OCR and optional translation over an image.
type ImageProcessor interface {
	Process(ctx context.Context, img []byte, targetLang string) (*ocr.Result, error)
}

// Speaker runs the speech fallback chain.
type Speaker interface {
	Speak(ctx context.Context, slot string, req tts.Request) (tts.Outcome, error)
	Claim(ctx context.Context, slot string) (context.Context, func())
	Cancel(slot string)
	Active() int
}

// Dispatcher runs backend-bound work on the shared worker pool.
type Dispatcher interface {
	Submit(ctx context.Context, key string, fn func(context.Context) error) error
	CancelKey(key string)
	Stats() worker.Stats
}

// Deps collects the collaborators of Handler.
type Deps struct {
	Chat           *chat.Service
	Clients        *client.Registry
	Translator     Translator
	OCR            ImageProcessor
	Speech         Speaker
	Documents      *document.Reader
	Uploads        *uploads.Store
	Dispatcher     Dispatcher
	MaxUploadBytes int64
	ChunkRunes     int
	FileRateLimit  int
	Logger         *slog.Logger
}

// Handler wires HTTP routes to the chat, translation, OCR and speech services.
type Handler struct {
	chat       *chat.Service
	clients    *client.Registry
	translator Translator
	ocr        ImageProcessor
	speech     Speaker
	documents  *document.Reader
	uploads    *uploads.Store
	dispatcher Dispatcher
	maxUpload  int64
	chunkRunes int
	fileLimit  *rateLimiter
	logger     *slog.Logger
}

const (
	defaultMaxUploadBytes = 5 << 20
	fileRateWindow        = time.Minute
)

// NewHandler constructs a Handler instance.
func NewHandler(deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxUpload := deps.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}
	var limiter *rateLimiter
	if deps.FileRateLimit > 0 {
		limiter = newRateLimiter(deps.FileRateLimit, fileRateWindow)
	}
	return &Handler{
		chat:       deps.Chat,
		clients:    deps.Clients,
		translator: deps.Translator,
		ocr:        deps.OCR,
		speech:     deps.Speech,
		documents:  deps.Documents,
		uploads:    deps.Uploads,
		dispatcher: deps.Dispatcher,
		maxUpload:  maxUpload,
		chunkRunes: deps.ChunkRunes,
		fileLimit:  limiter,
		logger:     logger.With("component", "api"),
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", h.health)

	clientMW := client.Middleware()
	router.POST("/translate", clientMW, h.translateText)
	router.POST("/translate_file", clientMW, h.translateFile)
	router.POST("/ocr", clientMW, h.ocrImage)
	router.POST("/tts", clientMW, h.speak)
	router.DELETE("/tts", clientMW, h.cancelSpeech)

	api := router.Group("/api")
	api.Use(clientMW)
	api.GET("/languages", h.languages)
	api.GET("/context", h.getContext)
	api.PUT("/context", h.putContext)
	api.POST("/chat", h.chatTurn)
	api.GET("/sessions", h.listSessions)
	api.POST("/sessions", h.createSession)
	api.GET("/sessions/:id", h.getSession)
	api.PATCH("/sessions/:id", h.updateSession)
	api.DELETE("/sessions/:id", h.deleteSession)
	api.GET("/sessions/:id/messages", h.listMessages)
	api.POST("/sessions/:id/messages", h.appendMessage)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"workers":       h.dispatcher.Stats(),
		"speech_active": h.speech.Active(),
	})
}

func (h *Handler) languages(c *gin.Context) {
	codes := h.translator.Languages()
	out := make([]gin.H, 0, len(codes))
	for _, code := range codes {
		out = append(out, gin.H{"code": code, "name": translate.LanguageName(code)})
	}
	c.JSON(http.StatusOK, gin.H{
		"languages":        out,
		"privileged_pairs": h.translator.PrivilegedPairs(),
	})
}

// clientContext resolves the caller's session context.
func (h *Handler) clientContext(c *gin.Context) (string, *chat.ClientContext) {
	id, _ := client.IDFromContext(c)
	return id, h.clients.Context(c.Request.Context(), id)
}

func (h *Handler) saveContext(c *gin.Context, id string, cc *chat.ClientContext) {
	h.clients.Save(c.Request.Context(), id, cc)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation),
		errors.Is(err, translate.ErrUnsupportedPair):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, uploads.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, worker.ErrDispatcherBusy):
		return http.StatusTooManyRequests
	case errors.Is(err, translate.ErrBackendFailure),
		errors.Is(err, ocr.ErrExtractionFailed):
		return http.StatusBadGateway
	case errors.Is(err, models.ErrStoreUnavailable),
		errors.Is(err, worker.ErrDispatcherClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return 499
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	switch status {
	case http.StatusTooManyRequests:
		msg = "server is busy, please retry"
	case http.StatusServiceUnavailable:
		msg = "storage unavailable, please retry"
	case http.StatusInternalServerError:
		msg = "internal error"
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", c.FullPath(), "status", status, "error", err)
	}
	c.JSON(status, gin.H{"error": msg})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

// submit runs fn on the worker pool under the client's key. Backend calls
// keep running after the client goes away; they are bounded by their own
// timeouts.
func (h *Handler) submit(c *gin.Context, fn func(context.Context) error) error {
	id, _ := client.IDFromContext(c)
	return h.dispatcher.Submit(c.Request.Context(), id, func(ctx context.Context) error {
		return fn(context.WithoutCancel(ctx))
	})
}
