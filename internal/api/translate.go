package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"chattranslator/internal/client"
	"chattranslator/internal/document"
	"chattranslator/internal/models"
	"chattranslator/internal/ocr"
	"chattranslator/internal/tts"
	"chattranslator/internal/uploads"
)

var (
	allowedFileExts  = extSet(".txt", ".md", ".csv", ".srt", ".vtt", ".json", ".xml", ".html")
	allowedImageExts = extSet(".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp")
)

func extSet(exts ...string) map[string]bool {
	set := make(map[string]bool, len(exts))
	for _, e := range exts {
		set[e] = true
	}
	return set
}

type translateRequest struct {
	Text   string `json:"text"`
	Source string `json:"source"`
	Target string `json:"target"`
}

func (h *Handler) translateText(c *gin.Context) {
	var req translateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	var result models.TranslationResult
	err := h.submit(c, func(ctx context.Context) error {
		var err error
		result, err = h.translator.Route(ctx, req.Text, req.Source, req.Target)
		return err
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"translation":  result.TranslatedText,
		"confidence":   result.Confidence,
		"backend":      result.Backend,
		"backend_kind": result.BackendKind,
	})
}

// parseUpload reads a bounded multipart form and returns the named file. The
// returned cleanup removes multipart spill files and must always be called.
func (h *Handler) parseUpload(c *gin.Context, field string, allowed map[string]bool) (*multipart.FileHeader, func(), error) {
	noop := func() {}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload+1<<20)
	if err := c.Request.ParseMultipartForm(h.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, noop, fmt.Errorf("%w: limit is %d MB", uploads.ErrTooLarge, h.maxUpload>>20)
		}
		return nil, noop, fmt.Errorf("%w: invalid multipart form", models.ErrValidation)
	}
	cleanup := func() {
		if c.Request.MultipartForm != nil {
			_ = c.Request.MultipartForm.RemoveAll()
		}
	}
	file, err := c.FormFile(field)
	if err != nil || file.Filename == "" {
		return nil, cleanup, fmt.Errorf("%w: no %s uploaded", models.ErrValidation, field)
	}
	if file.Size > h.maxUpload {
		return nil, cleanup, fmt.Errorf("%w: limit is %d MB", uploads.ErrTooLarge, h.maxUpload>>20)
	}
	ext := strings.ToLower(filepath.Ext(file.Filename))
	if !allowed[ext] {
		return nil, cleanup, fmt.Errorf("%w: unsupported file type %q", models.ErrValidation, ext)
	}
	return file, cleanup, nil
}

func (h *Handler) translateFile(c *gin.Context) {
	clientID, _ := client.IDFromContext(c)
	if !h.fileLimit.Allow(clientID) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "file translation rate limit exceeded, please retry in a minute"})
		return
	}
	file, cleanup, err := h.parseUpload(c, "file", allowedFileExts)
	defer cleanup()
	if err != nil {
		h.writeError(c, err)
		return
	}
	source := strings.TrimSpace(c.PostForm("source"))
	target := strings.TrimSpace(c.PostForm("target"))
	if !h.translator.Supports(source, target) {
		badRequest(c, "unsupported language pair")
		return
	}

	src, err := file.Open()
	if err != nil {
		badRequest(c, "open file failed")
		return
	}
	path, err := h.uploads.Save(src, filepath.Ext(file.Filename))
	src.Close()
	if err != nil {
		h.writeError(c, err)
		return
	}
	defer h.uploads.Remove(path)

	mtype, err := mimetype.DetectFile(path)
	if err != nil || !isText(mtype) {
		badRequest(c, "file content is not text")
		return
	}
	text, err := h.documents.Read(c.Request.Context(), path)
	if err != nil {
		if errors.Is(err, document.ErrNoText) {
			badRequest(c, err.Error())
			return
		}
		h.writeError(c, err)
		return
	}

	chunks := document.Chunk(text, h.chunkRunes)
	translated := make([]string, 0, len(chunks))
	confidence := 100
	var backend string
	err = h.submit(c, func(ctx context.Context) error {
		for _, chunk := range chunks {
			res, err := h.translator.Route(ctx, chunk, source, target)
			if err != nil {
				return err
			}
			translated = append(translated, res.TranslatedText)
			confidence = min(confidence, res.Confidence)
			backend = res.Backend
		}
		return nil
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.logger.Info("file translated", "file", file.Filename, "mime", mtype.String(), "chunks", len(chunks))
	c.JSON(http.StatusOK, gin.H{
		"filename":   filepath.Base(file.Filename),
		"translated": strings.Join(translated, "\n\n"),
		"confidence": confidence,
		"backend":    backend,
		"chunks":     len(chunks),
	})
}

func isText(m *mimetype.MIME) bool {
	for ; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

func (h *Handler) ocrImage(c *gin.Context) {
	file, cleanup, err := h.parseUpload(c, "image", allowedImageExts)
	defer cleanup()
	if err != nil {
		h.writeError(c, err)
		return
	}
	src, err := file.Open()
	if err != nil {
		badRequest(c, "open image failed")
		return
	}
	img, err := io.ReadAll(io.LimitReader(src, h.maxUpload+1))
	src.Close()
	if err != nil {
		badRequest(c, "read image failed")
		return
	}
	if mtype := mimetype.Detect(img); !strings.HasPrefix(mtype.String(), "image/") {
		badRequest(c, "uploaded file is not an image")
		return
	}

	target := strings.TrimSpace(c.PostForm("target"))
	var result *ocr.Result
	err = h.submit(c, func(ctx context.Context) error {
		var err error
		result, err = h.ocr.Process(ctx, img, target)
		return err
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.logger.Info("ocr done", "image", file.Filename, "bytes", len(img), "extracted", len(result.ExtractedText))
	c.JSON(http.StatusOK, result)
}

type speakRequest struct {
	Text   string      `json:"text"`
	Lang   string      `json:"lang"`
	Voices []tts.Voice `json:"voices"`
}

func (h *Handler) speak(c *gin.Context) {
	var req speakRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		badRequest(c, "text is required")
		return
	}
	clientID, _ := client.IDFromContext(c)
	// claimed before queueing so a busy pool cannot delay the supersede
	slotCtx, release := h.speech.Claim(c.Request.Context(), clientID)
	defer release()

	var outcome tts.Outcome
	err := h.dispatcher.Submit(slotCtx, ttsKey(clientID), func(ctx context.Context) error {
		var err error
		outcome, err = h.speech.Speak(ctx, "", tts.Request{Text: req.Text, Lang: req.Lang, ClientVoices: req.Voices})
		return err
	})
	if err != nil {
		if errors.Is(context.Cause(slotCtx), tts.ErrSuperseded) {
			c.JSON(http.StatusConflict, gin.H{"error": tts.ErrSuperseded.Error()})
			return
		}
		h.writeError(c, err)
		return
	}

	switch outcome.Status {
	case tts.StatusSilent:
		c.Status(http.StatusNoContent)
	case tts.StatusCancelled:
		c.JSON(http.StatusConflict, gin.H{"error": outcome.Err().Error()})
	default:
		audio := outcome.Audio
		c.Header("X-TTS-Engine", audio.Engine)
		if audio.ClientPlayback {
			c.JSON(http.StatusOK, gin.H{
				"client_playback": true,
				"engine":          audio.Engine,
				"voice":           audio.Voice,
				"text":            strings.TrimSpace(req.Text),
				"lang":            req.Lang,
			})
			return
		}
		c.Data(http.StatusOK, audio.MimeType, audio.Data)
	}
}

func (h *Handler) cancelSpeech(c *gin.Context) {
	clientID, _ := client.IDFromContext(c)
	h.speech.Cancel(clientID)
	h.dispatcher.CancelKey(ttsKey(clientID))
	c.Status(http.StatusNoContent)
}

func ttsKey(clientID string) string {
	return "tts:" + clientID
}
