package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"chattranslator/internal/models"
)

var (
	ErrAllBackendsFailed   = errors.New("all speech engines failed")
	ErrSuperseded          = errors.New("speech superseded by a newer request")
	ErrUnsupportedLanguage = errors.New("language not supported by engine")
)

const DefaultLang = "en-US"

type Request struct {
	Text         string  `json:"text"`
	Lang         string  `json:"lang"`
	ClientVoices []Voice `json:"voices,omitempty"`
}

// Audio is either synthesized bytes or, when ClientPlayback is set, a
// directive for the client to speak the text with Voice.
type Audio struct {
	Data           []byte
	MimeType       string
	Engine         string
	Voice          *Voice
	ClientPlayback bool
}

// Engine is one speech capability.
type Engine interface {
	Name() string
	Synthesize(ctx context.Context, req Request) (*Audio, error)
}

type Status string

const (
	StatusSpoken    Status = "spoken"
	StatusSilent    Status = "silent"
	StatusCancelled Status = "cancelled"
)

// Attempt records one engine try. Err is nil for the engine that spoke.
type Attempt struct {
	Engine string
	Err    error
}

type Outcome struct {
	Status   Status
	Audio    *Audio
	Attempts []Attempt
}

// Err reports why nothing was spoken.
func (o Outcome) Err() error {
	switch o.Status {
	case StatusSilent:
		return ErrAllBackendsFailed
	case StatusCancelled:
		return ErrSuperseded
	}
	return nil
}

type link struct {
	engine    Engine
	languages []string
}

// Chain tries engines in order until one succeeds.
type Chain struct {
	links       []link
	slots       *Slots
	timeout     time.Duration
	defaultLang string
	logger      *slog.Logger
	tracer      trace.Tracer
}

type ChainOption func(*Chain)

func WithTimeout(d time.Duration) ChainOption {
	return func(c *Chain) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithDefaultLang(lang string) ChainOption {
	return func(c *Chain) {
		if lang != "" {
			c.defaultLang = lang
		}
	}
}

func WithLogger(logger *slog.Logger) ChainOption {
	return func(c *Chain) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewChain(opts ...ChainOption) *Chain {
	c := &Chain{
		slots:       NewSlots(),
		timeout:     20 * time.Second,
		defaultLang: DefaultLang,
		logger:      slog.Default(),
		tracer:      otel.Tracer("chattranslator/tts"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "tts")
	return c
}

// Add appends an engine that serves the given languages (all when empty).
func (c *Chain) Add(engine Engine, languages ...string) *Chain {
	c.links = append(c.links, link{engine: engine, languages: languages})
	return c
}

func (c *Chain) Engines() []string {
	names := make([]string, 0, len(c.links))
	for _, l := range c.links {
		names = append(names, l.engine.Name())
	}
	return names
}

// Speak synthesizes req. Engine failures never surface as errors: when every
// engine fails the outcome is silent. A later Speak on the same slot cancels
// this one. Only blank text is an error.
func (c *Chain) Speak(ctx context.Context, slot string, req Request) (Outcome, error) {
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		return Outcome{}, fmt.Errorf("%w: text is required", models.ErrValidation)
	}
	if strings.TrimSpace(req.Lang) == "" {
		req.Lang = c.defaultLang
	}

	ctx, release := c.slots.Acquire(ctx, slot)
	defer release()

	ctx, span := c.tracer.Start(ctx, "tts.speak", trace.WithAttributes(
		attribute.String("tts.lang", req.Lang),
		attribute.Int("tts.engines", len(c.links)),
	))
	defer span.End()

	var attempts []Attempt
	for _, l := range c.links {
		if ctx.Err() != nil {
			return c.cancelled(attempts), nil
		}
		name := l.engine.Name()
		if !supportsLanguage(l.languages, req.Lang) {
			attempts = append(attempts, Attempt{Engine: name, Err: ErrUnsupportedLanguage})
			c.logger.Debug("tts engine skipped", "engine", name, "lang", req.Lang)
			continue
		}

		audio, err := c.attempt(ctx, l.engine, req)
		attempts = append(attempts, Attempt{Engine: name, Err: err})
		if err == nil {
			span.SetAttributes(attribute.String("tts.engine", name))
			return Outcome{Status: StatusSpoken, Audio: audio, Attempts: attempts}, nil
		}
		if ctx.Err() != nil {
			return c.cancelled(attempts), nil
		}
		c.logger.Warn("tts engine failed", "engine", name, "lang", req.Lang, "error", err)
	}

	c.logger.Warn("tts silent", "lang", req.Lang, "attempts", len(attempts))
	span.SetAttributes(attribute.String("tts.status", string(StatusSilent)))
	return Outcome{Status: StatusSilent, Attempts: attempts}, nil
}

func (c *Chain) attempt(ctx context.Context, engine Engine, req Request) (*Audio, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	audio, err := engine.Synthesize(ctx, req)
	if err != nil {
		return nil, err
	}
	if audio == nil {
		return nil, errors.New("engine returned no audio")
	}
	if audio.Engine == "" {
		audio.Engine = engine.Name()
	}
	return audio, nil
}

func (c *Chain) cancelled(attempts []Attempt) Outcome {
	c.logger.Info("tts cancelled", "attempts", len(attempts))
	return Outcome{Status: StatusCancelled, Attempts: attempts}
}

// Cancel interrupts the playback currently holding slot.
func (c *Chain) Cancel(slot string) {
	c.slots.Cancel(slot)
}

// Claim takes slot ahead of a Speak that will run later, for example after
// waiting in a queue. The current holder is cancelled now and the returned
// context ends with ErrSuperseded as its cause once a newer claim arrives.
// Pass the context to Speak with an empty slot and call release when done.
func (c *Chain) Claim(ctx context.Context, slot string) (context.Context, func()) {
	return c.slots.Acquire(ctx, slot)
}

// Active counts slots with a playback in progress.
func (c *Chain) Active() int {
	return c.slots.Active()
}
