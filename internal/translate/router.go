package translate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"chattranslator/internal/config"
	"chattranslator/internal/models"
)

var (
	ErrUnsupportedPair = errors.New("unsupported language pair")
	ErrBackendFailure  = errors.New("translation backend failed")
)

// Backend translates text between two base language codes.
type Backend interface {
	Translate(ctx context.Context, text, source, target string) (string, error)
}

type route struct {
	kind    models.BackendKind
	backend string
}

// Router picks a backend for each language pair, bounds the call with a
// timeout and scores the result.
type Router struct {
	languages  map[string]bool
	ordered    []string
	privileged map[pair]string
	general    string
	backends   map[string]Backend
	scoring    Scoring
	timeout    time.Duration
	cache      *Cache
	logger     *slog.Logger

	tracer   trace.Tracer
	latency  metric.Float64Histogram
	outcomes metric.Int64Counter
}

// NewRouter validates the routing table against the available backends.
func NewRouter(cfg config.TranslationConfig, backends map[string]Backend, cache *Cache, logger *slog.Logger) (*Router, error) {
	if logger == nil {
		logger = slog.Default()
	}
	scoring, err := NewScoring(cfg.Scoring, cfg.HighResourcePairs)
	if err != nil {
		return nil, fmt.Errorf("scoring: %w", err)
	}
	r := &Router{
		languages:  make(map[string]bool, len(cfg.Languages)),
		privileged: make(map[pair]string),
		general:    cfg.GeneralBackend,
		backends:   backends,
		scoring:    scoring,
		timeout:    cfg.Timeout(),
		cache:      cache,
		logger:     logger.With("component", "translate"),
		tracer:     otel.Tracer("chattranslator/translate"),
	}
	if _, ok := backends[r.general]; !ok {
		return nil, fmt.Errorf("general backend %q not configured", r.general)
	}
	for _, raw := range cfg.Languages {
		code, err := NormalizeLanguage(raw)
		if err != nil {
			return nil, fmt.Errorf("language %q: %w", raw, err)
		}
		if !r.languages[code] {
			r.languages[code] = true
			r.ordered = append(r.ordered, code)
		}
	}
	for _, p := range cfg.Privileged {
		if _, ok := backends[p.Backend]; !ok {
			return nil, fmt.Errorf("privileged backend %q not configured", p.Backend)
		}
		pp, err := parsePair(p.Source + "-" + p.Target)
		if err != nil {
			return nil, err
		}
		r.privileged[pp] = p.Backend
		if p.Bidirectional {
			r.privileged[pair{source: pp.target, target: pp.source}] = p.Backend
		}
	}

	meter := otel.Meter("chattranslator/translate")
	if r.latency, err = meter.Float64Histogram("translation.duration",
		metric.WithDescription("Translation backend call duration in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, fmt.Errorf("create histogram: %w", err)
	}
	if r.outcomes, err = meter.Int64Counter("translation.requests",
		metric.WithDescription("Translation requests by backend and outcome"),
	); err != nil {
		return nil, fmt.Errorf("create counter: %w", err)
	}
	return r, nil
}

// Route translates text, choosing the dedicated backend for privileged pairs
// and the general backend otherwise. Validation happens before any backend is
// contacted; a failed or timed-out call is reported as ErrBackendFailure and
// is not retried on another backend.
func (r *Router) Route(ctx context.Context, text, sourceLang, targetLang string) (models.TranslationResult, error) {
	if strings.TrimSpace(text) == "" {
		return models.TranslationResult{}, fmt.Errorf("%w: text is required", models.ErrValidation)
	}
	source, err := NormalizeLanguage(sourceLang)
	if err != nil {
		return models.TranslationResult{}, err
	}
	target, err := NormalizeLanguage(targetLang)
	if err != nil {
		return models.TranslationResult{}, err
	}
	rt, err := r.selectRoute(pair{source: source, target: target})
	if err != nil {
		return models.TranslationResult{}, err
	}

	key := CacheKey(rt.backend, source, target, text)
	if cached, ok := r.cache.Get(ctx, key); ok {
		return cached, nil
	}

	translated, err := r.call(ctx, rt, text, source, target)
	if err != nil {
		return models.TranslationResult{}, err
	}
	result := models.TranslationResult{
		TranslatedText: translated,
		BackendKind:    rt.kind,
		Backend:        rt.backend,
		Confidence:     r.scoring.Confidence(rt.kind, text, source, target),
	}
	r.cache.Put(ctx, key, result)
	return result, nil
}

// Languages lists the general language set in configuration order.
func (r *Router) Languages() []string {
	out := make([]string, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Supports reports whether a pair would be routed.
func (r *Router) Supports(sourceLang, targetLang string) bool {
	source, err := NormalizeLanguage(sourceLang)
	if err != nil {
		return false
	}
	target, err := NormalizeLanguage(targetLang)
	if err != nil {
		return false
	}
	_, err = r.selectRoute(pair{source: source, target: target})
	return err == nil
}

// PrivilegedPairs lists the pairs served by a dedicated backend.
func (r *Router) PrivilegedPairs() []string {
	out := make([]string, 0, len(r.privileged))
	for p := range r.privileged {
		out = append(out, p.String())
	}
	sort.Strings(out)
	return out
}

func (r *Router) selectRoute(p pair) (route, error) {
	if name, ok := r.privileged[p]; ok {
		return route{kind: models.BackendSpecialized, backend: name}, nil
	}
	if r.languages[p.source] && r.languages[p.target] {
		return route{kind: models.BackendGeneral, backend: r.general}, nil
	}
	return route{}, fmt.Errorf("%w: %s", ErrUnsupportedPair, p)
}

func (r *Router) call(ctx context.Context, rt route, text, source, target string) (string, error) {
	ctx, span := r.tracer.Start(ctx, "translate.backend_call", trace.WithAttributes(
		attribute.String("backend", rt.backend),
		attribute.String("backend.kind", string(rt.kind)),
		attribute.String("language.pair", source+"-"+target),
	))
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	translated, err := r.backends[rt.backend].Translate(callCtx, text, source, target)
	if err == nil && strings.TrimSpace(translated) == "" {
		err = errors.New("empty translation")
	}
	elapsed := time.Since(start)

	outcome := "ok"
	if err != nil {
		outcome = "error"
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			outcome = "timeout"
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	attrs := metric.WithAttributes(
		attribute.String("backend", rt.backend),
		attribute.String("outcome", outcome),
	)
	r.latency.Record(ctx, float64(elapsed.Milliseconds()), attrs)
	r.outcomes.Add(ctx, 1, attrs)

	if err != nil {
		r.logger.Warn("translation failed",
			"backend", rt.backend, "source", source, "target", target,
			"outcome", outcome, "elapsed", elapsed, "error", err)
		return "", fmt.Errorf("%w: %s: %w", ErrBackendFailure, rt.backend, err)
	}
	r.logger.Debug("translation done", "backend", rt.backend, "source", source, "target", target, "elapsed", elapsed)
	return strings.TrimSpace(translated), nil
}
