package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"chattranslator/internal/client"
	"chattranslator/internal/config"
	"chattranslator/internal/document"
	"chattranslator/internal/models"
	"chattranslator/internal/ocr"
	"chattranslator/internal/service/chat"
	"chattranslator/internal/storage"
	"chattranslator/internal/translate"
	"chattranslator/internal/tts"
	"chattranslator/internal/uploads"
	"chattranslator/internal/worker"
)

const testClient = "client-test-0001"

func TestSessionLifecycle(t *testing.T) {
	router, _, _ := newTestServer(t, 0)

	createResp := doJSONRequest(t, router, http.MethodPost, "/api/sessions", nil, clientHeader(testClient))
	assertStatus(t, createResp, http.StatusCreated)
	var first models.Session
	decodeJSON(t, createResp.Body.Bytes(), &first)
	if first.ID == "" || first.Title != models.DefaultSessionTitle {
		t.Fatalf("unexpected session: %#v", first)
	}
	second := createSession(t, router)

	renameResp := doJSONRequest(t, router, http.MethodPatch, "/api/sessions/"+first.ID,
		map[string]any{"title": "Holiday phrases"}, clientHeader(testClient))
	assertStatus(t, renameResp, http.StatusOK)

	// the second session is current; archiving it moves the pointer to the first
	archiveResp := doJSONRequest(t, router, http.MethodPatch, "/api/sessions/"+second.ID,
		map[string]any{"archived": true}, clientHeader(testClient))
	assertStatus(t, archiveResp, http.StatusOK)

	var view chat.ContextView
	ctxResp := doJSONRequest(t, router, http.MethodGet, "/api/context", nil, clientHeader(testClient))
	assertStatus(t, ctxResp, http.StatusOK)
	decodeJSON(t, ctxResp.Body.Bytes(), &view)
	if view.CurrentSessionID != first.ID || len(view.Sessions) != 1 || view.Sessions[0].Title != "Holiday phrases" {
		t.Fatalf("unexpected context view: %#v", view)
	}

	var listed struct {
		Sessions []models.Session `json:"sessions"`
	}
	decodeJSON(t, doJSONRequest(t, router, http.MethodGet, "/api/sessions?filter=archived", nil, clientHeader(testClient)).Body.Bytes(), &listed)
	if len(listed.Sessions) != 1 || listed.Sessions[0].ID != second.ID {
		t.Fatalf("archived listing = %#v", listed.Sessions)
	}
	decodeJSON(t, doJSONRequest(t, router, http.MethodGet, "/api/sessions", nil, clientHeader(testClient)).Body.Bytes(), &listed)
	if len(listed.Sessions) != 2 {
		t.Fatalf("unfiltered listing should hold both sessions, got %d", len(listed.Sessions))
	}
	assertStatus(t, doJSONRequest(t, router, http.MethodGet, "/api/sessions?filter=bogus", nil, clientHeader(testClient)), http.StatusBadRequest)

	assertStatus(t, doJSONRequest(t, router, http.MethodDelete, "/api/sessions/"+first.ID, nil, clientHeader(testClient)), http.StatusOK)
	assertStatus(t, doJSONRequest(t, router, http.MethodDelete, "/api/sessions/"+first.ID, nil, clientHeader(testClient)), http.StatusNotFound)
	assertStatus(t, doJSONRequest(t, router, http.MethodGet, "/api/sessions/"+first.ID, nil, clientHeader(testClient)), http.StatusNotFound)
	assertStatus(t, doJSONRequest(t, router, http.MethodPatch, "/api/sessions/missing",
		map[string]any{"archived": true}, clientHeader(testClient)), http.StatusNotFound)
	assertStatus(t, doJSONRequest(t, router, http.MethodPatch, "/api/sessions/"+second.ID,
		map[string]any{}, clientHeader(testClient)), http.StatusBadRequest)
	assertStatus(t, doJSONRequest(t, router, http.MethodPatch, "/api/sessions/"+second.ID,
		map[string]any{"title": "  "}, clientHeader(testClient)), http.StatusBadRequest)
}

func TestMessagesEndpoints(t *testing.T) {
	router, _, _ := newTestServer(t, 0)
	session := createSession(t, router)
	path := "/api/sessions/" + session.ID + "/messages"

	assertStatus(t, doJSONRequest(t, router, http.MethodPost, "/api/sessions/missing/messages",
		map[string]string{"role": "user", "text": "hi"}, clientHeader(testClient)), http.StatusNotFound)
	assertStatus(t, doJSONRequest(t, router, http.MethodPost, path,
		map[string]string{"role": "robot", "text": "hi"}, clientHeader(testClient)), http.StatusBadRequest)
	assertStatus(t, doJSONRequest(t, router, http.MethodPost, path,
		map[string]string{"role": "user"}, clientHeader(testClient)), http.StatusBadRequest)

	for _, text := range []string{"first", "second", "third"} {
		assertStatus(t, doJSONRequest(t, router, http.MethodPost, path,
			map[string]string{"role": "user", "text": text}, clientHeader(testClient)), http.StatusOK)
	}
	resp := doJSONRequest(t, router, http.MethodGet, path, nil, clientHeader(testClient))
	assertStatus(t, resp, http.StatusOK)
	var body struct {
		Messages []models.Message `json:"messages"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)
	if len(body.Messages) != 3 || body.Messages[0].Text != "first" || body.Messages[2].Text != "third" {
		t.Fatalf("unexpected messages: %#v", body.Messages)
	}
	assertStatus(t, doJSONRequest(t, router, http.MethodGet, "/api/sessions/missing/messages", nil, clientHeader(testClient)), http.StatusNotFound)
}

func TestTranslateEndpoint(t *testing.T) {
	router, _, _ := newTestServer(t, 0)

	resp := doJSONRequest(t, router, http.MethodPost, "/translate",
		map[string]string{"text": "Hello", "source": "en", "target": "fr"}, clientHeader(testClient))
	assertStatus(t, resp, http.StatusOK)
	var body struct {
		Translation string `json:"translation"`
		Confidence  int    `json:"confidence"`
		Backend     string `json:"backend"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)
	if body.Translation != "[fr] Hello" || body.Confidence != 85 || body.Backend != "general" {
		t.Fatalf("unexpected translation: %#v", body)
	}

	cases := []struct {
		name string
		body map[string]string
		want int
	}{
		{"empty text", map[string]string{"text": " ", "source": "en", "target": "fr"}, http.StatusBadRequest},
		{"unknown target", map[string]string{"text": "hi", "source": "en", "target": "zz!"}, http.StatusBadRequest},
		{"unsupported pair", map[string]string{"text": "hi", "source": "en", "target": "ja"}, http.StatusBadRequest},
		{"backend failure", map[string]string{"text": "hi", "source": "de", "target": "fr"}, http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSONRequest(t, router, http.MethodPost, "/translate", tc.body, clientHeader(testClient))
			assertStatus(t, rec, tc.want)
			var errBody map[string]string
			decodeJSON(t, rec.Body.Bytes(), &errBody)
			if errBody["error"] == "" {
				t.Fatalf("expected error message")
			}
		})
	}
}

func TestChatTurnEnsuresSessionAndRecordsReply(t *testing.T) {
	router, db, _ := newTestServer(t, 0)

	resp := doJSONRequest(t, router, http.MethodPost, "/api/chat",
		map[string]string{"text": "Good morning", "source": "en", "target": "ar"}, clientHeader(testClient))
	assertStatus(t, resp, http.StatusOK)
	var body struct {
		Session     models.Session            `json:"session"`
		Reply       models.Message            `json:"reply"`
		Translation models.TranslationResult `json:"translation"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)
	if body.Reply.Role != models.RoleAssistant || body.Reply.Text != "[ar] Good morning" {
		t.Fatalf("unexpected reply: %#v", body.Reply)
	}
	if body.Translation.BackendKind != models.BackendSpecialized || body.Session.Title != "Good morning" {
		t.Fatalf("unexpected body: %#v", body)
	}

	// a failed translation still lands in the same session as an error message
	failResp := doJSONRequest(t, router, http.MethodPost, "/api/chat",
		map[string]string{"text": "Guten Tag", "source": "de", "target": "fr"}, clientHeader(testClient))
	assertStatus(t, failResp, http.StatusBadGateway)
	if n := countMessages(t, db, body.Session.ID); n != 4 {
		t.Fatalf("expected 4 messages in the ensured session, got %d", n)
	}
	var sessions int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&sessions); err != nil {
		t.Fatalf("count sessions: %v", err)
	}
	if sessions != 1 {
		t.Fatalf("chat turns created %d sessions, want 1", sessions)
	}

	assertStatus(t, doJSONRequest(t, router, http.MethodPost, "/api/chat",
		map[string]string{"text": "hi", "source": "en", "target": "ja"}, clientHeader(testClient)), http.StatusBadRequest)
}

func TestTranslateFileEndpoint(t *testing.T) {
	router, _, handler := newTestServer(t, 0)

	rec := postMultipart(t, router, "/translate_file", "file", "greeting.txt", []byte("Hello there\n\nSee you soon"),
		map[string]string{"source": "en", "target": "fr"})
	assertStatus(t, rec, http.StatusOK)
	var body struct {
		Filename   string `json:"filename"`
		Translated string `json:"translated"`
		Confidence int    `json:"confidence"`
	}
	decodeJSON(t, rec.Body.Bytes(), &body)
	if body.Filename != "greeting.txt" || body.Translated != "[fr] Hello there\n\nSee you soon" {
		t.Fatalf("unexpected body: %#v", body)
	}

	assertStatus(t, postMultipart(t, router, "/translate_file", "file", "tool.exe", []byte("MZ"),
		map[string]string{"source": "en", "target": "fr"}), http.StatusBadRequest)
	assertStatus(t, postMultipart(t, router, "/translate_file", "file", "fake.txt", testPNG(t),
		map[string]string{"source": "en", "target": "fr"}), http.StatusBadRequest)
	assertStatus(t, postMultipart(t, router, "/translate_file", "file", "notes.txt", []byte("hi"),
		map[string]string{"source": "en", "target": "ja"}), http.StatusBadRequest)

	entries, err := handler.uploads.CleanExpired(time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("scan uploads: %v", err)
	}
	if entries != 0 {
		t.Fatalf("%d uploads left behind", entries)
	}
}

func TestTranslateFileRateLimit(t *testing.T) {
	router, _, _ := newTestServer(t, 1)
	form := map[string]string{"source": "en", "target": "fr"}
	assertStatus(t, postMultipart(t, router, "/translate_file", "file", "a.txt", []byte("one"), form), http.StatusOK)
	assertStatus(t, postMultipart(t, router, "/translate_file", "file", "b.txt", []byte("two"), form), http.StatusTooManyRequests)
}

func TestOCREndpoint(t *testing.T) {
	router, _, _ := newTestServer(t, 0)

	rec := postMultipart(t, router, "/ocr", "image", "sign.png", testPNG(t), map[string]string{"target": "fr"})
	assertStatus(t, rec, http.StatusOK)
	var body ocr.Result
	decodeJSON(t, rec.Body.Bytes(), &body)
	if body.ExtractedText != "Hello" || body.DetectedLanguage != "en" || body.TranslatedText != "[fr] Hello" {
		t.Fatalf("unexpected ocr result: %#v", body)
	}

	rec = postMultipart(t, router, "/ocr", "image", "sign.png", testPNG(t), map[string]string{"target": "ja"})
	assertStatus(t, rec, http.StatusOK)
	decodeJSON(t, rec.Body.Bytes(), &body)
	if body.ExtractedText != "Hello" || body.TranslationError == "" {
		t.Fatalf("translation failure should be reported beside the text: %#v", body)
	}

	assertStatus(t, postMultipart(t, router, "/ocr", "image", "doc.pdf", testPNG(t), nil), http.StatusBadRequest)
	assertStatus(t, postMultipart(t, router, "/ocr", "image", "sign.png", []byte("plain text"), nil), http.StatusBadRequest)
	assertStatus(t, postMultipart(t, router, "/ocr", "other", "sign.png", testPNG(t), nil), http.StatusBadRequest)
}

func TestOCRExtractionFailure(t *testing.T) {
	router, _, handler := newTestServer(t, 0)
	handler.ocr = ocr.NewPipeline(failingExtractor{}, handler.translator, time.Second, nil)
	assertStatus(t, postMultipart(t, router, "/ocr", "image", "sign.png", testPNG(t), map[string]string{"target": "fr"}), http.StatusBadGateway)
}

func TestTTSEndpoint(t *testing.T) {
	router, _, _ := newTestServer(t, 0)

	rec := doJSONRequest(t, router, http.MethodPost, "/tts", map[string]any{
		"text": "Hello", "lang": "en-US",
		"voices": []tts.Voice{{ID: "v-gb", Lang: "en-GB"}, {ID: "v-us", Lang: "en-US"}},
	}, clientHeader(testClient))
	assertStatus(t, rec, http.StatusOK)
	var directive struct {
		ClientPlayback bool      `json:"client_playback"`
		Voice          tts.Voice `json:"voice"`
	}
	decodeJSON(t, rec.Body.Bytes(), &directive)
	if !directive.ClientPlayback || directive.Voice.ID != "v-us" {
		t.Fatalf("unexpected directive: %s", rec.Body.String())
	}

	rec = doJSONRequest(t, router, http.MethodPost, "/tts", map[string]any{"text": "Hello", "lang": "en"}, clientHeader(testClient))
	assertStatus(t, rec, http.StatusOK)
	if rec.Header().Get("Content-Type") != "audio/wav" || rec.Body.String() != "audio:Hello" {
		t.Fatalf("unexpected audio response %q (%s)", rec.Body.String(), rec.Header().Get("Content-Type"))
	}

	rec = doJSONRequest(t, router, http.MethodPost, "/tts", map[string]any{"text": "Bonjour", "lang": "fr"}, clientHeader(testClient))
	assertStatus(t, rec, http.StatusNoContent)

	assertStatus(t, doJSONRequest(t, router, http.MethodPost, "/tts", map[string]any{"text": " "}, clientHeader(testClient)), http.StatusBadRequest)
	assertStatus(t, doJSONRequest(t, router, http.MethodDelete, "/tts", nil, clientHeader(testClient)), http.StatusNoContent)
}

func TestTTSNewRequestSupersedesRunningPlayback(t *testing.T) {
	router, _, handler := newTestServer(t, 0)
	dispatcher := worker.NewDispatcher(worker.DispatcherConfig{MinWorkers: 1, MaxWorkers: 1, QueueSize: 4})
	t.Cleanup(dispatcher.Close)
	engine := &blockingSpeechEngine{started: make(chan struct{})}
	handler.dispatcher = dispatcher
	handler.speech = tts.NewChain(tts.WithTimeout(10 * time.Second)).Add(engine)

	first := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		first <- doJSONRequest(t, router, http.MethodPost, "/tts", map[string]any{"text": "first", "lang": "en"}, clientHeader(testClient))
	}()
	<-engine.started

	second := doJSONRequest(t, router, http.MethodPost, "/tts", map[string]any{"text": "second", "lang": "en"}, clientHeader(testClient))
	assertStatus(t, second, http.StatusOK)
	if second.Body.String() != "audio:second" {
		t.Fatalf("unexpected audio %q", second.Body.String())
	}
	select {
	case rec := <-first:
		assertStatus(t, rec, http.StatusConflict)
	case <-time.After(2 * time.Second):
		t.Fatalf("first playback was not superseded")
	}
}

func TestTTSSupersedesWhileQueuedBehindBusyPool(t *testing.T) {
	router, _, handler := newTestServer(t, 0)
	dispatcher := worker.NewDispatcher(worker.DispatcherConfig{MinWorkers: 1, MaxWorkers: 1, QueueSize: 4})
	t.Cleanup(dispatcher.Close)
	handler.dispatcher = dispatcher
	chain := tts.NewChain(tts.WithTimeout(10 * time.Second)).Add(audioEngine{})
	handler.speech = chain

	// another client's slow job holds the only worker
	gate := make(chan struct{})
	running := make(chan struct{})
	go func() {
		_ = dispatcher.Submit(context.Background(), "other-client", func(context.Context) error {
			close(running)
			<-gate
			return nil
		})
	}()
	<-running
	released := false
	defer func() {
		if !released {
			close(gate)
		}
	}()

	older := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		older <- doJSONRequest(t, router, http.MethodPost, "/tts", map[string]any{"text": "older", "lang": "en"}, clientHeader(testClient))
	}()
	deadline := time.Now().Add(2 * time.Second)
	for chain.Active() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("older request never claimed its slot")
		}
		time.Sleep(2 * time.Millisecond)
	}

	newer := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		newer <- doJSONRequest(t, router, http.MethodPost, "/tts", map[string]any{"text": "newer", "lang": "en"}, clientHeader(testClient))
	}()
	select {
	case rec := <-older:
		assertStatus(t, rec, http.StatusConflict)
	case <-time.After(2 * time.Second):
		t.Fatalf("queued request was not superseded while the pool was busy")
	}

	released = true
	close(gate)
	select {
	case rec := <-newer:
		assertStatus(t, rec, http.StatusOK)
		if rec.Body.String() != "audio:newer" {
			t.Fatalf("unexpected audio %q", rec.Body.String())
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("newer request did not complete")
	}
}

func TestOversizeUploadIsRequestEntityTooLarge(t *testing.T) {
	router, _, _ := newTestServer(t, 0)
	big := bytes.Repeat([]byte("a"), 1<<20+512)
	assertStatus(t, postMultipart(t, router, "/translate_file", "file", "big.txt", big,
		map[string]string{"source": "en", "target": "fr"}), http.StatusRequestEntityTooLarge)
	assertStatus(t, postMultipart(t, router, "/ocr", "image", "big.png", big, nil), http.StatusRequestEntityTooLarge)
}

func TestLanguagesAndHealth(t *testing.T) {
	router, _, _ := newTestServer(t, 0)

	rec := doJSONRequest(t, router, http.MethodGet, "/api/languages", nil, nil)
	assertStatus(t, rec, http.StatusOK)
	var body struct {
		Languages []struct {
			Code string `json:"code"`
			Name string `json:"name"`
		} `json:"languages"`
		Privileged []string `json:"privileged_pairs"`
	}
	decodeJSON(t, rec.Body.Bytes(), &body)
	if len(body.Languages) != 4 || body.Languages[0].Code != "en" || body.Languages[0].Name != "English" {
		t.Fatalf("unexpected languages: %#v", body.Languages)
	}
	if len(body.Privileged) != 3 {
		t.Fatalf("unexpected privileged pairs: %v", body.Privileged)
	}

	assertStatus(t, doJSONRequest(t, router, http.MethodGet, "/healthz", nil, nil), http.StatusOK)
}

func TestStatusForMapsDomainErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", models.ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("x: %w", translate.ErrUnsupportedPair), http.StatusBadRequest},
		{fmt.Errorf("x: %w", models.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("x: %w", translate.ErrBackendFailure), http.StatusBadGateway},
		{fmt.Errorf("x: %w", ocr.ErrExtractionFailed), http.StatusBadGateway},
		{fmt.Errorf("x: %w", models.ErrStoreUnavailable), http.StatusServiceUnavailable},
		{worker.ErrDispatcherBusy, http.StatusTooManyRequests},
		{uploads.ErrTooLarge, http.StatusRequestEntityTooLarge},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Fatalf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestRateLimiterWindow(t *testing.T) {
	l := newRateLimiter(2, time.Minute)
	base := time.Now()
	l.now = func() time.Time { return base }
	if !l.Allow("a") || !l.Allow("a") || l.Allow("a") {
		t.Fatalf("limit of two not enforced")
	}
	if !l.Allow("b") {
		t.Fatalf("keys must be limited independently")
	}
	l.now = func() time.Time { return base.Add(61 * time.Second) }
	if !l.Allow("a") {
		t.Fatalf("window did not slide")
	}
}

func TestRateLimiterForgetsIdleClients(t *testing.T) {
	l := newRateLimiter(5, time.Minute)
	base := time.Now()
	l.now = func() time.Time { return base }
	for _, key := range []string{"a", "b", "c"} {
		l.Allow(key)
	}
	if l.size() != 3 {
		t.Fatalf("expected 3 tracked clients, got %d", l.size())
	}

	l.now = func() time.Time { return base.Add(2 * time.Minute) }
	if !l.Allow("d") {
		t.Fatalf("fresh client should be allowed")
	}
	if l.size() != 1 {
		t.Fatalf("idle clients were not forgotten, %d tracked", l.size())
	}
}

type scriptedExtractor struct{}

func (scriptedExtractor) Extract(ctx context.Context, _ []byte, _ string) (ocr.Extraction, error) {
	return ocr.Extraction{Text: "Hello"}, ctx.Err()
}

type failingExtractor struct{}

func (failingExtractor) Extract(context.Context, []byte, string) (ocr.Extraction, error) {
	return ocr.Extraction{}, errors.New("tesseract not installed")
}

type brokenBackend struct{}

func (brokenBackend) Translate(context.Context, string, string, string) (string, error) {
	return "", errors.New("model server unreachable")
}

type audioEngine struct{}

func (audioEngine) Name() string { return "server" }

func (audioEngine) Synthesize(_ context.Context, req tts.Request) (*tts.Audio, error) {
	return &tts.Audio{Data: []byte("audio:" + req.Text), MimeType: "audio/wav"}, nil
}

type blockingSpeechEngine struct {
	started chan struct{}
	calls   atomic.Int32
}

func (e *blockingSpeechEngine) Name() string { return "blocking" }

// Synthesize blocks on its first call until ctx ends.
func (e *blockingSpeechEngine) Synthesize(ctx context.Context, req tts.Request) (*tts.Audio, error) {
	if e.calls.Add(1) == 1 {
		close(e.started)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return &tts.Audio{Data: []byte("audio:" + req.Text), MimeType: "audio/wav"}, nil
}

func newTestServer(t *testing.T, fileRateLimit int) (*gin.Engine, *sql.DB, *Handler) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{"sqlite3": {DSN: ":memory:"}}}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	router, err := translate.NewRouter(config.TranslationConfig{
		Languages:      []string{"en", "fr", "de", "ar"},
		GeneralBackend: "general",
		Privileged: []config.PrivilegedPair{
			{Source: "en", Target: "ar", Bidirectional: true, Backend: "specialized"},
			{Source: "de", Target: "fr", Backend: "broken"},
		},
		HighResourcePairs: []string{"en-fr"},
		Scoring: config.ScoringConfig{
			BaseWeights:     map[string]int{"specialized": 95, "general": 85},
			RarePairPenalty: 5,
		},
		TimeoutSeconds: 5,
	}, map[string]translate.Backend{
		"general":     translate.StubBackend{},
		"specialized": translate.StubBackend{},
		"broken":      brokenBackend{},
	}, nil, nil)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}

	docs, err := document.NewReader(context.Background())
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	store, err := uploads.NewStore(t.TempDir(), 1<<20, nil)
	if err != nil {
		t.Fatalf("new upload store: %v", err)
	}
	dispatcher := worker.NewDispatcher(worker.DispatcherConfig{MinWorkers: 1, MaxWorkers: 4, QueueSize: 16})
	t.Cleanup(dispatcher.Close)

	chain := tts.NewChain(tts.WithTimeout(time.Second)).
		Add(tts.NewClientEngine("browser")).
		Add(audioEngine{}, "en")

	handler := NewHandler(Deps{
		Chat:           chat.NewService(db, nil),
		Clients:        client.NewRegistry(nil, time.Hour, nil),
		Translator:     router,
		OCR:            ocr.NewPipeline(scriptedExtractor{}, router, time.Second, nil),
		Speech:         chain,
		Documents:      docs,
		Uploads:        store,
		Dispatcher:     dispatcher,
		MaxUploadBytes: 1 << 20,
		ChunkRunes:     2000,
		FileRateLimit:  fileRateLimit,
	})
	engine := gin.New()
	engine.Use(gin.Recovery())
	handler.RegisterRoutes(engine)
	return engine, db, handler
}

func clientHeader(id string) map[string]string {
	return map[string]string{client.HeaderName: id}
}

func createSession(t *testing.T, router *gin.Engine) models.Session {
	t.Helper()
	rec := doJSONRequest(t, router, http.MethodPost, "/api/sessions", nil, clientHeader(testClient))
	assertStatus(t, rec, http.StatusCreated)
	var s models.Session
	decodeJSON(t, rec.Body.Bytes(), &s)
	return s
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func postMultipart(t *testing.T, router *gin.Engine, path, field, filename string, content []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	part, err := w.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set(client.HeaderName, testClient)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json: %v", err)
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("unexpected status %d, body: %s", rec.Code, rec.Body.String())
	}
}

func countMessages(t *testing.T, db *sql.DB, sessionID string) int {
	t.Helper()
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID).Scan(&count); err != nil {
		t.Fatalf("count messages: %v", err)
	}
	return count
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}
