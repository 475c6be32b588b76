package tts

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"chattranslator/internal/config"
	"chattranslator/internal/models"
)

type fakeEngine struct {
	name  string
	err   error
	mu    sync.Mutex
	calls int
	// started is closed on the first call when set; that call then blocks until ctx ends.
	started chan struct{}
}

func (f *fakeEngine) Name() string { return f.name }

func (f *fakeEngine) Synthesize(ctx context.Context, req Request) (*Audio, error) {
	f.mu.Lock()
	f.calls++
	first := f.calls == 1
	f.mu.Unlock()
	if f.started != nil && first {
		close(f.started)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &Audio{Data: []byte(req.Text), MimeType: "audio/wav"}, nil
}

func (f *fakeEngine) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestSpeakStopsAtFirstSuccess(t *testing.T) {
	a := &fakeEngine{name: "a", err: errors.New("network down")}
	b := &fakeEngine{name: "b"}
	c := &fakeEngine{name: "c"}
	chain := NewChain().Add(a).Add(b).Add(c)

	out, err := chain.Speak(context.Background(), "client-1", Request{Text: "hello", Lang: "en-US"})
	if err != nil {
		t.Fatalf("speak: %v", err)
	}
	if out.Status != StatusSpoken || out.Audio == nil || out.Audio.Engine != "b" {
		t.Fatalf("unexpected outcome: %#v", out)
	}
	if a.callCount() != 1 || b.callCount() != 1 || c.callCount() != 0 {
		t.Fatalf("calls a=%d b=%d c=%d", a.callCount(), b.callCount(), c.callCount())
	}
	if len(out.Attempts) != 2 || out.Attempts[0].Err == nil || out.Attempts[1].Err != nil {
		t.Fatalf("attempts = %#v", out.Attempts)
	}
	if out.Err() != nil {
		t.Fatalf("spoken outcome should carry no error")
	}
}

func TestSpeakAllFailedIsSilent(t *testing.T) {
	chain := NewChain().
		Add(&fakeEngine{name: "a", err: errors.New("boom")}).
		Add(&fakeEngine{name: "b", err: errors.New("crash")})

	out, err := chain.Speak(context.Background(), "", Request{Text: "hello"})
	if err != nil {
		t.Fatalf("engine failures must be absorbed, got %v", err)
	}
	if out.Status != StatusSilent || !errors.Is(out.Err(), ErrAllBackendsFailed) || len(out.Attempts) != 2 {
		t.Fatalf("unexpected outcome: %#v", out)
	}
}

func TestSpeakRejectsBlankText(t *testing.T) {
	a := &fakeEngine{name: "a"}
	chain := NewChain().Add(a)
	if _, err := chain.Speak(context.Background(), "", Request{Text: "  "}); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if a.callCount() != 0 {
		t.Fatalf("engine called for blank text")
	}
}

func TestSpeakSkipsEnginesWithoutLanguage(t *testing.T) {
	arabicOnly := &fakeEngine{name: "ar-only"}
	general := &fakeEngine{name: "any"}
	chain := NewChain().Add(arabicOnly, "ar").Add(general)

	out, err := chain.Speak(context.Background(), "", Request{Text: "bonjour", Lang: "fr-FR"})
	if err != nil {
		t.Fatalf("speak: %v", err)
	}
	if arabicOnly.callCount() != 0 || out.Audio.Engine != "any" {
		t.Fatalf("language predicate ignored: %#v", out)
	}
	if !errors.Is(out.Attempts[0].Err, ErrUnsupportedLanguage) {
		t.Fatalf("skipped engine should be recorded, got %#v", out.Attempts)
	}
}

func TestNewSpeakCancelsPreviousOnSameSlot(t *testing.T) {
	slow := &fakeEngine{name: "slow", started: make(chan struct{})}
	chain := NewChain(WithTimeout(5 * time.Second)).Add(slow)

	first := make(chan Outcome, 1)
	go func() {
		out, _ := chain.Speak(context.Background(), "client-1", Request{Text: "first"})
		first <- out
	}()
	<-slow.started

	// the engine only blocks on its first call
	out, err := chain.Speak(context.Background(), "client-1", Request{Text: "second"})
	if err != nil || out.Status != StatusSpoken {
		t.Fatalf("second speak: %#v, %v", out, err)
	}

	select {
	case got := <-first:
		if got.Status != StatusCancelled || !errors.Is(got.Err(), ErrSuperseded) {
			t.Fatalf("first outcome = %#v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("first speak was not cancelled")
	}
}

func TestChainCancel(t *testing.T) {
	slow := &fakeEngine{name: "slow", started: make(chan struct{})}
	chain := NewChain().Add(slow).Add(&fakeEngine{name: "never"})

	done := make(chan Outcome, 1)
	go func() {
		out, _ := chain.Speak(context.Background(), "client-2", Request{Text: "hi"})
		done <- out
	}()
	<-slow.started
	chain.Cancel("client-2")

	select {
	case out := <-done:
		if out.Status != StatusCancelled {
			t.Fatalf("status = %s", out.Status)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("cancel did not stop playback")
	}
	if chain.slots.Active() != 0 {
		t.Fatalf("slot not released")
	}
}

func TestSelectVoice(t *testing.T) {
	voices := []Voice{
		{ID: "gb", Lang: "en-GB"},
		{ID: "us", Lang: "en_US"},
		{ID: "eg", Lang: "ar-EG", Default: true},
	}
	cases := map[string]string{
		"en-US": "us",
		"EN_us": "us",
		"en-AU": "gb",
		"ar":    "eg",
		"fr-FR": "eg",
	}
	for lang, want := range cases {
		got, ok := SelectVoice(voices, lang)
		if !ok || got.ID != want {
			t.Fatalf("SelectVoice(%s) = %s, want %s", lang, got.ID, want)
		}
	}
	if got, _ := SelectVoice([]Voice{{ID: "x", Lang: "de"}, {ID: "y", Lang: "it"}}, "fr"); got.ID != "x" {
		t.Fatalf("no default should fall back to first voice, got %s", got.ID)
	}
	if _, ok := SelectVoice(nil, "en"); ok {
		t.Fatalf("empty voice list should report no voice")
	}
}

func TestClientEngineNeedsVoices(t *testing.T) {
	e := NewClientEngine("client")
	if _, err := e.Synthesize(context.Background(), Request{Text: "hi", Lang: "en-US"}); err == nil {
		t.Fatalf("expected failure without client voices")
	}
	audio, err := e.Synthesize(context.Background(), Request{Text: "hi", Lang: "en-US", ClientVoices: []Voice{{ID: "v1", Lang: "en-US"}}})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if !audio.ClientPlayback || audio.Voice.ID != "v1" {
		t.Fatalf("unexpected directive: %#v", audio)
	}
}

func TestCommandEngine(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in needs a unix shell")
	}
	script := filepath.Join(t.TempDir(), "fake-espeak")
	body := "#!/bin/sh\nprintf 'voice=%s text=' \"$2\"\ncat\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	e := NewCommandEngine("espeak", script, []string{"-v", "{voice}", "--stdout"}, "", []Voice{{ID: "ar", Lang: "ar"}, {ID: "en-us", Lang: "en-US", Default: true}})
	audio, err := e.Synthesize(context.Background(), Request{Text: "marhaba", Lang: "ar-SA"})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if string(audio.Data) != "voice=ar text=marhaba" || audio.MimeType != "audio/wav" {
		t.Fatalf("unexpected audio %q (%s)", audio.Data, audio.MimeType)
	}
}

func TestNewChainFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.TTS.Engines = []config.TTSEngineConfig{
		{Name: "browser", Type: "client"},
		{Name: "espeak", Type: "command", Command: "espeak-ng", Languages: []string{"en", "ar"}},
	}
	chain, err := NewChainFromConfig(cfg)
	if err != nil {
		t.Fatalf("build chain: %v", err)
	}
	if got := chain.Engines(); len(got) != 2 || got[0] != "browser" || got[1] != "espeak" {
		t.Fatalf("engines = %v", got)
	}

	cfg.TTS.Engines = []config.TTSEngineConfig{{Name: "cloud", Type: "openai", Provider: "missing"}}
	if _, err := NewChainFromConfig(cfg); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}

func TestClaimSupersedesBeforeSpeakRuns(t *testing.T) {
	engine := &fakeEngine{name: "a"}
	chain := NewChain(WithTimeout(time.Second)).Add(engine)

	first, releaseFirst := chain.Claim(context.Background(), "client-3")
	defer releaseFirst()
	if chain.Active() != 1 {
		t.Fatalf("claim should occupy the slot")
	}
	second, releaseSecond := chain.Claim(context.Background(), "client-3")

	if !errors.Is(context.Cause(first), ErrSuperseded) {
		t.Fatalf("older claim should end superseded, cause %v", context.Cause(first))
	}
	// a claim superseded while waiting never reaches an engine
	out, err := chain.Speak(first, "", Request{Text: "old", Lang: "en"})
	if err != nil || out.Status != StatusCancelled {
		t.Fatalf("expected cancelled outcome, got %v %v", out.Status, err)
	}
	if engine.callCount() != 0 {
		t.Fatalf("superseded speech reached the engine")
	}

	out, err = chain.Speak(second, "", Request{Text: "new", Lang: "en"})
	if err != nil || out.Status != StatusSpoken {
		t.Fatalf("expected spoken outcome, got %v %v", out.Status, err)
	}
	releaseSecond()
	if chain.Active() != 0 {
		t.Fatalf("released claim still active")
	}
}
