package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"chattranslator/internal/config"
)

// NewChainFromConfig builds the engine chain in configured order.
func NewChainFromConfig(cfg *config.Config, opts ...ChainOption) (*Chain, error) {
	opts = append([]ChainOption{
		WithTimeout(cfg.TTS.Timeout()),
		WithDefaultLang(cfg.TTS.DefaultLang),
	}, opts...)
	chain := NewChain(opts...)
	for i, ec := range cfg.TTS.Engines {
		name := ec.Name
		if name == "" {
			name = fmt.Sprintf("%s-%d", ec.Type, i)
		}
		var engine Engine
		switch strings.ToLower(ec.Type) {
		case "client":
			engine = ClientEngine{name: name}
		case "openai":
			provCfg, ok := cfg.Providers[ec.Provider]
			if !ok {
				return nil, fmt.Errorf("tts engine %s: unknown provider %q", name, ec.Provider)
			}
			engine = NewOpenAIEngine(name, provCfg.BaseURL, provCfg.Key(), ec.Model, ec.Voice)
		case "command":
			if ec.Command == "" {
				return nil, fmt.Errorf("tts engine %s: command must be configured", name)
			}
			engine = NewCommandEngine(name, ec.Command, ec.Args, ec.MimeType, voicesFromConfig(ec.Voices))
		default:
			return nil, fmt.Errorf("tts engine %s: unsupported type %q", name, ec.Type)
		}
		chain.Add(engine, ec.Languages...)
	}
	return chain, nil
}

func voicesFromConfig(in []config.VoiceConfig) []Voice {
	out := make([]Voice, 0, len(in))
	for _, v := range in {
		out = append(out, Voice{ID: v.ID, Name: v.Name, Lang: v.Lang, Default: v.Default})
	}
	return out
}

// ClientEngine delegates playback to the client's own speech voices.
type ClientEngine struct {
	name string
}

func NewClientEngine(name string) ClientEngine {
	return ClientEngine{name: name}
}

func (e ClientEngine) Name() string { return e.name }

func (e ClientEngine) Synthesize(ctx context.Context, req Request) (*Audio, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	voice, ok := SelectVoice(req.ClientVoices, req.Lang)
	if !ok {
		return nil, errors.New("client reported no speech voices")
	}
	return &Audio{Engine: e.name, Voice: &voice, ClientPlayback: true}, nil
}

// OpenAIEngine synthesizes mp3 through the OpenAI speech endpoint.
type OpenAIEngine struct {
	name   string
	client *openai.Client
	model  string
	voice  string
}

func NewOpenAIEngine(name, baseURL, apiKey, model, voice string) *OpenAIEngine {
	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	if model == "" {
		model = string(openai.TTSModel1)
	}
	if voice == "" {
		voice = string(openai.VoiceAlloy)
	}
	return &OpenAIEngine{name: name, client: openai.NewClientWithConfig(clientConfig), model: model, voice: voice}
}

func (e *OpenAIEngine) Name() string { return e.name }

func (e *OpenAIEngine) Synthesize(ctx context.Context, req Request) (*Audio, error) {
	resp, err := e.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(e.model),
		Input:          req.Text,
		Voice:          openai.SpeechVoice(e.voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, fmt.Errorf("create speech: %w", err)
	}
	defer resp.Close()
	data, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read speech: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("speech response was empty")
	}
	return &Audio{Data: data, MimeType: "audio/mpeg", Engine: e.name, Voice: &Voice{ID: e.voice, Name: e.voice}}, nil
}

// CommandEngine runs a local synthesizer (espeak-ng style). The text goes to
// stdin and audio is read from stdout. "{voice}" and "{lang}" in args are
// replaced per request.
type CommandEngine struct {
	name     string
	command  string
	args     []string
	mimeType string
	voices   []Voice
}

func NewCommandEngine(name, command string, args []string, mimeType string, voices []Voice) *CommandEngine {
	if mimeType == "" {
		mimeType = "audio/wav"
	}
	return &CommandEngine{name: name, command: command, args: args, mimeType: mimeType, voices: voices}
}

func (e *CommandEngine) Name() string { return e.name }

func (e *CommandEngine) Synthesize(ctx context.Context, req Request) (*Audio, error) {
	voice := Voice{ID: req.Lang, Lang: req.Lang}
	if v, ok := SelectVoice(e.voices, req.Lang); ok {
		voice = v
	}
	replacer := strings.NewReplacer("{voice}", voice.ID, "{lang}", req.Lang)
	args := make([]string, len(e.args))
	for i, a := range e.args {
		args[i] = replacer.Replace(a)
	}

	cmd := exec.CommandContext(ctx, e.command, args...)
	cmd.Stdin = strings.NewReader(req.Text)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", e.command, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", e.command, err)
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("%s produced no audio", e.command)
	}
	return &Audio{Data: stdout.Bytes(), MimeType: e.mimeType, Engine: e.name, Voice: &voice}, nil
}
