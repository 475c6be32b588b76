package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Log         LogConfig                 `json:"log"`
	Telemetry   TelemetryConfig           `json:"telemetry"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Providers   map[string]ProviderConfig `json:"providers"`
	Translation TranslationConfig         `json:"translation"`
	OCR         OCRConfig                 `json:"ocr"`
	TTS         TTSConfig                 `json:"tts"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address"`
	UploadDir     string `json:"upload_dir"`
	MaxUploadMB   int    `json:"max_upload_mb"`
	// UploadTTLMinutes is how long an orphaned upload may stay on disk before the janitor removes it.
	UploadTTLMinutes       int `json:"upload_ttl_minutes"`
	CleanIntervalMinutes   int `json:"clean_interval_minutes"`
	MinWorkers             int `json:"min_workers"`
	MaxWorkers             int `json:"max_workers"`
	QueueSize              int `json:"queue_size"`
	WorkerIdleTimeoutSecs  int `json:"worker_idle_timeout_seconds"`
	FileTranslateRateLimit int `json:"file_translate_rate_limit"`
	ClientContextTTLHours  int `json:"client_context_ttl_hours"`
}

type LogConfig struct {
	Level      string `json:"level"`
	File       string `json:"file"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
	Compress   bool   `json:"compress"`
}

type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	Dir         string `json:"dir"`
	ServiceName string `json:"service_name"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Username string `json:"username"`
	Password string `json:"password"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"api_key"`
	// APIKeyEnv names an environment variable holding the key; it wins over APIKey when set.
	APIKeyEnv string `json:"api_key_env"`
}

// Key resolves the provider credential.
func (p ProviderConfig) Key() string {
	if p.APIKeyEnv != "" {
		if v := os.Getenv(p.APIKeyEnv); v != "" {
			return v
		}
	}
	return p.APIKey
}

// TranslationConfig drives backend selection and confidence scoring.
type TranslationConfig struct {
	Languages         []string                 `json:"languages"`
	GeneralBackend    string                   `json:"general_backend"`
	Privileged        []PrivilegedPair         `json:"privileged_pairs"`
	HighResourcePairs []string                 `json:"high_resource_pairs"`
	Scoring           ScoringConfig            `json:"scoring"`
	Backends          map[string]BackendConfig `json:"backends"`
	TimeoutSeconds    int                      `json:"timeout_seconds"`
	CacheTTLMinutes   int                      `json:"cache_ttl_minutes"`
	ChunkRunes        int                      `json:"chunk_runes"`
}

type PrivilegedPair struct {
	Source        string `json:"source"`
	Target        string `json:"target"`
	Bidirectional bool   `json:"bidirectional"`
	Backend       string `json:"backend"`
}

type ScoringConfig struct {
	BaseWeights        map[string]int `json:"base_weights"`
	LengthUnit         string         `json:"length_unit"`
	ShortTextThreshold int            `json:"short_text_threshold"`
	ShortTextPenalty   int            `json:"short_text_penalty"`
	HighResourceBonus  int            `json:"high_resource_bonus"`
	RarePairPenalty    int            `json:"rare_pair_penalty"`
}

// BackendConfig describes one translation backend. Type is llm, http or stub.
type BackendConfig struct {
	Type     string `json:"type"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
	URL      string `json:"url"`
}

type OCRConfig struct {
	Engine         string `json:"engine"`
	Command        string `json:"command"`
	Languages      string `json:"languages"`
	Provider       string `json:"provider"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type TTSConfig struct {
	Engines        []TTSEngineConfig `json:"engines"`
	DefaultLang    string            `json:"default_lang"`
	TimeoutSeconds int               `json:"timeout_seconds"`
}

// TTSEngineConfig configures one link of the speech fallback chain.
type TTSEngineConfig struct {
	Name      string        `json:"name"`
	Type      string        `json:"type"`
	Languages []string      `json:"languages"`
	Provider  string        `json:"provider"`
	Model     string        `json:"model"`
	Voice     string        `json:"voice"`
	Command   string        `json:"command"`
	Args      []string      `json:"args"`
	MimeType  string        `json:"mime_type"`
	Voices    []VoiceConfig `json:"voices"`
}

type VoiceConfig struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Lang    string `json:"lang"`
	Default bool   `json:"default"`
}

// Default returns a configuration that runs locally on SQLite with stub backends.
func Default() *Config {
	return &Config{
		BasicConfig: BasicConfig{
			ServerAddress:          ":8090",
			UploadDir:              "data/uploads",
			MaxUploadMB:            5,
			UploadTTLMinutes:       60,
			CleanIntervalMinutes:   30,
			MinWorkers:             2,
			MaxWorkers:             8,
			QueueSize:              64,
			WorkerIdleTimeoutSecs:  30,
			FileTranslateRateLimit: 10,
			ClientContextTTLHours:  72,
		},
		Log: LogConfig{
			Level:      "info",
			File:       "logs/chattranslator.log",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   true,
		},
		Telemetry: TelemetryConfig{
			Dir:         "logs",
			ServiceName: "chattranslator",
		},
		Databases: map[string]DatabaseConfig{
			"sqlite3": {DSN: "data/chattranslator.db"},
		},
		Providers: map[string]ProviderConfig{},
		Translation: TranslationConfig{
			Languages:      []string{"en", "fr", "de", "es", "it", "pt", "ar"},
			GeneralBackend: "general",
			Privileged: []PrivilegedPair{
				{Source: "en", Target: "ar", Bidirectional: true, Backend: "specialized"},
			},
			HighResourcePairs: []string{"en-fr", "en-de", "en-es", "fr-en", "de-en", "es-en"},
			Scoring: ScoringConfig{
				BaseWeights:        map[string]int{"specialized": 95, "general": 85},
				LengthUnit:         "words",
				ShortTextThreshold: 3,
				ShortTextPenalty:   10,
				HighResourceBonus:  0,
				RarePairPenalty:    5,
			},
			Backends: map[string]BackendConfig{
				"specialized": {Type: "stub"},
				"general":     {Type: "stub"},
			},
			TimeoutSeconds:  30,
			CacheTTLMinutes: 60,
			ChunkRunes:      2000,
		},
		OCR: OCRConfig{
			Engine:         "tesseract",
			Command:        "tesseract",
			Languages:      "eng+ara",
			TimeoutSeconds: 30,
		},
		TTS: TTSConfig{
			Engines: []TTSEngineConfig{
				{Name: "client", Type: "client"},
			},
			DefaultLang:    "en-US",
			TimeoutSeconds: 20,
		},
	}
}

// Load reads configuration from the provided path (defaults to config.json).
// Values absent from the file keep their defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	cfg := Default()
	if err := json.NewDecoder(file).Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	baseDir := filepath.Dir(absPath)
	cfg.BasicConfig.UploadDir = resolvePath(baseDir, cfg.BasicConfig.UploadDir)
	if cfg.Log.File != "" {
		cfg.Log.File = resolvePath(baseDir, cfg.Log.File)
	}
	cfg.Telemetry.Dir = resolvePath(baseDir, cfg.Telemetry.Dir)
	if sqliteCfg, ok := cfg.Databases["sqlite3"]; ok && sqliteCfg.DSN != "" && !strings.HasPrefix(sqliteCfg.DSN, ":memory:") && !strings.HasPrefix(sqliteCfg.DSN, "file:") {
		sqliteCfg.DSN = resolvePath(baseDir, sqliteCfg.DSN)
		cfg.Databases["sqlite3"] = sqliteCfg
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fields the service cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.BasicConfig.MaxUploadMB <= 0 {
		errs = append(errs, errors.New("basic_config.max_upload_mb must be positive"))
	}
	if c.BasicConfig.UploadDir == "" {
		errs = append(errs, errors.New("basic_config.upload_dir must be configured"))
	}
	t := c.Translation
	if len(t.Languages) == 0 {
		errs = append(errs, errors.New("translation.languages must not be empty"))
	}
	if _, ok := t.Backends[t.GeneralBackend]; !ok {
		errs = append(errs, fmt.Errorf("translation.general_backend %q has no backend config", t.GeneralBackend))
	}
	for _, p := range t.Privileged {
		if _, ok := t.Backends[p.Backend]; !ok {
			errs = append(errs, fmt.Errorf("privileged pair %s-%s uses unknown backend %q", p.Source, p.Target, p.Backend))
		}
	}
	if err := t.Scoring.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(c.TTS.Engines) == 0 {
		errs = append(errs, errors.New("tts.engines must list at least one engine"))
	}
	return errors.Join(errs...)
}

// Validate checks the scoring weights. Negative penalties or bonuses would
// let confidence rise as the input gets shorter.
func (s ScoringConfig) Validate() error {
	var errs []error
	switch strings.ToLower(s.LengthUnit) {
	case "", "words", "chars":
	default:
		errs = append(errs, fmt.Errorf("translation.scoring.length_unit %q must be words or chars", s.LengthUnit))
	}
	kinds := make([]string, 0, len(s.BaseWeights))
	for kind := range s.BaseWeights {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		if w := s.BaseWeights[kind]; w < 0 || w > 100 {
			errs = append(errs, fmt.Errorf("translation.scoring.base_weights[%s] = %d must be within 0-100", kind, w))
		}
	}
	for _, f := range []struct {
		name  string
		value int
	}{
		{"short_text_threshold", s.ShortTextThreshold},
		{"short_text_penalty", s.ShortTextPenalty},
		{"high_resource_bonus", s.HighResourceBonus},
		{"rare_pair_penalty", s.RarePairPenalty},
	} {
		if f.value < 0 {
			errs = append(errs, fmt.Errorf("translation.scoring.%s = %d must not be negative", f.name, f.value))
		}
	}
	return errors.Join(errs...)
}

func (b BasicConfig) MaxUploadBytes() int64 {
	return int64(b.MaxUploadMB) << 20
}

func (b BasicConfig) UploadTTL() time.Duration {
	return time.Duration(b.UploadTTLMinutes) * time.Minute
}

func (b BasicConfig) CleanInterval() time.Duration {
	return time.Duration(b.CleanIntervalMinutes) * time.Minute
}

func (b BasicConfig) WorkerIdleTimeout() time.Duration {
	return time.Duration(b.WorkerIdleTimeoutSecs) * time.Second
}

func (b BasicConfig) ClientContextTTL() time.Duration {
	return time.Duration(b.ClientContextTTLHours) * time.Hour
}

func (t TranslationConfig) Timeout() time.Duration {
	return seconds(t.TimeoutSeconds, 30)
}

func (t TranslationConfig) CacheTTL() time.Duration {
	return time.Duration(t.CacheTTLMinutes) * time.Minute
}

func (o OCRConfig) Timeout() time.Duration {
	return seconds(o.TimeoutSeconds, 30)
}

func (t TTSConfig) Timeout() time.Duration {
	return seconds(t.TimeoutSeconds, 20)
}

func seconds(v, fallback int) time.Duration {
	if v <= 0 {
		v = fallback
	}
	return time.Duration(v) * time.Second
}

func resolvePath(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
