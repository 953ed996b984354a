package configutil

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/alinavoice/alina/pkg/backend"
	"github.com/alinavoice/alina/pkg/pipeline"
	"github.com/spf13/viper"
)

// Config is the full service configuration. Core sections (twilio, backend,
// provider API keys) are required; integration sections (mongo, asterisk,
// context transfer) degrade to disabled when left empty.
type Config struct {
	Pipeline      pipeline.Config       `mapstructure:"pipeline"`
	Engine        pipeline.EngineConfig `mapstructure:"engine"`
	Twilio        TwilioConfig          `mapstructure:"twilio"`
	Deepgram      DeepgramConfig        `mapstructure:"deepgram"`
	ElevenLabs    ElevenLabsConfig      `mapstructure:"elevenlabs"`
	OpenAI        OpenAIConfig          `mapstructure:"openai"`
	Backend       backend.Endpoints     `mapstructure:"backend"`
	Mongo         MongoConfig           `mapstructure:"mongo"`
	Transfer      TransferConfig        `mapstructure:"transfer"`
	Session       SessionConfig         `mapstructure:"session"`
	Cache         CacheConfig           `mapstructure:"cache"`
	WebSearch     WebSearchConfig       `mapstructure:"websearch"`
	Tools         ToolsConfig           `mapstructure:"tools"`
	STT           STTProcessingConfig   `mapstructure:"stt"`
	Turn          TurnConfig            `mapstructure:"turn"`
	Context       ContextConfig         `mapstructure:"context"`
	Recovery      RecoveryConfig        `mapstructure:"recovery"`
	Environment   string                `mapstructure:"environment"`
	LogLevel      string                `mapstructure:"log_level"`
	LogDir        string                `mapstructure:"log_dir"`
	Observability ObservabilityConfig   `mapstructure:"observability"`
	Privacy       PrivacyConfig         `mapstructure:"privacy"`
}

type TwilioConfig struct {
	AccountSID         string   `mapstructure:"account_sid"`
	AuthToken          string   `mapstructure:"auth_token"`
	PublicURL          string   `mapstructure:"public_url"`
	ServerAddr         string   `mapstructure:"server_addr"`
	VoicePath          string   `mapstructure:"voice_path"`
	WebsocketPath      string   `mapstructure:"ws_path"`
	TTSWebhookPath     string   `mapstructure:"tts_webhook_path"`
	StatusCallbackPath string   `mapstructure:"status_callback_path"`
	AllowAnyOrigin     bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins     []string `mapstructure:"allowed_origins"`
}

type DeepgramConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type ElevenLabsConfig struct {
	APIKey       string `mapstructure:"api_key"`
	VoiceID      string `mapstructure:"voice_id"`
	ModelID      string `mapstructure:"model_id"`
	OutputFormat string `mapstructure:"output_format"`
}

type OpenAIConfig struct {
	APIKey          string `mapstructure:"api_key"`
	AgentModel      string `mapstructure:"agent_model"`
	SupervisorModel string `mapstructure:"supervisor_model"`
	WebSearchModel  string `mapstructure:"websearch_model"`
}

type MongoConfig struct {
	URI           string `mapstructure:"uri"`
	LegacyCostURL string `mapstructure:"legacy_cost_url"`
	UserID        string `mapstructure:"user_id"`
}

type TransferConfig struct {
	AsteriskIP         string `mapstructure:"asterisk_ip"`
	ContextTransferURL string `mapstructure:"context_transfer_url"`
	RecordingBaseURL   string `mapstructure:"recording_base_url"`
}

type SessionConfig struct {
	PromptDir          string `mapstructure:"prompt_dir"`
	PromptArtifactDir  string `mapstructure:"prompt_artifact_dir"`
	DefaultAffiliateID int    `mapstructure:"default_affiliate_id"`
	DefaultFamilyID    int    `mapstructure:"default_family_id"`
	TypingAudioPath    string `mapstructure:"typing_audio_path"`
	HoldMusicPath      string `mapstructure:"hold_music_path"`
}

type CacheConfig struct {
	TTLHours      int    `mapstructure:"ttl_hours"`
	AffiliatePath string `mapstructure:"affiliate_path"`
	RiderPath     string `mapstructure:"rider_path"`
}

type WebSearchConfig struct {
	SummaryMaxTokens int `mapstructure:"summary_max_tokens"`
}

type ToolsConfig struct {
	Concurrency       int  `mapstructure:"concurrency"`
	TimeoutMS         int  `mapstructure:"timeout_ms"`
	Retries           int  `mapstructure:"retries"`
	RetryBackoffMS    int  `mapstructure:"retry_backoff_ms"`
	SerializeByStream bool `mapstructure:"serialize_by_stream"`
}

type STTProcessingConfig struct {
	ForwardInterim bool `mapstructure:"forward_interim"`
}

type TurnConfig struct {
	BargeInThresholdMS int                   `mapstructure:"barge_in_threshold_ms"`
	MinBargeInMS       int                   `mapstructure:"min_barge_in_ms"`
	EndOfTurnTimeoutMS int                   `mapstructure:"end_of_turn_timeout_ms"`
	SilenceReprompt    SilenceRepromptConfig `mapstructure:"silence_reprompt"`
}

type SilenceRepromptConfig struct {
	TimeoutMS   int    `mapstructure:"timeout_ms"`
	MaxAttempts int    `mapstructure:"max_attempts"`
	PromptText  string `mapstructure:"prompt_text"`
}

type ContextConfig struct {
	MaxHistory int `mapstructure:"max_history"`
	MaxTokens  int `mapstructure:"max_tokens"`
}

type RecoveryConfig struct {
	MaxAttempts int      `mapstructure:"max_attempts"`
	PromptText  string   `mapstructure:"prompt_text"`
	Phrases     []string `mapstructure:"phrases"`
}

type ObservabilityConfig struct {
	ArtifactsDir    string  `mapstructure:"artifacts_dir"`
	RecordAudio     bool    `mapstructure:"record_audio"`
	RetentionDays   int     `mapstructure:"retention_days"`
	EventSampleRate float64 `mapstructure:"event_sample_rate"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

// MongoEnabled reports whether call persistence is configured.
func (c Config) MongoEnabled() bool { return strings.TrimSpace(c.Mongo.URI) != "" }

// TransferEnabled reports whether SIP handoff to the dispatch PBX is configured.
func (c Config) TransferEnabled() bool { return strings.TrimSpace(c.Transfer.AsteriskIP) != "" }

// ContextTransferEnabled reports whether dispatcher context packets are configured.
func (c Config) ContextTransferEnabled() bool {
	return strings.TrimSpace(c.Transfer.ContextTransferURL) != ""
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("pipeline.async", true)
	v.SetDefault("pipeline.stagebuffer", 128)
	v.SetDefault("pipeline.highcapacity", 256)
	v.SetDefault("pipeline.lowcapacity", 512)
	v.SetDefault("pipeline.fairnessratio", 3)
	v.SetDefault("pipeline.backpressure", "drop")
	v.SetDefault("engine.samplerate", 8000)
	v.SetDefault("engine.stt_replay_chunks", 50)
	v.SetDefault("twilio.server_addr", ":8080")
	v.SetDefault("twilio.voice_path", "/voice")
	v.SetDefault("twilio.ws_path", "/ws")
	v.SetDefault("twilio.tts_webhook_path", "/tts-done")
	v.SetDefault("twilio.status_callback_path", "/call-status")
	v.SetDefault("deepgram.model", "nova-3")
	v.SetDefault("elevenlabs.model_id", "eleven_turbo_v2_5")
	v.SetDefault("elevenlabs.output_format", "ulaw_8000")
	v.SetDefault("openai.agent_model", "gpt-4.1-mini")
	v.SetDefault("openai.supervisor_model", "gpt-4o-mini")
	v.SetDefault("openai.websearch_model", "gpt-4o")
	v.SetDefault("session.prompt_dir", "prompts")
	v.SetDefault("session.prompt_artifact_dir", "")
	v.SetDefault("session.default_affiliate_id", 0)
	v.SetDefault("session.default_family_id", 0)
	v.SetDefault("session.typing_audio_path", "")
	v.SetDefault("session.hold_music_path", "")
	v.SetDefault("cache.ttl_hours", 24)
	v.SetDefault("cache.affiliate_path", "")
	v.SetDefault("cache.rider_path", "")
	v.SetDefault("websearch.summary_max_tokens", 100)
	v.SetDefault("tools.concurrency", 4)
	v.SetDefault("tools.timeout_ms", 30000)
	v.SetDefault("tools.retries", 1)
	v.SetDefault("tools.retry_backoff_ms", 200)
	v.SetDefault("tools.serialize_by_stream", true)
	v.SetDefault("stt.forward_interim", false)
	v.SetDefault("turn.barge_in_threshold_ms", 500)
	v.SetDefault("turn.min_barge_in_ms", 300)
	v.SetDefault("turn.end_of_turn_timeout_ms", 0)
	v.SetDefault("turn.silence_reprompt.timeout_ms", 0)
	v.SetDefault("turn.silence_reprompt.max_attempts", 0)
	v.SetDefault("turn.silence_reprompt.prompt_text", "")
	v.SetDefault("context.max_history", 40)
	v.SetDefault("context.max_tokens", 0)
	v.SetDefault("recovery.max_attempts", 2)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_dir", "logs")
	v.SetDefault("observability.artifacts_dir", "")
	v.SetDefault("observability.record_audio", false)
	v.SetDefault("observability.retention_days", 0)
	v.SetDefault("observability.event_sample_rate", 1.0)
	v.SetDefault("privacy.redact_pii", true)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	// Catch misspelled twilio keys early; a silently ignored auth_token
	// typo would otherwise surface as signature failures at call time.
	if sub := v.GetStringMap("twilio"); len(sub) > 0 {
		err := ValidateSettings(sub, Schema{
			Required: []string{"account_sid", "auth_token", "public_url"},
			Optional: []string{
				"server_addr", "voice_path", "ws_path", "tts_webhook_path",
				"status_callback_path", "allow_any_origin", "allowed_origins",
			},
		})
		if err != nil {
			return Config{}, fmt.Errorf("twilio config: %w", err)
		}
	}

	var raw struct {
		Pipeline struct {
			Async         bool   `mapstructure:"async"`
			StageBuffer   int    `mapstructure:"stagebuffer"`
			HighCapacity  int    `mapstructure:"highcapacity"`
			LowCapacity   int    `mapstructure:"lowcapacity"`
			FairnessRatio int    `mapstructure:"fairnessratio"`
			Backpressure  string `mapstructure:"backpressure"`
		} `mapstructure:"pipeline"`
		Engine        pipeline.EngineConfig `mapstructure:"engine"`
		Twilio        TwilioConfig          `mapstructure:"twilio"`
		Deepgram      DeepgramConfig        `mapstructure:"deepgram"`
		ElevenLabs    ElevenLabsConfig      `mapstructure:"elevenlabs"`
		OpenAI        OpenAIConfig          `mapstructure:"openai"`
		Backend       backend.Endpoints     `mapstructure:"backend"`
		Mongo         MongoConfig           `mapstructure:"mongo"`
		Transfer      TransferConfig        `mapstructure:"transfer"`
		Session       SessionConfig         `mapstructure:"session"`
		Cache         CacheConfig           `mapstructure:"cache"`
		WebSearch     WebSearchConfig       `mapstructure:"websearch"`
		Tools         ToolsConfig           `mapstructure:"tools"`
		STT           STTProcessingConfig   `mapstructure:"stt"`
		Turn          TurnConfig            `mapstructure:"turn"`
		Context       ContextConfig         `mapstructure:"context"`
		Recovery      RecoveryConfig        `mapstructure:"recovery"`
		Environment   string                `mapstructure:"environment"`
		LogLevel      string                `mapstructure:"log_level"`
		LogDir        string                `mapstructure:"log_dir"`
		Observability ObservabilityConfig   `mapstructure:"observability"`
		Privacy       PrivacyConfig         `mapstructure:"privacy"`
	}
	if err := v.Unmarshal(&raw); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	cfg := Config{
		Pipeline: pipeline.Config{
			Async:         raw.Pipeline.Async,
			StageBuffer:   raw.Pipeline.StageBuffer,
			HighCapacity:  raw.Pipeline.HighCapacity,
			LowCapacity:   raw.Pipeline.LowCapacity,
			FairnessRatio: raw.Pipeline.FairnessRatio,
			Backpressure:  parseBackpressure(raw.Pipeline.Backpressure),
		},
		Engine:        raw.Engine,
		Twilio:        raw.Twilio,
		Deepgram:      raw.Deepgram,
		ElevenLabs:    raw.ElevenLabs,
		OpenAI:        raw.OpenAI,
		Backend:       raw.Backend,
		Mongo:         raw.Mongo,
		Transfer:      raw.Transfer,
		Session:       raw.Session,
		Cache:         raw.Cache,
		WebSearch:     raw.WebSearch,
		Tools:         raw.Tools,
		STT:           raw.STT,
		Turn:          raw.Turn,
		Context:       raw.Context,
		Recovery:      raw.Recovery,
		Environment:   raw.Environment,
		LogLevel:      raw.LogLevel,
		LogDir:        raw.LogDir,
		Observability: raw.Observability,
		Privacy:       raw.Privacy,
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks the settings the service cannot run without. Integration
// sections are deliberately absent here; empty means disabled.
func (c *Config) Validate() error {
	required := []struct {
		value string
		path  string
	}{
		{c.Twilio.AccountSID, "twilio.account_sid"},
		{c.Twilio.AuthToken, "twilio.auth_token"},
		{c.Twilio.PublicURL, "twilio.public_url"},
		{c.Deepgram.APIKey, "deepgram.api_key"},
		{c.ElevenLabs.APIKey, "elevenlabs.api_key"},
		{c.ElevenLabs.VoiceID, "elevenlabs.voice_id"},
		{c.OpenAI.APIKey, "openai.api_key"},
		{c.Backend.AffiliateList, "backend.affiliate_list_url"},
		{c.Backend.SearchClient, "backend.search_client_url"},
		{c.Backend.RiderProfile, "backend.rider_profile_url"},
		{c.Backend.FareEstimate, "backend.fare_estimate_url"},
		{c.Backend.BookTrip, "backend.book_trip_url"},
		{c.Backend.Geocode, "backend.geocode_url"},
	}
	for _, r := range required {
		if err := RequireString(r.value, r.path); err != nil {
			return err
		}
	}
	return nil
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	case reflect.Map:
		if v.Type().Key().Kind() == reflect.String && v.Type().Elem().Kind() == reflect.String {
			for _, key := range v.MapKeys() {
				val := v.MapIndex(key)
				expanded := os.ExpandEnv(val.String())
				v.SetMapIndex(key, reflect.ValueOf(expanded))
			}
		}
	}
}

func parseBackpressure(v string) pipeline.BackpressureMode {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "wait":
		return pipeline.BackpressureWait
	case "drop", "":
		return pipeline.BackpressureDrop
	default:
		if n, err := strconv.Atoi(v); err == nil {
			return pipeline.BackpressureMode(n)
		}
	}
	return pipeline.BackpressureDrop
}
