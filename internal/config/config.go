package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/audiolibrelab/avatarhost/internal/llm"
	"github.com/audiolibrelab/avatarhost/internal/tts"
)

// CanonicalSampleRate is the only sample rate the session works in.
const CanonicalSampleRate = 16000

type DefinitionsConfig struct {
	Slots []SlotDefinition `mapstructure:"slots" yaml:"slots"`
}

// SlotDefinition describes one loopable image+audio pair selected by an
// integer custom state id.
type SlotDefinition struct {
	ID        int            `mapstructure:"id" yaml:"id"`
	Name      string         `mapstructure:"name" yaml:"name"`
	ImagePath string         `mapstructure:"image_path" yaml:"image_path"`
	AudioPath string         `mapstructure:"audio_path" yaml:"audio_path"`
	Options   map[string]any `mapstructure:"options" yaml:"options,omitempty"`
}

type SlotReference struct {
	Ref     int            `mapstructure:"ref" yaml:"ref"`
	Options map[string]any `mapstructure:"options,omitempty" yaml:"options,omitempty"` // merged over the definition
}

type RootConfig struct {
	ActiveConfig string                    `mapstructure:"active_config" yaml:"active_config"`
	Definitions  *DefinitionsConfig        `mapstructure:"definitions,omitempty" yaml:"definitions,omitempty"`
	Configs      map[string]*ConfigProfile `mapstructure:"configs" yaml:"configs"`
}

// Config is the resolved, immutable configuration of one host process.
type Config struct {
	Session   SessionConfig    `mapstructure:"session" yaml:"session"`
	Audio     AudioConfig      `mapstructure:"audio" yaml:"audio"`
	Backend   BackendConfig    `mapstructure:"backend" yaml:"backend"`
	Recording RecordingConfig  `mapstructure:"recording" yaml:"recording"`
	Idle      IdleConfig       `mapstructure:"idle" yaml:"idle"`
	TTS       TTSConfig        `mapstructure:"tts" yaml:"tts"`
	LLM       LLMConfig        `mapstructure:"llm" yaml:"llm"`
	Storage   StorageConfig    `mapstructure:"storage" yaml:"storage"`
	Events    EventsConfig     `mapstructure:"events" yaml:"events"`
	Server    ServerConfig     `mapstructure:"server" yaml:"server"`
	Slots     []SlotDefinition `mapstructure:"slots" yaml:"slots"`

	// Profile is the name of the profile this config was resolved from
	Profile string `mapstructure:"-" yaml:"-"`
}

type ConfigProfile struct {
	Session   SessionConfig   `mapstructure:"session" yaml:"session"`
	Audio     AudioConfig     `mapstructure:"audio" yaml:"audio"`
	Backend   BackendConfig   `mapstructure:"backend" yaml:"backend"`
	Recording RecordingConfig `mapstructure:"recording" yaml:"recording"`
	Idle      IdleConfig      `mapstructure:"idle" yaml:"idle"`
	TTS       TTSConfig       `mapstructure:"tts" yaml:"tts"`
	LLM       LLMConfig       `mapstructure:"llm" yaml:"llm"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Events    EventsConfig    `mapstructure:"events" yaml:"events"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Slots     []SlotReference `mapstructure:"slots" yaml:"slots"`
}

type SessionConfig struct {
	Username  string `mapstructure:"username" yaml:"username"`
	SessionID string `mapstructure:"session_id" yaml:"session_id"`
	FPS       int    `mapstructure:"fps" yaml:"fps"` // audio frames per second, frame size is 16000/fps
}

type AudioConfig struct {
	ResampleFilter string `mapstructure:"resample_filter" yaml:"resample_filter"`
	QueueSize      int    `mapstructure:"queue_size" yaml:"queue_size"`
}

type BackendConfig struct {
	BaseURL string        `mapstructure:"base_url" yaml:"base_url"`
	Token   string        `mapstructure:"token" yaml:"token,omitempty"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type RecordingConfig struct {
	VideosRoot string `mapstructure:"videos_root" yaml:"videos_root"`
	FFmpeg     string `mapstructure:"ffmpeg" yaml:"ffmpeg"`
	FFprobe    string `mapstructure:"ffprobe" yaml:"ffprobe"`
	VideoFPS   int    `mapstructure:"video_fps" yaml:"video_fps"`
	VideoCodec string `mapstructure:"video_codec" yaml:"video_codec"`
	AudioCodec string `mapstructure:"audio_codec" yaml:"audio_codec"`
}

type IdleConfig struct {
	ImagePath string `mapstructure:"image_path" yaml:"image_path"`
	Width     int    `mapstructure:"width" yaml:"width"`   // used for the blank loop when no image_path is set
	Height    int    `mapstructure:"height" yaml:"height"`
}

type TTSConfig struct {
	Engine   string        `mapstructure:"engine" yaml:"engine"` // empty disables speech synthesis
	Endpoint string        `mapstructure:"endpoint" yaml:"endpoint"`
	Voice    string        `mapstructure:"voice" yaml:"voice"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type LLMConfig struct {
	Provider     string `mapstructure:"provider" yaml:"provider"` // "ollama", "gemini" or empty
	Model        string `mapstructure:"model" yaml:"model"`
	OllamaURL    string `mapstructure:"ollama_url" yaml:"ollama_url"`
	APIKey       string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	SystemPrompt string `mapstructure:"system_prompt" yaml:"system_prompt"`
}

type StorageConfig struct {
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"` // empty disables upload
	AccessKey string `mapstructure:"access_key" yaml:"access_key,omitempty"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key,omitempty"`
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	Secure    bool   `mapstructure:"secure" yaml:"secure"`
}

type EventsConfig struct {
	Brokers []string `mapstructure:"brokers" yaml:"brokers"` // empty disables publishing
	Topic   string   `mapstructure:"topic" yaml:"topic"`
}

type ServerConfig struct {
	Port string `mapstructure:"port" yaml:"port"`
}

var defaultConfig = Config{
	Session: SessionConfig{
		Username: "default",
		FPS:      50,
	},
	Audio: AudioConfig{
		ResampleFilter: "aresample=resampler=swr:filter_size=32",
		QueueSize:      1500,
	},
	Backend: BackendConfig{
		BaseURL: "http://localhost:8888",
		Timeout: 10 * time.Second,
	},
	Recording: RecordingConfig{
		VideosRoot: "videos",
		FFmpeg:     "ffmpeg",
		FFprobe:    "ffprobe",
		VideoFPS:   25,
		VideoCodec: "h264",
		AudioCodec: "aac",
	},
	Idle: IdleConfig{
		Width:  512,
		Height: 512,
	},
	TTS: TTSConfig{
		Timeout: 60 * time.Second,
	},
	LLM: LLMConfig{
		Model:        "llama3",
		OllamaURL:    "http://localhost:11434",
		SystemPrompt: "You are a helpful assistant. Answer briefly and directly.",
	},
	Storage: StorageConfig{
		Bucket: "recordings",
	},
	Events: EventsConfig{
		Topic: "recording.events",
	},
	Server: ServerConfig{
		Port: "8010",
	},
}

// Default returns a copy of the built-in configuration.
func Default() *Config {
	cfg := defaultConfig
	return &cfg
}

// FrameSize returns the number of samples in one audio frame.
func (c *Config) FrameSize() int {
	return CanonicalSampleRate / c.Session.FPS
}

// AudioFramesPerVideoFrame returns how many audio frames are played per rendered image.
func (c *Config) AudioFramesPerVideoFrame() int {
	return c.Session.FPS / c.Recording.VideoFPS
}

// SlotByID returns the slot definition for id.
func (c *Config) SlotByID(id int) (SlotDefinition, bool) {
	for _, s := range c.Slots {
		if s.ID == id {
			return s, true
		}
	}
	return SlotDefinition{}, false
}

func LoadWithProfile(configFile, profile string) (*Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("no config file specified, use --config flag")
	}

	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	configName := profile
	if configName == "" {
		configName = rootConfig.ActiveConfig
	}
	if configName == "" {
		configName = "default"
	}

	selectedProfile, exists := rootConfig.Configs[configName]
	if !exists {
		return nil, fmt.Errorf("configuration profile '%s' not found", configName)
	}

	selectedConfig, err := convertProfileToConfig(selectedProfile, rootConfig.Definitions)
	if err != nil {
		return nil, fmt.Errorf("error resolving configuration profile '%s': %w", configName, err)
	}

	// Profiles other than default fall back to default for anything they leave unset
	if configName != "default" {
		if defaultProfile, exists := rootConfig.Configs["default"]; exists {
			base, err := convertProfileToConfig(defaultProfile, rootConfig.Definitions)
			if err != nil {
				return nil, fmt.Errorf("error resolving default configuration: %w", err)
			}
			selectedConfig = mergeConfigs(base, selectedConfig)
		}
	}

	selectedConfig = mergeConfigs(Default(), selectedConfig)
	selectedConfig.Profile = configName
	applyEnvOverrides(selectedConfig)

	selectedConfig.Recording.VideosRoot = expandPath(selectedConfig.Recording.VideosRoot)
	selectedConfig.Idle.ImagePath = expandPath(selectedConfig.Idle.ImagePath)
	for i := range selectedConfig.Slots {
		selectedConfig.Slots[i].ImagePath = expandPath(selectedConfig.Slots[i].ImagePath)
		selectedConfig.Slots[i].AudioPath = expandPath(selectedConfig.Slots[i].AudioPath)
	}

	if err := Validate(selectedConfig); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return selectedConfig, nil
}

// UpdateActiveConfig updates the active_config field in the config file
func UpdateActiveConfig(configFile, newActiveConfig string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	v := viper.New()
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	v.Set("active_config", newActiveConfig)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}

	return nil
}

// ListProfiles returns the profile names declared in the config file.
func ListProfiles(configFile string) ([]string, string, error) {
	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return nil, "", err
	}
	names := make([]string, 0, len(rootConfig.Configs))
	for name := range rootConfig.Configs {
		names = append(names, name)
	}
	return names, rootConfig.ActiveConfig, nil
}

// convertProfileToConfig converts a ConfigProfile to Config by resolving slot references
func convertProfileToConfig(profile *ConfigProfile, definitions *DefinitionsConfig) (*Config, error) {
	if profile == nil {
		return nil, fmt.Errorf("profile cannot be nil")
	}

	config := &Config{
		Session:   profile.Session,
		Audio:     profile.Audio,
		Backend:   profile.Backend,
		Recording: profile.Recording,
		Idle:      profile.Idle,
		TTS:       profile.TTS,
		LLM:       profile.LLM,
		Storage:   profile.Storage,
		Events:    profile.Events,
		Server:    profile.Server,
	}

	for i, ref := range profile.Slots {
		definition := findDefinition(definitions, ref.Ref)
		if definition == nil {
			return nil, fmt.Errorf("slots[%d]: reference '%d' not found in definitions", i, ref.Ref)
		}

		slot := *definition
		slot.Options = mergeOptions(definition.Options, ref.Options)
		config.Slots = append(config.Slots, slot)
	}

	return config, nil
}

func findDefinition(definitions *DefinitionsConfig, id int) *SlotDefinition {
	if definitions == nil {
		return nil
	}
	for i := range definitions.Slots {
		if definitions.Slots[i].ID == id {
			return &definitions.Slots[i]
		}
	}
	return nil
}

func mergeOptions(base, override map[string]any) map[string]any {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}
	merged := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}

// mergeConfigs returns base with every value the profile sets layered on top.
// Slots are not inherited: a profile that lists slots owns its slot list,
// one that lists none keeps the base slots.
func mergeConfigs(base, profile *Config) *Config {
	result := &Config{}
	if base != nil {
		*result = *base
		result.Slots = append([]SlotDefinition(nil), base.Slots...)
	}
	if profile == nil {
		return result
	}

	overrideString(&result.Session.Username, profile.Session.Username)
	overrideString(&result.Session.SessionID, profile.Session.SessionID)
	overrideInt(&result.Session.FPS, profile.Session.FPS)

	overrideString(&result.Audio.ResampleFilter, profile.Audio.ResampleFilter)
	overrideInt(&result.Audio.QueueSize, profile.Audio.QueueSize)

	overrideString(&result.Backend.BaseURL, profile.Backend.BaseURL)
	overrideString(&result.Backend.Token, profile.Backend.Token)
	if profile.Backend.Timeout > 0 {
		result.Backend.Timeout = profile.Backend.Timeout
	}

	overrideString(&result.Recording.VideosRoot, profile.Recording.VideosRoot)
	overrideString(&result.Recording.FFmpeg, profile.Recording.FFmpeg)
	overrideString(&result.Recording.FFprobe, profile.Recording.FFprobe)
	overrideInt(&result.Recording.VideoFPS, profile.Recording.VideoFPS)
	overrideString(&result.Recording.VideoCodec, profile.Recording.VideoCodec)
	overrideString(&result.Recording.AudioCodec, profile.Recording.AudioCodec)

	overrideString(&result.Idle.ImagePath, profile.Idle.ImagePath)
	overrideInt(&result.Idle.Width, profile.Idle.Width)
	overrideInt(&result.Idle.Height, profile.Idle.Height)

	overrideString(&result.TTS.Engine, profile.TTS.Engine)
	overrideString(&result.TTS.Endpoint, profile.TTS.Endpoint)
	overrideString(&result.TTS.Voice, profile.TTS.Voice)
	if profile.TTS.Timeout > 0 {
		result.TTS.Timeout = profile.TTS.Timeout
	}

	overrideString(&result.LLM.Provider, profile.LLM.Provider)
	overrideString(&result.LLM.Model, profile.LLM.Model)
	overrideString(&result.LLM.OllamaURL, profile.LLM.OllamaURL)
	overrideString(&result.LLM.APIKey, profile.LLM.APIKey)
	overrideString(&result.LLM.SystemPrompt, profile.LLM.SystemPrompt)

	overrideString(&result.Storage.Endpoint, profile.Storage.Endpoint)
	overrideString(&result.Storage.AccessKey, profile.Storage.AccessKey)
	overrideString(&result.Storage.SecretKey, profile.Storage.SecretKey)
	overrideString(&result.Storage.Bucket, profile.Storage.Bucket)
	if profile.Storage.Secure {
		result.Storage.Secure = true
	}

	if len(profile.Events.Brokers) > 0 {
		result.Events.Brokers = profile.Events.Brokers
	}
	overrideString(&result.Events.Topic, profile.Events.Topic)

	overrideString(&result.Server.Port, profile.Server.Port)

	if len(profile.Slots) > 0 {
		result.Slots = append([]SlotDefinition(nil), profile.Slots...)
	}

	result.Profile = profile.Profile
	return result
}

func overrideString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func overrideInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

// applyEnvOverrides lets credentials come from the environment instead of the file.
func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("AVATARHOST_BACKEND_TOKEN"); ok && v != "" {
		cfg.Backend.Token = v
	}
	if v, ok := os.LookupEnv("AVATARHOST_SESSION_ID"); ok && v != "" {
		cfg.Session.SessionID = v
	}
	if v, ok := os.LookupEnv("AVATARHOST_LLM_API_KEY"); ok && v != "" {
		cfg.LLM.APIKey = v
	}
	if v, ok := os.LookupEnv("AVATARHOST_STORAGE_ACCESS_KEY"); ok && v != "" {
		cfg.Storage.AccessKey = v
	}
	if v, ok := os.LookupEnv("AVATARHOST_STORAGE_SECRET_KEY"); ok && v != "" {
		cfg.Storage.SecretKey = v
	}
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// ValidateConfigurationFormat validates the configuration file format and returns parsed config
func ValidateConfigurationFormat(configFile string) (*RootConfig, error) {
	v := viper.New()
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if len(rootConfig.Configs) == 0 {
		return nil, fmt.Errorf("configs section is required")
	}

	if err := validateDefinitions(rootConfig.Definitions); err != nil {
		return nil, fmt.Errorf("invalid definitions: %w", err)
	}

	for configName, configProfile := range rootConfig.Configs {
		if configProfile == nil {
			continue
		}
		if err := validateSlotReferences(configProfile.Slots, rootConfig.Definitions); err != nil {
			return nil, fmt.Errorf("invalid config '%s': %w", configName, err)
		}
	}

	return &rootConfig, nil
}

// validateDefinitions validates the definitions section. Definitions are
// optional: a host without custom slots only plays the idle loop.
func validateDefinitions(definitions *DefinitionsConfig) error {
	if definitions == nil {
		return nil
	}

	seenIDs := make(map[int]bool)
	for i, def := range definitions.Slots {
		prefix := fmt.Sprintf("definitions.slots[%d]", i)
		if seenIDs[def.ID] {
			return fmt.Errorf("%s: duplicate ID '%d'", prefix, def.ID)
		}
		seenIDs[def.ID] = true

		if err := validateSlotDefinition(def, prefix); err != nil {
			return err
		}
	}

	return nil
}

func validateSlotDefinition(def SlotDefinition, prefix string) error {
	if def.ID == 0 {
		return fmt.Errorf("%s: 'id' 0 is reserved for the idle loop", prefix)
	}
	if def.ID < 0 {
		return fmt.Errorf("%s: 'id' must be positive, got: %d", prefix, def.ID)
	}
	if def.ImagePath == "" {
		return fmt.Errorf("%s: 'image_path' is required", prefix)
	}
	if def.AudioPath == "" {
		return fmt.Errorf("%s: 'audio_path' is required", prefix)
	}
	return nil
}

func validateSlotReferences(refs []SlotReference, definitions *DefinitionsConfig) error {
	seen := make(map[int]bool)
	for i, ref := range refs {
		prefix := fmt.Sprintf("slots[%d]", i)
		if findDefinition(definitions, ref.Ref) == nil {
			return fmt.Errorf("%s: references undefined slot definition '%d'", prefix, ref.Ref)
		}
		if seen[ref.Ref] {
			return fmt.Errorf("%s: slot '%d' listed twice", prefix, ref.Ref)
		}
		seen[ref.Ref] = true
	}
	return nil
}

// Validate checks a resolved configuration.
func Validate(cfg *Config) error {
	if cfg.Session.FPS <= 0 {
		return fmt.Errorf("session.fps must be > 0, got: %d", cfg.Session.FPS)
	}
	if CanonicalSampleRate%cfg.Session.FPS != 0 {
		return fmt.Errorf("session.fps must divide %d, got: %d", CanonicalSampleRate, cfg.Session.FPS)
	}
	if cfg.Session.Username == "" {
		return fmt.Errorf("session.username is required")
	}
	if strings.ContainsAny(cfg.Session.Username, `/\`) {
		return fmt.Errorf("session.username must not contain path separators, got: %s", cfg.Session.Username)
	}
	if cfg.Recording.VideoFPS <= 0 {
		return fmt.Errorf("recording.video_fps must be > 0, got: %d", cfg.Recording.VideoFPS)
	}
	if cfg.Session.FPS%cfg.Recording.VideoFPS != 0 {
		return fmt.Errorf("session.fps (%d) must be a multiple of recording.video_fps (%d)", cfg.Session.FPS, cfg.Recording.VideoFPS)
	}
	if cfg.Recording.FFmpeg == "" {
		return fmt.Errorf("recording.ffmpeg is required")
	}
	if cfg.Idle.ImagePath == "" && (cfg.Idle.Width <= 0 || cfg.Idle.Height <= 0) {
		return fmt.Errorf("idle.width and idle.height must be > 0 when idle.image_path is not set")
	}
	if cfg.Audio.QueueSize <= 0 {
		return fmt.Errorf("audio.queue_size must be > 0, got: %d", cfg.Audio.QueueSize)
	}

	provider, err := llm.ParseProvider(cfg.LLM.Provider)
	if err != nil {
		return fmt.Errorf("llm.provider: %w", err)
	}
	if provider == llm.ProviderGemini && cfg.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required for provider 'gemini'")
	}

	kind, err := tts.ParseKind(cfg.TTS.Engine)
	if err != nil {
		return fmt.Errorf("tts.engine: %w", err)
	}
	if kind != tts.KindNone && cfg.TTS.Endpoint == "" {
		return fmt.Errorf("tts.endpoint is required when tts.engine is set")
	}

	if cfg.Storage.Endpoint != "" && cfg.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required when storage.endpoint is set")
	}

	seen := make(map[int]bool)
	for i, slot := range cfg.Slots {
		if err := validateSlotDefinition(slot, fmt.Sprintf("slots[%d]", i)); err != nil {
			return err
		}
		if seen[slot.ID] {
			return fmt.Errorf("slots[%d]: duplicate ID '%d'", i, slot.ID)
		}
		seen[slot.ID] = true
	}

	return nil
}
