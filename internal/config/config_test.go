package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validConfig = `
active_config: studio

definitions:
  slots:
    - id: 1
      name: muted
      image_path: /assets/muted
      audio_path: /assets/muted.wav
    - id: 2
      name: greeting
      image_path: /assets/greeting
      audio_path: /assets/greeting.wav
      options:
        loop: true

configs:
  default:
    session:
      username: alice
      fps: 50
    backend:
      base_url: http://backend:8888
      timeout: 5s
    slots:
      - ref: 1
  studio:
    session:
      session_id: "42"
    recording:
      videos_root: /srv/videos
    slots:
      - ref: 1
      - ref: 2
        options:
          loop: false
`

func TestLoadWithProfile_ActiveProfileMergedOverDefault(t *testing.T) {
	configFile := createTempConfig(t, validConfig)

	cfg, err := LoadWithProfile(configFile, "")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.Profile != "studio" {
		t.Errorf("Expected profile 'studio', got %s", cfg.Profile)
	}

	// Inherited from default
	if cfg.Session.Username != "alice" {
		t.Errorf("Expected username inherited as 'alice', got %s", cfg.Session.Username)
	}
	if cfg.Backend.BaseURL != "http://backend:8888" {
		t.Errorf("Expected backend url inherited, got %s", cfg.Backend.BaseURL)
	}
	if cfg.Backend.Timeout != 5*time.Second {
		t.Errorf("Expected timeout 5s, got %s", cfg.Backend.Timeout)
	}

	// Profile-specific
	if cfg.Session.SessionID != "42" {
		t.Errorf("Expected session id '42', got %s", cfg.Session.SessionID)
	}
	if cfg.Recording.VideosRoot != "/srv/videos" {
		t.Errorf("Expected videos root '/srv/videos', got %s", cfg.Recording.VideosRoot)
	}

	// Built-in defaults
	if cfg.Recording.VideoFPS != 25 || cfg.Recording.FFmpeg != "ffmpeg" {
		t.Errorf("Expected built-in recording defaults, got %+v", cfg.Recording)
	}
	if cfg.FrameSize() != 320 {
		t.Errorf("Expected frame size 320, got %d", cfg.FrameSize())
	}
	if cfg.AudioFramesPerVideoFrame() != 2 {
		t.Errorf("Expected 2 audio frames per video frame, got %d", cfg.AudioFramesPerVideoFrame())
	}

	// Slots come from the profile only
	if len(cfg.Slots) != 2 {
		t.Fatalf("Expected 2 slots, got %d", len(cfg.Slots))
	}
	greeting, ok := cfg.SlotByID(2)
	if !ok {
		t.Fatal("Expected slot 2 to be resolved")
	}
	if greeting.Name != "greeting" || greeting.ImagePath != "/assets/greeting" {
		t.Errorf("Slot 2 incorrect: %+v", greeting)
	}
	if loop, _ := greeting.Options["loop"].(bool); loop {
		t.Errorf("Expected option override loop=false, got %v", greeting.Options["loop"])
	}
}

func TestLoadWithProfile_ExplicitProfile(t *testing.T) {
	configFile := createTempConfig(t, validConfig)

	cfg, err := LoadWithProfile(configFile, "default")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(cfg.Slots) != 1 || cfg.Slots[0].ID != 1 {
		t.Errorf("Expected only slot 1 in default profile, got %+v", cfg.Slots)
	}
	if cfg.Session.SessionID != "" {
		t.Errorf("Expected empty session id, got %s", cfg.Session.SessionID)
	}
}

func TestLoadWithProfile_UnknownProfile(t *testing.T) {
	configFile := createTempConfig(t, validConfig)

	_, err := LoadWithProfile(configFile, "missing")
	if err == nil {
		t.Fatal("Expected error for unknown profile")
	}
	if !strings.Contains(err.Error(), "'missing' not found") {
		t.Errorf("Expected not found error, got: %v", err)
	}
}

func TestLoadWithProfile_EnvOverridesToken(t *testing.T) {
	configFile := createTempConfig(t, validConfig)
	t.Setenv("AVATARHOST_BACKEND_TOKEN", "secret")

	cfg, err := LoadWithProfile(configFile, "")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if cfg.Backend.Token != "secret" {
		t.Errorf("Expected token from environment, got %q", cfg.Backend.Token)
	}
}

func TestLoadWithProfile_NoConfigFile(t *testing.T) {
	if _, err := LoadWithProfile("", ""); err == nil {
		t.Error("Expected error when no config file is given")
	}
}

func TestValidateConfigurationFormat_InvalidReference(t *testing.T) {
	content := `
definitions:
  slots:
    - id: 2
      image_path: /a
      audio_path: /a.wav
configs:
  default:
    slots:
      - ref: 7
`
	_, err := ValidateConfigurationFormat(createTempConfig(t, content))
	if err == nil {
		t.Fatal("Expected error for invalid reference")
	}
	if !strings.Contains(err.Error(), "undefined slot definition '7'") {
		t.Errorf("Expected undefined reference error, got: %v", err)
	}
}

func TestValidateConfigurationFormat_InvalidSlotDefinitions(t *testing.T) {
	tests := []struct {
		name    string
		slots   string
		wantErr string
	}{
		{
			name: "reserved idle id",
			slots: `
    - id: 0
      image_path: /a
      audio_path: /a.wav`,
			wantErr: "reserved for the idle loop",
		},
		{
			name: "duplicate id",
			slots: `
    - id: 3
      image_path: /a
      audio_path: /a.wav
    - id: 3
      image_path: /b
      audio_path: /b.wav`,
			wantErr: "duplicate ID '3'",
		},
		{
			name: "missing image path",
			slots: `
    - id: 3
      audio_path: /a.wav`,
			wantErr: "'image_path' is required",
		},
		{
			name: "missing audio path",
			slots: `
    - id: 3
      image_path: /a`,
			wantErr: "'audio_path' is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := "definitions:\n  slots:" + tt.slots + "\nconfigs:\n  default: {}\n"
			_, err := ValidateConfigurationFormat(createTempConfig(t, content))
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateConfigurationFormat_MissingConfigs(t *testing.T) {
	_, err := ValidateConfigurationFormat(createTempConfig(t, "active_config: default\n"))
	if err == nil || !strings.Contains(err.Error(), "configs section is required") {
		t.Errorf("Expected missing configs error, got: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(c *Config) {}},
		{name: "fps must divide sample rate", mutate: func(c *Config) { c.Session.FPS = 60 }, wantErr: "must divide 16000"},
		{name: "fps multiple of video fps", mutate: func(c *Config) { c.Session.FPS = 40 }, wantErr: "multiple of recording.video_fps"},
		{name: "username without separators", mutate: func(c *Config) { c.Session.Username = "a/b" }, wantErr: "path separators"},
		{name: "blank idle needs dimensions", mutate: func(c *Config) { c.Idle.Width = 0 }, wantErr: "idle.width"},
		{name: "unknown llm provider", mutate: func(c *Config) { c.LLM.Provider = "gpt" }, wantErr: "llm.provider"},
		{name: "gemini needs key", mutate: func(c *Config) { c.LLM.Provider = "gemini" }, wantErr: "llm.api_key"},
		{name: "unknown tts engine", mutate: func(c *Config) { c.TTS.Engine = "robot"; c.TTS.Endpoint = "http://tts" }, wantErr: "tts.engine"},
		{name: "tts engine needs endpoint", mutate: func(c *Config) { c.TTS.Engine = "edgetts" }, wantErr: "tts.endpoint"},
		{
			name:    "duplicate slots",
			mutate:  func(c *Config) { c.Slots = []SlotDefinition{{ID: 2, ImagePath: "a", AudioPath: "b"}, {ID: 2, ImagePath: "a", AudioPath: "b"}} },
			wantErr: "duplicate ID",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected no error, got: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestMergeConfigs_SlotSelection(t *testing.T) {
	base := &Config{
		Session: SessionConfig{Username: "base", FPS: 50},
		Slots: []SlotDefinition{
			{ID: 1, ImagePath: "base/1", AudioPath: "base/1.wav"},
		},
	}

	// A profile without slots keeps the base slots
	result := mergeConfigs(base, &Config{Session: SessionConfig{SessionID: "s"}})
	if len(result.Slots) != 1 || result.Slots[0].ImagePath != "base/1" {
		t.Errorf("Expected base slots kept, got %+v", result.Slots)
	}
	if result.Session.Username != "base" || result.Session.SessionID != "s" {
		t.Errorf("Session not merged: %+v", result.Session)
	}

	// A profile with slots owns its list
	result = mergeConfigs(base, &Config{Slots: []SlotDefinition{{ID: 5, ImagePath: "p/5", AudioPath: "p/5.wav"}}})
	if len(result.Slots) != 1 || result.Slots[0].ID != 5 {
		t.Errorf("Expected profile slots only, got %+v", result.Slots)
	}

	// Merging must not alias the base slice
	result.Slots[0].ImagePath = "changed"
	if base.Slots[0].ImagePath != "base/1" {
		t.Error("mergeConfigs modified the base config")
	}
}

func TestConvertProfileToConfig_MissingReference(t *testing.T) {
	profile := &ConfigProfile{Slots: []SlotReference{{Ref: 9}}}

	_, err := convertProfileToConfig(profile, &DefinitionsConfig{})
	if err == nil {
		t.Fatal("Expected error for missing reference")
	}
	if !strings.Contains(err.Error(), "reference '9' not found") {
		t.Errorf("Expected reference error, got: %v", err)
	}
}

func TestExpandPath(t *testing.T) {
	homeDir, _ := os.UserHomeDir()

	tests := []struct {
		input    string
		expected string
	}{
		{"~/videos", filepath.Join(homeDir, "videos")},
		{"/absolute/path", "/absolute/path"},
		{"relative/path", "relative/path"},
		{"~", "~"},
	}

	for _, test := range tests {
		result := expandPath(test.input)
		if result != test.expected {
			t.Errorf("expandPath(%q) = %q, expected %q", test.input, result, test.expected)
		}
	}
}

func createTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "avatarhost-test.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write temp config: %v", err)
	}
	return path
}
