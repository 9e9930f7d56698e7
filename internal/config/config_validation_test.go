package config

import (
	"sort"
	"strings"
	"testing"
)

func TestValidateConfigurationFormat_MissingDefinitions(t *testing.T) {
	content := `
configs:
  default:
    session:
      username: alice
`
	rootConfig, err := ValidateConfigurationFormat(createTempConfig(t, content))
	if err != nil {
		t.Fatalf("Definitions are optional, got: %v", err)
	}
	if rootConfig.Definitions != nil && len(rootConfig.Definitions.Slots) != 0 {
		t.Errorf("Expected no slot definitions, got %d", len(rootConfig.Definitions.Slots))
	}
}

func TestValidateConfigurationFormat_DuplicateSlotReference(t *testing.T) {
	content := `
definitions:
  slots:
    - id: 2
      image_path: /a
      audio_path: /a.wav
configs:
  default:
    slots:
      - ref: 2
      - ref: 2
`
	_, err := ValidateConfigurationFormat(createTempConfig(t, content))
	if err == nil || !strings.Contains(err.Error(), "slot '2' listed twice") {
		t.Errorf("Expected duplicate reference error, got: %v", err)
	}
}

func TestConvertProfileToConfig_OptionsMergedOverDefinition(t *testing.T) {
	definitions := &DefinitionsConfig{Slots: []SlotDefinition{{
		ID:        2,
		Name:      "greeting",
		ImagePath: "/assets/greeting",
		AudioPath: "/assets/greeting.wav",
		Options:   map[string]any{"loop": true, "speed": 1},
	}}}
	profile := &ConfigProfile{
		Slots: []SlotReference{{Ref: 2, Options: map[string]any{"loop": false}}},
	}

	cfg, err := convertProfileToConfig(profile, definitions)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(cfg.Slots) != 1 {
		t.Fatalf("Expected 1 slot, got %d", len(cfg.Slots))
	}

	slot := cfg.Slots[0]
	if slot.Name != "greeting" || slot.ImagePath != "/assets/greeting" {
		t.Errorf("Expected definition fields to be copied, got %+v", slot)
	}
	if slot.Options["loop"] != false || slot.Options["speed"] != 1 {
		t.Errorf("Expected reference options merged over the definition, got %v", slot.Options)
	}
	if definitions.Slots[0].Options["loop"] != true {
		t.Error("Merging must not modify the definition")
	}
}

func TestConvertProfileToConfig_NilProfile(t *testing.T) {
	if _, err := convertProfileToConfig(nil, nil); err == nil {
		t.Error("Expected error for nil profile")
	}
}

func TestListProfiles(t *testing.T) {
	names, active, err := ListProfiles(createTempConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	sort.Strings(names)
	if strings.Join(names, ",") != "default,studio" {
		t.Errorf("Expected default and studio profiles, got %v", names)
	}
	if active != "studio" {
		t.Errorf("Expected active profile studio, got %s", active)
	}
}

func TestUpdateActiveConfig(t *testing.T) {
	configFile := createTempConfig(t, validConfig)

	if err := UpdateActiveConfig(configFile, "default"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	cfg, err := LoadWithProfile(configFile, "")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if cfg.Profile != "default" {
		t.Errorf("Expected active profile default after update, got %s", cfg.Profile)
	}
	if len(cfg.Slots) != 1 || cfg.Slots[0].ID != 1 {
		t.Errorf("Expected the default profile's slots, got %+v", cfg.Slots)
	}
}

func TestUpdateActiveConfig_NoFile(t *testing.T) {
	if err := UpdateActiveConfig("", "default"); err == nil {
		t.Error("Expected error without a config file")
	}
}
