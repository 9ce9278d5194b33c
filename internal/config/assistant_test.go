package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadAssistantProfile_ValidFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "assistant.yaml")

	validYAML := `
name: FractiVerse
model: anthropic/claude-3-haiku
temperature: 0.2
max_tokens: 512
system_prompt: |
  You explain fractals.
pricing:
  min_cost: 5
  cost_model: usage
`
	if err := os.WriteFile(configPath, []byte(validYAML), 0644); err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}

	profile, err := LoadAssistantProfile(configPath)
	if err != nil {
		t.Fatalf("LoadAssistantProfile() error = %v, want nil", err)
	}

	if profile.Model != "anthropic/claude-3-haiku" {
		t.Errorf("Model = %q", profile.Model)
	}
	if profile.Temperature != 0.2 {
		t.Errorf("Temperature = %v, want 0.2", profile.Temperature)
	}
	if profile.MaxTokens != 512 {
		t.Errorf("MaxTokens = %d, want 512", profile.MaxTokens)
	}
	if strings.TrimSpace(profile.SystemPrompt) != "You explain fractals." {
		t.Errorf("SystemPrompt = %q", profile.SystemPrompt)
	}
	if profile.Pricing.MinCost != 5 || profile.Pricing.CostModel != "usage" {
		t.Errorf("Pricing = %+v", profile.Pricing)
	}
}

func TestLoadAssistantProfile_MissingFile(t *testing.T) {
	_, err := LoadAssistantProfile(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("LoadAssistantProfile() error = %v, want os.ErrNotExist", err)
	}
}

func TestDecodeAssistantProfile_PartialKeepsDefaults(t *testing.T) {
	profile, err := DecodeAssistantProfile(strings.NewReader("temperature: 1.1\n"))
	if err != nil {
		t.Fatalf("DecodeAssistantProfile() error = %v", err)
	}

	defaults := DefaultAssistantProfile()
	if profile.Temperature != 1.1 {
		t.Errorf("Temperature = %v, want 1.1", profile.Temperature)
	}
	if profile.Model != defaults.Model || profile.Pricing != defaults.Pricing {
		t.Errorf("profile = %+v, want defaults for unset fields", profile)
	}
}

func TestDecodeAssistantProfile_Empty(t *testing.T) {
	profile, err := DecodeAssistantProfile(strings.NewReader(""))
	if err != nil {
		t.Fatalf("DecodeAssistantProfile() error = %v", err)
	}
	if profile.Name != "FractiVerse" {
		t.Errorf("Name = %q, want default", profile.Name)
	}
}

func TestDecodeAssistantProfile_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"unknown field", "modle: gpt\n", "field modle not found"},
		{"malformed yaml", "model: [unclosed\n", "error decoding assistant profile"},
		{"empty model", "model: \"\"\n", "model must be set"},
		{"temperature too high", "temperature: 2.5\n", "temperature must be between 0 and 2"},
		{"negative max tokens", "max_tokens: -1\n", "max_tokens must not be negative"},
		{"zero min cost", "pricing:\n  min_cost: 0\n  cost_model: flat\n", "min_cost must be at least 1"},
		{"unknown cost model", "pricing:\n  min_cost: 1\n  cost_model: per_char\n", "cost_model must be flat or usage"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeAssistantProfile(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("DecodeAssistantProfile() error = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestShippedAssistantProfileIsValid(t *testing.T) {
	profile, err := LoadAssistantProfile(filepath.Join("..", "..", "config", "assistant.yaml"))
	if err != nil {
		t.Fatalf("LoadAssistantProfile() error = %v", err)
	}
	if profile.Name != "FractiVerse" {
		t.Errorf("Name = %q", profile.Name)
	}
}
