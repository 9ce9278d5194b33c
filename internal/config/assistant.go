package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// AssistantProfile is the persona and pricing profile of the assistant.
// It is loaded once at startup; nothing in it can be set by a request.
type AssistantProfile struct {
	Name         string         `yaml:"name"`
	Model        string         `yaml:"model"`
	Temperature  float64        `yaml:"temperature"`
	MaxTokens    int            `yaml:"max_tokens"`
	SystemPrompt string         `yaml:"system_prompt"`
	Pricing      PricingProfile `yaml:"pricing"`
}

// PricingProfile describes how a completion is charged
type PricingProfile struct {
	MinCost   int    `yaml:"min_cost"`
	CostModel string `yaml:"cost_model"`
}

// DefaultAssistantProfile is used when no profile file is present
func DefaultAssistantProfile() *AssistantProfile {
	return &AssistantProfile{
		Name:        "FractiVerse",
		Model:       "openai/gpt-4o-mini",
		Temperature: 0.7,
		MaxTokens:   1024,
		SystemPrompt: "You are FractiVerse, a knowledgeable and friendly assistant. " +
			"Answer clearly and concisely.",
		Pricing: PricingProfile{
			MinCost:   1,
			CostModel: "flat",
		},
	}
}

// LoadAssistantProfile reads a YAML profile. Missing fields keep their defaults.
func LoadAssistantProfile(path string) (*AssistantProfile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeAssistantProfile(f)
}

// DecodeAssistantProfile decodes a profile from r on top of the defaults
func DecodeAssistantProfile(r io.Reader) (*AssistantProfile, error) {
	profile := DefaultAssistantProfile()

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(profile); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("error decoding assistant profile: %w", err)
	}

	if err := profile.Validate(); err != nil {
		return nil, err
	}
	return profile, nil
}

// Validate checks the profile for values the pipeline cannot work with
func (p *AssistantProfile) Validate() error {
	if p.Model == "" {
		return errors.New("assistant profile: model must be set")
	}
	if p.Temperature < 0 || p.Temperature > 2 {
		return fmt.Errorf("assistant profile: temperature must be between 0 and 2, got %.2f", p.Temperature)
	}
	if p.MaxTokens < 0 {
		return fmt.Errorf("assistant profile: max_tokens must not be negative, got %d", p.MaxTokens)
	}
	if p.Pricing.MinCost < 1 {
		return fmt.Errorf("assistant profile: pricing.min_cost must be at least 1, got %d", p.Pricing.MinCost)
	}
	switch p.Pricing.CostModel {
	case "flat", "usage":
	default:
		return fmt.Errorf("assistant profile: pricing.cost_model must be flat or usage, got %q", p.Pricing.CostModel)
	}
	return nil
}
