/**
 * Settings document consumed by the pipeline core.
 *
 * The core only reads the per-capability mode and its matching config block to
 * construct or refresh backends; it never edits this document. The document is
 * owned by the settings surface, which is outside this repository.
 */

package settings

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Mode selects which backend variant a capability resolves to.
type Mode string

const (
	ModeRemote Mode = "remote"
	ModeDirect Mode = "direct"
)

func (m Mode) Valid() bool {
	return m == ModeRemote || m == ModeDirect
}

// RemoteConfig points a capability at the fixed-address RPC service.
type RemoteConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (c RemoteConfig) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", c.Host, c.Port)
}

// OCRDirectConfig configures the third-party OCR provider.
type OCRDirectConfig struct {
	Credentials    string `yaml:"credentials"`
	ModelName      string `yaml:"modelName"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
}

// TranslationDirectConfig configures the third-party translation provider.
type TranslationDirectConfig struct {
	APIKey         string `yaml:"apiKey"`
	Provider       string `yaml:"provider"`
	ModelName      string `yaml:"modelName"`
	APIBaseURL     string `yaml:"apiBaseUrl"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
}

// Settings is the full document.
type Settings struct {
	OCRMode           Mode                    `yaml:"ocrMode"`
	OCRRemote         RemoteConfig            `yaml:"ocrRemoteConfig"`
	OCRDirect         OCRDirectConfig         `yaml:"ocrDirectConfig"`
	TargetLanguage    string                  `yaml:"targetLanguage"`
	TranslationMode   Mode                    `yaml:"translationMode"`
	TranslationRemote RemoteConfig            `yaml:"translationRemoteConfig"`
	TranslationDirect TranslationDirectConfig `yaml:"translationDirectConfig"`
}

// Default timeout for direct third-party calls, in seconds.
const DefaultDirectTimeoutSeconds = 120

// Load reads and validates a settings document from path.
func Load(path string) (*Settings, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open settings: %w", err)
	}
	defer f.Close()

	s := &Settings{}
	if err := yaml.NewDecoder(f).Decode(s); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	s.applyDefaults()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) applyDefaults() {
	if s.OCRDirect.TimeoutSeconds == 0 {
		s.OCRDirect.TimeoutSeconds = DefaultDirectTimeoutSeconds
	}
	if s.TranslationDirect.TimeoutSeconds == 0 {
		s.TranslationDirect.TimeoutSeconds = DefaultDirectTimeoutSeconds
	}
	if s.TargetLanguage == "" {
		s.TargetLanguage = "en"
	}
}

// Validate checks the document is internally consistent. Only the blocks for
// the selected modes are required to be present.
func (s *Settings) Validate() error {
	if !s.OCRMode.Valid() {
		return fmt.Errorf("ocrMode must be %q or %q, got %q", ModeRemote, ModeDirect, s.OCRMode)
	}
	if !s.TranslationMode.Valid() {
		return fmt.Errorf("translationMode must be %q or %q, got %q", ModeRemote, ModeDirect, s.TranslationMode)
	}
	if s.OCRMode == ModeRemote && s.OCRRemote.Host == "" {
		return fmt.Errorf("ocrRemoteConfig.host is required in remote mode")
	}
	if s.TranslationMode == ModeRemote && s.TranslationRemote.Host == "" {
		return fmt.Errorf("translationRemoteConfig.host is required in remote mode")
	}
	return nil
}
