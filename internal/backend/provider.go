/**
 * ServiceProviders - settings-driven backend selection and switchover.
 *
 * A provider owns the active backend for one capability. Refresh with an
 * unchanged mode is a no-op so connection/credential state is not discarded;
 * a mode change constructs the new backend first and swaps only on success,
 * leaving the previous backend active when construction fails. Callers must
 * not cache the backend across a refresh.
 */

package backend

import (
	"context"
	"fmt"
	"sync"

	"github.com/mangaforge/workbench/internal/errors"
	"github.com/mangaforge/workbench/internal/logging"
	"github.com/mangaforge/workbench/internal/settings"
)

// OCRFactory builds the OCR backend selected by the settings document.
type OCRFactory func(ctx context.Context, s *settings.Settings) (OCR, error)

// TranslatorFactory builds the translation backend selected by the settings
// document.
type TranslatorFactory func(ctx context.Context, s *settings.Settings) (Translator, error)

// BuildOCR is the production OCR factory.
func BuildOCR(ctx context.Context, s *settings.Settings) (OCR, error) {
	switch s.OCRMode {
	case settings.ModeRemote:
		return NewRemoteOCR(s.OCRRemote), nil
	case settings.ModeDirect:
		return NewDirectOCR(ctx, s.OCRDirect)
	default:
		return nil, errors.Validation("ocr.build", fmt.Sprintf("unknown ocr mode %q", s.OCRMode))
	}
}

// BuildTranslator is the production translation factory.
func BuildTranslator(ctx context.Context, s *settings.Settings) (Translator, error) {
	switch s.TranslationMode {
	case settings.ModeRemote:
		return NewRemoteTranslator(s.TranslationRemote, s.TargetLanguage), nil
	case settings.ModeDirect:
		return NewDirectTranslator(ctx, s.TranslationDirect, s.TargetLanguage)
	default:
		return nil, errors.Validation("translate.build", fmt.Sprintf("unknown translation mode %q", s.TranslationMode))
	}
}

// OCRProvider holds the active OCR backend.
type OCRProvider struct {
	build  OCRFactory
	logger *logging.Logger

	mu      sync.RWMutex
	mode    settings.Mode
	backend OCR
}

func NewOCRProvider(build OCRFactory) *OCRProvider {
	return &OCRProvider{
		build:  build,
		logger: logging.NewLogger("OCRProvider"),
	}
}

// Refresh reconciles the active backend with the settings document.
func (p *OCRProvider) Refresh(ctx context.Context, s *settings.Settings) error {
	desired := s.OCRMode

	p.mu.RLock()
	unchanged := p.backend != nil && p.mode == desired
	p.mu.RUnlock()
	if unchanged {
		return nil
	}

	b, err := p.build(ctx, s)
	if err != nil {
		p.logger.Warn("backend construction failed; previous backend stays active",
			"desiredMode", desired, "error", err)
		return err
	}

	p.mu.Lock()
	p.mode = desired
	p.backend = b
	p.mu.Unlock()

	p.logger.Info("backend switched", "mode", desired)
	return nil
}

// Get returns the active backend, or nil before the first successful Refresh.
func (p *OCRProvider) Get() OCR {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.backend
}

// Mode returns the active backend's mode.
func (p *OCRProvider) Mode() settings.Mode {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.mode
}

// TranslatorProvider holds the active translation backend.
type TranslatorProvider struct {
	build  TranslatorFactory
	logger *logging.Logger

	mu      sync.RWMutex
	mode    settings.Mode
	backend Translator
}

func NewTranslatorProvider(build TranslatorFactory) *TranslatorProvider {
	return &TranslatorProvider{
		build:  build,
		logger: logging.NewLogger("TranslatorProvider"),
	}
}

func (p *TranslatorProvider) Refresh(ctx context.Context, s *settings.Settings) error {
	desired := s.TranslationMode

	p.mu.RLock()
	unchanged := p.backend != nil && p.mode == desired
	p.mu.RUnlock()
	if unchanged {
		return nil
	}

	b, err := p.build(ctx, s)
	if err != nil {
		p.logger.Warn("backend construction failed; previous backend stays active",
			"desiredMode", desired, "error", err)
		return err
	}

	p.mu.Lock()
	p.mode = desired
	p.backend = b
	p.mu.Unlock()

	p.logger.Info("backend switched", "mode", desired)
	return nil
}

func (p *TranslatorProvider) Get() Translator {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.backend
}

func (p *TranslatorProvider) Mode() settings.Mode {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.mode
}
