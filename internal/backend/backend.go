/**
 * Backend capability contracts for OCR and Translation.
 *
 * Each capability has exactly two interchangeable implementations: a Remote
 * backend speaking JSON over HTTP to a fixed service address, and a Direct
 * backend calling a third-party provider with an API key. The pipeline only
 * sees these interfaces; transport specifics stay inside this package.
 */

package backend

import (
	"context"

	"github.com/mangaforge/workbench/internal/model"
)

// OCR recognizes ordered text blocks in a raw image.
type OCR interface {
	// Recognize returns the recognized boxes in reading order. The returned
	// Order fields are sequential from zero.
	Recognize(ctx context.Context, image []byte) ([]model.OCRBox, error)
}

// BatchItem tags one batch-translation outcome with its input index. Items
// re-correlate by Index, never by response position.
type BatchItem struct {
	Index int
	Text  string
	Err   error
}

// Translator translates source text into the configured target language.
type Translator interface {
	// Translate translates a single text unit. contextText carries optional
	// surrounding text (other boxes on the same image) and may be empty.
	Translate(ctx context.Context, text string, contextText string) (string, error)

	// TranslateBatch translates several units in one round-trip. Failures are
	// partial: the returned slice covers every input index, and a per-item
	// Err marks that item's individual failure. The error return is non-nil
	// only when the batch could not be attempted at all.
	TranslateBatch(ctx context.Context, texts []string, contextText string) ([]BatchItem, error)
}
