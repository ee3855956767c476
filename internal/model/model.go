/**
 * Data model for the manga-translation workbench.
 *
 * Project/ImageData/TextData are the durable shapes the repositories persist;
 * WorkData is the transient staging shape the pipeline mutates in place.
 */

package model

import (
	"time"

	"github.com/mangaforge/workbench/internal/fonts"
)

// ProjectKind classifies how a project was created.
type ProjectKind string

const (
	ProjectKindManga ProjectKind = "manga"
	ProjectKindBatch ProjectKind = "batch"
)

// Project is the durable project record. Identity is StoragePath.
type Project struct {
	Name        string      `json:"name"`
	StoragePath string      `json:"storagePath"`
	Kind        ProjectKind `json:"kind"`
}

// ProjectInfo is a lightweight listing record derived from the index document
// plus the filesystem; full project contents are never loaded for a listing.
type ProjectInfo struct {
	Name         string    `json:"name"`
	StoragePath  string    `json:"storagePath"`
	LastModified time.Time `json:"lastModifiedTime"`
}

// Region is an axis-aligned bounding region in image pixel coordinates.
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// OCRBox is one recognized text block. TranslatedText is empty until the
// translation stage succeeds for this box. Order survives manual reordering:
// the persisted order is whatever permutation the user last applied.
type OCRBox struct {
	Region         Region `json:"region"`
	SourceText     string `json:"sourceText"`
	TranslatedText string `json:"translatedText,omitempty"`
	Order          int    `json:"order"`
}

// BlockSettings holds the text-rendering settings for one image. The resolved
// handle is process-local and never persisted; only name and size round-trip.
type BlockSettings struct {
	FontName string  `json:"fontName"`
	FontSize float64 `json:"fontSize"`

	Font fonts.Handle `json:"-"`
}

// DefaultBlockSettings returns the settings attached to freshly staged images.
func DefaultBlockSettings() BlockSettings {
	return BlockSettings{
		FontName: "Noto Sans JP",
		FontSize: 16,
	}
}

// ImageData is one image of a project. Index position within the project's
// image sequence is its stable identity; the struct carries no ID of its own.
type ImageData struct {
	RawImage []byte        `json:"rawImage"`
	Boxes    []OCRBox      `json:"ocrBoxes"`
	Settings BlockSettings `json:"settings"`
}

// TextData is the aggregated per-box text record, decoupled from images for
// bulk persistence and export. At commit time text records and image boxes
// must match one-to-one on (ImageIndex, BoxIndex).
type TextData struct {
	ImageIndex     int    `json:"imageIndex"`
	BoxIndex       int    `json:"boxIndex"`
	SourceText     string `json:"sourceText"`
	TranslatedText string `json:"translatedText,omitempty"`
}

// WorkData is the single-slot staging state of one pipeline session. It lives
// only in memory: created when a batch is staged, cleared on commit or abandon.
type WorkData struct {
	SessionID string
	Images    []ImageData
}

// Clone returns a snapshot safe to hand to readers while the live WorkData
// keeps being mutated. Box slices are copied; raw image bytes are shared
// because the pipeline treats them as immutable once staged.
func (w *WorkData) Clone() *WorkData {
	if w == nil {
		return nil
	}
	out := &WorkData{
		SessionID: w.SessionID,
		Images:    make([]ImageData, len(w.Images)),
	}
	for i, img := range w.Images {
		boxes := make([]OCRBox, len(img.Boxes))
		copy(boxes, img.Boxes)
		out.Images[i] = ImageData{
			RawImage: img.RawImage,
			Boxes:    boxes,
			Settings: img.Settings,
		}
	}
	return out
}

// TextRecords flattens the work data into TextData records, one per box,
// ordered by (imageIndex, boxIndex).
func (w *WorkData) TextRecords() []TextData {
	var out []TextData
	for i, img := range w.Images {
		for j, box := range img.Boxes {
			out = append(out, TextData{
				ImageIndex:     i,
				BoxIndex:       j,
				SourceText:     box.SourceText,
				TranslatedText: box.TranslatedText,
			})
		}
	}
	return out
}
