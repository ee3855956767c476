package repo

import (
	"path/filepath"

	"github.com/mangaforge/workbench/internal/errors"
	"github.com/mangaforge/workbench/internal/logging"
	"github.com/mangaforge/workbench/internal/model"
)

const textDocName = "text.json"

// TextRepository persists the aggregated per-box text records, decoupled from
// the image document for bulk export. The commit path keeps the two
// index-consistent: one text record per (imageIndex, boxIndex) box.
type TextRepository struct {
	logger *logging.Logger
}

func NewTextRepository() *TextRepository {
	return &TextRepository{logger: logging.NewLogger("TextRepository")}
}

func (r *TextRepository) Load(storagePath string) ([]model.TextData, bool, error) {
	var records []model.TextData
	found, parseErr := readDoc(filepath.Join(storagePath, textDocName), &records)
	if parseErr != nil {
		r.logger.Warn("malformed text document recovered as absent",
			"path", storagePath, "error", parseErr)
		return nil, false, nil
	}
	if !found {
		return nil, false, nil
	}
	return records, true, nil
}

func (r *TextRepository) Save(storagePath string, records []model.TextData) error {
	if err := writeDocAtomic(filepath.Join(storagePath, textDocName), records); err != nil {
		return errors.Persistence("text.save", "failed to write text document", err)
	}
	return nil
}

func (r *TextRepository) Delete(storagePath string) error {
	return removeDoc(filepath.Join(storagePath, textDocName), "text.delete")
}
