package repo

import (
	"path/filepath"

	"github.com/mangaforge/workbench/internal/errors"
	"github.com/mangaforge/workbench/internal/logging"
	"github.com/mangaforge/workbench/internal/model"
)

const imagesDocName = "images.json"

// ImageRepository persists a project's ordered image sequence as one JSON
// document under the project's storage path. Raw image bytes are carried
// base64-encoded inside the document; the image codec itself is opaque here.
type ImageRepository struct {
	logger *logging.Logger
}

func NewImageRepository() *ImageRepository {
	return &ImageRepository{logger: logging.NewLogger("ImageRepository")}
}

// Load reads the image document for the project at storagePath. Malformed
// documents are recovered as absent.
func (r *ImageRepository) Load(storagePath string) ([]model.ImageData, bool, error) {
	var images []model.ImageData
	found, parseErr := readDoc(filepath.Join(storagePath, imagesDocName), &images)
	if parseErr != nil {
		r.logger.Warn("malformed image document recovered as absent",
			"path", storagePath, "error", parseErr)
		return nil, false, nil
	}
	if !found {
		return nil, false, nil
	}
	return images, true, nil
}

// Save writes the image document atomically. Write failures are surfaced.
func (r *ImageRepository) Save(storagePath string, images []model.ImageData) error {
	if err := writeDocAtomic(filepath.Join(storagePath, imagesDocName), images); err != nil {
		return errors.Persistence("image.save", "failed to write image document", err)
	}
	return nil
}

// Delete removes the image document; a missing document is not an error.
func (r *ImageRepository) Delete(storagePath string) error {
	return removeDoc(filepath.Join(storagePath, imagesDocName), "image.delete")
}
