package repo

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mangaforge/workbench/internal/errors"
)

// writeDocAtomic marshals v and writes it to path through a temp file in the
// same directory followed by a rename, so a crash mid-write never leaves a
// document that parses as something else.
func writeDocAtomic(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create document directory: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".doc-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp document: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp document: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("install document: %w", err)
	}
	return nil
}

// removeDoc deletes the document at path; a missing file is not an error.
func removeDoc(path, op string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Persistence(op, "failed to remove document", err)
	}
	return nil
}

// readDoc unmarshals the document at path into v. A missing file reports
// found=false. A malformed document also reports found=false with a non-nil
// parse error so callers can log the recovery; per the read policy it is
// treated as if the document was never saved.
func readDoc(path string, v any) (found bool, parseErr error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, err
	}
	return true, nil
}
