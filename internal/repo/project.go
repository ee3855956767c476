/**
 * ProjectRepository - durable project records plus the discovery index.
 *
 * Each project lives in its own directory under the repository root and is
 * identified by that storage path. A root-level index document lists
 * {name, storagePath} pairs so listings never load full project contents.
 *
 * Read/write policy: malformed documents on load are recovered as absent;
 * write and delete failures on an existing project are surfaced, because a
 * swallowed write failure is silent data loss.
 */

package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/mangaforge/workbench/internal/errors"
	"github.com/mangaforge/workbench/internal/logging"
	"github.com/mangaforge/workbench/internal/model"
)

const (
	projectDocName = "project.json"
	indexDocName   = "projects.json"
)

type indexEntry struct {
	Name        string `json:"name"`
	StoragePath string `json:"storagePath"`
}

// ProjectRepository persists Project documents under a root directory.
type ProjectRepository struct {
	root   string
	logger *logging.Logger

	// Serializes index read-modify-write cycles.
	mu sync.Mutex
}

func NewProjectRepository(root string) *ProjectRepository {
	return &ProjectRepository{
		root:   root,
		logger: logging.NewLogger("ProjectRepository"),
	}
}

func (r *ProjectRepository) indexPath() string {
	return filepath.Join(r.root, indexDocName)
}

// Create allocates a new project directory, writes its document, and records
// it in the index. Duplicate storage paths are rejected.
func (r *ProjectRepository) Create(name string, kind model.ProjectKind) (*model.Project, error) {
	storagePath := filepath.Join(r.root, slugify(name))

	r.mu.Lock()
	defer r.mu.Unlock()

	index := r.readIndex()
	for _, e := range index {
		if e.StoragePath == storagePath {
			return nil, errors.Validation("project.create",
				fmt.Sprintf("project already exists at %s", storagePath))
		}
	}

	p := &model.Project{
		Name:        name,
		StoragePath: storagePath,
		Kind:        kind,
	}
	if err := writeDocAtomic(filepath.Join(storagePath, projectDocName), p); err != nil {
		return nil, errors.Persistence("project.create", "failed to write project document", err)
	}

	index = append(index, indexEntry{Name: name, StoragePath: storagePath})
	if err := writeDocAtomic(r.indexPath(), index); err != nil {
		return nil, errors.Persistence("project.create", "failed to update project index", err)
	}

	r.logger.Info("project created", "name", name, "path", storagePath)
	return p, nil
}

// Load reads the project document at storagePath. Malformed documents are
// recovered as absent.
func (r *ProjectRepository) Load(storagePath string) (*model.Project, bool, error) {
	var p model.Project
	found, parseErr := readDoc(filepath.Join(storagePath, projectDocName), &p)
	if parseErr != nil {
		r.logger.Warn("malformed project document recovered as absent",
			"path", storagePath, "error", parseErr)
		return nil, false, nil
	}
	if !found {
		return nil, false, nil
	}
	return &p, true, nil
}

// Save writes the project document. A failure here risks losing user work and
// is always surfaced.
func (r *ProjectRepository) Save(p *model.Project) error {
	if p.StoragePath == "" {
		return errors.Validation("project.save", "project has no storage path")
	}
	if err := writeDocAtomic(filepath.Join(p.StoragePath, projectDocName), p); err != nil {
		return errors.Persistence("project.save", "failed to write project document", err)
	}
	return nil
}

// Delete removes the project directory and its index entry. Failures are
// surfaced: deleting must not half-complete silently.
func (r *ProjectRepository) Delete(storagePath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.RemoveAll(storagePath); err != nil {
		return errors.Persistence("project.delete", "failed to remove project directory", err)
	}

	index := r.readIndex()
	kept := index[:0]
	for _, e := range index {
		if e.StoragePath != storagePath {
			kept = append(kept, e)
		}
	}
	if err := writeDocAtomic(r.indexPath(), kept); err != nil {
		return errors.Persistence("project.delete", "failed to update project index", err)
	}

	r.logger.Info("project deleted", "path", storagePath)
	return nil
}

// List returns ProjectInfo records for every indexed project, most recently
// modified first. Last-modified time comes from the project document on disk;
// index entries whose document vanished are skipped.
func (r *ProjectRepository) List() ([]model.ProjectInfo, error) {
	r.mu.Lock()
	index := r.readIndex()
	r.mu.Unlock()

	infos := make([]model.ProjectInfo, 0, len(index))
	for _, e := range index {
		fi, err := os.Stat(filepath.Join(e.StoragePath, projectDocName))
		if err != nil {
			continue
		}
		infos = append(infos, model.ProjectInfo{
			Name:         e.Name,
			StoragePath:  e.StoragePath,
			LastModified: fi.ModTime(),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].LastModified.After(infos[j].LastModified)
	})
	return infos, nil
}

func (r *ProjectRepository) readIndex() []indexEntry {
	var index []indexEntry
	found, parseErr := readDoc(r.indexPath(), &index)
	if parseErr != nil {
		r.logger.Warn("malformed project index recovered as empty", "error", parseErr)
		return nil
	}
	if !found {
		return nil
	}
	return index
}

func slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteByte('-')
		}
	}
	if b.Len() == 0 {
		return "project"
	}
	return b.String()
}
