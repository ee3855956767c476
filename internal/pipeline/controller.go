/**
 * PipelineController - drives a staged batch through OCR, translation, edit,
 * and commit.
 *
 * Stage work fans out per item on a bounded worker pool; one item's failure
 * never aborts its stage. Results merge back into WorkData by original index
 * regardless of completion order, and only while their generation is still
 * current, so re-entering a stage deterministically discards stale work.
 */

package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/mangaforge/workbench/internal/backend"
	"github.com/mangaforge/workbench/internal/errors"
	"github.com/mangaforge/workbench/internal/fonts"
	"github.com/mangaforge/workbench/internal/logging"
	"github.com/mangaforge/workbench/internal/model"
	"github.com/mangaforge/workbench/internal/repo"
	"github.com/mangaforge/workbench/internal/store"
)

// State is the controller's position in the pipeline.
type State string

const (
	StateCreated               State = "created"
	StateStaging               State = "staging"
	StateOcrInProgress         State = "ocr_in_progress"
	StateOcrReviewed           State = "ocr_reviewed"
	StateTranslationInProgress State = "translation_in_progress"
	StateTranslationReviewed   State = "translation_reviewed"
	StateEditInProgress        State = "edit_in_progress"
	StateCommitted             State = "committed"
	StateAbandoned             State = "abandoned"
)

func (s State) terminal() bool {
	return s == StateCommitted || s == StateAbandoned
}

// ErrStageSuperseded reports that a stage run was preempted by a newer run of
// the same stage; none of its results were merged after preemption.
type ErrStageSuperseded struct{}

func (ErrStageSuperseded) Error() string { return "stage run superseded by a newer run" }

// ItemOutcome is the terminal result of one stage item.
type ItemOutcome struct {
	Index int
	Err   error
}

// StageReport aggregates per-item outcomes of one stage run.
type StageReport struct {
	Stage    string // display name, e.g. "OCR"
	Unit     string // item noun, e.g. "images"
	Total    int
	Outcomes []ItemOutcome
}

func (r *StageReport) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Err != nil {
			n++
		}
	}
	return n
}

func (r *StageReport) Succeeded() int {
	return r.Total - r.Failed()
}

// Summary renders the aggregate line, e.g. "3 of 12 images failed OCR".
func (r *StageReport) Summary() string {
	if failed := r.Failed(); failed > 0 {
		return fmt.Sprintf("%d of %d %s failed %s", failed, r.Total, r.Unit, r.Stage)
	}
	return fmt.Sprintf("all %d %s completed %s", r.Total, r.Unit, r.Stage)
}

// Config wires the controller's collaborators. Everything is passed in
// explicitly; the controller never reaches for globals.
type Config struct {
	Store       *store.WorkDataStore
	OCR         *backend.OCRProvider
	Translator  *backend.TranslatorProvider
	Projects    *repo.ProjectRepository
	Images      *repo.ImageRepository
	Texts       *repo.TextRepository
	Fonts       fonts.Resolver // optional; settings edits skip resolution when nil
	Concurrency int
}

// Controller owns one pipeline session.
type Controller struct {
	store       *store.WorkDataStore
	ocr         *backend.OCRProvider
	translator  *backend.TranslatorProvider
	projects    *repo.ProjectRepository
	images      *repo.ImageRepository
	texts       *repo.TextRepository
	fonts       fonts.Resolver
	concurrency int64
	logger      *logging.Logger

	// Each stage owns its own executor so stages don't preempt each other.
	ocrExec       *Executor
	translateExec *Executor

	mu           sync.Mutex
	currentState State
	sessionID    string
	boundProject string
}

func NewController(cfg Config) (*Controller, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("work data store is required")
	}
	if cfg.Projects == nil || cfg.Images == nil || cfg.Texts == nil {
		return nil, fmt.Errorf("all three repositories are required")
	}
	concurrency := int64(cfg.Concurrency)
	if concurrency < 1 {
		concurrency = 4
	}
	return &Controller{
		currentState:  StateCreated,
		store:         cfg.Store,
		ocr:           cfg.OCR,
		translator:    cfg.Translator,
		projects:      cfg.Projects,
		images:        cfg.Images,
		texts:         cfg.Texts,
		fonts:         cfg.Fonts,
		concurrency:   concurrency,
		logger:        logging.NewLogger("PipelineController"),
		ocrExec:       NewExecutor(),
		translateExec: NewExecutor(),
	}, nil
}

// State returns the controller's current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentState
}

// BindProject associates the session with a project storage path so deleting
// that project also invalidates the staged work.
func (c *Controller) BindProject(storagePath string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.boundProject = storagePath
}

// Stage loads a batch of raw images into the staging slot, building initial
// ImageData entries with empty boxes and default block settings.
func (c *Controller) Stage(rawImages [][]byte) error {
	if len(rawImages) == 0 {
		return errors.Validation("pipeline.stage", "batch contains no images")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if s := c.currentState; s != StateCreated && s != StateStaging {
		return errors.Validation("pipeline.stage", fmt.Sprintf("cannot stage a batch in state %q", s))
	}

	wd := &model.WorkData{
		SessionID: uuid.NewString(),
		Images:    make([]model.ImageData, len(rawImages)),
	}
	for i, raw := range rawImages {
		wd.Images[i] = model.ImageData{
			RawImage: raw,
			Settings: model.DefaultBlockSettings(),
		}
	}
	c.store.Set(wd)
	c.sessionID = wd.SessionID
	c.setStateLocked(StateStaging)
	c.logger.Info("batch staged", "session", wd.SessionID, "images", len(rawImages))
	return nil
}

// RunOCR recognizes every staged image. Per-item failures are recorded in the
// report; the stage reaches reviewed once every item has terminated.
// Re-entering while a run is in flight preempts it: the preempted call
// returns ErrStageSuperseded and none of its unmerged results survive.
func (c *Controller) RunOCR(parent context.Context) (*StageReport, error) {
	c.mu.Lock()
	switch s := c.currentState; s {
	case StateStaging, StateOcrInProgress, StateOcrReviewed:
	default:
		c.mu.Unlock()
		return nil, errors.Validation("pipeline.ocr", fmt.Sprintf("cannot run OCR in state %q", s))
	}
	ocrBackend := c.ocr.Get()
	if ocrBackend == nil {
		c.mu.Unlock()
		return nil, errors.Validation("pipeline.ocr", "no OCR backend configured")
	}
	c.setStateLocked(StateOcrInProgress)
	session := c.sessionID
	c.mu.Unlock()

	snapshot, ok := c.store.Get()
	if !ok {
		return nil, errors.Validation("pipeline.ocr", "no work data staged")
	}

	report := &StageReport{
		Stage:    "OCR",
		Unit:     "images",
		Total:    len(snapshot.Images),
		Outcomes: make([]ItemOutcome, len(snapshot.Images)),
	}
	var wasCurrent bool

	handle := c.ocrExec.Launch(parent, func(ctx context.Context, gen uint64) {
		sem := semaphore.NewWeighted(c.concurrency)
		var wg sync.WaitGroup
		for i := range snapshot.Images {
			i := i
			raw := snapshot.Images[i].RawImage
			report.Outcomes[i].Index = i
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := sem.Acquire(ctx, 1); err != nil {
					report.Outcomes[i].Err = errors.Transient("pipeline.ocr", "cancelled before start", err)
					return
				}
				defer sem.Release(1)

				boxes, err := ocrBackend.Recognize(ctx, raw)
				if err != nil {
					report.Outcomes[i].Err = err
					c.logger.Warn("OCR failed for image", "session", session, "image", i, "error", err)
					return
				}

				merged := c.ocrExec.IfCurrent(gen, func() {
					_ = c.store.Update(func(wd *model.WorkData) error {
						if i < len(wd.Images) {
							wd.Images[i].Boxes = boxes
						}
						return nil
					})
				})
				if !merged {
					report.Outcomes[i].Err = ErrStageSuperseded{}
				}
			}()
		}
		wg.Wait()

		wasCurrent = c.ocrExec.IfCurrent(gen, func() {
			c.setState(StateOcrReviewed)
		})
	})
	<-handle.Done

	if !wasCurrent {
		return report, ErrStageSuperseded{}
	}
	c.logger.Info("OCR stage terminated", "session", session, "summary", report.Summary())
	return report, nil
}

// RunTranslation translates every recognized box. Boxes are batched per
// image: boxes on one page share visual context, and the per-image box index
// doubles as the batch re-correlation token. Items merge back by
// (imageIndex, boxIndex), never by arrival order.
func (c *Controller) RunTranslation(parent context.Context) (*StageReport, error) {
	c.mu.Lock()
	switch s := c.currentState; s {
	case StateOcrReviewed, StateTranslationInProgress, StateTranslationReviewed:
	default:
		c.mu.Unlock()
		return nil, errors.Validation("pipeline.translate", fmt.Sprintf("cannot run translation in state %q", s))
	}
	translator := c.translator.Get()
	if translator == nil {
		c.mu.Unlock()
		return nil, errors.Validation("pipeline.translate", "no translation backend configured")
	}
	c.setStateLocked(StateTranslationInProgress)
	session := c.sessionID
	c.mu.Unlock()

	snapshot, ok := c.store.Get()
	if !ok {
		return nil, errors.Validation("pipeline.translate", "no work data staged")
	}

	// Flat outcome index base per image, in box order.
	base := make([]int, len(snapshot.Images))
	total := 0
	for i, img := range snapshot.Images {
		base[i] = total
		total += len(img.Boxes)
	}

	report := &StageReport{
		Stage:    "translation",
		Unit:     "boxes",
		Total:    total,
		Outcomes: make([]ItemOutcome, total),
	}
	for i := range report.Outcomes {
		report.Outcomes[i].Index = i
	}
	var wasCurrent bool

	handle := c.translateExec.Launch(parent, func(ctx context.Context, gen uint64) {
		sem := semaphore.NewWeighted(c.concurrency)
		var wg sync.WaitGroup
		for i := range snapshot.Images {
			i := i
			boxes := snapshot.Images[i].Boxes
			if len(boxes) == 0 {
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				fail := func(err error) {
					for j := range boxes {
						report.Outcomes[base[i]+j].Err = err
					}
				}

				if err := sem.Acquire(ctx, 1); err != nil {
					fail(errors.Transient("pipeline.translate", "cancelled before start", err))
					return
				}
				defer sem.Release(1)

				items, err := c.translateImage(ctx, translator, boxes)
				if err != nil {
					fail(err)
					c.logger.Warn("translation failed for image", "session", session, "image", i, "error", err)
					return
				}

				for _, item := range items {
					item := item
					if item.Err != nil {
						report.Outcomes[base[i]+item.Index].Err = item.Err
						continue
					}
					merged := c.translateExec.IfCurrent(gen, func() {
						_ = c.store.Update(func(wd *model.WorkData) error {
							if i < len(wd.Images) && item.Index < len(wd.Images[i].Boxes) {
								wd.Images[i].Boxes[item.Index].TranslatedText = item.Text
							}
							return nil
						})
					})
					if !merged {
						report.Outcomes[base[i]+item.Index].Err = ErrStageSuperseded{}
					}
				}
			}()
		}
		wg.Wait()

		wasCurrent = c.translateExec.IfCurrent(gen, func() {
			c.setState(StateTranslationReviewed)
		})
	})
	<-handle.Done

	if !wasCurrent {
		return report, ErrStageSuperseded{}
	}
	c.logger.Info("translation stage terminated", "session", session, "summary", report.Summary())
	return report, nil
}

// translateImage translates one image's boxes, preferring the batch form
// when the image has more than one box.
func (c *Controller) translateImage(ctx context.Context, translator backend.Translator, boxes []model.OCRBox) ([]backend.BatchItem, error) {
	if len(boxes) == 1 {
		text, err := translator.Translate(ctx, boxes[0].SourceText, "")
		if err != nil {
			return nil, err
		}
		return []backend.BatchItem{{Index: 0, Text: text}}, nil
	}
	texts := make([]string, len(boxes))
	for j, b := range boxes {
		texts[j] = b.SourceText
	}
	return translator.TranslateBatch(ctx, texts, "")
}

// BeginEdit enters the edit stage explicitly.
func (c *Controller) BeginEdit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enterEditLocked()
}

func (c *Controller) enterEditLocked() error {
	switch s := c.currentState; s {
	case StateTranslationReviewed:
		c.setStateLocked(StateEditInProgress)
		return nil
	case StateEditInProgress:
		return nil
	default:
		return errors.Validation("pipeline.edit", fmt.Sprintf("cannot edit in state %q", s))
	}
}

// UpdateBoxText replaces the translated text of one box. Out-of-range
// indices are rejected, not ignored.
func (c *Controller) UpdateBoxText(imageIdx, boxIdx int, translated string) error {
	c.mu.Lock()
	if err := c.enterEditLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	return c.store.Update(func(wd *model.WorkData) error {
		if imageIdx < 0 || imageIdx >= len(wd.Images) {
			return errors.Validation("pipeline.edit", fmt.Sprintf("image index %d out of range", imageIdx))
		}
		if boxIdx < 0 || boxIdx >= len(wd.Images[imageIdx].Boxes) {
			return errors.Validation("pipeline.edit", fmt.Sprintf("box index %d out of range", boxIdx))
		}
		wd.Images[imageIdx].Boxes[boxIdx].TranslatedText = translated
		return nil
	})
}

// ReorderBoxes applies a permutation to one image's boxes: new position i
// takes the box previously at perm[i]. Non-permutations (duplicate or
// out-of-range indices, wrong length) leave state unchanged.
func (c *Controller) ReorderBoxes(imageIdx int, perm []int) error {
	c.mu.Lock()
	if err := c.enterEditLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	return c.store.Update(func(wd *model.WorkData) error {
		if imageIdx < 0 || imageIdx >= len(wd.Images) {
			return errors.Validation("pipeline.edit", fmt.Sprintf("image index %d out of range", imageIdx))
		}
		boxes := wd.Images[imageIdx].Boxes
		if len(perm) != len(boxes) {
			return errors.Validation("pipeline.edit",
				fmt.Sprintf("reorder needs %d indices, got %d", len(boxes), len(perm)))
		}
		seen := make([]bool, len(boxes))
		for _, p := range perm {
			if p < 0 || p >= len(boxes) {
				return errors.Validation("pipeline.edit", fmt.Sprintf("reorder index %d out of range", p))
			}
			if seen[p] {
				return errors.Validation("pipeline.edit", fmt.Sprintf("reorder index %d duplicated", p))
			}
			seen[p] = true
		}

		reordered := make([]model.OCRBox, len(boxes))
		for i, p := range perm {
			reordered[i] = boxes[p]
			reordered[i].Order = i
		}
		wd.Images[imageIdx].Boxes = reordered
		return nil
	})
}

// UpdateBlockSettings replaces one image's block settings. When a font
// resolver is wired, the named font must resolve before the settings are
// accepted; the prior settings stay in place otherwise.
func (c *Controller) UpdateBlockSettings(imageIdx int, bs model.BlockSettings) error {
	c.mu.Lock()
	if err := c.enterEditLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	if c.fonts != nil {
		handle, err := c.fonts.Resolve(bs.FontName, bs.FontSize)
		if err != nil {
			return errors.Validation("pipeline.edit",
				fmt.Sprintf("font %q at %g is not available", bs.FontName, bs.FontSize))
		}
		bs.Font = handle
	}

	return c.store.Update(func(wd *model.WorkData) error {
		if imageIdx < 0 || imageIdx >= len(wd.Images) {
			return errors.Validation("pipeline.edit", fmt.Sprintf("image index %d out of range", imageIdx))
		}
		wd.Images[imageIdx].Settings = bs
		return nil
	})
}

// Commit persists the staged work through the three repositories as one
// logical unit and clears the staging slot. On any repository failure the
// transition does not happen: state and WorkData are retained for retry.
func (c *Controller) Commit(ctx context.Context, project *model.Project) error {
	c.mu.Lock()
	switch s := c.currentState; s {
	case StateTranslationReviewed, StateEditInProgress:
	default:
		c.mu.Unlock()
		return errors.Validation("pipeline.commit", fmt.Sprintf("cannot commit in state %q", s))
	}
	session := c.sessionID
	c.mu.Unlock()

	snapshot, ok := c.store.Get()
	if !ok {
		return errors.Validation("pipeline.commit", "no work data staged")
	}

	if err := c.images.Save(project.StoragePath, snapshot.Images); err != nil {
		return err
	}
	if err := c.texts.Save(project.StoragePath, snapshot.TextRecords()); err != nil {
		return err
	}
	if err := c.projects.Save(project); err != nil {
		return err
	}

	c.store.Clear()
	c.mu.Lock()
	c.setStateLocked(StateCommitted)
	c.mu.Unlock()
	c.logger.Info("committed", "session", session, "project", project.StoragePath,
		"images", len(snapshot.Images))
	return nil
}

// Abandon cancels in-flight stage work and clears the staging slot.
// Irreversible; reachable from any non-terminal state.
func (c *Controller) Abandon() error {
	c.mu.Lock()
	if s := c.currentState; s.terminal() {
		c.mu.Unlock()
		return errors.Validation("pipeline.abandon", fmt.Sprintf("cannot abandon in state %q", s))
	}
	session := c.sessionID
	c.setStateLocked(StateAbandoned)
	c.mu.Unlock()

	c.ocrExec.Cancel()
	c.translateExec.Cancel()
	c.store.Clear()
	c.logger.Info("session abandoned", "session", session)
	return nil
}

// DeleteProject removes a project from durable storage. If the live session
// is bound to that project, its staged work is invalidated too.
func (c *Controller) DeleteProject(storagePath string) error {
	if err := c.projects.Delete(storagePath); err != nil {
		return err
	}
	c.mu.Lock()
	bound := c.boundProject == storagePath && !c.currentState.terminal() && c.currentState != StateCreated
	c.mu.Unlock()
	if bound {
		return c.Abandon()
	}
	return nil
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setStateLocked(s)
}

func (c *Controller) setStateLocked(s State) {
	if c.currentState != s {
		c.logger.Debug("state transition", "from", c.currentState, "to", s)
	}
	c.currentState = s
}
