package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mangaforge/workbench/internal/backend"
	"github.com/mangaforge/workbench/internal/errors"
	"github.com/mangaforge/workbench/internal/fonts"
	"github.com/mangaforge/workbench/internal/model"
	"github.com/mangaforge/workbench/internal/repo"
	"github.com/mangaforge/workbench/internal/settings"
	"github.com/mangaforge/workbench/internal/store"
)

// fakeOCR recognizes by lookup table keyed on the raw image bytes.
type fakeOCR struct {
	boxes map[string][]model.OCRBox
	fail  map[string]error
	calls atomic.Int64
	block func(ctx context.Context, call int64) error
}

func (f *fakeOCR) Recognize(ctx context.Context, image []byte) ([]model.OCRBox, error) {
	call := f.calls.Add(1)
	if f.block != nil {
		if err := f.block(ctx, call); err != nil {
			return nil, err
		}
	}
	if err, ok := f.fail[string(image)]; ok {
		return nil, err
	}
	return f.boxes[string(image)], nil
}

// fakeTranslator appends a marker; failTexts fail per item.
type fakeTranslator struct {
	failTexts map[string]bool
}

func (f *fakeTranslator) Translate(ctx context.Context, text, contextText string) (string, error) {
	if f.failTexts[text] {
		return "", errors.Transient("test.translate", "stub failure", nil)
	}
	return text + " [EN]", nil
}

func (f *fakeTranslator) TranslateBatch(ctx context.Context, texts []string, contextText string) ([]backend.BatchItem, error) {
	items := make([]backend.BatchItem, len(texts))
	// Reverse order on purpose; callers must merge by index.
	for i := len(texts) - 1; i >= 0; i-- {
		out := i
		if f.failTexts[texts[i]] {
			items[len(texts)-1-i] = backend.BatchItem{
				Index: out,
				Err:   errors.Transient("test.translate", "stub failure", nil),
			}
			continue
		}
		items[len(texts)-1-i] = backend.BatchItem{Index: out, Text: texts[i] + " [EN]"}
	}
	return items, nil
}

type testHarness struct {
	controller *Controller
	store      *store.WorkDataStore
	projects   *repo.ProjectRepository
	images     *repo.ImageRepository
	texts      *repo.TextRepository
	root       string
}

func newHarness(t *testing.T, ocr backend.OCR, tr backend.Translator, fontResolver fonts.Resolver) *testHarness {
	t.Helper()
	ctx := context.Background()
	root := t.TempDir()

	s := &settings.Settings{OCRMode: settings.ModeRemote, TranslationMode: settings.ModeRemote}
	ocrProvider := backend.NewOCRProvider(func(ctx context.Context, s *settings.Settings) (backend.OCR, error) {
		return ocr, nil
	})
	trProvider := backend.NewTranslatorProvider(func(ctx context.Context, s *settings.Settings) (backend.Translator, error) {
		return tr, nil
	})
	if ocr != nil {
		if err := ocrProvider.Refresh(ctx, s); err != nil {
			t.Fatal(err)
		}
	}
	if tr != nil {
		if err := trProvider.Refresh(ctx, s); err != nil {
			t.Fatal(err)
		}
	}

	h := &testHarness{
		store:    store.NewWorkDataStore(),
		projects: repo.NewProjectRepository(root),
		images:   repo.NewImageRepository(),
		texts:    repo.NewTextRepository(),
		root:     root,
	}
	c, err := NewController(Config{
		Store:       h.store,
		OCR:         ocrProvider,
		Translator:  trProvider,
		Projects:    h.projects,
		Images:      h.images,
		Texts:       h.texts,
		Fonts:       fontResolver,
		Concurrency: 4,
	})
	if err != nil {
		t.Fatal(err)
	}
	h.controller = c
	return h
}

func twoPageOCR() *fakeOCR {
	return &fakeOCR{
		boxes: map[string][]model.OCRBox{
			"page-1": {
				{SourceText: "こんにちは", Order: 0},
				{SourceText: "ありがとう", Order: 1},
			},
			"page-2": {
				{SourceText: "さようなら", Order: 0},
			},
		},
	}
}

func TestPipelineEndToEnd(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, twoPageOCR(), &fakeTranslator{}, nil)
	c := h.controller

	if err := c.Stage([][]byte{[]byte("page-1"), []byte("page-2")}); err != nil {
		t.Fatalf("Stage: %v", err)
	}

	ocrReport, err := c.RunOCR(ctx)
	if err != nil {
		t.Fatalf("RunOCR: %v", err)
	}
	if ocrReport.Failed() != 0 || ocrReport.Total != 2 {
		t.Fatalf("OCR report: %s", ocrReport.Summary())
	}
	if got := c.State(); got != StateOcrReviewed {
		t.Fatalf("state after OCR = %q", got)
	}

	trReport, err := c.RunTranslation(ctx)
	if err != nil {
		t.Fatalf("RunTranslation: %v", err)
	}
	if trReport.Failed() != 0 || trReport.Total != 3 {
		t.Fatalf("translation report: %s", trReport.Summary())
	}
	if got := c.State(); got != StateTranslationReviewed {
		t.Fatalf("state after translation = %q", got)
	}

	project, err := h.projects.Create("Chapter 1", model.ProjectKindBatch)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Commit(ctx, project); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if got := c.State(); got != StateCommitted {
		t.Fatalf("state after commit = %q", got)
	}
	if h.store.Exists() {
		t.Error("work data survived commit")
	}

	records, found, err := h.texts.Load(project.StoragePath)
	if err != nil || !found {
		t.Fatalf("text load: found=%v err=%v", found, err)
	}
	if len(records) != 3 {
		t.Fatalf("committed %d text records, want 3", len(records))
	}
	if records[0].TranslatedText != "こんにちは [EN]" {
		t.Errorf("records[0] = %+v", records[0])
	}
	if records[2].ImageIndex != 1 || records[2].TranslatedText != "さようなら [EN]" {
		t.Errorf("records[2] = %+v", records[2])
	}

	images, found, err := h.images.Load(project.StoragePath)
	if err != nil || !found {
		t.Fatalf("image load: found=%v err=%v", found, err)
	}
	if len(images) != 2 || images[0].Boxes[1].TranslatedText != "ありがとう [EN]" {
		t.Errorf("persisted images = %+v", images)
	}

	// The session is spent; a new batch needs a new controller.
	if err := c.Stage([][]byte{[]byte("page-3")}); !errors.Is(err, errors.KindValidation) {
		t.Errorf("staging after commit: got %v, want a validation error", err)
	}
}

func TestRunOCRPartialFailure(t *testing.T) {
	ctx := context.Background()
	ocr := twoPageOCR()
	ocr.fail = map[string]error{
		"page-2": errors.Transient("test.ocr", "engine unavailable", nil),
	}
	h := newHarness(t, ocr, &fakeTranslator{}, nil)
	c := h.controller

	if err := c.Stage([][]byte{[]byte("page-1"), []byte("page-2")}); err != nil {
		t.Fatal(err)
	}
	report, err := c.RunOCR(ctx)
	if err != nil {
		t.Fatalf("RunOCR: %v", err)
	}
	if report.Failed() != 1 {
		t.Fatalf("report: %s", report.Summary())
	}
	if report.Outcomes[0].Err != nil || report.Outcomes[1].Err == nil {
		t.Errorf("outcomes = %+v", report.Outcomes)
	}
	if got := c.State(); got != StateOcrReviewed {
		t.Errorf("one failed item must still reach reviewed, state = %q", got)
	}

	// The successful image's boxes are merged; the failed one stays empty.
	wd, _ := h.store.Get()
	if len(wd.Images[0].Boxes) != 2 {
		t.Errorf("image 0 boxes = %d, want 2", len(wd.Images[0].Boxes))
	}
	if len(wd.Images[1].Boxes) != 0 {
		t.Errorf("failed image gained %d boxes", len(wd.Images[1].Boxes))
	}
}

func TestRunTranslationPartialFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, twoPageOCR(), &fakeTranslator{failTexts: map[string]bool{"ありがとう": true}}, nil)
	c := h.controller

	if err := c.Stage([][]byte{[]byte("page-1"), []byte("page-2")}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.RunOCR(ctx); err != nil {
		t.Fatal(err)
	}

	report, err := c.RunTranslation(ctx)
	if err != nil {
		t.Fatalf("RunTranslation: %v", err)
	}
	if report.Failed() != 1 || report.Total != 3 {
		t.Fatalf("report: %s", report.Summary())
	}

	wd, _ := h.store.Get()
	if wd.Images[0].Boxes[0].TranslatedText != "こんにちは [EN]" {
		t.Errorf("box(0,0) = %+v", wd.Images[0].Boxes[0])
	}
	if wd.Images[0].Boxes[1].TranslatedText != "" {
		t.Error("failed box must keep an empty translation")
	}
	if wd.Images[1].Boxes[0].TranslatedText != "さようなら [EN]" {
		t.Errorf("box(1,0) = %+v", wd.Images[1].Boxes[0])
	}
}

func TestEditOperations(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, twoPageOCR(), &fakeTranslator{}, nil)
	c := h.controller

	if err := c.Stage([][]byte{[]byte("page-1")}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.RunOCR(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := c.RunTranslation(ctx); err != nil {
		t.Fatal(err)
	}

	// First edit enters the edit stage implicitly.
	if err := c.UpdateBoxText(0, 0, "Hi there!"); err != nil {
		t.Fatalf("UpdateBoxText: %v", err)
	}
	if got := c.State(); got != StateEditInProgress {
		t.Errorf("state after first edit = %q", got)
	}

	if err := c.UpdateBoxText(0, 99, "x"); !errors.Is(err, errors.KindValidation) {
		t.Errorf("out-of-range box: got %v, want a validation error", err)
	}

	if err := c.ReorderBoxes(0, []int{1, 0}); err != nil {
		t.Fatalf("ReorderBoxes: %v", err)
	}
	wd, _ := h.store.Get()
	boxes := wd.Images[0].Boxes
	if boxes[0].SourceText != "ありがとう" || boxes[1].TranslatedText != "Hi there!" {
		t.Errorf("boxes after reorder = %+v", boxes)
	}
	if boxes[0].Order != 0 || boxes[1].Order != 1 {
		t.Errorf("orders not reindexed: %d, %d", boxes[0].Order, boxes[1].Order)
	}

	// Non-permutations are rejected and change nothing.
	for _, perm := range [][]int{{0, 0}, {0}, {0, 2}} {
		if err := c.ReorderBoxes(0, perm); !errors.Is(err, errors.KindValidation) {
			t.Errorf("perm %v: got %v, want a validation error", perm, err)
		}
	}
	after, _ := h.store.Get()
	if after.Images[0].Boxes[0].SourceText != "ありがとう" {
		t.Error("rejected reorder mutated the boxes")
	}
}

type testFontResolver struct{}

type testFont struct {
	name string
	size float64
}

func (f testFont) Name() string  { return f.name }
func (f testFont) Size() float64 { return f.size }

func (testFontResolver) Resolve(name string, size float64) (fonts.Handle, error) {
	if name == "Missing Font" {
		return nil, fmt.Errorf("not installed")
	}
	return testFont{name: name, size: size}, nil
}

func TestUpdateBlockSettingsResolvesFont(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, twoPageOCR(), &fakeTranslator{}, testFontResolver{})
	c := h.controller

	if err := c.Stage([][]byte{[]byte("page-1")}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.RunOCR(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := c.RunTranslation(ctx); err != nil {
		t.Fatal(err)
	}

	err := c.UpdateBlockSettings(0, model.BlockSettings{FontName: "Missing Font", FontSize: 12})
	if !errors.Is(err, errors.KindValidation) {
		t.Fatalf("unresolvable font: got %v, want a validation error", err)
	}
	wd, _ := h.store.Get()
	if wd.Images[0].Settings.FontName != "Noto Sans JP" {
		t.Error("rejected settings were applied")
	}

	if err := c.UpdateBlockSettings(0, model.BlockSettings{FontName: "CC Wild Words", FontSize: 18}); err != nil {
		t.Fatalf("UpdateBlockSettings: %v", err)
	}
	wd, _ = h.store.Get()
	if wd.Images[0].Settings.FontName != "CC Wild Words" || wd.Images[0].Settings.FontSize != 18 {
		t.Errorf("settings = %+v", wd.Images[0].Settings)
	}
}

func TestCommitFailureRetainsWork(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, twoPageOCR(), &fakeTranslator{}, nil)
	c := h.controller

	if err := c.Stage([][]byte{[]byte("page-1")}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.RunOCR(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := c.RunTranslation(ctx); err != nil {
		t.Fatal(err)
	}

	// A regular file where the project directory should be makes the write fail.
	blocked := filepath.Join(h.root, "blocked")
	if err := os.WriteFile(blocked, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	bad := &model.Project{Name: "Bad", StoragePath: filepath.Join(blocked, "p"), Kind: model.ProjectKindBatch}

	err := c.Commit(ctx, bad)
	if !errors.Is(err, errors.KindPersistence) {
		t.Fatalf("got %v, want a persistence error", err)
	}
	if !h.store.Exists() {
		t.Fatal("failed commit must retain the staged work")
	}
	if got := c.State(); got != StateTranslationReviewed {
		t.Fatalf("failed commit moved state to %q", got)
	}

	// Retry against a valid target succeeds with the same staged work.
	project, err := h.projects.Create("Good", model.ProjectKindBatch)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Commit(ctx, project); err != nil {
		t.Fatalf("retry commit: %v", err)
	}
	if c.State() != StateCommitted {
		t.Errorf("state = %q", c.State())
	}
}

func TestRunOCRPreemption(t *testing.T) {
	ctx := context.Background()
	started := make(chan struct{})
	ocr := twoPageOCR()
	ocr.block = func(ctx context.Context, call int64) error {
		if call == 1 {
			close(started)
			<-ctx.Done()
			return errors.Transient("test.ocr", "cancelled", ctx.Err())
		}
		return nil
	}
	h := newHarness(t, ocr, &fakeTranslator{}, nil)
	c := h.controller

	if err := c.Stage([][]byte{[]byte("page-1")}); err != nil {
		t.Fatal(err)
	}

	firstErr := make(chan error, 1)
	go func() {
		_, err := c.RunOCR(ctx)
		firstErr <- err
	}()
	<-started

	// Re-running the stage preempts the in-flight run.
	report, err := c.RunOCR(ctx)
	if err != nil {
		t.Fatalf("second RunOCR: %v", err)
	}
	if report.Failed() != 0 {
		t.Fatalf("second run report: %s", report.Summary())
	}

	select {
	case err := <-firstErr:
		if !stderrors.Is(err, ErrStageSuperseded{}) {
			t.Errorf("first run: got %v, want ErrStageSuperseded", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("preempted run did not terminate")
	}

	if got := c.State(); got != StateOcrReviewed {
		t.Errorf("state = %q", got)
	}
	wd, _ := h.store.Get()
	if len(wd.Images[0].Boxes) != 2 {
		t.Errorf("winning run's boxes not merged: %d", len(wd.Images[0].Boxes))
	}
}

func TestAbandon(t *testing.T) {
	h := newHarness(t, twoPageOCR(), &fakeTranslator{}, nil)
	c := h.controller

	if err := c.Stage([][]byte{[]byte("page-1")}); err != nil {
		t.Fatal(err)
	}
	if err := c.Abandon(); err != nil {
		t.Fatalf("Abandon: %v", err)
	}
	if c.State() != StateAbandoned {
		t.Errorf("state = %q", c.State())
	}
	if h.store.Exists() {
		t.Error("work data survived abandon")
	}

	if _, err := c.RunOCR(context.Background()); !errors.Is(err, errors.KindValidation) {
		t.Errorf("RunOCR after abandon: got %v, want a validation error", err)
	}
	if err := c.Abandon(); !errors.Is(err, errors.KindValidation) {
		t.Errorf("repeat Abandon: got %v, want a validation error", err)
	}
}

func TestRunOCRWithoutBackend(t *testing.T) {
	// Provider never refreshed: no backend is active.
	h := newHarness(t, nil, &fakeTranslator{}, nil)
	c := h.controller

	if err := c.Stage([][]byte{[]byte("page-1")}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.RunOCR(context.Background()); !errors.Is(err, errors.KindValidation) {
		t.Errorf("got %v, want a validation error", err)
	}
}

func TestDeleteProjectInvalidatesBoundSession(t *testing.T) {
	h := newHarness(t, twoPageOCR(), &fakeTranslator{}, nil)
	c := h.controller

	project, err := h.projects.Create("Bound", model.ProjectKindBatch)
	if err != nil {
		t.Fatal(err)
	}
	c.BindProject(project.StoragePath)
	if err := c.Stage([][]byte{[]byte("page-1")}); err != nil {
		t.Fatal(err)
	}

	if err := c.DeleteProject(project.StoragePath); err != nil {
		t.Fatalf("DeleteProject: %v", err)
	}
	if _, err := os.Stat(project.StoragePath); !os.IsNotExist(err) {
		t.Error("project directory survived deletion")
	}
	if c.State() != StateAbandoned {
		t.Errorf("bound session state = %q, want abandoned", c.State())
	}
	if h.store.Exists() {
		t.Error("work data survived deletion of its bound project")
	}
}
