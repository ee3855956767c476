/**
 * Workbench - Headless Entry Point
 *
 * Drives the translation pipeline end to end from the command line: stage a
 * directory of manga page images, recognize and translate their text blocks,
 * and commit the result as a project under the data directory. Also exposes
 * project listing and deletion.
 *
 * Review and editing are interactive concerns and live in a separate surface;
 * this binary runs each stage to completion and commits whatever the backends
 * produced.
 */

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joho/godotenv"

	"github.com/mangaforge/workbench/internal/backend"
	"github.com/mangaforge/workbench/internal/config"
	"github.com/mangaforge/workbench/internal/logging"
	"github.com/mangaforge/workbench/internal/model"
	"github.com/mangaforge/workbench/internal/pipeline"
	"github.com/mangaforge/workbench/internal/repo"
	"github.com/mangaforge/workbench/internal/settings"
	"github.com/mangaforge/workbench/internal/store"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env not found, using system environment variables")
	}

	listProjects := flag.Bool("list", false, "list projects and exit")
	deletePath := flag.String("delete", "", "delete the project at this storage path and exit")
	imagesDir := flag.String("images", "", "directory of page images to process")
	projectName := flag.String("project", "", "name of the project to commit into")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logging.SetLevel(cfg.LogLevel)
	logger := logging.NewLogger("main")

	projects := repo.NewProjectRepository(cfg.DataDir)

	switch {
	case *listProjects:
		if err := printProjects(projects); err != nil {
			logger.Error("listing failed", "error", err)
			os.Exit(1)
		}
		return
	case *deletePath != "":
		if err := projects.Delete(*deletePath); err != nil {
			logger.Error("delete failed", "path", *deletePath, "error", err)
			os.Exit(1)
		}
		fmt.Printf("deleted %s\n", *deletePath)
		return
	case *imagesDir == "" || *projectName == "":
		flag.Usage()
		os.Exit(2)
	}

	if err := run(cfg, projects, *imagesDir, *projectName); err != nil {
		logger.Error("pipeline run failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, projects *repo.ProjectRepository, imagesDir, projectName string) error {
	ctx := context.Background()
	logger := logging.NewLogger("main")

	sett, err := settings.Load(cfg.SettingsPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	ocrProvider := backend.NewOCRProvider(backend.BuildOCR)
	translatorProvider := backend.NewTranslatorProvider(backend.BuildTranslator)
	if err := ocrProvider.Refresh(ctx, sett); err != nil {
		return fmt.Errorf("configure OCR backend: %w", err)
	}
	if err := translatorProvider.Refresh(ctx, sett); err != nil {
		return fmt.Errorf("configure translation backend: %w", err)
	}
	logger.Info("backends ready", "ocrMode", ocrProvider.Mode(), "translationMode", translatorProvider.Mode())

	images, err := readImageDir(imagesDir)
	if err != nil {
		return err
	}
	logger.Info("images loaded", "dir", imagesDir, "count", len(images))

	controller, err := pipeline.NewController(pipeline.Config{
		Store:       store.NewWorkDataStore(),
		OCR:         ocrProvider,
		Translator:  translatorProvider,
		Projects:    projects,
		Images:      repo.NewImageRepository(),
		Texts:       repo.NewTextRepository(),
		Concurrency: cfg.StageConcurrency,
	})
	if err != nil {
		return err
	}

	project, err := projects.Create(projectName, model.ProjectKindBatch)
	if err != nil {
		return err
	}
	controller.BindProject(project.StoragePath)

	if err := controller.Stage(images); err != nil {
		return err
	}

	ocrReport, err := controller.RunOCR(ctx)
	if err != nil {
		return err
	}
	fmt.Println(ocrReport.Summary())

	trReport, err := controller.RunTranslation(ctx)
	if err != nil {
		return err
	}
	fmt.Println(trReport.Summary())

	if err := controller.Commit(ctx, project); err != nil {
		return err
	}
	fmt.Printf("committed %d images to %s\n", len(images), project.StoragePath)
	return nil
}

// readImageDir loads every page image in dir, sorted by file name so page
// order follows the naming convention of the scans.
func readImageDir(dir string) ([][]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read image directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".jpg", ".jpeg", ".webp":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	if len(names) == 0 {
		return nil, fmt.Errorf("no page images found in %s", dir)
	}

	images := make([][]byte, len(names))
	for i, name := range names {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read image %s: %w", name, err)
		}
		images[i] = raw
	}
	return images, nil
}

func printProjects(projects *repo.ProjectRepository) error {
	infos, err := projects.List()
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Println("no projects")
		return nil
	}
	for _, info := range infos {
		fmt.Printf("%s\t%s\t%s\n", info.Name, info.StoragePath, info.LastModified.Format("2006-01-02 15:04:05"))
	}
	return nil
}
