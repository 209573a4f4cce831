// MODUL: imagefolder
// ZWECK: Datensatz aus einer Verzeichnisstruktur laden
// INPUT: root/train/<klasse>/*, root/test/<klasse>/*
// OUTPUT: *Source mit dekodierten, normalisierten Bildern
// NEBENEFFEKTE: Dateisystem-Lesezugriff, paralleles Dekodieren
// ABHAENGIGKEITEN: golang.org/x/sync/errgroup, image.go
// HINWEISE: Klassennamen sind die Verzeichnisnamen unter train/ (sortiert).
//           test/ darf nur Klassen enthalten, die auch in train/ existieren.

package dataset

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
)

// FolderOptions steuert LoadImageFolder.
type FolderOptions struct {
	ImageSize int // Kantenlaenge nach dem Skalieren
	Workers   int // parallele Decoder, <= 0: runtime.NumCPU()
}

type imageJob struct {
	path  string
	label int
	test  bool
}

// LoadImageFolder liest train/ und test/ unter root.
func LoadImageFolder(ctx context.Context, root string, opts FolderOptions) (*Source, error) {
	if opts.ImageSize <= 0 {
		opts.ImageSize = 16
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}

	classnames, err := listClasses(filepath.Join(root, "train"))
	if err != nil {
		return nil, err
	}
	classID := make(map[string]int, len(classnames))
	for i, c := range classnames {
		classID[c] = i
	}

	var jobs []imageJob
	for _, split := range []string{"train", "test"} {
		dir := filepath.Join(root, split)
		names, err := listClasses(dir)
		if err != nil {
			return nil, err
		}
		for _, c := range names {
			id, ok := classID[c]
			if !ok {
				return nil, fmt.Errorf("%w: class %q in %s not in train", ErrNoImages, c, split)
			}
			entries, err := os.ReadDir(filepath.Join(dir, c))
			if err != nil {
				return nil, err
			}
			for _, e := range entries {
				if e.IsDir() {
					continue
				}
				jobs = append(jobs, imageJob{path: filepath.Join(dir, c, e.Name()), label: id, test: split == "test"})
			}
		}
	}
	if len(jobs) == 0 {
		return nil, ErrNoImages
	}

	pixels := make([][]float64, len(jobs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i, job := range jobs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(job.path)
			if err != nil {
				return err
			}
			px, err := DecodePixels(data, opts.ImageSize)
			if err != nil {
				return fmt.Errorf("%s: %w", job.path, err)
			}
			pixels[i] = px
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	src := &Source{
		Name:       filepath.Base(root),
		Classnames: classnames,
		Templates:  []string{DefaultTemplate},
	}
	for i, job := range jobs {
		if job.test {
			src.Test.Append(pixels[i], job.label)
		} else {
			src.Train.Append(pixels[i], job.label)
		}
	}

	slog.Debug("image folder loaded", "root", root, "classes", len(classnames), "train", src.Train.Len(), "test", src.Test.Len())
	return src, nil
}

func listClasses(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoImages, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no class directories in %s", ErrNoImages, dir)
	}
	sort.Strings(names)
	return names, nil
}
