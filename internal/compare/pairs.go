package compare

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"snapdiff/internal/raster"
)

// PairDirs pairs the image files of two run directories by identical base
// name. The page key is the file name without its extension. Names present
// in only one directory are returned in unpaired, sorted. A key carried by
// more than one file in either directory (home.png and home.jpg) cannot
// name a single page, so every file with that key is reported as unpaired.
func PairDirs(oldDir, newDir string) (pairs []Pair, unpaired []string, err error) {
	older, err := imageFiles(oldDir)
	if err != nil {
		return nil, nil, err
	}
	newer, err := imageFiles(newDir)
	if err != nil {
		return nil, nil, err
	}

	ambiguous := make(map[string]bool)
	for _, files := range []map[string]string{older, newer} {
		seen := make(map[string]bool, len(files))
		for name := range files {
			key := pageKey(name)
			if seen[key] {
				ambiguous[key] = true
			}
			seen[key] = true
		}
	}

	for name, path := range older {
		other, ok := newer[name]
		if !ok || ambiguous[pageKey(name)] {
			unpaired = append(unpaired, path)
			continue
		}
		pairs = append(pairs, Pair{
			Key: pageKey(name),
			Old: raster.FileSource{Path: path},
			New: raster.FileSource{Path: other},
		})
	}
	for name, path := range newer {
		if _, ok := older[name]; !ok || ambiguous[pageKey(name)] {
			unpaired = append(unpaired, path)
		}
	}

	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Key < pairs[j].Key })
	sort.Strings(unpaired)
	return pairs, unpaired, nil
}

func pageKey(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func imageFiles(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read run directory: %w", err)
	}
	files := make(map[string]string)
	for _, e := range entries {
		if e.IsDir() || !raster.IsImageFile(e.Name()) {
			continue
		}
		files[e.Name()] = filepath.Join(dir, e.Name())
	}
	return files, nil
}
