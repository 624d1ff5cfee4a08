package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

var crystalFileRe = regexp.MustCompile(`^(\d+)-crystal\.md$`)
var archiveDirName = "archive"

// CrystalsLayer is L4: a rolling window of up to Window monotonically
// numbered markdown documents. Inserting beyond the window archives the
// lowest-numbered current file; only the highest-numbered crystal may be
// deleted (spec §3/§4.2).
type CrystalsLayer struct {
	dir    string
	window int
}

func NewCrystalsLayer(dir string, window int) *CrystalsLayer {
	if window <= 0 {
		window = 4
	}
	return &CrystalsLayer{dir: dir, window: window}
}

type crystalFile struct {
	number int
	path   string
}

func (c *CrystalsLayer) currentCrystals() ([]crystalFile, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("memory: read crystals dir: %w", err)
	}
	var out []crystalFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := crystalFileRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		out = append(out, crystalFile{number: n, path: filepath.Join(c.dir, e.Name())})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].number < out[j].number })
	return out, nil
}

// Search returns the k highest-numbered current crystals, ascending
// (chronological) order, per §4.2.
func (c *CrystalsLayer) Search(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	crystals, err := c.currentCrystals()
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > len(crystals) {
		limit = len(crystals)
	}
	selected := crystals[len(crystals)-limit:]
	hits := make([]SearchHit, 0, len(selected))
	for _, cf := range selected {
		body, err := os.ReadFile(cf.path)
		if err != nil {
			return nil, fmt.Errorf("memory: read crystal %d: %w", cf.number, err)
		}
		hits = append(hits, SearchHit{
			Content:   string(body),
			Source:    fmt.Sprintf("crystal:%d", cf.number),
			Relevance: 1.0,
			Metadata:  map[string]any{"number": cf.number},
		})
	}
	return hits, nil
}

// Store allocates the next crystal number, writes content, and archives
// the lowest-numbered current file if the window is exceeded.
func (c *CrystalsLayer) Store(ctx context.Context, content string, metadata map[string]any) (bool, error) {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return false, fmt.Errorf("memory: create crystals dir: %w", err)
	}
	crystals, err := c.currentCrystals()
	if err != nil {
		return false, err
	}
	next := 1
	if len(crystals) > 0 {
		next = crystals[len(crystals)-1].number + 1
	}
	path := filepath.Join(c.dir, fmt.Sprintf("%d-crystal.md", next))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return false, fmt.Errorf("memory: write crystal: %w", err)
	}
	crystals = append(crystals, crystalFile{number: next, path: path})

	if len(crystals) > c.window {
		if err := c.archive(crystals[0]); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (c *CrystalsLayer) archive(cf crystalFile) error {
	archiveDir := filepath.Join(c.dir, archiveDirName)
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return fmt.Errorf("memory: create crystal archive dir: %w", err)
	}
	dst := filepath.Join(archiveDir, filepath.Base(cf.path))
	if err := os.Rename(cf.path, dst); err != nil {
		return fmt.Errorf("memory: archive crystal %d: %w", cf.number, err)
	}
	return nil
}

func (c *CrystalsLayer) Health(ctx context.Context) Health {
	if _, err := c.currentCrystals(); err != nil {
		return Health{Available: false, Message: err.Error()}
	}
	return Health{Available: true, Message: "ok"}
}

// DeleteLatest removes only the highest-numbered current crystal.
func (c *CrystalsLayer) DeleteLatest(ctx context.Context) error {
	crystals, err := c.currentCrystals()
	if err != nil {
		return err
	}
	if len(crystals) == 0 {
		return nil
	}
	latest := crystals[len(crystals)-1]
	if err := os.Remove(latest.path); err != nil {
		return fmt.Errorf("memory: delete latest crystal: %w", err)
	}
	return nil
}
