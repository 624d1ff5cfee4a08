package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// AnchorListing is the result of L2's list() operation: a reconciliation
// report between the on-disk anchor files and the vector collection.
type AnchorListing struct {
	DiskFiles   []string `json:"disk_files"`
	StoreEntries []string `json:"store_entries"`
	Orphans     []string `json:"orphans"` // in store, no longer on disk
	Missing     []string `json:"missing"` // on disk, not yet in store
	Synced      []string `json:"synced"`  // present and hash-matching in both
}

// AnchorsLayer is L2: named markdown documents on disk, mirrored into a
// vector collection keyed by filename stem, synchronised by content hash
// (spec §4.2). Front-matter is an optional leading "---\n...\n---\n" block
// of "key: value" lines; everything after it is the opaque body.
type AnchorsLayer struct {
	dir     string
	backend VectorBackend
	embed   Embedder
}

func NewAnchorsLayer(dir string, backend VectorBackend, embed Embedder) *AnchorsLayer {
	return &AnchorsLayer{dir: dir, backend: backend, embed: embed}
}

func anchorHash(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}

func splitFrontMatter(raw string) (meta map[string]string, body string) {
	meta = map[string]string{}
	if !strings.HasPrefix(raw, "---\n") {
		return meta, raw
	}
	rest := raw[4:]
	end := strings.Index(rest, "\n---\n")
	if end < 0 {
		return meta, raw
	}
	header := rest[:end]
	body = rest[end+len("\n---\n"):]
	for _, line := range strings.Split(header, "\n") {
		if k, v, ok := strings.Cut(line, ":"); ok {
			meta[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	return meta, body
}

func (a *AnchorsLayer) diskAnchors() (map[string]string, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("memory: read anchors dir: %w", err)
	}
	out := make(map[string]string)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), ".md")
		raw, err := os.ReadFile(filepath.Join(a.dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("memory: read anchor %s: %w", e.Name(), err)
		}
		_, body := splitFrontMatter(string(raw))
		out[stem] = body
	}
	return out, nil
}

// synchronise reconciles disk->vector: add on miss, update on hash
// mismatch, skip on match. Idempotent by design.
func (a *AnchorsLayer) synchronise(ctx context.Context) (AnchorListing, error) {
	disk, err := a.diskAnchors()
	if err != nil {
		return AnchorListing{}, err
	}
	storePoints, err := a.backend.List(ctx)
	if err != nil {
		return AnchorListing{}, fmt.Errorf("memory: list anchor vectors: %w", err)
	}
	storeHash := make(map[string]string, len(storePoints))
	storeEntries := make([]string, 0, len(storePoints))
	for _, p := range storePoints {
		storeHash[p.ID] = p.Metadata["hash"]
		storeEntries = append(storeEntries, p.ID)
	}

	listing := AnchorListing{StoreEntries: storeEntries}
	for name := range disk {
		listing.DiskFiles = append(listing.DiskFiles, name)
	}
	sort.Strings(listing.DiskFiles)

	for name, body := range disk {
		hash := anchorHash(body)
		existingHash, inStore := storeHash[name]
		switch {
		case !inStore:
			if err := a.upsertVector(ctx, name, body, hash); err != nil {
				return AnchorListing{}, err
			}
			listing.Missing = append(listing.Missing, name)
		case existingHash != hash:
			if err := a.upsertVector(ctx, name, body, hash); err != nil {
				return AnchorListing{}, err
			}
			listing.Synced = append(listing.Synced, name)
		default:
			listing.Synced = append(listing.Synced, name)
		}
	}
	for _, id := range storeEntries {
		if _, ok := disk[id]; !ok {
			listing.Orphans = append(listing.Orphans, id)
		}
	}
	return listing, nil
}

func (a *AnchorsLayer) upsertVector(ctx context.Context, name, body, hash string) error {
	vec, err := a.embed.Embed(ctx, body)
	if err != nil {
		return fmt.Errorf("memory: embed anchor %s: %w", name, err)
	}
	return a.backend.Upsert(ctx, VectorPoint{
		ID:     name,
		Vector: vec,
		Metadata: map[string]string{
			"hash": hash,
			"name": name,
		},
	})
}

func (a *AnchorsLayer) Search(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	if _, err := a.synchronise(ctx); err != nil {
		return nil, err
	}
	vec, err := a.embed.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("memory: embed anchor query: %w", err)
	}
	results, err := a.backend.Search(ctx, vec, limit)
	if err != nil {
		return nil, fmt.Errorf("memory: anchor search: %w", err)
	}
	hits := make([]SearchHit, 0, len(results))
	for i, r := range results {
		relevance := r.Score
		if r.Distance > 0 {
			relevance = max0(1 - r.Distance/2)
		} else if relevance == 0 {
			// Backend reported neither score nor distance: fall back to
			// rank-based relevance, per §4.2.
			relevance = max0(1 - float64(i)/float64(len(results)))
		}
		body, _ := a.readAnchorBody(r.ID)
		hits = append(hits, SearchHit{
			Content:   body,
			Source:    "anchor:" + r.ID,
			Relevance: relevance,
			Metadata:  map[string]any{"name": r.ID},
		})
	}
	return hits, nil
}

func (a *AnchorsLayer) readAnchorBody(name string) (string, error) {
	raw, err := os.ReadFile(filepath.Join(a.dir, name+".md"))
	if err != nil {
		return "", err
	}
	_, body := splitFrontMatter(string(raw))
	return body, nil
}

// Store writes a new date-prefixed anchor file and synchronises it into
// the vector collection. The filename stem prefers an explicit
// metadata["name"] override, then a slugified metadata["title"], then
// falls back to a bare "anchor" stem. An overwrite of the same day's file
// for a repeated title is the caller's responsibility to avoid by varying
// the title; Store itself does not deduplicate by day.
func (a *AnchorsLayer) Store(ctx context.Context, content string, metadata map[string]any) (bool, error) {
	datePrefix := time.Now().UTC().Format("2006-01-02")
	stem := "anchor"
	if v, ok := metadata["title"].(string); ok && v != "" {
		stem = slugifyTitle(v)
	}
	name := datePrefix + "-" + stem
	if v, ok := metadata["name"].(string); ok && v != "" {
		name = v
	}

	if loc, ok := metadata["location"].(string); ok && loc != "" && !strings.HasPrefix(content, "---") {
		content = fmt.Sprintf("---\nlocation: %s\n---\n%s", loc, content)
	}

	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return false, fmt.Errorf("memory: create anchors dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(a.dir, name+".md"), []byte(content), 0o644); err != nil {
		return false, fmt.Errorf("memory: write anchor file: %w", err)
	}
	if err := a.upsertVector(ctx, name, content, anchorHash(content)); err != nil {
		return false, err
	}
	return true, nil
}

// slugifyTitle mirrors the safe-filename rule a human-supplied anchor title
// needs: lowercase, alnum/-/_ kept, everything else collapsed to '_'.
func slugifyTitle(title string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	return sb.String()
}

func (a *AnchorsLayer) Health(ctx context.Context) Health {
	if _, err := a.backend.List(ctx); err != nil {
		return Health{Available: false, Message: err.Error()}
	}
	return Health{Available: true, Message: "ok"}
}

// Delete removes both the on-disk anchor file and its vector entry.
func (a *AnchorsLayer) Delete(ctx context.Context, name string) error {
	_ = os.Remove(filepath.Join(a.dir, name+".md"))
	return a.backend.Delete(ctx, name)
}

// Resync drops every vector entry for anchors no longer on disk and
// re-embeds every on-disk anchor from scratch, ignoring any existing hash.
func (a *AnchorsLayer) Resync(ctx context.Context) (AnchorListing, error) {
	storePoints, err := a.backend.List(ctx)
	if err != nil {
		return AnchorListing{}, fmt.Errorf("memory: list anchor vectors: %w", err)
	}
	for _, p := range storePoints {
		if err := a.backend.Delete(ctx, p.ID); err != nil {
			return AnchorListing{}, fmt.Errorf("memory: resync delete %s: %w", p.ID, err)
		}
	}
	return a.synchronise(ctx)
}

// List runs the same synchronisation as Search (anchors missing from or
// changed in the vector store are upserted) and returns its reconciliation
// report; orphaned vector entries are reported, not deleted.
func (a *AnchorsLayer) List(ctx context.Context) (AnchorListing, error) {
	return a.synchronise(ctx)
}

func max0(f float64) float64 {
	if f < 0 {
		return 0
	}
	return f
}
