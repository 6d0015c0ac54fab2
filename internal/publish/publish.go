// Package publish writes a markdown snapshot of the site content, e.g. to archive a past
// conference next to its proceedings.
package publish

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"confsite/internal/model"
)

// Reader is the read side of the item store.
type Reader interface {
	ListCollections(ctx context.Context) ([]model.Collection, error)
	ReadAll(ctx context.Context, collectionID string) ([]model.Item, error)
}

type WriteOptions struct {
	Overwrite bool
	// Collections limits the snapshot to these ids. Empty means all.
	Collections []string
}

type WriteResult struct {
	Written []string `json:"written"`
}

// WriteSite writes index.md, one <collection>.md per collection and one page per news
// post under news/.
func WriteSite(ctx context.Context, r Reader, siteTitle, toDir string, opt WriteOptions) (WriteResult, error) {
	if r == nil {
		return WriteResult{}, errors.New("missing store")
	}
	toDir = strings.TrimSpace(toDir)
	if toDir == "" {
		return WriteResult{}, errors.New("missing --to")
	}
	toDir = filepath.Clean(toDir)

	cs, err := r.ListCollections(ctx)
	if err != nil {
		return WriteResult{}, err
	}
	if len(opt.Collections) > 0 {
		want := map[string]bool{}
		for _, id := range opt.Collections {
			want[strings.TrimSpace(id)] = true
		}
		var kept []model.Collection
		for _, c := range cs {
			if want[c.ID] {
				kept = append(kept, c)
			}
		}
		cs = kept
	}
	if err := os.MkdirAll(toDir, 0o755); err != nil {
		return WriteResult{}, err
	}

	var written []string
	var index strings.Builder
	index.WriteString("# " + strings.TrimSpace(siteTitle) + "\n\n")
	for _, c := range cs {
		items, err := r.ReadAll(ctx, c.ID)
		if err != nil {
			return WriteResult{}, err
		}
		p := filepath.Join(toDir, c.ID+".md")
		if err := writeFile(p, []byte(RenderCollectionMarkdown(c, items)), opt.Overwrite); err != nil {
			return WriteResult{}, err
		}
		written = append(written, p)
		index.WriteString("- [" + c.Title + "](" + c.ID + ".md)\n")

		if c.Kind != model.KindNews || len(items) == 0 {
			continue
		}
		newsDir := filepath.Join(toDir, "news")
		if err := os.MkdirAll(newsDir, 0o755); err != nil {
			return WriteResult{}, err
		}
		for _, it := range items {
			p := filepath.Join(newsDir, it.ID+".md")
			if err := writeFile(p, []byte(RenderItemMarkdown(it)), opt.Overwrite); err != nil {
				return WriteResult{}, err
			}
			written = append(written, p)
		}
	}

	indexPath := filepath.Join(toDir, "index.md")
	if err := writeFile(indexPath, []byte(index.String()), opt.Overwrite); err != nil {
		return WriteResult{}, err
	}
	return WriteResult{Written: append([]string{indexPath}, written...)}, nil
}

func writeFile(path string, b []byte, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return errors.New("file exists (use --overwrite): " + path)
		}
	}
	return os.WriteFile(path, b, 0o644)
}
