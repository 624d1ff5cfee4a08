package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const startupPreset = "startup"

// Recall runs the Ambient Recall aggregator (spec §4.2): fan out search
// across all four layers in parallel, union and stable-sort by relevance,
// attach clock and memory-health blocks, and — only for the literal
// "startup" preset — additionally populate recent summaries and
// unsummarized turns. "startup" is a preset, not a query: it is never run
// as a semantic search against any layer.
func (r *Router) Recall(ctx context.Context, queryContext string, limitPerLayer int) (Bundle, error) {
	if limitPerLayer <= 0 {
		limitPerLayer = 5
	}
	isStartup := strings.EqualFold(strings.TrimSpace(queryContext), startupPreset)

	var results []SearchHit
	if !isStartup {
		var err error
		results, err = r.fanOutSearch(ctx, queryContext, limitPerLayer)
		if err != nil {
			return Bundle{}, err
		}
	}

	unsummarizedCount, err := r.ledger.CountUnsummarized(ctx)
	if err != nil {
		return Bundle{}, err
	}

	bundle := Bundle{
		Clock:             buildClockBlock(time.Now()),
		UnsummarizedCount: unsummarizedCount,
		MemoryHealth:      buildMemoryHealth(unsummarizedCount),
		Results:           results,
	}

	if isStartup {
		summaries, err := r.ledger.RecentSummaries(ctx, 5)
		if err != nil {
			return Bundle{}, err
		}
		for _, s := range summaries {
			bundle.Summaries = append(bundle.Summaries, SummaryDigest{
				ID:            s.ID,
				Text:          truncate(s.Text, 500),
				TimeSpanStart: s.TimeSpanStart,
				TimeSpanEnd:   s.TimeSpanEnd,
			})
		}

		turns, err := r.ledger.GetUnsummarized(ctx, unsummarizedCount)
		if err != nil {
			return Bundle{}, err
		}
		if len(turns) > 50 {
			turns = turns[len(turns)-50:] // the 50 most recent, still oldest-first
		}
		for _, t := range turns {
			bundle.UnsummarizedTurns = append(bundle.UnsummarizedTurns, UnsummarizedTurn{
				ID:         t.ID,
				Channel:    t.Channel,
				AuthorName: t.AuthorName,
				Content:    truncate(t.Content, 1000),
				CreatedAt:  t.CreatedAt,
			})
		}
	}

	return bundle, nil
}

// fanOutSearch runs query against every layer concurrently via an
// errgroup, launching in parallel and never letting one branch's error
// cancel the rest — a slow or unhealthy layer degrades ambient recall's
// result set rather than failing the whole call.
func (r *Router) fanOutSearch(ctx context.Context, query string, limitPerLayer int) ([]SearchHit, error) {
	layers := r.layers()
	perLayer := make([][]SearchHit, len(layers))

	g, gctx := errgroup.WithContext(ctx)
	for i, l := range layers {
		i, l := i, l
		g.Go(func() error {
			hits, err := l.Search(gctx, query, limitPerLayer)
			if err != nil {
				return nil // degrade, don't fail the whole recall
			}
			perLayer[i] = hits
			return nil
		})
	}
	_ = g.Wait()

	var union []SearchHit
	for _, hits := range perLayer {
		union = append(union, hits...)
	}
	sort.SliceStable(union, func(i, j int) bool { return union[i].Relevance > union[j].Relevance })
	return union, nil
}

func buildClockBlock(now time.Time) ClockBlock {
	block := ClockBlock{WallClock: now, Display: now.Format("Monday, January 2, 2006 at 3:04 PM MST")}
	hour := now.Hour()
	if hour >= 23 || hour < 5 {
		block.TimeOfDay = "it's late; the humans in this conversation are likely asleep or winding down"
	}
	return block
}

func buildMemoryHealth(unsummarizedCount int) MemoryHealth {
	tag := "healthy"
	switch {
	case unsummarizedCount > 200:
		tag = "critical"
	case unsummarizedCount > 100:
		tag = "recommended"
	}
	return MemoryHealth{UnsummarizedCount: unsummarizedCount, Tag: tag}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
