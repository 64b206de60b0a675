package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"bookshare/pkg/domain"
	"bookshare/pkg/store"
)

const (
	// recentWindow bounds the "recent" and "active" dashboard counters.
	recentWindow = 30 * 24 * time.Hour

	popularBookLimit = 5
)

// Statistics fans the dashboard queries out concurrently and assembles the
// result. Popularity is derived from note volume per book so the numbers
// stay stable across calls.
func (a *App) Statistics(ctx context.Context) (domain.Statistics, error) {
	since := time.Now().Add(-recentWindow)

	var (
		stats domain.Statistics
		top   []store.BookNoteCount
	)
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() (err error) { stats.TotalUsers, err = a.store.CountUsers(); return })
	g.Go(func() (err error) { stats.TotalBooks, err = a.store.CountBooks(); return })
	g.Go(func() (err error) { stats.TotalNotes, err = a.store.CountNotes(); return })
	g.Go(func() (err error) { stats.RecentBooks, err = a.store.CountBooksSince(since); return })
	g.Go(func() (err error) { stats.RecentNotes, err = a.store.CountNotesSince(since); return })
	g.Go(func() (err error) { stats.ActiveUsers, err = a.store.CountNoteAuthorsSince(since); return })
	g.Go(func() (err error) { top, err = a.store.TopBooksByNotes(popularBookLimit); return })
	if err := g.Wait(); err != nil {
		return domain.Statistics{}, err
	}

	stats.PopularBooks = make([]domain.PopularBook, 0, len(top))
	for _, b := range top {
		stats.PopularBooks = append(stats.PopularBooks, domain.PopularBook{
			ID:     b.ID,
			Title:  b.Title,
			Author: b.Author,
			Views:  b.NoteCount,
			Rating: clampRating(b.NoteCount),
		})
	}
	return stats, nil
}

func clampRating(n int64) int {
	switch {
	case n < 1:
		return 1
	case n > 5:
		return 5
	default:
		return int(n)
	}
}
