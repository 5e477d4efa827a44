package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/anime-guide-crawler/internal/store"
)

// StartRun inserts a crawl_run row in the running state.
func (s *AnimeStore) StartRun(ctx context.Context, run store.CrawlRun) error {
	query := `
		INSERT INTO crawl_run (id, started_at, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING
	`
	if _, err := s.pool.Exec(ctx, query, run.ID, run.StartedAt, string(store.RunRunning)); err != nil {
		return fmt.Errorf("start crawl run: %w", err)
	}
	return nil
}

// FinishRun records the outcome of a crawl cycle.
func (s *AnimeStore) FinishRun(ctx context.Context, run store.CrawlRun) error {
	query := `
		UPDATE crawl_run
		SET finished_at = $2, status = $3, discovered = $4, failed = $5, error_message = $6
		WHERE id = $1
	`
	tag, err := s.pool.Exec(ctx, query,
		run.ID,
		run.FinishedAt,
		string(run.Status),
		run.Discovered,
		run.Failed,
		run.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("finish crawl run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
