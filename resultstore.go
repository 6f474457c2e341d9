package pgqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrymomot/pgqueue/driver"
)

// ResultStore keeps task results as opaque byte blobs keyed by task ID,
// reusing the same Driver contract as the broker against its own table.
type ResultStore struct {
	cfg    ResultConfig
	driver driver.Driver

	primaryKey driver.Column
	result     driver.Column
}

// NewResultStore constructs a result store over the backend named by
// cfg.Driver.
func NewResultStore(cfg ResultConfig, opts ...ResultOption) (*ResultStore, error) {
	options := &resultOptions{taskIDKind: driver.KindUUID}
	for _, opt := range opts {
		opt(options)
	}

	primaryKey := driver.Column{Name: "task_id", Kind: options.taskIDKind, PrimaryKey: true}
	result := driver.Column{Name: "result", Kind: driver.KindBytea}

	d := options.driver
	if d == nil {
		schema := driver.Schema{
			Table:        cfg.TableName,
			PrimaryKey:   primaryKey,
			Columns:      []driver.Column{result},
			IndexColumns: []driver.Column{primaryKey},
			Migrate:      cfg.Migrate,
		}

		var err error
		if d, err = driver.New(cfg.Driver, cfg.Connection, schema); err != nil {
			return nil, err
		}
	}

	return &ResultStore{
		cfg:        cfg,
		driver:     d,
		primaryKey: primaryKey,
		result:     result,
	}, nil
}

// Startup establishes the pool and creates the results table.
func (s *ResultStore) Startup(ctx context.Context) error {
	if err := s.driver.Startup(ctx); err != nil {
		return err
	}
	if !s.cfg.Migrate {
		if err := s.driver.CreateTable(ctx); err != nil {
			return err
		}
		if err := s.driver.CreateIndex(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown releases the pool.
func (s *ResultStore) Shutdown(ctx context.Context) error {
	return s.driver.Shutdown(ctx)
}

// Set stores the result for a task, overwriting any previous one.
func (s *ResultStore) Set(ctx context.Context, taskID string, result []byte) error {
	_, err := s.driver.InsertOrUpdate(ctx,
		[]driver.Column{s.primaryKey, s.result},
		[]any{taskID, result},
		[]driver.Column{s.primaryKey},
		[]driver.Column{s.result},
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to store result for task %q: %w", taskID, err)
	}
	return nil
}

// Get reads the stored result. When the store is configured with
// KeepResults disabled, a successful read also deletes the row.
func (s *ResultStore) Get(ctx context.Context, taskID string) ([]byte, error) {
	rows, err := s.driver.Select(ctx,
		[]driver.Column{s.result},
		[]driver.Column{s.primaryKey},
		[]any{taskID},
	)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrResultMissing
	}

	data := asBytes(rows[0][s.result.Name])

	if !s.cfg.KeepResults {
		if err := s.driver.Delete(ctx, s.primaryKey, taskID); err != nil {
			return nil, fmt.Errorf("failed to delete result for task %q: %w", taskID, err)
		}
	}

	return data, nil
}

// IsReady reports whether a result is stored for the task.
func (s *ResultStore) IsReady(ctx context.Context, taskID string) (bool, error) {
	return s.driver.Exists(ctx, taskID)
}

// Delete removes the stored result, if any.
func (s *ResultStore) Delete(ctx context.Context, taskID string) error {
	return s.driver.Delete(ctx, s.primaryKey, taskID)
}

// DeleteByDateRange removes results created in [from, to] inclusive. A zero
// to defaults to the current time.
func (s *ResultStore) DeleteByDateRange(ctx context.Context, from, to time.Time) error {
	return s.driver.DeleteByDateRange(ctx, from, to)
}
