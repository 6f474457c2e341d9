package pgqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/pgqueue/driver"
)

// Schedule is one stored schedule record. Cron schedules repeat; RunAt
// schedules fire once and are removed after sending.
type Schedule struct {
	ID         uuid.UUID         `json:"id"`
	TaskName   string            `json:"task_name"`
	Cron       string            `json:"cron,omitempty"`
	CronOffset string            `json:"cron_offset,omitempty"`
	RunAt      *time.Time        `json:"run_at,omitempty"`
	Labels     map[string]string `json:"labels,omitempty"`
	Payload    []byte            `json:"payload,omitempty"`
}

// ScheduleStore persists serialized schedule records, reusing the same
// Driver contract as the broker against its own table.
type ScheduleStore struct {
	cfg     ScheduleConfig
	driver  driver.Driver
	startup []Schedule

	primaryKey driver.Column
	taskName   driver.Column
	schedule   driver.Column
	updatedAt  driver.Column
}

// NewScheduleStore constructs a schedule store over the backend named by
// cfg.Driver.
func NewScheduleStore(cfg ScheduleConfig, opts ...ScheduleOption) (*ScheduleStore, error) {
	options := &scheduleOptions{}
	for _, opt := range opts {
		opt(options)
	}

	primaryKey := driver.UUIDPrimaryKey("id")
	taskName := driver.Column{Name: "task_name", Kind: driver.KindVarChar}
	schedule := driver.Column{Name: "schedule", Kind: driver.KindJSONB}
	updatedAt := driver.UpdatedAtColumn()

	d := options.driver
	if d == nil {
		schema := driver.Schema{
			Table:        cfg.TableName,
			PrimaryKey:   primaryKey,
			Columns:      []driver.Column{taskName, schedule, updatedAt},
			IndexColumns: []driver.Column{primaryKey, taskName},
			Migrate:      cfg.Migrate,
		}

		var err error
		if d, err = driver.New(cfg.Driver, cfg.Connection, schema); err != nil {
			return nil, err
		}
	}

	return &ScheduleStore{
		cfg:        cfg,
		driver:     d,
		startup:    options.startup,
		primaryKey: primaryKey,
		taskName:   taskName,
		schedule:   schedule,
		updatedAt:  updatedAt,
	}, nil
}

// Startup establishes the pool, creates the schedules table, and runs the
// one-time reconciliation pass: startup schedules whose task name is not yet
// stored are inserted.
func (s *ScheduleStore) Startup(ctx context.Context) error {
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

	if len(s.startup) == 0 {
		return nil
	}

	existing, err := s.List(ctx)
	if err != nil {
		return err
	}
	stored := make(map[string]bool, len(existing))
	for _, sched := range existing {
		stored[sched.TaskName] = true
	}

	for _, sched := range s.startup {
		if stored[sched.TaskName] {
			continue
		}
		if err := s.Add(ctx, sched); err != nil {
			return err
		}
	}

	return nil
}

// Shutdown releases the pool.
func (s *ScheduleStore) Shutdown(ctx context.Context) error {
	return s.driver.Shutdown(ctx)
}

// Add stores a schedule record. A zero ID is assigned a fresh one.
func (s *ScheduleStore) Add(ctx context.Context, sched Schedule) error {
	if sched.ID == uuid.Nil {
		sched.ID = uuid.New()
	}

	data, err := json.Marshal(sched)
	if err != nil {
		return fmt.Errorf("failed to serialize schedule for task %q: %w", sched.TaskName, err)
	}

	_, err = s.driver.Insert(ctx,
		[]driver.Column{s.primaryKey, s.taskName, s.schedule},
		[]any{sched.ID, sched.TaskName, string(data)},
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to store schedule for task %q: %w", sched.TaskName, err)
	}
	return nil
}

// List returns all stored schedules.
func (s *ScheduleStore) List(ctx context.Context) ([]Schedule, error) {
	rows, err := s.driver.Select(ctx, []driver.Column{s.schedule}, nil, nil)
	if err != nil {
		return nil, err
	}

	out := make([]Schedule, 0, len(rows))
	for _, row := range rows {
		data, err := scheduleBytes(row[s.schedule.Name])
		if err != nil {
			return nil, fmt.Errorf("failed to read stored schedule: %w", err)
		}
		var sched Schedule
		if err := json.Unmarshal(data, &sched); err != nil {
			return nil, fmt.Errorf("failed to parse stored schedule: %w", err)
		}
		out = append(out, sched)
	}
	return out, nil
}

// scheduleBytes normalizes the schedule column across backends: pgx decodes
// JSONB into structured values, pgconn and pq return JSON text.
func scheduleBytes(value any) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return json.Marshal(v)
	}
}

// Delete removes a schedule by ID.
func (s *ScheduleStore) Delete(ctx context.Context, id uuid.UUID) error {
	return s.driver.Delete(ctx, s.primaryKey, id)
}

// PostSend is called after a schedule fires. One-shot RunAt schedules are
// removed; cron schedules stay in place.
func (s *ScheduleStore) PostSend(ctx context.Context, sched Schedule) error {
	if sched.RunAt == nil {
		return nil
	}
	return s.Delete(ctx, sched.ID)
}
