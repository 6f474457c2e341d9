package pgqueue

import (
	"log/slog"

	"github.com/dmitrymomot/pgqueue/driver"
)

// Option is a functional option for configuring a Broker.
type Option func(*brokerOptions)

type brokerOptions struct {
	logger     *slog.Logger
	taskIDKind driver.Kind
	driver     driver.Driver
	listener   driver.ListenDriver
}

// WithLogger sets the logger used by the broker.
func WithLogger(log *slog.Logger) Option {
	return func(o *brokerOptions) {
		if log != nil {
			o.logger = log
		}
	}
}

// WithTaskIDKind sets the column kind of the task_id column. Defaults to
// UUID; VarChar and Text are the other sensible choices.
func WithTaskIDKind(kind driver.Kind) Option {
	return func(o *brokerOptions) {
		o.taskIDKind = kind
	}
}

// WithDrivers injects a Driver and ListenDriver pair directly, bypassing the
// registry. Used by tests to run the broker against in-memory fakes.
func WithDrivers(d driver.Driver, l driver.ListenDriver) Option {
	return func(o *brokerOptions) {
		if d != nil && l != nil {
			o.driver = d
			o.listener = l
		}
	}
}

// ResultOption is a functional option for configuring a ResultStore.
type ResultOption func(*resultOptions)

type resultOptions struct {
	taskIDKind driver.Kind
	driver     driver.Driver
}

// WithResultTaskIDKind sets the column kind of the result table's task_id
// primary key.
func WithResultTaskIDKind(kind driver.Kind) ResultOption {
	return func(o *resultOptions) {
		o.taskIDKind = kind
	}
}

// WithResultDriver injects a Driver directly, bypassing the registry.
func WithResultDriver(d driver.Driver) ResultOption {
	return func(o *resultOptions) {
		if d != nil {
			o.driver = d
		}
	}
}

// ScheduleOption is a functional option for configuring a ScheduleStore.
type ScheduleOption func(*scheduleOptions)

type scheduleOptions struct {
	startup []Schedule
	driver  driver.Driver
}

// WithStartupSchedules registers schedules seeded during Startup: any whose
// task name is not yet stored is inserted once.
func WithStartupSchedules(schedules ...Schedule) ScheduleOption {
	return func(o *scheduleOptions) {
		o.startup = append(o.startup, schedules...)
	}
}

// WithScheduleDriver injects a Driver directly, bypassing the registry.
func WithScheduleDriver(d driver.Driver) ScheduleOption {
	return func(o *scheduleOptions) {
		if d != nil {
			o.driver = d
		}
	}
}
