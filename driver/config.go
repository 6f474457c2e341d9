package driver

import "time"

// Config holds the connection settings shared by all backends.
type Config struct {
	ConnectionString string        `env:"PGQUEUE_DSN,required"`                   // ConnectionString is the connection string to the database.
	MaxOpenConns     int32         `env:"PGQUEUE_MAX_OPEN_CONNS" envDefault:"10"` // MaxOpenConns is the maximum number of open connections in the pool.
	MaxIdleConns     int32         `env:"PGQUEUE_MAX_IDLE_CONNS" envDefault:"5"`  // MaxIdleConns is the minimum number of idle connections kept in the pool.
	RetryAttempts    int           `env:"PGQUEUE_RETRY_ATTEMPTS" envDefault:"3"`  // RetryAttempts is the number of connection attempts made during Startup.
	RetryInterval    time.Duration `env:"PGQUEUE_RETRY_INTERVAL" envDefault:"5s"` // RetryInterval is the base interval between connection attempts.
}

// retryWait returns the backoff before retry attempt i (zero-based).
// Linear backoff prevents thundering herd when many workers restart at once.
func (c Config) retryWait(i int) time.Duration {
	return time.Duration(i+1) * c.RetryInterval
}

// attempts normalizes RetryAttempts so a zero-valued Config still connects once.
func (c Config) attempts() int {
	return max(c.RetryAttempts, 1)
}

// startupBudget is the total time the retry schedule may spend connecting.
// It bounds listener startup where the client library runs its own reconnect
// loop. Never less than 5s so a zero-valued Config can still connect.
func (c Config) startupBudget() time.Duration {
	var total time.Duration
	for i := 0; i < c.attempts(); i++ {
		total += c.retryWait(i)
	}
	return max(total, 5*time.Second)
}
