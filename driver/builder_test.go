package driver_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/pgqueue/driver"
)

var (
	testPK      = driver.SerialPrimaryKey("id")
	testTaskID  = driver.Column{Name: "task_id", Kind: driver.KindUUID}
	testName    = driver.Column{Name: "task_name", Kind: driver.KindVarChar}
	testMessage = driver.Column{Name: "message", Kind: driver.KindBytea}
	testLabels  = driver.Column{Name: "labels", Kind: driver.KindJSONB}
)

func TestBuildCreateTable(t *testing.T) {
	t.Parallel()

	got := driver.BuildCreateTable("msgs", []driver.Column{
		testPK,
		testTaskID,
		testMessage,
		driver.CreatedAtColumn(),
	})

	assert.Equal(t,
		"CREATE TABLE IF NOT EXISTS msgs ("+
			"id SERIAL NOT NULL PRIMARY KEY, "+
			"task_id UUID NOT NULL, "+
			"message BYTEA NOT NULL, "+
			"created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW())",
		got)
}

func TestBuildCreateTable_NullableColumn(t *testing.T) {
	t.Parallel()

	got := driver.BuildCreateTable("t", []driver.Column{
		{Name: "note", Kind: driver.KindText, Nullable: true},
	})

	assert.Equal(t, "CREATE TABLE IF NOT EXISTS t (note TEXT)", got)
}

func TestBuildCreateIndexes(t *testing.T) {
	t.Parallel()

	t.Run("one index per column", func(t *testing.T) {
		t.Parallel()

		got := driver.BuildCreateIndexes("msgs", []driver.Column{testPK, testName})
		assert.Equal(t,
			"CREATE INDEX IF NOT EXISTS msgs_id_idx ON msgs USING HASH (id);\n"+
				"CREATE INDEX IF NOT EXISTS msgs_task_name_idx ON msgs USING HASH (task_name);",
			got)
	})

	t.Run("empty without columns", func(t *testing.T) {
		t.Parallel()

		assert.Empty(t, driver.BuildCreateIndexes("msgs", nil))
	})
}

func TestBuildInsert(t *testing.T) {
	t.Parallel()

	cols := []driver.Column{testTaskID, testName, testMessage, testLabels}

	t.Run("without returning", func(t *testing.T) {
		t.Parallel()

		got := driver.BuildInsert("msgs", cols, nil)
		assert.Equal(t,
			"INSERT INTO msgs (task_id, task_name, message, labels) VALUES ($1, $2, $3, $4)",
			got)
	})

	t.Run("with returning", func(t *testing.T) {
		t.Parallel()

		got := driver.BuildInsert("msgs", cols, []driver.Column{testPK})
		assert.Equal(t,
			"INSERT INTO msgs (task_id, task_name, message, labels) VALUES ($1, $2, $3, $4) RETURNING id",
			got)
	})
}

func TestBuildInsertOrUpdate(t *testing.T) {
	t.Parallel()

	cols := []driver.Column{testTaskID, testMessage}

	t.Run("update on conflict", func(t *testing.T) {
		t.Parallel()

		got, err := driver.BuildInsertOrUpdate("results", cols,
			[]driver.Column{testTaskID}, driver.ConflictUpdate,
			[]driver.Column{testMessage}, nil)
		require.NoError(t, err)
		assert.Equal(t,
			"INSERT INTO results (task_id, message) VALUES ($1, $2) "+
				"ON CONFLICT (task_id) DO UPDATE SET message = EXCLUDED.message",
			got)
	})

	t.Run("nothing on conflict", func(t *testing.T) {
		t.Parallel()

		got, err := driver.BuildInsertOrUpdate("results", cols,
			[]driver.Column{testTaskID}, driver.ConflictNothing, nil, nil)
		require.NoError(t, err)
		assert.Equal(t,
			"INSERT INTO results (task_id, message) VALUES ($1, $2) ON CONFLICT (task_id) DO NOTHING",
			got)
	})

	t.Run("with returning", func(t *testing.T) {
		t.Parallel()

		got, err := driver.BuildInsertOrUpdate("results", cols,
			[]driver.Column{testTaskID}, driver.ConflictUpdate,
			[]driver.Column{testMessage}, []driver.Column{testTaskID})
		require.NoError(t, err)
		assert.Contains(t, got, "RETURNING task_id")
	})

	t.Run("update without columns is a build error", func(t *testing.T) {
		t.Parallel()

		_, err := driver.BuildInsertOrUpdate("results", cols,
			[]driver.Column{testTaskID}, driver.ConflictUpdate, nil, nil)
		assert.ErrorIs(t, err, driver.ErrNoUpdateColumns)
	})
}

func TestBuildDelete(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "DELETE FROM msgs WHERE id = $1", driver.BuildDelete("msgs", testPK))
}

func TestBuildDeleteReturning(t *testing.T) {
	t.Parallel()

	got := driver.BuildDeleteReturning("msgs", testPK, []driver.Column{testMessage, testLabels})
	assert.Equal(t, "DELETE FROM msgs WHERE id = $1 RETURNING message, labels", got)
}

func TestBuildDeleteByDateRange(t *testing.T) {
	t.Parallel()

	got := driver.BuildDeleteByDateRange("msgs", driver.CreatedAtColumn())
	assert.Equal(t, "DELETE FROM msgs WHERE created_at BETWEEN $1 AND $2", got)
}

func TestBuildSelect(t *testing.T) {
	t.Parallel()

	t.Run("without filter", func(t *testing.T) {
		t.Parallel()

		got := driver.BuildSelect("msgs", []driver.Column{testMessage}, nil)
		assert.Equal(t, "SELECT message FROM msgs", got)
	})

	t.Run("conjunctive filter with positional placeholders", func(t *testing.T) {
		t.Parallel()

		got := driver.BuildSelect("msgs",
			[]driver.Column{testMessage, testLabels},
			[]driver.Column{testTaskID, testName})
		assert.Equal(t,
			"SELECT message, labels FROM msgs WHERE task_id = $1 AND task_name = $2",
			got)
	})
}

func TestBuildCreateTable_Idempotent(t *testing.T) {
	t.Parallel()

	// Deterministic output and IF NOT EXISTS make repeated creation safe.
	cols := []driver.Column{testPK, testMessage}
	first := driver.BuildCreateTable("msgs", cols)
	second := driver.BuildCreateTable("msgs", cols)

	assert.Equal(t, first, second)
	assert.Contains(t, first, "IF NOT EXISTS")
}
