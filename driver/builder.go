package driver

import (
	"fmt"
	"strings"
)

// The builders below render complete parameterized statements with positional
// placeholders numbered from 1 in argument order. They perform no I/O, which
// keeps them testable without a database.

// BuildCreateTable renders an idempotent CREATE TABLE statement with one
// clause per column, in column order.
func BuildCreateTable(table string, columns []Column) string {
	defs := make([]string, len(columns))
	for i, col := range columns {
		defs[i] = col.Definition()
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table, strings.Join(defs, ", "))
}

// BuildCreateIndexes renders one idempotent hashed index per column, named
// {table}_{column}_idx by convention. Returns an empty string when no columns
// are given.
func BuildCreateIndexes(table string, columns []Column) string {
	stmts := make([]string, len(columns))
	for i, col := range columns {
		stmts[i] = fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s_%s_idx ON %s USING HASH (%s);",
			table, col.Name, table, col.Name,
		)
	}

	return strings.Join(stmts, "\n")
}

// BuildInsert renders an INSERT with positional value placeholders and an
// optional trailing RETURNING clause.
func BuildInsert(table string, columns []Column, returning []Column) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(columnNames(columns))
	b.WriteString(") VALUES (")
	b.WriteString(placeholders(1, len(columns)))
	b.WriteString(")")

	if len(returning) > 0 {
		b.WriteString(" RETURNING ")
		b.WriteString(columnNames(returning))
	}

	return b.String()
}

// ConflictAction selects the ON CONFLICT behavior of BuildInsertOrUpdate.
type ConflictAction int

const (
	// ConflictUpdate overwrites the listed update columns from the incoming row.
	ConflictUpdate ConflictAction = iota
	// ConflictNothing turns a conflicting insert into a no-op.
	ConflictNothing
)

// BuildInsertOrUpdate renders an upsert. With ConflictUpdate the update
// column list is mandatory; omitting it is a configuration error reported at
// build time, not a runtime condition.
func BuildInsertOrUpdate(table string, columns, conflictColumns []Column, action ConflictAction, updateColumns, returning []Column) (string, error) {
	var b strings.Builder
	b.WriteString(BuildInsert(table, columns, nil))
	b.WriteString(" ON CONFLICT (")
	b.WriteString(columnNames(conflictColumns))
	b.WriteString(")")

	switch action {
	case ConflictUpdate:
		if len(updateColumns) == 0 {
			return "", ErrNoUpdateColumns
		}
		sets := make([]string, len(updateColumns))
		for i, col := range updateColumns {
			sets[i] = fmt.Sprintf("%s = EXCLUDED.%s", col.Name, col.Name)
		}
		b.WriteString(" DO UPDATE SET ")
		b.WriteString(strings.Join(sets, ", "))
	case ConflictNothing:
		b.WriteString(" DO NOTHING")
	}

	if len(returning) > 0 {
		b.WriteString(" RETURNING ")
		b.WriteString(columnNames(returning))
	}

	return b.String(), nil
}

// BuildDelete renders a delete with a single-column equality predicate.
func BuildDelete(table string, column Column) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s = $1", table, column.Name)
}

// BuildDeleteReturning renders an atomic delete-and-return statement. The
// delete and the read-back happen in one statement so a concurrent deleter
// can never observe a row this call is also deleting.
func BuildDeleteReturning(table string, where Column, returning []Column) string {
	return fmt.Sprintf(
		"DELETE FROM %s WHERE %s = $1 RETURNING %s",
		table, where.Name, columnNames(returning),
	)
}

// BuildDeleteByDateRange renders an inclusive range delete over a timestamp
// column.
func BuildDeleteByDateRange(table string, column Column) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s BETWEEN $1 AND $2", table, column.Name)
}

// BuildSelect renders a projection over the given columns with an optional
// conjunctive equality predicate.
func BuildSelect(table string, columns, whereColumns []Column) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(columnNames(columns))
	b.WriteString(" FROM ")
	b.WriteString(table)

	if len(whereColumns) > 0 {
		preds := make([]string, len(whereColumns))
		for i, col := range whereColumns {
			preds[i] = fmt.Sprintf("%s = $%d", col.Name, i+1)
		}
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(preds, " AND "))
	}

	return b.String()
}

func columnNames(columns []Column) string {
	names := make([]string, len(columns))
	for i, col := range columns {
		names[i] = col.Name
	}
	return strings.Join(names, ", ")
}

func placeholders(start, count int) string {
	ph := make([]string, count)
	for i := 0; i < count; i++ {
		ph[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(ph, ", ")
}
