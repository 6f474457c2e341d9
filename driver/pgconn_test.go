package driver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeTextValue(t *testing.T) {
	t.Parallel()

	t.Run("bytea is hex encoded", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, []byte(`\x68656c6c6f`), encodeTextValue(KindBytea, []byte("hello")))
	})

	t.Run("non-bytea bytes pass through", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, []byte(`{"a":1}`), encodeTextValue(KindJSONB, []byte(`{"a":1}`)))
	})

	t.Run("nil stays nil", func(t *testing.T) {
		t.Parallel()
		assert.Nil(t, encodeTextValue(KindText, nil))
	})

	t.Run("scalars", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, []byte("42"), encodeTextValue(KindInteger, 42))
		assert.Equal(t, []byte("42"), encodeTextValue(KindBigSerial, int64(42)))
		assert.Equal(t, []byte("true"), encodeTextValue(KindBoolean, true))
		assert.Equal(t, []byte("hi"), encodeTextValue(KindText, "hi"))
	})

	t.Run("timestamp", func(t *testing.T) {
		t.Parallel()

		ts := time.Date(2026, 8, 29, 12, 30, 0, 0, time.UTC)
		assert.Equal(t, []byte("2026-08-29 12:30:00Z"), encodeTextValue(KindTimestampTZ, ts))
	})
}

func TestDecodeTextValue(t *testing.T) {
	t.Parallel()

	t.Run("integers", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, int64(7), decodeTextValue(KindSerial, []byte("7")))
		assert.Equal(t, int64(-3), decodeTextValue(KindInteger, []byte("-3")))
	})

	t.Run("bytea hex round trip", func(t *testing.T) {
		t.Parallel()

		encoded := encodeTextValue(KindBytea, []byte("payload"))
		assert.Equal(t, []byte("payload"), decodeTextValue(KindBytea, encoded))
	})

	t.Run("boolean", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, true, decodeTextValue(KindBoolean, []byte("t")))
		assert.Equal(t, false, decodeTextValue(KindBoolean, []byte("f")))
	})

	t.Run("timestamp", func(t *testing.T) {
		t.Parallel()

		got := decodeTextValue(KindTimestampTZ, []byte("2026-08-29 12:30:00.5+02"))
		ts, ok := got.(time.Time)
		require.True(t, ok, "expected time.Time, got %T", got)
		assert.Equal(t, 2026, ts.Year())
		assert.Equal(t, 500*time.Millisecond, time.Duration(ts.Nanosecond()))
	})

	t.Run("text kinds stay strings", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, `{"a":1}`, decodeTextValue(KindJSONB, []byte(`{"a":1}`)))
	})

	t.Run("nil field stays nil", func(t *testing.T) {
		t.Parallel()
		assert.Nil(t, decodeTextValue(KindText, nil))
	})
}

func TestQuoteIdentifier(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `"pgqueue"`, quoteIdentifier("pgqueue"))
	assert.Equal(t, `"a""b"`, quoteIdentifier(`a"b`))
}
