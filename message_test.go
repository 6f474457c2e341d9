package pgqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageDelay(t *testing.T) {
	t.Parallel()

	t.Run("no label means no delay", func(t *testing.T) {
		t.Parallel()

		msg := Message{Payload: []byte("x")}
		delay, err := msg.delay()
		require.NoError(t, err)
		assert.Equal(t, time.Duration(0), delay)

		msg.Labels = map[string]string{"priority": "high"}
		delay, err = msg.delay()
		require.NoError(t, err)
		assert.Equal(t, time.Duration(0), delay)
	})

	t.Run("whole seconds", func(t *testing.T) {
		t.Parallel()

		for label, want := range map[string]time.Duration{
			"0":  0,
			"1":  time.Second,
			"30": 30 * time.Second,
		} {
			msg := Message{Labels: map[string]string{DelayLabel: label}}
			delay, err := msg.delay()
			require.NoError(t, err)
			assert.Equal(t, want, delay, "label %q", label)
		}
	})

	t.Run("malformed values", func(t *testing.T) {
		t.Parallel()

		for _, label := range []string{"-1", "abc", "1.5", ""} {
			msg := Message{Labels: map[string]string{DelayLabel: label}}
			_, err := msg.delay()
			assert.ErrorIs(t, err, ErrInvalidDelay, "label %q", label)
		}
	})
}
