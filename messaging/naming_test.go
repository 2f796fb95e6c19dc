package messaging

import (
	"testing"

	"github.com/queuerate/queuerate-go/contracts"
	"github.com/stretchr/testify/assert"
)

func TestLegacyMode(t *testing.T) {
	t.Run("LegacyMode requires a queue name", func(t *testing.T) {
		_, err := LegacyMode("")

		assert.ErrorIs(t, err, ErrMissingQueue)
	})

	t.Run("Resolve returns the shared queue for every operation", func(t *testing.T) {
		mode, err := LegacyMode("api.jobs")
		assert.NoError(t, err)

		for _, op := range []string{"add", "remove", "testapi.test.queue"} {
			route, err := mode.Resolve(op)
			assert.NoError(t, err)
			assert.Equal(t, "api.jobs", route)
		}
	})

	t.Run("IsLegacy and accessors report configuration", func(t *testing.T) {
		mode, err := LegacyMode("api.jobs")
		assert.NoError(t, err)

		assert.True(t, mode.IsLegacy())
		assert.Equal(t, "api.jobs", mode.Queue())
		assert.Empty(t, mode.Prefix())
	})

	t.Run("ValidateName allows dotted names in legacy mode", func(t *testing.T) {
		mode, err := LegacyMode("api.jobs")
		assert.NoError(t, err)

		assert.NoError(t, mode.ValidateName("a.dotted.name"))
	})
}

func TestPrefixedMode(t *testing.T) {
	t.Run("Resolve joins prefix and operation", func(t *testing.T) {
		mode := PrefixedMode("awesome")

		route, err := mode.Resolve("greet")

		assert.NoError(t, err)
		assert.Equal(t, "awesome.greet", route)
	})

	t.Run("empty prefix falls back to DefaultPrefix", func(t *testing.T) {
		mode := PrefixedMode("")

		route, err := mode.Resolve("greet")

		assert.NoError(t, err)
		assert.Equal(t, "rabbitpy.greet", route)
		assert.Equal(t, DefaultPrefix, mode.Prefix())
	})

	t.Run("Resolve rejects empty operation names", func(t *testing.T) {
		mode := PrefixedMode("awesome")

		_, err := mode.Resolve("")

		var invalidErr *contracts.InvalidNameError
		assert.ErrorAs(t, err, &invalidErr)
	})

	t.Run("Resolve rejects names containing the separator", func(t *testing.T) {
		mode := PrefixedMode("awesome")

		_, err := mode.Resolve("a.b")

		var invalidErr *contracts.InvalidNameError
		assert.ErrorAs(t, err, &invalidErr)
		assert.Equal(t, "a.b", invalidErr.Name)
	})

	t.Run("IsLegacy is false", func(t *testing.T) {
		mode := PrefixedMode("awesome")

		assert.False(t, mode.IsLegacy())
		assert.Empty(t, mode.Queue())
	})
}

func TestZeroValueMode(t *testing.T) {
	t.Run("Resolve fails on an unconfigured mode", func(t *testing.T) {
		var mode NamingMode

		_, err := mode.Resolve("anything")

		assert.ErrorIs(t, err, ErrModeNotConfigured)
	})
}
