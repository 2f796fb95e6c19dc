package messaging

import (
	"context"
	"testing"

	"github.com/queuerate/queuerate-go/contracts"
	"github.com/stretchr/testify/assert"
)

func TestHandlerRegistry(t *testing.T) {
	echo := HandlerFunc(func(ctx context.Context, payload map[string]interface{}) (interface{}, error) {
		return payload, nil
	})

	t.Run("Register binds an operation to a handler", func(t *testing.T) {
		registry := NewHandlerRegistry(PrefixedMode("awesome"))

		err := registry.Register("greet", echo)

		assert.NoError(t, err)
		handler, err := registry.Lookup("greet")
		assert.NoError(t, err)
		assert.NotNil(t, handler)
	})

	t.Run("Register rejects a nil handler", func(t *testing.T) {
		registry := NewHandlerRegistry(PrefixedMode("awesome"))

		err := registry.Register("greet", nil)

		var invalidErr *contracts.InvalidNameError
		assert.ErrorAs(t, err, &invalidErr)
	})

	t.Run("Register rejects names the mode rejects", func(t *testing.T) {
		registry := NewHandlerRegistry(PrefixedMode("awesome"))

		var invalidErr *contracts.InvalidNameError
		assert.ErrorAs(t, registry.Register("", echo), &invalidErr)
		assert.ErrorAs(t, registry.Register("a.b", echo), &invalidErr)
	})

	t.Run("duplicate registration fails and keeps the first handler", func(t *testing.T) {
		registry := NewHandlerRegistry(PrefixedMode("awesome"))
		first := HandlerFunc(func(ctx context.Context, payload map[string]interface{}) (interface{}, error) {
			return "first", nil
		})
		second := HandlerFunc(func(ctx context.Context, payload map[string]interface{}) (interface{}, error) {
			return "second", nil
		})

		assert.NoError(t, registry.Register("greet", first))
		err := registry.Register("greet", second)

		var dupErr *contracts.DuplicateOperationError
		assert.ErrorAs(t, err, &dupErr)
		assert.Equal(t, "greet", dupErr.Name)

		handler, err := registry.Lookup("greet")
		assert.NoError(t, err)
		result, err := handler.Handle(context.Background(), nil)
		assert.NoError(t, err)
		assert.Equal(t, "first", result)
	})

	t.Run("Lookup of an unknown operation fails", func(t *testing.T) {
		registry := NewHandlerRegistry(PrefixedMode("awesome"))

		_, err := registry.Lookup("missing")

		var notFound *contracts.NotFoundError
		assert.ErrorAs(t, err, &notFound)
		assert.Equal(t, "missing", notFound.Name)
	})

	t.Run("Operations returns sorted names", func(t *testing.T) {
		registry := NewHandlerRegistry(PrefixedMode("awesome"))
		assert.NoError(t, registry.Register("zeta", echo))
		assert.NoError(t, registry.Register("alpha", echo))
		assert.NoError(t, registry.Register("mid", echo))

		assert.Equal(t, []string{"alpha", "mid", "zeta"}, registry.Operations())
	})

	t.Run("legacy mode accepts dotted operation names", func(t *testing.T) {
		mode, err := LegacyMode("api.jobs")
		assert.NoError(t, err)
		registry := NewHandlerRegistry(mode)

		assert.NoError(t, registry.Register("testapi.test", echo))
	})
}
