package messaging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	t.Run("strict mode with HTTP endpoint", func(t *testing.T) {
		c := Config{
			HTTP: HTTPBrokerConfig{
				Endpoint: "http://localhost:8080",
			},
		}
		err := c.Validate(true)
		require.Error(t, err)
	})
	t.Run("non-strict mode with HTTP endpoint", func(t *testing.T) {
		c := Config{
			HTTP: HTTPBrokerConfig{
				Endpoint: "http://localhost:8080",
			},
		}
		err := c.Validate(false)
		require.NoError(t, err)
	})
}

func TestEntity_FullName(t *testing.T) {
	require.Equal(t, "ehrbridge-audit-events", Entity{Name: "audit-events", Prefixed: true}.FullName("ehrbridge-"))
	require.Equal(t, "audit-events", Entity{Name: "audit-events"}.FullName("ehrbridge-"))
}

func TestNew_DefaultsToMemoryBroker(t *testing.T) {
	broker, err := New(Config{}, []Entity{{Name: "audit-events"}})
	require.NoError(t, err)
	require.IsType(t, &MemoryBroker{}, broker)
}

func TestMemoryBroker(t *testing.T) {
	broker := NewMemoryBroker()
	entity := Entity{Name: "audit-events"}

	t.Run("no handlers", func(t *testing.T) {
		err := broker.SendMessage(context.Background(), entity, &Message{Body: []byte("{}")})
		require.Error(t, err)
	})
	t.Run("delivers to handler", func(t *testing.T) {
		var received []Message
		err := broker.ReceiveFromQueue(entity, func(_ context.Context, msg Message) error {
			received = append(received, msg)
			return nil
		})
		require.NoError(t, err)
		err = broker.SendMessage(context.Background(), entity, &Message{Body: []byte(`{"resourceType":"AuditEvent"}`)})
		require.NoError(t, err)
		require.Len(t, received, 1)
	})
}
