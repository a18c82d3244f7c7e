//go:generate mockgen -destination=./service_mock.go -package=messaging -source=service.go
package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// New creates the message broker the audit trail is delivered over.
// Azure Service Bus is used when configured, with an optional HTTP forwarder
// layered on top (development and test environments). Without any broker
// configuration an in-memory broker is returned, for single-process setups.
func New(config Config, entities []Entity) (Broker, error) {
	var broker Broker
	var err error
	if config.AzureServiceBus.Enabled() {
		broker, err = newAzureServiceBusBroker(config.AzureServiceBus, entities, config.EntityPrefix)
		if err != nil {
			return nil, fmt.Errorf("azure service bus: %w", err)
		}
	}
	if config.HTTP.Endpoint != "" {
		log.Info().Msgf("Messaging: sending messages over HTTP to %s", config.HTTP.Endpoint)
		broker = NewHTTPBroker(config.HTTP, broker)
	}
	if broker == nil {
		log.Info().Msg("Messaging: no broker configured, using in-memory broker")
		broker = NewMemoryBroker()
	}
	return broker, nil
}

// Config holds the configuration for messaging.
type Config struct {
	// AzureServiceBus holds the configuration for messaging using Azure ServiceBus.
	AzureServiceBus AzureServiceBusConfig `koanf:"azureservicebus"`
	HTTP            HTTPBrokerConfig      `koanf:"http"`
	// EntityPrefix is prepended to queue/topic names, to namespace entities on brokers shared between environments.
	EntityPrefix string `koanf:"entityprefix"`
}

func (c Config) Validate(strictMode bool) error {
	if strictMode && c.HTTP.Endpoint != "" {
		return errors.New("http endpoint is not allowed in strict mode")
	}
	return nil
}

// Entity is a named queue or topic on the broker.
type Entity struct {
	Name string
	// Prefixed indicates the configured entity prefix applies to this entity.
	Prefixed bool
}

func (e Entity) FullName(prefix string) string {
	if e.Prefixed {
		return prefix + e.Name
	}
	return e.Name
}

type Message struct {
	Body          []byte
	ContentType   string
	CorrelationID *string
}

// Broker defines an interface for interacting with a message broker, including sending messages and closing connections.
type Broker interface {
	Close(ctx context.Context) error
	SendMessage(ctx context.Context, entity Entity, message *Message) error
	ReceiveFromQueue(queue Entity, handler func(context.Context, Message) error) error
}
