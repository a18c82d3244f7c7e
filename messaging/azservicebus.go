package messaging

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/rs/zerolog/log"
)

var _ Broker = &AzureServiceBusBroker{}

// AzureServiceBusConfig holds the configuration for connecting to an Azure Service Bus namespace.
// Either a connection string or a hostname (with ambient credentials) must be set.
type AzureServiceBusConfig struct {
	Hostname         string `koanf:"hostname"`
	ConnectionString string `koanf:"connectionstring"`
}

func (a AzureServiceBusConfig) Enabled() bool {
	return a.Hostname != "" || a.ConnectionString != ""
}

func newAzureServiceBusBroker(conf AzureServiceBusConfig, entities []Entity, entityPrefix string) (*AzureServiceBusBroker, error) {
	var client *azservicebus.Client
	var err error
	switch {
	case conf.ConnectionString != "":
		client, err = azservicebus.NewClientFromConnectionString(conf.ConnectionString, nil)
	case conf.Hostname != "":
		var cred *azidentity.DefaultAzureCredential
		cred, err = azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, err
		}
		client, err = azservicebus.NewClient(conf.Hostname, cred, nil)
	default:
		return nil, errors.New("configuration is missing hostname or connection string")
	}
	if err != nil {
		return nil, err
	}
	senders := map[string]*azservicebus.Sender{}
	for _, entity := range entities {
		sender, err := client.NewSender(entity.FullName(entityPrefix), nil)
		if err != nil {
			return nil, fmt.Errorf("create sender (entity=%s): %w", entity.FullName(entityPrefix), err)
		}
		senders[entity.Name] = sender
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &AzureServiceBusBroker{
		client:       client,
		senders:      senders,
		entityPrefix: entityPrefix,
		ctx:          ctx,
		ctxCancel:    cancel,
	}, nil
}

// AzureServiceBusBroker delivers messages over Azure Service Bus queues/topics.
// One sender is created per configured entity at startup.
type AzureServiceBusBroker struct {
	senders      map[string]*azservicebus.Sender
	senderLock   sync.RWMutex
	client       *azservicebus.Client
	entityPrefix string
	ctx          context.Context
	ctxCancel    context.CancelFunc
	receivers    sync.WaitGroup
}

// Close stops the receivers, then closes all senders and the underlying client.
func (c *AzureServiceBusBroker) Close(ctx context.Context) error {
	c.senderLock.Lock()
	defer c.senderLock.Unlock()

	c.ctxCancel()
	c.receivers.Wait()

	var errs []error
	for entity, sender := range c.senders {
		if err := sender.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close sender (entity=%s): %w", entity, err))
		}
		delete(c.senders, entity)
	}
	if err := c.client.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close client: %w", err))
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{errors.New("azure service bus: close() failures")}, errs...)...)
	}
	log.Ctx(ctx).Debug().Msg("AzureServiceBus: closed")
	return nil
}

func (c *AzureServiceBusBroker) ReceiveFromQueue(queue Entity, handler func(context.Context, Message) error) error {
	fullName := queue.FullName(c.entityPrefix)
	receiver, err := c.client.NewReceiverForQueue(fullName, &azservicebus.ReceiverOptions{})
	if err != nil {
		return fmt.Errorf("AzureServiceBus: create receiver (queue=%s): %w", fullName, err)
	}
	c.receivers.Add(1)
	go func() {
		defer c.receivers.Done()
		c.receiveLoop(receiver, fullName, handler)
	}()
	return nil
}

func (c *AzureServiceBusBroker) receiveLoop(receiver *azservicebus.Receiver, fullName string, handler func(context.Context, Message) error) {
	for c.ctx.Err() == nil {
		messages, err := receiver.ReceiveMessages(c.ctx, 1, &azservicebus.ReceiveMessagesOptions{})
		if err != nil {
			const backoffTime = time.Minute
			if !errors.Is(err, context.Canceled) {
				log.Ctx(c.ctx).Err(err).Msgf("AzureServiceBus: receive failed, backing off for %s (src: %s)", backoffTime, fullName)
			}
			// The backoff must not block shutdown.
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(backoffTime):
			}
			continue
		}
		if len(messages) == 0 {
			time.Sleep(time.Second)
			continue
		}
		azMessage := messages[0]
		message := Message{
			Body:          azMessage.Body,
			CorrelationID: azMessage.CorrelationID,
		}
		if azMessage.ContentType != nil {
			message.ContentType = *azMessage.ContentType
		}
		if err := handler(c.ctx, message); err != nil {
			log.Ctx(c.ctx).Warn().Err(err).Msgf("AzureServiceBus: message handler failed (src: %s), abandoning message", fullName)
			if err := receiver.AbandonMessage(c.ctx, azMessage, &azservicebus.AbandonMessageOptions{
				PropertiesToModify: map[string]any{
					"deliveryfailure-" + strconv.Itoa(int(azMessage.DeliveryCount)): err.Error(),
				},
			}); err != nil {
				log.Ctx(c.ctx).Err(err).Msgf("AzureServiceBus: abandon message failed (src: %s)", fullName)
			}
		} else if err := receiver.CompleteMessage(c.ctx, azMessage, &azservicebus.CompleteMessageOptions{}); err != nil {
			log.Ctx(c.ctx).Err(err).Msgf("AzureServiceBus: complete message failed (src: %s)", fullName)
		}
	}
}

// SendMessage sends a message to the sender configured for the given entity.
func (c *AzureServiceBusBroker) SendMessage(ctx context.Context, entity Entity, message *Message) error {
	c.senderLock.RLock()
	defer c.senderLock.RUnlock()
	sender, ok := c.senders[entity.Name]
	if !ok {
		return fmt.Errorf("AzureServiceBus: sender not found (entity=%s)", entity.Name)
	}
	return sender.SendMessage(ctx, &azservicebus.Message{
		Body:          message.Body,
		ContentType:   &message.ContentType,
		CorrelationID: message.CorrelationID,
	}, nil)
}
