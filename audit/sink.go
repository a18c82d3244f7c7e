package audit

import (
	"context"
	"encoding/json"

	"github.com/caremesh/ehrbridge/messaging"
	"github.com/rs/zerolog/log"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

// Entity is the broker entity audit events are published to.
var Entity = messaging.Entity{Name: "audit-events", Prefixed: true}

var _ Sink = &BrokerSink{}
var _ Sink = LoggerSink{}

// NewBrokerSink creates a Sink that publishes FHIR AuditEvents to the audit
// store's ingestion queue. The store's integrity-hash chain is its own concern.
func NewBrokerSink(broker messaging.Broker, config Config) *BrokerSink {
	return &BrokerSink{
		broker: broker,
		observer: fhir.Identifier{
			System: &config.ObserverSystem,
			Value:  &config.ObserverValue,
		},
	}
}

type BrokerSink struct {
	broker   messaging.Broker
	observer fhir.Identifier
}

func (s *BrokerSink) Record(ctx context.Context, event Event) {
	body, err := json.Marshal(FHIREvent(event, s.observer))
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msgf("Audit: marshal event failed (requestId=%s)", event.RequestID)
		return
	}
	err = s.broker.SendMessage(ctx, Entity, &messaging.Message{
		Body:          body,
		ContentType:   "application/fhir+json",
		CorrelationID: &event.RequestID,
	})
	if err != nil {
		// Best-effort: the clinical operation already finished, its outcome must not depend on audit delivery.
		log.Ctx(ctx).Warn().Err(err).Msgf("Audit: event delivery failed (requestId=%s)", event.RequestID)
	}
}

// LoggerSink writes audit events to the process log. Only intended for
// development; production deployments configure a broker-backed sink.
type LoggerSink struct{}

func (LoggerSink) Record(ctx context.Context, event Event) {
	log.Ctx(ctx).Info().
		Str("event_type", event.EventType).
		Str("actor", event.ActorID).
		Str("resource_type", event.ResourceType).
		Str("resource_id", event.ResourceID).
		Str("action", event.Action.Code()).
		Str("outcome", event.Outcome.Code()).
		Str("request_id", event.RequestID).
		Msg("Audit event")
}
