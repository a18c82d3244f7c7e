package audit

import (
	"context"
	"time"

	"github.com/caremesh/ehrbridge/fhirutil"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

// EventTypeRest is the event type for audit events produced by the FHIR request pipeline.
const EventTypeRest = "fhir.rest"

// Config holds the configuration for audit event production.
type Config struct {
	// ObserverSystem and ObserverValue identify this system as the audit event source.
	ObserverSystem string `koanf:"observersystem"`
	ObserverValue  string `koanf:"observervalue"`
}

func DefaultConfig() Config {
	return Config{
		ObserverSystem: "urn:ietf:rfc:3986",
		ObserverValue:  "urn:caremesh:ehrbridge",
	}
}

// Event describes a single clinical data access. It carries resource
// coordinates and outcome only, never resource content: audit records must be
// free of PHI.
type Event struct {
	EventType    string
	ActorID      string
	ResourceType string
	ResourceID   string
	Action       fhir.AuditEventAction
	Outcome      fhir.AuditEventOutcome
	RequestID    string
	Timestamp    time.Time
}

// Sink accepts audit events. Implementations are best-effort: delivery
// failures are logged locally and never propagated to the caller.
type Sink interface {
	Record(ctx context.Context, event Event)
}

// FHIREvent renders an Event as a FHIR AuditEvent resource, the format the
// audit store ingests.
func FHIREvent(event Event, observer fhir.Identifier) fhir.AuditEvent {
	var interactionCode, interactionDisplay string
	switch event.Action {
	case fhir.AuditEventActionC:
		interactionCode, interactionDisplay = "create", "Create"
	case fhir.AuditEventActionR:
		interactionCode, interactionDisplay = "read", "Read"
	case fhir.AuditEventActionU:
		interactionCode, interactionDisplay = "update", "Update"
	case fhir.AuditEventActionD:
		interactionCode, interactionDisplay = "delete", "Delete"
	default:
		interactionCode, interactionDisplay = "execute", "Execute"
	}

	entityRef := fhir.Reference{
		Type: fhirutil.Ptr(event.ResourceType),
	}
	if event.ResourceID != "" {
		entityRef.Reference = fhirutil.Ptr(event.ResourceType + "/" + event.ResourceID)
	}

	return fhir.AuditEvent{
		Type: fhir.Coding{
			System:  fhirutil.Ptr("http://terminology.hl7.org/CodeSystem/audit-event-type"),
			Code:    fhirutil.Ptr("rest"),
			Display: fhirutil.Ptr("RESTful Operation"),
		},
		Subtype: []fhir.Coding{
			{
				System:  fhirutil.Ptr("http://hl7.org/fhir/restful-interaction"),
				Code:    fhirutil.Ptr(interactionCode),
				Display: fhirutil.Ptr(interactionDisplay),
			},
		},
		Action:   fhirutil.Ptr(event.Action),
		Recorded: event.Timestamp.Format(time.RFC3339),
		Outcome:  fhirutil.Ptr(event.Outcome),
		Agent: []fhir.AuditEventAgent{
			{
				Who: &fhir.Reference{
					Identifier: &fhir.Identifier{
						Value: fhirutil.Ptr(event.ActorID),
					},
				},
				Requestor: true,
			},
		},
		Source: fhir.AuditEventSource{
			Observer: fhir.Reference{
				Identifier: &observer,
				Type:       fhirutil.Ptr("Device"),
			},
		},
		Entity: []fhir.AuditEventEntity{
			{
				What: &entityRef,
				Detail: []fhir.AuditEventEntityDetail{
					{
						Type:        "requestId",
						ValueString: fhirutil.Ptr(event.RequestID),
					},
				},
			},
		},
	}
}
