package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/caremesh/ehrbridge/audit"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

// VendorHooks captures the behavior that differs per EHR vendor: default
// request headers, the identifier convention used to look up patients by an
// external identifier (e.g. a medical record number), and write-side
// defaulting applied before a resource is created. PrepareCreate must be a
// pure transform of the outbound body.
type VendorHooks interface {
	DefaultHeaders() http.Header
	IdentifierQuery(externalID string) url.Values
	PrepareCreate(resourceType string, body json.RawMessage) (json.RawMessage, error)
}

// Connector is the uniform integration surface over one configured EHR
// vendor. A single instance is created per vendor at startup and shared
// across concurrent inbound requests.
type Connector struct {
	id    string
	props Properties
	hooks VendorHooks
	ops   *FhirOperations
}

type Option func(*Connector)

// WithHTTPClient replaces the connector's HTTP client. Used in tests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Connector) {
		c.ops.pipeline.httpClient = client
	}
}

// WithNowFunc replaces the connector's clock. Used in tests.
func WithNowFunc(now func() time.Time) Option {
	return func(c *Connector) {
		c.ops.pipeline.nowFunc = now
	}
}

func New(vendorID string, props Properties, hooks VendorHooks, source TokenSource, sink audit.Sink, opts ...Option) (*Connector, error) {
	baseURL, err := url.Parse(props.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid FHIR base URL: %w", err)
	}
	pipeline := NewPipeline(vendorID, baseURL, NewHTTPClient(props), hooks.DefaultHeaders(), source, sink)
	result := &Connector{
		id:    vendorID,
		props: props,
		hooks: hooks,
		ops:   NewFhirOperations(pipeline),
	}
	for _, opt := range opts {
		opt(result)
	}
	return result, nil
}

// NewHTTPClient creates the HTTP client used for calls to this vendor: a
// bounded timeout, and a traced transport.
func NewHTTPClient(props Properties) *http.Client {
	timeout := props.Timeout
	if timeout == 0 {
		timeout = DefaultProperties().Timeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: NewTracedTransport(nil),
	}
}

func (c *Connector) ID() string {
	return c.id
}

func (c *Connector) Search(ctx context.Context, resourceType string, params url.Values) OperationResult {
	return c.ops.Search(ctx, resourceType, params)
}

func (c *Connector) Read(ctx context.Context, resourceType, id string) OperationResult {
	return c.ops.Read(ctx, resourceType, id)
}

// Create applies the vendor's write-side defaulting before delegating to the
// verb layer.
func (c *Connector) Create(ctx context.Context, resourceType string, body json.RawMessage) OperationResult {
	prepared, err := c.hooks.PrepareCreate(resourceType, body)
	if err != nil {
		return OperationResult{
			Success:        false,
			Classification: ErrorKindVendorRejected,
			VendorMessage:  err.Error(),
		}
	}
	return c.ops.Create(ctx, resourceType, prepared)
}

func (c *Connector) Update(ctx context.Context, resourceType, id string, body json.RawMessage) OperationResult {
	return c.ops.Update(ctx, resourceType, id, body)
}

func (c *Connector) Delete(ctx context.Context, resourceType, id string) OperationResult {
	return c.ops.Delete(ctx, resourceType, id)
}

// FindPatientByExternalID looks up a patient by the vendor's external
// identifier convention (e.g. MRN). Returns nil when no patient matches.
func (c *Connector) FindPatientByExternalID(ctx context.Context, externalID string) (*fhir.Patient, error) {
	result := c.ops.Search(ctx, "Patient", c.hooks.IdentifierQuery(externalID))
	if !result.Success {
		return nil, &ClassifiedError{
			Kind:       result.Classification,
			HTTPStatus: result.HTTPStatus,
			Message:    result.VendorMessage,
		}
	}
	var bundle fhir.Bundle
	if err := json.Unmarshal(result.Payload, &bundle); err != nil {
		return nil, fmt.Errorf("unmarshal search bundle: %w", err)
	}
	for _, entry := range bundle.Entry {
		var patient fhir.Patient
		if err := json.Unmarshal(entry.Resource, &patient); err != nil {
			continue
		}
		return &patient, nil
	}
	return nil, nil
}
