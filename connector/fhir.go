package connector

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

// FhirOperations is the vendor-agnostic verb set, a thin layer that maps each
// verb onto a pipeline execution. Search results come back as the
// vendor-native Bundle; ordering within it is vendor-determined.
type FhirOperations struct {
	pipeline *Pipeline
}

func NewFhirOperations(pipeline *Pipeline) *FhirOperations {
	return &FhirOperations{pipeline: pipeline}
}

func (o *FhirOperations) Search(ctx context.Context, resourceType string, params url.Values) OperationResult {
	return o.pipeline.Execute(ctx, Operation{
		Verb:         fhir.HTTPVerbGET,
		ResourceType: resourceType,
		Query:        params,
	})
}

func (o *FhirOperations) Read(ctx context.Context, resourceType, id string) OperationResult {
	return o.pipeline.Execute(ctx, Operation{
		Verb:         fhir.HTTPVerbGET,
		ResourceType: resourceType,
		ResourceID:   id,
	})
}

func (o *FhirOperations) Create(ctx context.Context, resourceType string, body json.RawMessage) OperationResult {
	return o.pipeline.Execute(ctx, Operation{
		Verb:         fhir.HTTPVerbPOST,
		ResourceType: resourceType,
		Body:         body,
	})
}

func (o *FhirOperations) Update(ctx context.Context, resourceType, id string, body json.RawMessage) OperationResult {
	return o.pipeline.Execute(ctx, Operation{
		Verb:         fhir.HTTPVerbPUT,
		ResourceType: resourceType,
		ResourceID:   id,
		Body:         body,
	})
}

func (o *FhirOperations) Delete(ctx context.Context, resourceType, id string) OperationResult {
	return o.pipeline.Execute(ctx, Operation{
		Verb:         fhir.HTTPVerbDELETE,
		ResourceType: resourceType,
		ResourceID:   id,
	})
}
