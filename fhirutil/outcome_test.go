package fhirutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

func TestSanitizeOperationOutcome(t *testing.T) {
	t.Run("security issues are replaced with a generic message", func(t *testing.T) {
		outcome := fhir.OperationOutcome{
			Issue: []fhir.OperationOutcomeIssue{
				{
					Severity:    fhir.IssueSeverityError,
					Code:        fhir.IssueTypeForbidden,
					Diagnostics: Ptr("token for user 12345 lacks scope system/Patient.read"),
				},
			},
		}

		sanitized := SanitizeOperationOutcome(outcome)

		assert.Len(t, sanitized.Issue, 1)
		assert.Equal(t, fhir.IssueTypeProcessing, sanitized.Issue[0].Code)
		assert.Equal(t, "upstream FHIR server error", *sanitized.Issue[0].Diagnostics)
	})
	t.Run("non-security issues pass through", func(t *testing.T) {
		outcome := fhir.OperationOutcome{
			Issue: []fhir.OperationOutcomeIssue{
				{
					Severity:    fhir.IssueSeverityError,
					Code:        fhir.IssueTypeInvalid,
					Diagnostics: Ptr("Observation.status is required"),
				},
			},
		}

		sanitized := SanitizeOperationOutcome(outcome)

		assert.Equal(t, outcome, sanitized)
	})
}

func TestVendorMessage(t *testing.T) {
	t.Run("joins sanitized diagnostics", func(t *testing.T) {
		body := []byte(`{"resourceType":"OperationOutcome","issue":[{"severity":"error","code":"invalid","diagnostics":"Observation.status is required"}]}`)
		assert.Equal(t, "Observation.status is required", VendorMessage(body, 422))
	})
	t.Run("falls back to the issue code without diagnostics", func(t *testing.T) {
		body := []byte(`{"resourceType":"OperationOutcome","issue":[{"severity":"error","code":"invalid"}]}`)
		assert.Equal(t, "invalid", VendorMessage(body, 422))
	})
	t.Run("non-OperationOutcome bodies map to the status text", func(t *testing.T) {
		assert.Equal(t, "Bad Gateway", VendorMessage([]byte("<html>upstream error</html>"), 502))
		assert.Equal(t, "Not Found", VendorMessage(nil, 404))
	})
}
