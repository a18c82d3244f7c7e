package fhirutil

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

// SanitizeOperationOutcome removes security-related information from an OperationOutcome,
// replacing it with a generic message, so that it can be safely surfaced to callers.
// It follows the code list from the FHIR specification: https://www.hl7.org/fhir/codesystem-issue-type.html#issue-type-security
func SanitizeOperationOutcome(in fhir.OperationOutcome) fhir.OperationOutcome {
	result := in
	result.Issue = nil
	for _, issue := range in.Issue {
		switch issue.Code {
		case fhir.IssueTypeSecurity:
			fallthrough
		case fhir.IssueTypeLogin:
			fallthrough
		case fhir.IssueTypeUnknown:
			fallthrough
		case fhir.IssueTypeExpired:
			fallthrough
		case fhir.IssueTypeForbidden:
			fallthrough
		case fhir.IssueTypeSuppressed:
			result.Issue = append(result.Issue, fhir.OperationOutcomeIssue{
				Severity:    issue.Severity,
				Code:        fhir.IssueTypeProcessing,
				Diagnostics: Ptr("upstream FHIR server error"),
			})
		default:
			result.Issue = append(result.Issue, issue)
		}
	}
	return result
}

// VendorMessage derives a caller-safe message from a vendor error response body.
// Vendor OperationOutcomes often echo request details (which may contain patient
// identifiers), so only issue codes and sanitized diagnostics are kept. Anything
// that is not an OperationOutcome maps to the generic HTTP status text.
func VendorMessage(responseBody []byte, statusCode int) string {
	var outcome fhir.OperationOutcome
	if err := json.Unmarshal(responseBody, &outcome); err == nil && len(outcome.Issue) > 0 {
		outcome = SanitizeOperationOutcome(outcome)
		var parts []string
		for _, issue := range outcome.Issue {
			if issue.Diagnostics != nil {
				parts = append(parts, *issue.Diagnostics)
			} else {
				parts = append(parts, issue.Code.Code())
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, "; ")
		}
	}
	return http.StatusText(statusCode)
}
