package fhirutil

import (
	"fmt"
	"net/url"

	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

func Ptr[T any](v T) *T {
	return &v
}

// Empty returns the zero value of the type if the pointer is nil, otherwise the value pointed to.
func Empty[T any](ptr *T) T {
	if ptr == nil {
		var zero T
		return zero
	}
	return *ptr
}

// IdentifierToString renders a FHIR Identifier as a system|value token.
func IdentifierToString(identifier fhir.Identifier) string {
	if identifier.System == nil {
		return Empty(identifier.Value)
	}
	return fmt.Sprintf("%s|%s", *identifier.System, Empty(identifier.Value))
}

// MaskQuery masks search parameter values in a URL so it can be logged without
// leaking patient identifiers. Parameters that only steer the search
// (paging, includes) are kept as-is.
func MaskQuery(in *url.URL) *url.URL {
	result := *in
	q := url.Values{}
	for name, values := range in.Query() {
		for _, value := range values {
			switch name {
			case "_include", "_count", "_sort", "_summary":
				q.Add(name, value)
			default:
				q.Add(name, "****")
			}
		}
	}
	result.RawQuery = q.Encode()
	return &result
}
