// Package epic provides the vendor connector for Epic FHIR endpoints. Epic
// advertises its authorization server through the SMART on FHIR oauth-uris
// extension on the CapabilityStatement, so the token endpoint is discovered
// rather than configured.
package epic

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/caremesh/ehrbridge/audit"
	"github.com/caremesh/ehrbridge/connector"
)

// defaultMRNSystem is the identifier system assumed for medical record
// numbers when the vendor properties do not name one.
const defaultMRNSystem = "urn:oid:1.2.840.114350.1.13.0.1.7.5.737384.0"

func New(vendorID string, props connector.Properties, sink audit.Sink, opts ...connector.Option) (*connector.Connector, error) {
	baseURL, err := url.Parse(props.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid FHIR base URL: %w", err)
	}
	discovery := NewDiscovery(baseURL, connector.NewHTTPClient(props))
	source := &connector.OAuth2Source{
		Endpoint:     discovery.TokenEndpoint,
		ClientID:     props.ClientID,
		ClientSecret: props.ClientSecret,
		Scopes:       props.Scopes,
		HTTPClient:   connector.NewHTTPClient(props),
	}
	return connector.New(vendorID, props, hooks{
		clientID:  props.ClientID,
		mrnSystem: props.Property("mrn.system", defaultMRNSystem),
	}, source, sink, opts...)
}

// hooks carries Epic's request conventions: the Epic-Client-ID header on
// every call, MRN lookups against a namespaced identifier system, and
// Observation status defaulting on create.
type hooks struct {
	clientID  string
	mrnSystem string
}

var _ connector.VendorHooks = hooks{}

func (h hooks) DefaultHeaders() http.Header {
	headers := http.Header{}
	headers.Set("Epic-Client-ID", h.clientID)
	return headers
}

func (h hooks) IdentifierQuery(externalID string) url.Values {
	return url.Values{"identifier": []string{h.mrnSystem + "|" + externalID}}
}

func (h hooks) PrepareCreate(resourceType string, body json.RawMessage) (json.RawMessage, error) {
	if resourceType != "Observation" {
		return body, nil
	}
	var resource map[string]any
	if err := json.Unmarshal(body, &resource); err != nil {
		return nil, fmt.Errorf("invalid Observation resource: %w", err)
	}
	if _, ok := resource["status"]; !ok {
		// Epic rejects Observations without a status.
		resource["status"] = "final"
		return json.Marshal(resource)
	}
	return body, nil
}
