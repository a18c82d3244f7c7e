// Package cerner provides the vendor connector for Oracle Health (Cerner)
// FHIR endpoints. Cerner's authorization server is addressed directly: the
// token endpoint is a function of the tenant ID, no discovery round trip.
package cerner

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/caremesh/ehrbridge/audit"
	"github.com/caremesh/ehrbridge/connector"
)

const tokenEndpointTemplate = "https://authorization.cerner.com/tenants/%s/protocols/oauth2/profiles/smart-v1/token"

// sourceExtensionURL marks resources written through this integration.
const sourceExtensionURL = "https://fhir.caremesh.example.com/StructureDefinition/source-system"

func New(vendorID string, props connector.Properties, sink audit.Sink, opts ...connector.Option) (*connector.Connector, error) {
	tenant := props.Property("tenant", "")
	tokenURL := props.Property("token.url", "")
	if tokenURL == "" {
		if tenant == "" {
			return nil, connector.ConfigurationError("cerner connector requires a tenant property (or an explicit token.url)")
		}
		tokenURL = fmt.Sprintf(tokenEndpointTemplate, tenant)
	}
	source := &connector.OAuth2Source{
		Endpoint: func(context.Context) (string, error) {
			return tokenURL, nil
		},
		ClientID:     props.ClientID,
		ClientSecret: props.ClientSecret,
		Scopes:       props.Scopes,
		HTTPClient:   connector.NewHTTPClient(props),
	}
	return connector.New(vendorID, props, hooks{
		tenant:  tenant,
		sandbox: props.Property("sandbox", "false") == "true",
	}, source, sink, opts...)
}

type hooks struct {
	tenant  string
	sandbox bool
}

var _ connector.VendorHooks = hooks{}

func (h hooks) DefaultHeaders() http.Header {
	headers := http.Header{}
	if h.tenant != "" {
		headers.Set("X-Tenant-Id", h.tenant)
	}
	if h.sandbox {
		// Non-production traffic must be recognizable on the vendor side.
		headers.Set("X-Environment", "sandbox")
	}
	return headers
}

// IdentifierQuery matches Cerner's convention of bare system|value tokens.
func (hooks) IdentifierQuery(externalID string) url.Values {
	return url.Values{"identifier": []string{externalID}}
}

// PrepareCreate stamps outbound resources with a source-system extension so
// integration-written data is distinguishable inside the EHR.
func (hooks) PrepareCreate(_ string, body json.RawMessage) (json.RawMessage, error) {
	var resource map[string]any
	if err := json.Unmarshal(body, &resource); err != nil {
		return nil, fmt.Errorf("invalid resource: %w", err)
	}
	extensions, _ := resource["extension"].([]any)
	for _, extension := range extensions {
		if asMap, ok := extension.(map[string]any); ok && asMap["url"] == sourceExtensionURL {
			return body, nil
		}
	}
	resource["extension"] = append(extensions, map[string]any{
		"url":         sourceExtensionURL,
		"valueString": "ehrbridge",
	})
	return json.Marshal(resource)
}
