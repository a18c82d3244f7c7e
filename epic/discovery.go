package epic

import (
	"context"
	"net/http"
	"net/url"
	"sync"

	fhirclient "github.com/SanteonNL/go-fhir-client"
	"github.com/caremesh/ehrbridge/connector"
	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog/log"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

const smartOAuthURIsExtensionURL = "http://fhir-registry.smarthealthit.org/StructureDefinition/oauth-uris"

const tokenEndpointCacheKey = "token-endpoint"

// Discovery resolves the OAuth2 token endpoint from the FHIR server's
// CapabilityStatement, as advertised through the SMART oauth-uris extension.
// The resolved endpoint is cached without expiry; concurrent resolvers
// serialize so the metadata endpoint is fetched once.
type Discovery struct {
	fhirClient fhirclient.Client

	mu    sync.Mutex
	cache *ttlcache.Cache[string, string]
}

func NewDiscovery(fhirBaseURL *url.URL, httpClient *http.Client) *Discovery {
	return &Discovery{
		fhirClient: fhirclient.New(fhirBaseURL, httpClient, nil),
		cache:      ttlcache.New[string, string](),
	}
}

// TokenEndpoint implements connector.EndpointResolver.
func (d *Discovery) TokenEndpoint(ctx context.Context) (string, error) {
	if item := d.cache.Get(tokenEndpointCacheKey); item != nil {
		return item.Value(), nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if item := d.cache.Get(tokenEndpointCacheKey); item != nil {
		return item.Value(), nil
	}

	var capabilityStatement fhir.CapabilityStatement
	if err := d.fhirClient.ReadWithContext(ctx, "metadata", &capabilityStatement); err != nil {
		return "", &connector.ClassifiedError{
			Kind:    connector.ErrorKindVendorUnavailable,
			Message: "failed to read CapabilityStatement from FHIR metadata endpoint",
		}
	}
	endpoint, ok := tokenEndpointFromCapabilityStatement(capabilityStatement)
	if !ok {
		return "", connector.ConfigurationError("FHIR server does not advertise a SMART token endpoint in its CapabilityStatement")
	}
	log.Ctx(ctx).Debug().Msg("Discovered SMART token endpoint from CapabilityStatement")
	d.cache.Set(tokenEndpointCacheKey, endpoint, ttlcache.NoTTL)
	return endpoint, nil
}

// Invalidate drops the cached endpoint so the next resolution re-reads the
// CapabilityStatement. Intended for operators rotating an authorization server.
func (d *Discovery) Invalidate() {
	d.cache.Delete(tokenEndpointCacheKey)
}

func tokenEndpointFromCapabilityStatement(capabilityStatement fhir.CapabilityStatement) (string, bool) {
	for _, rest := range capabilityStatement.Rest {
		if rest.Security == nil {
			continue
		}
		for _, extension := range rest.Security.Extension {
			if extension.Url != smartOAuthURIsExtensionURL {
				continue
			}
			for _, nested := range extension.Extension {
				if nested.Url == "token" && nested.ValueUri != nil {
					return *nested.ValueUri, true
				}
			}
		}
	}
	return "", false
}
