package connector

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Properties configures a single vendor connection. Constructed once at
// startup from the environment and never mutated afterwards.
type Properties struct {
	// Vendor selects the connector implementation (e.g. "epic", "cerner").
	Vendor string `koanf:"vendor"`
	// ClientID and ClientSecret are the OAuth2 client credentials registered with the vendor.
	ClientID     string `koanf:"clientid"`
	ClientSecret string `koanf:"clientsecret"`
	// URL is the vendor's FHIR base URL.
	URL string `koanf:"url"`
	// FHIRVersion is the FHIR release the vendor endpoint speaks (e.g. "R4").
	FHIRVersion string `koanf:"fhirversion"`
	// Scopes requested during the client credentials grant.
	Scopes []string `koanf:"scopes"`
	// Timeout bounds every outbound call to this vendor.
	Timeout time.Duration `koanf:"timeout"`
	// Properties holds vendor-specific settings (tenant IDs, identifier systems, mode flags).
	Properties map[string]string `koanf:"properties"`
}

func (p Properties) Validate() error {
	if p.Vendor == "" {
		return fmt.Errorf("vendor is required")
	}
	if p.ClientID == "" {
		return fmt.Errorf("clientid is required")
	}
	if p.ClientSecret == "" {
		return fmt.Errorf("clientsecret is required")
	}
	if !strings.HasPrefix(p.URL, "https://") && !strings.HasPrefix(p.URL, "http://") {
		return fmt.Errorf("url must start with http:// or https://")
	}
	if _, err := url.Parse(p.URL); err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	return nil
}

// Property returns a vendor-specific property, or the given default when unset.
func (p Properties) Property(key, defaultValue string) string {
	if v, ok := p.Properties[key]; ok && v != "" {
		return v
	}
	return defaultValue
}

func DefaultProperties() Properties {
	return Properties{
		FHIRVersion: "R4",
		Timeout:     30 * time.Second,
	}
}

// Config holds all configured vendors, keyed by vendor ID.
type Config map[string]Properties

func (c Config) Validate() error {
	for id, props := range c {
		if !isIDValid(id) {
			return fmt.Errorf("vendor ID %q contains invalid characters", id)
		}
		if err := props.Validate(); err != nil {
			return fmt.Errorf("vendor %s: %w", id, err)
		}
	}
	return nil
}

func (c Config) Get(vendorID string) (*Properties, error) {
	if props, ok := c[vendorID]; ok {
		return &props, nil
	}
	return nil, fmt.Errorf("vendor not found: %s", vendorID)
}

func isIDValid(vendorID string) bool {
	// Only alphanumeric, dashes, and underscores are allowed in vendor IDs
	for _, r := range vendorID {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r == '-' || r == '_') {
			return false
		}
	}
	return len(vendorID) > 0
}
