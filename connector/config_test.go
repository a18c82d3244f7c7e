package connector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validProperties() Properties {
	props := DefaultProperties()
	props.Vendor = "epic"
	props.ClientID = "client-1"
	props.ClientSecret = "secret-1"
	props.URL = "https://fhir.example.com/api/FHIR/R4"
	return props
}

func TestProperties_Validate(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		require.NoError(t, validProperties().Validate())
	})
	t.Run("vendor is required", func(t *testing.T) {
		props := validProperties()
		props.Vendor = ""
		require.EqualError(t, props.Validate(), "vendor is required")
	})
	t.Run("client credentials are required", func(t *testing.T) {
		props := validProperties()
		props.ClientSecret = ""
		require.EqualError(t, props.Validate(), "clientsecret is required")
	})
	t.Run("url must be absolute", func(t *testing.T) {
		props := validProperties()
		props.URL = "fhir.example.com"
		require.ErrorContains(t, props.Validate(), "url must start with")
	})
}

func TestProperties_Property(t *testing.T) {
	props := validProperties()
	props.Properties = map[string]string{"tenant": "abc"}

	assert.Equal(t, "abc", props.Property("tenant", "fallback"))
	assert.Equal(t, "fallback", props.Property("missing", "fallback"))
}

func TestDefaultProperties(t *testing.T) {
	props := DefaultProperties()
	assert.Equal(t, "R4", props.FHIRVersion)
	assert.Equal(t, 30*time.Second, props.Timeout)
}

func TestConfig_Validate(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		config := Config{"epic-prod": validProperties()}
		require.NoError(t, config.Validate())
	})
	t.Run("invalid vendor ID", func(t *testing.T) {
		config := Config{"epic prod": validProperties()}
		require.ErrorContains(t, config.Validate(), "invalid characters")
	})
	t.Run("invalid vendor properties", func(t *testing.T) {
		props := validProperties()
		props.URL = ""
		config := Config{"epic": props}
		require.ErrorContains(t, config.Validate(), "vendor epic:")
	})
}

func TestConfig_Get(t *testing.T) {
	config := Config{"epic": validProperties()}

	props, err := config.Get("epic")
	require.NoError(t, err)
	assert.Equal(t, "client-1", props.ClientID)

	_, err = config.Get("unknown")
	require.ErrorContains(t, err, "vendor not found")
}
