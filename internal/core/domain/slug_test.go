package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeModelSlugIsStable(t *testing.T) {
	s1 := EncodeModelSlug("tenantA", "10.6.0.213:11434/v1", "mistral-nemo:12b")
	s2 := EncodeModelSlug("tenantA", "10.6.0.213:11434/v1", "mistral-nemo:12b")
	assert.Equal(t, s1, s2)
}

func TestEncodeModelSlugChangesWithAnyComponent(t *testing.T) {
	base := EncodeModelSlug("tenantA", "10.6.0.213:11434/v1", "mistral-nemo:12b")

	assert.NotEqual(t, base, EncodeModelSlug("tenantB", "10.6.0.213:11434/v1", "mistral-nemo:12b"))
	assert.NotEqual(t, base, EncodeModelSlug("tenantA", "10.6.0.214:11434/v1", "mistral-nemo:12b"))
	assert.NotEqual(t, base, EncodeModelSlug("tenantA", "10.6.0.213:11434/v1", "llama3.1:70b"))
}

func TestEncodeModelSlugIsShortAndNonEmpty(t *testing.T) {
	s := EncodeModelSlug("tenantA", "10.6.0.213:11434/v1", "mistral-nemo:12b")
	// 8 bytes in base62 is at most 11 characters
	assert.LessOrEqual(t, len(s), 11)
	assert.NotEmpty(t, s)
}

func TestEndpointSlugStripsScheme(t *testing.T) {
	assert.Equal(t, "10.6.0.213:11434/v1", EndpointSlug("http://10.6.0.213:11434/v1"))
	assert.Equal(t, "10.6.0.213:11434/v1", EndpointSlug("https://10.6.0.213:11434/v1"))
	assert.Equal(t, "bare-host/v1", EndpointSlug("bare-host/v1"))
}

func TestBase62EncodeZero(t *testing.T) {
	assert.Equal(t, "0", base62Encode(0))
}
