package catalog

import (
	"strings"

	"github.com/lentmiien/lentmiien-site-sub001/internal/models"
)

var providerNames = map[string]string{
	"openai":    models.ProviderOpenAI,
	"anthropic": models.ProviderAnthropic,
	"claude":    models.ProviderAnthropic,
}

// NormalizeProvider maps config and database spellings onto the canonical
// provider names stored on batch requests. Unknown names return "".
func NormalizeProvider(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	return providerNames[slug]
}
