package providers

import (
	"fmt"
	"slices"

	"github.com/lentmiien/lentmiien-site-sub001/internal/config"
)

// Capability names one of the interfaces a Provider can fill.
type Capability string

const (
	CapabilityChat       Capability = "chat"
	CapabilityBatch      Capability = "batch"
	CapabilityBackground Capability = "background"
)

// Definition describes a provider builder and what it is expected to offer.
type Definition struct {
	Name         string
	Description  string
	Capabilities []Capability
	Builder      Builder
}

var definitions = map[string]Definition{}

// RegisterDefinition adds a builder to the default set. It panics on an
// incomplete definition or a duplicate name, both of which are programming
// errors caught at init.
func RegisterDefinition(def Definition) {
	switch {
	case def.Builder == nil:
		panic("providers: definition builder required")
	case def.Name == "":
		panic("providers: definition name required")
	}
	if _, dup := definitions[def.Name]; dup {
		panic(fmt.Sprintf("providers: %q registered twice", def.Name))
	}
	if def.Description == "" {
		def.Description = def.Name
	}
	def.Capabilities = slices.Clone(def.Capabilities)
	slices.Sort(def.Capabilities)
	definitions[def.Name] = def
}

// DefaultDefinitions returns the registered definitions sorted by name.
func DefaultDefinitions() []Definition {
	defs := make([]Definition, 0, len(definitions))
	for _, def := range definitions {
		defs = append(defs, def)
	}
	slices.SortFunc(defs, func(a, b Definition) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return defs
}

func defaultBuilders() map[string]Builder {
	builders := make(map[string]Builder, len(definitions))
	for name, def := range definitions {
		builders[name] = def.Builder
	}
	return builders
}

// Capabilities lists what p actually implements, sorted.
func (p Provider) Capabilities() []Capability {
	var caps []Capability
	if p.Background != nil {
		caps = append(caps, CapabilityBackground)
	}
	if p.Batch != nil {
		caps = append(caps, CapabilityBatch)
	}
	if p.Chat != nil {
		caps = append(caps, CapabilityChat)
	}
	return caps
}

// Supports reports whether p implements c.
func (p Provider) Supports(c Capability) bool {
	return slices.Contains(p.Capabilities(), c)
}

// EnsureConfig panics when a builder is invoked without configuration.
func EnsureConfig(cfg *config.Config) *config.Config {
	if cfg == nil {
		panic("providers: config is required")
	}
	return cfg
}
