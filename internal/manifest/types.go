// File: internal/manifest/types.go
// Brief: Typed stack manifest model produced by the loader.

package manifest

import "path/filepath"

// Dependency declares that a stack consumes another stack's deployment.
// Alias is the local name parameter bindings refer to; it defaults to the
// target stack name. Outputs is passthrough metadata reserved for future use.
type Dependency struct {
	Alias     string
	StackName string
	Outputs   map[string]string
}

// Manifest is the fully merged, validated definition of one deployable stack.
// All filesystem references are absolute by the time a Manifest exists.
type Manifest struct {
	Name string
	Path string // manifest file this definition was resolved from

	TemplateFile  string
	ParameterFile string

	SubscriptionScoped bool
	ResourceGroup      string
	Location           string
	Description        string

	Dependencies      []Dependency
	Exports           map[string]string
	ParameterBindings map[string]string
	ExtraAzArgs       []string
}

// Dir returns the directory the manifest file lives in. Deployment commands
// run with this as their working directory.
func (m *Manifest) Dir() string {
	return filepath.Dir(m.Path)
}

// DependencyByAlias indexes the declared dependencies by their local alias.
// Later declarations win on alias collision, matching declaration-order
// semantics of the manifest schema.
func (m *Manifest) DependencyByAlias() map[string]Dependency {
	out := make(map[string]Dependency, len(m.Dependencies))
	for _, d := range m.Dependencies {
		out[d.Alias] = d
	}
	return out
}
