// File: internal/manifest/errors.go
// Brief: Load-time error taxonomy.

package manifest

import "fmt"

// NoManifestsError reports that manifest discovery matched no files.
type NoManifestsError struct {
	Root    string
	Pattern string
}

func (e *NoManifestsError) Error() string {
	return fmt.Sprintf("no manifest files found under %q using pattern %q", e.Root, e.Pattern)
}

// ShapeError reports a manifest whose merged document does not have the
// expected structure.
type ShapeError struct {
	Path   string
	Reason string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("manifest %s: %s", e.Path, e.Reason)
}

// MissingParameterFileError reports a stack.template.parameters reference
// that does not resolve to an existing file.
type MissingParameterFileError struct {
	ManifestPath  string
	ParameterFile string
}

func (e *MissingParameterFileError) Error() string {
	return fmt.Sprintf("parameter file %q referenced by %s does not exist", e.ParameterFile, e.ManifestPath)
}

// ExtendsCycleError reports a manifest that is re-entered while its own
// extends chain is still being resolved.
type ExtendsCycleError struct {
	Path string
}

func (e *ExtendsCycleError) Error() string {
	return fmt.Sprintf("cyclic extends reference detected at %s", e.Path)
}

// DuplicateStackError reports two same-kind manifest files resolving to the
// same stack name.
type DuplicateStackError struct {
	Name       string
	FirstPath  string
	SecondPath string
}

func (e *DuplicateStackError) Error() string {
	return fmt.Sprintf("duplicate stack name %q found in %s and %s", e.Name, e.SecondPath, e.FirstPath)
}
