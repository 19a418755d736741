// File: internal/manifest/store.go
// Brief: Manifest discovery, extends resolution, and validation.

package manifest

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/moby/patternmatcher"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// manifestKind classifies a manifest file by where it lives relative to the
// discovery root. Overlay manifests override same-named base manifests.
type manifestKind int

const (
	kindBase manifestKind = iota
	kindOverlay
)

const overlayDirName = "environments"

// Store discovers and loads stack manifests beneath a root directory.
type Store struct {
	root    string
	pattern string
	logger  *zap.Logger
}

func NewStore(root, pattern string, logger *zap.Logger) (*Store, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{root: absRoot, pattern: pattern, logger: logger}, nil
}

// Load discovers every manifest matching the store pattern, resolves each one
// through its extends chain, validates it, and returns the set keyed by stack
// name. Duplicate names resolve overlay-over-base; same-kind duplicates fail.
func (s *Store) Load() (map[string]*Manifest, error) {
	paths, err := s.discover()
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, &NoManifestsError{Root: s.root, Pattern: s.pattern}
	}

	manifests := make(map[string]*Manifest, len(paths))
	for _, path := range paths {
		m, err := s.loadOne(path)
		if err != nil {
			return nil, err
		}
		existing, ok := manifests[m.Name]
		if !ok {
			manifests[m.Name] = m
			continue
		}
		winner, err := s.resolveDuplicate(existing, m)
		if err != nil {
			return nil, err
		}
		manifests[m.Name] = winner
	}
	return manifests, nil
}

func (s *Store) discover() ([]string, error) {
	pm, err := patternmatcher.New([]string{s.pattern})
	if err != nil {
		return nil, fmt.Errorf("invalid discovery pattern %q: %w", s.pattern, err)
	}
	var paths []string
	err = filepath.WalkDir(s.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			name := d.Name()
			if name == ".git" || name == ".stackctl" || name == "bin" || name == "dist" {
				return fs.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		ok, err := pm.MatchesOrParentMatches(rel)
		if err != nil {
			return err
		}
		if ok {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

func (s *Store) loadOne(path string) (*Manifest, error) {
	tree, err := s.loadTree(path, map[string]struct{}{})
	if err != nil {
		return nil, err
	}
	return s.validate(tree, path)
}

// loadTree parses one manifest file into a raw tree, resolving its extends
// chain first. seen carries the resolved paths of the current call chain so
// a re-entered path fails instead of recursing forever.
func (s *Store) loadTree(path string, seen map[string]struct{}) (map[string]any, error) {
	resolved, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	resolved = filepath.Clean(resolved)
	if _, revisited := seen[resolved]; revisited {
		return nil, &ExtendsCycleError{Path: path}
	}
	seen[resolved] = struct{}{}
	defer delete(seen, resolved)

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var loaded map[string]any
	if err := yaml.Unmarshal(raw, &loaded); err != nil {
		return nil, &ShapeError{Path: path, Reason: fmt.Sprintf("parse failed: %v", err)}
	}
	if loaded == nil {
		loaded = map[string]any{}
	}

	extendsList, err := popExtends(loaded, path)
	if err != nil {
		return nil, err
	}

	merged := map[string]any{}
	dir := filepath.Dir(path)
	for _, entry := range extendsList {
		basePath := entry
		if !filepath.IsAbs(basePath) {
			basePath = filepath.Join(dir, basePath)
		}
		if _, err := os.Stat(basePath); err != nil {
			return nil, &ShapeError{Path: path, Reason: fmt.Sprintf("extended file %q was not found", entry)}
		}
		baseTree, err := s.loadTree(basePath, seen)
		if err != nil {
			return nil, err
		}
		merged = deepMerge(merged, baseTree).(map[string]any)
	}
	merged = deepMerge(merged, loaded).(map[string]any)

	// Anchor template references at this file's directory so the winner of a
	// merge chain carries unambiguous absolute paths.
	ensureAbsoluteTemplatePaths(merged, dir)
	return merged, nil
}

func popExtends(tree map[string]any, path string) ([]string, error) {
	raw, present := tree["extends"]
	if !present {
		return nil, nil
	}
	delete(tree, "extends")
	switch tv := raw.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{tv}, nil
	case []any:
		out := make([]string, 0, len(tv))
		for _, item := range tv {
			str, ok := item.(string)
			if !ok {
				return nil, &ShapeError{Path: path, Reason: "extends must be a string or list of strings when specified"}
			}
			out = append(out, str)
		}
		return out, nil
	default:
		return nil, &ShapeError{Path: path, Reason: "extends must be a string or list of strings when specified"}
	}
}

func ensureAbsoluteTemplatePaths(tree map[string]any, dir string) {
	stackSection, ok := tree["stack"].(map[string]any)
	if !ok {
		return
	}
	templateSection, ok := stackSection["template"].(map[string]any)
	if !ok {
		return
	}
	for _, key := range []string{"file", "parameters"} {
		value, ok := templateSection[key].(string)
		if !ok || value == "" {
			continue
		}
		if filepath.IsAbs(value) {
			templateSection[key] = filepath.Clean(value)
			continue
		}
		templateSection[key] = filepath.Clean(filepath.Join(dir, value))
	}
}

// validate converts a merged raw tree into a typed Manifest, enforcing the
// manifest schema. The untyped form does not escape this function.
func (s *Store) validate(tree map[string]any, path string) (*Manifest, error) {
	stackSection, ok := tree["stack"].(map[string]any)
	if !ok {
		return nil, &ShapeError{Path: path, Reason: "must contain a 'stack' mapping"}
	}
	name, _ := stackSection["name"].(string)
	if name == "" {
		return nil, &ShapeError{Path: path, Reason: "stack.name is required"}
	}

	templateSection, _ := stackSection["template"].(map[string]any)
	templateFile, _ := templateSection["file"].(string)
	if templateFile == "" {
		return nil, &ShapeError{Path: path, Reason: "stack.template.file is required"}
	}
	parameterFile, _ := templateSection["parameters"].(string)
	if parameterFile != "" {
		if _, err := os.Stat(parameterFile); err != nil {
			return nil, &MissingParameterFileError{ManifestPath: path, ParameterFile: parameterFile}
		}
	}

	m := &Manifest{
		Name:               name,
		Path:               path,
		TemplateFile:       templateFile,
		ParameterFile:      parameterFile,
		SubscriptionScoped: true,
	}

	if deployment, ok := stackSection["deployment"].(map[string]any); ok {
		if scoped, ok := deployment["subscription"].(bool); ok {
			m.SubscriptionScoped = scoped
		}
		m.ResourceGroup, _ = deployment["resourceGroup"].(string)
		m.Location, _ = deployment["location"].(string)
	}
	m.Description, _ = stackSection["description"].(string)

	extraArgs, err := stringSlice(stackSection["extraAzArgs"])
	if err != nil {
		return nil, &ShapeError{Path: path, Reason: "stack.extraAzArgs must be an array of strings when specified"}
	}
	m.ExtraAzArgs = extraArgs

	deps, err := s.parseDependencies(tree["dependencies"], path)
	if err != nil {
		return nil, err
	}
	m.Dependencies = deps

	m.Exports, err = stringMap(tree["exports"])
	if err != nil {
		return nil, &ShapeError{Path: path, Reason: "exports must be a mapping of strings when specified"}
	}
	m.ParameterBindings, err = stringMap(tree["parameterBindings"])
	if err != nil {
		return nil, &ShapeError{Path: path, Reason: "parameterBindings must be a mapping of strings when specified"}
	}
	return m, nil
}

func (s *Store) parseDependencies(raw any, path string) ([]Dependency, error) {
	if raw == nil {
		return nil, nil
	}
	rows, ok := raw.([]any)
	if !ok {
		return nil, &ShapeError{Path: path, Reason: "dependencies must be a sequence when specified"}
	}
	out := make([]Dependency, 0, len(rows))
	for _, row := range rows {
		entry, ok := row.(map[string]any)
		if !ok {
			return nil, &ShapeError{Path: path, Reason: "dependency entries must be mappings"}
		}
		stackName, _ := entry["stackName"].(string)
		if stackName == "" {
			return nil, &ShapeError{Path: path, Reason: "dependency.stackName is required"}
		}
		alias, _ := entry["name"].(string)
		if alias == "" {
			alias = stackName
		}
		outputs, err := stringMap(entry["outputs"])
		if err != nil {
			return nil, &ShapeError{Path: path, Reason: "dependency.outputs must be a mapping of strings when specified"}
		}
		out = append(out, Dependency{Alias: alias, StackName: stackName, Outputs: outputs})
	}
	return out, nil
}

// resolveDuplicate picks the winner between two manifests claiming the same
// stack name. An overlay beats a base outright; same-kind collisions are
// fatal.
func (s *Store) resolveDuplicate(existing, candidate *Manifest) (*Manifest, error) {
	existingKind := s.classify(existing.Path)
	candidateKind := s.classify(candidate.Path)
	if existingKind == candidateKind {
		return nil, &DuplicateStackError{
			Name:       candidate.Name,
			FirstPath:  existing.Path,
			SecondPath: candidate.Path,
		}
	}
	if candidateKind == kindOverlay {
		s.logger.Debug("overlay manifest overrides base definition",
			zap.String("stack", candidate.Name),
			zap.String("overlay", candidate.Path),
			zap.String("base", existing.Path))
		return candidate, nil
	}
	return existing, nil
}

func (s *Store) classify(path string) manifestKind {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		rel = path
	}
	for _, part := range strings.Split(filepath.Clean(rel), string(filepath.Separator)) {
		if part == overlayDirName {
			return kindOverlay
		}
	}
	return kindBase
}

func stringSlice(raw any) ([]string, error) {
	if raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("not a sequence")
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		str, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("non-string element")
		}
		out = append(out, str)
	}
	return out, nil
}

func stringMap(raw any) (map[string]string, error) {
	if raw == nil {
		return nil, nil
	}
	entries, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("not a mapping")
	}
	out := make(map[string]string, len(entries))
	for k, v := range entries {
		str, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("non-string value for %q", k)
		}
		out[k] = str
	}
	return out, nil
}
