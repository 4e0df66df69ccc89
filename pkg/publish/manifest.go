package publish

import (
	"fmt"
	"regexp"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/repub/registry/pkg/apierr"
)

// packageNameRE is the upstream Dart/pub.dev package-name convention
// this registry is wire-compatible with: lowercase, starts with a
// letter, digits and underscores only.
var packageNameRE = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Manifest is the subset of pubspec.yaml this registry cares about.
type Manifest struct {
	Name    string                 `yaml:"name"`
	Version string                 `yaml:"version"`
	Raw     map[string]interface{} `yaml:"-"`
}

// ParseManifest decodes raw pubspec.yaml bytes and validates the
// invariants a valid manifest must satisfy: name matches the
// package-name regex, version parses as semver, both are required.
func ParseManifest(data []byte) (*Manifest, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, apierr.Wrap(apierr.BadRequest, "pubspec.yaml is not valid YAML", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, apierr.Wrap(apierr.BadRequest, "pubspec.yaml does not match the expected shape", err)
	}
	m.Raw = raw

	if m.Name == "" {
		return nil, apierr.New(apierr.UnprocessableEntity, "pubspec.yaml is missing name")
	}
	if !packageNameRE.MatchString(m.Name) {
		return nil, apierr.New(apierr.UnprocessableEntity, fmt.Sprintf("package name %q does not match the required pattern", m.Name))
	}
	if m.Version == "" {
		return nil, apierr.New(apierr.UnprocessableEntity, "pubspec.yaml is missing version")
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return nil, apierr.Wrap(apierr.UnprocessableEntity, fmt.Sprintf("version %q is not valid semver", m.Version), err)
	}

	return &m, nil
}

// ValidatePackageName is exported for callers (e.g. the admin API) that
// need to check a candidate name outside the publish pipeline.
func ValidatePackageName(name string) error {
	if !packageNameRE.MatchString(name) {
		return apierr.New(apierr.UnprocessableEntity, fmt.Sprintf("package name %q does not match the required pattern", name))
	}
	return nil
}
