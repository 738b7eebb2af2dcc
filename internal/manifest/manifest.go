// Package manifest validates Agent/Skill package manifests: the
// declared capability and permission surface a module brings into the
// kernel, and the semver compatibility window it claims to run under.
package manifest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/corewire/agentkernel/pkg/kernel"
)

// ToolDeclaration is one tool a manifest contributes: its name, a
// human-readable description, and a JSON Schema for its input.
type ToolDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// Manifest is the Agent/Skill package manifest: identity, the semver
// window of kernel versions it runs under, the capabilities it requires,
// the tools it contributes, and the permissions it asks for.
type Manifest struct {
	ID                   string              `json:"id"`
	Name                 string              `json:"name,omitempty"`
	Version              string              `json:"version"`
	MinCoreVersion       string              `json:"minCoreVersion"`
	MaxCoreVersion       string              `json:"maxCoreVersion"`
	RequiredCapabilities []string            `json:"requiredCapabilities,omitempty"`
	Tools                []ToolDeclaration   `json:"tools,omitempty"`
	Permissions          []kernel.Permission `json:"permissions,omitempty"`
	Signature            string              `json:"signature,omitempty"`
}

// Decode parses a manifest document.
func Decode(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, kernel.Wrap(kernel.KindValidationError, "decode manifest", err)
	}
	return &m, nil
}

// Validate checks the manifest's required fields and closed permission enum
// membership. It does not check signature or version compatibility — those
// are ValidateSignature and CheckCoreVersion respectively, since a caller
// may want to report all three failure modes independently
// (ModuleInstallFailed vs. SignatureVerificationFailed vs.
// ModuleVersionIncompatible are distinct error kinds).
func (m *Manifest) Validate() error {
	if m == nil {
		return kernel.NewError(kernel.KindValidationError, "manifest is nil")
	}
	if strings.TrimSpace(m.ID) == "" {
		return kernel.NewError(kernel.KindValidationError, "manifest id is required")
	}
	if strings.TrimSpace(m.Version) == "" {
		return kernel.NewError(kernel.KindValidationError, "manifest version is required")
	}
	if strings.TrimSpace(m.MinCoreVersion) == "" || strings.TrimSpace(m.MaxCoreVersion) == "" {
		return kernel.NewError(kernel.KindValidationError, "manifest minCoreVersion/maxCoreVersion are required")
	}
	for _, p := range m.Permissions {
		if !kernel.IsValidPermission(p) {
			return kernel.NewError(kernel.KindValidationError, "manifest declares unknown permission: "+string(p))
		}
	}
	for i, t := range m.Tools {
		if strings.TrimSpace(t.Name) == "" {
			return kernel.NewError(kernel.KindValidationError, fmt.Sprintf("manifest tools[%d] is missing a name", i))
		}
	}
	return nil
}

// ValidateSignature checks the manifest's signature against verifier's
// expectation. The Module Authoring DSL / marketplace signing scheme itself
// is out of scope; the kernel only enforces that a signature is
// present and that verifier accepts it.
func (m *Manifest) ValidateSignature(verifier func(manifest *Manifest, signature string) bool) error {
	if strings.TrimSpace(m.Signature) == "" {
		return kernel.NewError(kernel.KindSignatureVerificationFailed, "manifest "+m.ID+" carries no signature")
	}
	if verifier != nil && !verifier(m, m.Signature) {
		return kernel.NewError(kernel.KindSignatureVerificationFailed, "manifest "+m.ID+" failed signature verification")
	}
	return nil
}

// version is a parsed three-component semver (major.minor.patch). A
// trailing ".x" component expands to 999, so "1.2.x" admits any patch
// level of 1.2.
type version struct {
	major, minor, patch int
}

func parseVersion(s string) (version, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) == 0 || len(parts) > 3 {
		return version{}, fmt.Errorf("malformed version %q", s)
	}
	nums := make([]int, 3)
	for i := 0; i < 3; i++ {
		if i >= len(parts) {
			nums[i] = 0
			continue
		}
		p := parts[i]
		if p == "x" || p == "X" {
			for j := i; j < 3; j++ {
				nums[j] = 999
			}
			break
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return version{}, fmt.Errorf("malformed version component %q in %q", p, s)
		}
		nums[i] = n
	}
	return version{major: nums[0], minor: nums[1], patch: nums[2]}, nil
}

func (v version) compare(other version) int {
	switch {
	case v.major != other.major:
		return v.major - other.major
	case v.minor != other.minor:
		return v.minor - other.minor
	default:
		return v.patch - other.patch
	}
}

// CheckCoreVersion validates coreVersion lies within
// [minCoreVersion, maxCoreVersion] inclusive, with trailing .x expanded
// to .999 on both bounds.
func (m *Manifest) CheckCoreVersion(coreVersion string) error {
	core, err := parseVersion(coreVersion)
	if err != nil {
		return kernel.Wrap(kernel.KindValidationError, "malformed core version", err)
	}
	lo, err := parseVersion(m.MinCoreVersion)
	if err != nil {
		return kernel.Wrap(kernel.KindValidationError, "malformed manifest minCoreVersion", err)
	}
	hi, err := parseVersion(m.MaxCoreVersion)
	if err != nil {
		return kernel.Wrap(kernel.KindValidationError, "malformed manifest maxCoreVersion", err)
	}
	if core.compare(lo) < 0 || core.compare(hi) > 0 {
		return kernel.NewError(kernel.KindModuleVersionIncompatible,
			fmt.Sprintf("manifest %s requires core in [%s, %s], got %s", m.ID, m.MinCoreVersion, m.MaxCoreVersion, coreVersion))
	}
	return nil
}
