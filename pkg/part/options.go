package part

import (
	"encoding/json"
	"path"
	"path/filepath"
	"sort"
	"strings"

	digest "github.com/opencontainers/go-digest"
)

// Lifecycle stages with executor hooks.
const (
	StagePull  = "pull"
	StageBuild = "build"
)

// Option names as they appear in part definitions.
const (
	OptionScript         = "script"
	OptionInstall        = "install"
	OptionDestination    = "destination"
	OptionStages         = "stages"
	OptionPullArguments  = "pull-arguments"
	OptionBuildArguments = "build-arguments"
)

var defaultStages = []string{StageBuild}

// buildProperties lists the options that invalidate a previous build when
// they change.
var buildProperties = []string{OptionStages, OptionPullArguments, OptionBuildArguments}

// Fields holds the script options exactly as declared. Nil slices and a nil
// Install mean "not declared" and receive defaults during validation.
type Fields struct {
	Script         string   `yaml:"script" json:"script"`
	Install        *bool    `yaml:"install,omitempty" json:"install,omitempty"`
	Destination    string   `yaml:"destination,omitempty" json:"destination,omitempty"`
	Stages         []string `yaml:"stages" json:"stages"`
	PullArguments  []string `yaml:"pull-arguments,omitempty" json:"pull-arguments,omitempty"`
	BuildArguments []string `yaml:"build-arguments,omitempty" json:"build-arguments,omitempty"`
}

// ScriptOptions is the validated, read-only configuration of a script part.
type ScriptOptions struct {
	script         string
	install        bool
	destination    string
	stages         []string
	pullArguments  []string
	buildArguments []string
}

// NewScriptOptions validates declared fields and applies defaults.
func NewScriptOptions(f Fields) (*ScriptOptions, error) {
	if strings.TrimSpace(f.Script) == "" {
		return nil, configErrorf(OptionScript, "a script path is required")
	}

	destination, err := cleanDestination(f.Destination)
	if err != nil {
		return nil, err
	}

	stages := f.Stages
	if stages == nil {
		stages = defaultStages
	}
	if err := requireUnique(OptionStages, stages); err != nil {
		return nil, err
	}
	if err := requireUnique(OptionPullArguments, f.PullArguments); err != nil {
		return nil, err
	}
	if err := requireUnique(OptionBuildArguments, f.BuildArguments); err != nil {
		return nil, err
	}

	install := true
	if f.Install != nil {
		install = *f.Install
	}

	return &ScriptOptions{
		script:         f.Script,
		install:        install,
		destination:    destination,
		stages:         cloneStrings(stages),
		pullArguments:  cloneStrings(f.PullArguments),
		buildArguments: cloneStrings(f.BuildArguments),
	}, nil
}

// Script returns the script path relative to the source tree.
func (o *ScriptOptions) Script() string { return o.script }

// ScriptBase returns the final path segment of the script path, the name
// the script is staged under in the build directory.
func (o *ScriptOptions) ScriptBase() string {
	return path.Base(filepath.ToSlash(o.script))
}

// Install reports whether a successful build installs automatically.
func (o *ScriptOptions) Install() bool { return o.install }

// Destination returns the subpath under the install root, or "" for the
// install root itself.
func (o *ScriptOptions) Destination() string { return o.destination }

// Stages returns the stages that execute the script.
func (o *ScriptOptions) Stages() []string { return cloneStrings(o.stages) }

// PullArguments returns the arguments appended during pull.
func (o *ScriptOptions) PullArguments() []string { return cloneStrings(o.pullArguments) }

// BuildArguments returns the arguments appended during build.
func (o *ScriptOptions) BuildArguments() []string { return cloneStrings(o.buildArguments) }

// HasStage reports whether the script runs during the named stage.
func (o *ScriptOptions) HasStage(name string) bool {
	for _, s := range o.stages {
		if s == name {
			return true
		}
	}
	return false
}

// UnknownStages returns declared stages that have no executor hook. They
// are accepted but never trigger execution.
func (o *ScriptOptions) UnknownStages() []string {
	var unknown []string
	for _, s := range o.stages {
		if s != StagePull && s != StageBuild {
			unknown = append(unknown, s)
		}
	}
	return unknown
}

// BuildPackages returns the packages the host must provide to run the
// script.
func (o *ScriptOptions) BuildPackages() []string {
	return []string{"bash"}
}

// BuildProperties returns the option names whose change marks a previous
// build as dirty.
func (o *ScriptOptions) BuildProperties() []string {
	return cloneStrings(buildProperties)
}

// Fingerprint digests the build properties. Two option sets with the same
// fingerprint produce the same script invocations. Stages form a set and
// are digested in sorted order; arguments keep their declared order.
func (o *ScriptOptions) Fingerprint() digest.Digest {
	stages := nonNil(cloneStrings(o.stages))
	sort.Strings(stages)
	data, _ := json.Marshal(struct {
		Stages         []string `json:"stages"`
		PullArguments  []string `json:"pull-arguments"`
		BuildArguments []string `json:"build-arguments"`
	}{
		Stages:         stages,
		PullArguments:  nonNil(o.pullArguments),
		BuildArguments: nonNil(o.buildArguments),
	})
	return digest.FromBytes(data)
}

// Fields returns the normalized options in declared form.
func (o *ScriptOptions) Fields() Fields {
	install := o.install
	return Fields{
		Script:         o.script,
		Install:        &install,
		Destination:    o.destination,
		Stages:         o.Stages(),
		PullArguments:  o.PullArguments(),
		BuildArguments: o.BuildArguments(),
	}
}

// cleanDestination validates that dest stays under the install root.
func cleanDestination(dest string) (string, error) {
	if dest == "" {
		return "", nil
	}
	if filepath.IsAbs(dest) || strings.HasPrefix(dest, "/") {
		return "", configErrorf(OptionDestination, "absolute paths are not allowed: %q", dest)
	}
	clean := filepath.Clean(dest)
	for _, seg := range strings.Split(filepath.ToSlash(clean), "/") {
		if seg == ".." {
			return "", configErrorf(OptionDestination, "path escapes the install directory: %q", dest)
		}
	}
	if clean == "." {
		return "", nil
	}
	return clean, nil
}

func requireUnique(field string, values []string) error {
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			return configErrorf(field, "duplicate value %q", v)
		}
		seen[v] = struct{}{}
	}
	return nil
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append(make([]string, 0, len(in)), in...)
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
