package part

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"gopkg.in/yaml.v3"
)

// DefaultPlugin is the plugin name assumed when a definition omits one.
const DefaultPlugin = "script"

// Format identifies a part definition syntax.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatHCL  Format = "hcl"
)

// Base holds the options every part carries regardless of its plugin.
type Base struct {
	Name   string `yaml:"name"`
	Plugin string `yaml:"plugin,omitempty"`
	Source string `yaml:"source,omitempty"`
}

// Definition is a validated part: the common base composed with the script
// plugin options.
type Definition struct {
	Base
	Options *ScriptOptions
}

// yamlDefinition is the flat on-disk YAML layout.
type yamlDefinition struct {
	Base   `yaml:",inline"`
	Fields `yaml:",inline"`
}

// hclDefinition is the on-disk HCL layout.
type hclDefinition struct {
	Name   string     `hcl:"name,optional"`
	Plugin string     `hcl:"plugin,optional"`
	Source string     `hcl:"source,optional"`
	Script *hclScript `hcl:"script,block"`
}

type hclScript struct {
	Path           string   `hcl:"path,label"`
	Install        *bool    `hcl:"install,optional"`
	Destination    string   `hcl:"destination,optional"`
	Stages         []string `hcl:"stages,optional"`
	PullArguments  []string `hcl:"pull_arguments,optional"`
	BuildArguments []string `hcl:"build_arguments,optional"`
}

// New validates a base and declared script fields as one unit.
func New(base Base, fields Fields) (*Definition, error) {
	if base.Plugin == "" {
		base.Plugin = DefaultPlugin
	}
	if base.Plugin != DefaultPlugin {
		return nil, configErrorf("plugin", "unsupported plugin %q", base.Plugin)
	}

	opts, err := NewScriptOptions(fields)
	if err != nil {
		return nil, err
	}
	if base.Name == "" {
		base.Name = strings.TrimSuffix(opts.ScriptBase(), filepath.Ext(opts.ScriptBase()))
	}

	return &Definition{Base: base, Options: opts}, nil
}

// FormatFor picks the definition format from a file extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".hcl":
		return FormatHCL, nil
	default:
		return "", configErrorf("", "unsupported definition file %q (want .yaml, .yml or .hcl)", path)
	}
}

// LoadFile reads and validates a part definition from disk.
func LoadFile(path string) (*Definition, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read part definition: %w", err)
	}

	return parse(data, format, path)
}

// Parse decodes and validates a part definition.
func Parse(data []byte, format Format) (*Definition, error) {
	return parse(data, format, "part."+string(format))
}

func parse(data []byte, format Format, filename string) (*Definition, error) {
	switch format {
	case FormatYAML:
		return parseYAML(data)
	case FormatHCL:
		return parseHCL(data, filename)
	default:
		return nil, configErrorf("", "unsupported definition format %q", format)
	}
}

func parseYAML(data []byte) (*Definition, error) {
	var raw yamlDefinition

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, &ConfigError{Msg: "failed to parse YAML", Err: err}
	}

	return New(raw.Base, raw.Fields)
}

func parseHCL(data []byte, filename string) (*Definition, error) {
	file, diags := hclparse.NewParser().ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, &ConfigError{Msg: "failed to parse HCL", Err: diags}
	}

	var raw hclDefinition
	if diags := gohcl.DecodeBody(file.Body, nil, &raw); diags.HasErrors() {
		return nil, &ConfigError{Msg: "failed to decode HCL", Err: diags}
	}

	base := Base{Name: raw.Name, Plugin: raw.Plugin, Source: raw.Source}
	var fields Fields
	if raw.Script != nil {
		fields = Fields{
			Script:         raw.Script.Path,
			Install:        raw.Script.Install,
			Destination:    raw.Script.Destination,
			Stages:         raw.Script.Stages,
			PullArguments:  raw.Script.PullArguments,
			BuildArguments: raw.Script.BuildArguments,
		}
	}

	return New(base, fields)
}

// MarshalYAML renders the normalized definition in the flat YAML layout.
func (d *Definition) MarshalYAML() (any, error) {
	return yamlDefinition{Base: d.Base, Fields: d.Options.Fields()}, nil
}
