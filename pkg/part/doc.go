// Package part decodes and validates script part definitions.
//
// A definition combines the options every part carries (name, plugin,
// source) with the script plugin options: the driver script path, the
// stages that run it, per-stage arguments and install placement. Both
// halves are validated together and produce an immutable ScriptOptions.
//
// Definitions are written in YAML:
//
//	name: hello
//	script: scripts/build.sh
//	stages: [pull, build]
//	pull-arguments: [--fast]
//	destination: out
//
// or in HCL:
//
//	name = "hello"
//
//	script "scripts/build.sh" {
//	  stages         = ["pull", "build"]
//	  pull_arguments = ["--fast"]
//	  destination    = "out"
//	}
//
// Invalid definitions are reported as *ConfigError, which classifies as
// errdefs.ErrInvalidArgument.
package part
