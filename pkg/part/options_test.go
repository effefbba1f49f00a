package part

import (
	"errors"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(v bool) *bool { return &v }

func TestNewScriptOptionsDefaults(t *testing.T) {
	opts, err := NewScriptOptions(Fields{Script: "scripts/build.sh"})
	require.NoError(t, err)

	assert.Equal(t, "scripts/build.sh", opts.Script())
	assert.Equal(t, "build.sh", opts.ScriptBase())
	assert.True(t, opts.Install())
	assert.Equal(t, "", opts.Destination())
	assert.Equal(t, []string{"build"}, opts.Stages())
	assert.Empty(t, opts.PullArguments())
	assert.Empty(t, opts.BuildArguments())
	assert.True(t, opts.HasStage(StageBuild))
	assert.False(t, opts.HasStage(StagePull))
	assert.Equal(t, []string{"bash"}, opts.BuildPackages())
}

func TestNewScriptOptionsExplicitEmptyStages(t *testing.T) {
	opts, err := NewScriptOptions(Fields{Script: "build.sh", Stages: []string{}})
	require.NoError(t, err)

	assert.Empty(t, opts.Stages())
	assert.False(t, opts.HasStage(StageBuild))
	assert.False(t, opts.HasStage(StagePull))
}

func TestNewScriptOptionsErrors(t *testing.T) {
	tests := []struct {
		name   string
		fields Fields
		field  string
	}{
		{name: "missing script", fields: Fields{}, field: OptionScript},
		{name: "blank script", fields: Fields{Script: "  "}, field: OptionScript},
		{name: "duplicate stage", fields: Fields{Script: "s", Stages: []string{"build", "build"}}, field: OptionStages},
		{name: "duplicate pull argument", fields: Fields{Script: "s", PullArguments: []string{"-v", "-v"}}, field: OptionPullArguments},
		{name: "duplicate build argument", fields: Fields{Script: "s", BuildArguments: []string{"a", "b", "a"}}, field: OptionBuildArguments},
		{name: "absolute destination", fields: Fields{Script: "s", Destination: "/opt"}, field: OptionDestination},
		{name: "escaping destination", fields: Fields{Script: "s", Destination: "out/../../etc"}, field: OptionDestination},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewScriptOptions(tt.fields)
			require.Error(t, err)

			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr), "expected ConfigError, got %T", err)
			assert.Equal(t, tt.field, cfgErr.Field)
			assert.True(t, errdefs.IsInvalidArgument(err))
		})
	}
}

func TestNewScriptOptionsAcceptsUnknownStages(t *testing.T) {
	opts, err := NewScriptOptions(Fields{Script: "s", Stages: []string{"build", "prime"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"prime"}, opts.UnknownStages())
	assert.True(t, opts.HasStage("prime"))
}

func TestDestinationNormalized(t *testing.T) {
	tests := map[string]string{
		"":         "",
		".":        "",
		"out":      "out",
		"out/":     "out",
		"a/./b":    "a/b",
		"a/b/../c": "a/c",
	}
	for in, want := range tests {
		opts, err := NewScriptOptions(Fields{Script: "s", Destination: in})
		require.NoError(t, err, "destination %q", in)
		assert.Equal(t, want, opts.Destination(), "destination %q", in)
	}
}

func TestInstallFlag(t *testing.T) {
	opts, err := NewScriptOptions(Fields{Script: "s", Install: boolPtr(false)})
	require.NoError(t, err)
	assert.False(t, opts.Install())
}

func TestOptionsAreNotAliased(t *testing.T) {
	args := []string{"--fast"}
	opts, err := NewScriptOptions(Fields{Script: "s", PullArguments: args})
	require.NoError(t, err)

	args[0] = "--slow"
	got := opts.PullArguments()
	assert.Equal(t, []string{"--fast"}, got)

	got[0] = "--mutated"
	assert.Equal(t, []string{"--fast"}, opts.PullArguments())
}

func TestFingerprint(t *testing.T) {
	base, err := NewScriptOptions(Fields{Script: "build.sh", BuildArguments: []string{"--release"}})
	require.NoError(t, err)

	placement, err := NewScriptOptions(Fields{
		Script:         "build.sh",
		BuildArguments: []string{"--release"},
		Install:        boolPtr(false),
		Destination:    "out",
	})
	require.NoError(t, err)
	assert.Equal(t, base.Fingerprint(), placement.Fingerprint(), "install placement is not a build property")

	changed, err := NewScriptOptions(Fields{Script: "build.sh", BuildArguments: []string{"--debug"}})
	require.NoError(t, err)
	assert.NotEqual(t, base.Fingerprint(), changed.Fingerprint())

	pullBuild, err := NewScriptOptions(Fields{Script: "build.sh", Stages: []string{"pull", "build"}})
	require.NoError(t, err)
	buildPull, err := NewScriptOptions(Fields{Script: "build.sh", Stages: []string{"build", "pull"}})
	require.NoError(t, err)
	assert.Equal(t, pullBuild.Fingerprint(), buildPull.Fingerprint(), "stage order does not matter")
	assert.Equal(t, []string{"build", "pull"}, buildPull.Stages(), "declared order is kept")

	reordered, err := NewScriptOptions(Fields{Script: "build.sh", BuildArguments: []string{"-b", "-a"}})
	require.NoError(t, err)
	ordered, err := NewScriptOptions(Fields{Script: "build.sh", BuildArguments: []string{"-a", "-b"}})
	require.NoError(t, err)
	assert.NotEqual(t, ordered.Fingerprint(), reordered.Fingerprint(), "argument order is part of argv")

	require.NoError(t, base.Fingerprint().Validate())
	assert.Equal(t, []string{OptionStages, OptionPullArguments, OptionBuildArguments}, base.BuildProperties())
}
