// Package driver executes a script part through its lifecycle phases.
//
// The host calls RunPull, RunBuild and optionally Install, in that order,
// once per build attempt, passing the source, build and install
// directories each time:
//
//   - RunPull runs SourceDir/<script> in SourceDir with the pull arguments
//     when the pull stage is enabled.
//   - RunBuild stages the script into BuildDir, runs it there with the
//     build arguments when the build stage is enabled, and then installs
//     when install is enabled.
//   - Install replaces the install target with a copy of BuildDir.
//
// Phases are sequential and never retried. A non-zero script exit is a
// *ScriptFailure; a filesystem failure while installing is an
// *InstallError; missing directories are a *part.ConfigError. The
// executor performs no locking: the host must not run two phases
// concurrently against the same build or install directory.
//
// Relative directories are resolved against the process working directory
// when a phase starts; the script always runs by absolute path.
//
// Example usage:
//
//	def, err := part.LoadFile("part.yaml")
//	if err != nil {
//	    return err
//	}
//	exec := driver.New(def.Options, runner.NewExec())
//	dirs := driver.Dirs{SourceDir: "src", BuildDir: "build", InstallDir: "install"}
//	if _, err := exec.RunPull(ctx, dirs); err != nil {
//	    return err
//	}
//	if _, err := exec.RunBuild(ctx, dirs); err != nil {
//	    return err
//	}
package driver
