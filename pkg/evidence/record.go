package evidence

import (
	"strings"

	"github.com/zen-systems/partdrive/pkg/driver"
)

// RecordPhase writes the phase record, its captured output as blobs and a
// combined log for a phase call. err is the error the phase returned, if
// any. A nil result (the phase was rejected before it started) records only
// the error.
func (w *Writer) RecordPhase(phase string, res *driver.PhaseResult, err error) (*PhaseRecord, error) {
	record := PhaseRecord{Name: phase, State: driver.StateFailed.String()}
	if err != nil {
		record.Error = err.Error()
	}
	if res == nil {
		return &record, w.WritePhase(record)
	}

	record.Skipped = res.Skipped
	record.State = res.State.String()
	record.DurationMillis = res.Duration.Milliseconds()

	if cmd := res.Command; cmd != nil {
		exitCode := cmd.ExitCode
		record.Command = cmd.Command
		record.Workdir = cmd.Workdir
		record.ExitCode = &exitCode

		if cmd.Stdout != "" {
			ref, _, werr := w.WriteBlob(phase+"_stdout", []byte(cmd.Stdout))
			if werr != nil {
				return nil, werr
			}
			record.StdoutRef = ref
		}
		if cmd.Stderr != "" {
			ref, _, werr := w.WriteBlob(phase+"_stderr", []byte(cmd.Stderr))
			if werr != nil {
				return nil, werr
			}
			record.StderrRef = ref
		}
		if werr := w.WriteLog(phase, formatLog(cmd.Command, cmd.Stdout, cmd.Stderr)); werr != nil {
			return nil, werr
		}
	}

	if s := res.Staging; s != nil {
		record.Staging = &StagingRecord{
			Mode:   string(s.Mode),
			Source: s.Source,
			Path:   s.Path,
			Digest: s.Digest,
		}
	}
	if inst := res.Install; inst != nil {
		record.Install = &InstallRecord{Target: inst.Target, Replaced: inst.Replaced}
	}

	return &record, w.WritePhase(record)
}

func formatLog(command []string, stdout, stderr string) string {
	var b strings.Builder
	b.WriteString("$ ")
	b.WriteString(strings.Join(command, " "))
	b.WriteString("\n")
	if stdout != "" {
		b.WriteString("--- stdout ---\n")
		b.WriteString(stdout)
		if !strings.HasSuffix(stdout, "\n") {
			b.WriteString("\n")
		}
	}
	if stderr != "" {
		b.WriteString("--- stderr ---\n")
		b.WriteString(stderr)
		if !strings.HasSuffix(stderr, "\n") {
			b.WriteString("\n")
		}
	}
	return b.String()
}
