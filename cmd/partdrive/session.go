package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"runtime"
	"time"

	"github.com/zen-systems/partdrive/pkg/config"
	"github.com/zen-systems/partdrive/pkg/driver"
	"github.com/zen-systems/partdrive/pkg/evidence"
	"github.com/zen-systems/partdrive/pkg/part"
	"github.com/zen-systems/partdrive/pkg/runner"
)

// session is one CLI invocation driving a single part.
type session struct {
	partFile string
	def      *part.Definition
	dirs     driver.Dirs
	cfg      *config.Config
	executor *driver.Executor
	writer   *evidence.Writer
	record   evidence.RunRecord
}

func openSession(partFile string) (*session, error) {
	def, err := part.LoadFile(partFile)
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	dirs, err := resolveDirs(partFile, def)
	if err != nil {
		return nil, err
	}

	for _, stage := range def.Options.UnknownStages() {
		log.Printf("warning: stage %q has no hook and will be ignored", stage)
	}

	r := runner.NewExec(
		runner.WithEnv(cfg.Environ()...),
		runner.WithOutput(os.Stdout, os.Stderr),
	)
	s := &session{
		partFile: partFile,
		def:      def,
		dirs:     dirs,
		cfg:      cfg,
		executor: driver.New(def.Options, r, driver.WithLogger(log.Printf)),
	}
	return s, nil
}

// run executes the named phases in order, stopping at the first failure,
// and records the invocation as an evidence run unless disabled.
func (s *session) run(ctx context.Context, phases ...string) error {
	if err := s.startEvidence(phases); err != nil {
		return err
	}

	var tracker driver.Tracker
	var runErr error
	for _, phase := range phases {
		fmt.Fprintf(os.Stderr, "==> %s %s\n", phase, s.def.Name)
		res, err := s.runPhase(ctx, phase)
		if rerr := s.recordPhase(phase, res, err); rerr != nil {
			log.Printf("warning: failed to record %s evidence: %v", phase, rerr)
		}
		if err == nil {
			err = tracker.Observe(res)
		}
		if err != nil {
			runErr = fmt.Errorf("%s %s: %w", phase, s.def.Name, err)
			break
		}
		if res.Skipped {
			fmt.Fprintf(os.Stderr, "    %s stage not enabled, skipped\n", phase)
		}
	}

	if err := s.finishEvidence(runErr); err != nil {
		log.Printf("warning: failed to finalize evidence: %v", err)
	}
	if runErr == nil {
		fmt.Fprintf(os.Stderr, "==> %s: %s\n", s.def.Name, tracker.State())
	}
	return runErr
}

func (s *session) runPhase(ctx context.Context, phase string) (*driver.PhaseResult, error) {
	switch phase {
	case driver.PhasePull:
		return s.executor.RunPull(ctx, s.dirs)
	case driver.PhaseBuild:
		if s.def.Options.HasStage(part.StageBuild) {
			if err := os.MkdirAll(s.dirs.BuildDir, 0755); err != nil {
				return nil, err
			}
		}
		return s.executor.RunBuild(ctx, s.dirs)
	case driver.PhaseInstall:
		return s.executor.Install(ctx, s.dirs)
	default:
		return nil, fmt.Errorf("unknown phase %q", phase)
	}
}

func (s *session) startEvidence(phases []string) error {
	if noEvidence || !s.cfg.EvidenceEnabled {
		return nil
	}

	runID := evidence.NewRunID()
	writer, err := evidence.NewWriter(s.cfg.EvidenceDir, runID)
	if err != nil {
		return fmt.Errorf("failed to create evidence dir: %w", err)
	}
	s.writer = writer
	s.record = evidence.RunRecord{
		ID:          runID,
		Timestamp:   time.Now().UTC(),
		Part:        s.def.Name,
		PartFile:    s.partFile,
		SourceDir:   s.dirs.SourceDir,
		BuildDir:    s.dirs.BuildDir,
		InstallDir:  s.dirs.InstallDir,
		Fingerprint: s.def.Options.Fingerprint(),
		Phases:      phases,
		Outcome:     evidence.OutcomeRunning,
		ToolVersions: map[string]string{
			"partdrive": version,
			"go":        runtime.Version(),
		},
	}
	return writer.WriteRun(s.record)
}

func (s *session) recordPhase(phase string, res *driver.PhaseResult, err error) error {
	if s.writer == nil {
		return nil
	}
	_, werr := s.writer.RecordPhase(phase, res, err)
	return werr
}

func (s *session) finishEvidence(runErr error) error {
	if s.writer == nil {
		return nil
	}
	s.record.Outcome = evidence.OutcomeSucceeded
	if runErr != nil {
		s.record.Outcome = evidence.OutcomeFailed
		s.record.Error = runErr.Error()
	}
	if err := s.writer.WriteRun(s.record); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Evidence: %s\n", s.writer.RunDir())
	return nil
}
