package evidence

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	digest "github.com/opencontainers/go-digest"

	"github.com/zen-systems/partdrive/pkg/driver"
	"github.com/zen-systems/partdrive/pkg/runner"
)

func TestEvidenceWriter(t *testing.T) {
	dir := t.TempDir()
	writer, err := NewWriter(dir, "run-123")
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}

	run := RunRecord{
		ID:          "run-123",
		Timestamp:   time.Now().UTC(),
		Part:        "app",
		PartFile:    "part.yaml",
		SourceDir:   "src",
		BuildDir:    "build",
		InstallDir:  "install",
		Fingerprint: digest.FromString("props"),
		Outcome:     OutcomeRunning,
	}
	if err := writer.WriteRun(run); err != nil {
		t.Fatalf("write run: %v", err)
	}
	if err := writer.WritePhase(PhaseRecord{Name: "build", State: "built"}); err != nil {
		t.Fatalf("write phase: %v", err)
	}
	if err := writer.WriteLog("build", "stdout"); err != nil {
		t.Fatalf("write log: %v", err)
	}

	for _, rel := range []string{"run.json", filepath.Join("phases", "build.json"), filepath.Join("logs", "build.log")} {
		if _, err := os.Stat(filepath.Join(writer.RunDir(), rel)); err != nil {
			t.Fatalf("missing %s: %v", rel, err)
		}
	}

	if runtime.GOOS != "windows" {
		assertPerm(t, writer.RunDir(), 0700)
		assertPerm(t, filepath.Join(writer.RunDir(), "phases"), 0700)
		assertPerm(t, filepath.Join(writer.RunDir(), "logs"), 0700)
		assertPerm(t, filepath.Join(writer.RunDir(), "blobs"), 0700)
		assertPerm(t, filepath.Join(writer.RunDir(), "run.json"), 0600)
		assertPerm(t, filepath.Join(writer.RunDir(), "phases", "build.json"), 0600)
		assertPerm(t, filepath.Join(writer.RunDir(), "logs", "build.log"), 0600)
	}

	got, err := ReadRun(writer.RunDir())
	if err != nil {
		t.Fatalf("read run: %v", err)
	}
	if got.Part != "app" || got.Fingerprint != run.Fingerprint {
		t.Fatalf("unexpected run record: %+v", got)
	}
}

func TestNewWriterValidation(t *testing.T) {
	if _, err := NewWriter("", "run"); err == nil {
		t.Fatalf("expected error for empty base dir")
	}
	if _, err := NewWriter(t.TempDir(), ""); err == nil {
		t.Fatalf("expected error for empty run ID")
	}
	if err := (&Writer{runDir: t.TempDir()}).WritePhase(PhaseRecord{}); err == nil {
		t.Fatalf("expected error for unnamed phase")
	}
}

func TestNewRunIDUnique(t *testing.T) {
	a, b := NewRunID(), NewRunID()
	if a == "" || a == b {
		t.Fatalf("expected distinct run IDs, got %q and %q", a, b)
	}
}

func TestWriteBlob(t *testing.T) {
	dir := t.TempDir()
	writer, err := NewWriter(dir, "run1")
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}

	content := []byte("hello")
	expectedSha := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

	ref, sha, err := writer.WriteBlob("build_stdout", content)
	if err != nil {
		t.Fatalf("write blob: %v", err)
	}
	if sha != expectedSha {
		t.Fatalf("sha mismatch: %s", sha)
	}

	blobPath := filepath.Join(writer.RunDir(), ref)
	data, err := os.ReadFile(blobPath)
	if err != nil {
		t.Fatalf("read blob: %v", err)
	}
	if string(data) != string(content) {
		t.Fatalf("content mismatch: %q", string(data))
	}
	if runtime.GOOS != "windows" {
		assertPerm(t, blobPath, 0600)
	}

	ref2, sha2, err := writer.WriteBlob("build_stdout", content)
	if err != nil {
		t.Fatalf("write blob again: %v", err)
	}
	if ref2 != ref || sha2 != sha {
		t.Fatalf("expected same ref and sha")
	}
}

func TestWriteBlobKindSanitization(t *testing.T) {
	writer, err := NewWriter(t.TempDir(), "run2")
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}

	ref, _, err := writer.WriteBlob("Build 123/../", []byte("x"))
	if err != nil {
		t.Fatalf("write blob: %v", err)
	}
	if !strings.HasPrefix(ref, "blobs/build123-") {
		t.Fatalf("unexpected ref: %s", ref)
	}
	if strings.Count(ref, "/") != 1 {
		t.Fatalf("unexpected path separators in ref: %s", ref)
	}

	ref, _, err = writer.WriteBlob("!!!", []byte("y"))
	if err != nil {
		t.Fatalf("write blob: %v", err)
	}
	if !strings.HasPrefix(ref, "blobs/blob-") {
		t.Fatalf("expected blob kind fallback in ref: %s", ref)
	}
}

func TestRecordPhase(t *testing.T) {
	writer, err := NewWriter(t.TempDir(), "run3")
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}

	res := &driver.PhaseResult{
		Phase: driver.PhaseBuild,
		State: driver.StateFailed,
		Command: &runner.Result{
			Command:  []string{"/b/build.sh", "--release"},
			Workdir:  "/b",
			Stdout:   "compiling\n",
			Stderr:   "boom",
			ExitCode: 1,
		},
		Staging:  &driver.Staging{Mode: driver.StagingCopied, Source: "/s/build.sh", Path: "/b/build.sh"},
		Duration: 1500 * time.Millisecond,
	}
	phaseErr := errors.New("build script failed")

	record, err := writer.RecordPhase(driver.PhaseBuild, res, phaseErr)
	if err != nil {
		t.Fatalf("record phase: %v", err)
	}
	if record.ExitCode == nil || *record.ExitCode != 1 {
		t.Fatalf("expected exit code 1, got %v", record.ExitCode)
	}
	if record.Error != "build script failed" || record.State != "failed" {
		t.Fatalf("unexpected record: %+v", record)
	}
	if record.StdoutRef == "" || record.StderrRef == "" {
		t.Fatalf("expected output blobs")
	}
	if record.Staging == nil || record.Staging.Mode != "copied" {
		t.Fatalf("expected staging record")
	}
	if record.DurationMillis != 1500 {
		t.Fatalf("duration = %d", record.DurationMillis)
	}

	stored, err := ReadPhase(writer.RunDir(), driver.PhaseBuild)
	if err != nil {
		t.Fatalf("read phase: %v", err)
	}
	if stored.StderrRef != record.StderrRef {
		t.Fatalf("stored record differs")
	}

	log, err := os.ReadFile(filepath.Join(writer.RunDir(), "logs", "build.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	want := "$ /b/build.sh --release\n--- stdout ---\ncompiling\n--- stderr ---\nboom\n"
	if string(log) != want {
		t.Fatalf("unexpected log:\n%s", log)
	}
}

func TestRecordPhaseWithoutResult(t *testing.T) {
	writer, err := NewWriter(t.TempDir(), "run4")
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}

	record, err := writer.RecordPhase(driver.PhasePull, nil, errors.New("source-dir required"))
	if err != nil {
		t.Fatalf("record phase: %v", err)
	}
	if record.Error == "" || record.Command != nil {
		t.Fatalf("unexpected record: %+v", record)
	}
}

func TestLatestRun(t *testing.T) {
	base := t.TempDir()

	if _, _, err := LatestRun(filepath.Join(base, "missing"), "app"); !errors.Is(err, ErrNoRuns) {
		t.Fatalf("expected ErrNoRuns for missing dir, got %v", err)
	}

	now := time.Now().UTC()
	records := []RunRecord{
		{ID: "old", Part: "app", Timestamp: now.Add(-time.Hour), Fingerprint: digest.FromString("a")},
		{ID: "new", Part: "app", Timestamp: now, Fingerprint: digest.FromString("b")},
		{ID: "other", Part: "lib", Timestamp: now.Add(time.Hour)},
	}
	for _, r := range records {
		w, err := NewWriter(base, r.ID)
		if err != nil {
			t.Fatalf("new writer: %v", err)
		}
		if err := w.WriteRun(r); err != nil {
			t.Fatalf("write run: %v", err)
		}
	}
	if err := os.MkdirAll(filepath.Join(base, "junk"), 0755); err != nil {
		t.Fatalf("mkdir junk: %v", err)
	}

	latest, dir, err := LatestRun(base, "app")
	if err != nil {
		t.Fatalf("latest run: %v", err)
	}
	if latest.ID != "new" || filepath.Base(dir) != "new" {
		t.Fatalf("expected newest app run, got %s in %s", latest.ID, dir)
	}

	if _, _, err := LatestRun(base, "nope"); !errors.Is(err, ErrNoRuns) {
		t.Fatalf("expected ErrNoRuns, got %v", err)
	}
}

func assertPerm(t *testing.T, path string, expected os.FileMode) {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat %s: %v", path, err)
	}
	if info.Mode().Perm() != expected {
		t.Fatalf("expected %s mode %o, got %o", path, expected, info.Mode().Perm())
	}
}
