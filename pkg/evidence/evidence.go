package evidence

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	digest "github.com/opencontainers/go-digest"
)

const (
	dirMode  = 0700
	fileMode = 0600
)

// ErrNoRuns is returned by LatestRun when no run was recorded for a part.
var ErrNoRuns = errors.New("no recorded runs")

// Run outcomes.
const (
	OutcomeRunning   = "running"
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
)

// RunRecord captures run-level metadata.
type RunRecord struct {
	ID           string            `json:"id"`
	Timestamp    time.Time         `json:"timestamp"`
	Part         string            `json:"part"`
	PartFile     string            `json:"part_file,omitempty"`
	SourceDir    string            `json:"source_dir"`
	BuildDir     string            `json:"build_dir"`
	InstallDir   string            `json:"install_dir"`
	Fingerprint  digest.Digest     `json:"fingerprint"`
	Phases       []string          `json:"phases,omitempty"`
	Outcome      string            `json:"outcome"`
	Error        string            `json:"error,omitempty"`
	ToolVersions map[string]string `json:"tool_versions,omitempty"`
}

// PhaseRecord captures evidence for a single phase call.
type PhaseRecord struct {
	Name           string         `json:"name"`
	Skipped        bool           `json:"skipped"`
	State          string         `json:"state"`
	Command        []string       `json:"command,omitempty"`
	Workdir        string         `json:"workdir,omitempty"`
	ExitCode       *int           `json:"exit_code,omitempty"`
	StdoutRef      string         `json:"stdout_ref,omitempty"`
	StderrRef      string         `json:"stderr_ref,omitempty"`
	Staging        *StagingRecord `json:"staging,omitempty"`
	Install        *InstallRecord `json:"install,omitempty"`
	Error          string         `json:"error,omitempty"`
	DurationMillis int64          `json:"duration_ms"`
}

// StagingRecord captures how the build script was staged.
type StagingRecord struct {
	Mode   string        `json:"mode"`
	Source string        `json:"source,omitempty"`
	Path   string        `json:"path"`
	Digest digest.Digest `json:"digest,omitempty"`
}

// InstallRecord captures install materialization.
type InstallRecord struct {
	Target   string `json:"target"`
	Replaced bool   `json:"replaced"`
}

// Writer writes evidence bundles to disk.
type Writer struct {
	baseDir string
	runDir  string
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// NewWriter creates a new evidence writer rooted at baseDir/runID.
func NewWriter(baseDir, runID string) (*Writer, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if runID == "" {
		return nil, fmt.Errorf("run ID is required")
	}

	runDir := filepath.Join(baseDir, runID)
	for _, dir := range []string{runDir, filepath.Join(runDir, "phases"), filepath.Join(runDir, "logs"), filepath.Join(runDir, "blobs")} {
		if err := os.MkdirAll(dir, dirMode); err != nil {
			return nil, err
		}
		if err := os.Chmod(dir, dirMode); err != nil {
			return nil, err
		}
	}

	return &Writer{baseDir: baseDir, runDir: runDir}, nil
}

// RunDir returns the run directory path.
func (w *Writer) RunDir() string {
	return w.runDir
}

// WriteRun writes run metadata to run.json, replacing earlier versions.
func (w *Writer) WriteRun(record RunRecord) error {
	return writeJSON(filepath.Join(w.runDir, "run.json"), record)
}

// WritePhase writes a phase record to phases/<phase>.json.
func (w *Writer) WritePhase(record PhaseRecord) error {
	if record.Name == "" {
		return fmt.Errorf("phase name is required")
	}
	path := filepath.Join(w.runDir, "phases", fmt.Sprintf("%s.json", record.Name))
	return writeJSON(path, record)
}

// WriteLog writes phase output to logs/<phase>.log.
func (w *Writer) WriteLog(phase, content string) error {
	if phase == "" {
		return fmt.Errorf("phase name is required")
	}
	path := filepath.Join(w.runDir, "logs", fmt.Sprintf("%s.log", phase))
	return os.WriteFile(path, []byte(content), fileMode)
}

var kindSanitizer = regexp.MustCompile(`[^a-z0-9_]+`)

// WriteBlob stores content under blobs/, addressed by its digest. It
// returns the path relative to the run directory and the hex digest.
// Writing the same content twice yields the same reference.
func (w *Writer) WriteBlob(kind string, content []byte) (string, string, error) {
	kind = strings.Trim(kindSanitizer.ReplaceAllString(strings.ToLower(kind), ""), "_")
	if kind == "" {
		kind = "blob"
	}

	d := digest.FromBytes(content)
	ref := filepath.ToSlash(filepath.Join("blobs", fmt.Sprintf("%s-%s.txt", kind, d.Encoded())))
	path := filepath.Join(w.runDir, filepath.FromSlash(ref))

	if _, err := os.Stat(path); err == nil {
		return ref, d.Encoded(), nil
	}
	if err := os.WriteFile(path, content, fileMode); err != nil {
		return "", "", err
	}
	return ref, d.Encoded(), nil
}

// ReadRun loads run.json from a run directory.
func ReadRun(runDir string) (*RunRecord, error) {
	var record RunRecord
	if err := readJSON(filepath.Join(runDir, "run.json"), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// ReadPhase loads phases/<phase>.json from a run directory.
func ReadPhase(runDir, phase string) (*PhaseRecord, error) {
	var record PhaseRecord
	if err := readJSON(filepath.Join(runDir, "phases", phase+".json"), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// LatestRun returns the most recent run recorded for a part under baseDir,
// together with its run directory. Unreadable run directories are skipped.
func LatestRun(baseDir, part string) (*RunRecord, string, error) {
	entries, err := os.ReadDir(baseDir)
	if os.IsNotExist(err) {
		return nil, "", ErrNoRuns
	}
	if err != nil {
		return nil, "", err
	}

	var latest *RunRecord
	var latestDir string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(baseDir, entry.Name())
		record, err := ReadRun(dir)
		if err != nil || record.Part != part {
			continue
		}
		if latest == nil || record.Timestamp.After(latest.Timestamp) {
			latest = record
			latestDir = dir
		}
	}
	if latest == nil {
		return nil, "", ErrNoRuns
	}
	return latest, latestDir, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, fileMode)
}

func readJSON(path string, value any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, value)
}
