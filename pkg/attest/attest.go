package attest

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	digest "github.com/opencontainers/go-digest"

	"github.com/zen-systems/partdrive/pkg/evidence"
)

// SchemaV0 identifies the attestation format.
const SchemaV0 = "partdrive.attestation.v0"

// AttestationV0 captures a minimal attestation for a recorded phase.
type AttestationV0 struct {
	Schema    string            `json:"schema"`
	Subject   Subject           `json:"subject"`
	Claim     Claim             `json:"claim"`
	Evidence  Evidence          `json:"evidence"`
	Hashes    map[string]string `json:"hashes"`
	Outputs   map[string]string `json:"outputs,omitempty"`
	Signature *Signature        `json:"signature,omitempty"`
}

// Subject identifies the attested phase.
type Subject struct {
	Part        string        `json:"part"`
	RunID       string        `json:"run_id"`
	Phase       string        `json:"phase"`
	Fingerprint digest.Digest `json:"fingerprint"`
}

// Claim summarizes the phase outcome.
type Claim struct {
	Succeeded     bool   `json:"succeeded"`
	Skipped       bool   `json:"skipped"`
	State         string `json:"state"`
	ExitCode      *int   `json:"exit_code,omitempty"`
	InstallTarget string `json:"install_target,omitempty"`
}

// Evidence references run artifacts.
type Evidence struct {
	RunJSON   string   `json:"run_json"`
	PhaseJSON string   `json:"phase_json"`
	Log       string   `json:"log,omitempty"`
	Blobs     []string `json:"blobs"`
}

// Signature is an ed25519 signature over the unsigned attestation.
type Signature struct {
	Alg      string `json:"alg"`
	PubKeyID string `json:"pubkey_id"`
	Sig      string `json:"sig"`
}

// BuildAttestation builds a v0 attestation for a phase in a run directory.
// When the phase installed its output, the digests of the installed files
// are recorded as outputs.
func BuildAttestation(runDir, phase string) (*AttestationV0, error) {
	if runDir == "" {
		return nil, fmt.Errorf("runDir is required")
	}
	if phase == "" {
		return nil, fmt.Errorf("phase is required")
	}

	runRecord, err := evidence.ReadRun(runDir)
	if err != nil {
		return nil, err
	}
	phaseRecord, err := evidence.ReadPhase(runDir, phase)
	if err != nil {
		return nil, err
	}

	phaseJSON := filepath.ToSlash(filepath.Join("phases", phase+".json"))
	logRel := filepath.ToSlash(filepath.Join("logs", phase+".log"))
	if _, err := os.Stat(filepath.Join(runDir, filepath.FromSlash(logRel))); err != nil {
		logRel = ""
	}
	blobs := collectPhaseBlobs(*phaseRecord)

	hashes := make(map[string]string)
	for _, rel := range append([]string{"run.json", phaseJSON, logRel}, blobs...) {
		if rel == "" {
			continue
		}
		if _, ok := hashes[rel]; ok {
			continue
		}
		path, err := safeJoin(runDir, rel)
		if err != nil {
			return nil, err
		}
		d, err := hashFile(path)
		if err != nil {
			return nil, err
		}
		hashes[rel] = d.String()
	}

	claim := claimFor(*phaseRecord)
	var outputs map[string]string
	if claim.InstallTarget != "" {
		outputs, err = HashTree(claim.InstallTarget)
		if err != nil {
			return nil, fmt.Errorf("hash install target: %w", err)
		}
	}

	return &AttestationV0{
		Schema: SchemaV0,
		Subject: Subject{
			Part:        runRecord.Part,
			RunID:       runRecord.ID,
			Phase:       phase,
			Fingerprint: runRecord.Fingerprint,
		},
		Claim: claim,
		Evidence: Evidence{
			RunJSON:   "run.json",
			PhaseJSON: phaseJSON,
			Log:       logRel,
			Blobs:     blobs,
		},
		Hashes:  hashes,
		Outputs: outputs,
	}, nil
}

// WriteFile writes the attestation as indented JSON.
func WriteFile(path string, att *AttestationV0) error {
	data, err := json.MarshalIndent(att, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ReadFile loads an attestation written by WriteFile.
func ReadFile(path string) (*AttestationV0, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var att AttestationV0
	if err := json.Unmarshal(data, &att); err != nil {
		return nil, err
	}
	return &att, nil
}

// HashTree returns the digest of every regular file below root, keyed by
// slash-separated relative path. Symlinks are recorded by their target.
func HashTree(root string) (map[string]string, error) {
	hashes := make(map[string]string)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.Type()&fs.ModeSymlink != 0 {
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			hashes[rel] = "symlink:" + target
			return nil
		}
		sum, err := hashFile(path)
		if err != nil {
			return err
		}
		hashes[rel] = sum.String()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return hashes, nil
}

func claimFor(record evidence.PhaseRecord) Claim {
	claim := Claim{
		Succeeded: record.Error == "" && record.State != "failed",
		Skipped:   record.Skipped,
		State:     record.State,
		ExitCode:  record.ExitCode,
	}
	if record.Install != nil && claim.Succeeded {
		claim.InstallTarget = record.Install.Target
	}
	return claim
}

func collectPhaseBlobs(record evidence.PhaseRecord) []string {
	seen := make(map[string]struct{}, 2)
	blobs := make([]string, 0, 2)
	for _, blob := range []string{record.StdoutRef, record.StderrRef} {
		if blob == "" {
			continue
		}
		blob = filepath.ToSlash(blob)
		if _, ok := seen[blob]; ok {
			continue
		}
		seen[blob] = struct{}{}
		blobs = append(blobs, blob)
	}
	sort.Strings(blobs)
	return blobs
}

func hashFile(path string) (digest.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return digest.Canonical.FromReader(f)
}

func safeJoin(root, rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("empty path")
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("absolute path not allowed")
	}
	normalized := filepath.FromSlash(rel)
	for _, seg := range strings.Split(normalized, string(filepath.Separator)) {
		if seg == ".." {
			return "", fmt.Errorf("path traversal detected")
		}
	}
	clean := filepath.Clean(normalized)
	if clean == "." {
		return "", fmt.Errorf("invalid path")
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	targetAbs, err := filepath.Abs(filepath.Join(rootAbs, clean))
	if err != nil {
		return "", err
	}
	if targetAbs != rootAbs && !strings.HasPrefix(targetAbs, rootAbs+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes run dir")
	}
	return targetAbs, nil
}
