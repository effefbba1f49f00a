package attest

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/zen-systems/partdrive/pkg/evidence"
)

// VerifyAttestation validates an attestation against the run directory and,
// when outputs were recorded, against the current install target.
func VerifyAttestation(att *AttestationV0, runDir string) error {
	if att == nil {
		return fmt.Errorf("attestation is required")
	}
	if runDir == "" {
		return fmt.Errorf("runDir is required")
	}
	if att.Schema != SchemaV0 {
		return fmt.Errorf("unknown attestation schema: %s", att.Schema)
	}

	for rel, expected := range att.Hashes {
		path, err := safeJoin(runDir, rel)
		if err != nil {
			return fmt.Errorf("invalid hash path %q: %w", rel, err)
		}
		actual, err := hashFile(path)
		if err != nil {
			return fmt.Errorf("missing evidence file %s: %w", rel, err)
		}
		if actual.String() != expected {
			return fmt.Errorf("hash mismatch for %s", rel)
		}
	}

	if _, err := safeJoin(runDir, att.Evidence.PhaseJSON); err != nil {
		return fmt.Errorf("invalid phase json path: %w", err)
	}
	phaseRecord, err := evidence.ReadPhase(runDir, att.Subject.Phase)
	if err != nil {
		return fmt.Errorf("read phase json: %w", err)
	}
	if err := verifyClaim(att.Claim, claimFor(*phaseRecord)); err != nil {
		return err
	}

	if len(att.Outputs) > 0 {
		if err := verifyOutputs(att.Claim.InstallTarget, att.Outputs); err != nil {
			return err
		}
	}
	return nil
}

// VerifyAttestationFile loads an attestation and verifies it.
func VerifyAttestationFile(attestationPath, runDir string) error {
	att, err := ReadFile(attestationPath)
	if err != nil {
		return err
	}
	return VerifyAttestation(att, runDir)
}

func verifyClaim(claimed, recorded Claim) error {
	if claimed.Succeeded != recorded.Succeeded {
		return fmt.Errorf("claim.succeeded mismatch")
	}
	if claimed.Skipped != recorded.Skipped || claimed.State != recorded.State {
		return fmt.Errorf("claim state mismatch")
	}
	if !sameExitCode(claimed.ExitCode, recorded.ExitCode) {
		return fmt.Errorf("claim.exit_code mismatch")
	}
	if claimed.InstallTarget != recorded.InstallTarget {
		return fmt.Errorf("claim.install_target mismatch")
	}
	return nil
}

func verifyOutputs(target string, expected map[string]string) error {
	if target == "" {
		return fmt.Errorf("outputs recorded without install target")
	}
	if _, err := os.Stat(target); err != nil {
		return fmt.Errorf("install target: %w", err)
	}
	actual, err := HashTree(target)
	if err != nil {
		return err
	}

	var drift []string
	for rel, want := range expected {
		got, ok := actual[rel]
		switch {
		case !ok:
			drift = append(drift, "missing "+rel)
		case got != want:
			drift = append(drift, "modified "+rel)
		}
	}
	for rel := range actual {
		if _, ok := expected[rel]; !ok {
			drift = append(drift, "added "+rel)
		}
	}
	if len(drift) > 0 {
		sort.Strings(drift)
		return fmt.Errorf("install target drifted: %s", strings.Join(drift, ", "))
	}
	return nil
}

func sameExitCode(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
