package attest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestVerifyAttestationSuccess(t *testing.T) {
	runDir, _ := setupRunDir(t)

	att, err := BuildAttestation(runDir, "build")
	if err != nil {
		t.Fatalf("build attestation: %v", err)
	}

	if err := VerifyAttestation(att, runDir); err != nil {
		t.Fatalf("verify attestation: %v", err)
	}
}

func TestVerifyAttestationHashMismatch(t *testing.T) {
	runDir, _ := setupRunDir(t)

	att, err := BuildAttestation(runDir, "build")
	if err != nil {
		t.Fatalf("build attestation: %v", err)
	}

	if err := os.WriteFile(filepath.Join(runDir, "logs", "build.log"), []byte("tampered"), 0600); err != nil {
		t.Fatalf("tamper log: %v", err)
	}

	if err := VerifyAttestation(att, runDir); err == nil {
		t.Fatalf("expected hash mismatch")
	}
}

func TestVerifyAttestationClaimMismatch(t *testing.T) {
	runDir, _ := setupRunDir(t)

	att, err := BuildAttestation(runDir, "build")
	if err != nil {
		t.Fatalf("build attestation: %v", err)
	}
	att.Claim.State = "built"

	if err := VerifyAttestation(att, runDir); err == nil {
		t.Fatalf("expected claim mismatch")
	}
}

func TestVerifyAttestationDetectsDrift(t *testing.T) {
	runDir, installDir := setupRunDir(t)

	att, err := BuildAttestation(runDir, "build")
	if err != nil {
		t.Fatalf("build attestation: %v", err)
	}

	if err := os.WriteFile(filepath.Join(installDir, "bin", "app"), []byte("patched"), 0755); err != nil {
		t.Fatalf("modify output: %v", err)
	}
	if err := os.Remove(filepath.Join(installDir, "README")); err != nil {
		t.Fatalf("remove output: %v", err)
	}
	if err := os.WriteFile(filepath.Join(installDir, "extra"), []byte("x"), 0644); err != nil {
		t.Fatalf("add output: %v", err)
	}

	err = VerifyAttestation(att, runDir)
	if err == nil {
		t.Fatalf("expected drift error")
	}
	for _, want := range []string{"added extra", "missing README", "modified bin/app"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}

func TestVerifyAttestationUnknownSchema(t *testing.T) {
	runDir, _ := setupRunDir(t)

	att, err := BuildAttestation(runDir, "build")
	if err != nil {
		t.Fatalf("build attestation: %v", err)
	}
	att.Schema = "partdrive.attestation.v99"

	if err := VerifyAttestation(att, runDir); err == nil {
		t.Fatalf("expected unknown schema error")
	}
}

func TestVerifyAttestationRejectsTraversal(t *testing.T) {
	runDir, _ := setupRunDir(t)

	att := &AttestationV0{
		Schema:  SchemaV0,
		Subject: Subject{Phase: "build"},
		Evidence: Evidence{
			RunJSON:   "run.json",
			PhaseJSON: "phases/build.json",
		},
		Hashes: map[string]string{
			"../x": "sha256:deadbeef",
		},
	}

	if err := VerifyAttestation(att, runDir); err == nil {
		t.Fatalf("expected traversal error")
	}
}
