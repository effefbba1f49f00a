package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zen-systems/partdrive/pkg/attest"
)

// AlgEd25519 is the only supported signature algorithm.
const AlgEd25519 = "ed25519"

// Signer handles signing of attestations.
type Signer struct {
	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey
	KeyID      string
	keyDir     string
}

// DefaultKeyDir returns ~/.partdrive/keys.
func DefaultKeyDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".partdrive", "keys"), nil
}

// NewSigner loads keyDir/keyID.key, generating the key on first use.
func NewSigner(keyDir, keyID string) (*Signer, error) {
	if strings.TrimSpace(keyID) == "" || strings.ContainsAny(keyID, `/\`) {
		return nil, fmt.Errorf("invalid key id %q", keyID)
	}
	if err := os.MkdirAll(keyDir, 0700); err != nil {
		return nil, err
	}

	keyPath := filepath.Join(keyDir, keyID+".key")

	var privateKey ed25519.PrivateKey

	data, err := os.ReadFile(keyPath)
	switch {
	case err == nil:
		if len(data) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("invalid private key size in %s", keyPath)
		}
		privateKey = ed25519.PrivateKey(data)
	case os.IsNotExist(err):
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, err
		}
		privateKey = priv
		if err := os.WriteFile(keyPath, []byte(privateKey), 0600); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	return &Signer{
		PrivateKey: privateKey,
		PublicKey:  privateKey.Public().(ed25519.PublicKey),
		KeyID:      keyID,
		keyDir:     keyDir,
	}, nil
}

// SignAttestation signs the attestation and attaches the signature.
func (s *Signer) SignAttestation(att *attest.AttestationV0) error {
	if att == nil {
		return fmt.Errorf("attestation required")
	}

	data, err := signingPayload(att)
	if err != nil {
		return err
	}

	sig := ed25519.Sign(s.PrivateKey, data)
	att.Signature = &attest.Signature{
		Alg:      AlgEd25519,
		PubKeyID: s.KeyID,
		Sig:      base64.StdEncoding.EncodeToString(sig),
	}
	return nil
}

// VerifyAttestationSignature verifies the attached signature with the key
// named by the signature, loaded from keyDir.
func VerifyAttestationSignature(att *attest.AttestationV0, keyDir string) error {
	if att == nil {
		return fmt.Errorf("attestation required")
	}
	if att.Signature == nil {
		return fmt.Errorf("signature required")
	}
	if att.Signature.Alg != AlgEd25519 {
		return fmt.Errorf("signature alg must be %q", AlgEd25519)
	}

	data, err := signingPayload(att)
	if err != nil {
		return err
	}

	sigBytes, err := base64.StdEncoding.DecodeString(att.Signature.Sig)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}

	pubKey, err := loadPublicKey(keyDir, att.Signature.PubKeyID)
	if err != nil {
		return err
	}

	if !ed25519.Verify(pubKey, data, sigBytes) {
		return fmt.Errorf("invalid attestation signature")
	}
	return nil
}

func signingPayload(att *attest.AttestationV0) ([]byte, error) {
	attCopy := *att
	attCopy.Signature = nil
	return json.Marshal(&attCopy)
}

func loadPublicKey(keyDir, keyID string) (ed25519.PublicKey, error) {
	if keyID == "" {
		return nil, fmt.Errorf("pubkey_id required")
	}
	data, err := os.ReadFile(filepath.Join(keyDir, keyID+".key"))
	if err != nil {
		return nil, err
	}
	priv := ed25519.PrivateKey(data)
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key size")
	}
	return priv.Public().(ed25519.PublicKey), nil
}
