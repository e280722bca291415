// Package keystore provides password-based at-rest encryption for agent
// private keys. Keys are derived with scrypt and the private key material
// is sealed with AES-128-GCM; a separate SHA-256 MAC over the combined
// ciphertext rejects wrong passwords and corruption before decryption is
// attempted.
package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/scrypt"
)

// scrypt parameters. N is intentionally high (2^18) — key decryption is an
// interactive, rare operation.
const (
	scryptN     = 262144
	scryptR     = 8
	scryptP     = 1
	scryptDKLen = 32
	saltLen     = 32
	ivLen       = 16
)

// Version is the only supported keystore blob version.
const Version = "1"

// ErrMACMismatch is returned when the stored MAC does not match the
// recomputed one: wrong password or corrupted blob.
var ErrMACMismatch = errors.New("keystore: MAC mismatch (wrong password or corrupted data)")

// ErrUnsupportedVersion is returned for blobs written by an unknown format
// version.
var ErrUnsupportedVersion = errors.New("keystore: unsupported version")

// KDFParams records the scrypt parameters used for a blob.
type KDFParams struct {
	N     int    `json:"n"`
	R     int    `json:"r"`
	P     int    `json:"p"`
	DKLen int    `json:"dklen"`
	Salt  string `json:"salt"`
}

// EncryptedKey is the persisted form of an encrypted private key. The
// ciphertext field carries the GCM output (ciphertext followed by the auth
// tag) with the IV appended at the tail, all hex-encoded.
type EncryptedKey struct {
	Version    string    `json:"version"`
	Cipher     string    `json:"cipher"`
	KDF        string    `json:"kdf"`
	KDFParams  KDFParams `json:"kdfparams"`
	Ciphertext string    `json:"ciphertext"`
	MAC        string    `json:"mac"`
	ID         string    `json:"id"`
	AgentID    string    `json:"agent_id"`
}

// Encrypt seals a private key under a password. The key is hex-encoded
// before encryption so the plaintext format is self-describing.
func Encrypt(priv ed25519.PrivateKey, password, agentID string) (*EncryptedKey, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("keystore: private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(priv))
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("keystore: generate salt: %w", err)
	}
	dk, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, scryptDKLen)
	if err != nil {
		return nil, fmt.Errorf("keystore: derive key: %w", err)
	}

	block, err := aes.NewCipher(dk[:16])
	if err != nil {
		return nil, fmt.Errorf("keystore: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, ivLen)
	if err != nil {
		return nil, fmt.Errorf("keystore: new gcm: %w", err)
	}

	iv := make([]byte, ivLen)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("keystore: generate iv: %w", err)
	}

	plaintext := []byte(hex.EncodeToString(priv))
	sealed := gcm.Seal(nil, iv, plaintext, nil)

	// Combined layout: ciphertext || authTag (from Seal) || iv.
	combined := append(sealed, iv...)
	mac := computeMAC(dk, combined)

	return &EncryptedKey{
		Version: Version,
		Cipher:  "aes-128-gcm",
		KDF:     "scrypt",
		KDFParams: KDFParams{
			N:     scryptN,
			R:     scryptR,
			P:     scryptP,
			DKLen: scryptDKLen,
			Salt:  hex.EncodeToString(salt),
		},
		Ciphertext: hex.EncodeToString(combined),
		MAC:        mac,
		ID:         uuid.New().String(),
		AgentID:    agentID,
	}, nil
}

// Decrypt recovers the private key from an encrypted blob. The MAC is
// checked before the AEAD open, so wrong passwords fail fast and never
// reach the cipher.
func Decrypt(ek *EncryptedKey, password string) (ed25519.PrivateKey, error) {
	if ek.Version != Version {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedVersion, ek.Version)
	}
	if ek.KDF != "scrypt" {
		return nil, fmt.Errorf("keystore: unsupported kdf %q", ek.KDF)
	}

	salt, err := hex.DecodeString(ek.KDFParams.Salt)
	if err != nil {
		return nil, fmt.Errorf("keystore: decode salt: %w", err)
	}
	combined, err := hex.DecodeString(ek.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("keystore: decode ciphertext: %w", err)
	}
	if len(combined) <= ivLen {
		return nil, fmt.Errorf("keystore: ciphertext too short")
	}

	dk, err := scrypt.Key([]byte(password), salt, ek.KDFParams.N, ek.KDFParams.R, ek.KDFParams.P, ek.KDFParams.DKLen)
	if err != nil {
		return nil, fmt.Errorf("keystore: derive key: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(computeMAC(dk, combined)), []byte(ek.MAC)) != 1 {
		return nil, ErrMACMismatch
	}

	sealed := combined[:len(combined)-ivLen]
	iv := combined[len(combined)-ivLen:]

	block, err := aes.NewCipher(dk[:16])
	if err != nil {
		return nil, fmt.Errorf("keystore: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, ivLen)
	if err != nil {
		return nil, fmt.Errorf("keystore: new gcm: %w", err)
	}
	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("keystore: decrypt: %w", err)
	}

	raw, err := hex.DecodeString(string(plaintext))
	if err != nil {
		return nil, fmt.Errorf("keystore: decode plaintext key: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("keystore: decrypted key has wrong length %d", len(raw))
	}
	return ed25519.PrivateKey(raw), nil
}

// computeMAC produces SHA-256(dk[16:32] || combined) as lowercase hex.
// The MAC half of the derived key is disjoint from the cipher half.
func computeMAC(dk, combined []byte) string {
	h := sha256.New()
	h.Write(dk[16:32])
	h.Write(combined)
	return hex.EncodeToString(h.Sum(nil))
}
