// Package identity provides the Ed25519 signer consumed opaquely by the
// ledger and the vouching path. The protocol core trusts agent ids that this
// layer has already authenticated; it never re-verifies request signatures.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
)

// Signer wraps an Ed25519 keypair.
type Signer struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

// New generates a fresh keypair.
func New() (*Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return &Signer{pub: pub, priv: priv}, nil
}

// LoadOrGenerate loads an Ed25519 keypair from path, or generates and saves
// one if the file doesn't exist. The file holds the 64-byte private key
// (which contains the public key in its last 32 bytes).
func LoadOrGenerate(path string) (*Signer, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("invalid key file: expected %d bytes, got %d", ed25519.PrivateKeySize, len(data))
		}
		priv := ed25519.PrivateKey(data)
		return &Signer{pub: priv.Public().(ed25519.PublicKey), priv: priv}, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	s, err := New()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(s.priv), 0600); err != nil {
		return nil, fmt.Errorf("write key file: %w", err)
	}
	return s, nil
}

// Sign signs msg with the private key.
func (s *Signer) Sign(msg []byte) []byte {
	return ed25519.Sign(s.priv, msg)
}

// PublicKey returns the public key.
func (s *Signer) PublicKey() ed25519.PublicKey { return s.pub }

// AgentID derives the agent identifier from the public key (hex encoded).
func (s *Signer) AgentID() string { return AgentIDFromPublicKey(s.pub) }

// AgentIDFromPublicKey returns the hex encoding of pub.
func AgentIDFromPublicKey(pub ed25519.PublicKey) string {
	return hex.EncodeToString(pub)
}

// Verify reports whether sig is a valid signature of msg under pub.
func Verify(msg, sig []byte, pub ed25519.PublicKey) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}

// VouchMessage constructs the canonical message signed for a vouch:
// "VOUCH:" + voucher id + ":" + target id + ":" + timestamp.
func VouchMessage(voucherID, targetID string, timestamp int64) []byte {
	return []byte("VOUCH:" + voucherID + ":" + targetID + ":" + strconv.FormatInt(timestamp, 10))
}
