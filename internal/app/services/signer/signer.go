// Package signer decodes account key material and produces signatures for
// swap payloads.
package signer

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/nspcc-dev/neo-go/pkg/crypto/keys"
)

// ErrInvalidKeyMaterial is recorded per request when an account secret is
// empty or cannot be decoded.
var ErrInvalidKeyMaterial = errors.New("missing or invalid key material")

// Decode parses a WIF-encoded secret into a private key.
func Decode(secret string) (*keys.PrivateKey, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrInvalidKeyMaterial
	}
	priv, err := keys.NewPrivateKeyFromWIF(secret)
	if err != nil {
		return nil, ErrInvalidKeyMaterial
	}
	return priv, nil
}

// Signature is a detached signature over a hex payload.
type Signature struct {
	Signature string `json:"signature"`
	PublicKey string `json:"public_key"`
	Address   string `json:"address"`
}

// SignHex decodes a hex payload and signs its SHA-256 digest.
func SignHex(priv *keys.PrivateKey, payload string) (Signature, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(payload, "0x"))
	if err != nil {
		return Signature{}, fmt.Errorf("decode payload: %w", err)
	}
	if len(raw) == 0 {
		return Signature{}, errors.New("empty payload")
	}
	return Signature{
		Signature: hex.EncodeToString(priv.Sign(raw)),
		PublicKey: priv.PublicKey().StringCompressed(),
		Address:   priv.Address(),
	}, nil
}
