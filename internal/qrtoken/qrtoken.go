// Package qrtoken mints and checks the opaque payloads printed in ticket QR
// codes. A token is a random ticket nonce followed by a keyed BLAKE3 tag
// over it, base32 encoded. The server stores the token on the ticket and
// looks tickets up by it; scanning devices holding the key can reject
// forged or mistyped codes before queuing them offline.
package qrtoken

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base32"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

const (
	// KeySize is the BLAKE3 keyed-mode key length.
	KeySize = 32

	nonceSize = 16
	tagSize   = 10
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

var (
	// ErrMalformed means the code is not a token at all.
	ErrMalformed = errors.New("qrtoken: malformed code")
	// ErrForged means the code decodes but was not minted with this key.
	ErrForged = errors.New("qrtoken: tag mismatch")
)

// ParseKey decodes a hex-encoded 32-byte key.
func ParseKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("qrtoken.ParseKey: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("qrtoken.ParseKey: key is %d bytes, want %d", len(key), KeySize)
	}
	return key, nil
}

// Issuer mints and verifies tokens under one key.
type Issuer struct {
	key []byte
}

// NewIssuer returns an Issuer for key, which must be KeySize bytes.
func NewIssuer(key []byte) (*Issuer, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("qrtoken.NewIssuer: key is %d bytes, want %d", len(key), KeySize)
	}
	return &Issuer{key: append([]byte(nil), key...)}, nil
}

// Issue returns a fresh token.
func (i *Issuer) Issue() (string, error) {
	buf := make([]byte, nonceSize+tagSize)
	if _, err := rand.Read(buf[:nonceSize]); err != nil {
		return "", fmt.Errorf("qrtoken.Issue: %w", err)
	}
	tag, err := i.tag(buf[:nonceSize])
	if err != nil {
		return "", err
	}
	copy(buf[nonceSize:], tag)
	return encoding.EncodeToString(buf), nil
}

// Verify reports whether code was minted with this issuer's key.
// Lowercase input and surrounding whitespace are tolerated since codes are
// sometimes typed in by hand.
func (i *Issuer) Verify(code string) error {
	raw, err := encoding.DecodeString(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil || len(raw) != nonceSize+tagSize {
		return ErrMalformed
	}
	want, err := i.tag(raw[:nonceSize])
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(want, raw[nonceSize:]) != 1 {
		return ErrForged
	}
	return nil
}

func (i *Issuer) tag(nonce []byte) ([]byte, error) {
	hasher, err := blake3.NewKeyed(i.key)
	if err != nil {
		return nil, fmt.Errorf("qrtoken: keyed hash init: %w", err)
	}
	hasher.Write(nonce)
	return hasher.Sum(nil)[:tagSize], nil
}
