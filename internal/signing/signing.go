// Package signing signs revision texts with Ed25519 keys.
package signing

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"arbor/internal/errors"
	"arbor/internal/transport"

	"golang.org/x/crypto/nacl/sign"
)

// Signer turns a plaintext into a signed message.
type Signer interface {
	Sign(plaintext []byte) ([]byte, error)
}

// NaClSigner signs with an Ed25519 private key. Signed messages carry the
// plaintext after the signature.
type NaClSigner struct {
	public  [32]byte
	private [64]byte
}

func GenerateKey() (*NaClSigner, error) {
	pub, priv, err := sign.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating signing key: %w", err)
	}
	return &NaClSigner{public: *pub, private: *priv}, nil
}

func (s *NaClSigner) Sign(plaintext []byte) ([]byte, error) {
	return sign.Sign(nil, plaintext, &s.private), nil
}

func (s *NaClSigner) PublicKey() [32]byte { return s.public }

// Verify checks signed against publicKey and returns the plaintext.
func Verify(publicKey [32]byte, signed []byte) ([]byte, bool) {
	return sign.Open(nil, signed, &publicKey)
}

// Marshal encodes the key pair as "public:private" hex.
func (s *NaClSigner) Marshal() []byte {
	return []byte(hex.EncodeToString(s.public[:]) + ":" + hex.EncodeToString(s.private[:]) + "\n")
}

func Unmarshal(data []byte) (*NaClSigner, error) {
	pubHex, privHex, ok := strings.Cut(strings.TrimSpace(string(data)), ":")
	if !ok {
		return nil, errors.ValidationError("malformed signing key", nil)
	}
	pub, err := hex.DecodeString(pubHex)
	if err != nil || len(pub) != 32 {
		return nil, errors.ValidationError("malformed signing public key", nil)
	}
	priv, err := hex.DecodeString(privHex)
	if err != nil || len(priv) != 64 {
		return nil, errors.ValidationError("malformed signing private key", nil)
	}
	s := &NaClSigner{}
	copy(s.public[:], pub)
	copy(s.private[:], priv)
	return s, nil
}

// LoadOrCreate reads the key at path on t, generating and saving one if
// none exists.
func LoadOrCreate(t transport.Transport, path string) (*NaClSigner, error) {
	data, err := t.Get(path)
	if err == nil {
		return Unmarshal(data)
	}
	if !errors.IsType(err, errors.ErrorTypeNotFound) {
		return nil, fmt.Errorf("reading signing key: %w", err)
	}
	s, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := t.Put(path, s.Marshal()); err != nil {
		return nil, fmt.Errorf("saving signing key: %w", err)
	}
	return s, nil
}
