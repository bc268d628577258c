// Package envelope seals positions with per-user authenticated encryption.
//
// Keys are derived with HKDF-SHA256 from a process-wide secret and the user ID,
// so the same user always gets the same key and different users never share one.
// Each envelope carries its own random nonce and a detached GCM tag.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/onnwee/geoprivacy/internal/geo"
)

var (
	// ErrDecryptionFailed is the only error Decrypt returns. The cause is
	// deliberately not exposed.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrWeakSecret is returned when the root secret is too short.
	ErrWeakSecret = errors.New("encryption secret must be at least 32 bytes")
)

const (
	// MinSecretLength is the minimum root secret length in bytes.
	MinSecretLength = 32

	keyLength   = 32
	nonceLength = 12
	tagLength   = 16
	keyInfo     = "geoprivacy/location/v1:"
)

// Payload is a sealed position. Timestamp is plaintext so envelopes can be
// ordered and indexed without decryption; it is bound into the tag.
type Payload struct {
	Encrypted string    `json:"encrypted"`
	IV        string    `json:"iv"`
	AuthTag   string    `json:"authTag"`
	Timestamp time.Time `json:"timestamp"`
}

// sealedPoint is the encrypted plaintext. Pointer fields detect missing keys.
type sealedPoint struct {
	Latitude  *float64   `json:"latitude"`
	Longitude *float64   `json:"longitude"`
	Accuracy  *float64   `json:"accuracy"`
	Timestamp *time.Time `json:"timestamp"`
}

// Codec encrypts and decrypts positions. Safe for concurrent use.
type Codec struct {
	secret []byte
	random io.Reader
}

// NewCodec creates a codec rooted at secret.
func NewCodec(secret []byte) (*Codec, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	s := make([]byte, len(secret))
	copy(s, secret)
	return &Codec{secret: s, random: rand.Reader}, nil
}

// Encrypt seals point for userID with a fresh nonce.
func (c *Codec) Encrypt(userID string, point geo.Point) (Payload, error) {
	if err := point.Validate(); err != nil {
		return Payload{}, err
	}

	aead, err := c.aead(userID)
	if err != nil {
		return Payload{}, err
	}

	plaintext, err := json.Marshal(sealedPoint{
		Latitude:  &point.Latitude,
		Longitude: &point.Longitude,
		Accuracy:  &point.Accuracy,
		Timestamp: &point.Timestamp,
	})
	if err != nil {
		return Payload{}, err
	}

	nonce := make([]byte, nonceLength)
	if _, err := io.ReadFull(c.random, nonce); err != nil {
		return Payload{}, err
	}

	sealed := aead.Seal(nil, nonce, plaintext, associatedData(userID, point.Timestamp))
	split := len(sealed) - tagLength

	return Payload{
		Encrypted: hex.EncodeToString(sealed[:split]),
		IV:        hex.EncodeToString(nonce),
		AuthTag:   hex.EncodeToString(sealed[split:]),
		Timestamp: point.Timestamp,
	}, nil
}

// Decrypt opens a payload sealed for userID. Any malformed field, tag
// mismatch, wrong key or bad plaintext returns ErrDecryptionFailed and a
// zero point.
func (c *Codec) Decrypt(userID string, payload Payload) (geo.Point, error) {
	ciphertext, err := hex.DecodeString(payload.Encrypted)
	if err != nil || len(ciphertext) == 0 {
		return geo.Point{}, ErrDecryptionFailed
	}
	nonce, err := hex.DecodeString(payload.IV)
	if err != nil || len(nonce) != nonceLength {
		return geo.Point{}, ErrDecryptionFailed
	}
	tag, err := hex.DecodeString(payload.AuthTag)
	if err != nil || len(tag) != tagLength {
		return geo.Point{}, ErrDecryptionFailed
	}

	aead, err := c.aead(userID)
	if err != nil {
		return geo.Point{}, ErrDecryptionFailed
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := aead.Open(nil, nonce, sealed, associatedData(userID, payload.Timestamp))
	if err != nil {
		return geo.Point{}, ErrDecryptionFailed
	}

	var sp sealedPoint
	if err := json.Unmarshal(plaintext, &sp); err != nil {
		return geo.Point{}, ErrDecryptionFailed
	}
	if sp.Latitude == nil || sp.Longitude == nil || sp.Accuracy == nil || sp.Timestamp == nil {
		return geo.Point{}, ErrDecryptionFailed
	}

	point := geo.Point{
		Latitude:  *sp.Latitude,
		Longitude: *sp.Longitude,
		Accuracy:  *sp.Accuracy,
		Timestamp: *sp.Timestamp,
	}
	if point.Validate() != nil {
		return geo.Point{}, ErrDecryptionFailed
	}
	return point, nil
}

// DecryptJSON parses a serialized envelope and decrypts it.
func (c *Codec) DecryptJSON(userID string, data []byte) (geo.Point, error) {
	payload, err := ParsePayload(data)
	if err != nil {
		return geo.Point{}, ErrDecryptionFailed
	}
	return c.Decrypt(userID, payload)
}

// ParsePayload decodes a serialized envelope, requiring every field.
func ParsePayload(data []byte) (Payload, error) {
	var raw struct {
		Encrypted *string    `json:"encrypted"`
		IV        *string    `json:"iv"`
		AuthTag   *string    `json:"authTag"`
		Timestamp *time.Time `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Payload{}, ErrDecryptionFailed
	}
	if raw.Encrypted == nil || raw.IV == nil || raw.AuthTag == nil || raw.Timestamp == nil {
		return Payload{}, ErrDecryptionFailed
	}
	return Payload{
		Encrypted: *raw.Encrypted,
		IV:        *raw.IV,
		AuthTag:   *raw.AuthTag,
		Timestamp: *raw.Timestamp,
	}, nil
}

// deriveKey runs HKDF-SHA256 over the root secret with a user-scoped info string.
func (c *Codec) deriveKey(userID string) ([]byte, error) {
	key := make([]byte, keyLength)
	r := hkdf.New(sha256.New, c.secret, nil, []byte(keyInfo+userID))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

func (c *Codec) aead(userID string) (cipher.AEAD, error) {
	key, err := c.deriveKey(userID)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// associatedData binds the owner and plaintext timestamp to the tag.
func associatedData(userID string, ts time.Time) []byte {
	ad := make([]byte, 0, len(userID)+24)
	ad = append(ad, userID...)
	ad = append(ad, 0)
	ad = strconv.AppendInt(ad, ts.UnixNano(), 10)
	return ad
}
