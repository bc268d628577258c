package envelope

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/onnwee/geoprivacy/internal/geo"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	c, err := NewCodec(testSecret)
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}
	return c
}

func TestNewCodec_RejectsShortSecret(t *testing.T) {
	if _, err := NewCodec([]byte("short")); !errors.Is(err, ErrWeakSecret) {
		t.Errorf("NewCodec(short) error = %v, want ErrWeakSecret", err)
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	c := newTestCodec(t)

	points := []geo.Point{
		{Latitude: 40.7128, Longitude: -74.0060, Accuracy: 5.5, Timestamp: time.Date(2024, 3, 1, 12, 30, 0, 123456789, time.UTC)},
		{Latitude: -90, Longitude: 180, Accuracy: 0, Timestamp: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)},
		{Latitude: 0, Longitude: 0, Accuracy: 1200.25},
	}
	users := []string{"user-1", "8f14e45f-ceea-467f-a0e6-6b1f1e5f0f7a", ""}

	for _, userID := range users {
		for _, p := range points {
			payload, err := c.Encrypt(userID, p)
			if err != nil {
				t.Fatalf("Encrypt(%q) error = %v", userID, err)
			}
			got, err := c.Decrypt(userID, payload)
			if err != nil {
				t.Fatalf("Decrypt(%q) error = %v", userID, err)
			}
			if got.Latitude != p.Latitude || got.Longitude != p.Longitude || got.Accuracy != p.Accuracy {
				t.Errorf("round trip = %+v, want %+v", got, p)
			}
			if !got.Timestamp.Equal(p.Timestamp) {
				t.Errorf("round trip timestamp = %v, want %v", got.Timestamp, p.Timestamp)
			}
		}
	}
}

func TestCodec_RoundTripThroughJSON(t *testing.T) {
	c := newTestCodec(t)
	p := geo.Point{Latitude: 51.5074, Longitude: -0.1278, Accuracy: 12, Timestamp: time.Now().UTC()}

	payload, err := c.Encrypt("user-1", p)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	for _, field := range []string{`"encrypted"`, `"iv"`, `"authTag"`, `"timestamp"`} {
		if !bytes.Contains(data, []byte(field)) {
			t.Errorf("serialized envelope missing %s: %s", field, data)
		}
	}

	got, err := c.DecryptJSON("user-1", data)
	if err != nil {
		t.Fatalf("DecryptJSON() error = %v", err)
	}
	if got.Latitude != p.Latitude || got.Longitude != p.Longitude || !got.Timestamp.Equal(p.Timestamp) {
		t.Errorf("DecryptJSON() = %+v, want %+v", got, p)
	}
}

func TestCodec_FreshNoncePerCall(t *testing.T) {
	c := newTestCodec(t)
	p := geo.Point{Latitude: 1, Longitude: 2}

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		payload, err := c.Encrypt("user-1", p)
		if err != nil {
			t.Fatalf("Encrypt() error = %v", err)
		}
		if seen[payload.IV] {
			t.Fatalf("nonce reused: %s", payload.IV)
		}
		seen[payload.IV] = true
	}
}

func TestCodec_KeyDerivation(t *testing.T) {
	c := newTestCodec(t)

	a1, err := c.deriveKey("alice")
	if err != nil {
		t.Fatalf("deriveKey() error = %v", err)
	}
	a2, _ := c.deriveKey("alice")
	b, _ := c.deriveKey("bob")

	if !bytes.Equal(a1, a2) {
		t.Error("same user derived different keys")
	}
	if bytes.Equal(a1, b) {
		t.Error("different users derived the same key")
	}
	if len(a1) != keyLength {
		t.Errorf("key length = %d, want %d", len(a1), keyLength)
	}

	other, _ := NewCodec([]byte("ffffffffffffffffffffffffffffffff"))
	o, _ := other.deriveKey("alice")
	if bytes.Equal(a1, o) {
		t.Error("different root secrets derived the same key")
	}
}

func TestCodec_DecryptFailures(t *testing.T) {
	c := newTestCodec(t)
	p := geo.Point{Latitude: 40.7128, Longitude: -74.0060, Accuracy: 3, Timestamp: time.Date(2024, 5, 5, 5, 5, 5, 0, time.UTC)}

	good, err := c.Encrypt("user-1", p)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	flipHex := func(s string) string {
		b, _ := hex.DecodeString(s)
		b[0] ^= 0x01
		return hex.EncodeToString(b)
	}

	tests := []struct {
		name    string
		userID  string
		payload func() Payload
	}{
		{
			name:   "wrong user",
			userID: "user-2",
			payload: func() Payload {
				return good
			},
		},
		{
			name:   "tampered ciphertext",
			userID: "user-1",
			payload: func() Payload {
				bad := good
				bad.Encrypted = flipHex(bad.Encrypted)
				return bad
			},
		},
		{
			name:   "tampered tag",
			userID: "user-1",
			payload: func() Payload {
				bad := good
				bad.AuthTag = flipHex(bad.AuthTag)
				return bad
			},
		},
		{
			name:   "tampered iv",
			userID: "user-1",
			payload: func() Payload {
				bad := good
				bad.IV = flipHex(bad.IV)
				return bad
			},
		},
		{
			name:   "tampered timestamp",
			userID: "user-1",
			payload: func() Payload {
				bad := good
				bad.Timestamp = bad.Timestamp.Add(time.Second)
				return bad
			},
		},
		{
			name:   "non-hex ciphertext",
			userID: "user-1",
			payload: func() Payload {
				bad := good
				bad.Encrypted = "zz" + bad.Encrypted[2:]
				return bad
			},
		},
		{
			name:   "empty ciphertext",
			userID: "user-1",
			payload: func() Payload {
				bad := good
				bad.Encrypted = ""
				return bad
			},
		},
		{
			name:   "short iv",
			userID: "user-1",
			payload: func() Payload {
				bad := good
				bad.IV = bad.IV[:10]
				return bad
			},
		},
		{
			name:   "missing tag",
			userID: "user-1",
			payload: func() Payload {
				bad := good
				bad.AuthTag = ""
				return bad
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Decrypt(tt.userID, tt.payload())
			if !errors.Is(err, ErrDecryptionFailed) {
				t.Errorf("Decrypt() error = %v, want ErrDecryptionFailed", err)
			}
			if got != (geo.Point{}) {
				t.Errorf("Decrypt() returned partial point %+v", got)
			}
		})
	}
}

func TestCodec_DecryptJSONFailures(t *testing.T) {
	c := newTestCodec(t)

	tests := []struct {
		name string
		data string
	}{
		{name: "not json", data: `not-json`},
		{name: "empty object", data: `{}`},
		{name: "missing iv", data: `{"encrypted":"00","authTag":"00","timestamp":"2024-01-01T00:00:00Z"}`},
		{name: "missing timestamp", data: `{"encrypted":"00","iv":"00","authTag":"00"}`},
		{name: "wrong types", data: `{"encrypted":1,"iv":2,"authTag":3,"timestamp":"2024-01-01T00:00:00Z"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.DecryptJSON("user-1", []byte(tt.data)); !errors.Is(err, ErrDecryptionFailed) {
				t.Errorf("DecryptJSON(%s) error = %v, want ErrDecryptionFailed", tt.data, err)
			}
		})
	}
}

func TestCodec_EncryptRejectsInvalidPoint(t *testing.T) {
	c := newTestCodec(t)
	if _, err := c.Encrypt("user-1", geo.Point{Latitude: 91}); !errors.Is(err, geo.ErrInvalidCoordinates) {
		t.Errorf("Encrypt(invalid) error = %v, want ErrInvalidCoordinates", err)
	}
}
