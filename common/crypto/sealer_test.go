package crypto

import (
	"bytes"
	"strings"
	"testing"
)

type testRecord struct {
	Utterance string  `json:"utterance"`
	Intent    string  `json:"intent"`
	Score     float64 `json:"score"`
	Intensity int     `json:"intensity"`
	UserID    string  `json:"user_id"`
}

func testKey(b byte) []byte {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = b
	}
	return key
}

func TestNewSealer_RejectsBadKeySize(t *testing.T) {
	for _, size := range []int{0, 16, 31, 33, 64} {
		if _, err := NewSealer(make([]byte, size)); err == nil {
			t.Errorf("NewSealer accepted a %d-byte key", size)
		}
	}
}

func TestSealer_RoundTrip(t *testing.T) {
	s, err := NewSealer(testKey(0x42))
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}

	in := testRecord{
		Utterance: "I feel great",
		Intent:    "mood.positive",
		Score:     0.93,
		Intensity: 1,
		UserID:    "u1",
	}

	blob, err := s.Seal(in)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if bytes.Contains(blob, []byte("I feel great")) {
		t.Error("sealed blob leaks plaintext")
	}

	var out testRecord
	if err := s.Unseal(blob, &out); err != nil {
		t.Fatalf("Unseal: %v", err)
	}
	if out != in {
		t.Errorf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestSealer_FreshNoncePerSeal(t *testing.T) {
	s, err := NewSealer(testKey(0x01))
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}

	a, err := s.Seal(testRecord{Utterance: "same"})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	b, err := s.Seal(testRecord{Utterance: "same"})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if bytes.Equal(a, b) {
		t.Error("sealing the same record twice produced identical blobs")
	}
}

func TestSealer_WrongKeyFails(t *testing.T) {
	s1, _ := NewSealer(testKey(0x11))
	s2, _ := NewSealer(testKey(0x22))

	blob, err := s1.Seal(testRecord{UserID: "u1"})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	var out testRecord
	if err := s2.Unseal(blob, &out); err == nil {
		t.Error("Unseal with a different key should fail")
	}
}

func TestSealer_TruncatedBlob(t *testing.T) {
	s, _ := NewSealer(testKey(0x33))

	var out testRecord
	if err := s.Unseal([]byte{0x01, 0x02}, &out); err != ErrBlobTooShort {
		t.Errorf("expected ErrBlobTooShort, got %v", err)
	}
}

func TestParseMasterKey(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"valid", strings.Repeat("ab", 32), false},
		{"valid with whitespace", "  " + strings.Repeat("cd", 32) + "\n", false},
		{"empty", "", true},
		{"not hex", strings.Repeat("zz", 32), true},
		{"too short", strings.Repeat("ab", 16), true},
		{"too long", strings.Repeat("ab", 48), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := ParseMasterKey(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(key) != KeySize {
				t.Errorf("key length = %d, want %d", len(key), KeySize)
			}
		})
	}
}
