package ghostrace

import (
	"errors"
	"strings"
	"testing"
)

func TestNewRoomCode(t *testing.T) {
	t.Run("should only use the unambiguous alphabet", func(t *testing.T) {
		for range 200 {
			code, err := NewRoomCode()
			if err != nil {
				t.Fatal(err)
			}
			if len(code) != RoomCodeLength {
				t.Fatalf("expected %d characters, got %q", RoomCodeLength, code)
			}
			if strings.ContainsAny(code, "IO01") {
				t.Fatalf("code %q contains an ambiguous character", code)
			}
		}
	})
	t.Run("should have a 32 symbol alphabet", func(t *testing.T) {
		if len(RoomCodeAlphabet) != 32 {
			t.Errorf("expected 32 symbols, got %d", len(RoomCodeAlphabet))
		}
	})
}

func TestNormalizeRoomCode(t *testing.T) {
	tests := []struct {
		in   string
		want string
		err  error
	}{
		{in: "abcd", want: "ABCD"},
		{in: " K7PZ ", want: "K7PZ"},
		{in: "ABC", err: ErrInvalidRoomCode},
		{in: "ABCO", err: ErrInvalidRoomCode},
		{in: "AB1D", err: ErrInvalidRoomCode},
		{in: "", err: ErrInvalidRoomCode},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeRoomCode(tt.in)
			if !errors.Is(err, tt.err) {
				t.Fatalf("expected error %v, got %v", tt.err, err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
