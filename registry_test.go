package ghostrace

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/gobwas/ws/wsutil"

	"github.com/chilledoj/ghostrace/protocol"
)

func setupTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry(context.Background(), Options{Slogger: quietLogger()})
	t.Cleanup(reg.Close)
	return reg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRegistry_Connect(t *testing.T) {
	t.Run("should create one room per code", func(t *testing.T) {
		reg := setupTestRegistry(t)
		server1, client1 := net.Pipe()
		server2, client2 := net.Pipe()
		defer client1.Close()
		defer client2.Close()

		if _, err := reg.Connect("abcd", server1); err != nil {
			t.Fatal(err)
		}
		if _, err := reg.Connect("ABCD", server2); err != nil {
			t.Fatal(err)
		}

		if reg.Len() != 1 {
			t.Fatalf("expected 1 room, got %d", reg.Len())
		}
		rooms := reg.Rooms()
		if rooms[0].Code != "ABCD" || rooms[0].Phase != "lobby" {
			t.Errorf("unexpected summary %+v", rooms[0])
		}
	})
	t.Run("should reject invalid codes", func(t *testing.T) {
		reg := setupTestRegistry(t)
		server, client := net.Pipe()
		defer client.Close()
		defer server.Close()

		for _, code := range []string{"", "ABC", "ABCDE", "AB0D", "ab-d"} {
			if _, err := reg.Connect(code, server); !errors.Is(err, ErrInvalidRoomCode) {
				t.Errorf("%q: expected ErrInvalidRoomCode, got %v", code, err)
			}
		}
	})
	t.Run("should refuse connections once closed", func(t *testing.T) {
		reg := NewRegistry(context.Background(), Options{Slogger: quietLogger()})
		reg.Close()
		server, client := net.Pipe()
		defer client.Close()
		defer server.Close()

		if _, err := reg.Connect("ABCD", server); !errors.Is(err, ErrRoomClosed) {
			t.Errorf("expected ErrRoomClosed, got %v", err)
		}
	})
	t.Run("should release the room when the last connection drops", func(t *testing.T) {
		reg := setupTestRegistry(t)
		server, client := net.Pipe()

		if _, err := reg.Connect("WXYZ", server); err != nil {
			t.Fatal(err)
		}
		room, ok := reg.Room("WXYZ")
		if !ok {
			t.Fatal("expected room to exist")
		}
		if err := wsutil.WriteClientText(client, mustEncode(protocol.Join{Name: "solo"})); err != nil {
			t.Fatal(err)
		}
		waitFor(t, "join", func() bool { return room.NumPlayers() == 1 })

		_ = client.Close()

		select {
		case <-room.Done():
		case <-time.After(2 * time.Second):
			t.Fatal("room was not destroyed")
		}
		if _, ok := reg.Room("WXYZ"); ok {
			t.Error("expected room to be released from the registry")
		}
	})
}

func TestRegistry_AllocateCode(t *testing.T) {
	t.Run("should allocate a valid unused code", func(t *testing.T) {
		reg := setupTestRegistry(t)

		code, err := reg.AllocateCode()
		if err != nil {
			t.Fatal(err)
		}
		if _, err := NormalizeRoomCode(code); err != nil {
			t.Errorf("expected a valid code, got %q", code)
		}
		if _, ok := reg.Room(code); ok {
			t.Error("allocating a code should not create a room")
		}
	})
}

func TestRegistry_Close(t *testing.T) {
	t.Run("should stop every room", func(t *testing.T) {
		reg := NewRegistry(context.Background(), Options{Slogger: quietLogger()})
		server, client := net.Pipe()
		defer client.Close()
		if _, err := reg.Connect("ABCD", server); err != nil {
			t.Fatal(err)
		}
		room, _ := reg.Room("ABCD")

		reg.Close()

		select {
		case <-room.Done():
		default:
			t.Fatal("expected room to be stopped")
		}
		if reg.Len() != 0 {
			t.Errorf("expected no rooms, got %d", reg.Len())
		}
	})
}
