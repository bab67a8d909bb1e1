package syncclient

import (
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/chilledoj/ghostrace/protocol"
)

type mockTransport struct {
	mu   sync.Mutex
	sent []protocol.ClientMessage
}

func (m *mockTransport) Send(message []byte) error {
	msg, err := protocol.DecodeClient(message)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()
	return nil
}

func (m *mockTransport) types() []protocol.MessageType {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []protocol.MessageType
	for _, msg := range m.sent {
		out = append(out, msg.MessageType())
	}
	return out
}

func setupTestAdapter(t *testing.T, handlers Handlers) (*Adapter, *mockTransport, *clockwork.FakeClock) {
	t.Helper()
	fc := clockwork.NewFakeClock()
	tr := &mockTransport{}
	a := NewAdapter(tr, Options{
		Clock:    fc,
		Handlers: handlers,
		Slogger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return a, tr, fc
}

func mustEncode(m protocol.Message) []byte {
	b, err := protocol.Encode(m)
	if err != nil {
		panic(err)
	}
	return b
}

func deliver(a *Adapter, m protocol.ServerMessage) {
	a.HandleMessage(mustEncode(m))
}

func joinedAs(a *Adapter, self string, others ...string) {
	players := []protocol.PlayerInfo{{ID: self, Name: self, Alive: true}}
	for _, id := range others {
		players = append(players, protocol.PlayerInfo{ID: id, Name: id, Alive: true})
	}
	deliver(a, protocol.RoomJoined{RoomCode: "ABCD", PlayerID: self, Players: players, Phase: protocol.PhaseLobby})
}

func TestAdapter_SendLocalState(t *testing.T) {
	t.Run("should throttle to the send interval and drop the rest", func(t *testing.T) {
		a, tr, fc := setupTestAdapter(t, Handlers{})

		sent := 0
		for i := 0; i < 10; i++ {
			ok, err := a.SendLocalState(protocol.Snapshot{Timestamp: float64(i * 16)})
			if err != nil {
				t.Fatal(err)
			}
			if ok {
				sent++
			}
			fc.Advance(16 * time.Millisecond)
		}

		// ticks run 0..144ms, so only the calls at 0 and 80 go out
		if sent != 2 {
			t.Errorf("expected 2 sends, got %d", sent)
		}
		if n := len(tr.types()); n != sent {
			t.Errorf("expected %d frames on the transport, got %d", sent, n)
		}
	})
	t.Run("should always send the first state", func(t *testing.T) {
		a, tr, _ := setupTestAdapter(t, Handlers{})

		ok, err := a.SendLocalState(protocol.Snapshot{})
		if err != nil || !ok {
			t.Fatalf("expected first state to be sent, got %v %v", ok, err)
		}
		if got := tr.types(); !slices.Equal(got, []protocol.MessageType{protocol.TypePlayerUpdate}) {
			t.Errorf("unexpected frames %v", got)
		}
	})
	t.Run("should never throttle crashes", func(t *testing.T) {
		a, tr, _ := setupTestAdapter(t, Handlers{})

		_, _ = a.SendLocalState(protocol.Snapshot{})
		_ = a.SendCrashed(10)
		_ = a.SendCrashed(10)

		want := []protocol.MessageType{protocol.TypePlayerUpdate, protocol.TypePlayerCrashed, protocol.TypePlayerCrashed}
		if got := tr.types(); !slices.Equal(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}
	})
}

func TestAdapter_GhostPlayers(t *testing.T) {
	t.Run("should omit remote players without snapshots", func(t *testing.T) {
		a, _, _ := setupTestAdapter(t, Handlers{})
		joinedAs(a, "me", "b")
		deliver(a, protocol.PlayerJoined{Player: protocol.PlayerInfo{ID: "c", Name: "c"}})

		if ghosts := a.GhostPlayers(); len(ghosts) != 0 {
			t.Errorf("expected no ghosts, got %+v", ghosts)
		}
	})
	t.Run("should interpolate on the local clock", func(t *testing.T) {
		a, _, fc := setupTestAdapter(t, Handlers{})
		joinedAs(a, "me", "b")

		// remote clock starts far from ours
		deliver(a, protocol.GhostUpdate{PlayerID: "b", Snapshot: protocol.Snapshot{Timestamp: 50000, Y: 0, Alive: true}})
		fc.Advance(100 * time.Millisecond)
		deliver(a, protocol.GhostUpdate{PlayerID: "b", Snapshot: protocol.Snapshot{Timestamp: 50100, Y: 10, Alive: true}})

		// render time is now - 100ms, which is exactly the first sample
		ghosts := a.GhostPlayers()
		if len(ghosts) != 1 || ghosts[0].ID != "b" {
			t.Fatalf("expected one ghost for b, got %+v", ghosts)
		}
		if ghosts[0].Snapshot.Y != 0 {
			t.Errorf("expected y 0, got %v", ghosts[0].Snapshot.Y)
		}

		fc.Advance(50 * time.Millisecond)
		if y := a.GhostPlayers()[0].Snapshot.Y; y != 5 {
			t.Errorf("expected y 5 halfway, got %v", y)
		}

		fc.Advance(time.Second)
		if y := a.GhostPlayers()[0].Snapshot.Y; y != 10 {
			t.Errorf("expected y to hold at 10, got %v", y)
		}
	})
	t.Run("should render the newest sample with a zero offset", func(t *testing.T) {
		fc := clockwork.NewFakeClock()
		zero := 0.0
		a := NewAdapter(&mockTransport{}, Options{
			RenderOffsetMs: &zero,
			Clock:          fc,
			Slogger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		})
		joinedAs(a, "me", "b")

		deliver(a, protocol.GhostUpdate{PlayerID: "b", Snapshot: protocol.Snapshot{Timestamp: 0, Y: 0, Alive: true}})
		fc.Advance(100 * time.Millisecond)
		deliver(a, protocol.GhostUpdate{PlayerID: "b", Snapshot: protocol.Snapshot{Timestamp: 100, Y: 10, Alive: true}})

		ghosts := a.GhostPlayers()
		if len(ghosts) != 1 || ghosts[0].Snapshot.Y != 10 {
			t.Errorf("expected y 10 at the newest sample, got %+v", ghosts)
		}
	})
	t.Run("should ignore ghost updates about ourselves", func(t *testing.T) {
		a, _, _ := setupTestAdapter(t, Handlers{})
		joinedAs(a, "me", "b")

		deliver(a, protocol.GhostUpdate{PlayerID: "me", Snapshot: protocol.Snapshot{Timestamp: 1}})

		if ghosts := a.GhostPlayers(); len(ghosts) != 0 {
			t.Errorf("expected no ghosts, got %+v", ghosts)
		}
	})
	t.Run("should discard the buffer when a player leaves", func(t *testing.T) {
		a, _, _ := setupTestAdapter(t, Handlers{})
		joinedAs(a, "me", "b")
		deliver(a, protocol.GhostUpdate{PlayerID: "b", Snapshot: protocol.Snapshot{Timestamp: 1}})

		deliver(a, protocol.PlayerLeft{PlayerID: "b"})

		if ghosts := a.GhostPlayers(); len(ghosts) != 0 {
			t.Errorf("expected no ghosts, got %+v", ghosts)
		}
		if _, ok := a.buffers["b"]; ok {
			t.Error("expected buffer for b to be destroyed")
		}
		if n := len(a.Players()); n != 1 {
			t.Errorf("expected 1 player in the roster, got %d", n)
		}
	})
}

func TestAdapter_HandleMessage(t *testing.T) {
	t.Run("should follow the race lifecycle", func(t *testing.T) {
		var (
			countdownSeed uint32
			started       bool
			crashed       []string
			rankings      []protocol.RankingEntry
		)
		a, _, _ := setupTestAdapter(t, Handlers{
			OnCountdown:     func(_ int64, seed uint32) { countdownSeed = seed },
			OnRaceStart:     func() { started = true },
			OnPlayerCrashed: func(id string, _ int) { crashed = append(crashed, id) },
			OnRaceFinished:  func(r []protocol.RankingEntry) { rankings = r },
		})
		joinedAs(a, "me", "b")
		if a.SelfID() != "me" || a.RoomCode() != "ABCD" || a.Phase() != protocol.PhaseLobby {
			t.Fatalf("unexpected state after join: %s %s %s", a.SelfID(), a.RoomCode(), a.Phase())
		}

		deliver(a, protocol.PlayerReady{PlayerID: "b"})
		if !a.Players()[1].Ready {
			t.Error("expected b to be ready")
		}

		deliver(a, protocol.CountdownStart{StartAtMs: 1000, Seed: 7})
		if countdownSeed != 7 || a.Seed() != 7 || a.Phase() != protocol.PhaseCountdown {
			t.Errorf("expected countdown with seed 7, got %d %s", a.Seed(), a.Phase())
		}

		deliver(a, protocol.RaceStart{})
		if !started || a.Phase() != protocol.PhaseRacing {
			t.Error("expected race to start")
		}

		deliver(a, protocol.PlayerCrashed{PlayerID: "b", Score: 30})
		if !slices.Equal(crashed, []string{"b"}) {
			t.Errorf("expected b to crash, got %v", crashed)
		}
		if p := a.Players()[1]; p.Alive || p.Score != 30 {
			t.Errorf("expected b dead with 30, got %+v", p)
		}

		want := []protocol.RankingEntry{{PlayerID: "b", Name: "b", Score: 30, Rank: 1}, {PlayerID: "me", Name: "me", Score: 10, Rank: 2}}
		deliver(a, protocol.RaceFinished{Rankings: want})
		if !slices.Equal(rankings, want) || !slices.Equal(a.Rankings(), want) {
			t.Errorf("expected rankings %+v, got %+v", want, rankings)
		}
		if a.Phase() != protocol.PhaseFinished {
			t.Errorf("expected finished, got %s", a.Phase())
		}
	})
	t.Run("should surface room errors", func(t *testing.T) {
		var got string
		a, _, _ := setupTestAdapter(t, Handlers{OnError: func(m string) { got = m }})

		deliver(a, protocol.Error{Message: "room is full"})

		if got != "room is full" {
			t.Errorf("expected error to be surfaced, got %q", got)
		}
	})
	t.Run("should ignore malformed frames", func(t *testing.T) {
		a, _, _ := setupTestAdapter(t, Handlers{})
		joinedAs(a, "me")

		a.HandleMessage([]byte(`{"type":"from_the_future","data":{}}`))
		a.HandleMessage([]byte(`garbage`))

		if a.Phase() != protocol.PhaseLobby {
			t.Errorf("expected state to be untouched, got %s", a.Phase())
		}
	})
}

func TestAdapter_Leave(t *testing.T) {
	t.Run("should send leave and discard all state", func(t *testing.T) {
		a, tr, _ := setupTestAdapter(t, Handlers{})
		joinedAs(a, "me", "b")
		deliver(a, protocol.CountdownStart{StartAtMs: 1000, Seed: 7})
		deliver(a, protocol.GhostUpdate{PlayerID: "b", Snapshot: protocol.Snapshot{Timestamp: 1}})

		if err := a.Leave(); err != nil {
			t.Fatal(err)
		}

		if got := tr.types(); !slices.Equal(got, []protocol.MessageType{protocol.TypeLeave}) {
			t.Errorf("expected a leave frame, got %v", got)
		}
		if len(a.Players()) != 0 || len(a.GhostPlayers()) != 0 || a.SelfID() != "" {
			t.Error("expected room state to be discarded")
		}
		if a.Seed() != 0 {
			t.Errorf("expected seed to be reset, got %d", a.Seed())
		}
	})
}
