// Package syncclient is the client side of a race room. An Adapter is the only thing the local
// simulation talks to: it throttles outgoing state, applies server messages, and keeps one
// interpolation buffer per remote player.
package syncclient

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/chilledoj/ghostrace/interp"
	"github.com/chilledoj/ghostrace/protocol"
)

// DefaultSendInterval keeps outgoing state near 15 Hz.
const DefaultSendInterval = 67 * time.Millisecond

type Transport interface {
	Send(message []byte) error
}

// Handlers are called after the adapter has applied the message, without its lock held.
type Handlers struct {
	OnRoomJoined    func(protocol.RoomJoined)
	OnCountdown     func(startAtMs int64, seed uint32)
	OnRaceStart     func()
	OnPlayerCrashed func(playerID string, score int)
	OnRaceFinished  func(rankings []protocol.RankingEntry)
	OnError         func(message string)
}

type Options struct {
	SendInterval   time.Duration
	// RenderOffsetMs delays ghost rendering; nil uses interp.DefaultRenderOffsetMs.
	RenderOffsetMs *float64
	Clock          clockwork.Clock
	Handlers       Handlers
	Slogger        *slog.Logger
}

// Ghost is a remote player's interpolated state for the current frame.
type Ghost struct {
	protocol.PlayerInfo
	Snapshot protocol.Snapshot
}

type Adapter struct {
	transport Transport
	clock     clockwork.Clock
	epoch     time.Time
	handlers  Handlers

	sendInterval   time.Duration
	renderOffsetMs float64

	mu       sync.Mutex
	lastSent time.Time
	sentAny  bool

	selfID   string
	roomCode string
	phase    protocol.Phase
	seed     uint32
	players  []protocol.PlayerInfo
	rankings []protocol.RankingEntry

	buffers map[string]*interp.Buffer
	// remote timestamp offsets onto the local clock, fixed by each player's first snapshot
	offsets map[string]float64

	Slogger *slog.Logger
}

func NewAdapter(transport Transport, opts Options) *Adapter {
	if opts.SendInterval <= 0 {
		opts.SendInterval = DefaultSendInterval
	}
	renderOffsetMs := float64(interp.DefaultRenderOffsetMs)
	if opts.RenderOffsetMs != nil {
		renderOffsetMs = *opts.RenderOffsetMs
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Slogger == nil {
		opts.Slogger = slog.Default()
	}
	return &Adapter{
		transport:      transport,
		clock:          opts.Clock,
		epoch:          opts.Clock.Now(),
		handlers:       opts.Handlers,
		sendInterval:   opts.SendInterval,
		renderOffsetMs: renderOffsetMs,
		buffers:        make(map[string]*interp.Buffer),
		offsets:        make(map[string]float64),
		Slogger:        opts.Slogger,
	}
}

// NowMs is the adapter's local clock in milliseconds. Ghost timestamps are on this clock.
func (a *Adapter) NowMs() float64 {
	return float64(a.clock.Since(a.epoch)) / float64(time.Millisecond)
}

func (a *Adapter) Join(name, cosmeticID string) error {
	return a.send(protocol.Join{Name: name, CosmeticID: cosmeticID})
}

func (a *Adapter) Ready() error {
	return a.send(protocol.Ready{})
}

// Leave tells the room we are going and forgets everything about it.
func (a *Adapter) Leave() error {
	err := a.send(protocol.Leave{})
	a.Disconnected()
	return err
}

// SendLocalState sends s unless the previous state went out less than the send interval ago.
// Dropped calls are not queued. It reports whether s was sent.
func (a *Adapter) SendLocalState(s protocol.Snapshot) (bool, error) {
	a.mu.Lock()
	now := a.clock.Now()
	if a.sentAny && now.Sub(a.lastSent) < a.sendInterval {
		a.mu.Unlock()
		return false, nil
	}
	a.sentAny = true
	a.lastSent = now
	a.mu.Unlock()

	return true, a.send(protocol.PlayerUpdate{Snapshot: s})
}

func (a *Adapter) SendCrashed(score int) error {
	return a.send(protocol.Crashed{Score: score})
}

func (a *Adapter) send(m protocol.ClientMessage) error {
	b, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	return a.transport.Send(b)
}

// GhostPlayers returns every remote player that has sent at least one snapshot, in roster order.
func (a *Adapter) GhostPlayers() []Ghost {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.NowMs()
	ghosts := make([]Ghost, 0, len(a.buffers))
	for _, p := range a.players {
		if p.ID == a.selfID {
			continue
		}
		buf, ok := a.buffers[p.ID]
		if !ok {
			continue
		}
		s, ok := buf.Get(now)
		if !ok {
			continue
		}
		ghosts = append(ghosts, Ghost{PlayerInfo: p, Snapshot: s})
	}
	return ghosts
}

func (a *Adapter) Players() []protocol.PlayerInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.players)
}

func (a *Adapter) Phase() protocol.Phase {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.phase
}

func (a *Adapter) Seed() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.seed
}

func (a *Adapter) SelfID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.selfID
}

func (a *Adapter) RoomCode() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.roomCode
}

func (a *Adapter) Rankings() []protocol.RankingEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.rankings)
}

// Disconnected drops all room state. There is no resume.
func (a *Adapter) Disconnected() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.selfID = ""
	a.roomCode = ""
	a.phase = ""
	a.seed = 0
	a.players = nil
	a.rankings = nil
	a.sentAny = false
	clear(a.buffers)
	clear(a.offsets)
}

// HandleMessage applies one frame from the room. Frames that do not decode are ignored.
func (a *Adapter) HandleMessage(b []byte) {
	msg, err := protocol.DecodeServer(b)
	if err != nil {
		a.Slogger.Debug("dropping message", "err", err)
		return
	}

	a.mu.Lock()
	notify := a.apply(msg)
	a.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// apply runs with mu held and returns the callback to run once it is released.
func (a *Adapter) apply(msg protocol.ServerMessage) func() {
	h := a.handlers
	switch m := msg.(type) {
	case protocol.RoomJoined:
		a.selfID = m.PlayerID
		a.roomCode = m.RoomCode
		a.phase = m.Phase
		a.seed = m.Seed
		a.players = slices.Clone(m.Players)
		if h.OnRoomJoined != nil {
			return func() { h.OnRoomJoined(m) }
		}
	case protocol.PlayerJoined:
		if a.indexOf(m.Player.ID) < 0 {
			a.players = append(a.players, m.Player)
		}
		a.bufferFor(m.Player.ID)
	case protocol.PlayerLeft:
		if i := a.indexOf(m.PlayerID); i >= 0 {
			a.players = slices.Delete(a.players, i, i+1)
		}
		delete(a.buffers, m.PlayerID)
		delete(a.offsets, m.PlayerID)
	case protocol.PlayerReady:
		if i := a.indexOf(m.PlayerID); i >= 0 {
			a.players[i].Ready = true
		}
	case protocol.CountdownStart:
		a.phase = protocol.PhaseCountdown
		a.seed = m.Seed
		if h.OnCountdown != nil {
			return func() { h.OnCountdown(m.StartAtMs, m.Seed) }
		}
	case protocol.RaceStart:
		a.phase = protocol.PhaseRacing
		for i := range a.players {
			a.players[i].Alive = true
			a.players[i].Score = 0
		}
		if h.OnRaceStart != nil {
			return h.OnRaceStart
		}
	case protocol.GhostUpdate:
		a.pushGhost(m)
	case protocol.PlayerCrashed:
		if i := a.indexOf(m.PlayerID); i >= 0 {
			a.players[i].Alive = false
			a.players[i].Score = m.Score
		}
		if h.OnPlayerCrashed != nil {
			return func() { h.OnPlayerCrashed(m.PlayerID, m.Score) }
		}
	case protocol.RaceFinished:
		a.phase = protocol.PhaseFinished
		a.rankings = slices.Clone(m.Rankings)
		if h.OnRaceFinished != nil {
			rankings := slices.Clone(m.Rankings)
			return func() { h.OnRaceFinished(rankings) }
		}
	case protocol.Error:
		a.Slogger.Warn("room error", "message", m.Message)
		if h.OnError != nil {
			return func() { h.OnError(m.Message) }
		}
	}
	return nil
}

func (a *Adapter) pushGhost(m protocol.GhostUpdate) {
	if m.PlayerID == "" || m.PlayerID == a.selfID {
		return
	}
	now := a.NowMs()
	offset, ok := a.offsets[m.PlayerID]
	if !ok {
		offset = now - m.Snapshot.Timestamp
		a.offsets[m.PlayerID] = offset
	}
	s := m.Snapshot
	s.Timestamp += offset
	a.bufferFor(m.PlayerID).Push(s)

	if i := a.indexOf(m.PlayerID); i >= 0 {
		a.players[i].Score = s.Score
	}
}

func (a *Adapter) bufferFor(id string) *interp.Buffer {
	buf, ok := a.buffers[id]
	if !ok {
		buf = interp.NewBufferWithOffset(a.renderOffsetMs)
		a.buffers[id] = buf
	}
	return buf
}

func (a *Adapter) indexOf(id string) int {
	return slices.IndexFunc(a.players, func(p protocol.PlayerInfo) bool { return p.ID == id })
}
