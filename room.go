package ghostrace

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/chilledoj/ghostrace/protocol"
)

var (
	ErrRoomFull       = errors.New("room is full")
	ErrRaceInProgress = errors.New("race already in progress")
)

type SocketSessioner interface {
	ReferenceID() string
	Send(message []byte)
	Close()
}

// Room is the authority for one room code. All state below mu is written only by the Start
// goroutine; mu lets other goroutines read the phase and roster size.
type Room struct {
	Code string
	opts Options

	mu      sync.RWMutex
	phase   RoomPhase
	seed    uint32
	players map[string]*player
	order   []string

	conns       map[string]SocketSessioner
	crashCount  int
	rankings    []protocol.RankingEntry
	lastInbound time.Time

	// MessageProcessing
	messages chan SocketMessage
	timers   chan timerKind

	countdownTimer clockwork.Timer
	idleTimer      clockwork.Timer
	cleanupTimer   clockwork.Timer

	// release asks the owner to forget this room. force skips the pending-message check.
	release   func(room *Room, force bool) bool
	destroyed bool

	// Concurrency
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// Logging
	Slogger *slog.Logger
}

type Options struct {
	MaxPlayers        int
	CountdownDuration time.Duration
	IdleTimeout       time.Duration
	FinishedTTL       time.Duration

	Clock      clockwork.Clock
	SeedSource func() uint32

	// OnFinished runs on its own goroutine once per race.
	OnFinished func(code string, rankings []protocol.RankingEntry)

	Slogger *slog.Logger
}

const (
	DefaultMaxPlayers        = 4
	DefaultCountdownDuration = 3 * time.Second
	DefaultIdleTimeout       = 5 * time.Minute
	DefaultFinishedTTL       = 5 * time.Minute

	inboxSize = 255
)

type timerKind int

const (
	countdownElapsed timerKind = iota
	idleCheck
	finishedCleanup
)

func (o Options) withDefaults() Options {
	if o.MaxPlayers <= 0 {
		o.MaxPlayers = DefaultMaxPlayers
	}
	if o.CountdownDuration <= 0 {
		o.CountdownDuration = DefaultCountdownDuration
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = DefaultIdleTimeout
	}
	if o.FinishedTTL <= 0 {
		o.FinishedTTL = DefaultFinishedTTL
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.SeedSource == nil {
		o.SeedSource = randomSeed
	}
	if o.Slogger == nil {
		o.Slogger = slog.Default()
	}
	return o
}

// randomSeed returns a 31-bit seed.
func randomSeed() uint32 {
	return rand.Uint32() >> 1
}

func NewRoom(parentCtx context.Context, code string, options Options) *Room {
	ctx, cancel := context.WithCancel(parentCtx)
	opts := options.withDefaults()
	room := &Room{
		Code:        code,
		opts:        opts,
		phase:       Lobby,
		players:     make(map[string]*player),
		conns:       make(map[string]SocketSessioner),
		messages:    make(chan SocketMessage, inboxSize),
		timers:      make(chan timerKind, 4),
		lastInbound: opts.Clock.Now(),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		Slogger:     opts.Slogger.With("room", code),
	}
	room.release = func(r *Room, force bool) bool {
		return force || len(r.messages) == 0
	}
	return room
}

func (room *Room) Phase() RoomPhase {
	room.mu.RLock()
	defer room.mu.RUnlock()
	return room.phase
}

func (room *Room) NumPlayers() int {
	room.mu.RLock()
	defer room.mu.RUnlock()
	return len(room.players)
}

func (room *Room) Players() []protocol.PlayerInfo {
	room.mu.RLock()
	defer room.mu.RUnlock()
	return room.rosterLocked()
}

// Done is closed once the room's loop has exited.
func (room *Room) Done() <-chan struct{} {
	return room.done
}

// offer queues m without blocking.
func (room *Room) offer(m SocketMessage) bool {
	select {
	case room.messages <- m:
		return true
	default:
		return false
	}
}

func (room *Room) Start() {
	sl := room.Slogger.With("func", "room.Start")
	sl.Debug("starting")
	room.idleTimer = room.after(room.opts.IdleTimeout, idleCheck)
	defer func() {
		room.shutdown()
		close(room.done)
		sl.Info("stopped")
	}()
	for {
		select {
		case <-room.ctx.Done():
			sl.Debug("stopping")
			return
		case msg := <-room.messages:
			room.handleSocketMessage(msg)
		case kind := <-room.timers:
			room.handleTimer(kind)
		}
		if room.destroyed {
			return
		}
		if len(room.conns) == 0 {
			room.tryDestroy()
			if room.destroyed {
				return
			}
		}
	}
}

// Stop cancels the room from outside its loop. The loop closes every connection on exit.
func (room *Room) Stop() {
	room.cancel()
}

func (room *Room) handleSocketMessage(msg SocketMessage) {
	switch msg.Type {
	case Connect:
		if msg.Session == nil {
			return
		}
		room.conns[msg.ReferenceID] = msg.Session
		room.Slogger.Debug("connected", "connection", msg.ReferenceID, "connections", len(room.conns))
	case Disconnect:
		if _, ok := room.conns[msg.ReferenceID]; !ok {
			return
		}
		delete(room.conns, msg.ReferenceID)
		room.Slogger.Debug("disconnected", "connection", msg.ReferenceID, "connections", len(room.conns))
		room.removePlayer(msg.ReferenceID)
	case Message:
		if _, ok := room.conns[msg.ReferenceID]; !ok {
			return
		}
		room.handleClientMessage(msg.ReferenceID, msg.Message)
	}
}

func (room *Room) handleClientMessage(id string, raw []byte) {
	msg, err := protocol.DecodeClient(raw)
	if err != nil {
		room.Slogger.Debug("dropping message", "connection", id, "err", err)
		return
	}
	// only players count as activity; join refreshes on success
	if _, ok := room.players[id]; ok {
		room.lastInbound = room.opts.Clock.Now()
	}
	switch m := msg.(type) {
	case protocol.Join:
		room.join(id, m)
	case protocol.Ready:
		room.ready(id)
	case protocol.PlayerUpdate:
		room.relay(id, m)
	case protocol.Crashed:
		room.crashed(id, m.Score)
	case protocol.Leave:
		room.leave(id)
	default:
		room.Slogger.Debug("ignoring message", "connection", id, "type", msg.MessageType())
	}
}

func (room *Room) join(id string, m protocol.Join) {
	if _, ok := room.players[id]; ok {
		return
	}
	if room.phase != Lobby {
		room.sendError(id, ErrRaceInProgress)
		return
	}
	if len(room.players) >= room.opts.MaxPlayers {
		room.sendError(id, ErrRoomFull)
		return
	}

	p := newPlayer(id, sanitizeName(m.Name, len(room.players)+1), m.CosmeticID)
	room.lastInbound = room.opts.Clock.Now()
	room.mu.Lock()
	room.players[id] = p
	room.order = append(room.order, id)
	roster := room.rosterLocked()
	room.mu.Unlock()

	room.Slogger.Info("player joined", "player", id, "name", p.Name, "players", len(roster))
	room.sendTo(id, protocol.RoomJoined{
		RoomCode: room.Code,
		PlayerID: id,
		Players:  roster,
		Phase:    room.phase.Wire(),
		Seed:     room.seed,
	})
	room.broadcast(protocol.PlayerJoined{Player: p.PlayerInfo}, id)
}

func (room *Room) ready(id string) {
	p, ok := room.players[id]
	if !ok || room.phase != Lobby {
		return
	}
	if !p.Ready {
		room.mu.Lock()
		p.Ready = true
		room.mu.Unlock()
		room.broadcast(protocol.PlayerReady{PlayerID: id}, id)
	}
	room.maybeStartCountdown()
}

func (room *Room) relay(id string, m protocol.PlayerUpdate) {
	p, ok := room.players[id]
	if !ok {
		return
	}
	p.lastScore = m.Snapshot.Score
	room.broadcast(protocol.GhostUpdate{PlayerID: id, Snapshot: m.Snapshot, Raw: m.Raw}, id)
}

func (room *Room) crashed(id string, score int) {
	p, ok := room.players[id]
	if !ok || room.phase != Racing || !p.Alive {
		return
	}
	room.crashCount++
	room.mu.Lock()
	p.Alive = false
	p.Score = score
	p.crashOrder = room.crashCount
	room.mu.Unlock()

	room.Slogger.Info("player crashed", "player", id, "score", score)
	room.broadcast(protocol.PlayerCrashed{PlayerID: id, Score: score}, id)
	room.checkFinished()
}

// leave is an explicit goodbye: the player is removed and the connection closed.
func (room *Room) leave(id string) {
	room.removePlayer(id)
	if s, ok := room.conns[id]; ok {
		delete(room.conns, id)
		s.Close()
	}
}

func (room *Room) removePlayer(id string) {
	p, ok := room.players[id]
	if !ok {
		return
	}
	if room.phase == Racing && p.Alive {
		room.crashed(id, p.lastScore)
	}

	room.mu.Lock()
	delete(room.players, id)
	room.order = slices.DeleteFunc(room.order, func(o string) bool { return o == id })
	room.mu.Unlock()

	room.Slogger.Info("player left", "player", id, "players", len(room.players))
	room.broadcast(protocol.PlayerLeft{PlayerID: id}, id)

	if len(room.players) == 0 {
		room.abandon()
		return
	}
	switch room.phase {
	case Lobby:
		room.maybeStartCountdown()
	case Racing:
		room.checkFinished()
	}
}

func (room *Room) maybeStartCountdown() {
	if room.phase != Lobby || len(room.players) < 2 {
		return
	}
	for _, p := range room.players {
		if !p.Ready {
			return
		}
	}

	room.seed = room.opts.SeedSource()
	room.setPhase(Countdown)
	room.countdownTimer = room.after(room.opts.CountdownDuration, countdownElapsed)

	startAt := room.opts.Clock.Now().Add(room.opts.CountdownDuration)
	room.Slogger.Info("countdown started", "seed", room.seed, "players", len(room.players))
	room.broadcast(protocol.CountdownStart{StartAtMs: startAt.UnixMilli(), Seed: room.seed}, "")
}

func (room *Room) startRace() {
	if room.phase != Countdown {
		return
	}
	room.mu.Lock()
	room.phase = Racing
	for _, p := range room.players {
		p.Alive = true
		p.Score = 0
	}
	room.mu.Unlock()

	room.Slogger.Info("race started", "players", len(room.players))
	room.broadcast(protocol.RaceStart{}, "")
	room.checkFinished()
}

func (room *Room) checkFinished() {
	if room.phase != Racing || len(room.players) == 0 {
		return
	}
	for _, p := range room.players {
		if p.Alive {
			return
		}
	}

	ordered := make([]*player, 0, len(room.order))
	for _, id := range room.order {
		ordered = append(ordered, room.players[id])
	}
	room.rankings = computeRankings(ordered)
	room.setPhase(Finished)
	room.cleanupTimer = room.after(room.opts.FinishedTTL, finishedCleanup)

	room.Slogger.Info("race finished", "rankings", len(room.rankings))
	room.broadcast(protocol.RaceFinished{Rankings: room.rankings}, "")

	if room.opts.OnFinished != nil {
		rankings := slices.Clone(room.rankings)
		go room.opts.OnFinished(room.Code, rankings)
	}
}

func (room *Room) handleTimer(kind timerKind) {
	switch kind {
	case countdownElapsed:
		room.countdownTimer = nil
		room.startRace()
	case idleCheck:
		idle := room.opts.Clock.Since(room.lastInbound)
		if idle >= room.opts.IdleTimeout {
			room.teardown("idle")
			return
		}
		room.idleTimer = room.after(room.opts.IdleTimeout-idle, idleCheck)
	case finishedCleanup:
		room.cleanupTimer = nil
		room.teardown("finished")
	}
}

// after arms a one-shot timer whose expiry is handled on the room goroutine.
func (room *Room) after(d time.Duration, kind timerKind) clockwork.Timer {
	return room.opts.Clock.AfterFunc(d, func() {
		select {
		case room.timers <- kind:
		case <-room.ctx.Done():
		}
	})
}

// abandon closes connections that never joined once the roster is empty. The release handshake
// still runs so a connection already queued keeps the room.
func (room *Room) abandon() {
	room.Slogger.Info("roster empty", "connections", len(room.conns))
	room.closeConnections()
	room.tryDestroy()
}

func (room *Room) tryDestroy() {
	if !room.release(room, false) {
		room.Slogger.Debug("release deferred, messages pending")
		return
	}
	room.destroy()
}

// teardown closes every connection regardless of phase.
func (room *Room) teardown(reason string) {
	room.Slogger.Info("tearing down", "reason", reason, "connections", len(room.conns))
	room.release(room, true)
	room.closeConnections()
	room.destroy()
}

func (room *Room) destroy() {
	room.stopTimers()
	room.mu.Lock()
	room.phase = Closed
	room.mu.Unlock()
	room.destroyed = true
	room.cancel()
	room.Slogger.Debug("destroyed")
}

// shutdown runs when the loop exits for any reason.
func (room *Room) shutdown() {
	room.stopTimers()
	room.closeConnections()
	for {
		select {
		case msg := <-room.messages:
			if msg.Type == Connect && msg.Session != nil {
				msg.Session.Close()
			}
		default:
			return
		}
	}
}

func (room *Room) closeConnections() {
	for id, s := range room.conns {
		s.Close()
		delete(room.conns, id)
	}
}

func (room *Room) stopTimers() {
	for _, t := range []*clockwork.Timer{&room.countdownTimer, &room.idleTimer, &room.cleanupTimer} {
		if *t != nil {
			(*t).Stop()
			*t = nil
		}
	}
}

func (room *Room) setPhase(phase RoomPhase) {
	room.mu.Lock()
	room.phase = phase
	room.mu.Unlock()
}

func (room *Room) rosterLocked() []protocol.PlayerInfo {
	roster := make([]protocol.PlayerInfo, 0, len(room.order))
	for _, id := range room.order {
		roster = append(roster, room.players[id].PlayerInfo)
	}
	return roster
}

func (room *Room) sendError(id string, err error) {
	room.Slogger.Debug("rejecting", "connection", id, "err", err)
	room.sendTo(id, protocol.Error{Message: err.Error()})
}

func (room *Room) sendTo(id string, m protocol.ServerMessage) {
	s, ok := room.conns[id]
	if !ok {
		return
	}
	b, err := protocol.Encode(m)
	if err != nil {
		room.Slogger.Error("encoding message", "type", m.MessageType(), "err", err)
		return
	}
	s.Send(b)
}

// broadcast sends m to every connection except the one with id except.
func (room *Room) broadcast(m protocol.ServerMessage, except string) {
	sl := room.Slogger.With("func", "room.broadcast")
	b, err := protocol.Encode(m)
	if err != nil {
		sl.Error("encoding message", "type", m.MessageType(), "err", err)
		return
	}
	for id, s := range room.conns {
		if id == except {
			continue
		}
		s.Send(b)
	}
}
