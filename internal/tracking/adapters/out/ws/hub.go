// Package ws holds the live broadcast hub for walk locations.
//
// One goroutine (Hub.Run) owns the set of connected viewers. Register,
// Unregister, Broadcast, EndSession and the count queries are events on a
// single inbox channel, processed one at a time in arrival order, so the set
// is never touched from anywhere else and needs no lock.
//
//	ingestion ──Broadcast──┐
//	in_ws     ──Register───┼─► hub.inbox ─► Run() ──► viewer.send (bounded) ──► writePump ──► conn
//	writePump ──Unregister─┘
//
// Broadcast never waits for inbox space; the other events do. Every viewer
// has its own write pump. The loop never blocks on a viewer: a full queue
// drops the viewer instead.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"walktrack/internal/shared/logger"
	"walktrack/internal/tracking/domain"
)

var (
	// ErrHubClosed is returned by Register and Broadcast after Shutdown or
	// after the Run context is cancelled. The hub never reopens.
	ErrHubClosed = errors.New("broadcast hub is shut down")

	// ErrBroadcastQueueFull means the hub inbox is saturated and the
	// location was not queued for live delivery. It is still persisted.
	ErrBroadcastQueueFull = errors.New("broadcast queue full")

	// ErrSessionEnded is returned by Register for a session that was ended.
	ErrSessionEnded = errors.New("tracking session ended")
)

const (
	defaultQueueSize       = 16
	defaultBroadcastBuffer = 256
	defaultPingInterval    = 30 * time.Second
	defaultWriteWait       = 10 * time.Second
	defaultEndedSessionTTL = time.Hour
)

type options struct {
	queueSize       int
	broadcastBuffer int
	pingInterval    time.Duration
	writeWait       time.Duration
	endedSessionTTL time.Duration
}

// Option tunes a Hub.
type Option func(*options)

// WithQueueSize sets the per-viewer outbound queue length.
func WithQueueSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// WithBroadcastBuffer sets the hub inbox length. A full inbox drops broadcasts.
func WithBroadcastBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.broadcastBuffer = n
		}
	}
}

// WithPingInterval sets how often each write pump pings its viewer.
func WithPingInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pingInterval = d
		}
	}
}

// WithWriteWait sets the deadline for a single frame write.
func WithWriteWait(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.writeWait = d
		}
	}
}

// WithEndedSessionTTL sets how long an ended session keeps rejecting viewers.
func WithEndedSessionTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.endedSessionTTL = d
		}
	}
}

type eventKind int

const (
	eventRegister eventKind = iota
	eventUnregister
	eventBroadcast
	eventEndSession
	eventCount
)

// event is one inbox entry. Which fields are set depends on kind.
type event struct {
	kind      eventKind
	viewer    *Viewer
	sessionID string
	payload   []byte
	all       bool

	registered chan error
	counted    chan int
}

// Hub fans persisted locations out to the viewers of their session.
type Hub struct {
	// owned by Run
	sessions map[string]map[*Viewer]struct{}
	total    int
	ended    map[string]time.Time

	inbox chan event

	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}
	started  atomic.Bool

	opts options
	log  *logger.Logger
}

// NewHub creates a hub. Start it with go hub.Run(ctx).
func NewHub(log *logger.Logger, opts ...Option) *Hub {
	o := options{
		queueSize:       defaultQueueSize,
		broadcastBuffer: defaultBroadcastBuffer,
		pingInterval:    defaultPingInterval,
		writeWait:       defaultWriteWait,
		endedSessionTTL: defaultEndedSessionTTL,
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Hub{
		sessions: make(map[string]map[*Viewer]struct{}),
		ended:    make(map[string]time.Time),
		inbox:    make(chan event, o.broadcastBuffer),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		opts:     o,
		log:      log,
	}
}

// Run is the control loop. It returns after Shutdown or when ctx is done,
// having disconnected every viewer. Only the first call runs.
func (h *Hub) Run(ctx context.Context) {
	if !h.started.CompareAndSwap(false, true) {
		return
	}
	defer close(h.done)
	if h.closed() {
		return
	}

	prune := time.NewTicker(pruneInterval(h.opts.endedSessionTTL))
	defer prune.Stop()

	h.log.Info(logger.Entry{Action: "hub_started", Message: "location broadcast hub started"})

	for {
		select {
		case <-ctx.Done():
			h.closeAll("context_cancelled")
			return

		case <-h.quit:
			h.closeAll("shutdown")
			return

		case ev := <-h.inbox:
			h.handle(ev)

		case now := <-prune.C:
			h.pruneEnded(now)
		}
	}
}

func (h *Hub) handle(ev event) {
	switch ev.kind {
	case eventRegister:
		ev.registered <- h.add(ev.viewer)
	case eventUnregister:
		h.remove(ev.viewer, reasonUnregistered)
	case eventBroadcast:
		h.fanout(ev.sessionID, ev.payload)
	case eventEndSession:
		h.end(ev.sessionID, time.Now())
	case eventCount:
		ev.counted <- h.count(ev)
	}
}

// Shutdown disconnects every viewer and makes the hub reject further
// Register and Broadcast calls with ErrHubClosed. Safe to call more than once.
func (h *Hub) Shutdown() {
	h.quitOnce.Do(func() { close(h.quit) })
	if h.started.Load() {
		<-h.done
	}
}

// Register adds v to its session. v receives the broadcasts queued after
// this call was made, never those queued before it.
func (h *Hub) Register(v *Viewer) error {
	ev := event{kind: eventRegister, viewer: v, registered: make(chan error, 1)}
	if !h.send(ev) {
		return ErrHubClosed
	}
	select {
	case err := <-ev.registered:
		return err
	case <-h.quit:
		if !h.started.Load() {
			return ErrHubClosed
		}
		<-h.done
	case <-h.done:
	}
	// the loop may have added v just before it stopped; v is closed then
	// but owned by its write pump, so report what the loop decided
	select {
	case err := <-ev.registered:
		return err
	default:
		return ErrHubClosed
	}
}

// Unregister removes v. Unknown or already removed viewers are a no-op,
// and so is any call after Shutdown.
func (h *Hub) Unregister(v *Viewer) {
	h.send(event{kind: eventUnregister, viewer: v})
}

// send waits for inbox space. It reports false once the hub is closed.
func (h *Hub) send(ev event) bool {
	if h.closed() {
		return false
	}
	select {
	case h.inbox <- ev:
		return true
	case <-h.quit:
		return false
	case <-h.done:
		return false
	}
}

// Broadcast queues loc for every viewer of loc.SessionID and returns
// immediately. Locations of one session ingested concurrently may reach
// viewers in a different order than they were persisted; history reads are
// the ordered view.
func (h *Hub) Broadcast(loc domain.Location) error {
	if h.closed() {
		return ErrHubClosed
	}

	payload, err := EncodeLocation(loc)
	if err != nil {
		return fmt.Errorf("encode location: %w", err)
	}

	select {
	case h.inbox <- event{kind: eventBroadcast, sessionID: loc.SessionID, payload: payload}:
		return nil
	default:
		h.log.Warn(logger.Entry{
			Action:    "broadcast_dropped",
			Message:   "broadcast queue full",
			SessionID: loc.SessionID,
		})
		return ErrBroadcastQueueFull
	}
}

// EndSession disconnects the viewers of sessionID and stops live delivery
// for it until the ended-session TTL expires.
func (h *Hub) EndSession(sessionID string) {
	h.send(event{kind: eventEndSession, sessionID: sessionID})
}

// ConnectedCount returns the number of registered viewers across sessions,
// or 0 once the hub is closed.
func (h *Hub) ConnectedCount() int {
	return h.ask(event{kind: eventCount, all: true})
}

// SessionViewerCount returns the number of viewers watching sessionID.
func (h *Hub) SessionViewerCount(sessionID string) int {
	return h.ask(event{kind: eventCount, sessionID: sessionID})
}

func (h *Hub) ask(ev event) int {
	ev.counted = make(chan int, 1)
	if !h.send(ev) {
		return 0
	}
	select {
	case n := <-ev.counted:
		return n
	case <-h.quit:
		return 0
	case <-h.done:
		return 0
	}
}

func (h *Hub) closed() bool {
	select {
	case <-h.quit:
		return true
	case <-h.done:
		return true
	default:
		return false
	}
}

// --- loop-only helpers below ---

func (h *Hub) add(v *Viewer) error {
	if _, ended := h.ended[v.SessionID]; ended {
		return ErrSessionEnded
	}

	set, ok := h.sessions[v.SessionID]
	if !ok {
		set = make(map[*Viewer]struct{})
		h.sessions[v.SessionID] = set
	}
	if _, dup := set[v]; dup {
		return nil
	}
	set[v] = struct{}{}
	h.total++

	go v.writePump(h)

	h.log.Info(logger.Entry{
		Action:    "viewer_registered",
		Message:   v.ID,
		SessionID: v.SessionID,
		Additional: map[string]any{
			"user_id":         v.UserID,
			"role":            v.Role,
			"session_viewers": len(set),
			"total_viewers":   h.total,
		},
	})
	return nil
}

func (h *Hub) remove(v *Viewer, reason closeReason) {
	set, ok := h.sessions[v.SessionID]
	if !ok {
		return
	}
	if _, ok := set[v]; !ok {
		return
	}

	delete(set, v)
	if len(set) == 0 {
		delete(h.sessions, v.SessionID)
	}
	h.total--

	v.reason = reason
	close(v.send)

	entry := logger.Entry{
		Action:    "viewer_unregistered",
		Message:   v.ID,
		SessionID: v.SessionID,
		Additional: map[string]any{
			"reason":        reason.String(),
			"total_viewers": h.total,
		},
	}
	if reason == reasonQueueOverflow {
		entry.Action = "viewer_dropped"
		h.log.Warn(entry)
		return
	}
	h.log.Info(entry)
}

func (h *Hub) fanout(sessionID string, payload []byte) {
	if _, ended := h.ended[sessionID]; ended {
		h.log.Debug(logger.Entry{
			Action:    "broadcast_skipped_ended_session",
			Message:   "session ended",
			SessionID: sessionID,
		})
		return
	}

	for v := range h.sessions[sessionID] {
		select {
		case v.send <- payload:
		default:
			// viewer is not draining; drop it rather than stall everybody else
			h.remove(v, reasonQueueOverflow)
		}
	}
}

func (h *Hub) end(sessionID string, now time.Time) {
	h.ended[sessionID] = now
	for v := range h.sessions[sessionID] {
		h.remove(v, reasonSessionEnded)
	}
	h.log.Info(logger.Entry{
		Action:    "session_ended",
		Message:   "live tracking stopped",
		SessionID: sessionID,
	})
}

func (h *Hub) count(ev event) int {
	if ev.all {
		return h.total
	}
	return len(h.sessions[ev.sessionID])
}

func (h *Hub) pruneEnded(now time.Time) {
	for id, at := range h.ended {
		if now.Sub(at) >= h.opts.endedSessionTTL {
			delete(h.ended, id)
		}
	}
}

func (h *Hub) closeAll(cause string) {
	for id, set := range h.sessions {
		for v := range set {
			v.reason = reasonShutdown
			close(v.send)
		}
		delete(h.sessions, id)
	}
	n := h.total
	h.total = 0

	h.log.Info(logger.Entry{
		Action:  "hub_stopped",
		Message: cause,
		Additional: map[string]any{
			"disconnected_viewers": n,
		},
	})
}

func pruneInterval(ttl time.Duration) time.Duration {
	d := ttl / 4
	if d < time.Second {
		d = time.Second
	}
	if d > time.Minute {
		d = time.Minute
	}
	return d
}

// Message is the frame viewers receive, one location per frame.
type Message struct {
	Type string          `json:"type"`
	Data domain.Location `json:"data"`
}

// MessageTypeLocation tags frames that carry one Location.
const MessageTypeLocation = "location_update"

// EncodeLocation renders the wire frame for loc.
func EncodeLocation(loc domain.Location) ([]byte, error) {
	return json.Marshal(Message{Type: MessageTypeLocation, Data: loc})
}
