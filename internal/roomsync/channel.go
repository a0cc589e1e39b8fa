// Package roomsync keeps a local match in step with a shared room record.
//
// Every completed local mutation is published as a full encoded state with a
// Lamport revision. Remote records replace the local state wholesale when
// they supersede the last record this client has seen; conflicts resolve by
// last writer wins with the writer id as tie-break.
package roomsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/heavenideas/dojo-server-go/internal/codec"
	"github.com/heavenideas/dojo-server-go/internal/game"
	"github.com/heavenideas/dojo-server-go/internal/room"
)

const (
	// DefaultEchoWindow is how long own notifications are suppressed after
	// a publish lands. It must cover one publish/notify round trip and stay
	// short enough not to hide a near-simultaneous remote update.
	DefaultEchoWindow = 50 * time.Millisecond
	// DefaultPublishTimeout bounds one store upsert.
	DefaultPublishTimeout = 5 * time.Second
)

// Status is the channel's connection state.
type Status int

const (
	Disconnected Status = iota
	Connecting
	Synced
)

func (s Status) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Synced:
		return "synced"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

var (
	// ErrAlreadyJoined is returned by Join when the channel is already bound
	// to a room.
	ErrAlreadyJoined = errors.New("channel already joined a room")
	// ErrClosed is returned by Join after Close.
	ErrClosed = errors.New("channel closed")
)

// Applier receives remote states. CurrentLog supplies the local log used
// when a remote payload carries none.
type Applier interface {
	ApplyRemote(m *game.MatchState)
	CurrentLog() []game.LogEntry
}

// Option configures a Channel.
type Option func(*Channel)

// WithEchoWindow overrides DefaultEchoWindow.
func WithEchoWindow(d time.Duration) Option {
	return func(c *Channel) {
		if d >= 0 {
			c.echoWindow = d
		}
	}
}

// WithPublishTimeout overrides DefaultPublishTimeout.
func WithPublishTimeout(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.publishTimeout = d
		}
	}
}

// WithWriterID fixes the writer id instead of a random one.
func WithWriterID(id string) Option {
	return func(c *Channel) {
		if id != "" {
			c.writer = id
		}
	}
}

// Channel binds one client to one room.
type Channel struct {
	store          room.Store
	logger         *zap.Logger
	writer         string
	echoWindow     time.Duration
	publishTimeout time.Duration

	mu       sync.Mutex
	status   Status
	roomID   string
	applier  Applier
	// last is the newest record reflected in the local board, counting
	// queued publishes. seen only advances on records the store confirmed.
	last     room.Record
	seen     room.Record
	next     *room.Record
	busy     bool
	suppress int
	cancel   context.CancelFunc
	closed   bool

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a disconnected channel.
func New(store room.Store, logger *zap.Logger, opts ...Option) *Channel {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Channel{
		store:          store,
		logger:         logger,
		writer:         uuid.NewString(),
		echoWindow:     DefaultEchoWindow,
		publishTimeout: DefaultPublishTimeout,
		wake:           make(chan struct{}, 1),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Writer returns this client's writer id.
func (c *Channel) Writer() string {
	return c.writer
}

// Status returns the current connection state.
func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// RoomID returns the joined room, or "" before Join.
func (c *Channel) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

// Revision returns the last revision this client published or accepted.
func (c *Channel) Revision() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last.Revision
}

// Join subscribes to roomID and then pulls its stored state once. It
// reports whether a stored state was found and handed to applier.
func (c *Channel) Join(ctx context.Context, roomID string, applier Applier) (bool, error) {
	if roomID == "" {
		return false, errors.New("room id is required")
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false, ErrClosed
	}
	if c.status != Disconnected {
		c.mu.Unlock()
		return false, ErrAlreadyJoined
	}
	c.status = Connecting
	c.roomID = roomID
	c.applier = applier
	c.mu.Unlock()

	log := c.logger.With(zap.String("room_id", roomID), zap.String("writer", c.writer))
	log.Info("joining room")

	subCtx, cancel := context.WithCancel(context.Background())
	feed, err := c.store.Subscribe(subCtx, roomID)
	if err != nil {
		cancel()
		c.reset()
		return false, fmt.Errorf("subscribe room %s: %w", roomID, err)
	}

	adopted := false
	rec, err := c.store.Fetch(ctx, roomID)
	switch {
	case err == nil:
		adopted = c.receive(rec)
	case errors.Is(err, room.ErrNotFound):
	default:
		cancel()
		c.reset()
		return false, fmt.Errorf("fetch room %s: %w", roomID, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		c.reset()
		return false, ErrClosed
	}
	c.cancel = cancel
	c.status = Synced
	c.mu.Unlock()

	c.wg.Add(2)
	go c.listen(feed)
	go c.publishLoop()

	log.Info("room synced", zap.Bool("adopted", adopted), zap.Uint64("revision", c.Revision()))
	return adopted, nil
}

func (c *Channel) reset() {
	c.mu.Lock()
	c.status = Disconnected
	c.roomID = ""
	c.applier = nil
	c.mu.Unlock()
}

// Publish queues m for the room. It never blocks on the network; when
// several publishes are pending only the newest is written.
func (c *Channel) Publish(m *game.MatchState) {
	data, err := codec.Encode(m, true)
	if err != nil {
		c.logger.Error("failed to encode state for publish", zap.Error(err))
		return
	}

	c.mu.Lock()
	if c.status != Synced {
		c.mu.Unlock()
		return
	}
	rec := room.Record{
		RoomID:   c.roomID,
		State:    data,
		Revision: c.last.Revision + 1,
		Writer:   c.writer,
	}
	c.last = room.Record{Revision: rec.Revision, Writer: rec.Writer}
	c.next = &rec
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Channel) publishLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case <-c.wake:
		}

		for {
			c.mu.Lock()
			rec := c.next
			c.next = nil
			c.busy = rec != nil
			if rec != nil {
				c.suppress++
			}
			c.mu.Unlock()
			if rec == nil {
				break
			}
			c.upsert(*rec)
		}
	}
}

func (c *Channel) upsert(rec room.Record) {
	defer func() {
		c.mu.Lock()
		c.busy = false
		c.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), c.publishTimeout)
	err := c.store.Upsert(ctx, rec)
	cancel()
	if err == nil {
		c.mu.Lock()
		if room.Supersedes(rec, c.seen) {
			c.seen = room.Record{Revision: rec.Revision, Writer: rec.Writer}
		}
		c.mu.Unlock()
	}

	time.AfterFunc(c.echoWindow, func() {
		c.mu.Lock()
		c.suppress--
		c.mu.Unlock()
	})

	switch {
	case err == nil:
		c.logger.Debug("published state",
			zap.String("room_id", rec.RoomID),
			zap.Uint64("revision", rec.Revision),
		)
	case errors.Is(err, room.ErrStale):
		c.logger.Info("publish superseded by a newer room record",
			zap.String("room_id", rec.RoomID),
			zap.Uint64("revision", rec.Revision),
		)
	default:
		c.logger.Warn("publish failed",
			zap.String("room_id", rec.RoomID),
			zap.Uint64("revision", rec.Revision),
			zap.Error(err),
		)
		c.rollback(rec)
	}
}

// rollback forgets a publish the store never took, so a peer record at the
// same revision is no longer shadowed by it, then pulls the room once to
// catch up on anything dropped meanwhile.
func (c *Channel) rollback(failed room.Record) {
	c.mu.Lock()
	if c.next == nil && c.last.Revision == failed.Revision && c.last.Writer == failed.Writer {
		c.last = c.seen
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.publishTimeout)
	defer cancel()
	rec, err := c.store.Fetch(ctx, failed.RoomID)
	if err != nil {
		if !errors.Is(err, room.ErrNotFound) {
			c.logger.Debug("room refetch failed", zap.String("room_id", failed.RoomID), zap.Error(err))
		}
		return
	}
	c.receive(rec)
}

func (c *Channel) listen(feed <-chan room.Record) {
	defer c.wg.Done()
	for rec := range feed {
		c.receive(rec)
	}
	c.logger.Debug("room feed closed")
}

// receive applies rec when it is newer than anything seen and not an echo of
// this client's own publish. It reports whether the state was applied.
func (c *Channel) receive(rec room.Record) bool {
	c.mu.Lock()
	applier := c.applier
	if rec.RoomID != c.roomID || applier == nil {
		c.mu.Unlock()
		return false
	}
	if c.suppress > 0 && rec.Writer == c.writer {
		c.mu.Unlock()
		return false
	}
	if !room.Supersedes(rec, c.last) {
		c.mu.Unlock()
		c.logger.Debug("dropping stale room record",
			zap.String("room_id", rec.RoomID),
			zap.Uint64("revision", rec.Revision),
			zap.String("writer", rec.Writer),
		)
		return false
	}
	c.last = room.Record{Revision: rec.Revision, Writer: rec.Writer}
	if room.Supersedes(rec, c.seen) {
		c.seen = c.last
	}
	c.mu.Unlock()

	m, err := codec.Decode(rec.State, applier.CurrentLog())
	if err != nil {
		c.logger.Warn("ignoring undecodable room state",
			zap.String("room_id", rec.RoomID),
			zap.Uint64("revision", rec.Revision),
			zap.Error(err),
		)
		return false
	}
	applier.ApplyRemote(m)
	return true
}

// Flush waits until every queued publish has been written or given up on.
func (c *Channel) Flush(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		c.mu.Lock()
		idle := c.next == nil && !c.busy
		c.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close stops the subscription and the publisher. Queued publishes that have
// not started are dropped; call Flush first to keep them.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	cancel := c.cancel
	c.status = Disconnected
	c.next = nil
	c.mu.Unlock()

	close(c.done)
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
}
