package coordinator

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/moodo-bridge/internal/infrastructure/config"
	"github.com/nerrad567/moodo-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/moodo-bridge/internal/moodo"
)

// Update sources passed to Listener.BoxUpdated.
const (
	// SourcePoll marks updates from the periodic REST refresh.
	SourcePoll = "poll"

	// SourceStream marks updates pushed over the Socket.IO stream.
	SourceStream = "stream"

	// SourceCommand marks optimistic updates applied locally after a
	// command was accepted, before the cloud confirms the new state.
	SourceCommand = "command"
)

// tokenRefreshWindow is how far ahead of session expiry the coordinator
// proactively re-logs in.
const tokenRefreshWindow = time.Hour

// rateLimitBackoff is how long polling pauses after the cloud returns 429.
const rateLimitBackoff = 2 * time.Minute

// refreshTimeout bounds a single REST refresh cycle.
const refreshTimeout = 30 * time.Second

// API is the slice of the Moodo client the coordinator depends on.
// Satisfied by *moodo.Client; tests substitute a mock.
type API interface {
	Login(ctx context.Context) (string, error)
	Relogin(ctx context.Context) error
	Token() string
	ConsumeRequestID(id string) bool

	Boxes(ctx context.Context) ([]moodo.Box, error)
	IntervalTypes(ctx context.Context) ([]moodo.IntervalType, error)
	Favorites(ctx context.Context) ([]moodo.Favorite, error)

	PowerOn(ctx context.Context, deviceKey int, opts moodo.PowerOnOptions) (moodo.Box, error)
	PowerOff(ctx context.Context, deviceKey int) (moodo.Box, error)
	SetFanVolume(ctx context.Context, deviceKey int, fanVolume int) (moodo.Box, error)
	SetBoxMode(ctx context.Context, deviceKey int, mode string) (moodo.Box, error)
	EnableShuffle(ctx context.Context, deviceKey int) (moodo.Box, error)
	DisableShuffle(ctx context.Context, deviceKey int) (moodo.Box, error)
	EnableInterval(ctx context.Context, deviceKey int, intervalType *int) (moodo.Box, error)
	DisableInterval(ctx context.Context, deviceKey int) (moodo.Box, error)
	SetFanSpeeds(ctx context.Context, deviceKey int, slots map[int]moodo.SlotFanSetting) (moodo.Box, error)
	ApplyFavorite(ctx context.Context, favoriteID string, deviceKey int) (moodo.Box, error)
}

// Listener receives state change notifications from the coordinator.
//
// Callbacks are invoked synchronously from the coordinator's goroutines;
// implementations must not block and must not call back into coordinator
// command methods from within a callback.
type Listener interface {
	// BoxUpdated is called whenever a box snapshot changes. source is one
	// of SourcePoll, SourceStream, SourceCommand.
	BoxUpdated(box moodo.Box, source string)

	// BoxesUnavailable is called when a refresh cycle fails and the
	// snapshot can no longer be trusted. Consumers should surface every
	// entity as unavailable rather than erroring.
	BoxesUnavailable()
}

// Coordinator maintains the authoritative local snapshot of all Moodo
// boxes and fans state changes out to listeners.
//
// State flows in from three directions: the periodic poll, the Socket.IO
// stream, and optimistic command results. Stream events are applied in
// receipt order with no reordering; echoes of our own commands (matched
// by restful_request_id) are dropped because the optimistic update
// already reflects them.
//
// Thread Safety:
//   - All exported methods are safe for concurrent use.
type Coordinator struct {
	api    API
	cfg    config.MoodoConfig
	logger *logging.Logger

	mu        sync.RWMutex
	boxes     map[int]moodo.Box
	available bool

	// pending marks boxes carrying an unconfirmed optimistic update. The
	// next poll notifies these even when the cloud state matches, so the
	// confirmation reaches listeners that skip command-source updates.
	pending map[int]bool

	// intervalTypes and favorites are fetched once at startup; both lists
	// rarely change server-side.
	intervalTypes map[int]moodo.IntervalType
	favorites     map[string]moodo.Favorite

	listeners  []Listener
	listenerMu sync.RWMutex

	stream streamHandle

	// rateLimitedUntil pauses polling after a 429.
	rateLimitedUntil time.Time

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a coordinator. Call Start to log in, take the initial
// snapshot, and begin polling/streaming.
func New(api API, cfg config.MoodoConfig, logger *logging.Logger) *Coordinator {
	if logger == nil {
		logger = logging.Default()
	}
	return &Coordinator{
		api:           api,
		cfg:           cfg,
		logger:        logger,
		boxes:         make(map[int]moodo.Box),
		pending:       make(map[int]bool),
		intervalTypes: make(map[int]moodo.IntervalType),
		favorites:     make(map[string]moodo.Favorite),
		done:          make(chan struct{}),
	}
}

// streamHandle is the slice of the stream the coordinator touches after
// startup. Satisfied by *moodo.Stream; tests substitute a fake.
type streamHandle interface {
	SetToken(token string)
	Stop()
}

// setStream and currentStream guard the stream field: the stream's
// connect callback runs Refresh from its own goroutine, which reads the
// field while the poll loop may also be reading it.
func (c *Coordinator) setStream(s streamHandle) {
	c.mu.Lock()
	c.stream = s
	c.mu.Unlock()
}

func (c *Coordinator) currentStream() streamHandle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stream
}

// AddListener registers a listener for state change notifications.
// Must be called before Start; listeners added later miss no guarantees
// beyond future updates.
func (c *Coordinator) AddListener(l Listener) {
	c.listenerMu.Lock()
	c.listeners = append(c.listeners, l)
	c.listenerMu.Unlock()
}

// Start logs in, performs the initial refresh, loads the interval type and
// favorite caches, and launches the poll loop and (if enabled) the stream.
//
// Returns an error if login or the initial refresh fails; the bridge
// cannot do anything useful without a first snapshot.
func (c *Coordinator) Start(ctx context.Context) error {
	if c.api.Token() == "" {
		if _, err := c.api.Login(ctx); err != nil {
			return fmt.Errorf("initial login: %w", err)
		}
	}

	if err := c.Refresh(ctx); err != nil {
		return fmt.Errorf("initial refresh: %w", err)
	}

	// Interval types and favorites are static enough to fetch once.
	// Failures here degrade features but don't stop the bridge.
	if types, err := c.api.IntervalTypes(ctx); err != nil {
		c.logger.Warn("failed to fetch interval types", "error", err)
	} else {
		c.mu.Lock()
		for _, it := range types {
			c.intervalTypes[it.Type] = it
		}
		c.mu.Unlock()
	}

	if favorites, err := c.api.Favorites(ctx); err != nil {
		c.logger.Warn("failed to fetch favorites", "error", err)
	} else {
		c.mu.Lock()
		for _, f := range favorites {
			c.favorites[f.ID] = f
		}
		c.mu.Unlock()
		c.logger.Info("loaded favorites", "count", len(favorites))
	}

	if c.cfg.StreamEnabled {
		c.startStream()
	}

	c.wg.Add(1)
	go c.pollLoop()

	return nil
}

// startStream creates and starts the Socket.IO stream. Stream failure is
// non-fatal: polling continues to work.
func (c *Coordinator) startStream() {
	c.mu.RLock()
	deviceIDs := make([]string, 0, len(c.boxes))
	for _, box := range c.boxes {
		if box.ID != "" {
			deviceIDs = append(deviceIDs, box.ID)
		}
	}
	c.mu.RUnlock()

	if len(deviceIDs) == 0 {
		c.logger.Warn("no device IDs for stream subscription, relying on polling")
		return
	}

	stream := moodo.NewStream(c.cfg.SocketURL, c.api.Token(), deviceIDs)
	stream.SetLogger(c.logger)
	stream.SetOnEvent(c.HandleStreamEvent)
	stream.SetOnConnect(c.handleStreamConnect)

	// Published before Start: the connect callback refreshes from the
	// stream's goroutine and reads the field.
	c.setStream(stream)
	if err := stream.Start(); err != nil {
		c.setStream(nil)
		c.logger.Warn("failed to start stream, relying on polling", "error", err)
		return
	}
	c.logger.Info("stream started", "devices", len(deviceIDs))
}

// Stop terminates the poll loop and the stream.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
	})
	if s := c.currentStream(); s != nil {
		s.Stop()
	}
	c.wg.Wait()
}

// pollLoop refreshes the snapshot on the configured interval and handles
// proactive session renewal and rate-limit backoff.
func (c *Coordinator) pollLoop() {
	defer c.wg.Done()

	interval := time.Duration(c.cfg.PollInterval) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}

		c.mu.RLock()
		paused := time.Now().Before(c.rateLimitedUntil)
		c.mu.RUnlock()
		if paused {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		c.renewTokenIfNeeded(ctx)
		if err := c.Refresh(ctx); err != nil {
			c.logger.Warn("poll refresh failed", "error", err)
		}
		cancel()
	}
}

// renewTokenIfNeeded re-logs in when the session token approaches expiry,
// and propagates the fresh token to the stream for its next reconnect.
func (c *Coordinator) renewTokenIfNeeded(ctx context.Context) {
	token := c.api.Token()
	if token == "" || !moodo.TokenExpiringWithin(token, tokenRefreshWindow) {
		return
	}

	c.logger.Info("session token expiring, re-logging in")
	if err := c.api.Relogin(ctx); err != nil {
		c.logger.Warn("proactive re-login failed", "error", err)
		return
	}
	if s := c.currentStream(); s != nil {
		s.SetToken(c.api.Token())
	}
}

// Refresh fetches all boxes and replaces the snapshot.
//
// On ErrAuth the coordinator re-logs in once and retries. On ErrRateLimited
// polling pauses for rateLimitBackoff. Any failure marks the snapshot
// unavailable and notifies listeners; entities surface as unavailable
// rather than erroring.
func (c *Coordinator) Refresh(ctx context.Context) error {
	boxes, err := c.api.Boxes(ctx)
	if errors.Is(err, moodo.ErrAuth) {
		c.logger.Info("refresh got auth error, re-logging in")
		if loginErr := c.api.Relogin(ctx); loginErr != nil {
			c.markUnavailable()
			return fmt.Errorf("re-login after auth error: %w", loginErr)
		}
		if s := c.currentStream(); s != nil {
			s.SetToken(c.api.Token())
		}
		boxes, err = c.api.Boxes(ctx)
	}
	if err != nil {
		if errors.Is(err, moodo.ErrRateLimited) {
			c.mu.Lock()
			c.rateLimitedUntil = time.Now().Add(rateLimitBackoff)
			c.mu.Unlock()
			c.logger.Warn("rate limited, pausing polls", "backoff", rateLimitBackoff.String())
		}
		c.markUnavailable()
		return err
	}

	c.mu.Lock()
	wasAvailable := c.available
	previous := c.boxes
	pending := c.pending
	c.boxes = make(map[int]moodo.Box, len(boxes))
	for _, box := range boxes {
		c.boxes[box.DeviceKey] = box
	}
	c.pending = make(map[int]bool)
	c.available = true
	c.mu.Unlock()

	// Fan out only what changed. Boxes with a pending optimistic update
	// are always notified so the confirmation is recorded, and everything
	// is re-notified after an outage so availability recovers.
	for _, box := range boxes {
		old, known := previous[box.DeviceKey]
		if known && wasAvailable && !pending[box.DeviceKey] && reflect.DeepEqual(old, box) {
			continue
		}
		c.notifyUpdated(box, SourcePoll)
	}
	return nil
}

// markUnavailable flags the snapshot as stale and notifies listeners once
// per transition.
func (c *Coordinator) markUnavailable() {
	c.mu.Lock()
	wasAvailable := c.available
	c.available = false
	c.mu.Unlock()

	if wasAvailable {
		c.listenerMu.RLock()
		listeners := append([]Listener(nil), c.listeners...)
		c.listenerMu.RUnlock()
		for _, l := range listeners {
			l.BoxesUnavailable()
		}
	}
}

// HandleStreamEvent applies a box update pushed over the stream.
//
// Events are applied strictly in receipt order (the stream invokes this
// synchronously from its read goroutine). Echoes of our own commands are
// dropped via request-ID matching.
func (c *Coordinator) HandleStreamEvent(ev moodo.StreamEvent) {
	if c.api.ConsumeRequestID(ev.RestfulRequestID) {
		c.logger.Debug("ignoring stream echo of own command",
			"request_id", ev.RestfulRequestID,
		)
		return
	}

	box := ev.Box
	if box.DeviceKey == 0 {
		return
	}

	c.mu.Lock()
	if _, known := c.boxes[box.DeviceKey]; !known {
		// A box we've never polled; wait for the next refresh to adopt it.
		c.mu.Unlock()
		return
	}
	c.boxes[box.DeviceKey] = box
	delete(c.pending, box.DeviceKey)
	c.mu.Unlock()

	c.notifyUpdated(box, SourceStream)
}

// handleStreamConnect resyncs state after every stream (re)connect: any
// change that happened while the stream was down would otherwise wait for
// the next poll tick.
func (c *Coordinator) handleStreamConnect() {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()
	if err := c.Refresh(ctx); err != nil {
		c.logger.Warn("post-reconnect resync failed", "error", err)
	}
}

// notifyUpdated fans a box update out to all listeners.
func (c *Coordinator) notifyUpdated(box moodo.Box, source string) {
	c.listenerMu.RLock()
	listeners := append([]Listener(nil), c.listeners...)
	c.listenerMu.RUnlock()
	for _, l := range listeners {
		l.BoxUpdated(box, source)
	}
}

// Box returns the current snapshot for a device key.
func (c *Coordinator) Box(deviceKey int) (moodo.Box, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	box, ok := c.boxes[deviceKey]
	return box, ok
}

// Boxes returns all known boxes sorted by device key.
func (c *Coordinator) Boxes() []moodo.Box {
	c.mu.RLock()
	defer c.mu.RUnlock()

	boxes := make([]moodo.Box, 0, len(c.boxes))
	for _, box := range c.boxes {
		boxes = append(boxes, box)
	}
	sort.Slice(boxes, func(i, j int) bool { return boxes[i].DeviceKey < boxes[j].DeviceKey })
	return boxes
}

// IsAvailable reports whether the last refresh succeeded. Individual box
// availability additionally requires Box.IsOnline.
func (c *Coordinator) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.available
}

// IntervalTypes returns the cached interval presets sorted by type ID.
func (c *Coordinator) IntervalTypes() []moodo.IntervalType {
	c.mu.RLock()
	defer c.mu.RUnlock()

	types := make([]moodo.IntervalType, 0, len(c.intervalTypes))
	for _, it := range c.intervalTypes {
		types = append(types, it)
	}
	sort.Slice(types, func(i, j int) bool { return types[i].Type < types[j].Type })
	return types
}

// IntervalTypeByKeyword resolves an interval preset from its keyword.
func (c *Coordinator) IntervalTypeByKeyword(keyword string) (moodo.IntervalType, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, it := range c.intervalTypes {
		if it.Keyword == keyword {
			return it, true
		}
	}
	return moodo.IntervalType{}, false
}

// IntervalType resolves an interval preset from its numeric type ID.
func (c *Coordinator) IntervalType(typeID int) (moodo.IntervalType, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	it, ok := c.intervalTypes[typeID]
	return it, ok
}

// Favorite returns a favorite by ID.
func (c *Coordinator) Favorite(id string) (moodo.Favorite, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.favorites[id]
	return f, ok
}

// AvailableFavorites returns the favorites whose required capsule set
// exactly matches the capsules currently installed in the given box,
// regardless of slot positions. Sorted by title for stable option lists.
func (c *Coordinator) AvailableFavorites(deviceKey int) []moodo.Favorite {
	c.mu.RLock()
	defer c.mu.RUnlock()

	box, ok := c.boxes[deviceKey]
	if !ok {
		return nil
	}
	installed := box.InstalledCapsuleCodes()

	var matched []moodo.Favorite
	for _, f := range c.favorites {
		if equalIntSlices(f.RequiredCapsuleCodes(), installed) {
			matched = append(matched, f)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Title < matched[j].Title })
	return matched
}

// FavoriteByTitle resolves a favorite by its display title among those
// available for the given box.
func (c *Coordinator) FavoriteByTitle(deviceKey int, title string) (moodo.Favorite, bool) {
	for _, f := range c.AvailableFavorites(deviceKey) {
		if f.Title == title {
			return f, true
		}
	}
	return moodo.Favorite{}, false
}

func equalIntSlices(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
