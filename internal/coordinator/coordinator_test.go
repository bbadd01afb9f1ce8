package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/nerrad567/moodo-bridge/internal/infrastructure/config"
	"github.com/nerrad567/moodo-bridge/internal/moodo"
)

func intPtr(v int) *int { return &v }

// mockAPI is a hand-rolled mock of the API interface.
// All fields are protected by mu for concurrent use.
type mockAPI struct {
	mu sync.Mutex

	token         string
	boxes         []moodo.Box
	boxesErrs     []error // Consumed one per Boxes() call; nil entries mean success
	intervalTypes []moodo.IntervalType
	favorites     []moodo.Favorite
	consumable    map[string]bool

	calls    []string
	relogins int

	commandErr error // Returned by every command method when set
}

func newMockAPI(boxes ...moodo.Box) *mockAPI {
	return &mockAPI{
		token:      "tok",
		boxes:      boxes,
		consumable: map[string]bool{},
	}
}

func (m *mockAPI) record(call string) {
	m.calls = append(m.calls, call)
}

func (m *mockAPI) callLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *mockAPI) Login(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Login")
	return m.token, nil
}

func (m *mockAPI) Relogin(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Relogin")
	m.relogins++
	return nil
}

func (m *mockAPI) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

func (m *mockAPI) ConsumeRequestID(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.consumable[id] {
		delete(m.consumable, id)
		return true
	}
	return false
}

func (m *mockAPI) Boxes(_ context.Context) ([]moodo.Box, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Boxes")
	if len(m.boxesErrs) > 0 {
		err := m.boxesErrs[0]
		m.boxesErrs = m.boxesErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return append([]moodo.Box(nil), m.boxes...), nil
}

func (m *mockAPI) IntervalTypes(_ context.Context) ([]moodo.IntervalType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("IntervalTypes")
	return m.intervalTypes, nil
}

func (m *mockAPI) Favorites(_ context.Context) ([]moodo.Favorite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Favorites")
	return m.favorites, nil
}

func (m *mockAPI) command(name string) (moodo.Box, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(name)
	if m.commandErr != nil {
		return moodo.Box{}, m.commandErr
	}
	return moodo.Box{}, nil
}

func (m *mockAPI) PowerOn(_ context.Context, deviceKey int, _ moodo.PowerOnOptions) (moodo.Box, error) {
	return m.command(fmt.Sprintf("PowerOn(%d)", deviceKey))
}

func (m *mockAPI) PowerOff(_ context.Context, deviceKey int) (moodo.Box, error) {
	return m.command(fmt.Sprintf("PowerOff(%d)", deviceKey))
}

func (m *mockAPI) SetFanVolume(_ context.Context, deviceKey, fanVolume int) (moodo.Box, error) {
	return m.command(fmt.Sprintf("SetFanVolume(%d,%d)", deviceKey, fanVolume))
}

func (m *mockAPI) SetBoxMode(_ context.Context, deviceKey int, mode string) (moodo.Box, error) {
	return m.command(fmt.Sprintf("SetBoxMode(%d,%s)", deviceKey, mode))
}

func (m *mockAPI) EnableShuffle(_ context.Context, deviceKey int) (moodo.Box, error) {
	return m.command(fmt.Sprintf("EnableShuffle(%d)", deviceKey))
}

func (m *mockAPI) DisableShuffle(_ context.Context, deviceKey int) (moodo.Box, error) {
	return m.command(fmt.Sprintf("DisableShuffle(%d)", deviceKey))
}

func (m *mockAPI) EnableInterval(_ context.Context, deviceKey int, intervalType *int) (moodo.Box, error) {
	if intervalType != nil {
		return m.command(fmt.Sprintf("EnableInterval(%d,%d)", deviceKey, *intervalType))
	}
	return m.command(fmt.Sprintf("EnableInterval(%d)", deviceKey))
}

func (m *mockAPI) DisableInterval(_ context.Context, deviceKey int) (moodo.Box, error) {
	return m.command(fmt.Sprintf("DisableInterval(%d)", deviceKey))
}

func (m *mockAPI) SetFanSpeeds(_ context.Context, deviceKey int, slots map[int]moodo.SlotFanSetting) (moodo.Box, error) {
	return m.command(fmt.Sprintf("SetFanSpeeds(%d,slots=%d)", deviceKey, len(slots)))
}

func (m *mockAPI) ApplyFavorite(_ context.Context, favoriteID string, deviceKey int) (moodo.Box, error) {
	return m.command(fmt.Sprintf("ApplyFavorite(%s,%d)", favoriteID, deviceKey))
}

// recordingListener captures listener notifications.
type recordingListener struct {
	mu          sync.Mutex
	updates     []string // "<device_key>/<source>"
	boxes       []moodo.Box
	unavailable int
}

func (r *recordingListener) BoxUpdated(box moodo.Box, source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, fmt.Sprintf("%d/%s", box.DeviceKey, source))
	r.boxes = append(r.boxes, box)
}

func (r *recordingListener) BoxesUnavailable() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unavailable++
}

func (r *recordingListener) lastBox(t *testing.T) moodo.Box {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.boxes) == 0 {
		t.Fatal("listener received no updates")
	}
	return r.boxes[len(r.boxes)-1]
}

func testBox(deviceKey int) moodo.Box {
	return moodo.Box{
		ID:        fmt.Sprintf("id-%d", deviceKey),
		DeviceKey: deviceKey,
		Name:      fmt.Sprintf("Box %d", deviceKey),
		BoxStatus: moodo.BoxStatusOn,
		BoxMode:   moodo.BoxModeDiffuser,
		FanVolume: 50,
		IsOnline:  true,
		Settings: []moodo.SlotSetting{
			{SlotID: 0, FanSpeed: 10, FanActive: true, CapsuleTypeCode: intPtr(3)},
			{SlotID: 1, FanSpeed: 20, FanActive: true, CapsuleTypeCode: intPtr(7)},
			{SlotID: 2, FanSpeed: 0, FanActive: false},
			{SlotID: 3, FanSpeed: 0, FanActive: false, CapsuleTypeCode: intPtr(9)},
		},
	}
}

func testCoordinator(api API) *Coordinator {
	return New(api, config.MoodoConfig{
		PollInterval:  30,
		StreamEnabled: false,
	}, nil)
}

func TestRefresh_PopulatesSnapshot(t *testing.T) {
	api := newMockAPI(testBox(1), testBox(2))
	c := testCoordinator(api)
	listener := &recordingListener{}
	c.AddListener(listener)

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	if !c.IsAvailable() {
		t.Error("IsAvailable() = false after successful refresh")
	}
	if boxes := c.Boxes(); len(boxes) != 2 || boxes[0].DeviceKey != 1 || boxes[1].DeviceKey != 2 {
		t.Errorf("Boxes() = %+v", boxes)
	}

	listener.mu.Lock()
	defer listener.mu.Unlock()
	if len(listener.updates) != 2 {
		t.Fatalf("listener updates = %v, want 2 poll updates", listener.updates)
	}
	for _, u := range listener.updates {
		if u != "1/poll" && u != "2/poll" {
			t.Errorf("unexpected update %q", u)
		}
	}
}

func TestRefresh_FailureMarksUnavailable(t *testing.T) {
	api := newMockAPI(testBox(1))
	c := testCoordinator(api)
	listener := &recordingListener{}
	c.AddListener(listener)

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	// An offline cloud surfaces as unavailable, not as a panic or crash.
	api.mu.Lock()
	api.boxesErrs = []error{moodo.ErrConnection}
	api.mu.Unlock()

	if err := c.Refresh(context.Background()); !errors.Is(err, moodo.ErrConnection) {
		t.Fatalf("Refresh() error = %v, want ErrConnection", err)
	}
	if c.IsAvailable() {
		t.Error("IsAvailable() = true after failed refresh")
	}

	listener.mu.Lock()
	unavailable := listener.unavailable
	listener.mu.Unlock()
	if unavailable != 1 {
		t.Errorf("BoxesUnavailable calls = %d, want 1", unavailable)
	}

	// The stale snapshot remains readable for availability decisions.
	if _, ok := c.Box(1); !ok {
		t.Error("Box(1) should still return the last known snapshot")
	}
}

func TestRefresh_AuthRetriesOnce(t *testing.T) {
	api := newMockAPI(testBox(1))
	api.boxesErrs = []error{moodo.ErrAuth, nil}
	c := testCoordinator(api)

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if api.relogins != 1 {
		t.Errorf("relogins = %d, want 1", api.relogins)
	}
}

func TestRefresh_RateLimited(t *testing.T) {
	api := newMockAPI(testBox(1))
	api.boxesErrs = []error{moodo.ErrRateLimited}
	c := testCoordinator(api)

	err := c.Refresh(context.Background())
	if !errors.Is(err, moodo.ErrRateLimited) {
		t.Fatalf("Refresh() error = %v, want ErrRateLimited", err)
	}

	c.mu.RLock()
	backoffSet := !c.rateLimitedUntil.IsZero()
	c.mu.RUnlock()
	if !backoffSet {
		t.Error("rate limit backoff should be armed after 429")
	}
}

func TestRefresh_UnchangedSnapshotNotRenotified(t *testing.T) {
	api := newMockAPI(testBox(1))
	c := testCoordinator(api)
	listener := &recordingListener{}
	c.AddListener(listener)

	// Identical polls must not fan out again: every notification lands a
	// history row, so a quiet box would otherwise grow the database on
	// every tick.
	for i := 0; i < 3; i++ {
		if err := c.Refresh(context.Background()); err != nil {
			t.Fatalf("Refresh() #%d error = %v", i+1, err)
		}
	}

	listener.mu.Lock()
	defer listener.mu.Unlock()
	if len(listener.updates) != 1 {
		t.Errorf("updates = %v, want a single poll update for an unchanged box", listener.updates)
	}
}

func TestRefresh_ChangedBoxNotifies(t *testing.T) {
	api := newMockAPI(testBox(1))
	c := testCoordinator(api)
	listener := &recordingListener{}
	c.AddListener(listener)

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	api.mu.Lock()
	api.boxes[0].FanVolume = 80
	api.mu.Unlock()

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	if got := listener.lastBox(t); got.FanVolume != 80 {
		t.Errorf("listener box FanVolume = %d, want 80", got.FanVolume)
	}
	listener.mu.Lock()
	defer listener.mu.Unlock()
	if len(listener.updates) != 2 {
		t.Errorf("updates = %v, want 2 (initial plus the change)", listener.updates)
	}
}

func TestRefresh_RecoveryRenotifiesUnchangedBoxes(t *testing.T) {
	api := newMockAPI(testBox(1))
	c := testCoordinator(api)
	listener := &recordingListener{}
	c.AddListener(listener)

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	api.mu.Lock()
	api.boxesErrs = []error{moodo.ErrConnection}
	api.mu.Unlock()
	if err := c.Refresh(context.Background()); err == nil {
		t.Fatal("Refresh() should fail while the cloud is down")
	}

	// The recovering poll returns the same box, but listeners were told
	// everything is unavailable and need the republish to flip back.
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	listener.mu.Lock()
	defer listener.mu.Unlock()
	if len(listener.updates) != 2 {
		t.Errorf("updates = %v, want 2 (initial plus the recovery republish)", listener.updates)
	}
	if listener.unavailable != 1 {
		t.Errorf("BoxesUnavailable calls = %d, want 1", listener.unavailable)
	}
}

// fakeStream records token pushes from the coordinator.
type fakeStream struct {
	mu      sync.Mutex
	tokens  []string
	stopped bool
}

func (f *fakeStream) SetToken(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, token)
}

func (f *fakeStream) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func TestRefresh_AuthRetryUpdatesStreamToken(t *testing.T) {
	api := newMockAPI(testBox(1))
	api.boxesErrs = []error{moodo.ErrAuth, nil}
	c := testCoordinator(api)
	stream := &fakeStream{}
	c.setStream(stream)

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	stream.mu.Lock()
	defer stream.mu.Unlock()
	if len(stream.tokens) != 1 || stream.tokens[0] != "tok" {
		t.Errorf("stream tokens = %v, want the refreshed session token", stream.tokens)
	}
}

func TestStart_LoadsCaches(t *testing.T) {
	api := newMockAPI(testBox(1))
	api.token = "" // Force initial login
	api.intervalTypes = []moodo.IntervalType{
		{Type: 1, Keyword: "every_30_min"},
		{Type: 2, Keyword: "every_60_min"},
	}
	api.favorites = []moodo.Favorite{
		{ID: "fav-1", Title: "Morning"},
	}
	c := testCoordinator(api)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer c.Stop()

	if types := c.IntervalTypes(); len(types) != 2 || types[0].Keyword != "every_30_min" {
		t.Errorf("IntervalTypes() = %+v", types)
	}
	if it, ok := c.IntervalTypeByKeyword("every_60_min"); !ok || it.Type != 2 {
		t.Errorf("IntervalTypeByKeyword() = %+v, %v", it, ok)
	}
	if _, ok := c.Favorite("fav-1"); !ok {
		t.Error("Favorite(fav-1) not loaded")
	}

	calls := api.callLog()
	if calls[0] != "Login" {
		t.Errorf("first call = %q, want Login", calls[0])
	}
}

func TestHandleStreamEvent_AppliesUpdate(t *testing.T) {
	api := newMockAPI(testBox(1))
	c := testCoordinator(api)
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	listener := &recordingListener{}
	c.AddListener(listener)

	updated := testBox(1)
	updated.FanVolume = 85
	c.HandleStreamEvent(moodo.StreamEvent{Type: "box_config", Box: updated})

	box, _ := c.Box(1)
	if box.FanVolume != 85 {
		t.Errorf("FanVolume = %d after stream event, want 85", box.FanVolume)
	}
	if got := listener.lastBox(t); got.FanVolume != 85 {
		t.Errorf("listener box FanVolume = %d, want 85", got.FanVolume)
	}

	listener.mu.Lock()
	defer listener.mu.Unlock()
	if listener.updates[len(listener.updates)-1] != "1/stream" {
		t.Errorf("last update = %q, want 1/stream", listener.updates[len(listener.updates)-1])
	}
}

func TestHandleStreamEvent_DropsOwnEcho(t *testing.T) {
	api := newMockAPI(testBox(1))
	api.consumable["req-1"] = true
	c := testCoordinator(api)
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	listener := &recordingListener{}
	c.AddListener(listener)

	echo := testBox(1)
	echo.FanVolume = 5
	c.HandleStreamEvent(moodo.StreamEvent{Box: echo, RestfulRequestID: "req-1"})

	box, _ := c.Box(1)
	if box.FanVolume != 50 {
		t.Errorf("echo should not change snapshot, FanVolume = %d", box.FanVolume)
	}

	listener.mu.Lock()
	defer listener.mu.Unlock()
	if len(listener.updates) != 0 {
		t.Errorf("listener should not see echoes, got %v", listener.updates)
	}
}

func TestHandleStreamEvent_UnknownDeviceIgnored(t *testing.T) {
	api := newMockAPI(testBox(1))
	c := testCoordinator(api)
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	c.HandleStreamEvent(moodo.StreamEvent{Box: testBox(99)})

	if _, ok := c.Box(99); ok {
		t.Error("unknown device should wait for the next poll, not join via stream")
	}
}

func TestHandleStreamEvent_ReceiptOrder(t *testing.T) {
	api := newMockAPI(testBox(1))
	c := testCoordinator(api)
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	// Later events win regardless of content - no reordering or merging.
	for _, volume := range []int{70, 30, 90} {
		box := testBox(1)
		box.FanVolume = volume
		c.HandleStreamEvent(moodo.StreamEvent{Box: box})
	}

	box, _ := c.Box(1)
	if box.FanVolume != 90 {
		t.Errorf("FanVolume = %d, want 90 (last event in receipt order)", box.FanVolume)
	}
}

func TestAvailableFavorites_MatchesCapsuleSet(t *testing.T) {
	api := newMockAPI(testBox(1)) // Installed capsules: {3, 7, 9}
	api.favorites = []moodo.Favorite{
		{
			ID: "match", Title: "Match",
			Settings: []moodo.FavoriteSetting{
				// Same capsules, different order: still a match.
				{CapsuleTypeCode: intPtr(9)},
				{CapsuleTypeCode: intPtr(3)},
				{CapsuleTypeCode: intPtr(7)},
			},
		},
		{
			ID: "mismatch", Title: "Mismatch",
			Settings: []moodo.FavoriteSetting{
				{CapsuleTypeCode: intPtr(3)},
				{CapsuleTypeCode: intPtr(4)},
			},
		},
	}
	c := testCoordinator(api)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer c.Stop()

	favs := c.AvailableFavorites(1)
	if len(favs) != 1 || favs[0].ID != "match" {
		t.Errorf("AvailableFavorites() = %+v, want only the matching favorite", favs)
	}

	if _, ok := c.FavoriteByTitle(1, "Mismatch"); ok {
		t.Error("FavoriteByTitle should not resolve a non-matching favorite")
	}
}
