package moodo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/moodo-bridge/internal/infrastructure/config"
)

// maxTrackedRequestIDs bounds the echo-suppression set. Oldest entries are
// evicted first; an evicted ID just means one redundant stream update.
const maxTrackedRequestIDs = 100

// authErrorKeywords are matched against error bodies to classify
// authentication failures the cloud reports with a generic 4xx status.
var authErrorKeywords = []string{
	"credentials", "password", "email", "unauthorized", "authentication", "login",
}

// Client talks to the Moodo REST API.
//
// Commands that mutate box state carry a restful_request_id so the stream
// layer can suppress the echo the cloud sends back for our own actions
// (see ConsumeRequestID).
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	httpClient *http.Client
	baseURL    string
	email      string
	password   string

	mu    sync.Mutex
	token string

	// recentIDs tracks restful_request_id values of our own commands,
	// in insertion order for bounded eviction.
	recentIDs map[string]struct{}
	idOrder   []string
}

// NewClient creates a Moodo REST client from configuration.
//
// The client starts without a session token; call Login before issuing
// any other request, or seed a saved token with SetToken.
func NewClient(cfg config.MoodoConfig) *Client {
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.RESTURL, "/"),
		email:      cfg.Email,
		password:   cfg.Password,
		recentIDs:  make(map[string]struct{}),
	}
}

// Token returns the current session token (empty if not logged in).
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// SetToken seeds a previously obtained session token.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// ConsumeRequestID reports whether the given restful_request_id belongs to
// a command this client recently issued, and removes it from tracking.
//
// The stream layer calls this for every incoming event: a true result means
// the event is an echo of our own command and can be dropped, since the
// optimistic update already reflects it.
func (c *Client) ConsumeRequestID(id string) bool {
	if id == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.recentIDs[id]; !ok {
		return false
	}
	delete(c.recentIDs, id)
	for i, tracked := range c.idOrder {
		if tracked == id {
			c.idOrder = append(c.idOrder[:i], c.idOrder[i+1:]...)
			break
		}
	}
	return true
}

// trackRequestID records a freshly generated restful_request_id, evicting
// the oldest entry once the bound is reached.
func (c *Client) trackRequestID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recentIDs[id] = struct{}{}
	c.idOrder = append(c.idOrder, id)
	if len(c.idOrder) > maxTrackedRequestIDs {
		oldest := c.idOrder[0]
		c.idOrder = c.idOrder[1:]
		delete(c.recentIDs, oldest)
	}
}

// Login authenticates with the stored credentials and retains the
// returned session token for subsequent requests.
//
// Returns:
//   - string: The session token (also stored internally)
//   - error: ErrAuth for rejected credentials, ErrConnection for transport failures
func (c *Client) Login(ctx context.Context) (string, error) {
	body := map[string]any{"email": c.email, "password": c.password}

	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/login", body, false, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", fmt.Errorf("%w: no token in login response", ErrAuth)
	}
	c.SetToken(resp.Token)
	return resp.Token, nil
}

// Relogin re-authenticates with the stored credentials.
// Called by the coordinator when a request fails with ErrAuth
// (typically an expired session token).
func (c *Client) Relogin(ctx context.Context) error {
	_, err := c.Login(ctx)
	return err
}

// Boxes fetches all Moodo boxes for the authenticated account.
func (c *Client) Boxes(ctx context.Context) ([]Box, error) {
	var resp struct {
		Boxes []Box `json:"boxes"`
	}
	if err := c.do(ctx, http.MethodGet, "/boxes", nil, false, &resp); err != nil {
		return nil, err
	}
	return resp.Boxes, nil
}

// GetBox fetches a single box by device key.
func (c *Client) GetBox(ctx context.Context, deviceKey int) (Box, error) {
	return c.boxRequest(ctx, http.MethodGet, fmt.Sprintf("/boxes/%d", deviceKey), nil, false)
}

// PowerOnOptions are the optional parameters for PowerOn.
// Zero values are omitted from the request.
type PowerOnOptions struct {
	FanVolume       *int
	DurationMinutes *int
	FavoriteID      string
}

// PowerOn turns a box on, optionally setting fan volume, a timed duration,
// or a favorite to apply.
func (c *Client) PowerOn(ctx context.Context, deviceKey int, opts PowerOnOptions) (Box, error) {
	body := map[string]any{}
	if opts.FanVolume != nil {
		body["fan_volume"] = *opts.FanVolume
	}
	if opts.DurationMinutes != nil {
		body["duration_minutes"] = *opts.DurationMinutes
	}
	if opts.FavoriteID != "" {
		body["favorite_id"] = opts.FavoriteID
	}
	return c.boxRequest(ctx, http.MethodPost, fmt.Sprintf("/boxes/%d", deviceKey), body, true)
}

// PowerOff turns a box off.
func (c *Client) PowerOff(ctx context.Context, deviceKey int) (Box, error) {
	return c.boxRequest(ctx, http.MethodDelete, fmt.Sprintf("/boxes/%d", deviceKey), nil, false)
}

// SetFanVolume sets the main intensity (0-100) for a box.
func (c *Client) SetFanVolume(ctx context.Context, deviceKey int, fanVolume int) (Box, error) {
	body := map[string]any{"fan_volume": fanVolume}
	return c.boxRequest(ctx, http.MethodPost, fmt.Sprintf("/intensity/%d", deviceKey), body, true)
}

// SetBoxMode switches a box between diffuser and purifier mode.
func (c *Client) SetBoxMode(ctx context.Context, deviceKey int, mode string) (Box, error) {
	body := map[string]any{"box_mode": mode}
	return c.boxRequest(ctx, http.MethodPost, fmt.Sprintf("/mode/%d", deviceKey), body, true)
}

// EnableShuffle enables shuffle mode. This is a single command; the
// interval settings are left untouched.
func (c *Client) EnableShuffle(ctx context.Context, deviceKey int) (Box, error) {
	return c.boxRequest(ctx, http.MethodPost, fmt.Sprintf("/shuffle/%d", deviceKey), nil, false)
}

// DisableShuffle disables shuffle mode.
func (c *Client) DisableShuffle(ctx context.Context, deviceKey int) (Box, error) {
	return c.boxRequest(ctx, http.MethodDelete, fmt.Sprintf("/shuffle/%d", deviceKey), nil, false)
}

// EnableInterval enables interval mode, optionally selecting an interval
// type preset (see IntervalTypes).
func (c *Client) EnableInterval(ctx context.Context, deviceKey int, intervalType *int) (Box, error) {
	body := map[string]any{}
	if intervalType != nil {
		body["interval_type"] = *intervalType
	}
	return c.boxRequest(ctx, http.MethodPost, fmt.Sprintf("/interval/%d", deviceKey), body, true)
}

// DisableInterval disables interval mode.
func (c *Client) DisableInterval(ctx context.Context, deviceKey int) (Box, error) {
	return c.boxRequest(ctx, http.MethodDelete, fmt.Sprintf("/interval/%d", deviceKey), nil, false)
}

// IntervalTypes fetches the cloud's interval mode presets.
func (c *Client) IntervalTypes(ctx context.Context) ([]IntervalType, error) {
	var resp struct {
		IntervalTypes []IntervalType `json:"interval_types"`
	}
	if err := c.do(ctx, http.MethodGet, "/interval", nil, false, &resp); err != nil {
		return nil, err
	}
	return resp.IntervalTypes, nil
}

// SetFanSpeeds updates individual per-slot fan speeds. Slots missing from
// the map are sent as inactive with speed 0, matching the cloud's
// full-replace semantics for PUT /boxes.
func (c *Client) SetFanSpeeds(ctx context.Context, deviceKey int, slots map[int]SlotFanSetting) (Box, error) {
	body := map[string]any{"device_key": deviceKey}
	for slotID := 0; slotID < SlotCount; slotID++ {
		setting, ok := slots[slotID]
		if !ok {
			setting = SlotFanSetting{FanSpeed: 0, FanActive: false}
		}
		body[fmt.Sprintf("settings_slot%d", slotID)] = setting
	}
	return c.boxRequest(ctx, http.MethodPut, "/boxes", body, true)
}

// Favorites fetches all saved scent mixes for the account.
func (c *Client) Favorites(ctx context.Context) ([]Favorite, error) {
	var resp struct {
		Favorites []Favorite `json:"favorites"`
	}
	if err := c.do(ctx, http.MethodGet, "/favorites", nil, false, &resp); err != nil {
		return nil, err
	}
	return resp.Favorites, nil
}

// ApplyFavorite applies a saved scent mix to a box.
func (c *Client) ApplyFavorite(ctx context.Context, favoriteID string, deviceKey int) (Box, error) {
	body := map[string]any{
		"favorite_id": favoriteID,
		"device_key":  deviceKey,
	}
	return c.boxRequest(ctx, http.MethodPatch, "/favorites", body, true)
}

// boxRequest issues a request whose response wraps a single box.
func (c *Client) boxRequest(ctx context.Context, method, endpoint string, body map[string]any, addRequestID bool) (Box, error) {
	var resp struct {
		Box Box `json:"box"`
	}
	if err := c.do(ctx, method, endpoint, body, addRequestID, &resp); err != nil {
		return Box{}, err
	}
	return resp.Box, nil
}

// do executes a request against the Moodo REST API and decodes the
// response into out (which may be nil to discard the body).
//
// Error classification:
//   - 401/403, or error bodies mentioning credentials: ErrAuth
//   - 429: ErrRateLimited
//   - other 4xx/5xx: ErrCommand with the cloud's error message
//   - transport failures and timeouts: ErrConnection
func (c *Client) do(ctx context.Context, method, endpoint string, body map[string]any, addRequestID bool, out any) error {
	if addRequestID {
		if body == nil {
			body = map[string]any{}
		}
		id := uuid.New().String()
		body["restful_request_id"] = id
		c.trackRequestID(id)
	}

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: encoding request: %w", ErrConnection, err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("%w: building request: %w", ErrConnection, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := c.Token(); token != "" {
		req.Header.Set("token", token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: HTTP %d", ErrAuth, resp.StatusCode)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: HTTP 429", ErrRateLimited)
	}
	if resp.StatusCode >= 400 {
		return classifyErrorResponse(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response: %w", ErrConnection, err)
	}
	return nil
}

// classifyErrorResponse turns a 4xx/5xx response into ErrAuth or ErrCommand
// based on the error message the cloud returned.
func classifyErrorResponse(resp *http.Response) error {
	message := fmt.Sprintf("HTTP %d", resp.StatusCode)

	var errBody struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&errBody); err == nil && errBody.Error != "" {
		message = errBody.Error
	}

	lower := strings.ToLower(message)
	for _, keyword := range authErrorKeywords {
		if strings.Contains(lower, keyword) {
			return fmt.Errorf("%w: %s", ErrAuth, message)
		}
	}

	return fmt.Errorf("%w: %s", ErrCommand, message)
}
