package spotify

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"github.com/zmb3/spotify/v2"

	"github.com/osa030/nowplaying/internal/app/engine"
	"github.com/osa030/nowplaying/internal/domain/track"
)

var (
	// ErrNoDevice is returned by Connect when no usable Connect device is found.
	ErrNoDevice = errors.New("no spotify connect device available")
	// ErrNoTrack is returned by transport operations when nothing is loaded.
	ErrNoTrack = errors.New("no track loaded")
	// ErrNotSpotifyTrack is returned by Play for media that is not on Spotify.
	ErrNotSpotifyTrack = errors.New("track is not a spotify track")
)

const (
	eventBufferSize = 32
	// maxPollFailures is the number of consecutive failed state polls after
	// which the device is considered lost.
	maxPollFailures = 5
	// discontinuityMS is the drift between the extrapolated and reported
	// position above which a jump is reported.
	discontinuityMS = 2000
	releaseTimeout  = 5 * time.Second
)

// Settings holds Spotify Connect engine settings.
type Settings struct {
	DeviceName     string `mapstructure:"device_name"`
	StateRefreshMS int    `mapstructure:"state_refresh_ms" default:"1000" validate:"gte=250,lte=10000"`
}

// player is the subset of the Web API used for playback control.
type player interface {
	PlayerDevices(ctx context.Context) ([]spotify.PlayerDevice, error)
	PlayerState(ctx context.Context, opts ...spotify.RequestOption) (*spotify.PlayerState, error)
	TransferPlayback(ctx context.Context, deviceID spotify.ID, play bool) error
	PlayOpt(ctx context.Context, opt *spotify.PlayOptions) error
	PauseOpt(ctx context.Context, opt *spotify.PlayOptions) error
	SeekOpt(ctx context.Context, position int, opt *spotify.PlayOptions) error
}

// Connector attaches to a Spotify Connect device.
type Connector struct {
	api      player
	clock    clock.Clock
	settings Settings
}

// NewConnector creates a connector over c. A nil clock uses the wall clock.
func NewConnector(c *Client, clk clock.Clock, settings Settings) *Connector {
	return newConnector(c.API(), clk, settings)
}

func newConnector(api player, clk clock.Clock, settings Settings) *Connector {
	if clk == nil {
		clk = clock.New()
	}
	if settings.StateRefreshMS <= 0 {
		settings.StateRefreshMS = 1000
	}
	return &Connector{api: api, clock: clk, settings: settings}
}

// Connect picks the configured device, transfers playback to it without
// starting audio and begins watching its state.
func (c *Connector) Connect(ctx context.Context, sessionID string) (engine.Handle, error) {
	devices, err := c.api.PlayerDevices(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list devices")
	}

	device, err := pickDevice(devices, c.settings.DeviceName)
	if err != nil {
		return nil, err
	}

	if err := c.api.TransferPlayback(ctx, device.ID, false); err != nil {
		return nil, errors.Wrapf(err, "transfer playback: device=%s", device.Name)
	}

	zlog.Info().Msgf("spotify: connected: session_id=%s device=%s device_id=%s", sessionID, device.Name, device.ID)
	h := newHandle(c.api, c.clock, device.ID, time.Duration(c.settings.StateRefreshMS)*time.Millisecond)
	h.start()
	return h, nil
}

// pickDevice returns the device named name, or the active device, or the
// first unrestricted one when name is empty.
func pickDevice(devices []spotify.PlayerDevice, name string) (spotify.PlayerDevice, error) {
	if name != "" {
		for _, d := range devices {
			if strings.EqualFold(d.Name, name) {
				if d.Restricted {
					return spotify.PlayerDevice{}, errors.Wrapf(ErrNoDevice, "device %q is restricted", name)
				}
				return d, nil
			}
		}
		return spotify.PlayerDevice{}, errors.Wrapf(ErrNoDevice, "device %q not found", name)
	}

	for _, d := range devices {
		if d.Active && !d.Restricted {
			return d, nil
		}
	}
	for _, d := range devices {
		if !d.Restricted {
			return d, nil
		}
	}
	return spotify.PlayerDevice{}, ErrNoDevice
}

// Handle is a connection to one Spotify Connect device.
type Handle struct {
	api      player
	clock    clock.Clock
	deviceID spotify.ID
	refresh  time.Duration

	mu         sync.Mutex
	current    *track.Track
	want       string // Spotify ID of the current track
	status     engine.Status
	wantPlay   bool // Playback was requested and not paused since
	playing    bool
	progressMS int64
	observedAt time.Time // Time progressMS was last known
	durationMS int64
	itemID     string // Item last reported by the device
	seen       bool   // Device has reported the current track since Play
	failures   int

	events chan engine.Event
	closed bool

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	release sync.Once
}

func newHandle(api player, clk clock.Clock, deviceID spotify.ID, refresh time.Duration) *Handle {
	ctx, cancel := context.WithCancel(context.Background())
	return &Handle{
		api:      api,
		clock:    clk,
		deviceID: deviceID,
		refresh:  refresh,
		status:   engine.StatusIdle,
		events:   make(chan engine.Event, eventBufferSize),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

func (h *Handle) start() {
	ticker := h.clock.Ticker(h.refresh)
	go h.watch(ticker)
}

func (h *Handle) options() *spotify.PlayOptions {
	id := h.deviceID
	return &spotify.PlayOptions{DeviceID: &id}
}

// Play starts t from the beginning on the device.
func (h *Handle) Play(ctx context.Context, t track.Track) error {
	if err := t.Validate(); err != nil {
		return err
	}
	uri, err := trackURI(t)
	if err != nil {
		return err
	}
	if err := h.checkOpen(); err != nil {
		return err
	}

	opts := h.options()
	opts.URIs = []spotify.URI{uri}
	if err := h.api.PlayOpt(ctx, opts); err != nil {
		return errors.Wrapf(err, "play: track=%s", t.ID)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.current = &t
	h.want = extractTrackID(string(uri))
	h.status = engine.StatusReady
	h.wantPlay = true
	h.playing = true
	h.progressMS = 0
	h.observedAt = h.clock.Now()
	h.durationMS = t.DurationMS
	h.seen = false

	zlog.Debug().Msgf("spotify: play: track=%s uri=%s", t.ID, uri)
	h.sendEventLocked(engine.EventTrackChanged)
	h.sendEventLocked(engine.EventPlaybackStateChanged)
	return nil
}

// Pause pauses the device.
func (h *Handle) Pause(ctx context.Context) error {
	if err := h.checkLoaded(); err != nil {
		return err
	}
	if err := h.api.PauseOpt(ctx, h.options()); err != nil {
		return errors.Wrap(err, "pause")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.freezeLocked()
	h.wantPlay = false
	h.sendEventLocked(engine.EventPlayWhenReadyChanged)
	return nil
}

// Resume resumes the device from its current position.
func (h *Handle) Resume(ctx context.Context) error {
	if err := h.checkLoaded(); err != nil {
		return err
	}
	if err := h.api.PlayOpt(ctx, h.options()); err != nil {
		return errors.Wrap(err, "resume")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.freezeLocked()
	h.wantPlay = true
	h.playing = true
	if h.status != engine.StatusReady {
		h.status = engine.StatusReady
	}
	h.sendEventLocked(engine.EventPlayWhenReadyChanged)
	return nil
}

// SeekTo moves the position. Targets outside the track are clamped.
func (h *Handle) SeekTo(ctx context.Context, positionMS int64) error {
	if err := h.checkLoaded(); err != nil {
		return err
	}

	h.mu.Lock()
	target := max(positionMS, 0)
	if h.durationMS > 0 {
		target = min(target, h.durationMS)
	}
	h.mu.Unlock()

	if err := h.api.SeekOpt(ctx, int(target), h.options()); err != nil {
		return errors.Wrapf(err, "seek: position_ms=%d", target)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.progressMS = target
	h.observedAt = h.clock.Now()
	if h.status == engine.StatusEnded {
		h.status = engine.StatusReady
	}
	h.sendEventLocked(engine.EventPositionDiscontinuity)
	return nil
}

// Stop pauses the device and rewinds to the beginning. The track stays loaded.
func (h *Handle) Stop(ctx context.Context) error {
	if err := h.checkOpen(); err != nil {
		return err
	}
	h.mu.Lock()
	loaded := h.current != nil
	h.mu.Unlock()
	if !loaded {
		return nil
	}

	if err := h.api.PauseOpt(ctx, h.options()); err != nil {
		return errors.Wrap(err, "stop")
	}
	if err := h.api.SeekOpt(ctx, 0, h.options()); err != nil {
		return errors.Wrap(err, "stop: rewind")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.wantPlay = false
	h.playing = false
	h.progressMS = 0
	h.observedAt = h.clock.Now()
	h.status = engine.StatusIdle
	h.sendEventLocked(engine.EventPlaybackStateChanged)
	return nil
}

// PositionMS returns the position extrapolated from the last device report.
func (h *Handle) PositionMS() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.positionLocked(h.clock.Now())
}

// DurationMS returns the length of the loaded track.
func (h *Handle) DurationMS() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.durationMS
}

// IsPlaying reports whether the device is audibly playing.
func (h *Handle) IsPlaying() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.playing && h.status == engine.StatusReady
}

// Events returns the push event channel. It is closed by Release or when the
// device stops answering.
func (h *Handle) Events() <-chan engine.Event {
	return h.events
}

// Release stops watching the device and pauses it.
func (h *Handle) Release() error {
	h.release.Do(func() {
		h.cancel()
		<-h.done

		h.mu.Lock()
		playing := h.wantPlay
		h.closeLocked()
		h.mu.Unlock()

		if playing {
			ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			if err := h.api.PauseOpt(ctx, h.options()); err != nil {
				zlog.Warn().Msgf("spotify: pause on release failed: device_id=%s err=%v", h.deviceID, err)
			}
		}
		zlog.Info().Msgf("spotify: released: device_id=%s", h.deviceID)
	})
	return nil
}

func (h *Handle) watch(ticker *clock.Ticker) {
	defer close(h.done)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			if !h.poll() {
				return
			}
		}
	}
}

// poll reads the device state once. It returns false when the device is lost.
func (h *Handle) poll() bool {
	state, err := h.api.PlayerState(h.ctx)
	if err != nil {
		if h.ctx.Err() != nil {
			return false
		}

		h.mu.Lock()
		defer h.mu.Unlock()
		h.failures++
		zlog.Warn().Msgf("spotify: state poll failed: attempt=%d err=%v", h.failures, err)
		if h.failures >= maxPollFailures {
			zlog.Error().Msgf("spotify: device lost: device_id=%s", h.deviceID)
			h.closeLocked()
			return false
		}
		return true
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures = 0
	h.observeLocked(state)
	return true
}

// observeLocked folds a device report into the handle and emits the
// resulting events. Must be called with lock held.
func (h *Handle) observeLocked(state *spotify.PlayerState) {
	now := h.clock.Now()
	var (
		itemID     string
		playing    bool
		progressMS int64
		durationMS int64
	)
	if state != nil {
		playing = state.Playing
		progressMS = int64(state.Progress)
		if state.Item != nil {
			itemID = string(state.Item.ID)
			durationMS = int64(state.Item.Duration)
		}
	}

	if itemID != h.itemID {
		h.itemID = itemID
		zlog.Debug().Msgf("spotify: device item changed: item=%s", itemID)
	}

	if h.current == nil || h.status != engine.StatusReady {
		return
	}

	ours := itemID == h.want
	if ours {
		h.seen = true
	}
	if !h.seen {
		// Device has not switched to the requested track yet.
		return
	}

	if h.endedLocked(ours, playing, progressMS) {
		h.status = engine.StatusEnded
		h.playing = false
		h.progressMS = h.durationMS
		h.observedAt = now
		zlog.Debug().Msgf("spotify: track ended: track=%s", h.current.ID)
		h.sendEventLocked(engine.EventPlaybackStateChanged)
		return
	}
	if !ours {
		return
	}

	expected := h.positionLocked(now)
	if durationMS > 0 {
		h.durationMS = durationMS
	}
	h.progressMS = progressMS
	h.observedAt = now

	if playing != h.playing {
		h.playing = playing
		h.wantPlay = playing
		h.sendEventLocked(engine.EventPlayWhenReadyChanged)
		return
	}
	if playing && abs(progressMS-expected) > discontinuityMS {
		h.sendEventLocked(engine.EventPositionDiscontinuity)
	}
}

// endedLocked reports whether the device finished the current track: it
// moved on to another item, or it stopped on its own at either end of the track.
func (h *Handle) endedLocked(ours, playing bool, progressMS int64) bool {
	if !h.wantPlay {
		return false
	}
	if !ours {
		return true
	}
	if playing || !h.playing {
		return false
	}
	nearEnd := h.durationMS > 0 && progressMS >= h.durationMS-2*h.refresh.Milliseconds()
	return progressMS == 0 || nearEnd
}

func (h *Handle) positionLocked(now time.Time) int64 {
	if h.current == nil {
		return 0
	}
	pos := h.progressMS
	if h.playing && h.status == engine.StatusReady {
		pos += now.Sub(h.observedAt).Milliseconds()
	}
	pos = max(pos, 0)
	if h.durationMS > 0 {
		pos = min(pos, h.durationMS)
	}
	return pos
}

// freezeLocked stores the extrapolated position as the last known one.
func (h *Handle) freezeLocked() {
	now := h.clock.Now()
	h.progressMS = h.positionLocked(now)
	h.observedAt = now
	h.playing = false
}

func (h *Handle) checkOpen() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return engine.ErrReleased
	}
	return nil
}

func (h *Handle) checkLoaded() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return engine.ErrReleased
	}
	if h.current == nil {
		return ErrNoTrack
	}
	return nil
}

func (h *Handle) closeLocked() {
	if h.closed {
		return
	}
	h.closed = true
	close(h.events)
}

// sendEventLocked sends an event without blocking.
// Must be called with lock held.
func (h *Handle) sendEventLocked(typ engine.EventType) {
	if h.closed {
		return
	}
	ev := engine.Event{
		Type:          typ,
		PlayWhenReady: h.wantPlay,
		Status:        h.status,
		PositionMS:    h.positionLocked(h.clock.Now()),
		DurationMS:    h.durationMS,
	}
	if h.current != nil {
		ev.TrackID = h.current.ID
	}
	select {
	case h.events <- ev:
	default:
		zlog.Warn().Msgf("spotify: event dropped, buffer full: type=%s", typ)
	}
}

// trackURI returns the Spotify URI for t from its media reference or ID.
func trackURI(t track.Track) (spotify.URI, error) {
	for _, ref := range []string{t.MediaRef, t.ID} {
		if IsSpotifyRef(ref) {
			return spotify.URI(trackURIPrefix + extractTrackID(ref)), nil
		}
	}
	return "", errors.Wrapf(ErrNotSpotifyTrack, "track=%s media=%s", t.ID, t.MediaRef)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
