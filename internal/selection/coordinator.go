// Package selection coordinates bot and date range selection with the analytics fetches
// they trigger.
package selection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Proton-105/himera-analytics/internal/api"
	apperrors "github.com/Proton-105/himera-analytics/internal/errors"
	"github.com/Proton-105/himera-analytics/internal/webapp"
	"github.com/Proton-105/himera-analytics/pkg/metrics"
)

const (
	kindBots      = "bots"
	kindAnalytics = "analytics"
	kindSummary   = "summary"

	storeTimeout = 2 * time.Second
)

// Backend is the part of the analytics API the coordinator drives.
type Backend interface {
	GetUserBots(ctx context.Context, headers map[string]string) ([]api.Bot, error)
	GetBotAnalytics(ctx context.Context, botID int64, start, end time.Time, headers map[string]string) ([]api.AnalyticsPoint, error)
	GetBotSummary(ctx context.Context, botID int64, headers map[string]string) (api.Summary, error)
}

// ErrorHandler turns fetch failures into a user message key.
type ErrorHandler interface {
	Handle(ctx context.Context, err error) (string, bool)
}

// HeaderSource returns the auth headers to attach to the next request.
type HeaderSource func() map[string]string

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithStore enables selection persistence.
func WithStore(store Store) Option {
	return func(c *Coordinator) { c.store = store }
}

// WithErrorHandler routes fetch failures through h.
func WithErrorHandler(h ErrorHandler) Option {
	return func(c *Coordinator) { c.errors = h }
}

// WithLogger sets the coordinator logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Coordinator) {
		if log != nil {
			c.log = log
		}
	}
}

// WithInitialRange sets the range shown before the user picks one.
func WithInitialRange(r DateRange) Option {
	return func(c *Coordinator) {
		if r.Validate() == nil {
			c.rng = r.normalized()
		}
	}
}

// Snapshot is a copy of the coordinator state for rendering.
type Snapshot struct {
	Auth             webapp.AuthState     `json:"auth"`
	Bots             []api.Bot            `json:"bots"`
	SelectedBotID    int64                `json:"selected_bot_id,omitempty"`
	Range            DateRange            `json:"range"`
	Analytics        []api.AnalyticsPoint `json:"analytics"`
	AnalyticsKey     *FetchKey            `json:"analytics_key,omitempty"`
	Summary          *api.Summary         `json:"summary,omitempty"`
	BotsLoading      bool                 `json:"bots_loading"`
	AnalyticsLoading bool                 `json:"analytics_loading"`
	SummaryLoading   bool                 `json:"summary_loading"`
	// Error is the message key of the most recent fetch failure, cleared by the next success.
	Error string `json:"error,omitempty"`
}

type inflight[K comparable] struct {
	seq    uint64
	key    K
	active bool
	cancel context.CancelFunc
}

// stop cancels the running fetch and bumps seq so its completion is dropped.
func (f *inflight[K]) stop() {
	if f.cancel != nil {
		f.cancel()
	}
	f.cancel = nil
	f.active = false
	f.seq++
}

// Coordinator owns the dashboard selection and keeps the fetched data in line with it.
// It is safe for concurrent use; fetches run in their own goroutines and only the one
// issued for the current selection may commit its result.
type Coordinator struct {
	backend Backend
	headers HeaderSource
	store   Store
	errors  ErrorHandler
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	closed       bool
	auth         webapp.AuthState
	bots         []api.Bot
	botsLoaded   bool
	selected     int64
	rng          DateRange
	rangeTouched bool
	analytics    []api.AnalyticsPoint
	analyticsKey *FetchKey
	summary      *api.Summary
	summaryBot   int64
	lastError    string

	botsFetch      inflight[uint64]
	analyticsFetch inflight[FetchKey]
	summaryFetch   inflight[int64]

	deliverMu sync.Mutex
	listeners []func(Snapshot)
}

// New creates a coordinator in the Uninitialized auth state.
func New(backend Backend, headers HeaderSource, opts ...Option) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())

	c := &Coordinator{
		backend: backend,
		headers: headers,
		log:     slog.Default(),
		ctx:     ctx,
		cancel:  cancel,
		auth:    webapp.Uninitialized(),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// OnUpdate registers fn to receive a snapshot after every committed change.
// Deliveries are serialized in commit order, so fn must not call back into methods
// that change the selection.
func (c *Coordinator) OnUpdate(fn func(Snapshot)) {
	if fn == nil {
		return
	}

	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// HandleAuth feeds a new auth state. Entering Authenticated loads the bot list once;
// leaving it cancels every fetch and drops the loaded data.
func (c *Coordinator) HandleAuth(state webapp.AuthState) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	wasAuthenticated := c.auth.IsAuthenticated()
	c.auth = state

	switch {
	case state.IsAuthenticated() && !wasAuthenticated:
		var userID int64
		if state.Identity != nil {
			userID = state.Identity.ID
		}
		c.resetDataLocked()
		c.rangeTouched = false
		c.startBotsLocked(userID)
	case !state.IsAuthenticated() && wasAuthenticated:
		c.resetDataLocked()
		c.selected = 0
		c.log.Info("session ended, selection data dropped")
	}
	c.mu.Unlock()

	c.notify()
}

// SelectBot changes the selected bot by uid. Once the bot list is loaded, only uids in it are accepted.
func (c *Coordinator) SelectBot(botID int64) error {
	c.mu.Lock()
	if c.botsLoaded && !containsBot(c.bots, botID) {
		c.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownBot, botID)
	}
	if botID == c.selected {
		c.mu.Unlock()
		return nil
	}

	c.selected = botID
	c.reconcileLocked()
	userID, saved, persist := c.savedLocked()
	c.mu.Unlock()

	if persist {
		c.persist(userID, saved)
	}
	c.notify()
	return nil
}

// SetDateRange changes the date range. An incomplete range is kept but fetches nothing.
func (c *Coordinator) SetDateRange(r DateRange) error {
	if err := r.Validate(); err != nil {
		return err
	}
	r = r.normalized()

	c.mu.Lock()
	c.rangeTouched = true
	if r.Equal(c.rng) {
		c.mu.Unlock()
		return nil
	}

	c.rng = r
	c.reconcileLocked()
	userID, saved, persist := c.savedLocked()
	c.mu.Unlock()

	if persist {
		c.persist(userID, saved)
	}
	c.notify()
	return nil
}

// Snapshot returns a deep copy of the current state.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Wait blocks until no fetch is in flight.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Close cancels all fetches and stops accepting new ones. It waits for running fetches to return.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.botsFetch.stop()
	c.analyticsFetch.stop()
	c.summaryFetch.stop()
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

func (c *Coordinator) resetDataLocked() {
	c.botsFetch.stop()
	c.analyticsFetch.stop()
	c.summaryFetch.stop()

	c.bots = nil
	c.botsLoaded = false
	c.analytics = nil
	c.analyticsKey = nil
	c.summary = nil
	c.summaryBot = 0
	c.lastError = ""
	metrics.SetBotsLoaded(0)
}

func (c *Coordinator) startBotsLocked(userID int64) {
	ctx, cancel := context.WithCancel(c.ctx)
	c.botsFetch.stop()
	c.botsFetch.active = true
	c.botsFetch.cancel = cancel
	seq := c.botsFetch.seq

	c.wg.Add(1)
	go c.loadBots(ctx, seq, userID)
}

func (c *Coordinator) loadBots(ctx context.Context, seq uint64, userID int64) {
	defer c.wg.Done()

	restored, hasRestored := c.restore(ctx, userID)

	var bots []api.Bot
	err := guard(func() error {
		var err error
		bots, err = c.backend.GetUserBots(ctx, c.authHeaders())
		return err
	})

	c.mu.Lock()
	if c.closed || seq != c.botsFetch.seq {
		c.mu.Unlock()
		metrics.RecordFetch(kindBots, metrics.FetchStale)
		return
	}
	c.botsFetch.active = false
	c.botsFetch.cancel = nil

	if err != nil {
		c.mu.Unlock()
		metrics.RecordFetch(kindBots, metrics.FetchError)
		c.fail(ctx, err, func() bool { return seq == c.botsFetch.seq })
		return
	}

	c.bots = append([]api.Bot(nil), bots...)
	c.botsLoaded = true
	metrics.SetBotsLoaded(len(c.bots))

	if hasRestored && !c.rangeTouched && restored.Range.Validate() == nil {
		c.rng = restored.Range.normalized()
	}
	if c.selected != 0 && !containsBot(c.bots, c.selected) {
		c.selected = 0
	}
	staleRestore := hasRestored && restored.BotID != 0 && !containsBot(c.bots, restored.BotID)
	if c.selected == 0 && hasRestored && !staleRestore {
		c.selected = restored.BotID
	}
	if c.selected == 0 && len(c.bots) > 0 {
		c.selected = c.bots[0].UID
	}
	c.lastError = ""

	c.reconcileLocked()
	_, saved, persist := c.savedLocked()
	c.mu.Unlock()

	metrics.RecordFetch(kindBots, metrics.FetchOK)
	c.log.Info("bot list loaded", slog.Int("count", len(bots)), slog.Int64("user_id", userID))

	if staleRestore {
		c.forget(userID)
	}
	if persist {
		c.persist(userID, saved)
	}
	c.notify()
}

// reconcileLocked starts, keeps or cancels fetches so they match the current selection.
func (c *Coordinator) reconcileLocked() {
	if c.closed {
		return
	}

	authenticated := c.auth.IsAuthenticated()

	key, ok := KeyFor(c.selected, c.rng)
	switch {
	case !authenticated || !ok:
		if c.analyticsFetch.active {
			c.analyticsFetch.stop()
		}
	case c.analyticsFetch.active && c.analyticsFetch.key == key:
		// already loading this key
	case c.analyticsKey != nil && *c.analyticsKey == key:
		if c.analyticsFetch.active {
			c.analyticsFetch.stop()
		}
	default:
		c.startAnalyticsLocked(key, c.rng)
	}

	switch {
	case !authenticated || c.selected == 0:
		if c.summaryFetch.active {
			c.summaryFetch.stop()
		}
	case c.summaryFetch.active && c.summaryFetch.key == c.selected:
		// already loading this bot
	case c.summary != nil && c.summaryBot == c.selected:
		if c.summaryFetch.active {
			c.summaryFetch.stop()
		}
	default:
		c.startSummaryLocked(c.selected)
	}
}

func (c *Coordinator) startAnalyticsLocked(key FetchKey, r DateRange) {
	c.analyticsFetch.stop()

	ctx, cancel := context.WithCancel(c.ctx)
	c.analyticsFetch.active = true
	c.analyticsFetch.key = key
	c.analyticsFetch.cancel = cancel
	seq := c.analyticsFetch.seq

	c.wg.Add(1)
	go c.loadAnalytics(ctx, seq, key, r)
}

func (c *Coordinator) loadAnalytics(ctx context.Context, seq uint64, key FetchKey, r DateRange) {
	defer c.wg.Done()

	var points []api.AnalyticsPoint
	err := guard(func() error {
		var err error
		points, err = c.backend.GetBotAnalytics(ctx, key.BotID, r.From, r.To, c.authHeaders())
		return err
	})

	c.mu.Lock()
	if c.closed || seq != c.analyticsFetch.seq {
		c.mu.Unlock()
		metrics.RecordFetch(kindAnalytics, metrics.FetchStale)
		c.log.Debug("dropping stale analytics result", slog.Int64("bot_id", key.BotID), slog.String("from", key.From), slog.String("to", key.To))
		return
	}
	c.analyticsFetch.active = false
	c.analyticsFetch.cancel = nil

	if err != nil {
		c.mu.Unlock()
		metrics.RecordFetch(kindAnalytics, metrics.FetchError)
		c.fail(ctx, err, func() bool { return seq == c.analyticsFetch.seq })
		return
	}

	committed := key
	c.analytics = append([]api.AnalyticsPoint{}, points...)
	c.analyticsKey = &committed
	c.lastError = ""
	c.mu.Unlock()

	metrics.RecordFetch(kindAnalytics, metrics.FetchOK)
	c.notify()
}

func (c *Coordinator) startSummaryLocked(botID int64) {
	c.summaryFetch.stop()

	ctx, cancel := context.WithCancel(c.ctx)
	c.summaryFetch.active = true
	c.summaryFetch.key = botID
	c.summaryFetch.cancel = cancel
	seq := c.summaryFetch.seq

	c.wg.Add(1)
	go c.loadSummary(ctx, seq, botID)
}

func (c *Coordinator) loadSummary(ctx context.Context, seq uint64, botID int64) {
	defer c.wg.Done()

	var summary api.Summary
	err := guard(func() error {
		var err error
		summary, err = c.backend.GetBotSummary(ctx, botID, c.authHeaders())
		return err
	})

	c.mu.Lock()
	if c.closed || seq != c.summaryFetch.seq {
		c.mu.Unlock()
		metrics.RecordFetch(kindSummary, metrics.FetchStale)
		return
	}
	c.summaryFetch.active = false
	c.summaryFetch.cancel = nil

	if err != nil {
		c.mu.Unlock()
		metrics.RecordFetch(kindSummary, metrics.FetchError)
		c.fail(ctx, err, func() bool { return seq == c.summaryFetch.seq })
		return
	}

	c.summary = &summary
	c.summaryBot = botID
	c.mu.Unlock()

	metrics.RecordFetch(kindSummary, metrics.FetchOK)
	c.notify()
}

// fail reports a fetch failure. Prior data stays in place and nothing is retried.
// current is checked under the lock so a newer fetch's outcome is not overwritten.
func (c *Coordinator) fail(ctx context.Context, err error, current func() bool) {
	key := apperrors.GenericUserMessage
	if c.errors != nil {
		key, _ = c.errors.Handle(ctx, err)
	} else {
		c.log.Error("fetch failed", slog.Any("error", err))
	}

	c.mu.Lock()
	if !c.closed && current() {
		c.lastError = key
	}
	c.mu.Unlock()

	c.notify()
}

func (c *Coordinator) restore(ctx context.Context, userID int64) (Saved, bool) {
	if c.store == nil {
		return Saved{}, false
	}

	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	saved, err := c.store.Load(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrSelectionNotFound) {
			c.log.Warn("failed to restore selection", slog.Int64("user_id", userID), slog.Any("error", err))
		}
		return Saved{}, false
	}

	return saved, true
}

func (c *Coordinator) savedLocked() (int64, Saved, bool) {
	if c.store == nil || !c.auth.IsAuthenticated() || c.auth.Identity == nil {
		return 0, Saved{}, false
	}

	return c.auth.Identity.ID, Saved{BotID: c.selected, Range: c.rng}, true
}

// persist is best-effort; a failed save never blocks the selection change.
func (c *Coordinator) persist(userID int64, saved Saved) {
	ctx, cancel := context.WithTimeout(c.ctx, storeTimeout)
	defer cancel()

	if err := c.store.Save(ctx, userID, saved); err != nil {
		c.log.Warn("failed to persist selection", slog.Int64("user_id", userID), slog.Any("error", err))
	}
}

func (c *Coordinator) forget(userID int64) {
	ctx, cancel := context.WithTimeout(c.ctx, storeTimeout)
	defer cancel()

	if err := c.store.Clear(ctx, userID); err != nil {
		c.log.Warn("failed to clear stale selection", slog.Int64("user_id", userID), slog.Any("error", err))
	}
}

func (c *Coordinator) authHeaders() map[string]string {
	if c.headers == nil {
		return map[string]string{}
	}
	return c.headers()
}

func (c *Coordinator) notify() {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()
	if len(c.listeners) == 0 {
		c.mu.Unlock()
		return
	}
	listeners := append([]func(Snapshot){}, c.listeners...)
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
}

func (c *Coordinator) snapshotLocked() Snapshot {
	s := Snapshot{
		Auth:             c.auth,
		Bots:             append([]api.Bot{}, c.bots...),
		SelectedBotID:    c.selected,
		Range:            c.rng,
		Analytics:        append([]api.AnalyticsPoint{}, c.analytics...),
		BotsLoading:      c.botsFetch.active,
		AnalyticsLoading: c.analyticsFetch.active,
		SummaryLoading:   c.summaryFetch.active,
		Error:            c.lastError,
	}
	if c.auth.Identity != nil {
		identity := *c.auth.Identity
		s.Auth.Identity = &identity
	}
	for i := range s.Bots {
		s.Bots[i].Meta = copyMeta(s.Bots[i].Meta)
	}
	if c.analyticsKey != nil {
		key := *c.analyticsKey
		s.AnalyticsKey = &key
	}
	if c.summary != nil {
		summary := *c.summary
		s.Summary = &summary
	}

	return s
}

// guard runs fn and turns a panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fetch panicked: %v", r)
		}
	}()
	return fn()
}

func containsBot(bots []api.Bot, uid int64) bool {
	for _, bot := range bots {
		if bot.UID == uid {
			return true
		}
	}
	return false
}

func copyMeta(meta map[string]any) map[string]any {
	if meta == nil {
		return nil
	}
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
