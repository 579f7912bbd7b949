package webapp

import (
	"context"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/Proton-105/himera-analytics/internal/errors"
	"github.com/Proton-105/himera-analytics/pkg/metrics"
)

// InitDataHeader carries the raw init data to the backend.
const InitDataHeader = "X-Telegram-Init-Data"

// Option customizes a Bridge.
type Option func(*Bridge)

// WithPollPolicy overrides how long the bridge waits for the host.
func WithPollPolicy(policy PollPolicy) Option {
	return func(b *Bridge) { b.policy = policy }
}

// WithSignatureCheck enables the advisory init data signature check.
func WithSignatureCheck(botToken string, maxAge time.Duration) Option {
	return func(b *Bridge) {
		b.botToken = botToken
		b.maxAge = maxAge
	}
}

// WithClock replaces time.Now, used for the auth_date fallback.
func WithClock(now func() time.Time) Option {
	return func(b *Bridge) {
		if now != nil {
			b.now = now
		}
	}
}

// Bridge owns the session's AuthState. Initialize settles it once; Logout ends it.
type Bridge struct {
	locate   Locator
	policy   PollPolicy
	log      *slog.Logger
	botToken string
	maxAge   time.Duration
	now      func() time.Time

	initOnce sync.Once
	mu       sync.RWMutex
	host     Host
	state    AuthState
	failure  *apperrors.AppError
}

// NewBridge builds a bridge that finds the host through locate.
func NewBridge(locate Locator, log *slog.Logger, opts ...Option) *Bridge {
	if log == nil {
		log = slog.Default()
	}

	b := &Bridge{
		locate: locate,
		policy: DefaultPollPolicy(),
		log:    log,
		now:    time.Now,
		state:  Uninitialized(),
	}
	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Initialize waits for the host, captures the identity and settles the AuthState.
// Only the first call does any work; later calls return the current state.
func (b *Bridge) Initialize(ctx context.Context) AuthState {
	b.initOnce.Do(func() {
		next, host, failure := b.authenticate(ctx)

		b.mu.Lock()
		applied := b.transitionLocked(next)
		if applied {
			b.host = host
			b.failure = failure
		}
		b.mu.Unlock()

		if !applied {
			// the session ended before the host answered
			if host != nil {
				host.Close()
			}
			return
		}

		metrics.RecordAuthOutcome(string(next.Status), next.Reason)
		if next.IsAuthenticated() {
			b.log.Info("telegram auth succeeded", slog.Int64("user_id", next.Identity.ID))
		}
	})

	return b.State()
}

func (b *Bridge) authenticate(ctx context.Context) (AuthState, Host, *apperrors.AppError) {
	host, err := Acquire(ctx, b.locate, b.policy)
	if err != nil {
		return Unauthenticated(ReasonHostUnavailable), nil, apperrors.NewHostUnavailableError()
	}

	// fire-and-forget, the host may be slow to react
	go func() {
		defer func() {
			if r := recover(); r != nil {
				b.log.Error("webapp host panicked on ready/expand", slog.Any("panic", r))
			}
		}()
		host.Ready()
		host.Expand()
	}()

	data := host.InitDataUnsafe()
	if data.User == nil {
		return Unauthenticated(ReasonNoIdentity), host, apperrors.NewIdentityMissingError()
	}
	if data.Hash == "" {
		return Unauthenticated(ReasonInvalidAuthData), host, apperrors.NewAuthDataInvalidError()
	}

	if b.botToken != "" {
		if err := ValidateSignature(host.InitData(), b.botToken, b.maxAge, b.now()); err != nil {
			b.log.Warn("init data failed local signature check; deferring to backend", slog.Any("error", err))
		}
	}

	identity := *data.User
	identity.AuthDate = data.AuthDate
	if identity.AuthDate == 0 {
		identity.AuthDate = b.now().Unix()
	}
	identity.Hash = data.Hash

	return Authenticated(identity), host, nil
}

// State returns a copy of the current AuthState.
func (b *Bridge) State() AuthState {
	b.mu.RLock()
	defer b.mu.RUnlock()

	state := b.state
	if state.Identity != nil {
		identity := *state.Identity
		state.Identity = &identity
	}
	return state
}

// Failure returns the typed error behind an Unauthenticated state, if any.
func (b *Bridge) Failure() *apperrors.AppError {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.failure
}

// AuthHeaders returns the credential header while a host is present and the session is
// authenticated, else an empty map.
func (b *Bridge) AuthHeaders() map[string]string {
	b.mu.RLock()
	host := b.host
	authenticated := b.state.IsAuthenticated()
	b.mu.RUnlock()

	if host == nil || !authenticated {
		return map[string]string{}
	}

	return map[string]string{InitDataHeader: host.InitData()}
}

// Logout drops the session and asks the host to close the Mini App. Safe to call repeatedly.
func (b *Bridge) Logout() {
	b.mu.Lock()
	host := b.host
	b.host = nil
	b.failure = nil
	if b.state.Status == StatusUnauthenticated {
		b.state = Unauthenticated(ReasonNone)
	} else {
		b.transitionLocked(Unauthenticated(ReasonNone))
	}
	b.mu.Unlock()

	if host != nil {
		b.log.Info("logging out of webapp session")
		host.Close()
	}
}

// HealthCheck reports whether the session is authenticated.
func (b *Bridge) HealthCheck(ctx context.Context) error {
	state := b.State()
	if state.IsAuthenticated() {
		return nil
	}
	if state.Status == StatusUninitialized {
		return apperrors.NewStateError("telegram auth not initialized")
	}
	if failure := b.Failure(); failure != nil {
		return failure
	}
	return apperrors.NewStateError("telegram session ended")
}

func (b *Bridge) transitionLocked(next AuthState) bool {
	from := b.state.Status
	if !IsTransitionAllowed(from, next.Status) {
		b.log.Warn("invalid auth state transition", slog.String("from", string(from)), slog.String("to", string(next.Status)))
		return false
	}

	metrics.RecordAuthTransition(string(from), string(next.Status))
	b.state = next
	return true
}
