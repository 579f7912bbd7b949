// Package webapp wraps the Telegram WebApp host bridge: it locates the host, captures
// the viewer's identity and forwards the signed init data to the backend.
package webapp

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
)

// InitDataUnsafe is the parsed, unverified view of the host's init data.
type InitDataUnsafe struct {
	QueryID  string
	User     *Identity
	AuthDate int64
	Hash     string
}

// Host is the surface of the Telegram WebApp bridge the dashboard consumes.
type Host interface {
	// Ready signals the host that the app finished loading.
	Ready()
	// Expand asks the host for full-viewport presentation.
	Expand()
	// Close asks the host to close the Mini App.
	Close()
	// InitData returns the raw signed init data string.
	InitData() string
	// InitDataUnsafe returns the parsed init data without verification.
	InitDataUnsafe() InitDataUnsafe
}

// Locator returns the host bridge or nil when it has not been injected (yet).
type Locator func() Host

var ErrMalformedInitData = errors.New("malformed init data")

// ParseInitData decodes a raw init data query string. Missing fields are left zero;
// only undecodable values are errors.
func ParseInitData(raw string) (InitDataUnsafe, error) {
	values, err := url.ParseQuery(strings.TrimPrefix(strings.TrimSpace(raw), "?"))
	if err != nil {
		return InitDataUnsafe{}, fmt.Errorf("%w: %v", ErrMalformedInitData, err)
	}

	data := InitDataUnsafe{
		QueryID: values.Get("query_id"),
		Hash:    values.Get("hash"),
	}

	if v := values.Get("auth_date"); v != "" {
		authDate, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return InitDataUnsafe{}, fmt.Errorf("%w: auth_date: %v", ErrMalformedInitData, err)
		}
		data.AuthDate = authDate
	}

	if v := values.Get("user"); v != "" {
		var user Identity
		if err := json.Unmarshal([]byte(v), &user); err != nil {
			return InitDataUnsafe{}, fmt.Errorf("%w: user: %v", ErrMalformedInitData, err)
		}
		data.User = &user
	}

	return data, nil
}

// LaunchHost is a Host backed by init data handed to the process at launch.
type LaunchHost struct {
	raw    string
	parsed InitDataUnsafe
	log    *slog.Logger

	mu       sync.Mutex
	ready    bool
	expanded bool
	closed   bool
	onClose  func()
}

var _ Host = (*LaunchHost)(nil)

// NewLaunchHost parses raw and returns a host; onClose runs when the app asks to close.
func NewLaunchHost(raw string, onClose func(), log *slog.Logger) (*LaunchHost, error) {
	parsed, err := ParseInitData(raw)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}

	return &LaunchHost{raw: raw, parsed: parsed, onClose: onClose, log: log}, nil
}

func (h *LaunchHost) Ready() {
	h.mu.Lock()
	h.ready = true
	h.mu.Unlock()
	h.log.Debug("webapp host ready")
}

func (h *LaunchHost) Expand() {
	h.mu.Lock()
	h.expanded = true
	h.mu.Unlock()
	h.log.Debug("webapp host expanded")
}

func (h *LaunchHost) Close() {
	h.mu.Lock()
	already := h.closed
	h.closed = true
	onClose := h.onClose
	h.mu.Unlock()

	if already {
		return
	}

	h.log.Info("webapp host closing")
	if onClose != nil {
		onClose()
	}
}

func (h *LaunchHost) InitData() string {
	return h.raw
}

func (h *LaunchHost) InitDataUnsafe() InitDataUnsafe {
	data := h.parsed
	if data.User != nil {
		user := *data.User
		data.User = &user
	}
	return data
}

// Signals reports which lifecycle requests the app has made.
func (h *LaunchHost) Signals() (ready, expanded, closed bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ready, h.expanded, h.closed
}

// StaticLocator serves a host built from raw; an empty or malformed string means no host.
func StaticLocator(raw string, onClose func(), log *slog.Logger) Locator {
	if log == nil {
		log = slog.Default()
	}

	var (
		once sync.Once
		host Host
	)

	return func() Host {
		once.Do(func() {
			if strings.TrimSpace(raw) == "" {
				return
			}
			h, err := NewLaunchHost(raw, onClose, log)
			if err != nil {
				log.Warn("ignoring malformed launch init data", slog.Any("error", err))
				return
			}
			host = h
		})
		return host
	}
}

// FileLocator serves a host once a launcher has written init data to path.
func FileLocator(path string, onClose func(), log *slog.Logger) Locator {
	if log == nil {
		log = slog.Default()
	}

	var (
		mu   sync.Mutex
		host Host
	)

	return func() Host {
		mu.Lock()
		defer mu.Unlock()

		if host != nil {
			return host
		}

		data, err := os.ReadFile(path)
		if err != nil || strings.TrimSpace(string(data)) == "" {
			return nil
		}

		h, err := NewLaunchHost(strings.TrimSpace(string(data)), onClose, log)
		if err != nil {
			log.Warn("ignoring malformed init data file", slog.String("path", path), slog.Any("error", err))
			return nil
		}

		host = h
		return host
	}
}

// FirstLocator tries each locator in order.
func FirstLocator(locators ...Locator) Locator {
	return func() Host {
		for _, locate := range locators {
			if locate == nil {
				continue
			}
			if host := locate(); host != nil {
				return host
			}
		}
		return nil
	}
}
