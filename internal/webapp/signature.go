package webapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	ErrSignatureMismatch = errors.New("init data signature mismatch")
	ErrInitDataExpired   = errors.New("init data expired")
)

// ValidateSignature checks the init data HMAC the way the backend does. The result is
// advisory on the client: the backend remains the authority on init data validity.
// maxAge of zero skips the freshness check.
func ValidateSignature(raw, botToken string, maxAge time.Duration, now time.Time) error {
	if botToken == "" {
		return errors.New("bot token is required")
	}

	values, err := url.ParseQuery(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedInitData, err)
	}

	received := values.Get("hash")
	if received == "" {
		return fmt.Errorf("%w: hash is missing", ErrMalformedInitData)
	}

	if maxAge > 0 {
		authDate, err := strconv.ParseInt(values.Get("auth_date"), 10, 64)
		if err != nil {
			return fmt.Errorf("%w: auth_date: %v", ErrMalformedInitData, err)
		}
		if now.Sub(time.Unix(authDate, 0)) > maxAge {
			return ErrInitDataExpired
		}
	}

	if !hmac.Equal([]byte(Sign(values, botToken)), []byte(received)) {
		return ErrSignatureMismatch
	}

	return nil
}

// Sign computes the hex HMAC-SHA256 of the data-check-string built from values.
func Sign(values url.Values, botToken string) string {
	pairs := make([]string, 0, len(values))
	for key := range values {
		if key == "hash" {
			continue
		}
		pairs = append(pairs, key+"="+values.Get(key))
	}
	sort.Strings(pairs)

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(botToken))

	mac := hmac.New(sha256.New, secret.Sum(nil))
	mac.Write([]byte(strings.Join(pairs, "\n")))

	return hex.EncodeToString(mac.Sum(nil))
}
