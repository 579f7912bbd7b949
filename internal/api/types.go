package api

import "time"

// DateLayout is the wire format for dates in query parameters and responses.
const DateLayout = "2006-01-02"

// Pagination defaults applied when a caller leaves page or limit at zero.
const (
	DefaultPage  = 1
	DefaultLimit = 100
)

// BotStatusActive marks a bot that is currently serving users.
const BotStatusActive = "ACTIVE"

// Bot is a managed bot owned by the viewer.
type Bot struct {
	UID        int64          `json:"uid"`
	BotID      int64          `json:"bot_id"`
	Username   string         `json:"username"`
	AdminID    int64          `json:"admin_id"`
	RefPercent float64        `json:"ref_percent"`
	Balance    float64        `json:"balance"`
	Status     string         `json:"status"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// Active reports whether the bot is in the ACTIVE status.
func (b Bot) Active() bool {
	return b.Status == BotStatusActive
}

// AnalyticsPoint holds the per-day counters for one bot.
type AnalyticsPoint struct {
	Date          string `json:"date"`
	Registrations int64  `json:"registrations"`
	Payments      int64  `json:"payments"`
	Trials        int64  `json:"trials"`
	Keys          int64  `json:"keys"`
	Renewals      int64  `json:"renewals"`
}

// Day parses Date.
func (p AnalyticsPoint) Day() (time.Time, error) {
	return time.Parse(DateLayout, p.Date)
}

// User is an end user of a managed bot.
type User struct {
	UID        int64          `json:"uid"`
	UserID     int64          `json:"user_id"`
	Username   string         `json:"username,omitempty"`
	Invited    string         `json:"invited,omitempty"`
	RegDate    string         `json:"reg_date"`
	RefPercent float64        `json:"ref_percent"`
	BotID      int64          `json:"bot_id"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// Payment is a single bill paid through a managed bot.
type Payment struct {
	BillID   string         `json:"bill_id"`
	UserID   int64          `json:"user_id"`
	BotID    int64          `json:"bot_id"`
	Provider string         `json:"provider"`
	Amount   float64        `json:"amount"`
	Currency string         `json:"currency"`
	Status   string         `json:"status"`
	Date     string         `json:"date"`
	Meta     map[string]any `json:"meta,omitempty"`
}

// SubscriptionStatus filters subscriptions.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "Active"
	SubscriptionExpired  SubscriptionStatus = "Expired"
	SubscriptionNotified SubscriptionStatus = "Notified"
)

// Subscription is a user's key subscription.
type Subscription struct {
	UID       int64              `json:"uid"`
	SubUID    string             `json:"sub_uid"`
	SubURL    string             `json:"sub_url"`
	UserID    int64              `json:"user_id"`
	BotID     int64              `json:"bot_id"`
	Status    SubscriptionStatus `json:"status"`
	StartDate string             `json:"start_date"`
	StopDate  string             `json:"stop_date"`
	Meta      map[string]any     `json:"meta"`
	Keys      map[string]any     `json:"keys"`
}

// Summary aggregates totals for one bot.
type Summary struct {
	TotalUsers     int64   `json:"total_users"`
	ActiveUsers    int64   `json:"active_users"`
	NewUsersMonth  int64   `json:"new_users_month"`
	TotalRevenue   float64 `json:"total_revenue"`
	MonthlyRevenue float64 `json:"monthly_revenue"`
	AverageCheck   float64 `json:"average_check"`
}

// Page is one page of a paginated list.
type Page[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

// Pagination selects a page; zero values fall back to DefaultPage and DefaultLimit.
type Pagination struct {
	Page  int
	Limit int
}

func (p Pagination) normalized() Pagination {
	if p.Page <= 0 {
		p.Page = DefaultPage
	}
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	return p
}

// PaymentsFilter narrows payments to a date window; zero times are omitted.
type PaymentsFilter struct {
	Start time.Time
	End   time.Time
}

// VerifyResult is the backend's answer to an init data verification.
type VerifyResult struct {
	User  User   `json:"user"`
	Token string `json:"token"`
}

// FormatDate renders t's own calendar date; the value is not shifted to another zone.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}
