package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Roles for subscribers.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Transaction is an observed transaction on the watched address. Immutable
// once absorbed; Hash is the dedup key, Value is in wei.
type Transaction struct {
	Hash  string
	Block uint64
	Time  time.Time
	Value decimal.Decimal
	From  string
	To    string
}

// Subscriber is a chat entitled to notifications. Admins are implicitly
// subscribed and survive unsubscribe attempts and delivery failures.
type Subscriber struct {
	ChatID   int64
	Role     string
	JoinedAt time.Time
}

// IsAdmin reports whether the subscriber holds the admin role.
func (s Subscriber) IsAdmin() bool {
	return s.Role == RoleAdmin
}
