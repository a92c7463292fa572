// Package store defines the storage interface for splitify and provides SQLite and PostgreSQL implementations.
package store

import (
	"context"
	"encoding/json"
	"time"
)

// Store is the persistence interface for splitify.
//
// Get methods return (nil, nil) when the row does not exist. Update and Delete
// methods return ErrNotFound instead.
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, username string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByExternalID(ctx context.Context, externalID string) (*User, error)
	ListUsers(ctx context.Context, page Page) ([]User, int, error)

	// Currencies
	CreateCurrency(ctx context.Context, c *Currency) error
	GetCurrency(ctx context.Context, id string) (*Currency, error)
	ListCurrencies(ctx context.Context, page Page) ([]Currency, int, error)
	UpdateCurrency(ctx context.Context, c *Currency) error
	DeleteCurrency(ctx context.Context, id string) error

	// Categories
	CreateCategory(ctx context.Context, c *Category) error
	GetCategory(ctx context.Context, id string) (*Category, error)
	ListCategories(ctx context.Context, page Page) ([]Category, int, error)
	UpdateCategory(ctx context.Context, c *Category) error
	DeleteCategory(ctx context.Context, id string) error

	// Groups. CreateGroup persists the group, its category links and the
	// creator's owner membership in one transaction and returns the seeded
	// membership (nil when the group has no creator).
	CreateGroup(ctx context.Context, g *Group) (*Membership, error)
	GetGroup(ctx context.Context, id string) (*Group, error)
	ListGroups(ctx context.Context, page Page) ([]Group, int, error)
	GroupTitleTaken(ctx context.Context, title, createdBy string) (bool, error)
	UpdateGroup(ctx context.Context, g *Group) error
	DeleteGroup(ctx context.Context, id string) error

	// Memberships
	CreateMembership(ctx context.Context, m *Membership) error
	GetMembership(ctx context.Context, id string) (*Membership, error)
	GetMembershipFor(ctx context.Context, userID, groupID string) (*Membership, error)
	ListMemberships(ctx context.Context, filter MembershipFilter) ([]Membership, int, error)
	CountMemberships(ctx context.Context, groupID string) (int, error)
	UpdateMembership(ctx context.Context, m *Membership) error
	DeleteMembership(ctx context.Context, id string) error

	// Audit
	LogAuditEvent(ctx context.Context, event *AuditEvent) error
	ListAuditEvents(ctx context.Context, filter AuditFilter) ([]AuditEvent, error)
	PurgeOldAuditEvents(ctx context.Context, before time.Time) (int64, error)

	// Health
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// Page is an offset window over an ordered list.
type Page struct {
	Limit  int
	Offset int
}

// User is a local account. External identities are linked through ExternalID.
type User struct {
	ID           string    `json:"id"`
	ExternalID   string    `json:"-"` // identity provider subject; empty for builtin users
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"` // "admin" or "user"
	CreatedAt    time.Time `json:"created_at"`
}

// Currency is reference data describing a monetary unit.
type Currency struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Symbol    string    `json:"symbol"`
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Category is a node in the category tree.
type Category struct {
	ID              string
	Name            string
	Emoji           *string
	Icon            *string // media-relative path
	BackgroundColor *string
	ParentID        *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Group is a shared expense-tracking unit.
type Group struct {
	ID          string
	Title       string
	Description *string
	CurrencyID  string
	Image       *string // media-relative path
	CategoryIDs []string
	CreatedBy   *string
	UpdatedBy   *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Membership grants a user a role within a group.
type Membership struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user"`
	GroupID   string    `json:"group"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MembershipFilter narrows ListMemberships. Empty fields match everything.
type MembershipFilter struct {
	GroupID string
	UserID  string
	Page    Page
}

// AuditEvent is a log entry for audit purposes.
type AuditEvent struct {
	ID        string          `json:"id"`
	Action    string          `json:"action"`
	UserID    string          `json:"user_id,omitempty"`
	GroupID   string          `json:"group_id,omitempty"`
	Detail    json.RawMessage `json:"detail,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// AuditFilter specifies criteria for filtering audit events.
type AuditFilter struct {
	Action  string // prefix match
	UserID  string
	GroupID string
	Limit   int
	Offset  int
}
