package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
)

// dialect captures the differences between the SQL backends: placeholder
// syntax and how integrity violations are reported.
type dialect struct {
	name     string
	rebind   func(query string) string
	classify func(err error) constraintKind
}

// sqlStore implements Store over database/sql. Queries are written with "?"
// placeholders and rebound for the active dialect.
type sqlStore struct {
	db *sql.DB
	d  dialect
}

type rowScanner interface {
	Scan(dest ...any) error
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *sqlStore) q(query string) string { return s.d.rebind(query) }

func rebindNone(query string) string { return query }

// rebindDollar rewrites "?" placeholders as $1, $2, ...
func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

func (s *sqlStore) count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.q(query), args...).Scan(&n)
	return n, err
}

func (p Page) bounds() (limit, offset int) {
	limit, offset = p.Limit, p.Offset
	if limit <= 0 {
		limit = math.MaxInt32
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func affectedOrNotFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// --- Users ---

const userColumns = "id, external_id, username, password_hash, role, created_at"

func scanUser(row rowScanner) (*User, error) {
	var u User
	var ext sql.NullString
	if err := row.Scan(&u.ID, &ext, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.ExternalID = ext.String
	return &u, nil
}

func (s *sqlStore) CreateUser(ctx context.Context, user *User) error {
	var ext sql.NullString
	if user.ExternalID != "" {
		ext = sql.NullString{String: user.ExternalID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, s.q(
		"INSERT INTO users (id, external_id, username, password_hash, role, created_at) VALUES (?, ?, ?, ?, ?, ?)"),
		user.ID, ext, user.Username, user.PasswordHash, user.Role, user.CreatedAt,
	)
	return mapConstraint(s.d.classify, err, ErrDuplicateUser, nil)
}

func (s *sqlStore) getUserBy(ctx context.Context, column string, value string) (*User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx,
		s.q("SELECT "+userColumns+" FROM users WHERE "+column+" = ?"), value))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

func (s *sqlStore) GetUser(ctx context.Context, username string) (*User, error) {
	return s.getUserBy(ctx, "username", username)
}

func (s *sqlStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	return s.getUserBy(ctx, "id", id)
}

func (s *sqlStore) GetUserByExternalID(ctx context.Context, externalID string) (*User, error) {
	return s.getUserBy(ctx, "external_id", externalID)
}

func (s *sqlStore) ListUsers(ctx context.Context, page Page) ([]User, int, error) {
	total, err := s.count(ctx, "SELECT COUNT(*) FROM users")
	if err != nil {
		return nil, 0, err
	}
	limit, offset := page.bounds()
	rows, err := s.db.QueryContext(ctx,
		s.q("SELECT "+userColumns+" FROM users ORDER BY username LIMIT ? OFFSET ?"), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = rows.Close() }()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, *u)
	}
	return users, total, rows.Err()
}

// --- Currencies ---

const currencyColumns = "id, name, symbol, code, created_at, updated_at"

func scanCurrency(row rowScanner) (*Currency, error) {
	var c Currency
	if err := row.Scan(&c.ID, &c.Name, &c.Symbol, &c.Code, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *sqlStore) CreateCurrency(ctx context.Context, c *Currency) error {
	_, err := s.db.ExecContext(ctx, s.q(
		"INSERT INTO currencies (id, name, symbol, code, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)"),
		c.ID, c.Name, c.Symbol, c.Code, c.CreatedAt, c.UpdatedAt,
	)
	return mapConstraint(s.d.classify, err, ErrDuplicateCurrencyCode, nil)
}

func (s *sqlStore) GetCurrency(ctx context.Context, id string) (*Currency, error) {
	c, err := scanCurrency(s.db.QueryRowContext(ctx,
		s.q("SELECT "+currencyColumns+" FROM currencies WHERE id = ?"), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (s *sqlStore) ListCurrencies(ctx context.Context, page Page) ([]Currency, int, error) {
	total, err := s.count(ctx, "SELECT COUNT(*) FROM currencies")
	if err != nil {
		return nil, 0, err
	}
	limit, offset := page.bounds()
	rows, err := s.db.QueryContext(ctx,
		s.q("SELECT "+currencyColumns+" FROM currencies ORDER BY code, id LIMIT ? OFFSET ?"), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = rows.Close() }()

	var out []Currency
	for rows.Next() {
		c, err := scanCurrency(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *c)
	}
	return out, total, rows.Err()
}

func (s *sqlStore) UpdateCurrency(ctx context.Context, c *Currency) error {
	res, err := s.db.ExecContext(ctx, s.q(
		"UPDATE currencies SET name = ?, symbol = ?, code = ?, updated_at = ? WHERE id = ?"),
		c.Name, c.Symbol, c.Code, c.UpdatedAt, c.ID,
	)
	if err != nil {
		return mapConstraint(s.d.classify, err, ErrDuplicateCurrencyCode, nil)
	}
	return affectedOrNotFound(res)
}

func (s *sqlStore) DeleteCurrency(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.q("DELETE FROM currencies WHERE id = ?"), id)
	if err != nil {
		return mapConstraint(s.d.classify, err, nil, ErrCurrencyProtected)
	}
	return affectedOrNotFound(res)
}

// --- Categories ---

const categoryColumns = "id, name, emoji, icon, background_color, parent_id, created_at, updated_at"

func scanCategory(row rowScanner) (*Category, error) {
	var c Category
	var emoji, icon, color, parent sql.NullString
	if err := row.Scan(&c.ID, &c.Name, &emoji, &icon, &color, &parent, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Emoji = stringPtr(emoji)
	c.Icon = stringPtr(icon)
	c.BackgroundColor = stringPtr(color)
	c.ParentID = stringPtr(parent)
	return &c, nil
}

func (s *sqlStore) CreateCategory(ctx context.Context, c *Category) error {
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO categories (id, name, emoji, icon, background_color, parent_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		c.ID, c.Name, nullString(c.Emoji), nullString(c.Icon), nullString(c.BackgroundColor),
		nullString(c.ParentID), c.CreatedAt, c.UpdatedAt,
	)
	return mapConstraint(s.d.classify, err, nil, ErrInvalidReference)
}

func (s *sqlStore) GetCategory(ctx context.Context, id string) (*Category, error) {
	c, err := scanCategory(s.db.QueryRowContext(ctx,
		s.q("SELECT "+categoryColumns+" FROM categories WHERE id = ?"), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (s *sqlStore) ListCategories(ctx context.Context, page Page) ([]Category, int, error) {
	total, err := s.count(ctx, "SELECT COUNT(*) FROM categories")
	if err != nil {
		return nil, 0, err
	}
	limit, offset := page.bounds()
	rows, err := s.db.QueryContext(ctx,
		s.q("SELECT "+categoryColumns+" FROM categories ORDER BY name, id LIMIT ? OFFSET ?"), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = rows.Close() }()

	var out []Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *c)
	}
	return out, total, rows.Err()
}

func (s *sqlStore) UpdateCategory(ctx context.Context, c *Category) error {
	res, err := s.db.ExecContext(ctx, s.q(
		`UPDATE categories SET name = ?, emoji = ?, icon = ?, background_color = ?, parent_id = ?, updated_at = ?
		 WHERE id = ?`),
		c.Name, nullString(c.Emoji), nullString(c.Icon), nullString(c.BackgroundColor),
		nullString(c.ParentID), c.UpdatedAt, c.ID,
	)
	if err != nil {
		return mapConstraint(s.d.classify, err, nil, ErrInvalidReference)
	}
	return affectedOrNotFound(res)
}

func (s *sqlStore) DeleteCategory(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.q("DELETE FROM categories WHERE id = ?"), id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

// --- Groups ---

const groupColumns = "id, title, description, currency_id, image, created_by, updated_by, created_at, updated_at"

func scanGroup(row rowScanner) (*Group, error) {
	var g Group
	var desc, image, createdBy, updatedBy sql.NullString
	if err := row.Scan(&g.ID, &g.Title, &desc, &g.CurrencyID, &image, &createdBy, &updatedBy, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return nil, err
	}
	g.Description = stringPtr(desc)
	g.Image = stringPtr(image)
	g.CreatedBy = stringPtr(createdBy)
	g.UpdatedBy = stringPtr(updatedBy)
	g.CategoryIDs = []string{}
	return &g, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func (s *sqlStore) insertGroupCategories(ctx context.Context, tx *sql.Tx, groupID string, categoryIDs []string) error {
	for _, cid := range dedupe(categoryIDs) {
		if _, err := tx.ExecContext(ctx, s.q(
			"INSERT INTO group_categories (group_id, category_id) VALUES (?, ?)"), groupID, cid,
		); err != nil {
			return mapConstraint(s.d.classify, err, nil, ErrInvalidReference)
		}
	}
	return nil
}

// seedOwnerMembership gives the group's creator an owner membership. It only
// acts on groups that have a creator and no memberships yet.
func (s *sqlStore) seedOwnerMembership(ctx context.Context, tx *sql.Tx, g *Group) (*Membership, error) {
	if g.CreatedBy == nil {
		return nil, nil
	}

	var existing int
	if err := tx.QueryRowContext(ctx, s.q(
		"SELECT COUNT(*) FROM memberships WHERE group_id = ?"), g.ID,
	).Scan(&existing); err != nil {
		return nil, fmt.Errorf("count memberships: %w", err)
	}
	if existing > 0 {
		return nil, nil
	}

	m := &Membership{
		ID:        uuid.New().String(),
		UserID:    *g.CreatedBy,
		GroupID:   g.ID,
		Role:      RoleOwner,
		CreatedAt: g.CreatedAt,
		UpdatedAt: g.CreatedAt,
	}
	if _, err := tx.ExecContext(ctx, s.q(
		"INSERT INTO memberships (id, user_id, group_id, role, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)"),
		m.ID, m.UserID, m.GroupID, string(m.Role), m.CreatedAt, m.UpdatedAt,
	); err != nil {
		return nil, mapConstraint(s.d.classify, err, ErrDuplicateMembership, ErrInvalidReference)
	}
	return m, nil
}

func (s *sqlStore) CreateGroup(ctx context.Context, g *Group) (*Membership, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.q(
		`INSERT INTO expense_groups (id, title, title_key, description, currency_id, image, created_by, updated_by, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		g.ID, g.Title, titleKey(g.Title), nullString(g.Description), g.CurrencyID, nullString(g.Image),
		nullString(g.CreatedBy), nullString(g.UpdatedBy), g.CreatedAt, g.UpdatedAt,
	); err != nil {
		return nil, mapConstraint(s.d.classify, err, ErrDuplicateTitle, ErrInvalidReference)
	}

	if err := s.insertGroupCategories(ctx, tx, g.ID, g.CategoryIDs); err != nil {
		return nil, err
	}

	seeded, err := s.seedOwnerMembership(ctx, tx, g)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	g.CategoryIDs = dedupe(g.CategoryIDs)
	return seeded, nil
}

// loadCategoryIDs returns the category ids linked to each of the given groups.
func (s *sqlStore) loadCategoryIDs(ctx context.Context, q queryer, groupIDs []string) (map[string][]string, error) {
	out := make(map[string][]string, len(groupIDs))
	if len(groupIDs) == 0 {
		return out, nil
	}
	args := make([]any, len(groupIDs))
	for i, id := range groupIDs {
		args[i] = id
	}
	rows, err := q.QueryContext(ctx, s.q(
		"SELECT group_id, category_id FROM group_categories WHERE group_id IN ("+placeholders(len(groupIDs))+") ORDER BY category_id"),
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var gid, cid string
		if err := rows.Scan(&gid, &cid); err != nil {
			return nil, err
		}
		out[gid] = append(out[gid], cid)
	}
	return out, rows.Err()
}

func (s *sqlStore) GetGroup(ctx context.Context, id string) (*Group, error) {
	g, err := scanGroup(s.db.QueryRowContext(ctx,
		s.q("SELECT "+groupColumns+" FROM expense_groups WHERE id = ?"), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cats, err := s.loadCategoryIDs(ctx, s.db, []string{g.ID})
	if err != nil {
		return nil, err
	}
	if ids, ok := cats[g.ID]; ok {
		g.CategoryIDs = ids
	}
	return g, nil
}

func (s *sqlStore) ListGroups(ctx context.Context, page Page) ([]Group, int, error) {
	total, err := s.count(ctx, "SELECT COUNT(*) FROM expense_groups")
	if err != nil {
		return nil, 0, err
	}
	limit, offset := page.bounds()
	rows, err := s.db.QueryContext(ctx,
		s.q("SELECT "+groupColumns+" FROM expense_groups ORDER BY title, id LIMIT ? OFFSET ?"), limit, offset)
	if err != nil {
		return nil, 0, err
	}

	var groups []Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			_ = rows.Close()
			return nil, 0, err
		}
		groups = append(groups, *g)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, 0, err
	}
	_ = rows.Close()

	ids := make([]string, len(groups))
	for i := range groups {
		ids[i] = groups[i].ID
	}
	cats, err := s.loadCategoryIDs(ctx, s.db, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range groups {
		if c, ok := cats[groups[i].ID]; ok {
			groups[i].CategoryIDs = c
		}
	}
	return groups, total, nil
}

// titleKey is the case-folded form of a group title. It is computed here
// rather than with SQL lower(), which only folds ASCII on SQLite.
func titleKey(title string) string {
	return cases.Fold().String(title)
}

func (s *sqlStore) GroupTitleTaken(ctx context.Context, title, createdBy string) (bool, error) {
	n, err := s.count(ctx,
		"SELECT COUNT(*) FROM expense_groups WHERE title_key = ? AND created_by = ?", titleKey(title), createdBy)
	return n > 0, err
}

// UpdateGroup rewrites the group row and replaces its category links. It
// never touches memberships.
func (s *sqlStore) UpdateGroup(ctx context.Context, g *Group) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, s.q(
		`UPDATE expense_groups SET title = ?, title_key = ?, description = ?, currency_id = ?, image = ?, updated_by = ?, updated_at = ?
		 WHERE id = ?`),
		g.Title, titleKey(g.Title), nullString(g.Description), g.CurrencyID, nullString(g.Image), nullString(g.UpdatedBy), g.UpdatedAt, g.ID,
	)
	if err != nil {
		return mapConstraint(s.d.classify, err, ErrDuplicateTitle, ErrInvalidReference)
	}
	if err := affectedOrNotFound(res); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, s.q("DELETE FROM group_categories WHERE group_id = ?"), g.ID); err != nil {
		return err
	}
	if err := s.insertGroupCategories(ctx, tx, g.ID, g.CategoryIDs); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	g.CategoryIDs = dedupe(g.CategoryIDs)
	return nil
}

// DeleteGroup removes the group. Memberships and category links go with it
// through ON DELETE CASCADE.
func (s *sqlStore) DeleteGroup(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.q("DELETE FROM expense_groups WHERE id = ?"), id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

// --- Memberships ---

const membershipColumns = "id, user_id, group_id, role, created_at, updated_at"

func scanMembership(row rowScanner) (*Membership, error) {
	var m Membership
	var role string
	if err := row.Scan(&m.ID, &m.UserID, &m.GroupID, &role, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.Role = Role(role)
	return &m, nil
}

func (s *sqlStore) CreateMembership(ctx context.Context, m *Membership) error {
	if !m.Role.IsValid() {
		return fmt.Errorf("create membership: invalid role %q", m.Role)
	}
	_, err := s.db.ExecContext(ctx, s.q(
		"INSERT INTO memberships (id, user_id, group_id, role, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)"),
		m.ID, m.UserID, m.GroupID, string(m.Role), m.CreatedAt, m.UpdatedAt,
	)
	return mapConstraint(s.d.classify, err, ErrDuplicateMembership, ErrInvalidReference)
}

func (s *sqlStore) GetMembership(ctx context.Context, id string) (*Membership, error) {
	m, err := scanMembership(s.db.QueryRowContext(ctx,
		s.q("SELECT "+membershipColumns+" FROM memberships WHERE id = ?"), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

func (s *sqlStore) GetMembershipFor(ctx context.Context, userID, groupID string) (*Membership, error) {
	m, err := scanMembership(s.db.QueryRowContext(ctx,
		s.q("SELECT "+membershipColumns+" FROM memberships WHERE user_id = ? AND group_id = ?"), userID, groupID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

func (s *sqlStore) ListMemberships(ctx context.Context, filter MembershipFilter) ([]Membership, int, error) {
	where := " WHERE 1=1"
	var args []any
	if filter.GroupID != "" {
		where += " AND group_id = ?"
		args = append(args, filter.GroupID)
	}
	if filter.UserID != "" {
		where += " AND user_id = ?"
		args = append(args, filter.UserID)
	}

	total, err := s.count(ctx, "SELECT COUNT(*) FROM memberships"+where, args...)
	if err != nil {
		return nil, 0, err
	}

	limit, offset := filter.Page.bounds()
	rows, err := s.db.QueryContext(ctx,
		s.q("SELECT "+membershipColumns+" FROM memberships"+where+" ORDER BY created_at, id LIMIT ? OFFSET ?"),
		append(args, limit, offset)...,
	)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = rows.Close() }()

	var out []Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *m)
	}
	return out, total, rows.Err()
}

func (s *sqlStore) CountMemberships(ctx context.Context, groupID string) (int, error) {
	return s.count(ctx, "SELECT COUNT(*) FROM memberships WHERE group_id = ?", groupID)
}

// UpdateMembership changes the role. User and group are fixed after creation.
func (s *sqlStore) UpdateMembership(ctx context.Context, m *Membership) error {
	if !m.Role.IsValid() {
		return fmt.Errorf("update membership: invalid role %q", m.Role)
	}
	res, err := s.db.ExecContext(ctx, s.q(
		"UPDATE memberships SET role = ?, updated_at = ? WHERE id = ?"),
		string(m.Role), m.UpdatedAt, m.ID,
	)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (s *sqlStore) DeleteMembership(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.q("DELETE FROM memberships WHERE id = ?"), id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

// --- Audit ---

func (s *sqlStore) LogAuditEvent(ctx context.Context, event *AuditEvent) error {
	detail := ""
	if event.Detail != nil {
		detail = string(event.Detail)
	}
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO audit_events (id, action, user_id, group_id, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`),
		event.ID, event.Action, event.UserID, event.GroupID, detail, event.CreatedAt,
	)
	return err
}

func (s *sqlStore) ListAuditEvents(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	query := "SELECT id, action, user_id, group_id, detail, created_at FROM audit_events WHERE 1=1"
	var args []any

	if filter.Action != "" {
		// Exact, case-sensitive prefix match on both drivers; LIKE would treat
		// "_" and "%" as wildcards and ignore case on SQLite.
		query += " AND substr(action, 1, ?) = ?"
		args = append(args, utf8.RuneCountInString(filter.Action), filter.Action)
	}
	if filter.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, filter.UserID)
	}
	if filter.GroupID != "" {
		query += " AND group_id = ?"
		args = append(args, filter.GroupID)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []AuditEvent
	for rows.Next() {
		var e AuditEvent
		var detail string
		if err := rows.Scan(&e.ID, &e.Action, &e.UserID, &e.GroupID, &detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		if detail != "" {
			e.Detail = []byte(detail)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *sqlStore) PurgeOldAuditEvents(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q("DELETE FROM audit_events WHERE created_at < ?"), before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// runMigrations executes idempotent DDL statements in order.
func runMigrations(db *sql.DB, migrations []string) error {
	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n  SQL: %s", err, m)
		}
	}
	return nil
}
