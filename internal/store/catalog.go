package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure-Go sqlite driver
)

// codeCleanRE strips everything a registration code cannot contain. Dashes
// and dots survive because printed NIEs carry them (e.g. "P-IRT").
var codeCleanRE = regexp.MustCompile(`[^A-Za-z0-9\-.]`)

// NormalizeCode canonicalizes a registration code for exact lookup:
// uppercase, punctuation and whitespace stripped.
func NormalizeCode(code string) string {
	return strings.ToUpper(codeCleanRE.ReplaceAllString(code, ""))
}

// Catalog is the SQLite-backed product registry and audit log.
type Catalog struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenCatalog opens (or creates) the catalog at path. An empty path opens an
// in-memory database, used by tests.
func OpenCatalog(path string, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create catalog directory: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	// modernc.org/sqlite serializes writes; one connection avoids
	// table-lock contention and keeps :memory: databases coherent.
	db.SetMaxOpenConns(1)

	c := &Catalog{db: db, logger: logger}
	if err := c.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Catalog) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS products (
	id           TEXT PRIMARY KEY,
	code         TEXT,
	name         TEXT NOT NULL,
	manufacturer TEXT,
	dosage_form  TEXT,
	strength     TEXT,
	composition  TEXT,
	category     TEXT,
	status       TEXT,
	updated_at   INTEGER,
	vector_id    INTEGER NOT NULL DEFAULT -1
);
CREATE INDEX IF NOT EXISTS idx_products_code ON products(code);
CREATE INDEX IF NOT EXISTS idx_products_vector_id ON products(vector_id);
CREATE TABLE IF NOT EXISTS lookups (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	code     TEXT NOT NULL,
	decision TEXT NOT NULL,
	ts       INTEGER NOT NULL
);`
	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate catalog: %w", err)
	}
	return nil
}

// Put inserts or replaces a product. The registration code is stored
// normalized so FindByCode is a plain equality lookup.
func (c *Catalog) Put(ctx context.Context, p *Product) error {
	return c.PutBatch(ctx, []*Product{p})
}

// PutBatch upserts products in one transaction.
func (c *Catalog) PutBatch(ctx context.Context, products []*Product) error {
	if len(products) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin catalog tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
INSERT OR REPLACE INTO products
	(id, code, name, manufacturer, dosage_form, strength, composition, category, status, updated_at, vector_id)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare product upsert: %w", err)
	}
	defer stmt.Close()

	for _, p := range products {
		var updated int64
		if !p.UpdatedAt.IsZero() {
			updated = p.UpdatedAt.Unix()
		}
		vid := p.VectorID
		if vid == 0 {
			vid = VectorIDUnassigned
		}
		if _, err := stmt.ExecContext(ctx,
			p.ID, NormalizeCode(p.Code), p.Name, p.Manufacturer, p.DosageForm,
			p.Strength, p.Composition, p.Category, p.Status, updated, vid,
		); err != nil {
			return fmt.Errorf("upsert product %s: %w", p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit catalog tx: %w", err)
	}
	return nil
}

// FindByCode looks up a product by registration code. The input is
// normalized before lookup; a miss returns ErrNotFound.
func (c *Catalog) FindByCode(ctx context.Context, code string) (*Product, error) {
	norm := NormalizeCode(code)
	if norm == "" {
		return nil, ErrNotFound
	}

	row := c.db.QueryRowContext(ctx, selectProducts+" WHERE code = ?", norm)
	p, err := scanProduct(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find by code: %w", err)
	}
	return p, nil
}

// GetByID fetches a single product by catalog id.
func (c *Catalog) GetByID(ctx context.Context, id string) (*Product, error) {
	row := c.db.QueryRowContext(ctx, selectProducts+" WHERE id = ?", id)
	p, err := scanProduct(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get by id: %w", err)
	}
	return p, nil
}

// GetByVectorIDs resolves vector index ids back to products. Unknown ids are
// skipped; result order follows the input order.
func (c *Catalog) GetByVectorIDs(ctx context.Context, ids []int64) ([]*Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := c.db.QueryContext(ctx,
		selectProducts+" WHERE vector_id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, fmt.Errorf("get by vector ids: %w", err)
	}
	defer rows.Close()

	byVID := make(map[int64]*Product, len(ids))
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		byVID[p.VectorID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := byVID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// SetVectorID patches the stable vector index id onto a product row.
func (c *Catalog) SetVectorID(ctx context.Context, productID string, vectorID int64) error {
	res, err := c.db.ExecContext(ctx,
		"UPDATE products SET vector_id = ? WHERE id = ?", vectorID, productID)
	if err != nil {
		return fmt.Errorf("set vector id: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// IterateProducts streams every product in id order through fn. Returning an
// error from fn stops the iteration and propagates it.
func (c *Catalog) IterateProducts(ctx context.Context, fn func(*Product) error) error {
	rows, err := c.db.QueryContext(ctx, selectProducts+" ORDER BY id")
	if err != nil {
		return fmt.Errorf("iterate products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		p, err := scanProduct(rows)
		if err != nil {
			return fmt.Errorf("scan product: %w", err)
		}
		if err := fn(p); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Count returns the number of products in the catalog.
func (c *Catalog) Count(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM products").Scan(&n)
	return n, err
}

// SaveAudit records one verification lookup.
func (c *Catalog) SaveAudit(ctx context.Context, code, decision string) error {
	_, err := c.db.ExecContext(ctx,
		"INSERT INTO lookups (code, decision, ts) VALUES (?, ?, ?)",
		NormalizeCode(code), decision, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save audit: %w", err)
	}
	return nil
}

// RecentAudits returns the latest audit rows, newest first.
func (c *Catalog) RecentAudits(ctx context.Context, limit int) ([]AuditEntry, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT code, decision, ts FROM lookups ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("recent audits: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var ts int64
		if err := rows.Scan(&e.Code, &e.Decision, &ts); err != nil {
			return nil, err
		}
		e.At = time.Unix(ts, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

const selectProducts = `
SELECT id, code, name, manufacturer, dosage_form, strength, composition, category, status, updated_at, vector_id
FROM products`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*Product, error) {
	var p Product
	var code, manufacturer, dosageForm, strength, composition, category, status sql.NullString
	var updated sql.NullInt64

	err := row.Scan(&p.ID, &code, &p.Name, &manufacturer, &dosageForm,
		&strength, &composition, &category, &status, &updated, &p.VectorID)
	if err != nil {
		return nil, err
	}

	p.Code = code.String
	p.Manufacturer = manufacturer.String
	p.DosageForm = dosageForm.String
	p.Strength = strength.String
	p.Composition = composition.String
	p.Category = category.String
	p.Status = status.String
	if updated.Valid && updated.Int64 > 0 {
		p.UpdatedAt = time.Unix(updated.Int64, 0)
	}
	return &p, nil
}
