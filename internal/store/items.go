package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/erazemk/svezina/internal/model"
)

const itemColumns = `id, name, category, purchase_date, expiry_date, quantity, notes, image_mime, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*model.Item, error) {
	item := &model.Item{}
	var imageMime sql.NullString
	err := row.Scan(&item.ID, &item.Name, &item.Category, &item.PurchaseDate, &item.ExpiryDate,
		&item.Quantity, &item.Notes, &imageMime, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	item.ImageMime = imageMime.String
	return item, nil
}

// CreateItem inserts a new item and returns it with its assigned ID.
// IDs are never reused, even after deletion.
func CreateItem(ctx context.Context, db *sql.DB, item model.Item) (*model.Item, error) {
	result, err := db.ExecContext(ctx,
		`INSERT INTO items (name, category, purchase_date, expiry_date, quantity, notes)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		item.Name, item.Category, item.PurchaseDate, item.ExpiryDate, item.Quantity, item.Notes,
	)
	if err != nil {
		return nil, fmt.Errorf("creating item: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting item id: %w", err)
	}

	return GetItem(ctx, db, id)
}

// GetItem returns an item by ID, or nil if it does not exist.
func GetItem(ctx context.Context, db *sql.DB, id int64) (*model.Item, error) {
	item, err := scanItem(db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = ?`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting item: %w", err)
	}
	return item, nil
}

// ListItems returns items matching filter, oldest first.
func ListItems(ctx context.Context, db *sql.DB, filter model.ItemFilter) ([]model.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items`
	var where []string
	var args []any

	if q := strings.TrimSpace(filter.Query); q != "" {
		where = append(where, `name LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(q)+"%")
	}
	if c := strings.TrimSpace(filter.Category); c != "" {
		where = append(where, `category = ? COLLATE NOCASE`)
		args = append(args, c)
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY id`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// escapeLike escapes LIKE wildcards so the query matches literally.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// UpdateItem replaces an item's editable fields. It reports whether the item
// existed.
func UpdateItem(ctx context.Context, db *sql.DB, id int64, item model.Item) (bool, error) {
	result, err := db.ExecContext(ctx,
		`UPDATE items SET name = ?, category = ?, purchase_date = ?, expiry_date = ?,
		        quantity = ?, notes = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		item.Name, item.Category, item.PurchaseDate, item.ExpiryDate, item.Quantity, item.Notes, id,
	)
	if err != nil {
		return false, fmt.Errorf("updating item: %w", err)
	}
	return affected(result)
}

// DeleteItem removes an item. It reports whether the item existed.
func DeleteItem(ctx context.Context, db *sql.DB, id int64) (bool, error) {
	result, err := db.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("deleting item: %w", err)
	}
	return affected(result)
}

// SetItemImage sets an item's image data.
func SetItemImage(ctx context.Context, db *sql.DB, id int64, image []byte, mime string) (bool, error) {
	result, err := db.ExecContext(ctx,
		`UPDATE items SET image = ?, image_mime = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		image, mime, id,
	)
	if err != nil {
		return false, fmt.Errorf("setting item image: %w", err)
	}
	return affected(result)
}

// GetItemImage returns an item's image data and MIME type. Both are empty if
// the item or its image does not exist.
func GetItemImage(ctx context.Context, db *sql.DB, id int64) ([]byte, string, error) {
	var image []byte
	var mime sql.NullString
	err := db.QueryRowContext(ctx,
		`SELECT image, image_mime FROM items WHERE id = ?`, id,
	).Scan(&image, &mime)
	if err == sql.ErrNoRows {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("getting item image: %w", err)
	}
	return image, mime.String, nil
}

// ClearAll removes every item, scheduled alert and notification. Accounts
// and settings are kept.
func ClearAll(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"items", "alert_jobs", "notifications"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing clear: %w", err)
	}
	return nil
}

func affected(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting affected rows: %w", err)
	}
	return n > 0, nil
}

// Items exposes the item table as a read-only repository.
type Items struct {
	DB *sql.DB
}

// List returns every item.
func (s Items) List(ctx context.Context) ([]model.Item, error) {
	return ListItems(ctx, s.DB, model.ItemFilter{})
}

// Get returns the item with id and whether it exists.
func (s Items) Get(ctx context.Context, id int64) (model.Item, bool, error) {
	item, err := GetItem(ctx, s.DB, id)
	if err != nil || item == nil {
		return model.Item{}, false, err
	}
	return *item, true, nil
}
