package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Product struct {
	ID             string
	SKU            string
	Name           string
	PriceCents     int
	TotalStock     int
	ReservedStock  int
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (p Product) AvailableStock() int { return p.TotalStock - p.ReservedStock }

// Repo: product lookup buat fase Prepare (harga + is_active + stok tersedia).
// Read-only; counter stok cuma boleh ditulis lewat stock.Ledger.
type Repo struct{ DB *pgxpool.Pool }

func (r *Repo) List(ctx context.Context) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, sku, name, price_cents, total_stock, reserved_stock, is_active, created_at, updated_at
		FROM products ORDER BY sku`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.PriceCents, &p.TotalStock, &p.ReservedStock, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ByIDs balikin map product per id; id yang tidak ketemu tidak ada di map.
func (r *Repo) ByIDs(ctx context.Context, ids []string) (map[string]Product, error) {
	if len(ids) == 0 {
		return map[string]Product{}, nil
	}
	params := ""
	args := make([]any, 0, len(ids))
	for i, id := range ids {
		if i > 0 {
			params += ","
		}
		params += fmt.Sprintf("$%d", i+1)
		args = append(args, id)
	}
	rows, err := r.DB.Query(ctx, `
		SELECT id, sku, name, price_cents, total_stock, reserved_stock, is_active, created_at, updated_at
		FROM products WHERE id IN (`+params+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]Product{}
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.PriceCents, &p.TotalStock, &p.ReservedStock, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}
