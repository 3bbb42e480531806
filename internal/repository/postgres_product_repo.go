package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/fruitcc/pickupwatch/internal/model"
)

// PostgresProductRepo はPostgreSQLを使用した商品リポジトリ。
type PostgresProductRepo struct {
	db *sql.DB
}

// NewPostgresProductRepo はPostgresProductRepoを生成する。
func NewPostgresProductRepo(db *sql.DB) *PostgresProductRepo {
	return &PostgresProductRepo{db: db}
}

// Upsert はproduct_urlをキーに商品を登録または更新する。
// 既知のURLの場合は商品名とパート番号を最新の観測内容で上書きし、既存行を返す。
func (r *PostgresProductRepo) Upsert(ctx context.Context, name, url string, partNumbers []string) (*model.Product, error) {
	if partNumbers == nil {
		partNumbers = []string{}
	}

	product := &model.Product{}
	var parts pq.StringArray

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO products (id, product_name, product_url, part_numbers, created_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (product_url) DO UPDATE
		     SET product_name = EXCLUDED.product_name,
		         part_numbers = EXCLUDED.part_numbers
		 RETURNING id, product_name, product_url, part_numbers, created_at`,
		uuid.NewString(), name, url, pq.Array(partNumbers),
	).Scan(&product.ID, &product.Name, &product.URL, &parts, &product.CreatedAt)
	if err != nil {
		return nil, model.NewStorageError("upsert product", err)
	}

	product.PartNumbers = parts
	return product, nil
}

// FindByID は指定IDの商品を取得する。見つからない場合はnilを返す。
func (r *PostgresProductRepo) FindByID(ctx context.Context, id string) (*model.Product, error) {
	product := &model.Product{}
	var parts pq.StringArray

	err := r.db.QueryRowContext(ctx,
		`SELECT id, product_name, product_url, part_numbers, created_at
		 FROM products WHERE id = $1`,
		id,
	).Scan(&product.ID, &product.Name, &product.URL, &parts, &product.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, model.NewStorageError("find product", err)
	}

	product.PartNumbers = parts
	return product, nil
}

// List は全商品を作成日時の新しい順に返す。
func (r *PostgresProductRepo) List(ctx context.Context) ([]*model.Product, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, product_name, product_url, part_numbers, created_at
		 FROM products ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, model.NewStorageError("list products", err)
	}
	defer rows.Close()

	var products []*model.Product
	for rows.Next() {
		product := &model.Product{}
		var parts pq.StringArray
		if err := rows.Scan(&product.ID, &product.Name, &product.URL, &parts, &product.CreatedAt); err != nil {
			return nil, model.NewStorageError("scan product", err)
		}
		product.PartNumbers = parts
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, model.NewStorageError("iterate products", err)
	}

	return products, nil
}

// compile-time interface check
var _ ProductRepository = (*PostgresProductRepo)(nil)
