package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/fruitcc/pickupwatch/internal/model"
)

// PostgresStoreRepo はPostgreSQLを使用した店舗リポジトリ。
type PostgresStoreRepo struct {
	db *sql.DB
}

// NewPostgresStoreRepo はPostgresStoreRepoを生成する。
func NewPostgresStoreRepo(db *sql.DB) *PostgresStoreRepo {
	return &PostgresStoreRepo{db: db}
}

// Upsert はstore_nameをキーに店舗を登録する。
// 既知の店舗名の場合は既存行をそのまま返す。店舗は作成後に変更しないため、
// 商品のUpsertと異なりDO UPDATEでの上書きは行わない。
func (r *PostgresStoreRepo) Upsert(ctx context.Context, name, code, location string) (*model.Store, error) {
	store := &model.Store{}
	var storeCode, storeLocation sql.NullString

	// ON CONFLICT DO NOTHINGはRETURNINGで行を返さないため、
	// 重複時は既存行を同一文内のSELECTで取り直す。
	err := r.db.QueryRowContext(ctx,
		`WITH inserted AS (
		     INSERT INTO stores (id, store_name, store_code, location, created_at)
		     VALUES ($1, $2, $3, $4, now())
		     ON CONFLICT (store_name) DO NOTHING
		     RETURNING id, store_name, store_code, location, created_at
		 )
		 SELECT id, store_name, store_code, location, created_at FROM inserted
		 UNION ALL
		 SELECT id, store_name, store_code, location, created_at FROM stores WHERE store_name = $2
		 LIMIT 1`,
		uuid.NewString(), name, nullString(code), nullString(location),
	).Scan(&store.ID, &store.Name, &storeCode, &storeLocation, &store.CreatedAt)
	if err != nil {
		return nil, model.NewStorageError("upsert store", err)
	}

	store.Code = nullStringValue(storeCode)
	store.Location = nullStringValue(storeLocation)
	return store, nil
}

// FindByID は指定IDの店舗を取得する。見つからない場合はnilを返す。
func (r *PostgresStoreRepo) FindByID(ctx context.Context, id string) (*model.Store, error) {
	store := &model.Store{}
	var storeCode, storeLocation sql.NullString

	err := r.db.QueryRowContext(ctx,
		`SELECT id, store_name, store_code, location, created_at
		 FROM stores WHERE id = $1`,
		id,
	).Scan(&store.ID, &store.Name, &storeCode, &storeLocation, &store.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, model.NewStorageError("find store", err)
	}

	store.Code = nullStringValue(storeCode)
	store.Location = nullStringValue(storeLocation)
	return store, nil
}

// List は全店舗を店舗名順に返す。
func (r *PostgresStoreRepo) List(ctx context.Context) ([]*model.Store, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, store_name, store_code, location, created_at
		 FROM stores ORDER BY store_name`,
	)
	if err != nil {
		return nil, model.NewStorageError("list stores", err)
	}
	defer rows.Close()

	var stores []*model.Store
	for rows.Next() {
		store := &model.Store{}
		var storeCode, storeLocation sql.NullString
		if err := rows.Scan(&store.ID, &store.Name, &storeCode, &storeLocation, &store.CreatedAt); err != nil {
			return nil, model.NewStorageError("scan store", err)
		}
		store.Code = nullStringValue(storeCode)
		store.Location = nullStringValue(storeLocation)
		stores = append(stores, store)
	}
	if err := rows.Err(); err != nil {
		return nil, model.NewStorageError("iterate stores", err)
	}

	return stores, nil
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// compile-time interface check
var _ StoreRepository = (*PostgresStoreRepo)(nil)
