package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/fruitcc/pickupwatch/internal/model"
)

// PostgresHistoryRepo はPostgreSQLを使用した観測履歴リポジトリ。
// 観測ログと変化イベントログの2つの追記専用テーブルを所有する。
type PostgresHistoryRepo struct {
	db *sql.DB
}

// NewPostgresHistoryRepo はPostgresHistoryRepoを生成する。
func NewPostgresHistoryRepo(db *sql.DB) *PostgresHistoryRepo {
	return &PostgresHistoryRepo{db: db}
}

// RecordObservation は観測を1件追記し、同一キーの直近2件を比較して
// 在庫可否が反転していた場合のみ変化イベントを追記する。
//
// 変化検知は書き込んだ直後の行を「現在」、その直前の行を「前回」として
// 評価する必要があるため、挿入と検知を同一トランザクションで行う。
// 直近2件の並び順は (checked_at DESC, id DESC)。checked_atが同時刻でも
// idは挿入順の連番なので、リプレイしても検知結果は変わらない。
func (r *PostgresHistoryRepo) RecordObservation(ctx context.Context, productID, storeID string, available bool, message string, checkedAt time.Time) (*model.ChangeEvent, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, model.NewStorageError("begin observation tx", err)
	}
	defer tx.Rollback()

	if checkedAt.IsZero() {
		checkedAt = time.Now()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO observations (product_id, store_id, is_available, status_message, checked_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		productID, storeID, available, message, checkedAt,
	)
	if err != nil {
		return nil, model.NewStorageError("insert observation", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT is_available FROM observations
		 WHERE product_id = $1 AND store_id = $2
		 ORDER BY checked_at DESC, id DESC
		 LIMIT 2`,
		productID, storeID,
	)
	if err != nil {
		return nil, model.NewStorageError("select latest observations", err)
	}

	var latest []bool
	for rows.Next() {
		var v bool
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return nil, model.NewStorageError("scan latest observations", err)
		}
		latest = append(latest, v)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, model.NewStorageError("iterate latest observations", err)
	}
	rows.Close()

	// 観測が1件しかないキーには「前回」が存在せず、イベントは生成されない。
	// ステータスメッセージだけが変わった場合も可否が同じなら変化ではない。
	var event *model.ChangeEvent
	if len(latest) == 2 && latest[0] != latest[1] {
		previous := latest[1]
		event = &model.ChangeEvent{
			ProductID: productID,
			StoreID:   storeID,
			Previous:  &previous,
			New:       latest[0],
			Message:   message,
			ChangedAt: checkedAt,
		}
		err = tx.QueryRowContext(ctx,
			`INSERT INTO availability_changes (product_id, store_id, previous_status, new_status, status_message, changed_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING id`,
			productID, storeID, previous, latest[0], message, checkedAt,
		).Scan(&event.ID)
		if err != nil {
			return nil, model.NewStorageError("insert change event", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, model.NewStorageError("commit observation tx", err)
	}

	return event, nil
}

// Timeline は観測履歴を新しい順に返す。lookbackHours時間前までを対象とする。
func (r *PostgresHistoryRepo) Timeline(ctx context.Context, filter model.HistoryFilter, lookbackHours int) ([]*model.TimelineEntry, error) {
	query := `
		SELECT o.id, o.product_id, o.store_id, o.is_available, o.status_message, o.checked_at,
		       p.product_name, p.product_url, s.store_name
		FROM observations o
		JOIN products p ON o.product_id = p.id
		JOIN stores s ON o.store_id = s.id
		WHERE o.checked_at > now() - make_interval(hours => $1)`

	args := []any{lookbackHours}
	if filter.ProductID != "" {
		args = append(args, filter.ProductID)
		query += ` AND o.product_id = $2`
	}
	if filter.StoreID != "" {
		args = append(args, filter.StoreID)
		if filter.ProductID != "" {
			query += ` AND o.store_id = $3`
		} else {
			query += ` AND o.store_id = $2`
		}
	}
	query += ` ORDER BY o.checked_at DESC, o.id DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, model.NewStorageError("query timeline", err)
	}
	defer rows.Close()

	var entries []*model.TimelineEntry
	for rows.Next() {
		e := &model.TimelineEntry{}
		if err := rows.Scan(
			&e.ID, &e.ProductID, &e.StoreID, &e.Available, &e.Message, &e.CheckedAt,
			&e.ProductName, &e.ProductURL, &e.StoreName,
		); err != nil {
			return nil, model.NewStorageError("scan timeline", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, model.NewStorageError("iterate timeline", err)
	}

	return entries, nil
}

// Changes は変化イベントを新しい順に返す。lookbackDays日前までを対象とする。
func (r *PostgresHistoryRepo) Changes(ctx context.Context, filter model.HistoryFilter, lookbackDays int) ([]*model.ChangeEntry, error) {
	query := `
		SELECT c.id, c.product_id, c.store_id, c.previous_status, c.new_status, c.status_message, c.changed_at,
		       p.product_name, p.product_url, s.store_name
		FROM availability_changes c
		JOIN products p ON c.product_id = p.id
		JOIN stores s ON c.store_id = s.id
		WHERE c.changed_at > now() - make_interval(days => $1)`

	args := []any{lookbackDays}
	if filter.ProductID != "" {
		args = append(args, filter.ProductID)
		query += ` AND c.product_id = $2`
	}
	if filter.StoreID != "" {
		args = append(args, filter.StoreID)
		if filter.ProductID != "" {
			query += ` AND c.store_id = $3`
		} else {
			query += ` AND c.store_id = $2`
		}
	}
	query += ` ORDER BY c.changed_at DESC, c.id DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, model.NewStorageError("query changes", err)
	}
	defer rows.Close()

	var entries []*model.ChangeEntry
	for rows.Next() {
		e := &model.ChangeEntry{}
		var previous sql.NullBool
		if err := rows.Scan(
			&e.ID, &e.ProductID, &e.StoreID, &previous, &e.New, &e.Message, &e.ChangedAt,
			&e.ProductName, &e.ProductURL, &e.StoreName,
		); err != nil {
			return nil, model.NewStorageError("scan change", err)
		}
		if previous.Valid {
			v := previous.Bool
			e.Previous = &v
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, model.NewStorageError("iterate changes", err)
	}

	return entries, nil
}

// CurrentStatus は既知の全 (Product × Store) ペアの現在状態を返す。
// 一度も観測されていない組み合わせも行として返す（追跡対象の全体像を見せるため）。
func (r *PostgresHistoryRepo) CurrentStatus(ctx context.Context) ([]*model.StatusEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT p.id, p.product_name, s.id, s.store_name,
		        latest.is_available, latest.status_message, latest.checked_at,
		        last_avail.last_available_at
		 FROM products p
		 CROSS JOIN stores s
		 LEFT JOIN LATERAL (
		     SELECT is_available, status_message, checked_at
		     FROM observations
		     WHERE product_id = p.id AND store_id = s.id
		     ORDER BY checked_at DESC, id DESC
		     LIMIT 1
		 ) latest ON true
		 LEFT JOIN LATERAL (
		     SELECT MAX(checked_at) AS last_available_at
		     FROM observations
		     WHERE product_id = p.id AND store_id = s.id AND is_available
		 ) last_avail ON true
		 ORDER BY p.product_name, s.store_name`,
	)
	if err != nil {
		return nil, model.NewStorageError("query current status", err)
	}
	defer rows.Close()

	var entries []*model.StatusEntry
	for rows.Next() {
		e := &model.StatusEntry{}
		var available sql.NullBool
		var message sql.NullString
		var checkedAt, lastAvailableAt sql.NullTime
		if err := rows.Scan(
			&e.ProductID, &e.ProductName, &e.StoreID, &e.StoreName,
			&available, &message, &checkedAt, &lastAvailableAt,
		); err != nil {
			return nil, model.NewStorageError("scan current status", err)
		}
		if available.Valid {
			v := available.Bool
			e.Available = &v
		}
		if message.Valid {
			v := message.String
			e.Message = &v
		}
		if checkedAt.Valid {
			v := checkedAt.Time
			e.CheckedAt = &v
		}
		if lastAvailableAt.Valid {
			v := lastAvailableAt.Time
			e.LastAvailableAt = &v
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, model.NewStorageError("iterate current status", err)
	}

	return entries, nil
}

// Stats は指定キーのlookbackDays日間の統計値を返す。
func (r *PostgresHistoryRepo) Stats(ctx context.Context, productID, storeID string, lookbackDays int) (*model.AvailabilityStats, error) {
	stats := &model.AvailabilityStats{}

	err := r.db.QueryRowContext(ctx,
		`SELECT
		     COUNT(*),
		     COUNT(*) FILTER (WHERE is_available)
		 FROM observations
		 WHERE product_id = $1 AND store_id = $2
		   AND checked_at > now() - make_interval(days => $3)`,
		productID, storeID, lookbackDays,
	).Scan(&stats.TotalChecks, &stats.AvailableCount)
	if err != nil {
		return nil, model.NewStorageError("query observation stats", err)
	}

	err = r.db.QueryRowContext(ctx,
		`SELECT COUNT(*)
		 FROM availability_changes
		 WHERE product_id = $1 AND store_id = $2 AND new_status
		   AND changed_at > now() - make_interval(days => $3)`,
		productID, storeID, lookbackDays,
	).Scan(&stats.TimesBecameAvailable)
	if err != nil {
		return nil, model.NewStorageError("query change stats", err)
	}

	// 観測0件のキーは在庫率0。ゼロ除算もNaNも返さない。
	if stats.TotalChecks > 0 {
		stats.AvailabilityRate = float64(stats.AvailableCount) / float64(stats.TotalChecks) * 100
	}

	return stats, nil
}

// compile-time interface check
var _ HistoryRepository = (*PostgresHistoryRepo)(nil)
