package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/marketchat/internal/logger"
	"github.com/marketchat/internal/model"
)

const callbackCols = `id, shop_id, seller_id, customer_id, scheduled_at, reason, note, status, reminded_at, created_at`

type CallbackRepository struct {
	pool *pgxpool.Pool
}

func NewCallbackRepository(pool *pgxpool.Pool) *CallbackRepository {
	return &CallbackRepository{pool: pool}
}

func scanCallback(s rowScanner, cb *model.ScheduledCallback) error {
	return s.Scan(&cb.ID, &cb.ShopID, &cb.SellerID, &cb.CustomerID, &cb.ScheduledAt, &cb.Reason, &cb.Note,
		&cb.Status, &cb.RemindedAt, &cb.CreatedAt)
}

func (r *CallbackRepository) CreateCallback(ctx context.Context, cb *model.ScheduledCallback) error {
	defer logger.DeferLogDuration("callback.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO scheduled_callbacks (id, shop_id, seller_id, customer_id, scheduled_at, reason, note, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		cb.ID, cb.ShopID, cb.SellerID, cb.CustomerID, cb.ScheduledAt, cb.Reason, cb.Note, cb.Status, cb.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("callbackRepo.CreateCallback: %w", err)
	}
	return nil
}

func (r *CallbackRepository) ListPendingCallbacks(ctx context.Context, sellerID, customerID string) ([]model.ScheduledCallback, error) {
	defer logger.DeferLogDuration("callback.ListPending", time.Now())()
	column, value := "seller_id", sellerID
	if sellerID == "" {
		column, value = "customer_id", customerID
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+callbackCols+` FROM scheduled_callbacks
		 WHERE `+column+` = $1 AND status = 'pending'
		 ORDER BY scheduled_at`, value)
	if err != nil {
		return nil, fmt.Errorf("callbackRepo.ListPendingCallbacks query: %w", err)
	}
	return collectCallbacks(rows, "ListPendingCallbacks")
}

func (r *CallbackRepository) DueCallbacks(ctx context.Context, now time.Time, limit int) ([]model.ScheduledCallback, error) {
	defer logger.DeferLogDuration("callback.Due", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+callbackCols+` FROM scheduled_callbacks
		 WHERE status = 'pending' AND reminded_at IS NULL AND scheduled_at <= $1
		 ORDER BY scheduled_at
		 LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("callbackRepo.DueCallbacks query: %w", err)
	}
	return collectCallbacks(rows, "DueCallbacks")
}

// MarkReminded: несколько инстансов могут выбрать одну строку, напоминание получит только один.
func (r *CallbackRepository) MarkReminded(ctx context.Context, id string, at time.Time) (bool, error) {
	defer logger.DeferLogDuration("callback.MarkReminded", time.Now())()
	if !validID(id) {
		return false, ErrNotFound
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE scheduled_callbacks SET reminded_at = $2 WHERE id = $1 AND reminded_at IS NULL`, id, at)
	if err != nil {
		return false, fmt.Errorf("callbackRepo.MarkReminded: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func collectCallbacks(rows pgx.Rows, op string) ([]model.ScheduledCallback, error) {
	defer rows.Close()
	list := []model.ScheduledCallback{}
	for rows.Next() {
		var cb model.ScheduledCallback
		if err := scanCallback(rows, &cb); err != nil {
			return nil, fmt.Errorf("callbackRepo.%s scan: %w", op, err)
		}
		list = append(list, cb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("callbackRepo.%s rows: %w", op, err)
	}
	return list, nil
}
