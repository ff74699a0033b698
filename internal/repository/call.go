package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/marketchat/internal/apperr"
	"github.com/marketchat/internal/logger"
	"github.com/marketchat/internal/model"
)

const callCols = `id, shop_id, seller_id, customer_id, call_type, channel_name, status,
	started_at, ended_at, duration, ended_by, created_at`

type CallRepository struct {
	pool *pgxpool.Pool
}

func NewCallRepository(pool *pgxpool.Pool) *CallRepository {
	return &CallRepository{pool: pool}
}

func scanCall(s rowScanner, c *model.VideoCall) error {
	return s.Scan(&c.ID, &c.ShopID, &c.SellerID, &c.CustomerID, &c.CallType, &c.ChannelName, &c.Status,
		&c.StartedAt, &c.EndedAt, &c.Duration, &c.EndedBy, &c.CreatedAt)
}

func (r *CallRepository) CreateCall(ctx context.Context, c *model.VideoCall) error {
	defer logger.DeferLogDuration("call.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO video_calls (id, shop_id, seller_id, customer_id, call_type, channel_name, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.ShopID, c.SellerID, c.CustomerID, c.CallType, c.ChannelName, c.Status, c.CreatedAt,
	)
	if isUniqueViolation(err) {
		return apperr.Conflict("channel name taken")
	}
	if err != nil {
		return fmt.Errorf("callRepo.CreateCall: %w", err)
	}
	return nil
}

func (r *CallRepository) GetCall(ctx context.Context, id string) (*model.VideoCall, error) {
	defer logger.DeferLogDuration("call.Get", time.Now())()
	if !validID(id) {
		return nil, ErrNotFound
	}
	c := &model.VideoCall{}
	err := scanCall(r.pool.QueryRow(ctx, `SELECT `+callCols+` FROM video_calls WHERE id = $1`, id), c)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("callRepo.GetCall: %w", err)
	}
	return c, nil
}

// TransitionCall is a compare-and-set on status: of two racing transitions
// from the same state exactly one row update succeeds.
func (r *CallRepository) TransitionCall(ctx context.Context, t model.CallTransition) (*model.VideoCall, error) {
	defer logger.DeferLogDuration("call.Transition", time.Now())()
	if !validID(t.CallID) {
		return nil, ErrNotFound
	}
	c := &model.VideoCall{}
	err := scanCall(r.pool.QueryRow(ctx,
		`UPDATE video_calls SET
		   status = $3::text,
		   started_at = CASE
		     WHEN $3::text = 'accepted' THEN $4::timestamptz
		     WHEN $3::text = 'requested' THEN NULL
		     ELSE started_at END,
		   ended_at = CASE WHEN $3::text IN ('completed', 'cancelled') THEN $4::timestamptz ELSE ended_at END,
		   ended_by = CASE WHEN $3::text IN ('completed', 'cancelled') THEN $5::text ELSE ended_by END,
		   duration = CASE
		     WHEN $3::text = 'completed' AND started_at IS NOT NULL
		       THEN GREATEST(0, FLOOR(EXTRACT(EPOCH FROM ($4::timestamptz - started_at))))::int
		     ELSE duration END
		 WHERE id = $1 AND status = $2::text
		 RETURNING `+callCols,
		t.CallID, string(t.From), string(t.To), t.At, t.By), c)
	if errors.Is(err, pgx.ErrNoRows) {
		current, getErr := r.GetCall(ctx, t.CallID)
		if getErr != nil {
			return nil, getErr
		}
		return nil, apperr.InvalidTransition(string(current.Status), string(t.To))
	}
	if err != nil {
		return nil, fmt.Errorf("callRepo.TransitionCall: %w", err)
	}
	return c, nil
}

func (r *CallRepository) ListCalls(ctx context.Context, userID string, role model.SenderRole, limit int) ([]model.VideoCall, error) {
	defer logger.DeferLogDuration("call.List", time.Now())()
	column := "customer_id"
	if role == model.RoleSeller {
		column = "seller_id"
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+callCols+` FROM video_calls WHERE `+column+` = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("callRepo.ListCalls query: %w", err)
	}
	defer rows.Close()

	calls := make([]model.VideoCall, 0, limit)
	for rows.Next() {
		var c model.VideoCall
		if err := scanCall(rows, &c); err != nil {
			return nil, fmt.Errorf("callRepo.ListCalls scan: %w", err)
		}
		calls = append(calls, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("callRepo.ListCalls rows: %w", err)
	}
	return calls, nil
}

func (r *CallRepository) CreateInvoice(ctx context.Context, inv *model.CallInvoice) error {
	defer logger.DeferLogDuration("call.CreateInvoice", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO call_invoices (id, call_id, shop_id, seller_id, customer_id, description, price, quantity, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		inv.ID, inv.CallID, inv.ShopID, inv.SellerID, inv.CustomerID, inv.Description, inv.Price, inv.Quantity,
		inv.ExpiresAt, inv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("callRepo.CreateInvoice: %w", err)
	}
	return nil
}
