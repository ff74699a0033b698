package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/marketchat/internal/logger"
	"github.com/marketchat/internal/model"
)

// conversationCols: порядок соответствует scanConversation.
const conversationCols = `id, shop_id, customer_id, seller_id, last_message, last_message_at, last_message_sender,
	customer_unread, seller_unread, is_active, created_at, updated_at`

// ChatRepository stores conversations and their messages.
type ChatRepository struct {
	pool *pgxpool.Pool
}

func NewChatRepository(pool *pgxpool.Pool) *ChatRepository {
	return &ChatRepository{pool: pool}
}

func scanConversation(s rowScanner, c *model.Conversation) error {
	return s.Scan(&c.ID, &c.ShopID, &c.CustomerID, &c.SellerID, &c.LastMessage, &c.LastMessageAt, &c.LastMessageSender,
		&c.CustomerUnread, &c.SellerUnread, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
}

func (r *ChatRepository) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("conv.Get", time.Now())()
	if !validID(id) {
		return nil, ErrNotFound
	}
	c := &model.Conversation{}
	err := scanConversation(r.pool.QueryRow(ctx,
		`SELECT `+conversationCols+` FROM conversations WHERE id = $1`, id), c)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("chatRepo.GetConversation: %w", err)
	}
	return c, nil
}

// GetOrCreateConversation relies on UNIQUE (customer_id, shop_id): concurrent
// first messages converge on one row. An inactive conversation is reopened.
func (r *ChatRepository) GetOrCreateConversation(ctx context.Context, customerID, shopID, sellerID string, now time.Time) (*model.Conversation, error) {
	defer logger.DeferLogDuration("conv.GetOrCreate", time.Now())()
	c := &model.Conversation{}
	err := scanConversation(r.pool.QueryRow(ctx,
		`INSERT INTO conversations (id, shop_id, customer_id, seller_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 ON CONFLICT (customer_id, shop_id) DO UPDATE
		   SET is_active = TRUE,
		       updated_at = CASE WHEN conversations.is_active THEN conversations.updated_at ELSE EXCLUDED.updated_at END
		 RETURNING `+conversationCols,
		uuid.NewString(), shopID, customerID, sellerID, now.UTC()), c)
	if err != nil {
		return nil, fmt.Errorf("chatRepo.GetOrCreateConversation: %w", err)
	}
	return c, nil
}

func (r *ChatRepository) DeactivateConversation(ctx context.Context, id string) error {
	defer logger.DeferLogDuration("conv.Deactivate", time.Now())()
	if !validID(id) {
		return ErrNotFound
	}
	tag, err := r.pool.Exec(ctx, `UPDATE conversations SET is_active = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("chatRepo.DeactivateConversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ChatRepository) ListConversations(ctx context.Context, userID string, role model.SenderRole, limit, offset int) ([]model.Conversation, error) {
	defer logger.DeferLogDuration("conv.List", time.Now())()
	column := "customer_id"
	if role == model.RoleSeller {
		column = "seller_id"
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+conversationCols+` FROM conversations
		 WHERE `+column+` = $1
		 ORDER BY last_message_at DESC NULLS LAST, created_at DESC
		 LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("chatRepo.ListConversations query: %w", err)
	}
	defer rows.Close()

	list := make([]model.Conversation, 0, limit)
	for rows.Next() {
		var c model.Conversation
		if err := scanConversation(rows, &c); err != nil {
			return nil, fmt.Errorf("chatRepo.ListConversations scan: %w", err)
		}
		list = append(list, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatRepo.ListConversations rows: %w", err)
	}
	return list, nil
}
