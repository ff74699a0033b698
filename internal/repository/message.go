package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/marketchat/internal/logger"
	"github.com/marketchat/internal/model"
)

const messageCols = `id, conversation_id, sender_id, sender_type, content, message_type, image_url,
	COALESCE(client_message_id, ''), read_at, created_at`

func scanMessage(s rowScanner, m *model.Message) error {
	return s.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.SenderRole, &m.Content, &m.Type, &m.ImageURL,
		&m.ClientMessageID, &m.ReadAt, &m.CreatedAt)
}

// AppendMessage inserts the message and bumps the conversation in one
// transaction. The unread increment is a single UPDATE ... SET x = x + 1, so
// concurrent senders never lose a count.
func (r *ChatRepository) AppendMessage(ctx context.Context, msg *model.Message, incrementRole model.SenderRole) (*model.Conversation, bool, error) {
	defer logger.DeferLogDuration("msg.Append", time.Now())()
	if !validID(msg.ConversationID) {
		return nil, false, ErrNotFound
	}
	conv := &model.Conversation{}
	created := true
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var id string
		err := tx.QueryRow(ctx,
			`INSERT INTO messages (id, conversation_id, sender_id, sender_type, content, message_type, image_url, client_message_id, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (conversation_id, sender_id, client_message_id) WHERE client_message_id IS NOT NULL DO NOTHING
			 RETURNING id`,
			msg.ID, msg.ConversationID, msg.SenderID, msg.SenderRole, msg.Content, msg.Type, msg.ImageURL,
			nullable(msg.ClientMessageID), msg.CreatedAt,
		).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			// этот отправитель уже присылал clientMessageId: отдаём сохранённую строку, счётчики не трогаем
			created = false
			if err := scanMessage(tx.QueryRow(ctx,
				`SELECT `+messageCols+` FROM messages WHERE conversation_id = $1 AND sender_id = $2 AND client_message_id = $3`,
				msg.ConversationID, msg.SenderID, msg.ClientMessageID), msg); err != nil {
				return fmt.Errorf("load replayed message: %w", err)
			}
			return scanConversation(tx.QueryRow(ctx,
				`SELECT `+conversationCols+` FROM conversations WHERE id = $1`, msg.ConversationID), conv)
		}
		if err != nil {
			if isForeignKeyViolation(err) {
				return ErrNotFound
			}
			return err
		}
		err = scanConversation(tx.QueryRow(ctx,
			`UPDATE conversations
			 SET last_message = $2,
			     last_message_at = $3,
			     last_message_sender = $4,
			     updated_at = $3,
			     customer_unread = customer_unread + CASE WHEN $5::text = 'customer' THEN 1 ELSE 0 END,
			     seller_unread = seller_unread + CASE WHEN $5::text = 'seller' THEN 1 ELSE 0 END
			 WHERE id = $1
			 RETURNING `+conversationCols,
			msg.ConversationID, msg.Preview(), msg.CreatedAt, msg.SenderID, string(incrementRole)), conv)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, false, err
		}
		return nil, false, fmt.Errorf("msgRepo.AppendMessage: %w", err)
	}
	return conv, created, nil
}

// ListMessages returns up to limit messages oldest first. With before set it
// returns the newest limit messages older than before.
func (r *ChatRepository) ListMessages(ctx context.Context, conversationID string, before *time.Time, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.List", time.Now())()
	if !validID(conversationID) {
		return []model.Message{}, nil
	}
	var (
		rows pgx.Rows
		err  error
	)
	if before != nil {
		rows, err = r.pool.Query(ctx,
			`SELECT `+messageCols+` FROM messages
			 WHERE conversation_id = $1 AND created_at < $2
			 ORDER BY created_at DESC, id DESC
			 LIMIT $3`, conversationID, *before, limit)
	} else {
		rows, err = r.pool.Query(ctx,
			`SELECT `+messageCols+` FROM messages
			 WHERE conversation_id = $1
			 ORDER BY created_at DESC, id DESC
			 LIMIT $2`, conversationID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListMessages query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, limit)
	for rows.Next() {
		var m model.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, fmt.Errorf("msgRepo.ListMessages scan: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.ListMessages rows: %w", err)
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// MarkConversationRead zeroes the reader's counter and stamps the other side's
// unread messages. reset reports whether the counter was above zero.
func (r *ChatRepository) MarkConversationRead(ctx context.Context, conversationID string, readerRole model.SenderRole, at time.Time) (int, bool, error) {
	defer logger.DeferLogDuration("msg.MarkRead", time.Now())()
	if !validID(conversationID) {
		return 0, false, ErrNotFound
	}
	column := "customer_unread"
	if readerRole == model.RoleSeller {
		column = "seller_unread"
	}
	var (
		stamped int
		reset   bool
	)
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var before int
		err := tx.QueryRow(ctx,
			`SELECT `+column+` FROM conversations WHERE id = $1 FOR UPDATE`, conversationID).Scan(&before)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if before > 0 {
			if _, err := tx.Exec(ctx, `UPDATE conversations SET `+column+` = 0 WHERE id = $1`, conversationID); err != nil {
				return err
			}
			reset = true
		}
		tag, err := tx.Exec(ctx,
			`UPDATE messages SET read_at = $3
			 WHERE conversation_id = $1 AND sender_type <> $2 AND read_at IS NULL`,
			conversationID, readerRole, at)
		if err != nil {
			return err
		}
		stamped = int(tag.RowsAffected())
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, false, err
		}
		return 0, false, fmt.Errorf("msgRepo.MarkConversationRead: %w", err)
	}
	return stamped, reset, nil
}
