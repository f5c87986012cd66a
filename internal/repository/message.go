package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloo-solutions/docuchat/internal/domain"
	"github.com/cloo-solutions/docuchat/internal/pagination"
	"github.com/cloo-solutions/docuchat/internal/service"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type MessageRepository struct {
	db dbtx
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{db: pool}
}

func NewMessageRepositoryWithTx(tx pgx.Tx) *MessageRepository {
	return &MessageRepository{db: tx}
}

func (r *MessageRepository) Create(ctx context.Context, m *domain.Message) error {
	var sources []byte
	if len(m.Sources) > 0 {
		var err error
		sources, err = json.Marshal(m.Sources)
		if err != nil {
			return fmt.Errorf("failed to encode sources: %w", err)
		}
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, sources, error_tag, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.ConversationID, m.Role, m.Content, sources, nullableString(m.ErrorTag), m.CreatedAt,
	)
	return err
}

// ListByConversation returns messages in chronological order. The cursor
// points at the last message of the previous page.
func (r *MessageRepository) ListByConversation(ctx context.Context, conversationID string, cursor *pagination.Cursor, limit int) (*service.MessagePageResult, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows pgx.Rows
	var err error

	if cursor != nil {
		rows, err = r.db.Query(ctx,
			`SELECT id, conversation_id, role, content, sources, error_tag, created_at
			 FROM messages
			 WHERE conversation_id = $1 AND (created_at, id) > ($2, $3)
			 ORDER BY created_at ASC, id ASC
			 LIMIT $4`,
			conversationID, cursor.Timestamp, cursor.LastID, limit+1,
		)
	} else {
		rows, err = r.db.Query(ctx,
			`SELECT id, conversation_id, role, content, sources, error_tag, created_at
			 FROM messages
			 WHERE conversation_id = $1
			 ORDER BY created_at ASC, id ASC
			 LIMIT $2`,
			conversationID, limit+1,
		)
	}

	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items, err := scanMessageRows(rows)
	if err != nil {
		return nil, err
	}

	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}

	var nextCursor string
	if hasMore && len(items) > 0 {
		lastItem := items[len(items)-1]
		nextCursor = pagination.EncodeCursor(lastItem.ID, lastItem.CreatedAt)
	}

	return &service.MessagePageResult{
		Items:   items,
		Cursor:  nextCursor,
		HasMore: hasMore,
	}, nil
}

func scanMessageRows(rows pgx.Rows) ([]*domain.Message, error) {
	var results []*domain.Message
	for rows.Next() {
		var m domain.Message
		var sources []byte
		var errorTag pgtype.Text
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &sources, &errorTag, &m.CreatedAt); err != nil {
			return nil, err
		}
		if len(sources) > 0 {
			if err := json.Unmarshal(sources, &m.Sources); err != nil {
				return nil, fmt.Errorf("failed to decode sources: %w", err)
			}
		}
		if errorTag.Valid {
			m.ErrorTag = errorTag.String
		}
		results = append(results, &m)
	}
	return results, rows.Err()
}
