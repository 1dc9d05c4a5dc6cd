package chat

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on a pgx pool. Every mutation is a single
// statement, which is what gives the store its single-entity atomicity.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const conversationColumns = `
	id, kind, COALESCE(name, ''), COALESCE(avatar_url, ''),
	participants, admins, created_by,
	COALESCE(last_message_id::text, ''), last_message_at, created_at`

const messageColumns = `
	id, seq, conversation_id, sender_id, content, kind,
	attachments, COALESCE(reply_to::text, ''), reactions,
	delivered_to, seen_by, edited, deleted, deleted_at, created_at`

func (s *PostgresStore) CreateConversation(ctx context.Context, c *Conversation) error {
	query := `
		INSERT INTO conversations (id, kind, name, avatar_url, participants, admins, created_by)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7)
		RETURNING created_at`
	return s.pool.QueryRow(ctx, query,
		c.ID, c.Kind, c.Name, c.AvatarURL, c.Participants, c.Admins, c.CreatedBy,
	).Scan(&c.CreatedAt)
}

func (s *PostgresStore) CreatePrivateConversation(ctx context.Context, c *Conversation) (*Conversation, error) {
	pairKey := privatePairKey(c.Participants[0], c.Participants[1])

	// The unique index on private_key arbitrates concurrent creates: the
	// losing insert is a no-op and the follow-up select returns the winner.
	insert := `
		INSERT INTO conversations (id, kind, participants, created_by, private_key)
		VALUES ($1, 'private', $2, $3, $4)
		ON CONFLICT (private_key) DO NOTHING`
	if _, err := s.pool.Exec(ctx, insert, c.ID, c.Participants, c.CreatedBy, pairKey); err != nil {
		return nil, err
	}

	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE private_key = $1`
	return scanConversation(s.pool.QueryRow(ctx, query, pairKey))
}

func (s *PostgresStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1`
	return scanConversation(s.pool.QueryRow(ctx, query, id))
}

func (s *PostgresStore) UpdateConversation(ctx context.Context, c *Conversation) error {
	query := `
		UPDATE conversations
		SET name = NULLIF($2, ''), avatar_url = NULLIF($3, ''),
		    participants = $4, admins = $5
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, c.ID, c.Name, c.AvatarURL, c.Participants, c.Admins)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteConversation(ctx context.Context, id string) error {
	// Messages go with it via ON DELETE CASCADE.
	tag, err := s.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListConversations(ctx context.Context, userID string) ([]*Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE $1 = ANY(participants)
		ORDER BY COALESCE(last_message_at, created_at) DESC`
	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetLastMessage(ctx context.Context, conversationID, messageID string, at time.Time) error {
	query := `UPDATE conversations SET last_message_id = $2, last_message_at = $3 WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, conversationID, messageID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreateMessage(ctx context.Context, m *Message) error {
	query := `
		INSERT INTO messages (id, conversation_id, sender_id, content, kind,
		                      attachments, reply_to, reactions, delivered_to, seen_by)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, '')::uuid, $8, $9, $10)
		RETURNING seq, created_at`
	attachments := m.Attachments
	if attachments == nil {
		attachments = []Attachment{}
	}
	reactions := m.Reactions
	if reactions == nil {
		reactions = []Reaction{}
	}
	return s.pool.QueryRow(ctx, query,
		m.ID, m.ConversationID, m.SenderID, m.Content, m.Kind,
		attachments, m.ReplyTo, reactions, m.DeliveredTo, m.SeenBy,
	).Scan(&m.Seq, &m.CreatedAt)
}

func (s *PostgresStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`
	return scanMessage(s.pool.QueryRow(ctx, query, id))
}

func (s *PostgresStore) UpdateMessage(ctx context.Context, m *Message) error {
	query := `
		UPDATE messages
		SET content = $2, reactions = $3, delivered_to = $4, seen_by = $5,
		    edited = $6, deleted = $7, deleted_at = $8
		WHERE id = $1`
	reactions := m.Reactions
	if reactions == nil {
		reactions = []Reaction{}
	}
	tag, err := s.pool.Exec(ctx, query,
		m.ID, m.Content, reactions, m.DeliveredTo, m.SeenBy,
		m.Edited, m.Deleted, m.DeletedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string, page, limit int) ([]*Message, int, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = $1 AND NOT deleted
		ORDER BY created_at DESC, seq DESC
		LIMIT $2 OFFSET $3`
	rows, err := s.pool.Query(ctx, query, conversationID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int
	count := `SELECT COUNT(*) FROM messages WHERE conversation_id = $1 AND NOT deleted`
	if err := s.pool.QueryRow(ctx, count, conversationID).Scan(&total); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *PostgresStore) MarkSeen(ctx context.Context, conversationID, userID string, messageIDs []string) error {
	// Set union in one statement; re-marking an already-seen message is a
	// no-op.
	query := `
		UPDATE messages
		SET seen_by = CASE
			WHEN $1 = ANY(seen_by) THEN seen_by
			ELSE array_append(seen_by, $1)
		END
		WHERE conversation_id = $2 AND id = ANY($3::uuid[])`
	_, err := s.pool.Exec(ctx, query, userID, conversationID, messageIDs)
	return err
}

func (s *PostgresStore) SearchMessages(ctx context.Context, userID, query, conversationID string, limit int) ([]*Message, error) {
	sql := `
		SELECT m.id, m.seq, m.conversation_id, m.sender_id, m.content, m.kind,
		       m.attachments, COALESCE(m.reply_to::text, ''), m.reactions,
		       m.delivered_to, m.seen_by, m.edited, m.deleted, m.deleted_at, m.created_at
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE to_tsvector('english', m.content) @@ plainto_tsquery('english', $2)
		  AND NOT m.deleted
		  AND $1 = ANY(c.participants)
		  AND ($3 = '' OR m.conversation_id::text = $3)
		ORDER BY m.created_at DESC
		LIMIT $4`
	rows, err := s.pool.Query(ctx, sql, userID, query, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanConversation(row pgx.Row) (*Conversation, error) {
	c := &Conversation{}
	err := row.Scan(&c.ID, &c.Kind, &c.Name, &c.AvatarURL,
		&c.Participants, &c.Admins, &c.CreatedBy,
		&c.LastMessageID, &c.LastMessageAt, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

func scanMessage(row pgx.Row) (*Message, error) {
	m := &Message{}
	err := row.Scan(&m.ID, &m.Seq, &m.ConversationID, &m.SenderID, &m.Content, &m.Kind,
		&m.Attachments, &m.ReplyTo, &m.Reactions,
		&m.DeliveredTo, &m.SeenBy, &m.Edited, &m.Deleted, &m.DeletedAt, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return m, nil
}
