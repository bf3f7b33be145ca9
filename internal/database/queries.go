package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

func (db *PgChatRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (User, error) {
	res := db.conn.QueryRowContext(ctx,
		"INSERT INTO accounts (username, email, password_hash, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $4) RETURNING id, username, email, created_at, updated_at",
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.CreatedAt,
		&u.UpdatedAt,
	)

	return u, err
}

func (db *PgChatRepository) GetAccountById(ctx context.Context, accountId int) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, username, email, created_at, updated_at FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		accountId,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	return user, err
}

func (db *PgChatRepository) GetAccountByEmail(ctx context.Context, email string) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, username, email, password_hash, created_at, updated_at FROM accounts "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&user.PasswordHash,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	return user, err
}

// ListAccounts returns every account except the excluded one, for the user
// directory. Password hashes are never selected.
func (db *PgChatRepository) ListAccounts(ctx context.Context, excludeId int) ([]User, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT id, username, created_at, updated_at FROM accounts "+
			"WHERE id <> $1 ORDER BY username",
		excludeId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err = rows.Scan(&u.Id, &u.Username, &u.CreatedAt, &u.UpdatedAt); err != nil {
			break
		}

		users = append(users, u)
	}

	return users, err
}

// CreateConversation inserts the conversation and its full member set in one
// transaction. Membership is fixed at creation; no other write path touches
// conversation_members.
func (db *PgChatRepository) CreateConversation(ctx context.Context, params CreateConversationParams) (Conversation, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return Conversation{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res := tx.QueryRowContext(ctx,
		"INSERT INTO conversations (external_id, name, seq, created_at, updated_at) "+
			"VALUES ($1, $2, 0, $3, $3) RETURNING id, external_id, name, seq, created_at, updated_at",
		params.ExternalId,
		params.Name,
		time.Now().UTC(),
	)

	var conv Conversation
	err = res.Scan(
		&conv.Id,
		&conv.ExternalId,
		&conv.Name,
		&conv.Seq,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)
	if err != nil {
		return Conversation{}, err
	}

	for _, accountId := range params.MemberIds {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO conversation_members (conversation_id, account_id, created_at) VALUES ($1, $2, $3)",
			conv.Id,
			accountId,
			time.Now().UTC(),
		)
		if err != nil {
			return Conversation{}, err
		}
	}

	if err = tx.Commit(); err != nil {
		return Conversation{}, err
	}

	return conv, nil
}

func (db *PgChatRepository) GetConversationByExternalId(ctx context.Context, externalId string) (Conversation, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, external_id, name, seq, created_at, updated_at FROM conversations "+
			"WHERE external_id = $1 LIMIT 1",
		externalId,
	)

	var conv Conversation
	err := row.Scan(
		&conv.Id,
		&conv.ExternalId,
		&conv.Name,
		&conv.Seq,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)

	return conv, err
}

func (db *PgChatRepository) GetConversationWithMembers(ctx context.Context, externalId string) (*Conversation, error) {
	query := `
		SELECT
				c.id,
				c.external_id,
				c.name,
				c.seq,
				c.created_at,
				c.updated_at,
				m.id,
				m.account_id,
				a.username,
				m.created_at
		FROM conversations c
		LEFT JOIN conversation_members m ON c.id = m.conversation_id
		LEFT JOIN accounts a ON m.account_id = a.id
		WHERE c.external_id = $1;
`

	rows, err := db.conn.QueryContext(ctx, query, externalId)
	if err != nil {
		return nil, fmt.Errorf("fetch conversation with members: %w", err)
	}
	defer rows.Close()

	var conv *Conversation
	for rows.Next() {
		var (
			convId          int
			convExternalId  string
			name            string
			seq             int
			convCreatedAt   time.Time
			convUpdatedAt   time.Time
			memberId        sql.NullInt64
			accountId       sql.NullInt64
			username        sql.NullString
			memberCreatedAt sql.NullTime
		)

		err := rows.Scan(
			&convId,
			&convExternalId,
			&name,
			&seq,
			&convCreatedAt,
			&convUpdatedAt,
			&memberId,
			&accountId,
			&username,
			&memberCreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		if conv == nil {
			conv = &Conversation{
				Id:         convId,
				ExternalId: convExternalId,
				Name:       name,
				Seq:        seq,
				CreatedAt:  convCreatedAt,
				UpdatedAt:  convUpdatedAt,
				Members:    make([]ConversationMember, 0),
			}
		}

		if accountId.Valid && username.Valid {
			conv.Members = append(conv.Members, ConversationMember{
				Id:             int(memberId.Int64),
				ConversationId: convId,
				AccountId:      int(accountId.Int64),
				Username:       username.String,
				CreatedAt:      memberCreatedAt.Time,
			})
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	if conv == nil {
		return nil, sql.ErrNoRows
	}

	return conv, nil
}

func (db *PgChatRepository) ListConversationsForAccount(ctx context.Context, accountId int) ([]Conversation, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT c.id, c.external_id, c.name, c.seq, c.created_at, c.updated_at "+
			"FROM conversation_members m JOIN conversations c ON c.id = m.conversation_id "+
			"WHERE m.account_id = $1 ORDER BY c.updated_at DESC",
		accountId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conversations []Conversation
	for rows.Next() {
		var conv Conversation
		if err = rows.Scan(&conv.Id, &conv.ExternalId, &conv.Name, &conv.Seq, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			break
		}

		conversations = append(conversations, conv)
	}

	return conversations, err
}

func (db *PgChatRepository) IsMember(ctx context.Context, conversationId, accountId int) (bool, error) {
	res := db.conn.QueryRowContext(ctx,
		"SELECT id FROM conversation_members WHERE conversation_id = $1 AND account_id = $2 LIMIT 1",
		conversationId,
		accountId,
	)

	var id int
	if err := res.Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}

	return true, nil
}

// CreateMessage durably appends a message and advances the conversation's
// sequence in one transaction. Callers serialize appends per conversation, so
// the seq written here is strictly increasing within a conversation.
func (db *PgChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx,
		"UPDATE conversations SET seq = $1, updated_at = $2 WHERE id = $3",
		params.Seq,
		params.CreatedAt,
		params.ConversationId,
	)
	if err != nil {
		return Message{}, err
	}

	res := tx.QueryRowContext(ctx,
		"INSERT INTO messages (seq, conversation_id, sender_id, content, created_at) "+
			"VALUES ($1, $2, $3, $4, $5) RETURNING id",
		params.Seq,
		params.ConversationId,
		params.SenderId,
		params.Content,
		params.CreatedAt,
	)

	msg := Message{
		Seq:            params.Seq,
		ConversationId: params.ConversationId,
		SenderId:       params.SenderId,
		Content:        params.Content,
		CreatedAt:      params.CreatedAt,
	}
	if err = res.Scan(&msg.Id); err != nil {
		return Message{}, err
	}

	if err = tx.Commit(); err != nil {
		return Message{}, err
	}

	return msg, nil
}

// historyWindow maps the caller's pagination arguments onto an inclusive seq
// range. Both cursors are exclusive: a client paging with since=<last seen
// seq> or before=<first seen seq> never receives that message again.
func historyWindow(since, before, limit int) (lower, upper, n int) {
	lower, upper = 0, 1<<31-1
	if since > 0 {
		lower = since + 1
	}
	if before > 0 {
		upper = before - 1
	}

	n = limit
	if n <= 0 {
		n = 20
	}

	return lower, upper, n
}

// GetMessages returns the newest page of the window, newest first. Callers
// presenting history reverse the page so display order matches insertion
// order.
func (db *PgChatRepository) GetMessages(ctx context.Context, conversationId, since, before, limit int) ([]Message, error) {
	lower, upper, limit := historyWindow(since, before, limit)

	rows, err := db.conn.QueryContext(ctx,
		"SELECT id, seq, conversation_id, sender_id, content, created_at FROM messages "+
			"WHERE conversation_id = $1 AND seq BETWEEN $2 AND $3 ORDER BY seq DESC LIMIT $4",
		conversationId,
		lower,
		upper,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages = make([]Message, 0, limit)
	for rows.Next() {
		var msg Message
		if err = rows.Scan(&msg.Id, &msg.Seq, &msg.ConversationId, &msg.SenderId, &msg.Content, &msg.CreatedAt); err != nil {
			break
		}

		messages = append(messages, msg)
	}

	return messages, err
}
