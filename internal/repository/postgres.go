package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fretes-chat/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const conversationColumns = `id, participant_low, participant_high, offer_id, created_at, updated_at`

type PgChatRepository struct {
	pool *pgxpool.Pool
}

func NewPgChatRepository(pool *pgxpool.Pool) *PgChatRepository {
	return &PgChatRepository{pool: pool}
}

var _ ChatRepository = (*PgChatRepository)(nil)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return pgCode(err) == "23505"
}

// isForeignKeyViolation means a referenced user, offer or conversation is missing.
func isForeignKeyViolation(err error) bool {
	return pgCode(err) == "23503"
}

func scanConversation(row pgx.Row) (*models.Conversation, error) {
	var c models.Conversation
	if err := row.Scan(&c.ID, &c.ParticipantLow, &c.ParticipantHigh, &c.OfferID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *PgChatRepository) FindConversation(ctx context.Context, low, high int, offerID *int) (*models.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE participant_low = $1
		AND participant_high = $2
		AND offer_id IS NOT DISTINCT FROM $3::bigint
	`
	return scanConversation(r.pool.QueryRow(ctx, query, low, high, offerID))
}

func (r *PgChatRepository) CreateConversation(ctx context.Context, low, high int, offerID *int) (*models.Conversation, error) {
	query := `
		INSERT INTO conversations (participant_low, participant_high, offer_id)
		VALUES ($1, $2, $3)
		RETURNING ` + conversationColumns
	c, err := scanConversation(r.pool.QueryRow(ctx, query, low, high, offerID))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		if isForeignKeyViolation(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return c, nil
}

func (r *PgChatRepository) GetConversation(ctx context.Context, id int) (*models.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1`
	return scanConversation(r.pool.QueryRow(ctx, query, id))
}

func (r *PgChatRepository) TouchConversation(ctx context.Context, id int) error {
	ct, err := r.pool.Exec(ctx, `UPDATE conversations SET updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const summarySelect = `
	SELECT c.id, c.participant_low, c.participant_high, c.offer_id, c.created_at, c.updated_at,
	       u.id, u.name, u.role,
	       o.origin, o.destination, o.price::float8,
	       (SELECT COUNT(*) FROM messages m
	         WHERE m.conversation_id = c.id
	         AND m.recipient_id = $1
	         AND m.read = FALSE),
	       lm.content, lm.created_at
	FROM conversations c
	JOIN users u ON u.id = CASE WHEN c.participant_low = $1 THEN c.participant_high ELSE c.participant_low END
	LEFT JOIN offers o ON o.id = c.offer_id
	LEFT JOIN LATERAL (
		SELECT content, created_at FROM messages
		WHERE conversation_id = c.id
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	) lm ON TRUE
	WHERE (c.participant_low = $1 OR c.participant_high = $1)
`

func scanSummary(row pgx.Row) (models.ConversationSummary, error) {
	var (
		s           models.ConversationSummary
		origin      *string
		destination *string
		price       *float64
		lastAt      *time.Time
	)
	if err := row.Scan(
		&s.ID, &s.ParticipantLow, &s.ParticipantHigh, &s.OfferID, &s.CreatedAt, &s.UpdatedAt,
		&s.OtherUserID, &s.OtherUserName, &s.OtherUserRole,
		&origin, &destination, &price,
		&s.UnreadCount,
		&s.LastMessage, &lastAt,
	); err != nil {
		return s, err
	}
	if origin != nil && destination != nil {
		s.Offer = &models.OfferContext{Origin: *origin, Destination: *destination}
		if price != nil {
			s.Offer.Price = *price
		}
	}
	s.LastMessageAt = lastAt
	return s, nil
}

func (r *PgChatRepository) ListConversations(ctx context.Context, userID int) ([]models.ConversationSummary, error) {
	rows, err := r.pool.Query(ctx, summarySelect+` ORDER BY c.updated_at DESC, c.id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	summaries := []models.ConversationSummary{}
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

func (r *PgChatRepository) GetConversationSummary(ctx context.Context, userID, conversationID int) (*models.ConversationSummary, error) {
	s, err := scanSummary(r.pool.QueryRow(ctx, summarySelect+` AND c.id = $2`, userID, conversationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get conversation summary: %w", err)
	}
	return &s, nil
}

func (r *PgChatRepository) SaveMessage(ctx context.Context, msg *models.Message) error {
	query := `
		INSERT INTO messages (conversation_id, sender_id, recipient_id, content, client_key)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, read, created_at
	`
	err := r.pool.QueryRow(ctx, query, msg.ConversationID, msg.SenderID, msg.RecipientID, msg.Content, msg.ClientKey).
		Scan(&msg.ID, &msg.Read, &msg.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

const messageSelect = `
	SELECT m.id, m.conversation_id, m.sender_id, m.recipient_id, s.name, r.name,
	       m.content, m.client_key, m.read, m.created_at
	FROM messages m
	JOIN users s ON s.id = m.sender_id
	JOIN users r ON r.id = m.recipient_id
`

func scanMessage(row pgx.Row) (models.Message, error) {
	var m models.Message
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.RecipientID, &m.SenderName, &m.RecipientName,
		&m.Content, &m.ClientKey, &m.Read, &m.CreatedAt)
	return m, err
}

func (r *PgChatRepository) FindMessageByClientKey(ctx context.Context, conversationID, senderID int, clientKey string) (*models.Message, error) {
	query := messageSelect + ` WHERE m.conversation_id = $1 AND m.sender_id = $2 AND m.client_key = $3`
	m, err := scanMessage(r.pool.QueryRow(ctx, query, conversationID, senderID, clientKey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (r *PgChatRepository) GetMessages(ctx context.Context, conversationID, limit, offset int) ([]models.Message, error) {
	query := messageSelect + `
		WHERE m.conversation_id = $1
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.pool.Query(ctx, query, conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (r *PgChatRepository) MarkRead(ctx context.Context, conversationID, recipientID int) (int64, error) {
	ct, err := r.pool.Exec(ctx, `
		UPDATE messages SET read = TRUE
		WHERE conversation_id = $1 AND recipient_id = $2 AND read = FALSE
	`, conversationID, recipientID)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return ct.RowsAffected(), nil
}

func (r *PgChatRepository) CountUnread(ctx context.Context, recipientID int, conversationID *int) (int, error) {
	var total int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE recipient_id = $1
		AND read = FALSE
		AND ($2::bigint IS NULL OR conversation_id = $2)
	`, recipientID, conversationID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return total, nil
}

func (r *PgChatRepository) CountUnreadByConversation(ctx context.Context, recipientID int) (map[int]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT conversation_id, COUNT(*) FROM messages
		WHERE recipient_id = $1 AND read = FALSE
		GROUP BY conversation_id
	`, recipientID)
	if err != nil {
		return nil, fmt.Errorf("count unread by conversation: %w", err)
	}
	defer rows.Close()

	counts := make(map[int]int)
	for rows.Next() {
		var convID, n int
		if err := rows.Scan(&convID, &n); err != nil {
			return nil, err
		}
		counts[convID] = n
	}
	return counts, rows.Err()
}

type PgUserRepository struct {
	pool *pgxpool.Pool
}

func NewPgUserRepository(pool *pgxpool.Pool) *PgUserRepository {
	return &PgUserRepository{pool: pool}
}

var _ UserRepository = (*PgUserRepository)(nil)

func (r *PgUserRepository) CreateUser(ctx context.Context, u *models.User, vehiclePlate string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO users (name, email, password_hash, role)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, u.Name, u.Email, u.PasswordHash, u.Role).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert user: %w", err)
	}

	if vehiclePlate != "" {
		if _, err := tx.Exec(ctx, "INSERT INTO carriers (user_id, vehicle_plate) VALUES ($1, $2)", u.ID, vehiclePlate); err != nil {
			return fmt.Errorf("insert carrier: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (r *PgUserRepository) findOne(ctx context.Context, where string, arg interface{}) (*models.User, error) {
	var u models.User
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, email, role, password_hash, created_at FROM users WHERE `+where, arg,
	).Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *PgUserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findOne(ctx, "email = $1", email)
}

func (r *PgUserRepository) FindByID(ctx context.Context, id int) (*models.User, error) {
	return r.findOne(ctx, "id = $1", id)
}

type PgOfferRepository struct {
	pool *pgxpool.Pool
}

func NewPgOfferRepository(pool *pgxpool.Pool) *PgOfferRepository {
	return &PgOfferRepository{pool: pool}
}

var _ OfferRepository = (*PgOfferRepository)(nil)

const offerSelect = `
	SELECT o.id, o.owner_id, u.name, o.origin, o.destination, o.description,
	       o.price::float8, o.available_on, o.weight_capacity::float8, o.volume_capacity::float8, o.created_at
	FROM offers o
	JOIN users u ON u.id = o.owner_id
`

func scanOffer(row pgx.Row) (models.Offer, error) {
	var o models.Offer
	err := row.Scan(&o.ID, &o.OwnerID, &o.OwnerName, &o.Origin, &o.Destination, &o.Description,
		&o.Price, &o.AvailableOn, &o.WeightCapacity, &o.VolumeCapacity, &o.CreatedAt)
	return o, err
}

func (r *PgOfferRepository) CreateOffer(ctx context.Context, o *models.Offer) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO offers (owner_id, origin, destination, description, price, available_on, weight_capacity, volume_capacity)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`, o.OwnerID, o.Origin, o.Destination, o.Description, o.Price, o.AvailableOn, o.WeightCapacity, o.VolumeCapacity).
		Scan(&o.ID, &o.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("create offer: %w", err)
	}
	return nil
}

func (r *PgOfferRepository) GetOffer(ctx context.Context, id int) (*models.Offer, error) {
	o, err := scanOffer(r.pool.QueryRow(ctx, offerSelect+` WHERE o.id = $1 AND o.deleted_at IS NULL`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get offer: %w", err)
	}
	return &o, nil
}

func (r *PgOfferRepository) ListOffers(ctx context.Context, f models.OfferFilter) ([]models.Offer, error) {
	query := offerSelect + `
		WHERE o.deleted_at IS NULL
		AND ($1 = '' OR o.origin ILIKE '%' || $1 || '%')
		AND ($2 = '' OR o.destination ILIKE '%' || $2 || '%')
		AND ($3::float8 = 0 OR o.price >= $3)
		AND ($4::float8 = 0 OR o.price <= $4)
		AND ($5::bigint = 0 OR o.owner_id = $5)
		ORDER BY o.created_at DESC, o.id DESC
	`
	rows, err := r.pool.Query(ctx, query, f.Origin, f.Destination, f.MinPrice, f.MaxPrice, f.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("list offers: %w", err)
	}
	defer rows.Close()

	offers := []models.Offer{}
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		offers = append(offers, o)
	}
	return offers, rows.Err()
}

func (r *PgOfferRepository) UpdateOffer(ctx context.Context, o *models.Offer) error {
	ct, err := r.pool.Exec(ctx, `
		UPDATE offers
		SET origin = $3, destination = $4, description = $5, price = $6,
		    available_on = $7, weight_capacity = $8, volume_capacity = $9
		WHERE id = $1 AND owner_id = $2 AND deleted_at IS NULL
	`, o.ID, o.OwnerID, o.Origin, o.Destination, o.Description, o.Price, o.AvailableOn, o.WeightCapacity, o.VolumeCapacity)
	if err != nil {
		return fmt.Errorf("update offer: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PgOfferRepository) DeleteOffer(ctx context.Context, id, ownerID int) error {
	ct, err := r.pool.Exec(ctx, `
		UPDATE offers SET deleted_at = now()
		WHERE id = $1 AND owner_id = $2 AND deleted_at IS NULL
	`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete offer: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
