package repository

import (
	"context"
	"time"

	"github.com/shinyyama/rental-backend/internal/convid"
	"github.com/shinyyama/rental-backend/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Counterpart is one (property, other user) pair a user has exchanged
// messages with, and the newest non-deleted message id in one direction.
type Counterpart struct {
	PropertyID    uint64
	OtherID       uint64
	LastMessageID uint64
}

type UnreadCount struct {
	PropertyID uint64
	SenderID   uint64
	Unread     int64
}

// ReactionFunc computes the next reaction mapping from the locked row.
type ReactionFunc func(msg *model.Message) (next model.Reactions, changed bool, err error)

type MessageRepository interface {
	Create(ctx context.Context, msg *model.Message) error
	FindByID(ctx context.Context, id uint64) (*model.Message, error)
	FindByIDs(ctx context.Context, ids []uint64) (map[uint64]model.Message, error)
	ListConversation(ctx context.Context, id convid.ID) ([]model.Message, error)
	HasConversation(ctx context.Context, id convid.ID) (bool, error)
	MarkRead(ctx context.Context, id convid.ID, readerID uint64, at time.Time) (int64, error)
	SoftDelete(ctx context.Context, messageID, senderID uint64, at time.Time) (int64, error)
	LatestSentTo(ctx context.Context, userID uint64) ([]Counterpart, error)
	LatestReceivedFrom(ctx context.Context, userID uint64) ([]Counterpart, error)
	UnreadCounts(ctx context.Context, userID uint64) ([]UnreadCount, error)
	UpdateReactions(ctx context.Context, messageID uint64, fn ReactionFunc) (*model.Message, error)
	SetDB(db *gorm.DB)
}

type messageRepository struct {
	connHolder
}

func NewMessageRepository(db *gorm.DB) MessageRepository {
	r := &messageRepository{}
	r.SetDB(db)
	return r
}

func (r *messageRepository) Create(ctx context.Context, msg *model.Message) error {
	db := r.conn(ctx)
	if db == nil {
		return ErrDBNotReady
	}
	return db.Omit(clause.Associations).Create(msg).Error
}

// FindByID loads a message whether or not it was soft deleted.
func (r *messageRepository) FindByID(ctx context.Context, id uint64) (*model.Message, error) {
	db := r.conn(ctx)
	if db == nil {
		return nil, ErrDBNotReady
	}
	var msg model.Message
	if err := db.
		Preload("Sender").
		Preload("ReplyTo").
		First(&msg, id).Error; err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *messageRepository) FindByIDs(ctx context.Context, ids []uint64) (map[uint64]model.Message, error) {
	db := r.conn(ctx)
	if db == nil {
		return nil, ErrDBNotReady
	}
	out := make(map[uint64]model.Message, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var list []model.Message
	if err := db.Where("id IN ?", ids).Find(&list).Error; err != nil {
		return nil, err
	}
	for _, m := range list {
		out[m.ID] = m
	}
	return out, nil
}

func (r *messageRepository) scope(db *gorm.DB, id convid.ID) *gorm.DB {
	return db.
		Model(&model.Message{}).
		Where("property_id = ? AND ((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?))",
			id.PropertyID, id.UserLow, id.UserHigh, id.UserHigh, id.UserLow)
}

// ListConversation returns the visible history oldest first. The id
// tiebreak keeps messages created within the same clock tick stable.
func (r *messageRepository) ListConversation(ctx context.Context, id convid.ID) ([]model.Message, error) {
	db := r.conn(ctx)
	if db == nil {
		return nil, ErrDBNotReady
	}
	var msgs []model.Message
	if err := r.scope(db, id).
		Where("is_deleted = ?", false).
		Preload("Sender").
		Preload("ReplyTo").
		Order("created_at ASC, id ASC").
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *messageRepository) HasConversation(ctx context.Context, id convid.ID) (bool, error) {
	db := r.conn(ctx)
	if db == nil {
		return false, ErrDBNotReady
	}
	var cnt int64
	if err := r.scope(db, id).Where("is_deleted = ?", false).Limit(1).Count(&cnt).Error; err != nil {
		return false, err
	}
	return cnt > 0, nil
}

// MarkRead stamps every unread message addressed to readerID in one
// statement so the whole batch shares the same read_at.
func (r *messageRepository) MarkRead(ctx context.Context, id convid.ID, readerID uint64, at time.Time) (int64, error) {
	db := r.conn(ctx)
	if db == nil {
		return 0, ErrDBNotReady
	}
	senderID, err := id.Other(readerID)
	if err != nil {
		return 0, err
	}
	res := db.
		Model(&model.Message{}).
		Where("property_id = ? AND sender_id = ? AND receiver_id = ? AND read_at IS NULL", id.PropertyID, senderID, readerID).
		Update("read_at", at)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *messageRepository) SoftDelete(ctx context.Context, messageID, senderID uint64, at time.Time) (int64, error) {
	db := r.conn(ctx)
	if db == nil {
		return 0, ErrDBNotReady
	}
	res := db.
		Model(&model.Message{}).
		Where("id = ? AND sender_id = ? AND is_deleted = ?", messageID, senderID, false).
		Updates(map[string]interface{}{
			"is_deleted": true,
			"deleted_at": at,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *messageRepository) LatestSentTo(ctx context.Context, userID uint64) ([]Counterpart, error) {
	return r.latest(ctx, "sender_id", "receiver_id", userID)
}

func (r *messageRepository) LatestReceivedFrom(ctx context.Context, userID uint64) ([]Counterpart, error) {
	return r.latest(ctx, "receiver_id", "sender_id", userID)
}

// latest groups by (property, other user). Ids are assigned in creation
// order, so MAX(id) identifies the newest message without comparing
// timestamps across drivers.
func (r *messageRepository) latest(ctx context.Context, selfCol, otherCol string, userID uint64) ([]Counterpart, error) {
	db := r.conn(ctx)
	if db == nil {
		return nil, ErrDBNotReady
	}
	var rows []Counterpart
	if err := db.
		Model(&model.Message{}).
		Select("property_id, "+otherCol+" AS other_id, MAX(id) AS last_message_id").
		Where(selfCol+" = ? AND is_deleted = ?", userID, false).
		Group("property_id, " + otherCol).
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *messageRepository) UnreadCounts(ctx context.Context, userID uint64) ([]UnreadCount, error) {
	db := r.conn(ctx)
	if db == nil {
		return nil, ErrDBNotReady
	}
	var rows []UnreadCount
	if err := db.
		Model(&model.Message{}).
		Select("property_id, sender_id, COUNT(*) AS unread").
		Where("receiver_id = ? AND read_at IS NULL AND is_deleted = ?", userID, false).
		Group("property_id, sender_id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// UpdateReactions runs fn against the message row under SELECT ... FOR UPDATE
// so concurrent reactions on one message serialise instead of overwriting
// each other.
func (r *messageRepository) UpdateReactions(ctx context.Context, messageID uint64, fn ReactionFunc) (*model.Message, error) {
	db := r.conn(ctx)
	if db == nil {
		return nil, ErrDBNotReady
	}
	var out model.Message
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&out, messageID).Error; err != nil {
			return err
		}
		next, changed, err := fn(&out)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}
		if err := tx.Model(&model.Message{}).Where("id = ?", messageID).Update("reactions", next).Error; err != nil {
			return err
		}
		out.Reactions = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
