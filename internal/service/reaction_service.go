package service

import (
	"context"
	"errors"
	"strings"

	"github.com/shinyyama/rental-backend/internal/logger"
	"github.com/shinyyama/rental-backend/internal/metrics"
	"github.com/shinyyama/rental-backend/internal/model"
	"github.com/shinyyama/rental-backend/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ReactionInput struct {
	Emoji string `json:"emoji" validate:"required,max=32"`
}

type ReactionService interface {
	Add(ctx context.Context, messageID, userID uint64, in ReactionInput) (*model.Message, error)
	Remove(ctx context.Context, messageID, userID uint64, in ReactionInput) (*model.Message, error)
}

type reactionService struct {
	msgRepo repository.MessageRepository
	log     *zap.Logger
}

func NewReactionService(msgRepo repository.MessageRepository, log *zap.Logger) ReactionService {
	return &reactionService{msgRepo: msgRepo, log: log}
}

// Add is idempotent: reacting twice with the same emoji leaves one entry.
func (s *reactionService) Add(ctx context.Context, messageID, userID uint64, in ReactionInput) (*model.Message, error) {
	return s.mutate(ctx, "add", messageID, userID, in, func(r model.Reactions, emoji string) (model.Reactions, bool, error) {
		next, changed := r.Add(emoji, userID)
		return next, changed, nil
	})
}

func (s *reactionService) Remove(ctx context.Context, messageID, userID uint64, in ReactionInput) (*model.Message, error) {
	return s.mutate(ctx, "remove", messageID, userID, in, func(r model.Reactions, emoji string) (model.Reactions, bool, error) {
		if !r.Has(emoji, userID) {
			return r, false, ErrNotReacted
		}
		next, changed := r.Remove(emoji, userID)
		return next, changed, nil
	})
}

func (s *reactionService) mutate(
	ctx context.Context,
	op string,
	messageID, userID uint64,
	in ReactionInput,
	apply func(model.Reactions, string) (model.Reactions, bool, error),
) (*model.Message, error) {
	in.Emoji = strings.TrimSpace(in.Emoji)
	if err := validateStruct(&in).orNil(); err != nil {
		return nil, err
	}

	var changed bool
	msg, err := s.msgRepo.UpdateReactions(ctx, messageID, func(m *model.Message) (model.Reactions, bool, error) {
		if m.IsDeleted {
			return nil, false, ErrNotFound
		}
		if m.SenderID != userID && m.ReceiverID != userID {
			return nil, false, ErrAccessDenied
		}
		next, ok, err := apply(m.Reactions, in.Emoji)
		changed = ok
		return next, ok, err
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if changed {
		metrics.ReactionChanges.WithLabelValues(op).Inc()
		logger.For(ctx, s.log).Debug("reaction changed",
			zap.String("op", op),
			zap.Uint64("message_id", messageID),
			zap.String("emoji", in.Emoji),
		)
	}
	return msg, nil
}
