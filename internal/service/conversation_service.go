package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shinyyama/rental-backend/internal/convid"
	"github.com/shinyyama/rental-backend/internal/logger"
	"github.com/shinyyama/rental-backend/internal/metrics"
	"github.com/shinyyama/rental-backend/internal/model"
	"github.com/shinyyama/rental-backend/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// StarterBody is the seed message written when a conversation is started
// before either side has said anything.
const StarterBody = "Hi! I'm interested in this property."

// ConversationSummary is one row of a user's inbox.
type ConversationSummary struct {
	ConversationID string          `json:"conversationId"`
	Property       *model.Property `json:"property"`
	OtherUser      *model.User     `json:"otherUser"`
	LastMessage    *model.Message  `json:"lastMessage"`
	LastActivity   time.Time       `json:"lastActivity"`
	UnreadCount    int64           `json:"unreadCount"`
}

type StartInput struct {
	PropertyID uint64 `json:"property_id" validate:"required"`
	ReceiverID uint64 `json:"receiver_id" validate:"required"`
}

type ConversationService interface {
	// List never fails. Internal errors are logged and yield an empty inbox.
	List(ctx context.Context, userID uint64) []ConversationSummary
	Start(ctx context.Context, userID uint64, in StartInput) (string, error)
}

type conversationService struct {
	msgRepo      repository.MessageRepository
	userRepo     repository.UserRepository
	propertyRepo repository.PropertyRepository
	log          *zap.Logger
}

func NewConversationService(
	msgRepo repository.MessageRepository,
	userRepo repository.UserRepository,
	propertyRepo repository.PropertyRepository,
	log *zap.Logger,
) ConversationService {
	return &conversationService{msgRepo: msgRepo, userRepo: userRepo, propertyRepo: propertyRepo, log: log}
}

func (s *conversationService) List(ctx context.Context, userID uint64) []ConversationSummary {
	out, err := s.aggregate(ctx, userID)
	if err != nil {
		metrics.ConversationListFailures.Inc()
		logger.For(ctx, s.log).Error("conversation list failed", zap.Uint64("for_user", userID), zap.Error(err))
		return []ConversationSummary{}
	}
	return out
}

type pairKey struct {
	propertyID uint64
	otherID    uint64
}

func (s *conversationService) aggregate(ctx context.Context, userID uint64) ([]ConversationSummary, error) {
	sent, err := s.msgRepo.LatestSentTo(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("sent pairs: %w", err)
	}
	received, err := s.msgRepo.LatestReceivedFrom(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("received pairs: %w", err)
	}

	latest := make(map[pairKey]uint64, len(sent)+len(received))
	for _, c := range append(sent, received...) {
		k := pairKey{c.PropertyID, c.OtherID}
		if c.LastMessageID > latest[k] {
			latest[k] = c.LastMessageID
		}
	}
	if len(latest) == 0 {
		return []ConversationSummary{}, nil
	}

	msgIDs := make([]uint64, 0, len(latest))
	propertyIDs := make([]uint64, 0, len(latest))
	userIDs := make([]uint64, 0, len(latest))
	for k, id := range latest {
		msgIDs = append(msgIDs, id)
		propertyIDs = append(propertyIDs, k.propertyID)
		userIDs = append(userIDs, k.otherID)
	}

	msgs, err := s.msgRepo.FindByIDs(ctx, msgIDs)
	if err != nil {
		return nil, fmt.Errorf("latest messages: %w", err)
	}
	properties, err := s.propertyRepo.FindByIDs(ctx, propertyIDs)
	if err != nil {
		return nil, fmt.Errorf("properties: %w", err)
	}
	users, err := s.userRepo.FindByIDs(ctx, userIDs)
	if err != nil {
		return nil, fmt.Errorf("users: %w", err)
	}
	unreadRows, err := s.msgRepo.UnreadCounts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("unread counts: %w", err)
	}
	unread := make(map[pairKey]int64, len(unreadRows))
	for _, u := range unreadRows {
		unread[pairKey{u.PropertyID, u.SenderID}] = u.Unread
	}

	out := make([]ConversationSummary, 0, len(latest))
	for k, id := range latest {
		msg, ok := msgs[id]
		if !ok {
			continue
		}
		sum := ConversationSummary{
			ConversationID: convid.Derive(k.propertyID, userID, k.otherID),
			LastMessage:    &msg,
			LastActivity:   msg.CreatedAt,
			UnreadCount:    unread[k],
		}
		if p, ok := properties[k.propertyID]; ok {
			sum.Property = &p
		}
		if u, ok := users[k.otherID]; ok {
			sum.OtherUser = &u
		}
		out = append(out, sum)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].LastActivity.After(out[j].LastActivity)
		}
		return out[i].LastMessage.ID > out[j].LastMessage.ID
	})
	return out, nil
}

// Start returns the id of the conversation between userID and the receiver
// about the property, writing a seed message if they have none yet.
func (s *conversationService) Start(ctx context.Context, userID uint64, in StartInput) (string, error) {
	if in.ReceiverID == userID {
		return "", ErrInvalidRecipient
	}
	verr := validateStruct(&in)
	if in.PropertyID != 0 {
		if _, err := s.propertyRepo.FindByID(ctx, in.PropertyID); err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return "", fmt.Errorf("lookup property: %w", err)
			}
			verr.Add("property_id", "does not exist")
		}
	}
	if in.ReceiverID != 0 {
		if _, err := s.userRepo.FindByID(ctx, in.ReceiverID); err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return "", fmt.Errorf("lookup receiver: %w", err)
			}
			verr.Add("receiver_id", "does not exist")
		}
	}
	if err := verr.orNil(); err != nil {
		return "", err
	}

	id := convid.New(in.PropertyID, userID, in.ReceiverID)
	exists, err := s.msgRepo.HasConversation(ctx, id)
	if err != nil {
		return "", fmt.Errorf("check conversation: %w", err)
	}
	if !exists {
		seed := &model.Message{
			PropertyID: in.PropertyID,
			SenderID:   userID,
			ReceiverID: in.ReceiverID,
			Body:       StarterBody,
			Kind:       model.KindText,
		}
		if err := s.msgRepo.Create(ctx, seed); err != nil {
			return "", fmt.Errorf("create seed message: %w", err)
		}
		metrics.MessagesSent.WithLabelValues(string(seed.Kind)).Inc()
		logger.For(ctx, s.log).Info("conversation started", zap.String("conversation_id", id.String()))
	}
	return id.String(), nil
}
