package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shinyyama/rental-backend/internal/convid"
	"github.com/shinyyama/rental-backend/internal/logger"
	"github.com/shinyyama/rental-backend/internal/media"
	"github.com/shinyyama/rental-backend/internal/metrics"
	"github.com/shinyyama/rental-backend/internal/model"
	"github.com/shinyyama/rental-backend/internal/repository"
	"github.com/shinyyama/rental-backend/internal/storage"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	MaxBodyLength = 1000

	// LocationPlaceholder is stored as the body of a location message sent
	// without text.
	LocationPlaceholder = "Location shared"
)

// Attachment is one uploaded file as received from the client.
type Attachment struct {
	Filename string
	MIME     string
	Data     []byte
}

// SendInput is a message submission. Field names follow the multipart form.
type SendInput struct {
	PropertyID uint64          `json:"property_id" validate:"required"`
	ReceiverID uint64          `json:"receiver_id" validate:"required"`
	Body       string          `json:"message" validate:"max=1000"`
	ReplyToID  *uint64         `json:"reply_to_id" validate:"omitempty,gt=0"`
	Kind       string          `json:"type" validate:"omitempty,oneof=text image file voice location"`
	Metadata   json.RawMessage `json:"metadata"`
	Attachment *Attachment     `json:"file" validate:"-"`
}

type locationInput struct {
	Latitude  *float64 `json:"latitude" validate:"required,latitude"`
	Longitude *float64 `json:"longitude" validate:"required,longitude"`
	Accuracy  *float64 `json:"accuracy" validate:"omitempty,gte=0"`
}

type MessageService interface {
	Send(ctx context.Context, senderID uint64, in SendInput) (*model.Message, error)
	List(ctx context.Context, conversationID string, userID uint64) ([]model.Message, error)
	MarkRead(ctx context.Context, conversationID string, userID uint64) (int64, error)
	Get(ctx context.Context, messageID, userID uint64) (*model.Message, error)
	Delete(ctx context.Context, messageID, userID uint64) (*model.Message, error)
}

type messageService struct {
	msgRepo      repository.MessageRepository
	userRepo     repository.UserRepository
	propertyRepo repository.PropertyRepository
	store        storage.FileStore
	log          *zap.Logger
	now          func() time.Time
}

func NewMessageService(
	msgRepo repository.MessageRepository,
	userRepo repository.UserRepository,
	propertyRepo repository.PropertyRepository,
	store storage.FileStore,
	log *zap.Logger,
) MessageService {
	return &messageService{
		msgRepo:      msgRepo,
		userRepo:     userRepo,
		propertyRepo: propertyRepo,
		store:        store,
		log:          log,
		now:          time.Now,
	}
}

func (s *messageService) Send(ctx context.Context, senderID uint64, in SendInput) (*model.Message, error) {
	in.Body = strings.TrimSpace(in.Body)
	in.Kind = strings.TrimSpace(strings.ToLower(in.Kind))

	if err := Precheck(senderID, in); err != nil {
		return nil, err
	}

	loc, err := s.validateSend(ctx, senderID, &in)
	if err != nil {
		return nil, err
	}

	msg := &model.Message{
		PropertyID: in.PropertyID,
		SenderID:   senderID,
		ReceiverID: in.ReceiverID,
		Body:       in.Body,
		Kind:       model.KindText,
		ReplyToID:  in.ReplyToID,
	}

	switch {
	case in.Attachment != nil:
		if err := s.attach(ctx, msg, in.Attachment); err != nil {
			return nil, err
		}
	case loc != nil:
		raw, err := json.Marshal(loc)
		if err != nil {
			return nil, fmt.Errorf("encode location: %w", err)
		}
		msg.Kind = model.KindLocation
		msg.Metadata = datatypes.JSON(raw)
		if msg.Body == "" {
			msg.Body = LocationPlaceholder
		}
	case in.Kind != "":
		msg.Kind = model.MessageKind(in.Kind)
	}

	if err := s.msgRepo.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	metrics.MessagesSent.WithLabelValues(string(msg.Kind)).Inc()
	logger.For(ctx, s.log).Info("message sent",
		zap.Uint64("message_id", msg.ID),
		zap.String("conversation_id", convid.Derive(msg.PropertyID, msg.SenderID, msg.ReceiverID)),
		zap.String("kind", string(msg.Kind)),
	)

	stored, err := s.msgRepo.FindByID(ctx, msg.ID)
	if err != nil {
		return nil, fmt.Errorf("reload message: %w", err)
	}
	return stored, nil
}

// Precheck applies the rules that take precedence over any field error: a
// self-addressed message is always InvalidRecipient and a message without
// text, attachment or location kind is always EmptyMessage.
func Precheck(senderID uint64, in SendInput) error {
	if in.ReceiverID == senderID {
		return ErrInvalidRecipient
	}
	kind := strings.TrimSpace(strings.ToLower(in.Kind))
	if strings.TrimSpace(in.Body) == "" && in.Attachment == nil && kind != string(model.KindLocation) {
		return ErrEmptyMessage
	}
	return nil
}

// validateSend collects every field problem before anything is written. It
// returns the parsed location for location messages.
func (s *messageService) validateSend(ctx context.Context, senderID uint64, in *SendInput) (*model.Location, error) {
	verr := validateStruct(in)

	if att := in.Attachment; att != nil {
		if len(att.Data) == 0 {
			verr.Add("file", "must not be empty")
		}
		if len(att.Data) > media.MaxAttachmentBytes {
			verr.Add("file", "must be at most 10 MB")
		}
		if !media.Accepts(att.Filename, media.DetectMIME(att.MIME, att.Data)) {
			verr.Add("file", "has an unsupported type")
		}
	} else if k := model.MessageKind(in.Kind); k.HasAttachment() {
		verr.Add("file", "is required for "+in.Kind+" messages")
	}

	var loc *model.Location
	if in.Attachment == nil && in.Kind == string(model.KindLocation) {
		loc = parseLocation(in.Metadata, verr)
	}

	if in.PropertyID != 0 {
		if _, err := s.propertyRepo.FindByID(ctx, in.PropertyID); err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("lookup property: %w", err)
			}
			verr.Add("property_id", "does not exist")
		}
	}
	if in.ReceiverID != 0 {
		if _, err := s.userRepo.FindByID(ctx, in.ReceiverID); err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("lookup receiver: %w", err)
			}
			verr.Add("receiver_id", "does not exist")
		}
	}
	if in.ReplyToID != nil && *in.ReplyToID != 0 {
		target, err := s.msgRepo.FindByID(ctx, *in.ReplyToID)
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			verr.Add("reply_to_id", "does not exist")
		case err != nil:
			return nil, fmt.Errorf("lookup reply target: %w", err)
		case !sameScope(target, in.PropertyID, senderID, in.ReceiverID):
			verr.Add("reply_to_id", "must belong to this conversation")
		}
	}

	if err := verr.orNil(); err != nil {
		return nil, err
	}
	return loc, nil
}

func parseLocation(raw json.RawMessage, verr *ValidationError) *model.Location {
	if len(raw) == 0 || string(raw) == "null" {
		verr.Add("metadata", "latitude and longitude are required for location messages")
		return nil
	}
	var li locationInput
	if err := json.Unmarshal(raw, &li); err != nil {
		verr.Add("metadata", "must be a JSON object")
		return nil
	}
	lerr := validateStruct(&li)
	for field, reasons := range lerr.Fields {
		for _, r := range reasons {
			verr.Add("metadata."+field, r)
		}
	}
	if !lerr.empty() {
		return nil
	}
	return &model.Location{Latitude: *li.Latitude, Longitude: *li.Longitude, Accuracy: li.Accuracy}
}

func sameScope(m *model.Message, propertyID, userA, userB uint64) bool {
	if m.PropertyID != propertyID {
		return false
	}
	return convid.New(m.PropertyID, m.SenderID, m.ReceiverID) == convid.New(propertyID, userA, userB)
}

// attach uploads the file and fills the attachment columns. The kind comes
// from the file itself; any kind the client declared is ignored.
func (s *messageService) attach(ctx context.Context, msg *model.Message, att *Attachment) error {
	mime := media.DetectMIME(att.MIME, att.Data)
	kind := media.Classify(mime, att.Filename)

	url, err := s.store.Put(ctx, storage.ObjectPath(msg.PropertyID, att.Filename), mime, att.Data)
	if err != nil {
		return fmt.Errorf("upload attachment: %w", err)
	}

	size := int64(len(att.Data))
	name := att.Filename
	msg.Kind = kind
	msg.AttachmentPath = &url
	msg.AttachmentName = &name
	msg.AttachmentSize = &size
	msg.AttachmentMIME = &mime

	if kind != model.KindVoice {
		return nil
	}
	info, err := media.AnalyzeVoice(att.Data, mime, att.Filename)
	if err != nil {
		container := media.Container(mime, att.Filename)
		metrics.VoiceProbeFallbacks.WithLabelValues(container).Inc()
		logger.For(ctx, s.log).Warn("voice duration estimated",
			zap.String("mime", mime),
			zap.String("container", container),
			zap.Int("size", len(att.Data)),
			zap.Int("duration_seconds", info.DurationSeconds),
			zap.Error(err),
		)
	}
	raw, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encode voice info: %w", err)
	}
	msg.Voice = datatypes.JSON(raw)
	return nil
}

func (s *messageService) List(ctx context.Context, conversationID string, userID uint64) ([]model.Message, error) {
	id, err := s.participantScope(conversationID, userID)
	if err != nil {
		return nil, err
	}
	return s.msgRepo.ListConversation(ctx, id)
}

func (s *messageService) MarkRead(ctx context.Context, conversationID string, userID uint64) (int64, error) {
	id, err := s.participantScope(conversationID, userID)
	if err != nil {
		return 0, err
	}
	n, err := s.msgRepo.MarkRead(ctx, id, userID, s.now())
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	if n > 0 {
		logger.For(ctx, s.log).Debug("messages marked read",
			zap.String("conversation_id", conversationID),
			zap.Int64("count", n),
		)
	}
	return n, nil
}

func (s *messageService) participantScope(conversationID string, userID uint64) (convid.ID, error) {
	id, err := convid.Parse(conversationID)
	if err != nil {
		return convid.ID{}, err
	}
	if !id.Has(userID) {
		return convid.ID{}, ErrAccessDenied
	}
	return id, nil
}

func (s *messageService) Get(ctx context.Context, messageID, userID uint64) (*model.Message, error) {
	msg, err := s.msgRepo.FindByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if msg.SenderID != userID && msg.ReceiverID != userID {
		return nil, ErrAccessDenied
	}
	return msg, nil
}

// Delete soft-deletes a message. Deleting an already deleted message is a
// no-op that returns it unchanged.
func (s *messageService) Delete(ctx context.Context, messageID, userID uint64) (*model.Message, error) {
	msg, err := s.Get(ctx, messageID, userID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != userID {
		return nil, ErrAccessDenied
	}
	if msg.IsDeleted {
		return msg, nil
	}
	if _, err := s.msgRepo.SoftDelete(ctx, messageID, userID, s.now()); err != nil {
		return nil, fmt.Errorf("delete message: %w", err)
	}
	logger.For(ctx, s.log).Info("message deleted", zap.Uint64("message_id", messageID))
	return s.msgRepo.FindByID(ctx, messageID)
}
