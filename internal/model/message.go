package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

type MessageKind string

const (
	KindText     MessageKind = "text"
	KindImage    MessageKind = "image"
	KindFile     MessageKind = "file"
	KindVoice    MessageKind = "voice"
	KindLocation MessageKind = "location"
)

func (k MessageKind) Valid() bool {
	switch k {
	case KindText, KindImage, KindFile, KindVoice, KindLocation:
		return true
	}
	return false
}

// HasAttachment reports whether messages of this kind carry an uploaded file.
func (k MessageKind) HasAttachment() bool {
	return k == KindImage || k == KindFile || k == KindVoice
}

// Message rows are scoped to one property and one unordered pair of users.
// The conversation they belong to is never stored; see package convid.
type Message struct {
	ID         uint64      `gorm:"primaryKey;autoIncrement" json:"id"`
	PropertyID uint64      `gorm:"column:property_id;not null;index:idx_messages_scope,priority:1" json:"propertyId"`
	SenderID   uint64      `gorm:"column:sender_id;not null;index:idx_messages_scope,priority:2" json:"senderId"`
	ReceiverID uint64      `gorm:"column:receiver_id;not null;index:idx_messages_scope,priority:3;index:idx_messages_unread,priority:1" json:"receiverId"`
	Body       string      `gorm:"type:text;not null" json:"body"`
	Kind       MessageKind `gorm:"column:kind;size:16;not null;default:text" json:"kind"`
	ReplyToID  *uint64     `gorm:"column:reply_to_id;index" json:"replyToId,omitempty"`

	AttachmentPath *string `gorm:"column:attachment_path;size:1024" json:"attachmentPath,omitempty"`
	AttachmentName *string `gorm:"column:attachment_name;size:255" json:"attachmentName,omitempty"`
	AttachmentSize *int64  `gorm:"column:attachment_size" json:"attachmentSize,omitempty"`
	AttachmentMIME *string `gorm:"column:attachment_mime;size:128" json:"attachmentMime,omitempty"`

	Voice     datatypes.JSON `gorm:"column:voice" json:"voice,omitempty"`
	Metadata  datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
	Reactions Reactions      `gorm:"column:reactions" json:"reactions"`

	ReadAt    *time.Time `gorm:"column:read_at;index:idx_messages_unread,priority:2" json:"readAt,omitempty"`
	IsDeleted bool       `gorm:"column:is_deleted;not null;default:false" json:"isDeleted"`
	DeletedAt *time.Time `gorm:"column:deleted_at" json:"deletedAt,omitempty"`
	IsEdited  bool       `gorm:"column:is_edited;not null;default:false" json:"isEdited"`
	EditedAt  *time.Time `gorm:"column:edited_at" json:"editedAt,omitempty"`
	CreatedAt time.Time  `gorm:"autoCreateTime;index:idx_messages_scope,priority:4" json:"createdAt"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`

	Sender  *User    `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
	ReplyTo *Message `gorm:"foreignKey:ReplyToID" json:"replyTo,omitempty"`
}

func (Message) TableName() string {
	return "messages"
}

// Location is the structured payload of a location message.
type Location struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
}

// VoiceInfo describes a voice attachment. Estimated is set when the
// duration comes from a fallback rather than from the audio stream.
type VoiceInfo struct {
	DurationSeconds int  `json:"durationSeconds"`
	Bitrate         *int `json:"bitrate,omitempty"`
	SampleRate      *int `json:"sampleRate,omitempty"`
	Channels        *int `json:"channels,omitempty"`
	Estimated       bool `json:"estimated"`
}

func (m *Message) Location() (*Location, bool) {
	return decodeJSONColumn[Location](m.Metadata)
}

func (m *Message) VoiceInfo() (*VoiceInfo, bool) {
	return decodeJSONColumn[VoiceInfo](m.Voice)
}

func decodeJSONColumn[T any](raw datatypes.JSON) (*T, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, false
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	return &v, true
}
