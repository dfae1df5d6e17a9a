package domain

import "time"

// Tombstone replaces the content of a deleted message. The replacement is irreversible.
const Tombstone = "This message was deleted"

type MessageType string

const (
	MessageText       MessageType = "text"
	MessageImage      MessageType = "image"
	MessageAudio      MessageType = "audio"
	MessageFile       MessageType = "file"
	MessageBibleVerse MessageType = "bible_verse"
	MessagePrayer     MessageType = "prayer"
)

func (t MessageType) IsValid() bool {
	switch t {
	case MessageText, MessageImage, MessageAudio, MessageFile, MessageBibleVerse, MessagePrayer:
		return true
	}
	return false
}

type Message struct {
	ID             string      `bson:"_id" json:"id"`
	ConversationID string      `bson:"conversation_id" json:"conversation_id"`
	SenderID       string      `bson:"sender_id" json:"sender_id"`
	Type           MessageType `bson:"type" json:"type"`
	Content        string      `bson:"content" json:"content"`
	MediaURL       string      `bson:"media_url,omitempty" json:"media_url,omitempty"`
	ReplyToID      string      `bson:"reply_to_id,omitempty" json:"reply_to_id,omitempty"`
	IsDeleted      bool        `bson:"is_deleted" json:"is_deleted"`
	CreatedAt      time.Time   `bson:"created_at" json:"created_at"`
}

// MessageView is a message decorated with its sender's display fields.
type MessageView struct {
	Message      `bson:",inline"`
	SenderName   string `bson:"sender_name" json:"sender_name"`
	SenderAvatar string `bson:"sender_avatar,omitempty" json:"sender_avatar,omitempty"`
	SenderRole   Role   `bson:"sender_role" json:"sender_role"`
}

func NewMessageView(m Message, sender *User) MessageView {
	v := MessageView{Message: m}
	if sender != nil {
		v.SenderName = sender.FullName
		v.SenderAvatar = sender.AvatarURL
		v.SenderRole = sender.ChurchRole
	}
	return v
}
