package domain

import "time"

type ConversationType string

const (
	ConversationDirect       ConversationType = "direct"
	ConversationGroup        ConversationType = "group"
	ConversationAnnouncement ConversationType = "announcement"
)

func (t ConversationType) IsValid() bool {
	switch t {
	case ConversationDirect, ConversationGroup, ConversationAnnouncement:
		return true
	}
	return false
}

// MemberRole governs who may add members to or moderate a conversation.
type MemberRole string

const (
	MemberAdmin     MemberRole = "admin"
	MemberModerator MemberRole = "moderator"
	MemberRegular   MemberRole = "member"
)

func (r MemberRole) IsValid() bool {
	switch r {
	case MemberAdmin, MemberModerator, MemberRegular:
		return true
	}
	return false
}

func (r MemberRole) CanManageMembers() bool {
	return r == MemberAdmin || r == MemberModerator
}

type Conversation struct {
	ID          string           `bson:"_id" json:"id"`
	Type        ConversationType `bson:"type" json:"type"`
	Name        string           `bson:"name,omitempty" json:"name,omitempty"`
	Description string           `bson:"description,omitempty" json:"description,omitempty"`
	AvatarURL   string           `bson:"avatar_url,omitempty" json:"avatar_url,omitempty"`
	CreatedBy   string           `bson:"created_by" json:"created_by"`
	CreatedAt   time.Time        `bson:"created_at" json:"created_at"`
}

// ConversationMember is unique per (ConversationID, UserID).
type ConversationMember struct {
	ConversationID string     `bson:"conversation_id" json:"conversation_id"`
	UserID         string     `bson:"user_id" json:"user_id"`
	Role           MemberRole `bson:"role" json:"role"`
	JoinedAt       time.Time  `bson:"joined_at" json:"joined_at"`
}

// MemberView is a member row joined with the user's public profile.
type MemberView struct {
	ID         string     `json:"id"`
	FullName   string     `json:"full_name"`
	AvatarURL  string     `json:"avatar_url,omitempty"`
	ChurchRole Role       `json:"church_role"`
	IsOnline   bool       `json:"is_online"`
	LastSeen   *time.Time `json:"last_seen,omitempty"`
	Role       MemberRole `json:"role"`
}

// ConversationSummary is one row of a user's conversation list.
type ConversationSummary struct {
	Conversation
	MyRole      MemberRole   `json:"my_role"`
	LastMessage *Message     `json:"last_message"`
	UnreadCount int64        `json:"unread_count"`
	Members     []MemberView `json:"members"`
}
