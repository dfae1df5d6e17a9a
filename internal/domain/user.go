package domain

import "time"

// Role is a user's role in the church community.
type Role string

const (
	RolePastor Role = "pastor"
	RoleLeader Role = "leader"
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

func (r Role) IsValid() bool {
	switch r {
	case RolePastor, RoleLeader, RoleMember, RoleAdmin:
		return true
	}
	return false
}

type User struct {
	ID         string     `bson:"_id" json:"id"`
	FullName   string     `bson:"full_name" json:"full_name"`
	Email      string     `bson:"email,omitempty" json:"email,omitempty"`
	AvatarURL  string     `bson:"avatar_url,omitempty" json:"avatar_url,omitempty"`
	Bio        string     `bson:"bio,omitempty" json:"bio,omitempty"`
	ChurchRole Role       `bson:"church_role" json:"church_role"`
	IsOnline   bool       `bson:"is_online" json:"is_online"`
	LastSeen   *time.Time `bson:"last_seen,omitempty" json:"last_seen,omitempty"`
	CreatedAt  time.Time  `bson:"created_at" json:"created_at"`
}
