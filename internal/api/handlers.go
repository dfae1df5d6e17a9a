package api

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/fathima-sithara/churchconnect/internal/apperr"
	"github.com/fathima-sithara/churchconnect/internal/chat"
	"github.com/fathima-sithara/churchconnect/internal/domain"
	"github.com/fathima-sithara/churchconnect/internal/store"
)

func (s *Server) listConversations(c *fiber.Ctx) error {
	convs, err := s.chat.ListConversations(c.UserContext(), callerID(c))
	if err != nil {
		return writeError(c, err)
	}
	if convs == nil {
		convs = []domain.ConversationSummary{}
	}
	return c.JSON(fiber.Map{"conversations": convs})
}

func (s *Server) createConversation(c *fiber.Ctx) error {
	var in chat.CreateConversationInput
	if err := c.BodyParser(&in); err != nil {
		return writeError(c, apperr.Invalid("invalid request body"))
	}
	id, existing, err := s.chat.CreateConversation(c.UserContext(), callerID(c), in)
	if err != nil {
		return writeError(c, err)
	}
	status := fiber.StatusCreated
	if existing {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(fiber.Map{"conversation_id": id, "existing": existing})
}

// listMessages accepts ?limit=, ?before= (RFC 3339 timestamp of the oldest message
// already held by the client) and ?before_id= (that message's id, to split timestamp ties).
func (s *Server) listMessages(c *fiber.Ctx) error {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return writeError(c, apperr.Invalid("limit must be a positive integer"))
		}
		limit = n
	}
	var before store.Cursor
	if v := c.Query("before"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return writeError(c, apperr.Invalid("before must be an RFC 3339 timestamp"))
		}
		before = store.Cursor{Before: t, BeforeID: c.Query("before_id")}
	} else if c.Query("before_id") != "" {
		return writeError(c, apperr.Invalid("before_id requires before"))
	}
	msgs, err := s.chat.ListMessages(c.UserContext(), callerID(c), c.Params("id"), limit, before)
	if err != nil {
		return writeError(c, err)
	}
	if msgs == nil {
		msgs = []domain.MessageView{}
	}
	return c.JSON(fiber.Map{"messages": msgs})
}

type sendMessageBody struct {
	Content   string `json:"content"`
	Type      string `json:"type"`
	MediaURL  string `json:"media_url"`
	ReplyToID string `json:"reply_to_id"`
}

// sendMessage broadcasts to every subscribed connection, the sender's included.
func (s *Server) sendMessage(c *fiber.Ctx) error {
	var body sendMessageBody
	if err := c.BodyParser(&body); err != nil {
		return writeError(c, apperr.Invalid("invalid request body"))
	}
	if body.Type == "" {
		body.Type = string(domain.MessageText)
	}
	view, err := s.chat.SendMessage(c.UserContext(), callerID(c), chat.SendInput{
		ConversationID: c.Params("id"),
		Type:           domain.MessageType(body.Type),
		Content:        body.Content,
		MediaURL:       body.MediaURL,
		ReplyToID:      body.ReplyToID,
	}, "")
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": view})
}

func (s *Server) deleteMessage(c *fiber.Ctx) error {
	if _, err := s.chat.DeleteMessage(c.UserContext(), callerID(c), c.Params("id")); err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

func (s *Server) markRead(c *fiber.Ctx) error {
	var body struct {
		MessageIDs []string `json:"message_ids"`
	}
	if err := c.BodyParser(&body); err != nil {
		return writeError(c, apperr.Invalid("invalid request body"))
	}
	applied, err := s.chat.MarkRead(c.UserContext(), callerID(c), c.Params("id"), body.MessageIDs, "")
	if err != nil {
		return writeError(c, err)
	}
	if applied == nil {
		applied = []string{}
	}
	return c.JSON(fiber.Map{"message_ids": applied})
}

func (s *Server) listMembers(c *fiber.Ctx) error {
	members, err := s.chat.ListMembers(c.UserContext(), callerID(c), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	if members == nil {
		members = []domain.MemberView{}
	}
	return c.JSON(fiber.Map{"members": members})
}

func (s *Server) addMember(c *fiber.Ctx) error {
	var body struct {
		UserID string `json:"user_id"`
	}
	if err := c.BodyParser(&body); err != nil {
		return writeError(c, apperr.Invalid("invalid request body"))
	}
	if body.UserID == "" {
		return writeError(c, apperr.Invalid("user_id is required"))
	}
	added, err := s.chat.AddMember(c.UserContext(), callerID(c), c.Params("id"), body.UserID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "added": added})
}

func (s *Server) getUser(c *fiber.Ctx) error {
	u, err := s.chat.GetUser(c.UserContext(), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"user": u})
}

func (s *Server) searchUsers(c *fiber.Ctx) error {
	users, err := s.chat.SearchUsers(c.UserContext(), callerID(c), c.Query("q"))
	if err != nil {
		return writeError(c, err)
	}
	if users == nil {
		users = []domain.User{}
	}
	return c.JSON(fiber.Map{"users": users})
}

type presenceResponse struct {
	UserID   string     `json:"user_id"`
	IsOnline bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
	Source   string     `json:"source"`
}

// getPresence prefers the Redis mirror and falls back to the flag persisted on the user.
func (s *Server) getPresence(c *fiber.Ctx) error {
	userID := c.Params("user_id")
	if s.presence != nil {
		st, err := s.presence.Get(c.UserContext(), userID)
		if err == nil {
			resp := presenceResponse{UserID: userID, IsOnline: st.Online, Source: "cache"}
			if st.LastSeen > 0 {
				t := time.Unix(st.LastSeen, 0).UTC()
				resp.LastSeen = &t
			}
			return c.JSON(resp)
		}
		s.log.Debugw("presence mirror miss", "user_id", userID, "err", err)
	}
	u, err := s.chat.GetUser(c.UserContext(), userID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(presenceResponse{UserID: u.ID, IsOnline: u.IsOnline, LastSeen: u.LastSeen, Source: "store"})
}
