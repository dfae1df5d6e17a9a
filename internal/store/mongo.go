package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/fathima-sithara/churchconnect/internal/apperr"
	"github.com/fathima-sithara/churchconnect/internal/domain"
)

const (
	colUsers         = "users"
	colConversations = "conversations"
	colMembers       = "conversation_members"
	colMessages      = "messages"
	colReceipts      = "message_receipts"
)

// Connect dials MongoDB and pings the primary, retrying with exponential backoff until maxWait elapses.
func Connect(ctx context.Context, uri string, maxWait time.Duration, log *zap.SugaredLogger) (*mongo.Client, error) {
	var client *mongo.Client
	op := func() error {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		c, err := mongo.Connect(cctx, options.Client().ApplyURI(uri))
		if err != nil {
			return err
		}
		if err := c.Ping(cctx, readpref.Primary()); err != nil {
			_ = c.Disconnect(context.Background())
			return err
		}
		client = c
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = maxWait
	notify := func(err error, next time.Duration) {
		log.Warnw("mongo not ready, retrying", "err", err, "next", next)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify); err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	return client, nil
}

type MongoStore struct {
	users         *mongo.Collection
	conversations *mongo.Collection
	members       *mongo.Collection
	messages      *mongo.Collection
	receipts      *mongo.Collection
}

// NewMongoStore binds the collections of db and ensures the indexes the engine relies on.
func NewMongoStore(ctx context.Context, db *mongo.Database) (*MongoStore, error) {
	s := &MongoStore{
		users:         db.Collection(colUsers),
		conversations: db.Collection(colConversations),
		members:       db.Collection(colMembers),
		messages:      db.Collection(colMessages),
		receipts:      db.Collection(colReceipts),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	idx := []struct {
		coll  *mongo.Collection
		model mongo.IndexModel
	}{
		{s.members, mongo.IndexModel{
			Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("member_pair_uniq"),
		}},
		{s.members, mongo.IndexModel{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetName("member_user_idx"),
		}},
		{s.messages, mongo.IndexModel{
			Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: -1}, {Key: "_id", Value: -1}},
			Options: options.Index().SetName("conv_created_idx"),
		}},
		{s.receipts, mongo.IndexModel{
			Keys:    bson.D{{Key: "message_id", Value: 1}, {Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("receipt_pair_uniq"),
		}},
	}
	for _, ix := range idx {
		if _, err := ix.coll.Indexes().CreateOne(ctx, ix.model); err != nil {
			return fmt.Errorf("create index %s: %w", *ix.model.Options.Name, err)
		}
	}
	return nil
}

// translate maps driver errors onto the store's contract.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return apperr.Unavailable(err)
}

func (s *MongoStore) GetUser(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	if err := s.users.FindOne(ctx, bson.M{"_id": id}).Decode(&u); err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (s *MongoStore) SearchUsers(ctx context.Context, query, excludeID string, limit int) ([]domain.User, error) {
	pattern := bson.M{"$regex": regexp.QuoteMeta(query), "$options": "i"}
	filter := bson.M{
		"_id": bson.M{"$ne": excludeID},
		"$or": bson.A{bson.M{"full_name": pattern}, bson.M{"email": pattern}},
	}
	opts := options.Find().SetSort(bson.D{{Key: "full_name", Value: 1}}).SetLimit(int64(limit))
	cur, err := s.users.Find(ctx, filter, opts)
	if err != nil {
		return nil, translate(err)
	}
	out := []domain.User{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, translate(err)
	}
	return out, nil
}

func (s *MongoStore) SetPresence(ctx context.Context, userID string, online bool, lastSeen *time.Time) error {
	set := bson.M{"is_online": online}
	if lastSeen != nil {
		set["last_seen"] = *lastSeen
	}
	res, err := s.users.UpdateByID(ctx, userID, bson.M{"$set": set})
	if err != nil {
		return translate(err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) CreateConversation(ctx context.Context, c *domain.Conversation, members []domain.ConversationMember) error {
	if _, err := s.conversations.InsertOne(ctx, c); err != nil {
		return translate(err)
	}
	for _, m := range members {
		if _, err := s.AddMember(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *MongoStore) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	var c domain.Conversation
	if err := s.conversations.FindOne(ctx, bson.M{"_id": id}).Decode(&c); err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

func (s *MongoStore) FindDirectConversation(ctx context.Context, userA, userB string) (*domain.Conversation, error) {
	mine, err := s.ListMemberships(ctx, userA)
	if err != nil {
		return nil, err
	}
	if len(mine) == 0 {
		return nil, ErrNotFound
	}
	shared, err := s.members.Distinct(ctx, "conversation_id", bson.M{
		"user_id":         userB,
		"conversation_id": bson.M{"$in": mine},
	})
	if err != nil {
		return nil, translate(err)
	}
	if len(shared) == 0 {
		return nil, ErrNotFound
	}
	var c domain.Conversation
	err = s.conversations.FindOne(ctx, bson.M{
		"_id":  bson.M{"$in": shared},
		"type": domain.ConversationDirect,
	}).Decode(&c)
	if err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

func (s *MongoStore) ListConversations(ctx context.Context, userID string) ([]domain.Conversation, error) {
	ids, err := s.ListMemberships(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := []domain.Conversation{}
	if len(ids) == 0 {
		return out, nil
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cur, err := s.conversations.Find(ctx, bson.M{"_id": bson.M{"$in": ids}}, opts)
	if err != nil {
		return nil, translate(err)
	}
	if err := cur.All(ctx, &out); err != nil {
		return nil, translate(err)
	}
	return out, nil
}

func (s *MongoStore) GetMember(ctx context.Context, conversationID, userID string) (*domain.ConversationMember, error) {
	var m domain.ConversationMember
	err := s.members.FindOne(ctx, bson.M{"conversation_id": conversationID, "user_id": userID}).Decode(&m)
	if err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

func (s *MongoStore) AddMember(ctx context.Context, m domain.ConversationMember) (bool, error) {
	filter := bson.M{"conversation_id": m.ConversationID, "user_id": m.UserID}
	res, err := s.members.UpdateOne(ctx, filter, bson.M{"$setOnInsert": m}, options.Update().SetUpsert(true))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, translate(err)
	}
	return res.UpsertedCount > 0, nil
}

func (s *MongoStore) ListMembers(ctx context.Context, conversationID string) ([]domain.MemberView, error) {
	cur, err := s.members.Find(ctx, bson.M{"conversation_id": conversationID})
	if err != nil {
		return nil, translate(err)
	}
	var rows []domain.ConversationMember
	if err := cur.All(ctx, &rows); err != nil {
		return nil, translate(err)
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.UserID)
	}
	users, err := s.usersByID(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := []domain.MemberView{}
	for _, r := range rows {
		u, ok := users[r.UserID]
		if !ok {
			continue
		}
		out = append(out, domain.MemberView{
			ID:         u.ID,
			FullName:   u.FullName,
			AvatarURL:  u.AvatarURL,
			ChurchRole: u.ChurchRole,
			IsOnline:   u.IsOnline,
			LastSeen:   u.LastSeen,
			Role:       r.Role,
		})
	}
	return out, nil
}

func (s *MongoStore) ListMemberships(ctx context.Context, userID string) ([]string, error) {
	vals, err := s.members.Distinct(ctx, "conversation_id", bson.M{"user_id": userID})
	if err != nil {
		return nil, translate(err)
	}
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if id, ok := v.(string); ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *MongoStore) InsertMessage(ctx context.Context, m *domain.Message) error {
	_, err := s.messages.InsertOne(ctx, m)
	return translate(err)
}

func (s *MongoStore) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	var m domain.Message
	if err := s.messages.FindOne(ctx, bson.M{"_id": id}).Decode(&m); err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

func (s *MongoStore) GetMessageView(ctx context.Context, id string) (*domain.MessageView, error) {
	m, err := s.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	sender, err := s.GetUser(ctx, m.SenderID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	v := domain.NewMessageView(*m, sender)
	return &v, nil
}

func (s *MongoStore) TombstoneMessage(ctx context.Context, id string) error {
	res, err := s.messages.UpdateByID(ctx, id, bson.M{"$set": bson.M{"is_deleted": true, "content": domain.Tombstone}})
	if err != nil {
		return translate(err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ListMessages pages backwards over (created_at, _id); ids are UUIDv7 so they break timestamp ties in insertion order.
func (s *MongoStore) ListMessages(ctx context.Context, conversationID string, limit int, before Cursor) ([]domain.MessageView, error) {
	filter := bson.M{"conversation_id": conversationID, "is_deleted": false}
	switch {
	case before.IsZero():
	case before.BeforeID == "":
		filter["created_at"] = bson.M{"$lt": before.Before}
	default:
		filter["$or"] = bson.A{
			bson.M{"created_at": bson.M{"$lt": before.Before}},
			bson.M{"created_at": before.Before, "_id": bson.M{"$lt": before.BeforeID}},
		}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := s.messages.Find(ctx, filter, opts)
	if err != nil {
		return nil, translate(err)
	}
	var msgs []domain.Message
	if err := cur.All(ctx, &msgs); err != nil {
		return nil, translate(err)
	}

	senders := make([]string, 0, len(msgs))
	for _, m := range msgs {
		senders = append(senders, m.SenderID)
	}
	users, err := s.usersByID(ctx, senders)
	if err != nil {
		return nil, err
	}

	out := make([]domain.MessageView, len(msgs))
	for i, m := range msgs {
		var sender *domain.User
		if u, ok := users[m.SenderID]; ok {
			sender = &u
		}
		// reverse into chronological order
		out[len(msgs)-1-i] = domain.NewMessageView(m, sender)
	}
	return out, nil
}

func (s *MongoStore) LastMessage(ctx context.Context, conversationID string) (*domain.Message, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	var m domain.Message
	err := s.messages.FindOne(ctx, bson.M{"conversation_id": conversationID, "is_deleted": false}, opts).Decode(&m)
	if err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

// UpsertReceipt only matches an existing row whose status ranks below r.Status. A row at or
// above it makes the upsert collide with the unique pair index, which is treated as a no-op.
func (s *MongoStore) UpsertReceipt(ctx context.Context, r domain.MessageReceipt) error {
	lower := bson.A{}
	for _, st := range []domain.ReceiptStatus{domain.ReceiptSent, domain.ReceiptDelivered, domain.ReceiptRead} {
		if st != r.Status && st.Advance(r.Status) == r.Status {
			lower = append(lower, st)
		}
	}
	filter := bson.M{
		"message_id": r.MessageID,
		"user_id":    r.UserID,
		"status":     bson.M{"$in": lower},
	}
	update := bson.M{"$set": bson.M{"status": r.Status, "updated_at": r.UpdatedAt}}
	_, err := s.receipts.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
		return translate(err)
	}
	return nil
}

func (s *MongoStore) GetReceipt(ctx context.Context, messageID, userID string) (*domain.MessageReceipt, error) {
	var r domain.MessageReceipt
	if err := s.receipts.FindOne(ctx, bson.M{"message_id": messageID, "user_id": userID}).Decode(&r); err != nil {
		return nil, translate(err)
	}
	return &r, nil
}

func (s *MongoStore) UnreadCount(ctx context.Context, userID, conversationID string) (int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"conversation_id": conversationID,
			"is_deleted":      false,
			"sender_id":       bson.M{"$ne": userID},
		}}},
		{{Key: "$lookup", Value: bson.M{
			"from": colReceipts,
			"let":  bson.M{"mid": "$_id"},
			"pipeline": bson.A{
				bson.M{"$match": bson.M{"$expr": bson.M{"$and": bson.A{
					bson.M{"$eq": bson.A{"$message_id", "$$mid"}},
					bson.M{"$eq": bson.A{"$user_id", userID}},
					bson.M{"$eq": bson.A{"$status", domain.ReceiptRead}},
				}}}},
			},
			"as": "read",
		}}},
		{{Key: "$match", Value: bson.M{"read": bson.M{"$size": 0}}}},
		{{Key: "$count", Value: "n"}},
	}
	cur, err := s.messages.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, translate(err)
	}
	var rows []struct {
		N int64 `bson:"n"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return 0, translate(err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].N, nil
}

func (s *MongoStore) usersByID(ctx context.Context, ids []string) (map[string]domain.User, error) {
	out := make(map[string]domain.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	cur, err := s.users.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, translate(err)
	}
	var users []domain.User
	if err := cur.All(ctx, &users); err != nil {
		return nil, translate(err)
	}
	for _, u := range users {
		out[u.ID] = u
	}
	return out, nil
}
