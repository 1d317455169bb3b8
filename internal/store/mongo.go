package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection names of the document store.
const (
	collPolicies      = "group_policies"
	collMembers       = "members"
	collRelayMappings = "relay_mappings"
	collRelaySettings = "relay_settings"
	collFilters       = "filters"
	collLogs          = "moderation_logs"
)

// MongoOptions configures the MongoDB backend.
type MongoOptions struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
	MaxRetries     uint64
	RetryBaseDelay time.Duration
}

// NewMongoStore connects to MongoDB, retrying with exponential backoff, and
// ensures the unique indexes exist.
func NewMongoStore(ctx context.Context, opts MongoOptions) (*Store, error) {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = time.Second
	}
	log := slog.Default()

	var client *mongo.Client
	connect := func() error {
		cctx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
		defer cancel()

		c, err := mongo.Connect(cctx, options.Client().ApplyURI(opts.URI))
		if err != nil {
			return err
		}
		if err := c.Ping(cctx, nil); err != nil {
			_ = c.Disconnect(context.Background())
			return err
		}
		client = c
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = opts.RetryBaseDelay
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, opts.MaxRetries), ctx)

	err := backoff.RetryNotify(connect, policy, func(err error, delay time.Duration) {
		log.Warn("mongo connect failed, retrying", "error", err, "delay", delay)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	db := client.Database(opts.Database)
	if err := ensureIndexes(ctx, db); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}

	return &Store{
		Policies:      &MongoPolicyRepo{coll: db.Collection(collPolicies)},
		Members:       &MongoMemberRepo{coll: db.Collection(collMembers)},
		RelayMappings: &MongoRelayMappingRepo{coll: db.Collection(collRelayMappings)},
		RelaySettings: &MongoRelaySettingsRepo{coll: db.Collection(collRelaySettings)},
		Filters:       &MongoFilterRepo{coll: db.Collection(collFilters)},
		Logs:          &MongoLogRepo{coll: db.Collection(collLogs)},
		close: func() error {
			cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return client.Disconnect(cctx)
		},
	}, nil
}

func ensureIndexes(ctx context.Context, db *mongo.Database) error {
	unique := func(keys ...string) mongo.IndexModel {
		d := bson.D{}
		for _, k := range keys {
			d = append(d, bson.E{Key: k, Value: 1})
		}
		return mongo.IndexModel{Keys: d, Options: options.Index().SetUnique(true)}
	}

	indexes := map[string][]mongo.IndexModel{
		collPolicies:      {unique("chat_id")},
		collMembers:       {unique("chat_id", "user_id"), {Keys: bson.D{{Key: "verification_pending", Value: 1}, {Key: "verification_deadline", Value: 1}}}},
		collRelayMappings: {unique("relay_chat_id", "relay_message_id"), {Keys: bson.D{{Key: "created_at", Value: 1}}}},
		collRelaySettings: {unique("key")},
		collFilters:       {unique("chat_id", "trigger")},
		collLogs:          {{Keys: bson.D{{Key: "chat_id", Value: 1}, {Key: "created_at", Value: -1}}}},
	}

	for name, models := range indexes {
		if _, err := db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// MongoPolicyRepo implements PolicyRepository.
type MongoPolicyRepo struct {
	coll *mongo.Collection
}

func (r *MongoPolicyRepo) FindOrDefault(ctx context.Context, chatID int64, title string) (*GroupPolicy, error) {
	defaults := NewGroupPolicy(chatID, title)
	defaults.OriginalTitle = title

	onInsert, err := toDocument(defaults)
	if err != nil {
		return nil, err
	}
	delete(onInsert, "chat_id")

	update := bson.M{}
	if title != "" {
		delete(onInsert, "title")
		update["$set"] = bson.M{"title": title}
	}
	update["$setOnInsert"] = onInsert

	var p GroupPolicy
	err = r.coll.FindOneAndUpdate(ctx, bson.M{"chat_id": chatID}, update,
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&p)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *MongoPolicyRepo) Get(ctx context.Context, chatID int64) (*GroupPolicy, error) {
	var p GroupPolicy
	err := r.coll.FindOne(ctx, bson.M{"chat_id": chatID}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *MongoPolicyRepo) Save(ctx context.Context, p *GroupPolicy) error {
	p.UpdatedAt = time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = p.UpdatedAt
	}
	_, err := r.coll.ReplaceOne(ctx, bson.M{"chat_id": p.ChatID}, p, options.Replace().SetUpsert(true))
	return err
}

func (r *MongoPolicyRepo) List(ctx context.Context) ([]GroupPolicy, error) {
	cursor, err := r.coll.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "chat_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var policies []GroupPolicy
	if err := cursor.All(ctx, &policies); err != nil {
		return nil, err
	}
	return policies, nil
}

func (r *MongoPolicyRepo) ListIDs(ctx context.Context) ([]int64, error) {
	opts := options.Find().
		SetProjection(bson.M{"chat_id": 1}).
		SetSort(bson.D{{Key: "chat_id", Value: 1}})
	cursor, err := r.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	var docs []struct {
		ChatID int64 `bson:"chat_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ChatID)
	}
	return ids, nil
}

// MongoMemberRepo implements MemberRepository.
type MongoMemberRepo struct {
	coll *mongo.Collection
}

func (r *MongoMemberRepo) FindOrDefault(ctx context.Context, chatID, userID int64) (*MemberState, error) {
	var m MemberState
	err := r.coll.FindOne(ctx, bson.M{"chat_id": chatID, "user_id": userID}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return &MemberState{ChatID: chatID, UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *MongoMemberRepo) Upsert(ctx context.Context, chatID, userID int64, patch MemberPatch) (*MemberState, error) {
	set, unset := memberUpdate(patch)
	set["updated_at"] = time.Now().UTC()

	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}

	var m MemberState
	err := r.coll.FindOneAndUpdate(ctx, bson.M{"chat_id": chatID, "user_id": userID}, update,
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&m)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// memberUpdate translates a patch into $set and $unset documents.
func memberUpdate(p MemberPatch) (bson.M, bson.M) {
	set := bson.M{}
	unset := bson.M{}

	if p.Username != nil {
		set["username"] = *p.Username
	}
	if p.FirstName != nil {
		set["first_name"] = *p.FirstName
	}
	if p.LastName != nil {
		set["last_name"] = *p.LastName
	}
	if p.Warnings != nil {
		set["warnings"] = *p.Warnings
	}
	if p.ClearMutedUntil {
		unset["muted_until"] = ""
	} else if p.MutedUntil != nil {
		set["muted_until"] = p.MutedUntil.UTC()
	}
	if p.IsWhitelisted != nil {
		set["is_whitelisted"] = *p.IsWhitelisted
	}
	if p.VerificationPending != nil {
		set["verification_pending"] = *p.VerificationPending
	}
	if p.ClearDeadline {
		unset["verification_deadline"] = ""
	} else if p.VerificationDeadline != nil {
		set["verification_deadline"] = p.VerificationDeadline.UTC()
	}
	if p.ClearVerifiedAt {
		unset["verified_at"] = ""
	} else if p.VerifiedAt != nil {
		set["verified_at"] = p.VerifiedAt.UTC()
	}
	if p.IsDeletedLikely != nil {
		set["is_deleted_likely"] = *p.IsDeletedLikely
	}
	return set, unset
}

func (r *MongoMemberRepo) IncrementWarnings(ctx context.Context, chatID, userID int64) (int, error) {
	update := bson.M{
		"$inc": bson.M{"warnings": 1},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	}
	var m MemberState
	err := r.coll.FindOneAndUpdate(ctx, bson.M{"chat_id": chatID, "user_id": userID}, update,
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&m)
	if err != nil {
		return 0, err
	}
	return m.Warnings, nil
}

func (r *MongoMemberRepo) FindByUsername(ctx context.Context, chatID int64, username string) (*MemberState, error) {
	username = strings.TrimPrefix(username, "@")
	filter := bson.M{
		"chat_id":  chatID,
		"username": primitive.Regex{Pattern: "^" + regexp.QuoteMeta(username) + "$", Options: "i"},
	}
	var m MemberState
	err := r.coll.FindOne(ctx, filter, options.FindOne().SetSort(bson.D{{Key: "updated_at", Value: -1}})).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *MongoMemberRepo) ListPendingExpired(ctx context.Context, before time.Time) ([]MemberState, error) {
	filter := bson.M{
		"verification_pending":  true,
		"verification_deadline": bson.M{"$lte": before.UTC()},
	}
	cursor, err := r.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "verification_deadline", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var members []MemberState
	if err := cursor.All(ctx, &members); err != nil {
		return nil, err
	}
	return members, nil
}

func (r *MongoMemberRepo) CountDeletedLikely(ctx context.Context, chatID int64) (int, error) {
	n, err := r.coll.CountDocuments(ctx, bson.M{"chat_id": chatID, "is_deleted_likely": true})
	return int(n), err
}

func (r *MongoMemberRepo) Count(ctx context.Context, chatIDs []int64) (int, error) {
	if len(chatIDs) == 0 {
		return 0, nil
	}
	n, err := r.coll.CountDocuments(ctx, bson.M{"chat_id": bson.M{"$in": chatIDs}})
	return int(n), err
}

// MongoRelayMappingRepo implements RelayMappingRepository.
type MongoRelayMappingRepo struct {
	coll *mongo.Collection
}

func (r *MongoRelayMappingRepo) Save(ctx context.Context, m *RelayMapping) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := r.coll.InsertOne(ctx, m)
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

func (r *MongoRelayMappingRepo) Find(ctx context.Context, relayChatID int64, relayMessageID int) (*RelayMapping, error) {
	var m RelayMapping
	err := r.coll.FindOne(ctx, bson.M{"relay_chat_id": relayChatID, "relay_message_id": relayMessageID}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *MongoRelayMappingRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.coll.DeleteMany(ctx, bson.M{"created_at": bson.M{"$lt": before.UTC()}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// MongoRelaySettingsRepo implements RelaySettingsRepository.
type MongoRelaySettingsRepo struct {
	coll *mongo.Collection
}

func (r *MongoRelaySettingsRepo) Get(ctx context.Context) (*RelaySettings, error) {
	defaults := DefaultRelaySettings()
	update := bson.M{"$setOnInsert": bson.M{
		"enabled":    defaults.Enabled,
		"mode":       defaults.Mode,
		"updated_at": defaults.UpdatedAt,
	}}

	var s RelaySettings
	err := r.coll.FindOneAndUpdate(ctx, bson.M{"key": RelaySettingsKey}, update,
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&s)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *MongoRelaySettingsRepo) Save(ctx context.Context, s *RelaySettings) error {
	s.Key = RelaySettingsKey
	s.UpdatedAt = time.Now().UTC()
	_, err := r.coll.ReplaceOne(ctx, bson.M{"key": RelaySettingsKey}, s, options.Replace().SetUpsert(true))
	return err
}

// MongoFilterRepo implements FilterRepository.
type MongoFilterRepo struct {
	coll *mongo.Collection
}

func (r *MongoFilterRepo) Upsert(ctx context.Context, f *Filter) error {
	f.Trigger = strings.ToLower(strings.TrimSpace(f.Trigger))
	f.UpdatedAt = time.Now().UTC()
	update := bson.M{"$set": bson.M{"response": f.Response, "updated_at": f.UpdatedAt}}
	_, err := r.coll.UpdateOne(ctx, bson.M{"chat_id": f.ChatID, "trigger": f.Trigger}, update, options.Update().SetUpsert(true))
	return err
}

func (r *MongoFilterRepo) Find(ctx context.Context, chatID int64, trigger string) (*Filter, error) {
	var f Filter
	err := r.coll.FindOne(ctx, bson.M{"chat_id": chatID, "trigger": strings.ToLower(strings.TrimSpace(trigger))}).Decode(&f)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *MongoFilterRepo) List(ctx context.Context, chatID int64) ([]Filter, error) {
	cursor, err := r.coll.Find(ctx, bson.M{"chat_id": chatID}, options.Find().SetSort(bson.D{{Key: "trigger", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var filters []Filter
	if err := cursor.All(ctx, &filters); err != nil {
		return nil, err
	}
	return filters, nil
}

func (r *MongoFilterRepo) Delete(ctx context.Context, chatID int64, trigger string) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"chat_id": chatID, "trigger": strings.ToLower(strings.TrimSpace(trigger))})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoFilterRepo) Count(ctx context.Context, chatIDs []int64) (int, error) {
	if len(chatIDs) == 0 {
		return 0, nil
	}
	n, err := r.coll.CountDocuments(ctx, bson.M{"chat_id": bson.M{"$in": chatIDs}})
	return int(n), err
}

// MongoLogRepo implements LogRepository.
type MongoLogRepo struct {
	coll *mongo.Collection
}

func (r *MongoLogRepo) Append(ctx context.Context, e *LogEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := r.coll.InsertOne(ctx, e)
	return err
}

func (r *MongoLogRepo) List(ctx context.Context, chatID int64, limit int) ([]LogEntry, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))
	cursor, err := r.coll.Find(ctx, bson.M{"chat_id": chatID}, opts)
	if err != nil {
		return nil, err
	}
	var entries []LogEntry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// toDocument converts a tagged struct into a bson.M.
func toDocument(v any) (bson.M, error) {
	data, err := bson.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	var doc bson.M
	if err := bson.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return doc, nil
}
