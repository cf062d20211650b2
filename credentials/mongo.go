package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/nodeflow/nodes"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

const defaultTimeout = 5 * time.Second

// MongoStore stores credentials in a MongoDB collection as {name, type, data}
// where data is ciphertext.
type MongoStore struct {
	coll   *mongo.Collection
	cipher *Cipher
	logger *zap.Logger
}

// Ensure it implements Store.
var _ Store = (*MongoStore)(nil)

type credentialDoc struct {
	ID        string    `bson:"_id"`
	Name      string    `bson:"name"`
	Type      string    `bson:"type"`
	Data      string    `bson:"data"`
	CreatedAt time.Time `bson:"created_at"`
}

// NewMongoStore creates a store over a shared client. collection defaults to "credentials".
func NewMongoStore(client *mongo.Client, database, collection string, c *Cipher, logger *zap.Logger) *MongoStore {
	if database == "" {
		database = "nodeflow"
	}
	if collection == "" {
		collection = "credentials"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MongoStore{
		coll:   client.Database(database).Collection(collection),
		cipher: c,
		logger: logger.With(zap.String("component", "credential_store")),
	}
}

// Create encrypts and stores a credential.
func (s *MongoStore) Create(ctx context.Context, name, typ, secret string) (string, error) {
	if err := validate(name, typ, secret); err != nil {
		return "", err
	}
	data, err := s.cipher.Encrypt(secret)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	doc := credentialDoc{
		ID:        uuid.NewString(),
		Name:      name,
		Type:      normalizeType(typ),
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return "", fmt.Errorf("insert credential: %w", err)
	}
	s.logger.Info("credential created", zap.String("id", doc.ID), zap.String("type", doc.Type))
	return doc.ID, nil
}

// Get decrypts a credential.
func (s *MongoStore) Get(ctx context.Context, id string) (*nodes.Credential, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var doc credentialDoc
	if err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find credential: %w", err)
	}
	secret, err := s.cipher.Decrypt(doc.Data)
	if err != nil {
		return nil, err
	}
	return &nodes.Credential{ID: doc.ID, Name: doc.Name, Type: doc.Type, Secret: secret}, nil
}

// List returns metadata only; the data field is never read.
func (s *MongoStore) List(ctx context.Context) ([]Info, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	opts := options.Find().
		SetProjection(bson.M{"data": 0}).
		SetSort(bson.D{{Key: "name", Value: 1}})
	cur, err := s.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer cur.Close(ctx)

	out := []Info{}
	for cur.Next(ctx) {
		var doc credentialDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode credential: %w", err)
		}
		out = append(out, Info{ID: doc.ID, Name: doc.Name, Type: doc.Type, CreatedAt: doc.CreatedAt.UTC()})
	}
	return out, cur.Err()
}

// Delete removes a credential.
func (s *MongoStore) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Resolve implements workflow.CredentialResolver.
func (s *MongoStore) Resolve(ctx context.Context, ref string) (*nodes.Credential, error) {
	return s.Get(ctx, ref)
}
