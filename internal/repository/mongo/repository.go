package mongo

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"charasync/internal/domain"
	"charasync/internal/metrics"
)

// Catalog is the shared descriptor directory. Documents are keyed by the
// content hash; the first descriptor stored for a hash wins.
type Catalog struct {
	collection *mongo.Collection
}

type descriptorDoc struct {
	ID          string   `bson:"_id"`
	Extension   string   `bson:"extension"`
	InfoHash    string   `bson:"infoHash"`
	Length      int64    `bson:"length"`
	PieceLength int64    `bson:"pieceLength"`
	Trackers    []string `bson:"trackers,omitempty"`
	Data        []byte   `bson:"data"`
	CreatedAt   int64    `bson:"createdAt"`
}

func NewCatalog(client *mongo.Client, dbName, collectionName string) *Catalog {
	return &Catalog{collection: client.Database(dbName).Collection(collectionName)}
}

func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	client, err := mongo.Connect(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (c *Catalog) EnsureIndexes(ctx context.Context) error {
	if c == nil || c.collection == nil {
		return nil
	}
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "infoHash", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "createdAt", Value: -1}}},
	}
	_, err := c.collection.Indexes().CreateMany(ctx, models)
	return err
}

func (c *Catalog) Get(ctx context.Context, hash domain.ContentHash) (domain.SwarmDescriptor, bool, error) {
	var doc descriptorDoc
	if err := c.collection.FindOne(ctx, bson.M{"_id": hash.String()}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			metrics.CatalogLookupsTotal.WithLabelValues("mongo", "miss").Inc()
			return domain.SwarmDescriptor{}, false, nil
		}
		return domain.SwarmDescriptor{}, false, err
	}
	desc, err := fromDoc(doc)
	if err != nil {
		return domain.SwarmDescriptor{}, false, err
	}
	metrics.CatalogLookupsTotal.WithLabelValues("mongo", "hit").Inc()
	return desc, true, nil
}

// Put stores desc unless a descriptor for the hash already exists.
func (c *Catalog) Put(ctx context.Context, desc domain.SwarmDescriptor) error {
	doc := toDoc(desc, time.Now().UTC())
	_, err := c.collection.UpdateOne(
		ctx,
		bson.M{"_id": doc.ID},
		bson.M{"$setOnInsert": doc},
		options.Update().SetUpsert(true),
	)
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

// Count is used by the storage endpoint.
// Ping checks that the primary is reachable.
func (c *Catalog) Ping(ctx context.Context) error {
	return c.collection.Database().Client().Ping(ctx, readpref.Primary())
}

func toDoc(d domain.SwarmDescriptor, now time.Time) descriptorDoc {
	return descriptorDoc{
		ID:          d.Hash.String(),
		Extension:   domain.NormalizeExtension(d.Extension),
		InfoHash:    strings.ToLower(d.InfoHash),
		Length:      d.Length,
		PieceLength: d.PieceLength,
		Trackers:    normalizeTrackers(d.Trackers),
		Data:        d.Data,
		CreatedAt:   now.Unix(),
	}
}

func fromDoc(doc descriptorDoc) (domain.SwarmDescriptor, error) {
	hash, err := domain.ParseContentHash(doc.ID)
	if err != nil {
		return domain.SwarmDescriptor{}, err
	}
	return domain.SwarmDescriptor{
		Hash:        hash,
		Extension:   doc.Extension,
		InfoHash:    doc.InfoHash,
		Length:      doc.Length,
		PieceLength: doc.PieceLength,
		Trackers:    normalizeTrackers(doc.Trackers),
		Data:        doc.Data,
	}, nil
}

func normalizeTrackers(trackers []string) []string {
	if len(trackers) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(trackers))
	clean := make([]string, 0, len(trackers))
	for _, tr := range trackers {
		t := strings.TrimSpace(tr)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		clean = append(clean, t)
	}
	return clean
}
