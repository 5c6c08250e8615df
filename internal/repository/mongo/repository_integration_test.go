package mongo

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/mongo/options"

	"charasync/internal/domain"
)

// testMongoURI returns the MongoDB connection URI for integration tests.
// Defaults to localhost:27017. Set MONGO_TEST_URI to override.
func testMongoURI() string {
	if uri := os.Getenv("MONGO_TEST_URI"); uri != "" {
		return uri
	}
	return "mongodb://localhost:27017"
}

// setupTestCatalog connects to MongoDB and returns a Catalog using a unique
// test database. Calls t.Skip if MongoDB is unreachable.
func setupTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	uri := testMongoURI()
	client, err := Connect(ctx, uri, options.Client().SetConnectTimeout(3*time.Second).SetServerSelectionTimeout(3*time.Second))
	if err != nil {
		t.Skipf("MongoDB not available at %s: %v", uri, err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		t.Skipf("MongoDB ping failed at %s: %v", uri, err)
	}

	dbName := fmt.Sprintf("charasync_test_%d", time.Now().UnixNano())
	catalog := NewCatalog(client, dbName, "descriptors")
	if err := catalog.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		t.Fatalf("EnsureIndexes: %v", err)
	}

	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = client.Database(dbName).Drop(ctx2)
		_ = client.Disconnect(ctx2)
	})
	return catalog
}

func TestIntegration_PutGet(t *testing.T) {
	catalog := setupTestCatalog(t)
	ctx := context.Background()

	hash := domain.HashBytes([]byte("integration"))
	if _, ok, err := catalog.Get(ctx, hash); err != nil || ok {
		t.Fatalf("Get before Put: ok=%v err=%v", ok, err)
	}

	first := domain.SwarmDescriptor{Hash: hash, Extension: ".tex", InfoHash: "aa", Data: []byte("first")}
	if err := catalog.Put(ctx, first); err != nil {
		t.Fatalf("Put: %v", err)
	}
	second := first
	second.Data = []byte("second")
	second.InfoHash = "bb"
	if err := catalog.Put(ctx, second); err != nil {
		t.Fatalf("second Put: %v", err)
	}

	got, ok, err := catalog.Get(ctx, hash)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if string(got.Data) != "first" {
		t.Fatalf("Data = %q, first write must win", got.Data)
	}

	if err := catalog.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
