// Package vectordb adapts the Qdrant vector database to the retrieval layer.
package vectordb

import (
	"context"
	"fmt"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"github.com/sirupsen/logrus"

	"github.com/climateqa/climateqa/internal/capability"
)

// Config holds Qdrant connection settings.
type Config struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	Timeout    time.Duration
}

// DefaultConfig returns a local single-node setup.
func DefaultConfig() Config {
	return Config{
		Host:       "localhost",
		Port:       6334,
		Collection: "climate_docs",
		Timeout:    15 * time.Second,
	}
}

// QdrantIndex implements capability.VectorIndex on a Qdrant collection.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	logger     *logrus.Logger
}

// NewQdrantIndex connects to Qdrant over gRPC.
func NewQdrantIndex(config Config, logger *logrus.Logger) (*QdrantIndex, error) {
	defaults := DefaultConfig()
	if config.Host == "" {
		config.Host = defaults.Host
	}
	if config.Port == 0 {
		config.Port = defaults.Port
	}
	if config.Collection == "" {
		config.Collection = defaults.Collection
	}
	if logger == nil {
		logger = logrus.New()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		APIKey: config.APIKey,
		UseTLS: config.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client: %w", err)
	}

	return &QdrantIndex{
		client:     client,
		collection: config.Collection,
		logger:     logger,
	}, nil
}

// Query runs a similarity search and returns the topK nearest points with
// their payloads.
func (q *QdrantIndex) Query(ctx context.Context, vector []float32, topK int) ([]capability.IndexHit, error) {
	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("Qdrant query failed: %w", err)
	}

	hits := make([]capability.IndexHit, 0, len(points))
	for _, point := range points {
		hits = append(hits, capability.IndexHit{
			ID:      pointID(point.GetId()),
			Score:   float64(point.GetScore()),
			Payload: flattenPayload(point.GetPayload()),
		})
	}

	q.logger.WithFields(logrus.Fields{
		"collection": q.collection,
		"top_k":      topK,
		"hits":       len(hits),
	}).Debug("Vector search completed")
	return hits, nil
}

// HealthCheck verifies the Qdrant connection.
func (q *QdrantIndex) HealthCheck(ctx context.Context) error {
	if _, err := q.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("Qdrant health check failed: %w", err)
	}
	return nil
}

// Close releases the underlying gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

func pointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if uuid := id.GetUuid(); uuid != "" {
		return uuid
	}
	return fmt.Sprintf("%d", id.GetNum())
}

// flattenPayload converts Qdrant's typed payload values into plain Go values.
// Only the scalar types the retriever reads are unwrapped.
func flattenPayload(payload map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for key, value := range payload {
		if value == nil {
			continue
		}
		switch kind := value.GetKind().(type) {
		case *qdrant.Value_StringValue:
			out[key] = kind.StringValue
		case *qdrant.Value_IntegerValue:
			out[key] = kind.IntegerValue
		case *qdrant.Value_DoubleValue:
			out[key] = kind.DoubleValue
		case *qdrant.Value_BoolValue:
			out[key] = kind.BoolValue
		}
	}
	return out
}
