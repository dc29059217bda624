// Package mongosink appends protocol-round completion events (GCP
// save, LCP round end, take-over end) to a Mongo collection for
// cluster-history review. Grounded on the teacher's storage/mongo.go
// MongoDB (same mongo.Connect/options.Client().ApplyURI bootstrap and
// Ping-on-connect check), generalized from a row store to an
// append-only event trail.
package mongosink

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"distcoord/audit"
)

// Sink is an audit.RoundSink backed by one Mongo collection.
type Sink struct {
	ctx    context.Context
	client *mongo.Client
	rounds *mongo.Collection
}

// Open connects and selects the "dcaudit.rounds" collection. uri is
// used as given; an empty uri is not replaced by
// configs.DefaultMongoAuditURI.
func Open(uri string) (*Sink, error) {
	ctx := context.Background()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, err
	}
	return &Sink{
		ctx:    ctx,
		client: client,
		rounds: client.Database("dcaudit").Collection("rounds"),
	}, nil
}

type roundDoc struct {
	Kind      string                 `bson:"kind"`
	Detail    map[string]interface{} `bson:"detail"`
	RecordedAt time.Time             `bson:"recordedAt"`
}

// WriteRound appends one protocol-round completion document.
func (s *Sink) WriteRound(e audit.RoundEvent) error {
	_, err := s.rounds.InsertOne(s.ctx, roundDoc{Kind: e.Kind, Detail: e.Detail, RecordedAt: time.Now()})
	return err
}

func (s *Sink) Close() error { return s.client.Disconnect(s.ctx) }
