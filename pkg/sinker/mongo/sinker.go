// Package mongo implements the MongoDB sinker from spec.md section 4.8,
// grounded on original_source/dt-connector/src/sinker/mongo/mongo_sinker.rs.
// A Mongo RowData carries its payload in a single synthetic "doc" column
// (see pkg/extractor/mongo's docColumn) holding a bson.Raw document (Insert,
// Update) or DocumentKey ({_id: ...}, Delete) rather than a fixed column
// set, so this sinker does not build on pkg/sinker.QueryBuilder the way the
// relational dialects do.
package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sirupsen/logrus"

	"github.com/flowgate/dts/pkg/dtserr"
	"github.com/flowgate/dts/pkg/sinker"
	"github.com/flowgate/dts/pkg/types"
)

const docColumn = "doc"

type Sinker struct {
	client *mongo.Client
	logger *logrus.Entry
}

func New(client *mongo.Client, logger *logrus.Entry) *Sinker {
	return &Sinker{client: client, logger: logger}
}

var _ sinker.Sinker = (*Sinker)(nil)

func (s *Sinker) Close() error {
	return s.client.Disconnect(context.Background())
}

func (s *Sinker) SinkDML(ctx context.Context, batch []*types.RowData, batched bool) error {
	if len(batch) == 0 {
		return nil
	}
	if !batched {
		return s.serialSink(ctx, batch)
	}
	switch batch[0].Type {
	case types.RowInsert:
		return s.batchInsert(ctx, batch)
	case types.RowDelete:
		return s.batchDelete(ctx, batch)
	default:
		return s.serialSink(ctx, batch)
	}
}

func (s *Sinker) collection(row *types.RowData) *mongo.Collection {
	return s.client.Database(row.Schema).Collection(row.Tb)
}

// serialSink replays every row type through a single-document upsert: even
// Insert goes through update_one/upsert rather than insert_one, matching
// the grounding file (a retried Insert after a partial batch failure must
// not conflict with a document the batch already wrote).
func (s *Sinker) serialSink(ctx context.Context, batch []*types.RowData) error {
	for _, row := range batch {
		coll := s.collection(row)
		switch row.Type {
		case types.RowInsert:
			if err := s.upsert(ctx, coll, row.After); err != nil {
				return dtserr.Sink("mongo upsert "+row.FullTableName(), err)
			}
		case types.RowUpdate:
			if err := s.upsert(ctx, coll, row.After); err != nil {
				return dtserr.Sink("mongo upsert "+row.FullTableName(), err)
			}
		case types.RowDelete:
			id, ok, err := docID(row.Before)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if _, err := coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}}); err != nil {
				return dtserr.Sink("mongo delete "+row.FullTableName(), err)
			}
		}
	}
	return nil
}

func (s *Sinker) batchInsert(ctx context.Context, batch []*types.RowData) error {
	coll := s.collection(batch[0])
	docs := make([]any, 0, len(batch))
	for _, row := range batch {
		raw, ok, err := docRaw(row.After)
		if err != nil {
			return err
		}
		if ok {
			docs = append(docs, raw)
		}
	}
	if len(docs) == 0 {
		return nil
	}
	if _, err := coll.InsertMany(ctx, docs); err != nil {
		s.logger.WithError(err).WithField("table", batch[0].FullTableName()).
			Warn("batch insert failed, falling back to per-document upsert")
		return s.serialSink(ctx, batch)
	}
	return nil
}

func (s *Sinker) batchDelete(ctx context.Context, batch []*types.RowData) error {
	coll := s.collection(batch[0])
	ids := make([]any, 0, len(batch))
	for _, row := range batch {
		id, ok, err := docID(row.Before)
		if err != nil {
			return err
		}
		if ok {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	filter := bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: ids}}}}
	if _, err := coll.DeleteMany(ctx, filter); err != nil {
		return dtserr.Sink("mongo batch delete "+batch[0].FullTableName(), err)
	}
	return nil
}

// upsert issues updateOne({_id}, {$set: doc}, {upsert: true}), spec.md's
// Insert/Update path for Mongo.
func (s *Sinker) upsert(ctx context.Context, coll *mongo.Collection, cols map[string]types.ColValue) error {
	raw, ok, err := docRaw(cols)
	if err != nil || !ok {
		return err
	}
	id, err := raw.LookupErr("_id")
	if err != nil {
		return dtserr.ColumnMismatch("mongo document missing _id", err)
	}
	filter := bson.D{{Key: "_id", Value: id}}
	update := bson.D{{Key: "$set", Value: raw}}
	_, err = coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

func docRaw(cols map[string]types.ColValue) (bson.Raw, bool, error) {
	v, ok := cols[docColumn]
	if !ok {
		return nil, false, nil
	}
	doc, ok := v.Doc()
	if !ok {
		return nil, false, nil
	}
	raw, ok := doc.(bson.Raw)
	if !ok {
		return nil, false, dtserr.ColumnMismatch("mongo doc column is not bson.Raw", nil)
	}
	return raw, true, nil
}

func docID(cols map[string]types.ColValue) (any, bool, error) {
	raw, ok, err := docRaw(cols)
	if err != nil || !ok {
		return nil, false, err
	}
	id, err := raw.LookupErr("_id")
	if err != nil {
		return nil, false, dtserr.ColumnMismatch("mongo document missing _id", err)
	}
	return id, true, nil
}
