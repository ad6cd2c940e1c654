package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sirupsen/logrus"

	"github.com/flowgate/dts/pkg/buffer"
	"github.com/flowgate/dts/pkg/dtserr"
	"github.com/flowgate/dts/pkg/filter"
	"github.com/flowgate/dts/pkg/types"
)

const DefaultSliceSize = 2000

// SnapshotExtractor copies a collection in `_id`-ordered slices: the same
// key-ordered-slicing protocol as the relational snapshot extractors
// (spec.md section 4.2.1/4.2.2), generalized to Mongo's find+sort+limit
// cursor API since the original_source retrieval didn't carry a dedicated
// Mongo snapshot extractor to ground line-for-line.
type SnapshotExtractor struct {
	client *mongo.Client
	buf    *buffer.Buffer
	filter *filter.Filter
	logger *logrus.Entry

	Db, Coll  string
	SliceSize int
	// ResumeID, if non-nil, is the last _id seen on a prior run.
	ResumeID any
}

func NewSnapshotExtractor(client *mongo.Client, buf *buffer.Buffer, flt *filter.Filter, logger *logrus.Entry, db, coll string) *SnapshotExtractor {
	return &SnapshotExtractor{
		client: client, buf: buf, filter: flt, logger: logger,
		Db: db, Coll: coll, SliceSize: DefaultSliceSize,
	}
}

func (e *SnapshotExtractor) Extract(ctx context.Context) error {
	if e.filter.FilterTb(e.Db, e.Coll) {
		return nil
	}
	coll := e.client.Database(e.Db).Collection(e.Coll)

	last := e.ResumeID
	for {
		docs, err := e.fetchSlice(ctx, coll, last)
		if err != nil {
			return err
		}
		for _, raw := range docs {
			after := map[string]types.ColValue{docColumn: types.NewMongoDoc(raw)}
			rd := types.NewInsertRow(e.Db, e.Coll, after, "")
			if err := e.buf.Push(ctx, types.NewDmlData(rd)); err != nil {
				return err
			}
			idVal, err := raw.LookupErr("_id")
			if err != nil {
				return dtserr.Conversion("missing _id in document", err)
			}
			last = idVal
		}
		if len(docs) < e.SliceSize {
			return nil
		}
	}
}

func (e *SnapshotExtractor) fetchSlice(ctx context.Context, coll *mongo.Collection, last any) ([]bson.Raw, error) {
	filterDoc := bson.D{}
	if last != nil {
		filterDoc = bson.D{{Key: "_id", Value: bson.D{{Key: "$gt", Value: last}}}}
	}
	findOpts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}).SetLimit(int64(e.SliceSize))

	cursor, err := coll.Find(ctx, filterDoc, findOpts)
	if err != nil {
		return nil, dtserr.Connection("find slice of "+e.Db+"."+e.Coll, err)
	}
	defer cursor.Close(ctx)

	var out []bson.Raw
	for cursor.Next(ctx) {
		out = append(out, append(bson.Raw(nil), cursor.Current...))
	}
	if err := cursor.Err(); err != nil {
		return nil, dtserr.Connection("iterate slice of "+e.Db+"."+e.Coll, err)
	}
	return out, nil
}
