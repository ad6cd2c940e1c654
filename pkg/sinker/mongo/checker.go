package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/sirupsen/logrus"

	"github.com/flowgate/dts/pkg/dtserr"
	"github.com/flowgate/dts/pkg/sinker"
	"github.com/flowgate/dts/pkg/types"
)

// checkCols is the fixed two-column projection a Mongo document is checked
// through: the document's _id (for the check-log identity columns) and its
// full body, compared as opaque text. Grounded on
// original_source/dt-connector/src/sinker/mongo/mongo_checker.rs's
// MongoKey-keyed src/dst maps and BaseChecker::compare_row_data, reusing
// pkg/sinker's generic CheckLog/RowsEqual rather than Mongo-specific
// machinery since both already operate on arbitrary column maps.
var checkCols = []string{"_id", docColumn}

// Checker is the MongoDB check sinker.
type Checker struct {
	client   *mongo.Client
	checkLog *sinker.CheckLog
	logger   *logrus.Entry
}

func NewChecker(client *mongo.Client, checkLog *sinker.CheckLog, logger *logrus.Entry) *Checker {
	return &Checker{client: client, checkLog: checkLog, logger: logger}
}

var _ sinker.Sinker = (*Checker)(nil)

func (c *Checker) Close() error {
	return c.client.Disconnect(context.Background())
}

// SinkDML ignores batched: the grounding file always runs batch_check
// regardless of the caller's hint.
func (c *Checker) SinkDML(ctx context.Context, batch []*types.RowData, batched bool) error {
	if len(batch) == 0 {
		return nil
	}
	return c.batchCheck(ctx, batch)
}

func (c *Checker) batchCheck(ctx context.Context, batch []*types.RowData) error {
	coll := c.client.Database(batch[0].Schema).Collection(batch[0].Tb)

	srcByID := make(map[string]*types.RowData, len(batch))
	ids := make([]any, 0, len(batch))
	for _, row := range batch {
		raw, ok, err := docRaw(row.After)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		id, err := raw.LookupErr("_id")
		if err != nil {
			c.logger.WithField("table", row.FullTableName()).Warn("mongo check: document missing _id, skipping")
			continue
		}
		key := fmt.Sprintf("%v", id)
		srcByID[key] = checkRow(row.Schema, row.Tb, id, raw)
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil
	}

	filter := bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: ids}}}}
	cursor, err := coll.Find(ctx, filter)
	if err != nil {
		return dtserr.Sink("mongo check find "+batch[0].FullTableName(), err)
	}
	defer cursor.Close(ctx)

	dstByID := make(map[string]*types.RowData, len(ids))
	for cursor.Next(ctx) {
		raw := append(bson.Raw(nil), cursor.Current...)
		id, err := raw.LookupErr("_id")
		if err != nil {
			continue
		}
		key := fmt.Sprintf("%v", id)
		dstByID[key] = checkRow(batch[0].Schema, batch[0].Tb, id, raw)
	}
	if err := cursor.Err(); err != nil {
		return dtserr.Sink("mongo check iterate "+batch[0].FullTableName(), err)
	}

	for key, src := range srcByID {
		dst, ok := dstByID[key]
		if !ok {
			if err := c.checkLog.LogMiss(src, checkCols); err != nil {
				return err
			}
			continue
		}
		if !sinker.RowsEqual(src.After, dst.After, checkCols) {
			if err := c.checkLog.LogDiff(src, checkCols); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkRow(schema, tb string, id any, raw bson.Raw) *types.RowData {
	after := map[string]types.ColValue{
		"_id":     types.NewString(fmt.Sprintf("%v", id)),
		docColumn: types.NewMongoDoc(raw),
	}
	return types.NewInsertRow(schema, tb, after, "")
}
