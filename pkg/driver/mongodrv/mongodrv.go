// Package mongodrv implements the backend driver contract on top of the
// official MongoDB driver. Statements carry mongodial plan structs in
// their Native payload.
package mongodrv

import (
	"context"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/omnigrid/omnigrid.go/pkg/constants"
	"github.com/omnigrid/omnigrid.go/pkg/dialect/mongodial"
	"github.com/omnigrid/omnigrid.go/pkg/driver"
	"github.com/omnigrid/omnigrid.go/pkg/logger"
)

type Config struct {
	URI         string
	Database    string
	MaxPoolSize uint64
	Logger      logger.Logger
}

type Driver struct {
	cfg Config
	log logger.Logger

	reqs driver.CancelRegistry

	mu     sync.Mutex
	client *mongo.Client
}

var (
	_ driver.Driver  = (*Driver)(nil)
	_ driver.Batcher = (*Driver)(nil)
)

func New(cfg Config) *Driver {
	return &Driver{cfg: cfg, log: logger.OrNop(cfg.Logger)}
}

func (d *Driver) Open(ctx context.Context) error {
	opts := options.Client().ApplyURI(d.cfg.URI)
	if d.cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(d.cfg.MaxPoolSize)
	}
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return err
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return err
	}
	d.mu.Lock()
	d.client = client
	d.mu.Unlock()
	return nil
}

func (d *Driver) Close(ctx context.Context) error {
	d.mu.Lock()
	client := d.client
	d.client = nil
	d.mu.Unlock()
	if client != nil {
		return client.Disconnect(ctx)
	}
	return nil
}

func (d *Driver) Ping(ctx context.Context) error {
	client, err := d.handle()
	if err != nil {
		return err
	}
	return client.Ping(ctx, readpref.Primary())
}

func (d *Driver) Execute(ctx context.Context, requestID string, stmt *driver.Statement) (*driver.Result, error) {
	coll, err := d.collection(stmt.Table)
	if err != nil {
		return nil, err
	}
	ctx, release := d.reqs.Track(ctx, requestID)
	defer release()

	switch plan := stmt.Native.(type) {
	case mongodial.FindPlan:
		opts := options.Find()
		if len(plan.Sort) > 0 {
			opts.SetSort(plan.Sort)
		}
		if plan.Limit > 0 {
			opts.SetLimit(plan.Limit)
		}
		cur, err := coll.Find(ctx, plan.Filter, opts)
		if err != nil {
			return nil, err
		}
		defer cur.Close(ctx)
		var rows []driver.Row
		for cur.Next(ctx) {
			var doc bson.M
			if err := cur.Decode(&doc); err != nil {
				return nil, err
			}
			rows = append(rows, driver.Row(doc))
		}
		if err := cur.Err(); err != nil {
			return nil, err
		}
		return &driver.Result{Rows: rows}, nil
	case mongodial.CountPlan:
		n, err := coll.CountDocuments(ctx, plan.Filter)
		if err != nil {
			return nil, err
		}
		return &driver.Result{Affected: n}, nil
	case mongodial.InsertPlan:
		res, err := coll.InsertMany(ctx, plan.Documents)
		if err != nil {
			return nil, err
		}
		return &driver.Result{Affected: int64(len(res.InsertedIDs)), InsertedIDs: res.InsertedIDs}, nil
	case mongodial.UpdatePlan:
		res, err := coll.UpdateMany(ctx, plan.Filter, bson.M{"$set": plan.Set})
		if err != nil {
			return nil, err
		}
		return &driver.Result{Affected: res.ModifiedCount}, nil
	case mongodial.DeletePlan:
		res, err := coll.DeleteMany(ctx, plan.Filter)
		if err != nil {
			return nil, err
		}
		return &driver.Result{Affected: res.DeletedCount}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported plan %T", constants.ErrCompile, stmt.Native)
	}
}

// ExecuteBatch maps update plans onto a single BulkWrite call; mixed or
// non-update batches fall back to sequential execution.
func (d *Driver) ExecuteBatch(ctx context.Context, requestID string, stmts []*driver.Statement) (int64, error) {
	if len(stmts) == 0 {
		return 0, nil
	}
	models := make([]mongo.WriteModel, 0, len(stmts))
	for _, stmt := range stmts {
		plan, ok := stmt.Native.(mongodial.UpdatePlan)
		if !ok || stmt.Table != stmts[0].Table {
			return d.sequential(ctx, requestID, stmts)
		}
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(plan.Filter).
			SetUpdate(bson.M{"$set": plan.Set}))
	}
	coll, err := d.collection(stmts[0].Table)
	if err != nil {
		return 0, err
	}
	ctx, release := d.reqs.Track(ctx, requestID)
	defer release()
	res, err := coll.BulkWrite(ctx, models)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount + res.UpsertedCount, nil
}

func (d *Driver) sequential(ctx context.Context, requestID string, stmts []*driver.Statement) (int64, error) {
	var affected int64
	for _, stmt := range stmts {
		res, err := d.Execute(ctx, requestID, stmt)
		if err != nil {
			return 0, err
		}
		affected += res.Affected
	}
	return affected, nil
}

func (d *Driver) Cancel(requestID string) error {
	return d.reqs.Cancel(requestID)
}

func (d *Driver) Capabilities() driver.Capabilities {
	return driver.Capabilities{}
}

func (d *Driver) handle() (*mongo.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client == nil {
		return nil, constants.ErrNotConnected
	}
	return d.client, nil
}

func (d *Driver) collection(name string) (*mongo.Collection, error) {
	client, err := d.handle()
	if err != nil {
		return nil, err
	}
	return client.Database(d.cfg.Database).Collection(name), nil
}
