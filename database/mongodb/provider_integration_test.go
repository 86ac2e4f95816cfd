//go:build integration

package mongodb

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/gaborage/txnest/config"
	"github.com/gaborage/txnest/logger"
	"github.com/gaborage/txnest/testing/containers"
	"github.com/gaborage/txnest/transaction"
)

func TestProviderAgainstReplicaSet(t *testing.T) {
	ctx := context.Background()
	mc := containers.MustStartMongoDBContainer(ctx, t, nil)

	p, err := NewProvider(mc.DatabaseConfig(), &config.TransactionConfig{Isolation: config.IsolationSerializable}, logger.New("disabled", false))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	coll := p.Database().Collection("orders")
	require.NoError(t, p.Database().CreateCollection(ctx, "orders"))

	c := transaction.New(p)
	insert := func(ctx context.Context, id string) error {
		sctx, err := p.SessionContext(ctx)
		if err != nil {
			return err
		}
		_, err = coll.InsertOne(sctx, bson.D{{Key: "_id", Value: id}})
		return err
	}

	require.NoError(t, c.Run(ctx, func(ctx context.Context) error {
		if err := insert(ctx, "a"); err != nil {
			return err
		}
		return c.Run(ctx, func(ctx context.Context) error { return insert(ctx, "b") })
	}))

	errAbort := errors.New("abort")
	err = c.Run(ctx, func(ctx context.Context) error {
		if err := insert(ctx, "c"); err != nil {
			return err
		}
		return c.Run(ctx, func(context.Context) error { return errAbort })
	})
	assert.ErrorIs(t, err, errAbort)

	n, err := coll.CountDocuments(ctx, bson.D{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}
