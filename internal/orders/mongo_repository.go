package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/domain"
)

const ordersCollection = "orders"

func ConnectMongoDB(ctx context.Context, uri, database string) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(100).
		SetMinPoolSize(10)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client.Database(database), nil
}

type MongoRepository struct {
	collection *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{collection: db.Collection(ordersCollection)}
}

// CreateIndexes makes invoice ids unique and group lookups indexed.
func (m *MongoRepository) CreateIndexes(ctx context.Context) error {
	_, err := m.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "invoice_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "correlation_id", Value: 1}, {Key: "invoice_id", Value: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create order indexes: %w", err)
	}
	return nil
}

// CreateMany inserts the group and removes whatever was written if the
// insert fails part way, since the group is not wrapped in a transaction.
func (m *MongoRepository) CreateMany(ctx context.Context, orders []*domain.Order) error {
	docs := make([]any, 0, len(orders))
	for _, order := range orders {
		if order.ID == "" {
			order.ID = uuid.New().String()
		}
		if order.StatusHistory == nil {
			order.StatusHistory = []domain.StatusHistoryEntry{}
		}
		docs = append(docs, order)
	}

	if _, err := m.collection.InsertMany(ctx, docs); err != nil {
		var cleanupErr error
		if len(orders) > 0 {
			_, cleanupErr = m.collection.DeleteMany(ctx, bson.M{"correlation_id": orders[0].CorrelationID})
		}
		return insertFailure(err, cleanupErr)
	}
	return nil
}

// insertFailure keeps the cleanup error next to the insert error so a
// partially written group is visible to the caller.
func insertFailure(insertErr, cleanupErr error) error {
	err := fmt.Errorf("failed to insert orders: %w", insertErr)
	if cleanupErr != nil {
		return errors.Join(err, fmt.Errorf("failed to remove partially inserted orders: %w", cleanupErr))
	}
	return err
}

func (m *MongoRepository) FindByCorrelationID(ctx context.Context, correlationID string) ([]domain.Order, error) {
	opts := options.Find().SetSort(bson.D{{Key: "invoice_id", Value: 1}})
	cursor, err := m.collection.Find(ctx, bson.M{"correlation_id": correlationID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find orders: %w", err)
	}

	orders := []domain.Order{}
	if err := cursor.All(ctx, &orders); err != nil {
		return nil, fmt.Errorf("failed to decode orders: %w", err)
	}
	sortByInvoice(orders)
	return orders, nil
}

func (m *MongoRepository) FindByInvoiceID(ctx context.Context, invoiceID string) (*domain.Order, error) {
	var order domain.Order
	err := m.collection.FindOne(ctx, bson.M{"invoice_id": invoiceID}).Decode(&order)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return &order, nil
}

func (m *MongoRepository) SetGatewayRef(ctx context.Context, correlationID string, ref domain.GatewayRef) error {
	update := bson.M{
		"$set": bson.M{
			"gateway.provider":          ref.Provider,
			"gateway.session_ref":       ref.SessionRef,
			"gateway.redirect_url":      ref.RedirectURL,
			"gateway.payment_method_id": ref.PaymentMethodID,
			"updated_at":                time.Now().UTC(),
		},
		"$inc": bson.M{"version": 1},
	}
	if _, err := m.collection.UpdateMany(ctx, bson.M{"correlation_id": correlationID}, update); err != nil {
		return fmt.Errorf("failed to set gateway ref: %w", err)
	}
	return nil
}

func (m *MongoRepository) DeleteByCorrelationID(ctx context.Context, correlationID string) (int64, error) {
	result, err := m.collection.DeleteMany(ctx, bson.M{"correlation_id": correlationID})
	if err != nil {
		return 0, fmt.Errorf("failed to delete orders: %w", err)
	}
	return result.DeletedCount, nil
}

func (m *MongoRepository) ApplyUpdate(ctx context.Context, id string, expectedVersion int64, upd domain.OrderUpdate) error {
	set := bson.M{"updated_at": time.Now().UTC()}
	if upd.PaymentStatus != nil {
		set["payment_status"] = *upd.PaymentStatus
	}
	if upd.OrderStatus != nil {
		set["order_status"] = *upd.OrderStatus
	}
	if upd.ProviderTransactionID != nil {
		set["gateway.provider_transaction_id"] = *upd.ProviderTransactionID
	}
	if upd.PaymentType != nil {
		set["gateway.payment_type"] = *upd.PaymentType
	}

	update := bson.M{
		"$set": set,
		"$inc": bson.M{"version": 1},
	}
	if len(upd.History) > 0 {
		update["$push"] = bson.M{"status_history": bson.M{"$each": upd.History}}
	}

	result, err := m.collection.UpdateOne(ctx, bson.M{"_id": id, "version": expectedVersion}, update)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}

	if result.MatchedCount == 0 {
		count, err := m.collection.CountDocuments(ctx, bson.M{"_id": id})
		if err != nil {
			return fmt.Errorf("failed to check order: %w", err)
		}
		if count == 0 {
			return domain.ErrOrderNotFound
		}
		return domain.ErrConcurrentUpdate
	}
	return nil
}
