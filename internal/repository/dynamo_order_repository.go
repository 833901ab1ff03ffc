package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/bwmarrin/snowflake"
	"github.com/chao-dotcom/Ticket-Craze/internal/domain"
	pkgconfig "github.com/chao-dotcom/Ticket-Craze/pkg/config"
	"go.uber.org/zap"
)

const (
	metadataSK    = "METADATA"
	pendingGSI1PK = "STATUS#PENDING"
	gsi1Name      = "GSI1"
)

// DynamoAPI is the subset of *dynamodb.Client the order store calls.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// orderRecord is the METADATA item of an order. Pending orders carry the
// GSI1 keys so the reclaimer can query by expiry; expiring drops them.
type orderRecord struct {
	PK            string  `dynamodbav:"PK"`
	SK            string  `dynamodbav:"SK"`
	GSI1PK        string  `dynamodbav:"GSI1PK,omitempty"`
	GSI1SK        string  `dynamodbav:"GSI1SK,omitempty"`
	OrderID       string  `dynamodbav:"order_id"`
	ReservationID string  `dynamodbav:"reservation_id"`
	UserID        string  `dynamodbav:"user_id"`
	Status        string  `dynamodbav:"status"`
	TotalAmount   float64 `dynamodbav:"total_amount"`
	TraceID       string  `dynamodbav:"trace_id,omitempty"`
	CreatedAt     int64   `dynamodbav:"created_at"`
	ExpiresAt     int64   `dynamodbav:"expires_at"`
}

type itemRecord struct {
	PK       string  `dynamodbav:"PK"`
	SK       string  `dynamodbav:"SK"`
	SKUID    string  `dynamodbav:"sku_id"`
	Quantity int     `dynamodbav:"quantity"`
	Price    float64 `dynamodbav:"price"`
}

type auditRecord struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	SKUID     string `dynamodbav:"sku_id"`
	ChangeQty int    `dynamodbav:"change_qty"`
	Reason    string `dynamodbav:"reason"`
	RefID     string `dynamodbav:"ref_id"`
	CreatedAt int64  `dynamodbav:"created_at"`
}

func orderPK(id snowflake.ID) string { return "ORDER#" + id.String() }

func itemSK(n int) string { return fmt.Sprintf("ITEM#%03d", n) }

// expirySortKey is zero padded so lexical order matches numeric order.
func expirySortKey(t time.Time) string { return fmt.Sprintf("%020d", t.UnixMilli()) }

// DynamoOrderRepository stores orders in a single table. DynamoDB cannot
// share a transaction with Redis, so expiry claims the order first and
// reverts the claim when the release fails.
type DynamoOrderRepository struct {
	client    DynamoAPI
	tableName string
	logger    *zap.Logger
}

func NewDynamoDBClient(ctx context.Context, cfg *pkgconfig.Config) (*dynamodb.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.AWSRegion),
	)
	if err != nil {
		return nil, err
	}

	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.DynamoDBEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.DynamoDBEndpoint)
		}
	}), nil
}

func NewDynamoOrderRepository(client DynamoAPI, tableName string, logger *zap.Logger) *DynamoOrderRepository {
	return &DynamoOrderRepository{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

func (r *DynamoOrderRepository) CreateOrderIfAbsent(ctx context.Context, order domain.Order, audit domain.AuditRecord) error {
	pk := orderPK(order.OrderID)
	meta, err := attributevalue.MarshalMap(orderRecord{
		PK:            pk,
		SK:            metadataSK,
		GSI1PK:        pendingGSI1PK,
		GSI1SK:        expirySortKey(order.ExpiresAt),
		OrderID:       order.OrderID.String(),
		ReservationID: order.ReservationID.String(),
		UserID:        order.UserID,
		Status:        string(order.Status),
		TotalAmount:   order.TotalAmount,
		TraceID:       order.TraceID,
		CreatedAt:     order.CreatedAt.UnixMilli(),
		ExpiresAt:     order.ExpiresAt.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal order: %w", err)
	}

	writes := []types.TransactWriteItem{{
		Put: &types.Put{
			TableName:           aws.String(r.tableName),
			Item:                meta,
			ConditionExpression: aws.String("attribute_not_exists(PK)"),
		},
	}}
	for i, item := range order.Items {
		av, err := attributevalue.MarshalMap(itemRecord{
			PK:       pk,
			SK:       itemSK(i + 1),
			SKUID:    item.SKUID,
			Quantity: item.Quantity,
			Price:    item.Price,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal order item: %w", err)
		}
		writes = append(writes, types.TransactWriteItem{Put: &types.Put{TableName: aws.String(r.tableName), Item: av}})
	}

	auditItem, err := r.marshalAudit(audit)
	if err != nil {
		return err
	}
	writes = append(writes, types.TransactWriteItem{Put: &types.Put{TableName: aws.String(r.tableName), Item: auditItem}})

	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: writes})
	if err != nil {
		if isConditionFailure(err) {
			return fmt.Errorf("order %s: %w", order.OrderID, domain.ErrPersistenceConflict)
		}
		return fmt.Errorf("failed to write order: %w", err)
	}
	return nil
}

func (r *DynamoOrderRepository) FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]domain.Order, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String(gsi1Name),
		KeyConditionExpression: aws.String("GSI1PK = :pk AND GSI1SK < :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":  &types.AttributeValueMemberS{Value: pendingGSI1PK},
			":now": &types.AttributeValueMemberS{Value: expirySortKey(now)},
		},
		Limit: aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query expired orders: %w", err)
	}

	orders := make([]domain.Order, 0, len(out.Items))
	for _, av := range out.Items {
		var rec orderRecord
		if err := attributevalue.UnmarshalMap(av, &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal order: %w", err)
		}
		order, err := r.GetOrder(ctx, parseID(rec.OrderID))
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, nil
}

func (r *DynamoOrderRepository) ExpireOrder(ctx context.Context, orderID snowflake.ID, now time.Time, release ReleaseFunc) error {
	order, err := r.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status != domain.OrderStatusPending {
		return fmt.Errorf("order %s is %s: %w", orderID, order.Status, domain.ErrOrderNotPending)
	}

	if err := r.setStatus(ctx, *order, domain.OrderStatusPending, domain.OrderStatusExpired); err != nil {
		return err
	}

	if err := release(ctx, *order); err != nil {
		if revertErr := r.setStatus(ctx, *order, domain.OrderStatusExpired, domain.OrderStatusPending); revertErr != nil {
			r.logger.Error("Failed to revert expiry claim",
				zap.String("order_id", orderID.String()),
				zap.Error(revertErr))
		}
		return fmt.Errorf("release order %s: %w", orderID, err)
	}

	writes := make([]types.TransactWriteItem, 0, len(order.Items))
	for _, item := range order.Items {
		av, err := r.marshalAudit(domain.AuditRecord{
			SKUID:     item.SKUID,
			ChangeQty: item.Quantity,
			Reason:    domain.AuditReasonReservationExpired,
			RefID:     orderID.String(),
			CreatedAt: now,
		})
		if err != nil {
			return err
		}
		writes = append(writes, types.TransactWriteItem{Put: &types.Put{TableName: aws.String(r.tableName), Item: av}})
	}
	if len(writes) == 0 {
		return nil
	}
	if _, err := r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: writes}); err != nil {
		// Stock is already back; the order stays EXPIRED so it is not released twice.
		r.logger.Error("Failed to write expiry audit",
			zap.String("order_id", orderID.String()),
			zap.Error(err))
		return fmt.Errorf("failed to write expiry audit: %w", err)
	}
	return nil
}

func (r *DynamoOrderRepository) GetOrder(ctx context.Context, orderID snowflake.ID) (*domain.Order, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: orderPK(orderID)},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query order: %w", err)
	}

	var (
		order *domain.Order
		items []itemRecord
	)
	for _, av := range out.Items {
		sk, _ := av["SK"].(*types.AttributeValueMemberS)
		if sk == nil {
			continue
		}
		if sk.Value == metadataSK {
			var rec orderRecord
			if err := attributevalue.UnmarshalMap(av, &rec); err != nil {
				return nil, fmt.Errorf("failed to unmarshal order: %w", err)
			}
			order = rec.toDomain()
			continue
		}
		var item itemRecord
		if err := attributevalue.UnmarshalMap(av, &item); err != nil {
			return nil, fmt.Errorf("failed to unmarshal order item: %w", err)
		}
		items = append(items, item)
	}
	if order == nil {
		return nil, domain.ErrOrderNotFound
	}

	sort.Slice(items, func(i, j int) bool { return items[i].SK < items[j].SK })
	for _, item := range items {
		order.Items = append(order.Items, domain.OrderItem{SKUID: item.SKUID, Quantity: item.Quantity, Price: item.Price})
	}
	return order, nil
}

// Ping issues a cheap read against the table.
func (r *DynamoOrderRepository) Ping(ctx context.Context) error {
	_, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: "HEALTH"},
			"SK": &types.AttributeValueMemberS{Value: metadataSK},
		},
	})
	return err
}

// setStatus moves the order from one status to another only if it is still in from.
func (r *DynamoOrderRepository) setStatus(ctx context.Context, order domain.Order, from, to domain.OrderStatus) error {
	input := &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: orderPK(order.OrderID)},
			"SK": &types.AttributeValueMemberS{Value: metadataSK},
		},
		ConditionExpression:      aws.String("#status = :from"),
		ExpressionAttributeNames: map[string]string{"#status": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":from": &types.AttributeValueMemberS{Value: string(from)},
			":to":   &types.AttributeValueMemberS{Value: string(to)},
		},
	}
	if to == domain.OrderStatusPending {
		input.UpdateExpression = aws.String("SET #status = :to, GSI1PK = :gpk, GSI1SK = :gsk")
		input.ExpressionAttributeValues[":gpk"] = &types.AttributeValueMemberS{Value: pendingGSI1PK}
		input.ExpressionAttributeValues[":gsk"] = &types.AttributeValueMemberS{Value: expirySortKey(order.ExpiresAt)}
	} else {
		input.UpdateExpression = aws.String("SET #status = :to REMOVE GSI1PK, GSI1SK")
	}

	if _, err := r.client.UpdateItem(ctx, input); err != nil {
		if isConditionFailure(err) {
			return fmt.Errorf("order %s: %w", order.OrderID, domain.ErrOrderNotPending)
		}
		return fmt.Errorf("failed to update order status: %w", err)
	}
	return nil
}

func (r *DynamoOrderRepository) marshalAudit(audit domain.AuditRecord) (map[string]types.AttributeValue, error) {
	av, err := attributevalue.MarshalMap(auditRecord{
		PK:        "AUDIT#" + audit.SKUID,
		SK:        string(audit.Reason) + "#" + audit.RefID,
		SKUID:     audit.SKUID,
		ChangeQty: audit.ChangeQty,
		Reason:    string(audit.Reason),
		RefID:     audit.RefID,
		CreatedAt: audit.CreatedAt.UnixMilli(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal audit: %w", err)
	}
	return av, nil
}

func (rec orderRecord) toDomain() *domain.Order {
	return &domain.Order{
		OrderID:       parseID(rec.OrderID),
		ReservationID: parseID(rec.ReservationID),
		UserID:        rec.UserID,
		TotalAmount:   rec.TotalAmount,
		Status:        domain.OrderStatus(rec.Status),
		TraceID:       rec.TraceID,
		CreatedAt:     time.UnixMilli(rec.CreatedAt).UTC(),
		ExpiresAt:     time.UnixMilli(rec.ExpiresAt).UTC(),
	}
}

func parseID(s string) snowflake.ID {
	n, _ := strconv.ParseInt(s, 10, 64)
	return snowflake.ID(n)
}

func isConditionFailure(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		for _, reason := range tce.CancellationReasons {
			if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
				return true
			}
		}
	}
	return false
}
