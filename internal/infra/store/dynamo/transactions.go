// Package dynamo stores the transaction log in a DynamoDB table keyed by
// transaction_id.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alma-care/alma-bfa-go/internal/domain"
	"github.com/alma-care/alma-bfa-go/internal/infra/store/memory"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("infra/store/dynamo")

// API is the subset of the DynamoDB client the store uses.
type API interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// TransactionStore implements port.TransactionRepository on DynamoDB.
type TransactionStore struct {
	client    API
	tableName string
}

// NewTransactionStore creates a DynamoDB transaction repository.
func NewTransactionStore(client API, tableName string) *TransactionStore {
	return &TransactionStore{client: client, tableName: tableName}
}

// item is the stored shape. Amounts are kept as decimal strings.
type item struct {
	ID          string `dynamodbav:"transaction_id"`
	UserID      string `dynamodbav:"user_id"`
	Type        string `dynamodbav:"type"`
	Amount      string `dynamodbav:"amount"`
	Currency    string `dynamodbav:"currency"`
	FromAccount string `dynamodbav:"from_account,omitempty"`
	ToAccount   string `dynamodbav:"to_account,omitempty"`
	Description string `dynamodbav:"description,omitempty"`
	Status      string `dynamodbav:"status"`
	ChargeID    string `dynamodbav:"charge_id,omitempty"`
	CreatedAt   string `dynamodbav:"created_at"`
}

func toItem(rec *domain.TransactionRecord) item {
	return item{
		ID:          rec.ID,
		UserID:      rec.UserID,
		Type:        string(rec.Type),
		Amount:      rec.Amount.String(),
		Currency:    rec.Currency,
		FromAccount: rec.FromAccount,
		ToAccount:   rec.ToAccount,
		Description: rec.Description,
		Status:      string(rec.Status),
		ChargeID:    rec.ChargeID,
		CreatedAt:   rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func (it item) record() (*domain.TransactionRecord, error) {
	amount, err := decimal.NewFromString(it.Amount)
	if err != nil {
		return nil, fmt.Errorf("transaction %s: bad amount %q: %w", it.ID, it.Amount, err)
	}
	created, err := time.Parse(time.RFC3339Nano, it.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("transaction %s: bad created_at %q: %w", it.ID, it.CreatedAt, err)
	}
	return &domain.TransactionRecord{
		ID:          it.ID,
		UserID:      it.UserID,
		Type:        domain.TransactionType(it.Type),
		Amount:      amount,
		Currency:    it.Currency,
		FromAccount: it.FromAccount,
		ToAccount:   it.ToAccount,
		Description: it.Description,
		Status:      domain.TransactionStatus(it.Status),
		ChargeID:    it.ChargeID,
		CreatedAt:   created,
	}, nil
}

func key(id string) map[string]dynamodbtypes.AttributeValue {
	return map[string]dynamodbtypes.AttributeValue{
		"transaction_id": &dynamodbtypes.AttributeValueMemberS{Value: id},
	}
}

// AppendTransaction writes rec; an existing id is a conflict.
func (s *TransactionStore) AppendTransaction(ctx context.Context, rec *domain.TransactionRecord) error {
	ctx, span := tracer.Start(ctx, "DynamoStore.AppendTransaction")
	defer span.End()

	av, err := attributevalue.MarshalMap(toItem(rec))
	if err != nil {
		return fmt.Errorf("failed to marshal transaction: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(transaction_id)"),
	})
	if isConditionFailed(err) {
		return &domain.ErrConflict{Message: "transaction " + rec.ID + " already exists"}
	}
	if err != nil {
		return fmt.Errorf("failed to save transaction to DynamoDB: %w", err)
	}
	return nil
}

// GetTransaction reads one record by id.
func (s *TransactionStore) GetTransaction(ctx context.Context, id string) (*domain.TransactionRecord, error) {
	ctx, span := tracer.Start(ctx, "DynamoStore.GetTransaction")
	defer span.End()

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	if out.Item == nil {
		return nil, &domain.ErrNotFound{Resource: "transaction", ID: id}
	}

	var it item
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction: %w", err)
	}
	return it.record()
}

// FindByChargeID returns the newest record created for a charge.
func (s *TransactionStore) FindByChargeID(ctx context.Context, chargeID string) (*domain.TransactionRecord, error) {
	ctx, span := tracer.Start(ctx, "DynamoStore.FindByChargeID")
	defer span.End()

	if chargeID == "" {
		return nil, &domain.ErrNotFound{Resource: "transaction", ID: chargeID}
	}
	recs, err := s.scan(ctx, "charge_id", chargeID)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, &domain.ErrNotFound{Resource: "transaction", ID: chargeID}
	}
	memory.SortNewestFirst(recs)
	return &recs[0], nil
}

// ListTransactions returns a user's records, newest first.
func (s *TransactionStore) ListTransactions(ctx context.Context, userID string, limit int) ([]domain.TransactionRecord, error) {
	ctx, span := tracer.Start(ctx, "DynamoStore.ListTransactions")
	defer span.End()

	recs, err := s.scan(ctx, "user_id", userID)
	if err != nil {
		return nil, err
	}
	memory.SortNewestFirst(recs)
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

// UpdateTransactionStatus sets the status of an existing record.
func (s *TransactionStore) UpdateTransactionStatus(ctx context.Context, id string, status domain.TransactionStatus) (*domain.TransactionRecord, error) {
	ctx, span := tracer.Start(ctx, "DynamoStore.UpdateTransactionStatus")
	defer span.End()

	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 key(id),
		UpdateExpression:    aws.String("SET #s = :s"),
		ConditionExpression: aws.String("attribute_exists(transaction_id)"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]dynamodbtypes.AttributeValue{
			":s": &dynamodbtypes.AttributeValueMemberS{Value: string(status)},
		},
		ReturnValues: dynamodbtypes.ReturnValueAllNew,
	})
	if isConditionFailed(err) {
		return nil, &domain.ErrNotFound{Resource: "transaction", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update transaction: %w", err)
	}

	var it item
	if err := attributevalue.UnmarshalMap(out.Attributes, &it); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction: %w", err)
	}
	return it.record()
}

// scan pages through the table collecting items whose attribute equals value.
func (s *TransactionStore) scan(ctx context.Context, attribute, value string) ([]domain.TransactionRecord, error) {
	recs := make([]domain.TransactionRecord, 0)
	var lastEvaluatedKey map[string]dynamodbtypes.AttributeValue

	for {
		input := &dynamodb.ScanInput{
			TableName:                aws.String(s.tableName),
			FilterExpression:         aws.String("#a = :v"),
			ExpressionAttributeNames: map[string]string{"#a": attribute},
			ExpressionAttributeValues: map[string]dynamodbtypes.AttributeValue{
				":v": &dynamodbtypes.AttributeValueMemberS{Value: value},
			},
		}
		if lastEvaluatedKey != nil {
			input.ExclusiveStartKey = lastEvaluatedKey
		}

		out, err := s.client.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transactions: %w", err)
		}

		var items []item
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal transactions: %w", err)
		}
		for _, it := range items {
			rec, err := it.record()
			if err != nil {
				return nil, err
			}
			recs = append(recs, *rec)
		}

		if out.LastEvaluatedKey == nil {
			break
		}
		lastEvaluatedKey = out.LastEvaluatedKey
	}
	return recs, nil
}

func isConditionFailed(err error) bool {
	var ccf *dynamodbtypes.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}
