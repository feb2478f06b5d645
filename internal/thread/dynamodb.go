package thread

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const pkPrefix = "USER#"

// dynamodbAPI is the minimal DynamoDB interface required by DynamoStore.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// DynamoStore keeps one item per user keyed by PK = "USER#<id>".
type DynamoStore struct {
	api       dynamodbAPI
	tableName string
	newID     IDFunc
	locks     *KeyedMutex
}

// NewDynamoStore wraps a DynamoDB client.
func NewDynamoStore(api dynamodbAPI, tableName string, newID IDFunc) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("thread: dynamodb api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("thread: dynamodb table name must not be empty")
	}
	if newID == nil {
		newID = DerivedID
	}
	return &DynamoStore{api: api, tableName: tableName, newID: newID, locks: NewKeyedMutex()}, nil
}

// OpenDynamo loads the default AWS config (optionally overriding region and
// endpoint, e.g. for DynamoDB Local) and returns a store for table.
func OpenDynamo(ctx context.Context, table, region, endpoint string, newID IDFunc) (*DynamoStore, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return NewDynamoStore(client, table, newID)
}

func userPK(userID string) string {
	return pkPrefix + userID
}

func (s *DynamoStore) keyOf(userID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: userPK(userID)},
	}
}

// Resolve reads with strong consistency, then creates with attribute_not_exists(PK).
// A failed condition means another writer won; its item is read back.
func (s *DynamoStore) Resolve(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", storageErr("resolve", userID, ErrEmptyUserID)
	}
	unlock := s.locks.Lock(userID)
	defer unlock()

	t, err := s.get(ctx, userID)
	if err == nil {
		return t.ThreadID, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", storageErr("resolve", userID, err)
	}

	now := formatTime(nowUTC())
	threadID := s.newID(userID)
	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"PK":           &types.AttributeValueMemberS{Value: userPK(userID)},
			"user_id":      &types.AttributeValueMemberS{Value: userID},
			"thread_id":    &types.AttributeValueMemberS{Value: threadID},
			"last_message": &types.AttributeValueMemberS{Value: ""},
			"created_at":   &types.AttributeValueMemberS{Value: now},
			"updated_at":   &types.AttributeValueMemberS{Value: now},
		},
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err == nil {
		return threadID, nil
	}

	var condErr *types.ConditionalCheckFailedException
	if !errors.As(err, &condErr) {
		return "", storageErr("resolve", userID, fmt.Errorf("put item: %w", err))
	}
	t, err = s.get(ctx, userID)
	if err != nil {
		return "", storageErr("resolve", userID, err)
	}
	return t.ThreadID, nil
}

// RecordMessage creates or updates in one UpdateItem; if_not_exists keeps an
// existing thread_id and created_at.
func (s *DynamoStore) RecordMessage(ctx context.Context, userID, text string) error {
	if userID == "" {
		return storageErr("record", userID, ErrEmptyUserID)
	}
	unlock := s.locks.Lock(userID)
	defer unlock()

	now := formatTime(nowUTC())
	_, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.tableName),
		Key:              s.keyOf(userID),
		UpdateExpression: aws.String("SET last_message = :m, updated_at = :now, user_id = :u, thread_id = if_not_exists(thread_id, :tid), created_at = if_not_exists(created_at, :now)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":m":   &types.AttributeValueMemberS{Value: text},
			":now": &types.AttributeValueMemberS{Value: now},
			":u":   &types.AttributeValueMemberS{Value: userID},
			":tid": &types.AttributeValueMemberS{Value: s.newID(userID)},
		},
	})
	if err != nil {
		return storageErr("record", userID, fmt.Errorf("update item: %w", err))
	}
	return nil
}

func (s *DynamoStore) Get(ctx context.Context, userID string) (*Thread, error) {
	t, err := s.get(ctx, userID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, storageErr("get", userID, err)
	}
	return t, err
}

func (s *DynamoStore) get(ctx context.Context, userID string) (*Thread, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.keyOf(userID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, ErrNotFound
	}

	threadID := strAttr(out.Item, "thread_id")
	if threadID == "" {
		return nil, fmt.Errorf("item for %q has no thread_id", userID)
	}
	return &Thread{
		UserID:      userID,
		ThreadID:    threadID,
		LastMessage: strAttr(out.Item, "last_message"),
		CreatedAt:   parseTime(strAttr(out.Item, "created_at")),
		UpdatedAt:   parseTime(strAttr(out.Item, "updated_at")),
	}, nil
}

func (s *DynamoStore) Close() error { return nil }

func strAttr(item map[string]types.AttributeValue, key string) string {
	if v, ok := item[key].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}
