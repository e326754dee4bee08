package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"chat-gateway/internal/domain"
)

// Persisted layout: one item per session, keyed "chat:"+sessionID, with the
// full conversation history JSON-encoded into a single string attribute. The
// table is used as a plain string-keyed, string-valued KV store. No TTL is
// set; entries live until an explicit clear.
const (
	keyPrefix   = "chat:"
	attrHistory = "history"
	attrVersion = "version"
)

// ErrVersionConflict is returned by PutHistoryVersioned when the stored entry
// was modified since the paired read.
var ErrVersionConflict = errors.New("repository: history version conflict")

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// HistoryReadWriter defines the conversation-history operations consumed by
// the chat service.
type HistoryReadWriter interface {
	GetHistory(ctx context.Context, sessionID string) ([]domain.ChatTurn, error)
	PutHistory(ctx context.Context, sessionID string, turns []domain.ChatTurn) error
	GetHistoryVersioned(ctx context.Context, sessionID string) ([]domain.ChatTurn, int64, error)
	PutHistoryVersioned(ctx context.Context, sessionID string, turns []domain.ChatTurn, expectedVersion int64) error
	DeleteHistory(ctx context.Context, sessionID string) error
}

// Client wraps a DynamoDB table holding per-session conversation history.
type Client struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

// historyKey returns the partition key for a session's history entry.
func historyKey(sessionID string) string {
	return keyPrefix + sessionID
}

func itemKey(sessionID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: historyKey(sessionID)},
	}
}

// GetHistory loads the stored history for a session. An absent entry is an
// empty history, not an error; an undecodable stored value is an error so the
// caller never silently loses prior turns.
func (c *Client) GetHistory(ctx context.Context, sessionID string) ([]domain.ChatTurn, error) {
	turns, _, err := c.GetHistoryVersioned(ctx, sessionID)
	return turns, err
}

// GetHistoryVersioned loads the stored history together with its version
// counter. An absent entry yields an empty history at version 0.
func (c *Client) GetHistoryVersioned(ctx context.Context, sessionID string) ([]domain.ChatTurn, int64, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key:       itemKey(sessionID),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("repository: GetHistory get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, 0, nil
	}

	raw, err := strAttr(out.Item, attrHistory)
	if err != nil {
		return nil, 0, fmt.Errorf("repository: GetHistory: %w", err)
	}
	turns, err := decodeHistory(raw)
	if err != nil {
		return nil, 0, fmt.Errorf("repository: GetHistory decode: %w", err)
	}

	version := int64(0)
	if _, ok := out.Item[attrVersion]; ok {
		version, err = intAttr(out.Item, attrVersion)
		if err != nil {
			return nil, 0, fmt.Errorf("repository: GetHistory decode version: %w", err)
		}
	}
	return turns, version, nil
}

// PutHistory overwrites the stored history for a session unconditionally.
// Concurrent writers race last-write-wins; callers needing stronger
// guarantees use PutHistoryVersioned.
func (c *Client) PutHistory(ctx context.Context, sessionID string, turns []domain.ChatTurn) error {
	raw, err := encodeHistory(turns)
	if err != nil {
		return fmt.Errorf("repository: PutHistory encode: %w", err)
	}

	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			"PK":        &types.AttributeValueMemberS{Value: historyKey(sessionID)},
			attrHistory: &types.AttributeValueMemberS{Value: raw},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: PutHistory: %w", err)
	}
	return nil
}

// PutHistoryVersioned overwrites the stored history only if its version still
// matches the one observed by the paired GetHistoryVersioned read. Returns
// ErrVersionConflict when another writer got there first.
func (c *Client) PutHistoryVersioned(ctx context.Context, sessionID string, turns []domain.ChatTurn, expectedVersion int64) error {
	raw, err := encodeHistory(turns)
	if err != nil {
		return fmt.Errorf("repository: PutHistoryVersioned encode: %w", err)
	}

	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			"PK":        &types.AttributeValueMemberS{Value: historyKey(sessionID)},
			attrHistory: &types.AttributeValueMemberS{Value: raw},
			attrVersion: &types.AttributeValueMemberN{Value: strconv.FormatInt(expectedVersion+1, 10)},
		},
		ConditionExpression: aws.String("attribute_not_exists(PK) OR version = :expected"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expectedVersion, 10)},
		},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return fmt.Errorf("%w: session %q", ErrVersionConflict, sessionID)
		}
		return fmt.Errorf("repository: PutHistoryVersioned: %w", err)
	}
	return nil
}

// DeleteHistory removes a session's history entry. Deleting an absent entry
// is not an error.
func (c *Client) DeleteHistory(ctx context.Context, sessionID string) error {
	_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.tableName),
		Key:       itemKey(sessionID),
	})
	if err != nil {
		return fmt.Errorf("repository: DeleteHistory: %w", err)
	}
	return nil
}

// encodeHistory marshals turns as a JSON array. A nil slice encodes as an
// empty array so the stored value is always a valid array.
func encodeHistory(turns []domain.ChatTurn) (string, error) {
	if turns == nil {
		turns = []domain.ChatTurn{}
	}
	raw, err := json.Marshal(turns)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeHistory(raw string) ([]domain.ChatTurn, error) {
	var turns []domain.ChatTurn
	if err := json.Unmarshal([]byte(raw), &turns); err != nil {
		return nil, err
	}
	return turns, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
