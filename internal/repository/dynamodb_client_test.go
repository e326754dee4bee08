package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"chat-gateway/internal/domain"
)

type fakeDynamo struct {
	getOut       *dynamodb.GetItemOutput
	getErr       error
	putErr       error
	deleteErr    error
	lastGetInput *dynamodb.GetItemInput
	lastPutInput *dynamodb.PutItemInput
	lastDelInput *dynamodb.DeleteItemInput
	putCalls     int
	deleteCalls  int
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetInput = in
	return f.getOut, f.getErr
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPutInput = in
	f.putCalls++
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.lastDelInput = in
	f.deleteCalls++
	return &dynamodb.DeleteItemOutput{}, f.deleteErr
}

func historyItem(sessionID, history string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":      &types.AttributeValueMemberS{Value: historyKey(sessionID)},
		"history": &types.AttributeValueMemberS{Value: history},
	}
}

func mustNewClient(t *testing.T, db *fakeDynamo) *Client {
	t.Helper()
	c, err := New(db, "test-table")
	require.NoError(t, err)
	return c
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, "t")
	require.Error(t, err)

	_, err = New(&fakeDynamo{}, "  ")
	require.Error(t, err)
}

func TestGetHistory_HappyPath(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{
		Item: historyItem("s1", `[{"role":"user","content":"Hi"},{"role":"assistant","content":"Hello!"}]`),
	}}
	c := mustNewClient(t, db)

	turns, err := c.GetHistory(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, []domain.ChatTurn{
		{Role: "user", Content: "Hi"},
		{Role: "assistant", Content: "Hello!"},
	}, turns)

	require.NotNil(t, db.lastGetInput)
	pk := db.lastGetInput.Key["PK"].(*types.AttributeValueMemberS)
	require.Equal(t, "chat:s1", pk.Value)
}

func TestGetHistory_AbsentEntryIsEmpty(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{}}
	c := mustNewClient(t, db)

	turns, err := c.GetHistory(context.Background(), "s1")
	require.NoError(t, err)
	require.Empty(t, turns)
}

func TestGetHistory_MalformedStoredValue(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: historyItem("s1", `{not json`)}}
	c := mustNewClient(t, db)

	_, err := c.GetHistory(context.Background(), "s1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode")
}

func TestGetHistory_MissingHistoryAttribute(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: "chat:s1"},
	}}}
	c := mustNewClient(t, db)

	_, err := c.GetHistory(context.Background(), "s1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "history")
}

func TestGetHistory_GetItemError(t *testing.T) {
	db := &fakeDynamo{getErr: errors.New("ResourceNotFoundException")}
	c := mustNewClient(t, db)

	_, err := c.GetHistory(context.Background(), "s1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "GetHistory")
}

func TestGetHistoryVersioned_ReadsVersion(t *testing.T) {
	item := historyItem("s1", `[]`)
	item["version"] = &types.AttributeValueMemberN{Value: "7"}
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: item}}
	c := mustNewClient(t, db)

	turns, version, err := c.GetHistoryVersioned(context.Background(), "s1")
	require.NoError(t, err)
	require.Empty(t, turns)
	require.Equal(t, int64(7), version)
}

func TestGetHistoryVersioned_MissingVersionIsZero(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: historyItem("s1", `[]`)}}
	c := mustNewClient(t, db)

	_, version, err := c.GetHistoryVersioned(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, int64(0), version)
}

func TestGetHistoryVersioned_MalformedVersion(t *testing.T) {
	item := historyItem("s1", `[]`)
	item["version"] = &types.AttributeValueMemberS{Value: "seven"}
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: item}}
	c := mustNewClient(t, db)

	_, _, err := c.GetHistoryVersioned(context.Background(), "s1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "version")
}

func TestPutHistory_WritesJSONArray(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	turns := []domain.ChatTurn{
		{Role: "user", Content: "Hi"},
		{Role: "assistant", Content: "Hello!"},
	}
	require.NoError(t, c.PutHistory(context.Background(), "s1", turns))

	require.NotNil(t, db.lastPutInput)
	pk := db.lastPutInput.Item["PK"].(*types.AttributeValueMemberS)
	require.Equal(t, "chat:s1", pk.Value)

	raw := db.lastPutInput.Item["history"].(*types.AttributeValueMemberS)
	var stored []domain.ChatTurn
	require.NoError(t, json.Unmarshal([]byte(raw.Value), &stored))
	require.Equal(t, turns, stored)
}

func TestPutHistory_NilTurnsEncodeAsEmptyArray(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	require.NoError(t, c.PutHistory(context.Background(), "s1", nil))
	raw := db.lastPutInput.Item["history"].(*types.AttributeValueMemberS)
	require.Equal(t, "[]", raw.Value)
}

func TestPutHistory_PutItemError(t *testing.T) {
	db := &fakeDynamo{putErr: errors.New("throttled")}
	c := mustNewClient(t, db)

	err := c.PutHistory(context.Background(), "s1", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "PutHistory")
}

func TestRoundTrip_PutThenGetYieldsSameSequence(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	turns := make([]domain.ChatTurn, 0, 20)
	for i := 0; i < 10; i++ {
		turns = append(turns,
			domain.ChatTurn{Role: "user", Content: "question"},
			domain.ChatTurn{Role: "assistant", Content: "answer"},
		)
	}
	require.NoError(t, c.PutHistory(context.Background(), "s1", turns))

	// Read back whatever the write produced.
	raw := db.lastPutInput.Item["history"].(*types.AttributeValueMemberS)
	db.getOut = &dynamodb.GetItemOutput{Item: historyItem("s1", raw.Value)}

	loaded, err := c.GetHistory(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, turns, loaded)
}

func TestPutHistoryVersioned_ConditionalWrite(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	require.NoError(t, c.PutHistoryVersioned(context.Background(), "s1", nil, 3))

	require.NotNil(t, db.lastPutInput.ConditionExpression)
	require.Contains(t, *db.lastPutInput.ConditionExpression, "version = :expected")

	expected := db.lastPutInput.ExpressionAttributeValues[":expected"].(*types.AttributeValueMemberN)
	require.Equal(t, "3", expected.Value)

	written := db.lastPutInput.Item["version"].(*types.AttributeValueMemberN)
	require.Equal(t, "4", written.Value)
}

func TestPutHistoryVersioned_Conflict(t *testing.T) {
	db := &fakeDynamo{putErr: &types.ConditionalCheckFailedException{}}
	c := mustNewClient(t, db)

	err := c.PutHistoryVersioned(context.Background(), "s1", nil, 3)
	require.ErrorIs(t, err, ErrVersionConflict)
}

func TestPutHistoryVersioned_OtherError(t *testing.T) {
	db := &fakeDynamo{putErr: errors.New("throttled")}
	c := mustNewClient(t, db)

	err := c.PutHistoryVersioned(context.Background(), "s1", nil, 3)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrVersionConflict)
}

func TestDeleteHistory_HappyPath(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	require.NoError(t, c.DeleteHistory(context.Background(), "s1"))
	require.Equal(t, 1, db.deleteCalls)
	pk := db.lastDelInput.Key["PK"].(*types.AttributeValueMemberS)
	require.Equal(t, "chat:s1", pk.Value)
}

func TestDeleteHistory_Error(t *testing.T) {
	db := &fakeDynamo{deleteErr: errors.New("boom")}
	c := mustNewClient(t, db)

	err := c.DeleteHistory(context.Background(), "s1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "DeleteHistory")
}
