package mailstore

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDynamo is an in-memory table understanding exactly the requests
// dynamoBackend sends. Query pages hold three items, so most scans page.
type fakeDynamo struct {
	mu       sync.Mutex
	items    map[string]map[string][]byte // partition -> key -> value
	pageSize int

	queries int
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string][]byte), pageSize: 3}
}

func attrB(m map[string]types.AttributeValue, name string) []byte {
	if b, ok := m[name].(*types.AttributeValueMemberB); ok {
		return b.Value
	}
	return nil
}

func (f *fakeDynamo) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, k := attrB(in.Key, dynamoAttrPartition), attrB(in.Key, dynamoAttrKey)
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.items[string(p)][string(k)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		dynamoAttrPartition: &types.AttributeValueMemberB{Value: p},
		dynamoAttrKey:       &types.AttributeValueMemberB{Value: k},
		dynamoAttrValue:     &types.AttributeValueMemberB{Value: bytes.Clone(v)},
	}}, nil
}

func (f *fakeDynamo) Query(ctx context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vals := in.ExpressionAttributeValues
	p, begin, end := attrB(vals, ":p"), attrB(vals, ":b"), attrB(vals, ":e")
	between := strings.Contains(aws.ToString(in.KeyConditionExpression), "BETWEEN")
	withValues := strings.Contains(aws.ToString(in.ProjectionExpression), "#v")

	f.mu.Lock()
	f.queries++
	var keys []string
	for k := range f.items[string(p)] {
		if k >= string(begin) && (!between || k <= string(end)) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	if !aws.ToBool(in.ScanIndexForward) {
		slices.Reverse(keys)
	}
	if in.ExclusiveStartKey != nil {
		last := string(attrB(in.ExclusiveStartKey, dynamoAttrKey))
		i := slices.Index(keys, last)
		keys = keys[i+1:]
	}
	limit := f.pageSize
	if in.Limit != nil && int(*in.Limit) < limit {
		limit = int(*in.Limit)
	}
	out := &dynamodb.QueryOutput{}
	for i, k := range keys {
		if i == limit {
			out.LastEvaluatedKey = map[string]types.AttributeValue{
				dynamoAttrPartition: &types.AttributeValueMemberB{Value: p},
				dynamoAttrKey:       &types.AttributeValueMemberB{Value: []byte(keys[i-1])},
			}
			break
		}
		item := map[string]types.AttributeValue{
			dynamoAttrKey: &types.AttributeValueMemberB{Value: []byte(k)},
		}
		if withValues {
			item[dynamoAttrValue] = &types.AttributeValueMemberB{Value: bytes.Clone(f.items[string(p)][k])}
		}
		out.Items = append(out.Items, item)
	}
	f.mu.Unlock()
	return out, nil
}

func (f *fakeDynamo) holds(key map[string]types.AttributeValue, cond *string, vals map[string]types.AttributeValue) bool {
	if cond == nil {
		return true
	}
	v, exists := f.items[string(attrB(key, dynamoAttrPartition))][string(attrB(key, dynamoAttrKey))]
	switch *cond {
	case "attribute_not_exists(#k)":
		return !exists
	case "#v = :old":
		return exists && bytes.Equal(v, attrB(vals, ":old"))
	default:
		panic("unsupported condition " + *cond)
	}
}

func (f *fakeDynamo) TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(in.TransactItems) > dynamoMaxTransactItems {
		return nil, errors.New("ValidationException: too many items")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	reasons := make([]types.CancellationReason, len(in.TransactItems))
	var failed bool
	for i, it := range in.TransactItems {
		var ok bool
		switch {
		case it.Put != nil:
			ok = f.holds(it.Put.Item, it.Put.ConditionExpression, it.Put.ExpressionAttributeValues)
		case it.Delete != nil:
			ok = f.holds(it.Delete.Key, it.Delete.ConditionExpression, it.Delete.ExpressionAttributeValues)
		case it.ConditionCheck != nil:
			ok = f.holds(it.ConditionCheck.Key, it.ConditionCheck.ConditionExpression, it.ConditionCheck.ExpressionAttributeValues)
		}
		if ok {
			reasons[i].Code = aws.String("None")
		} else {
			reasons[i].Code = aws.String("ConditionalCheckFailed")
			failed = true
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             aws.String("Transaction cancelled"),
			CancellationReasons: reasons,
		}
	}

	for _, it := range in.TransactItems {
		switch {
		case it.Put != nil:
			p := string(attrB(it.Put.Item, dynamoAttrPartition))
			if f.items[p] == nil {
				f.items[p] = make(map[string][]byte)
			}
			f.items[p][string(attrB(it.Put.Item, dynamoAttrKey))] = bytes.Clone(attrB(it.Put.Item, dynamoAttrValue))
		case it.Delete != nil:
			delete(f.items[string(attrB(it.Delete.Key, dynamoAttrPartition))], string(attrB(it.Delete.Key, dynamoAttrKey)))
		}
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func TestDynamo_ConflictMapping(t *testing.T) {
	canceled := &types.TransactionCanceledException{CancellationReasons: []types.CancellationReason{
		{Code: aws.String("None")},
		{Code: aws.String("ConditionalCheckFailed")},
	}}
	assert.True(t, isDynamoConflict(canceled))

	throttled := &types.TransactionCanceledException{CancellationReasons: []types.CancellationReason{
		{Code: aws.String("ThrottlingError")},
	}}
	assert.False(t, isDynamoConflict(throttled))
	assert.True(t, isDynamoConflict(&types.TransactionConflictException{}))
	assert.False(t, isDynamoConflict(errors.New("boom")))
}

func TestDynamo_ShortKeysRejected(t *testing.T) {
	b := newDynamoBackend(newFakeDynamo(), "t", nil)
	_, err := b.Get(context.Background(), []byte{SubspaceValues, 0})
	require.Error(t, err)

	err = b.Iterate(context.Background(), PrefixParams([]byte{SubspaceValues}), func(k, v []byte) (bool, error) {
		return true, nil
	})
	require.Error(t, err)
}

func TestDynamo_RangeAcrossPartitionsRejected(t *testing.T) {
	b := newDynamoBackend(newFakeDynamo(), "t", nil)
	params := RangeParams(x("76 00000002 00"), x("75 ff"))
	err := b.Iterate(context.Background(), params, func(k, v []byte) (bool, error) {
		return true, nil
	})
	require.Error(t, err)
}

func TestDynamo_PagesQueries(t *testing.T) {
	fake := newFakeDynamo()
	s := openTestStoreWith(t, Config{Backend: BackendDynamoDB, DynamoDB: DynamoDBConfig{Table: "t", Client: fake}})
	ctx := context.Background()

	b := NewBatch().WithAccount(7).WithCollection(1)
	for doc := uint32(1); doc <= 10; doc++ {
		b.UpdateDocument(doc).SetValue(Property(1), Uint32(doc))
	}
	require.NoError(t, s.Write(ctx, b))

	prefix := ValueKey[Property]{AccountID: 7, Collection: 1}.Serialize(true)[:6]
	var docs []uint32
	err := s.Iterate(ctx, PrefixParams(prefix), func(k, v []byte) (bool, error) {
		doc, err := DecodeValueKeyDocument(k)
		docs = append(docs, doc)
		return true, err
	})
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, docs)
	assert.GreaterOrEqual(t, fake.queries, 4)
}
