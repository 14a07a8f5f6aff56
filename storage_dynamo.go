package mailstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoDBClient is the subset of the DynamoDB API the backend uses.
type DynamoDBClient interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

const (
	// dynamoPartitionLen is the number of leading key bytes (subspace and
	// account id) forming the partition key.
	dynamoPartitionLen = 5

	// dynamoMaxTransactItems is the service limit on items per transaction.
	dynamoMaxTransactItems = 100

	dynamoAttrPartition = "p"
	dynamoAttrKey       = "k"
	dynamoAttrValue     = "v"
)

// dynamoBackend stores the keyspace in one DynamoDB table. Create it with:
//
//	aws dynamodb create-table \
//	  --table-name mailstore \
//	  --attribute-definitions AttributeName=p,AttributeType=B AttributeName=k,AttributeType=B \
//	  --key-schema AttributeName=p,KeyType=HASH AttributeName=k,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
//
// The partition key is the subspace byte plus the account id, so a range
// scan must stay within one account of one subspace.
//
// Isolation: Get is a strongly consistent read. Write buffers its mutations,
// then commits them with TransactWriteItems, conditioning every key the batch
// read on the value it saw, so a batch commits only if nothing it depends on
// changed. Iterate reads page by page with consistent reads and is not a
// snapshot: a commit landing between two pages may be partially visible.
type dynamoBackend struct {
	client DynamoDBClient
	table  string
	logger *slog.Logger
}

func newDynamoBackend(client DynamoDBClient, table string, logger *slog.Logger) *dynamoBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &dynamoBackend{client: client, table: table, logger: logger}
}

func dynamoPartition(key []byte) ([]byte, error) {
	if len(key) < dynamoPartitionLen {
		return nil, fmt.Errorf("key %s is shorter than the partition prefix", hexstr(key))
	}
	return key[:dynamoPartitionLen], nil
}

func dynamoItemKey(key []byte) (map[string]types.AttributeValue, error) {
	p, err := dynamoPartition(key)
	if err != nil {
		return nil, err
	}
	return map[string]types.AttributeValue{
		dynamoAttrPartition: &types.AttributeValueMemberB{Value: p},
		dynamoAttrKey:       &types.AttributeValueMemberB{Value: key},
	}, nil
}

func dynamoBytes(item map[string]types.AttributeValue, attr string) []byte {
	if b, ok := item[attr].(*types.AttributeValueMemberB); ok {
		if b.Value == nil {
			return []byte{}
		}
		return b.Value
	}
	return nil
}

func (b *dynamoBackend) Get(ctx context.Context, key []byte) ([]byte, error) {
	itemKey, err := dynamoItemKey(key)
	if err != nil {
		return nil, err
	}
	out, err := b.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(b.table),
		Key:            itemKey,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, nil
	}
	v := dynamoBytes(out.Item, dynamoAttrValue)
	if v == nil {
		v = []byte{}
	}
	return v, nil
}

func (b *dynamoBackend) Iterate(ctx context.Context, params IterateParams, fn IterateFunc) error {
	p, err := dynamoPartition(params.Begin)
	if err != nil {
		return err
	}
	values := map[string]types.AttributeValue{
		":p": &types.AttributeValueMemberB{Value: p},
		":b": &types.AttributeValueMemberB{Value: params.Begin},
	}
	cond := "#p = :p AND #k >= :b"
	if params.End != nil {
		if bytes.HasPrefix(params.End, p) {
			cond = "#p = :p AND #k BETWEEN :b AND :e"
			values[":e"] = &types.AttributeValueMemberB{Value: params.End}
		} else if bytes.Compare(params.End, p) < 0 {
			return fmt.Errorf("range [%s, %s) spans several partitions", hexstr(params.Begin), hexstr(params.End))
		}
		// otherwise End is past the partition and the scan runs to its end
	}

	in := &dynamodb.QueryInput{
		TableName:                 aws.String(b.table),
		KeyConditionExpression:    aws.String(cond),
		ExpressionAttributeNames:  map[string]string{"#p": dynamoAttrPartition, "#k": dynamoAttrKey},
		ExpressionAttributeValues: values,
		ScanIndexForward:          aws.Bool(params.Ascending),
		ConsistentRead:            aws.Bool(true),
	}
	if params.Values {
		in.ExpressionAttributeNames["#v"] = dynamoAttrValue
		in.ProjectionExpression = aws.String("#k, #v")
	} else {
		in.ProjectionExpression = aws.String("#k")
	}
	if params.First {
		// one extra item in case the end key itself comes first
		in.Limit = aws.Int32(2)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		out, err := b.client.Query(ctx, in)
		if err != nil {
			return err
		}
		for _, item := range out.Items {
			k := dynamoBytes(item, dynamoAttrKey)
			if !params.contains(k) {
				continue
			}
			var v []byte
			if params.Values {
				v = dynamoBytes(item, dynamoAttrValue)
				if v == nil {
					v = []byte{}
				}
			}
			more, err := fn(k, v)
			if err != nil {
				return err
			}
			if !more || params.First {
				return nil
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			return nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// dynamoTxn buffers a batch. Reads go to the table once per key and are
// remembered as commit conditions.
type dynamoTxn struct {
	ctx     context.Context
	b       *dynamoBackend
	reads   map[string][]byte
	writes  map[string][]byte // nil value means delete
	deleted map[string]bool
	order   []string
}

func (t *dynamoTxn) touch(key string) {
	if _, read := t.reads[key]; read {
		return
	}
	if _, written := t.writes[key]; written {
		return
	}
	t.order = append(t.order, key)
}

func (t *dynamoTxn) get(key []byte) ([]byte, error) {
	k := string(key)
	if v, ok := t.writes[k]; ok {
		if t.deleted[k] {
			return nil, nil
		}
		return bytes.Clone(v), nil
	}
	if v, ok := t.reads[k]; ok {
		return bytes.Clone(v), nil
	}
	v, err := t.b.Get(t.ctx, key)
	if err != nil {
		return nil, err
	}
	t.touch(k)
	t.reads[k] = v
	return bytes.Clone(v), nil
}

func (t *dynamoTxn) set(key, value []byte) error {
	k := string(key)
	t.touch(k)
	t.writes[k] = bytes.Clone(value)
	if t.writes[k] == nil {
		t.writes[k] = []byte{}
	}
	delete(t.deleted, k)
	return nil
}

func (t *dynamoTxn) del(key []byte) error {
	k := string(key)
	t.touch(k)
	t.writes[k] = []byte{}
	t.deleted[k] = true
	return nil
}

func (t *dynamoTxn) condition(key string) (expr *string, values map[string]types.AttributeValue, names map[string]string, ok bool) {
	old, read := t.reads[key]
	if !read {
		return nil, nil, nil, false
	}
	if old == nil {
		return aws.String("attribute_not_exists(#k)"), nil, map[string]string{"#k": dynamoAttrKey}, true
	}
	return aws.String("#v = :old"),
		map[string]types.AttributeValue{":old": &types.AttributeValueMemberB{Value: old}},
		map[string]string{"#v": dynamoAttrValue}, true
}

func (t *dynamoTxn) items() ([]types.TransactWriteItem, error) {
	var items []types.TransactWriteItem
	for _, k := range t.order {
		key := []byte(k)
		itemKey, err := dynamoItemKey(key)
		if err != nil {
			return nil, err
		}
		expr, values, names, hasCond := t.condition(k)
		v, written := t.writes[k]
		switch {
		case written && t.deleted[k]:
			items = append(items, types.TransactWriteItem{Delete: &types.Delete{
				TableName:                 aws.String(t.b.table),
				Key:                       itemKey,
				ConditionExpression:       expr,
				ExpressionAttributeNames:  names,
				ExpressionAttributeValues: values,
			}})
		case written:
			itemKey[dynamoAttrValue] = &types.AttributeValueMemberB{Value: v}
			items = append(items, types.TransactWriteItem{Put: &types.Put{
				TableName:                 aws.String(t.b.table),
				Item:                      itemKey,
				ConditionExpression:       expr,
				ExpressionAttributeNames:  names,
				ExpressionAttributeValues: values,
			}})
		case hasCond:
			items = append(items, types.TransactWriteItem{ConditionCheck: &types.ConditionCheck{
				TableName:                 aws.String(t.b.table),
				Key:                       itemKey,
				ConditionExpression:       expr,
				ExpressionAttributeNames:  names,
				ExpressionAttributeValues: values,
			}})
		}
	}
	if len(items) > dynamoMaxTransactItems {
		return nil, fmt.Errorf("batch touches %d keys, DynamoDB allows at most %d per transaction", len(items), dynamoMaxTransactItems)
	}
	return items, nil
}

func (b *dynamoBackend) Write(ctx context.Context, batch *Batch) error {
	t := &dynamoTxn{
		ctx:     ctx,
		b:       b,
		reads:   make(map[string][]byte),
		writes:  make(map[string][]byte),
		deleted: make(map[string]bool),
	}
	if err := applyOps(t, batch.ops); err != nil {
		return err
	}
	items, err := t.items()
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	_, err = b.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	if err != nil {
		if isDynamoConflict(err) {
			return ErrAssertValueFailed
		}
		return err
	}
	return nil
}

func isDynamoConflict(err error) bool {
	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) {
		for _, r := range canceled.CancellationReasons {
			if code := aws.ToString(r.Code); code == "ConditionalCheckFailed" || code == "TransactionConflict" {
				return true
			}
		}
		return false
	}
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return true
	}
	var conflict *types.TransactionConflictException
	return errors.As(err, &conflict)
}

func (b *dynamoBackend) Close() error {
	return nil
}
