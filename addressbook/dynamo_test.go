package addressbook

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDynamo implements the handful of DynamoDB calls DynamoStore makes,
// including the two condition expressions it uses.
type fakeDynamo struct {
	dynamodbiface.DynamoDBAPI

	mu     sync.Mutex
	items  map[string]map[string]*dynamodb.AttributeValue
	tables map[string]bool
	fail   error
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{
		items:  make(map[string]map[string]*dynamodb.AttributeValue),
		tables: make(map[string]bool),
	}
}

func conditionFailed() error {
	return awserr.New(dynamodb.ErrCodeConditionalCheckFailedException, "The conditional request failed", nil)
}

func (f *fakeDynamo) CreateTableWithContext(ctx aws.Context, in *dynamodb.CreateTableInput, _ ...request.Option) (*dynamodb.CreateTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.StringValue(in.TableName)
	if f.tables[name] {
		return nil, awserr.New(dynamodb.ErrCodeResourceInUseException, "Table already exists", nil)
	}
	f.tables[name] = true
	return &dynamodb.CreateTableOutput{}, nil
}

func (f *fakeDynamo) GetItemWithContext(ctx aws.Context, in *dynamodb.GetItemInput, _ ...request.Option) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	return &dynamodb.GetItemOutput{Item: f.items[aws.StringValue(in.Key[DynamoPartitionKey].S)]}, nil
}

func (f *fakeDynamo) PutItemWithContext(ctx aws.Context, in *dynamodb.PutItemInput, _ ...request.Option) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}

	pk := aws.StringValue(in.Item[DynamoPartitionKey].S)
	if existing, found := f.items[pk]; found {
		cond := aws.StringValue(in.ConditionExpression)
		sameEntry := strings.Contains(cond, "#entry = :entry") &&
			aws.StringValue(existing["entry"].S) == aws.StringValue(in.ExpressionAttributeValues[":entry"].S)
		if strings.HasPrefix(cond, "attribute_not_exists") && !sameEntry {
			return nil, conditionFailed()
		}
	}
	f.items[pk] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) UpdateItemWithContext(ctx aws.Context, in *dynamodb.UpdateItemInput, _ ...request.Option) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}

	item, found := f.items[aws.StringValue(in.Key[DynamoPartitionKey].S)]
	if !found {
		return nil, conditionFailed()
	}
	attr := aws.StringValue(in.ExpressionAttributeNames["#hashes"])
	set := item[attr]
	if set == nil {
		set = &dynamodb.AttributeValue{}
		item[attr] = set
	}
	for _, add := range in.ExpressionAttributeValues[":hash"].SS {
		dup := false
		for _, have := range set.SS {
			dup = dup || aws.StringValue(have) == aws.StringValue(add)
		}
		if !dup {
			set.SS = append(set.SS, add)
		}
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func TestDynamoStore(t *testing.T) {
	ctx := context.Background()
	fake := newFakeDynamo()
	store := NewDynamoStoreWithClient(fake, "courier-addressbook")

	require.NoError(t, store.CreateTable(ctx))
	require.NoError(t, store.CreateTable(ctx), "an existing table is not an error")

	book, engine := newTestBook(t, store)
	ep := newEndpoint(t, engine, "https://relay.example/inbox/1")

	entry, err := book.Register(ctx, "google", "u-1", ep, "alice@example.com")
	require.NoError(t, err)
	require.NoError(t, book.AddEmail(ctx, "google", "u-1", "alice@work.example"))

	assert.Contains(t, fake.items, "entry#google#u-1")
	assert.Contains(t, fake.items, "alias#"+book.HashEmail("alice@example.com"))
	for pk := range fake.items {
		assert.NotContains(t, pk, "alice", "raw addresses must not be stored")
	}

	got, found, err := book.LookupByEmail(ctx, "alice@work.example")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, entry.ID, got.ID)
	assert.True(t, got.Endpoint.Equal(ep))
	assert.Equal(t, ep.InboxURL, got.Endpoint.InboxURL)
	assert.ElementsMatch(t, []string{book.HashEmail("alice@example.com"), book.HashEmail("alice@work.example")}, got.EmailHashes)
	assert.True(t, got.CreatedAt.Equal(entry.CreatedAt))

	_, err = book.Register(ctx, "google", "u-2", newEndpoint(t, engine, ""), "alice@example.com")
	assert.ErrorIs(t, err, ErrAliasTaken)

	assert.Equal(t, ErrConflict, store.PutEntry(ctx, entry))
	assert.Equal(t, ErrNoItem, store.AddEmailHash(ctx, "entry#google#nobody", "h"))
}

func TestDynamoStore_Outage(t *testing.T) {
	fake := newFakeDynamo()
	fake.fail = awserr.New("ProvisionedThroughputExceededException", "slow down", nil)
	book, _ := newTestBook(t, NewDynamoStoreWithClient(fake, "courier-addressbook"))

	_, found, err := book.LookupByEmail(context.Background(), "alice@example.com")
	assert.False(t, found)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestDynamoStore_Local(t *testing.T) {
	url := os.Getenv("LOCAL_DYNAMO_URL")
	if url == "" {
		t.Skip("LOCAL_DYNAMO_URL not set")
	}
	ctx := context.Background()
	store := NewDynamoStore(session.Must(session.NewSession()), DynamoParams{
		RegionName:     "us-west-2",
		LocalDynamoURL: url,
		TableName:      "courier-test-" + uuid.NewString(),
	})
	require.NoError(t, store.CreateTable(ctx))

	book, engine := newTestBook(t, store)
	ep := newEndpoint(t, engine, "https://relay.example/inbox/1")
	_, err := book.Register(ctx, "google", "u-1", ep, "alice@example.com")
	require.NoError(t, err)

	got, found, err := book.LookupByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, got.Endpoint.Equal(ep))
}
