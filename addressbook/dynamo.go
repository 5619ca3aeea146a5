package addressbook

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/client"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/pkg/errors"

	courier "github.com/courierproto/client-go"
)

const (
	// DynamoPartitionKey is the table's only key attribute.
	DynamoPartitionKey = "pk"

	aliasPrefix = "alias#"
)

// DynamoParams configures a DynamoStore.
type DynamoParams struct {
	RegionName string
	// LocalDynamoURL, if set, points the client at a local DynamoDB.
	LocalDynamoURL string
	TableName      string
}

// DynamoStore keeps entries and aliases in a single DynamoDB table keyed by
// DynamoPartitionKey: entries under "entry#<provider>#<user>" and aliases
// under "alias#<hash>".
type DynamoStore struct {
	client    dynamodbiface.DynamoDBAPI
	tableName string
}

// NewDynamoStore creates a DynamoStore from an AWS session.
func NewDynamoStore(c client.ConfigProvider, params DynamoParams) *DynamoStore {
	if params.RegionName == "" {
		params.RegionName = "us-east-1"
	}
	config := aws.Config{Region: aws.String(params.RegionName)}
	if params.LocalDynamoURL != "" {
		config.Endpoint = aws.String(params.LocalDynamoURL)
	}
	return NewDynamoStoreWithClient(dynamodb.New(c, &config), params.TableName)
}

// NewDynamoStoreWithClient creates a DynamoStore over an existing client.
func NewDynamoStoreWithClient(api dynamodbiface.DynamoDBAPI, tableName string) *DynamoStore {
	return &DynamoStore{client: api, tableName: tableName}
}

// CreateTable creates the table with on-demand billing. An existing table is
// not an error.
func (s *DynamoStore) CreateTable(ctx context.Context) error {
	_, err := s.client.CreateTableWithContext(ctx, &dynamodb.CreateTableInput{
		TableName:   aws.String(s.tableName),
		BillingMode: aws.String(dynamodb.BillingModePayPerRequest),
		AttributeDefinitions: []*dynamodb.AttributeDefinition{{
			AttributeName: aws.String(DynamoPartitionKey),
			AttributeType: aws.String(dynamodb.ScalarAttributeTypeS),
		}},
		KeySchema: []*dynamodb.KeySchemaElement{{
			AttributeName: aws.String(DynamoPartitionKey),
			KeyType:       aws.String(dynamodb.KeyTypeHash),
		}},
	})
	if awsCode(err) == dynamodb.ErrCodeResourceInUseException {
		return nil
	}
	return errors.Wrapf(err, "create table %s", s.tableName)
}

type entryItem struct {
	PK            string    `dynamodbav:"pk"`
	ID            string    `dynamodbav:"id"`
	ProviderID    string    `dynamodbav:"provider"`
	UserID        string    `dynamodbav:"user"`
	EmailHashes   []string  `dynamodbav:"emailHashes,stringset,omitempty"`
	SigningKey    []byte    `dynamodbav:"signingKey"`
	EncryptionKey []byte    `dynamodbav:"encryptionKey"`
	InboxURL      string    `dynamodbav:"inbox,omitempty"`
	CreatedAt     time.Time `dynamodbav:"createdAt"`
}

type aliasItem struct {
	PK    string `dynamodbav:"pk"`
	Entry string `dynamodbav:"entry"`
}

func (s *DynamoStore) key(pk string) map[string]*dynamodb.AttributeValue {
	return map[string]*dynamodb.AttributeValue{
		DynamoPartitionKey: {S: aws.String(pk)},
	}
}

func (s *DynamoStore) get(ctx context.Context, pk string, v interface{}) error {
	out, err := s.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.key(pk),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return errors.Wrapf(err, "get %s", pk)
	}
	if out.Item == nil {
		return ErrNoItem
	}
	return errors.Wrapf(dynamodbattribute.UnmarshalMap(out.Item, v), "decode %s", pk)
}

func (s *DynamoStore) GetEntry(ctx context.Context, key string) (*Entry, error) {
	var item entryItem
	if err := s.get(ctx, key, &item); err != nil {
		return nil, err
	}
	return &Entry{
		ID:          item.ID,
		ProviderID:  item.ProviderID,
		UserID:      item.UserID,
		EmailHashes: item.EmailHashes,
		Endpoint: courier.Endpoint{
			SigningKey:    item.SigningKey,
			EncryptionKey: item.EncryptionKey,
			InboxURL:      item.InboxURL,
		},
		CreatedAt: item.CreatedAt,
	}, nil
}

func (s *DynamoStore) GetAlias(ctx context.Context, hash string) (string, error) {
	var item aliasItem
	if err := s.get(ctx, aliasPrefix+hash, &item); err != nil {
		return "", err
	}
	return item.Entry, nil
}

func (s *DynamoStore) PutEntry(ctx context.Context, e *Entry) error {
	item, err := dynamodbattribute.MarshalMap(entryItem{
		PK:            e.Key(),
		ID:            e.ID,
		ProviderID:    e.ProviderID,
		UserID:        e.UserID,
		EmailHashes:   e.EmailHashes,
		SigningKey:    e.Endpoint.SigningKey,
		EncryptionKey: e.Endpoint.EncryptionKey,
		InboxURL:      e.Endpoint.InboxURL,
		CreatedAt:     e.CreatedAt,
	})
	if err != nil {
		return errors.Wrap(err, "encode entry")
	}

	_, err = s.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(s.tableName),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#pk)"),
		ExpressionAttributeNames: map[string]*string{"#pk": aws.String(DynamoPartitionKey)},
	})
	if awsCode(err) == dynamodb.ErrCodeConditionalCheckFailedException {
		return ErrConflict
	}
	return errors.Wrapf(err, "put %s", e.Key())
}

func (s *DynamoStore) PutAlias(ctx context.Context, hash, entryKey string) error {
	item, err := dynamodbattribute.MarshalMap(aliasItem{PK: aliasPrefix + hash, Entry: entryKey})
	if err != nil {
		return errors.Wrap(err, "encode alias")
	}

	_, err = s.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(#pk) OR #entry = :entry"),
		ExpressionAttributeNames: map[string]*string{
			"#pk":    aws.String(DynamoPartitionKey),
			"#entry": aws.String("entry"),
		},
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":entry": {S: aws.String(entryKey)},
		},
	})
	if awsCode(err) == dynamodb.ErrCodeConditionalCheckFailedException {
		return ErrConflict
	}
	return errors.Wrapf(err, "put alias %s", hash)
}

func (s *DynamoStore) AddEmailHash(ctx context.Context, key, hash string) error {
	_, err := s.client.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(s.tableName),
		Key:                      s.key(key),
		UpdateExpression:         aws.String("ADD #hashes :hash"),
		ConditionExpression:      aws.String("attribute_exists(#pk)"),
		ExpressionAttributeNames: map[string]*string{"#pk": aws.String(DynamoPartitionKey), "#hashes": aws.String("emailHashes")},
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":hash": {SS: []*string{aws.String(hash)}},
		},
	})
	if awsCode(err) == dynamodb.ErrCodeConditionalCheckFailedException {
		return ErrNoItem
	}
	return errors.Wrapf(err, "add alias to %s", key)
}

func awsCode(err error) string {
	if awsErr, ok := err.(awserr.Error); ok {
		return awsErr.Code()
	}
	return ""
}
