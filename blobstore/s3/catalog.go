package s3

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ErrConcurrentPublish is returned when another publisher committed the
// same pack version first.
var ErrConcurrentPublish = errors.New("s3: concurrent publish detected")

// ErrPackUnknown is returned when a pack has no published version.
var ErrPackUnknown = errors.New("s3: pack has no published version")

// DDBClient is the subset of the DynamoDB API the catalog needs.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Catalog maps pack names to their current archive object key using a
// DynamoDB table. S3 has no compare-and-swap, so version pointers live in
// DynamoDB where conditional writes give publishers atomic commits.
//
// Table schema:
//   - Partition key: pack_name (string)
//   - Sort key: version (number), monotonically increasing
//
// Create with:
//
//	aws dynamodb create-table \
//	  --table-name assetline-packs \
//	  --attribute-definitions AttributeName=pack_name,AttributeType=S AttributeName=version,AttributeType=N \
//	  --key-schema AttributeName=pack_name,KeyType=HASH AttributeName=version,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type Catalog struct {
	client    DDBClient
	tableName string
}

// NewCatalog creates a pack catalog over the given table.
func NewCatalog(client DDBClient, tableName string) *Catalog {
	return &Catalog{client: client, tableName: tableName}
}

// Current returns the latest published version and object key for a pack.
func (c *Catalog) Current(ctx context.Context, packName string) (uint64, string, error) {
	resp, err := c.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("pack_name = :n"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":n": &types.AttributeValueMemberS{Value: packName},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, "", fmt.Errorf("query catalog: %w", err)
	}
	if len(resp.Items) == 0 {
		return 0, "", ErrPackUnknown
	}

	item := resp.Items[0]
	versionAttr, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, "", errors.New("s3: malformed version attribute")
	}
	keyAttr, ok := item["object_key"].(*types.AttributeValueMemberS)
	if !ok {
		return 0, "", errors.New("s3: malformed object_key attribute")
	}

	version, err := strconv.ParseUint(versionAttr.Value, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("parse version: %w", err)
	}
	return version, keyAttr.Value, nil
}

// Publish commits objectKey as the next version of packName. The
// conditional write fails with ErrConcurrentPublish if another publisher
// claimed the version first; callers retry with a fresh Current.
func (c *Catalog) Publish(ctx context.Context, packName, objectKey string) (uint64, error) {
	current, _, err := c.Current(ctx, packName)
	if err != nil && !errors.Is(err, ErrPackUnknown) {
		return 0, err
	}
	next := current + 1

	_, err = c.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			"pack_name":  &types.AttributeValueMemberS{Value: packName},
			"version":    &types.AttributeValueMemberN{Value: strconv.FormatUint(next, 10)},
			"object_key": &types.AttributeValueMemberS{Value: objectKey},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var cond *types.ConditionalCheckFailedException
		if errors.As(err, &cond) {
			return 0, ErrConcurrentPublish
		}
		return 0, fmt.Errorf("commit version: %w", err)
	}
	return next, nil
}
