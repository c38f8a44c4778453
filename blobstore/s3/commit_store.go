package s3

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/hupe1980/dictgo/blobstore"
)

// CurrentName is the virtual blob holding the basename of the most recently
// committed dictionary. It never lives in S3; reads and writes of it go
// through the DynamoDB commit log instead.
const CurrentName = "CURRENT"

// ErrConcurrentCommit is returned when another trainer won the conditional
// write race for the next version.
var ErrConcurrentCommit = errors.New("concurrent dictionary commit detected")

// DDBClient is the subset of the DynamoDB API the commit store uses.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// CommitStore layers a DynamoDB commit log over a blob store. Dictionary
// artifacts go to the underlying store; the CURRENT pointer is committed
// with a conditional write so concurrent trainers cannot clobber each other.
//
// Table schema: partition key base_uri (S), sort key version (N).
type CommitStore struct {
	blobs     blobstore.Store
	ddb       DDBClient
	tableName string
	baseURI   string
}

// NewCommitStore wraps blobs with a commit log in tableName. baseURI is the
// partition key shared by one dictionary directory, e.g. "s3://bucket/dicts".
func NewCommitStore(blobs blobstore.Store, ddb DDBClient, tableName, baseURI string) *CommitStore {
	return &CommitStore{blobs: blobs, ddb: ddb, tableName: tableName, baseURI: baseURI}
}

// Put stores a blob; CURRENT goes through the commit log.
func (s *CommitStore) Put(ctx context.Context, name string, data []byte) error {
	if name == CurrentName {
		return s.commit(ctx, string(data))
	}
	return s.blobs.Put(ctx, name, data)
}

// Open reads a blob; CURRENT resolves to the latest committed basename.
func (s *CommitStore) Open(ctx context.Context, name string) ([]byte, error) {
	if name != CurrentName {
		return s.blobs.Open(ctx, name)
	}
	version, basename, err := s.latest(ctx)
	if err != nil {
		return nil, err
	}
	if version == 0 {
		return nil, blobstore.ErrNotFound
	}
	return []byte(basename), nil
}

// Delete removes a blob from the underlying store. The commit log is append
// only; CURRENT cannot be deleted.
func (s *CommitStore) Delete(ctx context.Context, name string) error {
	if name == CurrentName {
		return fmt.Errorf("delete %s: commit log is append-only", CurrentName)
	}
	return s.blobs.Delete(ctx, name)
}

// List lists blobs of the underlying store.
func (s *CommitStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.blobs.List(ctx, prefix)
}

// latest queries the newest committed (version, basename) pair; version 0
// means no commit yet.
func (s *CommitStore) latest(ctx context.Context) (uint64, string, error) {
	resp, err := s.ddb.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("base_uri = :uri"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uri": &types.AttributeValueMemberS{Value: s.baseURI},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, "", fmt.Errorf("query commit log: %w", err)
	}
	if len(resp.Items) == 0 {
		return 0, "", nil
	}

	item := resp.Items[0]
	versionAttr, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, "", errors.New("commit log: malformed version attribute")
	}
	baseAttr, ok := item["basename"].(*types.AttributeValueMemberS)
	if !ok {
		return 0, "", errors.New("commit log: malformed basename attribute")
	}
	version, err := strconv.ParseUint(versionAttr.Value, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("commit log: parse version: %w", err)
	}
	return version, baseAttr.Value, nil
}

// commit appends the next version with a conditional write.
func (s *CommitStore) commit(ctx context.Context, basename string) error {
	current, _, err := s.latest(ctx)
	if err != nil {
		return err
	}

	_, err = s.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"base_uri": &types.AttributeValueMemberS{Value: s.baseURI},
			"version":  &types.AttributeValueMemberN{Value: strconv.FormatUint(current+1, 10)},
			"basename": &types.AttributeValueMemberS{Value: basename},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var cond *types.ConditionalCheckFailedException
		if errors.As(err, &cond) {
			return ErrConcurrentCommit
		}
		return fmt.Errorf("commit version %d: %w", current+1, err)
	}
	return nil
}
