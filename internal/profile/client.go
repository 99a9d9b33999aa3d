// Package profile stores the durable per-user record in DynamoDB. The
// record is the single server-side source of truth for attribution linkage,
// tracking consent, and the first-login dispatch marker; it survives app
// reinstalls and crashes, which device-local state does not.
package profile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var (
	// ErrAttributionExists means the user already has linked attribution;
	// the linking step must not overwrite it (first-writer-wins).
	ErrAttributionExists = errors.New("attribution already linked to user")

	// ErrMarkerAlreadySet means firstAppLoginAt was already written by an
	// earlier dispatch. The marker is set-once and terminal.
	ErrMarkerAlreadySet = errors.New("first-login marker already set")
)

const recordSK = "PROFILE"

// Client provides DynamoDB operations for per-user profile records
type Client struct {
	dynamoDB  *dynamodb.Client
	tableName string
}

// NewClient creates a new profile DynamoDB client
func NewClient(ctx context.Context, tableName, region, profileName string) (*Client, error) {
	var cfg aws.Config
	var err error

	if profileName != "" {
		cfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(region),
			awsconfig.WithSharedConfigProfile(profileName),
		)
	} else {
		cfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &Client{
		dynamoDB:  dynamodb.NewFromConfig(cfg),
		tableName: tableName,
	}, nil
}

func userKey(userID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: "USER#" + userID},
		"SK": &types.AttributeValueMemberS{Value: recordSK},
	}
}

// Get retrieves the user record, or nil if the user has no record yet.
func (c *Client) Get(ctx context.Context, userID string) (*Record, error) {
	result, err := c.dynamoDB.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            userKey(userID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("getting user record from DynamoDB: %w", err)
	}
	if result.Item == nil {
		return nil, nil
	}

	var rec Record
	if err := attributevalue.UnmarshalMap(result.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshaling user record: %w", err)
	}
	return &rec, nil
}

// LinkAttribution writes the attribution sub-object onto the user record,
// but only if none exists yet. Returns ErrAttributionExists when a previous
// link already wrote attribution for this user.
func (c *Client) LinkAttribution(ctx context.Context, userID string, attr Attribution) error {
	av, err := attributevalue.Marshal(&attr)
	if err != nil {
		return fmt.Errorf("marshaling attribution: %w", err)
	}

	_, err = c.dynamoDB.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 userKey(userID),
		UpdateExpression:    aws.String("SET attribution = :attr, userId = :uid, updatedAt = :now"),
		ConditionExpression: aws.String("attribute_not_exists(attribution)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":attr": av,
			":uid":  &types.AttributeValueMemberS{Value: userID},
			":now":  &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrAttributionExists
		}
		return fmt.Errorf("linking attribution for user: %w", err)
	}
	return nil
}

// MarkFirstLogin sets firstAppLoginAt, failing with ErrMarkerAlreadySet if a
// previous dispatch already wrote it. The conditional write is what makes
// the marker terminal even across concurrent sessions.
func (c *Client) MarkFirstLogin(ctx context.Context, userID string, at time.Time) error {
	_, err := c.dynamoDB.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 userKey(userID),
		UpdateExpression:    aws.String("SET firstAppLoginAt = :at, userId = :uid, updatedAt = :now"),
		ConditionExpression: aws.String("attribute_not_exists(firstAppLoginAt)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":at":  &types.AttributeValueMemberS{Value: at.UTC().Format(time.RFC3339)},
			":uid": &types.AttributeValueMemberS{Value: userID},
			":now": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrMarkerAlreadySet
		}
		return fmt.Errorf("marking first login for user: %w", err)
	}
	return nil
}

// RecordConsent sets the current tracking permission status and appends one
// entry to the prompt history. History is append-only; status reflects the
// latest system answer.
func (c *Client) RecordConsent(ctx context.Context, userID string, status ConsentStatus, entry PromptEvent) error {
	entryAV, err := attributevalue.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("marshaling prompt event: %w", err)
	}

	_, err = c.dynamoDB.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(c.tableName),
		Key:       userKey(userID),
		UpdateExpression: aws.String(
			"SET trackingPermissionStatus = :status, " +
				"trackingPromptHistory = list_append(if_not_exists(trackingPromptHistory, :empty), :entry), " +
				"userId = :uid, updatedAt = :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: string(status)},
			":entry":  &types.AttributeValueMemberL{Value: []types.AttributeValue{entryAV}},
			":empty":  &types.AttributeValueMemberL{Value: []types.AttributeValue{}},
			":uid":    &types.AttributeValueMemberS{Value: userID},
			":now":    &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
		},
	})
	if err != nil {
		return fmt.Errorf("recording consent for user: %w", err)
	}
	return nil
}
