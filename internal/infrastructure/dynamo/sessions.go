package dynamo

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-flashcall-auth/internal/domain"
)

// API is the subset of *dynamodb.Client used by SessionStore.
type API interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	dynamodb.ScanAPIClient
}

// SessionStore keeps verification sessions in a single DynamoDB table.
// PK: session_id. Every write is conditional so concurrent verifiers race on
// the item itself rather than on a read-then-write.
type SessionStore struct {
	client    API
	tableName string
	ttl       time.Duration
}

func NewSessionStore(client API, tableName string, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, tableName: tableName, ttl: ttl}
}

func (s *SessionStore) Put(ctx context.Context, sess *domain.VerificationSession) error {
	item, err := attributevalue.MarshalMap(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	item[attrCreatedAt] = numValue(sess.CreatedAt.UnixNano())
	item[attrExpiresAt] = numValue(sess.ExpiresAt(s.ttl).Unix())

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(s.tableName),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#k)"),
		ExpressionAttributeNames: map[string]string{"#k": attrSessionID},
	})
	if isConditionFailed(err) {
		return fmt.Errorf("session %s already exists: %w", sess.SessionID, domain.ErrConflict)
	}
	return err
}

func (s *SessionStore) Get(ctx context.Context, sessionID string) (*domain.VerificationSession, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            strKey(attrSessionID, sessionID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("session not found: %w", domain.ErrNotFound)
	}
	return unmarshalSession(out.Item)
}

// TakeIfValid deletes the item and inspects the old image. Only the caller
// whose DeleteItem actually removed the item receives attributes back.
func (s *SessionStore) TakeIfValid(ctx context.Context, sessionID string, now time.Time) (*domain.VerificationSession, error) {
	out, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(s.tableName),
		Key:          strKey(attrSessionID, sessionID),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return nil, err
	}
	if len(out.Attributes) == 0 {
		return nil, fmt.Errorf("session not found: %w", domain.ErrNotFound)
	}
	sess, err := unmarshalSession(out.Attributes)
	if err != nil {
		return nil, err
	}
	if sess.IsExpired(now, s.ttl) {
		return nil, fmt.Errorf("session %s expired: %w", sessionID, domain.ErrExpired)
	}
	return sess, nil
}

func (s *SessionStore) RecordFailedAttempt(ctx context.Context, sessionID string, maxAttempts int) (int, error) {
	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 strKey(attrSessionID, sessionID),
		UpdateExpression:    aws.String("ADD #a :one"),
		ConditionExpression: aws.String("attribute_exists(#k)"),
		ExpressionAttributeNames: map[string]string{
			"#a": attrAttempts,
			"#k": attrSessionID,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{":one": numValue(1)},
		ReturnValues:              types.ReturnValueUpdatedNew,
	})
	if isConditionFailed(err) {
		return 0, fmt.Errorf("session not found: %w", domain.ErrNotFound)
	}
	if err != nil {
		return 0, err
	}

	var attempts int
	if err := attributevalue.Unmarshal(out.Attributes[attrAttempts], &attempts); err != nil {
		return 0, fmt.Errorf("decode attempts: %w", err)
	}
	if maxAttempts > 0 && attempts >= maxAttempts {
		if err := s.Delete(ctx, sessionID); err != nil {
			return attempts, err
		}
		return attempts, fmt.Errorf("session %s: %w", sessionID, domain.ErrAttemptsExceeded)
	}
	return attempts, nil
}

func (s *SessionStore) Delete(ctx context.Context, sessionID string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       strKey(attrSessionID, sessionID),
	})
	return err
}

// SweepExpired scans for sessions created strictly before now-ttl and
// re-checks each one with IsExpired before a conditional delete. Items
// consumed by a verifier in the meantime are skipped.
func (s *SessionStore) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-s.ttl).UnixNano()
	p := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:            aws.String(s.tableName),
		FilterExpression:     aws.String("#c < :cutoff"),
		ProjectionExpression: aws.String("#k, #c"),
		ExpressionAttributeNames: map[string]string{
			"#k": attrSessionID,
			"#c": attrCreatedAt,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{":cutoff": numValue(cutoff)},
		ConsistentRead:            aws.Bool(true),
	})

	removed := 0
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return removed, fmt.Errorf("scan sessions: %w", err)
		}
		for _, item := range page.Items {
			sess, err := unmarshalSession(item)
			if err != nil {
				return removed, err
			}
			if !sess.IsExpired(now, s.ttl) {
				continue
			}
			_, err = s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
				TableName:                aws.String(s.tableName),
				Key:                      strKey(attrSessionID, sess.SessionID),
				ConditionExpression:      aws.String("attribute_exists(#k)"),
				ExpressionAttributeNames: map[string]string{"#k": attrSessionID},
			})
			if isConditionFailed(err) {
				continue
			}
			if err != nil {
				return removed, fmt.Errorf("delete session %s: %w", sess.SessionID, err)
			}
			removed++
		}
	}
	return removed, nil
}

// unmarshalSession decodes an item; created_at is Unix nanoseconds.
func unmarshalSession(item map[string]types.AttributeValue) (*domain.VerificationSession, error) {
	var sess domain.VerificationSession
	if err := attributevalue.UnmarshalMap(item, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	var createdAt int64
	if err := attributevalue.Unmarshal(item[attrCreatedAt], &createdAt); err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	sess.CreatedAt = time.Unix(0, createdAt).UTC()
	return &sess, nil
}
