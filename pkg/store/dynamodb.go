package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/unitsync/unitsync/pkg/metrics"
)

// DynamoDBOptions configures the destination table and the write retry
// budget.
type DynamoDBOptions struct {
	Table string
	// SoftDelete marks records with a deletedAt timestamp instead of
	// removing them.
	SoftDelete     bool
	MaxAttempts    int           // per write, defaults to 4
	AttemptTimeout time.Duration // per attempt, defaults to 2s
}

// DynamoDB writes destination records with conditional semantics tied to
// the stored sequence token: a write whose token is not newer than the
// stored one fails its condition and is treated as a no-op success, so
// out-of-order redelivery cannot revert a later state.
type DynamoDB struct {
	client dynamodbiface.DynamoDBAPI
	opts   DynamoDBOptions
	logger *zap.Logger
	now    func() time.Time
}

func NewDynamoDB(client dynamodbiface.DynamoDBAPI, opts DynamoDBOptions, logger *zap.Logger) *DynamoDB {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 4
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DynamoDB{
		client: client,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

func (s *DynamoDB) Upsert(ctx context.Context, rec *Record) error {
	item, err := dynamodbattribute.MarshalMap(rec.Attributes)
	if err != nil {
		return fmt.Errorf("marshal destination record %s: %w", rec.Key, err)
	}
	if item == nil {
		item = map[string]*dynamodb.AttributeValue{}
	}
	item[rec.KeyAttribute] = &dynamodb.AttributeValue{S: aws.String(rec.Key)}
	item[UpdatedAtAttribute] = &dynamodb.AttributeValue{S: aws.String(s.timestamp())}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(s.opts.Table),
		Item:      item,
	}
	if rec.SequenceToken != "" {
		seq := PadSequenceToken(rec.SequenceToken)
		item[SeqAttribute] = &dynamodb.AttributeValue{S: aws.String(seq)}
		input.ConditionExpression = aws.String("attribute_not_exists(#seq) OR #seq < :seq")
		input.ExpressionAttributeNames = map[string]*string{"#seq": aws.String(SeqAttribute)}
		input.ExpressionAttributeValues = map[string]*dynamodb.AttributeValue{
			":seq": {S: aws.String(seq)},
		}
	}

	return s.write(ctx, rec, "upsert", func(actx aws.Context) error {
		_, err := s.client.PutItemWithContext(actx, input)
		return err
	})
}

func (s *DynamoDB) Delete(ctx context.Context, rec *Record) error {
	if s.opts.SoftDelete {
		return s.softDelete(ctx, rec)
	}

	input := &dynamodb.DeleteItemInput{
		TableName: aws.String(s.opts.Table),
		Key: map[string]*dynamodb.AttributeValue{
			rec.KeyAttribute: {S: aws.String(rec.Key)},
		},
	}
	if rec.SequenceToken != "" {
		input.ConditionExpression = aws.String("attribute_not_exists(#seq) OR #seq < :seq")
		input.ExpressionAttributeNames = map[string]*string{"#seq": aws.String(SeqAttribute)}
		input.ExpressionAttributeValues = map[string]*dynamodb.AttributeValue{
			":seq": {S: aws.String(PadSequenceToken(rec.SequenceToken))},
		}
	}

	return s.write(ctx, rec, "delete", func(actx aws.Context) error {
		_, err := s.client.DeleteItemWithContext(actx, input)
		return err
	})
}

// softDelete stamps deletedAt instead of removing the item. The
// attribute_exists guard keeps a delete for a never-projected key from
// creating a tombstone.
func (s *DynamoDB) softDelete(ctx context.Context, rec *Record) error {
	input := &dynamodb.UpdateItemInput{
		TableName: aws.String(s.opts.Table),
		Key: map[string]*dynamodb.AttributeValue{
			rec.KeyAttribute: {S: aws.String(rec.Key)},
		},
		UpdateExpression:    aws.String("SET #del = :ts"),
		ConditionExpression: aws.String("attribute_exists(#pk)"),
		ExpressionAttributeNames: map[string]*string{
			"#del": aws.String(DeletedAtAttribute),
			"#pk":  aws.String(rec.KeyAttribute),
		},
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":ts": {S: aws.String(s.timestamp())},
		},
	}
	if rec.SequenceToken != "" {
		seq := PadSequenceToken(rec.SequenceToken)
		input.UpdateExpression = aws.String("SET #del = :ts, #seq = :seq")
		input.ConditionExpression = aws.String("attribute_exists(#pk) AND (attribute_not_exists(#seq) OR #seq < :seq)")
		input.ExpressionAttributeNames["#seq"] = aws.String(SeqAttribute)
		input.ExpressionAttributeValues[":seq"] = &dynamodb.AttributeValue{S: aws.String(seq)}
	}

	return s.write(ctx, rec, "soft-delete", func(actx aws.Context) error {
		_, err := s.client.UpdateItemWithContext(actx, input)
		return err
	})
}

// write runs one destination call with bounded exponential backoff.
// Conditional check failures are stale-token no-ops, not errors.
func (s *DynamoDB) write(ctx context.Context, rec *Record, op string, attempt func(aws.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = 0

	for i := 1; ; i++ {
		actx, cancel := context.WithTimeout(ctx, s.opts.AttemptTimeout)
		err := attempt(actx)
		cancel()

		if err == nil {
			return nil
		}
		if isStaleToken(err) {
			s.logger.Debug("stale sequence token, write skipped",
				zap.String("op", op),
				zap.String("key", rec.Key))
			return nil
		}
		if !isTransient(ctx, err) || i >= s.opts.MaxAttempts {
			return fmt.Errorf("%w: %s %s: %s (attempts=%d)", ErrWriteFailed, op, rec.Key, err, i)
		}

		metrics.WriteRetries.Inc()
		s.logger.Warn("transient destination error, retrying",
			zap.String("op", op),
			zap.String("key", rec.Key),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s %s: %s", ErrWriteFailed, op, rec.Key, ctx.Err())
		case <-time.After(bo.NextBackOff()):
		}
	}
}

func (s *DynamoDB) timestamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

func isStaleToken(err error) bool {
	var aerr awserr.Error
	return errors.As(err, &aerr) && aerr.Code() == dynamodb.ErrCodeConditionalCheckFailedException
}

func isTransient(ctx context.Context, err error) bool {
	// Attempt timeouts are transient as long as the overall call isn't done.
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return true
	}
	var aerr awserr.Error
	if !errors.As(err, &aerr) {
		return false
	}
	switch aerr.Code() {
	case dynamodb.ErrCodeProvisionedThroughputExceededException,
		dynamodb.ErrCodeInternalServerError,
		dynamodb.ErrCodeRequestLimitExceeded,
		"ThrottlingException",
		"ServiceUnavailable":
		return true
	}
	return false
}
