package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"
)

// DynamoDB key constants for the single-table design.
const (
	pkClaim = "CLAIM#"
	pkJob   = "JOB#"
	skMeta  = "META"
	skHist  = "HIST#"
)

// DynamoStore implements ClaimStore and JobStore using AWS DynamoDB.
// Conditional writes carry the exactly-once semantics; everything else is
// plain key-value access.
type DynamoStore struct {
	client    *dynamodb.Client
	tableName string
}

// Compile-time interface checks.
var (
	_ ClaimStore = (*DynamoStore)(nil)
	_ JobStore   = (*DynamoStore)(nil)
)

// NewDynamoStore creates a DynamoStore for the given table.
// The client should be initialized from the shared AWS config.
func NewDynamoStore(client *dynamodb.Client, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
	}
}

// --- Internal helpers ---

func claimPK(fingerprintKey string) string {
	return pkClaim + fingerprintKey
}

func jobPK(jobID string) string {
	return pkJob + jobID
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}

// isConditionalCheckFailed reports whether err is DynamoDB telling us the
// ConditionExpression did not hold.
func isConditionalCheckFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// putItem marshals a domain object and writes it to DynamoDB under PK/SK.
// The domain object should use dynamodbav:"-" for fields derived from PK/SK.
// A non-empty condition becomes the PutItem ConditionExpression.
func (s *DynamoStore) putItem(ctx context.Context, pk, sk, condition string, data interface{}) error {
	item, err := attributevalue.MarshalMap(data)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	item["PK"] = &types.AttributeValueMemberS{Value: pk}
	item["SK"] = &types.AttributeValueMemberS{Value: sk}

	input := &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	}
	if condition != "" {
		input.ConditionExpression = aws.String(condition)
	}

	if _, err := s.client.PutItem(ctx, input); err != nil {
		return fmt.Errorf("PutItem PK=%s SK=%s: %w", pk, sk, err)
	}
	return nil
}

// getItem reads a single item from DynamoDB and unmarshals it into out.
// Returns false if the item does not exist (out is not modified).
func (s *DynamoStore) getItem(ctx context.Context, pk, sk string, out interface{}) (bool, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: sk},
		},
	})
	if err != nil {
		return false, fmt.Errorf("GetItem PK=%s SK=%s: %w", pk, sk, err)
	}
	if result.Item == nil {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(result.Item, out); err != nil {
		return false, fmt.Errorf("unmarshal PK=%s SK=%s: %w", pk, sk, err)
	}
	return true, nil
}

// --- Claim operations ---

func (s *DynamoStore) InsertClaim(ctx context.Context, claim *Claim) error {
	if claim.ClaimedAt == 0 {
		claim.ClaimedAt = nowMs()
	}
	if claim.State == "" {
		claim.State = ClaimClaimed
	}

	err := s.putItem(ctx, claimPK(claim.FingerprintKey), skMeta, "attribute_not_exists(PK)", claim)
	if err != nil {
		if isConditionalCheckFailed(err) {
			return ErrClaimExists
		}
		return fmt.Errorf("insert claim %s: %w", claim.FingerprintKey, err)
	}

	log.Debug().
		Str("fingerprintKey", claim.FingerprintKey).
		Str("jobId", claim.JobID).
		Msg("Claim inserted")
	return nil
}

func (s *DynamoStore) GetClaim(ctx context.Context, fingerprintKey string) (*Claim, error) {
	var claim Claim
	found, err := s.getItem(ctx, claimPK(fingerprintKey), skMeta, &claim)
	if err != nil {
		return nil, fmt.Errorf("get claim %s: %w", fingerprintKey, err)
	}
	if !found {
		return nil, nil
	}

	claim.FingerprintKey = fingerprintKey
	return &claim, nil
}

func (s *DynamoStore) MarkProcessed(ctx context.Context, fingerprintKey, resultKey string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: claimPK(fingerprintKey)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		UpdateExpression: aws.String("SET #st = :processed, resultKey = :rk, processedAt = :at"),
		ExpressionAttributeNames: map[string]string{
			"#st": "state", // "state" is a DynamoDB reserved word
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":processed": &types.AttributeValueMemberS{Value: string(ClaimProcessed)},
			":rk":        &types.AttributeValueMemberS{Value: resultKey},
			":at":        &types.AttributeValueMemberN{Value: strconv.FormatInt(nowMs(), 10)},
		},
	})
	if err != nil {
		return fmt.Errorf("mark claim %s processed: %w", fingerprintKey, err)
	}

	log.Debug().
		Str("fingerprintKey", fingerprintKey).
		Str("resultKey", resultKey).
		Msg("Claim marked processed")
	return nil
}

func (s *DynamoStore) TakeOverClaim(ctx context.Context, fingerprintKey, previousJobID, newJobID string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: claimPK(fingerprintKey)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		ConditionExpression: aws.String("#st = :claimed AND jobId = :prev"),
		UpdateExpression:    aws.String("SET jobId = :new, claimedAt = :at"),
		ExpressionAttributeNames: map[string]string{
			"#st": "state",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":claimed": &types.AttributeValueMemberS{Value: string(ClaimClaimed)},
			":prev":    &types.AttributeValueMemberS{Value: previousJobID},
			":new":     &types.AttributeValueMemberS{Value: newJobID},
			":at":      &types.AttributeValueMemberN{Value: strconv.FormatInt(nowMs(), 10)},
		},
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return ErrClaimConflict
		}
		return fmt.Errorf("take over claim %s (%s -> %s): %w", fingerprintKey, previousJobID, newJobID, err)
	}

	log.Info().
		Str("fingerprintKey", fingerprintKey).
		Str("previousJobId", previousJobID).
		Str("jobId", newJobID).
		Msg("Claim taken over for retry")
	return nil
}

// --- Job operations ---

func (s *DynamoStore) CreateJob(ctx context.Context, job *Job) error {
	now := nowMs()
	if job.CreatedAt == 0 {
		job.CreatedAt = now
	}
	if job.UpdatedAt == 0 {
		job.UpdatedAt = now
	}
	if job.Status == "" {
		job.Status = StatusQueued
	}

	err := s.putItem(ctx, jobPK(job.ID), skMeta, "attribute_not_exists(PK)", job)
	if err != nil {
		if isConditionalCheckFailed(err) {
			return ErrJobExists
		}
		return fmt.Errorf("create job %s: %w", job.ID, err)
	}

	log.Debug().
		Str("jobId", job.ID).
		Str("objectKey", job.ObjectKey).
		Str("status", string(job.Status)).
		Msg("Job created")
	return nil
}

func (s *DynamoStore) GetJob(ctx context.Context, jobID string) (*Job, error) {
	var job Job
	found, err := s.getItem(ctx, jobPK(jobID), skMeta, &job)
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	if !found {
		return nil, nil
	}

	job.ID = jobID
	return &job, nil
}

func (s *DynamoStore) TransitionJob(ctx context.Context, jobID string, from, to JobStatus, errMsg string) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("illegal job transition %s -> %s for %s", from, to, jobID)
	}

	now := nowMs()
	update := "SET #st = :to, updatedAt = :at"
	values := map[string]types.AttributeValue{
		":from": &types.AttributeValueMemberS{Value: string(from)},
		":to":   &types.AttributeValueMemberS{Value: string(to)},
		":at":   &types.AttributeValueMemberN{Value: strconv.FormatInt(now, 10)},
	}
	names := map[string]string{
		"#st": "status", // "status" is a DynamoDB reserved word
	}
	if errMsg != "" {
		update += ", #err = :err"
		names["#err"] = "error"
		values[":err"] = &types.AttributeValueMemberS{Value: errMsg}
	}

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: jobPK(jobID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		ConditionExpression:       aws.String("#st = :from"),
		UpdateExpression:          aws.String(update),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return ErrStatusConflict
		}
		return fmt.Errorf("transition job %s (%s -> %s): %w", jobID, from, to, err)
	}

	log.Debug().
		Str("jobId", jobID).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("Job transitioned")

	// History is observability; the conditional META update above is the
	// correctness anchor. A failed append is logged, not propagated.
	if err := s.appendHistory(ctx, jobID, HistoryEntry{From: from, To: to, Error: errMsg, At: now}); err != nil {
		log.Warn().Err(err).Str("jobId", jobID).Msg("Failed to append job history")
	}
	return nil
}

func (s *DynamoStore) SetJobResult(ctx context.Context, jobID, resultKey string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: jobPK(jobID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		UpdateExpression: aws.String("SET resultKey = :rk, updatedAt = :at"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":rk": &types.AttributeValueMemberS{Value: resultKey},
			":at": &types.AttributeValueMemberN{Value: strconv.FormatInt(nowMs(), 10)},
		},
	})
	if err != nil {
		return fmt.Errorf("set job %s result: %w", jobID, err)
	}
	return nil
}

// appendHistory writes the next HIST# entry for a job. Transitions are
// single-writer per job, so a count-based sequence cannot race.
func (s *DynamoStore) appendHistory(ctx context.Context, jobID string, entry HistoryEntry) error {
	count, err := s.historyCount(ctx, jobID)
	if err != nil {
		return err
	}

	sk := fmt.Sprintf("%s%08d", skHist, count+1)
	if err := s.putItem(ctx, jobPK(jobID), sk, "", &entry); err != nil {
		return fmt.Errorf("append history %s/%s: %w", jobID, sk, err)
	}
	return nil
}

// historyCount returns the number of HIST# entries for a job using SELECT COUNT.
func (s *DynamoStore) historyCount(ctx context.Context, jobID string) (int, error) {
	result, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :skPrefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":       &types.AttributeValueMemberS{Value: jobPK(jobID)},
			":skPrefix": &types.AttributeValueMemberS{Value: skHist},
		},
		Select: types.SelectCount,
	})
	if err != nil {
		return 0, fmt.Errorf("Query history count for %s: %w", jobID, err)
	}
	return int(result.Count), nil
}

func (s *DynamoStore) GetJobHistory(ctx context.Context, jobID string) ([]HistoryEntry, error) {
	pk := jobPK(jobID)

	input := &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :skPrefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":       &types.AttributeValueMemberS{Value: pk},
			":skPrefix": &types.AttributeValueMemberS{Value: skHist},
		},
	}

	var allItems []map[string]types.AttributeValue

	// Handle pagination — DynamoDB returns up to 1MB per Query call.
	for {
		result, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("Query history PK=%s: %w", pk, err)
		}
		allItems = append(allItems, result.Items...)

		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}

	entries := make([]HistoryEntry, 0, len(allItems))
	for _, item := range allItems {
		var entry HistoryEntry
		if err := attributevalue.UnmarshalMap(item, &entry); err != nil {
			log.Warn().Err(err).Str("jobId", jobID).Msg("Failed to unmarshal history entry, skipping")
			continue
		}

		// Extract seq from SK: "HIST#00000003" -> 3
		if skAttr, ok := item["SK"].(*types.AttributeValueMemberS); ok {
			if seq, err := strconv.Atoi(strings.TrimPrefix(skAttr.Value, skHist)); err == nil {
				entry.Seq = seq
			}
		}

		entries = append(entries, entry)
	}

	return entries, nil
}
