// Package launch starts one isolated pipeline execution per claimed job.
// Launching is fire-and-forget: a nil error means the execution was accepted
// by the platform, not that the job ran. Exactly-once execution is not
// promised here; it is guaranteed upstream by the fingerprint claim.
package launch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	lambdasvc "github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	sfntypes "github.com/aws/aws-sdk-go-v2/service/sfn/types"
	"github.com/rs/zerolog/log"
)

// Params carries what a pipeline execution needs to run one job.
type Params struct {
	JobID          string `json:"jobId"`
	ObjectKey      string `json:"objectKey"`
	FingerprintKey string `json:"fingerprintKey"`
}

// Launcher starts one execution unit for a job.
type Launcher interface {
	Launch(ctx context.Context, p Params) error
}

// --- Lambda launcher ---

// LambdaLauncher invokes the pipeline Lambda asynchronously.
// InvocationType=Event returns as soon as the platform accepts the payload,
// so the dispatcher never waits on pipeline work.
type LambdaLauncher struct {
	client      *lambdasvc.Client
	functionArn string
}

var _ Launcher = (*LambdaLauncher)(nil)

// NewLambdaLauncher creates a launcher targeting the given function ARN.
func NewLambdaLauncher(client *lambdasvc.Client, functionArn string) *LambdaLauncher {
	return &LambdaLauncher{client: client, functionArn: functionArn}
}

func (l *LambdaLauncher) Launch(ctx context.Context, p Params) error {
	if l.client == nil || l.functionArn == "" {
		log.Warn().Msg("Pipeline Lambda client not configured")
		return fmt.Errorf("pipeline lambda not configured")
	}

	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal launch params: %w", err)
	}

	log.Debug().Int("payloadSize", len(payload)).Str("jobId", p.JobID).Msg("Invoking pipeline Lambda asynchronously")

	_, err = l.client.Invoke(ctx, &lambdasvc.InvokeInput{
		FunctionName:   aws.String(l.functionArn),
		InvocationType: lambdatypes.InvocationTypeEvent, // async — returns 202 immediately
		Payload:        payload,
	})
	if err != nil {
		return fmt.Errorf("invoke pipeline lambda for %s: %w", p.JobID, err)
	}

	log.Debug().
		Str("jobId", p.JobID).
		Str("objectKey", p.ObjectKey).
		Msg("Pipeline Lambda invoked asynchronously")
	return nil
}

// --- Step Functions launcher ---

// StepFunctionsLauncher starts a pipeline state machine execution per job.
// The execution name is the job ID, so relaunching a job whose earlier
// launch succeeded but went unacknowledged cannot double-run it: Step
// Functions rejects duplicate names and we treat that as success.
type StepFunctionsLauncher struct {
	client          *sfn.Client
	stateMachineArn string
}

var _ Launcher = (*StepFunctionsLauncher)(nil)

// NewStepFunctionsLauncher creates a launcher targeting the given state machine.
func NewStepFunctionsLauncher(client *sfn.Client, stateMachineArn string) *StepFunctionsLauncher {
	return &StepFunctionsLauncher{client: client, stateMachineArn: stateMachineArn}
}

func (l *StepFunctionsLauncher) Launch(ctx context.Context, p Params) error {
	if l.client == nil || l.stateMachineArn == "" {
		log.Warn().Msg("Pipeline state machine not configured")
		return fmt.Errorf("pipeline state machine not configured")
	}

	input, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal launch params: %w", err)
	}

	_, err = l.client.StartExecution(ctx, &sfn.StartExecutionInput{
		StateMachineArn: aws.String(l.stateMachineArn),
		Input:           aws.String(string(input)),
		Name:            aws.String(p.JobID),
	})
	if err != nil {
		var exists *sfntypes.ExecutionAlreadyExists
		if errors.As(err, &exists) {
			log.Info().Str("jobId", p.JobID).Msg("Pipeline execution already running, treating launch as delivered")
			return nil
		}
		return fmt.Errorf("start pipeline execution for %s: %w", p.JobID, err)
	}

	log.Debug().
		Str("jobId", p.JobID).
		Str("objectKey", p.ObjectKey).
		Msg("Pipeline execution started")
	return nil
}
