// Package main provides the dispatch Lambda entry point.
//
// It consumes upload notifications off the ingest SQS queue and turns each
// into at most one recap job: claim the fingerprint, create the job record,
// launch the pipeline execution. Redeliveries and duplicate uploads resolve
// through the claim and are acknowledged without side effects.
//
// The pipeline execution target is chosen at cold start:
// RECAP_STATE_MACHINE_ARN selects Step Functions, otherwise
// PIPELINE_FUNCTION_ARN selects direct async Lambda invocation.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	lambdasvc "github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/rs/zerolog/log"

	"github.com/fpang/media-recap/internal/dispatch"
	"github.com/fpang/media-recap/internal/ingest"
	"github.com/fpang/media-recap/internal/lambdaboot"
	"github.com/fpang/media-recap/internal/launch"
	"github.com/fpang/media-recap/internal/logging"
)

var dispatcher *dispatch.Dispatcher

func init() {
	initStart := time.Now()
	logging.Init()

	clients := lambdaboot.InitAWS()
	recapStore := lambdaboot.InitDynamo(clients.Config, "RECAP_TABLE")

	stateMachineArn := os.Getenv("RECAP_STATE_MACHINE_ARN")
	pipelineFunctionArn := os.Getenv("PIPELINE_FUNCTION_ARN")

	var launcher launch.Launcher
	switch {
	case stateMachineArn != "":
		launcher = launch.NewStepFunctionsLauncher(sfn.NewFromConfig(clients.Config), stateMachineArn)
	case pipelineFunctionArn != "":
		launcher = launch.NewLambdaLauncher(lambdasvc.NewFromConfig(clients.Config), pipelineFunctionArn)
	default:
		log.Fatal().Msg("Neither RECAP_STATE_MACHINE_ARN nor PIPELINE_FUNCTION_ARN is set")
	}

	dispatcher = dispatch.New(recapStore, recapStore, launcher)

	startup := lambdaboot.StartupLog("dispatch-lambda", initStart).
		DynamoTable("recap", os.Getenv("RECAP_TABLE"))
	if stateMachineArn != "" {
		startup.StateMachine("pipeline", stateMachineArn)
	} else {
		startup.LambdaFunc("pipeline", pipelineFunctionArn)
	}
	startup.Log()
}

func handler(ctx context.Context, sqsEvent events.SQSEvent) error {
	if len(sqsEvent.Records) == 0 {
		log.Info().Msg("No SQS records to process")
		return nil
	}

	var failed int
	for _, record := range sqsEvent.Records {
		if err := processRecord(ctx, record); err != nil {
			log.Error().Err(err).Str("messageId", record.MessageId).Msg("Failed to process notification")
			failed++
		}
	}

	// Any failure redelivers the whole batch. Safe: records that already
	// dispatched resolve to skipped through the claim on redelivery.
	if failed > 0 {
		return fmt.Errorf("%d of %d records failed", failed, len(sqsEvent.Records))
	}
	return nil
}

func processRecord(ctx context.Context, record events.SQSMessage) error {
	notifications, err := ingest.ParseMessage(record.Body)
	if err != nil {
		// A body that does not parse will not parse on redelivery either.
		// Acknowledge it so it cannot poison the queue.
		log.Error().Err(err).Str("messageId", record.MessageId).Msg("Dropping unparseable queue message")
		return nil
	}

	for _, n := range notifications {
		outcome, err := dispatcher.Handle(ctx, n)
		if err != nil {
			return fmt.Errorf("dispatch %s: %w", n.FingerprintKey(), err)
		}
		log.Info().
			Str("objectKey", n.ObjectKey).
			Str("outcome", string(outcome)).
			Msg("Notification handled")
	}
	return nil
}

func main() {
	lambda.Start(handler)
}
