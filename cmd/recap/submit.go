package main

import (
	"context"
	"fmt"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	lambdasvc "github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/media-recap/internal/dispatch"
	"github.com/fpang/media-recap/internal/ingest"
	"github.com/fpang/media-recap/internal/launch"
	"github.com/fpang/media-recap/internal/logging"
	"github.com/fpang/media-recap/internal/s3util"
	"github.com/fpang/media-recap/internal/store"
)

// CLI flags for submit.
var (
	submitBucketFlag       string
	submitKeyFlag          string
	submitTableFlag        string
	submitStateMachineFlag string
	submitFunctionFlag     string
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Claim and dispatch one uploaded object against the live stack",
	Long: `Submit fingerprints an uploaded S3 object from its ETag and walks the same
claim/dispatch path the queue consumer does. Submitting the same object twice
is a no-op: the second submission resolves to skipped through the claim.`,
	Run: runSubmit,
}

func init() {
	submitCmd.Flags().StringVarP(&submitBucketFlag, "bucket", "b", os.Getenv("MEDIA_BUCKET"), "Media bucket (defaults to MEDIA_BUCKET)")
	submitCmd.Flags().StringVarP(&submitKeyFlag, "key", "k", "", "Object key of the uploaded media")
	submitCmd.Flags().StringVar(&submitTableFlag, "table", os.Getenv("RECAP_TABLE"), "Recap DynamoDB table (defaults to RECAP_TABLE)")
	submitCmd.Flags().StringVar(&submitStateMachineFlag, "state-machine-arn", os.Getenv("RECAP_STATE_MACHINE_ARN"), "Pipeline state machine ARN (defaults to RECAP_STATE_MACHINE_ARN)")
	submitCmd.Flags().StringVar(&submitFunctionFlag, "function-arn", os.Getenv("PIPELINE_FUNCTION_ARN"), "Pipeline Lambda ARN (defaults to PIPELINE_FUNCTION_ARN)")
	rootCmd.AddCommand(submitCmd)
}

func runSubmit(cmd *cobra.Command, args []string) {
	logging.Init()

	if submitBucketFlag == "" || submitKeyFlag == "" {
		log.Fatal().Msg("--bucket and --key are required (bucket also via MEDIA_BUCKET)")
	}
	if submitTableFlag == "" {
		log.Fatal().Msg("--table is required (also via RECAP_TABLE)")
	}

	ctx := context.Background()
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}

	s3Client := s3.NewFromConfig(cfg)
	etag, err := s3util.HeadETag(ctx, s3Client, submitBucketFlag, submitKeyFlag)
	if err != nil {
		log.Fatal().Err(err).Str("key", submitKeyFlag).Msg("Failed to fingerprint object")
	}

	recapStore := store.NewDynamoStore(dynamodb.NewFromConfig(cfg), submitTableFlag)

	var launcher launch.Launcher
	switch {
	case submitStateMachineFlag != "":
		launcher = launch.NewStepFunctionsLauncher(sfn.NewFromConfig(cfg), submitStateMachineFlag)
	case submitFunctionFlag != "":
		launcher = launch.NewLambdaLauncher(lambdasvc.NewFromConfig(cfg), submitFunctionFlag)
	default:
		log.Fatal().Msg("--state-machine-arn or --function-arn is required")
	}

	n := ingest.UploadNotification{
		ObjectKey:          submitKeyFlag,
		ContentFingerprint: etag,
		ArrivalTimeMs:      time.Now().UnixMilli(),
	}

	submissionID := uuid.NewString()
	log.Info().
		Str("submissionId", submissionID).
		Str("fingerprintKey", n.FingerprintKey()).
		Msg("Submitting upload notification")

	d := dispatch.New(recapStore, recapStore, launcher)
	outcome, err := d.Handle(ctx, n)
	if err != nil {
		log.Fatal().Err(err).Msg("Dispatch failed")
	}

	claim, err := recapStore.GetClaim(ctx, n.FingerprintKey())
	if err != nil {
		log.Fatal().Err(err).Msg("Claim readback failed")
	}
	if claim == nil {
		log.Fatal().Str("fingerprintKey", n.FingerprintKey()).Msg("No claim recorded for submission")
	}

	fmt.Println()
	fmt.Println("============================================")
	fmt.Println("Submission")
	fmt.Println("============================================")
	fmt.Printf("Submission:  %s\n", submissionID)
	fmt.Printf("Object:      s3://%s/%s\n", submitBucketFlag, submitKeyFlag)
	fmt.Printf("Fingerprint: %s\n", etag)
	fmt.Printf("Outcome:     %s\n", outcome)
	fmt.Printf("Job:         %s\n", claim.JobID)
	if claim.State == store.ClaimProcessed {
		fmt.Printf("Result:      %s\n", claim.ResultKey)
	}
	fmt.Println()
	fmt.Printf("Track it with: recap status %s\n", claim.JobID)
}
