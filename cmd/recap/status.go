package main

import (
	"context"
	"fmt"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/media-recap/internal/cli"
	"github.com/fpang/media-recap/internal/logging"
	"github.com/fpang/media-recap/internal/store"
)

var statusTableFlag string

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show a job's record and transition history",
	Args:  cobra.ExactArgs(1),
	Run:   runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusTableFlag, "table", os.Getenv("RECAP_TABLE"), "Recap DynamoDB table (defaults to RECAP_TABLE)")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	logging.Init()
	jobID := args[0]

	if statusTableFlag == "" {
		log.Fatal().Msg("--table is required (also via RECAP_TABLE)")
	}

	ctx := context.Background()
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	recapStore := store.NewDynamoStore(dynamodb.NewFromConfig(cfg), statusTableFlag)

	job, err := recapStore.GetJob(ctx, jobID)
	if err != nil {
		log.Fatal().Err(err).Str("jobId", jobID).Msg("Job lookup failed")
	}
	if job == nil {
		log.Fatal().Str("jobId", jobID).Msg("Unknown job")
	}

	history, err := recapStore.GetJobHistory(ctx, jobID)
	if err != nil {
		log.Fatal().Err(err).Str("jobId", jobID).Msg("History lookup failed")
	}

	printJobRecord(job)
	printHistoryEntries(history)
}

func printJobRecord(job *store.Job) {
	fmt.Println()
	fmt.Println("============================================")
	fmt.Println("Job")
	fmt.Println("============================================")
	fmt.Printf("Job:         %s\n", job.ID)
	fmt.Printf("Object:      %s\n", job.ObjectKey)
	fmt.Printf("Fingerprint: %s\n", job.FingerprintKey)
	fmt.Printf("Status:      %s\n", job.Status)
	if job.Error != "" {
		fmt.Printf("Error:       %s\n", job.Error)
	}
	if job.ResultKey != "" {
		fmt.Printf("Result:      %s\n", job.ResultKey)
	}
	fmt.Printf("Created:     %s\n", cli.FormatMillis(job.CreatedAt))
	fmt.Printf("Updated:     %s\n", cli.FormatMillis(job.UpdatedAt))
}

func printHistoryEntries(history []store.HistoryEntry) {
	if len(history) == 0 {
		return
	}
	fmt.Println()
	fmt.Println("History:")
	for _, e := range history {
		line := fmt.Sprintf("  %-11s -> %-11s %s", e.From, e.To, cli.FormatMillis(e.At))
		if e.Error != "" {
			line += "  (" + e.Error + ")"
		}
		fmt.Println(line)
	}
}
