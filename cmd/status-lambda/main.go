// Package main provides the status Lambda entry point, the read-only job
// status API served through the HTTP API gateway.
//
//	GET /jobs/{jobId}
//	GET /jobs/{jobId}/history
//
// This Lambda reads DynamoDB and presigns S3 GETs; it never writes.
package main

import (
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"

	"github.com/fpang/media-recap/internal/lambdaboot"
	"github.com/fpang/media-recap/internal/logging"
	"github.com/fpang/media-recap/internal/status"
)

var statusHandler *status.Handler

func init() {
	initStart := time.Now()
	logging.Init()

	clients := lambdaboot.InitAWS()
	s3c := lambdaboot.InitS3(clients.Config, "MEDIA_BUCKET")
	resultsBucket := logging.EnvOrDefault("RESULTS_BUCKET", s3c.Bucket)
	recapStore := lambdaboot.InitDynamo(clients.Config, "RECAP_TABLE")

	statusHandler = status.NewHandler(recapStore, s3c.Presigner, resultsBucket)

	lambdaboot.StartupLog("status-lambda", initStart).
		S3Bucket("results", resultsBucket).
		DynamoTable("recap", os.Getenv("RECAP_TABLE")).
		Log()
}

func main() {
	mux := http.NewServeMux()
	mux.Handle(status.APIPrefix, statusHandler)

	adapter := httpadapter.NewV2(mux)
	lambda.Start(adapter.ProxyWithContext)
}
