// Package main provides the pipeline Lambda entry point, the task body of
// one recap job.
//
// It receives the launch payload {jobId, objectKey, fingerprintKey}, either
// as a direct async invocation or as Step Functions execution input, stages
// the media object locally, fans the analysis phases out, synchronizes the
// timeline, generates the recap, and finalizes the job.
//
// The queued -> dispatched transition at the top is the execution gate: a
// duplicate or stale launch of the same job ID loses that conditional write
// and exits without side effects. Terminal state is written exactly once,
// by the finalizer.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"github.com/fpang/media-recap/internal/artifact"
	"github.com/fpang/media-recap/internal/events"
	"github.com/fpang/media-recap/internal/finalize"
	"github.com/fpang/media-recap/internal/frames"
	"github.com/fpang/media-recap/internal/gemini"
	"github.com/fpang/media-recap/internal/lambdaboot"
	"github.com/fpang/media-recap/internal/launch"
	"github.com/fpang/media-recap/internal/logging"
	"github.com/fpang/media-recap/internal/mediainfo"
	"github.com/fpang/media-recap/internal/metrics"
	"github.com/fpang/media-recap/internal/pipeline"
	"github.com/fpang/media-recap/internal/s3util"
	"github.com/fpang/media-recap/internal/scenedetect"
	"github.com/fpang/media-recap/internal/store"
	"github.com/fpang/media-recap/internal/summarize"
	"github.com/fpang/media-recap/internal/transcribe"
)

// Initialized at cold start.
var (
	s3Client    *s3.Client
	mediaBucket string
	recapStore  *store.DynamoStore
	emitter     *events.Emitter
	runner      *pipeline.Runner
	summarizer  *summarize.Engine
	finalizer   *finalize.Finalizer
)

func init() {
	initStart := time.Now()
	logging.Init()

	clients := lambdaboot.InitAWS()
	s3c := lambdaboot.InitS3(clients.Config, "MEDIA_BUCKET")
	s3Client = s3c.Client
	mediaBucket = s3c.Bucket

	// Recaps and frames land next to the uploads unless a separate results
	// bucket is configured.
	resultsBucket := logging.EnvOrDefault("RESULTS_BUCKET", mediaBucket)

	recapStore = lambdaboot.InitDynamo(clients.Config, "RECAP_TABLE")
	emitter = lambdaboot.InitEventBridge(clients.Config, "RECAP_EVENT_BUS")

	lambdaboot.LoadGeminiKey(clients.SSM)
	geminiClient, err := gemini.NewClient(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Gemini client")
	}

	sink := &frames.S3Sink{Client: s3Client, Bucket: resultsBucket}
	transcriptOptional := pipeline.TranscriptOptionalFromEnv()

	var opts []pipeline.Option
	if transcriptOptional {
		opts = append(opts, pipeline.WithOptionalTranscript())
	}
	runner = pipeline.NewRunner(
		transcribe.New(geminiClient),
		scenedetect.NewDetector(scenedetect.ThresholdFromEnv()),
		frames.NewSampler(sink),
		opts...,
	)

	summarizer = summarize.New(geminiClient, sink)
	finalizer = finalize.New(recapStore, recapStore, artifact.NewS3Store(s3Client, resultsBucket), emitter)

	lambdaboot.StartupLog("pipeline-lambda", initStart).
		S3Bucket("media", mediaBucket).
		S3Bucket("results", resultsBucket).
		DynamoTable("recap", os.Getenv("RECAP_TABLE")).
		EventBus("lifecycle", os.Getenv("RECAP_EVENT_BUS")).
		SSMParam("geminiApiKey", logging.EnvOrDefault("SSM_API_KEY_PARAM", "/media-recap/prod/gemini-api-key")).
		Feature("transcriptOptional", transcriptOptional).
		Config("model", gemini.GetModelName()).
		Log()
}

func handler(ctx context.Context, p launch.Params) error {
	start := time.Now()

	if p.JobID == "" || p.ObjectKey == "" || p.FingerprintKey == "" {
		return fmt.Errorf("invalid launch payload: jobId=%q objectKey=%q fingerprintKey=%q",
			p.JobID, p.ObjectKey, p.FingerprintKey)
	}

	log.Info().
		Str("jobId", p.JobID).
		Str("objectKey", p.ObjectKey).
		Msg("Pipeline execution started")

	// Execution gate: exactly one run of this job ID proceeds past queued.
	err := recapStore.TransitionJob(ctx, p.JobID, store.StatusQueued, store.StatusDispatched, "")
	if errors.Is(err, store.ErrStatusConflict) {
		log.Warn().Str("jobId", p.JobID).Msg("Job is not queued, duplicate or stale launch, exiting")
		return nil
	}
	if err != nil {
		// Storage fault before any state changed; safe for the platform to
		// retry this invocation.
		return fmt.Errorf("gate job %s: %w", p.JobID, err)
	}

	if err := emitter.JobDispatched(ctx, p.JobID, p.ObjectKey); err != nil {
		log.Warn().Err(err).Str("jobId", p.JobID).Msg("Dispatched event emission failed")
	}

	if err := execute(ctx, p); err != nil {
		log.Error().Err(err).Str("jobId", p.JobID).Msg("Pipeline execution failed")
		return err
	}

	metrics.ForOperation("Pipeline").
		Count("JobsSucceeded").
		Timing("ExecutionLatencyMs", start).
		Property("jobId", p.JobID).
		Flush()
	return nil
}

// execute runs the job body after the gate. Every failure is recorded
// through the finalizer before the cause is returned, so the job record is
// terminal even though the returned error also fails the platform execution.
func execute(ctx context.Context, p launch.Params) error {
	from := store.StatusDispatched
	fail := func(cause error) error {
		if ferr := finalizer.Fail(ctx, p.JobID, p.ObjectKey, from, cause); ferr != nil {
			log.Error().Err(ferr).Str("jobId", p.JobID).Msg("Recording job failure failed")
		}
		return cause
	}

	path, cleanup, err := s3util.DownloadToTempFile(ctx, s3Client, mediaBucket, p.ObjectKey)
	if err != nil {
		return fail(&pipeline.PhaseError{Phase: pipeline.PhaseProbe, Err: err})
	}
	defer cleanup()

	info, err := mediainfo.Probe(ctx, path)
	if err != nil {
		return fail(&pipeline.PhaseError{Phase: pipeline.PhaseProbe, Err: err})
	}

	media := pipeline.Media{
		JobID:      p.JobID,
		ObjectKey:  p.ObjectKey,
		Path:       path,
		DurationMs: info.DurationMs,
		HasVideo:   info.HasVideo,
		HasAudio:   info.HasAudio,
	}

	if err := recapStore.TransitionJob(ctx, p.JobID, store.StatusDispatched, store.StatusProcessing, ""); err != nil {
		return fail(fmt.Errorf("enter processing: %w", err))
	}
	from = store.StatusProcessing

	tl, err := runner.BuildTimeline(ctx, media)
	if err != nil {
		return fail(err)
	}

	rec, err := summarizer.Generate(ctx, media, tl.Windows)
	if err != nil {
		return fail(&pipeline.PhaseError{Phase: pipeline.PhaseSummarize, Err: err})
	}

	a := buildArtifact(p, media, tl, rec)
	if _, err := finalizer.Complete(ctx, p.FingerprintKey, a); err != nil {
		return fail(&pipeline.PhaseError{Phase: pipeline.PhaseFinalize, Err: err})
	}
	return nil
}

func buildArtifact(p launch.Params, media pipeline.Media, tl *pipeline.Timeline, rec *summarize.Recap) *artifact.Artifact {
	summaries := make([]artifact.WindowSummary, len(tl.Windows))
	for i, w := range tl.Windows {
		summaries[i] = artifact.WindowSummary{
			StartMs: w.StartMs,
			EndMs:   w.EndMs,
			Summary: rec.Windows[i],
		}
	}

	return &artifact.Artifact{
		JobID:      p.JobID,
		ObjectKey:  p.ObjectKey,
		DurationMs: media.DurationMs,
		CreatedAt:  time.Now().UnixMilli(),
		Model:      gemini.GetModelName(),
		Windows:    tl.Windows,
		Summaries:  summaries,
		Overall:    rec.Overall,
		Degraded: artifact.Degradation{
			SceneFallback:     tl.SceneFallback,
			TranscriptMissing: tl.TranscriptDegraded,
			FramesMissing:     tl.FramesDegraded,
		},
	}
}

func main() {
	lambda.Start(handler)
}
