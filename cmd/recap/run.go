package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/media-recap/internal/artifact"
	"github.com/fpang/media-recap/internal/cli"
	"github.com/fpang/media-recap/internal/dispatch"
	"github.com/fpang/media-recap/internal/finalize"
	"github.com/fpang/media-recap/internal/frames"
	"github.com/fpang/media-recap/internal/gemini"
	"github.com/fpang/media-recap/internal/ingest"
	"github.com/fpang/media-recap/internal/launch"
	"github.com/fpang/media-recap/internal/logging"
	"github.com/fpang/media-recap/internal/mediainfo"
	"github.com/fpang/media-recap/internal/pipeline"
	"github.com/fpang/media-recap/internal/scenedetect"
	"github.com/fpang/media-recap/internal/store"
	"github.com/fpang/media-recap/internal/summarize"
	"github.com/fpang/media-recap/internal/transcribe"
)

// CLI flags for run.
var (
	runOutFlag                string
	runModelFlag              string
	runTranscriptOptionalFlag bool
)

var runCmd = &cobra.Command{
	Use:   "run <media-file>",
	Short: "Run the full pipeline locally against in-memory stores",
	Long: `Run executes the complete pipeline on a local media file: claim, job record,
probe, transcription, scene detection, frame sampling, synchronization,
summarization, and finalization. State lives in in-memory stores; the recap
artifact and sampled frames are written under the output directory.

Requires ffmpeg and ffprobe on PATH, and GEMINI_API_KEY.`,
	Args: cobra.ExactArgs(1),
	Run:  runLocal,
}

func init() {
	runCmd.Flags().StringVarP(&runOutFlag, "out", "o", "recap-out", "Output directory for the artifact and frames")
	runCmd.Flags().StringVarP(&runModelFlag, "model", "m", "", "Gemini model override (defaults to GEMINI_MODEL or "+gemini.DefaultModelName+")")
	runCmd.Flags().BoolVar(&runTranscriptOptionalFlag, "transcript-optional", false, "Degrade instead of fail when transcription fails")
	rootCmd.AddCommand(runCmd)
}

// captureLauncher records the launch parameters instead of starting a remote
// execution; the CLI then runs the task body itself.
type captureLauncher struct {
	params *launch.Params
}

func (l *captureLauncher) Launch(_ context.Context, p launch.Params) error {
	*l.params = p
	return nil
}

func runLocal(cmd *cobra.Command, args []string) {
	logging.Init()

	path := cli.ValidateAndResolveFile(args[0])
	cli.RequireTools("ffprobe", "ffmpeg")
	if runModelFlag != "" {
		// The engines resolve their model from the environment.
		os.Setenv("GEMINI_MODEL", runModelFlag)
	}

	ctx, client := cli.InitGeminiClient()

	fingerprint, err := fileFingerprint(path)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to fingerprint media file")
	}

	// The same dispatch path production takes, on in-memory stores.
	mem := store.NewMemoryStore()
	var params launch.Params
	d := dispatch.New(mem, mem, &captureLauncher{params: &params})

	outcome, err := d.Handle(ctx, ingest.UploadNotification{
		ObjectKey:          filepath.Base(path),
		ContentFingerprint: fingerprint,
		ArrivalTimeMs:      time.Now().UnixMilli(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Dispatch failed")
	}
	if outcome != dispatch.OutcomeDispatched {
		log.Fatal().Str("outcome", string(outcome)).Msg("Dispatch did not launch a job")
	}

	if err := mem.TransitionJob(ctx, params.JobID, store.StatusQueued, store.StatusDispatched, ""); err != nil {
		log.Fatal().Err(err).Msg("Job execution gate failed")
	}

	sink := &frames.DirSink{Root: runOutFlag}
	artifacts := &artifact.DirStore{Root: runOutFlag}
	finalizer := finalize.New(mem, mem, artifacts, nil)

	var opts []pipeline.Option
	if runTranscriptOptionalFlag {
		opts = append(opts, pipeline.WithOptionalTranscript())
	}
	runner := pipeline.NewRunner(
		transcribe.New(client),
		scenedetect.NewDetector(scenedetect.ThresholdFromEnv()),
		frames.NewSampler(sink),
		opts...,
	)
	summarizer := summarize.New(client, sink)

	failAndExit := func(from store.JobStatus, cause error) {
		if ferr := finalizer.Fail(ctx, params.JobID, params.ObjectKey, from, cause); ferr != nil {
			log.Error().Err(ferr).Msg("Recording job failure failed")
		}
		if history, herr := mem.GetJobHistory(ctx, params.JobID); herr == nil {
			printHistoryEntries(history)
		}
		log.Fatal().Err(cause).Str("jobId", params.JobID).Msg("Pipeline failed")
	}

	info, err := mediainfo.Probe(ctx, path)
	if err != nil {
		failAndExit(store.StatusDispatched, &pipeline.PhaseError{Phase: pipeline.PhaseProbe, Err: err})
	}
	media := pipeline.Media{
		JobID:      params.JobID,
		ObjectKey:  params.ObjectKey,
		Path:       path,
		DurationMs: info.DurationMs,
		HasVideo:   info.HasVideo,
		HasAudio:   info.HasAudio,
	}

	if err := mem.TransitionJob(ctx, params.JobID, store.StatusDispatched, store.StatusProcessing, ""); err != nil {
		failAndExit(store.StatusDispatched, fmt.Errorf("enter processing: %w", err))
	}

	tl, err := runner.BuildTimeline(ctx, media)
	if err != nil {
		failAndExit(store.StatusProcessing, err)
	}

	rec, err := summarizer.Generate(ctx, media, tl.Windows)
	if err != nil {
		failAndExit(store.StatusProcessing, &pipeline.PhaseError{Phase: pipeline.PhaseSummarize, Err: err})
	}

	summaries := make([]artifact.WindowSummary, len(tl.Windows))
	for i, w := range tl.Windows {
		summaries[i] = artifact.WindowSummary{StartMs: w.StartMs, EndMs: w.EndMs, Summary: rec.Windows[i]}
	}
	a := &artifact.Artifact{
		JobID:      params.JobID,
		ObjectKey:  params.ObjectKey,
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

	resultKey, err := finalizer.Complete(ctx, params.FingerprintKey, a)
	if err != nil {
		failAndExit(store.StatusProcessing, &pipeline.PhaseError{Phase: pipeline.PhaseFinalize, Err: err})
	}

	printRecap(a, filepath.Join(runOutFlag, filepath.FromSlash(resultKey)))

	if job, err := mem.GetJob(ctx, params.JobID); err == nil && job != nil {
		printJobRecord(job)
	}
	if history, err := mem.GetJobHistory(ctx, params.JobID); err == nil {
		printHistoryEntries(history)
	}
}

func printRecap(a *artifact.Artifact, artifactPath string) {
	fmt.Println()
	fmt.Println("============================================")
	fmt.Println("Recap")
	fmt.Println("============================================")
	fmt.Printf("Media:    %s\n", a.ObjectKey)
	fmt.Printf("Duration: %s\n", cli.FormatDurationShort(time.Duration(a.DurationMs)*time.Millisecond))
	fmt.Printf("Model:    %s\n", a.Model)
	fmt.Printf("Windows:  %d\n", len(a.Windows))
	if a.Degraded.Any() {
		fmt.Printf("Degraded: sceneFallback=%t transcriptMissing=%t framesMissing=%t\n",
			a.Degraded.SceneFallback, a.Degraded.TranscriptMissing, a.Degraded.FramesMissing)
	}
	fmt.Printf("Artifact: %s\n", artifactPath)

	for _, s := range a.Summaries {
		fmt.Println()
		fmt.Printf("[%s - %s]\n", cli.FormatStamp(s.StartMs), cli.FormatStamp(s.EndMs))
		fmt.Printf("  %s\n", s.Summary)
	}

	fmt.Println()
	fmt.Println("Overall:")
	fmt.Printf("  %s\n", a.Overall)
}

func fileFingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
