package gemini

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/media-recap/internal/metrics"
)

const (
	uploadPollInterval = 5 * time.Second
	uploadTimeout      = 10 * time.Minute
)

// UploadFile pushes a local file to the Gemini Files API and waits until it
// is ready for inference. Callers must delete the returned file with
// DeleteFile when done; uploaded files otherwise linger for 48 hours
// against the project quota.
func UploadFile(ctx context.Context, client *genai.Client, path, mimeType string) (*genai.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	log.Debug().
		Str("path", path).
		Int64("sizeBytes", info.Size()).
		Str("mimeType", mimeType).
		Msg("Starting Gemini Files API upload")

	uploadStart := time.Now()
	file, err := client.Files.Upload(ctx, f, &genai.UploadFileConfig{
		MIMEType: mimeType,
	})
	if err != nil {
		return nil, fmt.Errorf("upload file: %w", err)
	}

	deadline := time.Now().Add(uploadTimeout)
	polls := 0
	for file.State == genai.FileStateProcessing {
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timeout waiting for file processing after %v", uploadTimeout)
		}
		polls++
		log.Debug().
			Str("file", file.Name).
			Str("state", string(file.State)).
			Int("poll", polls).
			Msg("Uploaded file still processing")
		time.Sleep(uploadPollInterval)

		file, err = client.Files.Get(ctx, file.Name, nil)
		if err != nil {
			return nil, fmt.Errorf("get file state: %w", err)
		}
	}
	if file.State == genai.FileStateFailed {
		return nil, fmt.Errorf("file processing failed for %s", file.Name)
	}

	elapsed := time.Since(uploadStart)
	log.Info().
		Str("file", file.Name).
		Str("state", string(file.State)).
		Dur("elapsed", elapsed).
		Int("polls", polls).
		Msg("File ready for inference")

	metrics.ForOperation("FilesApiUpload").
		Metric("GeminiFilesApiUploadMs", float64(elapsed.Milliseconds()), metrics.UnitMilliseconds).
		Metric("GeminiFilesApiUploadBytes", float64(info.Size()), metrics.UnitBytes).
		Count("GeminiApiCalls").
		Flush()

	return file, nil
}

// DeleteFile removes an uploaded file, logging instead of failing; leaked
// uploads expire on their own.
func DeleteFile(ctx context.Context, client *genai.Client, file *genai.File) {
	if file == nil {
		return
	}
	if _, err := client.Files.Delete(ctx, file.Name, nil); err != nil {
		log.Warn().Err(err).Str("file", file.Name).Msg("Failed to delete uploaded Gemini file")
		return
	}
	log.Debug().Str("file", file.Name).Msg("Uploaded Gemini file deleted")
}
