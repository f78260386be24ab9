package cli

import (
	"context"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/media-recap/internal/gemini"
)

// InitGeminiClient creates a Gemini client from the environment.
// Returns the context and client ready for use, or exits fatally on failure.
func InitGeminiClient() (context.Context, *genai.Client) {
	ctx := context.Background()
	client, err := gemini.NewClient(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Gemini client")
	}
	return ctx, client
}
