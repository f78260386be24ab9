package cli

import (
	"os"
	"os/exec"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// ValidateAndResolveFile checks that the path exists and is a regular file,
// then returns the absolute path. Exits fatally on failure.
func ValidateAndResolveFile(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Fatal().Str("path", path).Msg("Media file not found")
		}
		log.Fatal().Err(err).Str("path", path).Msg("Failed to access media file")
	}
	if info.IsDir() {
		log.Fatal().Str("path", path).Msg("Path is a directory, expected a media file")
	}

	absPath, err := filepath.Abs(path)
	if err == nil {
		path = absPath
	}

	return path
}

// RequireTools verifies that the named executables are on PATH.
// Exits fatally naming the first one missing.
func RequireTools(names ...string) {
	for _, name := range names {
		if _, err := exec.LookPath(name); err != nil {
			log.Fatal().Str("tool", name).Msg("Required tool not found on PATH")
		}
	}
}
