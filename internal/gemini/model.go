package gemini

import "os"

// Gemini model IDs.
//
// | Model Name                | API Model ID           | Use Case                      |
// |---------------------------|------------------------|-------------------------------|
// | Gemini 3 Flash (Preview)  | gemini-3-flash-preview | Best for speed + intelligence |
// | Gemini 2.5 Pro            | gemini-2.5-pro         | Stable, high-reasoning tasks  |
// | Gemini 2.5 Flash          | gemini-2.5-flash       | Stable, balanced performance  |
// | Gemini 2.5 Flash-Lite     | gemini-2.5-flash-lite  | High-throughput, lowest cost  |
const (
	// ModelGemini3FlashPreview is best for speed + intelligence.
	ModelGemini3FlashPreview = "gemini-3-flash-preview"

	// ModelGemini25Pro is stable, for high-reasoning tasks.
	ModelGemini25Pro = "gemini-2.5-pro"

	// ModelGemini25Flash is stable, balanced performance.
	ModelGemini25Flash = "gemini-2.5-flash"

	// ModelGemini25FlashLite is for high-throughput, lowest cost.
	ModelGemini25FlashLite = "gemini-2.5-flash-lite"
)

// DefaultModelName is the model both analysis phases use unless overridden
// via the GEMINI_MODEL environment variable. Flash handles hour-long audio
// with diarization and is an order of magnitude cheaper than Pro per job.
const DefaultModelName = ModelGemini3FlashPreview

// GetModelName resolves the model to use: GEMINI_MODEL when set, otherwise
// DefaultModelName.
func GetModelName() string {
	if env := os.Getenv("GEMINI_MODEL"); env != "" {
		return env
	}
	return DefaultModelName
}
