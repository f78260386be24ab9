package artifact

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// zstdLevel trades encode time for size. Level 12 shrinks transcript-heavy
// recaps to roughly a quarter of the raw JSON.
const zstdLevel = 12

// Encode marshals the artifact and compresses it for storage.
func Encode(a *Artifact) ([]byte, error) {
	raw, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal artifact %s: %w", a.JobID, err)
	}

	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(zstdLevel)))
	if err != nil {
		return nil, fmt.Errorf("create zstd writer: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return nil, fmt.Errorf("compress artifact %s: %w", a.JobID, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("flush artifact %s: %w", a.JobID, err)
	}

	return buf.Bytes(), nil
}

// Decode decompresses and unmarshals a stored artifact.
func Decode(data []byte) (*Artifact, error) {
	r, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	defer r.Close()

	var a Artifact
	if err := json.NewDecoder(r).Decode(&a); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	return &a, nil
}
