package jobs

import (
	"strings"
)

// ParseJobRoute extracts the job ID and optional sub-resource from a URL path
// like /jobs/{id} or /jobs/{id}/history. Returns ok=false if the path does not
// start with apiPrefix or carries no job ID. apiPrefix should be like "/jobs/".
func ParseJobRoute(path, apiPrefix string) (jobID, sub string, ok bool) {
	rest, found := strings.CutPrefix(path, apiPrefix)
	if !found || rest == "" {
		return "", "", false
	}

	parts := strings.SplitN(strings.TrimSuffix(rest, "/"), "/", 2)
	if parts[0] == "" {
		return "", "", false
	}

	jobID = parts[0]
	if len(parts) == 2 {
		sub = parts[1]
	}
	return jobID, sub, true
}
