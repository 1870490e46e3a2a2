package cache

import (
	"fmt"

	"github.com/google/uuid"
)

const keyPrefix = "fleetsignal"

func JobStatusKey(jobID uuid.UUID) string {
	return fmt.Sprintf("%s:job:%s", keyPrefix, jobID)
}

func RateLimitKey(apiKeyPrefix string) string {
	return fmt.Sprintf("%s:ratelimit:%s", keyPrefix, apiKeyPrefix)
}

// PreviewKey addresses a cached synchronous preview by job type and
// dedupe hash of its normalized parameters.
func PreviewKey(jobType, paramsHash string) string {
	return fmt.Sprintf("%s:preview:%s:%s", keyPrefix, jobType, paramsHash)
}
