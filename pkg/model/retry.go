package model

import (
	"math/rand"
	"time"
)

// modelNetworkRetryCap is the maximum number of retry attempts for a
// ModelNetworkError-class failure (the initial attempt plus this many
// retries): base 1s, factor 2, full jitter, cap 3 attempts.
const modelNetworkRetryCap = 3

// backoffDelay computes the retry delay for the given 1-indexed attempt
// number using exponential backoff with full jitter: base 1s, factor 2,
// capped at modelNetworkRetryCap attempts.
func backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := time.Second * time.Duration(1<<uint(attempt-1))
	return time.Duration(rand.Int63n(int64(base) + 1))
}
