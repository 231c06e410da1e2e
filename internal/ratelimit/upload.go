package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/dashvault/internal/config"
)

const keyUploadDriver = "dashvault:upload:driver:%s"

// UploadLimiter caps how fast one driver can open upload sessions, which
// each cost a provider call.
type UploadLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewUploadLimiter(cfg config.Config, bucket *TokenBucket) *UploadLimiter {
	return &UploadLimiter{
		bucket: bucket,
		rate:   cfg.RateLimit.UploadDriverRate,
		burst:  cfg.RateLimit.UploadDriverBurst,
	}
}

func (l *UploadLimiter) Enabled() bool {
	return l != nil && l.bucket.Enabled() && l.rate > 0 && l.burst > 0
}

// AllowDriver reports whether the driver may start another upload and, if
// not, how long to wait.
func (l *UploadLimiter) AllowDriver(ctx context.Context, driverID string) (bool, time.Duration, error) {
	if !l.Enabled() {
		return true, 0, nil
	}
	res, err := l.bucket.Allow(ctx, fmt.Sprintf(keyUploadDriver, strings.TrimSpace(driverID)), l.rate, l.burst)
	if err != nil {
		return false, 0, err
	}
	return res.Allowed, res.RetryAfter, nil
}
