package types

import (
	"errors"
	"fmt"
)

var (
	ErrConfigNotFound       = errors.New("config not found")
	ErrConfigInvalidPath    = errors.New("config invalid path")
	ErrConfigParseFailed    = errors.New("config parse failed")
	ErrConfigIsNil          = errors.New("config is nil")
	ErrConfigLoadFailed     = errors.New("config load failed")
	ErrConfigValidateFailed = errors.New("config validate failed")
)

var (
	ErrServerNotRunning     = errors.New("server not running")
	ErrServerAlreadyRunning = errors.New("server already running")
	ErrServerStartFailed    = errors.New("server start failed")
	ErrServerStopFailed     = errors.New("server stop failed")
)

var (
	ErrCacheKeyEmpty          = errors.New("cache key empty")
	ErrEntityTypeEmpty        = errors.New("entity type empty")
	ErrCacheOperationFailed   = errors.New("cache operation failed")
	ErrNoCachedData           = errors.New("no cached data")
	ErrCompressionFailed      = errors.New("compression failed")
	ErrInvalidPattern         = errors.New("invalid invalidation pattern")
	ErrPersistentStoreFailed  = errors.New("persistent store failed")
	ErrPersistentStoreUnknown = errors.New("persistent store type unknown")
	ErrCodecAlgorithmUnknown  = errors.New("codec algorithm unknown")
	ErrCacheManagerClosed     = errors.New("cache manager closed")
)

var (
	ErrPolicySourceUnavailable = errors.New("policy source unavailable")
	ErrPolicySourceUnknown     = errors.New("policy source type unknown")
	ErrPolicyInvalid           = errors.New("policy invalid")
)

var (
	ErrCronJobExists         = errors.New("cron job exists")
	ErrCronExpressionInvalid = errors.New("cron expression invalid")
	ErrCronJobFailed         = errors.New("cron job failed")
	ErrCronJobNameIsEmpty    = errors.New("cron job name is empty")
	ErrCronJobIsNil          = errors.New("cron job is nil")
	ErrCronSchedulerStopped  = errors.New("cron scheduler stopped")
	ErrCronJobNotFound       = errors.New("cron job not found")
)

var (
	ErrMetricsIsDisabled = errors.New("metrics manager is disabled")
	ErrMetricConflict    = errors.New("metric registered with different shape")
)

var (
	ErrLogFileIsEmpty     = errors.New("log file is empty")
	ErrLogFileWrongFormat = errors.New("log file wrong format")
	ErrLoggerTypeUnknown  = errors.New("logger type unknown")
	ErrLoggerConfigNil    = errors.New("logger config is nil")
)

var (
	ErrServiceIsNotRunning = errors.New("service is not running")
	ErrInvalidParameter    = errors.New("invalid parameter")
)

func Errorf(baseErr error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", baseErr, fmt.Sprintf(format, args...))
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func NewErrorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

func IsError(err, target error) bool {
	return errors.Is(err, target)
}
