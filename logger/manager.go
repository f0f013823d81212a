package logger

import (
	"context"
	"errors"
	"sync/atomic"
	"syscall"

	"github.com/saiset-co/sai-cache/types"
)

// Manager owns the process logger. Start and Stop only gate it; Stop flushes
// buffered entries.
type Manager struct {
	types.Logger
	running atomic.Bool
}

// NewManager builds the logger selected by logger.type: "default" is zap,
// "nop" discards everything.
func NewManager(_ context.Context, config types.ConfigManager) (types.LoggerManager, error) {
	loggerConfig := config.GetConfig().Logger
	if loggerConfig == nil {
		return nil, types.ErrLoggerConfigNil
	}

	var (
		logger types.Logger
		err    error
	)

	switch loggerConfig.Type {
	case "", "default":
		logger, err = NewDefaultLogger(loggerConfig)
	case "nop":
		logger = NewNop()
	default:
		return nil, types.Errorf(types.ErrLoggerTypeUnknown, "logger type: %s", loggerConfig.Type)
	}

	if err != nil {
		return nil, types.WrapError(err, "failed to create logger")
	}

	return &Manager{Logger: logger}, nil
}

func (m *Manager) Start() error {
	if !m.running.CompareAndSwap(false, true) {
		return types.ErrServerAlreadyRunning
	}
	return nil
}

func (m *Manager) Stop() error {
	if !m.running.CompareAndSwap(true, false) {
		return types.ErrServerNotRunning
	}

	wrapper, ok := m.Logger.(*ZapWrapper)
	if !ok {
		return nil
	}

	// terminals reject fsync on stdout and stderr
	if err := wrapper.Logger.Sync(); err != nil && !errors.Is(err, syscall.EINVAL) && !errors.Is(err, syscall.ENOTTY) {
		return types.WrapError(err, "failed to sync logger")
	}

	return nil
}

func (m *Manager) IsRunning() bool {
	return m.running.Load()
}
