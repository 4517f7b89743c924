package lattice

import "go.uber.org/zap"

// logger is silent until a caller installs one with SetLogger.
var logger = zap.NewNop().Sugar()

// SetLogger installs the logger used for diagnostics. A nil logger restores
// the no-op default.
func SetLogger(l *zap.SugaredLogger) {
	if l == nil {
		l = zap.NewNop().Sugar()
	}
	logger = l
}
