package logger

import (
	"go.uber.org/zap"
)

// New builds a production logger at the given level. The "console"
// encoding swaps in the human readable development encoder; anything else
// is passed to zap as is, and empty keeps JSON.
func New(verbosity, encoding string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	level, err := zap.ParseAtomicLevel(verbosity)
	if err != nil {
		return nil, err
	}
	config.Level = level
	switch encoding {
	case "":
	case "console":
		config.Encoding = encoding
		config.EncoderConfig = zap.NewDevelopmentEncoderConfig()
		config.DisableStacktrace = true
	default:
		config.Encoding = encoding
	}
	return config.Build()
}
