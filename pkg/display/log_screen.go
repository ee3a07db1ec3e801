package display

import "go.uber.org/zap"

// LogScreen shows pages in the log instead of on hardware. Used in simulation
// mode and on boards without a display.
type LogScreen struct {
	logger *zap.Logger
}

func NewLogScreen(logger *zap.Logger) *LogScreen {
	return &LogScreen{logger: logger}
}

func (s *LogScreen) Clear() error {
	s.logger.Debug("display clear")
	return nil
}

func (s *LogScreen) Show(lines ...string) error {
	s.logger.Debug("display page", zap.Strings("lines", lines))
	return nil
}
