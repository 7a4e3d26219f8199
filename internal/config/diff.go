package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// IntelligenceChanged is true when any of the tuning knobs below moved.
	IntelligenceChanged  bool
	ThresholdChanged     bool
	TopKChanged          bool
	BannedPhrasesChanged bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart; addresses,
// credentials, and provider selection always require one.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Intelligence tuning
	if old.Intelligence.Threshold() != new.Intelligence.Threshold() {
		d.ThresholdChanged = true
	}
	if old.Intelligence.CandidateCount() != new.Intelligence.CandidateCount() {
		d.TopKChanged = true
	}
	if !slices.Equal(old.Intelligence.BannedPhrases, new.Intelligence.BannedPhrases) {
		d.BannedPhrasesChanged = true
	}
	d.IntelligenceChanged = d.ThresholdChanged || d.TopKChanged || d.BannedPhrasesChanged

	return d
}
