package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked: everything else
// (store backend, capture feed) requires a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SpeedChanged is set when the initial playback speed changed; the new
	// value applies to the running replay immediately.
	SpeedChanged bool
	NewSpeed     float64

	// GainsChanged is set when user_gain or ai_gain changed; gains apply
	// from the next loaded session.
	GainsChanged bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Playback.Speed != new.Playback.Speed {
		d.SpeedChanged = true
		d.NewSpeed = new.Playback.Speed
	}
	if old.Playback.UserGain != new.Playback.UserGain ||
		old.Playback.AIGain != new.Playback.AIGain {
		d.GainsChanged = true
	}

	return d
}
