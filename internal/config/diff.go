package config

import "reflect"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// LeniencyChanged is true when evaluator.leniency differs.
	LeniencyChanged bool

	// PracticeChanged is true when the local grading policy differs.
	PracticeChanged bool

	// RestartRequired lists the changed sections that only take effect after
	// a restart.
	RestartRequired []string
}

// HotReloadable reports whether d contains any change that can be applied
// to a running server.
func (d ConfigDiff) HotReloadable() bool {
	return d.LogLevelChanged || d.LeniencyChanged || d.PracticeChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if !reflect.DeepEqual(old.Evaluator.Leniency, new.Evaluator.Leniency) {
		d.LeniencyChanged = true
	}
	if old.Practice.Policy() != new.Practice.Policy() {
		d.PracticeChanged = true
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	oldEval, newEval := old.Evaluator, new.Evaluator
	oldEval.Leniency, newEval.Leniency = nil, nil
	oldPractice, newPractice := old.Practice, new.Practice
	oldPractice.PassRatio, newPractice.PassRatio = 0, 0
	oldPractice.Phonetic, newPractice.Phonetic = false, false

	for _, s := range []struct {
		name     string
		old, new any
	}{
		{"server", oldServer, newServer},
		{"providers", old.Providers, new.Providers},
		{"evaluator", oldEval, newEval},
		{"practice", oldPractice, newPractice},
		{"speech", old.Speech, new.Speech},
		{"lesson", old.Lesson, new.Lesson},
	} {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}
