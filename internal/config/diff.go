package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; anything else
// (data slot, provider family) needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	RendererModelChanged bool
	NPCModelChanged      bool

	TimeoutsChanged bool

	MemoryJournalChanged bool
}

// Changed reports whether any hot-reloadable field differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.RendererModelChanged || d.NPCModelChanged ||
		d.TimeoutsChanged || d.MemoryJournalChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.AI.RendererModel != new.AI.RendererModel {
		d.RendererModelChanged = true
	}
	if old.AI.NPCModel != new.AI.NPCModel {
		d.NPCModelChanged = true
	}
	if old.AI.RendererTimeoutMS != new.AI.RendererTimeoutMS ||
		old.AI.InterpreterTimeoutMS != new.AI.InterpreterTimeoutMS {
		d.TimeoutsChanged = true
	}

	if old.NPC.MemoryJournal != new.NPC.MemoryJournal {
		d.MemoryJournalChanged = true
	}

	return d
}
