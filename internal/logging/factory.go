package logging

// Factory builds component-scoped loggers. Call sites receive a
// Factory at construction time (injected by the orchestrator's wiring
// code) instead of resolving a package-level singleton, per spec.md
// §9's de-globalization note — this directly replaces the teacher's
// GetGlobalLoggerFactory()/SetGlobalLoggerFactory pair.
type Factory interface {
	CreateLogger(component string) Logger
}

// ZapFactory creates console-only ZapLogger instances.
type ZapFactory struct {
	cfg Config
}

func NewZapFactory(cfg Config) *ZapFactory { return &ZapFactory{cfg: cfg} }

func (f *ZapFactory) CreateLogger(component string) Logger {
	l, err := NewZapLogger(component, f.cfg)
	if err != nil {
		// Fall back to a nop-safe logger rather than panic: logging must
		// never be the reason the audio pipeline fails to start.
		l = &ZapLogger{fields: map[string]interface{}{}, component: component}
	}
	return l
}

// DatabaseFactory creates DatabaseLogger instances sharing one
// Repository, scoped per guild.
type DatabaseFactory struct {
	cfg      Config
	repo     Repository
	guildID  string
	saveToDB bool
}

func NewDatabaseFactory(cfg Config, repo Repository, guildID string, saveToDB bool) *DatabaseFactory {
	return &DatabaseFactory{cfg: cfg, repo: repo, guildID: guildID, saveToDB: saveToDB}
}

func (f *DatabaseFactory) CreateLogger(component string) Logger {
	zl, err := NewZapLogger(component, f.cfg)
	if err != nil {
		zl = &ZapLogger{fields: map[string]interface{}{}, component: component}
	}
	return NewDatabaseLogger(zl, f.repo, f.guildID, f.saveToDB)
}
