package daemon

import (
	"github.com/harun/closedai/internal/config"
)

// watchConfig applies config file edits to a running daemon.
func (d *Daemon) watchConfig() {
	if d.opts.Loader == nil {
		return
	}
	if err := d.opts.Loader.Watch(d.applyConfig); err != nil {
		zl := d.logger.Zerolog()
		zl.Debug().Err(err).Msg("Config hot reload disabled")
	}
}

// applyConfig takes the settings that can change without a restart: the
// allow-list, unsafe mode and the log level.
func (d *Daemon) applyConfig(cfg *config.Config) {
	log := d.logger.Zerolog()

	d.access.Set(cfg.Telegram.AllowedUserIDs)

	if cfg.Workspace.UnsafeMode != d.policy.Unsafe() {
		d.policy.SetUnsafe(cfg.Workspace.UnsafeMode)
		log.Warn().Bool("unsafe", cfg.Workspace.UnsafeMode).Msg("Unsafe mode changed")
	}

	if err := d.logger.SetLevel(cfg.Log.Level); err != nil {
		log.Warn().Err(err).Str("level", cfg.Log.Level).Msg("Ignoring invalid log level")
	}

	log.Info().
		Int("allowed_users", d.access.Len()).
		Str("log_level", cfg.Log.Level).
		Msg("Applied config changes")
}
