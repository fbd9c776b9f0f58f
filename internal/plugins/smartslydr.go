package plugins

import (
	"github.com/joshp123/smartslydr/internal/config"
	"github.com/joshp123/smartslydr/internal/core"
	"github.com/joshp123/smartslydr/plugins/smartslydr"
)

func init() {
	Register(func(cfg *config.Config) (core.Plugin, bool) {
		plugin, ok := smartslydr.NewPlugin(cfg)
		if !ok {
			return nil, false
		}
		return plugin, true
	})
}
