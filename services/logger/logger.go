package logsvc

import (
	"log"
	"os"

	"github.com/trezcool/edmm/core"
)

// New returns the logger of one application component, e.g. New(conf, "API").
// Rollbar reporting is off in debug mode.
func New(conf *core.Config, component string) *RollbarLogger {
	std := log.New(os.Stdout, component+" : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := NewRollbarLogger(std, conf)
	logger.Enable(!conf.Debug && conf.RollbarToken != "")
	return logger
}
