// Package logging configures the process-wide logrus logger, the
// structured replacement for the teacher's log/slog wrapper.
package logging

import (
	"os"

	log "github.com/sirupsen/logrus"
)

// Init sets the global logrus level and formatter and returns an entry
// tagged with the given module name; entries logged through the global
// logger are not tagged.
func Init(levelName, moduleName string) *log.Entry {
	level, err := log.ParseLevel(levelName)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
	log.SetOutput(os.Stdout)
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})
	return log.WithField("module", moduleName)
}
