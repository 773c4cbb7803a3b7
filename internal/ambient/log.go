package ambient

import (
	"sync"

	"github.com/charmbracelet/log"
)

var (
	logMu  sync.RWMutex
	pkgLog = log.Default()
)

// SetLogger replaces the logger used to report secondary failures during
// unwind. Secondary failures are logged rather than returned so they never
// mask the error that triggered the unwind.
func SetLogger(l *log.Logger) {
	logMu.Lock()
	defer logMu.Unlock()
	if l != nil {
		pkgLog = l
	}
}

func logger() *log.Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	return pkgLog
}
