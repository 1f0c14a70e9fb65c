package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
)

// Debug reports whether debug logging is active for this process.
var Debug = false

var debugLogger *log.Logger

// CheckDebug reads the debug flag from the environment.
func CheckDebug() bool {
	debug := os.Getenv("CHATCORE_DEBUG")
	return debug == "true" || debug == "1"
}

// InitDebugLog opens debug.log under dataDir when CHATCORE_DEBUG is set.
// The log may contain message content, so the file is user-only.
func InitDebugLog(dataDir string) {
	if !CheckDebug() {
		return
	}

	Debug = true
	logPath := filepath.Join(dataDir, "debug.log")

	f, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not open debug log at %s: %v\n", logPath, err)
		return
	}

	debugLogger = log.New(f, "", log.Ldate|log.Ltime|log.Lmicroseconds|log.Lshortfile)
	debugLogger.Printf("=== Debug logging started (CHATCORE_DEBUG=%s) ===", os.Getenv("CHATCORE_DEBUG"))
	debugLogger.Printf("Log path: %s", logPath)
}

// DebugLog writes a formatted line to the debug log. A no-op when debug
// logging is off, so call sites never need to guard.
func DebugLog(format string, args ...any) {
	if !Debug || debugLogger == nil {
		return
	}
	debugLogger.Output(2, fmt.Sprintf(format, args...))
}
