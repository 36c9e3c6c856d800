package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// LogFileName is the name of the active log file.
const LogFileName = "pagesearch.log"

// LogDir returns the log directory inside dataDir.
func LogDir(dataDir string) string {
	return filepath.Join(dataDir, "logs")
}

// LogPath returns the active log file inside dataDir.
func LogPath(dataDir string) string {
	return filepath.Join(LogDir(dataDir), LogFileName)
}

// FindLogFile returns explicit when set, otherwise the log file of dataDir.
// It fails when the file does not exist.
func FindLogFile(dataDir, explicit string) (string, error) {
	path := explicit
	if path == "" {
		path = LogPath(dataDir)
	}
	if _, err := os.Stat(path); err != nil {
		if explicit != "" {
			return "", fmt.Errorf("log file not found: %s", explicit)
		}
		return "", fmt.Errorf("no log file found at %s; run a command first", path)
	}
	return path, nil
}
