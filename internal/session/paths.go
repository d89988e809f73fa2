package session

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.chatkit.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".chatkit")
}

// Dir returns the session-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "sessions", name)
}

// LockPath returns the lock file path for a session.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// DBPath returns the local cache chatkit.db path.
func DBPath(name string) string {
	return filepath.Join(Dir(name), "chatkit.db")
}

// TokenPath returns the credential file path for a session.
func TokenPath(name string) string {
	return filepath.Join(Dir(name), "token")
}

// LogDir returns the log directory for a session.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "chatkitd.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the session directory tree with proper permissions.
func EnsureDir(name string) error {
	dirs := []string{
		Dir(name),
		LogDir(name),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}

// ReadToken loads the stored credential for a session.
func ReadToken(name string) (string, error) {
	data, err := os.ReadFile(TokenPath(name))
	if err != nil {
		return "", err
	}
	return string(trimNewline(data)), nil
}

func trimNewline(data []byte) []byte {
	for len(data) > 0 && (data[len(data)-1] == '\n' || data[len(data)-1] == '\r') {
		data = data[:len(data)-1]
	}
	return data
}
