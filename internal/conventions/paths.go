package conventions

import (
	"path/filepath"

	"k8s.io/client-go/util/homedir"
)

const (
	// DefaultDataDir is the default formbot data directory name (relative to home).
	DefaultDataDir = ".formbot"
	// DBFile is the sqlite database filename.
	DBFile = "formbot.db"
	// UploadsDir is the subdirectory where uploaded documents are stored.
	UploadsDir = "uploads"
	// ScenariosDir is the subdirectory searched for fake engine scenario files.
	ScenariosDir = "scenarios"

	// DefaultListenAddress is the default API listen address.
	DefaultListenAddress = "127.0.0.1:8000"
	// DefaultAPIURL is the default API URL used by the client commands.
	DefaultAPIURL = "http://" + DefaultListenAddress
)

// DataDir returns the default data directory.
func DataDir() string {
	return filepath.Join(homedir.HomeDir(), DefaultDataDir)
}

// DBPath returns the path of the database inside a data directory.
func DBPath(dataDir string) string {
	return filepath.Join(dataDir, DBFile)
}

// UploadDir returns the uploads directory inside a data directory.
func UploadDir(dataDir string) string {
	return filepath.Join(dataDir, UploadsDir)
}

// ScenarioPath returns the path of a named scenario file inside a data directory.
func ScenarioPath(dataDir, name string) string {
	return filepath.Join(dataDir, ScenariosDir, name+".yaml")
}
