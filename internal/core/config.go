package core

import (
	"os"
	"path/filepath"
)

const (
	BaseDirName    = ".config/invigilator"
	ConfigFileName = "config.hcl"
)

// DefaultConfigPath returns the directory holding the configuration file
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return BaseDirName
	}
	return filepath.Join(home, BaseDirName)
}

// ConfigFile returns the configuration file inside configPath
func ConfigFile(configPath string) string {
	return filepath.Join(configPath, ConfigFileName)
}
