/*
File Name:  Config.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner
*/

package core

import (
	_ "embed" // Required for embedding default Config file
	"os"

	"gopkg.in/yaml.v3"
)

// Version is the current core library version.
const Version = "0.1"

// Config is the node's on-disk configuration, loaded via LoadConfig.
type Config struct {
	LogFile       string `yaml:"LogFile"`       // Log file path.
	DataDirectory string `yaml:"DataDirectory"` // Directory holding identity, gossip, and incoming-file storage.
	Nickname      string `yaml:"Nickname"`      // Default nickname announced at start, if not overridden by start().

	Battery string `yaml:"Battery"` // "normal", "powersave", or "ultralow" -- selects the duty-cycle row.

	Debug struct {
		Enabled bool   `yaml:"Enabled"`
		Listen  string `yaml:"Listen"`
	} `yaml:"Debug"`
}

//go:embed "Config Default.yaml"
var defaultConfig []byte

// LoadConfig reads the YAML configuration file into out. If filename does
// not exist or is empty, the embedded default is used; it is written to
// filename only when the file does not exist, so subsequent runs see it
// on disk.
// Status: ExitSuccess on success; ExitErrorConfigAccess/Read/Parse otherwise.
func LoadConfig(filename string, out *Config) (status int, err error) {
	var configData []byte

	stats, statErr := os.Stat(filename)
	switch {
	case statErr != nil && os.IsNotExist(statErr):
		configData = defaultConfig
	case statErr != nil:
		return ExitErrorConfigAccess, statErr
	case stats.Size() == 0:
		configData = defaultConfig
	default:
		if configData, err = os.ReadFile(filename); err != nil {
			return ExitErrorConfigRead, err
		}
	}

	if err = yaml.Unmarshal(configData, out); err != nil {
		return ExitErrorConfigParse, err
	}

	if statErr != nil && os.IsNotExist(statErr) {
		_ = os.WriteFile(filename, configData, 0644)
	}

	return ExitSuccess, nil
}

// saveConfig persists the current configuration back to its file, used
// after a mutation made through the capability API (e.g. a new
// nickname).
func (backend *Backend) saveConfig() {
	data, err := yaml.Marshal(backend.Config)
	if err != nil {
		backend.LogError("saveConfig", "marshalling config: %v", err)
		return
	}
	if err := os.WriteFile(backend.ConfigFilename, data, 0644); err != nil {
		backend.LogError("saveConfig", "writing config '%s': %v", backend.ConfigFilename, err)
	}
}
