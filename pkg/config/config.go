// Package config reads and writes the dsprint configuration file.
package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/dsprint/dsprint/pkg/logflags"
)

const (
	configDir       string = "dsprint"
	configDirHidden string = ".dsprint"
	configFile      string = "config.yml"
)

const (
	// DefaultMaxArrayValues is the number of children printed when
	// max-array-values is not set.
	DefaultMaxArrayValues = 64
	// DefaultMaxVariableRecurse is the nesting depth printed when
	// max-variable-recurse is not set.
	DefaultMaxVariableRecurse = 3
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Commands aliases.
	Aliases map[string][]string `yaml:"aliases"`

	// MaxArrayValues is the maximum number of children of a container
	// that print reads.
	MaxArrayValues *int `yaml:"max-array-values,omitempty"`
	// MaxVariableRecurse is the nesting depth after which print only shows
	// the summary of a value.
	MaxVariableRecurse *int `yaml:"max-variable-recurse,omitempty"`

	// DisabledPrinters lists printer groups (group) and entries
	// (group;subname) that are disabled at startup.
	DisabledPrinters []string `yaml:"disabled-printers"`

	// Scripts are Starlark files defining additional formatters, loaded
	// at startup in order.
	Scripts []string `yaml:"scripts"`

	// DebugInfoDirectories is the list of directories dsprint will use
	// in order to resolve external debug info files.
	DebugInfoDirectories []string `yaml:"debug-info-directories"`

	// StopTarget stops live processes with SIGSTOP while a value is
	// displayed.
	StopTarget bool `yaml:"stop-target"`

	// Color enables colored output when standard output is a terminal.
	Color *bool `yaml:"color,omitempty"`
}

// GetMaxArrayValues returns MaxArrayValues or its default. At least one
// child is always read.
func (c *Config) GetMaxArrayValues() int {
	if c == nil || c.MaxArrayValues == nil {
		return DefaultMaxArrayValues
	}
	if *c.MaxArrayValues < 1 {
		return 1
	}
	return *c.MaxArrayValues
}

// GetMaxVariableRecurse returns MaxVariableRecurse or its default.
func (c *Config) GetMaxVariableRecurse() int {
	if c == nil || c.MaxVariableRecurse == nil {
		return DefaultMaxVariableRecurse
	}
	return *c.MaxVariableRecurse
}

// ColorEnabled returns the value of Color, or def if it is not set.
func (c *Config) ColorEnabled(def bool) bool {
	if c == nil || c.Color == nil {
		return def
	}
	return *c.Color
}

// DisabledPrinter splits an entry of DisabledPrinters into the group and
// subprinter names. Subname is empty when the entry names a whole group.
func DisabledPrinter(s string) (group, subname string) {
	if i := strings.Index(s, ";"); i >= 0 {
		return s[:i], s[i+1:]
	}
	return s, ""
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() (*Config, error) {
	err := createConfigPath()
	if err != nil {
		return &Config{}, fmt.Errorf("could not create config directory: %v", err)
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to get config file path: %v", err)
	}

	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			return &Config{}, fmt.Errorf("error creating default config file: %v", err)
		}
	}
	defer func() {
		err := f.Close()
		if err != nil {
			logflags.TerminalLogger().Errorf("closing config file failed: %v", err)
		}
	}()

	data, err := ioutil.ReadAll(f)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to read config data: %v", err)
	}
	return Parse(data)
}

// Parse decodes a configuration file.
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return &Config{}, fmt.Errorf("unable to decode config file: %v", err)
	}
	return &c, nil
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(fullConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	// the decoder reads from the start of the file
	if _, err := f.Seek(0, 0); err != nil {
		return nil, err
	}
	return f, nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for dsprint.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Provided aliases will be added to the default aliases for a given command.
aliases:
  # command: ["alias1", "alias2"]

# Maximum number of children printed for a container.
# max-array-values: 64

# Nesting depth after which only summaries are printed.
# max-variable-recurse: 3

# Printers disabled at startup, either "group" or "group;subname".
disabled-printers:
  # - "DS;Vector<T>"

# Starlark files registering additional printers.
scripts:
  # - ~/printers/mine.star

# Stop live processes while their memory is displayed.
# stop-target: true

# Uncomment to force colored output on or off.
# color: false

# List of directories to use when searching for separate debug info files.
debug-info-directories: ["/usr/lib/debug/.build-id"]
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
// The directory is $XDG_CONFIG_HOME/dsprint, unless ~/.dsprint exists or
// XDG_CONFIG_HOME is not set.
func GetConfigFilePath(file string) (string, error) {
	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	hidden := filepath.Join(userHomeDir, configDirHidden)
	if _, err := os.Stat(hidden); err == nil {
		return filepath.Join(hidden, file), nil
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, configDir, file), nil
	}
	return filepath.Join(hidden, file), nil
}

// ExpandPath replaces a leading ~ with the home directory of the user.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if usr, err := user.Current(); err == nil {
			return filepath.Join(usr.HomeDir, path[1:])
		}
	}
	return path
}
