// Package config handles bluebook.toml configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/bluebook-vm/bluebook/vm"
	"github.com/tliron/commonlog"
)

// FileName is the configuration file FindAndLoad looks for.
const FileName = "bluebook.toml"

// Config represents a bluebook.toml configuration.
type Config struct {
	Image       Image       `toml:"image"`
	Interpreter Interpreter `toml:"interpreter"`
	Log         Log         `toml:"log"`
	Changes     Changes     `toml:"changes"`
	Bridge      Bridge      `toml:"bridge"`

	// Dir is the directory relative paths resolve against (set at load time).
	Dir string `toml:"-"`
}

// Image configures the image file.
type Image struct {
	Path string `toml:"path"`
}

// Interpreter tunes the VM.
type Interpreter struct {
	CacheMode     string `toml:"cache-mode"`
	GCThreshold   int    `toml:"gc-threshold"`
	CheckInterval int    `toml:"check-interval"`
}

// Log configures commonlog.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Changes configures the method journal.
type Changes struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Bridge configures the HTTP bridge.
type Bridge struct {
	Addr        string `toml:"addr"`
	TokenSecret string `toml:"token-secret"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	c := &Config{Dir: "."}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Image.Path == "" {
		c.Image.Path = "bluebook.image"
	}
	if c.Interpreter.CacheMode == "" {
		c.Interpreter.CacheMode = vm.CacheMonomorphic.String()
	}
	if c.Interpreter.GCThreshold <= 0 {
		c.Interpreter.GCThreshold = vm.DefaultGCThreshold
	}
	if c.Interpreter.CheckInterval <= 0 {
		c.Interpreter.CheckInterval = vm.DefaultCheckInterval
	}
	if c.Changes.Path == "" {
		c.Changes.Path = "bluebook.changes"
	}
	if c.Bridge.Addr == "" {
		c.Bridge.Addr = "127.0.0.1:7480"
	}
}

// Load parses the configuration file at path. A missing file yields the
// defaults, with relative paths resolved against the file's directory.
func Load(path string) (*Config, error) {
	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		c := Default()
		c.Dir = dir
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	return Parse(data, dir)
}

// Parse decodes TOML data. Relative paths resolve against dir.
func Parse(data []byte, dir string) (*Config, error) {
	var c Config
	md, err := toml.Decode(string(data), &c)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown configuration key %s", undecoded[0])
	}
	c.Dir = dir
	c.applyDefaults()
	if _, err := vm.ParseCacheMode(c.Interpreter.CacheMode); err != nil {
		return nil, err
	}
	return &c, nil
}

// FindAndLoad walks up from startDir to find a bluebook.toml file and loads
// it. Without one it returns the defaults rooted at startDir.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}
	for d := dir; ; {
		path := filepath.Join(d, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
		parent := filepath.Dir(d)
		if parent == d {
			break
		}
		d = parent
	}
	c := Default()
	c.Dir = dir
	return c, nil
}

// resolve makes p absolute against the configuration directory.
func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Dir, p)
}

// ImagePath returns the absolute image path.
func (c *Config) ImagePath() string { return c.resolve(c.Image.Path) }

// ChangesPath returns the absolute journal path.
func (c *Config) ChangesPath() string { return c.resolve(c.Changes.Path) }

// VMOptions converts the interpreter settings. The cache mode was checked
// at load time; an unknown mode falls back to monomorphic.
func (c *Config) VMOptions() vm.Options {
	mode, _ := vm.ParseCacheMode(c.Interpreter.CacheMode)
	return vm.Options{
		CacheMode:     mode,
		GCThreshold:   c.Interpreter.GCThreshold,
		CheckInterval: c.Interpreter.CheckInterval,
		SnapshotPath:  c.ImagePath(),
	}
}

// ConfigureLogging applies the [log] section to commonlog. A log backend
// must be registered by the program first.
func (c *Config) ConfigureLogging() {
	if c.Log.File == "" {
		commonlog.Configure(c.Log.Verbosity, nil)
		return
	}
	path := c.resolve(c.Log.File)
	commonlog.Configure(c.Log.Verbosity, &path)
}
