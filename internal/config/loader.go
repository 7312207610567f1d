package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// maxConfigFileSize bounds the config file read at 1MB.
const maxConfigFileSize = 1 << 20

// systemConfigDir is the machine-wide config location; the per-user
// directory comes from userConfigDir.
const systemConfigDir = "/etc/changelogd"

// Load builds the configuration in three layers, lowest precedence
// first: hardcoded defaults, the YAML file at configPath, then
// environment variables. An empty configPath means
// ~/.config/changelogd/config.yaml, and a missing file is not an
// error: defaults plus environment can carry a complete configuration.
//
// The file may hold API keys, so loading enforces three properties
// before parsing a byte:
//
//   - the path must resolve inside ~/.config/changelogd or
//     /etc/changelogd, symlinks followed first
//   - the file must not be readable by group or other
//   - the file must not exceed 1MB
//
// Environment variables map to config keys by splitting on the first
// underscore: LLM_API_KEY becomes llm.api_key, PIPELINE_MAX_WORKERS
// becomes pipeline.max_workers. The conventional GITHUB_TOKEN lands on
// github.token without special casing.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		p, err := defaultConfigPath()
		if err != nil {
			return nil, err
		}
		configPath = p
	}

	// The path is checked even when the file does not exist, so a bad
	// --config flag fails loudly instead of silently using defaults.
	if err := checkConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	k := koanf.New(".")
	if err := loadFile(k, configPath); err != nil {
		return nil, err
	}
	if err := k.Load(env.Provider("", ".", envToKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// loadFile merges the YAML file at path into k. The file is opened
// once and the permission and size checks run on the open descriptor,
// so nothing can swap the file between the check and the read.
func loadFile(k *koanf.Koanf, path string) error {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := checkFileProperties(info); err != nil {
		return fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// envToKey maps an environment variable name onto a config key. The
// first underscore separates section from field; later underscores
// stay in the field name, so SCANNER_VALIDATION_MODE becomes
// scanner.validation_mode.
func envToKey(name string) string {
	lower := strings.ToLower(name)
	section, field, found := strings.Cut(lower, "_")
	if !found {
		return lower
	}
	return section + "." + field
}

func userConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "changelogd"), nil
}

func defaultConfigPath() (string, error) {
	dir, err := userConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// EnsureConfigDir creates the per-user config directory with owner-only
// access. Called at startup so first runs have somewhere to point.
func EnsureConfigDir() error {
	dir, err := userConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	return nil
}

// checkConfigPath restricts config files to the allowed directories.
// Symlinks on both sides are resolved first, so neither a linked config
// file nor a linked home directory can move the comparison.
func checkConfigPath(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	resolved := resolveLinks(abs)

	userDir, err := userConfigDir()
	if err != nil {
		return err
	}

	for _, dir := range []string{userDir, systemConfigDir} {
		if contains(resolveLinks(dir), resolved) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in %s or %s", userDir, systemConfigDir)
}

// resolveLinks follows symlinks where possible. Paths that do not
// exist yet come back unchanged.
func resolveLinks(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	return path
}

// contains reports whether path sits inside dir. filepath.Rel keeps a
// sibling like /etc/changelogd-evil from passing, which a plain prefix
// comparison would allow.
func contains(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}

// checkFileProperties rejects config files readable by group or other
// and files over the size bound. Windows has its own ACL model, so the
// permission check is POSIX-only.
func checkFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		if perm := info.Mode().Perm(); perm&0o077 != 0 {
			return fmt.Errorf("insecure config file permissions %04o: remove group/other access (chmod 600)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}
