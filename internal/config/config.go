/*-------------------------------------------------------------------------
 *
 * QPG - Configuration and Local Paths
 *
 * Portions copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

package config

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	qerrors "qpg/internal/errors"
)

const (
	appName         = "qpg"
	indexFilename   = "index.sqlite"
	mcpPidFilename  = "mcp-http.pid"
	modelsDirname   = "models"
	configFilename  = "config.yaml"
	DefaultBaseURL  = "https://api.openai.com/v1"
	DefaultLLMModel = "gpt-5-nano"
)

// Paths describes the local on-disk layout: catalog and model assets under
// XDG_CACHE_HOME, runtime state under XDG_STATE_HOME.
type Paths struct {
	CacheDir   string
	StateDir   string
	IndexDB    string
	ModelsDir  string
	MCPPidFile string
}

func xdgOrDefault(envName string, defaultPath string) string {
	if value := os.Getenv(envName); value != "" {
		return value
	}
	return defaultPath
}

// GetPaths resolves the XDG path layout for the current user.
func GetPaths() Paths {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	cacheHome := xdgOrDefault("XDG_CACHE_HOME", filepath.Join(home, ".cache"))
	stateHome := xdgOrDefault("XDG_STATE_HOME", filepath.Join(home, ".local", "state"))
	cacheDir := filepath.Join(cacheHome, appName)
	stateDir := filepath.Join(stateHome, appName)
	return Paths{
		CacheDir:   cacheDir,
		StateDir:   stateDir,
		IndexDB:    filepath.Join(cacheDir, indexFilename),
		ModelsDir:  filepath.Join(cacheDir, modelsDirname),
		MCPPidFile: filepath.Join(stateDir, mcpPidFilename),
	}
}

// EnsureDirs creates the cache, state, and model directories if missing.
func EnsureDirs(paths Paths) (Paths, error) {
	for _, dir := range []string{paths.CacheDir, paths.StateDir, paths.ModelsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return paths, qerrors.Wrapf(qerrors.KindInternal, err, "failed to create directory %s", dir)
		}
	}
	return paths, nil
}

// ConfigYAMLPath returns the location of the operator config file under
// XDG_CONFIG_HOME.
func ConfigYAMLPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	configHome := xdgOrDefault("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	return filepath.Join(configHome, appName, configFilename)
}

// OpenAISettings holds the resolved LLM collaborator settings. The API key
// must be redacted in every display path.
type OpenAISettings struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Overrides are CLI-level settings that take precedence over env and file.
type Overrides struct {
	APIKey  string
	BaseURL string
	Model   string
}

type fileSettings struct {
	OpenAIAPIKey  string `yaml:"openai_api_key"`
	OpenAIBaseURL string `yaml:"openai_base_url"`
	OpenAIModel   string `yaml:"openai_model"`
}

// looksLikeDotenv sniffs whether the config file is KEY=VALUE lines rather
// than YAML. The first non-comment line decides.
func looksLikeDotenv(data []byte) bool {
	for _, rawLine := range strings.Split(string(data), "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.Index(line, "=")
		if eq < 0 {
			return false
		}
		return !strings.Contains(line[:eq], ":")
	}
	return false
}

func parseDotenv(data []byte) fileSettings {
	var out fileSettings
	for _, rawLine := range strings.Split(string(data), "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		switch strings.ToUpper(key) {
		case "QPG_OPENAI_API_KEY", "OPENAI_API_KEY":
			out.OpenAIAPIKey = value
		case "QPG_OPENAI_BASE_URL", "OPENAI_BASE_URL":
			out.OpenAIBaseURL = value
		case "QPG_OPENAI_MODEL", "OPENAI_MODEL":
			out.OpenAIModel = value
		}
	}
	return out
}

func loadFileSettings(path string) (fileSettings, error) {
	var out fileSettings
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return out, qerrors.Wrapf(qerrors.KindConfigError, err, "failed to read config file %s", path)
	}

	if looksLikeDotenv(data) {
		return parseDotenv(data), nil
	}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return out, qerrors.Wrapf(qerrors.KindConfigError, err, "malformed config file %s", path)
	}
	return out, nil
}

func envValue(names ...string) string {
	for _, name := range names {
		if value := strings.TrimSpace(os.Getenv(name)); value != "" {
			return value
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

// ResolveOpenAI merges settings with precedence CLI > env > config file >
// defaults.
func ResolveOpenAI(overrides Overrides) (OpenAISettings, error) {
	fromFile, err := loadFileSettings(ConfigYAMLPath())
	if err != nil {
		return OpenAISettings{}, err
	}

	return OpenAISettings{
		APIKey: firstNonEmpty(
			overrides.APIKey,
			envValue("QPG_OPENAI_API_KEY", "OPENAI_API_KEY"),
			fromFile.OpenAIAPIKey,
		),
		BaseURL: firstNonEmpty(
			overrides.BaseURL,
			envValue("QPG_OPENAI_BASE_URL", "OPENAI_BASE_URL"),
			fromFile.OpenAIBaseURL,
			DefaultBaseURL,
		),
		Model: firstNonEmpty(
			overrides.Model,
			envValue("QPG_OPENAI_MODEL", "OPENAI_MODEL"),
			fromFile.OpenAIModel,
			DefaultLLMModel,
		),
	}, nil
}
