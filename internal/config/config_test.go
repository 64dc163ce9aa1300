/*-------------------------------------------------------------------------
 *
 * QPG - Configuration Tests
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
	"testing"
)

func TestLooksLikeDotenv(t *testing.T) {
	tests := []struct {
		name string
		data string
		want bool
	}{
		{"yaml", "openai_api_key: sk-123\n", false},
		{"dotenv", "QPG_OPENAI_API_KEY=sk-123\n", true},
		{"dotenv with comment", "# comment\nOPENAI_MODEL=gpt-5-nano\n", true},
		{"empty", "", false},
		{"plain text", "not a config\n", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := looksLikeDotenv([]byte(tt.data)); got != tt.want {
				t.Errorf("looksLikeDotenv() = %v, want %v", got, tt.want)
			}
		})
	}
}

func writeConfig(t *testing.T, content string) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	path := filepath.Join(dir, "qpg", "config.yaml")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"QPG_OPENAI_API_KEY", "OPENAI_API_KEY",
		"QPG_OPENAI_BASE_URL", "OPENAI_BASE_URL",
		"QPG_OPENAI_MODEL", "OPENAI_MODEL",
	} {
		t.Setenv(name, "")
	}
}

func TestResolveOpenAIFromYAML(t *testing.T) {
	clearEnv(t)
	writeConfig(t, "openai_api_key: sk-from-yaml\nopenai_model: gpt-5-nano\n")

	settings, err := ResolveOpenAI(Overrides{})
	if err != nil {
		t.Fatalf("ResolveOpenAI() error: %v", err)
	}
	if settings.APIKey != "sk-from-yaml" {
		t.Errorf("APIKey = %q, want sk-from-yaml", settings.APIKey)
	}
	if settings.BaseURL != DefaultBaseURL {
		t.Errorf("BaseURL = %q, want default", settings.BaseURL)
	}
}

func TestResolveOpenAIFromDotenv(t *testing.T) {
	clearEnv(t)
	writeConfig(t, "QPG_OPENAI_API_KEY=sk-from-dotenv\nOPENAI_BASE_URL=http://localhost:9999/v1\n")

	settings, err := ResolveOpenAI(Overrides{})
	if err != nil {
		t.Fatalf("ResolveOpenAI() error: %v", err)
	}
	if settings.APIKey != "sk-from-dotenv" {
		t.Errorf("APIKey = %q, want sk-from-dotenv", settings.APIKey)
	}
	if settings.BaseURL != "http://localhost:9999/v1" {
		t.Errorf("BaseURL = %q", settings.BaseURL)
	}
}

func TestResolveOpenAIPrecedence(t *testing.T) {
	clearEnv(t)
	writeConfig(t, "openai_api_key: sk-from-yaml\n")
	t.Setenv("QPG_OPENAI_API_KEY", "sk-from-env")

	settings, err := ResolveOpenAI(Overrides{})
	if err != nil {
		t.Fatal(err)
	}
	if settings.APIKey != "sk-from-env" {
		t.Errorf("env should beat file: got %q", settings.APIKey)
	}

	settings, err = ResolveOpenAI(Overrides{APIKey: "sk-from-cli"})
	if err != nil {
		t.Fatal(err)
	}
	if settings.APIKey != "sk-from-cli" {
		t.Errorf("CLI should beat env: got %q", settings.APIKey)
	}
}

func TestResolveOpenAIDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	settings, err := ResolveOpenAI(Overrides{})
	if err != nil {
		t.Fatal(err)
	}
	if settings.APIKey != "" {
		t.Errorf("APIKey should be empty, got %q", settings.APIKey)
	}
	if settings.Model != DefaultLLMModel {
		t.Errorf("Model = %q, want %q", settings.Model, DefaultLLMModel)
	}
}

func TestGetPathsHonorsXDG(t *testing.T) {
	cache := t.TempDir()
	state := t.TempDir()
	t.Setenv("XDG_CACHE_HOME", cache)
	t.Setenv("XDG_STATE_HOME", state)

	paths := GetPaths()
	if paths.IndexDB != filepath.Join(cache, "qpg", "index.sqlite") {
		t.Errorf("IndexDB = %q", paths.IndexDB)
	}
	if paths.MCPPidFile != filepath.Join(state, "qpg", "mcp-http.pid") {
		t.Errorf("MCPPidFile = %q", paths.MCPPidFile)
	}
}
