package nativehost

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Manifest registers the host with a browser
type Manifest struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Path           string   `json:"path"`
	Type           string   `json:"type"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// NewManifest builds a stdio manifest for the launcher at path
func NewManifest(name, description, path string, origins []string) (*Manifest, error) {
	if name == "" {
		return nil, fmt.Errorf("host name is required")
	}
	if !filepath.IsAbs(path) {
		return nil, fmt.Errorf("host path must be absolute: %s", path)
	}
	if len(origins) == 0 {
		return nil, fmt.Errorf("at least one allowed origin is required")
	}

	normalized := make([]string, 0, len(origins))
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}
		// Bare extension IDs are accepted for convenience
		if !strings.Contains(origin, "://") {
			origin = "chrome-extension://" + origin + "/"
		}
		normalized = append(normalized, origin)
	}
	if len(normalized) == 0 {
		return nil, fmt.Errorf("at least one allowed origin is required")
	}

	return &Manifest{
		Name:           name,
		Description:    description,
		Path:           path,
		Type:           "stdio",
		AllowedOrigins: normalized,
	}, nil
}

// LauncherScript execs exe in native-host mode. Browsers pass the caller
// origin as an argument, which the host ignores.
func LauncherScript(exe, cfgFile string) string {
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	fmt.Fprintf(&b, "exec %q native-host", exe)
	if cfgFile != "" {
		fmt.Fprintf(&b, " --config %q", cfgFile)
	}
	b.WriteString(" \"$@\"\n")
	return b.String()
}

// Install writes the manifest as <name>.json into each directory and
// returns the files written
func Install(m *Manifest, dirs []string) ([]string, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	data = append(data, '\n')

	var written []string
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return written, fmt.Errorf("create %s: %w", dir, err)
		}

		file := filepath.Join(dir, m.Name+".json")
		if err := os.WriteFile(file, data, 0644); err != nil {
			return written, fmt.Errorf("write %s: %w", file, err)
		}
		written = append(written, file)
	}

	return written, nil
}

// DefaultManifestDirs lists the per-user manifest directories of Chrome and
// Chromium. Windows registers hosts in the registry and has none.
func DefaultManifestDirs(goos, home string) []string {
	switch goos {
	case "linux":
		return []string{
			filepath.Join(home, ".config", "google-chrome", "NativeMessagingHosts"),
			filepath.Join(home, ".config", "chromium", "NativeMessagingHosts"),
		}
	case "darwin":
		support := filepath.Join(home, "Library", "Application Support")
		return []string{
			filepath.Join(support, "Google", "Chrome", "NativeMessagingHosts"),
			filepath.Join(support, "Chromium", "NativeMessagingHosts"),
		}
	default:
		return nil
	}
}
