// Package git detects the GitLab project a working copy belongs to, so the
// CLI can default its project list when none is configured.
package git

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Remote identifies a project on a GitLab host.
type Remote struct {
	Host string
	// Project is the full namespace path, e.g. "group/subgroup/name".
	Project string
	// URL is the remote URL exactly as configured.
	URL string
}

// BaseURL returns the https URL of the host.
func (r Remote) BaseURL() string {
	return "https://" + r.Host
}

// ErrNoRepository is returned when no .git directory is found.
var ErrNoRepository = errors.New("not inside a git repository")

// DetectProject walks up from dir until it finds a .git/config and returns
// the project of its origin remote.
func DetectProject(dir string) (Remote, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Remote{}, err
	}
	for {
		configPath := filepath.Join(abs, ".git", "config")
		if _, err := os.Stat(configPath); err == nil {
			return readOrigin(configPath)
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return Remote{}, ErrNoRepository
		}
		abs = parent
	}
}

func readOrigin(configPath string) (Remote, error) {
	f, err := os.Open(configPath)
	if err != nil {
		return Remote{}, fmt.Errorf("could not open .git/config: %w", err)
	}
	defer f.Close()

	var inOrigin bool
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == `[remote "origin"]` {
			inOrigin = true
			continue
		}
		if inOrigin && strings.HasPrefix(line, "[") {
			break
		}
		if inOrigin && strings.HasPrefix(line, "url") {
			parts := strings.SplitN(line, "=", 2)
			if len(parts) == 2 {
				return ParseRemoteURL(strings.TrimSpace(parts[1]))
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return Remote{}, err
	}
	return Remote{}, errors.New("no origin remote found in .git/config")
}

// ParseRemoteURL parses a git remote URL into a host and project path.
// Supports HTTPS (https://gitlab.com/group/sub/repo.git), scp-like SSH
// (git@gitlab.com:group/repo.git) and ssh:// URLs with an optional port.
func ParseRemoteURL(rawURL string) (Remote, error) {
	normalized := strings.TrimSuffix(strings.TrimSuffix(rawURL, "/"), ".git")

	var host, path string
	switch {
	case strings.HasPrefix(normalized, "ssh://"):
		rest := strings.TrimPrefix(normalized, "ssh://")
		if i := strings.Index(rest, "@"); i >= 0 {
			rest = rest[i+1:]
		}
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) != 2 {
			return Remote{}, fmt.Errorf("invalid SSH remote URL: %s", rawURL)
		}
		host, path = parts[0], parts[1]
		if i := strings.Index(host, ":"); i >= 0 {
			host = host[:i]
		}
	case strings.HasPrefix(normalized, "https://") || strings.HasPrefix(normalized, "http://"):
		rest := strings.TrimPrefix(strings.TrimPrefix(normalized, "https://"), "http://")
		if i := strings.Index(rest, "@"); i >= 0 && i < strings.Index(rest+"/", "/") {
			rest = rest[i+1:]
		}
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) != 2 {
			return Remote{}, fmt.Errorf("invalid HTTPS remote URL: %s", rawURL)
		}
		host, path = parts[0], parts[1]
	case strings.Contains(normalized, "@") && strings.Contains(normalized, ":"):
		rest := normalized[strings.Index(normalized, "@")+1:]
		parts := strings.SplitN(rest, ":", 2)
		host, path = parts[0], parts[1]
	default:
		return Remote{}, fmt.Errorf("unsupported remote URL format: %s", rawURL)
	}

	// A project lives inside at least one namespace.
	if host == "" || !strings.Contains(path, "/") || strings.HasPrefix(path, "/") || strings.Contains(path, "//") {
		return Remote{}, fmt.Errorf("invalid remote URL path: %s", rawURL)
	}
	return Remote{Host: host, Project: path, URL: rawURL}, nil
}
