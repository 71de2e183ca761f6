package gitutil

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var namePartRegex = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// ParseRepoFullName extracts owner and name from "owner/name", an HTTPS
// remote URL or an SSH remote URL.
// Supported formats: owner/name, https://github.com/owner/name(.git), git@github.com:owner/name.git
func ParseRepoFullName(raw string) (owner, name string, err error) {
	raw = strings.TrimSpace(raw)
	path := raw

	if u, perr := url.Parse(raw); perr == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" {
		path = strings.TrimPrefix(u.Path, "/")
	} else if strings.Contains(raw, "@") && strings.Contains(raw, ":") {
		path = strings.SplitN(raw, ":", 2)[1]
	}
	path = strings.TrimSuffix(strings.TrimSuffix(path, "/"), ".git")

	parts := strings.Split(path, "/")
	if len(parts) != 2 || !namePartRegex.MatchString(parts[0]) || !namePartRegex.MatchString(parts[1]) ||
		parts[0] == ".." || parts[1] == ".." || parts[0] == "." || parts[1] == "." {
		return "", "", fmt.Errorf("invalid repository reference: %q", raw)
	}
	return parts[0], parts[1], nil
}

// GitHubCloneURL returns the HTTPS clone URL of owner/name on github.com.
func GitHubCloneURL(owner, name string) string {
	return fmt.Sprintf("https://github.com/%s/%s.git", owner, name)
}

// SafeDirName flattens coordinates into one path element.
func SafeDirName(owner, name string) string {
	return owner + "__" + name
}
