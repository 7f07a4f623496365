// Package distro identifies the local OS distribution from os-release data.
// Class composition uses it to pick an OS class when the caller named none.
package distro

import (
	"fmt"
	"os"
	"strings"
)

const osReleasePath = "/etc/os-release"

// known distributions, as they appear in the ID field.
var known = map[string]bool{
	"centos": true,
	"fedora": true,
	"rhel":   true,
}

// Detect reads /etc/os-release and returns the distribution ID of the
// current machine (e.g. "centos", "fedora", "rhel").
func Detect() (string, error) {
	data, err := os.ReadFile(osReleasePath)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", osReleasePath, err)
	}
	return Parse(string(data))
}

// Parse extracts the distribution ID from os-release content. Leading and
// trailing single and double quotes around the value are removed.
func Parse(data string) (string, error) {
	for _, line := range strings.Split(data, "\n") {
		line = strings.TrimSpace(line)
		if value, ok := strings.CutPrefix(line, "ID="); ok {
			id := strings.Trim(value, `"'`)
			if !known[id] {
				return "", fmt.Errorf("unsupported distribution %q", id)
			}
			return id, nil
		}
	}
	return "", fmt.Errorf("no ID field in os-release data")
}
