// Package updates checks a release manifest for newer exporter builds.
package updates

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// manifestMaxBytes bounds how much of the release manifest is read.
const manifestMaxBytes = 1 << 20

// Release is the subset of a release manifest this package consumes.
type Release struct {
	TagName string `json:"tag_name"`
	Name    string `json:"name"`
	HTMLURL string `json:"html_url"`
}

// Latest fetches the release manifest at url and returns the newest release.
func Latest(ctx context.Context, client *http.Client, url string) (Release, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Release{}, fmt.Errorf("updates: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return Release{}, fmt.Errorf("updates: fetch manifest: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Release{}, fmt.Errorf("updates: manifest returned %s", resp.Status)
	}
	var release Release
	if err := json.NewDecoder(io.LimitReader(resp.Body, manifestMaxBytes)).Decode(&release); err != nil {
		return Release{}, fmt.Errorf("updates: decode manifest: %w", err)
	}
	if strings.TrimSpace(release.TagName) == "" {
		return Release{}, fmt.Errorf("updates: manifest has no tag name")
	}
	return release, nil
}

// IsNewer reports whether latest is a strictly newer semantic version than
// current. Pre-release and build suffixes (dev builds, pseudo-versions) are
// compared per semver rules; unparsable versions are an error so callers can
// report "unknown" rather than guess.
func IsNewer(current, latest string) (bool, error) {
	cur, err := semver.NewVersion(normalize(current))
	if err != nil {
		return false, fmt.Errorf("updates: parse current version %q: %w", current, err)
	}
	lat, err := semver.NewVersion(normalize(latest))
	if err != nil {
		return false, fmt.Errorf("updates: parse latest version %q: %w", latest, err)
	}
	return lat.GreaterThan(cur), nil
}

func normalize(v string) string {
	return strings.TrimPrefix(strings.TrimSpace(v), "v")
}
