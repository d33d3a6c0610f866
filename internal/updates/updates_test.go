package updates

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLatest(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "application/json" {
			t.Errorf("Accept = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"tag_name":"v1.4.0","name":"v1.4.0","html_url":"https://example.test/releases/v1.4.0"}`))
	}))
	defer srv.Close()

	release, err := Latest(context.Background(), srv.Client(), srv.URL)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if release.TagName != "v1.4.0" {
		t.Fatalf("TagName = %q", release.TagName)
	}
	if release.HTMLURL != "https://example.test/releases/v1.4.0" {
		t.Fatalf("HTMLURL = %q", release.HTMLURL)
	}
}

func TestLatestNon200(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusForbidden)
	}))
	defer srv.Close()

	if _, err := Latest(context.Background(), srv.Client(), srv.URL); err == nil {
		t.Fatal("non-200 manifest accepted")
	} else if !strings.Contains(err.Error(), "403") {
		t.Fatalf("error = %v", err)
	}
}

func TestLatestEmptyTag(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"name":"untagged"}`))
	}))
	defer srv.Close()

	if _, err := Latest(context.Background(), srv.Client(), srv.URL); err == nil {
		t.Fatal("tagless manifest accepted")
	}
}

func TestIsNewer(t *testing.T) {
	t.Parallel()

	cases := []struct {
		current, latest string
		want            bool
	}{
		{"v1.2.3", "v1.2.4", true},
		{"1.2.3", "v1.2.3", false},
		{"v2.0.0", "v1.9.9", false},
		{"v1.2.3-rc.1", "v1.2.3", true},
		{"v1.2.3", "v1.2.3-rc.1", false},
		{"v0.0.0-unknown", "v0.1.0", true},
	}
	for _, tc := range cases {
		got, err := IsNewer(tc.current, tc.latest)
		if err != nil {
			t.Fatalf("IsNewer(%q, %q): %v", tc.current, tc.latest, err)
		}
		if got != tc.want {
			t.Errorf("IsNewer(%q, %q) = %v, want %v", tc.current, tc.latest, got, tc.want)
		}
	}
}

func TestIsNewerUnparsable(t *testing.T) {
	t.Parallel()

	if _, err := IsNewer("not-a-version", "v1.0.0"); err == nil {
		t.Fatal("unparsable current version accepted")
	}
	if _, err := IsNewer("v1.0.0", "latest"); err == nil {
		t.Fatal("unparsable latest version accepted")
	}
}
