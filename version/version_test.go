package version

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_Latest(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/wandb/json", r.URL.Path)
		fmt.Fprint(w, `{
			"releases": {
				"0.15.0": [{"yanked": false}],
				"0.17.0": [{"yanked": false}],
				"0.16.2": [{"yanked": false}],
				"0.18.0rc1": [{"yanked": false}],
				"0.17.5": [{"yanked": true}],
				"not-a-version": []
			}
		}`)
	}))
	defer srv.Close()

	r := NewResolver(WithIndexURL(srv.URL))

	v, err := r.Latest(context.Background(), "wandb")
	require.NoError(t, err)
	assert.Equal(t, "0.17.0", v.String())

	// Second call is served from cache.
	_, err = r.Latest(context.Background(), "wandb")
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestResolver_Latest_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	r := NewResolver(WithIndexURL(srv.URL))
	_, err := r.Latest(context.Background(), "nosuchpkg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestResolver_Latest_NoStableReleases(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"releases": {"1.0.0rc1": [{"yanked": false}]}}`)
	}))
	defer srv.Close()

	r := NewResolver(WithIndexURL(srv.URL))
	_, err := r.Latest(context.Background(), "prerelease-only")
	assert.Error(t, err)
}

func TestCheckDrift(t *testing.T) {
	latest := semver.MustParse("0.17.0")
	policy := Policy{AllowMajorsBehind: 0, AllowMinorsBehind: 1}

	tests := []struct {
		name       string
		documented string
		latest     *semver.Version
		wantRule   string
		wantSev    string
		wantNil    bool
	}{
		{
			name:       "major drift",
			documented: "0.10.0",
			latest:     semver.MustParse("1.2.0"),
			wantRule:   RuleMajorDrift,
			wantSev:    SeverityHigh,
		},
		{
			name:       "deep minor drift",
			documented: "0.10.0",
			latest:     latest,
			wantRule:   RuleMinorDrift,
			wantSev:    SeverityMedium,
		},
		{
			name:       "shallow minor drift",
			documented: "0.14.0",
			latest:     latest,
			wantRule:   RuleMinorDrift,
			wantSev:    SeverityLow,
		},
		{
			name:       "within tolerance",
			documented: "0.16.0",
			latest:     latest,
			wantRule:   RuleOldVersion,
			wantSev:    SeverityLow,
		},
		{
			name:       "current",
			documented: "0.17.0",
			latest:     latest,
			wantNil:    true,
		},
		{
			name:       "patch drift ignored",
			documented: "0.17.0",
			latest:     semver.MustParse("0.17.3"),
			wantNil:    true,
		},
		{
			name:       "ahead of latest",
			documented: "0.18.0",
			latest:     latest,
			wantNil:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := CheckDrift(tt.documented, tt.latest, policy)
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, d)
				return
			}
			require.NotNil(t, d)
			assert.Equal(t, tt.wantRule, d.RuleCode)
			assert.Equal(t, tt.wantSev, d.Severity)
		})
	}
}

func TestCheckDrift_Unparseable(t *testing.T) {
	_, err := CheckDrift("latest", semver.MustParse("1.0.0"), Policy{})
	assert.Error(t, err)
}

func TestExtractVersions(t *testing.T) {
	tests := []struct {
		name        string
		text        string
		wantVersion string
		wantPattern string
	}{
		{"pip", "pip install wandb==0.16.0", "0.16.0", "pip"},
		{"pip upgrade", "pip install -U wandb==0.16.1", "0.16.1", "pip"},
		{"requirements pin", "wandb==0.15.0", "0.15.0", "requirements"},
		{"requirements floor", "wandb>=0.15.0", "0.15.0", "requirements"},
		{"poetry", `wandb = "^0.15.3"`, "0.15.3", "poetry"},
		{"conda", "conda install -c conda-forge wandb=0.15.0", "0.15.0", "conda"},
		{"comment", "# wandb 0.15.0 required", "0.15.0", "comment"},
		{"general", "requires wandb v0.15.0 or newer", "0.15.0", "general"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractVersions(tt.text, "wandb")
			require.Len(t, got, 1)
			assert.Equal(t, tt.wantVersion, got[0].Version)
			assert.Equal(t, tt.wantPattern, got[0].Pattern)
			assert.Equal(t, 1, got[0].Line)
		})
	}
}

func TestExtractVersions_MultiLine(t *testing.T) {
	text := "setup:\npip install wandb==0.14.0\n\nwandb==0.15.0\n"
	got := ExtractVersions(text, "wandb")

	require.Len(t, got, 2)
	assert.Equal(t, 2, got[0].Line)
	assert.Equal(t, 4, got[1].Line)
}

func TestExtractVersions_OtherPackagesIgnored(t *testing.T) {
	got := ExtractVersions("pip install numpy==1.24.0", "wandb")
	assert.Empty(t, got)
}

func TestSuggestUpdate(t *testing.T) {
	text := "pip install wandb==0.10.0  # wandb 0.10.0"
	got := SuggestUpdate(text, "0.10.0", "0.17.0")
	assert.Equal(t, "pip install wandb==0.17.0  # wandb 0.17.0", got)
}

func TestIsSafeVersionUpdate(t *testing.T) {
	assert.True(t, IsSafeVersionUpdate(
		"pip install wandb==0.10.0",
		"pip install wandb==0.17.0"))

	assert.True(t, IsSafeVersionUpdate(
		"Use wandb v0.10.0 with Python 3.8",
		"Use wandb v0.17.0 with Python 3.8"))

	// A package swap is not a version update.
	assert.False(t, IsSafeVersionUpdate(
		"pip install wandb==0.10.0",
		"pip install tensorflow==0.17.0"))

	// Wording changes are not a version update.
	assert.False(t, IsSafeVersionUpdate(
		"Install wandb 0.10.0 first",
		"Install wandb 0.17.0 and log in"))
}
