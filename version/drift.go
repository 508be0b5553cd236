package version

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Drift rule codes.
const (
	RuleMajorDrift = "SDKVER_MAJOR"
	RuleMinorDrift = "SDKVER_MINOR"
	RuleOldVersion = "SDKVER_OLD"
)

// Severity levels attached to drift findings.
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
	SeverityLow    = "low"
)

// Drift describes how far a documented version lags the latest release.
type Drift struct {
	Documented   string
	Latest       string
	MajorsBehind int
	MinorsBehind int
	RuleCode     string
	Severity     string
}

// Policy is the drift tolerance: how many major and minor versions behind
// documentation may be before it is flagged.
type Policy struct {
	AllowMajorsBehind int
	AllowMinorsBehind int
}

// CheckDrift compares a documented version against the latest release under
// the given policy. It returns nil when the documented version is within
// tolerance or not behind at all.
func CheckDrift(documented string, latest *semver.Version, policy Policy) (*Drift, error) {
	doc, err := semver.NewVersion(documented)
	if err != nil {
		return nil, fmt.Errorf("parse documented version %q: %w", documented, err)
	}

	if !doc.LessThan(latest) {
		return nil, nil
	}

	majorsBehind := int(latest.Major() - doc.Major())
	minorsBehind := 0
	if majorsBehind == 0 {
		minorsBehind = int(latest.Minor() - doc.Minor())
	}

	d := &Drift{
		Documented:   doc.String(),
		Latest:       latest.String(),
		MajorsBehind: majorsBehind,
		MinorsBehind: minorsBehind,
	}

	switch {
	case majorsBehind > policy.AllowMajorsBehind:
		d.RuleCode = RuleMajorDrift
		d.Severity = SeverityHigh
	case majorsBehind == 0 && minorsBehind > policy.AllowMinorsBehind:
		d.RuleCode = RuleMinorDrift
		if minorsBehind > 3 {
			d.Severity = SeverityMedium
		} else {
			d.Severity = SeverityLow
		}
	case majorsBehind > 0 || minorsBehind > 0:
		// Behind, but within tolerance: informational only.
		d.RuleCode = RuleOldVersion
		d.Severity = SeverityLow
	default:
		// Patch-level drift is not worth an issue.
		return nil, nil
	}

	return d, nil
}

// Mention is one version reference found in text.
type Mention struct {
	// Version is the referenced version string.
	Version string
	// Line is the 1-indexed line within the scanned text.
	Line int
	// Pattern names the syntactic form the version appeared in.
	Pattern string
}

// mentionPatterns pair a pattern name with a regex whose first capture group
// is the version. %s is replaced with the quoted package name.
var mentionPatterns = []struct {
	name string
	re   string
}{
	{"pip", `pip3?\s+install\s+(?:-U\s+|--upgrade\s+)?%s==([0-9][\w.]*)`},
	{"requirements", `(?m)^\s*%s\s*[=~><]=\s*([0-9][\w.]*)`},
	{"poetry", `%s\s*=\s*"[\^~]?([0-9][\w.]*)"`},
	{"conda", `conda\s+install\s+(?:-c\s+\S+\s+)?%s=([0-9][\w.]*)`},
	{"comment", `#\s*%s\s+v?([0-9]+\.[\w.]*)`},
	{"general", `%s\s+v([0-9]+\.[\w.]*)`},
}

// ExtractVersions finds version references to the package in text, one
// mention per matched reference. A line can yield at most one mention; the
// most specific pattern wins.
func ExtractVersions(text, pkg string) []Mention {
	type compiled struct {
		name string
		re   *regexp.Regexp
	}
	patterns := make([]compiled, 0, len(mentionPatterns))
	for _, p := range mentionPatterns {
		patterns = append(patterns, compiled{
			name: p.name,
			re:   regexp.MustCompile(fmt.Sprintf(p.re, regexp.QuoteMeta(pkg))),
		})
	}

	var mentions []Mention
	for i, line := range strings.Split(text, "\n") {
		for _, p := range patterns {
			m := p.re.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			mentions = append(mentions, Mention{
				Version: m[1],
				Line:    i + 1,
				Pattern: p.name,
			})
			break
		}
	}
	return mentions
}

// SuggestUpdate rewrites every occurrence of the old version in text with
// the new one.
func SuggestUpdate(text, oldVersion, newVersion string) string {
	if oldVersion == "" || oldVersion == newVersion {
		return text
	}
	re := regexp.MustCompile(regexp.QuoteMeta(oldVersion) + `\b`)
	return re.ReplaceAllString(text, newVersion)
}

// versionTokenRe matches version-number tokens, including trailing
// pre-release markers like "1.2.0rc1".
var versionTokenRe = regexp.MustCompile(`[0-9]+(?:\.[0-9]+)*(?:\.[0-9]+)*(?:[a-zA-Z][0-9]*)?`)

// Tokens returns the version-number tokens of s in order.
func Tokens(s string) []string {
	return versionTokenRe.FindAllString(s, -1)
}

// IsSafeVersionUpdate reports whether proposed differs from original only in
// version-number tokens. Both strings are masked by replacing every version
// token with a placeholder and then compared. This is the safety gate that
// lets version-bump suggestions through while rejecting any edit that also
// changed surrounding text.
func IsSafeVersionUpdate(original, proposed string) bool {
	mask := func(s string) string {
		return versionTokenRe.ReplaceAllString(s, "VERSION")
	}
	return mask(original) == mask(proposed)
}
