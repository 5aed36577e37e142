package winget

import (
	"regexp"
	"strings"
	"unicode"
)

// Package is one row of the upgrade table.
type Package struct {
	Name             string `json:"name"`
	ID               string `json:"id"`
	CurrentVersion   string `json:"current_version"`
	AvailableVersion string `json:"available_version"`
	Source           string `json:"source"`

	// Pinned is set for packages listed under the pinned section or in `winget pin list`.
	Pinned bool `json:"pinned,omitempty"`

	// UnknownVersion is set when winget cannot determine the installed version.
	UnknownVersion bool `json:"unknown_version,omitempty"`

	// ExplicitTarget is set for packages that `upgrade --all` skips.
	ExplicitTarget bool `json:"explicit_target,omitempty"`
}

// DefaultSource is reported for rows that have no source column.
const DefaultSource = "winget"

type section int

const (
	sectionDefault section = iota
	sectionExplicit
	sectionUnknown
	sectionPinned
)

type tableRow struct {
	fields  []string
	section section
}

var (
	multiSpace     = regexp.MustCompile(`\s{2,}`)
	versionPattern = regexp.MustCompile(`\d+(\.\d+)+`)
	parenthesised  = regexp.MustCompile(`\s*\([^)]*\)`)
	trailingVer    = regexp.MustCompile(`\s+v?\d+(\.\d+)+\S*$`)
)

// noUpdateMarkers mean the command succeeded with an empty result.
var noUpdateMarkers = []string{
	"no updates found",
	"no available upgrades",
	"no installed package found matching input criteria",
	"no applicable upgrade found",
	"no applicable update found",
}

// summaryMarkers identify footer and hint lines that are never table rows.
var summaryMarkers = []string{
	"upgrades available",
	"upgrade available",
	"package(s) have",
	"packages have",
	"prevent upgrade",
	"explicit targeting",
	"no updates found",
	"--include-unknown",
	"--include-pinned",
}

// ParseUpgradeTable parses the text table printed by `winget update`.
// Rows under the explicit-targeting, unknown-version and pinned sections
// are tagged accordingly. Nothing is filtered here.
func ParseUpgradeTable(output string) []Package {
	if NoUpdates(output) {
		return []Package{}
	}

	rows := parseTable(output)
	pkgs := make([]Package, 0, len(rows))
	for _, row := range rows {
		if pkg, ok := rowToPackage(row); ok {
			pkgs = append(pkgs, pkg)
		}
	}
	return pkgs
}

// ParsePinList extracts package IDs from `winget pin list`. The ID is the
// second column.
func ParsePinList(output string) map[string]bool {
	pins := make(map[string]bool)
	for _, row := range parseTable(output) {
		if len(row.fields) < 2 {
			continue
		}
		if id := row.fields[1]; id != "" && !strings.ContainsAny(id, " \t") {
			pins[id] = true
		}
	}
	return pins
}

// NoUpdates reports whether output states that nothing is upgradable.
func NoUpdates(output string) bool {
	lower := strings.ToLower(output)
	for _, m := range noUpdateMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// HasTable reports whether output contains a header ruler, i.e. winget
// printed a table rather than an error.
func HasTable(output string) bool {
	for _, line := range cleanLines(output) {
		if isRuler(strings.TrimSpace(line)) {
			return true
		}
	}
	return false
}

// CleanName strips parenthesised qualifiers and a trailing version from a
// display name: "7-Zip 22.01 (x64)" becomes "7-Zip".
func CleanName(name string) string {
	cleaned := parenthesised.ReplaceAllString(name, "")
	cleaned = trailingVer.ReplaceAllString(cleaned, "")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return strings.TrimSpace(name)
	}
	return cleaned
}

func parseTable(output string) []tableRow {
	lines := cleanLines(output)

	var rows []tableRow
	var starts []int
	sec := sectionDefault
	inTable := false

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if isRuler(trimmed) {
			if hdr := prevNonBlank(lines, i); hdr >= 0 {
				starts = columnStarts(lines[hdr])
				inTable = len(starts) >= 2
			}
			continue
		}

		if next := nextNonBlank(lines, i); next >= 0 && isRuler(strings.TrimSpace(lines[next])) {
			// Header line, columns are taken when the ruler is reached.
			continue
		}

		if s, ok := sectionMarker(trimmed); ok {
			sec = s
			inTable = false
			continue
		}

		if isSummary(trimmed) {
			continue
		}

		if isEnglishHeader(trimmed) {
			starts = columnStarts(line)
			inTable = true
			continue
		}

		if !inTable {
			continue
		}

		if fields := splitRow(line, starts); len(fields) >= 2 {
			rows = append(rows, tableRow{fields: fields, section: sec})
		}
	}

	return rows
}

func rowToPackage(row tableRow) (Package, bool) {
	f := row.fields
	if len(f) < 4 {
		return Package{}, false
	}

	pkg := Package{
		Name:             CleanName(f[0]),
		ID:               f[1],
		CurrentVersion:   f[2],
		AvailableVersion: f[3],
		Source:           DefaultSource,
	}
	if len(f) > 4 && f[4] != "" {
		pkg.Source = f[4]
	}
	if pkg.ID == "" || strings.ContainsAny(pkg.ID, " \t") {
		return Package{}, false
	}

	switch row.section {
	case sectionExplicit:
		pkg.ExplicitTarget = true
	case sectionUnknown:
		pkg.UnknownVersion = true
	case sectionPinned:
		pkg.Pinned = true
	}
	if IsUnknownVersion(pkg.CurrentVersion) {
		pkg.UnknownVersion = true
	}

	return pkg, true
}

// splitRow cuts a row at the header's column offsets. When the row does not
// line up with the header (wide characters in a name shift every column) it
// falls back to splitting on runs of two or more spaces.
func splitRow(line string, starts []int) []string {
	r := []rune(line)

	if aligned(r, starts) {
		fields := make([]string, len(starts))
		for k, st := range starts {
			end := len(r)
			if k+1 < len(starts) && starts[k+1] < end {
				end = starts[k+1]
			}
			if st < len(r) && st < end {
				fields[k] = strings.TrimSpace(string(r[st:end]))
			}
		}
		return fields
	}

	parts := multiSpace.Split(strings.TrimSpace(line), -1)
	// Available and Source are sometimes separated by a single space.
	if len(starts) >= 5 && len(parts) == 4 {
		if avail, src, ok := strings.Cut(parts[3], " "); ok {
			parts = append(parts[:3], avail, strings.TrimSpace(src))
		}
	}
	return parts
}

// aligned reports whether every header column boundary falls on padding in
// the row (winget separates cells by at least one space) and the row reaches
// the second-to-last column.
func aligned(r []rune, starts []int) bool {
	if len(starts) < 2 {
		return false
	}
	if len(r) <= starts[len(starts)-2] {
		return false
	}
	for _, st := range starts[1:] {
		if st < len(r) && !unicode.IsSpace(r[st-1]) {
			return false
		}
	}
	return true
}

// columnStarts returns the rune offsets at which header words begin.
func columnStarts(header string) []int {
	r := []rune(header)
	var starts []int
	for j := range r {
		if r[j] == ' ' {
			continue
		}
		if j == 0 || r[j-1] == ' ' {
			starts = append(starts, j)
		}
	}
	return starts
}

// cleanLines normalizes line endings and removes progress spinner residue:
// winget redraws its spinner with carriage returns and backspaces.
func cleanLines(output string) []string {
	output = strings.ReplaceAll(output, "\r\n", "\n")
	raw := strings.Split(output, "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		if strings.Contains(l, "\r") {
			segs := strings.Split(l, "\r")
			l = ""
			for i := len(segs) - 1; i >= 0; i-- {
				if strings.TrimSpace(segs[i]) != "" {
					l = segs[i]
					break
				}
			}
		}
		l = strings.Map(func(r rune) rune {
			if r == '\b' || r == '\uFEFF' {
				return -1
			}
			return r
		}, l)
		l = strings.TrimRight(l, " \t")
		if t := strings.TrimSpace(l); isSpinner(t) || strings.ContainsAny(t, "█▒") {
			l = ""
		}
		lines = append(lines, l)
	}
	return lines
}

func isSpinner(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch r {
		case '-', '\\', '|', '/', ' ':
		default:
			return false
		}
	}
	// A ruler is all dashes and must survive.
	return strings.ContainsAny(s, `\|/`) || len(s) < 3
}

func isRuler(s string) bool {
	if len(s) < 3 {
		return false
	}
	for _, r := range s {
		if r != '-' && r != '─' {
			return false
		}
	}
	return true
}

func isSummary(s string) bool {
	lower := strings.ToLower(s)
	for _, m := range summaryMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func sectionMarker(s string) (section, bool) {
	lower := strings.ToLower(s)
	if !strings.HasPrefix(lower, "the following packages") {
		return sectionDefault, false
	}
	switch {
	case strings.Contains(lower, "explicit targeting"):
		return sectionExplicit, true
	case strings.Contains(lower, "cannot be determined"):
		return sectionUnknown, true
	case strings.Contains(lower, "pins that prevent upgrade"), strings.Contains(lower, "pinned"):
		return sectionPinned, true
	}
	return sectionDefault, true
}

// isEnglishHeader recognizes a header that has no ruler under it.
func isEnglishHeader(s string) bool {
	if strings.HasPrefix(s, "Name") {
		return strings.Contains(s, " Id ") && strings.Contains(s, " Version") && strings.Contains(s, " Available")
	}
	if strings.HasPrefix(s, "Package") {
		return strings.Contains(s, " ID ") && strings.Contains(s, " Version")
	}
	return false
}

func prevNonBlank(lines []string, i int) int {
	for j := i - 1; j >= 0; j-- {
		if strings.TrimSpace(lines[j]) != "" {
			return j
		}
	}
	return -1
}

func nextNonBlank(lines []string, i int) int {
	for j := i + 1; j < len(lines); j++ {
		if strings.TrimSpace(lines[j]) != "" {
			return j
		}
	}
	return -1
}
