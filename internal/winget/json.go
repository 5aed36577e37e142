package winget

import (
	"encoding/json"
	"strings"
)

type jsonPackage struct {
	Name             string `json:"Name"`
	ID               string `json:"Id"`
	PackageID        string `json:"PackageIdentifier"`
	Version          string `json:"Version"`
	InstalledVersion string `json:"InstalledVersion"`
	AvailableVersion string `json:"AvailableVersion"`
	Source           string `json:"Source"`
}

type jsonDocument struct {
	Sources []struct {
		Name     string        `json:"Name"`
		Packages []jsonPackage `json:"Packages"`
	} `json:"Sources"`
	Data []jsonPackage `json:"Data"`
}

// ParseUpgradeJSON parses the JSON document some winget builds print for
// `--format json`. ok is false when output is not such a document.
func ParseUpgradeJSON(output string) (pkgs []Package, ok bool) {
	trimmed := strings.TrimSpace(output)
	if i := strings.IndexByte(trimmed, '{'); i > 0 {
		trimmed = trimmed[i:]
	}
	if !strings.HasPrefix(trimmed, "{") {
		return nil, false
	}

	var doc jsonDocument
	if err := json.Unmarshal([]byte(trimmed), &doc); err != nil {
		return nil, false
	}
	if doc.Sources == nil && doc.Data == nil {
		return nil, false
	}

	pkgs = []Package{}
	for _, src := range doc.Sources {
		for _, p := range src.Packages {
			if pkg, ok := fromJSON(p, src.Name); ok {
				pkgs = append(pkgs, pkg)
			}
		}
	}
	for _, p := range doc.Data {
		if pkg, ok := fromJSON(p, ""); ok {
			pkgs = append(pkgs, pkg)
		}
	}
	return pkgs, true
}

func fromJSON(p jsonPackage, source string) (Package, bool) {
	id := p.ID
	if id == "" {
		id = p.PackageID
	}
	current := p.Version
	if current == "" {
		current = p.InstalledVersion
	}
	if id == "" || p.AvailableVersion == "" {
		return Package{}, false
	}
	if p.Source != "" {
		source = p.Source
	}
	if source == "" {
		source = DefaultSource
	}

	name := p.Name
	if name == "" {
		name = id
	}
	return Package{
		Name:             CleanName(name),
		ID:               id,
		CurrentVersion:   current,
		AvailableVersion: p.AvailableVersion,
		Source:           source,
		UnknownVersion:   IsUnknownVersion(current),
	}, true
}
