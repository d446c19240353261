package proto

import "fmt"

// ProvenanceKind tags the origin of a piece of synthesized information.
type ProvenanceKind string

const (
	ProvenancePersonalVault ProvenanceKind = "personal_vault"
	ProvenanceProjectVault  ProvenanceKind = "project_vault"
	ProvenanceExternal      ProvenanceKind = "external_source"
	ProvenanceModelOnly     ProvenanceKind = "model_only"
)

// Provenance is the attribution tag carried by every agent step and every
// finalized answer. Exactly the fields relevant to the kind are set.
type Provenance struct {
	Kind        ProvenanceKind `json:"kind"`
	FilePath    string         `json:"file_path,omitempty"`
	HeadingPath string         `json:"heading_path,omitempty"`
	URL         string         `json:"url,omitempty"`
}

// NewVaultProvenance builds a provenance tag for a vault chunk.
func NewVaultProvenance(vault, filePath, headingPath string) Provenance {
	kind := ProvenanceProjectVault
	if vault == string(ScopePersonal) {
		kind = ProvenancePersonalVault
	}
	return Provenance{Kind: kind, FilePath: filePath, HeadingPath: headingPath}
}

// NewExternalProvenance builds a provenance tag for a web source.
func NewExternalProvenance(url string) Provenance {
	return Provenance{Kind: ProvenanceExternal, URL: url}
}

// ModelOnly is the provenance tag for answers produced without any
// retrieved or searched context.
func ModelOnly() Provenance {
	return Provenance{Kind: ProvenanceModelOnly}
}

// String renders a provenance tag for display and ledger storage.
func (p Provenance) String() string {
	switch p.Kind {
	case ProvenancePersonalVault, ProvenanceProjectVault:
		if p.HeadingPath != "" {
			return fmt.Sprintf("%s:%s#%s", p.Kind, p.FilePath, p.HeadingPath)
		}
		return fmt.Sprintf("%s:%s", p.Kind, p.FilePath)
	case ProvenanceExternal:
		return fmt.Sprintf("%s:%s", p.Kind, p.URL)
	case ProvenanceModelOnly:
		return string(ProvenanceModelOnly)
	default:
		return string(p.Kind)
	}
}

// HasRealSource reports whether a provenance set contains anything beyond
// model_only tags.
func HasRealSource(sources []Provenance) bool {
	for _, s := range sources {
		if s.Kind != ProvenanceModelOnly {
			return true
		}
	}
	return false
}
