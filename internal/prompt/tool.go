package prompt

import "strings"

// ToolKind identifies a supported tool-output format for data injection.
// Callers select the kind explicitly; matching a kind to a filename is an
// edge concern handled by ToolKindFromFilename.
type ToolKind string

// Supported tool kinds.
const (
	ToolProgeny  ToolKind = "progeny"
	ToolDorothea ToolKind = "dorothea"
	ToolGsea     ToolKind = "gsea"
	ToolUnknown  ToolKind = "unknown"
)

// ToolTemplate returns the tool prompt template for the given kind, or
// false when the set carries no template for it.
func (s *Set) ToolTemplate(kind ToolKind) (string, bool) {
	if kind == ToolUnknown {
		return "", false
	}
	tmpl, ok := s.ToolPrompts[string(kind)]
	return tmpl, ok
}

// ToolKindFromFilename maps an uploaded file's name to a tool kind by
// case-insensitive substring match against the known kinds. Returns
// ToolUnknown when no kind matches.
func ToolKindFromFilename(name string) ToolKind {
	lower := strings.ToLower(name)
	for _, kind := range []ToolKind{ToolProgeny, ToolDorothea, ToolGsea} {
		if strings.Contains(lower, string(kind)) {
			return kind
		}
	}
	return ToolUnknown
}
