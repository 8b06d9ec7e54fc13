package conversation

import (
	"encoding/json"
)

// exportEntry renders one message as a single-key object, {"role": content}.
// The ordered array of these entries is the interchange format for saved
// conversations.
type exportEntry map[string]string

// ExportChat serialises the user-visible conversation as JSON: an ordered
// array of single-key objects, system messages excluded.
func (h *History) ExportChat() ([]byte, error) {
	return exportJSON(h.Messages(), false)
}

// ExportComplete serialises the full conversation as JSON, including the
// system messages (primary prompts, topic context, injected tool data and
// retrieval statements).
func (h *History) ExportComplete() ([]byte, error) {
	return exportJSON(h.Messages(), true)
}

func exportJSON(msgs []Message, includeSystem bool) ([]byte, error) {
	entries := make([]exportEntry, 0, len(msgs))
	for _, m := range msgs {
		if !includeSystem && m.Role == RoleSystem {
			continue
		}
		entries = append(entries, exportEntry{string(m.Role): m.Content})
	}
	return json.MarshalIndent(entries, "", "  ")
}
