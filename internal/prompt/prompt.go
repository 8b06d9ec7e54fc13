// Package prompt holds the prompt template registry: the editable sets of
// instructions that seed the primary model, the correcting agent, the
// retrieval augmentation step and the tool-data injections.
package prompt

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Sentinel errors for prompt set import.
var (
	// ErrInvalidSet indicates a prompt set file that could not be parsed.
	ErrInvalidSet = errors.New("invalid prompt set")
)

// Set is a complete prompt set. The JSON field names are the interchange
// format for saved prompt sets and must stay stable.
type Set struct {
	PrimaryModelPrompts    []string          `json:"primary_model_prompts"`
	CorrectingAgentPrompts []string          `json:"correcting_agent_prompts"`
	ToolPrompts            map[string]string `json:"tool_prompts"`
	RAGAgentPrompts        []string          `json:"rag_agent_prompts"`
	SchemaPrompts          []string          `json:"schema_prompts"`
}

// Default returns the built-in prompt set.
func Default() *Set {
	return &Set{
		PrimaryModelPrompts: []string{
			"You are an assistant to a biomedical researcher.",
			"Your role is to contextualise the user's findings with biomedical " +
				"background knowledge. If provided with a list, please give granular " +
				"feedback about the individual entities, your knowledge about them, and " +
				"what they may mean in the context of the research.",
			"You can ask the user to provide explanations and more background at any " +
				"time, for instance on the treatment a patient has received, or the " +
				"experimental background. But for now, wait for the user to ask a " +
				"question.",
		},
		CorrectingAgentPrompts: []string{
			"You are a biomedical researcher.",
			"Your task is to check for factual correctness and consistency of the " +
				"statements of another agent.",
			"Please correct the following message. Ignore references to previous " +
				"statements, only correct the current input. If there is nothing to " +
				"correct, please respond with just 'OK', and nothing else!",
		},
		ToolPrompts: map[string]string{
			"progeny": "The user has provided information in the form of a table. The rows " +
				"refer to biological entities (patients, samples, cell types, or the " +
				"like), and the columns refer to pathways. The values are pathway " +
				"activities derived using the bioinformatics method progeny. Here are " +
				"the data: {df}",
			"dorothea": "The user has provided information in the form of a table. The rows " +
				"refer to biological entities (patients, samples, cell types, or the " +
				"like), and the columns refer to transcription factors. The values are " +
				"transcription factor activities derived using the bioinformatics " +
				"method dorothea. Here are the data: {df}",
			"gsea": "The user has provided information in the form of a table. The first " +
				"column refers to biological entities (samples, cell types, or the " +
				"like), and the individual columns refer to the enrichment of " +
				"individual gene sets, such as hallmarks, derived using the " +
				"bioinformatics method gsea. Here are the data: {df}",
		},
		RAGAgentPrompts: []string{
			"The user has provided additional background information from scientific " +
				"articles.",
			"Take the following statements into account and specifically comment on " +
				"consistencies and inconsistencies with all other information available to " +
				"you: {statements}",
		},
		SchemaPrompts: []string{
			"The user has provided database access. The database contents are " +
				"detailed in the following YAML config.",
			"The top-level entries in the YAML config refer to the types of " +
				"entities included in the database. Entities can additionally have a " +
				"`properties` attribute that informs of their attached information. Here " +
				"is the config: {config}",
		},
	}
}

// Clone returns a deep copy of the set. Callers that hand a Set to an agent
// keep ownership of their copy.
func (s *Set) Clone() *Set {
	out := &Set{
		PrimaryModelPrompts:    append([]string(nil), s.PrimaryModelPrompts...),
		CorrectingAgentPrompts: append([]string(nil), s.CorrectingAgentPrompts...),
		RAGAgentPrompts:        append([]string(nil), s.RAGAgentPrompts...),
		SchemaPrompts:          append([]string(nil), s.SchemaPrompts...),
	}
	if s.ToolPrompts != nil {
		out.ToolPrompts = make(map[string]string, len(s.ToolPrompts))
		for k, v := range s.ToolPrompts {
			out.ToolPrompts[k] = v
		}
	}
	return out
}

// Save writes the set as JSON.
func (s *Set) Save(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encode prompt set: %w", err)
	}
	return nil
}

// Load reads a prompt set from JSON. The import fails closed: unknown
// top-level keys or wrongly typed values reject the whole file and leave the
// caller's current set untouched. Keys missing from a cleanly parsed file
// are filled from the defaults, so partial sets are legal.
func Load(r io.Reader) (*Set, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var loaded Set
	if err := dec.Decode(&loaded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSet, err)
	}

	// Trailing content after the object is a malformed file, not a set.
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after prompt set object", ErrInvalidSet)
	}

	def := Default()
	if loaded.PrimaryModelPrompts == nil {
		loaded.PrimaryModelPrompts = def.PrimaryModelPrompts
	}
	if loaded.CorrectingAgentPrompts == nil {
		loaded.CorrectingAgentPrompts = def.CorrectingAgentPrompts
	}
	if loaded.ToolPrompts == nil {
		loaded.ToolPrompts = def.ToolPrompts
	}
	if loaded.RAGAgentPrompts == nil {
		loaded.RAGAgentPrompts = def.RAGAgentPrompts
	}
	if loaded.SchemaPrompts == nil {
		loaded.SchemaPrompts = def.SchemaPrompts
	}
	return &loaded, nil
}

// Placeholder names used by the template sets.
const (
	PlaceholderData       = "{df}"
	PlaceholderStatements = "{statements}"
	PlaceholderConfig     = "{config}"
)

// Substitute replaces a single named placeholder in a template. Substitution
// is one-shot string replacement; there is no recursion and no escaping.
func Substitute(template, placeholder, value string) string {
	return strings.ReplaceAll(template, placeholder, value)
}
