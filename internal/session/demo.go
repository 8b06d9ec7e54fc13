package session

// DemoScript returns canned inputs that walk the full setup flow and ask a
// first question, for showcasing the interface without typing. The script
// drives the exact same handlers as live input.
func DemoScript() []string {
	return []string{
		CommunityKeyword,
		"Ada",
		"the role of TP53 in pancreatic cancer",
		"no",
		"Upregulated: KRAS signalling, EMT; downregulated: apoptosis.",
		"What could the combination of these changes mean for disease progression?",
	}
}

// DemoPlayer replays a script one input at a time.
type DemoPlayer struct {
	script []string
	pos    int
}

// NewDemoPlayer creates a player over the given script, or the default
// DemoScript when script is nil.
func NewDemoPlayer(script []string) *DemoPlayer {
	if script == nil {
		script = DemoScript()
	}
	return &DemoPlayer{script: script}
}

// Next returns the next scripted input. ok is false once the script is
// exhausted.
func (p *DemoPlayer) Next() (input string, ok bool) {
	if p.pos >= len(p.script) {
		return "", false
	}
	input = p.script[p.pos]
	p.pos++
	return input, true
}

// Remaining reports how many scripted inputs are left.
func (p *DemoPlayer) Remaining() int {
	return len(p.script) - p.pos
}
