// Package session drives the conversational setup flow: a small state
// machine that walks the user from API key entry through naming, research
// context and data input into the chat loop.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/biocypher/biochatter/internal/chat"
	"github.com/biocypher/biochatter/internal/prompt"
	"github.com/biocypher/biochatter/internal/stats"
)

// State identifies the current step of the setup flow.
type State string

// Session states, in the order the flow normally visits them.
const (
	StateGettingKey                 State = "getting_key"
	StateGettingName                State = "getting_name"
	StateGettingContext             State = "getting_context"
	StateGettingDataFileInput       State = "getting_data_file_input"
	StateGettingDataFileDescription State = "getting_data_file_description"
	StateChat                       State = "chat"
)

// EventKind classifies controller output events.
type EventKind string

const (
	// EventNotice is assistant guidance or status text.
	EventNotice EventKind = "notice"
	// EventReply is a primary model reply.
	EventReply EventKind = "reply"
	// EventCorrection is correcting-agent output.
	EventCorrection EventKind = "correction"
)

// Event is one unit of output produced by Handle.
type Event struct {
	Kind EventKind
	Text string
}

// CommunityKeyword is the input that selects the shared community key
// instead of an individual API key.
const CommunityKeyword = "community"

const enterQuestions = "The model will be with you shortly. Please enter " +
	"your questions below. These can be general, such as 'explain these " +
	"results', or specific. You can follow up on the answers with more questions."

// SessionState is the mutable state of one session. It carries everything
// the handlers need between inputs; there is no package-level state.
type SessionState struct {
	State        State
	UserName     string
	Context      string
	CommunityKey bool

	// manualInput marks that the next data description is raw data, not an
	// addendum to already-injected tool output.
	manualInput bool
}

// NewSessionState returns a fresh session at the key-entry step.
func NewSessionState() *SessionState {
	return &SessionState{State: StateGettingKey}
}

// KeyValidator checks an API key with the provider.
type KeyValidator func(ctx context.Context, key string) error

// Config holds the controller dependencies.
type Config struct {
	Agent       *chat.Agent
	ValidateKey KeyValidator
	Stats       stats.Recorder
	Model       string
	Logger      *slog.Logger
}

func (c *Config) validate() error {
	if c.Agent == nil {
		return errors.New("chat agent is required")
	}
	if c.ValidateKey == nil {
		return errors.New("key validator is required")
	}
	return nil
}

// Controller consumes one line of user input at a time and advances the
// session state machine, emitting output events for the front end to
// render.
type Controller struct {
	agent       *chat.Agent
	validateKey KeyValidator
	stats       stats.Recorder
	model       string
	logger      *slog.Logger

	session *SessionState
}

// New creates a session controller in the key-entry state.
func New(cfg Config) (*Controller, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Stats
	if recorder == nil {
		recorder = stats.NopRecorder{}
	}
	return &Controller{
		agent:       cfg.Agent,
		validateKey: cfg.ValidateKey,
		stats:       recorder,
		model:       cfg.Model,
		logger:      logger.With("component", "session"),
		session:     NewSessionState(),
	}, nil
}

// State returns the current session state.
func (c *Controller) State() State {
	return c.session.State
}

// Session exposes the session state for display.
func (c *Controller) Session() *SessionState {
	return c.session
}

// Agent exposes the underlying chat agent for runtime toggles.
func (c *Controller) Agent() *chat.Agent {
	return c.agent
}

// Reset discards the session and returns to the key-entry step. The agent
// is reset along with it so the next setup flow can reseed the prompts.
func (c *Controller) Reset() *SessionState {
	c.agent.Reset()
	c.session = NewSessionState()
	return c.session
}

// ExportConversation serialises the conversation of this session as JSON.
// complete includes the system messages.
func (c *Controller) ExportConversation(complete bool) ([]byte, error) {
	if complete {
		return c.agent.History().ExportComplete()
	}
	return c.agent.History().ExportChat()
}

// Greeting returns the opening assistant messages for a new session.
func (c *Controller) Greeting() []Event {
	return []Event{
		notice("Welcome to BioChatter!"),
		notice("Please enter your API key. We will not store your key, and " +
			"only use it for the requests made in this session. Enter " +
			"'community' to use the rate-limited community key instead."),
	}
}

// Handle consumes one unit of input and advances the state machine. The
// returned events are rendered in order.
func (c *Controller) Handle(ctx context.Context, input string) ([]Event, error) {
	input = strings.TrimSpace(input)

	switch c.session.State {
	case StateGettingKey:
		return c.handleKey(ctx, input)
	case StateGettingName:
		return c.handleName(input)
	case StateGettingContext:
		return c.handleContext(input)
	case StateGettingDataFileInput:
		return c.handleDataFileInput(input)
	case StateGettingDataFileDescription:
		return c.handleDataFileDescription(input)
	case StateChat:
		return c.handleChat(ctx, input)
	default:
		return nil, fmt.Errorf("unknown session state %q", c.session.State)
	}
}

func (c *Controller) handleKey(ctx context.Context, input string) ([]Event, error) {
	if strings.EqualFold(input, CommunityKeyword) {
		c.session.CommunityKey = true
		c.logger.Info("session using community key")
	} else {
		if err := c.validateKey(ctx, input); err != nil {
			c.logger.Warn("api key validation failed", "error", err)
			return []Event{
				notice("The API key you entered is not valid. Please try again."),
			}, nil
		}
	}

	c.session.State = StateGettingName
	return []Event{
		notice("Thank you! I am the model's assistant, and we will be going " +
			"through some initial setup steps. To get started, could you " +
			"please tell me your name?"),
	}, nil
}

func (c *Controller) handleName(input string) ([]Event, error) {
	c.session.UserName = input
	c.session.State = StateGettingContext
	return []Event{
		notice(fmt.Sprintf("Thank you, %s! What is the context of your inquiry? "+
			"For instance, this could be a disease, an experimental design, "+
			"or a research area.", input)),
	}, nil
}

func (c *Controller) handleContext(input string) ([]Event, error) {
	if err := c.agent.Setup(input); err != nil {
		return nil, fmt.Errorf("set up conversation: %w", err)
	}
	c.session.Context = input
	c.session.State = StateGettingDataFileInput
	return []Event{
		notice(fmt.Sprintf("You have selected '%s' as your context. Do you want "+
			"to provide input files from analytic methods? If so, please enter "+
			"the file path; if not, please enter 'no'. You will still be able "+
			"to provide free text information about your results.", input)),
	}, nil
}

func (c *Controller) handleDataFileInput(input string) ([]Event, error) {
	if isNo(input) {
		c.session.manualInput = true
		c.session.State = StateGettingDataFileDescription
		return []Event{
			notice("Please provide a list of biological data points (activities " +
				"of pathways or transcription factors, expression of " +
				"transcripts or proteins), optionally with directional " +
				"information and/or a contrast. Since you did not provide any " +
				"tool data, please try to be as specific as possible."),
		}, nil
	}

	data, err := os.ReadFile(input) // #nosec G304 -- the user names their own file
	if err != nil {
		return []Event{
			notice(fmt.Sprintf("I could not read '%s' (%v). Please enter a valid "+
				"file path, or 'no' to continue without files.", input, err)),
		}, nil
	}

	kind := prompt.ToolKindFromFilename(input)
	if kind == prompt.ToolUnknown {
		c.session.manualInput = true
		c.session.State = StateGettingDataFileDescription
		return []Event{
			notice(fmt.Sprintf("Sorry, '%s' is not among the tools I know "+
				"(progeny, dorothea, gsea). Please provide information about "+
				"the data below (what are rows and columns, what are the "+
				"values, etc.).", input)),
		}, nil
	}

	if err := c.agent.SetDataInputTool(string(data), kind); err != nil {
		return nil, fmt.Errorf("inject tool data: %w", err)
	}

	c.session.manualInput = false
	c.session.State = StateGettingDataFileDescription
	return []Event{
		notice(fmt.Sprintf("Thank you! I have read the '%s' results.", kind)),
		notice("Would you like to provide additional information, for instance " +
			"on a contrast or experimental design? If so, please enter it " +
			"below; if not, please enter 'no'."),
	}, nil
}

func (c *Controller) handleDataFileDescription(input string) ([]Event, error) {
	if !c.session.manualInput && isNo(input) {
		c.session.State = StateChat
		return []Event{
			notice("Okay, I will use the information from the tool without " +
				"further specification."),
			notice(enterQuestions),
		}, nil
	}

	c.agent.SetDataInputManual(input)
	c.session.State = StateChat
	return []Event{
		notice(fmt.Sprintf("Thank you! You have provided data input: '%s'.", input)),
		notice(enterQuestions),
	}, nil
}

func (c *Controller) handleChat(ctx context.Context, input string) ([]Event, error) {
	result, err := c.agent.Query(ctx, input)
	if err != nil {
		if result == nil {
			return nil, err
		}
		// Provider failures surface as the reply text; the session stays in
		// the chat state and the next input retries normally.
		return []Event{
			notice("There was an error talking to the model: " + result.Reply),
		}, nil
	}

	var events []Event
	if result.RAGNotice != nil {
		events = append(events, notice(
			"Retrieval augmentation was skipped for this query: "+result.RAGNotice.Error()))
	}
	events = append(events, Event{Kind: EventReply, Text: result.Reply})
	if result.Correction != "" {
		events = append(events, Event{Kind: EventCorrection, Text: result.Correction})
	}

	if c.session.CommunityKey && result.Usage != nil {
		if err := c.stats.Increment(ctx, stats.CommunityUser, c.model, *result.Usage); err != nil {
			c.logger.Warn("usage accounting failed", "error", err)
		}
	}

	return events, nil
}

func isNo(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "n", "no", "no.", "none", "skip":
		return true
	default:
		return false
	}
}

func notice(text string) Event {
	return Event{Kind: EventNotice, Text: text}
}
