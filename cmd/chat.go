package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/biocypher/biochatter/internal/app"
	"github.com/biocypher/biochatter/internal/config"
	"github.com/biocypher/biochatter/internal/session"
)

var demoMode bool

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().BoolVar(&demoMode, "demo", false,
		"walk through a scripted demo session instead of reading input")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	prompts, err := loadPrompts()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	reader := bufio.NewScanner(os.Stdin)

	// The demo always runs on the shared key; its script enters the
	// community keyword itself.
	if demoMode {
		cfg.CommunityKey = true
	}

	// Without a configured key the session starts by asking for one; the
	// provider client needs it before anything else can be built.
	seed := cfg.APIKey
	if cfg.CommunityKey {
		seed = session.CommunityKeyword
	}
	if seed == "" {
		seed, err = readKey(reader, cfg)
		if err != nil {
			return err
		}
	}

	// Sessions on the shared key pick it up from the environment; it is
	// never typed in.
	if cfg.CommunityKey && cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("BIOCHATTER_COMMUNITY_API_KEY")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a, err := app.Setup(ctx, cfg, prompts, logger)
	if err != nil {
		return fmt.Errorf("setting up application: %w", err)
	}
	defer func() { _ = a.Close() }()

	ctrl, err := a.NewController()
	if err != nil {
		return err
	}

	if demoMode {
		renderEvents(ctrl.Greeting())
		return runDemo(ctx, ctrl)
	}

	// Replay the key through the state machine so the session lands on the
	// name question.
	events, err := ctrl.Handle(ctx, seed)
	if err != nil {
		return err
	}
	renderEvents(events)
	if ctrl.State() == session.StateGettingKey {
		return errors.New("the configured API key was rejected by the provider")
	}

	return runLoop(ctx, reader, ctrl, a)
}

// readKey prompts for an API key before the application is built. The
// community keyword flips the session onto the shared key.
func readKey(reader *bufio.Scanner, cfg *config.Config) (string, error) {
	fmt.Println("Welcome to BioChatter!")
	fmt.Println("Please enter your API key. We will not store your key, and " +
		"only use it for the requests made in this session. Enter 'community' " +
		"to use the rate-limited community key instead.")

	for {
		fmt.Print("\n> ")
		if !reader.Scan() {
			return "", errors.New("no API key provided")
		}
		input := strings.TrimSpace(reader.Text())
		if input == "" {
			continue
		}
		if strings.EqualFold(input, session.CommunityKeyword) {
			cfg.CommunityKey = true
			return session.CommunityKeyword, nil
		}
		cfg.APIKey = input
		return input, nil
	}
}

func renderEvents(events []session.Event) {
	for _, e := range events {
		switch e.Kind {
		case session.EventReply:
			fmt.Println()
			fmt.Println(e.Text)
		case session.EventCorrection:
			fmt.Println()
			fmt.Println("Correction: " + e.Text)
		default:
			fmt.Println(e.Text)
		}
	}
}

func runLoop(ctx context.Context, reader *bufio.Scanner, ctrl *session.Controller, a *app.App) error {
	for {
		fmt.Print("\n> ")
		if !reader.Scan() {
			break
		}
		input := strings.TrimSpace(reader.Text())
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			exit, err := handleCommand(input, ctrl, a)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}
			if exit {
				break
			}
			continue
		}

		events, err := ctrl.Handle(ctx, input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}
		renderEvents(events)
	}

	if err := reader.Err(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("reading input: %w", err)
	}
	fmt.Println("\nGoodbye!")
	return nil
}

func runDemo(ctx context.Context, ctrl *session.Controller) error {
	player := session.NewDemoPlayer(nil)
	for {
		input, ok := player.Next()
		if !ok {
			return nil
		}
		fmt.Printf("\n> %s\n", input)
		events, err := ctrl.Handle(ctx, input)
		if err != nil {
			return err
		}
		renderEvents(events)
	}
}

// handleCommand runs a slash command. The returned bool requests exit.
func handleCommand(input string, ctrl *session.Controller, a *app.App) (bool, error) {
	parts := strings.Fields(input)

	switch parts[0] {
	case "/exit", "/quit":
		return true, nil

	case "/help":
		fmt.Println("Commands:")
		fmt.Println("  /help             show this help")
		fmt.Println("  /exit             leave the session")
		fmt.Println("  /reset            discard the conversation and restart setup")
		fmt.Println("  /rag on|off       toggle retrieval augmentation")
		fmt.Println("  /correct on|off   toggle the correcting agent")
		fmt.Println("  /export FILE      save the conversation (without system messages)")
		fmt.Println("  /exportall FILE   save the conversation including system messages")
		return false, nil

	case "/reset":
		ctrl.Reset()
		renderEvents(ctrl.Greeting())
		return false, nil

	case "/rag":
		on, err := parseToggle(parts)
		if err != nil {
			return false, err
		}
		if on && a.RAG == nil {
			return false, errors.New("no database configured; set database.url to enable retrieval")
		}
		ctrl.Agent().SetRAGEnabled(on)
		fmt.Printf("Retrieval augmentation %s.\n", onOff(on))
		return false, nil

	case "/correct":
		on, err := parseToggle(parts)
		if err != nil {
			return false, err
		}
		ctrl.Agent().SetCorrectionEnabled(on)
		fmt.Printf("Correcting agent %s.\n", onOff(on))
		return false, nil

	case "/export", "/exportall":
		if len(parts) != 2 {
			return false, fmt.Errorf("usage: %s FILE", parts[0])
		}
		return false, exportConversation(ctrl, parts[1], parts[0] == "/exportall")

	default:
		return false, fmt.Errorf("unknown command %s, try /help", parts[0])
	}
}

func parseToggle(parts []string) (bool, error) {
	if len(parts) != 2 {
		return false, fmt.Errorf("usage: %s on|off", parts[0])
	}
	switch strings.ToLower(parts[1]) {
	case "on":
		return true, nil
	case "off":
		return false, nil
	default:
		return false, fmt.Errorf("usage: %s on|off", parts[0])
	}
}

func onOff(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}

func exportConversation(ctrl *session.Controller, path string, complete bool) error {
	data, err := ctrl.ExportConversation(complete)
	if err != nil {
		return fmt.Errorf("serialising conversation: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	fmt.Printf("Conversation saved to %s.\n", path)
	return nil
}
