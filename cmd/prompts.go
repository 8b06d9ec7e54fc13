package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/biocypher/biochatter/internal/prompt"
)

var promptsCmd = &cobra.Command{
	Use:   "prompts",
	Short: "Export and check prompt sets",
}

var promptsExportCmd = &cobra.Command{
	Use:   "export FILE",
	Short: "Write the built-in prompt set to a JSON file",
	Long: `Export writes the built-in prompts as JSON. Edit the file and pass it
back via --prompts to run any command with a customised prompt set.`,
	Args: cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		f, err := os.Create(args[0]) // #nosec G304 -- the user names their own file
		if err != nil {
			return err
		}
		if err := prompt.Default().Save(f); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Printf("prompt set written to %s\n", args[0])
		return nil
	},
}

var promptsCheckCmd = &cobra.Command{
	Use:   "check FILE",
	Short: "Validate a prompt set file",
	Args: cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		f, err := os.Open(args[0]) // #nosec G304 -- the user names their own file
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()

		set, err := prompt.Load(f)
		if err != nil {
			return err
		}
		fmt.Printf("%s is valid: %d primary, %d correcting, %d tool, %d rag, %d schema prompts\n",
			args[0],
			len(set.PrimaryModelPrompts),
			len(set.CorrectingAgentPrompts),
			len(set.ToolPrompts),
			len(set.RAGAgentPrompts),
			len(set.SchemaPrompts),
		)
		return nil
	},
}

func init() {
	promptsCmd.AddCommand(promptsExportCmd)
	promptsCmd.AddCommand(promptsCheckCmd)
	rootCmd.AddCommand(promptsCmd)
}
