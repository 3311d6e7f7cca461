package main

import (
	"github.com/aretw0/marginalia/internal/cli"
	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start <session-id> <document.xml|->",
	Short: "Start an edit session from an XML document",
	Long: `Stores the document as a new session. Markers already present in the document
are adopted and can be undone.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(app *cli.App) error {
			return app.Start(cmd.Context(), args[0], args[1])
		})
	},
}

var applyCmd = &cobra.Command{
	Use:   "apply <session-id> <script.yaml|->",
	Short: "Apply an edit script to a session",
	Long: `Runs a YAML or JSON list of steps (add-element, set-text, breakpoint, undo, ...)
against the session. Either every step is saved or none is.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(app *cli.App) error {
			return app.Apply(cmd.Context(), args[0], args[1])
		})
	},
}

var undoCmd = &cobra.Command{
	Use:   "undo <session-id>",
	Short: "Undo tracked changes",
	Long:  `Undoes the last change by default, every change after --to, or everything through the last breakpoint.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var opts cli.UndoOptions
		opts.Breakpoint, _ = cmd.Flags().GetBool("breakpoint")
		if cmd.Flags().Changed("to") {
			to, _ := cmd.Flags().GetInt("to")
			opts.To = &to
		}
		return withApp(cmd, func(app *cli.App) error {
			return app.Undo(cmd.Context(), args[0], opts)
		})
	},
}

var cleanCmd = &cobra.Command{
	Use:   "clean [session-id]",
	Short: "Print a document without change markers",
	Long:  `Prints the session document without markers, or strips the markers of --file without touching the store.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if file, _ := cmd.Flags().GetString("file"); file != "" {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return cli.CleanFile(cmd.OutOrStdout(), file, cfg.Tracking.Prefix)
		}
		if len(args) == 0 {
			return cmd.Usage()
		}
		return withApp(cmd, func(app *cli.App) error {
			return app.Clean(cmd.Context(), args[0])
		})
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect [session-id]",
	Short: "Show the undo log of a session or file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		file, _ := cmd.Flags().GetString("file")
		if file == "" && len(args) == 0 {
			return cmd.Usage()
		}
		return withApp(cmd, func(app *cli.App) error {
			if file != "" {
				return app.InspectFile(file, format)
			}
			return app.Inspect(cmd.Context(), args[0], format)
		})
	},
}

func init() {
	undoCmd.Flags().Int("to", 0, "Undo every change after this step")
	undoCmd.Flags().Bool("breakpoint", false, "Undo through the most recent breakpoint")
	undoCmd.MarkFlagsMutuallyExclusive("to", "breakpoint")

	cleanCmd.Flags().String("file", "", "Strip markers from this XML file instead of a session")

	inspectCmd.Flags().String("file", "", "Inspect this XML file instead of a session")
	inspectCmd.Flags().StringP("format", "f", cli.FormatMarkdown, "Output format: markdown, mermaid or json")

	rootCmd.AddCommand(startCmd, applyCmd, undoCmd, cleanCmd, inspectCmd)
}
