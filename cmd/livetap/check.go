package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/holon-run/livetap/pkg/preflight"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that the live backend is reachable",
	Long: `Check probes the control and event endpoints from the effective
configuration and reports one line per endpoint. It exits non-zero when an
endpoint is unreachable.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := initLogger(cfg); err != nil {
			return err
		}

		checker := preflight.NewChecker(preflight.Config{
			ControlURL: cfg.Control.URL,
			EventsURL:  cfg.Events.URL,
			Timeout:    cfg.Control.Timeout,
		})

		out := cmd.OutOrStdout()
		r := lipgloss.NewRenderer(out)
		levelStyles := map[preflight.CheckLevel]lipgloss.Style{
			preflight.LevelInfo:  r.NewStyle().Foreground(lipgloss.Color("green")),
			preflight.LevelWarn:  r.NewStyle().Foreground(lipgloss.Color("yellow")),
			preflight.LevelError: r.NewStyle().Foreground(lipgloss.Color("red")).Bold(true),
		}

		failed := 0
		for _, result := range checker.Results(cmd.Context()) {
			fmt.Fprintf(out, "%s %s: %s\n", levelStyles[result.Level].Render(result.Level.String()), result.Name, result.Message)
			if result.Level == preflight.LevelError {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d check(s) failed", failed)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
