package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var alertsFlags struct {
	clientConfig
	markRead bool
}

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List recent alerts",
	RunE:  runAlerts,
}

var statsFlags struct {
	clientConfig
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show dashboard counters",
	RunE:  runStats,
}

var notifyTestFlags struct {
	clientConfig
}

var notifyTestCmd = &cobra.Command{
	Use:   "notify-test",
	Short: "Send a test notification through the configured providers",
	RunE:  runNotifyTest,
}

func init() {
	rootCmd.AddCommand(alertsCmd, statsCmd, notifyTestCmd)

	addClientFlags(alertsCmd, &alertsFlags.clientConfig)
	alertsCmd.Flags().BoolVar(&alertsFlags.markRead, "mark-read", false, "mark every alert read after listing")

	addClientFlags(statsCmd, &statsFlags.clientConfig)
	addClientFlags(notifyTestCmd, &notifyTestFlags.clientConfig)
}

func runAlerts(cmd *cobra.Command, args []string) error {
	c, err := alertsFlags.newClient()
	if err != nil {
		return err
	}

	alerts, err := c.ListAlerts(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(alerts) == 0 {
		fmt.Fprintln(out, "No alerts.")
	}
	for _, a := range alerts {
		mark := " "
		if !a.Read {
			mark = "*"
		}
		fmt.Fprintf(out, "%s %-20s  %-8s  %-8s  %s\n", mark, a.CreatedAt, a.Severity, a.Type, a.Message)
	}

	if alertsFlags.markRead && len(alerts) > 0 {
		return c.ReadAllAlerts(cmd.Context())
	}
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	c, err := statsFlags.newClient()
	if err != nil {
		return err
	}

	st, err := c.Stats(cmd.Context())
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), st)
}

func runNotifyTest(cmd *cobra.Command, args []string) error {
	c, err := notifyTestFlags.newClient()
	if err != nil {
		return err
	}
	if err := c.NotifyTest(cmd.Context()); err != nil {
		return fmt.Errorf("test notification: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Test notification sent.")
	return nil
}
