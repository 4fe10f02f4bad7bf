package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var visitorsFlags struct {
	clientConfig
	json bool
}

var visitorsCmd = &cobra.Command{
	Use:   "visitors",
	Short: "List visitors, newest first",
	RunE:  runVisitors,
}

var approveFlags struct {
	clientConfig
	page string
}

var approveCmd = &cobra.Command{
	Use:   "approve <visitor-id>",
	Short: "Approve a visitor",
	Long: `Approve a visitor and push the page content to its live channel.
Without --page the visitor's assigned page or the default page is served.`,
	Args: cobra.ExactArgs(1),
	RunE: runApprove,
}

var blockFlags struct {
	clientConfig
}

var blockCmd = &cobra.Command{
	Use:   "block <visitor-id>",
	Short: "Block a visitor",
	Args:  cobra.ExactArgs(1),
	RunE:  runBlock,
}

var deleteFlags struct {
	clientConfig
}

var deleteCmd = &cobra.Command{
	Use:   "delete <visitor-id>",
	Short: "Delete a visitor record",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

func init() {
	rootCmd.AddCommand(visitorsCmd, approveCmd, blockCmd, deleteCmd)

	addClientFlags(visitorsCmd, &visitorsFlags.clientConfig)
	visitorsCmd.Flags().BoolVar(&visitorsFlags.json, "json", false, "print raw JSON")

	addClientFlags(approveCmd, &approveFlags.clientConfig)
	approveCmd.Flags().StringVar(&approveFlags.page, "page", "", "page id to serve")

	addClientFlags(blockCmd, &blockFlags.clientConfig)
	addClientFlags(deleteCmd, &deleteFlags.clientConfig)
}

func runVisitors(cmd *cobra.Command, args []string) error {
	c, err := visitorsFlags.newClient()
	if err != nil {
		return err
	}

	list, err := c.ListVisitors(cmd.Context())
	if err != nil {
		return err
	}
	if visitorsFlags.json {
		return printJSON(cmd.OutOrStdout(), list)
	}

	out := cmd.OutOrStdout()
	if len(list) == 0 {
		fmt.Fprintln(out, "No visitors found.")
		return nil
	}

	fmt.Fprintf(out, "%-36s  %-9s  %-3s  %-15s  %-19s  %s\n", "ID", "STATUS", "BOT", "IP", "LAST SEEN", "LOCATION")
	for _, v := range list {
		bot := "-"
		if v.IsBot {
			bot = "yes"
		}
		lastSeen, _ := time.Parse(time.RFC3339, v.LastSeen)
		fmt.Fprintf(out, "%-36s  %-9s  %-3s  %-15s  %-19s  %s, %s\n",
			v.ID, v.Status, bot, v.IP, lastSeen.Format("2006-01-02 15:04:05"), v.City, v.Country)
	}
	return nil
}

func runApprove(cmd *cobra.Command, args []string) error {
	c, err := approveFlags.newClient()
	if err != nil {
		return err
	}
	if err := c.Approve(cmd.Context(), args[0], approveFlags.page); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Visitor %s approved.\n", args[0])
	return nil
}

func runBlock(cmd *cobra.Command, args []string) error {
	c, err := blockFlags.newClient()
	if err != nil {
		return err
	}
	if err := c.Block(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Visitor %s blocked.\n", args[0])
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	c, err := deleteFlags.newClient()
	if err != nil {
		return err
	}
	if err := c.DeleteVisitor(cmd.Context(), args[0]); err != nil {
		return err
	}

	result := struct {
		ID      string `json:"id"`
		Deleted bool   `json:"deleted"`
	}{
		ID:      args[0],
		Deleted: true,
	}
	return printJSON(cmd.OutOrStdout(), result)
}
