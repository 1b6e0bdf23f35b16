package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "portalcheck",
	Short: "Automated recruiting-portal application status checker",
	Long: `portalcheck logs into the recruiting portal, solves the login CAPTCHA,
retrieves the one-time password from the configured mailbox, reads the
application status and emails the outcome with a screenshot.

Configuration is environment-sourced (a .env file in the working directory is
honoured). Required: PORTAL_LOGIN_ID, MAILBOX_ADDRESS, MAILBOX_APP_PASSWORD,
GEMINI_API_KEY.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(scheduleCmd)
}
