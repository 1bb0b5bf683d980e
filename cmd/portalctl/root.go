package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "portalctl",
		Short: "Inspect captive portal routing decisions",
		Long: `portalctl evaluates the access routing rules of the captive portal
against organization configuration files and session fixtures.

Examples:
  # Where does an unverified mobile session land on /default/status?
  portalctl classify --org organizations/default.yml --session session.yml /default/status

  # What does a successful payment do to a bank card session?
  portalctl payment --org organizations/default.yml --session session.yml success

  # Show the engine configuration read from PORTAL_* variables
  portalctl env`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newClassifyCmd(),
		newPaymentCmd(),
		newEnvCmd(),
		newBenchCmd(),
	)
	return root
}
