package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	domainsCmd := &cobra.Command{
		Use:   "domains",
		Short: "Manage domains authorized for tracking",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List authorized domains",
		RunE:  runDomainsList,
	}
	addCmd := &cobra.Command{
		Use:   "add <domain>...",
		Short: "Authorize domains (subdomains are included)",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runDomainsAdd,
	}
	rmCmd := &cobra.Command{
		Use:   "rm <domain>...",
		Short: "Revoke domains; existing records are kept",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runDomainsRm,
	}

	domainsCmd.AddCommand(listCmd, addCmd, rmCmd)
	RootCmd.AddCommand(domainsCmd)
}

func runDomainsList(cmd *cobra.Command, args []string) error {
	return withApp(cmd, nil, func(a *app) error {
		domains, err := a.domains.List(cmd.Context())
		if err != nil {
			return fmt.Errorf("list domains: %w", err)
		}
		if domains == nil {
			domains = []string{}
		}
		printJSON(cmd.OutOrStdout(), domains)
		return nil
	})
}

func runDomainsAdd(cmd *cobra.Command, args []string) error {
	return withApp(cmd, nil, func(a *app) error {
		domains, err := a.domains.Add(cmd.Context(), args...)
		if err != nil {
			return fmt.Errorf("add domains: %w", err)
		}
		printJSON(cmd.OutOrStdout(), domains)
		return nil
	})
}

func runDomainsRm(cmd *cobra.Command, args []string) error {
	return withApp(cmd, nil, func(a *app) error {
		domains, err := a.domains.Remove(cmd.Context(), args...)
		if err != nil {
			return fmt.Errorf("remove domains: %w", err)
		}
		printJSON(cmd.OutOrStdout(), domains)
		return nil
	})
}
