package main

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	isync "github.com/open-xchange/appsuite-middleware-sub159/internal/sync"
)

func newAltNameCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alt-name NAME",
		Short: "Print the name a conflicting copy of NAME would be renamed to",
		Long: `Print the alternative name the engine picks for a renamed copy of NAME.

Names passed with --used are taken; comparison is case-insensitive and
Unicode-normalized. The device name comes from --device or the config.`,
		Args: cobra.ExactArgs(1),
		RunE: runAltName,
	}

	cmd.Flags().StringSlice("used", nil, "names already present in the folder")

	return cmd
}

func runAltName(cmd *cobra.Command, args []string) error {
	used, err := cmd.Flags().GetStringSlice("used")
	if err != nil {
		return err
	}

	usedNames := mapset.NewThreadUnsafeSet(lo.Map(used, func(n string, _ int) string {
		return isync.NormalizeKey(n)
	})...)
	usedNames.Add(isync.NormalizeKey(args[0]))

	alt := isync.FindAlternativeName(args[0], usedNames, resolvedCfg.Sync.DeviceName)

	if flagJSON {
		return printJSON(cmd.OutOrStdout(), map[string]string{"name": args[0], "alternative": alt})
	}

	fmt.Fprintln(cmd.OutOrStdout(), alt)

	return nil
}
