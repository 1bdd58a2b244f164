package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jae464/vibe-judge/internal/language"
)

var languagesCmd = &cobra.Command{
	Use:   "languages",
	Short: "List enabled languages",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgFile, _ := cmd.Flags().GetString("languages-file")
		reg, err := language.Load(cfgFile, nil)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tIMAGE\tCOMPILED\tALIASES")
		for _, p := range reg.List() {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", p.ID, p.Name, p.Image, p.Compiled(), strings.Join(p.Aliases, ","))
		}
		return tw.Flush()
	},
}

func init() {
	languagesCmd.Flags().String("languages-file", "", "YAML file with extra or overriding language profiles")
	rootCmd.AddCommand(languagesCmd)
}
