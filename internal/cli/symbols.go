package cli

import (
	"github.com/spf13/cobra"

	"eodbars/internal/app"
)

var (
	symbolOpts    app.SymbolOptions
	listAll       bool
	setActiveFlag bool
)

var addSymbolCmd = &cobra.Command{
	Use:   "add-symbol SYMBOL",
	Short: "Register a symbol for tracking",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := symbolOpts
		opts.Symbol = args[0]
		return getApp().AddSymbol(cmd.Context(), opts)
	},
}

var listSymbolsCmd = &cobra.Command{
	Use:   "list-symbols",
	Short: "List tracked symbols",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ListSymbols(cmd.Context(), listAll)
	},
}

var setActiveCmd = &cobra.Command{
	Use:   "set-active SYMBOL",
	Short: "Enable or disable scheduled processing of a symbol",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SetActive(cmd.Context(), args[0], setActiveFlag)
	},
}

func init() {
	addSymbolCmd.Flags().StringVar(&symbolOpts.Name, "name", "", "Company or asset name")
	addSymbolCmd.Flags().StringVar(&symbolOpts.Exchange, "exchange", "", "Exchange")
	addSymbolCmd.Flags().StringVar(&symbolOpts.AssetType, "asset-type", "equity", "Asset type")
	addSymbolCmd.Flags().StringVar(&symbolOpts.Sector, "sector", "", "Sector")
	addSymbolCmd.Flags().StringVar(&symbolOpts.Industry, "industry", "", "Industry")

	listSymbolsCmd.Flags().BoolVar(&listAll, "all", false, "Include inactive symbols")

	setActiveCmd.Flags().BoolVar(&setActiveFlag, "active", true, "Whether the symbol is active")
}
