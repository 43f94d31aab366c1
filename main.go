//go:build !( js || wasm)

package main

import (
	"github.com/cottand/atoll/cmd"
	"github.com/spf13/cobra"
	"os"
)

func main() {
	err := rootCmd.Execute()
	if err != nil {
		//_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "atoll [subcommand]",
	Short: "atoll 🏝️\n a refinement type checker for compiler-exported control-flow graphs",
	Args:  cobra.MinimumNArgs(1),
	//SilenceErrors: true,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(cmd.CheckCmd)
	rootCmd.AddCommand(cmd.WatchCmd)
	rootCmd.AddCommand(cmd.ExportCmd)
}
