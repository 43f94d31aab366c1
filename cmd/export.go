package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cottand/atoll/atoll"
	"github.com/cottand/atoll/check"
	"github.com/cottand/atoll/internal/log"
)

var ExportCmd = &cobra.Command{
	Use:          "export ./folder|program.json",
	Short:        "Write each procedure's residual constraint query for an external solver",
	RunE:         runExport,
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
}

var (
	exportOutPath  *string
	exportLogLevel *int
)

func init() {
	exportOutPath = ExportCmd.Flags().StringP("out", "o", "", "output path, stdout when empty")
	exportLogLevel = ExportCmd.Flags().IntP("log-level", "l", int(slog.LevelError), "log level")
}

func runExport(cmd *cobra.Command, args []string) error {
	log.SetLevel(slog.Level(*exportLogLevel))

	prog, err := loadTarget(args[0])
	if err != nil {
		return err
	}

	results, _, err := prog.CheckAll(cmd.Context(), atoll.CheckSettings{})
	if err != nil {
		return fmt.Errorf("could not check program (this is a bug and not a verification error): %w", err)
	}

	if *exportOutPath == "" {
		out := cmd.OutOrStdout()
		for _, result := range results {
			_, _ = fmt.Fprintf(out, "// constraints of %s\n%s\n", result.Def, result.Query)
		}
		return nil
	}
	return exportAt(results, *exportOutPath)
}

func exportAt(results []check.Result, outPath string) error {
	err := os.Mkdir(outPath, os.ModePerm)
	if err != nil && !os.IsExist(err) {
		return fmt.Errorf("could not create output directory: %w", err)
	}
	for _, result := range results {
		at := filepath.Join(outPath, string(result.Def)+".fq")
		if err := write(result.Query.String(), at); err != nil {
			return fmt.Errorf("could not write query of %s: %w", result.Def, err)
		}
	}
	return nil
}

func write(query string, at string) error {
	f, err := os.Create(filepath.Clean(at))
	if err != nil {
		return fmt.Errorf("could not create file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	if _, err := f.WriteString(query); err != nil {
		return fmt.Errorf("could not write to file: %w", err)
	}
	return nil
}
