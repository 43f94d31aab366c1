package cmd

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cottand/atoll/atoll"
	"github.com/cottand/atoll/atollerr"
	"github.com/cottand/atoll/check"
	"github.com/cottand/atoll/internal/log"
)

var CheckCmd = &cobra.Command{
	Use:          "check ./folder|program.json",
	Short:        "Verify the refinement annotations of an exported program",
	RunE:         runCheck,
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
}

var (
	checkJobs        *int
	checkLogLevel    *int
	checkLogSections *[]string
	checkOverflow    *bool
	dumpConstraints  *bool
)

func init() {
	checkJobs = CheckCmd.Flags().IntP("jobs", "j", 0, "procedures to check in parallel, 0 meaning all CPUs")
	checkLogLevel = CheckCmd.Flags().IntP("log-level", "l", int(slog.LevelError), "log level")
	checkLogSections = CheckCmd.Flags().StringSlice("log-section", nil, "emit debug logs for these sections only")
	checkOverflow = CheckCmd.Flags().Bool("check-overflow", false, "also prove signed arithmetic stays in range")
	dumpConstraints = CheckCmd.Flags().Bool("dump-constraints", false, "print the constraint query each procedure leaves for the solver")
}

func runCheck(cmd *cobra.Command, args []string) error {
	log.SetLevel(slog.Level(*checkLogLevel))
	if len(*checkLogSections) > 0 {
		log.SetSections(*checkLogSections)
	}

	prog, err := loadTarget(args[0])
	if err != nil {
		return err
	}
	return checkOnce(cmd, prog)
}

func checkOnce(cmd *cobra.Command, prog *atoll.Program) error {
	results, errs, err := prog.CheckAll(cmd.Context(), atoll.CheckSettings{
		Jobs:          *checkJobs,
		CheckOverflow: *checkOverflow,
	})
	if err != nil {
		return fmt.Errorf("could not check program (this is a bug and not a verification error): %w", err)
	}

	if *dumpConstraints {
		for _, result := range results {
			fmt.Printf("// constraints of %s\n%s\n", result.Def, result.Query)
		}
	}

	report(cmd, prog, results)
	if errs.HasError() {
		return fmt.Errorf("%d refinement errors found", len(errs.Errors()))
	}
	return nil
}

var (
	verdictOk  = color.New(color.FgGreen, color.Bold)
	verdictBad = color.New(color.FgRed, color.Bold)
)

func report(cmd *cobra.Command, prog *atoll.Program, results []check.Result) {
	out := cmd.OutOrStdout()
	for _, result := range results {
		if result.Errors.HasError() {
			_, _ = verdictBad.Fprint(out, "FAIL")
			_, _ = fmt.Fprintf(out, " %s\n", result.Def)
			for _, e := range result.Errors.Errors() {
				_, _ = fmt.Fprintf(out, "  %s\n", atollerr.FormatWithSource(e))
			}
			continue
		}
		_, _ = verdictOk.Fprint(out, "ok")
		_, _ = fmt.Fprintf(out, "   %s\n", result.Def)
	}
	_, _ = fmt.Fprintf(out, "checked %d procedures in %s\n", len(results), prog.Name())
}

// loadTarget accepts either a directory of exported files or a single one.
func loadTarget(arg string) (*atoll.Program, error) {
	rootDir, err := targetDir(arg)
	if err != nil {
		return nil, fmt.Errorf("could not stat target: %w", err)
	}
	folderFS, ok := os.DirFS(rootDir).(interface {
		fs.ReadFileFS
		fs.ReadDirFS
	})
	if !ok {
		return nil, fmt.Errorf("could not read directory %s", rootDir)
	}

	prog, err := atoll.LoadProgram(folderFS, atoll.ProgLoadSettings{})
	if err != nil {
		return nil, fmt.Errorf("could not load program (this is a bug and not a verification error): %w", err)
	}
	return prog, nil
}

func targetDir(arg string) (string, error) {
	target, err := filepath.Abs(arg)
	if err != nil {
		return "", err
	}
	stat, err := os.Stat(target)
	if err != nil {
		return "", err
	}
	if stat.IsDir() {
		return target, nil
	}
	return filepath.Dir(target), nil
}
