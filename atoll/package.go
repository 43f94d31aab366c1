package atoll

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"runtime"
	"strings"
	"testing/fstest"

	"golang.org/x/sync/errgroup"

	"github.com/cottand/atoll/atollerr"
	"github.com/cottand/atoll/check"
	"github.com/cottand/atoll/internal/log"
	"github.com/cottand/atoll/ir"
	"github.com/cottand/atoll/rty"
)

var programLogger = log.DefaultLogger.With("section", "program")

// Program is a single verification unit: every declaration and procedure
// body the surrounding compiler exported for it, ready to be checked.
type Program struct {
	name  string
	genv  *check.GlobalEnv
	procs []Procedure

	errors *atollerr.Errors
}

// Procedure pairs a definition with its control-flow body. Declarations
// without a body (trusted externals) are registered in the global
// environment but never appear here.
type Procedure struct {
	Def  rty.DefID
	Body *ir.Body
}

func (p *Program) Name() string { return p.name }

func (p *Program) Procedures() []Procedure { return p.procs }

func (p *Program) GlobalEnv() *check.GlobalEnv { return p.genv }

type readFileDirFS interface {
	fs.ReadFileFS
	fs.ReadDirFS
}

type ProgLoadSettings struct {
	// Dir is the folder holding the exported program, default `.`
	Dir string
}

// LoadProgram reads every exported .json file under dir into one Program.
// Declarations from all files share a namespace; bodies may call across
// files freely.
func LoadProgram(dir readFileDirFS, config ProgLoadSettings) (*Program, error) {
	dirPath := config.Dir
	if dirPath == "" {
		dirPath = "."
	}
	files, err := dir.ReadDir(dirPath)
	if err != nil {
		return nil, err
	}

	prog := &Program{
		name: "atollProgramNameless",
		genv: check.NewGlobalEnv(),
	}
	ld := newLoader(prog)
	loaded := 0
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".json") {
			continue
		}
		data, err := dir.ReadFile(path.Join(dirPath, file.Name()))
		if err != nil {
			return nil, err
		}
		if err := ld.addFile(file.Name(), data); err != nil {
			return nil, fmt.Errorf("load %s: %w", file.Name(), err)
		}
		loaded++
	}
	if loaded == 0 {
		return nil, fmt.Errorf("no exported .json files in %s", dirPath)
	}
	programLogger.Debug("loaded program",
		"name", prog.name, "files", loaded, "procedures", len(prog.procs))
	return prog, nil
}

// NewProgramFromBytes loads a single exported file end-to-end, meant for
// testing.
func NewProgramFromBytes(data []byte) (*Program, *atollerr.Errors, error) {
	filesystem := fstest.MapFS{
		"test.json": &fstest.MapFile{
			Data: data,
		},
	}
	prog, err := LoadProgram(filesystem, ProgLoadSettings{})
	if err != nil && prog == nil {
		return nil, nil, err
	}
	prog.name = "test"
	return prog, prog.errors, err
}

type CheckSettings struct {
	// Jobs caps how many procedures are checked concurrently; zero means
	// one per CPU.
	Jobs int
	// CheckOverflow emits range obligations on signed arithmetic.
	CheckOverflow bool
}

// CheckAll checks every procedure of the program, several at a time. The
// returned results follow procedure order regardless of completion order;
// the Errors accumulate every procedure-level finding, while the error
// return is reserved for internal failures that abort the whole run.
func (p *Program) CheckAll(ctx context.Context, settings CheckSettings) ([]check.Result, *atollerr.Errors, error) {
	jobs := settings.Jobs
	if jobs <= 0 {
		jobs = runtime.NumCPU()
	}
	opts := check.Opts{CheckOverflow: settings.CheckOverflow}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	results := make([]check.Result, len(p.procs))
	for i, proc := range p.procs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := check.Run(p.genv, proc.Def, proc.Body, opts)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	errs := p.errors
	for i := range results {
		errs = errs.Merge(results[i].Errors)
	}
	return results, errs, nil
}
