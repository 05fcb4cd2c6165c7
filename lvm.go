package lvm

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/tanema/lvm/src/conf"
	"github.com/tanema/lvm/src/proto"
	"github.com/tanema/lvm/src/report"
	"github.com/tanema/lvm/src/runtime"
	"github.com/tanema/lvm/src/undump"
)

// ChunkExtensions are the file extensions picked up when walking a directory.
var ChunkExtensions = []string{".luac", ".out"}

type (
	// Runner feeds a queue of chunks to one vm.
	Runner struct {
		cfg *conf.Config
		vm  *runtime.VM
		log commonlog.Logger
	}
	// Result is the outcome of one chunk.
	Result struct {
		Path         string
		Err          error
		Report       string
		Instructions int64
	}
)

// NewRunner creates a runner and the vm it runs chunks on. A nil config uses
// the defaults.
func NewRunner(ctx context.Context, cfg *conf.Config) *Runner {
	if cfg == nil {
		cfg = conf.Default()
	}
	return &Runner{
		cfg: cfg,
		vm:  runtime.New(ctx, cfg),
		log: commonlog.GetLogger("lvm"),
	}
}

// VM is the vm that chunks run on, it can be used to register natives or
// extend opcodes before running.
func (r *Runner) VM() *runtime.VM { return r.vm }

// Close releases the vm.
func (r *Runner) Close() error { return r.vm.Close() }

// Run discovers the chunks under paths and runs them in order. Failures are
// logged and, when a report dir is configured, written as crash reports. The
// queue stops at the first failure unless ContinueOnError is set. The returned
// error joins every chunk failure.
func (r *Runner) Run(paths ...string) ([]Result, error) {
	chunks, err := Discover(paths...)
	if err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(chunks))
	var errs []error
	for _, path := range chunks {
		res := r.RunChunk(path)
		results = append(results, res)
		if res.Err == nil {
			continue
		}
		errs = append(errs, res.Err)
		if !r.cfg.ContinueOnError {
			r.log.Warningf("halting after %v, %v chunks not run", path, len(chunks)-len(results))
			break
		}
	}
	return results, errors.Join(errs...)
}

// RunChunk loads and runs a single chunk file.
func (r *Runner) RunChunk(path string) Result {
	res := Result{Path: path}
	r.log.Infof("running %v", path)
	p, err := undump.File(path)
	if err == nil {
		err = r.vm.Exec(p, filepath.Base(path))
		res.Instructions = r.vm.Executed()
	}
	if err != nil {
		res.Err = err
		r.log.Errorf("%v failed: %v", path, err)
		res.Report = r.writeReport(path, err)
		return res
	}
	r.log.Infof("finished %v in %v instructions", path, res.Instructions)
	return res
}

func (r *Runner) writeReport(path string, err error) string {
	if r.cfg.ReportDir == "" {
		return ""
	}
	reportPath, werr := report.Write(r.cfg.ReportDir, report.New(filepath.Base(path), err))
	if werr != nil {
		r.log.Errorf("could not write crash report for %v: %v", path, werr)
		return ""
	}
	r.log.Noticef("crash report written to %v", reportPath)
	return reportPath
}

// Discover expands paths into the ordered list of chunk files. Files are kept
// as given, directories are walked recursively for ChunkExtensions in lexical
// order.
func Discover(paths ...string) ([]string, error) {
	chunks := []string{}
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		} else if !info.IsDir() {
			chunks = append(chunks, path)
			continue
		}
		err = filepath.WalkDir(path, func(walked string, entry fs.DirEntry, err error) error {
			if err != nil {
				return err
			} else if !entry.IsDir() && IsChunk(walked) {
				chunks = append(chunks, walked)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return chunks, nil
}

// IsChunk reports if the path has one of the ChunkExtensions.
func IsChunk(path string) bool {
	return slices.Contains(ChunkExtensions, strings.ToLower(filepath.Ext(path)))
}

// File loads a chunk and evaluates it on a fresh vm, returning whatever the
// main function returns.
func File(path string) ([]any, error) {
	p, err := undump.File(path)
	if err != nil {
		return nil, err
	}
	return Eval(p, filepath.Base(path))
}

// Eval runs an already loaded prototype on a fresh vm.
func Eval(p *proto.Prototype, name string) ([]any, error) {
	vm := runtime.New(context.Background(), nil)
	defer func() { _ = vm.Close() }()
	return vm.Eval(p, name)
}

// Summary describes a run in one line.
func Summary(results []Result) string {
	failed := 0
	var instructions int64
	for _, res := range results {
		instructions += res.Instructions
		if res.Err != nil {
			failed++
		}
	}
	return fmt.Sprintf("%v chunks, %v failed, %v instructions", len(results), failed, instructions)
}
