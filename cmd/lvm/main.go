// Package main is the main entrypoint to the lvm application
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/pprof"

	"github.com/tliron/commonlog"

	"github.com/tanema/lvm"
	"github.com/tanema/lvm/src/conf"
	"github.com/tanema/lvm/src/report"
	"github.com/tanema/lvm/src/undump"

	_ "github.com/tliron/commonlog/simple"
)

var (
	verbose         bool
	configPath      string
	continueOnError bool
	strictIndex     bool
	maxInstructions int64
	interactive     bool
	listOpcodes     bool
	reportDir       string
	showReport      string
	showVersion     bool
	logPath         string
	luacPath        string
)

func init() {
	flag.BoolVar(&verbose, "v", false, "trace every executed instruction")
	flag.StringVar(&configPath, "c", "", "run configuration, defaults to the nearest "+conf.ConfigFile)
	flag.BoolVar(&continueOnError, "continue", false, "keep running chunks after one fails")
	flag.BoolVar(&strictIndex, "strict", false, "fail on reads of absent table keys")
	flag.Int64Var(&maxInstructions, "max", 0, "instruction ceiling per chunk")
	flag.BoolVar(&interactive, "i", false, "enter the debug console after running")
	flag.BoolVar(&listOpcodes, "l", false, "list opcodes of each chunk")
	flag.StringVar(&reportDir, "report", "", "write crash reports to this directory")
	flag.StringVar(&showReport, "show", "", "print a crash report and exit")
	flag.BoolVar(&showVersion, "version", false, "show version information")
	flag.StringVar(&logPath, "log", "", "write logs to this file instead of stderr")
	flag.StringVar(&luacPath, "luac", "", "lua 5.1 compiler used by loadstring")
}

func main() {
	if os.Getenv("LVM_PROFILE") != "" {
		defer runProfiling(os.Getenv("LVM_PROFILE"))()
	}
	flag.Usage = printUsage
	flag.Parse()

	verbosity := 0
	if verbose {
		verbosity = 2
	}
	if logPath != "" {
		commonlog.Configure(verbosity, &logPath)
	} else {
		commonlog.Configure(verbosity, nil)
	}

	if showVersion {
		printVersion()
		return
	} else if showReport != "" {
		rpt, err := report.Read(showReport)
		checkErr(err)
		checkErr(report.Show(os.Stdout, rpt))
		return
	}

	cfg := loadConfig()
	if len(cfg.Chunks) == 0 && !interactive {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	runner := lvm.NewRunner(ctx, cfg)
	defer func() { _ = runner.Close() }()

	if listOpcodes {
		listChunks(cfg.Chunks)
	}
	results, err := runner.Run(cfg.Chunks...)
	if len(results) > 0 {
		fmt.Fprintln(os.Stderr, lvm.Summary(results))
	}
	if interactive {
		printVersion()
		fmt.Fprint(os.Stderr, "Type help for the list of commands.\n")
		checkErr(runner.VM().Console())
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and lays the command line over it.
func loadConfig() *conf.Config {
	var cfg *conf.Config
	var err error
	if configPath != "" {
		cfg, err = conf.LoadConfig(configPath)
	} else {
		cfg, err = conf.FindConfig(".")
	}
	checkErr(err)
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "v":
			cfg.Verbose = verbose
		case "continue":
			cfg.ContinueOnError = continueOnError
		case "strict":
			cfg.StrictIndex = strictIndex
		case "max":
			cfg.MaxInstructions = maxInstructions
		case "report":
			cfg.ReportDir = reportDir
		case "luac":
			cfg.Luac = luacPath
		}
	})
	if flag.NArg() > 0 {
		cfg.Chunks = flag.Args()
	}
	return cfg
}

func listChunks(paths []string) {
	chunks, err := lvm.Discover(paths...)
	checkErr(err)
	for _, path := range chunks {
		p, err := undump.File(path)
		checkErr(err)
		fmt.Fprintln(os.Stderr, p.String())
	}
}

func printVersion() {
	fmt.Fprintf(os.Stderr, "%v\n", conf.FullVersion())
}

func printUsage() {
	printVersion()
	fmt.Fprint(os.Stderr, "\nUsage: lvm [options] [chunk or directory ...]\n")
	flag.PrintDefaults()
}

func checkErr(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func runProfiling(filename string) func() {
	f, err := os.Create(filename)
	checkErr(err)
	checkErr(pprof.StartCPUProfile(f))
	return pprof.StopCPUProfile
}
