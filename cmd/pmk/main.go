// Command pmk builds one or more targets declared in a rule file,
// running independent targets in parallel up to a configurable job
// limit.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sanity-io/litter"
	"github.com/spf13/pflag"

	"github.com/parallel-make/pmk/internal/builderr"
	"github.com/parallel-make/pmk/internal/depgraph"
	"github.com/parallel-make/pmk/internal/diag"
	"github.com/parallel-make/pmk/internal/ruleset"
	"github.com/parallel-make/pmk/internal/scheduler"
)

// Exit codes distinguish "the build ran and something failed" (1) from
// "the build never started" (2).
const (
	exitOK          = 0
	exitBuildFailed = 1
	exitCouldNotRun = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := pflag.NewFlagSet("pmk", pflag.ContinueOnError)

	var (
		file   string
		jobs   int
		dryRun bool
		dump   bool
		chdir  string
	)
	flags.StringVarP(&file, "file", "f", "Pmkfile", "use the given file as the rule file")
	flags.IntVarP(&jobs, "jobs", "j", 1, "maximum number of recipes to run in parallel")
	flags.BoolVarP(&dryRun, "dry-run", "n", false, "print recipes without executing them")
	flags.BoolVarP(&dump, "dump", "d", false, "print the parsed rule graph and exit")
	flags.StringVarP(&chdir, "directory", "C", "", "change to this directory before building")
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: pmk [flags] [targets...]\n\n")
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return exitOK
		}
		return exitCouldNotRun
	}

	sink := diag.NewConsole(os.Stdout, os.Stderr)

	if jobs < 1 {
		sink.Error("-j must be at least 1, got %d", jobs)
		return exitCouldNotRun
	}

	if chdir != "" {
		if err := os.Chdir(chdir); err != nil {
			sink.Error("changing directory to %q: %v", chdir, err)
			return exitCouldNotRun
		}
	}

	rs, err := ruleset.ParseFile(file)
	if err != nil {
		sink.Error("%v", err)
		return exitCouldNotRun
	}

	graph, err := depgraph.FromRuleSet(rs)
	if err != nil {
		sink.Error("%v", err)
		return exitCouldNotRun
	}

	if dump {
		fmt.Println(litter.Sdump(graph.DebugDump()))
		return exitOK
	}

	if _, err := graph.TopoSort(); err != nil {
		sink.Error("%v", err)
		return exitCouldNotRun
	}

	requested := flags.Args()
	if len(requested) == 0 {
		def := graph.DefaultTarget()
		if def == "" {
			sink.Error("no targets given and the rule file defines none")
			return exitCouldNotRun
		}
		requested = []string{def}
	}

	required, err := graph.RequiredClosure(requested, func(name string) {
		sink.Error("don't know how to make %q, ignoring", name)
	})
	if err != nil {
		sink.Error("%v", err)
		return exitCouldNotRun
	}
	if len(required) == 0 {
		sink.Error("none of the requested targets are defined")
		return exitCouldNotRun
	}

	sched := scheduler.New(graph, sink, scheduler.Options{Jobs: jobs, DryRun: dryRun})
	buildErr := sched.Run(context.Background(), required)
	if buildErr != nil {
		var bf *builderr.BuildFailedError
		if errors.As(buildErr, &bf) {
			for _, f := range bf.Failures {
				sink.Error("%s: %s", f.Target, f.Reason)
			}
		} else {
			sink.Error("%v", buildErr)
		}
		return exitBuildFailed
	}

	return exitOK
}
