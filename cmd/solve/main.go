// Command solve optimises one or more problem files and prints the results
// as JSON.
//
//	solve [flags] problem.yaml [more.json ...]
//
// Files ending in .yaml or .yml are read as YAML, anything else as JSON.
// With -prices each file holds price histories instead of a ready problem.
// A problem file may carry an initial_guess next to the problem fields.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/aristath/hosd/internal/modules/dominance"
	"github.com/aristath/hosd/internal/modules/scenarios"
	"github.com/aristath/hosd/pkg/logger"
	"gopkg.in/yaml.v3"
)

// fileResult is the output for one input file
type fileResult struct {
	File    string             `json:"file"`
	Result  *dominance.Result  `json:"result,omitempty"`
	Summary *scenarios.Summary `json:"summary,omitempty"`
	Warning string             `json:"warning,omitempty"`
	Error   string             `json:"error,omitempty"`
}

// problemFile is a problem with an optional starting point
type problemFile struct {
	dominance.Problem `yaml:",inline"`
	InitialGuess      *dominance.Components `json:"initial_guess,omitempty" yaml:"initial_guess,omitempty"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "solve:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("solve", flag.ContinueOnError)
	fs.SetOutput(stderr)

	defaults := dominance.DefaultSettings()
	prices := fs.Bool("prices", false, "input files contain price histories")
	summary := fs.Bool("summary", false, "include scenario summary statistics")
	concurrency := fs.Int("concurrency", 4, "problems solved in parallel")
	maxRounds := fs.Int("max-rounds", defaults.MaxRounds, "cutting-plane round cap")
	maxEvaluations := fs.Int("max-evaluations", defaults.MaxEvaluations, "Newton evaluations per round")
	tolerance := fs.Float64("tolerance", defaults.Tolerance, "Newton residual tolerance")
	gridStep := fs.Float64("grid-step", defaults.GridStep, "violation scan grid step")
	seed := fs.Uint64("seed", defaults.Seed, "perturbation random seed")
	strict := fs.Bool("strict", false, "fail when Newton does not converge")
	logLevel := fs.String("log-level", "warn", "debug, info, warn or error")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("no problem files given")
	}

	log := logger.New(logger.Config{Level: *logLevel, Pretty: true, Output: stderr})

	settings := defaults
	settings.MaxRounds = *maxRounds
	settings.MaxEvaluations = *maxEvaluations
	settings.Tolerance = *tolerance
	settings.GridStep = *gridStep
	settings.Seed = *seed
	settings.FailOnNonConvergence = *strict

	files := fs.Args()
	results := make([]fileResult, len(files))
	var problems []dominance.Problem
	var guesses []*dominance.Components
	var index []int
	for i, path := range files {
		results[i].File = path
		p, guess, err := loadProblem(path, *prices)
		if err != nil {
			results[i].Error = err.Error()
			continue
		}
		if *summary {
			s := scenarios.Summarize(p)
			results[i].Summary = &s
		}
		problems = append(problems, p)
		guesses = append(guesses, guess)
		index = append(index, i)
	}

	outcomes, err := dominance.NewOptimizer(settings, log).OptimizeBatchFrom(ctx, problems, guesses, *concurrency)
	if err != nil {
		return err
	}

	failed := len(files) - len(problems)
	for k, o := range outcomes {
		r := &results[index[k]]
		r.Result = o.Result
		switch {
		case o.Err == nil:
		case errors.Is(o.Err, dominance.ErrNotStabilized):
			r.Warning = o.Err.Error()
		default:
			r.Error = o.Err.Error()
			failed++
		}
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d problems failed", failed, len(files))
	}
	return nil
}

// loadProblem reads a problem and its optional initial guess, or a price
// request when fromPrices is set
func loadProblem(path string, fromPrices bool) (dominance.Problem, *dominance.Components, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return dominance.Problem{}, nil, err
	}

	if fromPrices {
		var req scenarios.Request
		if err := decode(path, data, &req); err != nil {
			return dominance.Problem{}, nil, err
		}
		p, err := scenarios.Build(req)
		return p, nil, err
	}

	var f problemFile
	if err := decode(path, data, &f); err != nil {
		return dominance.Problem{}, nil, err
	}
	p := f.Problem.Normalize()
	if err := p.Validate(); err != nil {
		return dominance.Problem{}, nil, err
	}
	return p, f.InitialGuess, nil
}

func decode(path string, data []byte, dst interface{}) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, dst); err != nil {
			return fmt.Errorf("invalid YAML in %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, dst); err != nil {
			return fmt.Errorf("invalid JSON in %s: %w", path, err)
		}
	}
	return nil
}
