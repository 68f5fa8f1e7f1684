package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/itohio/EasyInfer/pkg/core/analyser"
	"github.com/itohio/EasyInfer/pkg/core/analyser/facts"
	"github.com/itohio/EasyInfer/pkg/core/exec"
	"github.com/itohio/EasyInfer/pkg/core/tensor"
	"github.com/itohio/EasyInfer/pkg/loader"
	"github.com/itohio/EasyInfer/pkg/loader/tf"
	"github.com/itohio/EasyInfer/pkg/logger"
)

const (
	exitOK = iota
	exitUsage
	exitAnalysis
	exitExecution
)

func main() {
	os.Exit(run())
}

func run() int {
	graphPath := flag.String("graph", "", "Frozen TensorFlow GraphDef protobuf")
	configPath := flag.String("config", "", "YAML run configuration (inputs, outputs, streaming axis)")
	analyseOnly := flag.Bool("analyse", false, "Only run shape/type analysis and print the solved facts")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	if *verbose {
		logger.Verbose()
	}
	if *graphPath == "" || *configPath == "" {
		fmt.Fprintln(os.Stderr, "usage: infer -graph model.pb -config run.yaml [-analyse]")
		flag.PrintDefaults()
		return exitUsage
	}

	graphBytes, err := os.ReadFile(*graphPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading graph: %v\n", err)
		return exitUsage
	}
	configBytes, err := os.ReadFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading config: %v\n", err)
		return exitUsage
	}
	spec, err := loader.ParseRunSpec(configBytes)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parsing config: %v\n", err)
		return exitUsage
	}
	if len(spec.Outputs) == 0 {
		fmt.Fprintln(os.Stderr, "config names no outputs")
		return exitUsage
	}

	defs, err := tf.Parse(graphBytes)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parsing graph: %v\n", err)
		return exitUsage
	}
	m, err := loader.Load(defs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading graph: %v\n", err)
		return exitUsage
	}

	a, err := analyser.New(m, spec.Outputs[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "analysis: %v\n", err)
		return exitAnalysis
	}
	seeds, err := spec.InputFacts()
	if err != nil {
		fmt.Fprintf(os.Stderr, "analysis: %v\n", err)
		return exitAnalysis
	}
	for name, fact := range seeds {
		if err := a.SetInputFact(name, fact); err != nil {
			fmt.Fprintf(os.Stderr, "analysis: %v\n", err)
			return exitAnalysis
		}
	}
	if err := a.Analyse(); err != nil {
		fmt.Fprintf(os.Stderr, "analysis: %v\n", err)
		return exitAnalysis
	}
	if *analyseOnly {
		for _, name := range spec.Outputs {
			fact, err := a.FactByName(name)
			if err != nil {
				fmt.Fprintf(os.Stderr, "analysis: %v\n", err)
				return exitAnalysis
			}
			fmt.Printf("%s: %s\n", name, fact)
		}
		return exitOK
	}

	inputs, err := zeroInputs(a, seeds)
	if err != nil {
		fmt.Fprintf(os.Stderr, "execution: %v\n", err)
		return exitExecution
	}
	plan, err := exec.NewPlan(m, spec.Outputs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "execution: %v\n", err)
		return exitExecution
	}
	outs, err := plan.Run(inputs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "execution: %v\n", err)
		return exitExecution
	}
	for i, name := range spec.Outputs {
		fmt.Printf("%s: %s\n", name, outs[i])
	}
	return exitOK
}

// zeroInputs materializes a zero tensor for every seeded input, using the
// analyser's solved facts so partially specified inputs still resolve.
func zeroInputs(a *analyser.Analyser, seeds map[string]facts.TensorFact) (map[string]tensor.Tensor, error) {
	inputs := make(map[string]tensor.Tensor, len(seeds))
	for name := range seeds {
		fact, err := a.FactByName(name)
		if err != nil {
			return nil, err
		}
		shape, ok := fact.Shape.Concrete()
		if !ok || fact.Type == tensor.DT_UNKNOWN {
			return nil, fmt.Errorf("input %q did not resolve to a concrete tensor: %s", name, fact)
		}
		inputs[name] = tensor.New(fact.Type, shape)
	}
	return inputs, nil
}
