package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/itohio/tensorlang/pkg/logger"
	"github.com/itohio/tensorlang/pkg/parser"
	"github.com/itohio/tensorlang/pkg/runtime/executor"
	"github.com/itohio/tensorlang/pkg/vm"
)

// Config is the optional tl.yaml run configuration. Explicit flags win.
type Config struct {
	Debug         bool `yaml:"debug"`
	DefaultExtent int  `yaml:"default_extent"`
}

func loadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("cannot parse config %s: %w", path, err)
	}
	return cfg, nil
}

func main() {
	help := flag.Bool("help", false, "Help")
	configPath := flag.String("config", "tl.yaml", "Run configuration file")
	debug := flag.Bool("debug", false, "Enable debug traces")
	extent := flag.Int("extent", 0, "Default extent for symbolic tensor sizes")
	flag.Parse()

	if *help {
		flag.PrintDefaults()
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Log.Error().Err(err).Msg("config")
		os.Exit(1)
	}
	if *debug || cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	if *extent > 0 {
		executor.DefaultExtent = *extent
	} else if cfg.DefaultExtent > 0 {
		executor.DefaultExtent = cfg.DefaultExtent
	}

	if flag.NArg() > 0 {
		runFile(flag.Arg(0))
		return
	}
	repl()
}

func runFile(fileName string) {
	if !strings.HasSuffix(fileName, ".tl") {
		fmt.Fprintln(os.Stderr, "Invalid file extension")
		os.Exit(1)
	}
	prog, err := parser.ParseFile(fileName)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	machine := vm.New()
	if err := machine.Execute(prog); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// repl reads statements line by line against a persistent VM. Errors are
// printed and the loop continues.
func repl() {
	machine := vm.New()
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("tl> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			fmt.Print("tl> ")
			continue
		case "exit", "quit":
			return
		case "env":
			dumpEnv(machine)
			fmt.Print("tl> ")
			continue
		}
		if err := machine.ExecuteSource(line); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
		fmt.Print("tl> ")
	}
}

func dumpEnv(machine *vm.VM) {
	e := machine.Env()
	for _, name := range e.TensorNames() {
		t, err := e.Lookup(name)
		if err != nil {
			continue
		}
		fmt.Printf("%s: shape %v\n", name, t.Shape())
	}
	if labels := e.Labels(); len(labels) > 0 {
		fmt.Printf("labels: %s\n", strings.Join(labels, ", "))
	}
	for _, rel := range e.RelationNames() {
		fmt.Printf("%s: %d tuples\n", rel, len(e.Facts(rel)))
	}
}
