package utils

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"sigverify/config"
)

// Commands lists the recognised subcommands
var Commands = []string{"scan", "train", "evaluate", "verify", "serve"}

// ParseArguments converts command-line arguments into a map of flags and
// values. The first recognised subcommand is stored under "command"; bare
// words after it are stored as "arg1", "arg2", ...
func ParseArguments(argv []string) map[string]string {
	args := make(map[string]string)

	commandIndex := -1
	for i, a := range argv {
		if isCommand(a) {
			args["command"] = a
			commandIndex = i
			break
		}
	}

	positional := 0
	for i := 0; i < len(argv); i++ {
		if i == commandIndex {
			continue
		}
		arg := argv[i]

		// --key=value
		if strings.HasPrefix(arg, "--") && strings.Contains(arg, "=") {
			parts := strings.SplitN(arg, "=", 2)
			args[strings.TrimPrefix(parts[0], "--")] = parts[1]
			continue
		}

		// --key value, or a boolean --key
		if strings.HasPrefix(arg, "--") {
			flagName := strings.TrimPrefix(arg, "--")
			if i+1 >= len(argv) || strings.HasPrefix(argv[i+1], "--") || i+1 == commandIndex {
				args[flagName] = "true"
			} else {
				args[flagName] = argv[i+1]
				i++
			}
			continue
		}

		if commandIndex >= 0 && i > commandIndex {
			positional++
			args[fmt.Sprintf("arg%d", positional)] = arg
		}
	}

	return args
}

func isCommand(s string) bool {
	for _, c := range Commands {
		if s == c {
			return true
		}
	}
	return false
}

// Flag returns the first non-empty value among names, so aliases such as
// --db and --database can share one setting
func Flag(args map[string]string, names ...string) (string, bool) {
	for _, n := range names {
		if v, ok := args[n]; ok && v != "" {
			return v, true
		}
	}
	return "", false
}

// PrintUsage outputs the command-line usage instructions
func PrintUsage() {
	WriteUsage(os.Stdout, os.Args[0])
}

// WriteUsage writes the usage text for program to w. Defaults are the ones
// config.Default applies when neither the file nor a flag sets a value.
func WriteUsage(w io.Writer, program string) {
	def := config.Default()
	fmt.Fprintf(w, "Usage:\n")
	fmt.Fprintf(w, "  %s scan --folder=PATH [--database=PATH] [--force] [--debug]\n", program)
	fmt.Fprintf(w, "  %s train [--folder=PATH] [--epochs=N] [--batch-size=N] [--model=PATH] [--database=PATH]\n", program)
	fmt.Fprintf(w, "  %s evaluate [--folder=PATH] [--model=PATH]\n", program)
	fmt.Fprintf(w, "  %s verify IMAGE1 IMAGE2 [--threshold=VALUE] [--model=PATH]\n", program)
	fmt.Fprintf(w, "  %s serve [--listen=ADDR] [--model=PATH] [--database=PATH]\n", program)
	fmt.Fprintf(w, "\nParameters:\n")
	fmt.Fprintf(w, "  --config      : Path to TOML configuration (default: sigverify.toml)\n")
	fmt.Fprintf(w, "  --folder      : Signature corpus folder, CEDAR layout (default: %s)\n", def.Dataset.Path)
	fmt.Fprintf(w, "  --database    : Path to catalogue database, relative to the working directory (default: %s)\n", def.Database)
	fmt.Fprintf(w, "  --model       : Path to model artifact (default: %s)\n", def.Model.Path)
	fmt.Fprintf(w, "  --epochs      : Training epochs (default: %d)\n", def.Training.Epochs)
	fmt.Fprintf(w, "  --batch-size  : Training batch size (default: %d)\n", def.Training.BatchSize)
	fmt.Fprintf(w, "  --force       : Force rewrite existing catalogue entries during scan\n")
	fmt.Fprintf(w, "  --threshold   : Decision threshold for verify and serve (0.0-1.0, default: %g)\n", def.Model.Threshold)
	fmt.Fprintf(w, "  --listen      : HTTP listen address for serve (default: %s)\n", def.Server.Listen)
	fmt.Fprintf(w, "  --debug       : Enable debug mode (logs detailed information)\n")
	fmt.Fprintf(w, "  --logfile     : Log file path (default with --debug: sigverify.log)\n")
	fmt.Fprintf(w, "\nExamples:\n")
	fmt.Fprintf(w, "  %s train --folder=./dataset/signatures --epochs=10\n", program)
	fmt.Fprintf(w, "  %s verify a.png b.png --threshold=0.6\n", program)
}

// ParseThreshold parses and validates a decision threshold
func ParseThreshold(thresholdStr string) (float64, error) {
	parsedThreshold, err := strconv.ParseFloat(thresholdStr, 64)
	if err != nil || parsedThreshold < 0 || parsedThreshold > 1 {
		return 0.5, fmt.Errorf("invalid threshold value '%s', using default (0.5)", thresholdStr)
	}
	return parsedThreshold, nil
}

// ParsePositiveInt parses a count flag such as --epochs
func ParsePositiveInt(name, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid --%s value '%s': want a positive integer", name, value)
	}
	return n, nil
}
