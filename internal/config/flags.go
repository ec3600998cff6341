// Package config holds the process flags and the declarative job
// configuration of the log sorting run.
//
// Flags only locate the job files; everything else lives in YAML:
//
//	fs := flag.NewFlagSet("test", flag.ContinueOnError)
//	getenv := func(k string) string { return testEnv[k] }
//	f, err := config.LoadFromArgs(fs, getenv, []string{"-config=config,local"})
//	job, err := config.LoadJob(f.ConfigDir, f.Configs, getenv)
package config

import (
	"flag"
	"os"
	"strings"
)

// Flags is the process configuration derived from flags and environment.
type Flags struct {
	ConfigDir    string   // directory holding <name>.yaml job files
	Configs      []string // job file names, merged in order
	ValidateOnly bool     // validate the job and exit
	Verbose      bool     // force debug logging
}

// LoadFromArgs defines flags on fs, seeds their defaults from getenv and
// parses args.
//
// Precedence:
//  1. Environment values seed each flag's default.
//  2. Explicit CLI flags (in args) override the seeded defaults.
func LoadFromArgs(fs *flag.FlagSet, getenv func(string) string, args []string) (*Flags, error) {
	f := &Flags{}

	envOrDefaultFn := func(k, d string) string {
		if v := getenv(k); v != "" {
			return v
		}
		return d
	}
	boolEnvOrDefaultFn := func(k string, d bool) bool {
		switch strings.ToLower(getenv(k)) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
		return d
	}

	var names string
	fs.StringVar(&f.ConfigDir, "config_dir", envOrDefaultFn("LOG_SORTING_CONFIG_DIR", "configs"), "Directory with YAML job files")
	fs.StringVar(&names, "config", envOrDefaultFn("LOG_SORTING_CONFIG", "config"), "Comma-separated job file names without extension, merged in order")
	fs.BoolVar(&f.ValidateOnly, "validate", boolEnvOrDefaultFn("LOG_SORTING_VALIDATE", false), "Validate the job configuration and exit")
	fs.BoolVar(&f.Verbose, "v", boolEnvOrDefaultFn("LOG_SORTING_VERBOSE", false), "Debug logging")

	if args == nil {
		args = []string{}
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	f.Configs = splitNames(names)
	return f, nil
}

// Load is the production entry point over flag.CommandLine, os.Getenv and
// os.Args[1:].
func Load() (*Flags, error) {
	return LoadFromArgs(flag.CommandLine, os.Getenv, os.Args[1:])
}

func splitNames(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
