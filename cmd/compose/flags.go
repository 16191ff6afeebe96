package main

import "flag"

// cliFlags is the parsed form of spec.md §6's CLI surface: `render
// --writer <name> --frames a-b[,c-d] --project <file>`, plus the `--stats`
// addition the same line names.
type cliFlags struct {
	writer  string
	frames  string
	project string
	stats   bool
}

func newFlagSet() *parsedFlags {
	fs := flag.NewFlagSet("compose", flag.ContinueOnError)
	f := &parsedFlags{fs: fs}
	fs.StringVar(&f.writer, "writer", "main", "name of the project's writer to render (project.json \"writers\" entry)")
	fs.StringVar(&f.frames, "frames", "", "frame range to render, e.g. \"1-24\" or \"1-24,48-60\"")
	fs.StringVar(&f.project, "project", "", "path to the project JSON file")
	fs.BoolVar(&f.stats, "stats", false, "write a per-node timing report adjacent to each output file")
	return f
}

// parsedFlags wraps a flag.FlagSet so run() can call Parse once and then
// read strongly-typed fields, matching flag's own bind-then-parse idiom
// (the teacher's cmd/ggdemo does the same with flag.Int/flag.String).
type parsedFlags struct {
	fs *flag.FlagSet
	cliFlags
}

func (f *parsedFlags) Parse(args []string) error {
	return f.fs.Parse(args)
}
