package bootstrap

import (
	"errors"

	"github.com/jessevdk/go-flags"
)

// Options are the command-line flags shared by both binaries.
type Options struct {
	EnvFiles    []string `long:"env-file" description:"Load variables from this .env file (repeatable, default .env)"`
	MigrateOnly bool     `long:"migrate-only" description:"Apply database migrations and exit"`
	ShowVersion bool     `short:"v" long:"version" description:"Print the version and exit"`
}

// ErrHelpShown is returned by ParseOptions after --help was printed.
var ErrHelpShown = errors.New("help requested")

// ParseOptions parses args (without the program name).
func ParseOptions(args []string) (Options, error) {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)

	rest, err := parser.ParseArgs(args)
	if err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			return opts, ErrHelpShown
		}
		return opts, err
	}
	if len(rest) > 0 {
		return opts, &flags.Error{Type: flags.ErrUnknownFlag, Message: "unexpected argument: " + rest[0]}
	}
	return opts, nil
}
