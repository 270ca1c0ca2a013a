// oqlsh is an interactive OQL shell over the collections of a configured
// backend. When stdin is not a terminal it reads one command per line.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/c-bata/go-prompt"
	"golang.org/x/term"

	"github.com/xtxerr/strata/config"
	"github.com/xtxerr/strata/internal/collection/factory"
	"github.com/xtxerr/strata/internal/logging"
)

func main() {
	cfgPath := flag.String("config", "strata.yaml", "config file path")
	use := flag.String("collection", "", "collection to select on start")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "oqlsh: %v\n", err)
			os.Exit(1)
		}
		cfg = config.DefaultConfig()
	}
	logging.InitWriter(os.Stderr, logging.ParseLevel(cfg.Log.Level), cfg.Log.JSON)

	ctx := context.Background()
	f, err := factory.Open(ctx, cfg.Collections)
	if err != nil {
		fmt.Fprintf(os.Stderr, "oqlsh: open backend: %v\n", err)
		os.Exit(1)
	}
	defer f.Close(ctx)

	sh := newShell(f, os.Stdout)
	if *use != "" {
		if err := sh.use(ctx, *use); err != nil {
			fmt.Fprintf(os.Stderr, "oqlsh: %v\n", err)
			os.Exit(1)
		}
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		if err := batch(ctx, sh); err != nil {
			fmt.Fprintf(os.Stderr, "oqlsh: %v\n", err)
			os.Exit(1)
		}
		return
	}

	interactive(ctx, sh, cfg.Collections.Backend)
}

// batch runs stdin line by line and stops at the first failing command.
func batch(ctx context.Context, sh *shell) error {
	sc := bufio.NewScanner(os.Stdin)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		err := sh.execute(ctx, text)
		if errors.Is(err, errExit) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
	}
	return sc.Err()
}

func interactive(ctx context.Context, sh *shell, backend string) {
	fmt.Printf("oqlsh on %s backend, type help for commands\n", backend)

	exit := false
	p := prompt.New(
		func(in string) {
			err := sh.execute(ctx, in)
			if errors.Is(err, errExit) {
				exit = true
				return
			}
			if err != nil {
				fmt.Fprintln(os.Stderr, describe(err))
			}
		},
		completer,
		prompt.OptionTitle("oqlsh"),
		prompt.OptionLivePrefix(func() (string, bool) { return sh.prefix(), true }),
		prompt.OptionPrefixTextColor(prompt.Cyan),
		prompt.OptionSetExitCheckerOnInput(func(string, bool) bool { return exit }),
	)
	p.Run()
}

var suggestions = func() []prompt.Suggest {
	out := make([]prompt.Suggest, 0, len(commands))
	for _, c := range commands {
		out = append(out, prompt.Suggest{Text: c.name, Description: c.help})
	}
	return out
}()

// completer suggests verbs at the start of the line only.
func completer(d prompt.Document) []prompt.Suggest {
	if strings.Contains(d.TextBeforeCursor(), " ") {
		return nil
	}
	return prompt.FilterHasPrefix(suggestions, d.GetWordBeforeCursor(), true)
}
