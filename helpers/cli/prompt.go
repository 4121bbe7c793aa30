// Package cli runs line based interactive loop: go-prompt on terminal,
// plain stdin lines otherwise.
package cli

import (
	"bufio"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/c-bata/go-prompt"
	"github.com/mattn/go-isatty"
)

func MainLoop(tag string, exec func(line string), complete func(d prompt.Document) []prompt.Suggest) error {
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)
	defer signal.Stop(signalCh)
	go func() {
		for range signalCh {
			os.Exit(1)
		}
	}()

	if isatty.IsTerminal(os.Stdin.Fd()) {
		prompt.New(exec, complete, prompt.OptionPrefix(tag+"> "), prompt.OptionTitle(tag)).Run()
		return nil
	}
	return ReadLines(os.Stdin, exec)
}

// ReadLines calls exec for each trimmed non-empty line.
func ReadLines(r io.Reader, exec func(line string)) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		exec(line)
	}
	return scanner.Err()
}

// FilterWords suggests words with prefix of the word before cursor.
func FilterWords(d prompt.Document, words []prompt.Suggest) []prompt.Suggest {
	return prompt.FilterHasPrefix(words, d.GetWordBeforeCursor(), true)
}
