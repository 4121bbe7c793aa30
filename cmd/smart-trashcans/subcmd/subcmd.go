// Support sub-commands in smart-trashcans application.
// It's simple but fine so far.
package subcmd

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/brunobpinto/smart-trashcans/internal/config"
	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
)

type Mod struct {
	Name  string
	Usage string
	// args are positional arguments after command name
	Main func(context.Context, *config.Config, []string) error
}

func Parse(command string, modules []Mod) (*Mod, error) {
	if command == "" {
		return nil, fmt.Errorf("empty command")
	}

	var found *Mod
	for i := range modules {
		m := &modules[i]
		if m.Name == "" {
			panic(fmt.Sprintf("code error Name='' module=%#v", m))
		}
		if command == m.Name {
			found = m
			break
		}
	}
	if found == nil {
		return nil, fmt.Errorf("unknown command='%s'", command)
	}
	return found, nil
}

// Usage lists commands, one per line.
func Usage(modules []Mod) string {
	var b strings.Builder
	for _, m := range modules {
		fmt.Fprintf(&b, "  %-10s %s\n", m.Name, m.Usage)
	}
	return b.String()
}

func SdNotify(s string) bool {
	ok, err := daemon.SdNotify(false, s)
	if err != nil {
		log.Fatal("sdnotify: ", errors.ErrorStack(err))
	}
	return ok
}
