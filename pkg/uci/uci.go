package uci

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/starfail/geotrack/pkg/retry"
)

// UCI reads configuration through the uci command line tool
type UCI struct {
	runner *retry.Runner
}

// NewUCI creates a uci reader; the tool is retried once on failure
func NewUCI() *UCI {
	return &UCI{runner: retry.NewRunner(retry.Config{
		MaxAttempts:  2,
		InitialDelay: 200 * time.Millisecond,
	})}
}

// Show returns `uci show <config>` output as key/value pairs in file order
func (u *UCI) Show(ctx context.Context, config string) ([][2]string, error) {
	out, err := u.runner.Output(ctx, "uci", "show", config)
	if err != nil {
		return nil, fmt.Errorf("failed to show UCI config %s: %w", config, err)
	}

	var pairs [][2]string
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		pairs = append(pairs, [2]string{key, unquote(value)})
	}
	return pairs, scanner.Err()
}

// loadFromCLI applies `uci show name`; no uci tool or no such config
// leaves the defaults in place
func (c *Config) loadFromCLI(name string) error {
	if _, err := exec.LookPath("uci"); err != nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pairs, err := NewUCI().Show(ctx, name)
	if err != nil {
		return nil
	}
	return c.applyShow(name, pairs)
}

// applyShow maps `config.section[.option]=value` lines onto the config
func (c *Config) applyShow(name string, pairs [][2]string) error {
	types := map[string]string{}
	for _, kv := range pairs {
		path := strings.TrimPrefix(kv[0], name+".")
		section, option, hasOption := strings.Cut(path, ".")

		if !hasOption {
			types[section] = kv[1]
			if kv[1] == "source" {
				sourceName := section
				if strings.HasPrefix(section, "@") {
					sourceName = ""
				}
				c.beginSource(sourceName)
			}
			continue
		}

		typ, ok := types[section]
		if !ok {
			return fmt.Errorf("option %s for undeclared section %s", option, section)
		}
		if err := c.apply(typ, section, option, kv[1]); err != nil {
			return err
		}
	}
	return nil
}
