// Command skcd-migrate is a thin operational entry point for schema
// inspection and upgrade of a case database (§10); it is not a forensic
// front-end, which stays out of scope per §1.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/sk8/skcd/internal/config"
	"github.com/sk8/skcd/internal/storage"
	"github.com/sk8/skcd/internal/storage/factory"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "skcd-migrate:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("skcd-migrate", flag.ContinueOnError)
	caseDir := fs.String("case", "", "path to the case directory (embedded) or config directory (networked)")
	yes := fs.Bool("yes", false, "skip the interactive confirmation prompt")
	pgPassword := fs.String("pg-password", "", "networked backend password (prompted interactively if empty and a user is configured)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *caseDir == "" {
		return errors.New("-case is required")
	}

	cfg := config.LoadCaseConfigWithEnv(*caseDir)
	if cfg.IsNetworked() && cfg.Password == "" {
		if *pgPassword != "" {
			cfg.Password = *pgPassword
		} else if cfg.User != "" {
			pw, err := promptPassword()
			if err != nil {
				return fmt.Errorf("reading password: %w", err)
			}
			cfg.Password = pw
		}
	}
	if !cfg.IsNetworked() && cfg.Path == "" {
		cfg.Path = *caseDir
	}

	ctx := context.Background()

	current, target, err := inspect(ctx, cfg)
	if err != nil {
		return err
	}
	if current.Compare(target) == 0 {
		fmt.Printf("schema is current (%s)\n", current)
		return nil
	}
	if current.Major > target.Major {
		return storage.ErrSchemaUnsupported
	}

	fmt.Printf("case schema %s will be upgraded to %s\n", current, target)
	if !*yes {
		ok, err := confirm("proceed? [y/N] ")
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("aborted")
			return nil
		}
	}

	c, err := factory.New(ctx, cfg, factory.Options{})
	if err != nil {
		return fmt.Errorf("opening case for upgrade: %w", err)
	}
	defer func() { _ = c.Close() }()

	fmt.Println("upgrade complete")
	return nil
}

// inspect opens the case read-only just long enough to read its stored
// schema version, so a caller can decide whether an upgrade is needed
// without committing to one.
func inspect(ctx context.Context, cfg *config.CaseConfig) (current, target storage.SchemaVersion, err error) {
	c, err := factory.New(ctx, cfg, factory.Options{ReadOnly: true})
	if err != nil {
		return storage.SchemaVersion{}, storage.SchemaVersion{}, fmt.Errorf("opening case: %w", err)
	}
	defer func() { _ = c.Close() }()

	vr, ok := c.(storage.VersionReporter)
	if !ok {
		return storage.SchemaVersion{}, storage.SchemaVersion{}, errors.New("backend does not report a schema version")
	}
	current, err = vr.SchemaVersion(ctx)
	if err != nil {
		return storage.SchemaVersion{}, storage.SchemaVersion{}, fmt.Errorf("reading stored schema version: %w", err)
	}
	return current, storage.CURRENT, nil
}

func promptPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Password: ")
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(pw), nil
}

func confirm(prompt string) (bool, error) {
	fmt.Fprint(os.Stderr, prompt)
	var line string
	if _, err := fmt.Scanln(&line); err != nil && line == "" {
		return false, nil
	}
	line = strings.ToLower(strings.TrimSpace(line))
	return line == "y" || line == "yes", nil
}
