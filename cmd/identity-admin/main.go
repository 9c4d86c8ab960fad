// Admin CLI for the identity reconciliation store: schema bootstrap and local resolution.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"

	"identityrecon/internal/app"
	"identityrecon/internal/config"
	"identityrecon/internal/logger"
	"identityrecon/internal/models"
	"identityrecon/internal/service"
)

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "migrate":
		err = cmdMigrate(args)
	case "identify":
		err = cmdIdentify(args)
	case "cluster":
		err = cmdCluster(args)
	case "help", "-h", "--help":
		printUsage(os.Stdout)
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage(os.Stderr)
		os.Exit(1)
	}

	if err != nil {
		color.New(color.FgRed, color.Bold).Fprint(os.Stderr, "error: ")
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `Usage: identity-admin <command> [flags]

Commands:
  migrate                          create the contacts schema in the configured store
  identify --email E --phone P     resolve an identity and print the consolidated contact
  cluster  --id N                  print the consolidated view of the cluster containing contact N

Every command accepts --config PATH (YAML or TOML); environment overrides apply as for the server.`)
}

func loadConfig(path string) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cfg.ApplyEnv()
	// The CLI is quiet unless asked otherwise.
	if os.Getenv("LOG_LEVEL") == "" {
		cfg.Logging.Level = "warn"
	}
	return cfg, cfg.Validate()
}

func cmdMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	configPath := fs.String("config", os.Getenv("CONFIG_PATH"), "config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	log := logger.New(cfg.Logging)

	// Opening a SQL store runs its migrations; file and memory stores need none.
	store, err := app.OpenStore(cfg.Store, log)
	if err != nil {
		return err
	}
	defer store.Close()

	color.Green("✓ schema ready (%s)", cfg.Store.Driver)
	return nil
}

func cmdIdentify(args []string) error {
	fs := flag.NewFlagSet("identify", flag.ContinueOnError)
	configPath := fs.String("config", os.Getenv("CONFIG_PATH"), "config file")
	email := fs.String("email", "", "email address")
	phone := fs.String("phone", "", "phone number")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := open(*configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	req := models.IdentifyRequest{}
	if *email != "" {
		req.Email = email
	}
	if *phone != "" {
		req.PhoneNumber = phone
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := a.Service.Identify(ctx, req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidRequest) {
			return fmt.Errorf("%w (pass --email and/or --phone)", err)
		}
		return err
	}
	return printContact(resp.Contact)
}

func cmdCluster(args []string) error {
	fs := flag.NewFlagSet("cluster", flag.ContinueOnError)
	configPath := fs.String("config", os.Getenv("CONFIG_PATH"), "config file")
	id := fs.Int64("id", 0, "contact id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id <= 0 {
		return errors.New("--id is required")
	}

	a, err := open(*configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	view, err := a.Service.Cluster(ctx, *id)
	if err != nil {
		return err
	}
	return printContact(*view)
}

func open(configPath string) (*app.App, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return app.New(context.Background(), cfg, logger.NewWithOutput(cfg.Logging, os.Stderr))
}

func printContact(c models.ContactResponse) error {
	bold := color.New(color.Bold)
	bold.Fprint(os.Stderr, "primary: ")
	color.New(color.FgCyan).Fprintf(os.Stderr, "%d", c.PrimaryContactID)
	fmt.Fprintf(os.Stderr, "  (%d secondaries)\n", len(c.SecondaryContactIDs))

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(models.IdentifyResponse{Contact: c})
}
