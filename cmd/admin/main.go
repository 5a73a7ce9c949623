package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/tendant/simple-index/pkg/simpleindex"
	"github.com/tendant/simple-index/pkg/simpleindex/config"
	"github.com/tendant/simple-index/pkg/simpleindex/identity"
	repopg "github.com/tendant/simple-index/pkg/simpleindex/repo/postgres"
)

const usage = `Simple Index Admin CLI

USAGE:
  admin <command> [options]

COMMANDS:
  migrate [-down]              Apply (or revert) the database schema
  useradd <username>           Create a user or reset its password
  users                        List database users
  hash                         Print a bcrypt hash for an INDEX_USERS entry
  list [-json] [project]       List projects, or the releases of one project

ENVIRONMENT VARIABLES:
  DATABASE_URL      PostgreSQL connection string (required for migrate, useradd, users, list)
  ADMIN_PASSWORD    Password for useradd/hash; read from stdin when unset

  Configuration can be loaded from a .env file in the current directory.
  Command line environment variables override .env file values.

EXAMPLES:
  admin migrate
  ADMIN_PASSWORD=s3cret admin useradd alice
  echo s3cret | admin hash -user alice
  admin list -json foo
`

func main() {
	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Print(usage + "\n")
		os.Exit(1)
	}

	command, args := os.Args[1], os.Args[2:]
	if command == "help" || command == "--help" || command == "-h" {
		fmt.Print(usage + "\n")
		return
	}

	ctx := context.Background()
	var err error
	switch command {
	case "migrate":
		err = runMigrate(args)
	case "useradd":
		err = runUserAdd(ctx, args)
	case "users":
		err = runUsers(ctx, args)
	case "hash":
		err = runHash(args)
	case "list":
		err = runList(ctx, args)
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		fmt.Print(usage + "\n")
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", command, err)
		os.Exit(1)
	}
}

func databaseURL() (string, error) {
	url := os.Getenv("DATABASE_URL")
	if url == "" || url == "memory" {
		return "", errors.New("DATABASE_URL must point at PostgreSQL")
	}
	return url, nil
}

func runMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	down := fs.Bool("down", false, "revert every migration")
	fs.Parse(args)

	url, err := databaseURL()
	if err != nil {
		return err
	}
	if *down {
		if err := repopg.MigrateDown(url); err != nil {
			return err
		}
		fmt.Println("Migrations reverted")
		return nil
	}
	if err := repopg.Migrate(url); err != nil {
		return err
	}
	fmt.Println("Migrations applied")
	return nil
}

func readPassword() (string, error) {
	if pw := os.Getenv("ADMIN_PASSWORD"); pw != "" {
		return pw, nil
	}
	fmt.Fprint(os.Stderr, "Password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", errors.New("password must not be empty")
	}
	return pw, nil
}

func runUserAdd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("useradd", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("usage: admin useradd <username>")
	}

	url, err := databaseURL()
	if err != nil {
		return err
	}
	password, err := readPassword()
	if err != nil {
		return err
	}

	pool, err := config.ConnectPostgres(ctx, url, 10*time.Second, nil)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := repopg.NewUserStore(pool).SetPassword(ctx, fs.Arg(0), password); err != nil {
		return err
	}
	fmt.Printf("User %s saved\n", fs.Arg(0))
	return nil
}

func runUsers(ctx context.Context, args []string) error {
	url, err := databaseURL()
	if err != nil {
		return err
	}
	pool, err := config.ConnectPostgres(ctx, url, 10*time.Second, nil)
	if err != nil {
		return err
	}
	defer pool.Close()

	names, err := repopg.NewUserStore(pool).ListUsers(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func runHash(args []string) error {
	fs := flag.NewFlagSet("hash", flag.ExitOnError)
	user := fs.String("user", "", "print a full user:hash entry for this user")
	fs.Parse(args)

	password, err := readPassword()
	if err != nil {
		return err
	}
	hash, err := identity.HashPassword(password)
	if err != nil {
		return err
	}
	if *user != "" {
		fmt.Printf("%s:%s\n", *user, hash)
		return nil
	}
	fmt.Println(hash)
	return nil
}

func runList(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	useJSON := fs.Bool("json", false, "output as JSON")
	fs.Parse(args)

	url, err := databaseURL()
	if err != nil {
		return err
	}
	pool, err := config.ConnectPostgres(ctx, url, 10*time.Second, nil)
	if err != nil {
		return err
	}
	defer pool.Close()

	registry, err := simpleindex.New(simpleindex.WithRepository(repopg.NewWithPool(pool)))
	if err != nil {
		return err
	}

	if fs.NArg() == 0 {
		projects, err := registry.ListProjects(ctx)
		if err != nil {
			return err
		}
		if *useJSON {
			return printJSON(projects)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "NAME\tOWNER\tUPDATED\n")
		for _, p := range projects {
			fmt.Fprintf(w, "%s\t%s\t%s\n", p.Name, p.Owner, p.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	}

	releases, err := registry.ListReleases(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	if *useJSON {
		return printJSON(releases)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "VERSION\tARTIFACT\tSIZE\tCLASSIFIERS\tUPDATED\n")
	for _, r := range releases {
		artifact, size := "-", "-"
		if r.Artifact != nil {
			artifact, size = r.Artifact.Filename, fmt.Sprint(r.Artifact.Size)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			r.Version, artifact, size, len(r.Classifiers), r.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
