package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"certportal/internal/config"
	"certportal/internal/log"
	"certportal/internal/repository"
	"certportal/internal/service"
)

const usage = `portalctl manages a certificate portal installation.

Usage:
  portalctl create-admin -name NAME -email EMAIL [-password-stdin]

The password is prompted for on the terminal unless -password-stdin is set.
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return errors.New("missing command")
	}

	switch args[0] {
	case "create-admin":
		return createAdmin(args[1:])
	case "-h", "--help", "help":
		fmt.Print(usage)
		return nil
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func createAdmin(args []string) error {
	fs := flag.NewFlagSet("create-admin", flag.ContinueOnError)
	name := fs.String("name", "", "display name")
	email := fs.String("email", "", "login email")
	fromStdin := fs.Bool("password-stdin", false, "read the password from stdin")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" || *email == "" {
		return errors.New("-name and -email are required")
	}

	password, err := readPassword(*fromStdin, os.Stdin)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := log.New(cfg.Environment, cfg.Logging.Level)

	ctx := context.Background()
	store, err := repository.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	users := service.NewUserService(store, nil, nil, logger)
	admin, err := users.CreateAdmin(ctx, *name, *email, password)
	if err != nil {
		return err
	}

	fmt.Printf("admin %s created (id %s)\n", admin.Email, admin.ID)
	return nil
}

func readPassword(fromStdin bool, stdin *os.File) (string, error) {
	if fromStdin || !term.IsTerminal(int(stdin.Fd())) {
		return readLine(stdin)
	}

	fmt.Fprint(os.Stderr, "Password: ")
	first, err := term.ReadPassword(int(stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	fmt.Fprint(os.Stderr, "Repeat password: ")
	second, err := term.ReadPassword(int(stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), nil
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
