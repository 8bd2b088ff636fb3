// Command hashsecret prints the bcrypt hash of an API client secret in the
// id:hash form API_CLIENTS expects.
//
// Usage:
//
//	hashsecret -id ci            # reads the secret from stdin
//	echo -n "$SECRET" | hashsecret -id ci -cost 12
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sakif/code-runner/internal/auth"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "hashsecret:", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("hashsecret", flag.ContinueOnError)
	id := fs.String("id", "", "client id (required)")
	cost := fs.Int("cost", auth.DefaultCost, "bcrypt cost")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" || strings.ContainsAny(*id, ":,") {
		return errors.New("-id is required and must not contain ':' or ','")
	}

	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("reading secret: %w", err)
	}
	secret := strings.TrimRight(line, "\r\n")

	hash, err := auth.NewSecretHasher(*cost).Hash(secret)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(stdout, "%s:%s\n", *id, hash)
	return err
}
