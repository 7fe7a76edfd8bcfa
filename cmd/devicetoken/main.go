// Command devicetoken mints the bearer token a gangway scanner presents on
// the scan routes. The token is signed with DEVICE_TOKEN_SECRET, the same
// secret the API verifies with, and is printed on stdout.
//
//	devicetoken --device gate-a-01 [--ttl 720h]
package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/pkordes/ferry-boarding/internal/middleware"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "devicetoken: load .env: %v\n", err)
		os.Exit(1)
	}
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "devicetoken: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	flagSet := pflag.NewFlagSet("devicetoken", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	deviceID := flagSet.String("device", "", "device id the token is bound to")
	ttl := flagSet.Duration("ttl", 30*24*time.Hour, "token lifetime (0 never expires)")
	secret := flagSet.String("secret", os.Getenv("DEVICE_TOKEN_SECRET"), "signing secret")

	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if *secret == "" {
		return errors.New("--secret or DEVICE_TOKEN_SECRET is required")
	}
	if *ttl < 0 {
		return fmt.Errorf("--ttl must not be negative, got %s", *ttl)
	}

	token, err := middleware.IssueDeviceToken([]byte(*secret), *deviceID, *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, token)
	return nil
}
