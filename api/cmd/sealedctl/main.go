// sealedctl generates payload secrets, seals and opens payloads by hand,
// and calls a sealed API through the same client pipeline services use.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/irgordon/sealedapi/api/internal/app"
	"github.com/irgordon/sealedapi/api/internal/config"
	"github.com/irgordon/sealedapi/api/internal/core/services"
	"github.com/irgordon/sealedapi/api/internal/infrastructure/crypto"
	"github.com/irgordon/sealedapi/api/internal/logging"
	"github.com/irgordon/sealedapi/api/internal/transport"
)

// usageError marks bad invocations so main can exit with status 2.
type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }
func (e *usageError) ExitCode() int { return 2 }

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	var configPath string

	flagSet := pflag.NewFlagSet("sealedctl", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.SetInterspersed(false)
	flagSet.StringVar(&configPath, "config", os.Getenv("SEALEDAPI_CONFIG"), "path to a YAML config file")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(stderr, flagSet)
			return nil
		}
		return usagef("%v", err)
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(stderr, flagSet)
		return nil
	}

	rest := flagSet.Args()
	if len(rest) == 0 {
		printHelp(stderr, flagSet)
		return usagef("missing command")
	}

	command, rest := rest[0], rest[1:]
	switch command {
	case "keygen":
		return runKeygen(rest, stdout, stderr)
	case "encode":
		return runCodec(rest, stdin, stdout, stderr, true)
	case "decode":
		return runCodec(rest, stdin, stdout, stderr, false)
	case "get", "delete":
		return runQuery(ctx, configPath, command, rest, stdout, stderr)
	case "post", "put", "patch":
		return runBody(ctx, configPath, command, rest, stdout, stderr)
	case "login":
		return runLogin(ctx, configPath, rest, stdout, stderr)
	default:
		return usagef("unknown command %q", command)
	}
}

func printHelp(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, `sealedctl - sealed payload toolkit.

Usage:
  sealedctl [--config FILE] <command> [args]

Commands:
  keygen [--passphrase P --salt S --iterations N]   print a new payload secret
  encode [--double] [--secret S] [JSON]              seal JSON (argument or stdin)
  decode [--double] [--secret S] [PAYLOAD]           open a sealed payload
  get|delete <path> [key=value...]                   call the API with a query set
  post|put|patch <path> <JSON>                       call the API with a body
  login <username> <password> <otp>                  run the login flow

API commands read ENCRYPTION_SECRET, API_BASE_URL and friends from the
environment, a .env file or --config. Set SEALEDAPI_TOKEN to send a
session token.

Flags:
%s`, flagSet.FlagUsages())
}

// ==============================================================================
// 1. Offline Codec Commands
// ==============================================================================

func runKeygen(args []string, stdout, stderr io.Writer) error {
	var passphrase, salt string
	var iterations int

	flagSet := pflag.NewFlagSet("keygen", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVar(&passphrase, "passphrase", "", "derive the secret from this passphrase instead of random bytes")
	flagSet.StringVar(&salt, "salt", "", "salt for --passphrase (at least 8 bytes)")
	flagSet.IntVar(&iterations, "iterations", crypto.MinDeriveIterations, "PBKDF2 iterations for --passphrase")
	if err := flagSet.Parse(args); err != nil {
		return usagef("%v", err)
	}

	var secret string
	var err error
	if passphrase != "" {
		secret, err = crypto.DeriveSecret([]byte(passphrase), []byte(salt), iterations)
	} else {
		secret, err = crypto.GenerateSecret()
	}
	if err != nil {
		return err
	}

	fmt.Fprintln(stdout, secret)
	return nil
}

func runCodec(args []string, stdin io.Reader, stdout, stderr io.Writer, encode bool) error {
	var double bool
	var secret string

	name := "decode"
	if encode {
		name = "encode"
	}
	flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.BoolVar(&double, "double", false, "apply the second base64 layer")
	flagSet.StringVar(&secret, "secret", "", "payload secret (default $ENCRYPTION_SECRET)")
	if err := flagSet.Parse(args); err != nil {
		return usagef("%v", err)
	}

	if secret == "" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("loading .env: %w", err)
		}
		secret = os.Getenv("ENCRYPTION_SECRET")
	}
	if secret == "" {
		return usagef("%s needs --secret or ENCRYPTION_SECRET", name)
	}

	input, err := argOrStdin(flagSet.Args(), stdin)
	if err != nil {
		return err
	}

	payload, err := app.NewPayloadService(config.EncryptionConfig{
		Enabled:      true,
		Secret:       secret,
		DoubleEncode: double,
	}, nil)
	if err != nil {
		return err
	}

	if encode {
		if !json.Valid([]byte(input)) {
			return usagef("encode input is not valid JSON")
		}
		sealed, err := payload.EncryptPayload(json.RawMessage(input))
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, sealed)
		return nil
	}

	opened, err := payload.DecryptPayload(input)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, string(opened))
	return nil
}

func argOrStdin(args []string, stdin io.Reader) (string, error) {
	if len(args) > 1 {
		return "", usagef("expected at most one argument, got %d", len(args))
	}
	if len(args) == 1 {
		return strings.TrimSpace(args[0]), nil
	}
	raw, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

// ==============================================================================
// 2. API Commands
// ==============================================================================

func newClient(configPath string, stderr io.Writer) (*transport.Client, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := logging.New(cfg.LogLevel, stderr)
	payload, err := app.NewPayloadService(cfg.Encryption, nil)
	if err != nil {
		return nil, err
	}

	tokens := &transport.TokenStore{}
	tokens.Set(os.Getenv("SEALEDAPI_TOKEN"))

	return app.NewClient(cfg, payload, app.ClientDeps{Logger: logger, Tokens: tokens})
}

func runQuery(ctx context.Context, configPath, method string, args []string, stdout, stderr io.Writer) error {
	if len(args) < 1 {
		return usagef("%s needs a path", method)
	}

	var params map[string]any
	for _, pair := range args[1:] {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return usagef("query argument %q is not key=value", pair)
		}
		if params == nil {
			params = map[string]any{}
		}
		params[key] = value
	}

	client, err := newClient(configPath, stderr)
	if err != nil {
		return err
	}

	var resp *transport.Response
	if method == "delete" {
		resp, err = client.Delete(ctx, args[0], params)
	} else {
		resp, err = client.Get(ctx, args[0], params)
	}
	return printResponse(stdout, resp, err)
}

func runBody(ctx context.Context, configPath, method string, args []string, stdout, stderr io.Writer) error {
	if len(args) != 2 {
		return usagef("%s needs a path and a JSON body", method)
	}
	if !json.Valid([]byte(args[1])) {
		return usagef("body is not valid JSON")
	}

	client, err := newClient(configPath, stderr)
	if err != nil {
		return err
	}

	resp, err := client.Do(ctx, &transport.Request{
		Method: method,
		URL:    args[0],
		Body:   json.RawMessage(args[1]),
	})
	return printResponse(stdout, resp, err)
}

func runLogin(ctx context.Context, configPath string, args []string, stdout, stderr io.Writer) error {
	if len(args) != 3 {
		return usagef("login needs <username> <password> <otp>")
	}
	otp, err := strconv.Atoi(args[2])
	if err != nil {
		return usagef("otp must be a number: %v", err)
	}

	client, err := newClient(configPath, stderr)
	if err != nil {
		return err
	}

	resp, err := client.Post(ctx, "/api/users/login", map[string]any{
		"username": args[0],
		"password": args[1],
		"otp":      otp,
	})
	if err != nil {
		return printResponse(stdout, nil, err)
	}

	if !resp.Decoded {
		return printResponse(stdout, resp, nil)
	}

	var session services.Session
	if err := resp.Decode(&session); err != nil || session.AccessToken == "" {
		return printResponse(stdout, resp, nil)
	}
	fmt.Fprintf(stdout, "export SEALEDAPI_TOKEN=%s\n", session.AccessToken)
	return nil
}

func printResponse(stdout io.Writer, resp *transport.Response, err error) error {
	var httpErr *transport.HTTPError
	if errors.As(err, &httpErr) {
		fmt.Fprintln(stdout, string(httpErr.Body))
		return httpErr
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, string(resp.Body))
	return nil
}
