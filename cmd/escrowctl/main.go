package main

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"keyescrow/internal/authz"
	"keyescrow/internal/dto"
	"keyescrow/internal/escrow"
	"keyescrow/internal/keywrap"
	"keyescrow/internal/observability/logging"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	_ = godotenv.Load()

	// stdout carries command output only.
	slog.SetDefault(logging.NewLogger(logging.Config{
		ServiceName: "escrowctl",
		Environment: getenv("ENVIRONMENT", "development"),
		Level:       getenv("LOG_LEVEL", "warn"),
		Output:      os.Stderr,
	}))

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "genkey":
		err = runGenKey(args)
	case "token":
		err = runToken(args)
	case "rotate":
		err = runRotate(args)
	case "repair-pending":
		err = runRepairPending(args)
	case "repair-stale":
		err = runRepairStale(args)
	default:
		usage()
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <command> [options]\n", os.Args[0])
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  genkey          Generate an escrow private key")
	fmt.Fprintln(os.Stderr, "  token           Mint an HS256 access token for a profile")
	fmt.Fprintln(os.Stderr, "  rotate          Rewrap recent messages under the caller's current key")
	fmt.Fprintln(os.Stderr, "  repair-pending  Wrap messages sent while the caller had no key")
	fmt.Fprintln(os.Stderr, "  repair-stale    Rewrap a single message for the caller")
	os.Exit(2)
}

func runGenKey(args []string) error {
	fs := flag.NewFlagSet("genkey", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	id := fs.String("id", "", "escrow key id (required)")
	bits := fs.Int("bits", 3072, "RSA modulus size")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*id) == "" {
		return fmt.Errorf("id is required")
	}
	if *bits < keywrap.MinModulusBits {
		return fmt.Errorf("bits must be at least %d", keywrap.MinModulusBits)
	}

	priv, err := rsa.GenerateKey(rand.Reader, *bits)
	if err != nil {
		return err
	}
	pemKey, err := escrow.EncodePrivateKey(priv)
	if err != nil {
		return err
	}
	fragment, err := json.Marshal(map[string]string{*id: pemKey})
	if err != nil {
		return err
	}

	out := struct {
		KeyID      string            `json:"key_id"`
		PrivateKey string            `json:"private_key"`
		PublicJWK  keywrap.PublicJWK `json:"public_jwk"`
		EscrowKeys string            `json:"escrow_keys"`
	}{*id, pemKey, keywrap.PublicJWKFromKey(&priv.PublicKey), string(fragment)}
	return printJSON(out)
}

func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	sub := fs.String("sub", "", "profile UUID (required)")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := uuid.Parse(strings.TrimSpace(*sub)); err != nil {
		return fmt.Errorf("sub must be a profile UUID")
	}
	tok, err := mintToken(strings.TrimSpace(*sub), *ttl)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}

func mintToken(sub string, ttl time.Duration) (string, error) {
	signer, err := authz.NewSigner(os.Getenv("JWT_SECRET"), getenv("JWT_ISSUER", "http://localhost:8081"), getenv("JWT_AUDIENCE", "client"))
	if err != nil {
		return "", fmt.Errorf("JWT_SECRET must be set: %w", err)
	}
	return signer.Sign(sub, ttl)
}

type callOpts struct {
	baseURL string
	token   string
	sub     string
}

func callFlags(name string) (*flag.FlagSet, *callOpts) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	o := &callOpts{}
	fs.StringVar(&o.baseURL, "base-url", getenv("ESCROWCTL_BASE_URL", "http://localhost:8086"), "escrow service base URL")
	fs.StringVar(&o.token, "token", os.Getenv("ESCROWCTL_TOKEN"), "bearer token (minted from -sub when empty)")
	fs.StringVar(&o.sub, "sub", "", "profile UUID used to mint a token")
	return fs, o
}

func (o *callOpts) bearer() (string, error) {
	if o.token != "" {
		return o.token, nil
	}
	if o.sub == "" {
		return "", fmt.Errorf("either -token or -sub is required")
	}
	return mintToken(o.sub, 5*time.Minute)
}

func runRotate(args []string) error {
	fs, o := callFlags("rotate")
	if err := fs.Parse(args); err != nil {
		return err
	}
	var res dto.RotationResponse
	if err := o.post("/v1/keys/rotate", nil, &res); err != nil {
		return err
	}
	return printJSON(res)
}

func runRepairPending(args []string) error {
	fs, o := callFlags("repair-pending")
	if err := fs.Parse(args); err != nil {
		return err
	}
	var res dto.PendingRepairResponse
	if err := o.post("/v1/keys/repair-pending", nil, &res); err != nil {
		return err
	}
	return printJSON(res)
}

func runRepairStale(args []string) error {
	fs, o := callFlags("repair-stale")
	messageID := fs.String("message", "", "message UUID (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*messageID) == "" {
		return fmt.Errorf("message id is required")
	}
	var res dto.StaleRepairResponse
	if err := o.post("/v1/keys/repair-stale", dto.StaleRepairRequest{MessageID: strings.TrimSpace(*messageID)}, &res); err != nil {
		return err
	}
	return printJSON(res)
}

func (o *callOpts) post(path string, body, out any) error {
	tok, err := o.bearer()
	if err != nil {
		return err
	}
	var payload []byte
	if body != nil {
		if payload, err = json.Marshal(body); err != nil {
			return err
		}
	}

	client := &http.Client{Timeout: 30 * time.Second}
	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(o.baseURL, "/")+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok)
	slog.Debug("calling escrow service", "method", req.Method, "url", req.URL.String())
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			slog.Warn("failed to close response body", "error", cerr, "path", path)
		}
	}()

	if resp.StatusCode >= 400 {
		var e dto.ErrorResponse
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("%s failed (%d): %s", path, resp.StatusCode, e.Error)
		}
		if len(data) == 0 {
			data = []byte(resp.Status)
		}
		return fmt.Errorf("%s failed: %s", path, strings.TrimSpace(string(data)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
