package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"loanflow/internal/app"
	"loanflow/internal/config"
	"loanflow/internal/flow"
	"loanflow/internal/loan"
)

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file and overlays secrets from the
// environment and the optional loanflow.env / .env files.
func loadConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	if err := config.LoadEnv(defaults["env_path"], ".env"); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	config.ApplyEnv(cfg, nil)
	return cfg, nil
}

// newApp reads the config and creates an App. The caller must defer a.Close().
// operation identifies the CLI command being run.
func newApp(ctx context.Context, operation string) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.NewApp(ctx, cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// readSecret prompts on stderr and reads a line without echo.
func readSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

func readLine(r *bufio.Reader, prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	line, err := r.ReadString('\n')
	if err != nil && !(err == io.EOF && line != "") {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

var rootCmd = &cobra.Command{
	Use:          "loanflow",
	Short:        "Loan application intake server",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		fmt.Printf("Set %s (at least 32 bytes) in the environment or %s before serving.\n", config.EnvJWTSecret, defaults["env_path"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir:        %s\n", cfg.BaseDir)
		fmt.Printf("Log:             %s/%s\n", cfg.Log.Env, cfg.Log.Level)
		fmt.Printf("HTTP Addr:       %s\n", cfg.HTTP.Addr)
		fmt.Printf("Session TTL:     %s\n", cfg.HTTP.SessionTTL.Duration)
		fmt.Printf("Object Store:    %s\n", cfg.ObjectStore.Type)
		fmt.Printf("Document Store:  %s\n", cfg.DocumentStore.Type)
		fmt.Printf("Staging:         %s\n", cfg.Staging.Type)
		fmt.Printf("Challenges:      %s\n", cfg.Identity.ChallengeStore)
		fmt.Printf("Encryption:      %s\n", cfg.Encryption.Type)
		fmt.Printf("Notify:          %s\n", cfg.Notify.Type)
		return nil
	},
}

// migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Bring the document store schema up to date",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := app.Migrate(cmd.Context(), cfg.DocumentStore); err != nil {
			return fmt.Errorf("migrating: %w", err)
		}
		fmt.Println("Document store is up to date.")
		return nil
	},
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, "serve")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Serve(ctx); err != nil {
			a.Fail()
			return err
		}
		return nil
	},
}

// flows command
var flowsCmd = &cobra.Command{
	Use:   "flows",
	Short: "Inspect form flows",
}

func loadFlows() (*flow.Registry, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return flow.Load(cfg.Flows.Dir)
}

var flowsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List flows",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := loadFlows()
		if err != nil {
			return err
		}
		for _, f := range reg.Flows() {
			steps := make([]string, 0, len(f.Steps))
			for _, st := range f.Steps {
				steps = append(steps, st.ID)
			}
			fmt.Printf("%-12s  %-28s  %s\n", f.Kind, f.Title, strings.Join(steps, " > "))
		}
		return nil
	},
}

var flowsShowCmd = &cobra.Command{
	Use:   "show KIND",
	Short: "Print a flow definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := loadFlows()
		if err != nil {
			return err
		}
		f, ok := reg.Lookup(args[0])
		if !ok {
			return fmt.Errorf("%w: %s", loan.ErrUnknownFlow, args[0])
		}
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(f)
	},
}

// applications command
var applicationsCmd = &cobra.Command{
	Use:     "applications",
	Aliases: []string{"apps"},
	Short:   "Inspect submitted applications",
}

var applicationsListCmd = &cobra.Command{
	Use:   "list KIND",
	Short: "List stored applications, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context(), "ListApplications")
		if err != nil {
			return err
		}
		defer a.Close()

		recs, err := a.ListApplications(cmd.Context(), args[0], status, limit)
		if err != nil {
			a.Fail()
			return err
		}
		if len(recs) == 0 {
			fmt.Println("No applications.")
			return nil
		}
		for _, r := range recs {
			fmt.Printf("%s  %s  %-10s  %-14s  %d document(s)\n",
				r.ID,
				r.CreatedAt.Format("2006-01-02 15:04:05"),
				r.Status,
				r.PhoneNumber,
				len(r.Documents),
			)
		}
		return nil
	},
}

var applicationsGetCmd = &cobra.Command{
	Use:   "get KIND ID",
	Short: "Print one application as JSON",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "GetApplication")
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.GetApplication(cmd.Context(), args[0], args[1])
		if err != nil {
			a.Fail()
			return err
		}
		if rec == nil {
			return fmt.Errorf("application %s/%s not found", args[0], args[1])
		}
		out, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var applicationsDeleteCmd = &cobra.Command{
	Use:   "delete KIND ID",
	Short: "Delete an application and its documents",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "DeleteApplication")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.DeleteApplication(cmd.Context(), args[0], args[1]); err != nil {
			a.Fail()
			return err
		}
		fmt.Printf("Deleted %s/%s\n", args[0], args[1])
		return nil
	},
}

// login command
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Verify a phone number with a one-time code",
	Long: "Runs the login flow's phone verification against the configured identity\n" +
		"provider and prints the resulting user id and ID token.",
	RunE: func(cmd *cobra.Command, args []string) error {
		phone, _ := cmd.Flags().GetString("phone")
		kind, _ := cmd.Flags().GetString("flow")
		ctx := cmd.Context()

		a, err := newApp(ctx, "Login")
		if err != nil {
			return err
		}
		defer a.Close()

		sess, err := a.Service().Create(kind)
		if err != nil {
			return err
		}
		gate := sess.Auth()

		if phone == "" {
			phone, err = readLine(bufio.NewReader(os.Stdin), "Phone number: ")
			if err != nil {
				return err
			}
		}
		if _, err := gate.PrepareWidget(ctx); err != nil {
			a.Fail()
			return err
		}
		if err := gate.RequestCode(ctx, phone); err != nil {
			a.Fail()
			return fmt.Errorf("%s: %w", loan.UserMessage(err), err)
		}
		fmt.Fprintf(os.Stderr, "Code sent to %s\n", gate.Phone())

		code, err := readSecret("Code: ")
		if err != nil {
			return err
		}
		as, err := gate.ConfirmCode(ctx, code)
		if err != nil {
			a.Fail()
			return fmt.Errorf("%s: %w", loan.UserMessage(err), err)
		}

		fmt.Printf("User ID:  %s\n", as.UserID)
		fmt.Printf("Phone:    %s\n", as.PhoneNumber)
		fmt.Printf("ID Token: %s\n", as.IDToken)
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage document encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the document encryption key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		pass, err := readSecret("Passphrase: ")
		if err != nil {
			return err
		}
		confirm, err := readSecret("Confirm passphrase: ")
		if err != nil {
			return err
		}
		if pass != confirm {
			return fmt.Errorf("passphrases do not match")
		}

		if err := app.SetupKeys(cfg.Encryption, pass); err != nil {
			return err
		}
		fmt.Printf("Public key:  %s\n", cfg.Encryption.PublicKeyPath)
		fmt.Printf("Private key: %s\n", cfg.Encryption.PrivateKeyPath)
		fmt.Println(`Set encryption.type = "age" in the config to encrypt new uploads.`)
		return nil
	},
}

// documents command
var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "Work with uploaded documents",
}

var documentsDecryptCmd = &cobra.Command{
	Use:   "decrypt FILE [OUT]",
	Short: "Decrypt a downloaded document",
	Long:  "Decrypts FILE into OUT, or into FILE without its .age suffix, or to stdout with OUT \"-\".",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		in, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer in.Close()

		outPath := strings.TrimSuffix(args[0], loan.EncryptedSuffix)
		if len(args) == 2 {
			outPath = args[1]
		}
		if outPath == args[0] {
			return fmt.Errorf("output path required for %s", args[0])
		}

		pass, err := readSecret("Passphrase: ")
		if err != nil {
			return err
		}

		var w io.Writer = os.Stdout
		if outPath != "-" {
			out, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
			if err != nil {
				return err
			}
			defer out.Close()
			w = out
		}
		if err := app.DecryptDocument(cfg.Encryption, pass, in, w); err != nil {
			if outPath != "-" {
				os.Remove(outPath)
			}
			return err
		}
		if outPath != "-" {
			fmt.Fprintf(os.Stderr, "Wrote %s\n", outPath)
		}
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	flowsCmd.AddCommand(flowsListCmd)
	flowsCmd.AddCommand(flowsShowCmd)

	applicationsCmd.AddCommand(applicationsListCmd)
	applicationsListCmd.Flags().String("status", "", "Only show applications with this status")
	applicationsListCmd.Flags().IntP("limit", "n", 50, "Maximum number of applications to show")
	applicationsCmd.AddCommand(applicationsGetCmd)
	applicationsCmd.AddCommand(applicationsDeleteCmd)

	loginCmd.Flags().String("phone", "", "Phone number to verify (prompted when empty)")
	loginCmd.Flags().String("flow", "login", "Flow whose phone check applies")

	keysCmd.AddCommand(keysInitCmd)
	documentsCmd.AddCommand(documentsDecryptCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(flowsCmd)
	rootCmd.AddCommand(applicationsCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(documentsCmd)
}
