package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"dsda-uploader/internal/app"
	"dsda-uploader/internal/config"
	"dsda-uploader/internal/demo"
	"dsda-uploader/internal/sources"

	"github.com/spf13/cobra"
)

func main() {
	if err := app.LoadDotEnv(""); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// newApp reads the config and creates a DsdaApp. The caller must defer a.Close().
// operation identifies the CLI command being run (e.g. "process", "correct").
func newApp(cmd *cobra.Command, operation string) (*app.DsdaApp, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	opts := app.Options{Passphrase: readPassphrase, Verbose: verbose}
	if isInteractive() {
		opts.Prompter = newTerminalPrompter(os.Stdin, os.Stderr)
	}

	a, err := app.NewDsdaApp(cmd.Context(), cfg, operation, opts)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

var rootCmd = &cobra.Command{
	Use:          "dsdaup",
	Short:        "Prepare and submit speedrun demos to the archive",
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
		fmt.Println("Run 'dsdaup db migrate' before the first submission.")
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
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir:     %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:      %s\n", cfg.LogDir)
		fmt.Printf("Cache:        %s\n", cfg.Cache.Type)
		fmt.Printf("Database:     %s\n", cfg.Database.Type)
		fmt.Printf("Replay:       %s (iwad %s)\n", cfg.Replay.Binary, cfg.Replay.IWAD)
		fmt.Printf("Registry:     %s (enabled %v)\n", cfg.Registry.BaseURL, cfg.Registry.Enabled)
		fmt.Printf("Index:        %s (enabled %v)\n", cfg.Idgames.BaseURL, cfg.Idgames.Enabled)
		fmt.Printf("Archive API:  %s\n", cfg.API.BaseURL)
		fmt.Printf("Credentials:  %s\n", cfg.API.CredentialsPath)
		fmt.Printf("Epoch cutoff: %s\n", cfg.Validation.EpochCutoff)
		return nil
	},
}

// credentials command
var credentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "Manage archive API credentials",
}

var credentialsSetCmd = &cobra.Command{
	Use:   "set USERNAME",
	Short: "Encrypt and store the archive API credentials",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readSecret("Archive API password: ")
		if err != nil {
			return err
		}
		passphrase, err := readNewPassphrase()
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "credentials-set")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.SaveCredentials(args[0], password, passphrase); err != nil {
			a.Fail()
			return fmt.Errorf("saving credentials: %w", err)
		}
		fmt.Println("Credentials saved.")
		return nil
	},
}

// db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the history database",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		version, err := app.MigrateDatabase(cfg)
		if err != nil {
			return err
		}
		fmt.Printf("Database at schema version %d\n", version)
		return nil
	},
}

// resolve command
var resolveCmd = &cobra.Command{
	Use:   "resolve PATH",
	Short: "Find where an asset is registered",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "resolve")
		if err != nil {
			return err
		}
		defer a.Close()

		asset, err := a.ResolveAsset(cmd.Context(), args[0])
		if err != nil && !errors.Is(err, demo.ErrUserDecisionRequired) {
			a.Fail()
			return err
		}
		printAsset(asset)
		return nil
	},
}

// inspect command
var inspectCmd = &cobra.Command{
	Use:   "inspect ZIP",
	Short: "List and score the recordings in a submission archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		level, _ := cmd.Flags().GetString("level")
		category, _ := cmd.Flags().GetString("category")

		candidates, err := demo.ExtractRecordings(args[0])
		if err != nil {
			return err
		}
		sel, err := demo.SelectRecording(candidates, level, category)
		if err != nil {
			return err
		}
		printSelection(sel)
		return nil
	},
}

// fields command
var fieldsCmd = &cobra.Command{
	Use:   "fields",
	Short: "Edit the manual field file",
}

var fieldsSetCmd = &cobra.Command{
	Use:   "set FIELD [VALUE]",
	Short: "Set a manual value; omit VALUE to clear it",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("manual")

		field, err := demo.ParseFieldID(args[0])
		if err != nil {
			return err
		}
		edits, err := sources.LoadManual(path)
		if err != nil {
			return err
		}
		// An empty value clears the field when the file is applied.
		edits[field] = ""
		if len(args) == 2 {
			edits[field] = args[1]
		}
		if err := sources.SaveManual(path, edits); err != nil {
			return err
		}
		fmt.Printf("%s = %q in %s\n", field, edits[field], path)
		return nil
	},
}

// process command
var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Collect, resolve, analyze and validate a demo; optionally submit it",
	RunE: func(cmd *cobra.Command, args []string) error {
		in, err := pipelineInputFromFlags(cmd)
		if err != nil {
			return err
		}
		submit, _ := cmd.Flags().GetBool("submit")
		upload, _ := cmd.Flags().GetBool("upload")

		a, err := newApp(cmd, "process")
		if err != nil {
			return err
		}
		defer a.Close()

		s, err := runPipeline(cmd.Context(), a, in, submit)
		if err != nil {
			a.Fail()
			return err
		}
		if !submit {
			return nil
		}
		if err := submitSession(cmd.Context(), s, upload); err != nil {
			a.Fail()
			return err
		}
		return nil
	},
}

// correct command
var correctCmd = &cobra.Command{
	Use:   "correct RECORD_ID FILE_ID",
	Short: "Send a correction for an accepted demo",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseIdentity(args[0], args[1])
		if err != nil {
			return err
		}
		in, err := pipelineInputFromFlags(cmd)
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "correct")
		if err != nil {
			return err
		}
		defer a.Close()

		if in.RecordID == "" {
			local, err := a.FindByIdentity(cmd.Context(), id)
			if err != nil {
				return err
			}
			if local == "" {
				return fmt.Errorf("no local record was accepted as %d/%d", id.RecordID, id.FileID)
			}
			in.RecordID = local
		}

		s, err := runPipeline(cmd.Context(), a, in, true)
		if err != nil {
			a.Fail()
			return err
		}
		attempt, err := s.Correct(cmd.Context(), id)
		if err != nil {
			a.Fail()
			printAttemptErrors(attempt)
			return err
		}
		fmt.Printf("Correction accepted for %d/%d\n", id.RecordID, id.FileID)
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history [RECORD]",
	Short: "View submission attempts",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd, "history")
		if err != nil {
			return err
		}
		defer a.Close()

		var attempts []*demo.Attempt
		if len(args) > 0 {
			attempts, err = a.History(cmd.Context(), args[0])
		} else {
			attempts, err = a.RecentHistory(cmd.Context(), limit)
		}
		if err != nil {
			return err
		}

		if len(attempts) == 0 {
			fmt.Println("No submission attempts recorded.")
			return nil
		}
		printAttempts(attempts)
		return nil
	},
}

func parseIdentity(recordID, fileID string) (demo.Identity, error) {
	r, err := strconv.ParseInt(recordID, 10, 64)
	if err != nil || r <= 0 {
		return demo.Identity{}, fmt.Errorf("invalid record id %q", recordID)
	}
	f, err := strconv.ParseInt(fileID, 10, 64)
	if err != nil || f <= 0 {
		return demo.Identity{}, fmt.Errorf("invalid file id %q", fileID)
	}
	return demo.Identity{RecordID: r, FileID: f}, nil
}

func addPipelineFlags(cmd *cobra.Command) {
	cmd.Flags().String("record", "", "Local record id (default: new record)")
	cmd.Flags().String("handin", "", "Directory of parser hand-in files (.json, .yaml)")
	cmd.Flags().String("manual", "", "YAML file of manual field values")
	cmd.Flags().String("asset", "", "Path of the asset (wad) the demo was recorded with")
	cmd.Flags().String("zip", "", "Submission archive holding the recordings")
	cmd.Flags().String("recording", "", "Choose this recording instead of the best scored one")
	cmd.Flags().Bool("skip-analysis", false, "Do not play the recording back")
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log debug messages")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	credentialsCmd.AddCommand(credentialsSetCmd)
	dbCmd.AddCommand(dbMigrateCmd)

	fieldsCmd.AddCommand(fieldsSetCmd)
	fieldsSetCmd.Flags().String("manual", filepath.Join(".", "manual.yaml"), "Manual field file to edit")

	inspectCmd.Flags().String("level", "", "Declared level, e.g. \"Map 07\"")
	inspectCmd.Flags().String("category", "", "Declared category, e.g. \"UV Max\"")

	addPipelineFlags(processCmd)
	processCmd.Flags().Bool("submit", false, "Submit the demo when validation passes")
	processCmd.Flags().Bool("upload", false, "Upload the asset first when the archive does not have it")
	addPipelineFlags(correctCmd)

	historyCmd.Flags().IntP("limit", "n", 20, "Maximum number of attempts to show")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(credentialsCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(fieldsCmd)
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(correctCmd)
	rootCmd.AddCommand(historyCmd)
}
