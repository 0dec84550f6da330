package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"dm-go/internal/app"
	"dm-go/internal/config"
	"dm-go/internal/dm"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates a DMApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "Upload", "Serve").
func newApp(ctx context.Context, operation string) (*app.DMApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewDMApp(ctx, cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// currentUser returns --user, falling back to DM_USER or the OS user.
func currentUser(cmd *cobra.Command) (string, error) {
	if u, _ := cmd.Flags().GetString("user"); u != "" {
		return u, nil
	}
	return app.DefaultUser()
}

var rootCmd = &cobra.Command{
	Use:          "dm",
	Short:        "Versioned, deduplicated document store",
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
		fmt.Printf("Base Dir: %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:  %s\n", cfg.LogDir)
		fmt.Printf("Storage:  %s %s%s\n", cfg.Storage.Type, cfg.Storage.Root, cfg.Storage.S3Bucket)
		fmt.Printf("Database: %s %s\n", cfg.Database.Type, cfg.Database.DataDir)
		fmt.Printf("Staging:  %s %s\n", cfg.Staging.Type, cfg.Staging.StagingDir)
		fmt.Printf("Listen:   %s\n", cfg.Server.Listen)
		if err := cfg.Validate(); err != nil {
			fmt.Printf("\nConfiguration is invalid:\n%v\n", err)
		}
		return nil
	},
}

// upload command
var uploadCmd = &cobra.Command{
	Use:   "upload FILE",
	Short: "Upload a new version of a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logicalPath, _ := cmd.Flags().GetString("path")
		dir, _ := cmd.Flags().GetString("dir")
		user, err := currentUser(cmd)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "Upload")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Upload(cmd.Context(), user, args[0], logicalPath, dir)
		if err != nil {
			return fmt.Errorf("upload failed: %w", err)
		}

		if res.Status == dm.UploadDuplicate {
			fmt.Printf("Duplicate: content %s is already stored\n", res.Digest[:12])
			return nil
		}
		fmt.Printf("Stored %s version %d (%s, %s)\n",
			res.Record.LogicalPath,
			res.Record.VersionNumber,
			humanize.Bytes(uint64(res.Record.Size)),
			res.Record.ID,
		)
		return nil
	},
}

// get command
var getCmd = &cobra.Command{
	Use:   "get PATH",
	Short: "Retrieve a file version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("output")
		var version *int64
		if cmd.Flags().Changed("version") {
			v, _ := cmd.Flags().GetInt64("version")
			version = &v
		}
		if out == "" && term.IsTerminal(int(os.Stdout.Fd())) {
			return errors.New("refusing to write file content to a terminal; use -o FILE or redirect stdout")
		}

		user, err := currentUser(cmd)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "Download")
		if err != nil {
			return err
		}
		defer a.Close()

		d, err := a.Download(cmd.Context(), user, args[0], version)
		if err != nil {
			return err
		}
		defer d.Content.Close()

		var w io.Writer = os.Stdout
		if out != "" {
			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("creating %s: %w", out, err)
			}
			defer f.Close()
			w = f
		}

		if _, err := io.Copy(w, d.Content); err != nil {
			return fmt.Errorf("writing content: %w", err)
		}
		if out != "" {
			fmt.Fprintf(os.Stderr, "Wrote %s version %d to %s\n", d.Record.LogicalPath, d.Record.VersionNumber, out)
		}
		return nil
	},
}

// ls command
var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List file versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")

		a, err := newApp(cmd.Context(), "List")
		if err != nil {
			return err
		}
		defer a.Close()

		if all {
			recs, err := a.ListAll(cmd.Context())
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Println("No files stored.")
				return nil
			}
			for _, rec := range recs {
				printEntry(rec.ID, rec.LogicalPath, rec.VersionNumber, rec.Size, rec.CreatedAt)
			}
			return nil
		}

		user, err := currentUser(cmd)
		if err != nil {
			return err
		}
		files, err := a.ListOwned(cmd.Context(), user)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			fmt.Println("No files found.")
			return nil
		}
		for _, f := range files {
			printEntry(f.ID, f.LogicalPath, f.VersionNumber, f.Size, f.CreatedAt)
		}
		return nil
	},
}

func printEntry(id, path string, version, size int64, createdAt time.Time) {
	fmt.Printf("%s  v%-3d  %8s  %-14s  %s\n",
		id,
		version,
		humanize.Bytes(uint64(size)),
		humanize.Time(createdAt),
		path,
	)
}

// mkdir command
var mkdirCmd = &cobra.Command{
	Use:   "mkdir PARENT NAME",
	Short: "Create a directory in the storage root",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "MakeDirectory")
		if err != nil {
			return err
		}
		defer a.Close()

		created, err := a.MakeDirectory(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Created directory %s\n", created)
		return nil
	},
}

// grant command
var grantCmd = &cobra.Command{
	Use:   "grant RECORD_ID USER",
	Short: "Share a file version with another user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := currentUser(cmd)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "Grant")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Grant(cmd.Context(), user, args[1], args[0]); err != nil {
			return err
		}
		fmt.Printf("Granted %s to %s\n", args[0], args[1])
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context(), "GetHistory")
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.GetHistory(cmd.Context(), limit)
		if err != nil {
			return err
		}

		if len(ops) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}

		for _, op := range ops {
			duration := ""
			if op.FinishedAt != nil {
				d := op.FinishedAt.Sub(op.StartedAt)
				duration = d.Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-15s  %s  %-10s  %-10s  %s\n",
				op.ID,
				op.Operation,
				op.StartedAt.Format("2006-01-02 15:04:05"),
				op.Status,
				duration,
				op.Parameters,
			)
		}
		return nil
	},
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		listen, _ := cmd.Flags().GetString("listen")

		a, err := newApp(cmd.Context(), "Serve")
		if err != nil {
			return err
		}
		defer a.Close()

		return a.Serve(cmd.Context(), listen)
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("user", "u", "", "Acting user (default $DM_USER or the OS user)")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(uploadCmd)
	uploadCmd.Flags().String("path", "", "Logical path to store the file under (default: file name)")
	uploadCmd.Flags().String("dir", "", "Directory to place the file in")
	rootCmd.AddCommand(getCmd)
	getCmd.Flags().Int64("version", 0, "Version to retrieve (default: latest)")
	getCmd.Flags().StringP("output", "o", "", "Write content to FILE instead of stdout")
	rootCmd.AddCommand(lsCmd)
	lsCmd.Flags().BoolP("all", "a", false, "List every stored file version")
	rootCmd.AddCommand(mkdirCmd)
	rootCmd.AddCommand(grantCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("listen", "", "Address to listen on (default from config)")
}
