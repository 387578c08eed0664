package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/hitoshi/librarian/internal/auth"
	"github.com/hitoshi/librarian/internal/database"
)

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。サブコマンドを省略した場合はserveとして起動する。
func Run(w io.Writer, args []string) error {
	ctx, stop := signalContext(context.Background())
	defer stop()

	cmd := NewRootCommand(w)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

// NewRootCommand はサブコマンドを登録したルートコマンドを生成する。
// ログと標準出力の出力先は w。
func NewRootCommand(w io.Writer) *cobra.Command {
	serve := func(cmd *cobra.Command, args []string) error {
		cfg, err := Init(w)
		if err != nil {
			return fmt.Errorf("initialization failed: %w", err)
		}
		slog.Info("starting application",
			slog.String("command", "serve"),
			slog.String("port", cfg.ServerPort),
			slog.String("store_driver", cfg.StoreDriver),
		)
		return runServe(cmd.Context(), cfg)
	}

	root := &cobra.Command{
		Use:           "librarian",
		Short:         "Library lending API server",
		Long:          "librarian は蔵書・貸出・利用者を管理するREST APIサーバー。サブコマンドを省略するとserveとして起動する。",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          serve,
	}
	root.SetOut(w)
	root.SetErr(w)

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the API server",
			Args:  cobra.NoArgs,
			RunE:  serve,
		},
		newWorkerCommand(w),
		newMigrateCommand(w),
		newHealthcheckCommand(),
		newCreateLibrarianCommand(w),
	)
	return root
}

func newWorkerCommand(w io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Purge expired sessions periodically and expose worker metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := Init(w)
			if err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
			return runWorker(cmd.Context(), cfg)
		},
	}
}

func newMigrateCommand(w io.Writer) *cobra.Command {
	up := func(cmd *cobra.Command, args []string) error {
		cfg, err := Init(w)
		if err != nil {
			return fmt.Errorf("initialization failed: %w", err)
		}
		return runMigrate(cfg, 0)
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations (defaults to up)",
		Args:  cobra.NoArgs,
		RunE:  up,
	}

	var steps int
	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back applied migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if steps < 1 {
				return errors.New("--steps must be at least 1")
			}
			cfg, err := Init(w)
			if err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
			return runMigrate(cfg, -steps)
		},
	}
	downCmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	migrateCmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE:  up,
		},
		downCmd,
		&cobra.Command{
			Use:   "version",
			Short: "Show the current schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := Init(w)
				if err != nil {
					return fmt.Errorf("initialization failed: %w", err)
				}
				version, dirty, err := database.Version(cfg.DatabaseURL)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty=%t)\n", version, dirty)
				return nil
			},
		},
	)
	return migrateCmd
}

// newHealthcheckCommand は軽量サブコマンドのため、設定の読み込みとログ初期化を行わない。
func newHealthcheckCommand() *cobra.Command {
	var baseURL string
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Probe the local API server (for container health checks)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if baseURL == "" {
				port := os.Getenv("SERVER_PORT")
				if port == "" {
					port = "8080"
				}
				baseURL = "http://localhost:" + port
			}
			return runHealthcheck(cmd.Context(), baseURL)
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", "", "base URL of the API server (default http://localhost:$SERVER_PORT)")
	return cmd
}

func newCreateLibrarianCommand(w io.Writer) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "create-librarian",
		Short: "Create a librarian account",
		Long:  "司書アカウントを作成する。--password を省略した場合は標準入力から読み取る。",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := Init(w)
			if err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
			if password == "" {
				password, err = readPassword(cmd.InOrStdin(), cmd.OutOrStdout())
				if err != nil {
					return fmt.Errorf("failed to read password: %w", err)
				}
			}

			st, err := openStores(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			svc := auth.NewService(st.users, st.sessions, auth.ServiceConfig{BcryptCost: cfg.BcryptCost})
			return createLibrarian(cmd.Context(), svc, email, password, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address of the librarian")
	cmd.Flags().StringVar(&password, "password", "", "password (prompted when omitted)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// createLibrarian は司書アカウントを作成し、結果を out に書き出す。
func createLibrarian(ctx context.Context, svc *auth.Service, email, password string, out io.Writer) error {
	u, err := svc.CreateLibrarian(ctx, email, password)
	if err != nil {
		return fmt.Errorf("failed to create librarian: %w", err)
	}
	fmt.Fprintf(out, "librarian created: %s (%s)\n", u.Email, u.ID)
	return nil
}

// readPassword はパスワードを読み取る。端末からの入力の場合はエコーを抑止する。
func readPassword(in io.Reader, out io.Writer) (string, error) {
	fmt.Fprint(out, "Password: ")
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
