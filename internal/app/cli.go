package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/lexiqai/tospeak-bridge/internal/config"
	"github.com/lexiqai/tospeak-bridge/internal/notify"
	"github.com/lexiqai/tospeak-bridge/internal/observability"
	"github.com/lexiqai/tospeak-bridge/internal/rules"
	"github.com/lexiqai/tospeak-bridge/internal/tts"
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

type cli struct {
	cfg      *config.Config
	logLevel string
	noDotEnv bool
}

// NewRootCommand builds the command tree. The root command runs the bridge.
func NewRootCommand() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "tospeak-bridge",
		Short:         "Speak desktop notifications and relay them to a parent process",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load(cmd)
		},
		RunE: c.run,
	}
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "override LOG_LEVEL")
	root.PersistentFlags().BoolVar(&c.noDotEnv, "no-dotenv", false, "do not read a .env file")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the bridge (default)",
			Args:  cobra.NoArgs,
			RunE:  c.run,
		},
		&cobra.Command{
			Use:   "voices",
			Short: "List the voices the configured engine offers",
			Args:  cobra.NoArgs,
			RunE:  c.voices,
		},
		&cobra.Command{
			Use:   "render [text]",
			Short: "Print the katakana rendering of text, or of stdin",
			RunE:  c.render,
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Args:  cobra.NoArgs,
			PersistentPreRunE: func(*cobra.Command, []string) error {
				return nil
			},
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), Version)
			},
		},
	)
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	root := NewRootCommand()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "tospeak-bridge: %v\n", err)
		return 1
	}
	return 0
}

func (c *cli) load(cmd *cobra.Command) error {
	var (
		cfg *config.Config
		err error
	)
	if c.noDotEnv {
		cfg, err = config.LoadFromEnv()
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if c.logLevel != "" {
		cfg.LogLevel = c.logLevel
	}
	observability.InitLoggerTo(cmd.ErrOrStderr(), cfg.LogLevel, observability.ResolvePretty(cfg.LogPretty))
	c.cfg = cfg
	return nil
}

func (c *cli) run(cmd *cobra.Command, _ []string) error {
	logger := observability.WithComponent("cli")
	logger.Info().
		Str("version", Version).
		Str("engine", c.cfg.Engine).
		Str("notify_command", c.cfg.NotifyListCommand).
		Str("http_addr", c.cfg.HTTPAddr).
		Msg("Starting notification speech bridge")

	a, err := New(c.cfg, Deps{Stdin: cmd.InOrStdin(), Stdout: cmd.OutOrStdout()})
	if err != nil {
		return err
	}
	err = a.Run(cmd.Context())
	if errors.Is(err, notify.ErrAccessDenied) {
		return fmt.Errorf("notification access denied: %w", err)
	}
	return err
}

func (c *cli) voices(cmd *cobra.Command, _ []string) error {
	engine, err := tts.New(c.cfg.Engine, c.cfg.EngineBinary, observability.WithComponent("tts"))
	if err != nil {
		return err
	}
	voices, err := engine.Voices(cmd.Context())
	if err != nil {
		return err
	}
	for _, v := range voices {
		fmt.Fprintln(cmd.OutOrStdout(), v)
	}
	return nil
}

func (c *cli) render(cmd *cobra.Command, args []string) error {
	text := strings.Join(args, " ")
	if len(args) == 0 {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		text = strings.TrimRight(string(data), "\n")
	}

	k, r := newTranslit()
	if path, err := resolveRulesPath(c.cfg); err == nil {
		doc, err := rules.Load(path)
		if err != nil {
			return err
		}
		applyTranslitRules(k, r, doc)
	}
	fmt.Fprintln(cmd.OutOrStdout(), r.Render(text))
	return nil
}
