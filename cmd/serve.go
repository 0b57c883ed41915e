package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/conneroisu/codepad/internal/buffer"
	"github.com/conneroisu/codepad/internal/commands"
	"github.com/conneroisu/codepad/internal/config"
	"github.com/conneroisu/codepad/internal/fileref"
	"github.com/conneroisu/codepad/internal/logging"
	"github.com/conneroisu/codepad/internal/persistence"
	"github.com/conneroisu/codepad/internal/preview"
	"github.com/conneroisu/codepad/internal/server"
	"github.com/conneroisu/codepad/internal/session"
	"github.com/conneroisu/codepad/internal/watcher"
	"github.com/conneroisu/codepad/internal/websocket"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Start the playground server",
	Long: `Start the playground server and open it in the browser.

Files opened and saved from the playground are resolved inside the
workspace root. Attached files edited outside the playground are reloaded
unless the buffer has unsaved changes.

Examples:
  codepad serve                      # Serve on localhost:8080
  codepad serve -p 3000 --no-open    # Another port, no browser
  codepad serve --root ./site        # Use ./site as the workspace`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8080, "Port to serve on (0 picks a free port)")
	serveCmd.Flags().String("host", "localhost", "Host to bind to")
	serveCmd.Flags().StringP("root", "r", ".", "Workspace directory for opening and saving files")
	serveCmd.Flags().Bool("no-open", false, "Don't open browser automatically")
	serveCmd.Flags().Bool("no-watch", false, "Don't reload attached files changed on disk")

	AddFlagValidation(serveCmd, "port", ValidatePort)
	AddFlagValidation(serveCmd, "root", ValidateDirExists)

	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.no-open", serveCmd.Flags().Lookup("no-open"))
	_ = viper.BindPFlag("workspace.root", serveCmd.Flags().Lookup("root"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if noWatch, _ := cmd.Flags().GetBool("no-watch"); noWatch {
		cfg.Watch.Enabled = false
	}

	logger := logging.NewLogger(cfg.LoggerConfig())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := newPlayground(cfg, logger)
	if err != nil {
		return err
	}
	return p.run(ctx)
}

// playground is one wired editing session and the server exposing it.
type playground struct {
	cfg    *config.Config
	logger logging.Logger

	hub        *websocket.Hub
	ctrl       *session.Controller
	dispatcher *commands.Dispatcher
	pipeline   *preview.Pipeline
	server     *server.Server
}

func newPlayground(cfg *config.Config, logger logging.Logger) (*playground, error) {
	if logger == nil {
		logger = logging.Discard()
	}

	ws, err := fileref.NewWorkspace(cfg.Workspace.Root)
	if err != nil {
		return nil, err
	}
	compositor, err := preview.NewCompositor(cfg.Preview.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating preview cache: %w", err)
	}
	keymap, err := cfg.Keymap()
	if err != nil {
		return nil, err
	}

	hub := websocket.NewHub(cfg.Server.AllowedOrigins, logger)
	bridge := websocket.NewBridge(hub, ws, logger)

	store := buffer.NewStore()
	binding := persistence.New(store, bridge, logger)
	pipeline := preview.NewPipeline(compositor, bridge, cfg.Preview.Debounce, logger)
	ctrl := session.New(session.Options{
		Store:     store,
		Binding:   binding,
		Editor:    bridge,
		Confirmer: bridge,
		Notifier:  bridge,
		Preview:   pipeline,
		Logger:    logger,
	})

	palette := commands.NewPalette()
	dispatcher, err := commands.NewBuiltin(ctrl, palette, keymap)
	if err != nil {
		_ = hub.Shutdown(context.Background())
		return nil, err
	}
	dispatcher.WithLogger(logger)
	bridge.Wire(websocket.Wiring{
		Controller: ctrl,
		Dispatcher: dispatcher,
		Palette:    palette,
		Latest:     pipeline.Latest,
	})

	srv := server.New(server.Options{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		Open:           cfg.Server.Open,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Hub:            hub,
		Bridge:         bridge,
		Controller:     ctrl,
		Dispatcher:     dispatcher,
		Latest:         pipeline.Latest,
		Logger:         logger,
	})

	return &playground{
		cfg:        cfg,
		logger:     logger,
		hub:        hub,
		ctrl:       ctrl,
		dispatcher: dispatcher,
		pipeline:   pipeline,
		server:     srv,
	}, nil
}

// run serves the playground until ctx is done.
func (p *playground) run(ctx context.Context) error {
	p.ctrl.Start(ctx)
	go func() {
		if err := p.pipeline.Run(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error(ctx, err, "Preview pipeline stopped")
		}
	}()

	if p.cfg.Watch.Enabled {
		fw, err := p.startWatcher(ctx)
		if err != nil {
			p.logger.Warn(ctx, err, "External change detection disabled")
		} else {
			defer fw.Stop()
		}
	}

	return p.server.Start(ctx)
}

func (p *playground) startWatcher(ctx context.Context) (*watcher.FileWatcher, error) {
	fw, err := watcher.NewFileWatcher(p.cfg.Watch.Debounce, p.logger)
	if err != nil {
		return nil, err
	}
	fw.AddFilter(watcher.NoHiddenFilter)
	fw.AddFilter(watcher.NoNodeModulesFilter)
	fw.AddFilter(watcher.PlayableFilter)
	fw.AddHandler(watcher.ReloadHandler(p.cfg.Workspace.Root, p.ctrl, p.logger))

	if err := fw.AddRecursive(p.cfg.Workspace.Root); err != nil {
		_ = fw.Stop()
		return nil, err
	}
	if err := fw.Start(ctx); err != nil {
		_ = fw.Stop()
		return nil, err
	}
	return fw, nil
}

// close releases a playground that was never run.
func (p *playground) close() {
	_ = p.hub.Shutdown(context.Background())
}
