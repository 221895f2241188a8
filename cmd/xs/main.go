package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marvin-j97/xs/internal/cas"
	serverrun "github.com/marvin-j97/xs/internal/cmd/server"
	cfgpkg "github.com/marvin-j97/xs/internal/config"
	pebblestore "github.com/marvin-j97/xs/internal/storage/pebble"
	"github.com/marvin-j97/xs/internal/store"
	"github.com/marvin-j97/xs/pkg/id"
	logpkg "github.com/marvin-j97/xs/pkg/log"
)

func main() {
	level := os.Getenv("XS_LOG_LEVEL")
	parsed, err := logpkg.ParseLevel(level)
	if err != nil || level == "" {
		parsed = logpkg.InfoLevel
	}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(parsed),
		logpkg.WithFormatter(&logpkg.TextFormatter{}),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)
	logpkg.RedirectStdLog(logger)

	var dataDir string

	openStore := func() (*store.Store, error) {
		cfg := cfgpkg.FromEnv(cfgpkg.Default())
		if dataDir != "" {
			cfg.DataDir = dataDir
		}
		fsync, err := pebblestore.ParseFsyncMode(cfg.Fsync)
		if err != nil {
			return nil, err
		}
		return store.Spawn(cfg.DataDir, store.Options{
			QueueSize:     cfg.CommandQueue,
			ReadBuffer:    cfg.ReadBuffer,
			Fsync:         fsync,
			FsyncInterval: cfg.FsyncInterval,
			Logger:        logger.With(logpkg.Component("store")),
		})
	}

	printJSON := func(v any) {
		enc := json.NewEncoder(os.Stdout)
		_ = enc.Encode(v)
	}

	rootCmd := &cobra.Command{
		Use:   "xs",
		Short: "xs event store CLI",
		Long:  "xs is an embeddable event store. This CLI manages the server and basic log operations.",
	}
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "store directory (default: platform data dir)")

	// serve
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the xs server on a unix socket",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			fsync, _ := cmd.Flags().GetString("fsync")
			poolSize, _ := cmd.Flags().GetInt("pool-size")
			retention, _ := cmd.Flags().GetDuration("retention-interval")
			logLevel, _ := cmd.Flags().GetString("log-level")
			logFormat, _ := cmd.Flags().GetString("log-format")

			cfg, err := cfgpkg.Load(configPath)
			if err != nil {
				return err
			}
			if dataDir != "" {
				cfg.DataDir = dataDir
			}
			if cmd.Flags().Changed("fsync") {
				cfg.Fsync = fsync
			}
			if cmd.Flags().Changed("pool-size") {
				cfg.PoolSize = poolSize
			}
			if cmd.Flags().Changed("retention-interval") {
				cfg.RetentionInterval = retention
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			if logFormat != "" {
				cfg.Log.Format = logFormat
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if err := serverrun.Run(ctx, cfg); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
	serveCmd.Flags().String("config", "", "path to a YAML or JSON config file")
	serveCmd.Flags().String("fsync", "always", "durability mode: always|interval|never")
	serveCmd.Flags().Int("pool-size", 4, "gateway worker pool size")
	serveCmd.Flags().Duration("retention-interval", 0, "periodic trim interval (0 disables)")
	serveCmd.Flags().String("log-level", "", "log level: debug|info|warn|error")
	serveCmd.Flags().String("log-format", "", "log format: text|json")
	rootCmd.AddCommand(serveCmd)

	// append
	appendCmd := &cobra.Command{
		Use:   "append <topic> [content]",
		Short: "Append a frame; content '-' reads stdin into the CAS",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			metaStr, _ := cmd.Flags().GetString("meta")
			ttlStr, _ := cmd.Flags().GetString("ttl")

			ttl, err := store.ParseTTL(ttlStr)
			if err != nil {
				return err
			}
			var meta json.RawMessage
			if metaStr != "" {
				if !json.Valid([]byte(metaStr)) {
					return fmt.Errorf("--meta is not valid JSON")
				}
				meta = json.RawMessage(metaStr)
			}

			st, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			ctx := cmd.Context()
			var frame store.Frame
			if len(args) == 2 {
				content := []byte(args[1])
				if args[1] == "-" {
					content, err = io.ReadAll(os.Stdin)
					if err != nil {
						return err
					}
				}
				digest, err := st.CASInsert(content)
				if err != nil {
					return err
				}
				frame, err = st.Append(ctx, store.Draft{Topic: args[0], Hash: digest, Meta: meta, TTL: ttl})
				if err != nil {
					return err
				}
			} else {
				frame, err = st.Append(ctx, store.Draft{Topic: args[0], Meta: meta, TTL: ttl})
				if err != nil {
					return err
				}
			}
			printJSON(frame)
			return nil
		},
	}
	appendCmd.Flags().String("meta", "", "opaque JSON metadata")
	appendCmd.Flags().String("ttl", "", "retention policy: forever|ephemeral|time:<dur>|head:<n>")
	rootCmd.AddCommand(appendCmd)

	// cat
	catCmd := &cobra.Command{
		Use:   "cat",
		Short: "Read frames as JSON lines, optionally following live appends",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := readQuery(cmd)
			opts, err := store.ReadOptionsFromQuery(q)
			if err != nil {
				return err
			}
			if topics, _ := cmd.Flags().GetBool("topics"); topics {
				opts.Compaction = store.CompactByTopic
			}

			st, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			frames, err := st.Read(ctx, opts)
			if err != nil {
				return err
			}
			for {
				select {
				case f, ok := <-frames:
					if !ok {
						return nil
					}
					printJSON(f)
				case <-ctx.Done():
					return nil
				}
			}
		},
	}
	catCmd.Flags().String("follow", "", "follow live appends; a number is a heartbeat interval in ms")
	catCmd.Flags().String("tail", "", "skip history and read live appends only")
	catCmd.Flags().String("last-id", "", "exclusive resume point")
	catCmd.Flags().String("filter", "", "CEL expression over topic/meta")
	catCmd.Flags().Bool("topics", false, "compact replay to the latest frame per topic")
	rootCmd.AddCommand(catCmd)

	// get
	getCmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Fetch one frame by identifier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fid, err := id.Parse(args[0])
			if err != nil {
				return err
			}
			st, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()
			frame, ok := st.Get(fid)
			if !ok {
				return fmt.Errorf("frame %s not found", args[0])
			}
			printJSON(frame)
			return nil
		},
	}
	rootCmd.AddCommand(getCmd)

	// head
	headCmd := &cobra.Command{
		Use:   "head <topic>",
		Short: "Fetch the most recent frame of a topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()
			frame, ok := st.Head(args[0])
			if !ok {
				return fmt.Errorf("topic %s has no frames", args[0])
			}
			printJSON(frame)
			return nil
		},
	}
	rootCmd.AddCommand(headCmd)

	// cas put / cas get
	casCmd := &cobra.Command{Use: "cas", Short: "Content-addressed storage commands"}
	casPutCmd := &cobra.Command{
		Use:   "put",
		Short: "Store stdin and print its digest",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			w, err := st.CASWriter()
			if err != nil {
				return err
			}
			defer func() { _ = w.Close() }()
			if _, err := io.Copy(w, os.Stdin); err != nil {
				return err
			}
			digest, err := w.Commit()
			if err != nil {
				return err
			}
			fmt.Println(digest)
			return nil
		},
	}
	casGetCmd := &cobra.Command{
		Use:   "get <digest>",
		Short: "Stream content for a digest to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			digest, err := cas.ParseDigest(args[0])
			if err != nil {
				return err
			}
			st, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			r, err := st.CASReader(digest)
			if err != nil {
				return err
			}
			defer func() { _ = r.Close() }()
			_, err = io.Copy(os.Stdout, r)
			return err
		},
	}
	casCmd.AddCommand(casPutCmd, casGetCmd)
	rootCmd.AddCommand(casCmd)

	// trim
	trimCmd := &cobra.Command{
		Use:   "trim",
		Short: "Run one retention pass over persisted frames",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			result, err := st.Trim(ctx)
			if err != nil {
				return err
			}
			printJSON(result)
			return nil
		},
	}
	rootCmd.AddCommand(trimCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// readQuery builds the documented query-string encoding from cat flags, so
// the CLI and the gateway share one decoding path.
func readQuery(cmd *cobra.Command) url.Values {
	q := url.Values{}
	for _, key := range []string{"follow", "tail", "last-id", "filter"} {
		if cmd.Flags().Changed(key) {
			v, _ := cmd.Flags().GetString(key)
			q.Set(key, v)
		}
	}
	return q
}
