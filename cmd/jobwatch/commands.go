package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fullstylist/jobwatch/cache"
	"github.com/fullstylist/jobwatch/client"
	"github.com/fullstylist/jobwatch/common"
	"github.com/fullstylist/jobwatch/config"
	"github.com/fullstylist/jobwatch/logging"
	"github.com/fullstylist/jobwatch/metrics"
	"github.com/fullstylist/jobwatch/poller"
	"github.com/fullstylist/jobwatch/server"
)

type (
	genPoller = poller.Poller[common.GenerationRequest, common.GenerationResult]
	genClient = client.StatusClient[common.GenerationRequest, common.GenerationResult]
)

type app struct {
	cfg *config.Config
	log *zerolog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	var (
		cfgPath string
		dev     bool
	)

	root := &cobra.Command{
		Use:           "jobwatch",
		Short:         "Submit and watch stylist image generation jobs",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath, dev)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.log = logging.New(cfg.Log, cfg.Runtime.Dev)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&cfgPath, "config", "jobwatch.yaml", "path to YAML config file")
	root.PersistentFlags().BoolVar(&dev, "dev", false, "console logging")

	root.AddCommand(a.serveCmd(), a.submitCmd(), a.watchCmd())
	return root
}

// --- serve ---

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the job server with a demo generation worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	if err := a.cfg.RequireWorkerAuth(); err != nil {
		return err
	}
	metrics.MustRegister()

	queue := server.NewQueueServer[common.GenerationRequest, common.GenerationResult](a.cfg.Server.WorkerAuth, a.log)

	mux := http.NewServeMux()
	mux.Handle(a.cfg.Server.MetricsPath, promhttp.Handler())
	mux.Handle("/", queue)

	srv := &http.Server{
		Addr:              a.cfg.Server.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	worker, err := client.NewQueueWorker[common.GenerationRequest, common.GenerationResult](
		a.cfg.Poller.BaseURL, a.cfg.Server.WorkerAuth,
		client.NewOptions(client.WithGetJobsTickRate(a.cfg.Worker.TickRate), client.WithLogger(a.log)))
	if err != nil {
		return fmt.Errorf("worker: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info().Str("addr", srv.Addr).Msg("job server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := worker.ProcessJobs(ctx, newStylizer(a.cfg.Worker.Delay).Generate)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		a.log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// --- submit ---

func (a *app) submitCmd() *cobra.Command {
	var req common.GenerationRequest

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a generation job and wait for its result",
		Long: `Submit a generation job and wait for its result.

Examples:
  jobwatch submit --subject outfit-42 --prompt "rainy day layers"
  jobwatch submit --subject item-7 --prompt "studio shot" --style minimal`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.SubjectID == "" || req.Prompt == "" {
				return errors.New("--subject and --prompt are required")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.submit(ctx, cmd.OutOrStdout(), req)
		},
	}

	cmd.Flags().StringVar(&req.SubjectID, "subject", "", "wardrobe item, outfit or lookbook id")
	cmd.Flags().StringVar(&req.Prompt, "prompt", "", "styling prompt")
	cmd.Flags().StringVar(&req.Style, "style", "", "optional style preset")
	return cmd
}

func (a *app) submit(ctx context.Context, out io.Writer, req common.GenerationRequest) error {
	c, err := a.statusClient()
	if err != nil {
		return err
	}

	req.TraceID = uuid.NewString()
	id, err := c.Submit(ctx, req)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	a.log.Info().Str("job_id", id).Str("trace_id", req.TraceID).Msg("job submitted")

	job, err := a.poller(c).Poll(ctx, id)
	if err != nil {
		return err
	}

	results := cache.New[common.GenerationResult](cache.WithTTL(a.cfg.Cache.TTL))
	results.Put(job.Request.SubjectID, job.ID, job.Result, cache.WithTraceID(job.Request.TraceID))

	// The results view only knows the subject and trace id it submitted with.
	result, ok := results.Get(req.SubjectID, "", req.TraceID)
	if !ok {
		return fmt.Errorf("result for job %s not cached", id)
	}

	return writeJSON(out, map[string]any{"job_id": id, "trace_id": req.TraceID, "result": result})
}

// --- watch ---

func (a *app) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Poll an existing job until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			c, err := a.statusClient()
			if err != nil {
				return err
			}

			job, err := a.poller(c).Poll(ctx, args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), job)
		},
	}
}

func (a *app) statusClient() (*genClient, error) {
	return client.NewStatusClient[common.GenerationRequest, common.GenerationResult](a.cfg.Poller.BaseURL,
		client.NewOptions(client.WithLogger(a.log)))
}

func (a *app) poller(c *genClient) *genPoller {
	return poller.New[common.GenerationRequest, common.GenerationResult](c,
		poller.Callbacks[common.GenerationRequest, common.GenerationResult]{},
		poller.NewOptions(
			poller.WithInterval(a.cfg.Poller.Interval),
			poller.WithMaxAttempts(a.cfg.Poller.MaxAttempts),
			poller.WithLogger(a.log),
		))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
