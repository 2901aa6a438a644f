package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/HugeFrog24/gpt-diarizer/config"
	"github.com/HugeFrog24/gpt-diarizer/jobs"
	"github.com/HugeFrog24/gpt-diarizer/media"
	"github.com/HugeFrog24/gpt-diarizer/observability"
	"github.com/HugeFrog24/gpt-diarizer/process"
	"github.com/HugeFrog24/gpt-diarizer/server"
	"github.com/HugeFrog24/gpt-diarizer/utils"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

const usage = `Usage:
  gpt-diarizer [-config path] [serve]
  gpt-diarizer [-config path] run <audio-file|youtube-id>
  gpt-diarizer [-config path] batch <directory> <output.xml>`

const summaryLength = 1500

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	chunkSeconds := flag.Int("chunk-seconds", 0, "override backend chunk size for run and batch (<= 0 keeps the configured value)")
	single := flag.Bool("single-pass", false, "disable backend chunking for run and batch")
	summarize := flag.Bool("summarize", false, "also summarize the dialogue for run and batch")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := observability.InitLogger("gpt-diarizer", cfg.Logging.Level, cfg.Logging.JSON)

	// Create the work directory if it doesn't exist
	if err := os.MkdirAll(cfg.Audio.WorkDir, os.ModePerm); err != nil {
		logger.Fatal().Err(err).Str("dir", cfg.Audio.WorkDir).Msg("failed to create work directory")
	}
	// Clean up leftovers from a previous run
	cleanupWorkDir(cfg.Audio.WorkDir, logger)
	defer cleanupWorkDir(cfg.Audio.WorkDir, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checkTools(cfg.Tools, logger)
	pipeline := newPipeline(cfg, logger)

	chosenChunk := cfg.Audio.ChunkSeconds
	if *chunkSeconds > 0 {
		chosenChunk = config.ClampChunkSeconds(*chunkSeconds)
	}
	if *single {
		chosenChunk = 0
	}

	args := flag.Args()
	command := "serve"
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	switch command {
	case "serve":
		err = serve(ctx, cfg, pipeline, logger)
	case "run":
		if len(args) != 1 {
			flag.Usage()
			os.Exit(2)
		}
		err = runOnce(ctx, pipeline, args[0], chosenChunk, *summarize)
	case "batch":
		if len(args) != 2 {
			flag.Usage()
			os.Exit(2)
		}
		_, err = utils.ProcessDirectory(ctx, args[0], args[1], pipeline, utils.BatchOptions{
			ChunkSeconds: chosenChunk,
			Summarize:    *summarize,
			Logger:       logger,
		})
	default:
		flag.Usage()
		os.Exit(2)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Str("command", command).Msg("command failed")
		cleanupWorkDir(cfg.Audio.WorkDir, logger)
		os.Exit(1)
	}
}

func newPipeline(cfg config.Config, logger zerolog.Logger) *utils.Pipeline {
	runner := process.NewExecRunner(logger.With().Str("component", "process").Logger(), cfg.Tools.GracePeriod.Duration)
	converter := media.NewFFmpegConverter(runner, cfg.Tools.FFmpegPath)

	clientConfig := openai.DefaultConfig(cfg.OpenAI.APIKey)
	if cfg.OpenAI.BaseURL != "" {
		clientConfig.BaseURL = cfg.OpenAI.BaseURL
	}
	client := openai.NewClientWithConfig(clientConfig)
	retry := utils.DefaultRetryPolicy(cfg.OpenAI.MaxRetries)

	return &utils.Pipeline{
		Downloader: media.NewYtDlpDownloader(runner, cfg.Tools.YtDlpPath, cfg.Tools.FFmpegPath, logger.With().Str("component", "yt-dlp").Logger()),
		Prober:     media.NewProber(runner, cfg.Tools.FFprobePath),
		Transcriber: &utils.OpenAITranscriber{
			Client:          client,
			Model:           cfg.OpenAI.TranscriptionModel,
			Converter:       converter,
			WorkDir:         cfg.Audio.WorkDir,
			SampleRate:      cfg.Audio.SampleRate,
			EnergyThreshold: cfg.Audio.EnergyThreshold,
			Retry:           retry,
			Logger:          logger.With().Str("component", "transcriber").Logger(),
		},
		Extractor: &utils.OpenAIDialogueExtractor{
			Client: client,
			Model:  cfg.OpenAI.ChatModel,
			Tokens: utils.NewTiktokenCounter(cfg.OpenAI.Encoding, logger),
			Retry:  retry,
			Logger: logger.With().Str("component", "diarizer").Logger(),
		},
		Summarizer:     utils.NewTextSummarizer(client, cfg.OpenAI.SummaryModel, retry, logger.With().Str("component", "summarizer").Logger()),
		DetectLanguage: utils.DetectLanguage,
		WorkDir:        cfg.Audio.WorkDir,
		SummaryLength:  summaryLength,
		Logger:         logger.With().Str("component", "pipeline").Logger(),
	}
}

func serve(ctx context.Context, cfg config.Config, pipeline *utils.Pipeline, logger zerolog.Logger) error {
	uploadDir := filepath.Join(cfg.Audio.WorkDir, "uploads")
	if err := os.MkdirAll(uploadDir, os.ModePerm); err != nil {
		return fmt.Errorf("failed to create upload directory: %w", err)
	}

	manager := jobs.NewManager(jobs.Config{
		Workers:     cfg.Jobs.Workers,
		QueueSize:   cfg.Jobs.QueueSize,
		JobTimeout:  cfg.Jobs.Timeout.Duration,
		MaxAttempts: cfg.Jobs.MaxAttempts,
		RetryDelay:  cfg.Jobs.RetryDelay.Duration,
		Retention:   cfg.Jobs.Retention.Duration,
	}, pipeline.Run, logger)
	manager.Subscribe(func(job jobs.Job) {
		logger.Debug().
			Str("job_id", job.ID).
			Str("status", job.Status.String()).
			Str("stage", string(job.Stage)).
			Float64("progress", job.Progress).
			Msg("job update")
	})
	// Jobs outlive the signal context so Shutdown can drain them.
	manager.Start(context.Background())

	srv := server.New(server.Options{
		Addr:                cfg.Server.Addr,
		CorsOrigins:         cfg.Server.CorsOrigins,
		MaxUploadBytes:      cfg.Server.MaxUploadMB << 20,
		UploadDir:           uploadDir,
		DefaultChunkSeconds: cfg.Audio.ChunkSeconds,
		Logger:              logger.With().Str("component", "http").Logger(),
	}, manager)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	case <-ctx.Done():
		logger.Info().Msg("received interrupt signal, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown incomplete")
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("job manager shutdown incomplete")
	}
	return nil
}

// runOnce diarizes a single local file or YouTube video and prints the
// result as JSON.
func runOnce(ctx context.Context, pipeline *utils.Pipeline, source string, chunkSeconds int, summarize bool) error {
	req := utils.Request{ChunkSeconds: chunkSeconds, Summarize: summarize}
	if _, err := os.Stat(source); err == nil {
		req.AudioPath = source
		req.AudioName = filepath.Base(source)
	} else {
		req.VideoID = source
	}

	start := time.Now()
	result, err := pipeline.Run(ctx, req, nil)
	if err != nil {
		return err
	}
	pipeline.Logger.Info().Dur("elapsed", time.Since(start)).Msg("run finished")

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func checkTools(tools config.ToolsConfig, logger zerolog.Logger) {
	for _, path := range []string{tools.YtDlpPath, tools.FFmpegPath, tools.FFprobePath} {
		if _, err := process.LookPath(path); err != nil {
			logger.Warn().Err(err).Msg("external tool unavailable")
		}
	}
}

// cleanupWorkDir removes stray intermediate files and abandoned yt-dlp
// download directories. The uploads directory is left alone.
func cleanupWorkDir(dir string, logger zerolog.Logger) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Warn().Err(err).Str("dir", dir).Msg("failed to read work directory")
		return
	}

	for _, entry := range entries {
		name := entry.Name()
		if name == ".gitkeep" || (entry.IsDir() && !strings.HasPrefix(name, "ytdlp-")) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, name)); err != nil {
			logger.Warn().Err(err).Str("file", name).Msg("failed to remove file")
		}
	}
}
