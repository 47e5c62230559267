package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/iago/vidai-studio/internal/app"
	"github.com/iago/vidai-studio/internal/config"
	"github.com/iago/vidai-studio/internal/domain"
	"github.com/iago/vidai-studio/internal/queue"
	"github.com/iago/vidai-studio/internal/service"
)

const usage = `usage: vidai <command> [flags]

commands:
  run      submit one job and print its progress
  config   store the Gemini API key and preferences
  models   list selectable models, languages and styles
  history  list or clear finished jobs
  follow   tail the Redis progress stream of another process
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	logOutput := io.Discard
	if os.Getenv("VIDAI_VERBOSE") != "" {
		logOutput = os.Stderr
	}
	logger := log.New(logOutput, "[vidai] ", log.LstdFlags|log.LUTC|log.Lmicroseconds)
	if err := config.LoadDotEnv(".env", ".env.local"); err != nil {
		logger.Printf("failed loading .env files: %v", err)
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "run":
		err = runJob(ctx, cfg, logger, os.Args[2:])
	case "config":
		err = saveConfig(ctx, cfg, logger, os.Args[2:])
	case "models":
		err = listModels(ctx, cfg, logger)
	case "history":
		err = history(ctx, cfg, logger, os.Args[2:])
	case "follow":
		err = follow(ctx, cfg, os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runJob(ctx context.Context, cfg config.Config, logger *log.Logger, args []string) error {
	flags := flag.NewFlagSet("run", flag.ExitOnError)
	kind := flags.String("kind", string(domain.JobKindGenerateContent), "download_video, download_audio or generate_content")
	url := flags.String("url", "", "source video URL")
	model := flags.String("model", "", "model id, defaults to the stored preference")
	language := flags.String("language", "", "output language")
	style := flags.String("style", "", "Summary, Article, Transcript or SocialPost")
	instructions := flags.String("instructions", "", "extra instructions appended to the prompt")
	exportFormat := flags.String("export", "", "write the result as markdown or plaintext")
	outPath := flags.String("out", "", "export destination, defaults to the generated file name")
	_ = flags.Parse(args)

	runtime, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRuntime(runtime, logger)

	request := service.SubmitRequest{Kind: domain.JobKind(*kind), SourceURL: *url}
	if request.Kind == domain.JobKindGenerateContent {
		request.Options = &domain.GenerateOptions{
			Model:              *model,
			Language:           *language,
			Style:              domain.Style(*style),
			CustomInstructions: *instructions,
		}
	}
	job, err := runtime.Jobs.Submit(ctx, request)
	if err != nil {
		return err
	}
	fmt.Printf("job %s accepted (%s, %s)\n", job.ID, job.Kind, job.Platform)

	sub, err := runtime.Jobs.Subscribe(ctx, job.ID)
	if err != nil {
		return err
	}
	waitCtx := ctx
	for {
		event, ok, err := sub.Next(waitCtx)
		if err != nil {
			// Interrupted: cancel and keep reading until the terminal event.
			_ = runtime.Jobs.Cancel(context.Background(), job.ID)
			waitCtx = context.Background()
			continue
		}
		if !ok {
			break
		}
		printEvent(event)
		if event.Terminal() {
			break
		}
	}

	entry, err := runtime.Jobs.Result(context.Background(), job.ID)
	if err != nil {
		return err
	}
	switch {
	case entry.Error != nil:
		return fmt.Errorf("%s at %s: %s", entry.Error.Kind, entry.Error.Stage, entry.Error.Message)
	case entry.File != nil:
		fmt.Printf("saved %s (%d bytes)\n", entry.File.Path, entry.File.SizeBytes)
		return nil
	case entry.Result == nil:
		return errors.New("job finished without a result")
	}

	if strings.TrimSpace(*exportFormat) == "" {
		fmt.Println()
		fmt.Println(entry.Result.Text)
		return nil
	}
	format, err := service.ParseExportFormat(*exportFormat)
	if err != nil {
		return err
	}
	export, err := service.RenderExport(entry, format)
	if err != nil {
		return err
	}
	destination := *outPath
	if destination == "" {
		destination = export.FileName
	}
	if err := os.WriteFile(destination, export.Body, 0o644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	fmt.Printf("exported %s\n", destination)
	return nil
}

func printEvent(event domain.Event) {
	percent := "   "
	if event.Percent != nil {
		percent = fmt.Sprintf("%3d", *event.Percent)
	}
	fmt.Printf("%s %-11s %s%% %s\n", event.At.Local().Format("15:04:05"), event.Stage, percent, event.Message)
}

func saveConfig(ctx context.Context, cfg config.Config, logger *log.Logger, args []string) error {
	flags := flag.NewFlagSet("config", flag.ExitOnError)
	apiKey := flags.String("api-key", os.Getenv("GEMINI_API_KEY"), "Gemini API key")
	model := flags.String("model", "", "preferred model")
	language := flags.String("language", "", "preferred language")
	style := flags.String("style", "", "preferred style")
	show := flags.Bool("show", false, "print the stored settings and exit")
	_ = flags.Parse(args)

	runtime, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRuntime(runtime, logger)

	var view service.SettingsView
	if *show {
		view, err = runtime.Settings.Get()
	} else {
		view, err = runtime.Settings.Save(service.SettingsUpdate{
			APIKey:            *apiKey,
			PreferredModel:    *model,
			PreferredLanguage: *language,
			PreferredStyle:    domain.Style(*style),
		})
	}
	if err != nil {
		return err
	}
	return printJSON(view)
}

func listModels(ctx context.Context, cfg config.Config, logger *log.Logger) error {
	runtime, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRuntime(runtime, logger)
	return printJSON(runtime.Settings.Models())
}

func history(ctx context.Context, cfg config.Config, logger *log.Logger, args []string) error {
	flags := flag.NewFlagSet("history", flag.ExitOnError)
	clearAll := flags.Bool("clear", false, "remove every entry")
	remove := flags.String("delete", "", "remove one entry by job id")
	_ = flags.Parse(args)

	runtime, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRuntime(runtime, logger)

	switch {
	case *clearAll:
		return runtime.Jobs.ClearHistory(ctx)
	case *remove != "":
		return runtime.Jobs.DeleteHistory(ctx, *remove)
	}

	entries, err := runtime.Jobs.History(ctx)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		fmt.Printf("%s  %s  %-16s %-7s %s\n", entry.CreatedAt.Local().Format("2006-01-02 15:04"), entry.ID, entry.Kind, entry.State, entry.SourceURL)
	}
	return nil
}

func follow(ctx context.Context, cfg config.Config, args []string) error {
	flags := flag.NewFlagSet("follow", flag.ExitOnError)
	from := flags.String("from", "$", "stream id to start after, 0 replays everything kept")
	jobID := flags.String("job", "", "only print events of this job")
	_ = flags.Parse(args)

	if cfg.RedisAddr == "" {
		return errors.New("REDIS_ADDR is not configured")
	}
	streams, err := queue.NewStreamsPublisher(ctx, queue.StreamsConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Stream:   cfg.RedisProgressStream,
	})
	if err != nil {
		return err
	}
	defer streams.Close()

	err = streams.Follow(ctx, *from, func(event domain.Event) error {
		if *jobID != "" && event.JobID != *jobID {
			return nil
		}
		fmt.Printf("%s ", event.JobID)
		printEvent(event)
		return nil
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func printJSON(value any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func closeRuntime(runtime *app.Runtime, logger *log.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := runtime.Close(ctx); err != nil {
		logger.Printf("pipeline shutdown failed: %v", err)
	}
}
