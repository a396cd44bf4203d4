package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/apex/log"
	jsonhandler "github.com/apex/log/handlers/json"
	"github.com/apex/log/handlers/text"
	"github.com/gabriel-vasile/mimetype"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Protocol-Lattice/roomcleaner"
	"github.com/Protocol-Lattice/roomcleaner/src/config"
	"github.com/Protocol-Lattice/roomcleaner/src/errs"
	"github.com/Protocol-Lattice/roomcleaner/src/history"
	"github.com/Protocol-Lattice/roomcleaner/src/imaging"
	"github.com/Protocol-Lattice/roomcleaner/src/metrics"
)

const usage = `usage: roomcleaner [flags] analyze <image>...
       roomcleaner [flags] health

flags:
`

func main() {
	configPath := flag.String("config", "", "Optional YAML config file")
	provider := flag.String("provider", "", "Backend to use (overrides AI_PROVIDER)")
	model := flag.String("model", "", "Model ID (overrides AI_MODEL)")
	prompt := flag.String("prompt", "", "Prompt sent with each image (defaults to the configured prompt)")
	mimeType := flag.String("mime", "", "MIME type of the images; detected from content when empty")
	metricsFile := flag.String("metrics-file", "", "Write Prometheus metrics to this file on exit")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	// flags take precedence over the environment
	if *provider != "" {
		os.Setenv("AI_PROVIDER", *provider)
	}
	if *model != "" {
		os.Setenv("AI_MODEL", *model)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "roomcleaner: %v\n", err)
		os.Exit(exitCode(err))
	}
	setupLogging(cfg.Log)

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m, err := metrics.New(prometheus.DefaultRegisterer)
	if err != nil {
		log.WithError(err).Fatal("failed to register metrics")
	}

	govOpts := cfg.GovernorOptions()
	govOpts.OnCacheLookup = m.ObserveCache
	analyzer := roomcleaner.New(roomcleaner.Options{
		Governor: imaging.NewGovernor(govOpts),
		Recorder: history.New[roomcleaner.Result](cfg.HistorySize),
		Metrics:  m,
		Prompt:   cfg.Prompt,
	})

	code := 0
	switch args[0] {
	case "analyze":
		if len(args) < 2 {
			flag.Usage()
			code = 2
			break
		}
		code = runAnalyze(ctx, analyzer, cfg, args[1:], *prompt, *mimeType)
	case "health":
		st := analyzer.HealthCheck(ctx, cfg.ModelConfig())
		printJSON(st)
		if !st.OK {
			code = 1
		}
	default:
		fmt.Fprintf(os.Stderr, "roomcleaner: unknown command %q\n", args[0])
		flag.Usage()
		code = 2
	}

	if err := analyzer.Close(); err != nil {
		log.WithError(err).Warn("failed to close backends")
	}
	if *metricsFile != "" {
		if err := prometheus.WriteToTextfile(*metricsFile, prometheus.DefaultGatherer); err != nil {
			log.WithError(err).Warn("failed to write metrics file")
		}
	}
	os.Exit(code)
}

// runAnalyze analyses every file in turn and prints one JSON document per
// file. The exit code reflects the last failure.
func runAnalyze(ctx context.Context, a *roomcleaner.Analyzer, cfg *config.Config, files []string, prompt, mimeType string) int {
	code := 0
	mc := cfg.ModelConfig()
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			log.WithField("file", path).WithError(err).Error("failed to read image")
			code = 1
			continue
		}
		mt := mimeType
		if mt == "" {
			mt = mimetype.Detect(data).String()
		}

		res, err := a.Analyze(ctx, data, mt, prompt, mc)
		if err != nil {
			printJSON(map[string]string{
				"file":  path,
				"error": err.Error(),
				"kind":  errs.KindOf(err).String(),
			})
			code = exitCode(err)
			continue
		}
		printJSON(struct {
			File string `json:"file"`
			*roomcleaner.Result
		}{path, res})
	}
	return code
}

func setupLogging(lc config.LogConfig) {
	if strings.EqualFold(lc.Format, "json") {
		log.SetHandler(jsonhandler.New(os.Stderr))
	} else {
		log.SetHandler(text.New(os.Stderr))
	}
	if lvl, err := log.ParseLevel(strings.ToLower(lc.Level)); err == nil {
		log.SetLevel(lvl)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.WithError(err).Error("failed to encode output")
	}
}

func exitCode(err error) int {
	switch errs.KindOf(err) {
	case errs.KindConfig:
		return 2
	case errs.KindImageProcessing:
		return 3
	case errs.KindInvalidCredentials:
		return 4
	case errs.KindProvider:
		return 5
	case errs.KindAI:
		return 6
	default:
		return 1
	}
}
