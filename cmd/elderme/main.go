// Command elderme serves the telephone media stream for the ElderMe voice
// agent.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/elderme-design/elderme-server/internal/app"
	"github.com/elderme-design/elderme-server/internal/config"
	"github.com/elderme-design/elderme-server/internal/observe"
	"github.com/elderme-design/elderme-server/internal/resilience"
	"github.com/elderme-design/elderme-server/pkg/provider/llm"
	"github.com/elderme-design/elderme-server/pkg/provider/llm/anyllm"
	oallm "github.com/elderme-design/elderme-server/pkg/provider/llm/openai"
	"github.com/elderme-design/elderme-server/pkg/provider/stt"
	"github.com/elderme-design/elderme-server/pkg/provider/stt/deepgram"
	oastt "github.com/elderme-design/elderme-server/pkg/provider/stt/openai"
	"github.com/elderme-design/elderme-server/pkg/provider/stt/whisper"
	"github.com/elderme-design/elderme-server/pkg/provider/tts"
	"github.com/elderme-design/elderme-server/pkg/provider/tts/coqui"
	"github.com/elderme-design/elderme-server/pkg/provider/tts/elevenlabs"
	oatts "github.com/elderme-design/elderme-server/pkg/provider/tts/openai"
)

// version is set at link time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	var level slog.LevelVar
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	// The watcher loads the file once up front and then polls it; call
	// tunables and the log level apply without a restart.
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		onConfigChange(&level, old, new)
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "elderme: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "elderme: %v\n", err)
		}
		return 1
	}
	defer watcher.Stop()

	cfg := watcher.Current()
	level.Set(slogLevel(cfg.Server.LogLevel))

	slog.Info("elderme starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "elderme",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to init telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg, metrics)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers,
		app.WithMetrics(metrics),
		app.WithConfigSource(watcher.Current),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return code
}

func onConfigChange(level *slog.LevelVar, old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}
	if d.LogLevelChanged {
		level.Set(slogLevel(d.NewLogLevel))
		slog.Info("config reload: log level changed", "level", d.NewLogLevel)
	}
	if d.CallChanged {
		slog.Info("config reload: call settings apply to new calls", "fields", strings.Join(d.CallFields, ","))
	}
	if d.StreamChanged || d.RestartRequired {
		slog.Warn("config reload: some changes need a restart",
			"stream_changed", d.StreamChanged,
			"restart_required", d.RestartRequired,
		)
	}
}

func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterRecognizer("whisper", func(entry config.ProviderEntry) (stt.Recognizer, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entry.Option("language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterRecognizer("whisper-native", func(entry config.ProviderEntry) (stt.Recognizer, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = entry.Option("model_path")
		}
		var opts []whisper.NativeOption
		if lang := entry.Option("language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterRecognizer("deepgram", func(entry config.ProviderEntry) (stt.Recognizer, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := entry.Option("language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterRecognizer("openai", func(entry config.ProviderEntry) (stt.Recognizer, error) {
		var opts []oastt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oastt.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, oastt.WithModel(entry.Model))
		}
		if lang := entry.Option("language"); lang != "" {
			opts = append(opts, oastt.WithLanguage(lang))
		}
		return oastt.New(entry.APIKey, opts...)
	})

	reg.RegisterCompleter("openai", func(entry config.ProviderEntry) (llm.Completer, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := entry.Option("organization"); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	// The rest go through any-llm. Local servers (ollama, llamacpp,
	// llamafile) usually only need BaseURL.
	for _, name := range []string{"anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"} {
		reg.RegisterCompleter(name, func(entry config.ProviderEntry) (llm.Completer, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, entry.Model, opts...)
		})
	}

	reg.RegisterSynthesizer("elevenlabs", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if f := entry.Option("output_format"); f != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(f))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithEndpoint(entry.BaseURL))
		}
		if stability, ok := entry.Options["stability"].(float64); ok {
			similarity, _ := entry.Options["similarity"].(float64)
			opts = append(opts, elevenlabs.WithVoiceSettings(stability, similarity))
		}
		return elevenlabs.New(entry.APIKey, entry.Option("voice_id"), opts...)
	})

	reg.RegisterSynthesizer("coqui", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []coqui.Option
		if lang := entry.Option("language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if speaker := entry.Option("speaker"); speaker != "" {
			opts = append(opts, coqui.WithSpeaker(speaker))
		}
		if mode := entry.Option("api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	reg.RegisterSynthesizer("openai", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []oatts.Option
		if entry.BaseURL != "" {
			opts = append(opts, oatts.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, oatts.WithModel(entry.Model))
		}
		if voice := entry.Option("voice"); voice != "" {
			opts = append(opts, oatts.WithVoice(voice))
		}
		if instr := entry.Option("instructions"); instr != "" {
			opts = append(opts, oatts.WithInstructions(instr))
		}
		return oatts.New(entry.APIKey, opts...)
	})

	for _, kind := range []string{"stt", "llm", "tts"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// buildProviders creates each configured collaborator and its fallbacks,
// wrapped in a circuit-breaking failover group.
func buildProviders(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*app.Providers, error) {
	breaker := func(kind string) resilience.BreakerConfig {
		return resilience.BreakerConfig{
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("circuit breaker state changed", "kind", kind, "backend", name, "from", from, "to", to)
				metrics.RecordBreakerTransition(name, to.String())
			},
		}
	}
	observer := func(kind string) func(context.Context, string, error) {
		return func(ctx context.Context, backend string, err error) {
			metrics.RecordProviderRequest(ctx, backend, kind, err)
		}
	}

	primarySTT, err := reg.CreateRecognizer(cfg.Providers.STT)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	recognizer := resilience.NewRecognizer(cfg.Providers.STT.Name, primarySTT, breaker("stt"))
	for _, fb := range cfg.Providers.STT.Fallbacks {
		p, err := reg.CreateRecognizer(fb)
		if err != nil {
			return nil, fmt.Errorf("create stt fallback %q: %w", fb.Name, err)
		}
		recognizer.Add(fb.Name, p)
	}
	recognizer.Observe(observer("stt"))

	primaryLLM, err := reg.CreateCompleter(cfg.Providers.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	completer := resilience.NewCompleter(cfg.Providers.LLM.Name, primaryLLM, breaker("llm"))
	for _, fb := range cfg.Providers.LLM.Fallbacks {
		p, err := reg.CreateCompleter(fb)
		if err != nil {
			return nil, fmt.Errorf("create llm fallback %q: %w", fb.Name, err)
		}
		completer.Add(fb.Name, p)
	}
	completer.Observe(observer("llm"))

	primaryTTS, err := reg.CreateSynthesizer(cfg.Providers.TTS)
	if err != nil {
		return nil, fmt.Errorf("create tts provider %q: %w", cfg.Providers.TTS.Name, err)
	}
	synthesizer := resilience.NewSynthesizer(cfg.Providers.TTS.Name, primaryTTS, breaker("tts"))
	for _, fb := range cfg.Providers.TTS.Fallbacks {
		p, err := reg.CreateSynthesizer(fb)
		if err != nil {
			return nil, fmt.Errorf("create tts fallback %q: %w", fb.Name, err)
		}
		synthesizer.Add(fb.Name, p)
	}
	synthesizer.Observe(observer("tts"))

	for kind, e := range map[string]config.ProviderEntry{"stt": cfg.Providers.STT, "llm": cfg.Providers.LLM, "tts": cfg.Providers.TTS} {
		slog.Info("provider created", "kind", kind, "name", e.Name, "fallbacks", len(e.Fallbacks))
	}

	return &app.Providers{STT: recognizer, LLM: completer, TTS: synthesizer}, nil
}

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         ElderMe startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.Providers.STT)
	printProvider("LLM", cfg.Providers.LLM)
	printProvider("TTS", cfg.Providers.TTS)
	store := "memory"
	if cfg.Store.PostgresDSN != "" {
		store = "postgres"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", "Call store", store)
	fmt.Printf("║  %-12s    : %-19s ║\n", "Dialect", string(cfg.Stream.Dialect))
	fmt.Printf("║  %-12s    : %-19d ║\n", "Nudges", len(cfg.Call.Nudges))
	fmt.Printf("║  %-12s    : %-19s ║\n", "Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind string, e config.ProviderEntry) {
	value := e.Name
	if e.Model != "" {
		value += " / " + e.Model
	}
	if n := len(e.Fallbacks); n > 0 {
		value += fmt.Sprintf(" +%d", n)
	}
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

func slogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
