// Command musicbot is the reference harness wiring the playback core
// to a live Discord voice connection via discordgo, grounded on the
// teacher's cmd/main.go initializeApplication/health-check-server
// structure. It is not part of the core's public contract (spec.md §1
// Non-goals exclude the voice-gateway client itself) — it exists only
// to exercise the core's exported constructors against a realistic
// caller, the same role the teacher's entrypoint plays for its own
// pipeline.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/latoulicious/voicecast/internal/config"
	"github.com/latoulicious/voicecast/internal/ffmpeg"
	"github.com/latoulicious/voicecast/internal/httpfetch"
	"github.com/latoulicious/voicecast/internal/logging"
	"github.com/latoulicious/voicecast/internal/orchestrator"
	"github.com/latoulicious/voicecast/internal/pipeline"
	"github.com/latoulicious/voicecast/internal/provider"
	"github.com/latoulicious/voicecast/internal/store"
	"github.com/latoulicious/voicecast/internal/store/gormstore"
	"github.com/latoulicious/voicecast/internal/store/memstore"
	"github.com/latoulicious/voicecast/internal/store/redisstore"
	"github.com/latoulicious/voicecast/internal/version"
	"github.com/latoulicious/voicecast/internal/voicesink"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("musicbot: %v", err)
	}
}

func run() error {
	appCfg, err := config.LoadAppConfig()
	if err != nil {
		return fmt.Errorf("load app config: %w", err)
	}
	pipelineCfg, err := config.LoadPipelineConfig(os.Getenv("PIPELINE_CONFIG_YAML"), os.Getenv("PIPELINE_CONFIG_TOML"))
	if err != nil {
		return fmt.Errorf("load pipeline config: %w", err)
	}

	logFactory := logging.NewZapFactory(logging.Config{Level: pipelineCfg.Logger.Level, Format: pipelineCfg.Logger.Format})
	sysLogger := logFactory.CreateLogger("system")

	repo, err := gormstore.New(pipelineCfg.Store.DSN)
	if err != nil {
		return fmt.Errorf("connect store: %w", err)
	}

	cache, err := buildCache(pipelineCfg.Store)
	if err != nil {
		return fmt.Errorf("build cache: %w", err)
	}

	fetcher := httpfetch.New()
	prov := provider.New(pipelineCfg.Provider, fetcher)
	builder := pipeline.New(fetcher, logFactory.CreateLogger("pipeline"))

	sinks := newSinkRegistry()
	orch := orchestrator.New(orchestrator.Deps{
		Repo:     repo,
		Cache:    cache,
		Provider: prov,
		Pipeline: builder,
		Sink:     sinks.factory,
		Logger:   logFactory.CreateLogger("orchestrator"),
	})

	dg, err := discordgo.New("Bot " + appCfg.VoiceToken)
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}
	dg.AddHandler(voiceReadyHandler(sinks, logFactory.CreateLogger("voice")))
	_ = orch // wired into slash-command handlers by the owning deployment; this harness only proves construction.

	if _, err := ffmpeg.CheckBinary(pipelineCfg.FFmpeg.BinaryPath); err != nil {
		sysLogger.Warn("ffmpeg dependency check failed; transcoded playback will fail", map[string]interface{}{"error": err.Error()})
	}

	healthServer := startHealthCheckServer(pipelineCfg.FFmpeg.BinaryPath)
	defer shutdownHealthServer(healthServer)

	if err := dg.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	defer dg.Close()

	sysLogger.Info("musicbot running", map[string]interface{}{"health_addr": ":8080"})

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM)
	<-sc

	sysLogger.Info("shutting down", nil)
	return nil
}

func buildCache(cfg config.StoreConfig) (store.KeyValueStore, error) {
	switch cfg.Driver {
	case "redis":
		return redisstore.New(cfg.DSN)
	default:
		return memstore.New(10 * time.Minute), nil
	}
}

// sinkRegistry binds each guild's VoiceSink to its live discordgo voice
// connection once joined, grounded on the teacher's
// MusicQueue.SetVoiceConnection/GetVoiceConnection pairing.
type sinkRegistry struct {
	sinks map[string]voicesink.VoiceSink
}

func newSinkRegistry() *sinkRegistry {
	return &sinkRegistry{sinks: make(map[string]voicesink.VoiceSink)}
}

func (r *sinkRegistry) bind(guildID string, vc *discordgo.VoiceConnection, logger logging.Logger) {
	r.sinks[guildID] = voicesink.New(&opusSendFrameSink{vc: vc}, logger, 128000)
}

func (r *sinkRegistry) factory(guildID string) voicesink.VoiceSink {
	if sink, ok := r.sinks[guildID]; ok {
		return sink
	}
	return nil
}

// opusSendFrameSink forwards encoded Opus frames to a discordgo voice
// connection's OpusSend channel, mirroring pkg/audio/pipeline.go's
// "select { case voiceConn.OpusSend <- opusData: case ctx.Done(): }"
// send loop.
type opusSendFrameSink struct {
	vc *discordgo.VoiceConnection
}

func (f *opusSendFrameSink) SendFrame(frame []byte) error {
	select {
	case f.vc.OpusSend <- frame:
		return nil
	case <-time.After(2 * time.Second):
		return context.DeadlineExceeded
	}
}

func voiceReadyHandler(registry *sinkRegistry, logger logging.Logger) func(*discordgo.Session, *discordgo.VoiceStateUpdate) {
	return func(s *discordgo.Session, v *discordgo.VoiceStateUpdate) {
		// A real deployment joins a channel from a slash command and
		// calls registry.bind(guildID, vc, logger) with the returned
		// *discordgo.VoiceConnection; left as a hook point here since
		// channel selection is a chat-command concern outside the core.
		_ = s
		_ = v
		_ = registry
		_ = logger
	}
}

var (
	healthStartTime = time.Now()
)

func startHealthCheckServer(ffmpegPath string) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		_, ffmpegErr := ffmpeg.CheckBinary(ffmpegPath)
		w.Header().Set("Content-Type", "application/json")
		if ffmpegErr != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, `{"status":"unhealthy","uptime":%q,"ffmpeg":%q}`, time.Since(healthStartTime).String(), ffmpegErr.Error())
			return
		}
		fmt.Fprintf(w, `{"status":"healthy","uptime":%q,"ffmpeg":"ok"}`, time.Since(healthStartTime).String())
	})
	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		info := version.Get()
		fmt.Fprintf(w, `{"version":%q,"git_commit":%q,"build_time":%q,"go_version":%q}`,
			info.Version, info.ShortCommit, info.BuildTime, info.GoVersion)
	})

	server := &http.Server{Addr: ":8080", Handler: mux, ReadTimeout: 5 * time.Second, WriteTimeout: 5 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("health check server error: %v", err)
		}
	}()
	return server
}

func shutdownHealthServer(server *http.Server) {
	if server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(ctx)
}
