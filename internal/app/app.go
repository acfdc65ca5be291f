// Package app wires every component into one running process, the way
// each agent's Initialize builds its own client/sender/tracker set, but
// generalized across this module's larger component graph so cmd/digestd
// and cmd/digestctl share a single construction path instead of each
// repeating it.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/genai"

	"newsdigest/internal/adapters"
	"newsdigest/internal/config"
	"newsdigest/internal/fetch"
	"newsdigest/internal/mailer"
	"newsdigest/internal/model"
	"newsdigest/internal/monitoring"
	"newsdigest/internal/orchestrator"
	"newsdigest/internal/ranker"
	"newsdigest/internal/requestplane"
	"newsdigest/internal/scheduler"
	"newsdigest/internal/store"
	"newsdigest/internal/summary"
	"newsdigest/internal/vectorindex"
)

// App holds every long-lived component, closed together by Close.
type App struct {
	Config      *config.Config
	Store       *store.Store
	VectorStore *vectorindex.Store
	Plane       *requestplane.Plane
	Monitor     *monitoring.Monitor
	HealthSrv   *monitoring.HealthServer
	Scheduler   *scheduler.Scheduler
}

// New builds the full pipeline from cfg: the Record Store and Semantic
// Index, every configured source adapter, the LLM-backed Summarizer,
// Ranker and Mailer sharing one genai.Client, the Orchestrator tying them
// together, and the Request Plane, Monitor and Scheduler on top.
//
// The YouTube adapter's OAuth handshake can block on user interaction the
// first time a token file doesn't exist, so it is built last and its
// failure is logged rather than fatal: a catalog-only run still works
// with every other source.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.Open(cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	vecStore, err := vectorindex.Open(fmt.Sprintf("file:%s/vectors.db", cfg.Store.VectorDir), cfg.AI.EmbeddingDim)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open vector store: %w", err)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.AI.GeminiAPIKey})
	if err != nil {
		st.Close()
		vecStore.Close()
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	catalog, err := adapters.LoadCatalog(cfg.Sources)
	if err != nil {
		st.Close()
		vecStore.Close()
		return nil, fmt.Errorf("load source catalog: %w", err)
	}
	adapterList := catalog.BuildAdapters(cfg.Pipeline.TFetch, cfg.Pipeline.TRender, cfg.Pipeline.GRender)

	var transcriptFetchers []adapters.TranscriptFetcher
	yt, err := adapters.NewYouTubeAdapter(ctx, adapters.YouTubeConfig{
		ClientID:     cfg.YouTube.ClientID,
		ClientSecret: cfg.YouTube.ClientSecret,
		TokenFile:    cfg.YouTube.TokenFile,
		ChannelIDs:   cfg.YouTube.ChannelIDs,
	})
	if err != nil {
		logger.Error("youtube adapter unavailable, continuing without it", "error", err)
	} else {
		adapterList = append(adapterList, yt)
		transcriptFetchers = append(transcriptFetchers, yt)
	}

	coordinator := fetch.New(adapterList, fetch.Config{
		Concurrency: cfg.Pipeline.GFetch,
		Timeout:     cfg.Pipeline.TFetch,
		MaxRetries:  cfg.Pipeline.RFetch,
	}, logger)

	summarizer := summary.New(client, cfg.AI.DigestModel, summary.Config{
		Temperature:   cfg.AI.TDigest,
		RParse:        cfg.Pipeline.RParse,
		LongVideoMins: cfg.AI.LongVideoMins,
		SummaryChars:  cfg.AI.SummaryChars,
		Timeout:       cfg.Pipeline.TLLM,
	})

	embedder := vectorindex.NewEmbedder(client, cfg.AI.EmbedModel, cfg.AI.EmbeddingDim)
	indexer := vectorindex.NewIndexer(embedder, vecStore, cfg.Pipeline.ThetaDup)
	retriever := indexer.Retriever()

	rk := ranker.New(client, cfg.AI.RankModel, embedder, retriever, ranker.Config{
		Temperature: cfg.AI.TRank,
		KCtx:        cfg.Pipeline.KCtx,
		Timeout:     cfg.Pipeline.TLLM,
	})

	ml := mailer.New(client, cfg.AI.RankModel, mailer.Config{
		Temperature: cfg.AI.TEmail,
		SkipEmail:   cfg.Email.SkipEmail,
		Timeout:     cfg.Pipeline.TLLM,
		SMTP: mailer.SMTPConfig{
			Server:    cfg.Email.SMTPServer,
			Port:      cfg.Email.SMTPPort,
			Username:  cfg.Email.Username,
			Password:  cfg.Email.Password,
			FromEmail: cfg.Email.FromEmail,
			ToEmail:   cfg.Email.ToEmail,
			Subject:   cfg.Email.Subject,
		},
	})

	profile := model.UserProfile{
		Name:           cfg.Profile.Name,
		Background:     cfg.Profile.Background,
		Interests:      cfg.Profile.Interests,
		ExpertiseLevel: cfg.Profile.ExpertiseLevel,
		Avoidances:     cfg.Profile.Avoidances,
	}

	orch := orchestrator.New(st, coordinator, summarizer, indexer, rk, ml, transcriptFetchers, profile, cfg.Pipeline.GLLM, logger)
	plane := requestplane.New(orch, st, embedder, retriever)

	mon := monitoring.New(logger)
	health := monitoring.NewHealthServer(mon, fmt.Sprintf("%d", cfg.Monitoring.HealthPort), logger)

	sched := scheduler.New(plane, scheduler.Config{
		Schedule:    cfg.Schedule,
		WindowHours: cfg.Pipeline.WindowHours,
		TopN:        cfg.Pipeline.TopN,
		SkipEmail:   cfg.Email.SkipEmail,
	}, mon, logger)

	return &App{
		Config:      cfg,
		Store:       st,
		VectorStore: vecStore,
		Plane:       plane,
		Monitor:     mon,
		HealthSrv:   health,
		Scheduler:   sched,
	}, nil
}

// Close releases the Store and Semantic Index's database handles.
func (a *App) Close() error {
	verr := a.VectorStore.Close()
	serr := a.Store.Close()
	if serr != nil {
		return serr
	}
	return verr
}
