package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"

	_ "github.com/lib/pq"

	"github.com/fiscalclass/engine/internal/config"
	"github.com/fiscalclass/engine/internal/httpapi"
	"github.com/fiscalclass/engine/pkg/agents"
	"github.com/fiscalclass/engine/pkg/audit"
	"github.com/fiscalclass/engine/pkg/classification"
	"github.com/fiscalclass/engine/pkg/dispatcher"
	"github.com/fiscalclass/engine/pkg/goldenset"
	"github.com/fiscalclass/engine/pkg/kb"
	"github.com/fiscalclass/engine/pkg/llmprovider"
	"github.com/fiscalclass/engine/pkg/ratelimit"
	"github.com/fiscalclass/engine/pkg/retrieval"
	"github.com/fiscalclass/engine/pkg/telemetry"
	"github.com/fiscalclass/engine/pkg/workflow"
)

// services bundles everything subcommands need, built once from Config
// (grounded on the teacher's cmd/helm/subsystems.go NewServices wiring
// pass).
type services struct {
	cfg *config.Config

	kbHandle *kb.Handle
	kbLoader *kb.Loader

	repo       classification.Repository
	auditStore audit.Store
	goldenSet  goldenset.Store
	isolation  *goldenset.IsolationChecker

	toolbox *retrieval.Toolbox
	metrics *telemetry.Provider

	llm llmprovider.Client
}

func newServices(ctx context.Context, cfg *config.Config) (*services, error) {
	sqlxDB, err := sqlx.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("classifier: open sqlx db: %w", err)
	}
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("classifier: open pgx pool: %w", err)
	}

	var kbSrc kb.Source
	if statErr := sqlxDB.PingContext(ctx); statErr == nil {
		pgSrc := kb.NewPostgresSource(sqlxDB)
		if err := pgSrc.Init(ctx); err != nil {
			return nil, fmt.Errorf("classifier: init kb schema: %w", err)
		}
		kbSrc = pgSrc
	} else if cfg.KBBundleDir != "" {
		kbSrc = kb.NewYAMLBundleSource(cfg.KBBundleDir)
	} else {
		return nil, fmt.Errorf("classifier: no reachable postgres and no KB_BUNDLE_DIR configured: %w", statErr)
	}

	handle := kb.NewHandle()
	loader := kb.NewLoader(handle, kbSrc)
	if err := loader.Reload(ctx); err != nil {
		return nil, fmt.Errorf("classifier: initial kb load: %w", err)
	}

	repo := classification.NewPostgresRepository(pgPool)
	if err := repo.Init(ctx); err != nil {
		return nil, fmt.Errorf("classifier: init classification schema: %w", err)
	}

	auditDB, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("classifier: open audit db: %w", err)
	}
	auditStore := audit.NewPostgresStore(auditDB)
	if err := auditStore.Init(ctx); err != nil {
		return nil, fmt.Errorf("classifier: init audit schema: %w", err)
	}

	goldenStore := goldenset.NewPostgresStore(sqlxDB)
	isolation := goldenset.NewIsolationChecker()

	var limiterStore ratelimit.Store
	if cfg.RedisAddr != "" {
		limiterStore = ratelimit.NewRedisStore(cfg.RedisAddr, "", 0)
	} else {
		limiterStore = ratelimit.NewInMemoryStore()
	}

	local := llmprovider.NewLocalClient(cfg.LLMLocalURL, cfg.Models.Default, &http.Client{Timeout: time.Duration(cfg.Timeouts.PerLLMCallMs) * time.Millisecond})
	fast := llmprovider.Client(llmprovider.NewSchemaClient(local))

	smart := fast
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		remote := llmprovider.NewRemoteClient(apiKey, anthropic.Model(cfg.LLMRemoteModel))
		smart = llmprovider.NewSchemaClient(remote)
	}

	router := llmprovider.NewRouter(fast, smart)
	llmClient := llmprovider.Client(router)
	llmClient = llmprovider.NewLimitedClient(llmClient, limiterStore, "classifier", ratelimit.Policy{RequestsPerMinute: 240, Burst: 20})

	embedder := kb.MemoryEmbedder{Dim: 64}
	vectorStore := kb.NewMemoryVectorStore()
	dense := retrieval.NewDenseSource(embedder, vectorStore)
	sparse := retrieval.NewSparseSource()
	rule, err := retrieval.NewRuleSource(handle)
	if err != nil {
		return nil, fmt.Errorf("classifier: build rule source: %w", err)
	}
	golden := retrieval.NewGoldenSource(handle)
	weights := retrieval.Weights{
		Dense:  cfg.RetrievalWeights.Dense,
		Sparse: cfg.RetrievalWeights.Sparse,
		Rule:   cfg.RetrievalWeights.Rule,
		Golden: cfg.RetrievalWeights.Golden,
	}
	perModeTimeout := time.Duration(cfg.Timeouts.PerRetrievalModeMs) * time.Millisecond
	toolbox := retrieval.NewToolbox(weights, perModeTimeout, dense, sparse, rule, golden)

	metrics, err := telemetry.New(ctx, telemetry.Config{ServiceName: "fiscalclass-classifier", Enabled: false})
	if err != nil {
		return nil, fmt.Errorf("classifier: init telemetry: %w", err)
	}

	return &services{
		cfg:        cfg,
		kbHandle:   handle,
		kbLoader:   loader,
		repo:       repo,
		auditStore: auditStore,
		goldenSet:  goldenStore,
		isolation:  isolation,
		toolbox:    toolbox,
		metrics:    metrics,
		llm:        llmClient,
	}, nil
}

// flowProvider builds a fresh set of agents per flow kind, matching the
// teacher's pattern of constructing stateless capability handlers once
// per dispatch rather than sharing mutable agent instances across jobs.
func (s *services) flowProvider() dispatcher.FlowProvider {
	return func(kind classification.FlowKind) workflow.Flow {
		enrichment := agents.NewEnrichmentAgent(s.llm)
		ncm := agents.NewNCMAgent(s.llm, s.kbHandle, s.cfg.Thresholds.NCMConfirm)
		cest := agents.NewCESTAgent(s.llm, s.kbHandle)
		reconciliation := agents.NewReconciliationAgent(s.kbHandle,
			s.cfg.Thresholds.NCMConfirm, s.cfg.Thresholds.CESTConfirm, 0.5)

		perNodeTimeout := time.Duration(s.cfg.Timeouts.PerNodeMs) * time.Millisecond
		if kind == classification.FlowDetermination {
			return workflow.DeterminationFlow(perNodeTimeout, enrichment, ncm, cest, reconciliation)
		}
		return workflow.ConfirmationFlow(perNodeTimeout, enrichment, ncm, cest, reconciliation)
	}
}

func (s *services) runner() *workflow.Runner {
	perItemTimeout := time.Duration(s.cfg.Timeouts.PerItemMs) * time.Millisecond
	return workflow.NewRunner(s.toolbox, s.auditStore, audit.NewLogger(), s.cfg.Thresholds.GoldenMatch, perItemTimeout)
}

func (s *services) newBatch(req dispatcher.Request) (*dispatcher.Batch, error) {
	batch := dispatcher.NewBatch(s.runner(), s.flowProvider(), s.repo, s.cfg.Concurrency)
	batch.SetAggregator(agents.NewAggregationAgent(kb.MemoryEmbedder{Dim: 64}, s.cfg.Thresholds.EmbedGroup))
	if _, err := batch.Enqueue(context.Background(), req); err != nil {
		return nil, err
	}
	return batch, nil
}

func (s *services) httpServer() *httpapi.Server {
	return httpapi.NewServer(s.repo, s.auditStore, s.goldenSet, s.kbLoader, s.newBatch)
}
