package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"rfp-smart-go/internal/config"
	"rfp-smart-go/internal/pipeline"
	"rfp-smart-go/internal/repository"
	"rfp-smart-go/internal/service"
	"rfp-smart-go/pkg/database"
	"rfp-smart-go/pkg/embedding"
	"rfp-smart-go/pkg/es"
	"rfp-smart-go/pkg/extract"
	"rfp-smart-go/pkg/kafka"
	"rfp-smart-go/pkg/llm"
	"rfp-smart-go/pkg/log"
	"rfp-smart-go/pkg/storage"
	"rfp-smart-go/pkg/tika"
)

const attemptTTL = 24 * time.Hour

// app 持有各子命令共享的基础设施与服务。
type app struct {
	cfg       config.Config
	db        *gorm.DB
	rdb       *redis.Client
	corpora   repository.CorpusRepository
	projects  repository.ProjectRepository
	chunks    repository.ChunkStore
	extractor *extract.Registry
	embedder  embedding.Client
	llmClient llm.Client
	producer  *kafka.Producer
	processor *pipeline.Processor

	corpusService    service.CorpusService
	retrievalService service.RetrievalService
	projectService   service.ProjectService
	questionService  service.QuestionService
	draftService     service.DraftService
	adminService     service.AdminService

	closers []func()
}

// newApp 按配置连接 MySQL、对象存储与向量库，并完成依赖注入。
// withQueue 为 true 且启用 Kafka 时入库改为异步投递。
func newApp(ctx context.Context, cfg config.Config, withQueue bool) (*app, error) {
	a := &app{cfg: cfg}

	db, err := database.OpenMySQL(cfg.Database.MySQL.DSN)
	if err != nil {
		return nil, err
	}
	a.db = db
	a.corpora = repository.NewCorpusRepository(db)
	a.projects = repository.NewProjectRepository(db)

	objects, err := storage.NewMinIOStore(ctx, cfg.MinIO)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.embedder = embedding.NewClient(cfg.Embedding)
	if err := a.openChunkStore(ctx); err != nil {
		a.Close()
		return nil, err
	}

	var fallback extract.Extractor
	if cfg.Tika.ServerURL != "" {
		fallback = tika.NewClient(cfg.Tika)
		log.Infof("[App] 已启用 Tika 兜底解析: %s", cfg.Tika.ServerURL)
	}
	a.extractor = extract.NewRegistry(fallback)
	a.llmClient = llm.NewClient(cfg.LLM)

	var publisher pipeline.TaskPublisher
	if withQueue && cfg.Kafka.Enabled && cfg.Ingestion.Async {
		a.producer = kafka.NewProducer(cfg.Kafka)
		a.closers = append(a.closers, func() { _ = a.producer.Close() })
		publisher = a.producer
	}
	a.processor = pipeline.NewProcessor(a.extractor, a.embedder, a.chunks, a.corpora, objects, publisher, cfg.Ingestion)

	defaultOrg := cfg.Auth.DefaultOrganizationID
	a.corpusService = service.NewCorpusService(a.corpora, a.chunks, objects, a.processor, defaultOrg)
	a.retrievalService = service.NewRetrievalService(a.embedder, a.chunks, a.corpora, a.projects, cfg.Retrieval, defaultOrg)
	a.projectService = service.NewProjectService(a.projects, a.corpora, defaultOrg)
	a.questionService = service.NewQuestionService(a.extractor, a.llmClient, a.projects, cfg.Questions)
	a.draftService = service.NewDraftService(a.retrievalService, a.llmClient, a.projects, cfg.LLM.Prompt)
	a.adminService = service.NewAdminService(a.corpora, a.processor)
	return a, nil
}

// openChunkStore 按 vector_store.driver 选择 Elasticsearch 或 pgvector。
func (a *app) openChunkStore(ctx context.Context) error {
	dims := a.embedder.Dimensions()
	version := a.embedder.ModelVersion()
	batch := a.cfg.Ingestion.BatchSize

	switch a.cfg.VectorStore.Driver {
	case "pgvector":
		pool, err := database.OpenPostgres(ctx, a.cfg.Postgres.DSN, repository.VectorSchema(dims))
		if err != nil {
			return err
		}
		a.closers = append(a.closers, pool.Close)
		a.chunks = repository.NewPgvectorChunkStore(pool, a.corpora, dims, batch, version)
	case "", "elasticsearch":
		client, err := es.NewClient(a.cfg.Elasticsearch)
		if err != nil {
			return fmt.Errorf("es 初始化失败: %w", err)
		}
		if err := es.EnsureIndex(ctx, client, a.cfg.Elasticsearch.IndexName, dims); err != nil {
			return fmt.Errorf("es 索引初始化失败: %w", err)
		}
		rows := repository.NewChunkRepository(a.db)
		a.chunks = repository.NewESChunkStore(client, a.cfg.Elasticsearch.IndexName, rows, a.corpora, dims, batch, version)
	default:
		return fmt.Errorf("未知的向量库类型: %s", a.cfg.VectorStore.Driver)
	}
	log.Infof("[App] 向量库: %s, 维度: %d, 模型: %s", a.cfg.VectorStore.Driver, dims, version)
	return nil
}

// openRedis 仅在需要异步入库的重试计数时连接 Redis。
func (a *app) openRedis(ctx context.Context) error {
	rdb, err := database.OpenRedis(ctx, a.cfg.Database.Redis.Addr, a.cfg.Database.Redis.Password, a.cfg.Database.Redis.DB)
	if err != nil {
		return err
	}
	a.rdb = rdb
	a.closers = append(a.closers, func() { _ = rdb.Close() })
	return nil
}

// startConsumer 启动后台 Kafka 消费者，ctx 取消时退出。
func (a *app) startConsumer(ctx context.Context) error {
	if a.producer == nil {
		return nil
	}
	if err := a.openRedis(ctx); err != nil {
		return err
	}
	consumer := kafka.NewConsumer(a.cfg.Kafka, a.processor, repository.NewAttemptRepository(a.rdb, attemptTTL))
	go consumer.Run(ctx)
	return nil
}

// Close 按创建的逆序释放连接。
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
