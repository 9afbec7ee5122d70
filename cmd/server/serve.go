package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"rfp-smart-go/internal/config"
	"rfp-smart-go/internal/handler"
	"rfp-smart-go/internal/middleware"
	"rfp-smart-go/pkg/log"
	"rfp-smart-go/pkg/metrics"
	"rfp-smart-go/pkg/token"
)

// serve 启动 HTTP 服务，ctx 取消后优雅停机。
func serve(ctx context.Context) error {
	cfg := config.Conf

	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()
	if err := a.startConsumer(consumerCtx); err != nil {
		return err
	}

	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours)
	auth := middleware.NewAuthStrategy(cfg.Auth, jwtManager)

	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())
	registerRoutes(r, a, auth)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP 服务监听失败: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	log.Info("接收到停机信号，正在关闭服务...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP 服务器关闭失败: %w", err)
	}
	stopConsumer()
	log.Info("服务已优雅关闭")
	return nil
}

func registerRoutes(r *gin.Engine, a *app, auth middleware.AuthStrategy) {
	maxUpload := a.cfg.Server.MaxUploadMB
	corpusHandler := handler.NewCorpusHandler(a.corpusService, maxUpload)
	searchHandler := handler.NewSearchHandler(a.retrievalService)
	projectHandler := handler.NewProjectHandler(a.projectService, a.questionService, maxUpload)
	brickHandler := handler.NewBrickHandler(a.projectService, a.draftService)
	draftHandler := handler.NewDraftHandler(a.draftService, auth)
	adminHandler := handler.NewAdminHandler(a.adminService)

	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	apiV1 := r.Group("/api/v1")
	apiV1.Use(middleware.AuthMiddleware(auth))
	{
		apiV1.GET("/me", handler.NewAuthHandler().Me)

		corpus := apiV1.Group("/corpus")
		{
			corpus.POST("", corpusHandler.Create)
			corpus.GET("", corpusHandler.List)
			corpus.GET("/:id", corpusHandler.Get)
			corpus.PATCH("/:id", corpusHandler.Update)
			corpus.DELETE("/:id", corpusHandler.Delete)
			corpus.POST("/:id/documents", corpusHandler.UploadDocument)
			corpus.GET("/:id/documents", corpusHandler.ListDocuments)
			corpus.DELETE("/:id/documents/:documentId", corpusHandler.DeleteDocument)
			corpus.GET("/:id/documents/:documentId/url", corpusHandler.DocumentURL)
		}

		apiV1.POST("/rag/search", searchHandler.Search)

		projects := apiV1.Group("/projects")
		{
			projects.POST("", projectHandler.Create)
			projects.GET("", projectHandler.List)
			projects.GET("/:id", projectHandler.Get)
			projects.PATCH("/:id/status", projectHandler.UpdateStatus)
			projects.GET("/:id/corpus", projectHandler.LinkedCorpora)
			projects.PUT("/:id/corpus/:corpusId", projectHandler.LinkCorpus)
			projects.DELETE("/:id/corpus/:corpusId", projectHandler.UnlinkCorpus)
			projects.POST("/:id/parse", projectHandler.Parse)
			projects.GET("/:id/export", projectHandler.Export)
		}

		bricks := apiV1.Group("/bricks")
		{
			bricks.PATCH("/:id", brickHandler.Update)
			bricks.POST("/:id/generate", brickHandler.Generate)
		}

		apiV1.GET("/drafts/websocket-token", draftHandler.GetWebsocketStopToken)

		// 管理员路由组：入库运维
		admin := apiV1.Group("/admin")
		admin.Use(middleware.RequireRole("ADMIN"))
		{
			admin.GET("/documents", adminHandler.ListDocuments)
			admin.POST("/documents/:documentId/reprocess", adminHandler.ReprocessDocument)
		}
	}

	// WebSocket 通过路径中的 token 认证
	r.GET("/drafts/:token", draftHandler.Handle)
}
