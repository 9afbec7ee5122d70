// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"rfp-smart-go/internal/config"
	"rfp-smart-go/pkg/log"
)

func main() {
	// 中断信号取消根 context，serve 据此优雅停机
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "rfp-smart",
		Short: "招标应答助手后端",
		Long: `rfp-smart 管理参考语料库，从招标文件中抽取问题，
并基于检索到的参考内容生成回答草稿。

不带子命令运行时等同于 serve。`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// 1. 初始化配置
			config.Init(configPath)
			cfg := config.Conf
			// 2. 初始化日志记录器
			log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			log.Sync()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./configs/config.yaml", "配置文件路径")

	cmd.AddCommand(
		serveCmd(),
		migrateCmd(),
		ingestCmd(),
		searchCmd(),
		tokenCmd(),
	)
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP 服务与入库消费者",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}
