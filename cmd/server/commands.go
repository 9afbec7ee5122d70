package main

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"rfp-smart-go/internal/config"
	"rfp-smart-go/internal/service"
	"rfp-smart-go/pkg/database"
	"rfp-smart-go/pkg/extract"
	"rfp-smart-go/pkg/log"
	"rfp-smart-go/pkg/token"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "创建或更新 MySQL 表结构",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := database.OpenMySQL(config.Conf.Database.MySQL.DSN)
			if err != nil {
				return err
			}
			if err := database.Migrate(db); err != nil {
				return fmt.Errorf("迁移失败: %w", err)
			}
			log.Info("数据库迁移完成")
			return nil
		},
	}
}

// ingestCmd 把本地文件或目录同步导入指定语料库。
func ingestCmd() *cobra.Command {
	var corpusID string

	cmd := &cobra.Command{
		Use:   "ingest --corpus <id> <path>...",
		Short: "把本地文件导入语料库",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, config.Conf, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.corpusService.Get(ctx, corpusID); err != nil {
				return err
			}

			var failed int
			for _, root := range args {
				walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
					if err != nil {
						log.Warnf("ingest: 访问失败: %s, err=%v", path, err)
						return nil
					}
					if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
						return nil
					}
					if ctx.Err() != nil {
						return ctx.Err()
					}

					data, err := os.ReadFile(path)
					if err != nil {
						log.Warnf("ingest: 读取文件失败: %s, err=%v", path, err)
						failed++
						return nil
					}
					result, err := a.corpusService.UploadDocument(ctx, corpusID, data, d.Name(), extract.ContentType(d.Name()))
					if err != nil {
						log.Warnf("ingest: 导入失败: %s, err=%v", path, err)
						failed++
						return nil
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d chunks\n", result.Status, d.Name(), result.ChunkCount)
					return nil
				})
				if walkErr != nil {
					return walkErr
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d 个文件导入失败", failed)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&corpusID, "corpus", "", "目标语料库 ID")
	_ = cmd.MarkFlagRequired("corpus")
	return cmd
}

func searchCmd() *cobra.Command {
	var (
		corpusIDs []string
		projectID string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "在语料库中检索参考内容",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, config.Conf, false)
			if err != nil {
				return err
			}
			defer a.Close()

			scope := service.ScopeSelector{CorpusIDs: corpusIDs, ProjectID: projectID}
			result, err := a.retrievalService.Search(ctx, strings.Join(args, " "), scope, limit)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	cmd.Flags().StringSliceVar(&corpusIDs, "corpus", nil, "语料库 ID，可重复")
	cmd.Flags().StringVar(&projectID, "project", "", "按项目关联的语料库检索")
	cmd.Flags().IntVar(&limit, "limit", 0, "返回结果数，0 表示使用默认值")
	return cmd
}

// tokenCmd 签发一个访问令牌，便于本地调试。
func tokenCmd() *cobra.Command {
	var userID, role, orgID string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "签发访问令牌",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Conf
			if cfg.JWT.Secret == "" {
				return fmt.Errorf("未配置 jwt.secret")
			}
			tok, err := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours).GenerateToken(userID, role, orgID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "admin", "用户 ID")
	cmd.Flags().StringVar(&role, "role", "ADMIN", "角色")
	cmd.Flags().StringVar(&orgID, "org", "", "组织 ID，留空使用默认组织")
	return cmd
}
