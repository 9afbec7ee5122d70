// Package es 提供了与 Elasticsearch 交互的客户端功能。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"rfp-smart-go/internal/config"
	"rfp-smart-go/internal/model"
	"rfp-smart-go/pkg/log"
)

// ResponseError 表示 Elasticsearch 返回了非 2xx 响应。
type ResponseError struct {
	Status int
	Body   string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("elasticsearch returned status %d: %s", e.Status, e.Body)
}

// NewClient 根据配置创建 Elasticsearch 客户端。
func NewClient(esCfg config.ElasticsearchConfig) (*elasticsearch.Client, error) {
	cfg := elasticsearch.Config{
		Addresses: strings.Split(esCfg.Addresses, ","),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	return elasticsearch.NewClient(cfg)
}

// EnsureIndex 检查分块索引是否存在，不存在则按给定向量维度创建。
func EnsureIndex(ctx context.Context, client *elasticsearch.Client, indexName string, dims int) error {
	res, err := client.Indices.Exists([]string{indexName}, client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("检查索引是否存在时出错: %w", err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		log.Infof("[ES] 索引 '%s' 已存在", indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("检查索引 '%s' 时收到意外的状态码: %d", indexName, res.StatusCode)
	}

	res, err = client.Indices.Create(
		indexName,
		client.Indices.Create.WithContext(ctx),
		client.Indices.Create.WithBody(strings.NewReader(indexMapping(dims))),
	)
	if err != nil {
		return fmt.Errorf("创建索引 '%s' 失败: %w", indexName, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseError(res)
	}
	log.Infof("[ES] 索引 '%s' 创建成功, 向量维度: %d", indexName, dims)
	return nil
}

func indexMapping(dims int) string {
	return fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"chunk_id": { "type": "keyword" },
				"document_id": { "type": "keyword" },
				"corpus_id": { "type": "keyword" },
				"position": { "type": "integer" },
				"content": { "type": "text" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				},
				"model_version": { "type": "keyword" }
			}
		}
	}`, dims)
}

// BulkIndex 以一次 _bulk 请求写入多个分块，任一条目失败即返回错误。
func BulkIndex(ctx context.Context, client *elasticsearch.Client, indexName string, docs []model.EsChunk) error {
	if len(docs) == 0 {
		return nil
	}
	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, doc := range docs {
		action := map[string]any{"index": map[string]any{"_index": indexName, "_id": doc.ChunkID}}
		if err := enc.Encode(action); err != nil {
			return err
		}
		if err := enc.Encode(doc); err != nil {
			return err
		}
	}

	req := esapi.BulkRequest{
		Index:   indexName,
		Body:    &body,
		Refresh: "true",
	}
	res, err := req.Do(ctx, client)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseError(res)
	}

	var bulkResp struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Status int `json:"status"`
			Error  struct {
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		return fmt.Errorf("解析 bulk 响应失败: %w", err)
	}
	if bulkResp.Errors {
		for _, item := range bulkResp.Items {
			for _, r := range item {
				if r.Status >= 300 {
					return fmt.Errorf("bulk 写入部分失败: status=%d reason=%s", r.Status, r.Error.Reason)
				}
			}
		}
		return fmt.Errorf("bulk 写入部分失败")
	}
	return nil
}

// Hit 是搜索命中的单条记录。
type Hit struct {
	ID     string        `json:"_id"`
	Score  float64       `json:"_score"`
	Source model.EsChunk `json:"_source"`
}

// Search 执行一次搜索请求并返回命中结果。
func Search(ctx context.Context, client *elasticsearch.Client, indexName string, query map[string]any) ([]Hit, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}
	res, err := client.Search(
		client.Search.WithContext(ctx),
		client.Search.WithIndex(indexName),
		client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, responseError(res)
	}

	var esResponse struct {
		Hits struct {
			Hits []Hit `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}
	return esResponse.Hits.Hits, nil
}

// DeleteByTerm 删除 field 等于 value 的所有文档。
func DeleteByTerm(ctx context.Context, client *elasticsearch.Client, indexName, field string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	body, err := json.Marshal(map[string]any{
		"query": map[string]any{"terms": map[string]any{field: values}},
	})
	if err != nil {
		return err
	}
	refresh := true
	req := esapi.DeleteByQueryRequest{
		Index:   []string{indexName},
		Body:    bytes.NewReader(body),
		Refresh: &refresh,
	}
	res, err := req.Do(ctx, client)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseError(res)
	}
	return nil
}

func responseError(res *esapi.Response) error {
	b, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	return &ResponseError{Status: res.StatusCode, Body: string(b)}
}
