// Package metrics 暴露入库与检索流程的 Prometheus 指标。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// IngestDocuments 按最终状态（ready / error）统计入库文档数。
	IngestDocuments = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rfp_ingest_documents_total",
		Help: "Documents that finished ingestion, by final status.",
	}, []string{"status"})

	// ChunkBatches 统计分块批量写入结果（ok / failed）。
	ChunkBatches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rfp_chunk_batches_total",
		Help: "Chunk insert batches, by result.",
	}, []string{"result"})

	// RetrievalRequests 按最终命中的检索方式统计请求。
	RetrievalRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rfp_retrieval_requests_total",
		Help: "Retrieval requests, by the method that produced the result.",
	}, []string{"method"})

	registry = prometheus.NewRegistry()
)

func init() {
	registry.MustRegister(
		IngestDocuments,
		ChunkBatches,
		RetrievalRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler 返回 /metrics 的 HTTP 处理器。
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
