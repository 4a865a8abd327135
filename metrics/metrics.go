// Package metrics hält die Prometheus-Zähler der Extraktion.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	PapersExtracted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "papers_extracted_total",
		Help: "Total number of papers successfully extracted.",
	})
	ExtractionFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "paper_extraction_failures_total",
		Help: "Total number of failed paper extractions by reason.",
	}, []string{"reason"})
	TokensConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "llm_tokens_consumed_total",
		Help: "Total number of LLM tokens debited from credentials.",
	})
	CredentialRotations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "credential_rotations_total",
		Help: "Total number of credential rotations.",
	})
	PapersIngested = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "papers_ingested_total",
		Help: "Total number of paper records upserted by ingestion.",
	})
)

func init() {
	prometheus.MustRegister(PapersExtracted, ExtractionFailures, TokensConsumed, CredentialRotations, PapersIngested)
}
