// Package ingestion drives uploaded documents through text extraction,
// chunking, embedding and persistence.
//
// A Pipeline handles one document per call and is meant to run on the
// background workers of a queue.WorkerPool:
//
//	pipeline, err := ingestion.NewPipeline(docs, chunks, extraction.DefaultRegistry(nil), embedder,
//		ingestion.WithNotifier(notify.NewLog(logger)),
//		ingestion.WithBatchSize(10),
//	)
//	workers, err := queue.NewWorkerPool(q, pipeline)
//
// A document moves Pending -> Processing -> Completed, or to Failed when any
// stage returns an error. Chunks are written in a single batch only after
// every embedding for the document has been generated, so a failed run never
// leaves a partial chunk set behind. Runs are never retried automatically;
// callers re-enqueue a job to try again.
package ingestion
