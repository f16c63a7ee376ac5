// Package reprocess schedules bulk reprocessing of stored documents.
//
// A Reprocessor selects documents by status (and optionally collection),
// then enqueues one reprocess job per document. Workers clear each document's
// chunks, reset it to Pending and run the normal pipeline. Progress is
// written to an io.Writer, typically os.Stderr.
package reprocess
