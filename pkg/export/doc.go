// Package export provides log backup and restore.
//
// Records can be exported as a JSON archive (re-importable) or as CSV
// (export-only, for spreadsheets and pandas). Either can be gzipped.
//
// # HTTP API
//
// Export endpoint: GET /v1/export
//
//	curl "http://localhost:8080/v1/export?format=json&compress=gzip&level=warning" \
//	  -o backup.json.gz
//
// Import endpoint: POST /v1/admin/import
//
//	curl -X POST "http://localhost:8080/v1/admin/import" \
//	  -H "Content-Type: application/gzip" \
//	  --data-binary @backup.json.gz
//
// # Limits
//
//   - Maximum export time range: 30 days (default window 24 hours)
//   - Maximum records per archive: 100,000
//   - Imported records go through the same validation as ingestion and must
//     not be stamped more than a day in the future
//
// # Archive format
//
//	{
//	  "metadata": {
//	    "exported_at": "2026-10-18T03:00:00Z",
//	    "start_time": "2026-10-17T03:00:00Z",
//	    "end_time": "2026-10-18T03:00:00Z",
//	    "record_count": 1,
//	    "format": "json",
//	    "version": "1.0"
//	  },
//	  "logs": [
//	    {
//	      "id": 42,
//	      "host": "web-1",
//	      "timestamp": "2026-10-18T02:30:00Z",
//	      "level": "error",
//	      "category": "billing",
//	      "message": "charge failed",
//	      "exception": "card declined"
//	    }
//	  ]
//	}
//
// Identifiers are not preserved on import: each record is persisted anew.
// Imported records older than the retention window are removed by the next
// purge cycle.
package export
