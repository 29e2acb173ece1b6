// Package crawler defines the domain model shared by the YouTube raw-data
// crawl: channels, raw video records, the shared quota ledger, audit log
// entries, run reports, and the collaborator interfaces (video source, store,
// archive, publisher) that the orchestrator is written against.
package crawler
