// Package catalog defines the entity model shared by the ingestion engine:
// entity keys, the tolerant remote documents, their typed projections and the
// error taxonomy surfaced by the remote client, the store and the scheduler.
package catalog
