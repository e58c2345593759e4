// Package api is the JSON-over-HTTP intake boundary: submit a scrape
// job, query its status, and inspect pool occupancy. Node control stays
// inside the daemon; control endpoints are never exposed here.
package api
