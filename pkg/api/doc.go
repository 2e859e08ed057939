// Package api defines the public domain types of the promoflow
// orchestration core: workflow sessions, progress updates, generated
// content, and the interfaces implemented by the orchestrator and the
// agent dispatch client.
//
// The types here are the contract between the orchestrator, its storage
// backends, and the HTTP surface. They carry the wire representation used
// by the external agent system (snake_case JSON with a flat
// generated_content map), so handlers can decode directly into them.
package api
