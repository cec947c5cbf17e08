// Copyright 2025-2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

// Package rag provides an in-process vector store used to back the
// vector_search step kind for local development and tests, plus a
// similarity-threshold cache usable in front of any VectorStore.
//
// Document is the unit a VectorStore indexes: an ID, its text content, and
// the embedding vector to search by. InMemoryVectorStore ranks by cosine
// similarity over a mutex-protected slice — adequate for a single process,
// not for anything that needs to survive a restart or scale past what fits
// in memory. Adapter wraps it (or any other VectorStore) to satisfy
// capability.VectorStore, the interface the step dispatcher calls through.
package rag
