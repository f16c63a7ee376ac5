// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ai provides the embedding abstraction used by the ingestion pipeline.
//
// The Embedder interface turns text into vectors. Concrete backends live in
// sub-packages:
//
//   - ai/ollama: Ollama's native embeddings API over HTTP
//   - ai/openai: OpenAI-compatible APIs via langchaingo
//   - ai/mock: deterministic test doubles
//
// Public constructors return the ai.Embedder interface. Test constructors in
// ai/mock return concrete types so tests can inject behavior and read call
// counts.
//
// # Usage Example
//
//	cfg := ai.NewConfig(ai.WithEmbeddingModel("nomic-embed-text"))
//	embedder, err := ollama.NewEmbedder(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	embedder = ai.NewRateLimitedEmbedder(embedder, 5, 1)
//	vectors, err := embedder.EmbedTexts(ctx, []string{"first", "second"})
package ai
