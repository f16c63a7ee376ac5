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

// Package search answers natural language queries against indexed documents.
//
// A query is embedded with the same embedder used at ingestion time and the
// chunk store returns the nearest chunks by cosine distance. Each result
// carries its parent document and whether every significant query word
// appears verbatim in the chunk.
package search
