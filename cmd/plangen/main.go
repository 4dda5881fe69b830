// Copyright 2025 CoachCore
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

// Package main is the entry point for the plan-generation service.
//
// The service turns a client's structured profile into a long-horizon
// training plan draft by calling an external generative text provider,
// while enforcing consent, privacy, and output-safety guarantees:
// - Ordered consent and access gating with distinct denial codes
// - Fail-closed de-identification before anything leaves the trust boundary
// - Sequential provider failover with an ordered attempt trace
// - Three-gate output validation (privacy scan, structure, domain rules)
// - A pending/draft/degraded/error audit lifecycle around every attempt
//
// Usage:
//
//	./plangen
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8087)
//	CONFIG_FILE - YAML configuration file path (optional)
//	DATABASE_URL - PostgreSQL connection string
//	REDIS_URL - Redis endpoint for concurrency slots (optional)
//	JWT_SECRET - HMAC secret for bearer tokens
//	AI_PROVIDER_ORDER - comma-separated provider failover order (optional)
package main

import (
	"coachcore/platform/plangen"
)

func main() {
	plangen.Run()
}
