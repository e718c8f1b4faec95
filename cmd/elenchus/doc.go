// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package main implements the elenchus CLI and request dispatcher.
//
// Elenchus runs an adversarial Verifier/Critic code-review protocol: two
// LLM-driven personas take turns examining a target until a convergence
// evaluator decides the review is done. This binary owns the session
// state machine, the resource surface those personas (or a human driving
// them) talk to, and the optional optimization subsystems that keep large
// repeated reviews cheap.
//
// # Quick Start
//
//	cd /path/to/your/project
//	elenchus init
//	elenchus serve
//
// # Commands
//
//	init          Create .elenchus/project.yaml configuration
//	serve         Start the stdio session & round protocol
//	index         Parse the project and report its dependency graph
//	status        Show recent session activity for this project
//	config        Show or edit the project configuration
//	completion    Generate shell completion script (bash|zsh|fish)
//
// Global flags:
//
//	--version      Show version information and exit
//	--config PATH  Path to .elenchus/project.yaml configuration file
//	--no-color     Disable color output (respects NO_COLOR env var)
//
// # Request Dispatcher
//
// `elenchus serve` exposes the session & round protocol as length-delimited
// JSON messages over stdin/stdout: each message is a 4-byte big-endian
// length prefix followed by exactly that many bytes of JSON. Named methods
// (start_session, submit_round, and so on) dispatch through the same
// request/response envelope that elenchus://... resource reads, resource
// subscriptions, and their debounced "resources/updated" notifications use.
// Pass --metrics-addr host:port to additionally expose a Prometheus
// /metrics endpoint over plain HTTP; that endpoint is scrape-only and
// carries none of the session protocol.
//
// # Configuration
//
// Elenchus is configured through a local .elenchus/project.yaml file and
// environment variables layered on top of it:
//
//	ELENCHUS_DATA_DIR      Override the configured data directory
//	ELENCHUS_MAX_ROUNDS    Override the configured max-rounds ceiling
//	ELENCHUS_CONFIG_PATH   Explicit path to project.yaml
//
// # Data Storage
//
// Session state and baselines are stored locally under the configured
// data directory (default: ~/.elenchus/data/), one JSON file per session
// and one baseline per project hash.
package main
