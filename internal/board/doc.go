// Package board turns a board description into a running system: it
// sizes the physical memory banks, carves the per-slot flash and RAM
// windows, picks the scheduling policy, registers the capsules, and
// installs the configured application images.
//
// Board files are TOML or YAML, chosen by extension. An empty
// configuration assembles the built-in demo board.
package board
