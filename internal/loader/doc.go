// Package loader handles application images from disk to flash.
//
// Key Components:
//   - Header: the fixed 64-byte image header codec and validation
//   - BuildImage: assembles header + text + data for tooling and tests
//   - Bundle: .eab application bundles (tar.gz with a YAML manifest)
//   - Discovery: image scanning across configured directories
//   - Fetcher: remote image download with retries and digest pinning
//
// The loader never touches the process table; it produces validated
// headers and raw images that board assembly feeds to the kernel.
package loader
