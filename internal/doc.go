// Package internal contains the implementation packages of codepad.
//
// # Package Organization
//
//   - buffer: the three playground buffers and their clean baselines
//   - fileref: workspace-relative file references and file I/O
//   - persistence: attachments between buffers and files, open and save
//   - preview: document composition, titles and the debounced pipeline
//   - commands: command registry, palette state and keyboard shortcuts
//   - session: the controller owning the current buffer and switching
//   - websocket: browser connections and the remote editor bridge
//   - server: the playground page, preview and JSON endpoints
//   - watcher: reloading attached files edited outside the playground
//   - config, logging, errors, version: ambient support
//
// # Flow
//
// Browser tabs talk to the session over the websocket bridge. Edits update
// the buffer store, every change schedules a recomposition, and the
// composed document is broadcast to the tabs and served at /preview.
// Commands reach the controller through the dispatcher, either by name
// from the palette or by chord from the keymap. Opening, saving and
// confirmations round-trip through prompts answered in the page.
package internal
