// Package internal contains the core implementation packages for quill.
//
// # Package Organization
//
// The internal packages are organized by functional domain:
//
//   - syntax: Markup lexer and parser producing template node trees
//   - codegen: Compilation of node trees into renderable programs
//   - value: Dynamic value access, truthiness and iteration over Go data
//   - helpers: Helper function registry and the built-in helpers
//   - registry: Template cache with LRU eviction, TTL and include graph
//   - loader: Template sources backed by a directory or an in-memory map
//   - bundle: Serialized precompiled templates
//   - viewengine: File-oriented rendering for HTTP handlers
//   - server: Preview server with live reload over a websocket
//   - watcher: File system monitoring with debouncing
//   - config: Configuration loading and validation
//   - errors: Typed errors with template positions
//   - logging: Structured logging
//   - validation: Template name, path and origin validation
//
// # Data Flow
//
// A loader supplies source text by template name. The registry parses it
// with syntax, compiles it with codegen and caches the result. Rendering
// walks the compiled program against caller data through value, calling
// helpers and resolving imports back through the registry. The watcher
// invalidates cached templates when sources change and the server pushes
// reload notifications to connected browsers.
package internal
