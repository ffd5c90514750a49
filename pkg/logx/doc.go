// Package logx configures mediatasks' structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps console output on
// stderr with a short caller, file output JSON-structured, and level or sink
// changes live via Service.Apply (config hot reload).
package logx
