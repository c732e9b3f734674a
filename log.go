package co

import (
	"os"

	"github.com/rs/zerolog"
)

// logger is the runtime's diagnostic sink. Workers log their
// lifecycle at debug level and reactor failures at error level;
// programmer errors (calling a coroutine-only API from outside a
// coroutine) go through Panic. The default logger writes JSON to
// stderr and stays quiet below warn level.
var logger = zerolog.New(os.Stderr).With().Timestamp().Str("component", "co").Logger().Level(zerolog.WarnLevel)

// SetLogger replaces the runtime's diagnostic logger. It must be
// called before the first coroutine is spawned.
func SetLogger(l zerolog.Logger) { logger = l }
