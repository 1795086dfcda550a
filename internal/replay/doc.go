// Package replay drives the dsda-doom engine to re-simulate a recording and
// parses the level statistics and analysis files it writes.
package replay
