package coinscot_test

import (
	"log"
	"strings"
	"testing"

	"github.com/fraqlab/coinscot"
	"github.com/stretchr/testify/assert"
)

func TestLogWhenDebugEnabled(t *testing.T) {
	var b strings.Builder
	l := log.New(&b, "", 0)
	slog := coinscot.NewSLogger(l, true)

	slog.Debugf("Writing a log statement for my little %s\n", "red bird")
	o := b.String()

	assert.Equal(t, "Writing a log statement for my little red bird\n", o)
}

func TestLogWhenDebugDisabled(t *testing.T) {
	var b strings.Builder
	l := log.New(&b, "", 0)
	slog := coinscot.NewSLogger(l, false)

	slog.Debugf("Writing a log statement for my little %s\n", "red bird")
	o := b.String()

	// Nothing should have been logged
	assert.Equal(t, "", o)
}

func TestPrintfLogsWhenDebugDisabled(t *testing.T) {
	var b strings.Builder
	l := log.New(&b, "", 0)
	slog := coinscot.NewSLogger(l, false)

	slog.Printf("Writing a log statement for my little %s\n", "red bird")
	o := b.String()

	assert.Equal(t, "Writing a log statement for my little red bird\n", o)
}
