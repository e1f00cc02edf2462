package log

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// buf is shared across tests; the global logger is process-wide state, so
// tests swap the writer rather than re-initializing.
var (
	buf   bytes.Buffer
	setup sync.Once
)

func initTestLogger() {
	setup.Do(func() {
		InitWithWriter(&buf)
	})
	buf.Reset()
	SetEnabled(true)
	SetMinLevel(LevelDebug)
}

func TestLog_FormatsLevelCategoryAndFields(t *testing.T) {
	initTestLogger()

	Info(CatOrch, "reply scheduled", "messageID", 7, "conversationID", 3)

	out := buf.String()
	assert.Contains(t, out, "[INFO]")
	assert.Contains(t, out, "[orch]")
	assert.Contains(t, out, "reply scheduled")
	assert.Contains(t, out, "messageID=7")
	assert.Contains(t, out, "conversationID=3")
}

func TestLog_MinLevelFilters(t *testing.T) {
	initTestLogger()
	SetMinLevel(LevelWarn)

	Debug(CatDB, "not visible")
	Warn(CatDB, "visible")

	out := buf.String()
	assert.NotContains(t, out, "not visible")
	assert.Contains(t, out, "visible")
}

func TestLog_DisabledWritesNothing(t *testing.T) {
	initTestLogger()
	SetEnabled(false)
	defer SetEnabled(true)

	Error(CatWorker, "suppressed")
	assert.Empty(t, buf.String())
}

func TestLog_OddFieldCount(t *testing.T) {
	initTestLogger()

	Info(CatRepair, "odd fields", "orphan")
	assert.Contains(t, buf.String(), "orphan=<missing>")
}

func TestErrorErr_IncludesErrorField(t *testing.T) {
	initTestLogger()

	ErrorErr(CatEngine, "generation failed", assert.AnError)
	out := buf.String()
	assert.Contains(t, out, "generation failed")
	assert.True(t, strings.Contains(out, "error="))
}
