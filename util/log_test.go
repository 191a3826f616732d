package util

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogHeaderAndLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	InitLogger(buf, INFO)
	defer InitLogger(os.Stderr, INFO)

	log := GetLog("optimizer")
	log.DebugF("dropped line")
	log.InfoF("pass %d done", 3)
	log.ErrorF("boom")

	out := buf.String()
	assert.NotContains(t, out, "dropped line")
	assert.Contains(t, out, "[optimizer] [INFO]: pass 3 done")
	assert.Contains(t, out, "[optimizer] [ERROR]: boom")
}
