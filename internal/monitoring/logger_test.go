package monitoring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got []string
	SetLogger(func(format string, v ...interface{}) {
		got = append(got, fmt.Sprintf(format, v...))
	})
	Logf("hello %d", 1)
	assert.Equal(t, []string{"hello 1"}, got)

	// nil installs a no-op logger
	SetLogger(nil)
	Logf("dropped")
	assert.Len(t, got, 1)
}

func TestComponent(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	logf := Component("Engine")

	var got string
	SetLogger(func(format string, v ...interface{}) {
		got = fmt.Sprintf(format, v...)
	})
	logf("trained %d classes", 3)
	assert.Equal(t, "[Engine] trained 3 classes", got)
}
