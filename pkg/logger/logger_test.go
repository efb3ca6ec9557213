package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type recorder struct {
	lines []string
	kvs   [][]any
}

func (r *recorder) record(level, msg string, kv []any) {
	r.lines = append(r.lines, level+" "+msg)
	r.kvs = append(r.kvs, kv)
}

func (r *recorder) Log(m string, kv ...any)   { r.record("LOG", m, kv) }
func (r *recorder) Debug(m string, kv ...any) { r.record("DEBUG", m, kv) }
func (r *recorder) Info(m string, kv ...any)  { r.record("INFO", m, kv) }
func (r *recorder) Warn(m string, kv ...any)  { r.record("WARN", m, kv) }
func (r *recorder) Error(m string, kv ...any) { r.record("ERROR", m, kv) }
func (r *recorder) Fatal(m string, kv ...any) { r.record("FATAL", m, kv) }

func TestDispatchToAllBackends(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	Init(a, b)
	t.Cleanup(func() { Init() })

	Info("edge created", "edge_id", "e1")
	Log("plain", "k", "v")
	Warn("dropped dangling endpoint")

	for _, r := range []*recorder{a, b} {
		assert.Equal(t, []string{"INFO edge created", "LOG plain", "WARN dropped dangling endpoint"}, r.lines)
		assert.Equal(t, []any{"edge_id", "e1"}, r.kvs[0])
		assert.Equal(t, []any{"k", "v"}, r.kvs[1])
	}
}
