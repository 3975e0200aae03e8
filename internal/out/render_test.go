package out

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/ggonzalez94/defi-actions/internal/config"
	"github.com/ggonzalez94/defi-actions/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderJSONSelectResultsOnly(t *testing.T) {
	env := model.Envelope{
		Version: "v1",
		Success: true,
		Data:    []map[string]any{{"a": 1, "b": 2}},
		Meta:    model.EnvelopeMeta{Timestamp: time.Now()},
	}
	settings := config.Settings{OutputMode: "json", SelectFields: []string{"a"}, ResultsOnly: true}
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, env, settings))

	var out []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, float64(1), out[0]["a"])
	assert.NotContains(t, out[0], "b")
}

func TestRenderSelectDottedPath(t *testing.T) {
	env := model.Envelope{
		Success: true,
		Data: map[string]any{
			"protocol":     "aave",
			"simulation":   map[string]any{"success": false, "error": "reverted"},
			"transactions": []any{map[string]any{"to": "0x1"}, map[string]any{"to": "0x2"}},
		},
	}
	settings := config.Settings{OutputMode: "json", SelectFields: []string{"simulation.success", "transactions.1.to", "missing.key"}, ResultsOnly: true}
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, env, settings))

	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, map[string]any{"simulation.success": false, "transactions.1.to": "0x2"}, out)
}

func TestRenderPlain(t *testing.T) {
	env := model.Envelope{
		Version: "v1",
		Success: true,
		Data:    []map[string]any{{"name": "x", "score": 42}},
		Meta:    model.EnvelopeMeta{Timestamp: time.Now()},
	}
	settings := config.Settings{OutputMode: "plain", ResultsOnly: true}
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, env, settings))
	assert.Equal(t, "name=x score=42\n", buf.String())
}

func TestRenderPlainFlattensNested(t *testing.T) {
	env := model.Envelope{
		Success: true,
		Data: map[string]any{
			"labels":     []string{"Approve", "Supply"},
			"simulation": map[string]any{"success": true, "gas_used": 120000},
			"error":      "not enough balance",
			"empty":      []string{},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, env, config.Settings{OutputMode: "plain", ResultsOnly: true}))
	assert.Equal(t,
		`empty=[] error="not enough balance" labels.0=Approve labels.1=Supply simulation.gas_used=120000 simulation.success=true`+"\n",
		buf.String())
}
