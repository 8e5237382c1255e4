package scripting

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLuaAPI_Logging(t *testing.T) {
	engine := newTestEngine(t)

	require.NoError(t, engine.LoadScript("logging", []byte(`
		function log_all()
			layermem.log("debug", "debug message")
			layermem.log("info", "info message")
			layermem.log("warn", "warn message")
			layermem.log("error", "error message")
			return "log messages sent"
		end
	`)))

	result, err := engine.ExecuteFunction(context.Background(), "log_all")
	assert.NoError(t, err)
	assert.Equal(t, "log messages sent", result)
}

func TestLuaAPI_TimeFunctions(t *testing.T) {
	engine := newTestEngine(t)

	require.NoError(t, engine.LoadScript("times", []byte(`
		function current_time()
			return layermem.now()
		end

		function format_default(ts)
			return layermem.format_time(ts)
		end

		function format_custom(ts)
			return layermem.format_time(ts, "2006-01-02")
		end
	`)))

	result, err := engine.ExecuteFunction(context.Background(), "current_time")
	require.NoError(t, err)
	now, ok := result.(float64)
	require.True(t, ok)
	assert.InDelta(t, float64(time.Now().Unix()), now, 60)

	result, err = engine.ExecuteFunction(context.Background(), "format_default", 1609459200)
	require.NoError(t, err)
	assert.Equal(t, "2021-01-01T00:00:00Z", result)

	result, err = engine.ExecuteFunction(context.Background(), "format_custom", 1609459200)
	require.NoError(t, err)
	assert.Equal(t, "2021-01-01", result)
}

func TestLuaAPI_UUID(t *testing.T) {
	engine := newTestEngine(t)

	require.NoError(t, engine.LoadScript("ids", []byte(`
		function two_ids()
			return { layermem.uuid(), layermem.uuid() }
		end
	`)))

	result, err := engine.ExecuteFunction(context.Background(), "two_ids")
	require.NoError(t, err)

	ids, ok := result.([]interface{})
	require.True(t, ok)
	require.Len(t, ids, 2)

	first, ok := ids[0].(string)
	require.True(t, ok)
	second, ok := ids[1].(string)
	require.True(t, ok)
	assert.Len(t, first, 36)
	assert.NotEqual(t, first, second)
}

func TestLuaAPI_JSON(t *testing.T) {
	engine := newTestEngine(t)

	require.NoError(t, engine.LoadScript("json", []byte(`
		function round_trip()
			local encoded = layermem.json_encode({ name = "session", count = 3 })
			return layermem.json_decode(encoded)
		end

		function decode_error()
			local value, err = layermem.json_decode("{not json")
			return err
		end
	`)))

	result, err := engine.ExecuteFunction(context.Background(), "round_trip")
	require.NoError(t, err)

	m, ok := result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "session", m["name"])
	assert.Equal(t, float64(3), m["count"])

	result, err = engine.ExecuteFunction(context.Background(), "decode_error")
	require.NoError(t, err)
	msg, ok := result.(string)
	require.True(t, ok)
	assert.NotEmpty(t, msg)
}

func TestLuaAPI_ContextDeadline(t *testing.T) {
	engine := newTestEngine(t)

	require.NoError(t, engine.LoadScript("ctxinfo", []byte(`
		function deadline()
			if ctx == nil or ctx.deadline == nil then
				return -1
			end
			return ctx.deadline
		end
	`)))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := engine.ExecuteFunction(ctx, "deadline")
	require.NoError(t, err)

	deadline, ok := result.(float64)
	require.True(t, ok)
	assert.Greater(t, deadline, float64(time.Now().Unix()))
}

func TestLuaAPI_ScriptTimeout(t *testing.T) {
	engine, err := NewLuaEngine(Config{EnableSandboxing: true, ScriptTimeoutMs: 50})
	require.NoError(t, err)
	defer engine.Close()

	require.NoError(t, engine.LoadScript("spin", []byte(`
		function spin()
			while true do end
		end
	`)))

	_, err = engine.ExecuteFunction(context.Background(), "spin")
	assert.Error(t, err)
}
