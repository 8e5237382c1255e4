package scripting

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindsim/layermem/pkg/errors"
)

func newTestEngine(t *testing.T) *LuaEngine {
	t.Helper()
	engine, err := NewLuaEngine(DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })
	return engine
}

func TestLuaEngine_LoadScript(t *testing.T) {
	engine := newTestEngine(t)

	err := engine.LoadScript("valid", []byte(`
		function hello()
			return "Hello, World!"
		end
	`))
	assert.NoError(t, err)

	err = engine.LoadScript("invalid", []byte(`
		function broken(
			return "not valid Lua"
		end
	`))
	assert.Error(t, err)

	// The earlier definitions survive a failed load
	assert.True(t, engine.HasFunction("hello"))
}

func TestLuaEngine_ExecuteFunction(t *testing.T) {
	engine := newTestEngine(t)

	err := engine.LoadScript("test", []byte(`
		function hello()
			return "Hello, World!"
		end

		function add(a, b)
			return a + b
		end

		function get_table()
			return {
				name = "test",
				value = 123,
				nested = { key = "value" },
			}
		end

		function get_list()
			return { "a", "b", "c" }
		end

		function use_args(args)
			return args.name .. " is " .. args.age
		end
	`))
	require.NoError(t, err)

	t.Run("string return", func(t *testing.T) {
		result, err := engine.ExecuteFunction(context.Background(), "hello")
		require.NoError(t, err)
		assert.Equal(t, "Hello, World!", result)
	})

	t.Run("numbers become float64", func(t *testing.T) {
		result, err := engine.ExecuteFunction(context.Background(), "add", 5, 3)
		require.NoError(t, err)
		assert.Equal(t, float64(8), result)
	})

	t.Run("table return", func(t *testing.T) {
		result, err := engine.ExecuteFunction(context.Background(), "get_table")
		require.NoError(t, err)

		m, ok := result.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "test", m["name"])
		assert.Equal(t, float64(123), m["value"])

		nested, ok := m["nested"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "value", nested["key"])
	})

	t.Run("array tables become slices", func(t *testing.T) {
		result, err := engine.ExecuteFunction(context.Background(), "get_list")
		require.NoError(t, err)
		assert.Equal(t, []interface{}{"a", "b", "c"}, result)
	})

	t.Run("map argument", func(t *testing.T) {
		args := map[string]interface{}{"name": "John", "age": 30}
		result, err := engine.ExecuteFunction(context.Background(), "use_args", args)
		require.NoError(t, err)
		assert.Equal(t, "John is 30", result)
	})

	t.Run("missing function", func(t *testing.T) {
		_, err := engine.ExecuteFunction(context.Background(), "nonexistent")
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrFunctionNotFound)
	})

	t.Run("runtime error", func(t *testing.T) {
		require.NoError(t, engine.LoadScript("boom", []byte(`
			function boom()
				error("intentional failure")
			end
		`)))
		_, err := engine.ExecuteFunction(context.Background(), "boom")
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrLuaExecution)
	})
}

func TestLuaEngine_Sandboxing(t *testing.T) {
	engine, err := NewLuaEngine(Config{EnableSandboxing: true, ScriptTimeoutMs: 1000})
	require.NoError(t, err)
	defer engine.Close()

	err = engine.LoadScript("sandbox_test", []byte(`
		function probe(name)
			if name == "os" then return os == nil end
			if name == "io" then return io == nil end
			if name == "require" then return require == nil end
			if name == "loadfile" then return loadfile == nil end
			return false
		end
	`))
	require.NoError(t, err)

	for _, name := range []string{"os", "io", "require", "loadfile"} {
		result, err := engine.ExecuteFunction(context.Background(), "probe", name)
		require.NoError(t, err)
		assert.Equal(t, true, result, "%s should be nil inside the sandbox", name)
	}
}

func TestLuaEngine_SafeLibrariesAvailable(t *testing.T) {
	engine := newTestEngine(t)

	require.NoError(t, engine.LoadScript("libs", []byte(`
		function shout(s)
			return string.upper(s) .. tostring(math.floor(2.9))
		end
	`)))

	result, err := engine.ExecuteFunction(context.Background(), "shout", "go")
	require.NoError(t, err)
	assert.Equal(t, "GO2", result)
}

func TestLuaEngine_LoadScriptFile(t *testing.T) {
	engine := newTestEngine(t)

	path := filepath.Join(t.TempDir(), "test.lua")
	require.NoError(t, os.WriteFile(path, []byte(`
		function file_test()
			return "File loaded successfully"
		end
	`), 0o600))

	require.NoError(t, engine.LoadScriptFile(path))

	result, err := engine.ExecuteFunction(context.Background(), "file_test")
	require.NoError(t, err)
	assert.Equal(t, "File loaded successfully", result)
}

func TestLuaEngine_LoadScriptDir(t *testing.T) {
	engine := newTestEngine(t)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "one.lua"), []byte(`
		function one() return 1 end
	`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "two.lua"), []byte(`
		function two() return 2 end
	`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not Lua"), 0o600))

	require.NoError(t, engine.LoadScriptDir(dir))

	assert.True(t, engine.HasFunction("one"))
	assert.True(t, engine.HasFunction("two"))
}

func TestLuaEngine_ClosedEngine(t *testing.T) {
	engine, err := NewLuaEngine(DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, engine.Close())

	assert.Error(t, engine.LoadScript("x", []byte("function x() end")))
	_, err = engine.ExecuteFunction(context.Background(), "x")
	assert.Error(t, err)
	assert.False(t, engine.HasFunction("x"))

	// Closing twice is fine
	assert.NoError(t, engine.Close())
}
