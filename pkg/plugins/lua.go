package plugins

import (
	"fmt"

	"github.com/Shopify/go-lua"
)

// Globals stripped from every plugin state. Plugins get the Lua stdlib
// minus filesystem, process, and dynamic-loading access.
var sandboxExclude = [...]string{
	"io", "os", "debug", "package", "require", "dofile", "loadfile", "load",
}

const globalTableName = "_G"

// setupSandbox opens the standard libraries and removes the excluded
// globals.
func setupSandbox(l *lua.State) {
	lua.OpenLibraries(l)
	l.Global(globalTableName)
	for _, name := range sandboxExclude {
		l.PushNil()
		l.SetField(-2, name)
	}
	l.Pop(1)
}

// pushValue converts a Go value onto the Lua stack.
func pushValue(l *lua.State, value any) {
	switch v := value.(type) {
	case nil:
		l.PushNil()
	case string:
		l.PushString(v)
	case bool:
		l.PushBoolean(v)
	case int:
		l.PushInteger(v)
	case int64:
		l.PushInteger(int(v))
	case float64:
		l.PushNumber(v)
	case []any:
		l.CreateTable(len(v), 0)
		for i, item := range v {
			l.PushInteger(i + 1)
			pushValue(l, item)
			l.SetTable(-3)
		}
	case map[string]any:
		l.CreateTable(0, len(v))
		for k, item := range v {
			l.PushString(k)
			pushValue(l, item)
			l.SetTable(-3)
		}
	default:
		l.PushString(fmt.Sprintf("%v", v))
	}
}

// toGoValue converts the Lua value at index into a Go value. Integral
// numbers come back as int, tables as []any or map[string]any.
func toGoValue(l *lua.State, index int) any {
	switch l.TypeOf(index) {
	case lua.TypeNil:
		return nil
	case lua.TypeBoolean:
		return l.ToBoolean(index)
	case lua.TypeNumber:
		num, _ := l.ToNumber(index)
		if num == float64(int(num)) {
			return int(num)
		}
		return num
	case lua.TypeString:
		s, _ := l.ToString(index)
		return s
	case lua.TypeTable:
		return tableToGo(l, index)
	default:
		return nil
	}
}

func tableToGo(l *lua.State, index int) any {
	length := 0
	isArray := true
	l.PushNil()
	for l.Next(index - 1) {
		if !l.IsNumber(-2) {
			isArray = false
			l.Pop(2)
			break
		}
		length++
		l.Pop(1)
	}

	if isArray && length > 0 {
		abs := index
		if index < 0 {
			abs = l.Top() + index + 1
		}
		arr := make([]any, length)
		for i := 1; i <= length; i++ {
			l.RawGetInt(abs, i)
			arr[i-1] = toGoValue(l, -1)
			l.Pop(1)
		}
		return arr
	}

	result := map[string]any{}
	l.PushNil()
	for l.Next(index - 1) {
		key := ""
		if l.IsString(-2) {
			key, _ = l.ToString(-2)
		} else {
			key = fmt.Sprintf("%v", toGoValue(l, -2))
		}
		result[key] = toGoValue(l, -1)
		l.Pop(1)
	}
	return result
}
