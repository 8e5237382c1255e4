package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
)

// Key builds a deterministic cache key from a function identity and its
// arguments. Arguments are JSON-encoded before hashing, so identical
// arguments always produce identical keys regardless of where the call
// originates; values that cannot be marshaled fall back to their Go string
// form. The name survives as a readable prefix.
func Key(name string, args ...any) string {
	h := sha256.New()
	io.WriteString(h, name)
	for _, arg := range args {
		h.Write([]byte{0})
		data, err := json.Marshal(arg)
		if err != nil {
			data = []byte(fmt.Sprintf("%v", arg))
		}
		h.Write(data)
	}
	return name + ":" + hex.EncodeToString(h.Sum(nil))[:32]
}
