package plugins

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

// uleb appends n as unsigned LEB128.
func uleb(b []byte, n uint32) []byte {
	for {
		c := byte(n & 0x7f)
		n >>= 7
		if n != 0 {
			b = append(b, c|0x80)
			continue
		}
		return append(b, c)
	}
}

func section(b []byte, id byte, content []byte) []byte {
	b = append(b, id)
	b = uleb(b, uint32(len(content)))
	return append(b, content...)
}

func wasmName(b []byte, s string) []byte {
	b = uleb(b, uint32(len(s)))
	return append(b, s...)
}

// printModule assembles a WASI command whose _start writes output to
// stdout with a single fd_write call. With trap set, _start hits
// unreachable instead.
func printModule(output string, trap bool) []byte {
	b := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	// (i32 i32 i32 i32) -> i32 and () -> ()
	b = section(b, 1, []byte{0x02,
		0x60, 0x04, 0x7f, 0x7f, 0x7f, 0x7f, 0x01, 0x7f,
		0x60, 0x00, 0x00,
	})

	imports := []byte{0x01}
	imports = wasmName(imports, "wasi_snapshot_preview1")
	imports = wasmName(imports, "fd_write")
	imports = append(imports, 0x00, 0x00)
	b = section(b, 2, imports)

	b = section(b, 3, []byte{0x01, 0x01})
	b = section(b, 5, []byte{0x01, 0x00, 0x01})

	exports := []byte{0x02}
	exports = wasmName(exports, "memory")
	exports = append(exports, 0x02, 0x00)
	exports = wasmName(exports, "_start")
	exports = append(exports, 0x00, 0x01)
	b = section(b, 7, exports)

	body := []byte{0x00,
		0x41, 0x01, // fd 1
		0x41, 0x00, // iovs
		0x41, 0x01, // iovs_len
		0x41, 0x08, // nwritten
		0x10, 0x00, // call fd_write
		0x1a, // drop
		0x0b,
	}
	if trap {
		body = []byte{0x00, 0x00, 0x0b}
	}
	code := []byte{0x01}
	code = uleb(code, uint32(len(body)))
	code = append(code, body...)
	b = section(b, 10, code)

	// iovec {buf: 16, len: n} at 0, nwritten at 8, payload at 16.
	n := uint32(len(output))
	mem := []byte{16, 0, 0, 0, byte(n), byte(n >> 8), byte(n >> 16), byte(n >> 24), 0, 0, 0, 0, 0, 0, 0, 0}
	mem = append(mem, output...)
	data := []byte{0x01, 0x00, 0x41, 0x00, 0x0b}
	data = uleb(data, uint32(len(mem)))
	data = append(data, mem...)
	return section(b, 11, data)
}

// writePlugin lays out a plugin directory under root and returns it.
func writePlugin(t *testing.T, root, dir, descriptor string, module []byte) string {
	t.Helper()

	path := filepath.Join(root, dir)
	if err := os.MkdirAll(path, 0755); err != nil {
		t.Fatalf("Failed to create plugin dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(path, DescriptorFile), []byte(descriptor), 0644); err != nil {
		t.Fatalf("Failed to write descriptor: %v", err)
	}
	if module != nil {
		if err := os.WriteFile(filepath.Join(path, "plugin.wasm"), module, 0644); err != nil {
			t.Fatalf("Failed to write module: %v", err)
		}
	}
	return path
}

func checksum(module []byte) string {
	sum := sha256.Sum256(module)
	return hex.EncodeToString(sum[:])
}
