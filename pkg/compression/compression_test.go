package compression

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const folded = "main;serve;handle 60\nmain;serve;gc 20\nmain;init 20\n"

func compress(t *testing.T, typ Type, level Level, data string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := NewWriter(&buf, typ, level)
	require.NoError(t, err)
	_, err = io.WriteString(w, data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestRoundTrip(t *testing.T) {
	for _, typ := range []Type{TypeNone, TypeGzip, TypeZstd} {
		for _, level := range []Level{LevelFastest, LevelDefault, LevelBest} {
			t.Run(typ.String(), func(t *testing.T) {
				data := compress(t, typ, level, folded)
				assert.Equal(t, typ, DetectType(data))

				r, detected, err := NewReader(bytes.NewReader(data))
				require.NoError(t, err)
				defer r.Close()
				assert.Equal(t, typ, detected)

				out, err := io.ReadAll(r)
				require.NoError(t, err)
				assert.Equal(t, folded, string(out))
			})
		}
	}
}

func TestCompressedIsSmaller(t *testing.T) {
	data := strings.Repeat(folded, 200)
	assert.Less(t, len(compress(t, TypeGzip, LevelDefault, data)), len(data))
	assert.Less(t, len(compress(t, TypeZstd, LevelDefault, data)), len(data))
}

func TestDetectType(t *testing.T) {
	tests := []struct {
		name   string
		header []byte
		want   Type
	}{
		{"Empty", nil, TypeNone},
		{"Short", []byte{0x1f}, TypeNone},
		{"Gzip", []byte{0x1f, 0x8b, 0x08, 0x00}, TypeGzip},
		{"Zstd", []byte{0x28, 0xb5, 0x2f, 0xfd}, TypeZstd},
		{"TruncatedZstd", []byte{0x28, 0xb5, 0x2f}, TypeNone},
		{"Text", []byte("main;a 1"), TypeNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectType(tt.header))
		})
	}
}

func TestTypeFromPath(t *testing.T) {
	assert.Equal(t, TypeGzip, TypeFromPath("cpu.folded.gz"))
	assert.Equal(t, TypeZstd, TypeFromPath("cpu.json.zst"))
	assert.Equal(t, TypeNone, TypeFromPath("cpu.folded"))
}

func TestNewReader_ShortInput(t *testing.T) {
	for _, in := range []string{"", "a", "a 1"} {
		r, typ, err := NewReader(strings.NewReader(in))
		require.NoError(t, err)
		assert.Equal(t, TypeNone, typ)
		out, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, in, string(out))
	}
}

func TestNewReader_CorruptGzip(t *testing.T) {
	_, typ, err := NewReader(bytes.NewReader([]byte{0x1f, 0x8b, 0x00, 0x00}))
	assert.Error(t, err)
	assert.Equal(t, TypeGzip, typ)
}

func TestNewWriter_UnknownType(t *testing.T) {
	_, err := NewWriter(io.Discard, Type(42), LevelDefault)
	assert.Error(t, err)
}

func BenchmarkZstdWriter(b *testing.B) {
	data := []byte(strings.Repeat(folded, 1000))
	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w, _ := NewWriter(io.Discard, TypeZstd, LevelDefault)
		_, _ = w.Write(data)
		_ = w.Close()
	}
}
